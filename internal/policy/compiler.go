package policy

import (
	"crypto/ed25519"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/outlay-dev/outlay/internal/crypto"
)

// Compiler turns a free-text spending statement into a published Policy.
// Parsing is two-phase: the parse produces an untrusted candidate rule set,
// then a deterministic validation pass clamps anything above the system
// ceilings and enforces monotonic tightening against the prior version.
// Nothing from the parse becomes authoritative until validation passes.
type Compiler struct {
	SystemCeilings Ceilings
	OverrideKey    ed25519.PublicKey
}

// Override authorizes loosening a hard ceiling across versions. It must be
// signed by the configured override key over its canonical payload.
type Override struct {
	Authorizer    string `json:"authorizer"`
	Justification string `json:"justification"`
	PolicyID      string `json:"policy_id"`
	ToVersion     int    `json:"to_version"`
	SignedAt      string `json:"signed_at"`
	KeyID         string `json:"key_id"`
	Sig           []byte `json:"sig"`
}

// OverrideDigest returns the digest an override signature must cover.
func OverrideDigest(o Override) ([]byte, error) {
	canonical, err := crypto.Canonicalize(map[string]any{
		"authorizer":    o.Authorizer,
		"justification": o.Justification,
		"policy_id":     o.PolicyID,
		"to_version":    o.ToVersion,
		"signed_at":     o.SignedAt,
	})
	if err != nil {
		return nil, err
	}
	return crypto.DigestBytes(canonical), nil
}

type CompileResult struct {
	Policy   Policy
	Snapshot Snapshot
	// Clamped lists rules the validator tightened to fit system ceilings.
	Clamped []string
}

// CompileError reports a rejected statement. A rejected compile leaves the
// prior policy untouched; there are no partially-applied policies.
type CompileError struct {
	Diagnostics []string
}

func (e *CompileError) Error() string {
	return "policy statement rejected: " + strings.Join(e.Diagnostics, "; ")
}

func (c *Compiler) Compile(policyID, statement string, prior *Policy, override *Override, createdAt string) (CompileResult, error) {
	candidate, diags := parseStatement(statement)
	if len(diags) > 0 {
		return CompileResult{}, &CompileError{Diagnostics: diags}
	}

	result := CompileResult{}
	rules, ceilings, clamped := c.validate(candidate)
	result.Clamped = clamped

	version := 1
	if prior != nil {
		version = prior.Version + 1
		if loosened := loosenedCeilings(prior.Ceilings, ceilings); len(loosened) > 0 {
			if err := c.verifyOverride(policyID, version, override); err != nil {
				return CompileResult{}, &CompileError{Diagnostics: append(loosened, err.Error())}
			}
		}
	}

	p := Policy{
		PolicyID:  policyID,
		Version:   version,
		Statement: statement,
		Rules:     rules,
		Ceilings:  ceilings,
		CreatedAt: createdAt,
	}

	snapshot, err := p.Snapshot()
	if err != nil {
		return CompileResult{}, err
	}

	result.Policy = p
	result.Snapshot = snapshot
	return result, nil
}

// validate clamps candidate limits to the system ceilings and derives the
// policy's own hard-ceiling set.
func (c *Compiler) validate(candidate Rules) (Rules, Ceilings, []string) {
	clamped := []string{}
	sys := c.SystemCeilings

	clamp := func(name string, value, ceiling int64) int64 {
		if ceiling > 0 && value > ceiling {
			clamped = append(clamped, fmt.Sprintf("%s clamped from %d to %d", name, value, ceiling))
			return ceiling
		}
		return value
	}

	candidate.PerTxLimitCents = clamp("per_tx_limit", candidate.PerTxLimitCents, sys.PerTxCents)
	candidate.DailyLimitCents = clamp("daily_limit", candidate.DailyLimitCents, sys.DailyCents)
	candidate.MonthlyLimitCents = clamp("monthly_limit", candidate.MonthlyLimitCents, sys.MonthlyCents)

	if candidate.ApprovalThresholdCents > 0 && candidate.ApprovalQuorum == 0 {
		candidate.ApprovalQuorum = 2
	}

	ceilings := Ceilings{
		PerTxCents:   firstPositive(candidate.PerTxLimitCents, sys.PerTxCents),
		DailyCents:   firstPositive(candidate.DailyLimitCents, sys.DailyCents),
		MonthlyCents: firstPositive(candidate.MonthlyLimitCents, sys.MonthlyCents),
	}
	return candidate, ceilings, clamped
}

func (c *Compiler) verifyOverride(policyID string, version int, override *Override) error {
	if override == nil {
		return fmt.Errorf("loosening a hard ceiling requires a signed override")
	}
	if len(c.OverrideKey) == 0 {
		return fmt.Errorf("no override key configured")
	}
	if override.PolicyID != policyID || override.ToVersion != version {
		return fmt.Errorf("override does not cover %s v%d", policyID, version)
	}
	digest, err := OverrideDigest(*override)
	if err != nil {
		return err
	}
	ok, err := crypto.VerifyEd25519(c.OverrideKey, digest, override.Sig)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("override signature invalid")
	}
	return nil
}

// loosenedCeilings lists ceilings in next that are looser than prior. A zero
// ceiling means unbounded, which is looser than any bound.
func loosenedCeilings(prior, next Ceilings) []string {
	var out []string
	check := func(name string, p, n int64) {
		if p > 0 && (n == 0 || n > p) {
			out = append(out, fmt.Sprintf("%s ceiling loosened from %d to %d", name, p, n))
		}
	}
	check("per_tx", prior.PerTxCents, next.PerTxCents)
	check("daily", prior.DailyCents, next.DailyCents)
	check("monthly", prior.MonthlyCents, next.MonthlyCents)
	return out
}

func firstPositive(values ...int64) int64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

var (
	rePerTx     = regexp.MustCompile(`(?i)^max\s+\$([0-9]+(?:\.[0-9]{1,2})?)\s*(?:/|\s+per\s+)(?:tx|transaction)$`)
	reDaily     = regexp.MustCompile(`(?i)^max\s+\$([0-9]+(?:\.[0-9]{1,2})?)\s*(?:/|\s+per\s+)day$`)
	reMonthly   = regexp.MustCompile(`(?i)^max\s+\$([0-9]+(?:\.[0-9]{1,2})?)\s*(?:/|\s+per\s+)month$`)
	reApproval  = regexp.MustCompile(`(?i)^(?:require\s+)?approval\s+(?:required\s+)?(?:above|over)\s+\$([0-9]+(?:\.[0-9]{1,2})?)$`)
	reQuorum    = regexp.MustCompile(`(?i)^require\s+([0-9]+)\s+approvals?$`)
	reWeekends  = regexp.MustCompile(`(?i)^(?:block|no)\s+weekends?(?:\s+spending)?$`)
	reDenyCat   = regexp.MustCompile(`(?i)^(?:block|deny)\s+category\s+([a-z0-9_\-]+)$`)
	reAllowCat  = regexp.MustCompile(`(?i)^allow\s+only\s+category\s+([a-z0-9_\-]+)$`)
	reDenyCp    = regexp.MustCompile(`(?i)^(?:block|deny)\s+vendor\s+([a-z0-9_\-\.]+)$`)
	reAllowCp   = regexp.MustCompile(`(?i)^allow\s+only\s+vendor\s+([a-z0-9_\-\.]+)$`)
	reCurrency  = regexp.MustCompile(`(?i)^currency\s+([A-Z]{3})$`)
	reFailover  = regexp.MustCompile(`(?i)^allow\s+(?:rail\s+)?failover$`)
	reNoFailovr = regexp.MustCompile(`(?i)^single\s+rail\s+only$`)
)

// parseStatement is the untrusted first phase. It only recognizes a closed
// clause grammar; anything else is a diagnostic, and one bad clause rejects
// the whole statement.
func parseStatement(statement string) (Rules, []string) {
	rules := Rules{}
	var diags []string

	clauses := splitClauses(statement)
	if len(clauses) == 0 {
		return rules, []string{"empty policy statement"}
	}

	for _, clause := range clauses {
		switch {
		case rePerTx.MatchString(clause):
			rules.PerTxLimitCents = mustCents(rePerTx.FindStringSubmatch(clause)[1])
		case reDaily.MatchString(clause):
			rules.DailyLimitCents = mustCents(reDaily.FindStringSubmatch(clause)[1])
		case reMonthly.MatchString(clause):
			rules.MonthlyLimitCents = mustCents(reMonthly.FindStringSubmatch(clause)[1])
		case reApproval.MatchString(clause):
			rules.ApprovalThresholdCents = mustCents(reApproval.FindStringSubmatch(clause)[1])
		case reQuorum.MatchString(clause):
			n, _ := strconv.Atoi(reQuorum.FindStringSubmatch(clause)[1])
			rules.ApprovalQuorum = n
		case reWeekends.MatchString(clause):
			rules.BlockWeekends = true
		case reDenyCat.MatchString(clause):
			rules.DenyCategories = append(rules.DenyCategories, strings.ToLower(reDenyCat.FindStringSubmatch(clause)[1]))
		case reAllowCat.MatchString(clause):
			rules.AllowCategories = append(rules.AllowCategories, strings.ToLower(reAllowCat.FindStringSubmatch(clause)[1]))
		case reDenyCp.MatchString(clause):
			rules.DenyCounterparties = append(rules.DenyCounterparties, strings.ToLower(reDenyCp.FindStringSubmatch(clause)[1]))
		case reAllowCp.MatchString(clause):
			rules.AllowCounterparties = append(rules.AllowCounterparties, strings.ToLower(reAllowCp.FindStringSubmatch(clause)[1]))
		case reCurrency.MatchString(clause):
			rules.Currency = strings.ToUpper(reCurrency.FindStringSubmatch(clause)[1])
		case reFailover.MatchString(clause):
			rules.AllowFailover = true
		case reNoFailovr.MatchString(clause):
			rules.AllowFailover = false
		default:
			diags = append(diags, fmt.Sprintf("unrecognized clause: %q", clause))
		}
	}

	return rules, diags
}

func splitClauses(statement string) []string {
	fields := strings.FieldsFunc(statement, func(r rune) bool {
		return r == '\n' || r == ';' || r == ','
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// mustCents converts a matched dollar amount to cents. The regex guarantees
// at most two decimal places.
func mustCents(amount string) int64 {
	whole, frac, _ := strings.Cut(amount, ".")
	cents, _ := strconv.ParseInt(whole, 10, 64)
	cents *= 100
	if frac != "" {
		if len(frac) == 1 {
			frac += "0"
		}
		f, _ := strconv.ParseInt(frac, 10, 64)
		cents += f
	}
	return cents
}
