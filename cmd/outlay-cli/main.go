package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/outlay-dev/outlay/internal/crypto"
	"github.com/outlay-dev/outlay/internal/ledger"
	"github.com/outlay-dev/outlay/internal/policy"
	"github.com/outlay-dev/outlay/pkg/types"
)

const defaultAddr = "http://localhost:8080"

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "evidence":
		return handleEvidence(args[2:], stdout, stderr)
	case "verify-bundle":
		return handleVerifyBundle(args[2:], stdout, stderr)
	case "ledger":
		return handleLedger(args[2:], stdout, stderr)
	case "policy":
		return handlePolicy(args[2:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

// handleEvidence fetches the signed bundle for a decision and writes it out.
func handleEvidence(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("evidence", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("OUTLAY_ADDR", defaultAddr), "Outlay API address")
	token := fs.String("token", os.Getenv("OUTLAY_TOKEN"), "bearer token")
	outPath := fs.String("out", "", "write the bundle to this path instead of stdout")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "evidence requires <decision_id>")
		fs.Usage()
		return 2
	}

	respBody, status, err := httpGet(http.DefaultClient, *addr+"/v1/evidence/"+fs.Arg(0), *token)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintf(stderr, "evidence fetch failed: %s\n", strings.TrimSpace(string(respBody)))
		return 1
	}

	if *outPath == "" {
		_, _ = stdout.Write(respBody)
		return 0
	}
	if err := os.WriteFile(*outPath, respBody, 0o600); err != nil {
		fmt.Fprintln(stderr, "write output:", err)
		return 1
	}
	fmt.Fprintf(stdout, "wrote %s\n", *outPath)
	return 0
}

// handleVerifyBundle checks a bundle offline: digest recomputation plus the
// Ed25519 signature against the service public key. No network access.
func handleVerifyBundle(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify-bundle", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyPath := fs.String("key", envOrDefault("OUTLAY_EVIDENCE_PUBKEY", ""), "path to the evidence public key")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "verify-bundle requires <bundle_path>")
		fs.Usage()
		return 2
	}
	if *keyPath == "" {
		fmt.Fprintln(stderr, "missing --key or OUTLAY_EVIDENCE_PUBKEY")
		return 2
	}

	// #nosec G304 -- path is an operator-provided bundle path.
	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	var bundle types.EvidenceBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		fmt.Fprintln(stderr, "invalid bundle:", err)
		return 1
	}

	pub, err := crypto.LoadEd25519PublicKey(*keyPath)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	if err := ledger.VerifyBundle(bundle, pub); err != nil {
		fmt.Fprintf(stdout, "valid=false decision_id=%s error=%s\n", bundle.DecisionID, err)
		return 1
	}
	fmt.Fprintf(stdout, "valid=true decision_id=%s key_id=%s digest=%s\n", bundle.DecisionID, bundle.KeyID, bundle.BundleDigest)
	return 0
}

func handleLedger(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "verify" {
		usage(stderr)
		return 2
	}

	fs := flag.NewFlagSet("ledger verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("OUTLAY_ADDR", defaultAddr), "Outlay API address")
	token := fs.String("token", os.Getenv("OUTLAY_TOKEN"), "bearer token")
	if err := fs.Parse(args[1:]); err != nil {
		fs.Usage()
		return 2
	}

	respBody, status, err := httpGet(http.DefaultClient, *addr+"/v1/ledger/verify", *token)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintf(stderr, "ledger verify failed: %s\n", strings.TrimSpace(string(respBody)))
		return 1
	}

	var payload struct {
		Valid    bool   `json:"valid"`
		Entries  int64  `json:"entries"`
		TailHash string `json:"tail_hash"`
		Error    string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	if !payload.Valid {
		fmt.Fprintf(stdout, "valid=false error=%s\n", payload.Error)
		return 1
	}
	fmt.Fprintf(stdout, "valid=true entries=%d tail_hash=%s\n", payload.Entries, payload.TailHash)
	return 0
}

func handlePolicy(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "lint" {
		usage(stderr)
		return 2
	}

	fs := flag.NewFlagSet("policy lint", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args[1:]); err != nil {
		fs.Usage()
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "policy lint requires <statement>")
		fs.Usage()
		return 2
	}

	compiler := &policy.Compiler{}
	res, err := compiler.Compile("lint", fs.Arg(0), nil, nil, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	for _, clamp := range res.Clamped {
		fmt.Fprintf(stdout, "note: %s\n", clamp)
	}
	fmt.Fprintf(stdout, "ok policy_hash=%s\n", res.Snapshot.Hash)
	return 0
}

func httpGet(client *http.Client, url string, token string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Outlay CLI

Usage:
  outlay evidence <decision_id> [--addr URL] [--token TOKEN] [--out PATH]
  outlay verify-bundle <bundle_path> --key evidence.pub
  outlay ledger verify [--addr URL] [--token TOKEN]
  outlay policy lint <statement>
`)
}
