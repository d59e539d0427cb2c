// Package custody is the boundary to the signing collaborator that releases
// funds. The gateway never holds rail credentials directly; executions are
// signed through a Signer, and a health monitor degrades the whole control
// plane when the collaborator misbehaves.
package custody

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/outlay-dev/outlay/internal/crypto"
	"github.com/outlay-dev/outlay/internal/fault"
)

type Mode string

const (
	// ModeActive is normal operation.
	ModeActive Mode = "active"
	// ModeDegraded blocks only high-risk flows: amounts above the approval
	// threshold and agent-to-agent transfers.
	ModeDegraded Mode = "degraded"
	// ModeContainment denies every new execution. Reads and evidence export
	// keep working; the audit surface must survive a custody incident.
	ModeContainment Mode = "containment"
)

// Signer authorizes an execution payload on behalf of the custody
// collaborator.
type Signer interface {
	KeyID() string
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// KeySigner signs with a local Ed25519 key. Stands in for the remote
// collaborator in dev and tests; production wires an HSM-backed client here.
type KeySigner struct {
	ID         string
	PrivateKey ed25519.PrivateKey
}

func (s *KeySigner) KeyID() string { return s.ID }

func (s *KeySigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return crypto.SignEd25519(s.PrivateKey, crypto.DigestBytes(payload))
}

// HealthFunc probes the collaborator. A nil error means healthy.
type HealthFunc func(ctx context.Context) error

// Monitor tracks collaborator health and derives the custody mode from
// consecutive probe failures. Operators can also pin a mode directly, which
// wins over probe results until unpinned.
type Monitor struct {
	Probe          HealthFunc
	ProbeTimeout   time.Duration
	FailuresToSlow int
	FailuresToHalt int

	mu       sync.Mutex
	failures int
	mode     Mode
	pinned   bool
}

func NewMonitor(probe HealthFunc) *Monitor {
	return &Monitor{
		Probe:          probe,
		ProbeTimeout:   5 * time.Second,
		FailuresToSlow: 2,
		FailuresToHalt: 5,
		mode:           ModeActive,
	}
}

func (m *Monitor) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Pin forces a mode until Unpin. Used for operator-driven containment.
func (m *Monitor) Pin(mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
	m.pinned = true
}

func (m *Monitor) Unpin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned = false
	m.mode = m.modeForFailures()
}

// Check runs one probe and updates the mode.
func (m *Monitor) Check(ctx context.Context) Mode {
	probeCtx, cancel := context.WithTimeout(ctx, m.ProbeTimeout)
	defer cancel()
	err := m.Probe(probeCtx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failures++
	} else {
		m.failures = 0
	}
	if !m.pinned {
		m.mode = m.modeForFailures()
	}
	return m.mode
}

func (m *Monitor) modeForFailures() Mode {
	switch {
	case m.failures >= m.FailuresToHalt:
		return ModeContainment
	case m.failures >= m.FailuresToSlow:
		return ModeDegraded
	default:
		return ModeActive
	}
}

// Run probes on an interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Gate decides whether a new execution may proceed under the current mode.
// highRisk marks amounts above the approval threshold and agent-to-agent
// transfers.
func (m *Monitor) Gate(highRisk bool) error {
	switch mode := m.Mode(); mode {
	case ModeActive:
		return nil
	case ModeDegraded:
		if highRisk {
			return fault.New(fault.CodeContainment, "custody degraded: high-risk executions suspended")
		}
		return nil
	case ModeContainment:
		return fault.New(fault.CodeContainment, "custody containment: new executions suspended")
	default:
		return fault.New(fault.CodeContainment, fmt.Sprintf("unknown custody mode %q", mode))
	}
}
