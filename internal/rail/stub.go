package rail

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Stub is an in-process rail for dev mode and tests. Errs maps a step name
// (authorize, execute, confirm, refund) to errors returned in call order;
// once the queue for a step drains the step succeeds.
type Stub struct {
	RailName string
	Errs     map[string][]error

	mu    sync.Mutex
	calls []string
}

func NewStub(name string) *Stub {
	return &Stub{RailName: name, Errs: map[string][]error{}}
}

func (s *Stub) Name() string { return s.RailName }

// FailNext queues an error for the next call of a step.
func (s *Stub) FailNext(step string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errs[step] = append(s.Errs[step], err)
}

func (s *Stub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times a step ran.
func (s *Stub) CallCount(step string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == step {
			n++
		}
	}
	return n
}

func (s *Stub) step(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	queue := s.Errs[name]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	s.Errs[name] = queue[1:]
	return err
}

func (s *Stub) Authorize(ctx context.Context, req Request) (Authorization, error) {
	if err := s.step(ctx, "authorize"); err != nil {
		return Authorization{}, err
	}
	return Authorization{Ref: fmt.Sprintf("%s-auth-%s", s.RailName, req.IntentID)}, nil
}

func (s *Stub) Execute(ctx context.Context, req Request, auth Authorization) (Execution, error) {
	if err := s.step(ctx, "execute"); err != nil {
		return Execution{}, err
	}
	return Execution{ProviderRef: fmt.Sprintf("%s-ref-%s", s.RailName, req.IntentID)}, nil
}

func (s *Stub) Confirm(ctx context.Context, req Request, exec Execution) (Confirmation, error) {
	if err := s.step(ctx, "confirm"); err != nil {
		return Confirmation{}, err
	}
	return Confirmation{Settled: true, SettledAt: time.Now().UTC().Format(time.RFC3339)}, nil
}

func (s *Stub) Refund(ctx context.Context, req Request, exec Execution) error {
	return s.step(ctx, "refund")
}
