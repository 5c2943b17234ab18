// Package agents provides the external agent-invocation contract and its
// LLM-backed implementations.
package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conductor/pkg/logx"
	"conductor/pkg/phase"
)

// ErrPromptTooLarge is returned before any network call when a prompt
// exceeds the configured token budget. This is an input error: the caller
// must shrink the prompt, not retry.
var ErrPromptTooLarge = errors.New("prompt exceeds token budget")

// Invoker is the single agent-call contract. A failure surfaces to the
// orchestrator as a blocked phase; no retries are implied here.
type Invoker interface {
	Invoke(ctx context.Context, role phase.Role, code phase.Code, prompt string) (string, error)
}

// Roster routes phase invocations to per-role invokers, applying a shared
// timeout and a prompt token budget.
type Roster struct {
	invokers    map[phase.Role]Invoker
	fallback    Invoker
	timeout     time.Duration
	tokenBudget int
	counter     *TokenCounter
	logger      *logx.Logger
}

// RosterOption configures a Roster.
type RosterOption func(*Roster)

// WithTimeout sets the per-invocation timeout (default 5 minutes).
func WithTimeout(d time.Duration) RosterOption {
	return func(r *Roster) { r.timeout = d }
}

// WithTokenBudget caps prompt size in tokens (default 100000).
func WithTokenBudget(budget int) RosterOption {
	return func(r *Roster) { r.tokenBudget = budget }
}

// WithRoleInvoker assigns a dedicated invoker to one role.
func WithRoleInvoker(role phase.Role, inv Invoker) RosterOption {
	return func(r *Roster) { r.invokers[role] = inv }
}

// NewRoster creates a roster with a fallback invoker used for any role
// without a dedicated one.
func NewRoster(fallback Invoker, opts ...RosterOption) (*Roster, error) {
	if fallback == nil {
		return nil, fmt.Errorf("fallback invoker is required")
	}
	counter, err := NewTokenCounter()
	if err != nil {
		return nil, logx.Wrap(err, "token counter init")
	}
	r := &Roster{
		invokers:    make(map[phase.Role]Invoker),
		fallback:    fallback,
		timeout:     5 * time.Minute,
		tokenBudget: 100000,
		counter:     counter,
		logger:      logx.NewLogger("agents"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Invoke routes to the role's invoker with timeout and budget enforcement.
// No internal lock is held while the call is in flight.
func (r *Roster) Invoke(ctx context.Context, role phase.Role, code phase.Code, prompt string) (string, error) {
	tokens := r.counter.Count(prompt)
	if tokens > r.tokenBudget {
		return "", fmt.Errorf("%w: %d tokens, budget %d", ErrPromptTooLarge, tokens, r.tokenBudget)
	}

	inv := r.fallback
	if dedicated, ok := r.invokers[role]; ok {
		inv = dedicated
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.Debug("invoking role %s for phase %s (%d prompt tokens)", role, code, tokens)
	start := time.Now()
	out, err := inv.Invoke(callCtx, role, code, prompt)
	if err != nil {
		return "", fmt.Errorf("agent call for phase %s (role %s) failed: %w", code, role, err)
	}
	r.logger.Info("role %s completed phase %s in %s", role, code, time.Since(start).Round(time.Millisecond))
	return out, nil
}
