package agents

import (
	"context"
	"fmt"
	"sync"

	"conductor/pkg/phase"
)

// MockInvoker returns scripted responses, for tests and dry runs.
type MockInvoker struct {
	mu        sync.Mutex
	responses map[phase.Code]string
	err       error
	calls     []MockCall
}

// MockCall records one invocation for assertions.
type MockCall struct {
	Role   phase.Role
	Phase  phase.Code
	Prompt string
}

// NewMockInvoker creates a mock with per-phase scripted responses.
func NewMockInvoker(responses map[phase.Code]string) *MockInvoker {
	return &MockInvoker{responses: responses}
}

// FailWith makes every subsequent invocation return err.
func (m *MockInvoker) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetResponse scripts the response for one phase.
func (m *MockInvoker) SetResponse(code phase.Code, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.responses == nil {
		m.responses = make(map[phase.Code]string)
	}
	m.responses[code] = response
}

// Calls returns a copy of the recorded invocations.
func (m *MockInvoker) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Invoke implements Invoker.
func (m *MockInvoker) Invoke(ctx context.Context, role phase.Role, code phase.Code, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Role: role, Phase: code, Prompt: prompt})

	if m.err != nil {
		return "", m.err
	}
	if resp, ok := m.responses[code]; ok {
		return resp, nil
	}
	return "", fmt.Errorf("no scripted response for phase %s", code)
}
