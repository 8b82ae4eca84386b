package helpers

import (
	"context"
	"sync"
	"time"

	"github.com/loomhq/loom/pkg/api"
)

type (
	// MockRunner is a recording task runner for testing. Responses and
	// errors are keyed by command string
	MockRunner struct {
		responses map[string]any
		errors    map[string]error
		errCounts map[string]int
		delays    map[string]time.Duration
		invoked   []string
		mu        sync.Mutex
	}

	// MockInference is a scripted inference collaborator for testing.
	// Responses are keyed by prompt, with a fallback default
	MockInference struct {
		responses map[string]string
		err       error
		defaultTo string
		mu        sync.Mutex
	}
)

// NewMockRunner creates a new mock task runner
func NewMockRunner() *MockRunner {
	return &MockRunner{
		responses: map[string]any{},
		errors:    map[string]error{},
		errCounts: map[string]int{},
		delays:    map[string]time.Duration{},
	}
}

func (m *MockRunner) Run(
	ctx context.Context, command, _ string, _ api.Vars,
) (any, error) {
	m.mu.Lock()
	m.invoked = append(m.invoked, command)
	delay := m.delays[command]
	err, hasErr := m.errors[command]
	if hasErr {
		if remaining, limited := m.errCounts[command]; limited {
			if remaining <= 0 {
				hasErr = false
			} else {
				m.errCounts[command] = remaining - 1
			}
		}
	}
	output, hasOutput := m.responses[command]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if hasErr {
		return nil, err
	}
	if hasOutput {
		return output, nil
	}
	return "ok", nil
}

// SetDelay makes invocations of the command block for the duration before
// responding
func (m *MockRunner) SetDelay(command string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[command] = delay
}

func (m *MockRunner) SetResponse(command string, output any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[command] = output
}

func (m *MockRunner) SetError(command string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[command] = err
}

// SetErrorCount makes the command fail the next n invocations and then
// succeed
func (m *MockRunner) SetErrorCount(command string, err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[command] = err
	m.errCounts[command] = n
}

// ClearError removes a scripted error so later invocations succeed
func (m *MockRunner) ClearError(command string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errors, command)
	delete(m.errCounts, command)
}

func (m *MockRunner) Invocations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.invoked))
	copy(result, m.invoked)
	return result
}

func (m *MockRunner) WasInvoked(command string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.invoked {
		if c == command {
			return true
		}
	}
	return false
}

// InvocationCount returns how many times the command was run
func (m *MockRunner) InvocationCount(command string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.invoked {
		if c == command {
			count++
		}
	}
	return count
}

// NewMockInference creates a mock inference collaborator that answers
// "false" by default
func NewMockInference() *MockInference {
	return &MockInference{
		responses: map[string]string{},
		defaultTo: "false",
	}
}

func (m *MockInference) Ask(
	_ context.Context, prompt string, _ api.Vars,
) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return "", m.err
	}
	if response, ok := m.responses[prompt]; ok {
		return response, nil
	}
	return m.defaultTo, nil
}

func (m *MockInference) SetResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

func (m *MockInference) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
