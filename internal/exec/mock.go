package exec

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockResult is a scripted response for a command pattern.
type MockResult struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// MockExecutor is a CommandExecutor that returns scripted results and records
// every invocation. Commands are matched by substring against the joined
// command line; the first matching script wins. Unmatched commands succeed
// with empty output.
type MockExecutor struct {
	mu      sync.Mutex
	scripts []mockScript
	calls   []string
}

type mockScript struct {
	match  string
	result MockResult
}

// NewMockExecutor returns an empty MockExecutor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// Script registers a result for command lines containing match.
func (m *MockExecutor) Script(match string, result MockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, mockScript{match: match, result: result})
}

// Calls returns the recorded command lines in invocation order.
func (m *MockExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockExecutor) lookup(name string, args []string) MockResult {
	line := name + " " + strings.Join(args, " ")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, line)
	for _, s := range m.scripts {
		if strings.Contains(line, s.match) {
			return s.result
		}
	}
	return MockResult{}
}

func (m *MockExecutor) Run(_ context.Context, _, name string, args ...string) ([]byte, []byte, error) {
	r := m.lookup(name, args)
	return r.Stdout, r.Stderr, r.Err
}

func (m *MockExecutor) Output(_ context.Context, _, name string, args ...string) ([]byte, error) {
	r := m.lookup(name, args)
	if r.Err != nil {
		return nil, fmt.Errorf("%s: %w", name, r.Err)
	}
	return r.Stdout, nil
}

func (m *MockExecutor) CombinedOutput(_ context.Context, _, name string, args ...string) ([]byte, error) {
	r := m.lookup(name, args)
	return append(r.Stdout, r.Stderr...), r.Err
}
