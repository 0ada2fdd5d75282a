package nats

import (
	"context"
	"sync"
)

// MockPublisher records published events in memory. It is safe for
// concurrent use.
type MockPublisher struct {
	mu               sync.RWMutex
	runs             []*RunEvent
	diagnostics      []*DiagnosticEvent
	runError         error
	diagnosticsError error
	closed           bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishRun records the event and returns any configured error.
func (m *MockPublisher) PublishRun(ctx context.Context, event *RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runError != nil {
		return m.runError
	}
	m.runs = append(m.runs, event)
	return nil
}

// PublishDiagnostics records the events and returns any configured error.
func (m *MockPublisher) PublishDiagnostics(ctx context.Context, events []*DiagnosticEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.diagnosticsError != nil {
		return m.diagnosticsError
	}
	m.diagnostics = append(m.diagnostics, events...)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Runs returns a copy of the published run events.
func (m *MockPublisher) Runs() []*RunEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*RunEvent, len(m.runs))
	copy(out, m.runs)
	return out
}

// Diagnostics returns a copy of the published diagnostic events.
func (m *MockPublisher) Diagnostics() []*DiagnosticEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*DiagnosticEvent, len(m.diagnostics))
	copy(out, m.diagnostics)
	return out
}

// SetRunError configures the mock to fail PublishRun.
func (m *MockPublisher) SetRunError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runError = err
}

// SetDiagnosticsError configures the mock to fail PublishDiagnostics.
func (m *MockPublisher) SetDiagnosticsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diagnosticsError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = nil
	m.diagnostics = nil
	m.runError = nil
	m.diagnosticsError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
