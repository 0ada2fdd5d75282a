package temporal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ScheduleSettings is what MockScheduler remembers about a schedule.
type ScheduleSettings struct {
	Interval time.Duration
	Window   time.Duration
}

// MockScheduler is an in-memory Scheduler and ExportStarter for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]ScheduleSettings
	started   []ExportLedgerInput
	createErr error
	deleteErr error
	startErr  error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]ScheduleSettings),
	}
}

// CreateExportSchedule records that a schedule was created.
func (m *MockScheduler) CreateExportSchedule(ctx context.Context, currency string, interval, window time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	id := scheduleID(currency)
	if _, exists := m.schedules[id]; exists {
		return fmt.Errorf("schedule %q already exists", id)
	}
	m.schedules[id] = ScheduleSettings{Interval: interval, Window: window}
	return nil
}

// UpsertExportSchedule creates or updates a schedule.
func (m *MockScheduler) UpsertExportSchedule(ctx context.Context, currency string, interval, window time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	m.schedules[scheduleID(currency)] = ScheduleSettings{Interval: interval, Window: window}
	return nil
}

// DeleteExportSchedule records that a schedule was deleted.
func (m *MockScheduler) DeleteExportSchedule(ctx context.Context, currency string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	id := scheduleID(currency)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}
	delete(m.schedules, id)
	return nil
}

// StartExport records the input and returns a fake workflow ID.
func (m *MockScheduler) StartExport(ctx context.Context, input ExportLedgerInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return "", m.startErr
	}
	m.started = append(m.started, input)
	return fmt.Sprintf("%s-%d", scheduleID(input.Currency), len(m.started)), nil
}

// SetCreateError makes create and upsert return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// SetDeleteError makes DeleteExportSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// SetStartError makes StartExport return an error.
func (m *MockScheduler) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// Schedule returns the settings of a currency's schedule.
func (m *MockScheduler) Schedule(currency string) (ScheduleSettings, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[scheduleID(strings.ToUpper(currency))]
	return s, ok
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}

// Started returns the inputs of every StartExport call.
func (m *MockScheduler) Started() []ExportLedgerInput {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ExportLedgerInput, len(m.started))
	copy(out, m.started)
	return out
}

// Reset clears all schedules, started runs and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[string]ScheduleSettings)
	m.started = nil
	m.createErr = nil
	m.deleteErr = nil
	m.startErr = nil
}
