package temporal

import (
	"context"
	"strings"
	"time"
)

// Scheduler manages the Temporal schedules that run exports.
// Each reference currency gets its own schedule that triggers
// ExportLedgerWorkflow.
type Scheduler interface {
	// CreateExportSchedule creates a schedule exporting currency every
	// interval over the trailing window.
	CreateExportSchedule(ctx context.Context, currency string, interval, window time.Duration) error

	// UpsertExportSchedule creates the schedule or updates its interval
	// and window.
	UpsertExportSchedule(ctx context.Context, currency string, interval, window time.Duration) error

	// DeleteExportSchedule stops scheduled exports for currency.
	DeleteExportSchedule(ctx context.Context, currency string) error
}

// ExportStarter starts a single export run outside any schedule.
type ExportStarter interface {
	StartExport(ctx context.Context, input ExportLedgerInput) (workflowID string, err error)
}

// scheduleID returns the Temporal schedule ID for a reference currency.
func scheduleID(currency string) string {
	return "export-ledger-" + strings.ToUpper(currency)
}
