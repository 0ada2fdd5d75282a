package nats

import (
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/revolut-feed/service/ledger"
	"github.com/google/uuid"
)

// RunEvent announces a stored ledger build.
// It is published to the subject "ledger.runs.{currency}".
type RunEvent struct {
	RunID     uuid.UUID `json:"run_id"`
	AccountID string    `json:"account_id"`
	Currency  string    `json:"currency"`
	Source    string    `json:"source"`

	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`

	RowCount        int          `json:"row_count"`
	DiagnosticCount int          `json:"diagnostic_count"`
	Stats           ledger.Stats `json:"stats"`

	PublishedAt time.Time `json:"published_at"`
}

// DiagnosticEvent carries one reconciliation problem of a run.
// It is published to the subject "ledger.diagnostics.{currency}".
type DiagnosticEvent struct {
	RunID      uuid.UUID         `json:"run_id"`
	Currency   string            `json:"currency"`
	Diagnostic ledger.Diagnostic `json:"diagnostic"`

	PublishedAt time.Time `json:"published_at"`
}

// RunSubject returns the subject run events for currency are published to.
func RunSubject(currency string) string {
	return fmt.Sprintf("ledger.runs.%s", strings.ToUpper(currency))
}

// DiagnosticSubject returns the subject diagnostic events for currency are
// published to.
func DiagnosticSubject(currency string) string {
	return fmt.Sprintf("ledger.diagnostics.%s", strings.ToUpper(currency))
}

// NewDiagnosticEvents wraps the diagnostics of a run for publishing.
func NewDiagnosticEvents(runID uuid.UUID, currency string, diags []ledger.Diagnostic) []*DiagnosticEvent {
	now := time.Now().UTC()
	events := make([]*DiagnosticEvent, 0, len(diags))
	for _, d := range diags {
		events = append(events, &DiagnosticEvent{
			RunID:       runID,
			Currency:    currency,
			Diagnostic:  d,
			PublishedAt: now,
		})
	}
	return events
}
