package ledger

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// DiagnosticKind names a non-fatal reconciliation problem.
type DiagnosticKind string

const (
	DiagNoForeignLegs       DiagnosticKind = "no_foreign_legs"
	DiagMultipleForeignLegs DiagnosticKind = "multiple_foreign_legs"
	DiagUnmatchedExchange   DiagnosticKind = "unmatched_exchange"
	DiagUnmatchedForeign    DiagnosticKind = "unmatched_foreign"
	DiagNoReferenceLeg      DiagnosticKind = "no_reference_leg"
	DiagSearchExhausted     DiagnosticKind = "search_exhausted"
)

// Diagnostic describes a transaction that could not be folded into the ledger
// cleanly. Diagnostics never abort a build.
type Diagnostic struct {
	Kind          DiagnosticKind  `json:"kind"`
	Message       string          `json:"message"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Date          string          `json:"date,omitempty"`
}

// LogValue renders the diagnostic as a structured slog group.
func (d Diagnostic) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", string(d.Kind)),
		slog.String("transaction_id", d.TransactionID),
		slog.String("description", d.Description),
		slog.String("currency", d.Currency),
		slog.String("amount", FormatAmount(d.Amount)),
		slog.String("date", d.Date),
	)
}

func legSummary(legs []Leg) string {
	parts := make([]string, 0, len(legs))
	for _, leg := range legs {
		parts = append(parts, leg.Currency+" "+FormatAmount(leg.Amount))
	}
	return strings.Join(parts, " / ")
}

func exchangeDescription(ex Transaction) string {
	if len(ex.Legs) == 0 {
		return ""
	}
	return ex.Legs[0].Description
}

func noForeignLegs(ex Transaction) Diagnostic {
	return Diagnostic{
		Kind:          DiagNoForeignLegs,
		Message:       fmt.Sprintf("exchange %q on %s has no foreign legs", exchangeDescription(ex), ex.CompletedAt),
		TransactionID: ex.ID,
		Description:   exchangeDescription(ex),
		Date:          ex.CompletedAt,
	}
}

func multipleForeignLegs(ex Transaction, legs []Leg) Diagnostic {
	return Diagnostic{
		Kind: DiagMultipleForeignLegs,
		Message: fmt.Sprintf("exchange %q on %s has %d foreign legs (%s), matching on the first",
			exchangeDescription(ex), ex.CompletedAt, len(legs), legSummary(legs)),
		TransactionID: ex.ID,
		Description:   exchangeDescription(ex),
		Currency:      legs[0].Currency,
		Amount:        legs[0].Amount,
		Date:          ex.CompletedAt,
	}
}

func unmatchedExchange(ex Transaction, foreign Leg) Diagnostic {
	return Diagnostic{
		Kind: DiagUnmatchedExchange,
		Message: fmt.Sprintf("could not find the foreign transaction(s) for exchange %q (%s) on %s",
			exchangeDescription(ex), legSummary(ex.Legs), ex.CompletedAt),
		TransactionID: ex.ID,
		Description:   exchangeDescription(ex),
		Currency:      foreign.Currency,
		Amount:        foreign.Amount,
		Date:          ex.CompletedAt,
	}
}

func searchExhausted(ex Transaction, foreign Leg, budget int) Diagnostic {
	return Diagnostic{
		Kind: DiagSearchExhausted,
		Message: fmt.Sprintf("gave up combining foreign transactions for exchange %q on %s after %d steps",
			exchangeDescription(ex), ex.CompletedAt, budget),
		TransactionID: ex.ID,
		Description:   exchangeDescription(ex),
		Currency:      foreign.Currency,
		Amount:        foreign.Amount,
		Date:          ex.CompletedAt,
	}
}

func unmatchedForeign(tx Transaction) Diagnostic {
	leg := tx.Legs[0]
	return Diagnostic{
		Kind: DiagUnmatchedForeign,
		Message: fmt.Sprintf("foreign transaction %q (%s %s) on %s was never exchanged",
			leg.Description, leg.Currency, FormatAmount(leg.Amount), tx.CompletedAt),
		TransactionID: tx.ID,
		Description:   leg.Description,
		Currency:      leg.Currency,
		Amount:        leg.Amount,
		Date:          tx.CompletedAt,
	}
}

func noReferenceLeg(tx Transaction, currency string) Diagnostic {
	return Diagnostic{
		Kind: DiagNoReferenceLeg,
		Message: fmt.Sprintf("transaction %q (%s) on %s has no %s leg",
			exchangeDescription(tx), legSummary(tx.Legs), tx.CompletedAt, currency),
		TransactionID: tx.ID,
		Description:   exchangeDescription(tx),
		Date:          tx.CompletedAt,
	}
}
