package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatDate turns "yyyy-mm-dd" (optionally followed by "T" and a time)
// into "dd/mm/yyyy". Input that is not a dash separated date is returned
// with only the time suffix removed.
func FormatDate(completedAt string) string {
	day, _, _ := strings.Cut(completedAt, "T")
	parts := strings.Split(day, "-")
	if len(parts) != 3 {
		return day
	}
	return parts[2] + "/" + parts[1] + "/" + parts[0]
}

// FormatAmount renders an amount fixed to two decimal places.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// NewRow builds the ledger row for tx settled through leg.
func NewRow(tx Transaction, leg Leg) Row {
	desc := leg.Description
	if tx.Reference != "" {
		desc += " - " + tx.Reference
	}
	return Row{
		Date:        FormatDate(tx.CompletedAt),
		Description: desc,
		Net:         FormatAmount(leg.Amount),
		Balance:     FormatAmount(leg.Balance),
	}
}

// fxAnnotation appends the foreign amount that funded an exchange.
func fxAnnotation(desc, currency string, amount decimal.Decimal) string {
	return desc + " (FX " + currency + " " + FormatAmount(amount) + ")"
}

// joinUnique joins the non-empty values in first-seen order.
func joinUnique(values []string) string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return strings.Join(out, ", ")
}
