package ledger

import (
	"github.com/shopspring/decimal"
)

// Transaction types and states the builder cares about.
const (
	TypeExchange   = "exchange"
	StateCompleted = "completed"
)

// Account is a currency sub-account of the business.
type Account struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Currency string `json:"currency"`
}

// Leg is one account-side effect of a transaction.
// Amount is signed: negative values are outflows.
type Leg struct {
	AccountID   string          `json:"account_id"`
	Currency    string          `json:"currency"`
	Amount      decimal.Decimal `json:"amount"`
	Balance     decimal.Decimal `json:"balance"`
	Description string          `json:"description"`
}

// Transaction is a bank transaction as returned by the feed.
// Values are treated as immutable: matching produces new transactions.
type Transaction struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	State       string `json:"state"`
	CompletedAt string `json:"completed_at"`
	Reference   string `json:"reference,omitempty"`
	Legs        []Leg  `json:"legs"`
}

// Completed reports whether the transaction participates in the ledger.
func (t Transaction) Completed() bool {
	return t.State == StateCompleted
}

// Row is one line of the derived ledger, ready for tabular output.
type Row struct {
	Date        string `json:"date"`
	Description string `json:"description"`
	Net         string `json:"net"`
	Balance     string `json:"balance"`
}

// Header returns the column names used when rendering rows as a table.
func Header() []string {
	return []string{"Date", "Description", "Net", "Balance"}
}

// Record returns the row as table cells in Header order.
func (r Row) Record() []string {
	return []string{r.Date, r.Description, r.Net, r.Balance}
}

// Kind is the classification of a transaction, resolved once per transaction.
type Kind int

const (
	// KindSkipped transactions are not completed and are ignored.
	KindSkipped Kind = iota
	// KindForeign transactions settle outside the reference account and
	// wait in the buffer for a later exchange.
	KindForeign
	// KindExchange transactions convert foreign money into the reference account.
	KindExchange
	// KindPlain transactions produce a row directly.
	KindPlain
	// KindUnresolvable transactions have several legs, none in the reference currency.
	KindUnresolvable
)

func (k Kind) String() string {
	switch k {
	case KindSkipped:
		return "skipped"
	case KindForeign:
		return "foreign"
	case KindExchange:
		return "exchange"
	case KindPlain:
		return "plain"
	case KindUnresolvable:
		return "unresolvable"
	default:
		return "unknown"
	}
}

// Classified pairs a transaction with its kind and settling leg.
type Classified struct {
	Kind        Kind
	Transaction Transaction
	Leg         Leg
}

// Classify resolves the kind of tx relative to the reference account.
// The settling leg is chosen with SelectLeg; a transaction whose settling
// leg belongs to another account is foreign.
func Classify(tx Transaction, ref Account) Classified {
	c := Classified{Transaction: tx}
	if !tx.Completed() {
		c.Kind = KindSkipped
		return c
	}

	leg, err := SelectLeg(tx.Legs, ref.Currency)
	if err != nil {
		c.Kind = KindUnresolvable
		return c
	}
	c.Leg = leg

	switch {
	case leg.AccountID != ref.ID:
		c.Kind = KindForeign
	case tx.Type == TypeExchange:
		c.Kind = KindExchange
	default:
		c.Kind = KindPlain
	}
	return c
}
