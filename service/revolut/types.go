package revolut

import (
	"time"

	"github.com/brojonat/revolut-feed/service/ledger"
	"github.com/shopspring/decimal"
)

// AccessToken is the token pair returned by the auth/token endpoint.
// ExpiresAt is computed locally when the token is received.
type AccessToken struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the access token is expired at now, allowing
// for a small clock skew. Tokens without a known expiry never expire.
func (t *AccessToken) Expired(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(30 * time.Second).Before(t.ExpiresAt)
}

// Account is a Revolut business account.
type Account struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	State     string          `json:"state"`
	Public    bool            `json:"public"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Ledger converts the account to the ledger representation.
func (a Account) Ledger() ledger.Account {
	return ledger.Account{ID: a.ID, Name: a.Name, Currency: a.Currency}
}

// CounterpartyRef identifies the other side of a leg.
type CounterpartyRef struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	AccountID string `json:"account_id,omitempty"`
}

// Leg is one account-side effect of a transaction.
type Leg struct {
	LegID        string           `json:"leg_id"`
	AccountID    string           `json:"account_id"`
	Counterparty *CounterpartyRef `json:"counterparty,omitempty"`
	Amount       decimal.Decimal  `json:"amount"`
	Fee          decimal.Decimal  `json:"fee"`
	Currency     string           `json:"currency"`
	Description  string           `json:"description"`
	Balance      decimal.Decimal  `json:"balance"`
}

// Transaction is a transaction as returned by the transactions endpoints.
// Timestamps are kept as strings; the ledger reformats completed_at itself.
type Transaction struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	RequestID   string `json:"request_id,omitempty"`
	State       string `json:"state"`
	Reason      string `json:"reason_code,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Legs        []Leg  `json:"legs"`
}

// Ledger converts the transaction to the ledger representation.
func (t Transaction) Ledger() ledger.Transaction {
	legs := make([]ledger.Leg, 0, len(t.Legs))
	for _, l := range t.Legs {
		legs = append(legs, ledger.Leg{
			AccountID:   l.AccountID,
			Currency:    l.Currency,
			Amount:      l.Amount,
			Balance:     l.Balance,
			Description: l.Description,
		})
	}
	return ledger.Transaction{
		ID:          t.ID,
		Type:        t.Type,
		State:       t.State,
		CompletedAt: t.CompletedAt,
		Reference:   t.Reference,
		Legs:        legs,
	}
}

// LedgerTransactions converts a feed to ledger transactions, keeping order.
func LedgerTransactions(txs []Transaction) []ledger.Transaction {
	out := make([]ledger.Transaction, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.Ledger())
	}
	return out
}

// CounterpartyAccount is a bank account held by a counterparty.
type CounterpartyAccount struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	Type      string `json:"type"`
	AccountNo string `json:"account_no,omitempty"`
	IBAN      string `json:"iban,omitempty"`
	SortCode  string `json:"sort_code,omitempty"`
	BIC       string `json:"bic,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Counterparty is a payee or payer known to the business.
type Counterparty struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Phone       string                `json:"phone,omitempty"`
	ProfileType string                `json:"profile_type,omitempty"`
	Country     string                `json:"country,omitempty"`
	State       string                `json:"state"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	Accounts    []CounterpartyAccount `json:"accounts,omitempty"`
}

// TransactionsParams filters the transactions endpoint.
type TransactionsParams struct {
	From         time.Time
	To           time.Time
	Count        int
	Counterparty string
}
