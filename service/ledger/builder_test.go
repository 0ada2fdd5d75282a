package ledger

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gbp = Account{ID: gbpAccount, Currency: "GBP"}

func plainTx(id, amount, balance, desc, date string) Transaction {
	return Transaction{
		ID:          id,
		Type:        "transfer",
		State:       StateCompleted,
		CompletedAt: date,
		Legs: []Leg{{
			AccountID:   gbpAccount,
			Currency:    "GBP",
			Amount:      amt(amount),
			Balance:     amt(balance),
			Description: desc,
		}},
	}
}

// newestFirst reverses chronological input into feed order.
func newestFirst(txs ...Transaction) []Transaction {
	out := make([]Transaction, len(txs))
	for i, tx := range txs {
		out[len(txs)-1-i] = tx
	}
	return out
}

type recordingObserver struct {
	mu          sync.Mutex
	matches     map[Strategy]int
	diagnostics map[DiagnosticKind]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		matches:     make(map[Strategy]int),
		diagnostics: make(map[DiagnosticKind]int),
	}
}

func (o *recordingObserver) ObserveMatch(s Strategy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.matches[s]++
}

func (o *recordingObserver) ObserveDiagnostic(k DiagnosticKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.diagnostics[k]++
}

func TestBuild_PlainRows(t *testing.T) {
	txs := newestFirst(
		plainTx("1", "100", "100", "Salary", "2024-01-01T08:00:00Z"),
		plainTx("2", "-12.5", "87.5", "Coffee", "2024-01-02"),
	)
	txs[0].Reference = "latte"

	report := NewBuilder().Build(context.Background(), gbp, txs)

	require.Len(t, report.Rows, 2)
	assert.Equal(t, Row{Date: "01/01/2024", Description: "Salary", Net: "100.00", Balance: "100.00"}, report.Rows[0])
	assert.Equal(t, Row{Date: "02/01/2024", Description: "Coffee - latte", Net: "-12.50", Balance: "87.50"}, report.Rows[1])
	assert.Empty(t, report.Diagnostics)
	assert.Equal(t, 2, report.Stats.Plain)
}

func TestBuild_SkipsIncomplete(t *testing.T) {
	pending := plainTx("p", "5", "5", "Pending", "2024-01-01")
	pending.State = "pending"
	declined := foreignTx("d", "EUR", "50.00", "Declined", "2024-01-01")
	declined.State = "declined"

	report := NewBuilder().Build(context.Background(), gbp, []Transaction{pending, declined})

	assert.Empty(t, report.Rows)
	assert.Empty(t, report.Diagnostics)
	assert.Empty(t, report.Leftovers)
	assert.Equal(t, 2, report.Stats.Skipped)
}

func TestBuild_SingleExchange(t *testing.T) {
	txs := newestFirst(
		foreignTx("a", "EUR", "50.00", "Client A", "2024-01-02T10:00:00Z"),
		exchangeTx("e", "43.50", "143.50", "EUR", "-50.00", "2024-01-03T09:00:00Z"),
	)

	report := NewBuilder().Build(context.Background(), gbp, txs)

	require.Len(t, report.Rows, 1)
	assert.Equal(t, Row{
		Date:        "03/01/2024",
		Description: "Client A (FX EUR 50.00)",
		Net:         "43.50",
		Balance:     "143.50",
	}, report.Rows[0])
	assert.Empty(t, report.Diagnostics)
	assert.Empty(t, report.Leftovers)
	assert.Equal(t, 1, report.Stats.SingleMatches)
}

func TestBuild_CombinedExchange(t *testing.T) {
	txs := newestFirst(
		foreignTx("b", "EUR", "20.00", "Client B", "2024-01-01"),
		foreignTx("c", "EUR", "30.00", "Client C", "2024-01-02"),
		exchangeTx("e", "44.00", "44.00", "EUR", "-50.00", "2024-01-03"),
	)

	report := NewBuilder().Build(context.Background(), gbp, txs)

	require.Len(t, report.Rows, 1)
	assert.Equal(t, "44.00", report.Rows[0].Net)
	assert.Equal(t, "Client B, Client C (FX EUR 50.00)", report.Rows[0].Description)
	assert.Empty(t, report.Leftovers)
	assert.Equal(t, 1, report.Stats.CombinedMatches)
}

func TestBuild_UnmatchedExchangeDropped(t *testing.T) {
	txs := newestFirst(
		plainTx("1", "10", "10", "Opening", "2024-01-01"),
		exchangeTx("e", "43.50", "53.50", "EUR", "-50.00", "2024-01-03"),
	)

	report := NewBuilder().Build(context.Background(), gbp, txs)

	require.Len(t, report.Rows, 1)
	assert.Equal(t, "Opening", report.Rows[0].Description)
	require.Len(t, report.Diagnostics, 1)
	assert.Equal(t, DiagUnmatchedExchange, report.Diagnostics[0].Kind)
	assert.Equal(t, 1, report.Stats.UnmatchedExchanges)
}

func TestBuild_ExchangeOnlySeesEarlierForeign(t *testing.T) {
	// The foreign payment arrives after the exchange, so it cannot fund it.
	txs := newestFirst(
		exchangeTx("e", "43.50", "43.50", "EUR", "-50.00", "2024-01-03"),
		foreignTx("a", "EUR", "50.00", "Late", "2024-01-04"),
	)

	report := NewBuilder().Build(context.Background(), gbp, txs)

	assert.Empty(t, report.Rows)
	require.Len(t, report.Diagnostics, 2)
	assert.Equal(t, DiagUnmatchedExchange, report.Diagnostics[0].Kind)
	assert.Equal(t, DiagUnmatchedForeign, report.Diagnostics[1].Kind)
	assert.Equal(t, []string{"a"}, ids(report.Leftovers))
}

func TestBuild_LeftoversReported(t *testing.T) {
	txs := newestFirst(
		foreignTx("a", "EUR", "50.00", "A", "2024-01-01"),
		foreignTx("b", "USD", "12.00", "B", "2024-01-02"),
		foreignTx("c", "EUR", "7.00", "C", "2024-01-03"),
		exchangeTx("e", "6.00", "6.00", "EUR", "-7.00", "2024-01-04"),
	)

	report := NewBuilder().Build(context.Background(), gbp, txs)

	require.Len(t, report.Rows, 1)
	assert.Equal(t, []string{"a", "b"}, ids(report.Leftovers))
	require.Len(t, report.Diagnostics, 2)
	for i, want := range []string{"a", "b"} {
		d := report.Diagnostics[i]
		assert.Equal(t, DiagUnmatchedForeign, d.Kind)
		assert.Equal(t, want, d.TransactionID)
	}
	assert.Equal(t, "USD", report.Diagnostics[1].Currency)
	assert.Equal(t, "12.00", FormatAmount(report.Diagnostics[1].Amount))
	assert.Equal(t, 2, report.Stats.Leftovers)
}

func TestBuild_OrderingAndConsumption(t *testing.T) {
	txs := newestFirst(
		plainTx("1", "100", "100", "Opening", "2024-01-01"),
		foreignTx("a", "EUR", "50.00", "A", "2024-01-02"),
		foreignTx("b", "EUR", "50.00", "B", "2024-01-03"),
		exchangeTx("e1", "43.00", "143.00", "EUR", "-50.00", "2024-01-04"),
		plainTx("2", "-3", "140", "Fee", "2024-01-05"),
		exchangeTx("e2", "42.00", "182.00", "EUR", "-50.00", "2024-01-06"),
	)

	report := NewBuilder().Build(context.Background(), gbp, txs)

	require.Len(t, report.Rows, 4)
	var dates, descs []string
	for _, r := range report.Rows {
		dates = append(dates, r.Date)
		descs = append(descs, r.Description)
	}
	assert.Equal(t, []string{"01/01/2024", "04/01/2024", "05/01/2024", "06/01/2024"}, dates)
	assert.Equal(t, []string{"Opening", "A (FX EUR 50.00)", "Fee", "B (FX EUR 50.00)"}, descs)
	assert.Empty(t, report.Leftovers)
}

func TestBuild_DoesNotMutateInput(t *testing.T) {
	txs := newestFirst(
		foreignTx("a", "EUR", "50.00", "A", "2024-01-02"),
		exchangeTx("e", "43.50", "43.50", "EUR", "-50.00", "2024-01-03"),
	)
	snapshot := append([]Transaction(nil), txs...)

	NewBuilder().Build(context.Background(), gbp, txs)

	assert.Equal(t, snapshot, txs)
	assert.Len(t, txs[0].Legs, 2)
	assert.Equal(t, "Exchanged to GBP", txs[0].Legs[0].Description)
}

func TestBuild_UnresolvableTransaction(t *testing.T) {
	cross := Transaction{
		ID:          "x",
		Type:        TypeExchange,
		State:       StateCompleted,
		CompletedAt: "2024-01-02",
		Legs: []Leg{
			{AccountID: eurAccount, Currency: "EUR", Amount: amt("-10"), Description: "EUR to USD"},
			{AccountID: usdAccount, Currency: "USD", Amount: amt("11"), Description: "EUR to USD"},
		},
	}
	txs := newestFirst(
		plainTx("1", "1", "1", "Before", "2024-01-01"),
		cross,
		plainTx("2", "1", "2", "After", "2024-01-03"),
	)

	report := NewBuilder().Build(context.Background(), gbp, txs)

	assert.Len(t, report.Rows, 2)
	require.Len(t, report.Diagnostics, 1)
	assert.Equal(t, DiagNoReferenceLeg, report.Diagnostics[0].Kind)
	assert.Equal(t, 1, report.Stats.Unresolvable)
}

func TestBuild_LogsAndObserves(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := newRecordingObserver()
	txs := newestFirst(
		foreignTx("a", "EUR", "50.00", "A", "2024-01-01"),
		exchangeTx("e1", "43.00", "43.00", "EUR", "-50.00", "2024-01-02"),
		exchangeTx("e2", "43.00", "86.00", "EUR", "-60.00", "2024-01-03"),
		foreignTx("z", "USD", "1.00", "Z", "2024-01-04"),
	)

	NewBuilder(WithLogger(logger), WithObserver(obs)).Build(context.Background(), gbp, txs)

	assert.Equal(t, 1, obs.matches[StrategySingle])
	assert.Equal(t, 1, obs.matches[StrategyNone])
	assert.Equal(t, 1, obs.diagnostics[DiagUnmatchedExchange])
	assert.Equal(t, 1, obs.diagnostics[DiagUnmatchedForeign])

	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"kind":"unmatched_foreign"`)
	assert.Contains(t, out, "ledger built")
}

func TestClassify(t *testing.T) {
	pending := plainTx("p", "1", "1", "P", "2024-01-01")
	pending.State = "pending"

	tests := []struct {
		name string
		tx   Transaction
		want Kind
	}{
		{"pending", pending, KindSkipped},
		{"plain", plainTx("1", "1", "1", "P", "2024-01-01"), KindPlain},
		{"foreign", foreignTx("a", "EUR", "1", "A", "2024-01-01"), KindForeign},
		{"exchange", exchangeTx("e", "1", "1", "EUR", "-1", "2024-01-01"), KindExchange},
		{"no legs", Transaction{State: StateCompleted}, KindUnresolvable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.tx, gbp)
			assert.Equal(t, tt.want, c.Kind)
			assert.Equal(t, tt.want.String(), c.Kind.String())
		})
	}
}
