package ledger

import (
	"context"
	"io"
	"log/slog"
)

// Stats counts what a build did with its input.
type Stats struct {
	Processed          int `json:"processed"`
	Skipped            int `json:"skipped"`
	Foreign            int `json:"foreign"`
	Plain              int `json:"plain"`
	Exchanges          int `json:"exchanges"`
	SingleMatches      int `json:"single_matches"`
	CombinedMatches    int `json:"combined_matches"`
	UnmatchedExchanges int `json:"unmatched_exchanges"`
	Unresolvable       int `json:"unresolvable"`
	Leftovers          int `json:"leftovers"`
}

// Report is the result of a build.
type Report struct {
	Account     Account       `json:"account"`
	Rows        []Row         `json:"rows"`
	Diagnostics []Diagnostic  `json:"diagnostics"`
	Leftovers   []Transaction `json:"leftovers"`
	Stats       Stats         `json:"stats"`
}

// Observer receives build events. It lets callers count matches without the
// ledger package knowing about metrics.
type Observer interface {
	ObserveMatch(strategy Strategy)
	ObserveDiagnostic(kind DiagnosticKind)
}

// Builder derives reference-currency ledger rows from a transaction feed.
type Builder struct {
	logger   *slog.Logger
	observer Observer
	opts     []MatchOption
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger diagnostics are written to.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithObserver registers an observer for matches and diagnostics.
func WithObserver(o Observer) BuilderOption {
	return func(b *Builder) {
		b.observer = o
	}
}

// WithMatchOptions passes options through to MatchExchange.
func WithMatchOptions(opts ...MatchOption) BuilderOption {
	return func(b *Builder) {
		b.opts = append(b.opts, opts...)
	}
}

// NewBuilder creates a Builder. Without WithLogger diagnostics are discarded
// from the log but still returned in the Report.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build processes transactions, given newest first as the feed returns them,
// and returns the ledger rows oldest first. The transactions slice is not
// modified.
func (b *Builder) Build(ctx context.Context, account Account, transactions []Transaction) *Report {
	report := &Report{
		Account:     account,
		Rows:        []Row{},
		Diagnostics: []Diagnostic{},
	}
	var buffer []Transaction

	for i := len(transactions) - 1; i >= 0; i-- {
		c := Classify(transactions[i], account)
		report.Stats.Processed++

		switch c.Kind {
		case KindSkipped:
			report.Stats.Skipped++

		case KindUnresolvable:
			report.Stats.Unresolvable++
			b.diagnose(ctx, report, noReferenceLeg(c.Transaction, account.Currency))

		case KindForeign:
			report.Stats.Foreign++
			buffer = append(buffer, c.Transaction)

		case KindExchange:
			report.Stats.Exchanges++
			m := MatchExchange(c.Transaction, buffer, account.Currency, b.opts...)
			for _, d := range m.Diagnostics {
				b.diagnose(ctx, report, d)
			}
			b.observeMatch(m.Strategy)
			if !m.Matched() {
				report.Stats.UnmatchedExchanges++
				continue
			}
			if m.Strategy == StrategySingle {
				report.Stats.SingleMatches++
			} else {
				report.Stats.CombinedMatches++
			}
			buffer = m.Remaining
			report.Rows = append(report.Rows, NewRow(m.Transaction, m.Transaction.Legs[0]))
			b.logger.DebugContext(ctx, "reconciled exchange",
				"transaction_id", c.Transaction.ID,
				"strategy", string(m.Strategy),
				"contributors", len(m.Contributors))

		case KindPlain:
			report.Stats.Plain++
			report.Rows = append(report.Rows, NewRow(c.Transaction, c.Leg))
		}
	}

	for _, tx := range buffer {
		b.diagnose(ctx, report, unmatchedForeign(tx))
	}
	report.Leftovers = buffer
	if report.Leftovers == nil {
		report.Leftovers = []Transaction{}
	}
	report.Stats.Leftovers = len(buffer)

	b.logger.InfoContext(ctx, "ledger built",
		"account_id", account.ID,
		"currency", account.Currency,
		"rows", len(report.Rows),
		"diagnostics", len(report.Diagnostics),
		"leftovers", len(buffer))

	return report
}

func (b *Builder) diagnose(ctx context.Context, report *Report, d Diagnostic) {
	report.Diagnostics = append(report.Diagnostics, d)
	b.logger.WarnContext(ctx, d.Message, "diagnostic", d)
	if b.observer != nil {
		b.observer.ObserveDiagnostic(d.Kind)
	}
}

func (b *Builder) observeMatch(s Strategy) {
	if b.observer != nil {
		b.observer.ObserveMatch(s)
	}
}
