package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/revolut-feed/service/db"
	"github.com/brojonat/revolut-feed/service/ledger"
	"github.com/brojonat/revolut-feed/service/metrics"
	natspkg "github.com/brojonat/revolut-feed/service/nats"
	"github.com/brojonat/revolut-feed/service/revolut"
	"github.com/google/uuid"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// FetchTransactionsInput contains parameters for the FetchTransactions activity.
type FetchTransactionsInput struct {
	Currency string     `json:"currency"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
	Count    int        `json:"count"`
}

// FetchTransactionsResult contains the reference account and how many
// transactions were stored.
type FetchTransactionsResult struct {
	Account ledger.Account `json:"account"`
	Fetched int            `json:"fetched"`
}

// BuildLedgerInput contains parameters for the BuildLedger activity.
type BuildLedgerInput struct {
	Account ledger.Account `json:"account"`
	From    *time.Time     `json:"from,omitempty"`
	To      *time.Time     `json:"to,omitempty"`
}

// BuildLedgerResult carries the built report to the write step.
type BuildLedgerResult struct {
	Report *ledger.Report `json:"report"`
}

// WriteLedgerInput contains parameters for the WriteLedger activity.
type WriteLedgerInput struct {
	Report *ledger.Report `json:"report"`
	From   *time.Time     `json:"from,omitempty"`
	To     *time.Time     `json:"to,omitempty"`
	Source string         `json:"source"`
}

// WriteLedgerResult contains the id of the stored run.
type WriteLedgerResult struct {
	RunID string `json:"run_id"`
}

// PublishLedgerInput contains parameters for the PublishLedger activity.
type PublishLedgerInput struct {
	RunID  string         `json:"run_id"`
	Source string         `json:"source"`
	From   *time.Time     `json:"from,omitempty"`
	To     *time.Time     `json:"to,omitempty"`
	Report *ledger.Report `json:"report"`
}

// RevolutClientInterface defines the API operations needed by activities.
type RevolutClientInterface interface {
	ReferenceAccount(ctx context.Context, currency string) (ledger.Account, error)
	Transactions(ctx context.Context, params revolut.TransactionsParams) ([]revolut.Transaction, error)
}

// StoreInterface defines the database operations needed by activities.
type StoreInterface interface {
	UpsertTransactions(ctx context.Context, txs []ledger.Transaction) error
	ListTransactions(ctx context.Context, filter db.TransactionFilter) ([]ledger.Transaction, error)
	CreateRun(ctx context.Context, params db.CreateRunParams) (*db.Run, error)
}

// PublisherInterface defines the NATS operations needed by activities.
type PublisherInterface interface {
	PublishRun(ctx context.Context, event *natspkg.RunEvent) error
	PublishDiagnostics(ctx context.Context, events []*natspkg.DiagnosticEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	store     StoreInterface
	revolut   RevolutClientInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// defaultCount is fetched when the input leaves Count at zero.
	defaultCount int
}

// NewActivities creates a new Activities instance with explicit dependencies.
// publisher and m may be nil.
func NewActivities(
	store StoreInterface,
	revolutClient RevolutClientInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		revolut:   revolutClient,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) timeActivity(name, currency string) func() {
	start := time.Now()
	return func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration(name, currency, time.Since(start).Seconds())
		}
	}
}

// FetchTransactions resolves the reference account and stores the
// transactions the API returns for the window. A missing reference account
// fails the workflow without retries.
func (a *Activities) FetchTransactions(ctx context.Context, input FetchTransactionsInput) (*FetchTransactionsResult, error) {
	defer a.timeActivity("FetchTransactions", input.Currency)()

	account, err := a.revolut.ReferenceAccount(ctx, input.Currency)
	if err != nil {
		if errors.Is(err, ledger.ErrNoReferenceAccount) {
			return nil, temporalsdk.NewNonRetryableApplicationError(
				fmt.Sprintf("no %s account", input.Currency), "NoReferenceAccount", err)
		}
		return nil, fmt.Errorf("failed to get reference account: %w", err)
	}

	params := revolut.TransactionsParams{Count: input.Count}
	if params.Count == 0 {
		params.Count = a.defaultCount
	}
	if input.From != nil {
		params.From = *input.From
	}
	if input.To != nil {
		params.To = *input.To
	}

	txs, err := a.revolut.Transactions(ctx, params)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to fetch transactions",
			"currency", input.Currency,
			"error", err,
		)
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	if len(txs) > 0 {
		if err := a.store.UpsertTransactions(ctx, revolut.LedgerTransactions(txs)); err != nil {
			return nil, fmt.Errorf("failed to store transactions: %w", err)
		}
	}

	a.logger.InfoContext(ctx, "fetched transactions",
		"currency", input.Currency,
		"account_id", account.ID,
		"count", len(txs),
	)

	return &FetchTransactionsResult{Account: account, Fetched: len(txs)}, nil
}

// BuildLedger derives the ledger for the window from stored transactions.
func (a *Activities) BuildLedger(ctx context.Context, input BuildLedgerInput) (*BuildLedgerResult, error) {
	defer a.timeActivity("BuildLedger", input.Account.Currency)()
	start := time.Now()

	txs, err := a.store.ListTransactions(ctx, db.TransactionFilter{From: input.From, To: input.To})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	opts := []ledger.BuilderOption{ledger.WithLogger(a.logger)}
	if a.metrics != nil {
		opts = append(opts, ledger.WithObserver(a.metrics.LedgerObserver(input.Account.Currency)))
	}
	report := ledger.NewBuilder(opts...).Build(ctx, input.Account, txs)

	if a.metrics != nil {
		a.metrics.RecordLedgerBuild(input.Account.Currency, len(report.Rows), time.Since(start).Seconds())
	}

	return &BuildLedgerResult{Report: report}, nil
}

// WriteLedger stores the report as a run.
func (a *Activities) WriteLedger(ctx context.Context, input WriteLedgerInput) (*WriteLedgerResult, error) {
	if input.Report == nil {
		return nil, temporalsdk.NewNonRetryableApplicationError("report is required", "InvalidInput", nil)
	}
	defer a.timeActivity("WriteLedger", input.Report.Account.Currency)()

	run, err := a.store.CreateRun(ctx, db.CreateRunParams{
		From:   input.From,
		To:     input.To,
		Source: input.Source,
		Report: input.Report,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write ledger: %w", err)
	}

	a.logger.InfoContext(ctx, "wrote ledger run",
		"run_id", run.ID,
		"rows", run.RowCount,
		"diagnostics", run.DiagnosticCount,
	)

	return &WriteLedgerResult{RunID: run.ID.String()}, nil
}

// PublishLedger announces the run and its diagnostics on NATS. It is a
// no-op when no publisher is configured.
func (a *Activities) PublishLedger(ctx context.Context, input PublishLedgerInput) error {
	if a.publisher == nil {
		a.logger.DebugContext(ctx, "no publisher configured, skipping publish", "run_id", input.RunID)
		return nil
	}
	if input.Report == nil {
		return temporalsdk.NewNonRetryableApplicationError("report is required", "InvalidInput", nil)
	}
	report := input.Report
	defer a.timeActivity("PublishLedger", report.Account.Currency)()

	runID, err := uuid.Parse(input.RunID)
	if err != nil {
		return temporalsdk.NewNonRetryableApplicationError("invalid run id", "InvalidInput", err)
	}

	err = a.publisher.PublishRun(ctx, &natspkg.RunEvent{
		RunID:           runID,
		AccountID:       report.Account.ID,
		Currency:        report.Account.Currency,
		Source:          input.Source,
		From:            input.From,
		To:              input.To,
		RowCount:        len(report.Rows),
		DiagnosticCount: len(report.Diagnostics),
		Stats:           report.Stats,
		PublishedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish run: %w", err)
	}

	events := natspkg.NewDiagnosticEvents(runID, report.Account.Currency, report.Diagnostics)
	if err := a.publisher.PublishDiagnostics(ctx, events); err != nil {
		return fmt.Errorf("failed to publish diagnostics: %w", err)
	}

	a.logger.InfoContext(ctx, "published ledger run",
		"run_id", input.RunID,
		"diagnostics", len(events),
	)
	return nil
}
