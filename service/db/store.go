package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/revolut-feed/service/ledger"
	"github.com/brojonat/revolut-feed/service/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Store provides database operations for fetched transactions and ledger runs.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil no metrics are recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Run is a stored ledger build.
type Run struct {
	ID              uuid.UUID    `json:"id"`
	AccountID       string       `json:"account_id"`
	Currency        string       `json:"currency"`
	From            *time.Time   `json:"from,omitempty"`
	To              *time.Time   `json:"to,omitempty"`
	Source          string       `json:"source"`
	RowCount        int          `json:"row_count"`
	DiagnosticCount int          `json:"diagnostic_count"`
	Stats           ledger.Stats `json:"stats"`
	CreatedAt       time.Time    `json:"created_at"`
}

// CreateRunParams contains the parameters for storing a ledger build.
type CreateRunParams struct {
	From   *time.Time
	To     *time.Time
	Source string
	Report *ledger.Report
}

// TransactionFilter restricts ListTransactions to a completion window.
type TransactionFilter struct {
	From  *time.Time
	To    *time.Time
	Limit int32
}

func (s *Store) record(operation, table string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
	}
}

// UpsertTransactions stores fetched transactions, replacing earlier copies
// so state changes such as pending to completed are kept.
func (s *Store) UpsertTransactions(ctx context.Context, txs []ledger.Transaction) (err error) {
	start := time.Now()
	defer func() { s.record("upsert", "revolut_transactions", start, err) }()

	batch := &pgx.Batch{}
	for _, tx := range txs {
		legs, err := json.Marshal(tx.Legs)
		if err != nil {
			return fmt.Errorf("failed to marshal legs of %s: %w", tx.ID, err)
		}
		batch.Queue(`
			INSERT INTO revolut_transactions (id, type, state, completed_at, completed_time, reference, legs, fetched_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			ON CONFLICT (id) DO UPDATE SET
				type = EXCLUDED.type,
				state = EXCLUDED.state,
				completed_at = EXCLUDED.completed_at,
				completed_time = EXCLUDED.completed_time,
				reference = EXCLUDED.reference,
				legs = EXCLUDED.legs,
				fetched_at = NOW()`,
			tx.ID, tx.Type, tx.State, tx.CompletedAt, parseCompletedAt(tx.CompletedAt), tx.Reference, legs)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert transactions: %w", err)
	}
	return nil
}

// ListTransactions returns stored transactions newest first, the order the
// ledger builder expects. Transactions without a completion time are
// returned after completed ones.
func (s *Store) ListTransactions(ctx context.Context, filter TransactionFilter) (txs []ledger.Transaction, err error) {
	start := time.Now()
	defer func() { s.record("select", "revolut_transactions", start, err) }()

	limit := filter.Limit
	if limit <= 0 {
		limit = 10000
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, type, state, completed_at, reference, legs
		FROM revolut_transactions
		WHERE ($1::timestamptz IS NULL OR completed_time >= $1)
		  AND ($2::timestamptz IS NULL OR completed_time < $2)
		ORDER BY completed_time DESC NULLS LAST, id DESC
		LIMIT $3`,
		filter.From, filter.To, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs = []ledger.Transaction{}
	for rows.Next() {
		var tx ledger.Transaction
		var legs []byte
		if err := rows.Scan(&tx.ID, &tx.Type, &tx.State, &tx.CompletedAt, &tx.Reference, &legs); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if err := json.Unmarshal(legs, &tx.Legs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal legs of %s: %w", tx.ID, err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// CreateRun stores a ledger build with its rows and diagnostics in one
// database transaction.
func (s *Store) CreateRun(ctx context.Context, params CreateRunParams) (run *Run, err error) {
	start := time.Now()
	defer func() { s.record("insert", "ledger_runs", start, err) }()

	report := params.Report
	if report == nil {
		return nil, fmt.Errorf("report is required")
	}
	stats, err := json.Marshal(report.Stats)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stats: %w", err)
	}

	run = &Run{
		ID:              uuid.New(),
		AccountID:       report.Account.ID,
		Currency:        report.Account.Currency,
		From:            params.From,
		To:              params.To,
		Source:          params.Source,
		RowCount:        len(report.Rows),
		DiagnosticCount: len(report.Diagnostics),
		Stats:           report.Stats,
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO ledger_runs (id, account_id, currency, window_from, window_to, source, row_count, diagnostic_count, stats)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at`,
			run.ID, run.AccountID, run.Currency, run.From, run.To, run.Source, run.RowCount, run.DiagnosticCount, stats,
		).Scan(&run.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		rowSource := pgx.CopyFromSlice(len(report.Rows), func(i int) ([]any, error) {
			r := report.Rows[i]
			return []any{run.ID, i, r.Date, r.Description, r.Net, r.Balance}, nil
		})
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"ledger_rows"},
			[]string{"run_id", "position", "date", "description", "net", "balance"}, rowSource); err != nil {
			return fmt.Errorf("failed to insert rows: %w", err)
		}

		diagSource := pgx.CopyFromSlice(len(report.Diagnostics), func(i int) ([]any, error) {
			d := report.Diagnostics[i]
			return []any{run.ID, i, string(d.Kind), d.Message, d.TransactionID, d.Description, d.Currency, d.Amount.String(), d.Date}, nil
		})
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"ledger_diagnostics"},
			[]string{"run_id", "position", "kind", "message", "transaction_id", "description", "currency", "amount", "date"}, diagSource); err != nil {
			return fmt.Errorf("failed to insert diagnostics: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

const runColumns = `id, account_id, currency, window_from, window_to, source, row_count, diagnostic_count, stats, created_at`

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var stats []byte
	if err := row.Scan(&run.ID, &run.AccountID, &run.Currency, &run.From, &run.To, &run.Source,
		&run.RowCount, &run.DiagnosticCount, &stats, &run.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stats, &run.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
	}
	return &run, nil
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (run *Run, err error) {
	start := time.Now()
	defer func() { s.record("select", "ledger_runs", start, err) }()

	run, err = scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM ledger_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int32) (runs []*Run, err error) {
	start := time.Now()
	defer func() { s.record("select", "ledger_runs", start, err) }()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM ledger_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs = []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListRunRows returns the ledger rows of a run in ledger order.
func (s *Store) ListRunRows(ctx context.Context, id uuid.UUID) (out []ledger.Row, err error) {
	start := time.Now()
	defer func() { s.record("select", "ledger_rows", start, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT date, description, net, balance
		FROM ledger_rows
		WHERE run_id = $1
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Row, error) {
		var r ledger.Row
		err := row.Scan(&r.Date, &r.Description, &r.Net, &r.Balance)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan rows: %w", err)
	}
	return out, nil
}

// ListRunDiagnostics returns the diagnostics of a run in the order they were raised.
func (s *Store) ListRunDiagnostics(ctx context.Context, id uuid.UUID) (out []ledger.Diagnostic, err error) {
	start := time.Now()
	defer func() { s.record("select", "ledger_diagnostics", start, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT kind, message, transaction_id, description, currency, amount, date
		FROM ledger_diagnostics
		WHERE run_id = $1
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagnostics: %w", err)
	}
	out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Diagnostic, error) {
		var d ledger.Diagnostic
		var kind, amount string
		if err := row.Scan(&kind, &d.Message, &d.TransactionID, &d.Description, &d.Currency, &amount, &d.Date); err != nil {
			return d, err
		}
		d.Kind = ledger.DiagnosticKind(kind)
		amt, err := decimal.NewFromString(amount)
		if err != nil {
			return d, fmt.Errorf("invalid amount %q: %w", amount, err)
		}
		d.Amount = amt
		return d, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan diagnostics: %w", err)
	}
	return out, nil
}

// DeleteRunsOlderThan removes runs created before the cutoff, with their
// rows and diagnostics.
func (s *Store) DeleteRunsOlderThan(ctx context.Context, before time.Time) (n int64, err error) {
	start := time.Now()
	defer func() { s.record("delete", "ledger_runs", start, err) }()

	tag, err := s.pool.Exec(ctx, `DELETE FROM ledger_runs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// parseCompletedAt returns the completion time for ordering, or nil when
// the transaction has not completed or the timestamp is not RFC 3339.
func parseCompletedAt(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
		t = d
	}
	return &t
}
