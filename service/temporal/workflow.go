package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ExportLedgerInput contains the input parameters for an export run.
type ExportLedgerInput struct {
	Currency string `json:"currency"`
	// Window is how far back from the workflow start transactions are
	// fetched. Zero fetches without a lower bound.
	Window time.Duration `json:"window"`
	Count  int           `json:"count"`
	Source string        `json:"source"`
}

// ExportLedgerResult summarizes an export run.
type ExportLedgerResult struct {
	Currency            string     `json:"currency"`
	RunID               string     `json:"run_id,omitempty"`
	From                *time.Time `json:"from,omitempty"`
	To                  time.Time  `json:"to"`
	TransactionsFetched int        `json:"transactions_fetched"`
	RowCount            int        `json:"row_count"`
	DiagnosticCount     int        `json:"diagnostic_count"`
	Published           bool       `json:"published"`
	Error               *string    `json:"error,omitempty"`
}

// ExportLedgerWorkflow fetches the transaction feed, builds the ledger for
// the reference currency, stores it as a run and publishes it.
//
// Steps:
//  1. FetchTransactions: reference account + API fetch into the store
//  2. BuildLedger: reconcile stored transactions into rows
//  3. WriteLedger: persist the run
//  4. PublishLedger: announce the run on NATS; failures are logged only
func ExportLedgerWorkflow(ctx workflow.Context, input ExportLedgerInput) (*ExportLedgerResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ExportLedgerWorkflow started", "currency", input.Currency)

	now := workflow.Now(ctx).UTC()
	result := &ExportLedgerResult{
		Currency: input.Currency,
		To:       now,
	}
	if input.Window > 0 {
		from := now.Add(-input.Window)
		result.From = &from
	}
	source := input.Source
	if source == "" {
		source = "schedule"
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	fail := func(step string, err error) (*ExportLedgerResult, error) {
		errMsg := fmt.Sprintf("failed to %s: %v", step, err)
		result.Error = &errMsg
		logger.Error("ExportLedgerWorkflow failed", "step", step, "error", err)
		return result, fmt.Errorf("failed to %s: %w", step, err)
	}

	// Step 1: fetch
	var fetched *FetchTransactionsResult
	err := workflow.ExecuteActivity(ctx, a.FetchTransactions, FetchTransactionsInput{
		Currency: input.Currency,
		From:     result.From,
		To:       &result.To,
		Count:    input.Count,
	}).Get(ctx, &fetched)
	if err != nil {
		return fail("fetch transactions", err)
	}
	result.TransactionsFetched = fetched.Fetched

	// Step 2: build
	var built *BuildLedgerResult
	err = workflow.ExecuteActivity(ctx, a.BuildLedger, BuildLedgerInput{
		Account: fetched.Account,
		From:    result.From,
		To:      &result.To,
	}).Get(ctx, &built)
	if err != nil {
		return fail("build ledger", err)
	}
	result.RowCount = len(built.Report.Rows)
	result.DiagnosticCount = len(built.Report.Diagnostics)

	// Step 3: write
	var written *WriteLedgerResult
	err = workflow.ExecuteActivity(ctx, a.WriteLedger, WriteLedgerInput{
		Report: built.Report,
		From:   result.From,
		To:     &result.To,
		Source: source,
	}).Get(ctx, &written)
	if err != nil {
		return fail("write ledger", err)
	}
	result.RunID = written.RunID

	// Step 4: publish, best effort
	publishCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 2,
		},
	})
	err = workflow.ExecuteActivity(publishCtx, a.PublishLedger, PublishLedgerInput{
		RunID:  written.RunID,
		Source: source,
		From:   result.From,
		To:     &result.To,
		Report: built.Report,
	}).Get(publishCtx, nil)
	if err != nil {
		logger.Warn("failed to publish ledger run", "run_id", written.RunID, "error", err)
	} else {
		result.Published = true
	}

	logger.Info("ExportLedgerWorkflow completed successfully",
		"currency", input.Currency,
		"run_id", result.RunID,
		"rows", result.RowCount,
		"diagnostics", result.DiagnosticCount,
	)

	return result, nil
}
