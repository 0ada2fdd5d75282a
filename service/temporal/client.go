package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/revolut-feed/service/metrics"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler and ExportStarter
// that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewClient creates a new Temporal client. m may be nil.
func NewClient(host, namespace, taskQueue string, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		metrics:   m,
		logger:    logger,
	}, nil
}

func (c *Client) scheduleAction(currency string, window time.Duration) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        scheduleID(currency),
		Workflow:  ExportLedgerWorkflow,
		TaskQueue: c.taskQueue,
		Args: []interface{}{ExportLedgerInput{
			Currency: strings.ToUpper(currency),
			Window:   window,
			Source:   "schedule",
		}},
	}
}

// CreateExportSchedule creates a new Temporal schedule for exporting a currency.
func (c *Client) CreateExportSchedule(ctx context.Context, currency string, interval, window time.Duration) error {
	id := scheduleID(currency)

	c.logger.Debug("creating export schedule",
		"currency", currency,
		"schedule_id", id,
		"interval", interval,
		"window", window,
	)

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action: c.scheduleAction(currency, window),
		Memo: map[string]interface{}{
			"currency":   strings.ToUpper(currency),
			"window":     window.String(),
			"created_by": "revolut-feed",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("export schedule created",
		"currency", currency,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// UpsertExportSchedule creates or updates the export schedule of a currency.
func (c *Client) UpsertExportSchedule(ctx context.Context, currency string, interval, window time.Duration) error {
	id := scheduleID(currency)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		return c.CreateExportSchedule(ctx, currency, interval, window)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			input.Description.Schedule.Action = c.scheduleAction(currency, window)
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("export schedule updated",
		"currency", currency,
		"schedule_id", id,
		"interval", interval,
		"window", window,
	)
	return nil
}

// DeleteExportSchedule deletes the export schedule of a currency.
func (c *Client) DeleteExportSchedule(ctx context.Context, currency string) error {
	id := scheduleID(currency)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("export schedule deleted", "currency", currency, "schedule_id", id)
	return nil
}

// StartExport starts a one-off export run and returns its workflow ID.
func (c *Client) StartExport(ctx context.Context, input ExportLedgerInput) (string, error) {
	input.Currency = strings.ToUpper(input.Currency)
	id := fmt.Sprintf("%s-%s", scheduleID(input.Currency), uuid.NewString())

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
	}, ExportLedgerWorkflow, input)
	if err != nil {
		return "", fmt.Errorf("failed to start export workflow: %w", err)
	}

	c.logger.Info("started export workflow",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"currency", input.Currency,
	)
	return run.GetID(), nil
}

// RunExport starts an export run and waits for its result.
func (c *Client) RunExport(ctx context.Context, input ExportLedgerInput) (*ExportLedgerResult, error) {
	start := time.Now()
	id, err := c.StartExport(ctx, input)
	if err != nil {
		return nil, err
	}

	var result ExportLedgerResult
	err = c.client.GetWorkflow(ctx, id, "").Get(ctx, &result)
	if c.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordWorkflowDuration(strings.ToUpper(input.Currency), status, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("export workflow %s failed: %w", id, err)
	}
	return &result, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
