package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/revolut-feed/service/ledger"
)

// Run is a stored ledger build as reported by the server.
type Run struct {
	ID              string       `json:"id"`
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

// StartRunRequest asks the server to start an export. Zero values use the
// server's configured defaults.
type StartRunRequest struct {
	Currency string
	Window   time.Duration
	Count    int
}

// StartRunResponse identifies the started export workflow.
type StartRunResponse struct {
	WorkflowID string `json:"workflow_id"`
	Currency   string `json:"currency"`
	Window     string `json:"window"`
}

// Client is the HTTP client for the revolut-feed server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new client for the server at baseURL.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListRuns lists runs newest first.
func (c *Client) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var resp struct {
		Runs []*Run `json:"runs"`
	}
	if err := c.getJSON(ctx, "/api/v1/runs", q, &resp); err != nil {
		return nil, err
	}
	c.logger.Debug("listed runs", "count", len(resp.Runs))
	return resp.Runs, nil
}

// GetRun retrieves a run by id.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.getJSON(ctx, "/api/v1/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Rows retrieves the ledger rows of a run. Each filter is a jq expression
// the server applies to every row.
func (c *Client) Rows(ctx context.Context, id string, filters ...string) ([]ledger.Row, error) {
	q := url.Values{"format": {"json"}}
	for _, f := range filters {
		q.Add("filter", f)
	}

	var rows []ledger.Row
	if err := c.getJSON(ctx, "/api/v1/runs/"+url.PathEscape(id)+"/rows", q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// DownloadRows copies the rows of a run, rendered by the server in format
// ("csv" or "json"), to w.
func (c *Client) DownloadRows(ctx context.Context, id, format string, w io.Writer, filters ...string) error {
	q := url.Values{"format": {format}}
	for _, f := range filters {
		q.Add("filter", f)
	}

	resp, err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id)+"/rows", q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to read rows: %w", err)
	}
	return nil
}

// Diagnostics retrieves the reconciliation diagnostics of a run.
func (c *Client) Diagnostics(ctx context.Context, id string) ([]ledger.Diagnostic, error) {
	var resp struct {
		Diagnostics []ledger.Diagnostic `json:"diagnostics"`
	}
	if err := c.getJSON(ctx, "/api/v1/runs/"+url.PathEscape(id)+"/diagnostics", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Diagnostics, nil
}

// StartRun starts an export on the server.
func (c *Client) StartRun(ctx context.Context, r StartRunRequest) (*StartRunResponse, error) {
	reqBody := map[string]interface{}{}
	if r.Currency != "" {
		reqBody["currency"] = r.Currency
	}
	if r.Window > 0 {
		reqBody["window"] = r.Window.String()
	}
	if r.Count > 0 {
		reqBody["count"] = r.Count
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/runs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, c.parseErrorResponse(resp)
	}

	var out StartRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	c.logger.Debug("run started", "workflow_id", out.WorkflowID, "currency", out.Currency)
	return &out, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.get(ctx, "/health", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// get issues a GET and returns the response when the status is 200.
func (c *Client) get(ctx context.Context, path string, q url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.parseErrorResponse(resp)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out interface{}) error {
	resp, err := c.get(ctx, path, q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
