package revolut

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/revolut-feed/service/ledger"
	"github.com/brojonat/revolut-feed/service/metrics"
	"github.com/sony/gobreaker"
)

const (
	ProductionURL = "https://b2b.revolut.com/api/1.0/"
	SandboxURL    = "https://sandbox-b2b.revolut.com/api/1.0/"

	// MaxTransactionsCount is the largest page the transactions endpoint serves.
	MaxTransactionsCount = 1000
)

var (
	// ErrNotAuthenticated is returned by data calls made without a token source.
	ErrNotAuthenticated = errors.New("revolut client is not authenticated")
	// ErrInvalidCount is returned when a transactions count is out of range.
	ErrInvalidCount = errors.New("transactions count must be between 1 and 1000")
)

// TokenSource supplies the bearer token for data calls.
type TokenSource interface {
	Token(ctx context.Context) (*AccessToken, error)
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Err        string `json:"error"`
	ErrDesc    string `json:"error_description"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(e.Err + " " + e.ErrDesc)
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("revolut api: status %d: %s", e.StatusCode, msg)
}

// Config configures a Client.
type Config struct {
	ClientID   string
	PrivateKey *rsa.PrivateKey
	// Issuer is the iss claim of the client assertion, the redirect host
	// registered with the API certificate.
	Issuer  string
	Sandbox bool
	// BaseURL overrides the environment's URL.
	BaseURL    string
	HTTPClient *http.Client
	Breaker    BreakerConfig
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Client talks to the Revolut Business API.
type Client struct {
	clientID    string
	key         *rsa.PrivateKey
	issuer      string
	baseURL     string
	environment string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	tokens      TokenSource
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewClient creates a client for the sandbox or production API.
func NewClient(cfg Config) *Client {
	env := "production"
	baseURL := ProductionURL
	if cfg.Sandbox {
		env = "sandbox"
		baseURL = SandboxURL
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}

	c := &Client{
		clientID:    cfg.ClientID,
		key:         cfg.PrivateKey,
		issuer:      cfg.Issuer,
		baseURL:     baseURL,
		environment: env,
		httpClient:  cfg.HTTPClient,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         time.Now,
	}
	c.breaker = newBreaker(env, cfg.Breaker, c.onBreakerStateChange)
	return c
}

// UseTokenSource sets where data calls get their bearer token.
func (c *Client) UseTokenSource(ts TokenSource) {
	c.tokens = ts
}

// Environment returns "sandbox" or "production".
func (c *Client) Environment() string {
	return c.environment
}

// Accounts lists the business accounts.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := c.get(ctx, "accounts", "accounts", nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ReferenceAccount returns the first account held in currency.
func (c *Client) ReferenceAccount(ctx context.Context, currency string) (ledger.Account, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return ledger.Account{}, err
	}
	converted := make([]ledger.Account, 0, len(accounts))
	for _, a := range accounts {
		converted = append(converted, a.Ledger())
	}
	return ledger.ReferenceAccount(converted, currency)
}

// Counterparties lists the counterparties of the business.
func (c *Client) Counterparties(ctx context.Context) ([]Counterparty, error) {
	var out []Counterparty
	if err := c.get(ctx, "counterparties", "counterparties", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Counterparty fetches one counterparty.
func (c *Client) Counterparty(ctx context.Context, id string) (*Counterparty, error) {
	var out Counterparty
	if err := c.get(ctx, "counterparty", "counterparty/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transaction fetches one transaction.
func (c *Client) Transaction(ctx context.Context, id string) (*Transaction, error) {
	var out Transaction
	if err := c.get(ctx, "transaction", "transaction/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transactions fetches transactions newest first.
// A zero Count uses the API default of 100.
func (c *Client) Transactions(ctx context.Context, params TransactionsParams) ([]Transaction, error) {
	if params.Count < 0 || params.Count > MaxTransactionsCount {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCount, params.Count)
	}

	q := url.Values{}
	if !params.From.IsZero() {
		q.Set("from", params.From.Format("2006-01-02"))
	}
	if !params.To.IsZero() {
		q.Set("to", params.To.Format("2006-01-02"))
	}
	if params.Count > 0 {
		q.Set("count", strconv.Itoa(params.Count))
	}
	if params.Counterparty != "" {
		q.Set("counterparty", params.Counterparty)
	}

	var out []Transaction
	if err := c.get(ctx, "transactions", "transactions", q, &out); err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.RecordTransactionsPerCall(c.environment, len(out))
	}
	c.logger.DebugContext(ctx, "fetched transactions",
		"count", len(out),
		"from", q.Get("from"),
		"to", q.Get("to"),
	)
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	if c.tokens == nil {
		return ErrNotAuthenticated
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.do(ctx, endpoint, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

// do runs one request through the circuit breaker and decodes the response.
func (c *Client) do(ctx context.Context, endpoint string, build func() (*http.Request, error), out any) error {
	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests && c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.environment)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, parseAPIError(resp)
		}
		if out == nil {
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("failed to decode %s response: %w", endpoint, err)
		}
		return nil, nil
	})

	status := "success"
	if err != nil {
		status = "error"
		c.logger.ErrorContext(ctx, "revolut api call failed",
			"endpoint", endpoint,
			"environment", c.environment,
			"error", err,
		)
	}
	if c.metrics != nil {
		c.metrics.RecordAPICall(endpoint, status, c.environment, time.Since(start).Seconds())
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("revolut %s api unavailable: %w", c.environment, err)
	}
	return err
}

func parseAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
