package revolut

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/revolut-feed/service/ledger"
	"github.com/brojonat/revolut-feed/service/metrics"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func privateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

type staticTokens struct {
	token *AccessToken
	err   error
}

func (s staticTokens) Token(ctx context.Context) (*AccessToken, error) {
	return s.token, s.err
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		ClientID:   "client-123",
		PrivateKey: privateKey(t),
		BaseURL:    srv.URL + "/api/1.0",
		HTTPClient: srv.Client(),
		Metrics:    metrics.NewMetrics(prometheus.NewRegistry()),
	})
	c.UseTokenSource(staticTokens{token: &AccessToken{AccessToken: "tok"}})
	return c
}

func TestNewClient_Environments(t *testing.T) {
	prod := NewClient(Config{})
	assert.Equal(t, "production", prod.Environment())
	assert.Equal(t, ProductionURL, prod.baseURL)

	sandbox := NewClient(Config{Sandbox: true})
	assert.Equal(t, "sandbox", sandbox.Environment())
	assert.Equal(t, SandboxURL, sandbox.baseURL)
}

func TestClient_Accounts(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/1.0/accounts", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`[
			{"id":"eur","name":"Euro","balance":10.5,"currency":"EUR","state":"active","public":false,"created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-01T00:00:00Z"},
			{"id":"gbp","name":"Main","balance":1000,"currency":"GBP","state":"active","public":false,"created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-01T00:00:00Z"}
		]`))
	}))

	accounts, err := c.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "10.5", accounts[0].Balance.String())

	ref, err := c.ReferenceAccount(context.Background(), "GBP")
	require.NoError(t, err)
	assert.Equal(t, ledger.Account{ID: "gbp", Name: "Main", Currency: "GBP"}, ref)

	_, err = c.ReferenceAccount(context.Background(), "CHF")
	assert.ErrorIs(t, err, ledger.ErrNoReferenceAccount)
}

func TestClient_Transactions(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/1.0/transactions", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "2024-01-01", q.Get("from"))
		assert.Equal(t, "2024-02-01", q.Get("to"))
		assert.Equal(t, "1000", q.Get("count"))
		assert.Equal(t, "", q.Get("counterparty"))
		w.Write([]byte(`[{
			"id":"tx1","type":"exchange","state":"completed",
			"created_at":"2024-01-03T09:00:00Z","completed_at":"2024-01-03T09:00:01Z",
			"reference":"fx",
			"legs":[
				{"leg_id":"l1","account_id":"gbp","amount":43.5,"currency":"GBP","description":"Exchanged to GBP","balance":143.5},
				{"leg_id":"l2","account_id":"eur","amount":-50,"currency":"EUR","description":"Exchanged to GBP","balance":0}
			]
		}]`))
	}))

	txs, err := c.Transactions(context.Background(), TransactionsParams{
		From:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:    time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Count: 1000,
	})
	require.NoError(t, err)
	require.Len(t, txs, 1)

	lt := txs[0].Ledger()
	assert.Equal(t, "exchange", lt.Type)
	assert.Equal(t, "2024-01-03T09:00:01Z", lt.CompletedAt)
	require.Len(t, lt.Legs, 2)
	assert.Equal(t, "43.50", ledger.FormatAmount(lt.Legs[0].Amount))
	assert.Equal(t, "-50.00", ledger.FormatAmount(lt.Legs[1].Amount))
	assert.Equal(t, "eur", lt.Legs[1].AccountID)
}

func TestClient_TransactionsInvalidCount(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.Transactions(context.Background(), TransactionsParams{Count: 1001})
	assert.ErrorIs(t, err, ErrInvalidCount)
}

func TestClient_NotAuthenticated(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.Accounts(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestClient_TokenSourceError(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	c.UseTokenSource(staticTokens{err: errors.New("no token")})

	_, err := c.Accounts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token")
}

func TestClient_CounterpartyAndTransaction(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/1.0/counterparty/cp-1":
			w.Write([]byte(`{"id":"cp-1","name":"Acme","state":"created","accounts":[{"id":"a1","currency":"EUR","type":"external","iban":"DE00"}]}`))
		case "/api/1.0/counterparties":
			w.Write([]byte(`[{"id":"cp-1","name":"Acme","state":"created"}]`))
		case "/api/1.0/transaction/tx-9":
			w.Write([]byte(`{"id":"tx-9","type":"transfer","state":"pending","legs":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()

	cp, err := c.Counterparty(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", cp.Name)
	require.Len(t, cp.Accounts, 1)
	assert.Equal(t, "DE00", cp.Accounts[0].IBAN)

	cps, err := c.Counterparties(ctx)
	require.NoError(t, err)
	assert.Len(t, cps, 1)

	tx, err := c.Transaction(ctx, "tx-9")
	require.NoError(t, err)
	assert.Equal(t, "pending", tx.State)
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"The request should be authorized.","code":2002}`))
	}))

	_, err := c.Accounts(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, 2002, apiErr.Code)
	assert.Contains(t, err.Error(), "The request should be authorized.")
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls int
	var mu sync.Mutex
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))

	for i := 0; i < 5; i++ {
		_, err := c.Accounts(context.Background())
		require.Error(t, err)
	}

	_, err := c.Accounts(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	mu.Lock()
	assert.Equal(t, 5, calls)
	mu.Unlock()
}

func TestClient_BreakerIgnoresClientErrors(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"not found"}`))
	}))

	for i := 0; i < 10; i++ {
		_, err := c.Transaction(context.Background(), "missing")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
	}
	assert.Equal(t, gobreaker.StateClosed, c.breaker.State())
}

func TestClient_ExchangeAuthCode(t *testing.T) {
	key := privateKey(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/1.0/auth/token", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())

		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "client-123", r.PostForm.Get("client_id"))
		assert.Equal(t, assertionType, r.PostForm.Get("client_assertion_type"))

		parsed, err := jwt.Parse(r.PostForm.Get("client_assertion"), func(tok *jwt.Token) (interface{}, error) {
			return &key.PublicKey, nil
		},
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithAudience("https://revolut.com"),
			jwt.WithTimeFunc(func() time.Time { return now }),
		)
		if assert.NoError(t, err) {
			claims := parsed.Claims.(jwt.MapClaims)
			assert.Equal(t, "127.0.0.1", claims["iss"])
			exp, err := claims.GetExpirationTime()
			if assert.NoError(t, err) {
				assert.Equal(t, now.Add(time.Hour).Unix(), exp.Unix())
			}
			assert.Equal(t, "client-123", claims["sub"])
		}

		w.Write([]byte(`{"access_token":"new-access","token_type":"bearer","expires_in":2399,"refresh_token":"new-refresh"}`))
	}))
	c.now = func() time.Time { return now }

	token, err := c.ExchangeAuthCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "new-access", token.AccessToken)
	assert.Equal(t, "new-refresh", token.RefreshToken)
	assert.Equal(t, now.Add(2399*time.Second), token.ExpiresAt)
}

func TestClient_RefreshTokenKeepsRefresh(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		w.Write([]byte(`{"access_token":"fresh","token_type":"bearer","expires_in":2399}`))
	}))

	token, err := c.RefreshToken(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token.AccessToken)
	assert.Equal(t, "old-refresh", token.RefreshToken)
}

func TestClientAssertion_NoKey(t *testing.T) {
	_, err := NewClient(Config{ClientID: "x"}).ClientAssertion()
	assert.Error(t, err)
}

func TestLoadPrivateKey(t *testing.T) {
	key := privateKey(t)
	path := filepath.Join(t.TempDir(), "private.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))

	loaded, err := LoadPrivateKey(path)
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))

	_, err = LoadPrivateKey(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)
}

func TestAccessToken_Expired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var nilToken *AccessToken
	assert.True(t, nilToken.Expired(now))
	assert.True(t, (&AccessToken{}).Expired(now))
	assert.False(t, (&AccessToken{AccessToken: "a"}).Expired(now))
	assert.False(t, (&AccessToken{AccessToken: "a", ExpiresAt: now.Add(time.Hour)}).Expired(now))
	assert.True(t, (&AccessToken{AccessToken: "a", ExpiresAt: now.Add(10 * time.Second)}).Expired(now))
}
