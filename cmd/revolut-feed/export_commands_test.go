package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "empty", input: "", want: time.Time{}},
		{name: "slashes", input: "2024/03/31", want: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)},
		{name: "dashes", input: "2024-03-31", want: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)},
		{name: "day first", input: "31/03/2024", wantErr: true},
		{name: "garbage", input: "last week", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDate(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

// writeKey writes a fresh PEM encoded RSA key to dir.
func writeKey(t *testing.T, dir string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := filepath.Join(dir, "private.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func writeToken(t *testing.T, dir string, expiresAt time.Time) string {
	t.Helper()
	path := filepath.Join(dir, "access-token.json")
	data, err := json.Marshal(map[string]any{
		"access_token":  "tok",
		"token_type":    "bearer",
		"refresh_token": "refresh",
		"expires_at":    expiresAt,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// fakeRevolut serves a GBP and EUR account and a newest-first feed where a
// EUR receipt is later exchanged into GBP.
func fakeRevolut(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`[
			{"id": "acc-eur", "name": "Euro", "currency": "EUR", "balance": 0, "state": "active"},
			{"id": "acc-gbp", "name": "Main", "currency": "GBP", "balance": 143.5, "state": "active"}
		]`))
	})
	mux.HandleFunc("/transactions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("from"))
		assert.Equal(t, "2024-01-31", r.URL.Query().Get("to"))
		assert.Equal(t, "500", r.URL.Query().Get("count"))
		w.Write([]byte(`[
			{"id": "ex-1", "type": "exchange", "state": "completed", "completed_at": "2024-01-03T09:00:00Z",
			 "legs": [
				{"account_id": "acc-gbp", "currency": "GBP", "amount": 43.5, "balance": 143.5, "description": "Exchanged to GBP"},
				{"account_id": "acc-eur", "currency": "EUR", "amount": -50, "balance": 0, "description": "Exchanged to GBP"}
			 ]},
			{"id": "eur-1", "type": "transfer", "state": "completed", "completed_at": "2024-01-02T10:00:00Z",
			 "legs": [{"account_id": "acc-eur", "currency": "EUR", "amount": 50, "balance": 50, "description": "Client A"}]},
			{"id": "sal-1", "type": "transfer", "state": "completed", "completed_at": "2024-01-01T10:00:00Z",
			 "legs": [{"account_id": "acc-gbp", "currency": "GBP", "amount": 100, "balance": 100, "description": "Salary"}]}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	api := fakeRevolut(t)
	keyPath := writeKey(t, dir)
	tokenPath := writeToken(t, dir, time.Now().Add(time.Hour))

	base := []string{"revolut-feed", "--log-level", "error", "export",
		"--client-id", "client",
		"--private-key", keyPath,
		"--token-file", tokenPath,
		"--api-url", api.URL,
		"--from", "2024/01/01",
		"--to", "2024-01-31",
		"--count", "500",
	}

	t.Run("csv", func(t *testing.T) {
		out := filepath.Join(dir, "ledger.csv")
		err := newApp().Run(append(base, "-o", out))
		require.NoError(t, err)

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "Date,Description,Net,Balance\n"+
			"01/01/2024,Salary,100.00,100.00\n"+
			"03/01/2024,Client A (FX EUR 50.00),43.50,143.50\n", string(data))
	})

	t.Run("json with jq filter", func(t *testing.T) {
		out := filepath.Join(dir, "ledger.json")
		err := newApp().Run(append(base, "-o", out, "--format", "json", "--jq", `.description | test("FX")`))
		require.NoError(t, err)

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		var rows []map[string]string
		require.NoError(t, json.Unmarshal(data, &rows))
		require.Len(t, rows, 1)
		assert.Equal(t, "Client A (FX EUR 50.00)", rows[0]["description"])
	})

	t.Run("no reference account", func(t *testing.T) {
		err := newApp().Run(append(base, "-o", filepath.Join(dir, "usd.csv"), "--currency", "USD"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reference account")
	})
}

func TestExportCommand_Validation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "bad from", args: []string{"--from", "yesterday"}, wantErr: "invalid date"},
		{name: "to before from", args: []string{"--from", "2024/02/01", "--to", "2024/01/01"}, wantErr: "before"},
		{name: "count too large", args: []string{"--count", "1001"}, wantErr: "count must be between"},
		{name: "bad format", args: []string{"--format", "xlsx"}, wantErr: "unknown format"},
		{name: "bad jq", args: []string{"--jq", ".description |"}, wantErr: "jq filter"},
		{name: "missing client id", args: []string{"--client-id", ""}, wantErr: "client-id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CLIENT_ID", "client")
			t.Setenv("SSL_PRIVATE_PATH", filepath.Join(t.TempDir(), "missing.pem"))
			args := append([]string{"revolut-feed", "export"}, tt.args...)
			err := newApp().Run(args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAuthStatusCommand(t *testing.T) {
	dir := t.TempDir()

	t.Run("no token", func(t *testing.T) {
		err := newApp().Run([]string{"revolut-feed", "auth", "status", "--token-file", filepath.Join(dir, "none.json")})
		assert.NoError(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		path := writeToken(t, dir, time.Now().Add(-time.Hour))
		err := newApp().Run([]string{"revolut-feed", "--json", "auth", "status", "--token-file", path})
		assert.NoError(t, err)
	})
}
