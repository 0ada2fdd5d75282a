package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	t.Setenv("SERVER_URL", server.URL)

	err := newApp().Run([]string{"revolut-feed", "server", "health"})
	require.NoError(t, err)
}

func TestHealthCommand_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newApp().Run([]string{"revolut-feed", "--server-url", server.URL, "server", "health"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}

func TestHealthCommand_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := newApp().Run([]string{"revolut-feed", "--server-url", url, "server", "health", "--timeout", "1s"})
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	err := newApp().Run([]string{"revolut-feed", "server", "version"})
	assert.NoError(t, err)
}

func TestClientStartCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/runs", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"workflow_id": "export-ledger-GBP-1", "currency": "GBP", "window": "720h0m0s"}`))
	}))
	defer server.Close()

	err := newApp().Run([]string{"revolut-feed", "--server-url", server.URL, "client", "start", "--currency", "gbp"})
	require.NoError(t, err)
}

func TestClientRowsCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/runs/run-1/rows", r.URL.Path)
		assert.Equal(t, "csv", r.URL.Query().Get("format"))
		assert.Equal(t, []string{`.net | startswith("-")`}, r.URL.Query()["filter"])
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("Date,Description,Net,Balance\n02/01/2024,Rent,-50.00,50.00\n"))
	}))
	defer server.Close()

	out := t.TempDir() + "/rows.csv"
	err := newApp().Run([]string{"revolut-feed", "--server-url", server.URL,
		"client", "rows", "--filter", `.net | startswith("-")`, "-o", out, "run-1"})
	require.NoError(t, err)

	data, err := readFile(out)
	require.NoError(t, err)
	assert.Contains(t, data, "Rent,-50.00")

	err = newApp().Run([]string{"revolut-feed", "--server-url", server.URL, "client", "rows"})
	assert.Error(t, err, "run ID is required")
}
