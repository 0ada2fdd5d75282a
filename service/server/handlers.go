package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/revolut-feed/service/config"
	"github.com/brojonat/revolut-feed/service/db"
	"github.com/brojonat/revolut-feed/service/export"
	"github.com/brojonat/revolut-feed/service/ledger"
	"github.com/brojonat/revolut-feed/service/revolut"
	"github.com/brojonat/revolut-feed/service/temporal"
	"github.com/google/uuid"
)

const (
	maxRequestBodySize = 1 << 16
	defaultListLimit   = 50
	maxListLimit       = 500
	minExportWindow    = 24 * time.Hour
)

// RunStore is the read side of db.Store the handlers need.
type RunStore interface {
	GetRun(ctx context.Context, id uuid.UUID) (*db.Run, error)
	ListRuns(ctx context.Context, limit, offset int32) ([]*db.Run, error)
	ListRunRows(ctx context.Context, id uuid.UUID) ([]ledger.Row, error)
	ListRunDiagnostics(ctx context.Context, id uuid.UUID) ([]ledger.Diagnostic, error)
}

// handleListRuns returns a handler that lists runs newest first.
// GET /api/v1/runs?limit=N&offset=N
func handleListRuns(store RunStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		limit, err := parseIntParam(query.Get("limit"), defaultListLimit, 1, maxListLimit)
		if err != nil {
			writeError(w, "invalid limit: "+err.Error(), http.StatusBadRequest)
			return
		}
		offset, err := parseIntParam(query.Get("offset"), 0, 0, -1)
		if err != nil {
			writeError(w, "invalid offset: "+err.Error(), http.StatusBadRequest)
			return
		}

		runs, err := store.ListRuns(r.Context(), int32(limit), int32(offset))
		if err != nil {
			logger.Error("failed to list runs", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]interface{}{
			"runs":   runs,
			"count":  len(runs),
			"limit":  limit,
			"offset": offset,
		}, http.StatusOK)
	})
}

// handleGetRun returns a handler that returns one run.
// GET /api/v1/runs/{id}
func handleGetRun(store RunStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		run, ok := loadRun(w, r, store, logger)
		if !ok {
			return
		}
		writeJSON(w, run, http.StatusOK)
	})
}

// handleGetRunRows returns a handler that renders the rows of a run.
// GET /api/v1/runs/{id}/rows?format=csv|json&filter=JQ
//
// Every filter parameter is a jq expression applied to each row object;
// a row is kept when all of them are truthy.
func handleGetRunRows(store RunStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		format, err := export.ParseFormat(query.Get("format"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter, err := export.NewFilter(query["filter"])
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		run, ok := loadRun(w, r, store, logger)
		if !ok {
			return
		}

		rows, err := store.ListRunRows(r.Context(), run.ID)
		if err != nil {
			logger.Error("failed to list rows", "run_id", run.ID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		rows, err = filter.Apply(rows)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", format.ContentType())
		if format == export.FormatCSV {
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "run-"+run.ID.String()+".csv"))
		}
		w.WriteHeader(http.StatusOK)
		if err := export.Write(w, format, rows); err != nil {
			logger.Error("failed to write rows", "run_id", run.ID, "error", err)
		}
	})
}

// handleGetRunDiagnostics returns a handler that lists the diagnostics of a run.
// GET /api/v1/runs/{id}/diagnostics?kind=KIND
func handleGetRunDiagnostics(store RunStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		run, ok := loadRun(w, r, store, logger)
		if !ok {
			return
		}

		diags, err := store.ListRunDiagnostics(r.Context(), run.ID)
		if err != nil {
			logger.Error("failed to list diagnostics", "run_id", run.ID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if kind := r.URL.Query().Get("kind"); kind != "" {
			filtered := make([]ledger.Diagnostic, 0, len(diags))
			for _, d := range diags {
				if string(d.Kind) == kind {
					filtered = append(filtered, d)
				}
			}
			diags = filtered
		}

		writeJSON(w, map[string]interface{}{
			"run_id":      run.ID,
			"diagnostics": diags,
			"count":       len(diags),
		}, http.StatusOK)
	})
}

type startRunRequest struct {
	Currency string `json:"currency"`
	Window   string `json:"window"`
	Count    int    `json:"count"`
}

// handleStartRun returns a handler that starts an export workflow.
// POST /api/v1/runs {"currency": "GBP", "window": "720h", "count": 1000}
func handleStartRun(starter temporal.ExportStarter, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req startRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		input := temporal.ExportLedgerInput{
			Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
			Count:    req.Count,
			Source:   "api",
		}
		if input.Currency == "" && cfg != nil {
			input.Currency = cfg.ReferenceCurrency
		}
		if len(input.Currency) != 3 {
			writeError(w, "currency must be a three letter code", http.StatusBadRequest)
			return
		}
		if input.Count < 0 || input.Count > revolut.MaxTransactionsCount {
			writeError(w, fmt.Sprintf("count must be between 0 and %d", revolut.MaxTransactionsCount), http.StatusBadRequest)
			return
		}

		if req.Window != "" {
			window, err := time.ParseDuration(req.Window)
			if err != nil {
				writeError(w, "invalid window: "+err.Error(), http.StatusBadRequest)
				return
			}
			if window < minExportWindow {
				writeError(w, "window must be at least 24h", http.StatusBadRequest)
				return
			}
			input.Window = window
		} else if cfg != nil {
			input.Window = cfg.ExportWindow
		}

		workflowID, err := starter.StartExport(r.Context(), input)
		if err != nil {
			logger.Error("failed to start export", "currency", input.Currency, "error", err)
			writeError(w, "failed to start export", http.StatusInternalServerError)
			return
		}

		logger.Info("export started", "workflow_id", workflowID, "currency", input.Currency)
		writeJSON(w, map[string]interface{}{
			"workflow_id": workflowID,
			"currency":    input.Currency,
			"window":      input.Window.String(),
		}, http.StatusAccepted)
	})
}

// loadRun resolves the {id} path value to a run, writing the error
// response itself when it cannot.
func loadRun(w http.ResponseWriter, r *http.Request, store RunStore, logger *slog.Logger) (*db.Run, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, "invalid run id", http.StatusBadRequest)
		return nil, false
	}

	run, err := store.GetRun(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, "run not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		logger.Error("failed to get run", "run_id", id, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return run, true
}

// parseIntParam parses an optional integer query parameter. A negative hi
// means unbounded.
func parseIntParam(value string, def, lo, hi int) (int, error) {
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if n < lo {
		return 0, fmt.Errorf("must be at least %d", lo)
	}
	if hi >= 0 && n > hi {
		return 0, fmt.Errorf("cannot exceed %d", hi)
	}
	return n, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}
