package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/revolut-feed/service/db"
	"github.com/brojonat/revolut-feed/service/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listRunsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-runs",
		Usage:   "List stored ledger runs, newest first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of runs",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Skip this many runs",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			runs, err := store.ListRuns(context.Background(), int32(c.Int("limit")), int32(c.Int("offset")))
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(runs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCURRENCY\tSOURCE\tWINDOW\tROWS\tISSUES\tCREATED")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					run.ID,
					run.Currency,
					run.Source,
					formatWindow(run.From, run.To),
					run.RowCount,
					run.DiagnosticCount,
					run.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d runs\n", len(runs))
			return nil
		},
	}
}

func getRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-run",
		Usage:     "Show a run and its ledger rows",
		Aliases:   []string{"get"},
		ArgsUsage: "<run-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "rows",
				Usage: "Also print the ledger rows",
				Value: true,
			},
		},
		Action: func(c *cli.Context) error {
			id, err := runIDArg(c)
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			run, err := store.GetRun(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			var rows []ledger.Row
			if c.Bool("rows") {
				rows, err = store.ListRunRows(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to get rows: %w", err)
				}
			}

			if c.Bool("json") {
				return outputJSON(struct {
					*db.Run
					Rows []ledger.Row `json:"rows,omitempty"`
				}{run, rows})
			}

			fmt.Printf("ID:          %s\n", run.ID)
			fmt.Printf("Account:     %s (%s)\n", run.AccountID, run.Currency)
			fmt.Printf("Source:      %s\n", run.Source)
			fmt.Printf("Window:      %s\n", formatWindow(run.From, run.To))
			fmt.Printf("Rows:        %d\n", run.RowCount)
			fmt.Printf("Issues:      %d\n", run.DiagnosticCount)
			fmt.Printf("Exchanges:   %d (%d single, %d combined, %d unmatched)\n",
				run.Stats.Exchanges,
				run.Stats.SingleMatches,
				run.Stats.CombinedMatches,
				run.Stats.UnmatchedExchanges,
			)
			fmt.Printf("Created:     %s\n", run.CreatedAt.Format(time.RFC3339))

			if len(rows) > 0 {
				fmt.Println()
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DATE\tDESCRIPTION\tNET\tBALANCE")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Date, r.Description, r.Net, r.Balance)
				}
				w.Flush()
			}
			return nil
		},
	}
}

func diagnosticsCommand() *cli.Command {
	return &cli.Command{
		Name:      "diagnostics",
		Usage:     "List the reconciliation issues of a run",
		Aliases:   []string{"diag"},
		ArgsUsage: "<run-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "kind",
				Aliases: []string{"k"},
				Usage:   "Filter by kind (e.g. unmatched_exchange, unmatched_foreign)",
			},
		},
		Action: func(c *cli.Context) error {
			id, err := runIDArg(c)
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			diags, err := store.ListRunDiagnostics(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to get diagnostics: %w", err)
			}

			if kind := c.String("kind"); kind != "" {
				filtered := make([]ledger.Diagnostic, 0, len(diags))
				for _, d := range diags {
					if string(d.Kind) == kind {
						filtered = append(filtered, d)
					}
				}
				diags = filtered
			}

			if c.Bool("json") {
				return outputJSON(diags)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tDATE\tTRANSACTION\tAMOUNT\tMESSAGE")
			for _, d := range diags {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s %s\t%s\n",
					d.Kind,
					d.Date,
					d.TransactionID,
					d.Currency,
					ledger.FormatAmount(d.Amount),
					d.Message,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d issues\n", len(diags))
			return nil
		},
	}
}

func pruneRunsCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete runs older than a retention period",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Delete runs created before now minus this duration",
				Value: 90 * 24 * time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			retention := c.Duration("older-than")
			if retention <= 0 {
				return fmt.Errorf("older-than must be positive")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			before := time.Now().Add(-retention)
			n, err := store.DeleteRunsOlderThan(context.Background(), before)
			if err != nil {
				return fmt.Errorf("failed to prune runs: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]any{"deleted": n, "before": before})
			}
			fmt.Printf("Deleted %d runs created before %s\n", n, before.Format(time.RFC3339))
			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}

func runIDArg(c *cli.Context) (uuid.UUID, error) {
	if c.NArg() != 1 {
		return uuid.Nil, fmt.Errorf("requires exactly one argument: run ID")
	}
	id, err := uuid.Parse(c.Args().First())
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid run ID %q: %w", c.Args().First(), err)
	}
	return id, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatWindow(from, to *time.Time) string {
	f, t := "…", "…"
	if from != nil {
		f = from.Format("2006-01-02")
	}
	if to != nil {
		t = to.Format("2006-01-02")
	}
	return f + " → " + t
}
