package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/revolut-feed/client"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the revolut-feed server",
		Subcommands: []*cli.Command{
			clientRunsCommand(),
			clientRowsCommand(),
			clientDiagnosticsCommand(),
			clientStartCommand(),
		},
	}
}

func newHTTPClient(c *cli.Context) *client.Client {
	// Only errors to stderr
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server-url"), &http.Client{Timeout: 60 * time.Second}, logger)
}

func clientRunsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List runs stored by the server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   50,
			},
			&cli.IntFlag{
				Name: "offset",
			},
		},
		Action: func(c *cli.Context) error {
			runs, err := newHTTPClient(c).ListRuns(context.Background(), c.Int("limit"), c.Int("offset"))
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
			return nil
		},
	}
}

func clientRowsCommand() *cli.Command {
	return &cli.Command{
		Name:      "rows",
		Usage:     "Download the ledger rows of a run",
		ArgsUsage: "RUN_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "csv or json",
				Value: "csv",
			},
			&cli.StringSliceFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   `jq expression rows must satisfy, e.g. '.description | test("FX")' (repeatable)`,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write to this file instead of stdout",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("run ID is required")
			}

			var w io.Writer = os.Stdout
			if path := c.String("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", path, err)
				}
				defer f.Close()
				w = f
			}

			err := newHTTPClient(c).DownloadRows(context.Background(), c.Args().First(), c.String("format"), w, c.StringSlice("filter")...)
			if err != nil {
				return fmt.Errorf("failed to download rows: %w", err)
			}
			if path := c.String("output"); path != "" {
				fmt.Fprintf(os.Stderr, "wrote %s to %s\n", c.String("format"), path)
			}
			return nil
		},
	}
}

func clientDiagnosticsCommand() *cli.Command {
	return &cli.Command{
		Name:      "diagnostics",
		Usage:     "Show the reconciliation issues of a run",
		ArgsUsage: "RUN_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("run ID is required")
			}

			diags, err := newHTTPClient(c).Diagnostics(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get diagnostics: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(diags)
			}
			for _, d := range diags {
				fmt.Printf("%s\t%s\t%s\t%s\n", d.Kind, d.Date, d.TransactionID, d.Message)
			}
			return nil
		},
	}
}

func clientStartCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Ask the server to start an export",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "currency",
				Aliases: []string{"c"},
				Usage:   "Reference currency (server default when empty)",
			},
			&cli.DurationFlag{
				Name:    "window",
				Aliases: []string{"w"},
				Usage:   "How far back to fetch (server default when zero)",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Maximum number of transactions to fetch",
			},
		},
		Action: func(c *cli.Context) error {
			resp, err := newHTTPClient(c).StartRun(context.Background(), client.StartRunRequest{
				Currency: c.String("currency"),
				Window:   c.Duration("window"),
				Count:    c.Int("count"),
			})
			if err != nil {
				return fmt.Errorf("failed to start run: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(resp)
			}
			fmt.Printf("✓ Started %s (%s, window %s)\n", resp.WorkflowID, resp.Currency, resp.Window)
			return nil
		},
	}
}
