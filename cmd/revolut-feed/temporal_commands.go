package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/revolut-feed/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

func taskQueueFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "task-queue",
		Usage:   "Temporal task queue the worker listens on",
		EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
		Value:   "revolut-feed-export",
	}
}

func currencyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "currency",
		Aliases: []string{"c"},
		Usage:   "Reference currency",
		EnvVars: []string{"REFERENCE_CURRENCY"},
		Value:   "GBP",
	}
}

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-schedules",
		Usage:   "List export schedules",
		Aliases: []string{"ls"},
		Flags:   []cli.Flag{taskQueueFlag()},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx := context.Background()
			iter, err := tc.SDKClient().ScheduleClient().List(ctx, client.ScheduleListOptions{
				PageSize: 100,
			})
			if err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCHEDULE ID\tINTERVAL\tPAUSED\tNEXT RUN")
			count := 0
			for iter.HasNext() {
				entry, err := iter.Next()
				if err != nil {
					return fmt.Errorf("failed to iterate schedules: %w", err)
				}
				if !strings.HasPrefix(entry.ID, "export-ledger-") {
					continue
				}
				interval := "-"
				if entry.Spec != nil && len(entry.Spec.Intervals) > 0 {
					interval = entry.Spec.Intervals[0].Every.String()
				}
				next := "-"
				if len(entry.NextActionTimes) > 0 {
					next = entry.NextActionTimes[0].Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", entry.ID, interval, entry.Paused, next)
				count++
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d schedules\n", count)
			return nil
		},
	}
}

func createScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-schedule",
		Usage: "Create or update the export schedule for a currency",
		Flags: []cli.Flag{
			taskQueueFlag(),
			currencyFlag(),
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "How often to export",
				EnvVars: []string{"EXPORT_INTERVAL"},
				Value:   24 * time.Hour,
			},
			&cli.DurationFlag{
				Name:    "window",
				Aliases: []string{"w"},
				Usage:   "How far back each export fetches",
				EnvVars: []string{"EXPORT_WINDOW"},
				Value:   30 * 24 * time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			currency, err := currencyArg(c)
			if err != nil {
				return err
			}
			interval := c.Duration("interval")
			if interval < time.Minute {
				return fmt.Errorf("interval must be at least 1m, got %s", interval)
			}
			window := c.Duration("window")
			if window < 24*time.Hour {
				return fmt.Errorf("window must be at least 24h, got %s", window)
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.UpsertExportSchedule(context.Background(), currency, interval, window); err != nil {
				return err
			}

			fmt.Printf("✓ Export schedule for %s: every %s, window %s\n", currency, interval, window)
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-schedule",
		Usage: "Delete the export schedule for a currency",
		Flags: []cli.Flag{taskQueueFlag(), currencyFlag()},
		Action: func(c *cli.Context) error {
			currency, err := currencyArg(c)
			if err != nil {
				return err
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteExportSchedule(context.Background(), currency); err != nil {
				return err
			}

			fmt.Printf("✓ Deleted export schedule for %s\n", currency)
			return nil
		},
	}
}

func runExportCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run an export workflow now and wait for it",
		Flags: []cli.Flag{
			taskQueueFlag(),
			currencyFlag(),
			&cli.DurationFlag{
				Name:    "window",
				Aliases: []string{"w"},
				Usage:   "How far back to fetch (0 fetches without a lower bound)",
				Value:   30 * 24 * time.Hour,
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Maximum number of transactions to fetch (0 uses the API default)",
			},
			&cli.BoolFlag{
				Name:  "no-wait",
				Usage: "Start the workflow and return its ID",
			},
		},
		Action: func(c *cli.Context) error {
			currency, err := currencyArg(c)
			if err != nil {
				return err
			}
			input := temporal.ExportLedgerInput{
				Currency: currency,
				Window:   c.Duration("window"),
				Count:    c.Int("count"),
				Source:   "cli",
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx := context.Background()
			if c.Bool("no-wait") {
				id, err := tc.StartExport(ctx, input)
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return outputJSON(map[string]string{"workflow_id": id})
				}
				fmt.Printf("Started %s\n", id)
				return nil
			}

			result, err := tc.RunExport(ctx, input)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			fmt.Printf("✓ Export complete\n")
			fmt.Printf("  Run:         %s\n", result.RunID)
			fmt.Printf("  Fetched:     %d transactions\n", result.TransactionsFetched)
			fmt.Printf("  Rows:        %d\n", result.RowCount)
			fmt.Printf("  Issues:      %d\n", result.DiagnosticCount)
			fmt.Printf("  Published:   %v\n", result.Published)
			return nil
		},
	}
}

func currencyArg(c *cli.Context) (string, error) {
	currency := strings.ToUpper(strings.TrimSpace(c.String("currency")))
	if len(currency) != 3 {
		return "", fmt.Errorf("currency must be a three letter code, got %q", c.String("currency"))
	}
	return currency, nil
}

// Helper function to connect to Temporal
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	host := c.String("temporal-host")
	if host == "" {
		host = "localhost:7233"
	}
	namespace := c.String("temporal-namespace")
	if namespace == "" {
		namespace = "default"
	}

	// The CLI keeps Temporal's own logging quiet.
	return temporal.NewClient(host, namespace, c.String("task-queue"), nil, setupLogger("error"))
}
