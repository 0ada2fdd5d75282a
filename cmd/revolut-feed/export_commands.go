package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/revolut-feed/service/auth"
	"github.com/brojonat/revolut-feed/service/export"
	"github.com/brojonat/revolut-feed/service/ledger"
	"github.com/brojonat/revolut-feed/service/revolut"
	"github.com/urfave/cli/v2"
)

// dateLayouts are the accepted --from/--to formats.
var dateLayouts = []string{"2006/01/02", "2006-01-02"}

// revolutFlags are shared by every command that talks to the Revolut API.
// A fresh slice is built per command since flags carry parse state.
func revolutFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "client-id",
			Usage:   "Revolut API client id",
			EnvVars: []string{"CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:    "private-key",
			Usage:   "Path to the PEM private key registered with the API certificate",
			EnvVars: []string{"SSL_PRIVATE_PATH"},
		},
		&cli.StringFlag{
			Name:    "jwt-issuer",
			Usage:   "Issuer claim of the client assertion (the certificate's redirect host)",
			EnvVars: []string{"JWT_ISSUER"},
			Value:   revolut.DefaultIssuer,
		},
		&cli.StringFlag{
			Name:    "token-file",
			Usage:   "Where the access token is kept between runs",
			EnvVars: []string{"TOKEN_FILE"},
			Value:   "access-token.json",
		},
		&cli.StringFlag{
			Name:    "currency",
			Aliases: []string{"c"},
			Usage:   "Reference currency of the ledger",
			EnvVars: []string{"REFERENCE_CURRENCY"},
			Value:   "GBP",
		},
		&cli.StringFlag{
			Name:    "api-url",
			Usage:   "Override the Revolut API base URL",
			EnvVars: []string{"REVOLUT_API_URL"},
			Hidden:  true,
		},
	}
}

// newRevolutClient builds an API client whose data calls authenticate
// through a token session. The session prompts on stdin when no usable
// token is stored.
func newRevolutClient(c *cli.Context, logger *slog.Logger) (*revolut.Client, *auth.Session, error) {
	clientID := c.String("client-id")
	if clientID == "" {
		return nil, nil, fmt.Errorf("client-id is required (set CLIENT_ID env var or use --client-id)")
	}
	keyPath := c.String("private-key")
	if keyPath == "" {
		return nil, nil, fmt.Errorf("private-key is required (set SSL_PRIVATE_PATH env var or use --private-key)")
	}
	key, err := revolut.LoadPrivateKey(keyPath)
	if err != nil {
		return nil, nil, err
	}

	rc := revolut.NewClient(revolut.Config{
		ClientID:   clientID,
		PrivateKey: key,
		Issuer:     c.String("jwt-issuer"),
		Sandbox:    c.Bool("debug"),
		BaseURL:    c.String("api-url"),
		Logger:     logger,
	})
	session := auth.NewSession(rc, auth.NewFileStore(c.String("token-file")), auth.PromptCode(os.Stdin, os.Stderr), logger)
	rc.UseTokenSource(session)
	return rc, session, nil
}

// parseDate accepts yyyy/mm/dd or yyyy-mm-dd. An empty value is the zero time.
func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (use yyyy/mm/dd or yyyy-mm-dd)", value)
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Fetch transactions and write the reference-currency ledger",
		Description: `Authenticate with the Revolut Business API, fetch the transaction feed and
write one ledger row per reference-currency movement. Exchanges are folded
onto the foreign transactions they converted, annotated "(FX EUR 50.00)".

The first run asks for an access code and stores the token in --token-file.

Example:
  revolut-feed --debug export --from 2024/01/01 --to 2024/03/31 -o q1.csv`,
		Flags: append(revolutFlags(),
			&cli.StringFlag{
				Name:    "from",
				Aliases: []string{"f"},
				Usage:   "Earliest transaction date (yyyy/mm/dd or yyyy-mm-dd)",
			},
			&cli.StringFlag{
				Name:    "to",
				Aliases: []string{"t"},
				Usage:   "Latest transaction date (yyyy/mm/dd or yyyy-mm-dd)",
			},
			&cli.IntFlag{
				Name:    "count",
				Usage:   "Maximum number of transactions to fetch (1-1000)",
				EnvVars: []string{"TRANSACTION_COUNT"},
				Value:   revolut.MaxTransactionsCount,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file",
				Value:   "revolut-feed.csv",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: csv or json",
				Value: "csv",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "Keep only rows for which this jq expression is truthy (repeatable)",
			},
		),
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))

			from, err := parseDate(c.String("from"))
			if err != nil {
				return err
			}
			to, err := parseDate(c.String("to"))
			if err != nil {
				return err
			}
			if !from.IsZero() && !to.IsZero() && to.Before(from) {
				return fmt.Errorf("--to %s is before --from %s", c.String("to"), c.String("from"))
			}
			count := c.Int("count")
			if count < 1 || count > revolut.MaxTransactionsCount {
				return fmt.Errorf("count must be between 1 and %d, got %d", revolut.MaxTransactionsCount, count)
			}
			format, err := export.ParseFormat(c.String("format"))
			if err != nil {
				return err
			}
			filter, err := export.NewFilter(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			rc, _, err := newRevolutClient(c, logger)
			if err != nil {
				return err
			}

			ctx := context.Background()
			currency := strings.ToUpper(c.String("currency"))
			account, err := rc.ReferenceAccount(ctx, currency)
			if err != nil {
				return fmt.Errorf("failed to get reference account: %w", err)
			}

			txs, err := rc.Transactions(ctx, revolut.TransactionsParams{From: from, To: to, Count: count})
			if err != nil {
				return fmt.Errorf("failed to fetch transactions: %w", err)
			}

			report := ledger.NewBuilder(ledger.WithLogger(logger)).Build(ctx, account, revolut.LedgerTransactions(txs))
			rows, err := filter.Apply(report.Rows)
			if err != nil {
				return err
			}

			output := c.String("output")
			if err := export.WriteFile(output, format, rows); err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(map[string]any{
					"output":      output,
					"format":      format,
					"rows":        len(rows),
					"diagnostics": report.Diagnostics,
					"stats":       report.Stats,
				})
			}

			fmt.Printf("wrote %s to %s\n", format, output)
			if n := len(report.Diagnostics); n > 0 {
				fmt.Fprintf(os.Stderr, "%d reconciliation issue(s), see log output\n", n)
			}
			return nil
		},
	}
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Exchange a new access code for a token and store it",
		Flags: revolutFlags(),
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))
			_, session, err := newRevolutClient(c, logger)
			if err != nil {
				return err
			}

			token, err := session.Login(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("✓ Logged in, token stored in %s\n", c.String("token-file"))
			if !token.ExpiresAt.IsZero() {
				fmt.Printf("  Expires: %s\n", token.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func authStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the stored access token without contacting the API",
		Flags: revolutFlags(),
		Action: func(c *cli.Context) error {
			session := auth.NewSession(nil, auth.NewFileStore(c.String("token-file")), nil, nil)
			token, valid, err := session.Status()
			if err != nil {
				return err
			}

			status := struct {
				TokenFile string     `json:"token_file"`
				Present   bool       `json:"present"`
				Valid     bool       `json:"valid"`
				Refresh   bool       `json:"refreshable"`
				ExpiresAt *time.Time `json:"expires_at,omitempty"`
			}{TokenFile: c.String("token-file"), Present: token != nil, Valid: valid}
			if token != nil {
				status.Refresh = token.RefreshToken != ""
				if !token.ExpiresAt.IsZero() {
					status.ExpiresAt = &token.ExpiresAt
				}
			}

			if c.Bool("json") {
				return outputJSON(status)
			}

			switch {
			case token == nil:
				fmt.Printf("No token in %s (run: revolut-feed auth login)\n", status.TokenFile)
			case valid:
				fmt.Printf("✓ Token valid\n")
			case status.Refresh:
				fmt.Printf("Token expired, will be refreshed on next use\n")
			default:
				fmt.Printf("Token expired (run: revolut-feed auth login)\n")
			}
			if status.ExpiresAt != nil {
				fmt.Printf("  Expires: %s\n", status.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func accountsCommand() *cli.Command {
	return &cli.Command{
		Name:  "accounts",
		Usage: "List the business accounts",
		Flags: revolutFlags(),
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))
			rc, _, err := newRevolutClient(c, logger)
			if err != nil {
				return err
			}

			accounts, err := rc.Accounts(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(accounts)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCURRENCY\tBALANCE\tSTATE")
			for _, a := range accounts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					a.ID,
					a.Name,
					a.Currency,
					ledger.FormatAmount(a.Balance),
					a.State,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d accounts\n", len(accounts))
			return nil
		},
	}
}
