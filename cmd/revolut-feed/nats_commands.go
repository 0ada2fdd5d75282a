package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/revolut-feed/service/ledger"
	natspkg "github.com/brojonat/revolut-feed/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscriptionSubject builds the filter subject for ledger events.
// kind is "runs", "diagnostics" or "all"; an empty currency matches every currency.
func subscriptionSubject(kind, currency string) (string, error) {
	kindToken := "*"
	switch kind {
	case "", "all":
	case "runs", "diagnostics":
		kindToken = kind
	default:
		return "", fmt.Errorf("unknown event kind %q (want runs, diagnostics or all)", kind)
	}
	curToken := "*"
	if currency != "" {
		curToken = strings.ToUpper(currency)
	}
	return fmt.Sprintf("ledger.%s.%s", kindToken, curToken), nil
}

// subscribeCommand streams ledger events.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Subscribe to ledger run and diagnostic events",
		Description: `Subscribe to ledger events published to NATS JetStream by the worker.

Run events go to ledger.runs.{CURRENCY}; every reconciliation issue of a
run goes to ledger.diagnostics.{CURRENCY}.

Example:
  revolut-feed nats subscribe --currency GBP --kind diagnostics --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "currency",
				Aliases: []string{"c"},
				Usage:   "Only events for this reference currency",
			},
			&cli.StringFlag{
				Name:    "kind",
				Aliases: []string{"k"},
				Usage:   "Event kind: runs, diagnostics or all",
				Value:   "all",
			},
			&cli.BoolFlag{
				Name:  "durable",
				Usage: "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "revolut-feed-cli",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay every retained event instead of only new ones",
			},
		},
		Action: func(c *cli.Context) error {
			subject, err := subscriptionSubject(c.String("kind"), c.String("currency"))
			if err != nil {
				return err
			}
			return streamEvents(c, subject)
		},
	}
}

// streamEvents connects to NATS and prints events until interrupted.
func streamEvents(c *cli.Context, subject string) error {
	natsURL := c.String("nats-url")
	jsonOutput := c.Bool("json")

	nc, err := natspkg.Connect(natsURL, "revolut-feed-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if c.Bool("all") {
		consumerConfig.DeliverPolicy = jetstream.DeliverAllPolicy
	}
	if c.Bool("durable") {
		consumerConfig.Durable = c.String("consumer-name")
		consumerConfig.Name = c.String("consumer-name")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		fmt.Printf("\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	count := 0
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		out, err := formatEvent(msg.Subject(), msg.Data(), jsonOutput)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
		} else {
			count++
			fmt.Print(out)
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	if !jsonOutput {
		fmt.Printf("\n✅ Received %d events\n", count)
	}
	return nil
}

// formatEvent renders one event for the terminal. JSON output passes the
// payload through on a single line.
func formatEvent(subject string, data []byte, jsonOutput bool) (string, error) {
	switch {
	case strings.HasPrefix(subject, "ledger.runs."):
		var event natspkg.RunEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return "", err
		}
		if jsonOutput {
			return compactJSON(event)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "─────────────────────────────────────────────────────\n")
		fmt.Fprintf(&b, "Run %s (%s, %s)\n", event.RunID, event.Currency, event.Source)
		fmt.Fprintf(&b, "─────────────────────────────────────────────────────\n")
		fmt.Fprintf(&b, "Window:       %s\n", formatWindow(event.From, event.To))
		fmt.Fprintf(&b, "Rows:         %d\n", event.RowCount)
		fmt.Fprintf(&b, "Issues:       %d\n", event.DiagnosticCount)
		fmt.Fprintf(&b, "Exchanges:    %d matched of %d\n",
			event.Stats.SingleMatches+event.Stats.CombinedMatches, event.Stats.Exchanges)
		fmt.Fprintf(&b, "Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))
		return b.String(), nil

	case strings.HasPrefix(subject, "ledger.diagnostics."):
		var event natspkg.DiagnosticEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return "", err
		}
		if jsonOutput {
			return compactJSON(event)
		}
		d := event.Diagnostic
		return fmt.Sprintf("⚠️  %s [%s] %s %s %s: %s\n",
			d.Kind, event.RunID, d.Date, d.Currency, ledger.FormatAmount(d.Amount), d.Message), nil

	default:
		return "", fmt.Errorf("unexpected subject %q", subject)
	}
}

func compactJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the LEDGER JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := natspkg.Connect(c.String("nats-url"), "revolut-feed-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx := context.Background()
			stream, err := js.Stream(ctx, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(info)
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("─────────────────────────────────────────────────────\n")
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			return nil
		},
	}
}
