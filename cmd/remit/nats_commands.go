package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/remit/service/nats"
)

// subscribeCommand streams transfer lifecycle events.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to transfer events",
		ArgsUsage: "[sender_address]",
		Description: `Subscribe to transfer lifecycle events published to NATS JetStream.

Events are published to the subject transfers.{sender_address}. Without an address,
events for every sender are streamed.

Example:
  remit nats subscribe --where '.type == "failed"' --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "remit-cli",
			},
			&cli.StringFlag{
				Name:  "where",
				Usage: "Only show events for which this jq expression is truthy",
			},
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "Exit after this many matching events (0 streams until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if c.NArg() == 1 {
				sender, err := solana.PublicKeyFromBase58(c.Args().First())
				if err != nil {
					return fmt.Errorf("invalid sender address: %w", err)
				}
				subject = natspkg.SubjectForSender(sender.String())
			}

			var where *gojq.Code
			if expr := c.String("where"); expr != "" {
				code, err := compileJQ(expr)
				if err != nil {
					return err
				}
				where = code
			}

			return streamTransfers(c, subject, where)
		},
	}
}

// streamTransfers connects to NATS and prints transfer events until interrupted.
func streamTransfers(c *cli.Context, subject string, where *gojq.Code) error {
	natsURL := c.String("nats-url")
	durable := c.Bool("durable")
	consumerName := c.String("consumer-name")
	limit := c.Int("count")
	asJSON := jsonOutput(c)

	p, err := newPrinter(c)
	if err != nil {
		return err
	}

	nc, err := natspkg.Connect(natsURL, "remit-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !asJSON {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		if durable {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for transfer events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.TransferEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				if !asJSON {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				}
				msg.Ack()
				continue
			}
			msg.Ack()

			if where != nil && !matchesJQ(where, event) {
				continue
			}
			count++

			if asJSON {
				if err := p.print(event); err != nil {
					return err
				}
			} else {
				printEvent(count, &event)
			}

			if limit > 0 && count >= limit {
				return nil
			}

		case <-sigChan:
			if !asJSON {
				fmt.Printf("\n\n✅ Received %d events\n", count)
				fmt.Println("Shutting down...")
			}
			return nil
		}
	}
}

func printEvent(n int, event *natspkg.TransferEvent) {
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Event #%d: %s\n", n, event.Type)
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Transfer:     %s\n", event.TransferID)
	fmt.Printf("Status:       %s\n", event.Status)
	fmt.Printf("Sender:       %s\n", event.Sender)
	fmt.Printf("Receiver:     %s\n", event.Receiver)
	fmt.Printf("Amount:       %s (%d base units)\n", event.Amount, event.BaseUnits)
	fmt.Printf("Mint:         %s\n", event.Mint)
	if event.Signature != "" {
		fmt.Printf("Signature:    %s\n", event.Signature)
	}
	if event.Memo != "" {
		fmt.Printf("Memo:         %s\n", event.Memo)
	}
	if event.Error != "" {
		fmt.Printf("Error:        %s\n", event.Error)
	}
	fmt.Printf("Published:    %s\n", event.PublishedAt.Format(time.RFC3339))
	fmt.Printf("\n")
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the TRANSFERS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := natspkg.Connect(c.String("nats-url"), "remit-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if jsonOutput(c) {
				p, err := newPrinter(c)
				if err != nil {
					return err
				}
				return p.print(info)
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("─────────────────────────────────────────────────────\n")
			fmt.Printf("Description:  %s\n", info.Config.Description)
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			fmt.Printf("Storage:      %s\n", info.Config.Storage)
			fmt.Printf("\n")
			return nil
		},
	}
}
