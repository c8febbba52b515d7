package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/remit/client"
)

func transfersCommands() *cli.Command {
	return &cli.Command{
		Name:    "transfers",
		Aliases: []string{"tx"},
		Usage:   "Create and track transfers through the remit server",
		Subcommands: []*cli.Command{
			createTransferCommand(),
			getTransferCommand(),
			listTransfersCommand(),
			awaitTransferCommand(),
		},
	}
}

func createTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Ask the server to send tokens",
		ArgsUsage: "RECEIVER AMOUNT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mint",
				Usage: "Token mint (defaults to the server's mint)",
			},
			&cli.UintFlag{
				Name:  "decimals",
				Usage: "Mint decimals (required with a non-default --mint)",
			},
			&cli.StringFlag{
				Name:  "memo",
				Usage: "UTF-8 memo attached to the transfer",
			},
			&cli.StringFlag{
				Name:    "idempotency-key",
				Aliases: []string{"k"},
				Usage:   "Replaying a key returns the original transfer instead of sending again",
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Wait until the transfer reaches --target or a terminal status",
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "Status to wait for with --wait",
				Value: client.StatusFinalized,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "How long to wait with --wait",
				Value:   3 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: receiver and amount")
			}

			req := client.CreateTransferRequest{
				Receiver:       c.Args().Get(0),
				Amount:         c.Args().Get(1),
				Mint:           c.String("mint"),
				Memo:           c.String("memo"),
				IdempotencyKey: c.String("idempotency-key"),
			}
			if c.IsSet("decimals") {
				d := c.Uint("decimals")
				if d > 19 {
					return fmt.Errorf("decimals %d out of range", d)
				}
				decimals := uint8(d)
				req.Decimals = &decimals
			}

			cl := newAPIClient(c)
			ctx := context.Background()

			tr, err := cl.CreateTransfer(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to create transfer: %w", err)
			}

			if c.Bool("wait") {
				if !jsonOutput(c) {
					fmt.Fprintf(os.Stderr, "Transfer %s accepted, waiting for %s...\n", tr.ID, c.String("target"))
				}
				waitCtx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
				defer cancel()
				tr, err = cl.Await(waitCtx, tr.ID, c.String("target"), 2*time.Second)
				if err != nil {
					return fmt.Errorf("failed to await transfer: %w", err)
				}
			}

			return printTransfer(c, tr)
		},
	}
}

func getTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show a transfer",
		ArgsUsage: "TRANSFER_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transfer id")
			}
			tr, err := newAPIClient(c).GetTransfer(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get transfer: %w", err)
			}
			return printTransfer(c, tr)
		},
	}
}

func listTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List transfers, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sender", Usage: "Filter by sender address"},
			&cli.StringFlag{Name: "receiver", Usage: "Filter by receiver address"},
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (pending, submitted, finalized, failed, expired, ...)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   20,
				Usage:   "Maximum number of transfers to retrieve (1-1000)",
			},
			&cli.IntFlag{Name: "offset", Usage: "Number of transfers to skip"},
		},
		Action: func(c *cli.Context) error {
			transfers, err := newAPIClient(c).ListTransfers(context.Background(), client.ListOptions{
				Sender:   c.String("sender"),
				Receiver: c.String("receiver"),
				Status:   c.String("status"),
				Limit:    c.Int("limit"),
				Offset:   c.Int("offset"),
			})
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}

			if jsonOutput(c) {
				p, err := newPrinter(c)
				if err != nil {
					return err
				}
				return p.print(transfers)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tRECEIVER\tAMOUNT\tSIGNATURE\tCREATED")
			for _, tr := range transfers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					tr.ID,
					tr.Status,
					tr.Receiver,
					tr.Amount,
					optional(tr.Signature),
					tr.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transfers\n", len(transfers))
			return nil
		},
	}
}

func awaitTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a transfer reaches a status or becomes terminal",
		ArgsUsage: "TRANSFER_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "target",
				Usage: "Status to wait for (submitted, processed, confirmed, finalized)",
				Value: client.StatusFinalized,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: 2 * time.Second,
				Usage: "Poll interval",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transfer id")
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			tr, err := newAPIClient(c).Await(ctx, c.Args().First(), c.String("target"), c.Duration("interval"))
			if err != nil {
				return fmt.Errorf("failed to await transfer: %w", err)
			}
			if err := printTransfer(c, tr); err != nil {
				return err
			}
			if tr.Status == client.StatusFailed || tr.Status == client.StatusExpired {
				return fmt.Errorf("transfer %s %s: %s", tr.ID, tr.Status, optional(tr.Error))
			}
			return nil
		},
	}
}

func newAPIClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func printTransfer(c *cli.Context, tr *client.Transfer) error {
	if jsonOutput(c) {
		p, err := newPrinter(c)
		if err != nil {
			return err
		}
		return p.print(tr)
	}

	out := c.App.Writer
	fmt.Fprintf(out, "ID:               %s\n", tr.ID)
	fmt.Fprintf(out, "Status:           %s\n", tr.Status)
	fmt.Fprintf(out, "Sender:           %s\n", optional(tr.Sender))
	fmt.Fprintf(out, "Receiver:         %s\n", tr.Receiver)
	fmt.Fprintf(out, "Amount:           %s (%d base units)\n", tr.Amount, tr.BaseUnits)
	fmt.Fprintf(out, "Mint:             %s\n", tr.Mint)
	fmt.Fprintf(out, "Memo:             %s\n", optional(tr.Memo))
	fmt.Fprintf(out, "Signature:        %s\n", optional(tr.Signature))
	fmt.Fprintf(out, "Account Created:  %v\n", tr.ReceiverAccountCreated)
	if tr.Slot != nil {
		fmt.Fprintf(out, "Slot:             %d\n", *tr.Slot)
	}
	if tr.Error != nil {
		fmt.Fprintf(out, "Error:            %s (%s)\n", *tr.Error, optional(tr.ErrorKind))
	}
	fmt.Fprintf(out, "Workflow:         %s\n", tr.WorkflowID)
	fmt.Fprintf(out, "Created:          %s\n", tr.CreatedAt.Format(time.RFC3339))
	return nil
}
