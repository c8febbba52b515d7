package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/remit/service/db"
	"github.com/brojonat/remit/service/temporal"
)

func workflowResultCommand() *cli.Command {
	return &cli.Command{
		Name:      "result",
		Usage:     "Wait for a transfer workflow and print its result",
		ArgsUsage: "<transfer-id>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for the workflow to complete",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transfer id")
			}
			transferID := c.Args().First()

			logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
			tc, err := temporal.NewClient(c.String("temporal-host"), c.String("temporal-namespace"), "", logger)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			result, err := tc.TransferResult(ctx, transferID)
			if err != nil {
				return fmt.Errorf("workflow %s did not complete: %w", db.WorkflowIDForTransfer(transferID), err)
			}

			if jsonOutput(c) {
				p, err := newPrinter(c)
				if err != nil {
					return err
				}
				return p.print(result)
			}

			fmt.Printf("Workflow:         %s\n", db.WorkflowIDForTransfer(transferID))
			fmt.Printf("Status:           %s\n", result.Status)
			fmt.Printf("Signature:        %s\n", result.Signature)
			fmt.Printf("Sender:           %s\n", result.Sender)
			fmt.Printf("Account Created:  %v\n", result.ReceiverAccountCreated)
			if result.Slot != nil {
				fmt.Printf("Slot:             %d\n", *result.Slot)
			}
			if result.Error != nil {
				fmt.Printf("Error:            %s (%s)\n", *result.Error, optional(result.ErrorKind))
			}
			return nil
		},
	}
}
