package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/remit/service/db"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the transfers schema",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "✓ Schema is up to date")
			return nil
		},
	}
}

func listTransfersDBCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-transfers",
		Usage:   "List transfers straight from the ledger",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status",
			},
			&cli.StringFlag{Name: "receiver", Usage: "Filter by receiver address"},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   50,
				Usage:   "Maximum number of transfers to show",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			transfers, err := store.ListTransfers(context.Background(), db.ListTransfersParams{
				Status:   c.String("status"),
				Receiver: c.String("receiver"),
				Limit:    int32(c.Int("limit")),
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

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tRECEIVER\tAMOUNT\tERROR KIND\tUPDATED")
			for _, t := range transfers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					t.ID,
					t.Status,
					t.Receiver,
					t.Amount,
					optional(t.ErrorKind),
					t.UpdatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transfers\n", len(transfers))
			return nil
		},
	}
}

func getTransferDBCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-transfer",
		Usage:     "Show one ledger row",
		Aliases:   []string{"get"},
		ArgsUsage: "<transfer-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transfer id")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			t, err := store.GetTransfer(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get transfer: %w", err)
			}

			if jsonOutput(c) {
				p, err := newPrinter(c)
				if err != nil {
					return err
				}
				return p.print(t)
			}

			fmt.Printf("ID:                  %s\n", t.ID)
			fmt.Printf("Status:              %s\n", t.Status)
			fmt.Printf("Idempotency Key:     %s\n", optional(t.IdempotencyKey))
			fmt.Printf("Sender:              %s\n", optional(t.Sender))
			fmt.Printf("Receiver:            %s\n", t.Receiver)
			fmt.Printf("Mint:                %s\n", t.Mint)
			fmt.Printf("Amount:              %s (%d base units, %d decimals)\n", t.Amount, t.BaseUnits, t.Decimals)
			fmt.Printf("Memo:                %s\n", optional(t.Memo))
			fmt.Printf("Signature:           %s\n", optional(t.Signature))
			fmt.Printf("Creation Signature:  %s\n", optional(t.CreationSignature))
			fmt.Printf("Account Created:     %v\n", t.ReceiverAccountCreated)
			if t.LastValidBlockHeight != nil {
				fmt.Printf("Last Valid Height:   %d\n", *t.LastValidBlockHeight)
			}
			if t.Slot != nil {
				fmt.Printf("Slot:                %d\n", *t.Slot)
			}
			fmt.Printf("Error:               %s\n", optional(t.Error))
			fmt.Printf("Error Kind:          %s\n", optional(t.ErrorKind))
			fmt.Printf("Workflow:            %s\n", t.WorkflowID)
			fmt.Printf("Created:             %s\n", t.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated:             %s\n", t.UpdatedAt.Format(time.RFC3339))
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
