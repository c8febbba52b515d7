package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/remit/service/solana"
)

// sendResult is what send prints.
type sendResult struct {
	Signature              string  `json:"signature"`
	Sender                 string  `json:"sender"`
	Receiver               string  `json:"receiver"`
	Mint                   string  `json:"mint"`
	ReceiverTokenAccount   string  `json:"receiver_token_account"`
	BaseUnits              uint64  `json:"base_units"`
	Decimals               uint8   `json:"decimals"`
	ReceiverAccountCreated bool    `json:"receiver_account_created"`
	CreationSignature      *string `json:"creation_signature,omitempty"`
	LastValidBlockHeight   uint64  `json:"last_valid_block_height"`
	Status                 string  `json:"status"`
	Slot                   uint64  `json:"slot,omitempty"`
	Error                  *string `json:"error,omitempty"`
}

type finalityOutput struct {
	Signature string  `json:"signature"`
	Status    string  `json:"status"`
	Slot      uint64  `json:"slot,omitempty"`
	Error     *string `json:"error,omitempty"`
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send tokens to a receiver, creating its token account if needed",
		ArgsUsage: "RECEIVER AMOUNT",
		Description: `Build, sign and submit a TransferChecked transaction from the sender key.

The amount is in whole tokens (e.g. 1.5). The mint defaults to USDC on --network.

Example:
  remit send 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM 1.5 --memo "invoice 42" --wait`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "private-key",
				Usage:   "Base58 sender secret key",
				EnvVars: []string{"SENDER_PRIVATE_KEY"},
			},
			&cli.StringFlag{
				Name:    "keypair",
				Usage:   "Path to a Solana CLI keypair file",
				EnvVars: []string{"SENDER_KEYPAIR_PATH"},
			},
			&cli.StringFlag{
				Name:  "mint",
				Usage: "Token mint (defaults to USDC on --network)",
			},
			&cli.UintFlag{
				Name:  "decimals",
				Usage: "Mint decimals (looked up on chain for non-default mints when unset)",
			},
			&cli.StringFlag{
				Name:  "memo",
				Usage: "UTF-8 memo attached to the transfer",
			},
			&cli.StringFlag{
				Name:    "account-creation",
				Usage:   "How to create a missing receiver token account (atomic or separate)",
				EnvVars: []string{"ACCOUNT_CREATION_MODE"},
				Value:   string(solana.AccountCreationAtomic),
			},
			&cli.StringFlag{
				Name:  "commitment",
				Usage: "Commitment for reads and preflight",
				Value: string(rpc.CommitmentConfirmed),
			},
			&cli.BoolFlag{
				Name:  "skip-preflight",
				Usage: "Submit without node-side simulation",
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Wait for the transfer to reach --target after submission",
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "Confirmation status to wait for with --wait",
				Value: string(rpc.ConfirmationStatusFinalized),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Overall deadline for submission and waiting",
				Value:   2 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: receiver and amount")
			}

			key, err := senderKey(c.String("private-key"), c.String("keypair"))
			if err != nil {
				return err
			}
			receiver := c.Args().Get(0)
			if _, err := solana.ParseAddress(receiver); err != nil {
				return err
			}
			amount, err := solana.ParseAmount(c.Args().Get(1))
			if err != nil {
				return err
			}
			mode, err := solana.ParseAccountCreationMode(c.String("account-creation"))
			if err != nil {
				return err
			}
			target, err := solana.ParseConfirmationStatus(c.String("target"))
			if err != nil {
				return err
			}

			cl := newChainClient(c, solana.Options{
				Commitment:      rpc.CommitmentType(c.String("commitment")),
				AccountCreation: mode,
				SkipPreflight:   c.Bool("skip-preflight"),
			})

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			mint, decimals, err := resolveMint(ctx, c, cl)
			if err != nil {
				return err
			}

			result, err := cl.Transfer(ctx, solana.TransferParams{
				Sender:   key,
				Receiver: receiver,
				Mint:     mint,
				Amount:   amount,
				Decimals: decimals,
				Memo:     c.String("memo"),
			})
			if err != nil {
				return fmt.Errorf("transfer failed (%s): %w", solana.TransferOutcome(err), err)
			}

			out := sendResult{
				Signature:              result.Signature.String(),
				Sender:                 result.Sender.String(),
				Receiver:               result.Receiver.String(),
				Mint:                   result.Mint.String(),
				ReceiverTokenAccount:   result.ReceiverTokenAccount.String(),
				BaseUnits:              result.BaseUnits,
				Decimals:               result.Decimals,
				ReceiverAccountCreated: result.ReceiverAccountCreated,
				LastValidBlockHeight:   result.LastValidBlockHeight,
				Status:                 "submitted",
			}
			if result.CreationSignature != nil {
				sig := result.CreationSignature.String()
				out.CreationSignature = &sig
			}

			if c.Bool("wait") {
				if !jsonOutput(c) {
					fmt.Fprintf(os.Stderr, "Submitted %s, waiting for %s...\n", out.Signature, target)
				}
				final, err := cl.AwaitFinality(ctx, solana.AwaitFinalityParams{
					Signature:            result.Signature,
					LastValidBlockHeight: result.LastValidBlockHeight,
					Target:               target,
				})
				if err != nil {
					return fmt.Errorf("transfer %s submitted but finality unknown: %w", out.Signature, err)
				}
				out.Status = string(final.Status)
				out.Slot = final.Slot
				out.Error = final.Err
			}

			if jsonOutput(c) {
				p, err := newPrinter(c)
				if err != nil {
					return err
				}
				return p.print(out)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Signature:        %s\n", out.Signature)
			fmt.Fprintf(w, "From:             %s\n", out.Sender)
			fmt.Fprintf(w, "To:               %s\n", out.Receiver)
			fmt.Fprintf(w, "Token Account:    %s\n", out.ReceiverTokenAccount)
			fmt.Fprintf(w, "Amount:           %s (%d base units)\n", solana.FormatBaseUnits(out.BaseUnits, out.Decimals), out.BaseUnits)
			fmt.Fprintf(w, "Mint:             %s\n", out.Mint)
			fmt.Fprintf(w, "Account Created:  %v\n", out.ReceiverAccountCreated)
			fmt.Fprintf(w, "Status:           %s\n", out.Status)
			if out.Error != nil {
				fmt.Fprintf(w, "Error:            %s\n", *out.Error)
			}
			return nil
		},
	}
}

func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Wait for a submitted transaction to reach a confirmation status",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:  "last-valid-block-height",
				Usage: "Blockhash expiry height; enables expiry detection",
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "Confirmation status to wait for (processed, confirmed, finalized)",
				Value: string(rpc.ConfirmationStatusFinalized),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "How long to wait",
				Value:   2 * time.Minute,
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Status poll interval",
				Value: 2 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "no-wait",
				Usage: "Report the current status once instead of waiting",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}
			sig, err := solanago.SignatureFromBase58(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid signature: %w", err)
			}

			if c.Bool("no-wait") {
				ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
				defer cancel()
				result, err := newChainClient(c, solana.Options{}).SignatureStatus(ctx, sig)
				if err != nil {
					return err
				}
				return printFinality(c, result)
			}
			target, err := solana.ParseConfirmationStatus(c.String("target"))
			if err != nil {
				return err
			}

			cl := newChainClient(c, solana.Options{})
			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			result, err := cl.AwaitFinality(ctx, solana.AwaitFinalityParams{
				Signature:            sig,
				LastValidBlockHeight: c.Uint64("last-valid-block-height"),
				Target:               target,
				PollInterval:         c.Duration("interval"),
			})
			if err != nil {
				return err
			}

			return printFinality(c, result)
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show an owner's token balance",
		ArgsUsage: "OWNER",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mint",
				Usage: "Token mint (defaults to USDC on --network)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: owner address")
			}
			mint, err := mintOrDefault(c)
			if err != nil {
				return err
			}

			cl := newChainClient(c, solana.Options{})
			balance, err := cl.TokenBalance(context.Background(), c.Args().First(), mint)
			if err != nil {
				return err
			}

			if jsonOutput(c) {
				p, err := newPrinter(c)
				if err != nil {
					return err
				}
				return p.print(map[string]interface{}{
					"owner":         balance.Owner.String(),
					"mint":          balance.Mint.String(),
					"token_account": balance.TokenAccount.String(),
					"exists":        balance.Exists,
					"base_units":    balance.BaseUnits,
					"decimals":      balance.Decimals,
					"amount":        balance.Amount(),
				})
			}

			fmt.Fprintf(c.App.Writer, "Owner:          %s\n", balance.Owner)
			fmt.Fprintf(c.App.Writer, "Mint:           %s\n", balance.Mint)
			fmt.Fprintf(c.App.Writer, "Token Account:  %s\n", balance.TokenAccount)
			if !balance.Exists {
				fmt.Fprintf(c.App.Writer, "Balance:        0 (token account does not exist)\n")
				return nil
			}
			fmt.Fprintf(c.App.Writer, "Balance:        %s (%d base units)\n", balance.Amount(), balance.BaseUnits)
			return nil
		},
	}
}

func ataCommand() *cli.Command {
	return &cli.Command{
		Name:      "ata",
		Usage:     "Derive an owner's associated token account (offline)",
		ArgsUsage: "OWNER",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mint",
				Usage: "Token mint (defaults to USDC on --network)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: owner address")
			}
			owner, err := solana.ParseAddress(c.Args().First())
			if err != nil {
				return err
			}
			mintStr, err := mintOrDefault(c)
			if err != nil {
				return err
			}
			mint, err := solana.ParseAddress(mintStr)
			if err != nil {
				return err
			}

			ata, err := solana.DeriveTokenAccount(owner, mint)
			if err != nil {
				return err
			}

			if jsonOutput(c) {
				p, err := newPrinter(c)
				if err != nil {
					return err
				}
				return p.print(map[string]string{
					"owner":         owner.String(),
					"mint":          mint.String(),
					"token_account": ata.String(),
				})
			}
			fmt.Fprintln(c.App.Writer, ata.String())
			return nil
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show the token transfer recorded in a landed transaction",
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}

			cl := newChainClient(c, solana.Options{})
			landed, err := cl.InspectTransfer(context.Background(), c.Args().First())
			if err != nil {
				return err
			}

			if jsonOutput(c) {
				p, err := newPrinter(c)
				if err != nil {
					return err
				}
				return p.print(landed)
			}

			fmt.Fprintf(c.App.Writer, "Signature:        %s\n", landed.Signature)
			fmt.Fprintf(c.App.Writer, "Slot:             %d\n", landed.Slot)
			if !landed.BlockTime.IsZero() {
				fmt.Fprintf(c.App.Writer, "Block Time:       %s\n", landed.BlockTime.Format(time.RFC3339))
			}
			if landed.Decimals != nil {
				fmt.Fprintf(c.App.Writer, "Amount:           %s (%d base units)\n", solana.FormatBaseUnits(landed.Amount, *landed.Decimals), landed.Amount)
			} else {
				fmt.Fprintf(c.App.Writer, "Amount:           %d base units\n", landed.Amount)
			}
			fmt.Fprintf(c.App.Writer, "Mint:             %s\n", optional(landed.TokenMint))
			fmt.Fprintf(c.App.Writer, "Source:           %s\n", optional(landed.Source))
			fmt.Fprintf(c.App.Writer, "Destination:      %s\n", optional(landed.Destination))
			fmt.Fprintf(c.App.Writer, "Authority:        %s\n", optional(landed.Authority))
			fmt.Fprintf(c.App.Writer, "Memo:             %s\n", optional(landed.Memo))
			fmt.Fprintf(c.App.Writer, "Account Created:  %v\n", landed.ReceiverAccountCreated)
			if landed.Err != nil {
				fmt.Fprintf(c.App.Writer, "Error:            %s\n", *landed.Err)
			}
			return nil
		},
	}
}

func printFinality(c *cli.Context, result *solana.FinalityResult) error {
	out := finalityOutput{
		Signature: result.Signature.String(),
		Status:    string(result.Status),
		Slot:      result.Slot,
		Error:     result.Err,
	}
	if jsonOutput(c) {
		p, err := newPrinter(c)
		if err != nil {
			return err
		}
		return p.print(out)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Signature:  %s\n", out.Signature)
	fmt.Fprintf(w, "Status:     %s\n", out.Status)
	if out.Slot != 0 {
		fmt.Fprintf(w, "Slot:       %d\n", out.Slot)
	}
	if out.Error != nil {
		fmt.Fprintf(w, "Error:      %s\n", *out.Error)
	}
	return nil
}

// newChainClient builds a transfer client against --rpc-url. Logs go to stderr
// at warn level so they don't mix with command output.
func newChainClient(c *cli.Context, opts solana.Options) *solana.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if jsonOutput(c) {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	rpcURL := c.String("rpc-url")
	return solana.NewClient(solana.NewRPCClient(rpcURL), c.String("network"), opts, nil, logger)
}

func senderKey(privateKey, keypairPath string) (solanago.PrivateKey, error) {
	switch {
	case privateKey != "" && keypairPath != "":
		return nil, fmt.Errorf("%w: set only one of --private-key or --keypair", solana.ErrInvalidKey)
	case privateKey != "":
		return solana.ParsePrivateKey(privateKey)
	case keypairPath != "":
		return solana.LoadKeypairFile(keypairPath)
	default:
		return nil, fmt.Errorf("%w: set --private-key or --keypair", solana.ErrInvalidKey)
	}
}

func mintOrDefault(c *cli.Context) (string, error) {
	if mint := c.String("mint"); mint != "" {
		return mint, nil
	}
	return solana.DefaultUSDCMint(c.String("network"))
}

// resolveMint returns the mint and its decimals. The default USDC mint uses the
// well-known decimals; other mints use --decimals or ask the node.
func resolveMint(ctx context.Context, c *cli.Context, cl *solana.Client) (string, uint8, error) {
	mint, err := mintOrDefault(c)
	if err != nil {
		return "", 0, err
	}
	if c.IsSet("decimals") {
		d := c.Uint("decimals")
		if d > 19 {
			return "", 0, fmt.Errorf("decimals %d out of range", d)
		}
		return mint, uint8(d), nil
	}
	if mint == solana.USDCMainnetMint || mint == solana.USDCDevnetMint {
		return mint, solana.USDCDecimals, nil
	}
	decimals, err := cl.MintDecimals(ctx, mint)
	if err != nil {
		return "", 0, fmt.Errorf("failed to look up decimals for %s: %w", mint, err)
	}
	return mint, decimals, nil
}
