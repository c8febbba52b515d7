package solana

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Transfer moves params.Amount of params.Mint from the sender's token account to
// the receiver's, provisioning the receiver's token account when it is missing.
//
// Inputs are validated before any network call. The returned signature means the
// node accepted the transaction; use AwaitFinality to learn whether it landed.
// Nothing is retried.
func (c *Client) Transfer(ctx context.Context, params TransferParams) (*TransferResult, error) {
	start := time.Now()
	result, err := c.transfer(ctx, params)
	if c.metrics != nil {
		c.metrics.RecordTransfer(TransferOutcome(err), string(c.opts.AccountCreation), time.Since(start).Seconds())
		if err == nil && result.ReceiverAccountCreated {
			c.metrics.RecordReceiverAccountCreated(string(c.opts.AccountCreation))
		}
	}
	return result, err
}

func (c *Client) transfer(ctx context.Context, params TransferParams) (*TransferResult, error) {
	if err := validatePrivateKey(params.Sender); err != nil {
		return nil, err
	}
	sender := params.Sender.PublicKey()

	receiver, err := ParseAddress(params.Receiver)
	if err != nil {
		return nil, fmt.Errorf("receiver: %w", err)
	}
	mint, err := ParseAddress(params.Mint)
	if err != nil {
		return nil, fmt.Errorf("mint: %w", err)
	}

	amount, err := ToBaseUnits(params.Amount, params.Decimals)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: %s is less than one base unit at %d decimals", ErrInvalidAmount, params.Amount, params.Decimals)
	}

	var memoIx solana.Instruction
	if params.Memo != "" {
		if memoIx, err = memoInstruction(params.Memo, sender); err != nil {
			return nil, err
		}
	}

	sourceATA, err := DeriveTokenAccount(sender, mint)
	if err != nil {
		return nil, err
	}
	destinationATA, err := DeriveTokenAccount(receiver, mint)
	if err != nil {
		return nil, err
	}

	result := &TransferResult{
		Sender:               sender,
		Receiver:             receiver,
		Mint:                 mint,
		SenderTokenAccount:   sourceATA,
		ReceiverTokenAccount: destinationATA,
		BaseUnits:            amount,
		Decimals:             params.Decimals,
	}

	c.logger.DebugContext(ctx, "derived token accounts",
		"sender", sender.String(),
		"sender_token_account", sourceATA.String(),
		"receiver", receiver.String(),
		"receiver_token_account", destinationATA.String(),
		"mint", mint.String(),
	)

	exists, err := c.accountExists(ctx, destinationATA)
	if err != nil {
		return nil, err
	}

	instructions := make([]solana.Instruction, 0, 3)
	if !exists {
		createIx, err := createTokenAccountInstruction(sender, receiver, mint)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrReceiverAccountCreationFailed, err)
		}

		if c.opts.AccountCreation == AccountCreationSeparate {
			creationSig, err := c.createReceiverAccount(ctx, params.Sender, createIx)
			if err != nil {
				c.logger.ErrorContext(ctx, "receiver token account creation failed",
					"receiver_token_account", destinationATA.String(),
					"error", err,
				)
				return nil, fmt.Errorf("%w: %v", ErrReceiverAccountCreationFailed, err)
			}
			result.CreationSignature = &creationSig
		} else {
			// Creation must precede the transfer that references the account.
			instructions = append(instructions, createIx)
		}
		result.ReceiverAccountCreated = true

		c.logger.InfoContext(ctx, "receiver token account missing, creating it",
			"receiver_token_account", destinationATA.String(),
			"mode", string(c.opts.AccountCreation),
		)
	}

	transferIx, err := transferCheckedInstruction(amount, params.Decimals, sourceATA, mint, destinationATA, sender)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, transferIx)
	if memoIx != nil {
		instructions = append(instructions, memoIx)
	}

	blockhash, err := c.latestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := buildSignedTransaction(instructions, blockhash.Blockhash, params.Sender)
	if err != nil {
		return nil, err
	}

	sig, err := c.send(ctx, tx)
	if err != nil {
		c.logger.ErrorContext(ctx, "transfer submission failed",
			"sender", sender.String(),
			"receiver", receiver.String(),
			"base_units", amount,
			"error", err,
		)
		return nil, err
	}

	result.Signature = sig
	result.Blockhash = blockhash.Blockhash
	result.LastValidBlockHeight = blockhash.LastValidBlockHeight

	c.logger.InfoContext(ctx, "transfer submitted",
		"signature", sig.String(),
		"sender", sender.String(),
		"receiver", receiver.String(),
		"mint", mint.String(),
		"base_units", amount,
		"decimals", params.Decimals,
		"receiver_account_created", result.ReceiverAccountCreated,
	)

	return result, nil
}

// createReceiverAccount submits createIx on its own and waits until it reaches
// the client's commitment, so the transfer is only built against an account that exists.
func (c *Client) createReceiverAccount(ctx context.Context, signer solana.PrivateKey, createIx solana.Instruction) (solana.Signature, error) {
	blockhash, err := c.latestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}

	tx, err := buildSignedTransaction([]solana.Instruction{createIx}, blockhash.Blockhash, signer)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := c.send(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.CreationTimeout)
	defer cancel()

	outcome, err := c.AwaitFinality(waitCtx, AwaitFinalityParams{
		Signature:            sig,
		LastValidBlockHeight: blockhash.LastValidBlockHeight,
		Target:               confirmationFor(c.opts.Commitment),
	})
	if err != nil {
		return sig, fmt.Errorf("creation %s not confirmed: %w", sig, err)
	}
	switch outcome.Status {
	case FinalityFailed:
		msg := "unknown error"
		if outcome.Err != nil {
			msg = *outcome.Err
		}
		return sig, fmt.Errorf("creation %s failed on chain: %s", sig, msg)
	case FinalityExpired:
		return sig, fmt.Errorf("creation %s expired before landing", sig)
	}

	c.logger.InfoContext(ctx, "receiver token account created",
		"signature", sig.String(),
		"status", string(outcome.Status),
	)
	return sig, nil
}

func (c *Client) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
		Commitment: c.opts.Commitment,
	})
	c.observeRPC(ctx, "GetAccountInfo", start, err)

	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, networkError("get account info", err)
	}
	return out != nil && out.Value != nil, nil
}

func (c *Client) latestBlockhash(ctx context.Context) (*rpc.LatestBlockhashResult, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, c.opts.Commitment)
	c.observeRPC(ctx, "GetLatestBlockhash", start, err)

	if err != nil {
		return nil, networkError("get latest blockhash", err)
	}
	if out == nil || out.Value == nil {
		return nil, networkError("get latest blockhash", errors.New("empty response"))
	}
	return out.Value, nil
}

func (c *Client) send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	opts := rpc.TransactionOpts{
		SkipPreflight:       c.opts.SkipPreflight,
		PreflightCommitment: c.opts.Commitment,
	}

	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, opts)
	c.observeRPC(ctx, "SendTransaction", start, err)

	if err != nil {
		return solana.Signature{}, submitError(err)
	}
	return sig, nil
}

// buildSignedTransaction assembles instructions with signer as fee payer and signs.
func buildSignedTransaction(instructions []solana.Instruction, blockhash solana.Hash, signer solana.PrivateKey) (*solana.Transaction, error) {
	payer := signer.PublicKey()
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &signer
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}

// TransferOutcome labels a Transfer error by taxonomy class. It is used for
// metrics and as the error kind stored on failed transfers.
func TransferOutcome(err error) string {
	switch {
	case err == nil:
		return "submitted"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrInvalidKey), errors.Is(err, ErrInvalidMemo):
		return "invalid_input"
	case errors.Is(err, ErrReceiverAccountCreationFailed):
		return "creation_failed"
	case errors.Is(err, ErrTransactionRejected):
		return "rejected"
	case errors.Is(err, ErrNetworkUnavailable):
		return "network_unavailable"
	default:
		return "error"
	}
}
