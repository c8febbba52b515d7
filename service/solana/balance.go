package solana

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// TokenBalance is an owner's holding of one mint.
type TokenBalance struct {
	Owner        solana.PublicKey
	Mint         solana.PublicKey
	TokenAccount solana.PublicKey
	Exists       bool
	BaseUnits    uint64
	Decimals     uint8
}

// Amount renders the balance in whole tokens.
func (b TokenBalance) Amount() string {
	return FormatBaseUnits(b.BaseUnits, b.Decimals)
}

// TokenBalance looks up owner's associated token account for mint. A missing
// account is reported as a zero balance with Exists false.
func (c *Client) TokenBalance(ctx context.Context, owner, mint string) (*TokenBalance, error) {
	ownerKey, err := ParseAddress(owner)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	mintKey, err := ParseAddress(mint)
	if err != nil {
		return nil, fmt.Errorf("mint: %w", err)
	}
	ata, err := DeriveTokenAccount(ownerKey, mintKey)
	if err != nil {
		return nil, err
	}

	balance := &TokenBalance{
		Owner:        ownerKey,
		Mint:         mintKey,
		TokenAccount: ata,
	}

	exists, err := c.accountExists(ctx, ata)
	if err != nil {
		return nil, err
	}
	if !exists {
		decimals, err := c.MintDecimals(ctx, mint)
		if err != nil {
			return nil, err
		}
		balance.Decimals = decimals
		return balance, nil
	}

	start := time.Now()
	out, err := c.rpc.GetTokenAccountBalance(ctx, ata, c.opts.Commitment)
	c.observeRPC(ctx, "GetTokenAccountBalance", start, err)
	if err != nil {
		return nil, networkError("get token account balance", err)
	}
	if out == nil || out.Value == nil {
		return nil, networkError("get token account balance", errors.New("empty response"))
	}

	units, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance %q: %w", out.Value.Amount, err)
	}
	balance.Exists = true
	balance.BaseUnits = units
	balance.Decimals = out.Value.Decimals
	return balance, nil
}

// MintDecimals returns the decimals recorded on the mint account.
func (c *Client) MintDecimals(ctx context.Context, mint string) (uint8, error) {
	mintKey, err := ParseAddress(mint)
	if err != nil {
		return 0, fmt.Errorf("mint: %w", err)
	}

	start := time.Now()
	out, err := c.rpc.GetTokenSupply(ctx, mintKey, c.opts.Commitment)
	c.observeRPC(ctx, "GetTokenSupply", start, err)
	if err != nil {
		return 0, networkError("get token supply", err)
	}
	if out == nil || out.Value == nil {
		return 0, networkError("get token supply", errors.New("empty response"))
	}
	return out.Value.Decimals, nil
}

// ErrTransactionNotFound is returned by InspectTransfer when the node has no
// record of the signature at the client's commitment.
var ErrTransactionNotFound = errors.New("transaction not found")

// InspectTransfer fetches a landed transaction and extracts its token transfer.
func (c *Client) InspectTransfer(ctx context.Context, signature string) (*LandedTransfer, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.opts.Commitment,
		MaxSupportedTransactionVersion: &[]uint64{0}[0],
	}

	start := time.Now()
	out, err := c.rpc.GetTransaction(ctx, sig, opts)
	c.observeRPC(ctx, "GetTransaction", start, err)
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && out == nil) {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
	}
	if err != nil {
		return nil, networkError("get transaction", err)
	}

	return parseTransferFromResult(sig, out)
}
