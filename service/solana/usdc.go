package solana

import (
	"context"
	"io"
	"log/slog"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// TransferUSDC sends amount USDC on mainnet from the holder of senderPrivateKey
// (base58) to receiverAddress (base58) through the RPC node at endpoint, and
// returns the transaction signature. An empty endpoint uses the public mainnet node.
//
// The signature means the node accepted the transaction. Callers that need
// finality should use a Client and AwaitFinality.
func TransferUSDC(ctx context.Context, senderPrivateKey, receiverAddress string, amount decimal.Decimal, endpoint string) (string, error) {
	key, err := ParsePrivateKey(senderPrivateKey)
	if err != nil {
		return "", err
	}
	if endpoint == "" {
		endpoint = rpc.MainNetBeta_RPC
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	client := NewClient(NewRPCClient(endpoint), endpoint, Options{}, nil, logger)

	result, err := client.Transfer(ctx, TransferParams{
		Sender:   key,
		Receiver: receiverAddress,
		Mint:     USDCMainnetMint,
		Amount:   amount,
		Decimals: USDCDecimals,
	})
	if err != nil {
		return "", err
	}
	return result.Signature.String(), nil
}
