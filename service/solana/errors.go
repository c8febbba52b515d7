package solana

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// Transfer error taxonomy. Every error returned by Client.Transfer wraps exactly one
// of these so callers can branch with errors.Is.
var (
	ErrInvalidAmount                 = errors.New("invalid amount")
	ErrInvalidAddress                = errors.New("invalid address")
	ErrInvalidKey                    = errors.New("invalid private key")
	ErrInvalidMemo                   = errors.New("invalid memo")
	ErrReceiverAccountCreationFailed = errors.New("receiver token account creation failed")
	ErrNetworkUnavailable            = errors.New("network unavailable")
	ErrTransactionRejected           = errors.New("transaction rejected")
)

// networkError wraps a failed read (account info, blockhash, statuses).
// Any failure to obtain data from the node counts as the network being unavailable.
func networkError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNetworkUnavailable, op, err)
}

// submitError classifies a sendTransaction failure. A JSON-RPC error means the node
// answered and refused the transaction; anything else never reached a verdict.
func submitError(err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%w: %s", ErrTransactionRejected, rpcErr.Message)
	}
	return fmt.Errorf("%w: send transaction: %w", ErrNetworkUnavailable, err)
}
