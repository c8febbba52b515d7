package solana

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// AccountCreationMode selects how a missing receiver token account is provisioned.
type AccountCreationMode string

const (
	// AccountCreationAtomic puts the create instruction in the transfer transaction,
	// so the ledger applies both or neither.
	AccountCreationAtomic AccountCreationMode = "atomic"

	// AccountCreationSeparate submits the create instruction in its own transaction
	// and waits for it to confirm before building the transfer.
	AccountCreationSeparate AccountCreationMode = "separate"
)

// ParseAccountCreationMode validates a mode string from configuration or flags.
func ParseAccountCreationMode(s string) (AccountCreationMode, error) {
	switch AccountCreationMode(s) {
	case AccountCreationAtomic, AccountCreationSeparate:
		return AccountCreationMode(s), nil
	case "":
		return AccountCreationAtomic, nil
	default:
		return "", fmt.Errorf("unknown account creation mode %q (expected atomic or separate)", s)
	}
}

// TransferParams describes a single token transfer.
// Receiver and Mint are base58 strings so malformed input is reported as
// ErrInvalidAddress before any network call.
type TransferParams struct {
	Sender   solana.PrivateKey
	Receiver string
	Mint     string
	Amount   decimal.Decimal
	Decimals uint8
	Memo     string
}

// TransferResult is returned once the node has accepted the transfer into its
// pending set. It says nothing about finality; see AwaitFinality.
type TransferResult struct {
	Signature            solana.Signature
	Sender               solana.PublicKey
	Receiver             solana.PublicKey
	Mint                 solana.PublicKey
	SenderTokenAccount   solana.PublicKey
	ReceiverTokenAccount solana.PublicKey
	BaseUnits            uint64
	Decimals             uint8

	// ReceiverAccountCreated is true when this transfer provisioned the receiver's
	// token account, either inline or via CreationSignature.
	ReceiverAccountCreated bool
	CreationSignature      *solana.Signature

	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// FinalityStatus is the observed state of a submitted transaction.
type FinalityStatus string

const (
	FinalityPending   FinalityStatus = "pending"
	FinalityProcessed FinalityStatus = "processed"
	FinalityConfirmed FinalityStatus = "confirmed"
	FinalityFinalized FinalityStatus = "finalized"
	FinalityFailed    FinalityStatus = "failed"
	FinalityExpired   FinalityStatus = "expired"
)

// Terminal reports whether no further status change is expected.
func (s FinalityStatus) Terminal() bool {
	return s == FinalityFinalized || s == FinalityFailed || s == FinalityExpired
}

// AwaitFinalityParams controls AwaitFinality.
type AwaitFinalityParams struct {
	Signature solana.Signature

	// LastValidBlockHeight of the blockhash the transaction was built with. Zero
	// disables expiry detection and the wait only ends on status or ctx.
	LastValidBlockHeight uint64

	// Target defaults to finalized.
	Target rpc.ConfirmationStatusType

	// PollInterval defaults to the client's configured interval.
	PollInterval time.Duration
}

// FinalityResult is the outcome of AwaitFinality.
type FinalityResult struct {
	Signature solana.Signature
	Status    FinalityStatus
	Slot      uint64
	Err       *string
}

// LandedTransfer is a parsed on-chain token transfer.
// This is our domain model, independent of the RPC response format.
type LandedTransfer struct {
	Signature              string
	Slot                   uint64
	BlockTime              time.Time
	Amount                 uint64
	Decimals               *uint8  // only present for TransferChecked
	TokenMint              *string // only present for TransferChecked
	Source                 *string // source token account
	Destination            *string // destination token account
	Authority              *string // signing owner of the source account
	Memo                   *string
	ReceiverAccountCreated bool
	Err                    *string // nil if transaction succeeded
}
