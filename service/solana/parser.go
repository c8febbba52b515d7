package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known Solana program IDs
var (
	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// AssociatedTokenProgramID is the SPL Associated Token Account program
	AssociatedTokenProgramID = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

	// MemoProgramIDSPL is the SPL Memo program (most common)
	MemoProgramIDSPL = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	// MemoProgramIDLegacy is the legacy memo program (v1)
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// Associated Token Account program instruction types. An empty payload is the
// original Create instruction.
const (
	AssociatedTokenCreateInstruction           = uint8(0)
	AssociatedTokenCreateIdempotentInstruction = uint8(1)
)

// parseTransferFromResult extracts the token transfer, account creation and memo
// from a landed transaction.
func parseTransferFromResult(sig solana.Signature, result *rpc.GetTransactionResult) (*LandedTransfer, error) {
	if result == nil || result.Transaction == nil {
		return nil, fmt.Errorf("transaction %s not available", sig)
	}

	landed := &LandedTransfer{
		Signature: sig.String(),
		Slot:      result.Slot,
	}
	if result.BlockTime != nil {
		landed.BlockTime = result.BlockTime.Time()
	}
	if result.Meta != nil && result.Meta.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", result.Meta.Err)
		landed.Err = &errMsg
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	found := false
	accountKeys := tx.Message.AccountKeys
	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		switch {
		case programID.Equals(TokenProgramID):
			if err := parseTokenTransfer(instruction, accountKeys, landed); err == nil {
				found = true
			}
		case programID.Equals(AssociatedTokenProgramID):
			if isCreateAccount(instruction.Data) {
				landed.ReceiverAccountCreated = true
			}
		case programID.Equals(MemoProgramIDSPL) || programID.Equals(MemoProgramIDLegacy):
			if memo := string(instruction.Data); memo != "" {
				landed.Memo = &memo
			}
		}
	}

	if !found {
		return nil, fmt.Errorf("transaction %s contains no token transfer", sig)
	}
	return landed, nil
}

func isCreateAccount(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	return data[0] == AssociatedTokenCreateInstruction || data[0] == AssociatedTokenCreateIdempotentInstruction
}

// parseTokenTransfer fills landed from an SPL Token Transfer or TransferChecked instruction.
func parseTokenTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, landed *LandedTransfer) error {
	if len(instruction.Data) == 0 {
		return fmt.Errorf("empty instruction data")
	}

	key := func(pos int) *string {
		if pos >= len(instruction.Accounts) {
			return nil
		}
		idx := instruction.Accounts[pos]
		if int(idx) >= len(accountKeys) {
			return nil
		}
		s := accountKeys[idx].String()
		return &s
	}

	switch instruction.Data[0] {
	case TokenProgramTransferInstruction:
		// Transfer instruction format:
		// [0]     = instruction type (u8, 3 = Transfer)
		// [1..9]  = amount (u64)
		// accounts: [source, destination, authority]
		if len(instruction.Data) < 9 {
			return fmt.Errorf("transfer instruction data too short")
		}
		landed.Amount = binary.LittleEndian.Uint64(instruction.Data[1:9])
		landed.Source = key(0)
		landed.Destination = key(1)
		landed.Authority = key(2)
		return nil

	case TokenProgramTransferCheckedInstruction:
		// TransferChecked instruction format:
		// [0]      = instruction type (u8, 12 = TransferChecked)
		// [1..9]   = amount (u64)
		// [9]      = decimals (u8)
		// accounts: [source, mint, destination, authority]
		if len(instruction.Data) < 10 {
			return fmt.Errorf("transferChecked instruction data too short")
		}
		if len(instruction.Accounts) < 4 {
			return fmt.Errorf("transferChecked missing accounts")
		}
		landed.Amount = binary.LittleEndian.Uint64(instruction.Data[1:9])
		decimals := instruction.Data[9]
		landed.Decimals = &decimals
		landed.Source = key(0)
		landed.TokenMint = key(1)
		landed.Destination = key(2)
		landed.Authority = key(3)
		return nil

	default:
		return fmt.Errorf("unknown token instruction type: %d", instruction.Data[0])
	}
}
