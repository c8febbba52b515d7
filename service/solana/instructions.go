package solana

import (
	"fmt"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
)

// maxMemoLength keeps the memo well inside the 1232-byte transaction limit
// alongside a create + transfer pair.
const maxMemoLength = 256

// createTokenAccountInstruction provisions owner's associated token account for
// mint, paid for by payer.
func createTokenAccountInstruction(payer, owner, mint solana.PublicKey) (solana.Instruction, error) {
	ix, err := associatedtokenaccount.NewCreateInstruction(payer, owner, mint).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build create account instruction: %w", err)
	}
	return ix, nil
}

// transferCheckedInstruction moves amount base units between token accounts.
// The checked variant embeds decimals, so the token program rejects the
// instruction if they disagree with the mint.
func transferCheckedInstruction(amount uint64, decimals uint8, source, mint, destination, owner solana.PublicKey) (solana.Instruction, error) {
	ix, err := token.NewTransferCheckedInstruction(
		amount,
		decimals,
		source,
		mint,
		destination,
		owner,
		[]solana.PublicKey{},
	).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer instruction: %w", err)
	}
	return ix, nil
}

// ValidateMemo reports whether memo can be attached to a transfer.
func ValidateMemo(memo string) error {
	if !utf8.ValidString(memo) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidMemo)
	}
	if len(memo) > maxMemoLength {
		return fmt.Errorf("%w: %d bytes, maximum is %d", ErrInvalidMemo, len(memo), maxMemoLength)
	}
	return nil
}

// memoInstruction attaches a UTF-8 memo signed by signer.
func memoInstruction(memo string, signer solana.PublicKey) (solana.Instruction, error) {
	if err := ValidateMemo(memo); err != nil {
		return nil, err
	}
	return solana.NewInstruction(
		MemoProgramIDSPL,
		solana.AccountMetaSlice{solana.NewAccountMeta(signer, false, true)},
		[]byte(memo),
	), nil
}
