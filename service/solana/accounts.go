package solana

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Well-known USDC mints. These are configuration defaults only; every transfer
// names its mint explicitly.
const (
	USDCMainnetMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCDevnetMint  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	USDCDecimals    = uint8(6)
)

// DefaultUSDCMint returns the USDC mint for a network name ("mainnet" or "devnet").
func DefaultUSDCMint(network string) (string, error) {
	switch network {
	case "mainnet", "mainnet-beta":
		return USDCMainnetMint, nil
	case "devnet":
		return USDCDevnetMint, nil
	default:
		return "", fmt.Errorf("no default USDC mint for network %q", network)
	}
}

// ParseAddress decodes a base58 account address.
func ParseAddress(s string) (solana.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.PublicKey{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	return pk, nil
}

// ParsePrivateKey decodes a base58 64-byte ed25519 key (seed || public key) and
// checks that the public half actually belongs to the seed.
func ParsePrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	key, err := solana.PrivateKeyFromBase58(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not base58", ErrInvalidKey)
	}
	if err := validatePrivateKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// LoadKeypairFile reads a solana-keygen JSON keypair file.
func LoadKeypairFile(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read keypair file %s: %v", ErrInvalidKey, path, err)
	}
	if err := validatePrivateKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

func validatePrivateKey(key solana.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, ed25519.PrivateKeySize, len(key))
	}
	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !bytes.Equal(derived, key) {
		return fmt.Errorf("%w: public key does not match seed", ErrInvalidKey)
	}
	return nil
}

// DeriveTokenAccount returns the associated token account of owner for mint.
// The derivation is deterministic and performs no I/O.
func DeriveTokenAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: failed to derive token account: %v", ErrInvalidAddress, err)
	}
	return ata, nil
}
