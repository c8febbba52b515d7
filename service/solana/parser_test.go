package solana

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeTransactionResult wraps tx the way getTransaction returns it with base64 encoding.
func makeTransactionResult(t *testing.T, tx *solana.Transaction, slot uint64, blockTime int64) *rpc.GetTransactionResult {
	t.Helper()
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{
		"slot":        slot,
		"blockTime":   blockTime,
		"transaction": []string{base64.StdEncoding.EncodeToString(raw), "base64"},
	})
	require.NoError(t, err)

	var result rpc.GetTransactionResult
	require.NoError(t, json.Unmarshal(payload, &result))
	return &result
}

type transferFixture struct {
	sender   solana.PrivateKey
	receiver solana.PublicKey
	mint     solana.PublicKey
	source   solana.PublicKey
	dest     solana.PublicKey
}

func newTransferFixture(t *testing.T) transferFixture {
	t.Helper()
	f := transferFixture{
		sender:   solana.NewWallet().PrivateKey,
		receiver: solana.NewWallet().PublicKey(),
		mint:     solana.MustPublicKeyFromBase58(USDCMainnetMint),
	}
	var err error
	f.source, err = DeriveTokenAccount(f.sender.PublicKey(), f.mint)
	require.NoError(t, err)
	f.dest, err = DeriveTokenAccount(f.receiver, f.mint)
	require.NoError(t, err)
	return f
}

func TestParseTransfer_CreateTransferMemo(t *testing.T) {
	f := newTransferFixture(t)

	createIx, err := createTokenAccountInstruction(f.sender.PublicKey(), f.receiver, f.mint)
	require.NoError(t, err)
	transferIx, err := transferCheckedInstruction(1_500_000, 6, f.source, f.mint, f.dest, f.sender.PublicKey())
	require.NoError(t, err)
	memoIx, err := memoInstruction("order 991", f.sender.PublicKey())
	require.NoError(t, err)

	tx, err := buildSignedTransaction([]solana.Instruction{createIx, transferIx, memoIx}, solana.Hash{0x01}, f.sender)
	require.NoError(t, err)

	blockTime := time.Now().Unix()
	result := makeTransactionResult(t, tx, 4242, blockTime)

	landed, err := parseTransferFromResult(tx.Signatures[0], result)
	require.NoError(t, err)

	assert.Equal(t, tx.Signatures[0].String(), landed.Signature)
	assert.Equal(t, uint64(4242), landed.Slot)
	assert.Equal(t, time.Unix(blockTime, 0), landed.BlockTime)
	assert.Equal(t, uint64(1_500_000), landed.Amount)
	require.NotNil(t, landed.Decimals)
	assert.Equal(t, uint8(6), *landed.Decimals)
	require.NotNil(t, landed.TokenMint)
	assert.Equal(t, f.mint.String(), *landed.TokenMint)
	require.NotNil(t, landed.Source)
	assert.Equal(t, f.source.String(), *landed.Source)
	require.NotNil(t, landed.Destination)
	assert.Equal(t, f.dest.String(), *landed.Destination)
	require.NotNil(t, landed.Authority)
	assert.Equal(t, f.sender.PublicKey().String(), *landed.Authority)
	require.NotNil(t, landed.Memo)
	assert.Equal(t, "order 991", *landed.Memo)
	assert.True(t, landed.ReceiverAccountCreated)
	assert.Nil(t, landed.Err)
}

func TestParseTransfer_TransferOnly(t *testing.T) {
	f := newTransferFixture(t)

	transferIx, err := transferCheckedInstruction(1, 6, f.source, f.mint, f.dest, f.sender.PublicKey())
	require.NoError(t, err)
	tx, err := buildSignedTransaction([]solana.Instruction{transferIx}, solana.Hash{0x02}, f.sender)
	require.NoError(t, err)

	landed, err := parseTransferFromResult(tx.Signatures[0], makeTransactionResult(t, tx, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), landed.Amount)
	assert.False(t, landed.ReceiverAccountCreated)
	assert.Nil(t, landed.Memo)
}

func TestParseTransfer_FailedTransaction(t *testing.T) {
	f := newTransferFixture(t)

	transferIx, err := transferCheckedInstruction(5, 6, f.source, f.mint, f.dest, f.sender.PublicKey())
	require.NoError(t, err)
	tx, err := buildSignedTransaction([]solana.Instruction{transferIx}, solana.Hash{0x03}, f.sender)
	require.NoError(t, err)

	result := makeTransactionResult(t, tx, 2, 0)
	result.Meta = &rpc.TransactionMeta{
		Err: map[string]any{"InstructionError": []any{0, map[string]any{"Custom": 1}}},
	}

	landed, err := parseTransferFromResult(tx.Signatures[0], result)
	require.NoError(t, err)
	require.NotNil(t, landed.Err)
	assert.Contains(t, *landed.Err, "transaction failed")
}

func TestParseTransfer_NoTokenInstruction(t *testing.T) {
	f := newTransferFixture(t)

	memoIx, err := memoInstruction("just a note", f.sender.PublicKey())
	require.NoError(t, err)
	tx, err := buildSignedTransaction([]solana.Instruction{memoIx}, solana.Hash{0x04}, f.sender)
	require.NoError(t, err)

	_, err = parseTransferFromResult(tx.Signatures[0], makeTransactionResult(t, tx, 3, 0))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no token transfer")
}

func TestParseTransfer_NilResult(t *testing.T) {
	_, err := parseTransferFromResult(testSignature, nil)
	assert.Error(t, err)

	_, err = parseTransferFromResult(testSignature, &rpc.GetTransactionResult{})
	assert.Error(t, err)
}

// TestParseTokenTransfer_Legacy covers the unchecked Transfer instruction some
// wallets still emit.
func TestParseTokenTransfer_Legacy(t *testing.T) {
	source := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()

	data := make([]byte, 9)
	data[0] = TokenProgramTransferInstruction
	binary.LittleEndian.PutUint64(data[1:9], 777)

	instruction := solana.CompiledInstruction{
		ProgramIDIndex: 3,
		Accounts:       []uint16{0, 1, 2},
		Data:           data,
	}

	landed := &LandedTransfer{}
	err := parseTokenTransfer(instruction, []solana.PublicKey{source, dest, authority, TokenProgramID}, landed)
	require.NoError(t, err)
	assert.Equal(t, uint64(777), landed.Amount)
	assert.Nil(t, landed.Decimals)
	assert.Nil(t, landed.TokenMint)
	assert.Equal(t, source.String(), *landed.Source)
	assert.Equal(t, dest.String(), *landed.Destination)
	assert.Equal(t, authority.String(), *landed.Authority)
}

func TestParseTokenTransfer_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		accs []uint16
	}{
		{"empty data", nil, []uint16{0, 1, 2}},
		{"short transfer", []byte{TokenProgramTransferInstruction, 1, 2}, []uint16{0, 1, 2}},
		{"short transferChecked", []byte{TokenProgramTransferCheckedInstruction, 1, 2, 3}, []uint16{0, 1, 2, 3}},
		{"transferChecked missing accounts", append([]byte{TokenProgramTransferCheckedInstruction}, make([]byte, 9)...), []uint16{0, 1}},
		{"unknown instruction", []byte{7}, []uint16{0}},
	}
	keys := []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseTokenTransfer(solana.CompiledInstruction{Accounts: tt.accs, Data: tt.data}, keys, &LandedTransfer{})
			assert.Error(t, err)
		})
	}
}

func TestIsCreateAccount(t *testing.T) {
	assert.True(t, isCreateAccount(nil))
	assert.True(t, isCreateAccount([]byte{AssociatedTokenCreateInstruction}))
	assert.True(t, isCreateAccount([]byte{AssociatedTokenCreateIdempotentInstruction}))
	assert.False(t, isCreateAccount([]byte{2}))
}
