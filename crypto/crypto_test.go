package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

var testProgramID = solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")

func TestDeriveEscrowAddressDeterministic(t *testing.T) {
	key, err := GenerateKeypair()
	require.NoError(t, err)
	report := key.PublicKey()

	a1, b1, err := DeriveEscrowAddress(testProgramID, report)
	require.NoError(t, err)
	a2, b2, err := DeriveEscrowAddress(testProgramID, report)
	require.NoError(t, err)
	require.Equal(t, a1, a2)
	require.Equal(t, b1, b2)
	require.False(t, a1.Equals(report))

	require.NoError(t, VerifyEscrowAddress(testProgramID, report, a1, b1))
}

func TestDeriveEscrowAddressDistinctPerReport(t *testing.T) {
	k1, err := GenerateKeypair()
	require.NoError(t, err)
	k2, err := GenerateKeypair()
	require.NoError(t, err)
	a1, _, err := DeriveEscrowAddress(testProgramID, k1.PublicKey())
	require.NoError(t, err)
	a2, _, err := DeriveEscrowAddress(testProgramID, k2.PublicKey())
	require.NoError(t, err)
	require.NotEqual(t, a1, a2)
}

func TestVerifyEscrowAddressRejectsOtherReport(t *testing.T) {
	k1, _ := GenerateKeypair()
	k2, _ := GenerateKeypair()
	addr, bump, err := DeriveEscrowAddress(testProgramID, k1.PublicKey())
	require.NoError(t, err)
	require.ErrorIs(t, VerifyEscrowAddress(testProgramID, k2.PublicKey(), addr, bump), ErrEscrowMismatch)
}

func TestDeriveEscrowAddressRejectsZeroReport(t *testing.T) {
	_, _, err := DeriveEscrowAddress(testProgramID, solana.PublicKey{})
	require.ErrorIs(t, err, ErrZeroAddress)
}

func TestParseAddress(t *testing.T) {
	key, _ := GenerateKeypair()
	pk, err := ParseAddress("  " + key.PublicKey().String() + " ")
	require.NoError(t, err)
	require.Equal(t, key.PublicKey(), pk)

	_, err = ParseAddress("")
	require.ErrorIs(t, err, ErrEmptyAddress)
	_, err = ParseAddress("not-base58-0OIl")
	require.Error(t, err)
	_, err = ParseAddress(solana.PublicKey{}.String())
	require.ErrorIs(t, err, ErrZeroAddress)
}

func TestKeypairRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "id.json")
	key, created, err := LoadOrCreateKeypair(path)
	require.NoError(t, err)
	require.True(t, created)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, created, err := LoadOrCreateKeypair(path)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, key.PublicKey(), loaded.PublicKey())
}

func TestKeypairFromBytesRejectsMismatchedHalves(t *testing.T) {
	k1, _ := GenerateKeypair()
	k2, _ := GenerateKeypair()
	raw := append(append([]byte{}, k1[:32]...), k2[32:]...)
	_, err := KeypairFromBytes(raw)
	require.Error(t, err)
}

func TestPartialSignAndVerify(t *testing.T) {
	payer, _ := GenerateKeypair()
	other, _ := GenerateKeypair()
	outsider, _ := GenerateKeypair()

	ix := solana.NewInstruction(testProgramID, solana.AccountMetaSlice{
		{PublicKey: payer.PublicKey(), IsSigner: true, IsWritable: true},
		{PublicKey: other.PublicKey(), IsSigner: true, IsWritable: true},
	}, []byte{1, 2, 3})
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{1}, solana.TransactionPayer(payer.PublicKey()))
	require.NoError(t, err)

	require.NoError(t, PartialSign(tx, other))
	require.ErrorIs(t, VerifySignatures(tx), ErrMissingSignature)
	require.Equal(t, []solana.PublicKey{payer.PublicKey()}, MissingSigners(tx))

	require.ErrorIs(t, PartialSign(tx, outsider), ErrSignerNotRequired)

	require.NoError(t, PartialSign(tx, payer))
	require.NoError(t, VerifySignatures(tx))
	require.Empty(t, MissingSigners(tx))

	tx.Message.Instructions[0].Data = []byte{9}
	require.ErrorIs(t, VerifySignatures(tx), ErrBadSignature)
}
