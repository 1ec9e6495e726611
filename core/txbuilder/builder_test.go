package txbuilder

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	coreerrors "solfind/core/errors"
	"solfind/crypto"
	"solfind/native/escrow"
)

var testProgramID = solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")

func mustKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	return k
}

// instructionAccounts resolves the compiled instruction's account indexes back
// to keys and flags, the way a validator sees them.
func instructionAccounts(tx *solana.Transaction) []escrow.AccountRef {
	msg := tx.Message
	ix := msg.Instructions[0]
	n := len(msg.AccountKeys)
	signed := int(msg.Header.NumRequiredSignatures)
	out := make([]escrow.AccountRef, 0, len(ix.Accounts))
	for _, idx := range ix.Accounts {
		i := int(idx)
		writable := false
		if i < signed {
			writable = i < signed-int(msg.Header.NumReadonlySignedAccounts)
		} else {
			writable = i < n-int(msg.Header.NumReadonlyUnsignedAccounts)
		}
		out = append(out, escrow.AccountRef{Key: msg.AccountKeys[i], Signer: i < signed, Writable: writable})
	}
	return out
}

func TestBuildCreateMatchesSchema(t *testing.T) {
	reporter := mustKey(t)
	reportKey := mustKey(t)
	b := New(testProgramID)
	b.SetKeyGenerator(func() (solana.PrivateKey, error) { return reportKey, nil })

	plan, err := b.BuildCreate(CreateParams{
		Reporter:     reporter.PublicKey(),
		ReportID:     "wallet 123!",
		RewardAmount: 5_000_000,
		Blockhash:    solana.Hash{7},
	})
	require.NoError(t, err)
	require.Equal(t, "wallet123", plan.ReportID)
	require.Equal(t, reportKey.PublicKey(), plan.Report)
	require.Len(t, plan.Ephemeral, 1)

	wantEscrow, _, err := crypto.DeriveEscrowAddress(testProgramID, plan.Report)
	require.NoError(t, err)
	require.Equal(t, wantEscrow, plan.Escrow)

	require.Equal(t, reporter.PublicKey(), plan.Tx.Message.AccountKeys[0], "reporter pays fees")
	require.Equal(t, uint8(2), plan.Tx.Message.Header.NumRequiredSignatures)

	refs := instructionAccounts(plan.Tx)
	spec, _ := escrow.Lookup(escrow.OpCreate)
	require.Len(t, refs, len(spec.Accounts))
	require.Equal(t, plan.Report, refs[0].Key)
	require.Equal(t, plan.Escrow, refs[1].Key)
	require.Equal(t, reporter.PublicKey(), refs[2].Key)
	require.Equal(t, solana.SystemProgramID, refs[3].Key)
	for i, slot := range spec.Accounts {
		require.Equal(t, slot.Signer, refs[i].Signer, slot.Name)
		if slot.Writable {
			require.True(t, refs[i].Writable, slot.Name)
		}
	}

	require.Equal(t, []solana.PublicKey{reporter.PublicKey(), plan.Report}, crypto.MissingSigners(plan.Tx))
	require.NoError(t, crypto.PartialSign(plan.Tx, plan.Ephemeral[0]))
	require.NoError(t, crypto.PartialSign(plan.Tx, reporter))
	require.NoError(t, crypto.VerifySignatures(plan.Tx))
}

func TestBuildCreateValidation(t *testing.T) {
	b := New(testProgramID)
	reporter := mustKey(t).PublicKey()
	cases := []CreateParams{
		{Reporter: reporter, ReportID: "ok", RewardAmount: 0, Blockhash: solana.Hash{1}},
		{Reporter: reporter, ReportID: "ok", RewardAmount: escrow.MaxReward + 1, Blockhash: solana.Hash{1}},
		{Reporter: reporter, ReportID: "!!!", RewardAmount: 1, Blockhash: solana.Hash{1}},
		{ReportID: "ok", RewardAmount: 1, Blockhash: solana.Hash{1}},
	}
	for _, p := range cases {
		plan, err := b.BuildCreate(p)
		require.Nil(t, plan)
		require.Equal(t, coreerrors.KindValidation, coreerrors.KindOf(err), "%+v", p)
	}
}

func TestBuildReleaseLayout(t *testing.T) {
	b := New(testProgramID)
	reporter := mustKey(t).PublicKey()
	report := mustKey(t).PublicKey()
	finder := mustKey(t).PublicKey()

	plan, err := b.BuildRelease(ReleaseParams{Reporter: reporter, Report: report, Finder: finder, Blockhash: solana.Hash{3}})
	require.NoError(t, err)
	require.Empty(t, plan.Ephemeral)
	require.Equal(t, uint8(1), plan.Tx.Message.Header.NumRequiredSignatures)

	refs := instructionAccounts(plan.Tx)
	require.Equal(t, []solana.PublicKey{report, plan.Escrow, reporter, finder, solana.SystemProgramID},
		[]solana.PublicKey{refs[0].Key, refs[1].Key, refs[2].Key, refs[3].Key, refs[4].Key})
	require.True(t, refs[3].Writable)
	require.False(t, refs[3].Signer)
}

func TestBuildReleaseValidation(t *testing.T) {
	b := New(testProgramID)
	reporter := mustKey(t).PublicKey()
	report := mustKey(t).PublicKey()
	for _, finder := range []solana.PublicKey{{}, reporter, report} {
		_, err := b.BuildRelease(ReleaseParams{Reporter: reporter, Report: report, Finder: finder, Blockhash: solana.Hash{1}})
		require.Equal(t, coreerrors.KindValidation, coreerrors.KindOf(err))
	}
}

func TestBuildCancel(t *testing.T) {
	b := New(testProgramID)
	reporter := mustKey(t).PublicKey()
	report := mustKey(t).PublicKey()

	plan, err := b.BuildCancel(CancelParams{Reporter: reporter, Report: report, Blockhash: solana.Hash{9}})
	require.NoError(t, err)
	require.Len(t, instructionAccounts(plan.Tx), 4)

	_, err = b.BuildCancel(CancelParams{Reporter: reporter, Blockhash: solana.Hash{9}})
	require.Equal(t, coreerrors.KindValidation, coreerrors.KindOf(err))
	_, err = b.BuildCancel(CancelParams{Reporter: reporter, Report: report})
	require.Error(t, err)
}
