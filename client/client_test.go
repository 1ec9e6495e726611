package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	coreerrors "solfind/core/errors"
	"solfind/core/txbuilder"
	"solfind/core/types"
	"solfind/crypto"
	"solfind/ledger"
	"solfind/ledger/localnet"
	"solfind/native/escrow"
	"solfind/wallet"
)

var testProgramID = solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")

type env struct {
	ctx      context.Context
	ledger   *localnet.Ledger
	client   *Orchestrator
	reporter solana.PrivateKey
	session  *wallet.Session

	mu     sync.Mutex
	phases []Phase
}

func newEnv(t *testing.T) *env {
	t.Helper()
	opts := localnet.DefaultOptions(testProgramID)
	opts.FeePerSignature = 0
	l, err := localnet.NewMemory(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	e := &env{ctx: context.Background(), ledger: l}
	e.client, err = New(Config{
		Ledger:       l,
		ProgramID:    testProgramID,
		PollInterval: time.Millisecond,
		Observer: func(a Attempt) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.phases = append(e.phases, a.Phase)
		},
	})
	require.NoError(t, err)

	e.reporter = e.fundedKey(t, 10*escrow.MaxReward)
	e.session = e.connect(t, e.reporter, nil)
	return e
}

func (e *env) fundedKey(t *testing.T, lamports uint64) solana.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	if lamports > 0 {
		_, err = e.ledger.Airdrop(e.ctx, k.PublicKey(), lamports)
		require.NoError(t, err)
	}
	return k
}

func (e *env) connect(t *testing.T, key solana.PrivateKey, approver wallet.Approver) *wallet.Session {
	t.Helper()
	s, err := wallet.Connect(e.ctx, wallet.NewKeypairSigner(key, approver))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func (e *env) observed() []Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Phase(nil), e.phases...)
}

func (e *env) balance(t *testing.T, addr solana.PublicKey) uint64 {
	t.Helper()
	bal, err := e.client.Balance(e.ctx, addr)
	require.NoError(t, err)
	return bal
}

func TestCreateScenario(t *testing.T) {
	e := newEnv(t)
	var planned *txbuilder.Plan
	res, err := e.client.Create(e.ctx, e.session, CreateRequest{
		ReportID:     "wallet-123",
		RewardAmount: 5_000_000,
		OnPlanned: func(_ context.Context, p *txbuilder.Plan) error {
			planned = p
			return nil
		},
	})
	require.NoError(t, err)
	require.NotNil(t, planned)
	require.Equal(t, planned.Report, res.Attempt.Report)
	require.Equal(t, PhaseConfirmed, res.Attempt.Phase)
	require.Equal(t, "wallet-123", res.ReportID)
	require.False(t, res.Attempt.Signature == (solana.Signature{}))

	report, err := e.client.Report(e.ctx, res.Attempt.Report)
	require.NoError(t, err)
	require.Equal(t, escrow.ReportOpen, report.Status)
	require.Equal(t, res.Attempt.Escrow, report.Escrow)
	require.Equal(t, uint64(5_000_000), e.balance(t, res.Attempt.Escrow))

	require.Equal(t, []Phase{PhaseBuilding, PhaseAwaitingSignature, PhaseSubmitted, PhaseConfirming, PhaseConfirmed}, e.observed())
}

func TestReleaseScenario(t *testing.T) {
	e := newEnv(t)
	created, err := e.client.Create(e.ctx, e.session, CreateRequest{ReportID: "wallet-123", RewardAmount: 5_000_000})
	require.NoError(t, err)
	finder := e.fundedKey(t, 0)

	res, err := e.client.Release(e.ctx, e.session, created.Attempt.Report, finder.PublicKey())
	require.NoError(t, err)
	require.Equal(t, finder.PublicKey(), res.Attempt.Finder)

	snap, err := e.client.Snapshot(e.ctx, created.Attempt.Report)
	require.NoError(t, err)
	require.Equal(t, escrow.ReportReleased, snap.Report.Status)
	require.Equal(t, uint64(0), snap.EscrowBalance)
	require.Equal(t, uint64(5_000_000), e.balance(t, finder.PublicKey()))

	_, err = e.client.Release(e.ctx, e.session, created.Attempt.Report, finder.PublicKey())
	require.Equal(t, coreerrors.KindStaleState, coreerrors.KindOf(err))
	require.ErrorIs(t, err, escrow.ErrReportNotOpen)
	res, err = e.client.Cancel(e.ctx, e.session, created.Attempt.Report)
	require.Equal(t, coreerrors.KindStaleState, coreerrors.KindOf(err))
	require.Equal(t, PhaseFailed, res.Attempt.Phase)
	require.Equal(t, uint64(5_000_000), e.balance(t, finder.PublicKey()))
}

func TestZeroRewardRejectedBeforeBuilding(t *testing.T) {
	e := newEnv(t)
	height, err := e.ledger.BlockHeight(e.ctx)
	require.NoError(t, err)

	res, err := e.client.Create(e.ctx, e.session, CreateRequest{ReportID: "wallet-123", RewardAmount: 0})
	require.Nil(t, res)
	require.Equal(t, coreerrors.KindValidation, coreerrors.KindOf(err))
	require.Empty(t, e.observed())

	after, err := e.ledger.BlockHeight(e.ctx)
	require.NoError(t, err)
	require.Equal(t, height, after)
}

func TestCancelByNonReporter(t *testing.T) {
	e := newEnv(t)
	created, err := e.client.Create(e.ctx, e.session, CreateRequest{ReportID: "wallet-123", RewardAmount: 5_000_000})
	require.NoError(t, err)

	stranger := e.fundedKey(t, escrow.MaxReward)
	strangerSession := e.connect(t, stranger, nil)
	_, err = e.client.Cancel(e.ctx, strangerSession, created.Attempt.Report)
	require.Equal(t, coreerrors.KindAuthorization, coreerrors.KindOf(err))

	report, err := e.client.Report(e.ctx, created.Attempt.Report)
	require.NoError(t, err)
	require.Equal(t, escrow.ReportOpen, report.Status)
	require.Equal(t, uint64(5_000_000), e.balance(t, created.Attempt.Escrow))
	require.Equal(t, uint64(escrow.MaxReward), e.balance(t, stranger.PublicKey()))
}

func TestReleaseToReporterRejectedClientSide(t *testing.T) {
	e := newEnv(t)
	created, err := e.client.Create(e.ctx, e.session, CreateRequest{ReportID: "self", RewardAmount: 10})
	require.NoError(t, err)
	_, err = e.client.Release(e.ctx, e.session, created.Attempt.Report, e.reporter.PublicKey())
	require.Equal(t, coreerrors.KindValidation, coreerrors.KindOf(err))
}

func TestSigningRejectedStopsAttempt(t *testing.T) {
	e := newEnv(t)
	session := e.connect(t, e.reporter, wallet.ApproverFunc(func(context.Context, wallet.SignRequest) (bool, error) {
		return false, nil
	}))
	res, err := e.client.Create(e.ctx, session, CreateRequest{ReportID: "nope", RewardAmount: 10})
	require.Equal(t, coreerrors.KindSigningRejected, coreerrors.KindOf(err))
	require.Equal(t, PhaseFailed, res.Attempt.Phase)
	require.Equal(t, []Phase{PhaseBuilding, PhaseAwaitingSignature, PhaseFailed}, e.observed())

	_, err = e.ledger.Account(e.ctx, res.Attempt.Report)
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestOnPlannedFailureAbandonsBeforeSigning(t *testing.T) {
	e := newEnv(t)
	signed := false
	session := e.connect(t, e.reporter, wallet.ApproverFunc(func(context.Context, wallet.SignRequest) (bool, error) {
		signed = true
		return true, nil
	}))
	_, err := e.client.Create(e.ctx, session, CreateRequest{
		ReportID: "x", RewardAmount: 10,
		OnPlanned: func(context.Context, *txbuilder.Plan) error { return errors.New("store down") },
	})
	require.Error(t, err)
	require.False(t, signed)
}

func TestClosedSession(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.session.Close(e.ctx))
	_, err := e.client.Create(e.ctx, e.session, CreateRequest{ReportID: "x", RewardAmount: 10})
	require.ErrorIs(t, err, wallet.ErrSessionClosed)
}

func TestConcurrentReleaseAndCancel(t *testing.T) {
	e := newEnv(t)
	created, err := e.client.Create(e.ctx, e.session, CreateRequest{ReportID: "race", RewardAmount: 1_000})
	require.NoError(t, err)
	finder := e.fundedKey(t, 0)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = e.client.Release(e.ctx, e.session, created.Attempt.Report, finder.PublicKey())
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = e.client.Cancel(e.ctx, e.session, created.Attempt.Report)
	}()
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.Equal(t, coreerrors.KindStaleState, coreerrors.KindOf(err))
	}
	require.Equal(t, 1, wins)
	require.Equal(t, uint64(0), e.balance(t, created.Attempt.Escrow))
}

// stalledLedger accepts transactions but never reports them, while block
// height keeps climbing.
type stalledLedger struct {
	*localnet.Ledger
	height uint64
	sent   int
}

func (s *stalledLedger) SendTransaction(_ context.Context, _ *solana.Transaction, _ ledger.SendOptions) (solana.Signature, error) {
	s.sent++
	return solana.Signature{42}, nil
}

func (s *stalledLedger) SignatureStatus(context.Context, solana.Signature) (*ledger.Status, error) {
	return nil, nil
}

func (s *stalledLedger) BlockHeight(context.Context) (uint64, error) {
	s.height += 50
	return s.height, nil
}

func (s *stalledLedger) Account(ctx context.Context, addr solana.PublicKey) (*types.Account, error) {
	return s.Ledger.Account(ctx, addr)
}

func TestBlockhashExpiryIsNetworkFailureWithoutResend(t *testing.T) {
	e := newEnv(t)
	stalled := &stalledLedger{Ledger: e.ledger}
	c, err := New(Config{Ledger: stalled, ProgramID: testProgramID, PollInterval: time.Millisecond})
	require.NoError(t, err)

	res, err := c.Create(e.ctx, e.session, CreateRequest{ReportID: "late", RewardAmount: 10})
	require.ErrorIs(t, err, coreerrors.ErrBlockhashExpired)
	require.Equal(t, coreerrors.KindNetwork, coreerrors.KindOf(err))
	require.Equal(t, PhaseFailed, res.Attempt.Phase)
	require.Equal(t, 1, stalled.sent)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{ProgramID: testProgramID})
	require.Error(t, err)
	_, err = New(Config{Ledger: &stalledLedger{}})
	require.Error(t, err)
}

func TestConfirmTimeoutEndsUnfinalizedAttempt(t *testing.T) {
	opts := localnet.DefaultOptions(testProgramID)
	opts.FeePerSignature = 0
	opts.FinalityDepth = 2
	l, err := localnet.NewMemory(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	c, err := New(Config{Ledger: l, ProgramID: testProgramID, PollInterval: time.Millisecond, ConfirmTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	key, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	_, err = l.Airdrop(context.Background(), key.PublicKey(), escrow.MaxReward)
	require.NoError(t, err)
	session, err := wallet.Connect(context.Background(), wallet.NewKeypairSigner(key, nil))
	require.NoError(t, err)

	// Nothing produces blocks, so the transaction lands and never finalizes.
	started := time.Now()
	res, err := c.Create(context.Background(), session, CreateRequest{ReportID: "stuck", RewardAmount: 10})
	require.ErrorIs(t, err, coreerrors.ErrConfirmTimeout)
	require.Equal(t, coreerrors.KindNetwork, coreerrors.KindOf(err))
	require.Equal(t, PhaseFailed, res.Attempt.Phase)
	require.False(t, res.Attempt.Signature == (solana.Signature{}))
	require.Less(t, time.Since(started), 5*time.Second)
}
