package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	coreerrors "solfind/core/errors"
	"solfind/core/types"
	"solfind/native/escrow"
)

type scriptedClient struct {
	mu       sync.Mutex
	statuses []*Status
	height   uint64
	step     uint64
	polls    int
}

func (c *scriptedClient) LatestBlockhash(context.Context) (Blockhash, error) {
	return Blockhash{}, nil
}

func (c *scriptedClient) SendTransaction(context.Context, *solana.Transaction, SendOptions) (solana.Signature, error) {
	return solana.Signature{}, nil
}

func (c *scriptedClient) SignatureStatus(context.Context, solana.Signature) (*Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	if len(c.statuses) == 0 {
		return nil, nil
	}
	s := c.statuses[0]
	if len(c.statuses) > 1 {
		c.statuses = c.statuses[1:]
	}
	return s, nil
}

func (c *scriptedClient) BlockHeight(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += c.step
	return c.height, nil
}

func (c *scriptedClient) Balance(context.Context, solana.PublicKey) (uint64, error) { return 0, nil }

func (c *scriptedClient) Account(context.Context, solana.PublicKey) (*types.Account, error) {
	return nil, ErrAccountNotFound
}

func TestAwaitFinalityReachesFinalized(t *testing.T) {
	c := &scriptedClient{statuses: []*Status{
		nil,
		{Commitment: CommitmentProcessed},
		{Commitment: CommitmentConfirmed},
		{Commitment: CommitmentFinalized},
	}, height: 10}
	var seen []Commitment
	err := AwaitFinality(context.Background(), c, solana.Signature{1}, Blockhash{LastValidBlockHeight: 100}, AwaitOptions{
		Interval: time.Millisecond,
		OnStatus: func(s Commitment) { seen = append(seen, s) },
	})
	require.NoError(t, err)
	require.Equal(t, []Commitment{CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized}, seen)
}

func TestAwaitFinalityExpires(t *testing.T) {
	c := &scriptedClient{height: 95, step: 3}
	err := AwaitFinality(context.Background(), c, solana.Signature{1}, Blockhash{LastValidBlockHeight: 100}, AwaitOptions{Interval: time.Millisecond})
	require.ErrorIs(t, err, coreerrors.ErrBlockhashExpired)
	require.Equal(t, coreerrors.KindNetwork, coreerrors.KindOf(err))
}

func TestAwaitFinalityLandedFailure(t *testing.T) {
	c := &scriptedClient{statuses: []*Status{{Commitment: CommitmentConfirmed, Err: CustomError(0, 6001)}}}
	err := AwaitFinality(context.Background(), c, solana.Signature{1}, Blockhash{LastValidBlockHeight: 100}, AwaitOptions{Interval: time.Millisecond})
	require.ErrorIs(t, err, escrow.ErrReportNotOpen)
	require.Equal(t, coreerrors.KindStaleState, coreerrors.KindOf(err))
}

func TestAwaitFinalityHonoursContext(t *testing.T) {
	c := &scriptedClient{height: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := AwaitFinality(ctx, c, solana.Signature{1}, Blockhash{LastValidBlockHeight: 100}, AwaitOptions{Interval: time.Millisecond})
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Equal(t, coreerrors.KindNetwork, coreerrors.KindOf(err))
}

func TestAwaitFinalityTimesOutOnLandedTransaction(t *testing.T) {
	// Landed but never finalized, with the blockhash long expired.
	c := &scriptedClient{statuses: []*Status{{Commitment: CommitmentConfirmed}}, height: 500}
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	started := time.Now()
	err := AwaitFinality(context.WithoutCancel(ctx), c, solana.Signature{1}, Blockhash{LastValidBlockHeight: 100}, AwaitOptions{
		Interval: time.Millisecond,
		Timeout:  30 * time.Millisecond,
	})
	require.ErrorIs(t, err, coreerrors.ErrConfirmTimeout)
	require.Equal(t, coreerrors.KindNetwork, coreerrors.KindOf(err))
	require.Less(t, time.Since(started), time.Second)
}

func TestParseTxError(t *testing.T) {
	e := ParseTxError("Transaction simulation failed: Error processing Instruction 0: custom program error: 0x1770")
	require.NotNil(t, e)
	require.Equal(t, uint32(6000), *e.CustomCode)
	require.ErrorIs(t, e, escrow.ErrUnauthorized)
	require.Equal(t, coreerrors.KindAuthorization, coreerrors.KindOf(e))

	require.Nil(t, ParseTxError("Blockhash not found"))
}

func TestParseStatusError(t *testing.T) {
	raw := map[string]any{"InstructionError": []any{float64(0), map[string]any{"Custom": float64(6002)}}}
	e := ParseStatusError(raw)
	require.NotNil(t, e)
	require.ErrorIs(t, e, escrow.ErrInvalidFinder)

	e = ParseStatusError("AccountInUse")
	require.Nil(t, e.CustomCode)
	require.Contains(t, e.Error(), "AccountInUse")
	require.Nil(t, ParseStatusError(nil))
}
