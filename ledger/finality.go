package ledger

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"

	coreerrors "solfind/core/errors"
)

const (
	// DefaultPollInterval is how often AwaitFinality polls when no interval
	// is given.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultConfirmTimeout bounds a confirmation when no timeout is given.
	DefaultConfirmTimeout = 2 * time.Minute
)

// AwaitOptions tune AwaitFinality.
type AwaitOptions struct {
	Interval time.Duration
	// Timeout caps the whole wait, including the time spent on a landed
	// transaction after its blockhash expired.
	Timeout time.Duration
	// OnStatus is called whenever the observed commitment changes.
	OnStatus func(Commitment)
}

// AwaitFinality polls sig until it is finalized, fails, or the blockhash it
// was built against expires. A landed transaction is waited on past expiry
// since it can no longer be dropped, but never past opts.Timeout. Giving up
// is a network failure: the caller treats the attempt as failed and starts a
// fresh one. The transaction is never resent.
func AwaitFinality(ctx context.Context, c Client, sig solana.Signature, bh Blockhash, opts AwaitOptions) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last Commitment
	for {
		status, err := c.SignatureStatus(ctx, sig)
		if err != nil {
			return coreerrors.Classify("confirm", err)
		}
		if status != nil {
			if status.Err != nil {
				return status.Err
			}
			if status.Commitment != last {
				last = status.Commitment
				if opts.OnStatus != nil {
					opts.OnStatus(last)
				}
			}
			if status.Commitment == CommitmentFinalized {
				return nil
			}
		} else {
			height, err := c.BlockHeight(ctx)
			if err != nil {
				return coreerrors.Classify("confirm", err)
			}
			if height > bh.LastValidBlockHeight {
				return coreerrors.New(coreerrors.KindNetwork, "confirm", coreerrors.ErrBlockhashExpired)
			}
		}

		select {
		case <-ctx.Done():
			return coreerrors.New(coreerrors.KindNetwork, "confirm", ctx.Err())
		case <-deadline.C:
			return coreerrors.New(coreerrors.KindNetwork, "confirm", coreerrors.ErrConfirmTimeout)
		case <-ticker.C:
		}
	}
}
