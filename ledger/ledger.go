// Package ledger defines the view of the chain the escrow client needs and
// the finality loop shared by every backend.
package ledger

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"

	"solfind/core/types"
)

// ErrAccountNotFound is returned by Account when the address holds nothing.
var ErrAccountNotFound = errors.New("ledger: account not found")

// Commitment is how settled a slot must be before a read reflects it.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Blockhash is a recent blockhash and the last block height at which a
// transaction referencing it can still land.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// Status is the ledger's knowledge of a submitted signature.
type Status struct {
	Slot       uint64
	Commitment Commitment
	// Err is set when the transaction landed but failed.
	Err *TxError
}

// SendOptions mirror the sendTransaction RPC options.
type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment Commitment
	MaxRetries          uint
}

// DefaultSendOptions runs preflight at confirmed commitment and lets the node
// rebroadcast up to three times.
func DefaultSendOptions() SendOptions {
	return SendOptions{PreflightCommitment: CommitmentConfirmed, MaxRetries: 3}
}

// Client is the ledger surface used by the orchestrator, the gateway and
// reconciliation.
type Client interface {
	LatestBlockhash(ctx context.Context) (Blockhash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (solana.Signature, error)
	// SignatureStatus returns nil with no error when the signature is unknown.
	SignatureStatus(ctx context.Context, sig solana.Signature) (*Status, error)
	BlockHeight(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, addr solana.PublicKey) (uint64, error)
	Account(ctx context.Context, addr solana.PublicKey) (*types.Account, error)
}

// Airdropper is implemented by ledgers that can mint test funds.
type Airdropper interface {
	Airdrop(ctx context.Context, addr solana.PublicKey, lamports uint64) (solana.Signature, error)
}

// Closer is implemented by ledgers holding resources.
type Closer interface {
	Close() error
}
