// Package rpcledger implements ledger.Client against a cluster JSON-RPC
// endpoint.
package rpcledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"

	coreerrors "solfind/core/errors"
	"solfind/core/types"
	"solfind/ledger"
)

// DefaultRequestsPerSecond stays under the public cluster limits.
const DefaultRequestsPerSecond = 8

// Config configures the RPC ledger.
type Config struct {
	Endpoint          string
	RequestsPerSecond float64
	Burst             int
	Logger            *slog.Logger
}

// Ledger talks to a cluster through solana-go's RPC client.
type Ledger struct {
	rpc     *rpc.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ ledger.Client = (*Ledger)(nil)

// New validates the endpoint and builds the client.
func New(cfg Config) (*Ledger, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("rpcledger: invalid endpoint %q", cfg.Endpoint)
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		rpc:     rpc.New(endpoint),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.With("component", "rpcledger", "endpoint", u.Host),
	}, nil
}

func (l *Ledger) wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return coreerrors.New(coreerrors.KindNetwork, "rpc", err)
	}
	return nil
}

// wrap classifies transport failures and recovers program errors from
// preflight messages.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if txErr := ledger.ParseTxError(err.Error()); txErr != nil {
		return txErr
	}
	return coreerrors.Classify(op, err)
}

func commitment(c ledger.Commitment) rpc.CommitmentType {
	switch c {
	case ledger.CommitmentProcessed:
		return rpc.CommitmentProcessed
	case ledger.CommitmentConfirmed:
		return rpc.CommitmentConfirmed
	default:
		return rpc.CommitmentFinalized
	}
}

// LatestBlockhash fetches the latest finalized blockhash.
func (l *Ledger) LatestBlockhash(ctx context.Context) (ledger.Blockhash, error) {
	if err := l.wait(ctx); err != nil {
		return ledger.Blockhash{}, err
	}
	out, err := l.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return ledger.Blockhash{}, wrap("getLatestBlockhash", err)
	}
	if out == nil || out.Value == nil {
		return ledger.Blockhash{}, coreerrors.New(coreerrors.KindNetwork, "getLatestBlockhash", errors.New("empty response"))
	}
	return ledger.Blockhash{Hash: out.Value.Blockhash, LastValidBlockHeight: out.Value.LastValidBlockHeight}, nil
}

// SendTransaction submits a fully signed transaction.
func (l *Ledger) SendTransaction(ctx context.Context, tx *solana.Transaction, opts ledger.SendOptions) (solana.Signature, error) {
	if err := l.wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	rpcOpts := rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: commitment(opts.PreflightCommitment),
	}
	if opts.MaxRetries > 0 {
		retries := opts.MaxRetries
		rpcOpts.MaxRetries = &retries
	}
	sig, err := l.rpc.SendTransactionWithOpts(ctx, tx, rpcOpts)
	if err != nil {
		l.logger.Debug("send failed", slog.Any("error", err))
		return solana.Signature{}, wrap("sendTransaction", err)
	}
	return sig, nil
}

// SignatureStatus looks sig up, searching history so older signatures are
// still found.
func (l *Ledger) SignatureStatus(ctx context.Context, sig solana.Signature) (*ledger.Status, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	out, err := l.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, wrap("getSignatureStatuses", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return nil, nil
	}
	v := out.Value[0]
	status := &ledger.Status{Slot: v.Slot, Commitment: ledger.Commitment(v.ConfirmationStatus)}
	if status.Commitment == "" {
		status.Commitment = ledger.CommitmentProcessed
	}
	if v.Err != nil {
		status.Err = ledger.ParseStatusError(v.Err)
	}
	return status, nil
}

// BlockHeight returns the confirmed block height, which is what blockhash
// expiry is measured against.
func (l *Ledger) BlockHeight(ctx context.Context) (uint64, error) {
	if err := l.wait(ctx); err != nil {
		return 0, err
	}
	h, err := l.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, wrap("getBlockHeight", err)
	}
	return h, nil
}

// Balance returns the lamports held by addr at finalized commitment.
func (l *Ledger) Balance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	if err := l.wait(ctx); err != nil {
		return 0, err
	}
	out, err := l.rpc.GetBalance(ctx, addr, rpc.CommitmentFinalized)
	if err != nil {
		return 0, wrap("getBalance", err)
	}
	return out.Value, nil
}

// Account fetches the account at addr.
func (l *Ledger) Account(ctx context.Context, addr solana.PublicKey) (*types.Account, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	out, err := l.rpc.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{Commitment: rpc.CommitmentFinalized})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, wrap("getAccountInfo", err)
	}
	if out == nil || out.Value == nil {
		return nil, ledger.ErrAccountNotFound
	}
	acc := &types.Account{Lamports: out.Value.Lamports, Owner: out.Value.Owner}
	if out.Value.Data != nil {
		acc.Data = out.Value.Data.GetBinary()
	}
	return acc, nil
}

// Airdrop requests test funds. Only devnet and local validators honour it.
func (l *Ledger) Airdrop(ctx context.Context, addr solana.PublicKey, lamports uint64) (solana.Signature, error) {
	if err := l.wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	sig, err := l.rpc.RequestAirdrop(ctx, addr, lamports, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Signature{}, wrap("requestAirdrop", err)
	}
	return sig, nil
}

// Close releases the underlying HTTP client.
func (l *Ledger) Close() error {
	return l.rpc.Close()
}
