package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	coreerrors "solfind/core/errors"
	"solfind/crypto"
)

// Session is a connected wallet. It replaces any process-wide wallet state:
// callers create one with Connect, pass it explicitly, and Close it when
// done. Every method fails with ErrSessionClosed after Close.
type Session struct {
	signer Signer

	mu          sync.RWMutex
	address     solana.PublicKey
	closed      bool
	unsubscribe func()
	watchers    []func(solana.PublicKey)
}

// Connect asks signer to connect and starts tracking its address.
func Connect(ctx context.Context, signer Signer) (*Session, error) {
	if signer == nil {
		return nil, fmt.Errorf("wallet: signer required")
	}
	addr, err := signer.Connect(ctx)
	if err != nil {
		return nil, coreerrors.Classify("connect", err)
	}
	s := &Session{signer: signer, address: addr}
	s.unsubscribe = signer.SubscribeAddress(s.onAddress)
	return s, nil
}

func (s *Session) onAddress(addr solana.PublicKey) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.address = addr
	watchers := append([]func(solana.PublicKey){}, s.watchers...)
	s.mu.Unlock()
	for _, fn := range watchers {
		fn(addr)
	}
}

// Address returns the current wallet address.
func (s *Session) Address() (solana.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return solana.PublicKey{}, ErrSessionClosed
	}
	return s.address, nil
}

// OnAddressChange registers fn for account switches.
func (s *Session) OnAddressChange(fn func(solana.PublicKey)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.watchers = append(s.watchers, fn)
	return nil
}

// Sign asks the wallet to sign tx. Cancelling ctx abandons the request and
// is reported as a rejection; this is the only step of an attempt that can
// be cancelled.
func (s *Session) Sign(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	out, err := s.SignAll(ctx, []*solana.Transaction{tx})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// SignAll signs several transactions with a single approval. The inputs are
// left untouched; the signed transactions are returned.
func (s *Session) SignAll(ctx context.Context, txs []*solana.Transaction) ([]*solana.Transaction, error) {
	addr, err := s.Address()
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if crypto.SignerIndex(tx, addr) < 0 {
			return nil, coreerrors.New(coreerrors.KindValidation, "sign", fmt.Errorf("%w: %s", crypto.ErrSignerNotRequired, addr))
		}
	}

	type result struct {
		txs []*solana.Transaction
		err error
	}
	// The signer gets copies. A request abandoned on cancellation may still
	// sign later, and that must not reach the caller's transactions.
	pending := make([]*solana.Transaction, len(txs))
	for i, tx := range txs {
		cp := *tx
		cp.Signatures = append([]solana.Signature(nil), tx.Signatures...)
		pending[i] = &cp
	}
	done := make(chan result, 1)
	go func() {
		signed, err := s.signer.SignAllTransactions(ctx, pending)
		done <- result{signed, err}
	}()

	select {
	case <-ctx.Done():
		return nil, coreerrors.New(coreerrors.KindSigningRejected, "sign", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, coreerrors.Classify("sign", r.err)
		}
		if len(r.txs) != len(txs) {
			return nil, fmt.Errorf("wallet: signer returned %d transactions, want %d", len(r.txs), len(txs))
		}
		for _, tx := range r.txs {
			if idx := crypto.SignerIndex(tx, addr); idx < 0 || idx >= len(tx.Signatures) || tx.Signatures[idx] == (solana.Signature{}) {
				return nil, fmt.Errorf("%w: %s", crypto.ErrMissingSignature, addr)
			}
		}
		return r.txs, nil
	}
}

// Close disconnects the wallet. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.watchers = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	return s.signer.Disconnect(ctx)
}
