// Package wallet holds the signer abstraction and the explicit wallet session
// the orchestrator signs through.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	coreerrors "solfind/core/errors"
	"solfind/crypto"
)

var (
	ErrNotConnected  = errors.New("wallet: not connected")
	ErrSessionClosed = errors.New("wallet: session closed")
)

// Signer is a wallet that can approve and sign transactions. Implementations
// return an error of kind SigningRejected when the user declines.
type Signer interface {
	Connect(ctx context.Context) (solana.PublicKey, error)
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
	SignAllTransactions(ctx context.Context, txs []*solana.Transaction) ([]*solana.Transaction, error)
	Disconnect(ctx context.Context) error
	// SubscribeAddress registers fn for account switches. The returned func
	// removes the subscription.
	SubscribeAddress(fn func(solana.PublicKey)) func()
}

// Rejected returns the error a signer reports when the user declines.
func Rejected(op string) error {
	return coreerrors.New(coreerrors.KindSigningRejected, op, coreerrors.ErrSigningRejected)
}

// KeypairSigner is a file-keypair wallet. Every signing request goes through
// its Approver first.
type KeypairSigner struct {
	mu        sync.RWMutex
	key       solana.PrivateKey
	approver  Approver
	connected bool
	nextSub   int
	subs      map[int]func(solana.PublicKey)
}

// NewKeypairSigner wraps key. A nil approver approves everything.
func NewKeypairSigner(key solana.PrivateKey, approver Approver) *KeypairSigner {
	if approver == nil {
		approver = AutoApprove{}
	}
	return &KeypairSigner{key: key, approver: approver, subs: make(map[int]func(solana.PublicKey))}
}

func (s *KeypairSigner) Connect(ctx context.Context) (solana.PublicKey, error) {
	if err := ctx.Err(); err != nil {
		return solana.PublicKey{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return s.key.PublicKey(), nil
}

func (s *KeypairSigner) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *KeypairSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	out, err := s.SignAllTransactions(ctx, []*solana.Transaction{tx})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// SignAllTransactions asks for one approval covering every transaction.
func (s *KeypairSigner) SignAllTransactions(ctx context.Context, txs []*solana.Transaction) ([]*solana.Transaction, error) {
	s.mu.RLock()
	key, connected, approver := s.key, s.connected, s.approver
	s.mu.RUnlock()
	if !connected {
		return nil, ErrNotConnected
	}
	req := SignRequest{Signer: key.PublicKey(), Transactions: txs}
	for _, tx := range txs {
		req.Summary = append(req.Summary, Summarize(tx)...)
	}
	ok, err := approver.Approve(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("wallet: approval: %w", err)
	}
	if !ok {
		return nil, Rejected("sign")
	}
	for _, tx := range txs {
		if err := crypto.PartialSign(tx, key); err != nil {
			return nil, err
		}
	}
	return txs, nil
}

func (s *KeypairSigner) SubscribeAddress(fn func(solana.PublicKey)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// SetKey switches the active account and notifies subscribers.
func (s *KeypairSigner) SetKey(key solana.PrivateKey) {
	s.mu.Lock()
	s.key = key
	subs := make([]func(solana.PublicKey), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(key.PublicKey())
	}
}
