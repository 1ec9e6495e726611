package client

import (
	"time"

	"github.com/gagliardetto/solana-go"

	"solfind/native/escrow"
)

// Phase is where an attempt is in its lifecycle.
type Phase string

const (
	PhaseBuilding          Phase = "building"
	PhaseAwaitingSignature Phase = "awaiting_signature"
	PhaseSubmitted         Phase = "submitted"
	PhaseConfirming        Phase = "confirming"
	PhaseConfirmed         Phase = "confirmed"
	PhaseFailed            Phase = "failed"
)

// Terminal reports whether no further transition can follow.
func (p Phase) Terminal() bool {
	return p == PhaseConfirmed || p == PhaseFailed
}

// Attempt is one try at landing a single escrow transaction. A failed
// attempt is never resubmitted; the caller starts a new one.
type Attempt struct {
	ID        string
	Op        escrow.Op
	Phase     Phase
	Report    solana.PublicKey
	Escrow    solana.PublicKey
	Finder    solana.PublicKey
	Signature solana.Signature
	// LastValidBlockHeight bounds how long the attempt may stay Confirming.
	LastValidBlockHeight uint64
	Err                  error
	StartedAt            time.Time
	UpdatedAt            time.Time
}

// Observer receives a copy of the attempt on every phase change.
type Observer func(Attempt)
