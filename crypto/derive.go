package crypto

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// EscrowSeed domain-separates escrow custody addresses from any other address
// the program may derive.
const EscrowSeed = "escrow"

var (
	ErrNoViableBump   = errors.New("crypto: no viable bump for escrow address")
	ErrEscrowMismatch = errors.New("crypto: escrow address does not match report")
)

// EscrowSeeds returns the seeds used to derive the escrow account of report.
func EscrowSeeds(report solana.PublicKey) [][]byte {
	return [][]byte{[]byte(EscrowSeed), report.Bytes()}
}

// DeriveEscrowAddress computes the program-owned custody address for report.
// The result is off the ed25519 curve, so no private key can ever sign for it.
// Derivation never depends on user supplied strings.
func DeriveEscrowAddress(programID, report solana.PublicKey) (solana.PublicKey, uint8, error) {
	if report.IsZero() {
		return solana.PublicKey{}, 0, ErrZeroAddress
	}
	addr, bump, err := solana.FindProgramAddress(EscrowSeeds(report), programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("%w: %v", ErrNoViableBump, err)
	}
	return addr, bump, nil
}

// VerifyEscrowAddress recomputes the custody address from the stored bump and
// checks it against escrow.
func VerifyEscrowAddress(programID, report, escrow solana.PublicKey, bump uint8) error {
	seeds := append(EscrowSeeds(report), []byte{bump})
	addr, err := solana.CreateProgramAddress(seeds, programID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEscrowMismatch, err)
	}
	if !addr.Equals(escrow) {
		return ErrEscrowMismatch
	}
	return nil
}
