package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrEmptyAddress = errors.New("crypto: empty address")
	ErrZeroAddress  = errors.New("crypto: zero address")
)

// ParseAddress decodes a base58 wallet or account address. The all-zero key is
// rejected because it can never sign and is a common placeholder value.
func ParseAddress(raw string) (solana.PublicKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return solana.PublicKey{}, ErrEmptyAddress
	}
	pk, err := solana.PublicKeyFromBase58(trimmed)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("crypto: invalid address %q: %w", trimmed, err)
	}
	if pk.IsZero() {
		return solana.PublicKey{}, ErrZeroAddress
	}
	return pk, nil
}

// GenerateKeypair creates a fresh ed25519 keypair.
func GenerateKeypair() (solana.PrivateKey, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	return key, nil
}

// KeypairFromBytes validates a 64-byte secret key (seed followed by public key)
// as produced by solana-keygen.
func KeypairFromBytes(raw []byte) (solana.PrivateKey, error) {
	if len(raw) != 64 {
		return nil, fmt.Errorf("crypto: keypair must be 64 bytes, got %d", len(raw))
	}
	key := solana.PrivateKey(append([]byte(nil), raw...))
	derived := solana.PrivateKey(ed25519.NewKeyFromSeed(raw[:32]))
	if !derived.PublicKey().Equals(key.PublicKey()) {
		return nil, errors.New("crypto: keypair public half does not match seed")
	}
	return key, nil
}

// ShortAddress renders an address as its first and last four characters.
func ShortAddress(pk solana.PublicKey) string {
	s := pk.String()
	if len(s) <= 10 {
		return s
	}
	return s[:4] + ".." + s[len(s)-4:]
}
