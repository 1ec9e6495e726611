package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrSignerNotRequired = errors.New("crypto: key is not a required signer of the transaction")
	ErrMissingSignature  = errors.New("crypto: transaction is missing a required signature")
	ErrBadSignature      = errors.New("crypto: signature verification failed")
)

// SignerIndex returns the position of key among the transaction's required
// signers, or -1.
func SignerIndex(tx *solana.Transaction, key solana.PublicKey) int {
	if tx == nil {
		return -1
	}
	n := int(tx.Message.Header.NumRequiredSignatures)
	if n > len(tx.Message.AccountKeys) {
		n = len(tx.Message.AccountKeys)
	}
	for i := 0; i < n; i++ {
		if tx.Message.AccountKeys[i].Equals(key) {
			return i
		}
	}
	return -1
}

// PartialSign adds key's signature to tx without touching signatures placed by
// other signers. Transactions that need several signers (the fresh report key
// and the reporter's wallet on create) are assembled this way.
func PartialSign(tx *solana.Transaction, key solana.PrivateKey) error {
	if tx == nil {
		return errors.New("crypto: nil transaction")
	}
	idx := SignerIndex(tx, key.PublicKey())
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrSignerNotRequired, key.PublicKey())
	}
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("crypto: encode message: %w", err)
	}
	sig, err := key.Sign(msg)
	if err != nil {
		return fmt.Errorf("crypto: sign message: %w", err)
	}
	required := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) < required {
		sigs := make([]solana.Signature, required)
		copy(sigs, tx.Signatures)
		tx.Signatures = sigs
	}
	tx.Signatures[idx] = sig
	return nil
}

// VerifySignatures checks that every required signer has produced a valid
// signature over the message.
func VerifySignatures(tx *solana.Transaction) error {
	if tx == nil {
		return errors.New("crypto: nil transaction")
	}
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("crypto: encode message: %w", err)
	}
	required := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) < required || len(tx.Message.AccountKeys) < required {
		return ErrMissingSignature
	}
	for i := 0; i < required; i++ {
		sig := tx.Signatures[i]
		if sig == (solana.Signature{}) {
			return fmt.Errorf("%w: %s", ErrMissingSignature, tx.Message.AccountKeys[i])
		}
		if !ed25519.Verify(ed25519.PublicKey(tx.Message.AccountKeys[i].Bytes()), msg, sig[:]) {
			return fmt.Errorf("%w: %s", ErrBadSignature, tx.Message.AccountKeys[i])
		}
	}
	return nil
}

// MissingSigners lists the required signers that have not signed yet.
func MissingSigners(tx *solana.Transaction) []solana.PublicKey {
	if tx == nil {
		return nil
	}
	required := int(tx.Message.Header.NumRequiredSignatures)
	var out []solana.PublicKey
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if i >= len(tx.Signatures) || tx.Signatures[i] == (solana.Signature{}) {
			out = append(out, tx.Message.AccountKeys[i])
		}
	}
	return out
}
