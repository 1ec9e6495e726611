package types

import (
	"bytes"

	"github.com/gagliardetto/solana-go"
)

// Account is the ledger view of a single address: its lamport balance, the
// program that owns it and the raw data the owner stores there.
type Account struct {
	Lamports uint64           `json:"lamports"`
	Owner    solana.PublicKey `json:"owner"`
	Data     []byte           `json:"data,omitempty"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Data != nil {
		clone.Data = append([]byte(nil), a.Data...)
	}
	return &clone
}

// IsEmpty reports whether the account has never been funded or initialised.
func (a *Account) IsEmpty() bool {
	return a == nil || (a.Lamports == 0 && len(a.Data) == 0 && a.Owner.IsZero())
}

// Equal compares two accounts field by field.
func (a *Account) Equal(other *Account) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.Lamports == other.Lamports && a.Owner.Equals(other.Owner) && bytes.Equal(a.Data, other.Data)
}
