package localnet

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"solfind/core/types"
	"solfind/storage"
)

var (
	accountPrefix   = []byte("acct/")
	signaturePrefix = []byte("sig/")
	genesisKey      = []byte("meta/genesis")
	heightKey       = []byte("meta/height")
)

func accountKey(addr solana.PublicKey) []byte {
	return append(append([]byte(nil), accountPrefix...), addr.String()...)
}

func signatureKey(sig solana.Signature) []byte {
	return append(append([]byte(nil), signaturePrefix...), sig.String()...)
}

type accountReader interface {
	GetAccount(addr solana.PublicKey) (*types.Account, error)
}

// dbReader loads committed accounts.
type dbReader struct {
	db storage.Database
}

func (r dbReader) GetAccount(addr solana.PublicKey) (*types.Account, error) {
	raw, err := r.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var acc types.Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("localnet: decode account %s: %w", addr, err)
	}
	return &acc, nil
}

// overlay buffers account writes on top of a parent view. Nothing reaches the
// parent until flush, so a failed instruction leaves no trace.
type overlay struct {
	parent accountReader
	dirty  map[solana.PublicKey]*types.Account
	order  []solana.PublicKey
}

func newOverlay(parent accountReader) *overlay {
	return &overlay{parent: parent, dirty: make(map[solana.PublicKey]*types.Account)}
}

func (o *overlay) GetAccount(addr solana.PublicKey) (*types.Account, error) {
	if acc, ok := o.dirty[addr]; ok {
		if acc.IsEmpty() {
			return nil, nil
		}
		return acc.Clone(), nil
	}
	acc, err := o.parent.GetAccount(addr)
	if err != nil || acc == nil {
		return nil, err
	}
	return acc.Clone(), nil
}

func (o *overlay) PutAccount(addr solana.PublicKey, acc *types.Account) error {
	if acc == nil {
		acc = &types.Account{}
	}
	if _, ok := o.dirty[addr]; !ok {
		o.order = append(o.order, addr)
	}
	o.dirty[addr] = acc.Clone()
	return nil
}

// flush moves buffered writes into the parent overlay.
func (o *overlay) flush(into *overlay) {
	for _, addr := range o.order {
		_ = into.PutAccount(addr, o.dirty[addr])
	}
}

// stage adds the buffered writes to batch. Emptied accounts are deleted.
func (o *overlay) stage(batch *storage.Batch) error {
	for _, addr := range o.order {
		acc := o.dirty[addr]
		if acc.IsEmpty() {
			batch.Delete(accountKey(addr))
			continue
		}
		raw, err := json.Marshal(acc)
		if err != nil {
			return err
		}
		batch.Put(accountKey(addr), raw)
	}
	return nil
}

func (o *overlay) credit(addr solana.PublicKey, lamports uint64) error {
	acc, err := o.GetAccount(addr)
	if err != nil {
		return err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	if acc.Lamports+lamports < acc.Lamports {
		return errors.New("localnet: lamport overflow")
	}
	acc.Lamports += lamports
	return o.PutAccount(addr, acc)
}

// sigRecord is what the ledger remembers about a processed signature.
type sigRecord struct {
	Slot uint64       `json:"slot"`
	Err  *recordedErr `json:"err,omitempty"`
}

type recordedErr struct {
	InstructionIndex int     `json:"instructionIndex"`
	CustomCode       *uint32 `json:"customCode,omitempty"`
	Message          string  `json:"message,omitempty"`
}
