package escrow

import (
	"github.com/gagliardetto/solana-go"
)

// AccountRef is an account as presented to the program by the runtime: its
// key and the signer/writable flags the transaction granted it.
type AccountRef struct {
	Key      solana.PublicKey
	Signer   bool
	Writable bool
}

// Execute decodes one instruction and runs it. The account list is checked
// slot by slot against the instruction table before any state is touched, so
// an omitted or mistagged account is rejected outright.
func (e *Engine) Execute(refs []AccountRef, data []byte) (*Report, error) {
	spec, payload, err := DecodeInstruction(data)
	if err != nil {
		return nil, err
	}
	if len(refs) != len(spec.Accounts) {
		return nil, ErrInvalidInstruction
	}
	for i, slot := range spec.Accounts {
		ref := refs[i]
		if slot.Signer && !ref.Signer {
			return nil, ErrAccountNotSigner
		}
		if slot.Writable && !ref.Writable {
			return nil, ErrAccountNotMutable
		}
		if slot.Address != nil && !ref.Key.Equals(*slot.Address) {
			return nil, ErrInvalidInstruction
		}
	}
	key := func(name string) solana.PublicKey { return refs[spec.AccountIndex(name)].Key }

	switch spec.Op {
	case OpCreate:
		args, err := DecodeCreateArgs(payload)
		if err != nil {
			return nil, err
		}
		return e.Create(CreateAccounts{
			Report:   key(AccountReport),
			Escrow:   key(AccountEscrow),
			Reporter: key(AccountReporter),
		}, args)
	case OpRelease:
		return e.Release(SettleAccounts{
			Report:   key(AccountReport),
			Escrow:   key(AccountEscrow),
			Reporter: key(AccountReporter),
			Finder:   key(AccountFinder),
		})
	case OpCancel:
		return e.Cancel(SettleAccounts{
			Report:   key(AccountReport),
			Escrow:   key(AccountEscrow),
			Reporter: key(AccountReporter),
		})
	}
	return nil, ErrInvalidInstruction
}
