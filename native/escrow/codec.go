package escrow

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"reflect"

	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
)

const reportAccountName = "Report"

// InstructionDiscriminator returns sha256("global:<name>")[:8].
func InstructionDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// AccountDiscriminator returns sha256("account:<name>")[:8].
func AccountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// EncodeInstruction serialises args behind op's discriminator. The argument
// type must match the instruction table.
func EncodeInstruction(op Op, args any) ([]byte, error) {
	spec, ok := Lookup(op)
	if !ok {
		return nil, fmt.Errorf("escrow: unknown instruction %q", op)
	}
	if reflect.TypeOf(args) != reflect.TypeOf(spec.Args) {
		return nil, fmt.Errorf("escrow: %s takes %T, got %T", op, spec.Args, args)
	}
	if create, ok := args.(CreateArgs); ok && len(create.ReportID) > MaxReportIDLength {
		return nil, ErrInvalidReportID
	}
	body, err := borsh.Serialize(args)
	if err != nil {
		return nil, fmt.Errorf("escrow: encode %s args: %w", op, err)
	}
	disc := spec.Discriminator()
	return append(disc[:], body...), nil
}

// DecodeInstruction resolves the instruction spec from data's discriminator
// and returns the remaining argument bytes.
func DecodeInstruction(data []byte) (InstructionSpec, []byte, error) {
	if len(data) < 8 {
		return InstructionSpec{}, nil, ErrInvalidInstruction
	}
	for _, spec := range Instructions {
		disc := spec.Discriminator()
		if bytes.Equal(data[:8], disc[:]) {
			return spec, data[8:], nil
		}
	}
	return InstructionSpec{}, nil, ErrInvalidInstruction
}

// DecodeCreateArgs decodes the create_report argument payload.
func DecodeCreateArgs(payload []byte) (CreateArgs, error) {
	var args CreateArgs
	if err := borsh.Deserialize(&args, payload); err != nil {
		return CreateArgs{}, ErrInvalidInstruction
	}
	return args, nil
}

// EncodeReport serialises the account body of r.
func EncodeReport(r *Report) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("escrow: report nil")
	}
	layout := reportLayout{
		Reporter:     r.Reporter,
		RewardAmount: r.RewardAmount,
		ReportID:     r.ReportID,
		Status:       uint8(r.Status),
		EscrowBump:   r.EscrowBump,
	}
	if r.Finder != nil {
		finder := [32]byte(*r.Finder)
		layout.Finder = &finder
	}
	body, err := borsh.Serialize(layout)
	if err != nil {
		return nil, fmt.Errorf("escrow: encode report: %w", err)
	}
	disc := AccountDiscriminator(reportAccountName)
	return append(disc[:], body...), nil
}

// DecodeReport parses report account data. Address and Escrow are left for
// the caller to fill in.
func DecodeReport(data []byte) (*Report, error) {
	disc := AccountDiscriminator(reportAccountName)
	if len(data) < 8 || !bytes.Equal(data[:8], disc[:]) {
		return nil, ErrAccountNotInitialized
	}
	var layout reportLayout
	if err := borsh.Deserialize(&layout, data[8:]); err != nil {
		return nil, fmt.Errorf("escrow: decode report: %w", err)
	}
	r := &Report{
		Reporter:     solana.PublicKey(layout.Reporter),
		RewardAmount: layout.RewardAmount,
		ReportID:     layout.ReportID,
		Status:       ReportStatus(layout.Status),
		EscrowBump:   layout.EscrowBump,
	}
	if layout.Finder != nil {
		finder := solana.PublicKey(*layout.Finder)
		r.Finder = &finder
	}
	return r, nil
}
