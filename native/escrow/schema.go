package escrow

import (
	_ "embed"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// SchemaVersion names the program build this client is compiled against. The
// account list and argument layout below must change together with it.
const SchemaVersion = "solfind-escrow/1"

// Op names an escrow program instruction.
type Op string

const (
	OpCreate  Op = "create_report"
	OpRelease Op = "release_reward"
	OpCancel  Op = "cancel_report"
)

// Account slot names shared by the instructions.
const (
	AccountReport        = "report"
	AccountEscrow        = "escrow"
	AccountReporter      = "reporter"
	AccountFinder        = "finder"
	AccountSystemProgram = "system_program"
)

// AccountSpec describes one slot of an instruction's account list.
type AccountSpec struct {
	Name     string
	Writable bool
	Signer   bool
	// Address pins the slot to a fixed key, such as the system program.
	Address *solana.PublicKey
}

// InstructionSpec is the static layout of one instruction.
type InstructionSpec struct {
	Op       Op
	Accounts []AccountSpec
	Args     any
}

// CreateArgs are the borsh-encoded arguments of create_report.
type CreateArgs struct {
	ReportID     string `idl:"report_id"`
	RewardAmount uint64 `idl:"reward_amount"`
}

// ReleaseArgs is empty; release_reward takes only accounts.
type ReleaseArgs struct{}

// CancelArgs is empty; cancel_report takes only accounts.
type CancelArgs struct{}

// reportLayout is the borsh layout of the Report account body.
type reportLayout struct {
	Reporter     [32]byte  `idl:"reporter"`
	Finder       *[32]byte `idl:"finder"`
	RewardAmount uint64    `idl:"reward_amount"`
	ReportID     string    `idl:"report_id"`
	Status       uint8     `idl:"status"`
	EscrowBump   uint8     `idl:"escrow_bump"`
}

var systemProgramID = solana.SystemProgramID

// Instructions is the escrow program's instruction table.
var Instructions = []InstructionSpec{
	{
		Op: OpCreate,
		Accounts: []AccountSpec{
			{Name: AccountReport, Writable: true, Signer: true},
			{Name: AccountEscrow, Writable: true},
			{Name: AccountReporter, Writable: true, Signer: true},
			{Name: AccountSystemProgram, Address: &systemProgramID},
		},
		Args: CreateArgs{},
	},
	{
		Op: OpRelease,
		Accounts: []AccountSpec{
			{Name: AccountReport, Writable: true},
			{Name: AccountEscrow, Writable: true},
			{Name: AccountReporter, Writable: true, Signer: true},
			{Name: AccountFinder, Writable: true},
			{Name: AccountSystemProgram, Address: &systemProgramID},
		},
		Args: ReleaseArgs{},
	},
	{
		Op: OpCancel,
		Accounts: []AccountSpec{
			{Name: AccountReport, Writable: true},
			{Name: AccountEscrow, Writable: true},
			{Name: AccountReporter, Writable: true, Signer: true},
			{Name: AccountSystemProgram, Address: &systemProgramID},
		},
		Args: CancelArgs{},
	},
}

// Lookup returns the instruction layout for op.
func Lookup(op Op) (InstructionSpec, bool) {
	for _, spec := range Instructions {
		if spec.Op == op {
			return spec, true
		}
	}
	return InstructionSpec{}, false
}

// AccountIndex returns the slot index of the named account, or -1.
func (s InstructionSpec) AccountIndex(name string) int {
	for i, acc := range s.Accounts {
		if acc.Name == name {
			return i
		}
	}
	return -1
}

// Discriminator returns the 8-byte Anchor instruction tag.
func (s InstructionSpec) Discriminator() [8]byte {
	return InstructionDiscriminator(string(s.Op))
}

//go:embed idl.yaml
var publishedIDL []byte

type idlDocument struct {
	Version      string           `yaml:"version"`
	Name         string           `yaml:"name"`
	Instructions []idlInstruction `yaml:"instructions"`
	Accounts     []idlAccount     `yaml:"accounts"`
	Errors       []idlError       `yaml:"errors"`
}

type idlInstruction struct {
	Name     string     `yaml:"name"`
	Accounts []idlSlot  `yaml:"accounts"`
	Args     []idlField `yaml:"args"`
}

type idlSlot struct {
	Name     string `yaml:"name"`
	Writable bool   `yaml:"writable"`
	Signer   bool   `yaml:"signer"`
	Address  string `yaml:"address"`
}

type idlField struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type idlAccount struct {
	Name   string     `yaml:"name"`
	Fields []idlField `yaml:"fields"`
}

type idlError struct {
	Code uint32 `yaml:"code"`
	Name string `yaml:"name"`
}

var (
	schemaOnce sync.Once
	schemaErr  error
)

// ValidateSchema checks the compiled instruction table, argument layouts,
// account layout and error codes against the published program IDL. Callers
// run it at startup so a mismatch stops the process before any transaction is
// built.
func ValidateSchema() error {
	schemaOnce.Do(func() {
		schemaErr = ValidateSchemaAgainst(publishedIDL)
	})
	return schemaErr
}

// ValidateSchemaAgainst is ValidateSchema for an arbitrary IDL document.
func ValidateSchemaAgainst(raw []byte) error {
	var doc idlDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("escrow schema: parse idl: %w", err)
	}
	if doc.Version != SchemaVersion {
		return fmt.Errorf("escrow schema: idl version %q, client built for %q", doc.Version, SchemaVersion)
	}
	if len(doc.Instructions) != len(Instructions) {
		return fmt.Errorf("escrow schema: idl has %d instructions, client has %d", len(doc.Instructions), len(Instructions))
	}
	for _, ix := range doc.Instructions {
		spec, ok := Lookup(Op(ix.Name))
		if !ok {
			return fmt.Errorf("escrow schema: unknown instruction %q", ix.Name)
		}
		if err := compareAccounts(spec, ix.Accounts); err != nil {
			return err
		}
		if err := compareFields(string(spec.Op)+" args", reflect.TypeOf(spec.Args), ix.Args); err != nil {
			return err
		}
	}
	var report *idlAccount
	for i := range doc.Accounts {
		if doc.Accounts[i].Name == reportAccountName {
			report = &doc.Accounts[i]
		}
	}
	if report == nil {
		return errors.New("escrow schema: idl missing Report account")
	}
	if err := compareFields("Report account", reflect.TypeOf(reportLayout{}), report.Fields); err != nil {
		return err
	}
	if len(doc.Errors) != len(programErrors) {
		return fmt.Errorf("escrow schema: idl has %d errors, client has %d", len(doc.Errors), len(programErrors))
	}
	for _, e := range doc.Errors {
		known, ok := programErrors[e.Code]
		if !ok || known.Name != e.Name {
			return fmt.Errorf("escrow schema: error %d %q not known to client", e.Code, e.Name)
		}
	}
	return nil
}

func compareAccounts(spec InstructionSpec, slots []idlSlot) error {
	if len(slots) != len(spec.Accounts) {
		return fmt.Errorf("escrow schema: %s expects %d accounts, idl lists %d", spec.Op, len(spec.Accounts), len(slots))
	}
	for i, slot := range slots {
		want := spec.Accounts[i]
		if slot.Name != want.Name || slot.Writable != want.Writable || slot.Signer != want.Signer {
			return fmt.Errorf("escrow schema: %s account %d is %+v in idl, client has %+v", spec.Op, i, slot, want)
		}
		if slot.Address != "" {
			if want.Address == nil || want.Address.String() != slot.Address {
				return fmt.Errorf("escrow schema: %s account %q pinned to %s", spec.Op, slot.Name, slot.Address)
			}
		} else if want.Address != nil {
			return fmt.Errorf("escrow schema: %s account %q pinned only in client", spec.Op, slot.Name)
		}
	}
	return nil
}

func compareFields(what string, typ reflect.Type, fields []idlField) error {
	if typ.NumField() != len(fields) {
		return fmt.Errorf("escrow schema: %s has %d fields, idl lists %d", what, typ.NumField(), len(fields))
	}
	for i, f := range fields {
		sf := typ.Field(i)
		if name := sf.Tag.Get("idl"); name != f.Name {
			return fmt.Errorf("escrow schema: %s field %d is %q, idl has %q", what, i, name, f.Name)
		}
		if got := idlType(sf.Type); got != f.Type {
			return fmt.Errorf("escrow schema: %s field %q encodes as %s, idl has %s", what, f.Name, got, f.Type)
		}
	}
	return nil
}

func idlType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Uint64:
		return "u64"
	case reflect.Uint32:
		return "u32"
	case reflect.Uint8:
		return "u8"
	case reflect.Bool:
		return "bool"
	case reflect.Array:
		if t.Len() == 32 && t.Elem().Kind() == reflect.Uint8 {
			return "publicKey"
		}
	case reflect.Ptr:
		return "option<" + idlType(t.Elem()) + ">"
	}
	return t.String()
}
