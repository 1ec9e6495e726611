package escrow

import (
	"fmt"

	coreerrors "solfind/core/errors"
)

// ProgramError is a custom error raised by the escrow program. Codes follow the
// Anchor convention and start at 6000 so they surface on the wire as
// "custom program error: 0x1770" and up.
type ProgramError struct {
	Code uint32
	Name string
	Msg  string
	kind coreerrors.Kind
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("escrow: %s (%d): %s", e.Name, e.Code, e.Msg)
}

// ErrorKind implements core/errors.Kinder.
func (e *ProgramError) ErrorKind() coreerrors.Kind { return e.kind }

// Is lets errors.Is match program errors by code.
func (e *ProgramError) Is(target error) bool {
	t, ok := target.(*ProgramError)
	return ok && t.Code == e.Code
}

func newProgramError(code uint32, name, msg string, kind coreerrors.Kind) *ProgramError {
	return &ProgramError{Code: code, Name: name, Msg: msg, kind: kind}
}

var (
	ErrUnauthorized          = newProgramError(6000, "Unauthorized", "signer is not the reporter", coreerrors.KindAuthorization)
	ErrReportNotOpen         = newProgramError(6001, "ReportNotOpen", "report is not open", coreerrors.KindStaleState)
	ErrInvalidFinder         = newProgramError(6002, "InvalidFinder", "finder address is not a valid recipient", coreerrors.KindValidation)
	ErrInvalidAmount         = newProgramError(6003, "InvalidAmount", "reward amount out of range", coreerrors.KindValidation)
	ErrInvalidReportID       = newProgramError(6004, "InvalidReportId", "report id must be 1-50 characters of [A-Za-z0-9_-]", coreerrors.KindValidation)
	ErrEscrowMismatch        = newProgramError(6005, "EscrowMismatch", "escrow account does not match report", coreerrors.KindValidation)
	ErrInsufficientFunds     = newProgramError(6006, "InsufficientFunds", "reporter balance below reward amount", coreerrors.KindInsufficientFunds)
	ErrEscrowBalanceMismatch = newProgramError(6007, "EscrowBalanceMismatch", "escrow balance is below the reward amount", coreerrors.KindInsufficientFunds)
	ErrAccountInUse          = newProgramError(6008, "AccountInUse", "account already initialised", coreerrors.KindStaleState)
	ErrAccountNotInitialized = newProgramError(6009, "AccountNotInitialized", "report account not initialised", coreerrors.KindValidation)
	ErrAccountNotSigner      = newProgramError(6010, "AccountNotSigner", "required signature missing", coreerrors.KindAuthorization)
	ErrAccountNotMutable     = newProgramError(6011, "AccountNotMutable", "account must be writable", coreerrors.KindValidation)
	ErrInvalidInstruction    = newProgramError(6012, "InvalidInstruction", "instruction data or accounts malformed", coreerrors.KindValidation)
)

var programErrors = map[uint32]*ProgramError{}

func init() {
	for _, e := range []*ProgramError{
		ErrUnauthorized, ErrReportNotOpen, ErrInvalidFinder, ErrInvalidAmount, ErrInvalidReportID,
		ErrEscrowMismatch, ErrInsufficientFunds, ErrEscrowBalanceMismatch, ErrAccountInUse,
		ErrAccountNotInitialized, ErrAccountNotSigner, ErrAccountNotMutable, ErrInvalidInstruction,
	} {
		programErrors[e.Code] = e
	}
}

// ErrorFromCode maps a custom program error code back to its typed error.
func ErrorFromCode(code uint32) (*ProgramError, bool) {
	e, ok := programErrors[code]
	return e, ok
}
