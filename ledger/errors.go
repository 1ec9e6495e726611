package ledger

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"solfind/native/escrow"
)

// TxError is a transaction that reached the ledger and failed, either in
// preflight or after landing.
type TxError struct {
	InstructionIndex int
	CustomCode       *uint32
	Message          string
}

func (e *TxError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.CustomCode != nil {
		if pe, ok := escrow.ErrorFromCode(*e.CustomCode); ok {
			return fmt.Sprintf("instruction %d: custom program error: 0x%x (%s)", e.InstructionIndex, *e.CustomCode, pe.Name)
		}
		return fmt.Sprintf("instruction %d: custom program error: 0x%x", e.InstructionIndex, *e.CustomCode)
	}
	return e.Message
}

// Unwrap exposes the escrow program error so errors.Is and kind
// classification see it.
func (e *TxError) Unwrap() error {
	if e == nil || e.CustomCode == nil {
		return nil
	}
	if pe, ok := escrow.ErrorFromCode(*e.CustomCode); ok {
		return pe
	}
	return nil
}

// CustomError returns a TxError carrying a program error code.
func CustomError(index int, code uint32) *TxError {
	c := code
	return &TxError{InstructionIndex: index, CustomCode: &c}
}

var (
	customCodePattern  = regexp.MustCompile(`custom program error: 0x([0-9a-fA-F]+)`)
	instructionPattern = regexp.MustCompile(`Error processing Instruction (\d+)`)
)

// ParseTxError recovers a TxError from an RPC error message such as
// "Transaction simulation failed: Error processing Instruction 0: custom
// program error: 0x1771". It returns nil when the message carries no program
// error.
func ParseTxError(msg string) *TxError {
	m := customCodePattern.FindStringSubmatch(msg)
	if m == nil {
		return nil
	}
	code, err := strconv.ParseUint(m[1], 16, 32)
	if err != nil {
		return nil
	}
	idx := 0
	if im := instructionPattern.FindStringSubmatch(msg); im != nil {
		idx, _ = strconv.Atoi(im[1])
	}
	out := CustomError(idx, uint32(code))
	out.Message = msg
	return out
}

// ParseStatusError converts the err field of a signature status, for example
// {"InstructionError":[0,{"Custom":6001}]}, into a TxError.
func ParseStatusError(raw any) *TxError {
	if raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return &TxError{Message: fmt.Sprint(raw)}
	}
	var shaped struct {
		InstructionError []json.RawMessage `json:"InstructionError"`
	}
	if err := json.Unmarshal(data, &shaped); err == nil && len(shaped.InstructionError) == 2 {
		var idx int
		_ = json.Unmarshal(shaped.InstructionError[0], &idx)
		var custom struct {
			Custom *uint32 `json:"Custom"`
		}
		if err := json.Unmarshal(shaped.InstructionError[1], &custom); err == nil && custom.Custom != nil {
			out := CustomError(idx, *custom.Custom)
			out.Message = string(data)
			return out
		}
		return &TxError{InstructionIndex: idx, Message: string(data)}
	}
	return &TxError{Message: string(data)}
}
