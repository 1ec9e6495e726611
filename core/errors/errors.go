package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can decide how to react without
// inspecting error strings.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindStaleState
	KindSigningRejected
	KindNetwork
	KindInsufficientFunds
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindValidation:        "validation",
	KindAuthorization:     "authorization",
	KindStaleState:        "stale_state",
	KindSigningRejected:   "signing_rejected",
	KindNetwork:           "network",
	KindInsufficientFunds: "insufficient_funds",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

var (
	ErrSigningRejected  = stderrors.New("wallet: user rejected the request")
	ErrBlockhashExpired = stderrors.New("ledger: blockhash expired before finality")
	ErrConfirmTimeout   = stderrors.New("ledger: gave up waiting for finality")
	ErrUnreachable      = stderrors.New("ledger: endpoint unreachable")
)

// Error carries a Kind alongside the operation that produced the failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(Message(e.Kind))
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error with the same kind, so errors.Is(err, Validation(""))
// style checks work without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Err == nil && t.Op == "" && t.Kind == e.Kind
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Sentinel returns a bare *Error usable as an errors.Is target for kind.
func Sentinel(kind Kind) error { return &Error{Kind: kind} }

// Kinder is implemented by domain errors that know their own classification,
// such as program errors returned by the escrow engine.
type Kinder interface {
	ErrorKind() Kind
}

// KindOf reports the kind attached to err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if stderrors.As(err, &e) && e.Kind != KindUnknown {
		return e.Kind
	}
	var k Kinder
	if stderrors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindUnknown
}

// Classify returns err with a kind attached. Typed errors win; otherwise the
// message is matched against the strings wallets and RPC nodes are known to
// produce.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if kind := KindOf(err); kind != KindUnknown {
		var e *Error
		if stderrors.As(err, &e) && e.Kind == kind {
			return err
		}
		return New(kind, op, err)
	}
	return New(classifyMessage(err), op, err)
}

func classifyMessage(err error) Kind {
	switch {
	case stderrors.Is(err, ErrSigningRejected):
		return KindSigningRejected
	case stderrors.Is(err, ErrBlockhashExpired), stderrors.Is(err, ErrConfirmTimeout), stderrors.Is(err, ErrUnreachable),
		stderrors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "rejected the request"):
		return KindSigningRejected
	case strings.Contains(msg, "insufficient"), strings.Contains(msg, "no record of a prior credit"):
		return KindInsufficientFunds
	case strings.Contains(msg, "already been processed"):
		return KindStaleState
	case strings.Contains(msg, "blockhash not found"), strings.Contains(msg, "block height exceeded"),
		strings.Contains(msg, "connection refused"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "no such host"), strings.Contains(msg, "eof"):
		return KindNetwork
	}
	return KindUnknown
}

// Message is the single user-facing line shown for a kind.
func Message(kind Kind) string {
	switch kind {
	case KindValidation:
		return "The request is invalid. Check the amount, address and report id."
	case KindAuthorization:
		return "Only the reporter who created this report can do that."
	case KindStaleState:
		return "This report is no longer open. Refresh to see its current status."
	case KindSigningRejected:
		return "The transaction was cancelled in the wallet."
	case KindNetwork:
		return "The network did not confirm the transaction in time. Try again with a new transaction."
	case KindInsufficientFunds:
		return "Insufficient funds to complete this transaction."
	default:
		return "Something went wrong. Please try again."
	}
}

// Describe renders err for a user. When verbose is set the raw diagnostic is
// appended, which non-production builds use.
func Describe(err error, verbose bool) string {
	if err == nil {
		return ""
	}
	msg := Message(KindOf(err))
	if !verbose {
		return msg
	}
	return msg + " (" + err.Error() + ")"
}
