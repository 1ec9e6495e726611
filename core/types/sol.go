package types

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the fixed SOL denomination.
const LamportsPerSOL uint64 = 1_000_000_000

const solDecimals = 9

var ErrInvalidAmount = errors.New("types: invalid SOL amount")

// FormatSOL renders lamports as a decimal SOL string without trailing zeros.
func FormatSOL(lamports uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -solDecimals).String()
}

// ParseSOL converts a decimal SOL amount to lamports. Amounts finer than one
// lamport, negative amounts and amounts past u64 are rejected.
func ParseSOL(raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, raw)
	}
	lamports := amount.Shift(solDecimals)
	if !lamports.Equal(lamports.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, raw, solDecimals)
	}
	if lamports.GreaterThan(decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)) {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, raw)
	}
	return lamports.BigInt().Uint64(), nil
}
