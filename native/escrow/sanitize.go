package escrow

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MaxReportIDLength is the byte cap applied after sanitisation.
const MaxReportIDLength = 50

// SanitizeReportID folds compatibility forms (full-width digits and the like)
// to their canonical spelling, drops every rune outside [A-Za-z0-9_-] and
// truncates to MaxReportIDLength. Applying it twice yields the same result as
// applying it once.
func SanitizeReportID(raw string) string {
	folded := norm.NFKC.String(raw)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if b.Len() >= MaxReportIDLength {
			break
		}
		if allowedIDRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateReportID checks that id is already in sanitised form. The program
// performs this check so a client cannot bypass the sanitiser.
func ValidateReportID(id string) error {
	if id == "" {
		return fmt.Errorf("escrow: report id empty")
	}
	if len(id) > MaxReportIDLength {
		return fmt.Errorf("escrow: report id longer than %d bytes", MaxReportIDLength)
	}
	for _, r := range id {
		if !allowedIDRune(r) {
			return fmt.Errorf("escrow: report id contains %q", r)
		}
	}
	return nil
}

func allowedIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}
