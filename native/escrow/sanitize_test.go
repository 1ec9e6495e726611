package escrow

import (
	"strings"
	"testing"
)

func TestSanitizeReportID(t *testing.T) {
	cases := map[string]string{
		"wallet-123":             "wallet-123",
		"  lost keys!! ":         "lostkeys",
		"ｗａｌｌｅｔ１２３":              "wallet123",
		"über_bag":               "berbag",
		"<script>alert</script>": "scriptalertscript",
		"":                       "",
		strings.Repeat("x", 80):  strings.Repeat("x", MaxReportIDLength),
	}
	for in, want := range cases {
		if got := SanitizeReportID(in); got != want {
			t.Fatalf("SanitizeReportID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeReportIDIdempotent(t *testing.T) {
	inputs := []string{
		"wallet-123", "ｗａｌｌｅｔ", "a b c", "ﬁle", strings.Repeat("é", 60), strings.Repeat("ab-", 40), "Ⅻ-report",
	}
	for _, in := range inputs {
		once := SanitizeReportID(in)
		twice := SanitizeReportID(once)
		if once != twice {
			t.Fatalf("not idempotent for %q: %q vs %q", in, once, twice)
		}
		if once != "" {
			if err := ValidateReportID(once); err != nil {
				t.Fatalf("sanitised %q failed validation: %v", once, err)
			}
		}
	}
}

func TestValidateReportID(t *testing.T) {
	if err := ValidateReportID(""); err == nil {
		t.Fatalf("expected error for empty id")
	}
	if err := ValidateReportID("has space"); err == nil {
		t.Fatalf("expected error for space")
	}
	if err := ValidateReportID(strings.Repeat("a", MaxReportIDLength+1)); err == nil {
		t.Fatalf("expected error for long id")
	}
}
