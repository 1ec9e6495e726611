package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
)

type verifierFunc func(string) (solana.PublicKey, error)

func (f verifierFunc) Verify(token string) (solana.PublicKey, error) { return f(token) }

func TestRequireWallet(t *testing.T) {
	wallet := solana.NewWallet().PublicKey()
	verifier := verifierFunc(func(token string) (solana.PublicKey, error) {
		if token == "good" {
			return wallet, nil
		}
		return solana.PublicKey{}, errors.New("bad token")
	})
	var seen solana.PublicKey
	handler := RequireWallet(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = WalletFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := map[string]int{
		"":            http.StatusUnauthorized,
		"Basic good":  http.StatusUnauthorized,
		"Bearer nope": http.StatusUnauthorized,
		"bearer good": http.StatusNoContent,
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/reports/x/submissions", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != want {
			t.Fatalf("%q: got %d, want %d", header, res.Code, want)
		}
		if want == http.StatusUnauthorized {
			var body ErrorBody
			if err := json.NewDecoder(res.Body).Decode(&body); err != nil || body.Error.Kind != "unauthenticated" {
				t.Fatalf("%q: unexpected error body %v %+v", header, err, body)
			}
		}
	}
	if !seen.Equals(wallet) {
		t.Fatalf("wallet not propagated: %s", seen)
	}
}

func TestCORS(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://solfind.app/"}})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/v1/reports", nil)
	req.Header.Set("Origin", "https://solfind.app")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("preflight: got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "https://solfind.app" {
		t.Fatalf("allow origin: got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	req.Header.Set("Origin", "https://evil.example")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("simple request: got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin must not be allowed, got %q", got)
	}
}

func TestCORSWildcard(t *testing.T) {
	handler := CORS(CORSConfig{})(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin: got %q", got)
	}
}
