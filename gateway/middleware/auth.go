package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// TokenVerifier resolves a bearer token to the wallet it was issued to.
type TokenVerifier interface {
	Verify(token string) (solana.PublicKey, error)
}

type contextKey string

const ContextKeyWallet contextKey = "gateway.wallet"

// RequireWallet rejects requests without a valid session token and stores
// the session wallet in the request context.
func RequireWallet(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "Sign in with your wallet first.")
				return
			}
			wallet, err := verifier.Verify(tokenString)
			if err != nil {
				logger.Debug("session token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				writeError(w, http.StatusUnauthorized, "unauthenticated", "Your session is invalid or has expired.")
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyWallet, wallet)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WalletFromContext returns the wallet attached by RequireWallet.
func WalletFromContext(ctx context.Context) (solana.PublicKey, bool) {
	wallet, ok := ctx.Value(ContextKeyWallet).(solana.PublicKey)
	return wallet, ok
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
