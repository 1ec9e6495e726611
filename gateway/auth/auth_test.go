package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"solfind/crypto"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestAuthenticator(t *testing.T, store ChallengeStore, c *clock) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(Config{Secret: []byte(testSecret), Store: store, Now: c.Now})
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	return a
}

func newWallet(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func sign(t *testing.T, key solana.PrivateKey, message string) solana.Signature {
	t.Helper()
	sig, err := key.Sign([]byte(message))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func TestNewAuthenticatorRequiresSecretAndStore(t *testing.T) {
	if _, err := NewAuthenticator(Config{Secret: []byte("short"), Store: NewMemoryStore()}); !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("expected short secret to be rejected, got %v", err)
	}
	if _, err := NewAuthenticator(Config{Secret: []byte(testSecret)}); !errors.Is(err, ErrStoreNotConfigured) {
		t.Fatalf("expected missing store to be rejected, got %v", err)
	}
}

func TestChallengeSessionRoundTrip(t *testing.T) {
	c := &clock{now: time.Unix(1_717_787_717, 0).UTC()}
	a := newTestAuthenticator(t, NewMemoryStore(), c)
	key := newWallet(t)
	ctx := context.Background()

	ch, err := a.Challenge(ctx, key.PublicKey().String())
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if len(ch.Nonce) != 64 {
		t.Fatalf("expected 32-byte hex nonce, got %q", ch.Nonce)
	}
	if !ch.ExpiresAt.Equal(c.now.Add(DefaultChallengeTTL)) {
		t.Fatalf("unexpected expiry %s", ch.ExpiresAt)
	}
	if !strings.Contains(ch.Message, ch.Nonce) || !strings.Contains(ch.Message, ch.Wallet) {
		t.Fatalf("message does not bind wallet and nonce: %q", ch.Message)
	}

	session, err := a.Redeem(ctx, ch.Wallet, ch.Nonce, sign(t, key, ch.Message))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if session.Wallet != key.PublicKey().String() || session.Token == "" {
		t.Fatalf("unexpected session %+v", session)
	}
	wallet, err := a.Verify(session.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !wallet.Equals(key.PublicKey()) {
		t.Fatalf("token subject %s, want %s", wallet, key.PublicKey())
	}

	if _, err := a.Redeem(ctx, ch.Wallet, ch.Nonce, sign(t, key, ch.Message)); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected replayed challenge to fail, got %v", err)
	}
}

func TestRedeemRejectsForeignSignature(t *testing.T) {
	c := &clock{now: time.Unix(1_717_787_717, 0).UTC()}
	a := newTestAuthenticator(t, NewMemoryStore(), c)
	key := newWallet(t)
	other := newWallet(t)

	ch, err := a.Challenge(context.Background(), key.PublicKey().String())
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if _, err := a.Redeem(context.Background(), ch.Wallet, ch.Nonce, sign(t, other, ch.Message)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
	// the failed attempt still burns the challenge
	if _, err := a.Redeem(context.Background(), ch.Wallet, ch.Nonce, sign(t, key, ch.Message)); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected burned challenge, got %v", err)
	}
}

func TestRedeemRejectsExpiredChallenge(t *testing.T) {
	c := &clock{now: time.Unix(1_717_787_717, 0).UTC()}
	a := newTestAuthenticator(t, NewMemoryStore(), c)
	key := newWallet(t)

	ch, err := a.Challenge(context.Background(), key.PublicKey().String())
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	c.now = c.now.Add(DefaultChallengeTTL)
	if _, err := a.Redeem(context.Background(), ch.Wallet, ch.Nonce, sign(t, key, ch.Message)); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestChallengeRejectsInvalidWallet(t *testing.T) {
	a := newTestAuthenticator(t, NewMemoryStore(), &clock{now: time.Now()})
	if _, err := a.Challenge(context.Background(), "not-a-wallet"); !errors.Is(err, ErrInvalidWallet) {
		t.Fatalf("expected invalid wallet, got %v", err)
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	c := &clock{now: time.Unix(1_717_787_717, 0).UTC()}
	a := newTestAuthenticator(t, NewMemoryStore(), c)
	key := newWallet(t)
	ch, err := a.Challenge(context.Background(), key.PublicKey().String())
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	session, err := a.Redeem(context.Background(), ch.Wallet, ch.Nonce, sign(t, key, ch.Message))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	other, err := NewAuthenticator(Config{Secret: []byte("fedcba9876543210fedcba9876543210"), Store: NewMemoryStore(), Now: c.Now})
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	if _, err := other.Verify(session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign secret to fail, got %v", err)
	}

	c.now = c.now.Add(DefaultSessionTTL + time.Minute)
	if _, err := a.Verify(session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
	if _, err := a.Verify("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected garbage token to fail, got %v", err)
	}
}

func TestMemoryStorePrune(t *testing.T) {
	store := NewMemoryStore()
	base := time.Unix(1_700_000_000, 0).UTC()
	ctx := context.Background()
	_ = store.Put(ctx, Challenge{Wallet: "w", Nonce: "old", ExpiresAt: base})
	_ = store.Put(ctx, Challenge{Wallet: "w", Nonce: "new", ExpiresAt: base.Add(time.Minute)})

	if err := store.Prune(ctx, base); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if _, err := store.Take(ctx, "w", "old"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected expired challenge to be pruned, got %v", err)
	}
	if _, err := store.Take(ctx, "w", "new"); err != nil {
		t.Fatalf("expected live challenge to survive: %v", err)
	}
}
