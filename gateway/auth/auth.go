// Package auth proves wallet ownership to the gateway. A wallet requests a
// challenge, signs its message with the wallet key and trades the signature
// for a short-lived session token.
package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	jwt "github.com/golang-jwt/jwt/v5"
	"lukechampine.com/blake3"

	"solfind/crypto"
)

const (
	DefaultChallengeTTL = 5 * time.Minute
	DefaultSessionTTL   = time.Hour
	DefaultIssuer       = "solfind-gateway"

	minSecretLength = 16
	clockSkew       = 30 * time.Second
)

var (
	ErrInvalidWallet      = errors.New("auth: invalid wallet address")
	ErrChallengeNotFound  = errors.New("auth: challenge not found")
	ErrChallengeExpired   = errors.New("auth: challenge expired")
	ErrInvalidSignature   = errors.New("auth: signature does not match wallet")
	ErrInvalidToken       = errors.New("auth: invalid session token")
	ErrSecretTooShort     = fmt.Errorf("auth: session secret must be at least %d bytes", minSecretLength)
	ErrStoreNotConfigured = errors.New("auth: challenge store not configured")
)

// Challenge is a one-time message a wallet signs to open a session.
type Challenge struct {
	Wallet    string    `json:"wallet"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ChallengeStore keeps outstanding challenges until they are redeemed or
// expire. Take must remove the challenge so it cannot be replayed.
type ChallengeStore interface {
	Put(ctx context.Context, ch Challenge) error
	Take(ctx context.Context, wallet, nonce string) (Challenge, error)
	Prune(ctx context.Context, cutoff time.Time) error
}

// Session is an issued bearer token.
type Session struct {
	Token     string    `json:"token"`
	Wallet    string    `json:"wallet"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Config wires an Authenticator.
type Config struct {
	Secret       []byte
	Issuer       string
	ChallengeTTL time.Duration
	SessionTTL   time.Duration
	Store        ChallengeStore
	Now          func() time.Time
}

// Authenticator issues challenges and HS256 session tokens.
type Authenticator struct {
	secret       []byte
	issuer       string
	challengeTTL time.Duration
	sessionTTL   time.Duration
	store        ChallengeStore
	now          func() time.Time

	pruneMu    sync.Mutex
	lastPruned time.Time
}

func NewAuthenticator(cfg Config) (*Authenticator, error) {
	secret := []byte(strings.TrimSpace(string(cfg.Secret)))
	if len(secret) < minSecretLength {
		return nil, ErrSecretTooShort
	}
	if cfg.Store == nil {
		return nil, ErrStoreNotConfigured
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultIssuer
	}
	challengeTTL := cfg.ChallengeTTL
	if challengeTTL <= 0 {
		challengeTTL = DefaultChallengeTTL
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Authenticator{
		secret:       secret,
		issuer:       issuer,
		challengeTTL: challengeTTL,
		sessionTTL:   sessionTTL,
		store:        cfg.Store,
		now:          now,
	}, nil
}

// Challenge issues a fresh challenge for wallet.
func (a *Authenticator) Challenge(ctx context.Context, wallet string) (*Challenge, error) {
	pk, err := crypto.ParseAddress(wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWallet, err)
	}
	a.maybePrune(ctx)

	var entropy [32]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return nil, fmt.Errorf("auth: read entropy: %w", err)
	}
	now := a.now().UTC()
	h := blake3.New(32, nil)
	_, _ = h.Write(entropy[:])
	_, _ = h.Write(pk[:])
	_, _ = h.Write([]byte(now.Format(time.RFC3339Nano)))
	nonce := hex.EncodeToString(h.Sum(nil))

	ch := Challenge{
		Wallet:    pk.String(),
		Nonce:     nonce,
		ExpiresAt: now.Add(a.challengeTTL),
	}
	ch.Message = ChallengeMessage(ch.Wallet, ch.Nonce, ch.ExpiresAt)
	if err := a.store.Put(ctx, ch); err != nil {
		return nil, fmt.Errorf("auth: store challenge: %w", err)
	}
	return &ch, nil
}

// ChallengeMessage is the exact text the wallet must sign.
func ChallengeMessage(wallet, nonce string, expires time.Time) string {
	return "SolFind sign-in\n" +
		"wallet: " + wallet + "\n" +
		"nonce: " + nonce + "\n" +
		"expires: " + expires.UTC().Format(time.RFC3339)
}

// Redeem consumes the challenge and, if signature is the wallet's signature
// over its message, issues a session token. A challenge can be redeemed
// once whether or not the signature verifies.
func (a *Authenticator) Redeem(ctx context.Context, wallet, nonce string, signature solana.Signature) (*Session, error) {
	pk, err := crypto.ParseAddress(wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWallet, err)
	}
	ch, err := a.store.Take(ctx, pk.String(), strings.TrimSpace(nonce))
	if err != nil {
		return nil, err
	}
	now := a.now().UTC()
	if !now.Before(ch.ExpiresAt) {
		return nil, ErrChallengeExpired
	}
	if !ed25519.Verify(ed25519.PublicKey(pk[:]), []byte(ch.Message), signature[:]) {
		return nil, ErrInvalidSignature
	}

	expires := now.Add(a.sessionTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    a.issuer,
		Subject:   pk.String(),
		ID:        ch.Nonce,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("auth: sign session: %w", err)
	}
	return &Session{Token: token, Wallet: pk.String(), ExpiresAt: expires}, nil
}

// Verify checks a session token and returns the wallet it was issued to.
func (a *Authenticator) Verify(token string) (solana.PublicKey, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !parsed.Valid {
		return solana.PublicKey{}, ErrInvalidToken
	}
	pk, err := crypto.ParseAddress(claims.Subject)
	if err != nil {
		return solana.PublicKey{}, ErrInvalidToken
	}
	return pk, nil
}

func (a *Authenticator) maybePrune(ctx context.Context) {
	a.pruneMu.Lock()
	defer a.pruneMu.Unlock()
	now := a.now()
	if now.Sub(a.lastPruned) < time.Minute {
		return
	}
	a.lastPruned = now
	_ = a.store.Prune(ctx, now.UTC())
}

// MemoryStore is an in-process ChallengeStore.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]Challenge
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{challenges: make(map[string]Challenge)}
}

func (m *MemoryStore) Put(_ context.Context, ch Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges[compositeKey(ch.Wallet, ch.Nonce)] = ch
	return nil
}

func (m *MemoryStore) Take(_ context.Context, wallet, nonce string) (Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := compositeKey(wallet, nonce)
	ch, ok := m.challenges[key]
	if !ok {
		return Challenge{}, ErrChallengeNotFound
	}
	delete(m.challenges, key)
	return ch, nil
}

func (m *MemoryStore) Prune(_ context.Context, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, ch := range m.challenges {
		if !ch.ExpiresAt.After(cutoff) {
			delete(m.challenges, key)
		}
	}
	return nil
}

func compositeKey(wallet, nonce string) string {
	return wallet + "|" + nonce
}
