package auth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	challengeKeyPrefix = "challenge:"
	expiryKeyPrefix    = "expires:"
)

// LevelDBStore keeps outstanding challenges in LevelDB so they survive a
// gateway restart. Each challenge is stored under its wallet and nonce with a
// secondary index ordered by expiry for pruning.
type LevelDBStore struct {
	db *leveldb.DB
}

// NewLevelDBStore opens (or creates) a LevelDB database at the provided path.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb challenge store path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb challenge path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb challenge store: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (p *LevelDBStore) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *LevelDBStore) Put(ctx context.Context, ch Challenge) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("leveldb challenge store not configured")
	}
	wallet := strings.TrimSpace(ch.Wallet)
	nonce := strings.TrimSpace(ch.Nonce)
	if wallet == "" || nonce == "" || ch.ExpiresAt.IsZero() {
		return fmt.Errorf("challenge record incomplete")
	}
	composite := compositeKey(wallet, nonce)
	nanos := ch.ExpiresAt.UTC().UnixNano()
	batch := new(leveldb.Batch)
	batch.Put([]byte(challengeKeyPrefix+composite), encodeUnixNano(nanos))
	batch.Put([]byte(expiryKey(nanos, composite)), nil)
	if err := p.db.Write(batch, nil); err != nil {
		return fmt.Errorf("record challenge: %w", err)
	}
	return nil
}

// Take loads and deletes a challenge. The message is rebuilt from the stored
// fields rather than persisted.
func (p *LevelDBStore) Take(ctx context.Context, wallet, nonce string) (Challenge, error) {
	if p == nil || p.db == nil {
		return Challenge{}, fmt.Errorf("leveldb challenge store not configured")
	}
	composite := compositeKey(strings.TrimSpace(wallet), strings.TrimSpace(nonce))
	key := []byte(challengeKeyPrefix + composite)
	val, err := p.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return Challenge{}, ErrChallengeNotFound
	case err != nil:
		return Challenge{}, fmt.Errorf("load challenge: %w", err)
	}
	if len(val) != 8 {
		return Challenge{}, fmt.Errorf("challenge record corrupt")
	}
	nanos := int64(binary.BigEndian.Uint64(val))
	batch := new(leveldb.Batch)
	batch.Delete(key)
	batch.Delete([]byte(expiryKey(nanos, composite)))
	if err := p.db.Write(batch, nil); err != nil {
		return Challenge{}, fmt.Errorf("consume challenge: %w", err)
	}
	expires := time.Unix(0, nanos).UTC()
	return Challenge{
		Wallet:    strings.TrimSpace(wallet),
		Nonce:     strings.TrimSpace(nonce),
		Message:   ChallengeMessage(strings.TrimSpace(wallet), strings.TrimSpace(nonce), expires),
		ExpiresAt: expires,
	}, nil
}

// Prune deletes challenges that expired at or before cutoff.
func (p *LevelDBStore) Prune(ctx context.Context, cutoff time.Time) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("leveldb challenge store not configured")
	}
	cutoffKey := []byte(expiryKey(cutoff.UTC().UnixNano()+1, ""))
	iter := p.db.NewIterator(util.BytesPrefix([]byte(expiryKeyPrefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if compareKeys(iter.Key(), cutoffKey) >= 0 {
			break
		}
		composite, _, ok := parseExpiryKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(challengeKeyPrefix + composite))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate challenge expiries: %w", err)
	}
	if batch.Len() > 0 {
		if err := p.db.Write(batch, nil); err != nil {
			return fmt.Errorf("prune challenges: %w", err)
		}
	}
	return nil
}

func expiryKey(nanos int64, composite string) string {
	return fmt.Sprintf("%s%020d:%s", expiryKeyPrefix, nanos, composite)
}

func parseExpiryKey(key []byte) (string, int64, bool) {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[2], nanos, true
}

func encodeUnixNano(nanos int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	return buf
}

func compareKeys(a, b []byte) int {
	min := len(a)
	if len(b) < min {
		min = len(b)
	}
	for i := 0; i < min; i++ {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
