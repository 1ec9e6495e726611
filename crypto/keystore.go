package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"
)

// SaveKeypair writes the key to path in the solana-keygen JSON format (a
// 64-element byte array). If the parent directory does not exist it will be
// created with 0700 permissions.
func SaveKeypair(path string, key solana.PrivateKey) error {
	if len(key) != 64 {
		return errors.New("crypto: invalid private key")
	}
	if path == "" {
		return errors.New("crypto: empty keypair path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	payload, err := json.Marshal(ints)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "keypair-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadKeypair reads a solana-keygen JSON keypair file.
func LoadKeypair(path string) (solana.PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keypair path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, fmt.Errorf("crypto: decode keypair %s: %w", path, err)
	}
	buf := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("crypto: keypair %s: byte %d out of range", path, i)
		}
		buf[i] = byte(v)
	}
	return KeypairFromBytes(buf)
}

// LoadOrCreateKeypair loads the keypair at path, generating and persisting a new
// one when the file does not exist yet.
func LoadOrCreateKeypair(path string) (solana.PrivateKey, bool, error) {
	key, err := LoadKeypair(path)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	key, err = GenerateKeypair()
	if err != nil {
		return nil, false, err
	}
	if err := SaveKeypair(path, key); err != nil {
		return nil, false, err
	}
	return key, true, nil
}
