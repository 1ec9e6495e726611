package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FSStore keeps objects under Root/<bucket>/<key> and serves them from
// BaseURL/<bucket>/<key>.
type FSStore struct {
	Root    string
	BaseURL string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root, baseURL string) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("media: fs root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("media: create %s: %w", root, err)
	}
	return &FSStore{Root: root, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *FSStore) path(bucket, key string) (string, error) {
	if bucket == "" || key == "" || strings.ContainsAny(bucket+key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("media: invalid object name %q/%q", bucket, key)
	}
	return filepath.Join(s.Root, bucket, key), nil
}

// Put writes data atomically.
func (s *FSStore) Put(_ context.Context, bucket, key, _ string, data []byte) (string, error) {
	path, err := s.path(bucket, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return s.BaseURL + "/" + bucket + "/" + key, nil
}

// Delete removes the object. Missing objects are ignored.
func (s *FSStore) Delete(_ context.Context, bucket, key string) error {
	path, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
