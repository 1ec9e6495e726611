package media

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsPublicHost = "https://storage.googleapis.com"

// GCSStore writes objects to Google Cloud Storage. Logical bucket names are
// mapped to real bucket names through Buckets; unmapped names are used as-is.
type GCSStore struct {
	client  *storage.Client
	buckets map[string]string
}

// NewGCSStore creates a client from a service account JSON document. An empty
// credentials string falls back to application default credentials.
func NewGCSStore(ctx context.Context, credentialsJSON string, buckets map[string]string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("media: gcs client: %w", err)
	}
	return &GCSStore{client: client, buckets: buckets}, nil
}

func (s *GCSStore) bucket(name string) string {
	if mapped, ok := s.buckets[name]; ok && mapped != "" {
		return mapped
	}
	return name
}

// Put uploads data and returns its public URL.
func (s *GCSStore) Put(ctx context.Context, bucket, key, contentType string, data []byte) (string, error) {
	name := s.bucket(bucket)
	wc := s.client.Bucket(name).Object(key).NewWriter(ctx)
	wc.ContentType = contentType
	wc.CacheControl = "public, max-age=31536000, immutable"
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return "", err
	}
	if err := wc.Close(); err != nil {
		return "", err
	}
	return PublicURL(name, key), nil
}

// Delete removes the object. Missing objects are ignored.
func (s *GCSStore) Delete(ctx context.Context, bucket, key string) error {
	err := s.client.Bucket(s.bucket(bucket)).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

// Close releases the client.
func (s *GCSStore) Close() error { return s.client.Close() }

// PublicURL is the anonymous download URL of a GCS object.
func PublicURL(bucket, key string) string {
	return gcsPublicHost + "/" + bucket + "/" + key
}
