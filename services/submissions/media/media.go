package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	"github.com/ipfs/go-cid"
	mc "github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
)

// Buckets used by the workflow.
const (
	BucketReportImages = "report-images"
	BucketSubmitImages = "submit-images"
)

const (
	// MaxImageBytes bounds a single upload.
	MaxImageBytes = 5 << 20
	// ThumbnailWidth is the width thumbnails are scaled down to.
	ThumbnailWidth = 320

	maxNameLength = 100
)

var (
	ErrEmptyImage      = errors.New("media: image is empty")
	ErrImageTooLarge   = errors.New("media: image exceeds 5 MiB")
	ErrUnsupportedType = errors.New("media: only jpeg, png, gif and webp images are accepted")
)

var allowedTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Store persists objects and returns their public URL.
type Store interface {
	Put(ctx context.Context, bucket, key, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, bucket, key string) error
}

// Object describes an uploaded image and its thumbnail.
type Object struct {
	Bucket       string
	Key          string
	URL          string
	ThumbnailKey string
	ThumbnailURL string
	ContentType  string
	CID          string
	Size         int
}

// Uploader validates images and writes them, with a thumbnail, to a Store.
type Uploader struct {
	store Store
	now   func() time.Time
}

// NewUploader wraps store. now may be nil.
func NewUploader(store Store, now func() time.Time) *Uploader {
	if now == nil {
		now = time.Now
	}
	return &Uploader{store: store, now: now}
}

// Upload sniffs data, stores it under bucket and stores a thumbnail next to
// it. Formats the decoder cannot scale (webp) reuse the original as their
// thumbnail.
func (u *Uploader) Upload(ctx context.Context, bucket, name string, data []byte) (*Object, error) {
	if u == nil || u.store == nil {
		return nil, errors.New("media: uploader not configured")
	}
	contentType, err := Sniff(data)
	if err != nil {
		return nil, err
	}
	id, err := ContentID(data)
	if err != nil {
		return nil, err
	}
	key := ObjectKey(u.now(), name, allowedTypes[contentType])
	url, err := u.store.Put(ctx, bucket, key, contentType, data)
	if err != nil {
		return nil, fmt.Errorf("media: store %s/%s: %w", bucket, key, err)
	}
	obj := &Object{
		Bucket:       bucket,
		Key:          key,
		URL:          url,
		ThumbnailKey: key,
		ThumbnailURL: url,
		ContentType:  contentType,
		CID:          id,
		Size:         len(data),
	}

	thumb, ok, err := Thumbnail(data)
	if err != nil {
		return nil, err
	}
	if ok {
		thumbKey := "thumb-" + strings.TrimSuffix(key, filepath.Ext(key)) + ".jpg"
		thumbURL, err := u.store.Put(ctx, bucket, thumbKey, "image/jpeg", thumb)
		if err != nil {
			return nil, fmt.Errorf("media: store thumbnail %s/%s: %w", bucket, thumbKey, err)
		}
		obj.ThumbnailKey = thumbKey
		obj.ThumbnailURL = thumbURL
	}
	return obj, nil
}

// Sniff returns the MIME type of data if it is an accepted image.
func Sniff(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	if len(data) > MaxImageBytes {
		return "", ErrImageTooLarge
	}
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "", ErrUnsupportedType
	}
	if _, ok := allowedTypes[kind.MIME.Value]; !ok {
		return "", ErrUnsupportedType
	}
	return kind.MIME.Value, nil
}

// ContentID returns the CIDv1 (raw codec, sha2-256) of data.
func ContentID(data []byte) (string, error) {
	prefix := cid.Prefix{
		Version:  1,
		Codec:    uint64(mc.Raw),
		MhType:   mh.SHA2_256,
		MhLength: -1,
	}
	c, err := prefix.Sum(data)
	if err != nil {
		return "", fmt.Errorf("media: content id: %w", err)
	}
	return c.String(), nil
}

// Thumbnail scales data down to ThumbnailWidth and encodes it as JPEG. Images
// already narrower than that are re-encoded at their size. ok is false when
// the format has no registered decoder.
func Thumbnail(data []byte) ([]byte, bool, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, nil
	}
	if img.Bounds().Dx() > ThumbnailWidth {
		img = imaging.Resize(img, ThumbnailWidth, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return nil, false, fmt.Errorf("media: encode thumbnail: %w", err)
	}
	return buf.Bytes(), true, nil
}

// ObjectKey builds "<unix-millis>-<sanitized name>". ext is applied when the
// sanitized name has none.
func ObjectKey(now time.Time, name, ext string) string {
	clean := SanitizeName(name)
	if clean == "" {
		clean = "image"
	}
	if filepath.Ext(clean) == "" && ext != "" {
		clean += "." + ext
	}
	return fmt.Sprintf("%d-%s", now.UnixMilli(), clean)
}

// SanitizeName reduces a client supplied file name to [a-z0-9._-].
func SanitizeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(base) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-.")
	if len(out) > maxNameLength {
		out = out[len(out)-maxNameLength:]
	}
	return out
}
