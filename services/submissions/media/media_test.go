package media

import (
	"bytes"
	"context"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func newFSUploader(t *testing.T) (*Uploader, *FSStore) {
	t.Helper()
	store, err := NewFSStore(t.TempDir(), "http://media.local/")
	require.NoError(t, err)
	now := func() time.Time { return time.UnixMilli(1_700_000_000_123) }
	return NewUploader(store, now), store
}

func TestUploadStoresImageAndThumbnail(t *testing.T) {
	up, store := newFSUploader(t)
	data := pngImage(t, 640, 100)

	obj, err := up.Upload(context.Background(), BucketSubmitImages, "My Wallet (1).PNG", data)
	require.NoError(t, err)
	require.Equal(t, "image/png", obj.ContentType)
	require.Equal(t, "1700000000123-my-wallet-1-.png", obj.Key)
	require.Equal(t, "http://media.local/submit-images/"+obj.Key, obj.URL)
	require.Equal(t, "thumb-1700000000123-my-wallet-1-.jpg", obj.ThumbnailKey)
	require.True(t, strings.HasPrefix(obj.CID, "bafkrei"), obj.CID)

	stored, err := os.ReadFile(filepath.Join(store.Root, BucketSubmitImages, obj.Key))
	require.NoError(t, err)
	require.Equal(t, data, stored)

	thumb, err := imaging.Open(filepath.Join(store.Root, BucketSubmitImages, obj.ThumbnailKey))
	require.NoError(t, err)
	require.Equal(t, ThumbnailWidth, thumb.Bounds().Dx())
	require.Equal(t, 50, thumb.Bounds().Dy())

	require.NoError(t, store.Delete(context.Background(), BucketSubmitImages, obj.Key))
	require.NoError(t, store.Delete(context.Background(), BucketSubmitImages, obj.Key))
}

func TestUploadRejectsBadInput(t *testing.T) {
	up, _ := newFSUploader(t)
	ctx := context.Background()

	_, err := up.Upload(ctx, BucketSubmitImages, "a.png", nil)
	require.ErrorIs(t, err, ErrEmptyImage)

	_, err = up.Upload(ctx, BucketSubmitImages, "notes.txt", []byte("just some text, not an image"))
	require.ErrorIs(t, err, ErrUnsupportedType)

	big := make([]byte, MaxImageBytes+1)
	copy(big, pngImage(t, 2, 2))
	_, err = up.Upload(ctx, BucketSubmitImages, "big.png", big)
	require.ErrorIs(t, err, ErrImageTooLarge)
}

func TestUploadWebpKeepsOriginalAsThumbnail(t *testing.T) {
	up, _ := newFSUploader(t)
	data := append([]byte("RIFF\x24\x00\x00\x00WEBPVP8 "), make([]byte, 24)...)

	obj, err := up.Upload(context.Background(), BucketReportImages, "photo.webp", data)
	require.NoError(t, err)
	require.Equal(t, "image/webp", obj.ContentType)
	require.Equal(t, obj.URL, obj.ThumbnailURL)
}

func TestContentIDDeterministic(t *testing.T) {
	a, err := ContentID([]byte("hello"))
	require.NoError(t, err)
	b, err := ContentID([]byte("hello"))
	require.NoError(t, err)
	c, err := ContentID([]byte("hello!"))
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"photo.jpg":              "photo.jpg",
		"../../etc/passwd":       "passwd",
		`C:\Users\me\Wallet.png`: "wallet.png",
		"Lost Keys!!.jpeg":       "lost-keys-.jpeg",
		"...":                    "",
		"":                       "",
	}
	for in, want := range cases {
		require.Equal(t, want, SanitizeName(in), in)
	}
	require.Equal(t, "1000-image.gif", ObjectKey(time.UnixMilli(1000), "", "gif"))
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	store, err := NewFSStore(t.TempDir(), "")
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "bucket", "../x", "image/png", []byte{1})
	require.Error(t, err)
	_, err = store.Put(context.Background(), "a/b", "x", "image/png", []byte{1})
	require.Error(t, err)
}

func TestPublicURL(t *testing.T) {
	require.Equal(t, "https://storage.googleapis.com/solfind-submit/1-a.png", PublicURL("solfind-submit", "1-a.png"))
}
