package telgpt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gabriel-vasile/mimetype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadImage(t *testing.T) {
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/cat.png":
					_, _ = w.Write(pngBytes)
				case "/notes.txt":
					_, _ = w.Write([]byte("just some text"))
				default:
					w.WriteHeader(http.StatusNotFound)
				}
			},
		),
	)
	t.Cleanup(srv.Close)
	ctx := context.Background()

	t.Run(
		"png", func(t *testing.T) {
			dir := t.TempDir()
			p, mtype, err := downloadImage(ctx, srv.Client(), srv.URL+"/cat.png", dir, discordMaxAttachmentBytes)
			require.NoError(t, err)
			assert.Equal(t, dir, filepath.Dir(p))
			assert.Equal(t, ".png", filepath.Ext(p))
			assert.True(t, isAllowedImageType(mtype))

			data, err := os.ReadFile(p)
			require.NoError(t, err)
			assert.Equal(t, pngBytes, data)

			require.NoError(t, removeTempFile(p))
			require.NoError(t, removeTempFile(p), "removing twice is fine")
		},
	)

	t.Run(
		"not an image", func(t *testing.T) {
			p, mtype, err := downloadImage(ctx, srv.Client(), srv.URL+"/notes.txt", t.TempDir(), discordMaxAttachmentBytes)
			require.NoError(t, err)
			t.Cleanup(func() { _ = removeTempFile(p) })
			assert.False(t, isAllowedImageType(mtype))
		},
	)

	t.Run(
		"not found", func(t *testing.T) {
			dir := t.TempDir()
			_, _, err := downloadImage(ctx, nil, srv.URL+"/gone.png", dir, discordMaxAttachmentBytes)
			assert.EqualError(t, err, "image download failed: 404")
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		},
	)

	t.Run(
		"at the size limit", func(t *testing.T) {
			p, _, err := downloadImage(ctx, srv.Client(), srv.URL+"/cat.png", t.TempDir(), int64(len(pngBytes)))
			require.NoError(t, err)
			require.NoError(t, removeTempFile(p))
		},
	)

	t.Run(
		"over the size limit", func(t *testing.T) {
			dir := t.TempDir()
			_, _, err := downloadImage(ctx, srv.Client(), srv.URL+"/cat.png", dir, int64(len(pngBytes)-1))
			require.ErrorIs(t, err, ErrAttachmentTooLarge)
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		},
	)
}

func TestTempImagePath(t *testing.T) {
	dir := t.TempDir()
	a := tempImagePath(dir, ".png")
	b := tempImagePath(dir, ".png")
	assert.NotEqual(t, a, b)
	assert.Equal(t, dir, filepath.Dir(a))

	assert.Equal(t, os.TempDir(), filepath.Dir(tempImagePath("", ".jpg")))
}

func TestAllowedTypes(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{contentType: "image/png", want: true},
		{contentType: "image/jpeg", want: true},
		{contentType: "image/jpeg; charset=binary", want: true},
		{contentType: "image/gif"},
		{contentType: "image/webp"},
		{contentType: ""},
	}
	for _, tc := range tests {
		t.Run(
			tc.contentType, func(t *testing.T) {
				assert.Equal(t, tc.want, isAllowedContentType(tc.contentType))
			},
		)
	}

	assert.True(t, isAllowedImageType(mimetype.Detect(pngBytes)))
	assert.False(t, isAllowedImageType(mimetype.Detect([]byte("GIF89a"))))
	assert.False(t, isAllowedImageType(nil))
}
