package telgpt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var allowedImageTypes = []string{"image/png", "image/jpeg"}

// tempImagePath returns a unique path under dir (or os.TempDir()) for an
// image with the given extension, ex: ".png"
func tempImagePath(dir string, ext string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "telgpt-"+uuid.NewString()+ext)
}

// writeTempImage writes data to a new unique file and returns its path
func writeTempImage(dir string, ext string, data []byte) (string, error) {
	p := tempImagePath(dir, ext)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", fmt.Errorf("error writing image: %w", err)
	}
	return p, nil
}

// removeTempFile deletes p, ignoring files that are already gone
func removeTempFile(p string) error {
	return ImageResult{FilePath: p}.Remove()
}

// downloadImage fetches url into a new unique temp file and returns the
// path along with its sniffed MIME type. Bodies over maxBytes are
// rejected before anything is written. The caller removes the file.
func downloadImage(
	ctx context.Context,
	client *http.Client,
	url string,
	dir string,
	maxBytes int64,
) (string, *mimetype.MIME, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("error creating download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("image download failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("image download failed: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("error reading image: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return "", nil, fmt.Errorf("%w: larger than %d bytes", ErrAttachmentTooLarge, maxBytes)
	}
	mtype := mimetype.Detect(data)
	p, err := writeTempImage(dir, mtype.Extension(), data)
	if err != nil {
		return "", nil, err
	}
	return p, mtype, nil
}

// isAllowedImageType checks a MIME type against the formats accepted for
// image variations
func isAllowedImageType(mtype *mimetype.MIME) bool {
	return mtype != nil && mimetype.EqualsAny(mtype.String(), allowedImageTypes...)
}

// isAllowedContentType checks the content type Discord reported for an
// attachment. Parameters like "; charset" are ignored.
func isAllowedContentType(contentType string) bool {
	return contentType != "" && mimetype.EqualsAny(contentType, allowedImageTypes...)
}
