package crosspost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/blacktop/crosspost/internal/media"
	"github.com/blacktop/crosspost/internal/relay"
)

// ImageRef points at image bytes that have not been read yet. Each publisher fetches its own
// copy since platforms need different encodings.
type ImageRef interface {
	Source() string
	Fetch(ctx context.Context) (media.Blob, error)
}

// FileImage is an image on the local filesystem.
type FileImage struct {
	Path string
}

func (f FileImage) Source() string { return f.Path }

func (f FileImage) Fetch(ctx context.Context) (media.Blob, error) {
	if err := ctx.Err(); err != nil {
		return media.Blob{}, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return media.Blob{}, fmt.Errorf("image %q not found", f.Path)
		}
		return media.Blob{}, fmt.Errorf("read image: %w", err)
	}
	return media.NewBlob(data, mimeFromExt(f.Path)), nil
}

// RemoteImage is an image reachable over HTTP, fetched through the relay.
type RemoteImage struct {
	URL   string
	Relay relay.Relay
}

func (r RemoteImage) Source() string { return r.URL }

func (r RemoteImage) Fetch(ctx context.Context) (media.Blob, error) {
	resp, err := r.Relay.Do(ctx, relay.Request{
		URL:              r.URL,
		Method:           http.MethodGet,
		ResponseEncoding: relay.ResponseBase64,
	})
	if err != nil {
		return media.Blob{}, err
	}
	if !resp.OK {
		return media.Blob{}, fmt.Errorf("fetch image %s: HTTP %d", r.URL, resp.Status)
	}
	data, err := resp.Bytes()
	if err != nil {
		return media.Blob{}, fmt.Errorf("decode image %s: %w", r.URL, err)
	}
	if len(data) == 0 {
		return media.Blob{}, fmt.Errorf("fetch image %s: empty body", r.URL)
	}
	return media.NewBlob(data, resp.MimeType), nil
}

// NewImageRef returns a RemoteImage for http(s) sources and a FileImage otherwise.
func NewImageRef(source string, r relay.Relay) ImageRef {
	source = strings.TrimSpace(source)
	lower := strings.ToLower(source)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return RemoteImage{URL: source, Relay: r}
	}
	return FileImage{Path: source}
}

func mimeFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	return ""
}
