// Package uploader puts images on an anonymous public host so platforms that only accept
// image URLs can fetch them.
package uploader

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/blacktop/crosspost/internal/crosspost"
	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/media"
	"github.com/blacktop/crosspost/internal/relay"
	"github.com/blacktop/crosspost/internal/settings"
	"golang.org/x/sync/errgroup"
)

const (
	CatboxEndpoint    = "https://catbox.moe/user/api.php"
	LitterboxEndpoint = "https://litterbox.catbox.moe/resources/internals/api.php"

	// MaxUploadBytes is the size above which an image gets one resize pass before upload.
	MaxUploadBytes = 50 << 20

	filesPrefix  = "https://files.catbox.moe/"
	litterPrefix = "https://litter.catbox.moe/"
)

// tinyJPEG is a 1x1 white JPEG used to probe the host.
const tinyJPEG = "/9j/4AAQSkZJRgABAQEASABIAAD/2wBDAAgGBgcGBQgHBwcJCQgKDBQNDAsLDBkSEw8U" +
	"HRofHh0aHBwgJC4nICIsIxwcKDcpLDAxNDQ0Hyc5PTgyPC4zNDL/2wBDAQkJCQwLDBgN" +
	"DRgyIRwhMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIy" +
	"MjL/wAARCAABAAEDASIAAhEBAxEB/8QAFgABAQEAAAAAAAAAAAAAAAAABgUEA//EAB8QAA" +
	"ICAgMBAQAAAAAAAAAAAAECAwQREiExBf/EABQBAQAAAAAAAAAAAAAAAAAAAAD/xAAUEQEA" +
	"AAAAAAAAAAAAAAAAAAAA/9oADAMBAAIRAxEAPwCwABtttoA//9k="

// Uploader sends images to catbox (permanent) or litterbox (expiring).
type Uploader struct {
	relay     relay.Relay
	backend   string
	endpoint  string
	retention string
	prefixes  []string
}

// New returns an Uploader for the configured backend.
func New(r relay.Relay, cfg settings.Uploader) *Uploader {
	u := &Uploader{relay: r, backend: cfg.Backend}
	if cfg.Backend == settings.BackendLitterbox {
		u.endpoint = firstNonEmpty(cfg.LitterboxURL, LitterboxEndpoint)
		u.retention = firstNonEmpty(cfg.LitterboxTime, settings.DefaultLitterboxTime)
		u.prefixes = []string{filesPrefix, litterPrefix}
	} else {
		u.backend = settings.BackendCatbox
		u.endpoint = firstNonEmpty(cfg.CatboxURL, CatboxEndpoint)
		u.prefixes = []string{filesPrefix}
	}
	return u
}

// Name returns the human name of the backend.
func (u *Uploader) Name() string {
	if u.backend == settings.BackendLitterbox {
		return "litterbox"
	}
	return "catbox.moe"
}

// Upload sends one image and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, b media.Blob) (string, error) {
	if b.Size() > MaxUploadBytes {
		resized, err := media.Resize(b, media.DefaultMaxPixels, media.DefaultQuality)
		if err != nil {
			return "", crosspost.UploadError{Host: u.Name(), Err: fmt.Errorf("shrink oversized image: %w", err)}
		}
		logutil.Debugf("%s: resized %d bytes to %d bytes before upload", u.Name(), b.Size(), resized.Size())
		b = resized
	}
	return u.send(ctx, b.Data, b.MimeType, "image.jpg")
}

// UploadAll uploads every blob concurrently. The returned URLs keep the input order and
// any single failure fails the whole batch.
func (u *Uploader) UploadAll(ctx context.Context, blobs []media.Blob) ([]string, error) {
	urls := make([]string, len(blobs))
	var g errgroup.Group
	for i, b := range blobs {
		g.Go(func() error {
			url, err := u.Upload(ctx, b)
			if err != nil {
				return err
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

// Ping uploads a 1x1 JPEG to confirm the host is reachable and answering with URLs.
func (u *Uploader) Ping(ctx context.Context) (string, error) {
	data, err := base64.StdEncoding.DecodeString(tinyJPEG)
	if err != nil {
		return "", err
	}
	return u.send(ctx, data, "image/jpeg", "test.jpg")
}

func (u *Uploader) send(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	form := []relay.FormField{relay.TextField("reqtype", "fileupload")}
	if u.retention != "" {
		form = append(form, relay.TextField("time", u.retention))
	}
	form = append(form, relay.FileField("fileToUpload", data, mimeType, filename))

	resp, err := u.relay.Do(ctx, relay.Request{
		URL:              u.endpoint,
		Method:           http.MethodPost,
		BodyEncoding:     relay.BodyFormData,
		Form:             form,
		ResponseEncoding: relay.ResponseText,
	})
	if err != nil {
		return "", crosspost.UploadError{Host: u.Name(), Err: err}
	}

	url := strings.TrimSpace(resp.String())
	for _, prefix := range u.prefixes {
		if strings.HasPrefix(url, prefix) {
			return url, nil
		}
	}
	return "", crosspost.UploadError{Host: u.Name(), Response: url}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
