package mastodon

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blacktop/crosspost/internal/crosspost"
	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/relay"
	"github.com/blacktop/crosspost/internal/settings"
	mastodonapi "github.com/mattn/go-mastodon"
)

const requestTimeout = 2 * relay.DefaultTimeout

// Publisher posts a status to a Mastodon instance. The instance hosts its own media,
// so images go to its media endpoint rather than an external host.
type Publisher struct {
	relay relay.Relay
}

// New returns a Publisher whose API calls all cross r.
func New(r relay.Relay) *Publisher {
	return &Publisher{relay: r}
}

// Platform identifies the destination.
func (p *Publisher) Platform() crosspost.Platform { return crosspost.Mastodon }

// Publish uploads every image, dropping the ones that fail, then posts the status.
// Only the status call decides the outcome.
func (p *Publisher) Publish(ctx context.Context, draft crosspost.PostDraft, cfg settings.Settings) error {
	client, err := p.client(cfg.Mastodon)
	if err != nil {
		return err
	}

	mediaIDs := p.uploadMedia(ctx, client, draft.Images)

	status, err := client.PostStatus(ctx, &mastodonapi.Toot{
		Status:   draft.Text,
		MediaIDs: mediaIDs,
	})
	if err != nil {
		return crosspost.PublishError{Platform: crosspost.Mastodon, Reason: "post status", Err: err}
	}

	logutil.Debugf("mastodon status posted: id=%s media=%d", status.ID, len(mediaIDs))
	return nil
}

func (p *Publisher) client(cfg settings.Mastodon) (*mastodonapi.Client, error) {
	var missing []string
	if cfg.InstanceURL == "" {
		missing = append(missing, "mastodon.instance_url")
	}
	if cfg.APIKey == "" {
		missing = append(missing, "mastodon.api_key")
	}
	if len(missing) > 0 {
		return nil, crosspost.ConfigError{Platform: crosspost.Mastodon, Missing: missing}
	}

	client := mastodonapi.NewClient(&mastodonapi.Config{
		Server:      cfg.InstanceURL,
		AccessToken: cfg.APIKey,
	})
	client.Transport = &relay.Transport{Relay: p.relay}
	client.Timeout = requestTimeout
	return client, nil
}

// uploadMedia uploads all images concurrently. Failed uploads are logged and left out;
// the returned ids keep the draft's order.
func (p *Publisher) uploadMedia(ctx context.Context, client *mastodonapi.Client, images []crosspost.ImageRef) []mastodonapi.ID {
	if len(images) == 0 {
		return nil
	}

	ids := make([]mastodonapi.ID, len(images))
	var wg sync.WaitGroup
	for i, img := range images {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := uploadOne(ctx, client, img)
			if err != nil {
				logutil.Warnf("mastodon: dropping image %s: %v", img.Source(), err)
				return
			}
			ids[i] = id
		}()
	}
	wg.Wait()

	out := ids[:0]
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func uploadOne(ctx context.Context, client *mastodonapi.Client, img crosspost.ImageRef) (mastodonapi.ID, error) {
	start := time.Now()
	blob, err := img.Fetch(ctx)
	if err != nil {
		return "", err
	}

	attachment, err := client.UploadMediaFromMedia(ctx, &mastodonapi.Media{
		File: bytes.NewReader(blob.Data),
	})
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	if attachment == nil || attachment.ID == "" {
		return "", fmt.Errorf("upload media: no id returned")
	}

	logutil.Debugf("mastodon media uploaded: id=%s bytes=%d took=%s", attachment.ID, blob.Size(), time.Since(start).Round(time.Millisecond))
	return attachment.ID, nil
}
