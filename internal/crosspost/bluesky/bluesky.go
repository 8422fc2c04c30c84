package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blacktop/crosspost/internal/crosspost"
	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/media"
	"github.com/blacktop/crosspost/internal/relay"
	"github.com/blacktop/crosspost/internal/settings"
	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
)

const (
	// MaxBlobBytes is the image size ceiling enforced before upload.
	MaxBlobBytes = 976 * 1024

	postCollection = "app.bsky.feed.post"
	userAgent      = "crosspost/1"
)

// Publisher implements crosspost.Publisher for Bluesky over the AT Protocol.
type Publisher struct {
	relay relay.Relay
	now   func() time.Time
}

// New returns a Publisher whose XRPC calls all cross r.
func New(r relay.Relay) *Publisher {
	return &Publisher{relay: r, now: time.Now}
}

func (p *Publisher) Platform() crosspost.Platform { return crosspost.Bluesky }

// Publish logs in, builds an image or link-card embed and creates the post record.
func (p *Publisher) Publish(ctx context.Context, draft crosspost.PostDraft, cfg settings.Settings) error {
	client, err := p.login(ctx, cfg.Bluesky)
	if err != nil {
		return err
	}

	post := &bsky.FeedPost{
		CreatedAt: p.now().UTC().Format(time.RFC3339),
		Text:      draft.Text,
		Facets:    Facets(draft.Text),
	}

	if len(draft.Images) > 0 {
		post.Embed = p.imageEmbed(ctx, client, draft.Images)
	} else if videoID, ok := YouTubeID(draft.Text); ok {
		post.Embed = p.youtubeEmbed(ctx, client, videoID)
	}

	out, err := atproto.RepoCreateRecord(ctx, client, &atproto.RepoCreateRecord_Input{
		Collection: postCollection,
		Repo:       client.Auth.Did,
		Record:     &util.LexiconTypeDecoder{Val: post},
	})
	if err != nil {
		return crosspost.PublishError{Platform: crosspost.Bluesky, Reason: "create record", Err: err}
	}
	if out == nil || out.Uri == "" {
		return crosspost.PublishError{Platform: crosspost.Bluesky, Reason: "create record: no uri returned"}
	}

	logutil.Debugf("bluesky post created: uri=%s facets=%d", out.Uri, len(post.Facets))
	return nil
}

func (p *Publisher) login(ctx context.Context, cfg settings.Bluesky) (*xrpc.Client, error) {
	var missing []string
	if cfg.Handle == "" {
		missing = append(missing, "bluesky.handle")
	}
	if cfg.AppPassword == "" {
		missing = append(missing, "bluesky.app_password")
	}
	if len(missing) > 0 {
		return nil, crosspost.ConfigError{Platform: crosspost.Bluesky, Missing: missing}
	}

	host := cfg.PDSURL
	if host == "" {
		host = settings.DefaultBlueskyPDSURL
	}
	ua := userAgent
	client := &xrpc.Client{
		Client:    relay.HTTPClient(p.relay),
		Host:      host,
		UserAgent: &ua,
	}

	session, err := atproto.ServerCreateSession(ctx, client, &atproto.ServerCreateSession_Input{
		Identifier: cfg.Handle,
		Password:   cfg.AppPassword,
	})
	if err != nil {
		var xe *xrpc.Error
		if errors.As(err, &xe) && xe.StatusCode >= 400 && xe.StatusCode < 500 {
			return nil, crosspost.AuthError{Platform: crosspost.Bluesky, Reason: err.Error()}
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	if session == nil || session.AccessJwt == "" {
		return nil, crosspost.AuthError{Platform: crosspost.Bluesky, Reason: "no access token returned"}
	}

	client.Auth = &xrpc.AuthInfo{
		AccessJwt:  session.AccessJwt,
		RefreshJwt: session.RefreshJwt,
		Handle:     session.Handle,
		Did:        session.Did,
	}
	return client, nil
}

// imageEmbed compresses and uploads every image concurrently. Images that fail at any step
// are left out; if none survive there is no embed.
func (p *Publisher) imageEmbed(ctx context.Context, client *xrpc.Client, images []crosspost.ImageRef) *bsky.FeedPost_Embed {
	blobs := make([]*util.LexBlob, len(images))
	var wg sync.WaitGroup
	for i, img := range images {
		wg.Add(1)
		go func() {
			defer wg.Done()
			blob, err := p.uploadImage(ctx, client, img)
			if err != nil {
				logutil.Warnf("bluesky: dropping image %s: %v", img.Source(), err)
				return
			}
			blobs[i] = blob
		}()
	}
	wg.Wait()

	var embedded []*bsky.EmbedImages_Image
	for _, b := range blobs {
		if b != nil {
			embedded = append(embedded, &bsky.EmbedImages_Image{Alt: "", Image: b})
		}
	}
	if len(embedded) == 0 {
		return nil
	}
	return &bsky.FeedPost_Embed{EmbedImages: &bsky.EmbedImages{Images: embedded}}
}

func (p *Publisher) uploadImage(ctx context.Context, client *xrpc.Client, img crosspost.ImageRef) (*util.LexBlob, error) {
	raw, err := img.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	blob, err := media.CompressToLimit(raw, MaxBlobBytes)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if blob.Size() > MaxBlobBytes {
		logutil.Warnf("bluesky: image still %dKB after compression, uploading anyway", blob.Size()/1024)
	}
	return uploadBlob(ctx, client, blob)
}

func uploadBlob(ctx context.Context, client *xrpc.Client, blob media.Blob) (*util.LexBlob, error) {
	resp, err := atproto.RepoUploadBlob(ctx, client, bytes.NewReader(blob.Data))
	if err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}
	if resp == nil || resp.Blob == nil {
		return nil, fmt.Errorf("upload blob: empty response")
	}
	return resp.Blob, nil
}
