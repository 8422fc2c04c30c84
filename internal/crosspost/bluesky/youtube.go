package bluesky

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"sync"

	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/media"
	"github.com/blacktop/crosspost/internal/relay"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/xrpc"
)

const defaultVideoTitle = "YouTube Video"

var youtubePattern = regexp.MustCompile(`(?i)(?:youtube\.com/(?:[^/]+/.+/|(?:v|e(?:mbed)?)/|.*[?&]v=)|youtu\.be/)([^"&?/\s]{11})`)

// Endpoints for video metadata; variables so tests can point them elsewhere.
var (
	oembedURL    = "https://www.youtube.com/oembed"
	thumbnailURL = func(id string) string { return "https://img.youtube.com/vi/" + id + "/hqdefault.jpg" }
)

// YouTubeID returns the first YouTube video id found in text.
func YouTubeID(text string) (string, bool) {
	m := youtubePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

type oembed struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
}

// youtubeEmbed builds a link card for the video. Metadata and thumbnail are fetched together;
// without a thumbnail there is no card.
func (p *Publisher) youtubeEmbed(ctx context.Context, client *xrpc.Client, videoID string) *bsky.FeedPost_Embed {
	watchURL := "https://www.youtube.com/watch?v=" + videoID

	var (
		meta  oembed
		thumb media.Blob
		wg    sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		meta = p.fetchOEmbed(ctx, watchURL)
	}()
	go func() {
		defer wg.Done()
		thumb = p.fetchThumbnail(ctx, videoID)
	}()
	wg.Wait()

	if thumb.Size() == 0 {
		logutil.Warnf("bluesky: no thumbnail for %s, posting without a link card", videoID)
		return nil
	}
	blob, err := uploadBlob(ctx, client, thumb)
	if err != nil {
		logutil.Warnf("bluesky: thumbnail upload failed, posting without a link card: %v", err)
		return nil
	}

	title := meta.Title
	if title == "" {
		title = defaultVideoTitle
	}
	var description string
	if meta.AuthorName != "" {
		description = "YouTube video by " + meta.AuthorName
	}

	return &bsky.FeedPost_Embed{
		EmbedExternal: &bsky.EmbedExternal{
			External: &bsky.EmbedExternal_External{
				Uri:         watchURL,
				Title:       title,
				Description: description,
				Thumb:       blob,
			},
		},
	}
}

func (p *Publisher) fetchOEmbed(ctx context.Context, watchURL string) oembed {
	q := url.Values{}
	q.Set("url", watchURL)
	q.Set("format", "json")

	var out oembed
	resp, err := p.relay.Do(ctx, relay.Request{
		URL:              oembedURL + "?" + q.Encode(),
		Method:           http.MethodGet,
		ResponseEncoding: relay.ResponseJSON,
	})
	if err != nil {
		logutil.Debugf("bluesky: oembed lookup failed: %v", err)
		return out
	}
	if resp.OK {
		if err := resp.Decode(&out); err != nil {
			logutil.Debugf("bluesky: oembed decode failed: %v", err)
		}
	}
	return out
}

func (p *Publisher) fetchThumbnail(ctx context.Context, videoID string) media.Blob {
	resp, err := p.relay.Do(ctx, relay.Request{
		URL:              thumbnailURL(videoID),
		Method:           http.MethodGet,
		ResponseEncoding: relay.ResponseBase64,
	})
	if err != nil || !resp.OK {
		return media.Blob{}
	}
	data, err := resp.Bytes()
	if err != nil {
		return media.Blob{}
	}
	return media.NewBlob(data, "image/jpeg")
}
