// Package threads publishes to Threads through its container API: content is staged in
// server-side containers, polled until processed, then published.
package threads

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blacktop/crosspost/internal/crosspost"
	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/media"
	"github.com/blacktop/crosspost/internal/relay"
	"github.com/blacktop/crosspost/internal/settings"
	"github.com/blacktop/crosspost/internal/uploader"
	"golang.org/x/sync/errgroup"
)

// MaxImages is the carousel size limit. Extra images are dropped.
const MaxImages = 4

const (
	mediaText     = "TEXT"
	mediaImage    = "IMAGE"
	mediaCarousel = "CAROUSEL"

	statusFinished = "FINISHED"
	statusError    = "ERROR"
)

// DefaultSchedule is the container poll schedule: one short wait, then fourteen longer ones.
var DefaultSchedule = func() []time.Duration {
	s := []time.Duration{time.Second}
	for range 14 {
		s = append(s, 2*time.Second)
	}
	return s
}()

// Uploader puts images on a public host; Threads only accepts image URLs.
type Uploader interface {
	Name() string
	UploadAll(ctx context.Context, blobs []media.Blob) ([]string, error)
}

// Publisher implements crosspost.Publisher for Threads.
type Publisher struct {
	relay       relay.Relay
	newUploader func(relay.Relay, settings.Uploader) Uploader
	schedule    []time.Duration
	sleep       func(context.Context, time.Duration) error
	notifier    crosspost.Notifier
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithSchedule replaces the container poll schedule.
func WithSchedule(schedule []time.Duration) Option {
	return func(p *Publisher) { p.schedule = schedule }
}

// WithUploader replaces the image host factory.
func WithUploader(fn func(relay.Relay, settings.Uploader) Uploader) Option {
	return func(p *Publisher) { p.newUploader = fn }
}

// WithNotifier reports progress (image upload, carousel assembly) while publishing.
func WithNotifier(n crosspost.Notifier) Option {
	return func(p *Publisher) { p.notifier = n }
}

// New returns a Publisher whose calls all cross r.
func New(r relay.Relay, opts ...Option) *Publisher {
	p := &Publisher{
		relay: r,
		newUploader: func(r relay.Relay, cfg settings.Uploader) Uploader {
			return uploader.New(r, cfg)
		},
		schedule: DefaultSchedule,
		sleep:    sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Platform() crosspost.Platform { return crosspost.Threads }

// Publish posts text with up to MaxImages images. Zero images makes a TEXT post, one an IMAGE
// post, and more a CAROUSEL whose children are created one at a time.
func (p *Publisher) Publish(ctx context.Context, draft crosspost.PostDraft, cfg settings.Settings) error {
	api, err := p.api(cfg.Threads)
	if err != nil {
		return err
	}

	images := draft.Images
	if len(images) > MaxImages {
		logutil.Debugf("threads: dropping %d images over the carousel limit", len(images)-MaxImages)
		images = images[:MaxImages]
	}

	if len(images) == 0 {
		return p.post(ctx, api, container{MediaType: mediaText, Text: draft.Text}, mediaText)
	}

	up := p.newUploader(p.relay, cfg.Uploader)
	p.notify(fmt.Sprintf("Uploading %d image(s) to %s…", len(images), up.Name()))
	urls, err := p.upload(ctx, up, images)
	if err != nil {
		return err
	}
	logutil.Debugf("threads: hosted images %s", strings.Join(urls, " "))

	if len(urls) == 1 {
		return p.post(ctx, api, container{MediaType: mediaImage, ImageURL: urls[0], Text: draft.Text}, mediaImage)
	}
	return p.postCarousel(ctx, api, draft.Text, urls)
}

func (p *Publisher) api(cfg settings.Threads) (*client, error) {
	var missing []string
	if cfg.AccessToken == "" {
		missing = append(missing, "threads.access_token")
	}
	if cfg.UserID == "" {
		missing = append(missing, "threads.user_id")
	}
	if len(missing) > 0 {
		return nil, crosspost.ConfigError{Platform: crosspost.Threads, Missing: missing}
	}
	base := cfg.APIURL
	if base == "" {
		base = settings.DefaultThreadsAPIURL
	}
	return &client{relay: p.relay, base: base, userID: cfg.UserID, token: cfg.AccessToken}, nil
}

// upload fetches every image and pushes them to the host concurrently. Any failure fails the post.
func (p *Publisher) upload(ctx context.Context, up Uploader, images []crosspost.ImageRef) ([]string, error) {
	blobs := make([]media.Blob, len(images))
	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		g.Go(func() error {
			b, err := img.Fetch(gctx)
			if err != nil {
				return crosspost.ValidationError{Platform: crosspost.Threads, Reason: err.Error()}
			}
			blobs[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return up.UploadAll(ctx, blobs)
}

// post creates a single container, waits for it and publishes it.
func (p *Publisher) post(ctx context.Context, api *client, c container, label string) error {
	id, err := api.create(ctx, c, label)
	if err != nil {
		return err
	}
	if err := p.wait(ctx, api, id, label); err != nil {
		return err
	}
	return api.publish(ctx, id)
}

func (p *Publisher) postCarousel(ctx context.Context, api *client, text string, urls []string) error {
	p.notify("Creating carousel containers…")

	// children must be created sequentially; the API rejects concurrent child creation
	children := make([]string, 0, len(urls))
	for i, u := range urls {
		label := fmt.Sprintf("IMAGE[%d/%d]", i+1, len(urls))
		id, err := api.create(ctx, container{MediaType: mediaImage, ImageURL: u, IsCarouselItem: true}, label)
		if err != nil {
			return err
		}
		children = append(children, id)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range children {
		label := fmt.Sprintf("IMAGE[%d/%d]", i+1, len(children))
		g.Go(func() error { return p.wait(gctx, api, id, label) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return p.post(ctx, api, container{
		MediaType: mediaCarousel,
		Children:  strings.Join(children, ","),
		Text:      text,
	}, mediaCarousel)
}

// wait polls a container until it reaches a terminal state or the schedule runs out.
// A failed poll request aborts the wait.
func (p *Publisher) wait(ctx context.Context, api *client, id, label string) error {
	for i, delay := range p.schedule {
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
		st, err := api.status(ctx, id)
		if err != nil {
			return fmt.Errorf("poll %s container: %w", label, err)
		}
		logutil.Debugf("threads container label=%s try=%d status=%s", label, i+1, st.Status)

		switch st.Status {
		case statusFinished:
			return nil
		case statusError:
			return crosspost.ContainerError{Label: label, Message: st.ErrorMessage}
		}
	}
	return crosspost.ContainerTimeoutError{Label: label, Attempts: len(p.schedule)}
}

func (p *Publisher) notify(msg string) {
	if p.notifier != nil {
		p.notifier.Notify(crosspost.Notice{Level: crosspost.LevelInfo, Platform: crosspost.Threads, Message: msg})
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type container struct {
	MediaType      string `json:"media_type"`
	Text           string `json:"text,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	IsCarouselItem bool   `json:"is_carousel_item,omitempty"`
	Children       string `json:"children,omitempty"`
	AccessToken    string `json:"access_token"`
}

type apiError struct {
	Message string `json:"message"`
}

type idResponse struct {
	ID    string    `json:"id"`
	Error *apiError `json:"error,omitempty"`
}

type containerStatus struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// client is the slice of the Graph API the publisher needs.
type client struct {
	relay  relay.Relay
	base   string
	userID string
	token  string
}

func (c *client) create(ctx context.Context, body container, label string) (string, error) {
	body.AccessToken = c.token
	var out idResponse
	resp, err := c.postJSON(ctx, fmt.Sprintf("%s/%s/threads", c.base, c.userID), body, &out)
	if err != nil {
		return "", fmt.Errorf("create %s container: %w", label, err)
	}
	if out.ID == "" {
		return "", crosspost.PublishError{
			Platform: crosspost.Threads,
			Reason:   fmt.Sprintf("create %s container: %s", label, errorText(out.Error, resp)),
		}
	}
	logutil.Debugf("threads container created: label=%s id=%s", label, out.ID)
	return out.ID, nil
}

func (c *client) status(ctx context.Context, id string) (containerStatus, error) {
	q := url.Values{}
	q.Set("fields", "status,error_message")
	q.Set("access_token", c.token)

	resp, err := c.relay.Do(ctx, relay.Request{
		URL:              fmt.Sprintf("%s/%s?%s", c.base, id, q.Encode()),
		Method:           http.MethodGet,
		ResponseEncoding: relay.ResponseJSON,
	})
	if err != nil {
		return containerStatus{}, err
	}
	var st containerStatus
	if err := resp.Decode(&st); err != nil {
		logutil.Debugf("threads: unreadable status for %s: %v", id, err)
	}
	return st, nil
}

func (c *client) publish(ctx context.Context, creationID string) error {
	var out idResponse
	resp, err := c.postJSON(ctx, fmt.Sprintf("%s/%s/threads_publish", c.base, c.userID), map[string]string{
		"creation_id":  creationID,
		"access_token": c.token,
	}, &out)
	if err != nil {
		return crosspost.PublishError{Platform: crosspost.Threads, Reason: "publish", Err: err}
	}
	if !resp.OK && out.ID == "" {
		return crosspost.PublishError{Platform: crosspost.Threads, Reason: errorText(out.Error, resp)}
	}
	logutil.Debugf("threads published: creation_id=%s id=%s", creationID, out.ID)
	return nil
}

func (c *client) postJSON(ctx context.Context, endpoint string, body, out any) (*relay.Response, error) {
	req, err := relay.JSONRequest(http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.ResponseEncoding = relay.ResponseJSON
	resp, err := c.relay.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := resp.Decode(out); err != nil {
		logutil.Debugf("threads: undecodable response from %s: %v", endpoint, err)
	}
	return resp, nil
}

func errorText(apiErr *apiError, resp *relay.Response) string {
	if apiErr != nil && apiErr.Message != "" {
		return apiErr.Message
	}
	if body := resp.String(); body != "" {
		return body
	}
	return fmt.Sprintf("HTTP %d", resp.Status)
}
