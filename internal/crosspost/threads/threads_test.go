package threads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blacktop/crosspost/internal/crosspost"
	"github.com/blacktop/crosspost/internal/media"
	"github.com/blacktop/crosspost/internal/relay"
	"github.com/blacktop/crosspost/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memImage string

func (m memImage) Source() string { return string(m) }

func (m memImage) Fetch(context.Context) (media.Blob, error) {
	return media.NewBlob([]byte(m), "image/jpeg"), nil
}

type fakeUploader struct {
	mu      sync.Mutex
	batches [][]string
}

func (f *fakeUploader) Name() string { return "fakebox" }

func (f *fakeUploader) UploadAll(_ context.Context, blobs []media.Blob) ([]string, error) {
	urls := make([]string, len(blobs))
	for i, b := range blobs {
		urls[i] = "https://files.catbox.moe/" + string(b.Data) + ".jpg"
	}
	f.mu.Lock()
	f.batches = append(f.batches, urls)
	f.mu.Unlock()
	return urls, nil
}

// graphAPI fakes the container endpoints and records how they were called.
type graphAPI struct {
	mu        sync.Mutex
	created   []map[string]any
	published []string
	polls     map[string]int

	// status returns the container status for a poll; nil means always FINISHED.
	status      func(id string, try int) (string, string)
	publishFail string

	nextID         atomic.Int32
	createInFlight atomic.Int32
	maxCreates     atomic.Int32
	pollInFlight   atomic.Int32
	maxPolls       atomic.Int32
}

func newGraphAPI() *graphAPI {
	return &graphAPI{polls: map[string]int{}}
}

func trackMax(inflight, max *atomic.Int32) func() {
	n := inflight.Add(1)
	for {
		cur := max.Load()
		if n <= cur || max.CompareAndSwap(cur, n) {
			break
		}
	}
	return func() { inflight.Add(-1) }
}

func (g *graphAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	path := strings.TrimPrefix(r.URL.Path, "/v1.0/")
	switch {
	case r.Method == http.MethodPost && path == "u1/threads":
		done := trackMax(&g.createInFlight, &g.maxCreates)
		defer done()
		time.Sleep(10 * time.Millisecond)

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		id := fmt.Sprintf("c%d", g.nextID.Add(1))
		if body["media_type"] == "CAROUSEL" {
			id = "parent"
		}
		g.mu.Lock()
		g.created = append(g.created, body)
		g.mu.Unlock()
		_, _ = fmt.Fprintf(w, `{"id":%q}`, id)

	case r.Method == http.MethodPost && path == "u1/threads_publish":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["access_token"] != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if g.publishFail != "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprintf(w, `{"error":{"message":%q}}`, g.publishFail)
			return
		}
		g.mu.Lock()
		g.published = append(g.published, body["creation_id"])
		g.mu.Unlock()
		_, _ = io.WriteString(w, `{"id":"post-1"}`)

	case r.Method == http.MethodGet:
		done := trackMax(&g.pollInFlight, &g.maxPolls)
		defer done()
		time.Sleep(25 * time.Millisecond)

		if r.URL.Query().Get("access_token") != "tok" || r.URL.Query().Get("fields") != "status,error_message" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		g.polls[path]++
		try := g.polls[path]
		g.mu.Unlock()

		status, msg := "FINISHED", ""
		if g.status != nil {
			status, msg = g.status(path, try)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": path, "status": status, "error_message": msg})

	default:
		http.NotFound(w, r)
	}
}

func (g *graphAPI) calls() ([]map[string]any, []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]map[string]any(nil), g.created...), append([]string(nil), g.published...)
}

func (g *graphAPI) pollCount(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.polls[id]
}

func setup(t *testing.T, g *graphAPI, schedule ...time.Duration) (*Publisher, *fakeUploader, settings.Settings) {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)

	r := relay.NewLocal(relay.NewFetcher(nil), 5*time.Second)
	t.Cleanup(func() { _ = r.Close() })

	if len(schedule) == 0 {
		schedule = []time.Duration{0, time.Millisecond, time.Millisecond}
	}
	up := &fakeUploader{}
	p := New(r,
		WithSchedule(schedule),
		WithUploader(func(relay.Relay, settings.Uploader) Uploader { return up }),
	)

	var cfg settings.Settings
	cfg.Threads.AccessToken = "tok"
	cfg.Threads.UserID = "u1"
	cfg.Threads.APIURL = srv.URL + "/v1.0"
	return p, up, cfg
}

func images(names ...string) []crosspost.ImageRef {
	out := make([]crosspost.ImageRef, len(names))
	for i, n := range names {
		out[i] = memImage(n)
	}
	return out
}

func TestPublishText(t *testing.T) {
	g := newGraphAPI()
	p, up, cfg := setup(t, g)

	require.NoError(t, p.Publish(context.Background(), crosspost.PostDraft{Text: "Hello"}, cfg))

	created, published := g.calls()
	require.Len(t, created, 1)
	assert.Equal(t, "TEXT", created[0]["media_type"])
	assert.Equal(t, "Hello", created[0]["text"])
	assert.Equal(t, "tok", created[0]["access_token"])
	assert.Equal(t, []string{"c1"}, published)
	assert.Empty(t, up.batches)
}

func TestPublishSingleImage(t *testing.T) {
	g := newGraphAPI()
	p, up, cfg := setup(t, g)

	draft := crosspost.PostDraft{Text: "pic", Images: images("a")}
	require.NoError(t, p.Publish(context.Background(), draft, cfg))

	created, published := g.calls()
	require.Len(t, up.batches, 1)
	require.Len(t, created, 1)
	assert.Equal(t, "IMAGE", created[0]["media_type"])
	assert.Equal(t, "https://files.catbox.moe/a.jpg", created[0]["image_url"])
	assert.Equal(t, "pic", created[0]["text"])
	assert.Nil(t, created[0]["is_carousel_item"])
	assert.Equal(t, []string{"c1"}, published)
}

func TestPublishCarousel(t *testing.T) {
	g := newGraphAPI()
	// children take a couple of polls so their waits overlap
	g.status = func(id string, try int) (string, string) {
		if id != "parent" && try < 2 {
			return "IN_PROGRESS", ""
		}
		return "FINISHED", ""
	}
	p, _, cfg := setup(t, g)

	draft := crosspost.PostDraft{Text: "three", Images: images("a", "b", "c")}
	require.NoError(t, p.Publish(context.Background(), draft, cfg))

	created, published := g.calls()
	require.Len(t, created, 4)
	for i, name := range []string{"a", "b", "c"} {
		assert.Equal(t, "IMAGE", created[i]["media_type"])
		assert.Equal(t, "https://files.catbox.moe/"+name+".jpg", created[i]["image_url"])
		assert.Equal(t, true, created[i]["is_carousel_item"])
		assert.Nil(t, created[i]["text"])
	}
	parent := created[3]
	assert.Equal(t, "CAROUSEL", parent["media_type"])
	assert.Equal(t, "c1,c2,c3", parent["children"])
	assert.Equal(t, "three", parent["text"])

	assert.EqualValues(t, 1, g.maxCreates.Load(), "child containers must be created one at a time")
	assert.GreaterOrEqual(t, g.maxPolls.Load(), int32(2), "child readiness polls should overlap")
	assert.Equal(t, 2, g.pollCount("c1"))
	assert.Equal(t, 1, g.pollCount("parent"))
	assert.Equal(t, []string{"parent"}, published)
}

func TestPublishCapsImages(t *testing.T) {
	g := newGraphAPI()
	p, up, cfg := setup(t, g)

	draft := crosspost.PostDraft{Images: images("a", "b", "c", "d", "e", "f")}
	require.NoError(t, p.Publish(context.Background(), draft, cfg))

	created, _ := g.calls()
	require.Len(t, up.batches, 1)
	assert.Len(t, up.batches[0], MaxImages)
	assert.Equal(t, "c1,c2,c3,c4", created[len(created)-1]["children"])
}

func TestContainerTimeoutNamesStage(t *testing.T) {
	g := newGraphAPI()
	g.status = func(string, int) (string, string) { return "IN_PROGRESS", "" }
	p, _, cfg := setup(t, g, 0, 0, 0)

	err := p.Publish(context.Background(), crosspost.PostDraft{Text: "slow"}, cfg)
	var te crosspost.ContainerTimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "TEXT", te.Label)
	assert.Equal(t, 3, te.Attempts)
	assert.Contains(t, err.Error(), "TEXT")
	assert.Equal(t, 3, g.pollCount("c1"))
	_, published := g.calls()
	assert.Empty(t, published)
}

func TestContainerErrorState(t *testing.T) {
	g := newGraphAPI()
	g.status = func(id string, _ int) (string, string) {
		if id == "c2" {
			return "ERROR", "unsupported image"
		}
		return "FINISHED", ""
	}
	p, _, cfg := setup(t, g)

	err := p.Publish(context.Background(), crosspost.PostDraft{Images: images("a", "b")}, cfg)
	var ce crosspost.ContainerError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "IMAGE[2/2]", ce.Label)
	assert.Equal(t, "unsupported image", ce.Message)
	_, published := g.calls()
	assert.Empty(t, published)
}

func TestPublishFailure(t *testing.T) {
	g := newGraphAPI()
	g.publishFail = "rate limit"
	p, _, cfg := setup(t, g)

	err := p.Publish(context.Background(), crosspost.PostDraft{Text: "x"}, cfg)
	var pe crosspost.PublishError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestPublishMissingConfig(t *testing.T) {
	p := New(nil)
	err := p.Publish(context.Background(), crosspost.PostDraft{Text: "x"}, settings.Settings{})
	var ce crosspost.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"threads.access_token", "threads.user_id"}, ce.Missing)
}

func TestDefaultSchedule(t *testing.T) {
	require.Len(t, DefaultSchedule, 15)
	assert.Equal(t, time.Second, DefaultSchedule[0])
	var total time.Duration
	for _, d := range DefaultSchedule {
		total += d
	}
	assert.Less(t, total, 30*time.Second)
}
