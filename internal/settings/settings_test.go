package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crosspost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.yaml"))
	s, err := store.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DefaultMastodonInstance, s.Mastodon.InstanceURL)
	assert.Equal(t, DefaultBlueskyPDSURL, s.Bluesky.PDSURL)
	assert.Equal(t, DefaultThreadsAPIURL, s.Threads.APIURL)
	assert.True(t, s.Bluesky.Visible)
	assert.True(t, s.Mastodon.Visible)
	assert.True(t, s.Threads.Visible)
	assert.False(t, s.Threads.CrosspostChecked)
	assert.Equal(t, BackendCatbox, s.Uploader.Backend)
	assert.Equal(t, DefaultLitterboxTime, s.Uploader.LitterboxTime)
	assert.Equal(t, 60*time.Second, s.Relay.Timeout)
}

func TestLoadFileAndNormalize(t *testing.T) {
	path := writeConfig(t, `
bluesky:
  handle: " me.bsky.social "
  app_password: xxxx-xxxx
  crosspost_checked: true
mastodon:
  instance_url: https://fosstodon.org/
  api_key: key
  visible: false
threads:
  access_token: tok
  user_id: "123"
uploader:
  backend: LitterBox
  litterbox_time: 72h
relay:
  timeout: 5s
`)
	s, err := NewStore(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "me.bsky.social", s.Bluesky.Handle)
	assert.True(t, s.Bluesky.CrosspostChecked)
	assert.Equal(t, "https://fosstodon.org", s.Mastodon.InstanceURL)
	assert.False(t, s.Mastodon.Visible)
	assert.Equal(t, "123", s.Threads.UserID)
	assert.Equal(t, BackendLitterbox, s.Uploader.Backend)
	assert.Equal(t, "72h", s.Uploader.LitterboxTime)
	assert.Equal(t, 5*time.Second, s.Relay.Timeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "mastodon:\n  api_key: from-file\n")
	t.Setenv("CROSSPOST_MASTODON_API_KEY", "from-env")
	t.Setenv("CROSSPOST_THREADS_CROSSPOST_CHECKED", "true")

	s, err := NewStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.Mastodon.APIKey)
	assert.True(t, s.Threads.CrosspostChecked)
}

func TestLoadIsFreshEachCall(t *testing.T) {
	path := writeConfig(t, "bluesky:\n  handle: first\n")
	store := NewStore(path)

	s, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", s.Bluesky.Handle)

	require.NoError(t, os.WriteFile(path, []byte("bluesky:\n  handle: second\n"), 0o600))
	s, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", s.Bluesky.Handle)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, "bluesky: [unterminated\n")
	_, err := NewStore(path).Load(context.Background())
	require.Error(t, err)
}

func TestSaveThreadsToken(t *testing.T) {
	path := writeConfig(t, "threads:\n  user_id: \"99\"\n  access_token: old\n")
	t.Setenv("CROSSPOST_MASTODON_API_KEY", "env-secret")
	store := NewStore(path)

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveThreadsToken("new-token", issued))

	s, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-token", s.Threads.AccessToken)
	assert.Equal(t, "99", s.Threads.UserID)
	assert.True(t, issued.Equal(s.Threads.IssuedAt()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "env-secret")
}

func TestThreadsIssuedAtUnknown(t *testing.T) {
	assert.True(t, Threads{}.IssuedAt().IsZero())
	assert.True(t, Threads{TokenIssuedAt: "yesterday"}.IssuedAt().IsZero())
}

func TestDirFollowsExplicitPath(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "crosspost.yaml"))
	assert.Equal(t, dir, store.Dir())
}
