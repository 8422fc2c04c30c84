package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "crosspost"
	envPrefix  = "CROSSPOST"

	BackendCatbox    = "catbox"
	BackendLitterbox = "litterbox"

	DefaultBlueskyPDSURL    = "https://bsky.social"
	DefaultMastodonInstance = "https://mastodon.social"
	DefaultThreadsAPIURL    = "https://graph.threads.net/v1.0"
	DefaultLitterboxTime    = "24h"
	DefaultRelayListenAddr  = "127.0.0.1:17334"
)

// Settings is a read-only snapshot of the user's configuration, taken once per invocation.
type Settings struct {
	Bluesky  Bluesky  `mapstructure:"bluesky"`
	Mastodon Mastodon `mapstructure:"mastodon"`
	Threads  Threads  `mapstructure:"threads"`
	Twitter  Twitter  `mapstructure:"twitter"`
	Uploader Uploader `mapstructure:"uploader"`
	Relay    Relay    `mapstructure:"relay"`
}

type Bluesky struct {
	Handle           string `mapstructure:"handle"`
	AppPassword      string `mapstructure:"app_password"`
	PDSURL           string `mapstructure:"pds_url"`
	CrosspostChecked bool   `mapstructure:"crosspost_checked"`
	Visible          bool   `mapstructure:"visible"`
}

type Mastodon struct {
	InstanceURL      string `mapstructure:"instance_url"`
	APIKey           string `mapstructure:"api_key"`
	CrosspostChecked bool   `mapstructure:"crosspost_checked"`
	Visible          bool   `mapstructure:"visible"`
}

type Threads struct {
	AccessToken      string `mapstructure:"access_token"`
	UserID           string `mapstructure:"user_id"`
	TokenIssuedAt    string `mapstructure:"token_issued_at"`
	APIURL           string `mapstructure:"api_url"`
	CrosspostChecked bool   `mapstructure:"crosspost_checked"`
	Visible          bool   `mapstructure:"visible"`
}

// Twitter holds the OAuth 1.0a user-context credentials for the host post on X.
type Twitter struct {
	Enabled           bool   `mapstructure:"enabled"`
	ConsumerKey       string `mapstructure:"consumer_key"`
	ConsumerSecret    string `mapstructure:"consumer_secret"`
	AccessToken       string `mapstructure:"access_token"`
	AccessTokenSecret string `mapstructure:"access_token_secret"`
}

// Uploader selects the anonymous image host used for platforms that need a public URL.
type Uploader struct {
	Backend       string `mapstructure:"backend"`
	LitterboxTime string `mapstructure:"litterbox_time"`
	CatboxURL     string `mapstructure:"catbox_url"`
	LitterboxURL  string `mapstructure:"litterbox_url"`
}

type Relay struct {
	URL        string        `mapstructure:"url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	ListenAddr string        `mapstructure:"listen_addr"`
}

// IssuedAt parses the stored token issue time; the zero time means unknown.
func (t Threads) IssuedAt() time.Time {
	issued, err := time.Parse(time.RFC3339, strings.TrimSpace(t.TokenIssuedAt))
	if err != nil {
		return time.Time{}
	}
	return issued
}

// Store reads settings from a YAML file and CROSSPOST_* environment variables.
type Store struct {
	path string
}

// NewStore returns a Store. An empty path searches the default locations.
func NewStore(path string) *Store {
	return &Store{path: strings.TrimSpace(path)}
}

// Load takes a fresh snapshot. Every call re-reads the file so edits made between
// invocations are picked up.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}

	v := s.newViper()
	if err := readConfig(v); err != nil {
		return Settings{}, err
	}

	var out Settings
	if err := v.Unmarshal(&out); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	out.normalize()
	return out, nil
}

// Dir returns the directory holding the config file and crosspost state.
func (s *Store) Dir() string {
	return filepath.Dir(s.configPath())
}

// SaveThreadsToken persists a refreshed Threads token and its issue time.
// Only the config file's own contents are rewritten; environment overrides are not copied in.
func (s *Store) SaveThreadsToken(token string, issuedAt time.Time) error {
	path := s.configPath()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	if err := readConfig(v); err != nil {
		return err
	}

	v.Set("threads.access_token", strings.TrimSpace(token))
	v.Set("threads.token_issued_at", issuedAt.UTC().Format(time.RFC3339))

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

func (s *Store) newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	if s.path != "" {
		v.SetConfigFile(s.path)
	} else {
		v.SetConfigName(configName)
		for _, dir := range searchDirs() {
			v.AddConfigPath(dir)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func (s *Store) configPath() string {
	if s.path != "" {
		return s.path
	}
	for _, dir := range searchDirs() {
		candidate := filepath.Join(dir, configName+".yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return filepath.Join(searchDirs()[0], configName+".yaml")
}

func readConfig(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("read settings: %w", err)
}

func searchDirs() []string {
	var dirs []string
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, configName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", configName))
	}
	return append(dirs, ".")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bluesky.handle", "")
	v.SetDefault("bluesky.app_password", "")
	v.SetDefault("bluesky.pds_url", DefaultBlueskyPDSURL)
	v.SetDefault("bluesky.crosspost_checked", false)
	v.SetDefault("bluesky.visible", true)

	v.SetDefault("mastodon.instance_url", DefaultMastodonInstance)
	v.SetDefault("mastodon.api_key", "")
	v.SetDefault("mastodon.crosspost_checked", false)
	v.SetDefault("mastodon.visible", true)

	v.SetDefault("threads.access_token", "")
	v.SetDefault("threads.user_id", "")
	v.SetDefault("threads.token_issued_at", "")
	v.SetDefault("threads.api_url", DefaultThreadsAPIURL)
	v.SetDefault("threads.crosspost_checked", false)
	v.SetDefault("threads.visible", true)

	v.SetDefault("twitter.enabled", false)
	v.SetDefault("twitter.consumer_key", "")
	v.SetDefault("twitter.consumer_secret", "")
	v.SetDefault("twitter.access_token", "")
	v.SetDefault("twitter.access_token_secret", "")

	v.SetDefault("uploader.backend", BackendCatbox)
	v.SetDefault("uploader.litterbox_time", DefaultLitterboxTime)
	v.SetDefault("uploader.catbox_url", "")
	v.SetDefault("uploader.litterbox_url", "")

	v.SetDefault("relay.url", "")
	v.SetDefault("relay.token", "")
	v.SetDefault("relay.timeout", "60s")
	v.SetDefault("relay.listen_addr", DefaultRelayListenAddr)
}

func (s *Settings) normalize() {
	s.Bluesky.Handle = strings.TrimSpace(s.Bluesky.Handle)
	s.Bluesky.AppPassword = strings.TrimSpace(s.Bluesky.AppPassword)
	s.Bluesky.PDSURL = strings.TrimRight(strings.TrimSpace(s.Bluesky.PDSURL), "/")
	if s.Bluesky.PDSURL == "" {
		s.Bluesky.PDSURL = DefaultBlueskyPDSURL
	}

	s.Mastodon.InstanceURL = strings.TrimRight(strings.TrimSpace(s.Mastodon.InstanceURL), "/")
	s.Mastodon.APIKey = strings.TrimSpace(s.Mastodon.APIKey)

	s.Threads.AccessToken = strings.TrimSpace(s.Threads.AccessToken)
	s.Threads.UserID = strings.TrimSpace(s.Threads.UserID)
	s.Threads.APIURL = strings.TrimRight(strings.TrimSpace(s.Threads.APIURL), "/")
	if s.Threads.APIURL == "" {
		s.Threads.APIURL = DefaultThreadsAPIURL
	}

	s.Uploader.Backend = strings.ToLower(strings.TrimSpace(s.Uploader.Backend))
	if s.Uploader.Backend != BackendLitterbox {
		s.Uploader.Backend = BackendCatbox
	}
	s.Uploader.LitterboxTime = strings.TrimSpace(s.Uploader.LitterboxTime)
	if s.Uploader.LitterboxTime == "" {
		s.Uploader.LitterboxTime = DefaultLitterboxTime
	}

	s.Relay.URL = strings.TrimSpace(s.Relay.URL)
	if s.Relay.Timeout <= 0 {
		s.Relay.Timeout = 60 * time.Second
	}
}
