package crosspost

import (
	"context"
	"fmt"
	"strings"

	"github.com/blacktop/crosspost/internal/settings"
)

// Platform identifies a crosspost destination.
type Platform string

const (
	Mastodon Platform = "Mastodon"
	Threads  Platform = "Threads"
	Bluesky  Platform = "Bluesky"
	// X is the host platform; it is posted to by the host's own submission, never fanned out.
	X Platform = "X"
)

// Platforms lists the crosspost destinations in fan-out order.
var Platforms = []Platform{Mastodon, Threads, Bluesky}

// ParsePlatform accepts a case-insensitive platform name.
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mastodon":
		return Mastodon, nil
	case "threads":
		return Threads, nil
	case "bluesky", "bsky":
		return Bluesky, nil
	}
	return "", fmt.Errorf("unsupported platform %q", s)
}

// PostDraft is the composed post, extracted once per invocation and immutable afterwards.
type PostDraft struct {
	Text   string
	Images []ImageRef
}

// PlatformOutcome is the result of one publisher run.
type PlatformOutcome struct {
	Platform Platform
	OK       bool
	Error    string
}

// Publisher is one platform's publishing protocol.
type Publisher interface {
	Platform() Platform
	Publish(ctx context.Context, draft PostDraft, cfg settings.Settings) error
}

// DefaultChecked reports the user's baseline toggle preference for p.
func DefaultChecked(cfg settings.Settings, p Platform) bool {
	switch p {
	case Mastodon:
		return cfg.Mastodon.CrosspostChecked
	case Threads:
		return cfg.Threads.CrosspostChecked
	case Bluesky:
		return cfg.Bluesky.CrosspostChecked
	}
	return false
}

// Visible reports whether p's toggle is shown at all. Hidden platforms are never enabled.
func Visible(cfg settings.Settings, p Platform) bool {
	switch p {
	case Mastodon:
		return cfg.Mastodon.Visible
	case Threads:
		return cfg.Threads.Visible
	case Bluesky:
		return cfg.Bluesky.Visible
	}
	return false
}
