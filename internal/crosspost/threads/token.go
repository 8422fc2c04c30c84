package threads

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/blacktop/crosspost/internal/crosspost"
	"github.com/blacktop/crosspost/internal/relay"
	"github.com/blacktop/crosspost/internal/settings"
)

// Long-lived token lifetime and the thresholds used to nag about it.
const (
	TokenLifetime = 60 * 24 * time.Hour
	WarnDays      = 14
	DangerDays    = 7
)

// ExpiryState buckets how close a token is to expiring.
type ExpiryState string

const (
	ExpiryNotSet  ExpiryState = "not-set"
	ExpiryUnknown ExpiryState = "unknown"
	ExpiryOK      ExpiryState = "ok"
	ExpiryWarn    ExpiryState = "warn"
	ExpiryDanger  ExpiryState = "danger"
	ExpiryExpired ExpiryState = "expired"
)

// Expiry describes the stored token's remaining life.
type Expiry struct {
	State     ExpiryState
	DaysLeft  int
	ExpiresAt time.Time
	// Remaining is the fraction of the lifetime left, clamped to [0, 1].
	Remaining float64
}

// TokenExpiry computes the expiry state of a token issued at issuedAt, as seen at now.
func TokenExpiry(token string, issuedAt, now time.Time) Expiry {
	if token == "" {
		return Expiry{State: ExpiryNotSet}
	}
	if issuedAt.IsZero() {
		return Expiry{State: ExpiryUnknown}
	}

	expiresAt := issuedAt.Add(TokenLifetime)
	left := expiresAt.Sub(now)
	days := int(math.Ceil(left.Hours() / 24))
	remaining := math.Max(0, math.Min(1, float64(left)/float64(TokenLifetime)))

	e := Expiry{DaysLeft: days, ExpiresAt: expiresAt, Remaining: remaining}
	switch {
	case days <= 0:
		e.State = ExpiryExpired
		e.Remaining = 0
	case days <= DangerDays:
		e.State = ExpiryDanger
	case days <= WarnDays:
		e.State = ExpiryWarn
	default:
		e.State = ExpiryOK
	}
	return e
}

// RefreshedToken is a newly issued long-lived token.
type RefreshedToken struct {
	AccessToken string
	TokenType   string
	ExpiresIn   time.Duration
}

// Days returns the new token's lifetime in whole days, falling back to the standard lifetime.
func (t RefreshedToken) Days() int {
	if t.ExpiresIn <= 0 {
		return int(TokenLifetime.Hours() / 24)
	}
	return int(math.Round(t.ExpiresIn.Hours() / 24))
}

type refreshResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	ErrorDescription string `json:"error_description"`
	Error            *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// RefreshToken exchanges a long-lived token for a fresh one. apiURL is the configured
// Graph API base; the refresh endpoint lives at its host root.
func RefreshToken(ctx context.Context, r relay.Relay, apiURL, token string) (RefreshedToken, error) {
	if token == "" {
		return RefreshedToken{}, crosspost.ConfigError{Platform: crosspost.Threads, Missing: []string{"threads.access_token"}}
	}

	endpoint, err := refreshEndpoint(apiURL)
	if err != nil {
		return RefreshedToken{}, err
	}
	q := url.Values{}
	q.Set("grant_type", "th_refresh_token")
	q.Set("access_token", token)

	resp, err := r.Do(ctx, relay.Request{
		URL:              endpoint + "?" + q.Encode(),
		Method:           http.MethodGet,
		ResponseEncoding: relay.ResponseJSON,
	})
	if err != nil {
		return RefreshedToken{}, fmt.Errorf("refresh token: %w", err)
	}

	var out refreshResponse
	if err := resp.Decode(&out); err != nil {
		return RefreshedToken{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if !resp.OK || out.Error != nil {
		reason := fmt.Sprintf("HTTP %d", resp.Status)
		switch {
		case out.Error != nil && out.Error.Message != "":
			reason = out.Error.Message
		case out.ErrorDescription != "":
			reason = out.ErrorDescription
		case resp.Error != "":
			reason = resp.Error
		}
		return RefreshedToken{}, crosspost.AuthError{Platform: crosspost.Threads, Reason: reason}
	}
	if out.AccessToken == "" {
		return RefreshedToken{}, crosspost.AuthError{Platform: crosspost.Threads, Reason: "response carried no token"}
	}

	return RefreshedToken{
		AccessToken: out.AccessToken,
		TokenType:   out.TokenType,
		ExpiresIn:   time.Duration(out.ExpiresIn) * time.Second,
	}, nil
}

func refreshEndpoint(apiURL string) (string, error) {
	if apiURL == "" {
		apiURL = settings.DefaultThreadsAPIURL
	}
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("parse threads api url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("threads api url must be absolute")
	}
	return u.Scheme + "://" + u.Host + "/refresh_access_token", nil
}
