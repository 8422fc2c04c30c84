package threads

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blacktop/crosspost/internal/crosspost"
	"github.com/blacktop/crosspost/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	tests := []struct {
		name   string
		token  string
		issued time.Time
		state  ExpiryState
		days   int
	}{
		{name: "no token", state: ExpiryNotSet},
		{name: "unknown issue time", token: "t", state: ExpiryUnknown},
		{name: "fresh", token: "t", issued: now, state: ExpiryOK, days: 60},
		{name: "warn", token: "t", issued: now.Add(-50 * day), state: ExpiryWarn, days: 10},
		{name: "warn edge", token: "t", issued: now.Add(-46 * day), state: ExpiryWarn, days: 14},
		{name: "danger", token: "t", issued: now.Add(-55 * day), state: ExpiryDanger, days: 5},
		{name: "last hours", token: "t", issued: now.Add(-60*day + time.Hour), state: ExpiryDanger, days: 1},
		{name: "expired", token: "t", issued: now.Add(-61 * day), state: ExpiryExpired, days: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := TokenExpiry(tt.token, tt.issued, now)
			assert.Equal(t, tt.state, e.State)
			assert.Equal(t, tt.days, e.DaysLeft)
			assert.GreaterOrEqual(t, e.Remaining, 0.0)
			assert.LessOrEqual(t, e.Remaining, 1.0)
		})
	}
}

func newRefreshServer(t *testing.T, status int, body string) (*httptest.Server, *string) {
	t.Helper()
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refresh_access_token", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &gotQuery
}

func newTestRelay(t *testing.T) relay.Relay {
	t.Helper()
	c := relay.NewLocal(relay.NewFetcher(nil), 5*time.Second)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRefreshToken(t *testing.T) {
	srv, query := newRefreshServer(t, http.StatusOK, `{"access_token":"fresh","token_type":"bearer","expires_in":5183944}`)

	tok, err := RefreshToken(context.Background(), newTestRelay(t), srv.URL+"/v1.0", "old token")
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.Equal(t, 60, tok.Days())
	assert.Equal(t, "access_token=old+token&grant_type=th_refresh_token", *query)
}

func TestRefreshTokenErrorBody(t *testing.T) {
	srv, _ := newRefreshServer(t, http.StatusBadRequest, `{"error":{"message":"Session has expired","code":190}}`)

	_, err := RefreshToken(context.Background(), newTestRelay(t), srv.URL+"/v1.0", "old")
	var ae crosspost.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Session has expired", ae.Reason)
}

func TestRefreshTokenMissingToken(t *testing.T) {
	srv, _ := newRefreshServer(t, http.StatusOK, `{"token_type":"bearer"}`)

	_, err := RefreshToken(context.Background(), newTestRelay(t), srv.URL, "old")
	require.ErrorContains(t, err, "no token")
}

func TestRefreshTokenRequiresToken(t *testing.T) {
	_, err := RefreshToken(context.Background(), nil, "", "")
	var ce crosspost.ConfigError
	require.ErrorAs(t, err, &ce)
}

func TestRefreshedTokenDaysFallback(t *testing.T) {
	assert.Equal(t, 60, RefreshedToken{}.Days())
}
