package crosspost

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInFlight is returned when a crosspost is triggered while another is unresolved.
var ErrInFlight = errors.New("crosspost already in progress")

// ConfigError is returned when required settings are missing. No network call is made.
type ConfigError struct {
	Platform Platform
	Missing  []string
}

func (e ConfigError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("%s credentials not configured", e.Platform)
	}
	return fmt.Sprintf("%s credentials not configured (missing %s)", e.Platform, strings.Join(e.Missing, ", "))
}

// ValidationError captures provider-specific validation issues.
type ValidationError struct {
	Platform Platform
	Reason   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Platform, e.Reason)
}

// UploadError is returned when an image host rejects an upload or answers with something
// other than a URL on its own domain. Response carries the raw reply for diagnosis.
type UploadError struct {
	Host     string
	Response string
	Err      error
}

func (e UploadError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s upload failed: %v", e.Host, e.Err)
	case strings.TrimSpace(e.Response) == "":
		return fmt.Sprintf("%s upload failed: empty response", e.Host)
	}
	return fmt.Sprintf("%s upload failed: %s", e.Host, e.Response)
}

func (e UploadError) Unwrap() error { return e.Err }

// ContainerError is returned when the remote side reports a processing error for a container.
type ContainerError struct {
	Label   string
	Message string
}

func (e ContainerError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown"
	}
	return fmt.Sprintf("container %s error: %s", e.Label, msg)
}

// ContainerTimeoutError is returned when polling ends without a terminal container state.
type ContainerTimeoutError struct {
	Label    string
	Attempts int
}

func (e ContainerTimeoutError) Error() string {
	return fmt.Sprintf("container %s timed out after %d polls", e.Label, e.Attempts)
}

// AuthError is returned when authentication does not yield a usable token.
type AuthError struct {
	Platform Platform
	Reason   string
}

func (e AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %s", e.Platform, e.Reason)
}

// PublishError is returned when the final post or publish call is unsuccessful.
type PublishError struct {
	Platform Platform
	Reason   string
	Err      error
}

func (e PublishError) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s publish failed: %s: %v", e.Platform, e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s publish failed: %v", e.Platform, e.Err)
	}
	return fmt.Sprintf("%s publish failed: %s", e.Platform, e.Reason)
}

func (e PublishError) Unwrap() error { return e.Err }
