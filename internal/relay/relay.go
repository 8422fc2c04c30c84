// Package relay carries HTTP requests across a process or context boundary.
//
// A caller builds a Request, hands it to a Relay, and gets back a Response
// correlated by id. The network call itself is performed by a Fetcher on the
// far side of a duplex Conn, which may be an in-process Pipe or a WebSocket.
package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DefaultTimeout bounds every relayed call.
const DefaultTimeout = 60 * time.Second

// BodyEncoding describes how Request.Body is carried.
type BodyEncoding string

const (
	BodyRaw      BodyEncoding = "raw"
	BodyBase64   BodyEncoding = "base64"
	BodyFormData BodyEncoding = "formdata"
)

// ResponseEncoding selects how the far side returns the response body.
type ResponseEncoding string

const (
	ResponseAuto   ResponseEncoding = ""
	ResponseJSON   ResponseEncoding = "json"
	ResponseText   ResponseEncoding = "text"
	ResponseBase64 ResponseEncoding = "base64"
)

// ErrClosed is returned when the channel closes before a reply arrives.
var ErrClosed = errors.New("relay channel closed")

// Relay performs one HTTP request on the caller's behalf.
type Relay interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Request is a single relayed HTTP call.
type Request struct {
	ID               string            `json:"id"`
	URL              string            `json:"url"`
	Method           string            `json:"method,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	Body             string            `json:"body,omitempty"`
	BodyEncoding     BodyEncoding      `json:"bodyType,omitempty"`
	Form             []FormField       `json:"form,omitempty"`
	ResponseEncoding ResponseEncoding  `json:"responseType,omitempty"`
}

// FormField is one multipart field. Exactly one of Value or File is used.
type FormField struct {
	Name  string    `json:"name"`
	Value string    `json:"value,omitempty"`
	File  *FormFile `json:"file,omitempty"`
}

// FormFile is a binary attachment inside a multipart body.
type FormFile struct {
	Data     string `json:"data"` // base64
	MimeType string `json:"mimeType"`
	Filename string `json:"filename,omitempty"`
}

// TextField returns a plain multipart field.
func TextField(name, value string) FormField {
	return FormField{Name: name, Value: value}
}

// FileField returns a binary multipart field.
func FileField(name string, data []byte, mimeType, filename string) FormField {
	return FormField{
		Name: name,
		File: &FormFile{
			Data:     base64.StdEncoding.EncodeToString(data),
			MimeType: mimeType,
			Filename: filename,
		},
	}
}

// JSONRequest builds a request whose body is v encoded as JSON.
func JSONRequest(method, url string, v any) (Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Request{}, fmt.Errorf("encode request body: %w", err)
	}
	return Request{
		URL:          url,
		Method:       method,
		Headers:      map[string]string{"Content-Type": "application/json"},
		Body:         string(body),
		BodyEncoding: BodyRaw,
	}, nil
}

// Response is the relayed reply. Only one of Data, Text or Base64 is set.
type Response struct {
	ID       string          `json:"id"`
	OK       bool            `json:"ok"`
	Status   int             `json:"status"`
	Data     json.RawMessage `json:"data,omitempty"`
	Text     string          `json:"text,omitempty"`
	Base64   string          `json:"base64,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Decode unmarshals the JSON body into v. A response without JSON leaves v untouched.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Bytes returns the decoded binary body.
func (r *Response) Bytes() ([]byte, error) {
	if r == nil || r.Base64 == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(r.Base64)
}

// String returns the body as text, whichever encoding carried it.
func (r *Response) String() string {
	switch {
	case r == nil:
		return ""
	case r.Text != "":
		return r.Text
	case len(r.Data) > 0:
		trimmed := bytes.TrimSpace(r.Data)
		if len(trimmed) > 0 && trimmed[0] == '"' {
			if s, err := strconv.Unquote(string(trimmed)); err == nil {
				return s
			}
		}
		return string(trimmed)
	}
	return ""
}

// Error reports a failure at the relay boundary: transport rejection, timeout or closed channel.
type Error struct {
	URL     string
	Reason  string
	Timeout bool
	Err     error
}

func (e Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("relay timeout: %s", e.URL)
	}
	if e.Reason == "" && e.Err != nil {
		return fmt.Sprintf("relay %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("relay %s: %s", e.URL, e.Reason)
}

func (e Error) Unwrap() error { return e.Err }
