package relay

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Transport adapts a Relay to http.RoundTripper so SDK clients route through the relay.
type Transport struct {
	Relay Relay
}

// HTTPClient returns an http.Client whose calls all cross r.
func HTTPClient(r Relay) *http.Client {
	return &http.Client{Transport: &Transport{Relay: r}}
}

// RoundTrip implements http.RoundTripper. Bodies travel base64-encoded in both directions.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	var body []byte
	if r.Body != nil {
		data, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = data
	}

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ", ")
	}

	req := Request{
		URL:              r.URL.String(),
		Method:           r.Method,
		Headers:          headers,
		ResponseEncoding: ResponseBase64,
	}
	if len(body) > 0 {
		req.Body = base64.StdEncoding.EncodeToString(body)
		req.BodyEncoding = BodyBase64
	}

	resp, err := t.Relay.Do(r.Context(), req)
	if err != nil {
		return nil, err
	}
	data, err := resp.Bytes()
	if err != nil {
		return nil, fmt.Errorf("decode relayed body: %w", err)
	}

	header := http.Header{}
	if resp.MimeType != "" {
		header.Set("Content-Type", resp.MimeType)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.Status, http.StatusText(resp.Status)),
		StatusCode:    resp.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		Request:       r,
	}, nil
}
