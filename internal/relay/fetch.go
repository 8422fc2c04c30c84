package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/blacktop/crosspost/internal/logutil"
)

// MaxResponseBytes caps how much of a response body the fetcher will buffer.
const MaxResponseBytes = 256 << 20

// ResponseTooLargeError reports that the response body exceeded the limit.
type ResponseTooLargeError struct {
	Limit int64
}

func (e ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response body exceeded limit of %d bytes", e.Limit)
}

// Fetcher executes relayed requests against the network.
type Fetcher struct {
	client *http.Client
	limit  int64
}

// NewFetcher returns a Fetcher using client, or a default client when nil.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{client: client, limit: MaxResponseBytes}
}

// Fetch performs req. Transport failures are reported in the Response rather than returned,
// so the reply can always be correlated back to the caller.
func (f *Fetcher) Fetch(ctx context.Context, req Request) *Response {
	resp, err := f.fetch(ctx, req)
	if err != nil {
		logutil.Debugf("relay fetch failed: id=%s url=%s err=%v", req.ID, redactURL(req.URL), err)
		return &Response{ID: req.ID, OK: false, Error: err.Error()}
	}
	resp.ID = req.ID
	return resp
}

func (f *Fetcher) fetch(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	headers := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		headers[k] = v
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		for k := range headers {
			if strings.EqualFold(k, "Content-Type") {
				delete(headers, k)
			}
		}
		headers["Content-Type"] = contentType
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	logutil.Debugf("relay fetch: id=%s method=%s url=%s bytes=%d", req.ID, method, redactURL(req.URL), len(body))
	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, fmt.Errorf("%s %s: %w", urlErr.Op, redactURL(urlErr.URL), urlErr.Err)
		}
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := readAllWithLimit(httpResp.Body, f.limit)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	mimeType := strings.TrimSpace(strings.Split(httpResp.Header.Get("Content-Type"), ";")[0])
	out := &Response{
		OK:       httpResp.StatusCode >= 200 && httpResp.StatusCode < 300,
		Status:   httpResp.StatusCode,
		MimeType: mimeType,
	}

	switch req.ResponseEncoding {
	case ResponseBase64:
		out.Base64 = base64.StdEncoding.EncodeToString(data)
	case ResponseText:
		out.Text = string(data)
	default:
		if json.Valid(data) {
			out.Data = json.RawMessage(data)
		} else {
			out.Text = string(data)
		}
	}
	return out, nil
}

func encodeBody(req Request) ([]byte, string, error) {
	if req.BodyEncoding == BodyFormData || len(req.Form) > 0 {
		return encodeForm(req.Form)
	}
	if req.Body == "" {
		return nil, "", nil
	}
	if req.BodyEncoding == BodyBase64 {
		data, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return nil, "", fmt.Errorf("decode base64 body: %w", err)
		}
		return data, "", nil
	}
	return []byte(req.Body), "", nil
}

func encodeForm(fields []FormField) ([]byte, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, field := range fields {
		if field.File == nil {
			if err := mw.WriteField(field.Name, field.Value); err != nil {
				return nil, "", fmt.Errorf("write field %q: %w", field.Name, err)
			}
			continue
		}

		data, err := base64.StdEncoding.DecodeString(field.File.Data)
		if err != nil {
			return nil, "", fmt.Errorf("decode field %q: %w", field.Name, err)
		}
		filename := field.File.Filename
		if filename == "" {
			filename = "file"
		}
		mimeType := field.File.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field.Name, filename))
		h.Set("Content-Type", mimeType)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create part %q: %w", field.Name, err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", fmt.Errorf("write part %q: %w", field.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func readAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(&io.LimitedReader{R: r, N: limit + 1})
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ResponseTooLargeError{Limit: limit}
	}
	return data, nil
}

// redactURL drops the query string, which may carry access tokens.
func redactURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
