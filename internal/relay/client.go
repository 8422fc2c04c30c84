package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/google/uuid"
)

type callResult struct {
	resp *Response
	err  error
}

// Client multiplexes concurrent relayed calls over one Conn, matching replies by request id.
type Client struct {
	conn    Conn
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan callResult
	closed  bool
}

// NewClient starts reading replies from conn. A non-positive timeout selects DefaultTimeout.
func NewClient(conn Conn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		conn:    conn,
		timeout: timeout,
		pending: make(map[string]chan callResult),
	}
	go c.readLoop()
	return c
}

// Do sends req and waits for its correlated reply or the per-call timeout.
// A reply that carries ok=false together with an error message becomes an Error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	target := redactURL(req.URL)

	ch := make(chan callResult, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, Error{URL: target, Err: ErrClosed}
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.conn.Send(Message{Type: typeFetch, Request: &req}); err != nil {
		c.forget(req.ID)
		return nil, Error{URL: target, Err: err}
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.forget(req.ID)
		return nil, Error{URL: target, Err: ctx.Err()}
	case <-timer.C:
		c.forget(req.ID)
		return nil, Error{URL: target, Timeout: true}
	case res := <-ch:
		if res.err != nil {
			return nil, Error{URL: target, Err: res.err}
		}
		if !res.resp.OK && res.resp.Error != "" {
			return nil, Error{URL: target, Reason: res.resp.Error}
		}
		return res.resp, nil
	}
}

// Close shuts the channel and fails every pending call.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	for {
		m, err := c.conn.Receive()
		if err != nil {
			if !errors.Is(err, ErrClosed) {
				logutil.Debugf("relay receive: %v", err)
			}
			c.failAll(ErrClosed)
			return
		}
		if m.Type != typeResult || m.Response == nil {
			continue
		}

		c.mu.Lock()
		ch := c.pending[m.Response.ID]
		delete(c.pending, m.Response.ID)
		c.mu.Unlock()
		if ch == nil {
			// late reply for a call that already timed out
			continue
		}
		ch <- callResult{resp: m.Response}
	}
}

func (c *Client) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- callResult{err: err}
	}
}
