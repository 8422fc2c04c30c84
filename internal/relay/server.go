package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/gorilla/websocket"
)

const protocolVersion = 1

// Server answers relayed requests arriving on a Conn using a Fetcher.
type Server struct {
	fetcher *Fetcher
}

// NewServer returns a Server backed by fetcher.
func NewServer(fetcher *Fetcher) *Server {
	if fetcher == nil {
		fetcher = NewFetcher(nil)
	}
	return &Server{fetcher: fetcher}
}

// Serve handles requests from conn concurrently until the channel closes.
func (s *Server) Serve(ctx context.Context, conn Conn) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		m, err := conn.Receive()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		if m.Type != typeFetch || m.Request == nil {
			continue
		}

		req := *m.Request
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := s.fetcher.Fetch(ctx, req)
			if err := conn.Send(Message{Type: typeResult, Response: resp}); err != nil {
				logutil.Debugf("relay reply dropped: id=%s err=%v", req.ID, err)
			}
		}()
	}
}

// NewLocal wires a Client to a Server through an in-process Pipe.
func NewLocal(fetcher *Fetcher, timeout time.Duration) *Client {
	clientEnd, serverEnd := Pipe()
	srv := NewServer(fetcher)
	go func() {
		_ = srv.Serve(context.Background(), serverEnd)
	}()
	return NewClient(clientEnd, timeout)
}

type helloMessage struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	Client  string `json:"client,omitempty"`
	Version int    `json:"version,omitempty"`
}

type welcomeMessage struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
}

// Handler upgrades to a WebSocket, checks the hello token and serves relay traffic.
func (s *Server) Handler(token string) http.Handler {
	token = strings.TrimSpace(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if err := accept(conn, token); err != nil {
			logutil.Warnf("relay handshake rejected: remote=%s err=%v", r.RemoteAddr, err)
			_ = conn.Close()
			return
		}

		wc := newWSConn(conn)
		defer wc.Close()
		logutil.Debugf("relay client connected: remote=%s", r.RemoteAddr)
		if err := s.Serve(r.Context(), wc); err != nil {
			logutil.Debugf("relay serve: %v", err)
		}
	})
}

func accept(conn *websocket.Conn, token string) error {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var hello helloMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if strings.ToLower(strings.TrimSpace(hello.Type)) != "hello" {
		return fmt.Errorf("expected hello, got %q", hello.Type)
	}
	if token != "" && hello.Token != token {
		return errors.New("unauthorized")
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn.WriteJSON(welcomeMessage{Type: "welcome", Version: protocolVersion})
}

// ListenAndServe hosts the WebSocket relay on a loopback address until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr, token string) error {
	if err := checkLoopback(addr); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", s.Handler(token))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logutil.Infof("relay listening on ws://%s/ws", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid relay listen address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("relay listen address must bind to loopback, got %q", addr)
	}
	return nil
}

// Dial connects to a WebSocket relay and returns a Client multiplexing over it.
func Dial(ctx context.Context, url, token string, timeout time.Duration) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	if err := conn.WriteJSON(helloMessage{Type: "hello", Token: token, Client: "crosspost", Version: protocolVersion}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	var welcome welcomeMessage
	if err := conn.ReadJSON(&welcome); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	if welcome.Type != "welcome" {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected relay greeting %q", welcome.Type)
	}
	return NewClient(newWSConn(conn), timeout), nil
}
