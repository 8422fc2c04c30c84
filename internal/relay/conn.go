package relay

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

const (
	typeFetch  = "FETCH"
	typeResult = "RESULT"
)

// Message is the envelope exchanged over a Conn.
type Message struct {
	Type     string    `json:"type"`
	Request  *Request  `json:"request,omitempty"`
	Response *Response `json:"response,omitempty"`
}

// Conn is a duplex message channel. Send may be called concurrently;
// Receive is called from a single reader.
type Conn interface {
	Send(Message) error
	Receive() (Message, error)
	Close() error
}

type pipeConn struct {
	in   <-chan Message
	out  chan<- Message
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected in-process ends. Closing either end closes both.
func Pipe() (Conn, Conn) {
	ab := make(chan Message, 16)
	ba := make(chan Message, 16)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeConn{in: ba, out: ab, done: done, once: once},
		&pipeConn{in: ab, out: ba, done: done, once: once}
}

func (c *pipeConn) Send(m Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- m:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *pipeConn) Receive() (Message, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.done:
		return Message{}, ErrClosed
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Send(m Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(m); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

func (c *wsConn) Receive() (Message, error) {
	var m Message
	if err := c.conn.ReadJSON(&m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return m, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
