package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/babelroom/babelroom/internal/room"
	"github.com/babelroom/babelroom/pkg/types"
)

const (
	// outboundBuffer bounds the per-subscriber send queue. A subscriber that
	// falls this far behind is dropped rather than back-pressuring the room.
	outboundBuffer = 64

	writeTimeout = 5 * time.Second
)

// ErrSlowSubscriber is returned by send when the outbound buffer is full.
var ErrSlowSubscriber = errors.New("server: subscriber outbound buffer full")

// ErrConnClosed is returned by send after the connection is closed.
var ErrConnClosed = errors.New("server: connection closed")

// envelope is the wire frame for every text message in both directions.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsConn adapts one websocket connection to [room.Conn]. Writes go through a
// bounded queue serviced by a single writer goroutine; Send methods never
// block the room worker.
type wsConn struct {
	conn *websocket.Conn

	out  chan []byte
	done chan struct{}
	once sync.Once
}

var _ room.Conn = (*wsConn)(nil)

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{
		conn: conn,
		out:  make(chan []byte, outboundBuffer),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case msg := <-c.out:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				c.shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) send(typ string, payload any) error {
	env := envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("server: marshal %s payload: %w", typ, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("server: marshal %s envelope: %w", typ, err)
	}

	select {
	case <-c.done:
		return ErrConnClosed
	case c.out <- data:
		return nil
	default:
		return ErrSlowSubscriber
	}
}

// SendPatch implements room.Conn.
func (c *wsConn) SendPatch(p types.EgressPatch) error {
	return c.send("patch", p)
}

// SendAudio implements room.Conn. The audio bytes travel base64-encoded in
// the JSON payload; the record's format field carries the MIME type.
func (c *wsConn) SendAudio(rec types.AudioRecord) error {
	return c.send("tts", rec)
}

// SendControl implements room.Conn.
func (c *wsConn) SendControl(typ string, payload any) error {
	return c.send(typ, payload)
}

// Close implements room.Conn.
func (c *wsConn) Close(code int, reason string) {
	c.shutdown(websocket.StatusCode(code), reason)
}

func (c *wsConn) shutdown(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close(code, reason)
	})
}
