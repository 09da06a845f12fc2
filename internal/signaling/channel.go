package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voicelink/internal/event"
	"voicelink/internal/identity"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// sendBuffer is the per-channel outbound queue. A client that cannot drain
	// this many envelopes is effectively dead and gets disconnected.
	sendBuffer = 32
)

// channel is one participant's live signaling connection. All writes go
// through the send queue and a single writePump goroutine, so envelope order
// is preserved and the websocket is never written concurrently.
type channel struct {
	log  *slog.Logger
	p    identity.Participant
	conn *websocket.Conn

	send chan event.Envelope

	closeOnce sync.Once
	done      chan struct{}
}

func newChannel(log *slog.Logger, p identity.Participant, conn *websocket.Conn) *channel {
	return &channel{
		log:  log,
		p:    p,
		conn: conn,
		send: make(chan event.Envelope, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue queues an envelope for delivery. Returns false when the queue is
// full or the channel is closed; the caller decides what dropping means.
func (c *channel) enqueue(env event.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// writePump drains the send queue onto the socket, FIFO. Runs until the
// channel closes or a write fails.
func (c *channel) writePump() {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Debug("signaling write failed", "participant", c.p.String(), "error", err)
				c.close()
				return
			}
		}
	}
}

// close shuts the channel down exactly once. Safe to call from any goroutine.
func (c *channel) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
