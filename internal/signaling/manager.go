// Package signaling owns the per-participant websocket channels that carry
// call events between clients and the call engine. It is a pure delivery
// layer: framing, ordering, and connection supersession live here; call
// semantics live in the engine.
package signaling

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"voicelink/internal/event"
	"voicelink/internal/identity"
)

// Manager tracks at most one live channel per participant and implements the
// engine's Sender contract.
type Manager struct {
	log *slog.Logger

	mu       sync.Mutex
	channels map[identity.Participant]*channel
}

func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log,
		channels: make(map[identity.Participant]*channel),
	}
}

// attach registers a new connection for the participant. A reconnect
// supersedes the previous channel: the old socket is closed quietly, without
// an offline cascade, because the participant never left.
func (m *Manager) attach(p identity.Participant, conn *websocket.Conn) *channel {
	ch := newChannel(m.log, p, conn)

	m.mu.Lock()
	old := m.channels[p]
	m.channels[p] = ch
	m.mu.Unlock()

	if old != nil {
		m.log.Info("signaling channel superseded", "participant", p.String())
		old.close()
	}

	go ch.writePump()
	return ch
}

// detach removes the channel if it is still the participant's current one.
// Returns true when this detach actually took the participant offline; a
// superseded channel detaching returns false.
func (m *Manager) detach(p identity.Participant, ch *channel) bool {
	ch.close()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channels[p] != ch {
		return false
	}
	delete(m.channels, p)
	return true
}

// Send queues an envelope on the participant's current channel and reports
// whether it was accepted. Disconnected participants and saturated queues
// drop the envelope; the presence cascade handles the fallout.
func (m *Manager) Send(p identity.Participant, env event.Envelope) bool {
	m.mu.Lock()
	ch := m.channels[p]
	m.mu.Unlock()

	if ch == nil {
		return false
	}
	if !ch.enqueue(env) {
		m.log.Warn("signaling queue full, dropping envelope and closing channel",
			"participant", p.String(), "type", string(env.Type))
		ch.close()
		return false
	}
	return true
}

// Connected reports whether the participant has a live channel.
func (m *Manager) Connected(p identity.Participant) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[p] != nil
}

// Shutdown closes every channel. Used on process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	chs := make([]*channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chs = append(chs, ch)
	}
	m.channels = make(map[identity.Participant]*channel)
	m.mu.Unlock()

	for _, ch := range chs {
		ch.close()
	}
}
