package signaling

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"voicelink/internal/auth"
	"voicelink/internal/engine"
	"voicelink/internal/event"
	"voicelink/internal/identity"
	"voicelink/internal/presence"
)

// Handler upgrades authenticated requests to signaling channels and pumps
// inbound envelopes into the call engine.
type Handler struct {
	log      *slog.Logger
	manager  *Manager
	engine   *engine.Engine
	presence *presence.Registry

	// readTimeout is how long a channel may stay silent before the read loop
	// gives up; heartbeats keep it alive.
	readTimeout time.Duration

	upgrader websocket.Upgrader
}

func NewHandler(log *slog.Logger, m *Manager, e *engine.Engine, reg *presence.Registry, readTimeout time.Duration) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	return &Handler{
		log:         log,
		manager:     m,
		engine:      e,
		presence:    reg,
		readTimeout: readTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from tenant-specific origins; origin
			// policy is enforced at the edge proxy, not here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve handles GET /ws. The request must carry a valid access token; the
// participant identity comes from the token, never from the client.
func (h *Handler) Serve(c *gin.Context) {
	p, err := auth.ParticipantFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Debug("websocket upgrade failed", "participant", p.String(), "error", err)
		return
	}

	ch := h.manager.attach(p, conn)
	h.presence.SetOnline(p)
	h.log.Info("signaling channel connected", "participant", p.String())

	h.readLoop(c, p, ch, conn)
}

func (h *Handler) readLoop(c *gin.Context, p identity.Participant, ch *channel, conn *websocket.Conn) {
	defer func() {
		if h.manager.detach(p, ch) {
			// Only a real disconnect takes the participant offline; a channel
			// superseded by a reconnect must not cascade.
			h.presence.SetOffline(p)
			h.log.Info("signaling channel disconnected", "participant", p.String())
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))

		var env event.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("signaling read failed", "participant", p.String(), "error", err)
			}
			return
		}

		h.engine.HandleEvent(c.Request.Context(), p, env)
	}
}
