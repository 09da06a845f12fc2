package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"voicelink/internal/auth"
	"voicelink/internal/directory"
	"voicelink/internal/identity"
	"voicelink/internal/presence"
	"voicelink/internal/session"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type Handlers struct {
	Auth      *auth.Manager
	Sessions  session.Repository
	Presence  *presence.Registry
	Directory directory.Directory
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Kind        string `json:"kind"`
	DisplayName string `json:"display_name"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p := identity.Participant{
		WorkspaceID: req.WorkspaceID,
		UserID:      req.UserID,
		Kind:        identity.Kind(req.Kind),
	}
	if !p.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, kind required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), p, req.DisplayName)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

// CallHistory returns the authenticated participant's recent sessions, newest
// first. Both origins appear here; PSTN sessions simply carry phone numbers in
// the name fields.
func (h Handlers) CallHistory(c *gin.Context) {
	p, err := auth.ParticipantFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	sessions, err := h.Sessions.ListByParticipant(c.Request.Context(), p, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// GetCall returns one session the participant was party to. Sessions outside
// the participant's calls read as not found, not forbidden.
func (h Handlers) GetCall(c *gin.Context) {
	p, err := auth.ParticipantFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	s, err := h.Sessions.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
		return
	}
	if !s.Party(p) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// --- Presence ---

type presenceEntry struct {
	UserID      string `json:"user_id"`
	Kind        string `json:"kind"`
	DisplayName string `json:"display_name,omitempty"`
	Status      string `json:"status"`
}

// ListPresence returns the callable participants in the requester's workspace.
// Display names are resolved best-effort; a directory hiccup degrades to bare
// ids rather than failing the listing.
func (h Handlers) ListPresence(c *gin.Context) {
	p, err := auth.ParticipantFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	records := h.Presence.ListAvailable(p.WorkspaceID, p)

	entries := make([]presenceEntry, 0, len(records))
	for _, rec := range records {
		e := presenceEntry{
			UserID: rec.Participant.UserID,
			Kind:   string(rec.Participant.Kind),
			Status: string(rec.Status),
		}
		if h.Directory != nil {
			if m, err := h.Directory.Resolve(c.Request.Context(), rec.Participant.WorkspaceID, rec.Participant.UserID); err == nil {
				e.DisplayName = m.DisplayName
			}
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })

	c.JSON(http.StatusOK, gin.H{"participants": entries})
}
