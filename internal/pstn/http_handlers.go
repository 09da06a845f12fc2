package pstn

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// WorkspaceResolver maps a provider account reference onto the owning
// workspace. The surrounding platform owns account provisioning; this package
// only needs the lookup.
type WorkspaceResolver func(accountSID string) (string, error)

// Handler terminates provider webhook HTTP traffic.
type Handler struct {
	log        *slog.Logger
	reconciler *Reconciler
	resolve    WorkspaceResolver

	// authToken enables signature validation. Empty disables it, which is
	// acceptable only for local runs.
	authToken string
}

func NewHandler(log *slog.Logger, r *Reconciler, resolve WorkspaceResolver, authToken string) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, reconciler: r, resolve: resolve, authToken: authToken}
}

// TwilioStatus handles POST /webhooks/twilio/status.
//
// Webhooks are acknowledged aggressively: Twilio retries on non-2xx, and a
// malformed or stale callback will not get better on retry. Only transient
// persistence failures return 5xx.
func (h *Handler) TwilioStatus(c *gin.Context) {
	var cb StatusCallback
	if err := c.ShouldBind(&cb); err != nil {
		h.log.Warn("unparseable status callback", "error", err)
		c.Status(http.StatusOK)
		return
	}

	if h.authToken != "" {
		if err := c.Request.ParseForm(); err != nil ||
			!ValidSignature(h.authToken, callbackURL(c.Request), c.Request.PostForm, c.GetHeader("X-Twilio-Signature")) {
			h.log.Warn("status callback failed signature validation", "call_sid", cb.CallSID)
			c.Status(http.StatusForbidden)
			return
		}
	}

	workspaceID, err := h.resolve(cb.AccountSID)
	if err != nil {
		h.log.Warn("status callback for unknown provider account",
			"account_sid", cb.AccountSID, "call_sid", cb.CallSID)
		c.Status(http.StatusOK)
		return
	}

	if _, err := h.reconciler.Reconcile(c.Request.Context(), workspaceID, cb); err != nil {
		if errors.Is(err, ErrMalformedCallback) {
			c.Status(http.StatusOK)
			return
		}
		h.log.Error("status callback reconcile failed", "call_sid", cb.CallSID, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Status(http.StatusNoContent)
}

// callbackURL reconstructs the URL Twilio signed. Honors the proxy headers
// the edge sets; a direct request falls back to the request's own scheme.
func callbackURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
