package pstn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"

	"voicelink/internal/session"
)

// StatusCallback is the form body Twilio posts on every call status change.
// Only the fields the reconciler consumes are bound; Twilio sends many more.
type StatusCallback struct {
	CallSID      string `form:"CallSid"`
	CallStatus   string `form:"CallStatus"`
	CallDuration string `form:"CallDuration"`
	From         string `form:"From"`
	To           string `form:"To"`
	AccountSID   string `form:"AccountSid"`
}

// mapProviderStatus translates Twilio's call status vocabulary onto session
// states. Anything unrecognized maps to FAILED so an evolving provider
// vocabulary can never wedge a session open.
func mapProviderStatus(status string) (session.State, bool) {
	switch status {
	case "initiated", "queued":
		return session.StateInitiated, true
	case "ringing":
		return session.StateRinging, true
	case "in-progress", "answered":
		return session.StateConnected, true
	case "completed":
		return session.StateEnded, true
	case "busy":
		return session.StateRejected, true
	case "no-answer":
		return session.StateMissed, true
	case "failed", "canceled":
		return session.StateFailed, true
	default:
		return session.StateFailed, false
	}
}

// stateRank orders states along the provider call progression. Callbacks may
// arrive out of order; a callback whose target rank does not advance the
// session is a no-op.
func stateRank(s session.State) int {
	switch s {
	case session.StateInitiated:
		return 1
	case session.StateRinging:
		return 2
	case session.StateConnecting, session.StateConnected:
		return 3
	default: // terminal
		return 4
	}
}

// ValidSignature checks the X-Twilio-Signature header: HMAC-SHA1 over the
// full callback URL concatenated with the sorted form parameters, keyed with
// the account auth token.
func ValidSignature(authToken, callbackURL string, form url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(callbackURL))
	for _, k := range keys {
		for _, v := range form[k] {
			mac.Write([]byte(k))
			mac.Write([]byte(v))
		}
	}

	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}
