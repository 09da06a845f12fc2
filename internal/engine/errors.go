package engine

import "errors"

// Call flow errors reported synchronously to the acting participant. The
// signaling layer maps these onto error envelopes; none of them mutate an
// existing session.
var (
	// ErrAlreadyInCall: the acting participant already has a non-terminal
	// session. One active call per participant, always.
	ErrAlreadyInCall = errors.New("engine: participant already in a call")

	// ErrCalleeUnavailable: the callee is offline, busy, or unknown at the
	// moment of initiation. No session is created.
	ErrCalleeUnavailable = errors.New("engine: callee unavailable")

	// ErrInvalidState: the requested operation does not apply to the session's
	// current state (e.g. accepting a call that already ended).
	ErrInvalidState = errors.New("engine: invalid session state for operation")

	// ErrUnauthorizedParticipant: the acting participant is not a party to the
	// session it is trying to operate on.
	ErrUnauthorizedParticipant = errors.New("engine: participant is not a party to this session")
)

// Wire error codes carried on error envelopes.
const (
	CodeAlreadyInCall     = "ALREADY_IN_CALL"
	CodeCalleeUnavailable = "CALLEE_UNAVAILABLE"
	CodeInvalidState      = "INVALID_STATE"
	CodeUnauthorized      = "UNAUTHORIZED_PARTICIPANT"
	CodeMalformedEvent    = "MALFORMED_EVENT"
	CodeTokenIssuance     = "TOKEN_ISSUANCE_FAILURE"
	CodeInternal          = "INTERNAL"
)
