package presence

import (
	"time"

	"voicelink/internal/identity"
)

type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusBusy    Status = "BUSY"
	StatusOffline Status = "OFFLINE"
)

// Record is one participant's reachability state.
//
// Busy is tracked separately from Status so that a participant leaving a call
// returns to ONLINE without the registry having to remember prior state.
type Record struct {
	Participant     identity.Participant `json:"participant"`
	Status          Status               `json:"status"`
	LastHeartbeatAt time.Time            `json:"last_heartbeat_at"`
}
