package identity

import "fmt"

// Kind distinguishes internal tenant members from external portal customers.
type Kind string

const (
	KindMember         Kind = "member"
	KindPortalCustomer Kind = "portal_customer"
)

func ValidKind(k Kind) bool {
	switch k {
	case KindMember, KindPortalCustomer:
		return true
	default:
		return false
	}
}

// Participant is a tenant-scoped call identity.
//
// Multi-tenant invariant: WorkspaceID is required everywhere a Participant
// appears. A Participant is immutable once attached to a call session.
//
// The struct is comparable by design so it can key presence and channel maps.
type Participant struct {
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	Kind        Kind   `json:"kind"`
}

func (p Participant) Valid() bool {
	return p.WorkspaceID != "" && p.UserID != "" && ValidKind(p.Kind)
}

// String renders the participant as a media-room identity string.
// This is what external services (e.g. the media room) see as identity.
func (p Participant) String() string {
	return fmt.Sprintf("%s:%s", p.WorkspaceID, p.UserID)
}
