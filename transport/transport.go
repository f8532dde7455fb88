// Package transport defines the boundary to the chat platform: the inbound
// message event shape and the small outbound capability surface the pipeline
// needs (send, delete, membership mutation, roster fetch). Concrete adapters
// live in subpackages; the pipeline only ever sees these types.
package transport

import "context"

// Role is a participant's role within a room, as reported by the platform.
type Role int

const (
	RoleMember Role = iota
	RoleAdmin
	RoleSuperAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleSuperAdmin:
		return "super-admin"
	default:
		return "member"
	}
}

// MembershipAction is a roster mutation requested of the platform.
type MembershipAction string

const (
	MembershipAdd     MembershipAction = "add"
	MembershipRemove  MembershipAction = "remove"
	MembershipPromote MembershipAction = "promote"
	MembershipDemote  MembershipAction = "demote"
)

// Member is one roster entry.
type Member struct {
	ID   string
	Role Role
}

// Message is one decoded inbound chat message event. RoomID is empty for
// one-to-one chats. Text is empty for non-text messages (stickers, media).
// SenderRole is the role the platform attached to this message (badges);
// the roster can elevate it but never demote it for the same message.
type Message struct {
	RoomID     string
	SenderID   string
	SenderName string
	SenderRole Role
	Text       string
	Ref        string // platform message reference, used for deletion
	FromSelf   bool
	QuotedRef  string
	Mentions   []string
}

// Transport is the outbound capability surface of the chat platform. All
// calls take a context and implementations are expected to honor its
// deadline; the dispatcher bounds every call with a per-call timeout.
type Transport interface {
	SendMessage(ctx context.Context, roomID, text string, mentions []string) error
	DeleteMessage(ctx context.Context, roomID, ref string) error
	MutateMembership(ctx context.Context, roomID, targetID string, action MembershipAction) error
	FetchRoster(ctx context.Context, roomID string) ([]Member, error)
}
