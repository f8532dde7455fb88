// Package store is the directory of user and room records plus the
// append-only usage log. It is pure data access: every mutation the pipeline
// needs is expressed here as a single atomic or conditional SQL statement so
// that concurrent messages from the same user never lose updates. Business
// rules (when to correct entitlements, when to warn) live in the packages
// that consume it.
package store

import (
	"context"
	"errors"
	"time"
)

// Tier is the coarse entitlement class of a user.
type Tier string

const (
	TierOwner   Tier = "owner"
	TierPremium Tier = "premium"
	TierBasic   Tier = "basic"
)

// UnlimitedQuota is the sentinel stored in Quota for users whose commands are
// never metered. Owners always carry it.
const UnlimitedQuota = -1

// ErrNotFound is returned when a requested user or room does not exist.
var ErrNotFound = errors.New("store: not found")

// User is one participant record. Counters (Quota, Warnings, Balance, Chips)
// are subject to concurrent modification and must only be mutated through the
// atomic Directory operations, never by writing a stale copy back.
type User struct {
	ID               string
	DisplayName      string
	Tier             Tier
	Quota            int // UnlimitedQuota means not metered
	Warnings         int
	Banned           bool
	BanExpiresAt     *time.Time
	PremiumExpiresAt *time.Time
	Balance          int64
	Chips            int64
}

// Unmetered reports whether quota accounting applies to this user at all.
func (u *User) Unmetered() bool {
	return u.Tier == TierOwner || u.Tier == TierPremium || u.Quota == UnlimitedQuota
}

// Room is one group chat record. Blockwords are stored case-folded and unique.
type Room struct {
	ID                 string
	DisplayName        string
	ModerationEnabled  bool
	WarnThreshold      int
	ViewOnceAutoReveal bool
	Blockwords         []string
}

// UsageEntry is one executed command, recorded for analytics.
type UsageEntry struct {
	ID        string
	Command   string
	ActorID   string
	RoomID    string
	CreatedAt time.Time
}

// Stats is the aggregate snapshot served by the /status endpoint.
type Stats struct {
	Users      int
	Rooms      int
	Banned     int
	UsageTotal int
}

// Directory is the persistence boundary injected into the pipeline and every
// command handler. No component caches a User or Room across messages; each
// message pass re-reads through this interface.
type Directory interface {
	// Users. GetOrCreateUser lazily creates an unknown identity with tier
	// basic and the given default quota, and opportunistically refreshes the
	// display name on every call.
	GetOrCreateUser(ctx context.Context, id, displayName string, defaultQuota int) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)

	// CorrectEntitlement persists the resolver's lapse corrections in a
	// single conditional update. Each field only changes while its own lapse
	// condition still holds against the stored row, so two concurrent passes
	// converge without resetting quota twice.
	CorrectEntitlement(ctx context.Context, id string, clearBan, demotePremium bool, defaultQuota int, now time.Time) error

	// ConsumeQuota atomically decrements quota by cost and reports whether
	// the decrement happened. Never called for unmetered users.
	ConsumeQuota(ctx context.Context, id string, cost int) (bool, error)
	// AdjustQuota adds delta (may be negative) to a metered user's quota,
	// flooring at zero. Unlimited sentinels are left untouched.
	AdjustQuota(ctx context.Context, id string, delta int) error

	// IncrementWarning bumps the warning counter and returns the new count.
	IncrementWarning(ctx context.Context, id string) (int, error)
	// DecrementWarning lowers the counter by one, flooring at zero.
	DecrementWarning(ctx context.Context, id string) error
	// ResetWarnings zeroes the counter if it is still at least floor,
	// guarding against a concurrent reset racing the same threshold.
	ResetWarnings(ctx context.Context, id string, floor int) error

	// Bans. A nil until is a permanent ban.
	SetBan(ctx context.Context, id string, until *time.Time) error
	ClearBan(ctx context.Context, id string) (bool, error)

	// Premium.
	SetPremium(ctx context.Context, id string, until time.Time) error
	ClearPremium(ctx context.Context, id string, defaultQuota int) (bool, error)

	// Currency counters, floored at zero.
	AdjustBalance(ctx context.Context, id string, delta int64) error
	AdjustChips(ctx context.Context, id string, delta int64) error

	ListBanned(ctx context.Context) ([]User, error)
	ListPremium(ctx context.Context) ([]User, error)
	ListWarned(ctx context.Context) ([]User, error)

	// Rooms.
	GetOrCreateRoom(ctx context.Context, id, displayName string, defaultThreshold int) (*Room, error)
	SetModeration(ctx context.Context, roomID string, enabled bool) error
	SetWarnThreshold(ctx context.Context, roomID string, threshold int) error
	AddBlockword(ctx context.Context, roomID, word string) (bool, error)
	RemoveBlockword(ctx context.Context, roomID, word string) (bool, error)

	// Usage log. Only executed commands are recorded.
	RecordUsage(ctx context.Context, command, actorID, roomID string) error

	Stats(ctx context.Context) (*Stats, error)
}
