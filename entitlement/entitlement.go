// Package entitlement computes a user's effective state at message time:
// whether a ban is still in force and whether a premium subscription has
// lapsed. Corrections are lazy (applied on read) and idempotent, so two
// concurrent passes over the same user converge without double-resetting
// quota.
package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/chat-warden/store"
	"github.com/onnwee/chat-warden/telemetry"
)

// Resolver applies due entitlement transitions to a user record.
type Resolver struct {
	Dir          store.Directory
	DefaultQuota int
}

// Resolve returns the corrected record plus whether the user is blocked and a
// user-facing reason. The input record is not mutated.
//
// Persistence failure is non-fatal: the in-memory corrected record is used
// for the remainder of this pass and the next message self-heals.
func (r *Resolver) Resolve(ctx context.Context, u *store.User, now time.Time) (*store.User, bool, string) {
	// Owners are never blocked and carry no expirable state.
	if u.Tier == store.TierOwner {
		return u, false, ""
	}

	corrected := *u
	clearBan := false
	demote := false

	if corrected.Banned && corrected.BanExpiresAt != nil && !now.Before(*corrected.BanExpiresAt) {
		corrected.Banned = false
		corrected.BanExpiresAt = nil
		clearBan = true
		telemetry.Inc(telemetry.BansLapsed)
	}

	if corrected.Banned {
		reason := "You are permanently banned from using this bot."
		if corrected.BanExpiresAt != nil {
			reason = fmt.Sprintf("You are banned until %s.", corrected.BanExpiresAt.UTC().Format("2006-01-02 15:04 MST"))
		}
		return &corrected, true, reason
	}

	if corrected.Tier == store.TierPremium && corrected.PremiumExpiresAt != nil && !now.Before(*corrected.PremiumExpiresAt) {
		corrected.Tier = store.TierBasic
		corrected.PremiumExpiresAt = nil
		corrected.Quota = r.DefaultQuota
		demote = true
		telemetry.Inc(telemetry.PremiumDemotions)
	}

	if clearBan || demote {
		if err := r.Dir.CorrectEntitlement(ctx, u.ID, clearBan, demote, r.DefaultQuota, now); err != nil {
			slog.Warn("entitlement correction persist failed, continuing with in-memory record",
				slog.String("user", u.ID),
				slog.Bool("ban_cleared", clearBan),
				slog.Bool("premium_demoted", demote),
				slog.Any("err", err))
		}
	}

	return &corrected, false, ""
}
