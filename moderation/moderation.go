// Package moderation inspects message text against a room's blocklist and
// runs the warning state machine: delete the offending message, bump the
// sender's warning count, and remove the sender once the room's threshold is
// crossed.
//
// Matching is a plain case-folded substring scan. That flags benign words
// containing a blocked substring; the behavior is deliberate and changing it
// to word-boundary matching silently changes moderation semantics.
package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/chat-warden/store"
	"github.com/onnwee/chat-warden/telemetry"
	"github.com/onnwee/chat-warden/transport"
)

// Engine is the auto-moderation stage of the pipeline.
type Engine struct {
	Dir     store.Directory
	OwnerID string
}

// Check inspects one message. It returns true when the message was
// intercepted and no further command processing should occur.
//
// Deletion and notification are best-effort: their failures are logged and
// the warning is still recorded. A failed removal leaves the warning count
// untouched so a future offense retries it.
func (e *Engine) Check(ctx context.Context, room *store.Room, msg transport.Message, role transport.Role, tx transport.Transport) bool {
	if room == nil || !room.ModerationEnabled || msg.Text == "" || len(room.Blockwords) == 0 {
		return false
	}

	folded := strings.ToLower(msg.Text)
	var matched []string
	for _, w := range room.Blockwords {
		if strings.Contains(folded, w) {
			matched = append(matched, w)
		}
	}
	if len(matched) == 0 {
		return false
	}

	// Moderation never applies to the bot owner or room admins.
	if msg.SenderID == e.OwnerID || role == transport.RoleAdmin || role == transport.RoleSuperAdmin {
		return false
	}

	telemetry.Inc(telemetry.MessagesIntercepted)
	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "moderation"),
		slog.String("room", room.ID),
		slog.String("sender", msg.SenderID))

	if msg.Ref != "" {
		if err := tx.DeleteMessage(ctx, room.ID, msg.Ref); err != nil {
			log.Warn("delete of offending message failed", slog.Any("err", err))
		}
	}

	count, err := e.Dir.IncrementWarning(ctx, msg.SenderID)
	if err != nil {
		// The count did not advance; the notice must not pretend it did.
		log.Error("warning increment failed", slog.Any("err", err))
		e.notify(ctx, tx, room.ID, msg.SenderID,
			fmt.Sprintf("@%s a blocked word was detected (%s) but the warning could not be recorded.", msg.SenderName, strings.Join(matched, ", ")))
		return true
	}

	e.notify(ctx, tx, room.ID, msg.SenderID,
		fmt.Sprintf("@%s blocked word detected (%s). Warning %d/%d.", msg.SenderName, strings.Join(matched, ", "), count, room.WarnThreshold))

	if count >= room.WarnThreshold {
		if err := tx.MutateMembership(ctx, room.ID, msg.SenderID, transport.MembershipRemove); err != nil {
			// Count stays put; the next offense retries the removal.
			log.Warn("threshold removal failed", slog.Any("err", err))
			e.notify(ctx, tx, room.ID, msg.SenderID,
				fmt.Sprintf("@%s reached %d warnings but could not be removed (missing rights?).", msg.SenderName, count))
			return true
		}
		telemetry.Inc(telemetry.ThresholdRemovals)
		if err := e.Dir.ResetWarnings(ctx, msg.SenderID, room.WarnThreshold); err != nil {
			log.Error("warning reset failed after removal", slog.Any("err", err))
		}
		e.notify(ctx, tx, room.ID, msg.SenderID,
			fmt.Sprintf("@%s removed after %d warnings.", msg.SenderName, count))
	}
	return true
}

func (e *Engine) notify(ctx context.Context, tx transport.Transport, roomID, senderID, text string) {
	if err := tx.SendMessage(ctx, roomID, text, []string{senderID}); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("moderation notice send failed",
			slog.String("component", "moderation"), slog.String("room", roomID), slog.Any("err", err))
	}
}
