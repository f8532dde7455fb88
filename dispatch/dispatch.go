// Package dispatch is the single entry point for inbound messages. It runs
// the per-message state machine: resolve identity, apply entitlement
// corrections, refresh room context, run moderation, then route commands.
// Error containment lives here so one failing message never stops the stream.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chat-warden/command"
	"github.com/onnwee/chat-warden/entitlement"
	"github.com/onnwee/chat-warden/moderation"
	"github.com/onnwee/chat-warden/rostercache"
	"github.com/onnwee/chat-warden/store"
	"github.com/onnwee/chat-warden/telemetry"
	"github.com/onnwee/chat-warden/transport"
)

const genericErrorReply = "Something went wrong processing that command. Please try again."

// Options carries the tunables the dispatcher needs from config.
type Options struct {
	OwnerID              string
	Prefix               string
	DefaultQuota         int
	DefaultWarnThreshold int
	CallTimeout          time.Duration
}

// Dispatcher sequences the pipeline stages for one message at a time. It is
// safe for concurrent use; every per-user counter mutation goes through the
// store as a conditional update, so concurrent messages from the same user
// cannot lose updates.
type Dispatcher struct {
	Dir      store.Directory
	Tx       transport.Transport
	Resolver *entitlement.Resolver
	Engine   *moderation.Engine
	Router   *command.Router
	Roster   *rostercache.Cache

	OwnerID              string
	DefaultQuota         int
	DefaultWarnThreshold int

	// Now is swappable in tests; nil means time.Now.
	Now func() time.Time
}

// New wires the pipeline. tx is wrapped with a per-call timeout and, when a
// roster cache is given, with cache invalidation on membership mutations;
// roster may be nil, in which case roles come from the message alone.
func New(dir store.Directory, tx transport.Transport, roster *rostercache.Cache, opts Options) *Dispatcher {
	tx = transport.WithTimeout(tx, opts.CallTimeout)
	if roster != nil {
		tx = roster.WrapTransport(tx)
	}
	return &Dispatcher{
		Dir:      dir,
		Tx:       tx,
		Resolver: &entitlement.Resolver{Dir: dir, DefaultQuota: opts.DefaultQuota},
		Engine:   &moderation.Engine{Dir: dir, OwnerID: opts.OwnerID},
		Router: &command.Router{
			Prefix:   opts.Prefix,
			Registry: command.DefaultRegistry(),
			Dir:      dir,
		},
		Roster:               roster,
		OwnerID:              opts.OwnerID,
		DefaultQuota:         opts.DefaultQuota,
		DefaultWarnThreshold: opts.DefaultWarnThreshold,
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// HandleMessage processes one inbound event to a terminal state. It never
// returns an error and never panics outward; failures are logged and, where
// a user was mid-command, answered with a generic reply.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg transport.Message) {
	if msg.FromSelf || msg.SenderID == "" {
		return
	}
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	telemetry.Inc(telemetry.MessagesProcessed)
	if telemetry.InFlightGauge != nil {
		telemetry.InFlightGauge.Inc()
		defer telemetry.InFlightGauge.Dec()
	}
	defer func() {
		if r := recover(); r != nil {
			telemetry.LoggerWithCorr(ctx).Error("panic while processing message",
				slog.String("sender", msg.SenderID),
				slog.String("room", msg.RoomID),
				slog.Any("panic", r))
			d.reply(ctx, msg, genericErrorReply)
		}
	}()
	telemetry.TimeFunc(telemetry.DispatchDuration, func() {
		d.process(ctx, msg)
	})
}

func (d *Dispatcher) process(ctx context.Context, msg transport.Message) {
	now := d.now()
	log := telemetry.LoggerWithCorr(ctx)

	user, err := d.Dir.GetOrCreateUser(ctx, msg.SenderID, msg.SenderName, d.DefaultQuota)
	if err != nil {
		log.Error("identity resolution failed", slog.String("sender", msg.SenderID), slog.Any("err", err))
		return
	}

	// The owner is defined by config, not by a persisted row; the override is
	// in-memory so a tampered record can never lock the owner out.
	if d.OwnerID != "" && user.ID == d.OwnerID {
		user.Tier = store.TierOwner
		user.Quota = store.UnlimitedQuota
	}

	user, blocked, reason := d.Resolver.Resolve(ctx, user, now)
	if blocked {
		telemetry.Inc(telemetry.MessagesBlocked)
		d.reply(ctx, msg, reason)
		return
	}

	room, role := d.roomContext(ctx, msg)

	if d.Engine.Check(ctx, room, msg, role, d.Tx) {
		return
	}

	cmdCtx := &command.Context{
		User:         user,
		Room:         room,
		Role:         role,
		Msg:          msg,
		Now:          now,
		Dir:          d.Dir,
		Tx:           d.Tx,
		DefaultQuota: d.DefaultQuota,
	}
	handled, err := d.Router.Dispatch(ctx, cmdCtx)
	if !handled || err == nil {
		return
	}

	if text, ok := command.UserFacing(err); ok {
		d.reply(ctx, msg, text)
		return
	}

	telemetry.Inc(telemetry.CommandsFailed)
	log.Error("command failed",
		slog.String("sender", msg.SenderID),
		slog.String("room", msg.RoomID),
		slog.Any("err", err))
	d.reply(ctx, msg, genericErrorReply)
}

// roomContext loads the room record and resolves the sender's role. The
// message's own badge role is the floor; the (cached) roster can only elevate
// it, since the badge data is fresher than the cache. An empty RoomID means a
// one-to-one chat: no room, and admin permission can never be satisfied
// there. Roster trouble degrades to the badge role rather than aborting the
// message.
func (d *Dispatcher) roomContext(ctx context.Context, msg transport.Message) (*store.Room, transport.Role) {
	if msg.RoomID == "" {
		return nil, transport.RoleMember
	}
	room, err := d.Dir.GetOrCreateRoom(ctx, msg.RoomID, "", d.DefaultWarnThreshold)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("room resolution failed",
			slog.String("room", msg.RoomID), slog.Any("err", err))
		return nil, transport.RoleMember
	}
	role := msg.SenderRole
	if d.Roster != nil {
		members, err := d.Roster.Roster(ctx, msg.RoomID)
		if err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("roster refresh failed",
				slog.String("room", msg.RoomID), slog.Any("err", err))
		}
		for _, m := range members {
			if m.ID == msg.SenderID {
				if m.Role > role {
					role = m.Role
				}
				break
			}
		}
	}
	return room, role
}

func (d *Dispatcher) reply(ctx context.Context, msg transport.Message, text string) {
	out := text
	if msg.SenderName != "" {
		out = "@" + msg.SenderName + " " + text
	}
	if err := d.Tx.SendMessage(ctx, msg.RoomID, out, []string{msg.SenderID}); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("reply send failed",
			slog.String("room", msg.RoomID), slog.Any("err", err))
	}
}
