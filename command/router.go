// Package command parses the command token out of message text, resolves the
// matching descriptor, enforces permission and quota, and invokes exactly one
// handler per message. The command set is fixed and closed; there is no
// plugin surface.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/chat-warden/store"
	"github.com/onnwee/chat-warden/telemetry"
	"github.com/onnwee/chat-warden/transport"
)

// Permission is the level a descriptor requires.
type Permission int

const (
	PermNone Permission = iota
	PermAdmin
	PermOwner
)

func (p Permission) String() string {
	switch p {
	case PermAdmin:
		return "admin"
	case PermOwner:
		return "owner"
	default:
		return "none"
	}
}

// Context bundles everything a handler may need: the resolved user, the room
// record and the sender's role (resolved once by the router, never re-derived
// inside handlers), parsed args, and the injected store/transport
// capabilities.
type Context struct {
	User *store.User
	Room *store.Room // nil outside group rooms
	Role transport.Role
	Args []string
	Msg  transport.Message
	Now  time.Time

	Dir          store.Directory
	Tx           transport.Transport
	DefaultQuota int
}

// Reply sends a plain response addressed to the actor's chat.
func (c *Context) Reply(ctx context.Context, text string) error {
	return c.Tx.SendMessage(ctx, c.Msg.RoomID, text, nil)
}

// HandlerFunc consumes a resolved context and produces outbound effects.
type HandlerFunc func(ctx context.Context, c *Context) error

// Descriptor is one static command definition. Commands charge quota by
// default; a zero QuotaCost means the default cost of 1, and Free marks the
// command as explicitly exempt.
type Descriptor struct {
	Name       string
	Aliases    []string
	Permission Permission
	QuotaCost  int // 0 means the default cost of 1
	Free       bool
	Handler    HandlerFunc
}

// Registry maps names and aliases to descriptors.
type Registry struct {
	byName map[string]*Descriptor
}

// NewRegistry builds a registry; duplicate names or aliases panic at startup
// since the command set is static. Unset quota costs are normalized to the
// default of 1 here, so free commands are always an explicit choice.
func NewRegistry(descriptors ...*Descriptor) *Registry {
	r := &Registry{byName: make(map[string]*Descriptor)}
	for _, d := range descriptors {
		if d.QuotaCost == 0 && !d.Free {
			d.QuotaCost = 1
		}
		r.add(d.Name, d)
		for _, a := range d.Aliases {
			r.add(a, d)
		}
	}
	return r
}

func (r *Registry) add(name string, d *Descriptor) {
	if _, dup := r.byName[name]; dup {
		panic(fmt.Sprintf("command: duplicate registration of %q", name))
	}
	r.byName[name] = d
}

// Lookup resolves a token by name or alias.
func (r *Registry) Lookup(token string) (*Descriptor, bool) {
	d, ok := r.byName[token]
	return d, ok
}

// Router dispatches at most one command per message.
type Router struct {
	Prefix   string
	Registry *Registry
	Dir      store.Directory
}

// Dispatch runs the parse → lookup → permission → quota → invoke → usage-log
// sequence for one message. It returns false when the text is not a command
// at all. Denials and handler failures come back as errors from the taxonomy
// in errors.go; the dispatch loop turns them into user-facing replies.
//
// Quota is consumed before the handler runs. A handler failure after the
// decrement is deliberately not refunded: this pipeline never retries a
// message, and charging up front rules out double-charging.
func (rt *Router) Dispatch(ctx context.Context, c *Context) (bool, error) {
	token, args, ok := Split(rt.Prefix, c.Msg.Text)
	if !ok {
		return false, nil
	}
	c.Args = args

	desc, ok := rt.Registry.Lookup(token)
	if !ok {
		telemetry.CountDenied(telemetry.DenyNotFound)
		return true, &NotFoundError{What: "Command " + rt.Prefix + token}
	}

	if err := rt.checkPermission(desc, c); err != nil {
		telemetry.CountDenied(telemetry.DenyPermission)
		return true, err
	}

	if desc.QuotaCost > 0 && !c.User.Unmetered() {
		consumed, err := rt.Dir.ConsumeQuota(ctx, c.User.ID, desc.QuotaCost)
		if err != nil {
			// The decrement did not persist, so the command must not run.
			return true, fmt.Errorf("consume quota: %w", err)
		}
		if !consumed {
			telemetry.CountDenied(telemetry.DenyQuota)
			return true, &QuotaError{}
		}
	}

	telemetry.Inc(telemetry.CommandsExecuted)
	var handlerErr error
	telemetry.TimeFunc(telemetry.HandlerDuration, func() {
		handlerErr = desc.Handler(ctx, c)
	})

	// Validation failures surface from inside handlers; counting them here
	// keeps all four denial reasons in one place.
	var verr *ValidationError
	if errors.As(handlerErr, &verr) {
		telemetry.CountDenied(telemetry.DenyValidation)
	}

	// Only executed attempts land in the usage log; permission and quota
	// denials above never reach this point.
	if err := rt.Dir.RecordUsage(ctx, desc.Name, c.User.ID, c.Msg.RoomID); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("usage log write failed",
			slog.String("command", desc.Name), slog.String("actor", c.User.ID), slog.Any("err", err))
	}
	return true, handlerErr
}

// checkPermission enforces the descriptor's level. Admin is resolved from the
// room role the dispatcher attached to the context; it is meaningless outside
// a room and always fails there.
func (rt *Router) checkPermission(desc *Descriptor, c *Context) error {
	switch desc.Permission {
	case PermOwner:
		if c.User.Tier != store.TierOwner {
			return &PermissionError{Required: PermOwner}
		}
	case PermAdmin:
		if c.User.Tier == store.TierOwner {
			return nil
		}
		if c.Room == nil || (c.Role != transport.RoleAdmin && c.Role != transport.RoleSuperAdmin) {
			return &PermissionError{Required: PermAdmin}
		}
	}
	return nil
}
