package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/onnwee/chat-warden/store"
	"github.com/onnwee/chat-warden/telemetry"
	"github.com/onnwee/chat-warden/testutil"
	"github.com/onnwee/chat-warden/transport"
)

type fixture struct {
	router *Router
	dir    *testutil.FakeDirectory
	tx     *testutil.FakeTransport
}

func newFixture() *fixture {
	dir := testutil.NewFakeDirectory()
	return &fixture{
		router: &Router{Prefix: ".", Registry: DefaultRegistry(), Dir: dir},
		dir:    dir,
		tx:     testutil.NewFakeTransport(),
	}
}

func (f *fixture) ctx(user *store.User, room *store.Room, role transport.Role, text string, mentions ...string) *Context {
	return &Context{
		User: user,
		Room: room,
		Role: role,
		Msg:  transport.Message{RoomID: roomID(room), SenderID: user.ID, Text: text, Mentions: mentions},
		Now:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Dir:  f.dir,
		Tx:   f.tx,

		DefaultQuota: 25,
	}
}

func roomID(r *store.Room) string {
	if r == nil {
		return ""
	}
	return r.ID
}

func seedBasic(f *fixture, id string, quota int) *store.User {
	f.dir.SeedUser(store.User{ID: id, DisplayName: id, Tier: store.TierBasic, Quota: quota})
	u, _ := f.dir.GetUser(context.Background(), id)
	return u
}

func seedOwner(f *fixture) *store.User {
	f.dir.SeedUser(store.User{ID: "boss", DisplayName: "boss", Tier: store.TierOwner, Quota: store.UnlimitedQuota})
	u, _ := f.dir.GetUser(context.Background(), "boss")
	return u
}

func seedRoom(f *fixture) *store.Room {
	f.dir.SeedRoom(store.Room{ID: "room1", WarnThreshold: 3})
	r, _ := f.dir.GetOrCreateRoom(context.Background(), "room1", "", 3)
	return r
}

func TestDispatchNonCommandIsNoop(t *testing.T) {
	f := newFixture()
	u := seedBasic(f, "u1", 5)
	handled, err := f.router.Dispatch(context.Background(), f.ctx(u, nil, transport.RoleMember, "just chatting"))
	if handled || err != nil {
		t.Fatalf("handled=%v err=%v, want false/nil", handled, err)
	}
	if len(f.dir.Usage) != 0 {
		t.Error("non-command must not be logged as usage")
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	f := newFixture()
	u := seedBasic(f, "u1", 5)
	handled, err := f.router.Dispatch(context.Background(), f.ctx(u, nil, transport.RoleMember, ".frobnicate"))
	if !handled {
		t.Fatal("command-shaped text must be handled")
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if len(f.dir.Usage) != 0 {
		t.Error("unknown command must not create a usage entry")
	}
	if got, _ := f.dir.UserSnapshot("u1"); got.Quota != 5 {
		t.Errorf("quota = %d, want untouched 5", got.Quota)
	}
}

func TestDispatchPermissionDenied(t *testing.T) {
	f := newFixture()
	u := seedBasic(f, "u1", 5)
	room := seedRoom(f)

	cases := []struct {
		name string
		room *store.Room
		role transport.Role
		text string
		want Permission
	}{
		{"owner command from basic user", nil, transport.RoleMember, ".ban @x", PermOwner},
		{"admin command from member", room, transport.RoleMember, ".warn @x", PermAdmin},
		{"admin command outside a room", nil, transport.RoleMember, ".warn @x", PermAdmin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.router.Dispatch(context.Background(), f.ctx(u, tc.room, tc.role, tc.text))
			var pe *PermissionError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want PermissionError", err)
			}
			if pe.Required != tc.want {
				t.Errorf("required = %v, want %v", pe.Required, tc.want)
			}
		})
	}
	if len(f.dir.Usage) != 0 {
		t.Error("denied commands must not be logged as usage")
	}
}

func TestDispatchAdminPassesForRoomAdminAndOwner(t *testing.T) {
	f := newFixture()
	room := seedRoom(f)
	seedBasic(f, "victim", 5)

	admin := seedBasic(f, "mod", 5)
	if _, err := f.router.Dispatch(context.Background(), f.ctx(admin, room, transport.RoleAdmin, ".warn @victim")); err != nil {
		t.Errorf("room admin should pass: %v", err)
	}

	owner := seedOwner(f)
	if _, err := f.router.Dispatch(context.Background(), f.ctx(owner, room, transport.RoleMember, ".warn @victim")); err != nil {
		t.Errorf("owner should pass admin checks anywhere: %v", err)
	}
}

func TestDispatchQuota(t *testing.T) {
	f := newFixture()

	t.Run("exhausted quota denies and stays at zero", func(t *testing.T) {
		u := seedBasic(f, "broke", 0)
		_, err := f.router.Dispatch(context.Background(), f.ctx(u, nil, transport.RoleMember, ".profile"))
		var qe *QuotaError
		if !errors.As(err, &qe) {
			t.Fatalf("err = %v, want QuotaError", err)
		}
		got, _ := f.dir.UserSnapshot("broke")
		if got.Quota != 0 {
			t.Errorf("quota = %d, want 0", got.Quota)
		}
		if len(f.dir.Usage) != 0 {
			t.Error("quota denial must not be logged as usage")
		}
	})

	t.Run("paid command decrements by exactly the cost", func(t *testing.T) {
		u := seedBasic(f, "payer", 5)
		if _, err := f.router.Dispatch(context.Background(), f.ctx(u, nil, transport.RoleMember, ".profile")); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		got, _ := f.dir.UserSnapshot("payer")
		if got.Quota != 4 {
			t.Errorf("quota = %d, want 4", got.Quota)
		}
	})

	t.Run("basic-tier room admin pays for admin commands", func(t *testing.T) {
		room := seedRoom(f)
		seedBasic(f, "victim", 5)
		admin := seedBasic(f, "roomadmin", 5)
		if _, err := f.router.Dispatch(context.Background(), f.ctx(admin, room, transport.RoleAdmin, ".warn @victim")); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if got, _ := f.dir.UserSnapshot("roomadmin"); got.Quota != 4 {
			t.Errorf("admin quota = %d, want 4 (the admin role does not waive quota)", got.Quota)
		}
	})

	t.Run("owner and premium are never metered", func(t *testing.T) {
		owner := seedOwner(f)
		f.dir.SeedUser(store.User{ID: "vip", DisplayName: "vip", Tier: store.TierPremium, Quota: 3})
		vip, _ := f.dir.GetUser(context.Background(), "vip")

		for _, u := range []*store.User{owner, vip} {
			if _, err := f.router.Dispatch(context.Background(), f.ctx(u, nil, transport.RoleMember, ".profile")); err != nil {
				t.Fatalf("dispatch for %s: %v", u.ID, err)
			}
		}
		if got, _ := f.dir.UserSnapshot("vip"); got.Quota != 3 {
			t.Errorf("premium quota = %d, want untouched 3", got.Quota)
		}
	})

	t.Run("store failure on decrement blocks execution", func(t *testing.T) {
		u := seedBasic(f, "unlucky", 5)
		f.dir.ConsumeErr = errors.New("db down")
		defer func() { f.dir.ConsumeErr = nil }()
		usageBefore := len(f.dir.Usage)
		_, err := f.router.Dispatch(context.Background(), f.ctx(u, nil, transport.RoleMember, ".profile"))
		if err == nil {
			t.Fatal("expected internal error")
		}
		var qe *QuotaError
		if errors.As(err, &qe) {
			t.Error("store failure must not masquerade as quota denial")
		}
		if len(f.dir.Usage) != usageBefore {
			t.Error("unexecuted command must not be logged")
		}
	})
}

func TestValidationDenialCountedByRouter(t *testing.T) {
	telemetry.Init()
	f := newFixture()
	owner := seedOwner(f)
	seedBasic(f, "u1", 5)

	before := promtest.ToFloat64(telemetry.CommandsDenied.WithLabelValues(telemetry.DenyValidation))
	_, err := f.router.Dispatch(context.Background(), f.ctx(owner, nil, transport.RoleMember, ".addbalance @u1 lots"))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	after := promtest.ToFloat64(telemetry.CommandsDenied.WithLabelValues(telemetry.DenyValidation))
	if after-before != 1 {
		t.Errorf("validation denials grew by %v, want exactly 1", after-before)
	}
}

func TestDispatchRecordsUsageForExecutedCommands(t *testing.T) {
	f := newFixture()
	u := seedBasic(f, "u1", 5)
	room := seedRoom(f)

	if _, err := f.router.Dispatch(context.Background(), f.ctx(u, room, transport.RoleMember, ".profile")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(f.dir.Usage) != 1 {
		t.Fatalf("usage entries = %d, want 1", len(f.dir.Usage))
	}
	e := f.dir.Usage[0]
	if e.Command != "profile" || e.ActorID != "u1" || e.RoomID != "room1" {
		t.Errorf("usage entry = %+v", e)
	}
}

func TestDispatchAliasResolves(t *testing.T) {
	f := newFixture()
	owner := seedOwner(f)
	seedBasic(f, "u1", 5)
	if _, err := f.router.Dispatch(context.Background(), f.ctx(owner, nil, transport.RoleMember, ".addbal @u1 100")); err != nil {
		t.Fatalf("alias dispatch: %v", err)
	}
	if got, _ := f.dir.UserSnapshot("u1"); got.Balance != 100 {
		t.Errorf("balance = %d, want 100", got.Balance)
	}
	// The canonical name is what lands in the usage log.
	if f.dir.Usage[0].Command != "addbalance" {
		t.Errorf("usage command = %q, want addbalance", f.dir.Usage[0].Command)
	}
}

func TestBanCommand(t *testing.T) {
	f := newFixture()
	owner := seedOwner(f)
	seedBasic(f, "u1", 5)

	t.Run("timed ban", func(t *testing.T) {
		c := f.ctx(owner, nil, transport.RoleMember, ".ban @u1 1h")
		if _, err := f.router.Dispatch(context.Background(), c); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		got, _ := f.dir.UserSnapshot("u1")
		if !got.Banned || got.BanExpiresAt == nil {
			t.Fatalf("user not time-banned: %+v", got)
		}
		want := c.Now.Add(time.Hour)
		if !got.BanExpiresAt.Equal(want) {
			t.Errorf("ban expires %v, want %v", got.BanExpiresAt, want)
		}
	})

	t.Run("bad duration is a validation error, no state change", func(t *testing.T) {
		f.dir.SeedUser(store.User{ID: "u2", Tier: store.TierBasic, Quota: 5})
		_, err := f.router.Dispatch(context.Background(), f.ctx(owner, nil, transport.RoleMember, ".ban @u2 1fortnight"))
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("err = %v, want ValidationError", err)
		}
		if got, _ := f.dir.UserSnapshot("u2"); got.Banned {
			t.Error("bad duration must not ban")
		}
	})

	t.Run("permanent ban without duration", func(t *testing.T) {
		f.dir.SeedUser(store.User{ID: "u3", Tier: store.TierBasic, Quota: 5})
		if _, err := f.router.Dispatch(context.Background(), f.ctx(owner, nil, transport.RoleMember, ".ban @u3")); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		got, _ := f.dir.UserSnapshot("u3")
		if !got.Banned || got.BanExpiresAt != nil {
			t.Errorf("want permanent ban, got %+v", got)
		}
	})

	t.Run("missing target user", func(t *testing.T) {
		_, err := f.router.Dispatch(context.Background(), f.ctx(owner, nil, transport.RoleMember, ".ban @nobody"))
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("err = %v, want NotFoundError", err)
		}
	})
}

func TestPremiumCommands(t *testing.T) {
	f := newFixture()
	owner := seedOwner(f)
	seedBasic(f, "u1", 5)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := f.router.Dispatch(context.Background(), f.ctx(owner, nil, transport.RoleMember, ".addprem @u1 30d")); err != nil {
		t.Fatalf("addprem: %v", err)
	}
	got, _ := f.dir.UserSnapshot("u1")
	if got.Tier != store.TierPremium || got.PremiumExpiresAt == nil || !got.PremiumExpiresAt.Equal(now.Add(30*24*time.Hour)) {
		t.Fatalf("addprem result: %+v", got)
	}

	if _, err := f.router.Dispatch(context.Background(), f.ctx(owner, nil, transport.RoleMember, ".delprem @u1")); err != nil {
		t.Fatalf("delprem: %v", err)
	}
	got, _ = f.dir.UserSnapshot("u1")
	if got.Tier != store.TierBasic || got.Quota != 25 {
		t.Errorf("delprem should demote and reset quota: %+v", got)
	}
}

func TestBlocklistCommands(t *testing.T) {
	f := newFixture()
	room := seedRoom(f)
	admin := seedBasic(f, "mod", 5)

	if _, err := f.router.Dispatch(context.Background(), f.ctx(admin, room, transport.RoleAdmin, ".addbadword SCAM spam")); err != nil {
		t.Fatalf("addbadword: %v", err)
	}
	r, _ := f.dir.GetOrCreateRoom(context.Background(), "room1", "", 3)
	if len(r.Blockwords) != 2 || r.Blockwords[0] != "scam" || r.Blockwords[1] != "spam" {
		t.Fatalf("blockwords = %v, want case-folded [scam spam]", r.Blockwords)
	}

	// Re-adding is a no-op, not an error.
	if _, err := f.router.Dispatch(context.Background(), f.ctx(admin, room, transport.RoleAdmin, ".addbadword scam")); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if got := f.tx.LastSent(); !strings.Contains(got, "already") {
		t.Errorf("expected duplicate notice, got %q", got)
	}

	if _, err := f.router.Dispatch(context.Background(), f.ctx(admin, room, transport.RoleAdmin, ".delbadword spam")); err != nil {
		t.Fatalf("delbadword: %v", err)
	}
	r, _ = f.dir.GetOrCreateRoom(context.Background(), "room1", "", 3)
	if len(r.Blockwords) != 1 {
		t.Errorf("blockwords = %v, want [scam]", r.Blockwords)
	}

	if _, err := f.router.Dispatch(context.Background(), f.ctx(admin, room, transport.RoleAdmin, ".antibadword on")); err != nil {
		t.Fatalf("antibadword: %v", err)
	}
	r, _ = f.dir.GetOrCreateRoom(context.Background(), "room1", "", 3)
	if !r.ModerationEnabled {
		t.Error("moderation should be enabled")
	}
}

func TestMaxWarnValidation(t *testing.T) {
	f := newFixture()
	room := seedRoom(f)
	admin := seedBasic(f, "mod", 5)

	var verr *ValidationError
	if _, err := f.router.Dispatch(context.Background(), f.ctx(admin, room, transport.RoleAdmin, ".maxwarn 0")); !errors.As(err, &verr) {
		t.Errorf("maxwarn 0 should be a validation error, got %v", err)
	}
	if _, err := f.router.Dispatch(context.Background(), f.ctx(admin, room, transport.RoleAdmin, ".maxwarn 5")); err != nil {
		t.Fatalf("maxwarn 5: %v", err)
	}
	r, _ := f.dir.GetOrCreateRoom(context.Background(), "room1", "", 3)
	if r.WarnThreshold != 5 {
		t.Errorf("threshold = %d, want 5", r.WarnThreshold)
	}
}

func TestProfileOutput(t *testing.T) {
	f := newFixture()
	u := seedBasic(f, "u1", 5)
	if _, err := f.router.Dispatch(context.Background(), f.ctx(u, nil, transport.RoleMember, ".profile")); err != nil {
		t.Fatalf("profile: %v", err)
	}
	got := f.tx.LastSent()
	for _, want := range []string{"u1", "basic", "Quota: 4"} {
		if !strings.Contains(got, want) {
			t.Errorf("profile %q missing %q", got, want)
		}
	}
}
