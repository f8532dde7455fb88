// Package testutil provides in-memory fakes shared by the pipeline tests: a
// Directory that mirrors the SQL store's conditional-update semantics and a
// Transport that records outbound effects.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chat-warden/store"
	"github.com/onnwee/chat-warden/transport"
)

// FakeDirectory implements store.Directory in memory. Error fields, when set,
// are returned by the matching method to exercise degraded paths.
type FakeDirectory struct {
	mu         sync.Mutex
	Users      map[string]*store.User
	Rooms      map[string]*store.Room
	Blockwords map[string]map[string]bool // roomID -> word set
	Usage      []store.UsageEntry

	CorrectErr error
	ConsumeErr error
	WarnErr    error
	UsageErr   error
}

func NewFakeDirectory() *FakeDirectory {
	return &FakeDirectory{
		Users:      make(map[string]*store.User),
		Rooms:      make(map[string]*store.Room),
		Blockwords: make(map[string]map[string]bool),
	}
}

// SeedUser installs a user record, replacing any existing one.
func (f *FakeDirectory) SeedUser(u store.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := u
	f.Users[u.ID] = &cp
}

// SeedRoom installs a room record and its blockwords.
func (f *FakeDirectory) SeedRoom(r store.Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := r
	f.Rooms[r.ID] = &cp
	words := make(map[string]bool)
	for _, w := range r.Blockwords {
		words[strings.ToLower(w)] = true
	}
	f.Blockwords[r.ID] = words
}

// UserSnapshot returns a copy of the stored user record for assertions.
func (f *FakeDirectory) UserSnapshot(id string) (store.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok {
		return store.User{}, false
	}
	return *u, true
}

func (f *FakeDirectory) GetOrCreateUser(_ context.Context, id, displayName string, defaultQuota int) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok {
		u = &store.User{ID: id, DisplayName: displayName, Tier: store.TierBasic, Quota: defaultQuota}
		f.Users[id] = u
	} else if displayName != "" {
		u.DisplayName = displayName
	}
	cp := *u
	return &cp, nil
}

func (f *FakeDirectory) GetUser(_ context.Context, id string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *FakeDirectory) CorrectEntitlement(_ context.Context, id string, clearBan, demotePremium bool, defaultQuota int, now time.Time) error {
	if f.CorrectErr != nil {
		return f.CorrectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	// Same guarded semantics as the SQL implementation: each field changes
	// only while its lapse condition still holds on the stored row.
	if clearBan && u.Banned && u.BanExpiresAt != nil && !u.BanExpiresAt.After(now) {
		u.Banned = false
		u.BanExpiresAt = nil
	}
	if demotePremium && u.Tier == store.TierPremium && u.PremiumExpiresAt != nil && !u.PremiumExpiresAt.After(now) {
		u.Tier = store.TierBasic
		u.PremiumExpiresAt = nil
		u.Quota = defaultQuota
	}
	return nil
}

func (f *FakeDirectory) ConsumeQuota(_ context.Context, id string, cost int) (bool, error) {
	if f.ConsumeErr != nil {
		return false, f.ConsumeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok || u.Quota < cost {
		return false, nil
	}
	u.Quota -= cost
	return true, nil
}

func (f *FakeDirectory) AdjustQuota(_ context.Context, id string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	if u.Quota >= 0 {
		u.Quota += delta
		if u.Quota < 0 {
			u.Quota = 0
		}
	}
	return nil
}

func (f *FakeDirectory) IncrementWarning(_ context.Context, id string) (int, error) {
	if f.WarnErr != nil {
		return 0, f.WarnErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	u.Warnings++
	return u.Warnings, nil
}

func (f *FakeDirectory) DecrementWarning(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	if u.Warnings > 0 {
		u.Warnings--
	}
	return nil
}

func (f *FakeDirectory) ResetWarnings(_ context.Context, id string, floor int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	if u.Warnings >= floor {
		u.Warnings = 0
	}
	return nil
}

func (f *FakeDirectory) SetBan(_ context.Context, id string, until *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	if u.Tier == store.TierOwner {
		return nil
	}
	u.Banned = true
	if until != nil {
		t := until.UTC()
		u.BanExpiresAt = &t
	} else {
		u.BanExpiresAt = nil
	}
	return nil
}

func (f *FakeDirectory) ClearBan(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok || !u.Banned {
		return false, nil
	}
	u.Banned = false
	u.BanExpiresAt = nil
	return true, nil
}

func (f *FakeDirectory) SetPremium(_ context.Context, id string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	if u.Tier == store.TierOwner {
		return nil
	}
	u.Tier = store.TierPremium
	t := until.UTC()
	u.PremiumExpiresAt = &t
	return nil
}

func (f *FakeDirectory) ClearPremium(_ context.Context, id string, defaultQuota int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok || u.Tier != store.TierPremium {
		return false, nil
	}
	u.Tier = store.TierBasic
	u.PremiumExpiresAt = nil
	u.Quota = defaultQuota
	return true, nil
}

func (f *FakeDirectory) AdjustBalance(_ context.Context, id string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Balance += delta
	if u.Balance < 0 {
		u.Balance = 0
	}
	return nil
}

func (f *FakeDirectory) AdjustChips(_ context.Context, id string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Chips += delta
	if u.Chips < 0 {
		u.Chips = 0
	}
	return nil
}

func (f *FakeDirectory) listUsers(match func(*store.User) bool) []store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.User
	for _, u := range f.Users {
		if match(u) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *FakeDirectory) ListBanned(context.Context) ([]store.User, error) {
	return f.listUsers(func(u *store.User) bool { return u.Banned }), nil
}

func (f *FakeDirectory) ListPremium(context.Context) ([]store.User, error) {
	return f.listUsers(func(u *store.User) bool { return u.Tier == store.TierPremium }), nil
}

func (f *FakeDirectory) ListWarned(context.Context) ([]store.User, error) {
	return f.listUsers(func(u *store.User) bool { return u.Warnings > 0 }), nil
}

func (f *FakeDirectory) GetOrCreateRoom(_ context.Context, id, displayName string, defaultThreshold int) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Rooms[id]
	if !ok {
		r = &store.Room{ID: id, DisplayName: displayName, WarnThreshold: defaultThreshold}
		f.Rooms[id] = r
		f.Blockwords[id] = make(map[string]bool)
	} else if displayName != "" {
		r.DisplayName = displayName
	}
	cp := *r
	cp.Blockwords = nil
	for w := range f.Blockwords[id] {
		cp.Blockwords = append(cp.Blockwords, w)
	}
	sort.Strings(cp.Blockwords)
	return &cp, nil
}

func (f *FakeDirectory) SetModeration(_ context.Context, roomID string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Rooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	r.ModerationEnabled = enabled
	return nil
}

func (f *FakeDirectory) SetWarnThreshold(_ context.Context, roomID string, threshold int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Rooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	r.WarnThreshold = threshold
	return nil
}

func (f *FakeDirectory) AddBlockword(_ context.Context, roomID, word string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	words, ok := f.Blockwords[roomID]
	if !ok {
		return false, store.ErrNotFound
	}
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" || words[word] {
		return false, nil
	}
	words[word] = true
	return true, nil
}

func (f *FakeDirectory) RemoveBlockword(_ context.Context, roomID, word string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	words, ok := f.Blockwords[roomID]
	if !ok {
		return false, store.ErrNotFound
	}
	word = strings.ToLower(strings.TrimSpace(word))
	if !words[word] {
		return false, nil
	}
	delete(words, word)
	return true, nil
}

func (f *FakeDirectory) RecordUsage(_ context.Context, command, actorID, roomID string) error {
	if f.UsageErr != nil {
		return f.UsageErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Usage = append(f.Usage, store.UsageEntry{
		ID: uuid.New().String(), Command: command, ActorID: actorID, RoomID: roomID, CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (f *FakeDirectory) Stats(context.Context) (*store.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := &store.Stats{Users: len(f.Users), Rooms: len(f.Rooms), UsageTotal: len(f.Usage)}
	for _, u := range f.Users {
		if u.Banned {
			st.Banned++
		}
	}
	return st, nil
}

var _ store.Directory = (*FakeDirectory)(nil)

// SentMessage is one recorded outbound send.
type SentMessage struct {
	RoomID   string
	Text     string
	Mentions []string
}

// Mutation is one recorded membership change.
type Mutation struct {
	RoomID   string
	TargetID string
	Action   transport.MembershipAction
}

// FakeTransport implements transport.Transport and records every call.
type FakeTransport struct {
	mu      sync.Mutex
	Sent    []SentMessage
	Deleted []string
	Mutated []Mutation
	Rosters map[string][]transport.Member

	SendErr   error
	DeleteErr error
	MutateErr error
	RosterErr error
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{Rosters: make(map[string][]transport.Member)}
}

func (f *FakeTransport) SendMessage(_ context.Context, roomID, text string, mentions []string) error {
	if f.SendErr != nil {
		return f.SendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, SentMessage{RoomID: roomID, Text: text, Mentions: mentions})
	return nil
}

func (f *FakeTransport) DeleteMessage(_ context.Context, roomID, ref string) error {
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, ref)
	return nil
}

func (f *FakeTransport) MutateMembership(_ context.Context, roomID, targetID string, action transport.MembershipAction) error {
	if f.MutateErr != nil {
		return f.MutateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Mutated = append(f.Mutated, Mutation{RoomID: roomID, TargetID: targetID, Action: action})
	if action == transport.MembershipRemove {
		members := f.Rosters[roomID]
		out := members[:0]
		for _, m := range members {
			if m.ID != targetID {
				out = append(out, m)
			}
		}
		f.Rosters[roomID] = out
	}
	return nil
}

func (f *FakeTransport) FetchRoster(_ context.Context, roomID string) ([]transport.Member, error) {
	if f.RosterErr != nil {
		return nil, f.RosterErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Member(nil), f.Rosters[roomID]...), nil
}

// LastSent returns the most recent outbound message text, or "".
func (f *FakeTransport) LastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Sent) == 0 {
		return ""
	}
	return f.Sent[len(f.Sent)-1].Text
}

var _ transport.Transport = (*FakeTransport)(nil)
