// Package twitchirc adapts Twitch chat to the transport boundary: inbound
// PRIVMSGs become transport.Message events, and the outbound capability
// surface maps to IRC Say plus Helix moderation endpoints.
//
// Participant and room identifiers are lowercase Twitch logins; the numeric
// ids Helix wants are resolved lazily and cached.
package twitchirc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chat-warden/transport"
	"github.com/onnwee/chat-warden/twitchapi"
)

// Adapter implements transport.Transport on top of Twitch IRC and Helix.
type Adapter struct {
	irc      *twitch.Client
	helix    *twitchapi.HelixClient
	botLogin string
	channels []string

	mu  sync.Mutex
	ids map[string]string // login -> numeric user id
}

// New builds an adapter. oauthToken is the bot's user OAuth token (chat
// scopes); helix must be configured with the same user's token for the
// moderation endpoints.
func New(botLogin, oauthToken string, channels []string, helix *twitchapi.HelixClient) *Adapter {
	return &Adapter{
		irc:      twitch.NewClient(botLogin, oauthToken),
		helix:    helix,
		botLogin: strings.ToLower(botLogin),
		channels: channels,
		ids:      make(map[string]string),
	}
}

// OnMessage registers the inbound handler. Call before Run.
func (a *Adapter) OnMessage(handler func(transport.Message)) {
	a.irc.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		handler(a.convert(msg))
	})
}

func (a *Adapter) convert(msg twitch.PrivateMessage) transport.Message {
	sender := strings.ToLower(msg.User.Name)
	var quotedRef string
	if msg.Reply != nil {
		quotedRef = msg.Reply.ParentMsgID
	}
	return transport.Message{
		RoomID:     strings.ToLower(msg.Channel),
		SenderID:   sender,
		SenderName: msg.User.DisplayName,
		SenderRole: RoleFromBadges(msg.User.Badges),
		Text:       msg.Message,
		Ref:        msg.ID,
		FromSelf:   sender == a.botLogin,
		QuotedRef:  quotedRef,
		Mentions:   Mentions(msg.Message),
	}
}

// Run joins the configured channels and blocks until the connection drops or
// ctx is canceled.
func (a *Adapter) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := a.irc.Disconnect(); err != nil {
			slog.Warn("twitch chat disconnect error", slog.Any("err", err))
		}
		close(done)
	}()

	a.irc.Join(a.channels...)
	slog.Info("joining twitch chat", slog.Any("channels", a.channels))
	if err := a.irc.Connect(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("twitch chat connect: %w", err)
	}
	<-done
	return ctx.Err()
}

// SendMessage posts text to the channel. Twitch mentions are plain "@name"
// text, so the mentions list is not sent separately.
func (a *Adapter) SendMessage(_ context.Context, roomID, text string, _ []string) error {
	a.irc.Say(roomID, text)
	return nil
}

// DeleteMessage removes one message by its IRC message id.
func (a *Adapter) DeleteMessage(ctx context.Context, roomID, ref string) error {
	broadcaster, bot, err := a.roomIDs(ctx, roomID)
	if err != nil {
		return err
	}
	return a.helix.DeleteChatMessage(ctx, broadcaster, bot, ref)
}

// MutateMembership maps the abstract roster actions to Twitch: removal is a
// channel ban, re-adding lifts it, and promote/demote toggle moderator.
func (a *Adapter) MutateMembership(ctx context.Context, roomID, targetID string, action transport.MembershipAction) error {
	broadcaster, bot, err := a.roomIDs(ctx, roomID)
	if err != nil {
		return err
	}
	target, err := a.numericID(ctx, targetID)
	if err != nil {
		return err
	}
	switch action {
	case transport.MembershipRemove:
		return a.helix.BanUser(ctx, broadcaster, bot, target, 0)
	case transport.MembershipAdd:
		return a.helix.UnbanUser(ctx, broadcaster, bot, target)
	case transport.MembershipPromote:
		return a.helix.AddModerator(ctx, broadcaster, target)
	case transport.MembershipDemote:
		return a.helix.RemoveModerator(ctx, broadcaster, target)
	default:
		return fmt.Errorf("unknown membership action %q", action)
	}
}

// FetchRoster reports the broadcaster, the moderators, and current chatters.
func (a *Adapter) FetchRoster(ctx context.Context, roomID string) ([]transport.Member, error) {
	broadcaster, bot, err := a.roomIDs(ctx, roomID)
	if err != nil {
		return nil, err
	}

	members := []transport.Member{{ID: strings.ToLower(roomID), Role: transport.RoleSuperAdmin}}
	seen := map[string]bool{strings.ToLower(roomID): true}

	mods, err := a.helix.GetModerators(ctx, broadcaster)
	if err != nil {
		return nil, err
	}
	for _, m := range mods {
		login := strings.ToLower(m.Login)
		if !seen[login] {
			seen[login] = true
			members = append(members, transport.Member{ID: login, Role: transport.RoleAdmin})
		}
	}

	chatters, err := a.helix.GetChatters(ctx, broadcaster, bot)
	if err != nil {
		// Moderator and broadcaster roles are what permission checks need;
		// missing plain chatters only widens the member default.
		slog.Debug("chatters fetch failed", slog.String("room", roomID), slog.Any("err", err))
		return members, nil
	}
	for _, c := range chatters {
		login := strings.ToLower(c.Login)
		if !seen[login] {
			seen[login] = true
			members = append(members, transport.Member{ID: login, Role: transport.RoleMember})
		}
	}
	return members, nil
}

func (a *Adapter) roomIDs(ctx context.Context, roomID string) (broadcaster, bot string, err error) {
	broadcaster, err = a.numericID(ctx, roomID)
	if err != nil {
		return "", "", err
	}
	bot, err = a.numericID(ctx, a.botLogin)
	if err != nil {
		return "", "", err
	}
	return broadcaster, bot, nil
}

func (a *Adapter) numericID(ctx context.Context, login string) (string, error) {
	login = strings.ToLower(login)
	a.mu.Lock()
	id, ok := a.ids[login]
	a.mu.Unlock()
	if ok {
		return id, nil
	}
	id, err := a.helix.GetUserID(ctx, login)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.ids[login] = id
	a.mu.Unlock()
	return id, nil
}

// RoleFromBadges maps Twitch chat badges to the transport role model: the
// broadcaster is super-admin, moderators are admin, everyone else member.
func RoleFromBadges(badges map[string]int) transport.Role {
	if badges["broadcaster"] > 0 {
		return transport.RoleSuperAdmin
	}
	if badges["moderator"] > 0 {
		return transport.RoleAdmin
	}
	return transport.RoleMember
}

// Mentions extracts "@name" tokens from message text as lowercase logins.
func Mentions(text string) []string {
	var out []string
	for _, f := range strings.Fields(text) {
		if !strings.HasPrefix(f, "@") {
			continue
		}
		name := strings.ToLower(strings.Trim(f[1:], ".,!?:;"))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

var _ transport.Transport = (*Adapter)(nil)
