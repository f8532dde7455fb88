package twitchirc

import (
	"testing"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chat-warden/transport"
)

func TestConvertCarriesBadgeRole(t *testing.T) {
	a := New("wardenbot", "oauth:x", []string{"somechannel"}, nil)
	msg := a.convert(twitch.PrivateMessage{
		Channel: "SomeChannel",
		Message: ".warn @troll",
		ID:      "msg-1",
		User: twitch.User{
			Name:        "ModUser",
			DisplayName: "ModUser",
			Badges:      map[string]int{"moderator": 1},
		},
	})
	if msg.SenderRole != transport.RoleAdmin {
		t.Errorf("SenderRole = %v, want admin from the moderator badge", msg.SenderRole)
	}
	if msg.RoomID != "somechannel" || msg.SenderID != "moduser" {
		t.Errorf("ids = %q/%q, want lowercase logins", msg.RoomID, msg.SenderID)
	}
	if len(msg.Mentions) != 1 || msg.Mentions[0] != "troll" {
		t.Errorf("mentions = %v, want [troll]", msg.Mentions)
	}
}

func TestRoleFromBadges(t *testing.T) {
	tests := []struct {
		name   string
		badges map[string]int
		want   transport.Role
	}{
		{"broadcaster", map[string]int{"broadcaster": 1}, transport.RoleSuperAdmin},
		{"moderator", map[string]int{"moderator": 1}, transport.RoleAdmin},
		{"broadcaster outranks moderator", map[string]int{"broadcaster": 1, "moderator": 1}, transport.RoleSuperAdmin},
		{"subscriber is a plain member", map[string]int{"subscriber": 12}, transport.RoleMember},
		{"no badges", nil, transport.RoleMember},
		{"zero-valued badge ignored", map[string]int{"moderator": 0}, transport.RoleMember},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoleFromBadges(tt.badges); got != tt.want {
				t.Errorf("RoleFromBadges(%v) = %v, want %v", tt.badges, got, tt.want)
			}
		})
	}
}

func TestMentions(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"hello there", nil},
		{".ban @SomeUser 1h", []string{"someuser"}},
		{"@a @B, and @c!", []string{"a", "b", "c"}},
		{"email@example.com is not a mention", nil},
		{"@ alone is nothing", nil},
	}
	for _, tt := range tests {
		got := Mentions(tt.text)
		if len(got) != len(tt.want) {
			t.Errorf("Mentions(%q) = %v, want %v", tt.text, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Mentions(%q)[%d] = %q, want %q", tt.text, i, got[i], tt.want[i])
			}
		}
	}
}
