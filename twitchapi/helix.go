package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const helixBase = "https://api.twitch.tv/helix"

// HelixClient provides the handful of Helix calls the bot needs: identity
// resolution, roster reads, and moderation actions. Moderation endpoints need
// the bot's user token; pass that as Tokens.
type HelixClient struct {
	Tokens     TokenProvider
	ClientID   string
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// do issues one Helix request and decodes the JSON body into out (out may be
// nil for endpoints whose response the caller ignores).
func (hc *HelixClient) do(ctx context.Context, method, path string, query url.Values, body io.Reader, out any) error {
	tok, err := hc.Tokens.Token(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, helixBase+path, body)
	if err != nil {
		return err
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix %s %s: %s: %s", method, path, resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	q := url.Values{}
	q.Set("login", login)
	if err := hc.do(ctx, http.MethodGet, "/users", q, nil, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user %q not found", login)
	}
	return body.Data[0].ID, nil
}

// ChatUser is one roster entry as Helix reports it.
type ChatUser struct {
	ID    string `json:"user_id"`
	Login string `json:"user_login"`
}

// GetModerators lists the channel's moderators. Requires the broadcaster's or
// bot's user token with moderation:read.
func (hc *HelixClient) GetModerators(ctx context.Context, broadcasterID string) ([]ChatUser, error) {
	return hc.pagedUsers(ctx, "/moderation/moderators", url.Values{"broadcaster_id": {broadcasterID}})
}

// GetChatters lists users currently in chat. moderatorID is the bot's own user
// id; the token must carry moderator:read:chatters.
func (hc *HelixClient) GetChatters(ctx context.Context, broadcasterID, moderatorID string) ([]ChatUser, error) {
	return hc.pagedUsers(ctx, "/chat/chatters", url.Values{
		"broadcaster_id": {broadcasterID},
		"moderator_id":   {moderatorID},
	})
}

func (hc *HelixClient) pagedUsers(ctx context.Context, path string, q url.Values) ([]ChatUser, error) {
	var out []ChatUser
	q.Set("first", "100")
	for {
		var body struct {
			Data       []ChatUser `json:"data"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		if err := hc.do(ctx, http.MethodGet, path, q, nil, &body); err != nil {
			return nil, err
		}
		out = append(out, body.Data...)
		if body.Pagination.Cursor == "" {
			return out, nil
		}
		q.Set("after", body.Pagination.Cursor)
	}
}

// BanUser bans (durationSeconds == 0) or times out a user in the channel.
func (hc *HelixClient) BanUser(ctx context.Context, broadcasterID, moderatorID, userID string, durationSeconds int) error {
	payload := map[string]any{"user_id": userID}
	if durationSeconds > 0 {
		payload["duration"] = durationSeconds
	}
	b, err := json.Marshal(map[string]any{"data": payload})
	if err != nil {
		return err
	}
	q := url.Values{"broadcaster_id": {broadcasterID}, "moderator_id": {moderatorID}}
	return hc.do(ctx, http.MethodPost, "/moderation/bans", q, strings.NewReader(string(b)), nil)
}

// UnbanUser lifts a ban or timeout.
func (hc *HelixClient) UnbanUser(ctx context.Context, broadcasterID, moderatorID, userID string) error {
	q := url.Values{"broadcaster_id": {broadcasterID}, "moderator_id": {moderatorID}, "user_id": {userID}}
	return hc.do(ctx, http.MethodDelete, "/moderation/bans", q, nil, nil)
}

// DeleteChatMessage removes a single message by its id.
func (hc *HelixClient) DeleteChatMessage(ctx context.Context, broadcasterID, moderatorID, messageID string) error {
	q := url.Values{"broadcaster_id": {broadcasterID}, "moderator_id": {moderatorID}, "message_id": {messageID}}
	return hc.do(ctx, http.MethodDelete, "/moderation/chat", q, nil, nil)
}

// AddModerator grants a user the moderator role in the channel.
func (hc *HelixClient) AddModerator(ctx context.Context, broadcasterID, userID string) error {
	q := url.Values{"broadcaster_id": {broadcasterID}, "user_id": {userID}}
	return hc.do(ctx, http.MethodPost, "/moderation/moderators", q, nil, nil)
}

// RemoveModerator revokes a user's moderator role.
func (hc *HelixClient) RemoveModerator(ctx context.Context, broadcasterID, userID string) error {
	q := url.Values{"broadcaster_id": {broadcasterID}, "user_id": {userID}}
	return hc.do(ctx, http.MethodDelete, "/moderation/moderators", q, nil, nil)
}
