// Package twitchapi contains the Helix client the bot uses for roster and
// moderation calls, plus token plumbing: an app access token source built on
// the client credentials grant and a refresh helper for the bot's user token.
package twitchapi

import (
	"context"

	"golang.org/x/oauth2/clientcredentials"
)

// TokenProvider yields a bearer token for Helix requests. The app token
// source below implements it; so does the user-token source kept fresh by the
// oauth refresher.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// AppTokenSource caches a Twitch app access (client credentials) token.
// NOTE: app tokens cannot be used for IRC chat or moderation endpoints; those
// require the bot's user token with the matching scopes.
type AppTokenSource struct {
	cfg clientcredentials.Config
}

// NewAppTokenSource builds a source for the given application credentials.
func NewAppTokenSource(clientID, clientSecret string) *AppTokenSource {
	return &AppTokenSource{cfg: clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     "https://id.twitch.tv/oauth2/token",
	}}
}

// Token returns a valid (fresh or cached) app access token.
func (s *AppTokenSource) Token(ctx context.Context) (string, error) {
	tok, err := s.cfg.TokenSource(ctx).Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// StaticToken adapts a fixed token string to TokenProvider, used for the
// bot's user OAuth token loaded from config.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

var _ TokenProvider = (*AppTokenSource)(nil)
