package transport

import (
	"context"
	"time"
)

// WithTimeout wraps a Transport so every outbound call carries a per-call
// deadline. A timeout surfaces as an ordinary error from the call, which the
// pipeline treats like any other transport failure. A non-positive duration
// returns the transport unchanged.
func WithTimeout(t Transport, d time.Duration) Transport {
	if d <= 0 {
		return t
	}
	return &timedTransport{inner: t, d: d}
}

type timedTransport struct {
	inner Transport
	d     time.Duration
}

func (t *timedTransport) SendMessage(ctx context.Context, roomID, text string, mentions []string) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.SendMessage(ctx, roomID, text, mentions)
}

func (t *timedTransport) DeleteMessage(ctx context.Context, roomID, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.DeleteMessage(ctx, roomID, ref)
}

func (t *timedTransport) MutateMembership(ctx context.Context, roomID, targetID string, action MembershipAction) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.MutateMembership(ctx, roomID, targetID, action)
}

func (t *timedTransport) FetchRoster(ctx context.Context, roomID string) ([]Member, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.FetchRoster(ctx, roomID)
}
