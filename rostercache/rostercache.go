// Package rostercache memoizes transport roster fetches for a short TTL. The
// roster is an eventually-consistent convenience: the transport stays
// authoritative for admin rights, the cache only keeps the per-message
// refresh from hammering the platform API. A Redis backend shares the cache
// across instances; without Redis an in-process map is used.
package rostercache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/chat-warden/transport"
)

// Cache fronts Transport.FetchRoster.
type Cache struct {
	tx  transport.Transport
	ttl time.Duration
	rdb *redis.Client

	mu    sync.Mutex
	local map[string]localEntry
}

type localEntry struct {
	members []transport.Member
	expires time.Time
}

// New builds a cache. rdb may be nil; the cache then falls back to an
// in-process map.
func New(tx transport.Transport, rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{tx: tx, ttl: ttl, rdb: rdb, local: make(map[string]localEntry)}
}

func key(roomID string) string { return "roster:" + roomID }

// Roster returns the room's member list, serving from cache when fresh. Cache
// backend failures degrade to a direct fetch; a fetch failure with no cached
// copy propagates so the caller can decide how much it cares.
func (c *Cache) Roster(ctx context.Context, roomID string) ([]transport.Member, error) {
	if members, ok := c.lookup(ctx, roomID); ok {
		return members, nil
	}
	members, err := c.tx.FetchRoster(ctx, roomID)
	if err != nil {
		return nil, err
	}
	c.put(ctx, roomID, members)
	return members, nil
}

func (c *Cache) lookup(ctx context.Context, roomID string) ([]transport.Member, bool) {
	if c.rdb != nil {
		b, err := c.rdb.Get(ctx, key(roomID)).Bytes()
		if err == nil {
			var members []transport.Member
			if err := json.Unmarshal(b, &members); err == nil {
				return members, true
			}
		} else if err != redis.Nil {
			slog.Debug("roster cache read failed", slog.String("room", roomID), slog.Any("err", err))
		}
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.local[roomID]
	if !ok || time.Now().After(e.expires) {
		delete(c.local, roomID)
		return nil, false
	}
	return e.members, true
}

func (c *Cache) put(ctx context.Context, roomID string, members []transport.Member) {
	if c.rdb != nil {
		b, err := json.Marshal(members)
		if err == nil {
			if err := c.rdb.Set(ctx, key(roomID), b, c.ttl).Err(); err != nil {
				slog.Debug("roster cache write failed", slog.String("room", roomID), slog.Any("err", err))
			}
		}
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[roomID] = localEntry{members: members, expires: time.Now().Add(c.ttl)}
}

// WrapTransport returns a Transport that drops a room's cached roster after
// every successful membership mutation, so a removal or promotion is visible
// on the next message instead of after a full TTL.
func (c *Cache) WrapTransport(tx transport.Transport) transport.Transport {
	return &invalidatingTransport{Transport: tx, cache: c}
}

type invalidatingTransport struct {
	transport.Transport
	cache *Cache
}

func (t *invalidatingTransport) MutateMembership(ctx context.Context, roomID, targetID string, action transport.MembershipAction) error {
	if err := t.Transport.MutateMembership(ctx, roomID, targetID, action); err != nil {
		return err
	}
	t.cache.Invalidate(ctx, roomID)
	return nil
}

// Invalidate drops the cached roster, used after membership mutations.
func (c *Cache) Invalidate(ctx context.Context, roomID string) {
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, key(roomID)).Err(); err != nil {
			slog.Debug("roster cache invalidate failed", slog.String("room", roomID), slog.Any("err", err))
		}
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.local, roomID)
}
