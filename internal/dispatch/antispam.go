package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AntiSpam suppresses repeat notifications for the same incident fingerprint
// within a TTL window.
type AntiSpam interface {
	ShouldSend(ctx context.Context, siteID int, incidentKey string) (bool, error)
	MarkSent(ctx context.Context, siteID int, incidentKey string) error
}

// LocalAntiSpam is a process-local suppression map. Correct for the
// singleton-dispatcher deployment; use RedisAntiSpam when running more than
// one dispatcher instance.
type LocalAntiSpam struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[spamKey]time.Time
}

type spamKey struct {
	siteID      int
	incidentKey string
}

// NewLocalAntiSpam builds a local suppression map. ttl <= 0 disables
// suppression entirely.
func NewLocalAntiSpam(ttl time.Duration) *LocalAntiSpam {
	if ttl < 0 {
		ttl = 0
	}
	return &LocalAntiSpam{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[spamKey]time.Time),
	}
}

// ShouldSend reports whether the incident is outside its suppression window.
func (a *LocalAntiSpam) ShouldSend(_ context.Context, siteID int, incidentKey string) (bool, error) {
	if a.ttl == 0 {
		return true, nil
	}
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleanup(now)
	last, ok := a.entries[spamKey{siteID, incidentKey}]
	return !ok || now.Sub(last) >= a.ttl, nil
}

// MarkSent records the send time for the incident.
func (a *LocalAntiSpam) MarkSent(_ context.Context, siteID int, incidentKey string) error {
	if a.ttl == 0 {
		return nil
	}
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[spamKey{siteID, incidentKey}] = now
	a.cleanup(now)
	return nil
}

// cleanup drops stale entries. Caller holds a.mu.
func (a *LocalAntiSpam) cleanup(now time.Time) {
	for key, ts := range a.entries {
		if now.Sub(ts) >= a.ttl {
			delete(a.entries, key)
		}
	}
}

// RedisAntiSpam shares the suppression window across dispatcher instances
// using keys with a server-side TTL.
type RedisAntiSpam struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisAntiSpam builds a Redis-backed suppression window.
func NewRedisAntiSpam(client *redis.Client, ttl time.Duration) *RedisAntiSpam {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisAntiSpam{client: client, ttl: ttl}
}

func (a *RedisAntiSpam) key(siteID int, incidentKey string) string {
	return fmt.Sprintf("antispam:%d:%s", siteID, incidentKey)
}

// ShouldSend reports whether no suppression key exists for the incident.
func (a *RedisAntiSpam) ShouldSend(ctx context.Context, siteID int, incidentKey string) (bool, error) {
	if a.ttl == 0 {
		return true, nil
	}
	n, err := a.client.Exists(ctx, a.key(siteID, incidentKey)).Result()
	if err != nil {
		return false, fmt.Errorf("checking suppression key: %w", err)
	}
	return n == 0, nil
}

// MarkSent sets the suppression key with the window TTL.
func (a *RedisAntiSpam) MarkSent(ctx context.Context, siteID int, incidentKey string) error {
	if a.ttl == 0 {
		return nil
	}
	if err := a.client.Set(ctx, a.key(siteID, incidentKey), "1", a.ttl).Err(); err != nil {
		return fmt.Errorf("setting suppression key: %w", err)
	}
	return nil
}
