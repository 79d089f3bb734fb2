// Package credentials holds the current access credentials, refreshes
// them before expiry, and hands each fetch a snapshot by value so there
// is never mutable sharing of the credentials themselves.
package credentials

import (
	"context"
	"sync"
	"time"
)

// Snapshot is an immutable tuple of access credentials with an expiration
// timestamp. A zero Expiration means "does not expire" -- the sentinel
// pass-through snapshot the cache returns when no provider is available.
type Snapshot struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	Expiration      time.Time
}

// expiringWithin reports whether the snapshot's expiration is less than
// margin away from now. A zero Expiration never expires.
func (s Snapshot) expiringWithin(margin time.Duration) bool {
	if s.Expiration.IsZero() {
		return false
	}
	return time.Until(s.Expiration) < margin
}

// Provider produces a fresh credential snapshot. The cache calls it at
// most once per lifetime of a cached snapshot.
type Provider interface {
	Retrieve(ctx context.Context) (Snapshot, error)
}

// Cache is the credential cache. Callers obtain the current
// snapshot via Current, which refreshes through the provider only when
// the held snapshot is missing or within margin of expiring.
type Cache struct {
	provider Provider
	margin   time.Duration

	mu      sync.Mutex
	current Snapshot
	have    bool
}

// NewCache returns a Cache that refreshes through provider when less than
// margin remains on the held snapshot. margin is used as given; the
// 5-minute default is applied by pkg/config, not here.
func NewCache(provider Provider, margin time.Duration) *Cache {
	return &Cache{provider: provider, margin: margin}
}

// Current returns a usable snapshot, refreshing through the provider
// first if needed. If the provider is unavailable and no snapshot has
// ever been cached, it returns the pass-through sentinel so callers fall
// back to whatever ambient transport mechanism exists.
func (c *Cache) Current(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.have && !c.current.expiringWithin(c.margin) {
		return c.current, nil
	}

	if c.provider == nil {
		c.current = Snapshot{}
		c.have = true
		return c.current, nil
	}

	snap, err := c.provider.Retrieve(ctx)
	if err != nil {
		if c.have {
			// Keep serving the stale snapshot rather than fail a
			// mid-transfer fetch over a transient provider hiccup; the
			// margin already gave us a head start before expiry.
			return c.current, nil
		}
		c.current = Snapshot{}
		c.have = true
		return c.current, nil
	}

	c.current = snap
	c.have = true
	return c.current, nil
}
