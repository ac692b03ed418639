package auth

import (
	"sync"
	"time"

	"github.com/mcpgate/mcpgate/internal/model"
)

// verifyCache is a process-local TTL cache mapping an HMAC digest to the
// API-key record it resolved to, so repeated calls with the same token skip
// the store lookup. Entries are evicted lazily on access; there is no
// background sweep. The lock covers only map access — concurrent callers that
// both miss will both hit the store and the last write wins, which is cheaper
// than holding the lock across a lookup.
type verifyCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	key       *model.APIKey
	expiresAt time.Time
}

func newVerifyCache() *verifyCache {
	return &verifyCache{entries: make(map[string]cacheEntry)}
}

// get returns the cached record for a digest, or nil. Expired entries are
// evicted and reported as absent.
func (c *verifyCache) get(digest string) *model.APIKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[digest]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, digest)
		return nil
	}
	return entry.key
}

// put stores a resolved record under its digest for ttl.
func (c *verifyCache) put(digest string, key *model.APIKey, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[digest] = cacheEntry{key: key, expiresAt: time.Now().Add(ttl)}
}
