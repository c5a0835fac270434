package sessionstore

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// pairCacheSize bounds the number of hot (fromTeam,toTeam) rows kept
// in-process, mirroring the scale of messageDedupCacheSize in the
// retrieval pack's lark gateway dedup cache.
const pairCacheSize = 1024

// pairTTL is how long a cached row is trusted before a fresh store read is
// required (§4.3: "a small in-process LRU with a 60s TTL").
const pairTTL = 60 * time.Second

type cachedSession struct {
	session  Session
	cachedAt time.Time
}

// pairCache caches the last observed Session row per (fromTeam,toTeam),
// grounded on the teacher's lru.Cache[string,time.Time] + manual
// time.Since TTL check pattern (internal/delivery/channels/lark/gateway.go).
type pairCache struct {
	mu    sync.Mutex
	inner *lru.Cache[string, cachedSession]
	now   func() time.Time
}

func newPairCache() *pairCache {
	c, _ := lru.New[string, cachedSession](pairCacheSize)
	return &pairCache{inner: c, now: time.Now}
}

func pairKey(fromTeam, toTeam string) string {
	return fromTeam + "\x00" + toTeam
}

func (c *pairCache) get(fromTeam, toTeam string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pairKey(fromTeam, toTeam)
	entry, ok := c.inner.Get(key)
	if !ok {
		return Session{}, false
	}
	if c.now().Sub(entry.cachedAt) > pairTTL {
		c.inner.Remove(key)
		return Session{}, false
	}
	return entry.session, true
}

func (c *pairCache) put(sess Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(pairKey(sess.FromTeam, sess.ToTeam), cachedSession{session: sess, cachedAt: c.now()})
}

func (c *pairCache) invalidate(fromTeam, toTeam string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(pairKey(fromTeam, toTeam))
}

func (c *pairCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Purge()
}
