package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ResultCache memoizes normalized decision results by profile, claim context
// and document text. The orchestrator consults it inside its telemetry
// bracket, so every call still gets its own trace and timing. A nil
// *ResultCache caches nothing.
type ResultCache struct {
	cache *gocache.Cache
}

func NewResultCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ResultCache{cache: gocache.New(ttl, 2*ttl)}
}

func (c *ResultCache) get(key string) (Result, bool) {
	if c == nil {
		return Result{}, false
	}
	v, ok := c.cache.Get(key)
	if !ok {
		return Result{}, false
	}
	return v.(Result).Clone(), true
}

// put stores decisions only so a transient outage is retried next time.
func (c *ResultCache) put(key string, res Result) {
	if c == nil || !res.Status.IsDecision() {
		return
	}
	c.cache.SetDefault(key, res.Clone())
}

func (c *ResultCache) Flush() {
	if c != nil {
		c.cache.Flush()
	}
}

func (c *ResultCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.ItemCount()
}

func cacheKey(req Request) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0x1f})
	}
	write(canonicalClaimType(req.ClaimType))
	write(req.ProfileName)
	keys := make([]string, 0, len(req.ClaimContext))
	for k := range req.ClaimContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		write(k)
		write(req.ClaimContext[k])
	}
	write(req.DocumentText)
	return hex.EncodeToString(h.Sum(nil))
}
