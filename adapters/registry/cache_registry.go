// Package registry holds in-flight login attempts. The TTL is a safety
// bound only: attempts are normally removed by whichever request collects
// the terminal result, the expiry just reclaims abandoned ones.
package registry

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/askmygarmin/backend/core"
)

// CacheRegistry is an in-memory attempt registry on a TTL cache.
type CacheRegistry struct {
	c *gocache.Cache
}

// New returns a registry whose entries expire after ttl.
func New(ttl time.Duration) *CacheRegistry {
	return &CacheRegistry{c: gocache.New(ttl, 2*ttl)}
}

func (r *CacheRegistry) Put(id string, attempt *core.LoginAttempt) {
	r.c.Set(id, attempt, gocache.DefaultExpiration)
}

func (r *CacheRegistry) Get(id string) (*core.LoginAttempt, bool) {
	v, ok := r.c.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*core.LoginAttempt), true
}

func (r *CacheRegistry) Remove(id string) {
	r.c.Delete(id)
}
