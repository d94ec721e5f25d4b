package fiscal

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// ClaimSet holds per-entry claims. A claim is renewed for as long as its
// holder keeps it and expires after the TTL once renewal stops, so an
// abandoned attempt never blocks an entry for good.
type ClaimSet struct {
	c   *cache.Cache
	ttl time.Duration
}

// NewClaimSet creates a ClaimSet whose unrenewed claims live for ttl.
func NewClaimSet(ttl time.Duration) *ClaimSet {
	return &ClaimSet{c: cache.New(ttl, 2*ttl), ttl: ttl}
}

// Claim takes the claim for id and keeps it alive until release is called.
// ok is false if someone else holds it.
func (s *ClaimSet) Claim(id string) (release func(), ok bool) {
	if s.c.Add(id, time.Now(), cache.DefaultExpiration) != nil {
		return nil, false
	}

	var (
		mu   sync.Mutex
		done bool
		stop = make(chan struct{})
	)
	go func() {
		ticker := time.NewTicker(s.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				mu.Lock()
				if !done {
					s.c.Set(id, time.Now(), cache.DefaultExpiration)
				}
				mu.Unlock()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			done = true
			s.c.Delete(id)
			mu.Unlock()
			close(stop)
		})
	}, true
}

// Held reports whether id is currently claimed.
func (s *ClaimSet) Held(id string) bool {
	_, ok := s.c.Get(id)
	return ok
}
