/*
Emlprobe - email forensics and scoring engine.
Copyright © 2023-2024 emlprobe contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package dns

import (
	"sync"
	"time"

	"github.com/miekg/dns"
)

const (
	// Upper bound on the per-entry cache lifetime no matter the answer TTL.
	maxCacheTTL = 5 * time.Minute

	// How long a NXDOMAIN answer is remembered.
	negativeTTL = 30 * time.Second
)

type cacheEntry struct {
	rrs      []dns.RR
	negative bool
	expires  time.Time
}

// cache is a minimal TTL-bound map keyed by "name/qtype". Expired entries
// are evicted lazily on lookup and on every put.
type cache struct {
	lock    sync.Mutex
	entries map[string]cacheEntry

	// Overridden in tests.
	now func() time.Time
}

func (c *cache) timeNow() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// get returns the cached answer for key. The second return value is false
// if there is no entry or it is expired. For negative entries it returns
// ok = true and a nil slice, the caller reconstructs the NXDOMAIN error.
func (c *cache) get(key string) ([]dns.RR, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.timeNow().After(ent.expires) {
		delete(c.entries, key)
		return nil, false
	}
	if ent.negative {
		return nil, false
	}
	return ent.rrs, true
}

// getNegative reports whether key has a live NXDOMAIN entry.
func (c *cache) getNegative(key string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	ent, ok := c.entries[key]
	if !ok || !ent.negative {
		return false
	}
	if c.timeNow().After(ent.expires) {
		delete(c.entries, key)
		return false
	}
	return true
}

func (c *cache) put(key string, rrs []dns.RR, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if ttl > maxCacheTTL {
		ttl = maxCacheTTL
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if c.entries == nil {
		c.entries = make(map[string]cacheEntry)
	}
	c.evictExpired()
	c.entries[key] = cacheEntry{rrs: rrs, expires: c.timeNow().Add(ttl)}
}

func (c *cache) putNegative(key string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.entries == nil {
		c.entries = make(map[string]cacheEntry)
	}
	c.evictExpired()
	c.entries[key] = cacheEntry{negative: true, expires: c.timeNow().Add(negativeTTL)}
}

// evictExpired must be called with lock held.
func (c *cache) evictExpired() {
	now := c.timeNow()
	for key, ent := range c.entries {
		if now.After(ent.expires) {
			delete(c.entries, key)
		}
	}
}
