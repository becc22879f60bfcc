// Package signature keeps thought signatures alive across turns.
//
// DESIGN:
// Three caches with different shapes share this package. Two are plain
// TTL tables: one recovers signatures for tool-use continuations (tool
// call ID -> signature), one guards against replaying a signature into a
// different model family (signature -> minting family).
// The third, in lru.go, is the bounded conversation-continuity cache.
// Stale table entries are swept opportunistically once a table grows past
// the compaction threshold, so reads stay cheap.
package signature

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/thinking-gateway/internal/config"
)

// Observer receives cache traffic for latency and savings accounting.
// All methods must be safe for concurrent use and must not block.
type Observer interface {
	RecordHit(signature string, lookupMs float64, account string)
	RecordMiss()
	RecordWrite(signature string, writeMs float64)
}

type entry struct {
	value     string
	timestamp time.Time
}

func (e entry) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.timestamp) > ttl
}

// TableCache holds the tool-recovery and family-guard signature tables.
type TableCache struct {
	mu           sync.RWMutex
	toolRecovery map[string]entry
	familyGuard  map[string]entry

	ttl      time.Duration
	observer Observer
	account  string
}

// NewTableCache builds the two TTL tables. A nil observer disables
// traffic accounting.
func NewTableCache(observer Observer, account string) *TableCache {
	return &TableCache{
		toolRecovery: make(map[string]entry),
		familyGuard:  make(map[string]entry),
		ttl:          config.SignatureTTL,
		observer:     observer,
		account:      account,
	}
}

// StoreToolSignature records a signature for a pending tool continuation,
// keyed by the tool call ID. Signatures below the minimum length are
// dropped; truncated values are worse than a miss.
func (c *TableCache) StoreToolSignature(toolID, sig string) {
	c.store(toolID, sig, sig, func() map[string]entry { return c.toolRecovery })
}

// LookupToolSignature returns the signature stored for a tool call ID, if
// any non-expired entry exists.
func (c *TableCache) LookupToolSignature(toolID string) (string, bool) {
	return c.lookup(toolID, func() map[string]entry { return c.toolRecovery },
		func(_, value string) string { return value })
}

// StoreSignatureFamily records which model family minted a signature. The
// signature itself is the key; replaying it into another family is a
// protocol violation the guard exists to catch.
func (c *TableCache) StoreSignatureFamily(sig, family string) {
	c.store(sig, family, sig, func() map[string]entry { return c.familyGuard })
}

// LookupSignatureFamily returns the family that minted sig, if known and
// not expired.
func (c *TableCache) LookupSignatureFamily(sig string) (string, bool) {
	return c.lookup(sig, func() map[string]entry { return c.familyGuard },
		func(key, _ string) string { return key })
}

// store inserts key -> value; sig is the signature involved, used for the
// length filter and the observer.
func (c *TableCache) store(key, value, sig string, table func() map[string]entry) {
	if len(sig) < config.MinSignatureLength {
		log.Debug().Int("length", len(sig)).Msg("signature below minimum length, not cached")
		return
	}

	start := time.Now()
	c.mu.Lock()
	t := table()
	t[key] = entry{value: value, timestamp: start}
	if len(t) > config.CompactionThreshold {
		c.sweepLocked(t, start)
	}
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.RecordWrite(sig, float64(time.Since(start).Microseconds())/1000.0)
	}
}

// lookup reads key from a table; sigOf extracts the signature from a hit
// for the observer (the key in the family table, the value in the tool
// table).
func (c *TableCache) lookup(key string, table func() map[string]entry, sigOf func(key, value string) string) (string, bool) {
	start := time.Now()

	c.mu.RLock()
	e, ok := table()[key]
	c.mu.RUnlock()

	if ok && !e.expired(c.ttl, time.Now()) {
		if c.observer != nil {
			c.observer.RecordHit(sigOf(key, e.value), float64(time.Since(start).Microseconds())/1000.0, c.account)
		}
		return e.value, true
	}
	if c.observer != nil {
		c.observer.RecordMiss()
	}
	return "", false
}

// sweepLocked drops expired entries. Caller holds the write lock.
func (c *TableCache) sweepLocked(t map[string]entry, now time.Time) {
	before := len(t)
	for k, e := range t {
		if e.expired(c.ttl, now) {
			delete(t, k)
		}
	}
	if removed := before - len(t); removed > 0 {
		log.Debug().Int("removed", removed).Msg("swept expired signatures")
	}
}

// Sizes returns the live entry counts of both tables.
func (c *TableCache) Sizes() (toolRecovery, familyGuard int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.toolRecovery), len(c.familyGuard)
}

// Clear empties both tables.
func (c *TableCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolRecovery = make(map[string]entry)
	c.familyGuard = make(map[string]entry)
}
