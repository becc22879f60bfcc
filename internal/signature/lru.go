package signature

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog/log"

	"github.com/compresr/thinking-gateway/internal/config"
)

// CachedSignature is one conversation-continuity entry.
type CachedSignature struct {
	Signature      string    `json:"signature"`
	CreatedAt      time.Time `json:"created_at"`
	ConversationID string    `json:"conversation_id"`
	ModelID        string    `json:"model_id"`
	RequestCount   int64     `json:"request_count"`
}

// ContinuityMetrics is a snapshot of continuity cache traffic.
type ContinuityMetrics struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Corruptions int64   `json:"corruptions"`
	Size        int     `json:"size"`
	HitRate     float64 `json:"hit_rate"`
	CorruptRate float64 `json:"corruption_rate"`
}

// ContinuityCache is a bounded LRU keyed by conversation and model. Every
// read revalidates the entry; anything that fails validation is purged
// and surfaces as a miss, so a poisoned entry can never be served twice.
type ContinuityCache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *CachedSignature]
	ttl time.Duration
	cap int

	hits        int64
	misses      int64
	evictions   int64
	corruptions int64
}

// NewContinuityCache builds a continuity cache. Non-positive arguments
// fall back to the defaults.
func NewContinuityCache(capacity int, ttl time.Duration) *ContinuityCache {
	if capacity <= 0 {
		capacity = config.DefaultContinuityCapacity
	}
	if ttl <= 0 {
		ttl = time.Duration(config.DefaultContinuityTTLDays) * 24 * time.Hour
	}
	lru, _ := simplelru.NewLRU[string, *CachedSignature](capacity, nil)
	return &ContinuityCache{lru: lru, ttl: ttl, cap: capacity}
}

func continuityKey(conversationID, modelID string) string {
	return fmt.Sprintf("%s:%s", conversationID, modelID)
}

// Put stores or refreshes the signature for a conversation and model.
// Storing an existing key resets its age and reuse count.
func (c *ContinuityCache) Put(conversationID, modelID, sig string) {
	key := continuityKey(conversationID, modelID)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Adding a new key at capacity evicts the oldest entry. Refreshing an
	// existing key never does, so the eviction counter must not move then.
	if c.lru.Len() >= c.cap && !c.lru.Contains(key) {
		c.evictions++
	}
	c.lru.Add(key, &CachedSignature{
		Signature:      sig,
		CreatedAt:      time.Now(),
		ConversationID: conversationID,
		ModelID:        modelID,
	})
}

// Get returns the cached signature for a conversation and model. A hit
// increments the entry's reuse count. Entries that fail validation are
// removed and counted as both a miss and a corruption.
func (c *ContinuityCache) Get(conversationID, modelID string) (string, bool) {
	key := continuityKey(conversationID, modelID)

	c.mu.Lock()
	defer c.mu.Unlock()

	cs, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return "", false
	}

	if reason := c.validate(cs, conversationID, modelID); reason != "" {
		c.lru.Remove(key)
		c.misses++
		c.corruptions++
		log.Warn().
			Str("conversation_id", conversationID).
			Str("model_id", modelID).
			Str("reason", reason).
			Msg("purged invalid cached signature")
		return "", false
	}

	cs.RequestCount++
	c.hits++
	return cs.Signature, true
}

// validate returns an empty string for a healthy entry, or the failure
// reason. Expired entries take the same purge path as corrupted ones.
func (c *ContinuityCache) validate(cs *CachedSignature, conversationID, modelID string) string {
	if !ValidFormat(cs.Signature) {
		return "malformed signature"
	}
	if time.Since(cs.CreatedAt) > c.ttl {
		return "expired"
	}
	if cs.ConversationID != conversationID {
		return "conversation mismatch"
	}
	if cs.ModelID != modelID {
		return "model mismatch"
	}
	return ""
}

// ValidFormat reports whether a signature looks like a real upstream
// signature: 20 to 200 characters from the base64-ish alphabet.
func ValidFormat(sig string) bool {
	if len(sig) < 20 || len(sig) > 200 {
		return false
	}
	for _, r := range sig {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '/' || r == '=' || r == '-' || r == '_' || r == '+':
		default:
			return false
		}
	}
	return true
}

// CleanupExpired removes every entry past its TTL and returns how many
// were dropped. Safe to call repeatedly.
func (c *ContinuityCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []string
	for _, key := range c.lru.Keys() {
		if cs, ok := c.lru.Peek(key); ok && time.Since(cs.CreatedAt) > c.ttl {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		c.lru.Remove(key)
	}
	return len(stale)
}

// Clear empties the cache. Traffic counters are kept.
func (c *ContinuityCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Metrics returns a snapshot of continuity cache counters.
func (c *ContinuityCache) Metrics() ContinuityMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := ContinuityMetrics{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Corruptions: c.corruptions,
		Size:        c.lru.Len(),
	}
	if total := m.Hits + m.Misses; total > 0 {
		m.HitRate = float64(m.Hits) / float64(total)
		m.CorruptRate = float64(m.Corruptions) / float64(total)
	}
	return m
}
