package budget

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Pattern is the persisted feedback history for one distinct prompt.
// Prompts are stored only as a truncated SHA-256 hash for privacy.
type Pattern struct {
	PromptHash        string
	Tier              Tier
	AvgBudget         int
	UsageCount        int
	TotalQualityScore float64
	LastUsed          time.Time
	CreatedAt         time.Time
}

// PatternStore keeps feedback patterns in memory under reader/writer
// exclusion. Adjustment is a read-lock operation; feedback is a write-lock
// operation. A read racing a write may see either the old or new pattern,
// which is acceptable for an advisory heuristic.
type PatternStore struct {
	mu       sync.RWMutex
	patterns map[string]*Pattern
}

// NewPatternStore creates an empty store.
func NewPatternStore() *PatternStore {
	return &PatternStore{patterns: make(map[string]*Pattern)}
}

// HashPrompt returns the first 16 hex chars of the prompt's SHA-256.
func HashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:16]
}

// AdjustForHistory nudges a base budget using the prompt's quality history.
// avg quality > 0.8 reduces the budget by 10%; < 0.5 increases it by 10%.
// Unknown prompts return the base budget unchanged.
func (s *PatternStore) AdjustForHistory(prompt string, baseBudget int) int {
	hash := HashPrompt(prompt)

	s.mu.RLock()
	p, ok := s.patterns[hash]
	if !ok {
		s.mu.RUnlock()
		return baseBudget
	}
	avgQuality := 0.5
	if p.UsageCount > 0 {
		avgQuality = p.TotalQualityScore / float64(p.UsageCount)
	}
	usage := p.UsageCount
	s.mu.RUnlock()

	factor := 1.0
	switch {
	case avgQuality > 0.8:
		factor = 0.9
	case avgQuality < 0.5:
		factor = 1.1
	}

	adjusted := int(float64(baseBudget) * factor)

	log.Debug().
		Str("prompt_hash", hash[:8]).
		Int("usage", usage).
		Float64("avg_quality", avgQuality).
		Float64("factor", factor).
		Msg("pattern store adjustment")

	return adjusted
}

// RecordFeedback upserts the pattern for a prompt. The returned Pattern is
// a copy safe to hand to the persistence layer after the lock is released.
func (s *PatternStore) RecordFeedback(prompt string, budgetUsed int, qualityScore float64) Pattern {
	hash := HashPrompt(prompt)
	tier := Classify(prompt)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[hash]
	if !ok {
		p = &Pattern{
			PromptHash:        hash,
			Tier:              tier,
			AvgBudget:         budgetUsed,
			UsageCount:        1,
			TotalQualityScore: qualityScore,
			LastUsed:          now,
			CreatedAt:         now,
		}
		s.patterns[hash] = p
		return *p
	}

	// Running arithmetic mean over all budget_used values seen.
	p.AvgBudget = int((float64(p.AvgBudget)*float64(p.UsageCount) + float64(budgetUsed)) / float64(p.UsageCount+1))
	p.UsageCount++
	p.TotalQualityScore += qualityScore
	p.Tier = tier
	p.LastUsed = now
	return *p
}

// Get returns a copy of the pattern for a hash, if present.
func (s *PatternStore) Get(promptHash string) (Pattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.patterns[promptHash]; ok {
		return *p, true
	}
	return Pattern{}, false
}

// Load replaces the store contents with persisted patterns. Called once at
// construction; not intended for concurrent use with traffic.
func (s *PatternStore) Load(patterns []Pattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range patterns {
		p := patterns[i]
		s.patterns[p.PromptHash] = &p
	}
}

// All returns a snapshot of every pattern, for persistence.
func (s *PatternStore) All() []Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, *p)
	}
	return out
}

// Len returns the number of distinct patterns.
func (s *PatternStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}
