// Package monitoring - cachemonitor.go tracks signature cache performance
// in real-time.
//
// DESIGN: CacheMonitor accumulates traffic as lookups flow through the
// caches. Reports are computed from pre-accumulated state, so the stats
// endpoints return instantly.
//
// Tracked metrics:
//   - Hit/miss counts and hit rate
//   - Lookup and write latency percentiles (bounded samples)
//   - Per-signature reuse, with high-value signatures called out
//   - USD savings attributed per account, with hourly and daily windows
//   - Latency degradation against the first stable baseline
package monitoring

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/thinking-gateway/internal/config"
)

// SignatureStats tracks reuse of a single signature.
type SignatureStats struct {
	Signature   string    `json:"signature"`
	ReuseCount  int64     `json:"reuse_count"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	AvgLookupMs float64   `json:"avg_lookup_ms"`
	CostSaved   float64   `json:"cost_saved_usd"`

	lookups []float64
}

// HighValue reports whether the signature has been reused enough to be
// worth persisting across restarts.
func (s *SignatureStats) HighValue() bool {
	return s.ReuseCount >= config.HighValueReuseCount
}

// CacheReport is the computed cache performance summary.
type CacheReport struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Writes  int64   `json:"writes"`
	HitRate float64 `json:"hit_rate"`

	LookupP50Ms float64 `json:"lookup_p50_ms"`
	LookupP95Ms float64 `json:"lookup_p95_ms"`
	LookupP99Ms float64 `json:"lookup_p99_ms"`
	WriteP50Ms  float64 `json:"write_p50_ms"`
	WriteP95Ms  float64 `json:"write_p95_ms"`
	WriteP99Ms  float64 `json:"write_p99_ms"`

	Degraded     bool    `json:"degraded"`
	BaselineP95  float64 `json:"baseline_p95_ms"`
	TrackedSigs  int     `json:"tracked_signatures"`
	HighValue    int     `json:"high_value_signatures"`
	MemoryBytes  int64   `json:"estimated_memory_bytes"`
	TotalSavings float64 `json:"total_savings_usd"`

	SavingsByAccount map[string]float64 `json:"savings_by_account,omitempty"`
	HourlySavings    float64            `json:"hourly_savings_usd"`
	DailySavings     float64            `json:"daily_savings_usd"`
}

// CacheMonitor accumulates signature cache traffic in memory.
type CacheMonitor struct {
	mu sync.RWMutex

	hits   int64
	misses int64
	writes int64

	// Latency samples, bounded. Oldest samples are dropped first.
	lookupLatencies []float64
	writeLatencies  []float64

	// Per-signature tracking
	signatures map[string]*SignatureStats

	// Degradation baseline: first non-zero lookup p95 observed.
	baselineP95 float64

	// Savings accounting
	savingsByAccount map[string]float64
	hourlyBuckets    map[int64]float64 // unix hour -> USD
	dailyBuckets     map[int64]float64 // unix day -> USD
}

// NewCacheMonitor creates an empty monitor.
func NewCacheMonitor() *CacheMonitor {
	return &CacheMonitor{
		signatures:       make(map[string]*SignatureStats),
		savingsByAccount: make(map[string]float64),
		hourlyBuckets:    make(map[int64]float64),
		dailyBuckets:     make(map[int64]float64),
	}
}

// Restore seeds the global counters from persisted state. Call once, at
// construction, before any traffic is recorded.
func (m *CacheMonitor) Restore(hits, misses int64, savings float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits = hits
	m.misses = misses
	if savings > 0 {
		m.savingsByAccount["restored"] = savings
	}
}

// RecordHit records a cache hit: latency sample, per-signature reuse, and
// the savings the hit earned for the account.
func (m *CacheMonitor) RecordHit(signature string, lookupMs float64, account string) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.hits++
	m.lookupLatencies = appendBounded(m.lookupLatencies, lookupMs, config.LatencySampleCap)

	stats := m.signatures[signature]
	if stats == nil {
		stats = &SignatureStats{Signature: signature, FirstSeen: now}
		m.signatures[signature] = stats
	}
	stats.ReuseCount++
	stats.LastSeen = now
	stats.CostSaved += config.EstimatedCostPerHit
	stats.lookups = appendBounded(stats.lookups, lookupMs, config.SignatureLatencyCap)
	stats.AvgLookupMs = mean(stats.lookups)

	if account == "" {
		account = "default"
	}
	m.savingsByAccount[account] += config.EstimatedCostPerHit
	m.rollSavingsLocked(now, config.EstimatedCostPerHit)
}

// RecordMiss records a cache miss.
func (m *CacheMonitor) RecordMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

// RecordWrite records a cache write and its latency.
func (m *CacheMonitor) RecordWrite(signature string, writeMs float64) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	m.writeLatencies = appendBounded(m.writeLatencies, writeMs, config.LatencySampleCap)

	if stats := m.signatures[signature]; stats == nil {
		m.signatures[signature] = &SignatureStats{Signature: signature, FirstSeen: now, LastSeen: now}
	} else {
		stats.LastSeen = now
	}
}

// rollSavingsLocked credits the current hour and day buckets and prunes
// buckets outside the 24h and 7d windows. Caller holds the write lock.
func (m *CacheMonitor) rollSavingsLocked(now time.Time, usd float64) {
	hour := now.Unix() / 3600
	day := now.Unix() / 86400
	m.hourlyBuckets[hour] += usd
	m.dailyBuckets[day] += usd

	for h := range m.hourlyBuckets {
		if hour-h >= 24 {
			delete(m.hourlyBuckets, h)
		}
	}
	for d := range m.dailyBuckets {
		if day-d >= 7 {
			delete(m.dailyBuckets, d)
		}
	}
}

// GetReport computes the current cache performance summary.
func (m *CacheMonitor) GetReport() CacheReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.computeReportLocked()
}

// computeReportLocked builds a CacheReport. Must be called under lock.
func (m *CacheMonitor) computeReportLocked() CacheReport {
	r := CacheReport{
		Hits:        m.hits,
		Misses:      m.misses,
		Writes:      m.writes,
		BaselineP95: m.baselineP95,
		TrackedSigs: len(m.signatures),
		MemoryBytes: int64(len(m.signatures)) * 500,
	}
	if total := m.hits + m.misses; total > 0 {
		r.HitRate = float64(m.hits) / float64(total)
	}

	r.LookupP50Ms = percentile(m.lookupLatencies, 0.50)
	r.LookupP95Ms = percentile(m.lookupLatencies, 0.95)
	r.LookupP99Ms = percentile(m.lookupLatencies, 0.99)
	r.WriteP50Ms = percentile(m.writeLatencies, 0.50)
	r.WriteP95Ms = percentile(m.writeLatencies, 0.95)
	r.WriteP99Ms = percentile(m.writeLatencies, 0.99)

	if r.BaselineP95 > 0 && r.LookupP95Ms > r.BaselineP95*config.DegradationFactor {
		r.Degraded = true
	}

	for _, s := range m.signatures {
		if s.HighValue() {
			r.HighValue++
		}
	}

	r.SavingsByAccount = make(map[string]float64, len(m.savingsByAccount))
	for acct, usd := range m.savingsByAccount {
		r.SavingsByAccount[acct] = usd
		r.TotalSavings += usd
	}
	for _, usd := range m.hourlyBuckets {
		r.HourlySavings += usd
	}
	for _, usd := range m.dailyBuckets {
		r.DailySavings += usd
	}

	return r
}

// CheckDegradation samples the current lookup p95, sets the baseline the
// first time the p95 is non-zero, and reports whether latency has drifted
// past the alert threshold. Intended for a periodic ticker.
func (m *CacheMonitor) CheckDegradation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p95 := percentile(m.lookupLatencies, 0.95)
	if m.baselineP95 == 0 {
		if p95 > 0 {
			m.baselineP95 = p95
		}
		return false
	}
	if p95 > m.baselineP95*config.DegradationFactor {
		log.Warn().
			Float64("p95_ms", p95).
			Float64("baseline_ms", m.baselineP95).
			Msg("cache lookup latency degraded")
		return true
	}
	return false
}

// TopSignatures returns the n most reused signatures, most reused first.
func (m *CacheMonitor) TopSignatures(n int) []SignatureStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]SignatureStats, 0, len(m.signatures))
	for _, s := range m.signatures {
		cp := *s
		cp.lookups = nil
		all = append(all, cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ReuseCount > all[j].ReuseCount })
	if n > 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

// CostSavings returns total, hourly-window, and daily-window savings in USD.
func (m *CacheMonitor) CostSavings() (total, hourly, daily float64) {
	r := m.GetReport()
	return r.TotalSavings, r.HourlySavings, r.DailySavings
}

// HighValueSignatures returns the signatures worth persisting.
func (m *CacheMonitor) HighValueSignatures() []SignatureStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []SignatureStats
	for _, s := range m.signatures {
		if s.HighValue() {
			cp := *s
			cp.lookups = nil
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReuseCount > out[j].ReuseCount })
	return out
}

// Clear resets the monitor to empty. The degradation baseline is kept so
// an operator reset does not hide a latency regression.
func (m *CacheMonitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hits = 0
	m.misses = 0
	m.writes = 0
	m.lookupLatencies = nil
	m.writeLatencies = nil
	m.signatures = make(map[string]*SignatureStats)
	m.savingsByAccount = make(map[string]float64)
	m.hourlyBuckets = make(map[int64]float64)
	m.dailyBuckets = make(map[int64]float64)
}

// appendBounded appends a sample, dropping the oldest when the buffer is
// at capacity.
func appendBounded(buf []float64, v float64, limit int) []float64 {
	if len(buf) >= limit {
		buf = buf[1:]
	}
	return append(buf, v)
}

// percentile returns the p-th percentile of samples by sorting a copy.
// Returns 0 for an empty set.
func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}
