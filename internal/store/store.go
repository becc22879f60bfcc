// Package store persists budget patterns, cache metrics, signature reuse
// stats, escalation history, and violation counters in a local SQLite
// database.
//
// DESIGN:
// One connection, WAL journaling. The request path never touches this
// package directly; writes arrive through the AsyncWriter in async.go so
// a slow disk cannot stall a proxy request. Reads happen at startup
// (restore) and from the stats endpoints.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/compresr/thinking-gateway/internal/budget"
	"github.com/compresr/thinking-gateway/internal/detector"
	"github.com/compresr/thinking-gateway/internal/monitoring"
)

const schema = `
CREATE TABLE IF NOT EXISTS budget_patterns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	prompt_hash TEXT NOT NULL UNIQUE,
	complexity_level TEXT NOT NULL,
	avg_budget INTEGER NOT NULL,
	usage_count INTEGER NOT NULL DEFAULT 1,
	total_quality_score REAL NOT NULL DEFAULT 0,
	last_used INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_budget_patterns_hash ON budget_patterns(prompt_hash);

CREATE TABLE IF NOT EXISTS cache_metrics (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	hits INTEGER NOT NULL DEFAULT 0,
	misses INTEGER NOT NULL DEFAULT 0,
	hit_rate REAL NOT NULL DEFAULT 0,
	total_savings_usd REAL NOT NULL DEFAULT 0,
	lookup_p50_ms REAL NOT NULL DEFAULT 0,
	lookup_p95_ms REAL NOT NULL DEFAULT 0,
	lookup_p99_ms REAL NOT NULL DEFAULT 0,
	degraded INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS signature_stats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	signature TEXT NOT NULL UNIQUE,
	reuse_count INTEGER NOT NULL DEFAULT 0,
	first_seen INTEGER NOT NULL,
	last_seen INTEGER NOT NULL,
	avg_lookup_ms REAL NOT NULL DEFAULT 0,
	cost_saved REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS budget_escalations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	original_budget INTEGER NOT NULL,
	escalated_budget INTEGER NOT NULL,
	model_switch INTEGER NOT NULL DEFAULT 0,
	timestamp INTEGER NOT NULL,
	success INTEGER NOT NULL DEFAULT 0,
	finish_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_escalations_request ON budget_escalations(request_id);

CREATE TABLE IF NOT EXISTS violation_stats (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	position_violations INTEGER NOT NULL DEFAULT 0,
	budget_violations INTEGER NOT NULL DEFAULT 0,
	position_overflow INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);
`

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer. SQLite serializes writes anyway; one connection
	// avoids SQLITE_BUSY under concurrent enqueue bursts.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePattern upserts one budget pattern keyed by prompt hash.
func (s *Store) SavePattern(p budget.Pattern) error {
	_, err := s.db.Exec(`
		INSERT INTO budget_patterns
			(prompt_hash, complexity_level, avg_budget, usage_count, total_quality_score, last_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(prompt_hash) DO UPDATE SET
			complexity_level = excluded.complexity_level,
			avg_budget = excluded.avg_budget,
			usage_count = excluded.usage_count,
			total_quality_score = excluded.total_quality_score,
			last_used = excluded.last_used`,
		p.PromptHash, p.Tier.String(), p.AvgBudget, p.UsageCount,
		p.TotalQualityScore, p.LastUsed.Unix(), p.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save pattern: %w", err)
	}
	return nil
}

// LoadPatterns returns every persisted budget pattern.
func (s *Store) LoadPatterns() ([]budget.Pattern, error) {
	rows, err := s.db.Query(`
		SELECT prompt_hash, complexity_level, avg_budget, usage_count, total_quality_score, last_used, created_at
		FROM budget_patterns`)
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	defer rows.Close()

	var out []budget.Pattern
	for rows.Next() {
		var p budget.Pattern
		var tier string
		var lastUsed, createdAt int64
		if err := rows.Scan(&p.PromptHash, &tier, &p.AvgBudget, &p.UsageCount,
			&p.TotalQualityScore, &lastUsed, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.Tier = budget.TierFromString(tier)
		p.LastUsed = time.Unix(lastUsed, 0)
		p.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveCacheReport writes the single cache metrics row.
func (s *Store) SaveCacheReport(r monitoring.CacheReport) error {
	degraded := 0
	if r.Degraded {
		degraded = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO cache_metrics
			(id, hits, misses, hit_rate, total_savings_usd, lookup_p50_ms, lookup_p95_ms, lookup_p99_ms, degraded, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hits = excluded.hits,
			misses = excluded.misses,
			hit_rate = excluded.hit_rate,
			total_savings_usd = excluded.total_savings_usd,
			lookup_p50_ms = excluded.lookup_p50_ms,
			lookup_p95_ms = excluded.lookup_p95_ms,
			lookup_p99_ms = excluded.lookup_p99_ms,
			degraded = excluded.degraded,
			updated_at = excluded.updated_at`,
		r.Hits, r.Misses, r.HitRate, r.TotalSavings,
		r.LookupP50Ms, r.LookupP95Ms, r.LookupP99Ms, degraded, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save cache metrics: %w", err)
	}
	return nil
}

// LoadCacheReport reads the persisted cache metrics row. Returns zero
// values and no error when nothing has been saved yet.
func (s *Store) LoadCacheReport() (hits, misses int64, savings float64, err error) {
	row := s.db.QueryRow(`SELECT hits, misses, total_savings_usd FROM cache_metrics WHERE id = 1`)
	if err := row.Scan(&hits, &misses, &savings); err != nil {
		if err == sql.ErrNoRows {
			return 0, 0, 0, nil
		}
		return 0, 0, 0, fmt.Errorf("load cache metrics: %w", err)
	}
	return hits, misses, savings, nil
}

// SaveSignatureStats upserts reuse stats for the given signatures.
func (s *Store) SaveSignatureStats(stats []monitoring.SignatureStats) error {
	for _, st := range stats {
		_, err := s.db.Exec(`
			INSERT INTO signature_stats (signature, reuse_count, first_seen, last_seen, avg_lookup_ms, cost_saved)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(signature) DO UPDATE SET
				reuse_count = excluded.reuse_count,
				last_seen = excluded.last_seen,
				avg_lookup_ms = excluded.avg_lookup_ms,
				cost_saved = excluded.cost_saved`,
			st.Signature, st.ReuseCount, st.FirstSeen.Unix(), st.LastSeen.Unix(), st.AvgLookupMs, st.CostSaved)
		if err != nil {
			return fmt.Errorf("save signature stats: %w", err)
		}
	}
	return nil
}

// SaveEscalation appends one escalation record.
func (s *Store) SaveEscalation(rec detector.EscalationRecord) error {
	modelSwitch, success := 0, 0
	if rec.ModelSwitch {
		modelSwitch = 1
	}
	if rec.Success {
		success = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO budget_escalations
			(request_id, original_budget, escalated_budget, model_switch, timestamp, success, finish_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.OriginalBudget, rec.EscalatedBudget,
		modelSwitch, rec.Timestamp.Unix(), success, rec.FinishReason)
	if err != nil {
		return fmt.Errorf("save escalation: %w", err)
	}
	return nil
}

// LoadEscalations returns the most recent escalation records, newest first.
func (s *Store) LoadEscalations(limit int) ([]detector.EscalationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT request_id, original_budget, escalated_budget, model_switch, timestamp, success, finish_reason
		FROM budget_escalations ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load escalations: %w", err)
	}
	defer rows.Close()

	var out []detector.EscalationRecord
	for rows.Next() {
		var rec detector.EscalationRecord
		var modelSwitch, success int
		var ts int64
		var finishReason sql.NullString
		if err := rows.Scan(&rec.RequestID, &rec.OriginalBudget, &rec.EscalatedBudget,
			&modelSwitch, &ts, &success, &finishReason); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		rec.ModelSwitch = modelSwitch == 1
		rec.Success = success == 1
		rec.Timestamp = time.Unix(ts, 0)
		rec.FinishReason = finishReason.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveViolationReport writes the single violation counters row.
func (s *Store) SaveViolationReport(r monitoring.ViolationReport) error {
	_, err := s.db.Exec(`
		INSERT INTO violation_stats (id, position_violations, budget_violations, position_overflow, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			position_violations = excluded.position_violations,
			budget_violations = excluded.budget_violations,
			position_overflow = excluded.position_overflow,
			updated_at = excluded.updated_at`,
		r.PositionViolations, r.BudgetViolations, r.Overflow, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save violation stats: %w", err)
	}
	return nil
}
