// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of characters per token.
// Used for rough token counting when the tokenizer is unavailable.
const TokenEstimateRatio = 4

// =============================================================================
// UPSTREAM
// =============================================================================

// DefaultUpstream is the provider endpoint requests are forwarded to.
const DefaultUpstream = "https://generativelanguage.googleapis.com"

// =============================================================================
// THINKING BUDGETS
// =============================================================================

// MaxThinkingBudget is the absolute upper bound any model family accepts.
const MaxThinkingBudget = 32000

// Nominal per-tier budgets produced by the budget mapper.
const (
	BudgetSimple   = 3000
	BudgetModerate = 10000
	BudgetComplex  = 20000
	BudgetDeep     = 28000
)

// =============================================================================
// CLASSIFIER THRESHOLDS
// =============================================================================

// DeepCharThreshold and DeepWordThreshold promote very long prompts to the
// Deep tier regardless of keywords.
const (
	DeepCharThreshold = 5000
	DeepWordThreshold = 200
)

// ComplexSentenceThreshold and ComplexWordThreshold promote multi-sentence
// or long-ish prompts to the Complex tier.
const (
	ComplexSentenceThreshold = 3
	ComplexWordThreshold     = 50
)

// SimpleWordThreshold: prompts shorter than this many words are Simple.
const SimpleWordThreshold = 3

// =============================================================================
// ESCALATION
// =============================================================================

// DefaultMaxRetries bounds escalation attempts per request.
const DefaultMaxRetries = 3

// TruncationThreshold is the budget-usage ratio at or above which a
// MAX_TOKENS response is treated as truncated thinking.
const TruncationThreshold = 0.95

// ProSwitchBudget: recommended budgets above this require a Pro-class model.
const ProSwitchBudget = 24576

// =============================================================================
// SIGNATURE CACHE
// =============================================================================

// SignatureTTL is how long tool-recovery and family-guard entries live.
const SignatureTTL = 2 * time.Hour

// MinSignatureLength filters out values too short to be real signatures.
const MinSignatureLength = 50

// CompactionThreshold: expired-entry sweeps run opportunistically once a
// table grows past this many entries.
const CompactionThreshold = 1000

// DefaultContinuityCapacity is the continuity cache's bounded size.
const DefaultContinuityCapacity = 1000

// DefaultContinuityTTLDays is the continuity cache entry lifetime.
const DefaultContinuityTTLDays = 7

// =============================================================================
// CACHE MONITOR
// =============================================================================

// LatencySampleCap bounds the lookup/write latency ring buffers.
const LatencySampleCap = 10000

// SignatureLatencyCap bounds the per-signature latency ring buffer.
const SignatureLatencyCap = 100

// HighValueReuseCount flags signatures reused at least this many times.
const HighValueReuseCount = 3

// DegradationFactor: current p95 above baseline*factor raises the alert.
const DegradationFactor = 1.2

// EstimatedCostPerHit is the rough per-request saving attributed to a
// cache hit when computing cost savings.
const EstimatedCostPerHit = 0.001

// =============================================================================
// VIOLATION METRICS
// =============================================================================

// MaxViolationIndices caps the retained raw position-violation indices.
const MaxViolationIndices = 10000

// ViolationRateWindow is the rolling window for violations-per-second.
const ViolationRateWindow = 60 * time.Second

// =============================================================================
// PERSISTENCE
// =============================================================================

// AsyncWriteQueueSize bounds the background persistence queue. Enqueues
// beyond this are dropped rather than blocking request handling.
const AsyncWriteQueueSize = 256

// MetricsSaveInterval is how often aggregate cache metrics are flushed.
const MetricsSaveInterval = 5 * time.Minute
