// Package detector decides, per upstream response, whether the reasoning
// budget the request carried was enough, and by how much to raise it when
// it was not.
//
// DESIGN:
// A response is judged insufficient only when the upstream stopped at
// MAX_TOKENS and reasoning consumed at least 95% of the granted budget.
// Escalation follows a fixed ladder (12288 -> 24576 -> 32000); budgets at
// the top rung are left unchanged, so repeated escalation converges.
// The detector holds no per-request state and is safe for concurrent use;
// its metrics sit behind a mutex.
package detector

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/thinking-gateway/internal/config"
	"github.com/compresr/thinking-gateway/internal/thinking"
)

// DetectionResult reports the sufficiency verdict for one response.
type DetectionResult struct {
	Insufficient      bool   `json:"insufficient"`
	CurrentBudget     int    `json:"current_budget"`
	RecommendedBudget int    `json:"recommended_budget"`
	Reason            string `json:"reason,omitempty"`
}

// DetectorMetrics is a point-in-time snapshot of detector activity.
type DetectorMetrics struct {
	Detections           int64   `json:"detections"`
	InsufficientDetected int64   `json:"insufficient_detected"`
	AvgDetectionTimeMs   float64 `json:"avg_detection_time_ms"`
}

// SufficiencyDetector inspects response metadata for truncated reasoning.
type SufficiencyDetector struct {
	threshold float64

	mu      sync.Mutex
	metrics DetectorMetrics
}

// NewSufficiencyDetector builds a detector. A non-positive threshold
// falls back to the default usage ratio.
func NewSufficiencyDetector(threshold float64) *SufficiencyDetector {
	if threshold <= 0 || threshold > 1 {
		threshold = config.TruncationThreshold
	}
	return &SufficiencyDetector{threshold: threshold}
}

// Detect classifies one response. Responses with a zero or negative budget
// are always sufficient; the truncation ratio is undefined for them.
func (d *SufficiencyDetector) Detect(md thinking.ResponseMetadata) DetectionResult {
	start := time.Now()

	res := DetectionResult{
		CurrentBudget:     md.ThinkingBudget,
		RecommendedBudget: md.ThinkingBudget,
	}

	if md.FinishReason == thinking.FinishMaxTokens && md.ThinkingBudget > 0 {
		ratio := float64(md.ThinkingTokens) / float64(md.ThinkingBudget)
		if ratio >= d.threshold {
			res.Insufficient = true
			res.RecommendedBudget = NextBudget(md.ThinkingBudget)
			res.Reason = "thinking budget exhausted at MAX_TOKENS"
		}
	}

	d.record(res.Insufficient, time.Since(start))

	if res.Insufficient {
		log.Debug().
			Str("request_id", md.RequestID).
			Int("current_budget", res.CurrentBudget).
			Int("recommended_budget", res.RecommendedBudget).
			Msg("insufficient thinking budget detected")
	}
	return res
}

// NextBudget returns the next rung of the escalation ladder. Budgets above
// the top rung are returned unchanged.
func NextBudget(current int) int {
	switch {
	case current <= 4096:
		return 12288
	case current <= 12288:
		return 24576
	case current <= 24576:
		return config.MaxThinkingBudget
	default:
		return current
	}
}

// ShouldSwitchToPro reports whether the recommended budget exceeds what a
// Flash model can usefully spend.
func ShouldSwitchToPro(recommendedBudget int) bool {
	return recommendedBudget > config.ProSwitchBudget
}

func (d *SufficiencyDetector) record(insufficient bool, elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ms := float64(elapsed.Microseconds()) / 1000.0
	n := float64(d.metrics.Detections)
	d.metrics.AvgDetectionTimeMs = (d.metrics.AvgDetectionTimeMs*n + ms) / (n + 1)
	d.metrics.Detections++
	if insufficient {
		d.metrics.InsufficientDetected++
	}
}

// Metrics returns a snapshot of detector counters.
func (d *SufficiencyDetector) Metrics() DetectorMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metrics
}

// ResetMetrics zeroes all detector counters.
func (d *SufficiencyDetector) ResetMetrics() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = DetectorMetrics{}
}
