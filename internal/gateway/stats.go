// Package gateway - stats.go exposes aggregated metrics as JSON.
//
// GET /stats returns combined cache, detector, and escalation metrics.
// All stats endpoints are restricted to localhost.
package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/compresr/thinking-gateway/internal/detector"
	"github.com/compresr/thinking-gateway/internal/monitoring"
	"github.com/compresr/thinking-gateway/internal/signature"
)

// StatsResponse is the JSON response for GET /stats.
type StatsResponse struct {
	Uptime string `json:"uptime"`

	Cache      monitoring.CacheReport      `json:"cache"`
	Continuity signature.ContinuityMetrics `json:"continuity"`
	Detector   detector.DetectorMetrics    `json:"detector"`
	Escalation detector.EscalationMetrics  `json:"escalation"`
	Violations monitoring.ViolationReport  `json:"violations"`
	Patterns   int                         `json:"learned_patterns"`
}

// handleStats returns aggregated metrics as JSON.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	resp := StatsResponse{
		Uptime:     time.Since(g.startTime).Truncate(time.Second).String(),
		Cache:      g.monitor.GetReport(),
		Continuity: g.continuity.Metrics(),
		Detector:   g.detector.Metrics(),
		Escalation: g.escalation.CalculateMetrics(),
		Violations: g.violations.GetReport(),
		Patterns:   g.optimizer.Patterns().Len(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleSignatureStats returns the most reused signatures.
// Accepts ?n= to bound the list; defaults to 10.
func (g *Gateway) handleSignatureStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	n := 10
	if q := r.URL.Query().Get("n"); q != "" {
		if parsed, err := strconv.Atoi(q); err == nil && parsed > 0 {
			n = parsed
		}
	}

	total, hourly, daily := g.monitor.CostSavings()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"top_signatures":    g.monitor.TopSignatures(n),
		"total_savings_usd": total,
		"hourly_savings":    hourly,
		"daily_savings":     daily,
	})
}

// handleEscalationStats returns escalation history and rung counters.
func (g *Gateway) handleEscalationStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"metrics": g.escalation.CalculateMetrics(),
		"history": g.escalation.History(),
	})
}

// handleViolationStats returns protocol violation counters.
func (g *Gateway) handleViolationStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g.violations.GetReport())
}

// handleStatsReset clears in-memory metrics. POST only.
func (g *Gateway) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	g.monitor.Clear()
	g.violations.Reset()
	g.detector.ResetMetrics()
	g.escalation.ClearHistory()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "reset"})
}
