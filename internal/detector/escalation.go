package detector

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/thinking-gateway/internal/config"
)

// EscalationRecord captures one budget escalation attempt for a request.
type EscalationRecord struct {
	RequestID       string    `json:"request_id"`
	OriginalBudget  int       `json:"original_budget"`
	EscalatedBudget int       `json:"escalated_budget"`
	ModelSwitch     bool      `json:"model_switch"`
	Timestamp       time.Time `json:"timestamp"`
	Success         bool      `json:"success"`
	FinishReason    string    `json:"finish_reason"`
}

// EscalationMetrics aggregates escalation history by ladder rung.
type EscalationMetrics struct {
	TotalEscalations int64   `json:"total_escalations"`
	To12288          int64   `json:"to_12288"`
	To24576          int64   `json:"to_24576"`
	To32000          int64   `json:"to_32000"`
	ModelSwitches    int64   `json:"model_switches"`
	Successful       int64   `json:"successful"`
	SuccessRate      float64 `json:"success_rate"`
}

// RecordSink persists escalation records off the request path. Enqueue
// must never block.
type RecordSink interface {
	SaveEscalation(EscalationRecord)
}

// EscalationManager bounds retry attempts per request and keeps the
// escalation history.
type EscalationManager struct {
	mu         sync.RWMutex
	attempts   map[string]int
	history    []EscalationRecord
	maxRetries int
	sink       RecordSink
}

// NewEscalationManager builds a manager with the given retry ceiling.
// A nil sink keeps history in memory only.
func NewEscalationManager(maxRetries int, sink RecordSink) *EscalationManager {
	if maxRetries <= 0 {
		maxRetries = config.DefaultMaxRetries
	}
	return &EscalationManager{
		attempts:   make(map[string]int),
		maxRetries: maxRetries,
		sink:       sink,
	}
}

// ShouldEscalate reports whether the request still has retry budget left.
func (m *EscalationManager) ShouldEscalate(requestID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts[requestID] < m.maxRetries
}

// RecordEscalation appends a record and counts the attempt against the
// request. The record's outcome is not known yet; MarkOutcome finalizes
// it once the escalated retry has come back.
func (m *EscalationManager) RecordEscalation(rec EscalationRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.attempts[rec.RequestID]++
	m.history = append(m.history, rec)
	m.mu.Unlock()

	log.Info().
		Str("request_id", rec.RequestID).
		Int("original_budget", rec.OriginalBudget).
		Int("escalated_budget", rec.EscalatedBudget).
		Bool("model_switch", rec.ModelSwitch).
		Msg("budget escalation recorded")
}

// MarkOutcome sets the success flag on the most recent escalation for a
// request and hands the finalized record to the persistence sink. Success
// means the escalated retry finished without another insufficiency
// verdict.
func (m *EscalationManager) MarkOutcome(requestID string, success bool) {
	var rec EscalationRecord
	found := false

	m.mu.Lock()
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].RequestID == requestID {
			m.history[i].Success = success
			rec = m.history[i]
			found = true
			break
		}
	}
	m.mu.Unlock()

	if !found {
		return
	}
	if m.sink != nil {
		m.sink.SaveEscalation(rec)
	}

	log.Debug().
		Str("request_id", requestID).
		Bool("success", success).
		Msg("escalation outcome recorded")
}

// History returns a copy of the escalation history, oldest first.
func (m *EscalationManager) History() []EscalationRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]EscalationRecord, len(m.history))
	copy(out, m.history)
	return out
}

// GetHistory returns the escalation records for one request, oldest first.
func (m *EscalationManager) GetHistory(requestID string) []EscalationRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []EscalationRecord
	for _, rec := range m.history {
		if rec.RequestID == requestID {
			out = append(out, rec)
		}
	}
	return out
}

// ClearHistory drops all history and per-request attempt counts.
func (m *EscalationManager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = make(map[string]int)
	m.history = nil
}

// CalculateMetrics aggregates the history into per-rung counters. Rungs
// are attributed by the budget the request escalated from.
func (m *EscalationManager) CalculateMetrics() EscalationMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var em EscalationMetrics
	em.TotalEscalations = int64(len(m.history))
	for _, rec := range m.history {
		switch {
		case rec.OriginalBudget <= 4096:
			em.To12288++
		case rec.OriginalBudget <= 12288:
			em.To24576++
		case rec.OriginalBudget <= 24576:
			em.To32000++
		}
		if rec.ModelSwitch {
			em.ModelSwitches++
		}
		if rec.Success {
			em.Successful++
		}
	}
	if em.TotalEscalations > 0 {
		em.SuccessRate = float64(em.Successful) / float64(em.TotalEscalations)
	}
	return em
}
