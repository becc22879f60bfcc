package detector

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldEscalateCeiling(t *testing.T) {
	m := NewEscalationManager(3, nil)

	for i := 0; i < 3; i++ {
		assert.True(t, m.ShouldEscalate("req-1"))
		m.RecordEscalation(EscalationRecord{RequestID: "req-1", OriginalBudget: 4096, EscalatedBudget: 12288})
	}
	assert.False(t, m.ShouldEscalate("req-1"))

	// Other requests are unaffected.
	assert.True(t, m.ShouldEscalate("req-2"))
}

func TestCalculateMetricsRungs(t *testing.T) {
	m := NewEscalationManager(10, nil)

	m.RecordEscalation(EscalationRecord{RequestID: "a", OriginalBudget: 3000, EscalatedBudget: 12288, Success: true})
	m.RecordEscalation(EscalationRecord{RequestID: "b", OriginalBudget: 4096, EscalatedBudget: 12288})
	m.RecordEscalation(EscalationRecord{RequestID: "c", OriginalBudget: 8000, EscalatedBudget: 24576, ModelSwitch: true, Success: true})
	m.RecordEscalation(EscalationRecord{RequestID: "d", OriginalBudget: 20000, EscalatedBudget: 32000})

	em := m.CalculateMetrics()
	assert.Equal(t, int64(4), em.TotalEscalations)
	assert.Equal(t, int64(2), em.To12288)
	assert.Equal(t, int64(1), em.To24576)
	assert.Equal(t, int64(1), em.To32000)
	assert.Equal(t, int64(1), em.ModelSwitches)
	assert.Equal(t, int64(2), em.Successful)
	assert.InDelta(t, 0.5, em.SuccessRate, 1e-9)
}

func TestHistoryAndClear(t *testing.T) {
	m := NewEscalationManager(3, nil)
	m.RecordEscalation(EscalationRecord{RequestID: "a", OriginalBudget: 4096, EscalatedBudget: 12288})

	h := m.History()
	require.Len(t, h, 1)
	assert.False(t, h[0].Timestamp.IsZero())

	m.ClearHistory()
	assert.Empty(t, m.History())
	assert.True(t, m.ShouldEscalate("a"))
}

type captureRecordSink struct {
	mu   sync.Mutex
	recs []EscalationRecord
}

func (c *captureRecordSink) SaveEscalation(rec EscalationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func TestMarkOutcomeReachesSink(t *testing.T) {
	sink := &captureRecordSink{}
	m := NewEscalationManager(3, sink)

	m.RecordEscalation(EscalationRecord{RequestID: "a", OriginalBudget: 4096, EscalatedBudget: 12288})

	// Nothing persists until the retry outcome is known.
	sink.mu.Lock()
	assert.Empty(t, sink.recs)
	sink.mu.Unlock()

	m.MarkOutcome("a", true)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.recs, 1)
	assert.Equal(t, "a", sink.recs[0].RequestID)
	assert.True(t, sink.recs[0].Success)
}

func TestMarkOutcomeUpdatesMetrics(t *testing.T) {
	m := NewEscalationManager(3, nil)

	m.RecordEscalation(EscalationRecord{RequestID: "a", OriginalBudget: 4096, EscalatedBudget: 12288})
	m.RecordEscalation(EscalationRecord{RequestID: "b", OriginalBudget: 8000, EscalatedBudget: 24576})

	em := m.CalculateMetrics()
	assert.Equal(t, int64(0), em.Successful)

	m.MarkOutcome("a", true)
	m.MarkOutcome("b", false)

	em = m.CalculateMetrics()
	assert.Equal(t, int64(1), em.Successful)
	assert.InDelta(t, 0.5, em.SuccessRate, 1e-9)

	// Only the latest record for the request flips.
	m.RecordEscalation(EscalationRecord{RequestID: "b", OriginalBudget: 12288, EscalatedBudget: 24576})
	m.MarkOutcome("b", true)
	h := m.GetHistory("b")
	require.Len(t, h, 2)
	assert.False(t, h[0].Success)
	assert.True(t, h[1].Success)

	// Unknown requests are a no-op.
	m.MarkOutcome("ghost", true)
}

func TestGetHistoryFiltersByRequest(t *testing.T) {
	m := NewEscalationManager(5, nil)

	m.RecordEscalation(EscalationRecord{RequestID: "a", OriginalBudget: 4096, EscalatedBudget: 12288})
	m.RecordEscalation(EscalationRecord{RequestID: "b", OriginalBudget: 4096, EscalatedBudget: 12288})
	m.RecordEscalation(EscalationRecord{RequestID: "a", OriginalBudget: 12288, EscalatedBudget: 24576})

	h := m.GetHistory("a")
	require.Len(t, h, 2)
	assert.Equal(t, 12288, h[0].EscalatedBudget)
	assert.Equal(t, 24576, h[1].EscalatedBudget)
	assert.Empty(t, m.GetHistory("c"))
}

func TestDefaultMaxRetries(t *testing.T) {
	m := NewEscalationManager(0, nil)
	for i := 0; i < 3; i++ {
		assert.True(t, m.ShouldEscalate("r"))
		m.RecordEscalation(EscalationRecord{RequestID: "r"})
	}
	assert.False(t, m.ShouldEscalate("r"))
}
