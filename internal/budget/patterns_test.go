package budget

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPrompt(t *testing.T) {
	h := HashPrompt("hello world")
	assert.Len(t, h, 16)
	assert.Equal(t, h, HashPrompt("hello world"))
	assert.NotEqual(t, h, HashPrompt("hello worlds"))
}

func TestRecordFeedbackRunningAverage(t *testing.T) {
	s := NewPatternStore()

	first := s.RecordFeedback("analyze this trace", 16000, 0.7)
	assert.Equal(t, 16000, first.AvgBudget)
	assert.Equal(t, 1, first.UsageCount)

	second := s.RecordFeedback("analyze this trace", 18000, 0.7)
	assert.Equal(t, 17000, second.AvgBudget)
	assert.Equal(t, 2, second.UsageCount)
	assert.InDelta(t, 1.4, second.TotalQualityScore, 1e-9)
}

func TestAdjustForHistory(t *testing.T) {
	t.Run("unknown prompt unchanged", func(t *testing.T) {
		s := NewPatternStore()
		assert.Equal(t, 10000, s.AdjustForHistory("never seen", 10000))
	})

	t.Run("high quality trims budget", func(t *testing.T) {
		s := NewPatternStore()
		s.RecordFeedback("easy one", 8000, 0.95)
		assert.Equal(t, 9000, s.AdjustForHistory("easy one", 10000))
	})

	t.Run("low quality raises budget", func(t *testing.T) {
		s := NewPatternStore()
		s.RecordFeedback("hard one", 8000, 0.3)
		assert.Equal(t, 11000, s.AdjustForHistory("hard one", 10000))
	})

	t.Run("middling quality unchanged", func(t *testing.T) {
		s := NewPatternStore()
		s.RecordFeedback("normal one", 8000, 0.7)
		assert.Equal(t, 10000, s.AdjustForHistory("normal one", 10000))
	})
}

func TestPatternStoreLoadAndGet(t *testing.T) {
	s := NewPatternStore()
	s.Load([]Pattern{
		{PromptHash: "abc", Tier: Complex, AvgBudget: 20000, UsageCount: 5, TotalQualityScore: 4.5},
	})

	p, ok := s.Get("abc")
	require.True(t, ok)
	assert.Equal(t, 20000, p.AvgBudget)
	assert.Equal(t, 1, s.Len())
}

func TestPatternStoreConcurrent(t *testing.T) {
	s := NewPatternStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.RecordFeedback("shared prompt", 10000, 0.7)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.AdjustForHistory("shared prompt", 10000)
			}
		}()
	}
	wg.Wait()

	p, ok := s.Get(HashPrompt("shared prompt"))
	require.True(t, ok)
	assert.Equal(t, 800, p.UsageCount)
}

func TestOptimizerCalculateOptimalBudget(t *testing.T) {
	o := NewOptimizer(nil)

	// Fresh prompts get the tier's nominal budget.
	assert.Equal(t, 3000, o.CalculateOptimalBudget("hello", "gemini-2.5-flash"))
	assert.Equal(t, 20000, o.CalculateOptimalBudget("compare redis and memcached", "gemini-2.5-flash"))

	// History shifts the result.
	o.RecordFeedback("compare redis and memcached", 20000, 0.95)
	assert.Equal(t, 18000, o.CalculateOptimalBudget("compare redis and memcached", "gemini-2.5-flash"))
}

type captureSink struct {
	mu   sync.Mutex
	seen []Pattern
}

func (c *captureSink) SavePattern(p Pattern) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, p)
}

func TestOptimizerFeedbackReachesSink(t *testing.T) {
	sink := &captureSink{}
	o := NewOptimizer(sink)

	o.RecordFeedback("explain this", 9000, 0.8)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.seen, 1)
	assert.Equal(t, HashPrompt("explain this"), sink.seen[0].PromptHash)
	assert.Equal(t, 9000, sink.seen[0].AvgBudget)
}
