package budget

import (
	"github.com/rs/zerolog/log"

	"github.com/compresr/thinking-gateway/internal/utils"
)

// PatternSink receives updated patterns for background persistence.
// Implementations must not block; failures are the sink's problem.
type PatternSink interface {
	SavePattern(Pattern)
}

// Optimizer combines the classifier, mapper, and pattern store into one
// budget calculation entry point with a feedback loop.
//
// Construct once at process start and share the handle across request
// contexts; all methods are safe for concurrent use.
type Optimizer struct {
	patterns *PatternStore
	sink     PatternSink
}

// NewOptimizer creates an optimizer. sink may be nil to disable
// persistence (memory-only operation).
func NewOptimizer(sink PatternSink) *Optimizer {
	return &Optimizer{
		patterns: NewPatternStore(),
		sink:     sink,
	}
}

// Patterns exposes the pattern store for startup restoration.
func (o *Optimizer) Patterns() *PatternStore {
	return o.patterns
}

// CalculateOptimalBudget classifies the prompt, maps the tier to a nominal
// budget, and nudges it by the prompt's feedback history. The result is
// not clamped here; clamping to the legal [0,32000] range happens where
// the budget is converted for the target model family.
func (o *Optimizer) CalculateOptimalBudget(prompt, model string) int {
	tier := Classify(prompt)
	base := BudgetForTier(tier)
	adjusted := o.patterns.AdjustForHistory(prompt, base)

	log.Debug().
		Str("prompt", utils.Truncate(prompt, 60)).
		Int("prompt_len", len(prompt)).
		Str("tier", tier.String()).
		Str("model", model).
		Int("base_budget", base).
		Int("adjusted_budget", adjusted).
		Msg("budget calculated")

	return adjusted
}

// RecordFeedback folds an observed (budget, quality) outcome into the
// pattern store and schedules a best-effort persistence write. Never
// blocks on or surfaces storage failures.
func (o *Optimizer) RecordFeedback(prompt string, budgetUsed int, qualityScore float64) {
	p := o.patterns.RecordFeedback(prompt, budgetUsed, qualityScore)
	if o.sink != nil {
		o.sink.SavePattern(p)
	}
}
