package monitoring

import (
	"sync"
	"time"

	"github.com/compresr/thinking-gateway/internal/config"
)

// Histogram bucket labels for signature position violations. Buckets are
// checked in order: exact matches for 1..3, then cumulative ranges. The
// last labeled bucket is 50, but everything above 20 lands in overflow;
// the 21-50 range has never been observed in practice, so the label is
// wider than the boundary that actually applies.
var positionBuckets = []int{1, 2, 3, 5, 10, 20, 50}

// ViolationReport is a snapshot of protocol violation counters.
type ViolationReport struct {
	PositionViolations int64            `json:"position_violations"`
	BudgetViolations   int64            `json:"budget_violations"`
	LevelViolations    int64            `json:"level_violations"`
	ByRole             map[string]int64 `json:"by_role"`
	ByModel            map[string]int64 `json:"by_model"`
	PositionHistogram  map[int]int64    `json:"position_histogram"`
	Overflow           int64            `json:"position_overflow"`
	PositionRate       float64          `json:"position_rate_per_sec"`
	BudgetRate         float64          `json:"budget_rate_per_sec"`
}

// ViolationMetrics counts protocol violations: thought signatures found at
// positions other than the first content block, and thinking budgets sent
// to models that reject them.
type ViolationMetrics struct {
	mu sync.Mutex

	positionCount int64
	budgetCount   int64
	levelCount    int64
	byRole        map[string]int64
	byModel       map[string]int64

	// Raw indices, oldest first, capped so a misbehaving client cannot
	// grow this without bound.
	positionIndices []int
	histogram       map[int]int64
	overflow        int64

	positionTimes []time.Time
	budgetTimes   []time.Time
}

func NewViolationMetrics() *ViolationMetrics {
	return &ViolationMetrics{
		byRole:    make(map[string]int64),
		byModel:   make(map[string]int64),
		histogram: make(map[int]int64),
	}
}

// RecordPositionViolation records a thought signature seen at a non-zero
// part index within a message of the given role.
func (v *ViolationMetrics) RecordPositionViolation(index int, role string) {
	now := time.Now()

	v.mu.Lock()
	defer v.mu.Unlock()

	v.positionCount++
	if role == "" {
		role = "unknown"
	}
	v.byRole[role]++

	if len(v.positionIndices) >= config.MaxViolationIndices {
		v.positionIndices = v.positionIndices[1:]
	}
	v.positionIndices = append(v.positionIndices, index)

	switch {
	case index == 1:
		v.histogram[1]++
	case index == 2:
		v.histogram[2]++
	case index == 3:
		v.histogram[3]++
	case index <= 5:
		v.histogram[5]++
	case index <= 10:
		v.histogram[10]++
	case index <= 20:
		v.histogram[20]++
	default:
		v.overflow++
	}

	v.positionTimes = pruneWindow(append(v.positionTimes, now), now)
}

// RecordBudgetViolation records a thinking budget sent to a model that
// does not accept numeric budgets.
func (v *ViolationMetrics) RecordBudgetViolation(model string) {
	now := time.Now()

	v.mu.Lock()
	defer v.mu.Unlock()

	v.budgetCount++
	if model == "" {
		model = "unknown"
	}
	v.byModel[model]++
	v.budgetTimes = pruneWindow(append(v.budgetTimes, now), now)
}

// RecordLevelViolation records a thinking level sent to a model that does
// not accept it: either a budget-family model, or a level value the
// family rejects. Kept apart from budget violations so each counter keeps
// a single meaning.
func (v *ViolationMetrics) RecordLevelViolation(model string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.levelCount++
	if model == "" {
		model = "unknown"
	}
	v.byModel[model]++
}

// Rates returns per-second violation rates over the rolling window.
func (v *ViolationMetrics) Rates() (position, budget float64) {
	now := time.Now()

	v.mu.Lock()
	defer v.mu.Unlock()

	v.positionTimes = pruneWindow(v.positionTimes, now)
	v.budgetTimes = pruneWindow(v.budgetTimes, now)

	secs := config.ViolationRateWindow.Seconds()
	return float64(len(v.positionTimes)) / secs, float64(len(v.budgetTimes)) / secs
}

// GetReport returns a snapshot of all violation counters.
func (v *ViolationMetrics) GetReport() ViolationReport {
	posRate, budRate := v.Rates()

	v.mu.Lock()
	defer v.mu.Unlock()

	r := ViolationReport{
		PositionViolations: v.positionCount,
		BudgetViolations:   v.budgetCount,
		LevelViolations:    v.levelCount,
		ByRole:             make(map[string]int64, len(v.byRole)),
		ByModel:            make(map[string]int64, len(v.byModel)),
		PositionHistogram:  make(map[int]int64, len(positionBuckets)),
		Overflow:           v.overflow,
		PositionRate:       posRate,
		BudgetRate:         budRate,
	}
	for role, n := range v.byRole {
		r.ByRole[role] = n
	}
	for model, n := range v.byModel {
		r.ByModel[model] = n
	}
	for _, b := range positionBuckets {
		r.PositionHistogram[b] = v.histogram[b]
	}
	return r
}

// Indices returns a copy of the recorded position indices, oldest first.
func (v *ViolationMetrics) Indices() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]int, len(v.positionIndices))
	copy(out, v.positionIndices)
	return out
}

// Reset zeroes every counter and window.
func (v *ViolationMetrics) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.positionCount = 0
	v.budgetCount = 0
	v.levelCount = 0
	v.byRole = make(map[string]int64)
	v.byModel = make(map[string]int64)
	v.positionIndices = nil
	v.histogram = make(map[int]int64)
	v.overflow = 0
	v.positionTimes = nil
	v.budgetTimes = nil
}

// pruneWindow drops timestamps outside the rolling rate window.
func pruneWindow(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-config.ViolationRateWindow)
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}
