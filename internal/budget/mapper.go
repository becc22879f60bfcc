package budget

import "github.com/compresr/thinking-gateway/internal/config"

// BudgetForTier maps a complexity tier to its nominal token budget.
// Ranges: Simple 2000-4000, Moderate 8000-12000, Complex 16000-24000,
// Deep 24000-32000; the midpoint-ish value of each range is used.
func BudgetForTier(t Tier) int {
	switch t {
	case Simple:
		return config.BudgetSimple
	case Moderate:
		return config.BudgetModerate
	case Complex:
		return config.BudgetComplex
	case Deep:
		return config.BudgetDeep
	}
	return config.BudgetModerate
}
