// Package thinking converts between the two reasoning-control protocol
// families the gateway translates: numeric token budgets and coarse
// enumerated thinking levels.
//
// DESIGN: Flash-class models accept four levels (MINIMAL/LOW/MEDIUM/HIGH);
// Pro-class models accept exactly two (LOW/HIGH) and reject MEDIUM. The
// mapping is a pure function of (model, budget) so it needs no state and
// no synchronization.
package thinking

import (
	"strings"

	"github.com/compresr/thinking-gateway/internal/config"
)

// Level is an enumerated reasoning-effort setting.
type Level string

const (
	LevelMinimal Level = "MINIMAL"
	LevelLow     Level = "LOW"
	LevelMedium  Level = "MEDIUM"
	LevelHigh    Level = "HIGH"
)

// IsFlashModel reports whether a model belongs to the Flash family.
func IsFlashModel(model string) bool {
	return strings.Contains(model, "-flash")
}

// DetermineLevel maps a token budget to the thinking level the model
// family accepts. budget == nil selects the family default: MEDIUM for
// Flash (balance cost/quality), HIGH for Pro (maximize quality).
//
// Budgets are clamped to [0, 32000] first; negative budgets would
// otherwise produce incorrect mappings.
//
// Pro models never receive MEDIUM. That is a hard protocol contract, not
// a heuristic.
func DetermineLevel(model string, budget *int) Level {
	if budget == nil {
		if IsFlashModel(model) {
			return LevelMedium
		}
		return LevelHigh
	}

	b := *budget
	if b < 0 {
		b = 0
	}
	if b > config.MaxThinkingBudget {
		b = config.MaxThinkingBudget
	}

	if IsFlashModel(model) {
		switch {
		case b <= 4000:
			return LevelMinimal
		case b <= 10000:
			return LevelLow
		case b <= 20000:
			return LevelMedium
		default:
			return LevelHigh
		}
	}

	if b <= 16000 {
		return LevelLow
	}
	return LevelHigh
}

// ValidLevels returns the levels a model family accepts.
func ValidLevels(model string) []Level {
	if IsFlashModel(model) {
		return []Level{LevelMinimal, LevelLow, LevelMedium, LevelHigh}
	}
	return []Level{LevelLow, LevelHigh}
}
