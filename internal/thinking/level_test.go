package thinking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intp(v int) *int { return &v }

func TestDetermineLevelFlash(t *testing.T) {
	const model = "gemini-3-flash"

	tests := []struct {
		name   string
		budget *int
		want   Level
	}{
		{"nil defaults to medium", nil, LevelMedium},
		{"zero", intp(0), LevelMinimal},
		{"minimal boundary", intp(4000), LevelMinimal},
		{"low", intp(4001), LevelLow},
		{"low boundary", intp(10000), LevelLow},
		{"medium", intp(10001), LevelMedium},
		{"medium boundary", intp(20000), LevelMedium},
		{"high", intp(20001), LevelHigh},
		{"clamped above max", intp(50000), LevelHigh},
		{"negative clamps to zero", intp(-5), LevelMinimal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetermineLevel(model, tt.budget))
		})
	}
}

func TestDetermineLevelPro(t *testing.T) {
	const model = "gemini-3-pro"

	assert.Equal(t, LevelHigh, DetermineLevel(model, nil))
	assert.Equal(t, LevelLow, DetermineLevel(model, intp(0)))
	assert.Equal(t, LevelLow, DetermineLevel(model, intp(16000)))
	assert.Equal(t, LevelHigh, DetermineLevel(model, intp(16001)))
	assert.Equal(t, LevelHigh, DetermineLevel(model, intp(32000)))
}

func TestProNeverMedium(t *testing.T) {
	for b := 0; b <= 32000; b += 500 {
		level := DetermineLevel("gemini-3-pro", intp(b))
		assert.NotEqual(t, LevelMedium, level, "budget %d", b)
	}
}

func TestValidLevels(t *testing.T) {
	assert.Len(t, ValidLevels("gemini-3-flash"), 4)
	assert.Equal(t, []Level{LevelLow, LevelHigh}, ValidLevels("gemini-3-pro"))
}
