package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySimple(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
	}{
		{"greeting", "hello"},
		{"two words", "thanks again"},
		{"empty", ""},
		{"whitespace only", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Simple, Classify(tt.prompt))
		})
	}
}

func TestClassifyModerate(t *testing.T) {
	assert.Equal(t, Moderate, Classify("explain how DNS resolution works"))
	assert.Equal(t, Moderate, Classify("what is the capital of France"))
	// 3-50 words with no keyword match lands in the moderate band.
	assert.Equal(t, Moderate, Classify("please list every file here"))
}

func TestClassifyComplex(t *testing.T) {
	assert.Equal(t, Complex, Classify("compare postgres and mysql for this workload"))
	assert.Equal(t, Complex, Classify("kubernetes vs nomad for a small team"))
	// Three sentences promote to complex even without keywords.
	assert.Equal(t, Complex, Classify("First run the build. Then run the linter. Finally check the output."))
}

func TestClassifyDeep(t *testing.T) {
	assert.Equal(t, Deep, Classify("deep dive into the garbage collector"))
	assert.Equal(t, Deep, Classify("design a comprehensive architecture for the billing system"))
}

func TestClassifyDeepByLength(t *testing.T) {
	long := strings.Repeat("data ", 1100) // > 5000 chars
	assert.Equal(t, Deep, Classify(long))

	manyWords := strings.Repeat("ok ", 250) // > 200 words
	assert.Equal(t, Deep, Classify(manyWords))
}

func TestClassifyIndicatorBeatsLength(t *testing.T) {
	// A short prompt with a strong keyword must not fall through to the
	// simple-short rule.
	assert.Equal(t, Complex, Classify("debug this"))
}

func TestClassifyDeterministic(t *testing.T) {
	prompt := "compare these two designs and tell me which one scales better"
	first := Classify(prompt)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(prompt))
	}
}

func TestBudgetForTier(t *testing.T) {
	assert.Equal(t, 3000, BudgetForTier(Simple))
	assert.Equal(t, 10000, BudgetForTier(Moderate))
	assert.Equal(t, 20000, BudgetForTier(Complex))
	assert.Equal(t, 28000, BudgetForTier(Deep))
}

func TestTierRoundTrip(t *testing.T) {
	for _, tier := range []Tier{Simple, Moderate, Complex, Deep} {
		assert.Equal(t, tier, TierFromString(tier.String()))
	}
	assert.Equal(t, Moderate, TierFromString("garbage"))
}
