// Package budget implements adaptive thinking-budget optimization.
//
// DESIGN: Three cooperating parts behind one Optimizer entry point:
//   - classifier.go: ordered rule table mapping prompt text to a tier
//   - mapper.go:     tier to nominal token budget
//   - patterns.go:   privacy-hashed feedback history that nudges the budget
//
// Classification is a bounded keyword scan; the whole calculate path stays
// well under the 50ms target.
package budget

import "strings"

// Tier is the heuristic complexity bucket for a prompt.
type Tier int

const (
	// Simple queries: greetings, one-word responses, yes/no.
	Simple Tier = iota
	// Moderate queries: explanations, summaries, how-to.
	Moderate
	// Complex queries: multi-topic analysis, reasoning tasks.
	Complex
	// Deep queries: research, architectural design, comprehensive analysis.
	Deep
)

// String returns the tier name used in logs and the patterns table.
func (t Tier) String() string {
	switch t {
	case Simple:
		return "Simple"
	case Moderate:
		return "Moderate"
	case Complex:
		return "Complex"
	case Deep:
		return "Deep"
	}
	return "Moderate"
}

// TierFromString parses a stored tier name, defaulting to Moderate.
func TierFromString(s string) Tier {
	switch s {
	case "Simple":
		return Simple
	case "Moderate":
		return Moderate
	case "Complex":
		return Complex
	case "Deep":
		return Deep
	}
	return Moderate
}

// Keyword sets for the indicator rules. Trailing spaces are deliberate:
// "compare " must not match inside "comprehensive".
var deepKeywords = []string{
	"design distributed",
	"design a system",
	"architect a",
	"architectural review",
	"comprehensive security audit",
	"comprehensive ",
	"research paper",
	"deep dive",
	"in-depth",
	"strategic plan",
	"roadmap",
	"migration plan",
	"performance audit",
	"security audit",
	"end-to-end",
	"multi-region",
	"scalability plan",
	"legacy modernization",
	"100+",
	"1000+",
	"-year",
}

var complexKeywords = []string{
	"analyze ",
	"compare ",
	"evaluate ",
	"assess ",
	"trade-off",
	"pros and cons",
	"advantages and disadvantages",
	"reason about",
	"discuss ",
	"design a ",
	"debug ",
	"troubleshoot",
	"optimize ",
	"improve performance",
	"code review",
}

var moderateKeywords = []string{
	"explain ",
	"what is",
	"what's",
	"how do",
	"how to",
	"summarize",
	"summary",
	"define",
	"describe",
	"tell me about",
}

// promptFeatures are the cheap measurements every rule predicate sees.
type promptFeatures struct {
	lower     string
	wordCount int
	charCount int
	sentences int
}

// rule pairs a predicate with the tier it selects. The table is evaluated
// top-down and the first match wins; the ordering is part of the contract
// (indicator rules must run before the generic length fallbacks, or short
// prompts with strong keywords would be misclassified).
type rule struct {
	name  string
	match func(f promptFeatures) bool
	tier  Tier
}

var classifierRules = []rule{
	{"deep-indicators", func(f promptFeatures) bool {
		return containsAny(f.lower, deepKeywords)
	}, Deep},
	{"deep-length", func(f promptFeatures) bool {
		return f.charCount > 5000 || f.wordCount > 200
	}, Deep},
	{"complex-indicators", func(f promptFeatures) bool {
		return containsAny(f.lower, complexKeywords) ||
			strings.Contains(f.lower, " vs ") || strings.Contains(f.lower, " versus ")
	}, Complex},
	{"complex-length", func(f promptFeatures) bool {
		return f.sentences >= 3 || f.wordCount > 50
	}, Complex},
	{"simple-short", func(f promptFeatures) bool {
		return f.wordCount < 3
	}, Simple},
	{"moderate-indicators", func(f promptFeatures) bool {
		return containsAny(f.lower, moderateKeywords)
	}, Moderate},
	{"moderate-length", func(f promptFeatures) bool {
		return f.wordCount >= 3 && f.wordCount <= 50
	}, Moderate},
}

// Classify maps prompt text to a complexity tier. It is total and
// deterministic: any string, including empty, yields a tier.
func Classify(prompt string) Tier {
	if prompt == "" {
		return Simple
	}

	f := promptFeatures{
		lower:     strings.ToLower(prompt),
		wordCount: len(strings.Fields(prompt)),
		charCount: len(prompt),
		sentences: strings.Count(prompt, ".") + strings.Count(prompt, "?") + strings.Count(prompt, "!"),
	}

	for _, r := range classifierRules {
		if r.match(f) {
			return r.tier
		}
	}
	return Simple
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
