// Protocol plumbing: reading reasoning metadata out of upstream responses
// and writing reasoning controls into outbound requests.
package thinking

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/thinking-gateway/internal/config"
)

// FinishReason is the normalized upstream completion status.
type FinishReason string

const (
	FinishStop        FinishReason = "STOP"
	FinishMaxTokens   FinishReason = "MAX_TOKENS"
	FinishSafety      FinishReason = "SAFETY"
	FinishRecitation  FinishReason = "RECITATION"
	FinishOther       FinishReason = "OTHER"
	FinishUnspecified FinishReason = "UNSPECIFIED"
)

// ParseFinishReason normalizes an upstream finish reason string.
func ParseFinishReason(s string) FinishReason {
	switch strings.ToUpper(s) {
	case "STOP":
		return FinishStop
	case "MAX_TOKENS":
		return FinishMaxTokens
	case "SAFETY":
		return FinishSafety
	case "RECITATION":
		return FinishRecitation
	case "OTHER":
		return FinishOther
	}
	return FinishUnspecified
}

// ResponseMetadata is the per-response slice the sufficiency detector
// consumes. Transient; never persisted.
type ResponseMetadata struct {
	RequestID      string
	FinishReason   FinishReason
	ThinkingBudget int
	ThinkingTokens int
	ModelID        string
}

// IsLevelFamily reports whether the model speaks the enumerated
// thinkingLevel protocol rather than numeric thinkingBudget.
func IsLevelFamily(model string) bool {
	return strings.HasPrefix(model, "gemini-3")
}

// ApplyThinking writes the reasoning control for the target family into a
// request body: thinkingLevel for level-family models, thinkingBudget for
// budget-family models. The budget is clamped to the legal range first.
func ApplyThinking(body []byte, model string, budget int) ([]byte, error) {
	if budget < 0 {
		budget = 0
	}
	if budget > config.MaxThinkingBudget {
		budget = config.MaxThinkingBudget
	}

	if IsLevelFamily(model) {
		level := DetermineLevel(model, &budget)
		out, err := sjson.SetBytes(body, "generationConfig.thinkingConfig.thinkingLevel", string(level))
		if err != nil {
			return nil, fmt.Errorf("set thinkingLevel: %w", err)
		}
		// A numeric budget on a level-family model is a protocol violation
		// upstream; never emit both.
		out, err = sjson.DeleteBytes(out, "generationConfig.thinkingConfig.thinkingBudget")
		if err != nil {
			return nil, fmt.Errorf("clear thinkingBudget: %w", err)
		}
		return out, nil
	}

	out, err := sjson.SetBytes(body, "generationConfig.thinkingConfig.thinkingBudget", budget)
	if err != nil {
		return nil, fmt.Errorf("set thinkingBudget: %w", err)
	}
	out, err = sjson.DeleteBytes(out, "generationConfig.thinkingConfig.thinkingLevel")
	if err != nil {
		return nil, fmt.Errorf("clear thinkingLevel: %w", err)
	}
	return out, nil
}

// ViolationKind classifies a thinking config protocol violation.
type ViolationKind string

const (
	// ViolationBudget is a numeric budget sent to a model that only
	// accepts levels.
	ViolationBudget ViolationKind = "budget"
	// ViolationLevel is a level sent to a model that only accepts numeric
	// budgets, or a level value the family rejects.
	ViolationLevel ViolationKind = "level"
)

// ConfigViolation is the error ValidateThinkingConfig returns: a request
// that mixes the numeric-budget and enumerated-level protocols, or
// carries a level the target family rejects.
type ConfigViolation struct {
	Model  string
	Kind   ViolationKind
	Detail string
}

func (v *ConfigViolation) Error() string {
	return fmt.Sprintf("model %q: %s", v.Model, v.Detail)
}

// ValidateThinkingConfig checks an outbound request against the target
// family's protocol: level-family models must not carry thinkingBudget,
// budget-family models must not carry thinkingLevel, and a present level
// must be legal for the family (Pro accepts only LOW/HIGH). A nil return
// means the request is well-formed; failures come back as a
// *ConfigViolation so callers can attribute them in the violation
// metrics.
func ValidateThinkingConfig(model string, body []byte) error {
	if !strings.HasPrefix(model, "gemini-") {
		return nil
	}

	tc := gjson.GetBytes(body, "generationConfig.thinkingConfig")
	if !tc.Exists() {
		return nil
	}

	hasBudget := tc.Get("thinkingBudget").Exists()
	level := tc.Get("thinkingLevel")

	if IsLevelFamily(model) {
		if hasBudget && !level.Exists() {
			return &ConfigViolation{Model: model, Kind: ViolationBudget,
				Detail: "must use thinkingLevel, not thinkingBudget"}
		}
		if level.Exists() {
			got := Level(level.String())
			for _, v := range ValidLevels(model) {
				if got == v {
					return nil
				}
			}
			return &ConfigViolation{Model: model, Kind: ViolationLevel,
				Detail: fmt.Sprintf("invalid thinkingLevel %q", level.String())}
		}
		return nil
	}

	if level.Exists() && !hasBudget {
		return &ConfigViolation{Model: model, Kind: ViolationLevel,
			Detail: "must use thinkingBudget, not thinkingLevel"}
	}
	return nil
}

// ExtractResponseMetadata reads the reasoning metadata the detector needs
// from an upstream response body. When the response omits the thinking
// token count, the thought text is tokenized to estimate it.
func ExtractResponseMetadata(requestID, model string, thinkingBudget int, body []byte) ResponseMetadata {
	md := ResponseMetadata{
		RequestID:      requestID,
		ModelID:        model,
		ThinkingBudget: thinkingBudget,
		FinishReason:   FinishUnspecified,
	}

	if fr := gjson.GetBytes(body, "candidates.0.finishReason"); fr.Exists() {
		md.FinishReason = ParseFinishReason(fr.String())
	}

	if tk := gjson.GetBytes(body, "usageMetadata.thoughtsTokenCount"); tk.Exists() {
		md.ThinkingTokens = int(tk.Int())
		return md
	}

	// No usage metadata: estimate from the thought parts.
	var thought strings.Builder
	gjson.GetBytes(body, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if part.Get("thought").Bool() {
			thought.WriteString(part.Get("text").String())
		}
		return true
	})
	if thought.Len() > 0 {
		md.ThinkingTokens = EstimateTokens(thought.String())
	}
	return md
}

// ExtractSignatures pulls every thoughtSignature value from a response
// body, in document order.
func ExtractSignatures(body []byte) []string {
	var sigs []string
	gjson.GetBytes(body, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if sig := part.Get("thoughtSignature"); sig.Exists() && sig.String() != "" {
			sigs = append(sigs, sig.String())
		}
		return true
	})
	return sigs
}

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// EstimateTokens estimates the token count of text. Uses the cl100k_base
// tokenizer when available and falls back to the chars/4 approximation.
func EstimateTokens(text string) int {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Err(err).Msg("tokenizer unavailable, falling back to char estimate")
			return
		}
		encoder = enc
	})

	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}
	return len(text) / config.TokenEstimateRatio
}
