package thinking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestParseFinishReason(t *testing.T) {
	assert.Equal(t, FinishStop, ParseFinishReason("STOP"))
	assert.Equal(t, FinishStop, ParseFinishReason("stop"))
	assert.Equal(t, FinishMaxTokens, ParseFinishReason("MAX_TOKENS"))
	assert.Equal(t, FinishUnspecified, ParseFinishReason(""))
	assert.Equal(t, FinishUnspecified, ParseFinishReason("SOMETHING_NEW"))
}

func TestApplyThinkingBudgetFamily(t *testing.T) {
	body := []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)

	out, err := ApplyThinking(body, "gemini-2.5-flash", 12000)
	require.NoError(t, err)

	assert.Equal(t, int64(12000), gjson.GetBytes(out, "generationConfig.thinkingConfig.thinkingBudget").Int())
	assert.False(t, gjson.GetBytes(out, "generationConfig.thinkingConfig.thinkingLevel").Exists())
}

func TestApplyThinkingLevelFamily(t *testing.T) {
	body := []byte(`{"generationConfig":{"thinkingConfig":{"thinkingBudget":8000}}}`)

	out, err := ApplyThinking(body, "gemini-3-flash", 8000)
	require.NoError(t, err)

	assert.Equal(t, "LOW", gjson.GetBytes(out, "generationConfig.thinkingConfig.thinkingLevel").String())
	// The numeric budget must be stripped; the model rejects both at once.
	assert.False(t, gjson.GetBytes(out, "generationConfig.thinkingConfig.thinkingBudget").Exists())
}

func TestApplyThinkingClamps(t *testing.T) {
	body := []byte(`{}`)

	out, err := ApplyThinking(body, "gemini-2.5-pro", 99999)
	require.NoError(t, err)
	assert.Equal(t, int64(32000), gjson.GetBytes(out, "generationConfig.thinkingConfig.thinkingBudget").Int())

	out, err = ApplyThinking(body, "gemini-2.5-pro", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gjson.GetBytes(out, "generationConfig.thinkingConfig.thinkingBudget").Int())
}

func TestValidateThinkingConfig(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		body    string
		wantErr bool
	}{
		{"no thinking config", "gemini-3-flash", `{}`, false},
		{"budget on budget family", "gemini-2.5-flash",
			`{"generationConfig":{"thinkingConfig":{"thinkingBudget":8000}}}`, false},
		{"budget on level family", "gemini-3-flash",
			`{"generationConfig":{"thinkingConfig":{"thinkingBudget":8000}}}`, true},
		{"level on budget family", "gemini-2.5-flash",
			`{"generationConfig":{"thinkingConfig":{"thinkingLevel":"LOW"}}}`, true},
		{"valid level on level family", "gemini-3-flash",
			`{"generationConfig":{"thinkingConfig":{"thinkingLevel":"MEDIUM"}}}`, false},
		{"medium on pro", "gemini-3-pro",
			`{"generationConfig":{"thinkingConfig":{"thinkingLevel":"MEDIUM"}}}`, true},
		{"low on pro", "gemini-3-pro",
			`{"generationConfig":{"thinkingConfig":{"thinkingLevel":"LOW"}}}`, false},
		{"non-gemini passes", "gpt-4o",
			`{"generationConfig":{"thinkingConfig":{"thinkingLevel":"WHATEVER"}}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateThinkingConfig(tt.model, []byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateThinkingConfigKinds(t *testing.T) {
	var cv *ConfigViolation

	err := ValidateThinkingConfig("gemini-3-flash",
		[]byte(`{"generationConfig":{"thinkingConfig":{"thinkingBudget":8000}}}`))
	require.ErrorAs(t, err, &cv)
	assert.Equal(t, ViolationBudget, cv.Kind)

	err = ValidateThinkingConfig("gemini-2.5-flash",
		[]byte(`{"generationConfig":{"thinkingConfig":{"thinkingLevel":"LOW"}}}`))
	require.ErrorAs(t, err, &cv)
	assert.Equal(t, ViolationLevel, cv.Kind)

	err = ValidateThinkingConfig("gemini-3-pro",
		[]byte(`{"generationConfig":{"thinkingConfig":{"thinkingLevel":"MEDIUM"}}}`))
	require.ErrorAs(t, err, &cv)
	assert.Equal(t, ViolationLevel, cv.Kind)
}

func TestExtractResponseMetadata(t *testing.T) {
	body := []byte(`{
		"candidates":[{"finishReason":"MAX_TOKENS","content":{"parts":[{"text":"partial"}]}}],
		"usageMetadata":{"thoughtsTokenCount":4000}
	}`)

	md := ExtractResponseMetadata("req-1", "gemini-2.5-flash", 4096, body)
	assert.Equal(t, "req-1", md.RequestID)
	assert.Equal(t, FinishMaxTokens, md.FinishReason)
	assert.Equal(t, 4000, md.ThinkingTokens)
	assert.Equal(t, 4096, md.ThinkingBudget)
}

func TestExtractResponseMetadataEstimatesWithoutUsage(t *testing.T) {
	body := []byte(`{
		"candidates":[{"finishReason":"STOP","content":{"parts":[
			{"thought":true,"text":"let me think about this problem carefully and at length"},
			{"text":"the answer"}
		]}}]
	}`)

	md := ExtractResponseMetadata("req-2", "gemini-2.5-flash", 8000, body)
	assert.Equal(t, FinishStop, md.FinishReason)
	assert.Greater(t, md.ThinkingTokens, 0)
}

func TestExtractSignatures(t *testing.T) {
	body := []byte(`{
		"candidates":[{"content":{"parts":[
			{"thought":true,"text":"...","thoughtSignature":"sigA"},
			{"text":"answer"},
			{"text":"more","thoughtSignature":"sigB"}
		]}}]
	}`)

	sigs := ExtractSignatures(body)
	assert.Equal(t, []string{"sigA", "sigB"}, sigs)

	assert.Empty(t, ExtractSignatures([]byte(`{"candidates":[{"content":{"parts":[{"text":"x"}]}}]}`)))
}

func TestIsLevelFamily(t *testing.T) {
	assert.True(t, IsLevelFamily("gemini-3-flash"))
	assert.True(t, IsLevelFamily("gemini-3-pro-preview"))
	assert.False(t, IsLevelFamily("gemini-2.5-flash"))
	assert.False(t, IsLevelFamily("gpt-4o"))
}
