// HTTP request handling for the thinking proxy.
package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/thinking-gateway/internal/budget"
	"github.com/compresr/thinking-gateway/internal/config"
	"github.com/compresr/thinking-gateway/internal/detector"
	"github.com/compresr/thinking-gateway/internal/thinking"
	"github.com/compresr/thinking-gateway/internal/utils"
)

// writeError writes a JSON error response.
func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"message": msg, "type": "gateway_error"},
	})
}

// handleHealth returns gateway health status.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
		"uptime": time.Since(g.startTime).Truncate(time.Second).String(),
	})
}

// modelFromPath extracts the model ID from a generateContent path, e.g.
// /v1beta/models/gemini-2.5-flash:generateContent.
func modelFromPath(path string) string {
	const marker = "/models/"
	i := strings.Index(path, marker)
	if i < 0 {
		return ""
	}
	rest := path[i+len(marker):]
	if j := strings.IndexByte(rest, ':'); j >= 0 {
		return rest[:j]
	}
	return rest
}

// lastUserPrompt concatenates the text parts of the last user message.
func lastUserPrompt(body []byte) string {
	var prompt strings.Builder
	contents := gjson.GetBytes(body, "contents")
	contents.ForEach(func(_, msg gjson.Result) bool {
		if msg.Get("role").String() != "user" {
			return true
		}
		prompt.Reset()
		msg.Get("parts").ForEach(func(_, part gjson.Result) bool {
			prompt.WriteString(part.Get("text").String())
			return true
		})
		return true
	})
	return prompt.String()
}

// conversationID identifies the conversation for signature continuity:
// the client header when present, otherwise a hash of the first user turn.
func conversationID(r *http.Request, body []byte) string {
	if id := r.Header.Get("x-conversation-id"); id != "" {
		return id
	}
	first := gjson.GetBytes(body, "contents.0.parts.0.text").String()
	if first == "" {
		return uuid.NewString()
	}
	return "conv-" + budget.HashPrompt(first)
}

// handleProxy is the entry point for model requests.
func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.writeError(w, "read request body", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	model := modelFromPath(r.URL.Path)
	if model == "" {
		model = gjson.GetBytes(body, "model").String()
	}

	// Streaming responses are passed through untouched; the sufficiency
	// signal needs the final usage metadata, which SSE chunks do not
	// carry until the stream ends.
	if strings.Contains(r.URL.Path, ":streamGenerateContent") {
		g.passthrough(w, r, body)
		return
	}

	requestID := uuid.NewString()
	g.scanRequestViolations(model, body)
	body = g.guardForeignSignatures(model, body)

	prompt := lastUserPrompt(body)
	outBody, grantedBudget := g.prepareRequest(requestID, model, prompt, body)

	convID := conversationID(r, body)
	outBody = g.restoreSignature(convID, model, outBody)
	outBody = g.recoverToolSignatures(outBody)

	status, respBody, headers := g.forwardWithEscalation(r, requestID, model, grantedBudget, outBody)

	if status == http.StatusOK {
		g.harvestResponse(convID, model, prompt, grantedBudget, respBody)
	}

	for k, vals := range headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(status)
	_, _ = w.Write(respBody)
}

// prepareRequest chooses a thinking budget for the request and writes the
// matching control field. A budget the client set explicitly is respected,
// only clamped; otherwise the optimizer sizes one from the prompt.
func (g *Gateway) prepareRequest(requestID, model, prompt string, body []byte) ([]byte, int) {
	var grantedBudget int
	if explicit := gjson.GetBytes(body, "generationConfig.thinkingConfig.thinkingBudget"); explicit.Exists() {
		grantedBudget = int(explicit.Int())
	} else if g.cfg.Budget.Enabled {
		grantedBudget = g.optimizer.CalculateOptimalBudget(prompt, model)
	} else {
		grantedBudget = config.BudgetModerate
	}

	if err := thinking.ValidateThinkingConfig(model, body); err != nil {
		var cv *thinking.ConfigViolation
		if errors.As(err, &cv) && cv.Kind == thinking.ViolationLevel {
			g.violations.RecordLevelViolation(model)
		} else {
			g.violations.RecordBudgetViolation(model)
		}
		log.Warn().Err(err).Str("request_id", requestID).Msg("thinking config violation, rewriting")
	}

	out, err := thinking.ApplyThinking(body, model, grantedBudget)
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("failed to apply thinking config")
		return body, grantedBudget
	}
	return out, grantedBudget
}

// forwardWithEscalation sends the request upstream and, when the response
// comes back with truncated thinking, retries with the next budget rung
// until the detector is satisfied or the retry ceiling is reached.
func (g *Gateway) forwardWithEscalation(r *http.Request, requestID, model string, grantedBudget int, body []byte) (int, []byte, http.Header) {
	currentModel := model
	currentBudget := grantedBudget
	escalated := false

	for {
		status, respBody, headers, err := g.forward(r, currentModel, body)
		if err != nil {
			if escalated {
				g.escalation.MarkOutcome(requestID, false)
			}
			log.Error().Err(err).Str("request_id", requestID).Msg("upstream request failed")
			errBody, _ := json.Marshal(map[string]interface{}{
				"error": map[string]string{"message": "upstream unavailable", "type": "gateway_error"},
			})
			return http.StatusBadGateway, errBody, nil
		}
		if status != http.StatusOK {
			if escalated {
				g.escalation.MarkOutcome(requestID, false)
			}
			return status, respBody, headers
		}

		md := thinking.ExtractResponseMetadata(requestID, currentModel, currentBudget, respBody)
		res := g.detector.Detect(md)
		if !res.Insufficient {
			if escalated {
				g.escalation.MarkOutcome(requestID, true)
			}
			return status, respBody, headers
		}
		// The previous rung did not clear the truncation.
		if escalated {
			g.escalation.MarkOutcome(requestID, false)
		}
		if !g.escalation.ShouldEscalate(requestID) {
			return status, respBody, headers
		}

		switched := false
		if detector.ShouldSwitchToPro(res.RecommendedBudget) && thinking.IsFlashModel(currentModel) {
			currentModel = strings.Replace(currentModel, "-flash", "-pro", 1)
			switched = true
		}

		g.escalation.RecordEscalation(detector.EscalationRecord{
			RequestID:       requestID,
			OriginalBudget:  res.CurrentBudget,
			EscalatedBudget: res.RecommendedBudget,
			ModelSwitch:     switched,
			FinishReason:    string(md.FinishReason),
		})

		currentBudget = res.RecommendedBudget
		rewritten, err := thinking.ApplyThinking(body, currentModel, currentBudget)
		if err != nil {
			g.escalation.MarkOutcome(requestID, false)
			return status, respBody, headers
		}
		body = rewritten
		escalated = true

		log.Info().
			Str("request_id", requestID).
			Str("model", currentModel).
			Int("budget", currentBudget).
			Msg("retrying with escalated thinking budget")
	}
}

// forward performs one upstream round trip, carrying the client's auth
// headers through.
func (g *Gateway) forward(r *http.Request, model string, body []byte) (int, []byte, http.Header, error) {
	path := r.URL.Path
	if orig := modelFromPath(path); orig != "" && orig != model {
		path = strings.Replace(path, "/models/"+orig, "/models/"+model, 1)
	}

	target := g.cfg.Server.Upstream + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, h := range []string{"Authorization", "x-goog-api-key", "x-api-key"} {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("upstream round trip: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read upstream response: %w", err)
	}
	return resp.StatusCode, respBody, resp.Header, nil
}

// passthrough proxies a request without inspection.
func (g *Gateway) passthrough(w http.ResponseWriter, r *http.Request, body []byte) {
	target := g.cfg.Server.Upstream + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
	if err != nil {
		g.writeError(w, "build upstream request", http.StatusInternalServerError)
		return
	}
	req.Header = r.Header.Clone()

	resp, err := g.client.Do(req)
	if err != nil {
		g.writeError(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// scanRequestViolations walks the request contents looking for thought
// signatures outside the first part of a message.
func (g *Gateway) scanRequestViolations(model string, body []byte) {
	gjson.GetBytes(body, "contents").ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		idx := 0
		msg.Get("parts").ForEach(func(_, part gjson.Result) bool {
			if part.Get("thoughtSignature").Exists() && idx > 0 {
				g.violations.RecordPositionViolation(idx, role)
			}
			idx++
			return true
		})
		return true
	})
}

// harvestResponse pulls signatures and quality feedback out of a
// successful response.
func (g *Gateway) harvestResponse(convID, model, prompt string, grantedBudget int, respBody []byte) {
	sigs := thinking.ExtractSignatures(respBody)
	for _, sig := range sigs {
		g.continuity.Put(convID, model, sig)
		g.tables.StoreSignatureFamily(sig, modelFamily(model))
		log.Debug().Str("signature", utils.MaskSignature(sig)).Msg("signature cached")
	}
	g.harvestToolSignatures(respBody)

	if prompt == "" || !g.cfg.Budget.Enabled {
		return
	}

	md := thinking.ExtractResponseMetadata("", model, grantedBudget, respBody)
	quality := qualityScore(md.FinishReason)
	used := md.ThinkingTokens
	if used == 0 {
		used = grantedBudget
	}
	g.optimizer.RecordFeedback(prompt, used, quality)
}

// harvestToolSignatures caches response signatures under their tool call
// IDs, so a later continuation can recover them when the client strips
// signatures from the transcript. A functionCall part without its own
// signature inherits the last thought signature before it.
func (g *Gateway) harvestToolSignatures(respBody []byte) {
	lastSig := ""
	gjson.GetBytes(respBody, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if s := part.Get("thoughtSignature").String(); s != "" {
			lastSig = s
		}
		id := part.Get("functionCall.id").String()
		if id == "" || lastSig == "" {
			return true
		}
		g.tables.StoreToolSignature(id, lastSig)
		log.Debug().
			Str("tool_id", id).
			Str("signature", utils.MaskSignature(lastSig)).
			Msg("tool signature cached")
		return true
	})
}

// recoverToolSignatures re-attaches cached signatures to functionCall
// parts that arrived without one.
func (g *Gateway) recoverToolSignatures(body []byte) []byte {
	contents := gjson.GetBytes(body, "contents").Array()
	for i, msg := range contents {
		if msg.Get("role").String() != "model" {
			continue
		}
		for j, part := range msg.Get("parts").Array() {
			id := part.Get("functionCall.id").String()
			if id == "" || part.Get("thoughtSignature").Exists() {
				continue
			}
			sig, ok := g.tables.LookupToolSignature(id)
			if !ok {
				continue
			}
			path := fmt.Sprintf("contents.%d.parts.%d.thoughtSignature", i, j)
			out, err := sjson.SetBytes(body, path, sig)
			if err != nil {
				continue
			}
			body = out
			log.Debug().
				Str("tool_id", id).
				Str("signature", utils.MaskSignature(sig)).
				Msg("recovered tool signature")
		}
	}
	return body
}

// guardForeignSignatures strips inbound thought signatures that a
// different model family minted. Upstream rejects a replayed foreign
// signature outright; dropping it degrades the turn to plain text
// instead. Signatures with no family record pass through.
func (g *Gateway) guardForeignSignatures(model string, body []byte) []byte {
	target := modelFamily(model)
	contents := gjson.GetBytes(body, "contents").Array()
	for i, msg := range contents {
		for j, part := range msg.Get("parts").Array() {
			sig := part.Get("thoughtSignature").String()
			if sig == "" {
				continue
			}
			family, ok := g.tables.LookupSignatureFamily(sig)
			if !ok || family == target {
				continue
			}
			path := fmt.Sprintf("contents.%d.parts.%d.thoughtSignature", i, j)
			out, err := sjson.DeleteBytes(body, path)
			if err != nil {
				continue
			}
			body = out
			log.Warn().
				Str("family", family).
				Str("target", target).
				Str("signature", utils.MaskSignature(sig)).
				Msg("dropped incompatible signature")
		}
	}
	return body
}

// restoreSignature re-attaches a cached continuity signature when the
// request's last model turn lost its own.
func (g *Gateway) restoreSignature(convID, model string, body []byte) []byte {
	contents := gjson.GetBytes(body, "contents").Array()
	lastModel := -1
	for i, msg := range contents {
		if msg.Get("role").String() == "model" {
			lastModel = i
		}
	}
	if lastModel < 0 {
		return body
	}
	if contents[lastModel].Get("parts.0.thoughtSignature").Exists() {
		return body
	}

	sig, ok := g.continuity.Get(convID, model)
	if !ok {
		return body
	}

	path := fmt.Sprintf("contents.%d.parts.0.thoughtSignature", lastModel)
	out, err := sjson.SetBytes(body, path, sig)
	if err != nil {
		return body
	}
	log.Debug().Str("signature", utils.MaskSignature(sig)).Msg("restored cached signature")
	return out
}

// qualityScore maps a finish reason onto the optimizer's feedback scale.
// Clean stops read as good budgets; truncation reads as a starved one.
func qualityScore(fr thinking.FinishReason) float64 {
	switch fr {
	case thinking.FinishStop:
		return 0.9
	case thinking.FinishMaxTokens:
		return 0.3
	default:
		return 0.5
	}
}

// modelFamily collapses a model ID to its generation prefix, e.g.
// gemini-2.5-flash -> gemini-2.5.
func modelFamily(model string) string {
	parts := strings.Split(model, "-")
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return model
}
