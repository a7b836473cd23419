package decision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

// fenceRe captures the payload inside ```json ... ``` fences that most
// models wrap structured output in.
var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

var validActions = map[string]bool{
	"LONG": true, "SHORT": true, "CLOSE": true, "HOLD": true, "ANALYZE": true,
}

// ParseActions extracts trading actions from an LLM response. A
// response with no JSON payload at all is a HOLD (empty slice, nil
// error); a JSON payload that fails to parse is an error.
func ParseActions(text string) ([]models.BotAction, error) {
	payload := extractPayload(text)
	if payload == "" {
		return nil, nil
	}

	var actions []models.BotAction
	if err := json.Unmarshal([]byte(payload), &actions); err != nil {
		// Some models return a single object or wrap the list.
		var single models.BotAction
		if serr := json.Unmarshal([]byte(payload), &single); serr == nil && single.Action != "" {
			actions = []models.BotAction{single}
		} else {
			var wrapped struct {
				Actions []models.BotAction `json:"actions"`
			}
			if werr := json.Unmarshal([]byte(payload), &wrapped); werr != nil || wrapped.Actions == nil {
				return nil, fmt.Errorf("failed to parse actions: %w", err)
			}
			actions = wrapped.Actions
		}
	}

	out := actions[:0]
	for _, a := range actions {
		a.Action = strings.ToUpper(strings.TrimSpace(a.Action))
		if !validActions[a.Action] {
			return nil, fmt.Errorf("unknown action %q", a.Action)
		}
		out = append(out, a)
	}
	return out, nil
}

// extractPayload returns the JSON portion of a response: the fenced
// block when present, otherwise the outermost bracketed span.
func extractPayload(text string) string {
	if m := fenceRe.FindStringSubmatch(text); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		return trimmed
	}
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			return trimmed[start : end+1]
		}
	}
	return ""
}
