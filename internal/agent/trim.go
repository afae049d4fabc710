package agent

import (
	"fmt"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/pkg/models"
)

const (
	// maxInlinePosts is the largest posts/reels array kept inline in a
	// persisted function response.
	maxInlinePosts = 3

	// maxInlineResults is how many entries of a results array survive
	// persistence.
	maxInlineResults = 5
)

// TrimHistory compacts a history for persistence between turns:
// thought parts are dropped, and large tool-result arrays are replaced
// by short placeholders that preserve counts and scalar summaries.
// Function-call parts pass through verbatim.
func TrimHistory(history []models.Turn) []models.Turn {
	trimmed := make([]models.Turn, 0, len(history))
	for _, turn := range history {
		parts := make([]models.Part, 0, len(turn.Parts))
		for _, part := range turn.Parts {
			if part.Thought {
				continue
			}
			if part.FunctionResponse != nil {
				part = models.Part{FunctionResponse: &models.FunctionResponse{
					Name:     part.FunctionResponse.Name,
					Response: trimPayload(part.FunctionResponse.Response),
				}}
			}
			parts = append(parts, part)
		}
		if len(parts) == 0 {
			continue
		}
		trimmed = append(trimmed, models.Turn{Role: turn.Role, Parts: parts})
	}
	return trimmed
}

func trimPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		switch key {
		case "posts", "reels":
			if arr := asSlice(value); arr != nil && len(arr) > maxInlinePosts {
				out[key] = fmt.Sprintf("[%d %s — trimmed for context]", len(arr), key)
				continue
			}
		case "results":
			if arr := asSlice(value); arr != nil && len(arr) > maxInlineResults {
				out[key] = arr[:maxInlineResults]
				out["_trimmed"] = true
				continue
			}
		}
		out[key] = value
	}
	return out
}

func asSlice(v any) []any {
	switch arr := v.(type) {
	case []any:
		return arr
	case []map[string]any:
		out := make([]any, len(arr))
		for i, item := range arr {
			out[i] = item
		}
		return out
	default:
		return nil
	}
}
