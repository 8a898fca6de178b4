// Package parser extracts JSON payloads from inference service output.
//
// The model is asked for bare JSON but sometimes wraps it in a markdown code
// fence or surrounds it with prose. Extraction degrades to an empty result
// on unparseable input; it never fails the caller.
package parser

import (
	"encoding/json"
	"strings"

	"archive-backend/internal/shared/telemetry"
)

const logSnippetLen = 300

// List parses text as a JSON array of objects, tolerating markdown fences
// and surrounding prose. Returns an empty slice if no array can be found.
func List(text string) []map[string]any {
	cleaned := stripMarkdownFences(text)

	var out []map[string]any
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return out
	}

	// Fallback: the outermost bracket pair in the raw text.
	if candidate, ok := bounded(cleaned, '[', ']'); ok {
		out = nil
		if err := json.Unmarshal([]byte(candidate), &out); err == nil {
			return out
		}
	}

	telemetry.Warn("parser.list_failed", map[string]any{"input": snippet(text)})
	return []map[string]any{}
}

// Dict parses text as a JSON object, tolerating markdown fences and
// surrounding prose. Returns an empty map if no object can be found.
func Dict(text string) map[string]any {
	cleaned := stripMarkdownFences(text)

	var out map[string]any
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return out
	}

	if candidate, ok := bounded(cleaned, '{', '}'); ok {
		out = nil
		if err := json.Unmarshal([]byte(candidate), &out); err == nil {
			return out
		}
	}

	telemetry.Warn("parser.dict_failed", map[string]any{"input": snippet(text)})
	return map[string]any{}
}

// stripMarkdownFences removes a ```json ... ``` wrapper if present.
func stripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if idx := strings.IndexByte(text, '\n'); idx >= 0 {
			text = text[idx+1:]
		}
	}
	if strings.HasSuffix(strings.TrimSpace(text), "```") {
		trimmed := strings.TrimSpace(text)
		text = trimmed[:strings.LastIndex(trimmed, "```")]
	}
	return strings.TrimSpace(text)
}

// bounded returns the substring from the first open delimiter to the last
// close delimiter, inclusive.
func bounded(text string, open, close byte) (string, bool) {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(text, close)
	if end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func snippet(text string) string {
	if len(text) > logSnippetLen {
		return text[:logSnippetLen]
	}
	return text
}
