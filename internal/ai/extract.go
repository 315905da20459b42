package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNoJSONArray = errors.New("no json array in response")

// ExtractJSONArray recovers the first JSON array from a model response. The
// array may be wrapped in prose or a markdown code fence. Anything that does
// not decode to an array is an error.
func ExtractJSONArray(resp string) ([]json.RawMessage, error) {
	cleaned := strings.TrimSpace(resp)

	// Prefer the body of a fenced block if there is one.
	if body, ok := fencedBlock(cleaned); ok {
		cleaned = body
	}

	arr, ok := extractBalanced(cleaned, '[', ']')
	if !ok {
		return nil, ErrNoJSONArray
	}
	if nestedInObject(cleaned, strings.IndexByte(cleaned, '[')) {
		return nil, fmt.Errorf("%w: response is an object", ErrNoJSONArray)
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(arr), &items); err != nil {
		return nil, fmt.Errorf("failed to parse llm json: %w", err)
	}
	return items, nil
}

// nestedInObject reports whether a balanced {...} span that opens before pos
// also closes after it. Braces in surrounding prose do not count.
func nestedInObject(s string, pos int) bool {
	off := 0
	for off < pos {
		span, ok := extractBalanced(s[off:], '{', '}')
		if !ok {
			return false
		}
		start := off + strings.IndexByte(s[off:], '{')
		if start >= pos {
			return false
		}
		end := start + len(span)
		if end > pos {
			return true
		}
		off = end
	}
	return false
}

func fencedBlock(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start == -1 {
		return "", false
	}
	rest := s[start+3:]
	// skip the info string (```json)
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

// extractBalanced finds the first outermost balanced open...close span,
// ignoring brackets inside JSON strings.
func extractBalanced(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if char == open {
				depth++
			} else if char == close {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}

	return "", false
}
