package llm

import (
	"encoding/json"
	"fmt"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

// ExtractJSON returns the first balanced {...} substring of s, honoring
// string literals and escapes. Model responses routinely wrap their JSON in
// prose or markdown fences; the caller still type-checks the decoded shape.
func ExtractJSON(s string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if start >= 0 && inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start >= 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], nil
				}
			}
		case '"':
			if start >= 0 {
				inString = true
			}
		}
	}
	return "", fmt.Errorf("%w: no JSON object found in model response", core.ErrModelFailure)
}

// DecodeResponse extracts the first JSON object from a model response and
// unmarshals it into out. A shape mismatch is a model failure, not a caller
// bug.
func DecodeResponse(response string, out any) error {
	obj, err := ExtractJSON(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return fmt.Errorf("%w: response shape mismatch: %v", core.ErrModelFailure, err)
	}
	return nil
}
