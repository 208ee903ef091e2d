package llm

import (
	"errors"
	"strings"
)

// ErrNoJSON is returned when no balanced JSON object can be found in the
// model output.
var ErrNoJSON = errors.New("no JSON object in model output")

// ExtractJSON recovers the first complete JSON object from model output
// that may be wrapped in prose or markdown code fences. Fences are
// stripped first, then the string is walked from the first '{' counting
// brace depth (string literals and escapes respected) until the matching
// '}' closes it.
func ExtractJSON(raw string) (string, error) {
	s := stripFences(raw)

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
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
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", ErrNoJSON
}

func stripFences(s string) string {
	for {
		open := strings.Index(s, "```")
		if open < 0 {
			return s
		}
		// Drop the fence line including an optional language tag.
		rest := s[open+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && looksLikeTag(rest[:nl]) {
			rest = rest[nl+1:]
		}
		s = s[:open] + rest
	}
}

func looksLikeTag(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	for _, r := range line {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
