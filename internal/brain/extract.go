package brain

import (
	"strings"

	"github.com/valyala/fastjson"
)

// ExtractJSON applies the three-layer robust extraction spec.md §6
// requires of every format_json caller: (1) the raw text parses as JSON
// outright, (2) strip a markdown code fence and retry, (3) scan for the
// first balanced brace-delimited object anywhere in the text. Returns the
// raw JSON text and true on success, or "" and false if no layer yields a
// valid object.
func ExtractJSON(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	if valid(raw) {
		return raw, true
	}

	if fenced := stripFence(raw); fenced != raw {
		fenced = strings.TrimSpace(fenced)
		if valid(fenced) {
			return fenced, true
		}
	}

	if obj, ok := balancedBraceScan(raw); ok {
		return obj, true
	}
	return "", false
}

func valid(s string) bool {
	var p fastjson.Parser
	_, err := p.Parse(s)
	return err == nil
}

// stripFence removes a leading ```(json)?\n ... \n``` wrapper, if present.
func stripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimPrefix(trimmed, "json")
	trimmed = strings.TrimPrefix(trimmed, "JSON")
	trimmed = strings.TrimPrefix(trimmed, "\n")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}

// balancedBraceScan finds the first `{...}` span with matched braces
// (string-literal-aware, so a brace inside a quoted value doesn't throw
// off the count) and returns it if fastjson can parse it.
func balancedBraceScan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
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
				candidate := s[start : i+1]
				if valid(candidate) {
					return candidate, true
				}
				return balancedBraceScan(s[i+1:])
			}
		}
	}
	return "", false
}
