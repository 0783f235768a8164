package invoker

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// ExtractJSON tries, in order, the extraction strategies an agent's raw
// output is checked against: the whole trimmed output as bare JSON, the
// last fenced ```json code block, then the last balanced-brace span. An
// agent that reasons in prose before answering tends to emit its final
// JSON last, so "last" rather than "first" is what actually picks out the
// answer instead of an example or a quoted fragment earlier in the
// output. The first strategy that parses wins.
func ExtractJSON(raw []byte) (map[string]any, error) {
	text := string(raw)

	if payload, ok := tryParse(strings.TrimSpace(text)); ok {
		return payload, nil
	}

	if matches := fencedJSONBlock.FindAllStringSubmatch(text, -1); len(matches) > 0 {
		last := matches[len(matches)-1]
		if payload, ok := tryParse(strings.TrimSpace(last[1])); ok {
			return payload, nil
		}
	}

	if span, ok := balancedBraceSpan(text); ok {
		if payload, ok := tryParse(span); ok {
			return payload, nil
		}
	}

	return nil, fmt.Errorf("invoker: no JSON object found in agent output")
}

func tryParse(s string) (map[string]any, bool) {
	if s == "" {
		return nil, false
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// balancedBraceSpan returns the last top-level '{' ... '}' span in s,
// scanning string literals so that braces inside quoted values don't
// unbalance the count.
func balancedBraceSpan(s string) (string, bool) {
	spans := allBalancedBraceSpans(s)
	if len(spans) == 0 {
		return "", false
	}
	return spans[len(spans)-1], true
}

// allBalancedBraceSpans finds every non-overlapping top-level balanced
// brace span in s, left to right.
func allBalancedBraceSpans(s string) []string {
	var spans []string
	for i := 0; i < len(s); {
		rel := strings.IndexByte(s[i:], '{')
		if rel < 0 {
			break
		}
		start := i + rel
		end, ok := matchBrace(s, start)
		if !ok {
			i = start + 1
			continue
		}
		spans = append(spans, s[start:end+1])
		i = end + 1
	}
	return spans
}

// matchBrace returns the index of the '}' matching the '{' at start.
func matchBrace(s string, start int) (int, bool) {
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
				return i, true
			}
		}
	}
	return 0, false
}
