package ai

import (
	"encoding/json"
	"strings"
)

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(text string) string {
	s := strings.TrimSpace(text)

	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}

	body := s[start+3:]

	// drop the info string ("json")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}

	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}

	return strings.TrimSpace(body)
}

// ExtractJSON finds the JSON payload in a model response: the whole
// response after fence stripping, else the first balanced array or object.
func ExtractJSON(text string) (json.RawMessage, error) {
	s := StripFences(text)
	if s == "" {
		return nil, ErrNoStructuredData
	}

	if json.Valid([]byte(s)) {
		return json.RawMessage(s), nil
	}

	for i := 0; i < len(s); i++ {
		if s[i] != '[' && s[i] != '{' {
			continue
		}

		end := balancedEnd(s, i)
		if end < 0 {
			continue
		}

		if candidate := s[i : end+1]; json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}

	return nil, ErrNoStructuredData
}

// balancedEnd returns the index of the bracket closing s[start], skipping
// brackets inside JSON strings, or -1.
func balancedEnd(s string, start int) int {
	var (
		stack    []byte
		inString bool
		escaped  bool
	)

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
		case '[':
			stack = append(stack, ']')
		case '{':
			stack = append(stack, '}')
		case ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}

			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}

	return -1
}

// splitItems turns a payload into a list of candidate items. Arrays are
// used as is; an object wrapping an array under a common key is unwrapped;
// any other object is a single item.
func splitItems(payload json.RawMessage) []json.RawMessage {
	var items []json.RawMessage
	if err := json.Unmarshal(payload, &items); err == nil {
		return items
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil
	}

	for _, key := range []string{"records", "offenders", "data", "items"} {
		if inner, ok := obj[key]; ok {
			if err := json.Unmarshal(inner, &items); err == nil {
				return items
			}
		}
	}

	return []json.RawMessage{payload}
}
