package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"manual-rag/internal/models"
)

// RepairJSON decodes s into v. When s is cut off mid-value it closes an open
// string, drops a dangling comma or key separator, and closes every open
// object and array, then decodes once more. Nothing else is guessed: if the
// repaired text still does not decode, ErrRepairFailed is returned.
func RepairJSON(s string, v any) error {
	s = stripCodeFence(s)
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}

	repaired, ok := closeTruncated(s)
	if !ok {
		return fmt.Errorf("%w: nothing to repair", models.ErrRepairFailed)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("%w: %w", models.ErrRepairFailed, err)
	}
	return nil
}

func closeTruncated(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		return "", false
	}

	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return "", false
			}
			stack = stack[:len(stack)-1]
		}
	}
	if !inString && len(stack) == 0 {
		return "", false
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		if escaped {
			// a lone trailing backslash would escape the closing quote
			trimmed := strings.TrimSuffix(b.String(), `\`)
			b.Reset()
			b.WriteString(trimmed)
		}
		b.WriteByte('"')
	}

	out := strings.TrimRight(b.String(), " \t\r\n")
	switch {
	case strings.HasSuffix(out, ","):
		out = strings.TrimSuffix(out, ",")
	case strings.HasSuffix(out, ":"):
		out += `""`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out, true
}

// stripCodeFence removes a ```json fence some models wrap around output
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
