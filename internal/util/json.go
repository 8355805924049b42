package util

import (
	"regexp"
	"strings"
)

// Precompiled regex patterns for performance (compiled once at package init)
var (
	jsonCodeBlockRegex = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")
)

// ExtractJSON extracts JSON content from a response that may contain markdown
// code blocks and attempts to fix truncated JSON arrays and objects.
// Handles both arrays [] and objects {}; whichever opens first wins, so an
// object containing nested arrays is not mistaken for a bare array.
func ExtractJSON(s string) string {
	// Try to extract from markdown code blocks using precompiled regex
	matches := jsonCodeBlockRegex.FindStringSubmatch(s)
	if len(matches) > 1 {
		s = strings.TrimSpace(matches[1])
	} else {
		s = strings.TrimSpace(s)
	}

	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')

	var start int
	var openChar, closeChar rune
	switch {
	case objStart == -1 && arrStart == -1:
		return s
	case arrStart == -1 || (objStart != -1 && objStart < arrStart):
		start, openChar, closeChar = objStart, '{', '}'
	default:
		start, openChar, closeChar = arrStart, '[', ']'
	}

	if end := findMatchingBracket(s, start, openChar, closeChar); end != -1 {
		return s[start : end+1]
	}

	// Truncated: the model ran out of tokens mid-document
	frag := s[start:]
	if countUnmatchedBraces(frag, '{', '}') == 0 && countUnmatchedBraces(frag, '[', ']') == 0 {
		return frag
	}
	return closeTruncated(frag)
}

// RepairJSON fixes common malformations in model-produced JSON: unescaped
// newlines inside strings, trailing or duplicated commas, missing commas
// between elements, and unbalanced brackets.
func RepairJSON(s string) string {
	return closeTruncated(fixCommas(SanitizeJSON(s)))
}

// fixCommas removes commas that precede a closing bracket or another comma
// and inserts the comma the model forgot between adjacent elements. String
// contents are never touched.
func fixCommas(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	inString := false
	escaped := false
	var prev byte // last significant byte outside strings

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if inString {
			out.WriteByte(ch)
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
				prev = '"'
			}
			continue
		}

		switch ch {
		case '"', '{', '[':
			// A new element right after a finished one means a comma
			// was dropped
			if prev == '"' || prev == '}' || prev == ']' {
				out.WriteByte(',')
			}
			out.WriteByte(ch)
			if ch == '"' {
				inString = true
			} else {
				prev = ch
			}
		case ',':
			// Drop the comma when nothing follows it but a close or
			// another comma
			j := i + 1
			for j < len(s) && isJSONSpace(s[j]) {
				j++
			}
			if j >= len(s) || s[j] == ',' || s[j] == ']' || s[j] == '}' {
				continue
			}
			out.WriteByte(ch)
			prev = ch
		case ' ', '\t', '\n', '\r':
			out.WriteByte(ch)
		default:
			out.WriteByte(ch)
			prev = ch
		}
	}

	return out.String()
}

// closeTruncated balances a JSON fragment cut off mid-document: an open
// string is terminated, a dangling comma dropped, and every unmatched
// bracket closed in nesting order.
func closeTruncated(s string) string {
	s = strings.TrimRight(s, " \t\n\r,")
	if s == "" {
		return s
	}

	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			stack = append(stack, '}')
		case ch == '[':
			stack = append(stack, ']')
		case ch == '}' || ch == ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var out strings.Builder
	out.WriteString(s)
	if inString {
		out.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out.WriteByte(stack[i])
	}
	return out.String()
}

// countUnmatchedBraces counts opening brackets without a matching close,
// ignoring bracket characters inside strings
func countUnmatchedBraces(s string, openChar, closeChar rune) int {
	count := 0
	inString := false
	escaped := false

	for _, ch := range s {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == openChar:
			count++
		case ch == closeChar:
			if count > 0 {
				count--
			}
		}
	}

	return count
}

// findMatchingBracket finds the matching closing bracket for an opening
// bracket, skipping bracket characters inside strings.
// Returns -1 if no matching bracket is found.
func findMatchingBracket(s string, startPos int, openChar, closeChar rune) int {
	count := 0
	inString := false
	escaped := false

	for i := startPos; i < len(s); i++ {
		ch := rune(s[i])

		if escaped {
			escaped = false
			continue
		}

		if ch == '\\' {
			escaped = true
			continue
		}

		if ch == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if ch == openChar {
				count++
			} else if ch == closeChar {
				count--
				if count == 0 {
					return i
				}
			}
		}
	}

	return -1
}

// SanitizeJSON fixes common JSON issues from LLM responses
// Specifically handles unescaped newlines in string values
func SanitizeJSON(s string) string {
	var result strings.Builder
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			result.WriteByte(ch)
			escaped = false
			continue
		}

		if ch == '\\' {
			result.WriteByte(ch)
			escaped = true
			continue
		}

		if ch == '"' {
			result.WriteByte(ch)
			inString = !inString
			continue
		}

		// Replace literal newlines in strings with \n
		if inString && (ch == '\n' || ch == '\r') {
			result.WriteString("\\n")
			// Skip \r if followed by \n
			if ch == '\r' && i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			continue
		}

		result.WriteByte(ch)
	}

	return result.String()
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
