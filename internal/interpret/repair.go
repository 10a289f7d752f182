package interpret

import (
	"regexp"
	"strings"
)

// Models emit tool calls as JSON-shaped text, not JSON. The repair
// pass fixes the breakage we actually see in the wild — trailing
// commas, raw newlines inside string literals, unescaped interior
// quotes — without attempting a general parser. Anything it cannot
// salvage fails the later parse and falls through to plain text.

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// Clip returns the substring of s from the first '{' to the last '}',
// inclusive. Returns "" if s contains no such span.
func Clip(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// Repair applies best-effort fixes to JSON-shaped text. The result is
// not guaranteed to parse; callers must still check.
func Repair(s string) string {
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = escapeNewlinesInStrings(s)
	s = escapeInteriorQuotes(s)
	return s
}

// escapeNewlinesInStrings replaces literal newlines and tabs occurring
// inside string literals with their escape sequences.
func escapeNewlinesInStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
				b.WriteByte(ch)
			case ch == '\\':
				escaped = true
				b.WriteByte(ch)
			case ch == '"':
				inString = false
				b.WriteByte(ch)
			case ch == '\n':
				b.WriteString(`\n`)
			case ch == '\r':
				b.WriteString(`\r`)
			case ch == '\t':
				b.WriteString(`\t`)
			default:
				b.WriteByte(ch)
			}
			continue
		}
		if ch == '"' {
			inString = true
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// escapeInteriorQuotes escapes double quotes that appear inside a
// string literal. A closing quote is recognized only when the next
// non-space character is a structural one (,:}]) or end of input;
// any other quote is treated as content the model forgot to escape.
func escapeInteriorQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !inString {
			if ch == '"' {
				inString = true
			}
			b.WriteByte(ch)
			continue
		}

		switch {
		case escaped:
			escaped = false
			b.WriteByte(ch)
		case ch == '\\':
			escaped = true
			b.WriteByte(ch)
		case ch == '"':
			if closesString(s, i+1) {
				inString = false
				b.WriteByte(ch)
			} else {
				b.WriteString(`\"`)
			}
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// closesString reports whether a quote at position i-1 plausibly ends
// a string literal, judged by the next non-space byte.
func closesString(s string, i int) bool {
	for ; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		case ',', ':', '}', ']':
			return true
		default:
			return false
		}
	}
	return true
}
