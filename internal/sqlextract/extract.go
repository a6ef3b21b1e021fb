// Package sqlextract isolates a single SELECT statement from model output.
package sqlextract

import (
	"regexp"
	"strings"
	"unicode"
)

const fence = "```"

var (
	lineLeadingSelect = regexp.MustCompile(`(?im)^[ \t]*(select)\b`)
	anySelect         = regexp.MustCompile(`(?i)\bselect\b`)
)

// Extract returns the first SELECT statement in raw, cut at its first
// top-level terminator, with whitespace collapsed. ok is false when raw holds
// no SELECT keyword.
func Extract(raw string) (stmt string, ok bool) {
	text := unfence(raw)

	start := -1
	if loc := lineLeadingSelect.FindStringSubmatchIndex(text); loc != nil {
		start = loc[2]
	} else if loc := anySelect.FindStringIndex(text); loc != nil {
		start = loc[0]
	}
	if start < 0 {
		return "", false
	}

	stmt = collapseSpace(cutStatement(text[start:]))
	return stmt, stmt != ""
}

// unfence prefers the first fenced block containing SELECT and otherwise
// drops fence markers from the whole text.
func unfence(raw string) string {
	if !strings.Contains(raw, fence) {
		return raw
	}
	parts := strings.Split(raw, fence)
	for i := 1; i < len(parts); i += 2 {
		body := dropLanguageTag(parts[i])
		if anySelect.MatchString(body) {
			return body
		}
	}
	return strings.Join(parts, "\n")
}

// dropLanguageTag removes a leading info string such as "sql" or "duckdb".
func dropLanguageTag(block string) string {
	nl := strings.IndexByte(block, '\n')
	if nl < 0 {
		return block
	}
	tag := strings.TrimSpace(block[:nl])
	if tag != "" && strings.IndexFunc(tag, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	}) >= 0 {
		return block
	}
	if strings.EqualFold(tag, "select") {
		return block
	}
	return block[nl+1:]
}

// cutStatement ends the statement at the first ';' outside quotes and
// parentheses, or at end of text.
func cutStatement(s string) string {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				if i+1 < len(s) && s[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ';':
			if depth == 0 {
				return s[:i]
			}
		}
	}
	return s
}

// collapseSpace folds whitespace runs outside string literals into one space.
func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote byte
	pendingSpace := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote == 0 && (c == ' ' || c == '\t' || c == '\n' || c == '\r') {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteByte(c)
		switch {
		case quote == 0 && (c == '\'' || c == '"'):
			quote = c
		case quote != 0 && c == quote:
			quote = 0
		}
	}
	return b.String()
}
