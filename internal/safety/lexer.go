package safety

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuotedIdent
	tokString
	tokNumber
	tokSymbol
	tokSemicolon
	tokComment
)

type token struct {
	kind tokenKind
	text string
}

var (
	errUnterminatedString = errors.New("unterminated string literal")
	errUnterminatedIdent  = errors.New("unterminated quoted identifier")
)

// lex splits a statement into tokens. String literals and quoted identifiers
// are single tokens so keyword checks never look inside them.
func lex(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case strings.HasPrefix(s[i:], "--"):
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				end = len(s) - i
			}
			toks = append(toks, token{tokComment, s[i : i+end]})
			i += end
		case strings.HasPrefix(s[i:], "/*"):
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				toks = append(toks, token{tokComment, s[i:]})
				i = len(s)
				continue
			}
			toks = append(toks, token{tokComment, s[i : i+end+4]})
			i += end + 4
		case r == '\'':
			end, ok := scanQuoted(s, i, '\'')
			if !ok {
				return nil, errUnterminatedString
			}
			toks = append(toks, token{tokString, s[i:end]})
			i = end
		case r == '"':
			end, ok := scanQuoted(s, i, '"')
			if !ok {
				return nil, errUnterminatedIdent
			}
			toks = append(toks, token{tokQuotedIdent, strings.ReplaceAll(s[i+1:end-1], `""`, `"`)})
			i = end
		case strings.HasPrefix(s[i:], "$$"):
			end := strings.Index(s[i+2:], "$$")
			if end < 0 {
				return nil, errUnterminatedString
			}
			toks = append(toks, token{tokString, s[i : i+end+4]})
			i += end + 4
		case r == ';':
			toks = append(toks, token{tokSemicolon, ";"})
			i++
		case r == '_' || unicode.IsLetter(r):
			j := i + size
			for j < len(s) {
				r2, sz := utf8.DecodeRuneInString(s[j:])
				if r2 != '_' && r2 != '$' && !unicode.IsLetter(r2) && !unicode.IsDigit(r2) {
					break
				}
				j += sz
			}
			toks = append(toks, token{tokWord, s[i:j]})
			i = j
		case unicode.IsDigit(r):
			j := i + size
			for j < len(s) && (s[j] == '.' || s[j] == '_' || isAlnum(s[j])) {
				j++
			}
			toks = append(toks, token{tokNumber, s[i:j]})
			i = j
		default:
			toks = append(toks, token{tokSymbol, s[i : i+size]})
			i += size
		}
	}
	return toks, nil
}

// scanQuoted returns the index just past the closing quote, honouring doubled
// quotes as escapes.
func scanQuoted(s string, start int, q byte) (int, bool) {
	for j := start + 1; j < len(s); j++ {
		if s[j] != q {
			continue
		}
		if j+1 < len(s) && s[j+1] == q {
			j++
			continue
		}
		return j + 1, true
	}
	return 0, false
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
