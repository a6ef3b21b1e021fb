// Package safety is the lexical gate that admits only a single SELECT
// statement. It does not parse SQL grammar; an optional GrammarChecker can be
// attached as a stricter second gate.
package safety

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/comigor/queryhub-go/internal/dataset"
)

// Rule names reported in verdicts.
const (
	RuleSelectOnly      = "select-only"
	RuleComment         = "comment"
	RuleSingleStatement = "single-statement"
	RuleForbiddenWord   = "forbidden-keyword"
	RuleLexical         = "lexical"
	RuleGrammar         = "grammar"
)

// ForbiddenKeywords may not appear as bare words anywhere in a statement.
var ForbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "TRUNCATE",
	"ATTACH", "COPY", "EXPORT", "PRAGMA", "CALL",
}

// CommandKeywords are rejected as bare words unless they name a column of
// the dataset. They only start statements, and a single SELECT cannot
// contain another statement.
var CommandKeywords = []string{
	"GRANT", "REVOKE", "VACUUM", "INSTALL", "LOAD", "DETACH", "CHECKPOINT",
	"IMPORT", "SET",
}

var (
	forbidden = wordSet(ForbiddenKeywords)
	command   = wordSet(CommandKeywords)
)

func wordSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Verdict is the outcome of validating one statement.
type Verdict struct {
	Safe     bool     `json:"safe"`
	Rule     string   `json:"rule,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func reject(rule, format string, args ...any) Verdict {
	return Verdict{Rule: rule, Reason: rule + ": " + fmt.Sprintf(format, args...)}
}

// GrammarChecker parses a statement with a real SQL grammar.
type GrammarChecker interface {
	CheckGrammar(ctx context.Context, stmt string) error
}

// Validator runs the lexical rules and, when configured, the grammar gate.
type Validator struct {
	grammar GrammarChecker
}

func NewValidator(grammar GrammarChecker) *Validator {
	return &Validator{grammar: grammar}
}

// Check validates stmt. The error is non-nil only when ctx ended before the
// grammar gate could answer.
func (v *Validator) Check(ctx context.Context, stmt string, schema *dataset.Schema) (Verdict, error) {
	verdict := Validate(stmt, schema)
	if !verdict.Safe || v.grammar == nil {
		return verdict, nil
	}
	if err := v.grammar.CheckGrammar(ctx, stmt); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Verdict{}, ctxErr
		}
		g := reject(RuleGrammar, "%v", err)
		g.Warnings = verdict.Warnings
		return g, nil
	}
	return verdict, nil
}

// Validate applies the lexical rules. schema may be nil, which disables the
// identifier warnings.
func Validate(stmt string, schema *dataset.Schema) Verdict {
	trimmed := strings.TrimSpace(stmt)
	if !startsWithSelect(trimmed) {
		return reject(RuleSelectOnly, "statement must begin with SELECT")
	}

	toks, err := lex(trimmed)
	if err != nil {
		return reject(RuleLexical, "%v", err)
	}

	for i, t := range toks {
		switch t.kind {
		case tokComment:
			return reject(RuleComment, "comment sequence %q is not permitted", t.text[:2])
		case tokSemicolon:
			if i != len(toks)-1 {
				return reject(RuleSingleStatement, "only one statement is permitted; found content after ';'")
			}
		}
	}

	for _, t := range toks {
		if t.kind != tokWord {
			continue
		}
		word := strings.ToUpper(t.text)
		if forbidden[word] || (command[word] && !isColumn(schema, t.text)) {
			return reject(RuleForbiddenWord, "forbidden keyword %s", word)
		}
	}

	verdict := Verdict{Safe: true}
	if schema != nil {
		verdict.Warnings = identifierWarnings(toks, schema)
	}
	return verdict
}

func isColumn(schema *dataset.Schema, name string) bool {
	if schema == nil {
		return false
	}
	_, ok := schema.Lookup(name)
	return ok
}

func startsWithSelect(s string) bool {
	const kw = "select"
	if len(s) < len(kw) || !strings.EqualFold(s[:len(kw)], kw) {
		return false
	}
	if len(s) == len(kw) {
		return true
	}
	next := rune(s[len(kw)])
	return next != '_' && !unicode.IsLetter(next) && !unicode.IsDigit(next)
}
