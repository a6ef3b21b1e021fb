package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(toks []token) []tokenKind {
	out := make([]tokenKind, len(toks))
	for i, t := range toks {
		out[i] = t.kind
	}
	return out
}

func TestLex(t *testing.T) {
	toks, err := lex(`SELECT "a""b", 'it''s', 1.5e3 FROM data;`)
	require.NoError(t, err)
	assert.Equal(t, []tokenKind{tokWord, tokQuotedIdent, tokSymbol, tokString, tokSymbol, tokNumber, tokWord, tokWord, tokSemicolon}, kinds(toks))
	assert.Equal(t, `a"b`, toks[1].text)
	assert.Equal(t, `'it''s'`, toks[3].text)
	assert.Equal(t, "1.5e3", toks[5].text)
}

func TestLex_Comments(t *testing.T) {
	toks, err := lex("SELECT 1 -- trailing\n, 2 /* block */")
	require.NoError(t, err)
	assert.Equal(t, []tokenKind{tokWord, tokNumber, tokComment, tokSymbol, tokNumber, tokComment}, kinds(toks))
	assert.Equal(t, "/* block */", toks[5].text)
}

func TestLex_DollarQuoted(t *testing.T) {
	toks, err := lex("SELECT $$ DROP; $$")
	require.NoError(t, err)
	assert.Equal(t, []tokenKind{tokWord, tokString}, kinds(toks))

	_, err = lex("SELECT $$ open")
	assert.ErrorIs(t, err, errUnterminatedString)
}

func TestLex_UnicodeIdentifiers(t *testing.T) {
	toks, err := lex("SELECT größe FROM data")
	require.NoError(t, err)
	assert.Equal(t, "größe", toks[1].text)
}
