package safety

import (
	"fmt"
	"strings"

	"github.com/comigor/queryhub-go/internal/dataset"
)

// sqlWords are keywords, type names and date parts that appear as bare words
// in SELECT statements without naming a column.
var sqlWords = toSet(`
SELECT FROM WHERE AND OR NOT IN IS NULL AS ON JOIN LEFT RIGHT INNER OUTER FULL
CROSS NATURAL USING GROUP BY ORDER HAVING LIMIT OFFSET DISTINCT ALL ANY SOME
EXISTS BETWEEN LIKE ILIKE GLOB SIMILAR TO CASE WHEN THEN ELSE END ASC DESC NULLS
FIRST LAST UNION INTERSECT EXCEPT TRUE FALSE CAST TRY_CAST INTERVAL WITH
RECURSIVE OVER PARTITION ROWS RANGE GROUPS PRECEDING FOLLOWING UNBOUNDED CURRENT
ROW FILTER WITHIN QUALIFY WINDOW FETCH NEXT ONLY LATERAL VALUES COLLATE ESCAPE
AT TIME ZONE EXCLUDE REPLACE COLUMNS SAMPLE PERCENT ASOF ANTI SEMI POSITIONAL
DATE TIMESTAMP INTEGER INT BIGINT SMALLINT TINYINT HUGEINT DOUBLE FLOAT REAL
DECIMAL NUMERIC VARCHAR TEXT STRING BOOLEAN BOOL
YEAR YEARS MONTH MONTHS DAY DAYS HOUR HOURS MINUTE MINUTES SECOND SECONDS WEEK
WEEKS QUARTER EPOCH DOW DOY
`)

func toSet(words string) map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		m[w] = true
	}
	return m
}

// identifierWarnings reports table and column references that the schema
// does not define. Matching uses dataset.FoldName. The scan is heuristic:
// functions, aliases and keywords are skipped, and a miss is only a warning.
func identifierWarnings(toks []token, schema *dataset.Schema) []string {
	tables := map[string]bool{dataset.FoldName(schema.Table): true}
	aliases := map[string]bool{}

	// First pass: aliases introduced with AS or directly after a table reference.
	for i, t := range toks {
		if !isWordLike(t) {
			continue
		}
		upper := strings.ToUpper(t.text)
		switch {
		case t.kind == tokWord && upper == "AS":
			if i+1 < len(toks) && isWordLike(toks[i+1]) {
				aliases[dataset.FoldName(toks[i+1].text)] = true
			}
		case t.kind == tokWord && (upper == "FROM" || upper == "JOIN"):
			j := i + 1
			if j < len(toks) && isWordLike(toks[j]) && !isCall(toks, j) {
				if j+1 < len(toks) && toks[j+1].kind == tokWord && !sqlWords[strings.ToUpper(toks[j+1].text)] {
					aliases[dataset.FoldName(toks[j+1].text)] = true
				}
			}
		}
	}

	var warnings []string
	seen := map[string]bool{}
	warn := func(kind, name string) {
		key := kind + ":" + dataset.FoldName(name)
		if seen[key] {
			return
		}
		seen[key] = true
		warnings = append(warnings, fmt.Sprintf("unknown %s %q", kind, name))
	}

	for i, t := range toks {
		if !isWordLike(t) {
			continue
		}
		folded := dataset.FoldName(t.text)
		if t.kind == tokWord && sqlWords[strings.ToUpper(t.text)] {
			continue
		}
		if isCall(toks, i) {
			continue
		}
		prevUpper := ""
		if i > 0 && toks[i-1].kind == tokWord {
			prevUpper = strings.ToUpper(toks[i-1].text)
		}
		switch {
		case prevUpper == "FROM" || prevUpper == "JOIN":
			if !tables[folded] {
				warn("table", t.text)
			}
		case prevUpper == "AS" || aliases[folded] || tables[folded]:
		case i+1 < len(toks) && toks[i+1].kind == tokSymbol && toks[i+1].text == ".":
			// qualifier of a dotted reference
		default:
			if _, ok := schema.Lookup(t.text); !ok {
				warn("column", t.text)
			}
		}
	}
	return warnings
}

func isWordLike(t token) bool {
	return t.kind == tokWord || t.kind == tokQuotedIdent
}

func isCall(toks []token, i int) bool {
	return toks[i].kind == tokWord && i+1 < len(toks) && toks[i+1].kind == tokSymbol && toks[i+1].text == "("
}
