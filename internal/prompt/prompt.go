// Package prompt renders the instruction sent to the completion backend.
package prompt

import (
	"strconv"
	"strings"

	"github.com/comigor/queryhub-go/internal/dataset"
)

// Build returns the instruction for question over schema. The output depends
// only on its inputs so fixtures can compare it byte for byte.
func Build(schema *dataset.Schema, question string) string {
	table := quoteIdent(schema.Table)

	var b strings.Builder
	b.WriteString("You are an SQL writer for a single table named ")
	b.WriteString(table)
	b.WriteString(" in DuckDB (PostgreSQL-compatible dialect). ")
	b.WriteString("Convert the user's request into exactly ONE SELECT statement.\n\n")

	b.WriteString("Rules:\n")
	b.WriteString("- Reference only the table " + table + "; never any other table, file or function that reads data.\n")
	b.WriteString("- Reference only the columns listed below.\n")
	b.WriteString("- Emit exactly one SQL statement and nothing else: no prose, no explanation, no markdown code fences, no trailing semicolon.\n\n")

	b.WriteString("Table: " + table + "\n")
	b.WriteString("Columns:\n")
	for _, c := range schema.Columns {
		b.WriteString("- ")
		b.WriteString(quoteIdent(c.Name))
		b.WriteString(" (")
		b.WriteString(string(c.Type))
		b.WriteString(")")
		if len(c.Samples) > 0 {
			b.WriteString(" e.g. ")
			for i, s := range c.Samples {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(quoteLiteral(s))
			}
		}
		b.WriteString("\n")
	}

	if len(schema.SampleRows) > 0 {
		b.WriteString("\nExample rows:\n")
		b.WriteString(strings.Join(schema.ColumnNames(), " | "))
		b.WriteString("\n")
		for _, row := range schema.SampleRows {
			b.WriteString(strings.Join(row, " | "))
			b.WriteString("\n")
		}
	}

	b.WriteString("\nUser request: ")
	b.WriteString(strconv.Quote(strings.TrimSpace(question)))
	b.WriteString("\nSQL:\n")
	return b.String()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}
