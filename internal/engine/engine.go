// Package engine executes validated statements against a single dataset held
// in an in-memory DuckDB database.
package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/duckdb/duckdb-go/v2"

	"github.com/comigor/queryhub-go/internal/dataset"
	"github.com/comigor/queryhub-go/internal/logger"
)

var (
	// ErrTimeout is returned when a statement outlives Limits.Timeout.
	ErrTimeout = errors.New("execution timed out")
	// ErrCanceled is returned when the caller's context ends first.
	ErrCanceled = errors.New("execution canceled")
)

// The database never reads files, URLs or extensions after it is opened.
const dsn = "?enable_external_access=false&autoinstall_known_extensions=false"

// Limits bound a single execution.
type Limits struct {
	Timeout time.Duration
	MaxRows int
}

// Result is the relation produced by a statement.
type Result struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"-"`
}

// Table is one dataset registered under its logical table name.
type Table struct {
	db      *sql.DB
	name    string
	grammar bool
}

// Open creates a fresh in-memory database holding only ds, typed by schema.
func Open(ctx context.Context, ds *dataset.Dataset, schema *dataset.Schema) (*Table, error) {
	connector, err := duckdb.NewConnector(dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db := sql.OpenDB(connector)

	t := &Table{db: db, name: schema.Table}
	if err := t.load(ctx, connector, ds, schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	var probe string
	if err := db.QueryRowContext(ctx, "SELECT json_serialize_sql('SELECT 1')::VARCHAR").Scan(&probe); err != nil {
		logger.L.Warn("json_serialize_sql unavailable; grammar gate disabled", "error", err)
	} else {
		t.grammar = true
	}

	if _, err := db.ExecContext(ctx, "SET lock_configuration = true"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("lock duckdb configuration: %w", err)
	}
	return t, nil
}

func (t *Table) load(ctx context.Context, connector *duckdb.Connector, ds *dataset.Dataset, schema *dataset.Schema) error {
	cols := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = quoteIdent(c.Name) + " " + duckType(c.Type)
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(t.name), strings.Join(cols, ", "))
	if _, err := t.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %q: %w", t.name, err)
	}

	conn, err := connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect for append: %w", err)
	}
	defer func() { _ = conn.Close() }()

	appender, err := duckdb.NewAppenderFromConn(conn, "", t.name)
	if err != nil {
		return fmt.Errorf("create appender: %w", err)
	}

	values := make([]driver.Value, len(schema.Columns))
	for r, row := range ds.Rows {
		for i, c := range schema.Columns {
			v, err := c.Type.Parse(row[i])
			if err != nil {
				_ = appender.Close()
				return fmt.Errorf("row %d column %q: %w", r+1, c.Name, err)
			}
			values[i] = v
		}
		if err := appender.AppendRow(values...); err != nil {
			_ = appender.Close()
			return fmt.Errorf("append row %d: %w", r+1, err)
		}
	}
	if err := appender.Close(); err != nil {
		return fmt.Errorf("flush appender: %w", err)
	}
	return nil
}

// Name returns the logical table name.
func (t *Table) Name() string { return t.name }

// Execute runs stmt and scans at most limits.MaxRows rows.
func (t *Table) Execute(ctx context.Context, stmt string, limits Limits) (Result, error) {
	sqlText := stripTrailingSemicolons(stmt)
	if sqlText == "" {
		return Result{}, errors.New("statement is empty")
	}

	execCtx := ctx
	if limits.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, limits.Timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := t.db.QueryContext(execCtx, sqlText)
	if err != nil {
		return Result{}, classify(ctx, execCtx, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}

	result := Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if limits.MaxRows > 0 && len(result.Rows) == limits.MaxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, classify(ctx, execCtx, err)
	}
	result.Duration = time.Since(start)
	return result, nil
}

// CheckGrammar parses stmt with DuckDB's own parser. json_serialize_sql only
// serializes SELECT statements, so anything else is reported as an error.
func (t *Table) CheckGrammar(ctx context.Context, stmt string) error {
	if !t.grammar {
		return nil
	}
	var out string
	if err := t.db.QueryRowContext(ctx, "SELECT json_serialize_sql(?::VARCHAR)::VARCHAR", stripTrailingSemicolons(stmt)).Scan(&out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("grammar check: %w", err)
	}

	var parsed struct {
		Error        bool              `json:"error"`
		ErrorType    string            `json:"error_type"`
		ErrorMessage string            `json:"error_message"`
		Statements   []json.RawMessage `json:"statements"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return fmt.Errorf("decode parse tree: %w", err)
	}
	if parsed.Error {
		return fmt.Errorf("%s: %s", parsed.ErrorType, parsed.ErrorMessage)
	}
	if len(parsed.Statements) != 1 {
		return fmt.Errorf("expected exactly one statement, parsed %d", len(parsed.Statements))
	}
	return nil
}

// Close releases the database.
func (t *Table) Close() error {
	return t.db.Close()
}

func classify(parent, execCtx context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("execute statement: %w", err)
	}
}

func duckType(t dataset.ColumnType) string {
	switch t {
	case dataset.TypeInteger:
		return "BIGINT"
	case dataset.TypeFloat:
		return "DOUBLE"
	case dataset.TypeBoolean:
		return "BOOLEAN"
	case dataset.TypeDatetime:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
