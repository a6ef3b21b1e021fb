package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/queryhub-go/internal/logger"
)

// SQLiteStore persists entries across sessions.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS query_history (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT NOT NULL,
        created_at TEXT NOT NULL,
        question TEXT NOT NULL,
        statement TEXT,
        safe INTEGER NOT NULL,
        status TEXT NOT NULL,
        reason TEXT,
        warnings TEXT,
        row_count INTEGER NOT NULL,
        duration_ms INTEGER NOT NULL,
        dataset_id TEXT
    );`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create query_history table: %w", err)
	}
	logger.L.Info("sqlite history DB initialized", "path", path)
	return &SQLiteStore{db: db}, nil
}

// Append inserts e.
func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	warnings, err := json.Marshal(e.Warnings)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO query_history
        (request_id, created_at, question, statement, safe, status, reason, warnings, row_count, duration_ms, dataset_id)
        VALUES (?,?,?,?,?,?,?,?,?,?,?);`,
		e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Question, e.Statement, e.Safe,
		string(e.Status), e.Reason, string(warnings), e.RowCount, e.DurationMs(), e.DatasetID)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// List returns the most recent limit entries in insertion order. A
// non-positive limit returns everything.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT request_id, created_at, question, statement, safe, status, reason, warnings, row_count, duration_ms, dataset_id
        FROM (SELECT * FROM query_history ORDER BY id DESC LIMIT ?) ORDER BY id ASC;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e                                 Entry
			createdAt, status                 string
			statement, reason, warnings, dsID sql.NullString
			durationMs                        int64
		)
		if err := rows.Scan(&e.ID, &createdAt, &e.Question, &statement, &e.Safe, &status, &reason, &warnings, &e.RowCount, &durationMs, &dsID); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
		}
		if warnings.Valid && warnings.String != "" && warnings.String != "null" {
			if err := json.Unmarshal([]byte(warnings.String), &e.Warnings); err != nil {
				return nil, fmt.Errorf("decode warnings: %w", err)
			}
		}
		e.Statement = statement.String
		e.Status = Status(status)
		e.Reason = reason.String
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.DatasetID = dsID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
