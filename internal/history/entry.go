// Package history keeps the audit trail of query requests: a bounded
// in-memory ledger that is authoritative for the session, and an optional
// SQLite mirror that outlives it.
package history

import "time"

// Status is the terminal outcome of one request.
type Status string

const (
	StatusOK                 Status = "ok"
	StatusBackendUnavailable Status = "backend_unavailable"
	StatusNoStatementFound   Status = "no_statement_found"
	StatusUnsafeStatement    Status = "unsafe_statement"
	StatusExecutionError     Status = "execution_error"
	StatusExecutionTimeout   Status = "execution_timeout"
	StatusCancelled          Status = "cancelled"
)

// Entry is one logged request. Entries are never modified once recorded.
type Entry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Question  string        `json:"question"`
	Statement string        `json:"statement,omitempty"`
	Safe      bool          `json:"safe"`
	Status    Status        `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Warnings  []string      `json:"warnings,omitempty"`
	RowCount  int           `json:"row_count"`
	Duration  time.Duration `json:"-"`
	DatasetID string        `json:"dataset_id,omitempty"`
}

// DurationMs is the request duration in whole milliseconds.
func (e Entry) DurationMs() int64 { return e.Duration.Milliseconds() }
