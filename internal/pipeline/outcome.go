package pipeline

import (
	"time"

	"github.com/comigor/queryhub-go/internal/engine"
	"github.com/comigor/queryhub-go/internal/history"
	"github.com/comigor/queryhub-go/internal/safety"
)

// Kind classifies a request-level failure.
type Kind string

const (
	KindBackendUnavailable Kind = "BackendUnavailable"
	KindNoStatementFound   Kind = "NoStatementFound"
	KindUnsafeStatement    Kind = "UnsafeStatement"
	KindExecutionError     Kind = "ExecutionError"
	KindExecutionTimeout   Kind = "ExecutionTimeout"
	KindCancelled          Kind = "Cancelled"
	KindDatasetLoadError   Kind = "DatasetLoadError"
)

// Status maps a failure kind to the status recorded in history.
func (k Kind) Status() history.Status {
	switch k {
	case KindBackendUnavailable:
		return history.StatusBackendUnavailable
	case KindNoStatementFound:
		return history.StatusNoStatementFound
	case KindUnsafeStatement:
		return history.StatusUnsafeStatement
	case KindExecutionTimeout:
		return history.StatusExecutionTimeout
	case KindCancelled:
		return history.StatusCancelled
	default:
		return history.StatusExecutionError
	}
}

// Failure is the typed error carried by an unsuccessful Outcome.
type Failure struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (f *Failure) Error() string { return string(f.Kind) + ": " + f.Message }

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(kind Kind, err error) *Failure {
	return &Failure{Kind: kind, Message: err.Error(), Err: err}
}

// DatasetLoadFailure wraps an ingestion error for callers that report it
// alongside query failures.
func DatasetLoadFailure(err error) *Failure {
	return newFailure(KindDatasetLoadError, err)
}

// Outcome is everything known about one request once it has been logged.
type Outcome struct {
	RequestID   string          `json:"request_id"`
	DatasetID   string          `json:"dataset_id"`
	Question    string          `json:"question"`
	SubmittedAt time.Time       `json:"submitted_at"`
	RawOutput   string          `json:"raw_output,omitempty"`
	Statement   string          `json:"statement,omitempty"`
	Verdict     *safety.Verdict `json:"verdict,omitempty"`
	Result      *engine.Result  `json:"result,omitempty"`
	Status      history.Status  `json:"status"`
	Failure     *Failure        `json:"failure,omitempty"`
	Duration    time.Duration   `json:"-"`
	DurationMs  int64           `json:"duration_ms"`
}

func (o *Outcome) entry() history.Entry {
	e := history.Entry{
		ID:        o.RequestID,
		Timestamp: o.SubmittedAt,
		Question:  o.Question,
		Statement: o.Statement,
		Status:    o.Status,
		Duration:  o.Duration,
		DatasetID: o.DatasetID,
	}
	if o.Verdict != nil {
		e.Safe = o.Verdict.Safe
		e.Warnings = o.Verdict.Warnings
	}
	if o.Result != nil {
		e.RowCount = len(o.Result.Rows)
	}
	if o.Failure != nil {
		e.Reason = o.Failure.Message
	}
	return e
}
