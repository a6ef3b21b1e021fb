// Package pipeline drives a question through generation, extraction,
// validation and execution, and logs exactly one history entry per request.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/comigor/queryhub-go/internal/engine"
	"github.com/comigor/queryhub-go/internal/history"
	"github.com/comigor/queryhub-go/internal/llm"
	"github.com/comigor/queryhub-go/internal/logger"
	"github.com/comigor/queryhub-go/internal/metrics"
	"github.com/comigor/queryhub-go/internal/prompt"
	"github.com/comigor/queryhub-go/internal/safety"
	"github.com/comigor/queryhub-go/internal/sqlextract"
	"github.com/comigor/queryhub-go/internal/workspace"
)

// ErrEmptyQuestion is returned before a request is created.
var ErrEmptyQuestion = errors.New("question is empty")

// State is a request lifecycle state.
type State string

const (
	StateSubmitted        State = "Submitted"
	StateGenerating       State = "Generating"
	StateExtracted        State = "Extracted"
	StateNoStatementFound State = "NoStatementFound"
	StateGenerationFailed State = "GenerationFailed"
	StateValidated        State = "Validated"
	StateRejected         State = "Rejected"
	StateExecuted         State = "Executed"
	StateExecutionFailed  State = "ExecutionFailed"
	StateTimedOut         State = "TimedOut"
	StateCancelled        State = "Cancelled"
	StateLogged           State = "Logged" // only terminal state
)

// Trigger moves a request between states.
type Trigger string

const (
	TriggerGenerate       Trigger = "Generate"
	TriggerStatementFound Trigger = "StatementFound"
	TriggerNoStatement    Trigger = "NoStatement"
	TriggerBackendFailed  Trigger = "BackendFailed"
	TriggerAccept         Trigger = "Accept"
	TriggerReject         Trigger = "Reject"
	TriggerSucceed        Trigger = "Succeed"
	TriggerFail           Trigger = "Fail"
	TriggerTimeout        Trigger = "Timeout"
	TriggerCancel         Trigger = "Cancel"
	TriggerLog            Trigger = "Log"
)

// Generator produces raw completion text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

// Config holds per-runner defaults.
type Config struct {
	Options      llm.Options
	Limits       engine.Limits
	GrammarCheck bool
}

// Runner executes requests against the active dataset of a workspace.
type Runner struct {
	ws     *workspace.Workspace
	gen    Generator
	ledger *history.Ledger
	cfg    Config
}

func NewRunner(ws *workspace.Workspace, gen Generator, ledger *history.Ledger, cfg Config) *Runner {
	return &Runner{ws: ws, gen: gen, ledger: ledger, cfg: cfg}
}

// Ledger returns the history ledger requests are logged to.
func (r *Runner) Ledger() *history.Ledger { return r.ledger }

// run is the mutable state of one request; it never escapes Run.
type run struct {
	outcome *Outcome
	binding *workspace.Binding
	opts    llm.Options
	ticket  history.Ticket
	next    Trigger
	logged  bool
	start   time.Time
}

// Run processes one question. Failures inside the pipeline are reported in
// the Outcome; the error return is reserved for requests that never start
// (empty question, no dataset) and for internal faults.
func (r *Runner) Run(ctx context.Context, question string, opts *llm.Options) (*Outcome, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	effective := r.cfg.Options
	if opts != nil {
		effective = *opts
	}
	if err := effective.Validate(); err != nil {
		return nil, err
	}

	binding, err := r.ws.Acquire()
	if err != nil {
		return nil, err
	}
	defer binding.Release()

	rs := &run{
		outcome: &Outcome{
			RequestID:   uuid.NewString(),
			DatasetID:   binding.ID.String(),
			Question:    question,
			SubmittedAt: time.Now().UTC(),
		},
		binding: binding,
		opts:    effective,
		ticket:  r.ledger.Reserve(),
		start:   time.Now(),
	}
	defer func() {
		if p := recover(); p != nil {
			if !rs.logged {
				rs.outcome.Failure = newFailure(KindExecutionError, fmt.Errorf("panic: %v", p))
				rs.outcome.Status = KindExecutionError.Status()
				r.record(rs)
			}
			panic(p)
		}
	}()

	fsm := r.newMachine(rs)
	rs.next = TriggerGenerate
	for fsm.MustState() != StateLogged {
		trigger := rs.next
		if err := fsm.FireCtx(ctx, trigger); err != nil {
			logger.L.Error("pipeline transition failed", "request_id", rs.outcome.RequestID, "trigger", trigger, "error", err)
			if rs.outcome.Failure == nil {
				rs.outcome.Failure = newFailure(KindExecutionError, err)
				rs.outcome.Status = KindExecutionError.Status()
			}
			r.record(rs)
			return rs.outcome, fmt.Errorf("pipeline transition %s: %w", trigger, err)
		}
	}
	return rs.outcome, nil
}

func (r *Runner) newMachine(rs *run) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateSubmitted)

	fsm.Configure(StateSubmitted).
		Permit(TriggerGenerate, StateGenerating)

	fsm.Configure(StateGenerating).
		OnEntry(func(ctx context.Context, _ ...any) error {
			r.generate(ctx, rs)
			return nil
		}).
		Permit(TriggerStatementFound, StateExtracted).
		Permit(TriggerNoStatement, StateNoStatementFound).
		Permit(TriggerBackendFailed, StateGenerationFailed).
		Permit(TriggerCancel, StateCancelled)

	fsm.Configure(StateExtracted).
		OnEntry(func(ctx context.Context, _ ...any) error {
			r.validate(ctx, rs)
			return nil
		}).
		Permit(TriggerAccept, StateValidated).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerCancel, StateCancelled)

	fsm.Configure(StateValidated).
		OnEntry(func(ctx context.Context, _ ...any) error {
			r.execute(ctx, rs)
			return nil
		}).
		Permit(TriggerSucceed, StateExecuted).
		Permit(TriggerFail, StateExecutionFailed).
		Permit(TriggerTimeout, StateTimedOut).
		Permit(TriggerCancel, StateCancelled)

	toLog := func(_ context.Context, _ ...any) error {
		rs.next = TriggerLog
		return nil
	}
	for _, s := range []State{
		StateNoStatementFound, StateGenerationFailed, StateRejected,
		StateExecuted, StateExecutionFailed, StateTimedOut, StateCancelled,
	} {
		fsm.Configure(s).
			OnEntry(toLog).
			Permit(TriggerLog, StateLogged)
	}

	fsm.Configure(StateLogged).
		OnEntry(func(_ context.Context, _ ...any) error {
			r.record(rs)
			return nil
		})

	return fsm
}

func (r *Runner) generate(ctx context.Context, rs *run) {
	logger.L.Debug("FSM: entering Generating", "request_id", rs.outcome.RequestID)
	text := prompt.Build(rs.binding.Schema, rs.outcome.Question)
	logger.L.Debug("prompt built", "request_id", rs.outcome.RequestID, "prompt", text)

	start := time.Now()
	raw, err := r.gen.Generate(ctx, text, rs.opts)
	metrics.ObserveStage("generate", time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			r.fail(rs, KindCancelled, ctx.Err(), TriggerCancel)
			return
		}
		r.fail(rs, KindBackendUnavailable, err, TriggerBackendFailed)
		return
	}
	rs.outcome.RawOutput = raw
	logger.L.Debug("model output", "request_id", rs.outcome.RequestID, "raw", raw)

	stmt, ok := sqlextract.Extract(raw)
	if !ok {
		r.fail(rs, KindNoStatementFound, errors.New("no SELECT statement in model output"), TriggerNoStatement)
		return
	}
	rs.outcome.Statement = stmt
	rs.next = TriggerStatementFound
}

func (r *Runner) validate(ctx context.Context, rs *run) {
	logger.L.Debug("FSM: entering Extracted", "request_id", rs.outcome.RequestID, "statement", rs.outcome.Statement)
	var grammar safety.GrammarChecker
	if r.cfg.GrammarCheck {
		grammar = rs.binding.Table
	}

	start := time.Now()
	verdict, err := safety.NewValidator(grammar).Check(ctx, rs.outcome.Statement, rs.binding.Schema)
	metrics.ObserveStage("validate", time.Since(start))
	if err != nil {
		r.fail(rs, KindCancelled, err, TriggerCancel)
		return
	}
	rs.outcome.Verdict = &verdict
	metrics.ObserveValidatorWarnings(len(verdict.Warnings))
	for _, w := range verdict.Warnings {
		logger.L.Warn("statement references unknown identifier", "request_id", rs.outcome.RequestID, "warning", w)
	}
	if !verdict.Safe {
		r.fail(rs, KindUnsafeStatement, errors.New(verdict.Reason), TriggerReject)
		return
	}
	rs.next = TriggerAccept
}

func (r *Runner) execute(ctx context.Context, rs *run) {
	logger.L.Debug("FSM: entering Validated", "request_id", rs.outcome.RequestID)
	start := time.Now()
	res, err := rs.binding.Table.Execute(ctx, rs.outcome.Statement, r.cfg.Limits)
	metrics.ObserveStage("execute", time.Since(start))
	switch {
	case errors.Is(err, engine.ErrCanceled):
		r.fail(rs, KindCancelled, err, TriggerCancel)
	case errors.Is(err, engine.ErrTimeout):
		r.fail(rs, KindExecutionTimeout, err, TriggerTimeout)
	case err != nil:
		r.fail(rs, KindExecutionError, err, TriggerFail)
	default:
		rs.outcome.Result = &res
		rs.outcome.Status = history.StatusOK
		rs.next = TriggerSucceed
	}
}

func (r *Runner) fail(rs *run, kind Kind, err error, next Trigger) {
	rs.outcome.Failure = newFailure(kind, err)
	rs.outcome.Status = kind.Status()
	rs.next = next
}

// record writes the single history entry for rs.
func (r *Runner) record(rs *run) {
	if rs.logged {
		return
	}
	rs.logged = true
	rs.outcome.Duration = time.Since(rs.start)
	rs.outcome.DurationMs = rs.outcome.Duration.Milliseconds()

	r.ledger.Commit(rs.ticket, rs.outcome.entry())
	metrics.ObserveRequest(string(rs.outcome.Status))

	attrs := []any{
		"request_id", rs.outcome.RequestID,
		"status", rs.outcome.Status,
		"duration_ms", rs.outcome.DurationMs,
	}
	if rs.outcome.Failure != nil {
		attrs = append(attrs, "reason", rs.outcome.Failure.Message)
		logger.L.Warn("query request failed", attrs...)
		return
	}
	logger.L.Info("query request completed", append(attrs, "rows", len(rs.outcome.Result.Rows))...)
}
