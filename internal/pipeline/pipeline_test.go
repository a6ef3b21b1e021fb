package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/queryhub-go/internal/engine"
	"github.com/comigor/queryhub-go/internal/history"
	"github.com/comigor/queryhub-go/internal/llm"
	"github.com/comigor/queryhub-go/internal/safety"
	"github.com/comigor/queryhub-go/internal/workspace"
)

const employeesCSV = `employee_name,department_name,salary
Alice,sales,52000
Bob,engineering,81000
Carol,sales,61000
Dan,support,45000
`

// mockLLM pops canned replies in order; an empty queue repeats the last one.
type mockLLM struct {
	mu       sync.Mutex
	replies  []string
	err      error
	block    bool
	requests []openai.ChatCompletionRequest
}

func (m *mockLLM) CreateChatCompletion(ctx context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, r)
	reply := ""
	if len(m.replies) > 0 {
		reply = m.replies[0]
		if len(m.replies) > 1 {
			m.replies = m.replies[1:]
		}
	}
	m.mu.Unlock()

	if m.block {
		<-ctx.Done()
		return openai.ChatCompletionResponse{}, ctx.Err()
	}
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: reply}}},
	}, nil
}

func newRunner(t *testing.T, client llm.Client, limits engine.Limits) *Runner {
	t.Helper()
	ws := workspace.New(workspace.Options{TableName: "data", MaxBytes: 1 << 20, SampleValues: 3, SampleRows: 2})
	t.Cleanup(func() { _ = ws.Close() })
	_, err := ws.Load(context.Background(), "employees.csv", strings.NewReader(employeesCSV))
	require.NoError(t, err)

	if limits.Timeout == 0 {
		limits.Timeout = 5 * time.Second
	}
	gen := llm.NewCompleter(client, llm.CompleterConfig{Model: "test-model", Timeout: 5 * time.Second})
	return NewRunner(ws, gen, history.NewLedger(100, nil), Config{
		Options:      llm.DefaultOptions(),
		Limits:       limits,
		GrammarCheck: true,
	})
}

func TestRun_Success(t *testing.T) {
	client := &mockLLM{replies: []string{"Sure! Here's the SQL:\n```sql\nSELECT employee_name FROM data WHERE department_name = 'sales' ORDER BY employee_name;\n```"}}
	r := newRunner(t, client, engine.Limits{})

	out, err := r.Run(context.Background(), "  Who works in sales?  ", nil)
	require.NoError(t, err)

	assert.Equal(t, history.StatusOK, out.Status)
	assert.Nil(t, out.Failure)
	assert.Equal(t, "Who works in sales?", out.Question)
	assert.Equal(t, "SELECT employee_name FROM data WHERE department_name = 'sales' ORDER BY employee_name", out.Statement)
	require.NotNil(t, out.Verdict)
	assert.True(t, out.Verdict.Safe)
	require.NotNil(t, out.Result)
	assert.Equal(t, []string{"employee_name"}, out.Result.Columns)
	assert.Equal(t, [][]any{{"Alice"}, {"Carol"}}, out.Result.Rows)

	require.Len(t, client.requests, 1)
	userMsg := client.requests[0].Messages[len(client.requests[0].Messages)-1].Content
	assert.Contains(t, userMsg, `"department_name"`)
	assert.Contains(t, userMsg, "Who works in sales?")

	entries := r.Ledger().Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, out.RequestID, entries[0].ID)
	assert.Equal(t, history.StatusOK, entries[0].Status)
	assert.Equal(t, 2, entries[0].RowCount)
	assert.True(t, entries[0].Safe)
}

func TestRun_FailuresAreLoggedWithMatchingStatus(t *testing.T) {
	tests := []struct {
		name      string
		client    *mockLLM
		limits    engine.Limits
		status    history.Status
		kind      Kind
		statement bool
		rule      string
	}{
		{
			name:   "backend unavailable",
			client: &mockLLM{err: errors.New("connection refused")},
			status: history.StatusBackendUnavailable,
			kind:   KindBackendUnavailable,
		},
		{
			name:   "no statement",
			client: &mockLLM{replies: []string{"I'm sorry, I can't answer that from this data."}},
			status: history.StatusNoStatementFound,
			kind:   KindNoStatementFound,
		},
		{
			name:      "comment",
			client:    &mockLLM{replies: []string{"SELECT * FROM data /* hidden */ WHERE salary > 1"}},
			status:    history.StatusUnsafeStatement,
			kind:      KindUnsafeStatement,
			statement: true,
			rule:      safety.RuleComment,
		},
		{
			name:      "forbidden keyword",
			client:    &mockLLM{replies: []string{"SELECT * FROM data WHERE 1 = 1 OR DROP"}},
			status:    history.StatusUnsafeStatement,
			kind:      KindUnsafeStatement,
			statement: true,
			rule:      safety.RuleForbiddenWord,
		},
		{
			name:      "unknown column",
			client:    &mockLLM{replies: []string{"SELECT bonus FROM data"}},
			status:    history.StatusExecutionError,
			kind:      KindExecutionError,
			statement: true,
		},
		{
			name:      "timeout",
			client:    &mockLLM{replies: []string{"SELECT count(*) FROM range(1000000000) a, range(1000000000) b"}},
			limits:    engine.Limits{Timeout: 50 * time.Millisecond},
			status:    history.StatusExecutionTimeout,
			kind:      KindExecutionTimeout,
			statement: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRunner(t, tt.client, tt.limits)

			out, err := r.Run(context.Background(), "question", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.status, out.Status)
			require.NotNil(t, out.Failure)
			assert.Equal(t, tt.kind, out.Failure.Kind)
			assert.Equal(t, tt.statement, out.Statement != "")
			assert.Nil(t, out.Result)
			if tt.rule != "" {
				require.NotNil(t, out.Verdict)
				assert.False(t, out.Verdict.Safe)
				assert.Equal(t, tt.rule, out.Verdict.Rule)
			}

			entries := r.Ledger().Snapshot()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.status, entries[0].Status)
			assert.Equal(t, out.Failure.Message, entries[0].Reason)
		})
	}
}

func TestRun_BackendFailureWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	r := newRunner(t, &mockLLM{err: cause}, engine.Limits{})

	out, err := r.Run(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, out.Failure, llm.ErrBackendUnavailable)
	assert.ErrorIs(t, out.Failure, cause)
}

func TestRun_UnknownColumnWarnsButExecutes(t *testing.T) {
	r := newRunner(t, &mockLLM{replies: []string{"SELECT bonus FROM data"}}, engine.Limits{})

	out, err := r.Run(context.Background(), "q", nil)
	require.NoError(t, err)
	require.NotNil(t, out.Verdict)
	assert.True(t, out.Verdict.Safe)
	assert.Equal(t, []string{`unknown column "bonus"`}, out.Verdict.Warnings)
	assert.Equal(t, KindExecutionError, out.Failure.Kind)
}

func TestRun_CancelledWhileGenerating(t *testing.T) {
	r := newRunner(t, &mockLLM{block: true}, engine.Limits{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	out, err := r.Run(ctx, "q", nil)
	require.NoError(t, err)
	assert.Equal(t, history.StatusCancelled, out.Status)
	assert.Equal(t, KindCancelled, out.Failure.Kind)

	entries := r.Ledger().Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, history.StatusCancelled, entries[0].Status)
}

func TestRun_CancelledWhileExecuting(t *testing.T) {
	r := newRunner(t, &mockLLM{replies: []string{"SELECT count(*) FROM range(1000000000) a, range(1000000000) b"}}, engine.Limits{Timeout: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	out, err := r.Run(ctx, "q", nil)
	require.NoError(t, err)
	assert.Equal(t, history.StatusCancelled, out.Status)
	assert.Equal(t, 1, r.Ledger().Len())
}

func TestRun_RejectedBeforeRequest(t *testing.T) {
	r := newRunner(t, &mockLLM{replies: []string{"SELECT 1"}}, engine.Limits{})

	_, err := r.Run(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = r.Run(context.Background(), "q", &llm.Options{MaxTokens: 0})
	assert.Error(t, err)

	empty := NewRunner(workspace.New(workspace.Options{TableName: "data", MaxBytes: 1 << 20}), llm.NewCompleter(&mockLLM{}, llm.CompleterConfig{}), history.NewLedger(10, nil), Config{Options: llm.DefaultOptions()})
	_, err = empty.Run(context.Background(), "q", nil)
	assert.ErrorIs(t, err, workspace.ErrNoDataset)

	assert.Zero(t, r.Ledger().Len())
	assert.Zero(t, empty.Ledger().Len())
}

func TestRun_PerRequestOptions(t *testing.T) {
	client := &mockLLM{replies: []string{"SELECT 1"}}
	r := newRunner(t, client, engine.Limits{})

	_, err := r.Run(context.Background(), "q", &llm.Options{MaxTokens: 32, Temperature: 0.5, StopSequences: []string{"\n\n"}})
	require.NoError(t, err)
	require.Len(t, client.requests, 1)
	assert.Equal(t, 32, client.requests[0].MaxTokens)
	assert.InDelta(t, 0.5, client.requests[0].Temperature, 0.0001)
	assert.Equal(t, []string{"\n\n"}, client.requests[0].Stop)
}

func TestRun_ExactlyOneEntryPerRequestInOrder(t *testing.T) {
	client := &mockLLM{replies: []string{
		"SELECT employee_name FROM data",
		"nothing useful",
		"SELECT * FROM data; DROP TABLE data",
		"SELECT nope FROM data",
		"SELECT count(*) FROM data",
	}}
	r := newRunner(t, client, engine.Limits{})

	var ids []string
	for i := 0; i < 5; i++ {
		out, err := r.Run(context.Background(), fmt.Sprintf("question %d", i), nil)
		require.NoError(t, err)
		ids = append(ids, out.RequestID)
	}

	entries := r.Ledger().Snapshot()
	require.Len(t, entries, 5)
	statuses := make([]history.Status, len(entries))
	for i, e := range entries {
		assert.Equal(t, ids[i], e.ID)
		assert.Equal(t, fmt.Sprintf("question %d", i), e.Question)
		statuses[i] = e.Status
	}
	assert.Equal(t, []history.Status{
		history.StatusOK,
		history.StatusNoStatementFound,
		history.StatusOK,
		history.StatusExecutionError,
		history.StatusOK,
	}, statuses)
	assert.Equal(t, "SELECT * FROM data", entries[2].Statement)
}

func TestRun_ConcurrentRequests(t *testing.T) {
	r := newRunner(t, &mockLLM{replies: []string{"SELECT count(*) AS n FROM data"}}, engine.Limits{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := r.Run(context.Background(), "how many?", nil)
			if assert.NoError(t, err) {
				assert.Equal(t, history.StatusOK, out.Status)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, r.Ledger().Len())
}

// delayedGen answers every question with the same statement after a
// per-question delay.
type delayedGen struct {
	delay   map[string]time.Duration
	started chan string
}

func (g *delayedGen) Generate(ctx context.Context, prompt string, _ llm.Options) (string, error) {
	for q, d := range g.delay {
		if strings.Contains(prompt, q) {
			g.started <- q
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "SELECT count(*) FROM data", nil
}

func TestRun_LedgerKeepsSubmissionOrderUnderConcurrency(t *testing.T) {
	ws := workspace.New(workspace.Options{TableName: "data", MaxBytes: 1 << 20, SampleValues: 3, SampleRows: 2})
	t.Cleanup(func() { _ = ws.Close() })
	_, err := ws.Load(context.Background(), "employees.csv", strings.NewReader(employeesCSV))
	require.NoError(t, err)

	gen := &delayedGen{
		delay:   map[string]time.Duration{"slow question": 300 * time.Millisecond},
		started: make(chan string, 1),
	}
	r := NewRunner(ws, gen, history.NewLedger(10, nil), Config{
		Options: llm.DefaultOptions(),
		Limits:  engine.Limits{Timeout: 5 * time.Second},
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := r.Run(context.Background(), "slow question", nil)
		assert.NoError(t, err)
	}()

	select {
	case <-gen.started:
	case <-time.After(5 * time.Second):
		t.Fatal("slow request never reached the backend")
	}
	_, err = r.Run(context.Background(), "fast question", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Ledger().Len(), "fast entry must wait for the earlier submission")

	wg.Wait()
	entries := r.Ledger().Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "slow question", entries[0].Question)
	assert.Equal(t, "fast question", entries[1].Question)
	assert.True(t, !entries[0].Timestamp.After(entries[1].Timestamp))
}
