package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/queryhub-go/internal/engine"
	"github.com/comigor/queryhub-go/internal/history"
	"github.com/comigor/queryhub-go/internal/llm"
	"github.com/comigor/queryhub-go/internal/pipeline"
	"github.com/comigor/queryhub-go/internal/workspace"
)

type cannedLLM struct{ reply string }

func (c cannedLLM) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: c.reply}}},
	}, nil
}

func newManager(t *testing.T) (*ToolManager, *history.Ledger) {
	t.Helper()
	ws := workspace.New(workspace.Options{TableName: "data", MaxBytes: 1 << 20, SampleValues: 3, SampleRows: 2})
	t.Cleanup(func() { _ = ws.Close() })
	ledger := history.NewLedger(10, nil)
	runner := pipeline.NewRunner(ws,
		llm.NewCompleter(cannedLLM{reply: "SELECT count(*) AS n FROM data"}, llm.CompleterConfig{Model: "m"}),
		ledger,
		pipeline.Config{Options: llm.DefaultOptions(), Limits: engine.Limits{Timeout: 5 * time.Second}})

	m := NewToolManager()
	Register(m, ws, runner)
	return m, ledger
}

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "employees.csv")
	require.NoError(t, os.WriteFile(path, []byte("employee_name,salary\nAlice,1\nBob,2\n"), 0o600))
	return path
}

func TestToolManager_ListAndGet(t *testing.T) {
	m, _ := newManager(t)

	var names []string
	for _, tool := range m.List() {
		names = append(names, tool.Name())
	}
	assert.Equal(t, []string{"ask_dataset", "describe_dataset", "load_dataset"}, names)

	_, err := m.GetTool("drop_everything")
	assert.Error(t, err)
}

func TestTools_LoadDescribeAsk(t *testing.T) {
	m, ledger := newManager(t)
	ctx := context.Background()

	ask, err := m.GetTool("ask_dataset")
	require.NoError(t, err)
	_, err = ask.Run(ctx, map[string]any{"question": "how many?"})
	assert.ErrorIs(t, err, workspace.ErrNoDataset)

	load, err := m.GetTool("load_dataset")
	require.NoError(t, err)
	out, err := load.Run(ctx, map[string]any{"path": writeCSV(t)})
	require.NoError(t, err)
	assert.Contains(t, out, `"employee_name"`)

	describe, err := m.GetTool("describe_dataset")
	require.NoError(t, err)
	out, err = describe.Run(ctx, nil)
	require.NoError(t, err)
	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.EqualValues(t, 2, schema["row_count"])

	out, err = ask.Run(ctx, map[string]any{"question": "how many?"})
	require.NoError(t, err)
	var outcome map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, "ok", outcome["status"])
	assert.Equal(t, 1, ledger.Len())
}

func TestTools_ArgumentErrors(t *testing.T) {
	m, _ := newManager(t)
	load, err := m.GetTool("load_dataset")
	require.NoError(t, err)

	_, err = load.Run(context.Background(), map[string]any{})
	assert.Error(t, err)
	_, err = load.Run(context.Background(), map[string]any{"path": 42})
	assert.Error(t, err)
	_, err = load.Run(context.Background(), map[string]any{"path": filepath.Join(t.TempDir(), "missing.csv")})
	assert.Error(t, err)
}
