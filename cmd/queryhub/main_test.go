package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeBackend(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupEnv(t *testing.T, backendURL string) (dataPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dataPath = filepath.Join(dir, "employees.csv")
	require.NoError(t, os.WriteFile(dataPath, []byte("employee_name,department_name,salary\nAlice,sales,52000\nBob,engineering,81000\nCarol,sales,61000\n"), 0o600))
	dbPath = filepath.Join(dir, "history.db")

	t.Setenv("CONFIG_PATH", "")
	t.Setenv("QUERYHUB_LLM_BASE_URL", backendURL+"/v1")
	t.Setenv("QUERYHUB_HISTORY_DB_PATH", dbPath)
	t.Setenv("QUERYHUB_LOG_LEVEL", "error")
	return dataPath, dbPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAsk_PrintsStatementAndTable(t *testing.T) {
	srv := fakeBackend(t, "```sql\nSELECT employee_name FROM data WHERE department_name = 'sales' ORDER BY employee_name;\n```")
	dataPath, dbPath := setupEnv(t, srv.URL)

	out, err := run(t, "ask", "--data", dataPath, "who", "works", "in", "sales?")
	require.NoError(t, err, out)
	assert.Contains(t, out, "SQL: SELECT employee_name FROM data WHERE department_name = 'sales' ORDER BY employee_name")
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "Carol")
	assert.NotContains(t, out, "Bob")
	assert.Contains(t, out, "2 row(s)")

	out, err = run(t, "history", "list", "--db", dbPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "who works in sales?")
	assert.Contains(t, out, "ok")
}

func TestAsk_UnsafeStatementFails(t *testing.T) {
	srv := fakeBackend(t, "SELECT * FROM data WHERE 1=1 -- ; DROP TABLE data")
	dataPath, _ := setupEnv(t, srv.URL)

	out, err := run(t, "ask", "--data", dataPath, "--json", "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UnsafeStatement")

	var outcome map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, "unsafe_statement", outcome["status"])
}

func TestAsk_RequiresData(t *testing.T) {
	_, err := run(t, "ask", "question")
	assert.Error(t, err)
}
