package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/comigor/queryhub-go/internal/pipeline"
	"github.com/comigor/queryhub-go/internal/workspace"
)

// Register adds the dataset tools to m.
func Register(m *ToolManager, ws *workspace.Workspace, runner *pipeline.Runner) {
	m.RegisterTool(&AskTool{runner: runner})
	m.RegisterTool(&DescribeTool{ws: ws})
	m.RegisterTool(&LoadTool{ws: ws})
}

// AskTool answers a question about the loaded dataset.
type AskTool struct {
	runner *pipeline.Runner
}

func (t *AskTool) Name() string { return "ask_dataset" }

func (t *AskTool) Description() string {
	return "Answer a natural-language question about the loaded dataset. Returns the generated SQL, its validation verdict and the result rows."
}

func (t *AskTool) Params() []Param {
	return []Param{{Name: "question", Description: "Question in plain English", Required: true}}
}

func (t *AskTool) Run(ctx context.Context, args map[string]any) (string, error) {
	question, err := stringArg(args, "question")
	if err != nil {
		return "", err
	}
	outcome, err := t.runner.Run(ctx, question, nil)
	if err != nil {
		return "", err
	}
	return marshal(outcome)
}

// DescribeTool returns the schema of the loaded dataset.
type DescribeTool struct {
	ws *workspace.Workspace
}

func (t *DescribeTool) Name() string { return "describe_dataset" }

func (t *DescribeTool) Description() string {
	return "Describe the loaded dataset: table name, typed columns, sample values and row count."
}

func (t *DescribeTool) Params() []Param { return nil }

func (t *DescribeTool) Run(_ context.Context, _ map[string]any) (string, error) {
	schema, err := t.ws.Schema()
	if err != nil {
		return "", err
	}
	return marshal(schema)
}

// LoadTool replaces the active dataset with a local delimited file.
type LoadTool struct {
	ws *workspace.Workspace
}

func (t *LoadTool) Name() string { return "load_dataset" }

func (t *LoadTool) Description() string {
	return "Load a local CSV (or other delimited text) file as the active dataset, replacing the current one."
}

func (t *LoadTool) Params() []Param {
	return []Param{{Name: "path", Description: "Path to the file on the server", Required: true}}
}

func (t *LoadTool) Run(ctx context.Context, args map[string]any) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	schema, err := t.ws.Load(ctx, filepath.Base(path), f)
	if err != nil {
		return "", pipeline.DatasetLoadFailure(err)
	}
	return marshal(schema)
}

func stringArg(args map[string]any, name string) (string, error) {
	raw, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", errors.New("argument " + name + " must be a non-empty string")
	}
	return s, nil
}

func marshal(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(b), nil
}
