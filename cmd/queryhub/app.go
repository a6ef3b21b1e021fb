package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/comigor/queryhub-go/internal/config"
	"github.com/comigor/queryhub-go/internal/engine"
	"github.com/comigor/queryhub-go/internal/history"
	"github.com/comigor/queryhub-go/internal/llm"
	"github.com/comigor/queryhub-go/internal/logger"
	"github.com/comigor/queryhub-go/internal/pipeline"
	"github.com/comigor/queryhub-go/internal/workspace"
)

// app is one session: a workspace, its ledger and the runner bound to both.
type app struct {
	cfg    *config.Config
	ws     *workspace.Workspace
	ledger *history.Ledger
	runner *pipeline.Runner
	store  *history.SQLiteStore
	mirror *history.Mirror
}

func newApp(cfg *config.Config) *app {
	a := &app{cfg: cfg}

	var sink history.Sink
	if cfg.History.DBPath != "" {
		store, err := history.OpenSQLite(cfg.History.DBPath)
		if err != nil {
			// the in-memory ledger is authoritative; the mirror is optional
			logger.L.Warn("sqlite open failed; history kept in memory only", "error", err)
		} else {
			a.store = store
			a.mirror = history.NewMirror(store, cfg.History.SinkBuffer)
			sink = a.mirror
		}
	}
	a.ledger = history.NewLedger(cfg.History.Capacity, sink)

	var delim rune
	if cfg.Dataset.Delimiter != "" {
		delim, _ = utf8.DecodeRuneInString(cfg.Dataset.Delimiter)
	}
	a.ws = workspace.New(workspace.Options{
		TableName:    cfg.Dataset.TableName,
		MaxBytes:     cfg.Dataset.MaxBytes,
		Delimiter:    delim,
		SampleValues: cfg.Dataset.SampleValues,
		SampleRows:   cfg.Dataset.SampleRows,
	})

	client := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Timeout)
	gen := llm.NewCompleter(client, llm.CompleterConfig{
		Model:        cfg.LLM.Model,
		SystemPrompt: cfg.LLM.SystemPrompt,
		Timeout:      cfg.LLM.Timeout,
	})
	a.runner = pipeline.NewRunner(a.ws, gen, a.ledger, pipeline.Config{
		Options:      cfg.LLM.Options,
		Limits:       engine.Limits{Timeout: cfg.Executor.Timeout, MaxRows: cfg.Executor.MaxRows},
		GrammarCheck: cfg.Executor.GrammarCheck,
	})
	return a
}

func (a *app) loadFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	if _, err := a.ws.Load(ctx, filepath.Base(path), f); err != nil {
		return pipeline.DatasetLoadFailure(err)
	}
	return nil
}

func (a *app) Close() {
	if err := a.ws.Close(); err != nil {
		logger.L.Warn("workspace close failed", "error", err)
	}
	if a.mirror != nil {
		a.mirror.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.L.Warn("sqlite close failed", "error", err)
		}
	}
}
