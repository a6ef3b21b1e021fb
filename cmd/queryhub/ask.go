package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/comigor/queryhub-go/internal/llm"
	"github.com/comigor/queryhub-go/internal/pipeline"
)

func newAskCmd(load configLoader) *cobra.Command {
	var (
		dataPath string
		asJSON   bool
		options  map[string]string
	)

	cmd := &cobra.Command{
		Use:   "ask --data FILE QUESTION...",
		Short: "Answer one question about a dataset and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(os.Stderr)
			if err != nil {
				return err
			}
			var opts *llm.Options
			if len(options) > 0 {
				raw := make(map[string]any, len(options))
				for k, v := range options {
					raw[k] = v
				}
				parsed, err := llm.ParseOptions(raw, cfg.LLM.Options)
				if err != nil {
					return err
				}
				opts = &parsed
			}

			a := newApp(cfg)
			defer a.Close()

			if err := a.loadFile(cmd.Context(), dataPath); err != nil {
				return err
			}
			outcome, err := a.runner.Run(cmd.Context(), strings.Join(args, " "), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(outcome); err != nil {
					return err
				}
			} else {
				printOutcome(out, outcome)
			}
			if outcome.Failure != nil {
				return outcome.Failure
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dataPath, "data", "", "Delimited text file to query")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full outcome as JSON")
	cmd.Flags().StringToStringVar(&options, "option", nil, "Generation option, e.g. --option max_tokens=128 --option temperature=0")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func printOutcome(w io.Writer, o *pipeline.Outcome) {
	if o.Statement != "" {
		fmt.Fprintf(w, "SQL: %s\n", o.Statement)
	}
	if o.Verdict != nil {
		for _, warning := range o.Verdict.Warnings {
			fmt.Fprintf(w, "warning: %s\n", warning)
		}
	}
	if o.Result == nil {
		return
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(o.Result.Columns, "\t"))
	for _, row := range o.Result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()

	suffix := ""
	if o.Result.Truncated {
		suffix = " (truncated)"
	}
	fmt.Fprintf(w, "\n%d row(s) in %d ms%s\n", len(o.Result.Rows), o.DurationMs, suffix)
}
