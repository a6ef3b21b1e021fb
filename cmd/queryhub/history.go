package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/comigor/queryhub-go/internal/history"
)

func newHistoryCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the persisted query history",
	}

	var (
		dbPath string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent history entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(os.Stderr)
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.History.DBPath
			}
			if dbPath == "" {
				return errors.New("no history database: pass --db or set history.db_path")
			}
			store, err := history.OpenSQLite(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIMESTAMP\tSTATUS\tDURATION_MS\tQUESTION\tSQL")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					e.Timestamp.Local().Format(time.DateTime), e.Status, e.DurationMs(), e.Question, e.Statement)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&dbPath, "db", "", "SQLite history database (defaults to history.db_path)")
	list.Flags().IntVar(&limit, "limit", 20, "Number of entries to show; 0 shows all")

	cmd.AddCommand(list)
	return cmd
}
