package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/comigor/queryhub-go/internal/mcpserver"
	"github.com/comigor/queryhub-go/pkg/tools"
)

func newMCPCmd(load configLoader) *cobra.Command {
	var dataPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the dataset tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout carries the protocol
			cfg, err := load(os.Stderr)
			if err != nil {
				return err
			}
			a := newApp(cfg)
			defer a.Close()

			if dataPath != "" {
				if err := a.loadFile(cmd.Context(), dataPath); err != nil {
					return err
				}
			}

			m := tools.NewToolManager()
			tools.Register(m, a.ws, a.runner)
			return mcpserver.ServeStdio(mcpserver.New(m, version))
		},
	}
	cmd.Flags().StringVar(&dataPath, "data", "", "Dataset to load at startup")
	return cmd
}
