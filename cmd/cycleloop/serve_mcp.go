package main

import (
	"github.com/spf13/cobra"

	"github.com/forzax/cycleloop/pkg/app"
	"github.com/forzax/cycleloop/pkg/mcp"
)

func newServeMCPCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-mcp",
		Short: "Serve campaign and loop tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			return mcp.NewMCPServer(a, a.Runner, version, e.logger).Start(ctx)
		},
	}
}
