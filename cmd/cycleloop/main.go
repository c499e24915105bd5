package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forzax/cycleloop/pkg/app"
	"github.com/forzax/cycleloop/pkg/config"
	"github.com/forzax/cycleloop/pkg/logging"
)

var version = "dev"

// env carries the configuration and logger built before any subcommand runs.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:   "cycleloop",
		Short: "Run research, taste, make, test and memories cycles for a campaign",
		Long: `cycleloop drives a campaign through repeated cycles of five stages.
Research fans out parallel searcher agents and synthesizes a brief; each
later stage builds on the completed output of the stages before it.

Configuration is read from CYCLELOOP_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, _, err := logging.New(cfg.LogLevel, cfg.LogDev)
			if err != nil {
				return err
			}
			e.cfg, e.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}
	root.AddCommand(
		newCampaignCmd(e),
		newRunCmd(e),
		newCyclesCmd(e),
		newServeMCPCmd(e),
		newWatchCmd(e),
	)
	return root
}

// open builds the app for a command. Callers must Close it.
func (e *env) open(ctx context.Context, opts app.Options) (*app.App, error) {
	return app.New(ctx, e.cfg, e.logger, opts)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
