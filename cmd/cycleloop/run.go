package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forzax/cycleloop/pkg/app"
	"github.com/forzax/cycleloop/pkg/control"
	"github.com/forzax/cycleloop/pkg/cycle"
	"github.com/forzax/cycleloop/pkg/types"
)

func newRunCmd(e *env) *cobra.Command {
	var campaignID string
	var cycleNumber int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the cycle loop for a campaign in the foreground",
		Long: `Run the cycle loop until it is stopped or a stage fails.

SIGINT or SIGTERM stops the loop, SIGUSR1 pauses it and SIGUSR2 resumes it.
When CYCLELOOP_HTTP_ADDR is set the HTTP control surface is served too.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), e, cmd.OutOrStdout(), campaignID, cycleNumber)
		},
	}
	cmd.Flags().StringVar(&campaignID, "campaign", "", "campaign id")
	cmd.Flags().IntVar(&cycleNumber, "cycle", 0, "cycle number to start at (default: the campaign's current cycle)")
	_ = cmd.MarkFlagRequired("campaign")
	return cmd
}

func run(ctx context.Context, e *env, out io.Writer, campaignID string, n int) error {
	p := &printer{out: out}
	a, err := e.open(ctx, app.Options{OnSnapshot: p.observe})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Ping(ctx); err != nil {
		e.logger.Warn("generation backend unreachable", zap.String("generator", e.cfg.Generator), zap.Error(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if e.cfg.HTTPAddr != "" {
		go func() {
			if err := control.Serve(ctx, e.cfg.HTTPAddr, control.NewHandler(a.Runner, e.logger), e.logger); err != nil {
				e.logger.Error("control server failed", zap.Error(err))
			}
		}()
	}

	if _, err := a.StartCampaign(ctx, campaignID, n); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	done := a.Runner.Done()
	for {
		select {
		case <-done:
			return a.Runner.Err()
		case sig := <-sigs:
			var err error
			switch sig {
			case syscall.SIGUSR1:
				err = a.Runner.Pause()
			case syscall.SIGUSR2:
				err = a.Runner.Resume()
			default:
				err = a.Runner.Stop()
			}
			if err != nil && !errors.Is(err, cycle.ErrInvalidTransition) {
				return err
			}
			if err != nil {
				e.logger.Warn("signal ignored", zap.String("signal", sig.String()), zap.Error(err))
			}
		}
	}
}

// printer writes one line per loop state change and per stage status change.
type printer struct {
	out io.Writer

	mu      sync.Mutex
	state   cycle.State
	cycleID string
	stages  map[types.StageName]types.StageStatus
}

func (p *printer) observe(s cycle.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.State != p.state {
		p.state = s.State
		line := fmt.Sprintf("loop %s", s.SystemStatus)
		if s.Error != "" {
			line += ": " + s.Error
		}
		fmt.Fprintln(p.out, line)
	}
	cy := s.Cycle
	if cy == nil {
		return
	}
	if cy.ID != p.cycleID {
		p.cycleID = cy.ID
		p.stages = make(map[types.StageName]types.StageStatus)
		fmt.Fprintf(p.out, "cycle %d started\n", cy.CycleNumber)
	}
	for _, name := range types.StageOrder {
		d := cy.Stage(name)
		if d == nil || d.Status == types.StagePending || p.stages[name] == d.Status {
			continue
		}
		p.stages[name] = d.Status
		fmt.Fprintf(p.out, "cycle %d %s %s\n", cy.CycleNumber, name, d.Status)
	}
}
