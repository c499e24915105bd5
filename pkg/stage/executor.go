// Package stage runs a single stage of a cycle.
package stage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	cyerrors "github.com/forzax/cycleloop/pkg/errors"
	"github.com/forzax/cycleloop/pkg/llm"
	"github.com/forzax/cycleloop/pkg/prompts"
	"github.com/forzax/cycleloop/pkg/research"
	"github.com/forzax/cycleloop/pkg/types"
)

// Researcher produces the research stage's output.
type Researcher interface {
	Execute(ctx context.Context, in research.Input) (string, error)
}

// Observer receives notifications while a stage runs. Both fields are optional.
type Observer struct {
	// Emit is called after every mutation of the cycle, on the calling goroutine.
	Emit func()
	// Progress receives research progress lines, possibly from other goroutines.
	Progress research.ProgressFunc
}

// Config configures an Executor.
type Config struct {
	Generator  llm.Generator
	Researcher Researcher
	Registry   *prompts.Registry
	Model      string
	Now        func() time.Time
	Logger     *zap.Logger
}

// Executor runs one stage at a time against a cycle it mutates in place.
// It is not safe to run two stages of the same cycle concurrently.
type Executor struct {
	gen        llm.Generator
	researcher Researcher
	registry   *prompts.Registry
	model      string
	now        func() time.Time
	logger     *zap.Logger
}

func New(cfg Config) *Executor {
	if cfg.Registry == nil {
		cfg.Registry = prompts.DefaultRegistry()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Executor{
		gen:        cfg.Generator,
		researcher: cfg.Researcher,
		registry:   cfg.Registry,
		model:      cfg.Model,
		now:        cfg.Now,
		logger:     cfg.Logger.Named("stage"),
	}
}

// Execute runs stage on cycle. On success the stage is complete and ready
// for the next one. On failure or cancellation the stage is left in progress
// and the error is returned; nothing is retried here.
func (e *Executor) Execute(ctx context.Context, campaign types.Campaign, cycle *types.Cycle, stage types.StageName, obs Observer) error {
	data := cycle.Stage(stage)
	if data == nil {
		return cyerrors.New(cyerrors.ErrInvalidInput, fmt.Sprintf("unknown stage %q", stage))
	}
	emit := obs.Emit
	if emit == nil {
		emit = func() {}
	}

	data.Begin(e.now())
	emit()

	onChunk := func(chunk string) {
		data.AgentOutput += chunk
		emit()
	}
	system := e.registry.Instruction(stage)
	log := e.logger.With(zap.String("stage", string(stage)), zap.String("cycle", cycle.ID))
	start := time.Now()

	var (
		output string
		err    error
	)
	if stage == types.StageResearch && e.researcher != nil {
		output, err = e.researcher.Execute(ctx, research.Input{
			Campaign: campaign,
			System:   system,
			OnChunk:  onChunk,
			Progress: obs.Progress,
		})
	} else {
		output, err = e.gen.Generate(ctx, llm.Request{
			Prompt:  prompts.StagePrompt(stage, campaign, cycle),
			System:  system,
			Model:   e.model,
			OnChunk: onChunk,
		})
	}
	if err != nil {
		if cyerrors.IsCancellation(err) {
			log.Info("stage cancelled", zap.Duration("elapsed", time.Since(start)))
		} else {
			log.Error("stage failed", zap.Error(err))
		}
		return cyerrors.Wrap(err, cyerrors.ErrGenerationFailed, "execute stage").WithStage(string(stage))
	}

	data.Complete(output, e.now())
	emit()
	log.Info("stage complete", zap.Int("output_len", len(output)), zap.Duration("elapsed", time.Since(start)))
	return nil
}
