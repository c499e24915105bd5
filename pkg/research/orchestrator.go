// Package research produces the research stage's strategic brief by planning
// research tasks, fanning out one searcher agent per task and synthesizing
// their reports.
package research

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	cyerrors "github.com/forzax/cycleloop/pkg/errors"
	"github.com/forzax/cycleloop/pkg/llm"
	"github.com/forzax/cycleloop/pkg/prompts"
	"github.com/forzax/cycleloop/pkg/search"
	"github.com/forzax/cycleloop/pkg/types"
)

const (
	// NoTasksOutput is the brief produced when planning yields nothing.
	NoTasksOutput = "No research tasks identified."
	// UnsummarizedOutput replaces the summary of an agent whose summarization failed.
	UnsummarizedOutput = "Unable to summarize findings."

	DefaultMaxAgents = 7
	maxSummaryLen    = 500
)

// ProgressFunc receives human-readable progress lines.
type ProgressFunc func(msg string)

// Config configures an Orchestrator.
type Config struct {
	Generator llm.Generator
	Searcher  search.Searcher
	Model     string
	// MaxAgents bounds how many searcher agents run at once.
	MaxAgents int
	Logger    *zap.Logger
}

// Orchestrator runs plan, fan-out and synthesis for one campaign.
type Orchestrator struct {
	gen       llm.Generator
	searcher  search.Searcher
	model     string
	maxAgents int
	logger    *zap.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = DefaultMaxAgents
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Orchestrator{
		gen:       cfg.Generator,
		searcher:  cfg.Searcher,
		model:     cfg.Model,
		maxAgents: cfg.MaxAgents,
		logger:    cfg.Logger.Named("research"),
	}
}

// Input is one research stage invocation.
type Input struct {
	Campaign types.Campaign
	// System is the instruction used for the synthesis call.
	System string
	// OnChunk observes streamed synthesis output.
	OnChunk func(chunk string)
	// Progress may be nil. Calls are serialized.
	Progress ProgressFunc
}

// Execute returns the strategic brief. Generation failures during planning
// or synthesis are returned; failures inside a searcher agent only degrade
// that agent's report. Cancellation always propagates.
func (o *Orchestrator) Execute(ctx context.Context, in Input) (string, error) {
	progress := serialize(in.Progress)
	campaign := in.Campaign

	progress("[Research Brain] Analyzing what research is needed...")
	tasks, err := o.plan(ctx, campaign)
	if err != nil {
		return "", err
	}
	progress(fmt.Sprintf("[Research Brain] Deploying %d searcher agents...", len(tasks)))
	if len(tasks) == 0 {
		progress("[Research Brain] " + NoTasksOutput)
		return NoTasksOutput, nil
	}

	reports := o.fanOut(ctx, tasks, progress)
	if err := ctx.Err(); err != nil {
		return "", cyerrors.Wrap(err, cyerrors.ErrCancelled, "research cancelled")
	}

	progress("[Research Brain] Synthesizing agent reports into strategic brief...")
	brief, err := o.gen.Generate(ctx, llm.Request{
		Prompt:  prompts.SynthesisPrompt(campaign, reports),
		System:  in.System,
		Model:   o.model,
		OnChunk: in.OnChunk,
	})
	if err != nil {
		return "", cyerrors.Wrap(err, cyerrors.ErrGenerationFailed, "synthesize research")
	}
	return brief, nil
}

// plan asks for research tasks. A response without a parseable list yields
// zero tasks and no error.
func (o *Orchestrator) plan(ctx context.Context, c types.Campaign) ([]types.ResearchTask, error) {
	out, err := o.gen.Generate(ctx, llm.Request{Prompt: prompts.PlanPrompt(c), Model: o.model})
	if err != nil {
		return nil, cyerrors.Wrap(err, cyerrors.ErrGenerationFailed, "plan research")
	}
	tasks := prompts.ParseResearchTasks(out)
	if tasks == nil {
		o.logger.Warn("planning returned no parseable tasks", zap.String("campaign", c.ID))
	}
	return tasks, nil
}

// fanOut runs one agent per task. Each agent writes only its own slot, so
// the result order matches the plan.
func (o *Orchestrator) fanOut(ctx context.Context, tasks []types.ResearchTask, progress ProgressFunc) []types.SearcherAgentReport {
	reports := make([]types.SearcherAgentReport, len(tasks))
	var g errgroup.Group
	g.SetLimit(o.maxAgents)
	for i, task := range tasks {
		g.Go(func() error {
			// A panicking agent degrades its own report only.
			defer func() {
				if p := recover(); p != nil {
					o.logger.Error("searcher agent panicked", zap.String("task", task.Task), zap.Any("panic", p))
					reports[i] = types.SearcherAgentReport{
						Task: task, Queries: []string{}, Summary: UnsummarizedOutput, Degraded: true,
					}
				}
			}()
			reports[i] = o.runAgent(ctx, task, progress)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// runAgent turns one task into queries, findings and a summary. It never
// fails: every error is absorbed into a degraded report.
func (o *Orchestrator) runAgent(ctx context.Context, task types.ResearchTask, progress ProgressFunc) types.SearcherAgentReport {
	log := o.logger.With(zap.String("task", task.Task))
	report := types.SearcherAgentReport{Task: task, Queries: []string{}}

	progress("[Agent] Starting research on: " + task.Task)
	progress("[Agent] Generating search queries for: " + task.Description)
	out, err := o.gen.Generate(ctx, llm.Request{Prompt: prompts.QueriesPrompt(task), Model: o.model})
	if err != nil {
		log.Warn("query generation failed", zap.Error(err))
		report.Degraded = true
	} else if qs := prompts.ParseQueries(out); qs != nil {
		report.Queries = qs
	}

	progress(fmt.Sprintf("[Agent] Searching %d queries...", len(report.Queries)))
	findings, err := o.searcher.BatchSearch(ctx, report.Queries)
	if err != nil {
		log.Warn("search failed", zap.Error(err))
		report.Degraded = true
		findings = ""
	}
	report.Findings = findings

	progress("[Agent] Summarizing findings...")
	summary, err := o.gen.Generate(ctx, llm.Request{Prompt: prompts.SummaryPrompt(task, findings), Model: o.model})
	if err != nil {
		log.Warn("summarization failed", zap.Error(err))
		report.Degraded = true
		summary = UnsummarizedOutput
	}
	report.Summary = truncate(summary, maxSummaryLen)

	progress("[Agent] Complete: " + task.Task)
	return report
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func serialize(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return func(string) {}
	}
	var mu sync.Mutex
	return func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		fn(msg)
	}
}
