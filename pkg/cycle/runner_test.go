package cycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	cyerrors "github.com/forzax/cycleloop/pkg/errors"
	"github.com/forzax/cycleloop/pkg/llm"
	"github.com/forzax/cycleloop/pkg/prompts"
	"github.com/forzax/cycleloop/pkg/research"
	"github.com/forzax/cycleloop/pkg/search"
	"github.com/forzax/cycleloop/pkg/stage"
	"github.com/forzax/cycleloop/pkg/store"
	"github.com/forzax/cycleloop/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Started at init by the firestore client's opencensus dependency.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

const waitFor = 5 * time.Second

// funcGenerator dispatches every request to fn.
type funcGenerator func(ctx context.Context, req llm.Request) (string, error)

func (f funcGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	return f(ctx, req)
}

var registry = prompts.DefaultRegistry()

// stageOf identifies the stage a direct stage request belongs to.
func stageOf(req llm.Request) types.StageName {
	for _, s := range types.StageOrder {
		if req.System == registry.Instruction(s) {
			return s
		}
	}
	return ""
}

func testCampaign() types.Campaign {
	return types.Campaign{
		ID: "acme", Brand: "Acme", TargetAudience: "Budget shoppers", MarketingGoal: "Increase trial",
		CurrentCycle: 1, Status: types.CampaignActive,
	}
}

type harness struct {
	runner *Runner
	store  *store.MemoryStore

	mu        sync.Mutex
	snapshots []Snapshot
	progress  []string
}

func newHarness(t *testing.T, gen llm.Generator, withResearch bool, onSnap func(h *harness, s Snapshot)) *harness {
	t.Helper()
	h := &harness{store: store.NewMemoryStore()}
	cfg := stage.Config{Generator: gen, Registry: registry}
	if withResearch {
		cfg.Researcher = research.New(research.Config{
			Generator: gen,
			Searcher:  search.NewBatcher(search.MockBackend{}, nil),
		})
	}
	h.runner = NewRunner(Config{
		Executor:   stage.New(cfg),
		Store:      h.store,
		StageDelay: -1,
		OnSnapshot: func(s Snapshot) {
			h.mu.Lock()
			h.snapshots = append(h.snapshots, s)
			h.mu.Unlock()
			if onSnap != nil {
				onSnap(h, s)
			}
		},
		OnProgress: func(_ string, msg string) {
			h.mu.Lock()
			h.progress = append(h.progress, msg)
			h.mu.Unlock()
		},
	})
	require.NoError(t, h.store.SaveCampaign(context.Background(), testCampaign()))
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.runner.Done():
	case <-time.After(waitFor):
		t.Fatal("loop did not exit")
	}
}

// eventually polls cond until it holds.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, waitFor, time.Millisecond)
}

func TestRunnerFullCycle(t *testing.T) {
	gen := funcGenerator(func(ctx context.Context, req llm.Request) (string, error) {
		switch {
		case strings.HasPrefix(req.Prompt, "You are a research planning expert"):
			return `[{"task":"competitors","description":"who sells cheap"}]`, nil
		case strings.HasPrefix(req.Prompt, "You are a search strategy expert"):
			return `["acme rivals"]`, nil
		case strings.HasPrefix(req.Prompt, "You are a research analyst"):
			return "Rivals undercut on price.", nil
		case strings.HasPrefix(req.Prompt, "You are a strategic competitive intelligence analyst"):
			if req.OnChunk != nil {
				req.OnChunk("Competitor: Acme Rival\n")
			}
			return "Competitor: Acme Rival\nBrief.", nil
		}
		s := stageOf(req)
		if s == types.StageTaste && !strings.Contains(req.Prompt, "1. Acme Rival") {
			return "", errors.New("taste prompt missing competitor")
		}
		return string(s) + " output", nil
	})

	// Stop emits a snapshot synchronously, so the hook is re-entered.
	var stopping atomic.Bool
	h := newHarness(t, gen, true, func(h *harness, s Snapshot) {
		if s.Cycle != nil && s.Cycle.CycleNumber == 2 && stopping.CompareAndSwap(false, true) {
			_ = h.runner.Stop()
		}
	})

	require.NoError(t, h.runner.Start(context.Background(), testCampaign(), 1))
	h.wait(t)
	require.NoError(t, h.runner.Err())

	ctx := context.Background()
	first, err := h.store.GetCycle(ctx, "acme-cycle-1")
	require.NoError(t, err)
	assert.Equal(t, types.CycleComplete, first.Status)
	require.NotNil(t, first.CompletedAt)
	require.NoError(t, first.Validate())
	for _, name := range types.StageOrder {
		d := first.Stages[name]
		assert.Equal(t, types.StageComplete, d.Status, name)
		assert.NotEmpty(t, d.AgentOutput, name)
		assert.True(t, d.ReadyForNext, name)
	}

	second, err := h.store.GetCycle(ctx, "acme-cycle-2")
	require.NoError(t, err)
	assert.Equal(t, 2, second.CycleNumber)
	assert.Equal(t, types.StageResearch, second.CurrentStage)
	assert.Equal(t, types.CycleInProgress, second.Status)

	camp, err := h.store.GetCampaign(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, camp.CurrentCycle)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Contains(t, h.progress, "[Agent] Complete: competitors")
	assertStageOrder(t, h.snapshots)
}

// assertStageOrder checks that stages of cycle 1 started strictly in order and
// each only after its predecessor completed.
func assertStageOrder(t *testing.T, snaps []Snapshot) {
	t.Helper()
	var started []types.StageName
	seen := map[types.StageName]bool{}
	for _, s := range snaps {
		if s.Cycle == nil || s.Cycle.CycleNumber != 1 {
			continue
		}
		for i, name := range types.StageOrder {
			d := s.Cycle.Stages[name]
			if d.Status == types.StagePending || seen[name] {
				continue
			}
			seen[name] = true
			started = append(started, name)
			if i > 0 {
				assert.Equal(t, types.StageComplete, s.Cycle.Stages[types.StageOrder[i-1]].Status,
					"%s started before %s completed", name, types.StageOrder[i-1])
			}
		}
	}
	assert.Equal(t, types.StageOrder, started)
}

func TestRunnerPauseThenStopMidMake(t *testing.T) {
	makeCalled := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var calls []types.StageName
	gen := funcGenerator(func(ctx context.Context, req llm.Request) (string, error) {
		s := stageOf(req)
		mu.Lock()
		calls = append(calls, s)
		mu.Unlock()
		if s == types.StageMake {
			once.Do(func() { close(makeCalled) })
			<-ctx.Done()
			return "", ctx.Err()
		}
		return string(s) + " output", nil
	})
	h := newHarness(t, gen, false, nil)

	require.NoError(t, h.runner.Start(context.Background(), testCampaign(), 1))
	select {
	case <-makeCalled:
	case <-time.After(waitFor):
		t.Fatal("make stage never started")
	}

	require.NoError(t, h.runner.Pause())
	eventually(t, func() bool {
		cy, err := h.store.GetCycle(context.Background(), "acme-cycle-1")
		return err == nil && cy.Stages[types.StageMake].Status == types.StageInProgress
	})
	require.NoError(t, h.runner.Stop())
	h.wait(t)

	cy, err := h.store.GetCycle(context.Background(), "acme-cycle-1")
	require.NoError(t, err)
	assert.NotEqual(t, types.StageComplete, cy.Stages[types.StageMake].Status)
	assert.Equal(t, types.StagePending, cy.Stages[types.StageTest].Status)
	assert.Equal(t, types.StagePending, cy.Stages[types.StageMemories].Status)
	assert.Equal(t, types.CycleInProgress, cy.Status)
	assert.Nil(t, cy.CompletedAt)

	mu.Lock()
	assert.Equal(t, []types.StageName{types.StageResearch, types.StageTaste, types.StageMake}, calls)
	mu.Unlock()

	st := h.runner.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.Equal(t, SystemIdle, st.SystemStatus)
	assert.NoError(t, h.runner.Err())

	camp, err := h.store.GetCampaign(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, types.CampaignPaused, camp.Status)
}

func TestRunnerPauseResumeRetriesStage(t *testing.T) {
	var mu sync.Mutex
	tasteAttempts := 0
	firstTaste := make(chan struct{})
	cancelled := make(chan struct{})
	var freshCtx []bool

	gen := funcGenerator(func(ctx context.Context, req llm.Request) (string, error) {
		s := stageOf(req)
		if s != types.StageTaste {
			return string(s) + " output", nil
		}
		mu.Lock()
		tasteAttempts++
		attempt := tasteAttempts
		freshCtx = append(freshCtx, ctx.Err() == nil)
		mu.Unlock()
		if attempt == 1 {
			req.OnChunk("partial ")
			close(firstTaste)
			<-ctx.Done()
			close(cancelled)
			return "", ctx.Err()
		}
		return "taste output", nil
	})

	h := newHarness(t, gen, false, func(h *harness, s Snapshot) {
		if s.Cycle != nil && s.Cycle.CycleNumber == 2 {
			_ = h.runner.Stop()
		}
	})
	require.NoError(t, h.runner.Start(context.Background(), testCampaign(), 1))

	<-firstTaste
	require.NoError(t, h.runner.Pause())
	select {
	case <-cancelled:
	case <-time.After(waitFor):
		t.Fatal("in-flight call was not cancelled by pause")
	}

	eventually(t, func() bool {
		st := h.runner.Status()
		return st.State == StatePaused && st.Cycle != nil &&
			st.Cycle.Stages[types.StageTaste].Status == types.StageInProgress
	})
	assert.ErrorIs(t, h.runner.Pause(), ErrInvalidTransition)

	require.NoError(t, h.runner.Resume())
	h.wait(t)

	cy, err := h.store.GetCycle(context.Background(), "acme-cycle-1")
	require.NoError(t, err)
	assert.Equal(t, types.StageComplete, cy.Stages[types.StageTaste].Status)
	assert.Equal(t, "taste output", cy.Stages[types.StageTaste].AgentOutput)
	assert.Equal(t, types.CycleComplete, cy.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, tasteAttempts)
	assert.Equal(t, []bool{true, true}, freshCtx)
}

func TestRunnerFatalFailureStops(t *testing.T) {
	var mu sync.Mutex
	var calls []types.StageName
	gen := funcGenerator(func(ctx context.Context, req llm.Request) (string, error) {
		s := stageOf(req)
		mu.Lock()
		calls = append(calls, s)
		mu.Unlock()
		if s == types.StageTest {
			return "", errors.New("connection refused")
		}
		return string(s) + " output", nil
	})
	h := newHarness(t, gen, false, nil)

	require.NoError(t, h.runner.Start(context.Background(), testCampaign(), 1))
	h.wait(t)

	require.Error(t, h.runner.Err())
	assert.Contains(t, h.runner.Err().Error(), "connection refused")
	st := h.runner.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.Equal(t, SystemError, st.SystemStatus)
	assert.NotEmpty(t, st.Error)

	cy, err := h.store.GetCycle(context.Background(), "acme-cycle-1")
	require.NoError(t, err)
	assert.Equal(t, types.StageComplete, cy.Stages[types.StageMake].Status)
	assert.Equal(t, types.StageInProgress, cy.Stages[types.StageTest].Status)
	assert.Equal(t, types.StagePending, cy.Stages[types.StageMemories].Status)

	mu.Lock()
	assert.NotContains(t, calls, types.StageMemories)
	mu.Unlock()

	// A restart clears the error and resumes from the campaign's cycle.
	restarted := make(chan Snapshot, 1)
	var once sync.Once
	h.runner.onSnapshot = func(s Snapshot) {
		if s.State == StateRunning {
			once.Do(func() { restarted <- s })
		}
	}
	require.NoError(t, h.runner.Start(context.Background(), testCampaign(), 0))
	first := <-restarted
	assert.Empty(t, first.Error)
	assert.Equal(t, SystemRunning, first.SystemStatus)
	_ = h.runner.Stop()
	h.wait(t)
}

func TestRunnerInvalidTransitions(t *testing.T) {
	block := make(chan struct{})
	gen := funcGenerator(func(ctx context.Context, req llm.Request) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-block:
			return "x", nil
		}
	})
	h := newHarness(t, gen, false, nil)

	assert.ErrorIs(t, h.runner.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, h.runner.Resume(), ErrInvalidTransition)
	assert.ErrorIs(t, h.runner.Stop(), ErrInvalidTransition)
	assert.Equal(t, SystemIdle, h.runner.Status().SystemStatus)

	require.NoError(t, h.runner.Start(context.Background(), testCampaign(), 1))
	assert.ErrorIs(t, h.runner.Start(context.Background(), testCampaign(), 1), ErrInvalidTransition)
	assert.ErrorIs(t, h.runner.Resume(), ErrInvalidTransition)

	require.NoError(t, h.runner.Stop())
	h.wait(t)
	close(block)
}

func TestRunnerRefusesToRestartFinishedCycle(t *testing.T) {
	gen := funcGenerator(func(ctx context.Context, req llm.Request) (string, error) {
		return string(stageOf(req)) + " output", nil
	})
	var stopping atomic.Bool
	h := newHarness(t, gen, false, func(h *harness, s Snapshot) {
		if s.Cycle != nil && s.Cycle.CycleNumber == 2 && stopping.CompareAndSwap(false, true) {
			_ = h.runner.Stop()
		}
	})
	require.NoError(t, h.runner.Start(context.Background(), testCampaign(), 1))
	h.wait(t)

	ctx := context.Background()
	camp, err := h.store.GetCampaign(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 2, camp.CurrentCycle)

	// Stale campaign copy still at cycle 1: the stored cycle is complete.
	err = h.runner.Start(ctx, testCampaign(), 1)
	require.Error(t, err)
	assert.Equal(t, cyerrors.ErrStateConflict, cyerrors.Code(err))

	// Fresh campaign copy: cycle 1 is behind the current cycle.
	err = h.runner.Start(ctx, camp, 1)
	require.Error(t, err)
	assert.Equal(t, cyerrors.ErrStateConflict, cyerrors.Code(err))

	assert.Equal(t, StateStopped, h.runner.Status().State)
	first, err := h.store.GetCycle(ctx, "acme-cycle-1")
	require.NoError(t, err)
	assert.Equal(t, types.CycleComplete, first.Status)
	assert.Equal(t, types.StageComplete, first.Stages[types.StageMemories].Status)
	require.NoError(t, first.Validate())
}

func TestRunnerContextCancellationEndsLoop(t *testing.T) {
	gen := funcGenerator(func(ctx context.Context, req llm.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	h := newHarness(t, gen, false, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.runner.Start(ctx, testCampaign(), 3))
	eventually(t, func() bool {
		st := h.runner.Status()
		return st.Cycle != nil && st.Cycle.Stages[types.StageResearch].Status == types.StageInProgress
	})
	cancel()
	h.wait(t)

	assert.Equal(t, StateStopped, h.runner.Status().State)
	cy, err := h.store.GetCycle(context.Background(), "acme-cycle-3")
	require.NoError(t, err)
	assert.Equal(t, types.StageInProgress, cy.Stages[types.StageResearch].Status)
}

func TestRunnerSnapshotsAreIsolated(t *testing.T) {
	release := make(chan struct{})
	gen := funcGenerator(func(ctx context.Context, req llm.Request) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-release:
			return "done", nil
		}
	})
	h := newHarness(t, gen, false, nil)
	require.NoError(t, h.runner.Start(context.Background(), testCampaign(), 1))
	eventually(t, func() bool { return h.runner.Status().Cycle != nil })

	st := h.runner.Status()
	st.Cycle.Stages[types.StageResearch].AgentOutput = "tampered"
	assert.NotEqual(t, "tampered", h.runner.Status().Cycle.Stages[types.StageResearch].AgentOutput)

	require.NoError(t, h.runner.Stop())
	h.wait(t)
	close(release)
}
