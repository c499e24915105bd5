package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/forzax/cycleloop/pkg/config"
	"github.com/forzax/cycleloop/pkg/cycle"
	cyerrors "github.com/forzax/cycleloop/pkg/errors"
	"github.com/forzax/cycleloop/pkg/llm"
	"github.com/forzax/cycleloop/pkg/notify"
	"github.com/forzax/cycleloop/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Started at init by the firestore client's opencensus dependency.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

const waitFor = 5 * time.Second

type funcGenerator func(ctx context.Context, req llm.Request) (string, error)

func (f funcGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	return f(ctx, req)
}

// scripted answers planning and query prompts with parseable lists and
// everything else with "output".
func scripted(ctx context.Context, req llm.Request) (string, error) {
	switch {
	case strings.Contains(req.Prompt, "research planning expert"):
		return `[{"task":"market","description":"Size the market"}]`, nil
	case strings.Contains(req.Prompt, "search strategy expert"):
		return `["acme market size"]`, nil
	}
	if req.OnChunk != nil {
		req.OnChunk("output")
	}
	return "output", nil
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(t string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testConfig() config.Config {
	return config.Config{
		Generator:     config.GeneratorOllama,
		Model:         "test-model",
		Search:        config.SearchMock,
		SearchResults: 5,
		Store:         config.StoreMemory,
		MaxAgents:     2,
	}
}

func newTestApp(t *testing.T, gen llm.Generator, onSnapshot func(cycle.Snapshot)) (*App, *recorder) {
	t.Helper()
	rec := &recorder{}
	a, err := New(context.Background(), testConfig(), nil, Options{
		Generator:  gen,
		Publisher:  rec,
		OnSnapshot: onSnapshot,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a, rec
}

func TestCreateCampaign(t *testing.T) {
	a, _ := newTestApp(t, funcGenerator(scripted), nil)
	ctx := context.Background()

	c, err := a.CreateCampaign(ctx, " Acme ", "Budget shoppers", "Increase trial")
	require.NoError(t, err)
	assert.Equal(t, "Acme", c.Brand)
	assert.Equal(t, 1, c.CurrentCycle)
	assert.Equal(t, types.CampaignActive, c.Status)

	list, err := a.ListCampaigns(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)

	_, err = a.CreateCampaign(ctx, "Acme", "", "Increase trial")
	require.Error(t, err)
	assert.True(t, cyerrors.Is(err, cyerrors.KindValidation))
}

func TestStartCampaignUnknown(t *testing.T) {
	a, _ := newTestApp(t, funcGenerator(scripted), nil)

	_, err := a.StartCampaign(context.Background(), "missing", 0)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = a.Cycles(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestStartCampaignRunsCycle(t *testing.T) {
	second := make(chan struct{}, 1)
	a, rec := newTestApp(t, funcGenerator(scripted), func(s cycle.Snapshot) {
		if s.Cycle != nil && s.Cycle.CycleNumber == 2 {
			select {
			case second <- struct{}{}:
			default:
			}
		}
	})
	ctx := context.Background()

	c, err := a.CreateCampaign(ctx, "Acme", "Budget shoppers", "Increase trial")
	require.NoError(t, err)

	// The request context ends before the loop does.
	reqCtx, cancel := context.WithCancel(ctx)
	_, err = a.StartCampaign(reqCtx, c.ID, 0)
	cancel()
	require.NoError(t, err)

	select {
	case <-second:
	case <-time.After(waitFor):
		t.Fatal("second cycle never started")
	}
	require.NoError(t, a.Runner.Stop())
	<-a.Runner.Done()

	stored, err := a.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stored.CurrentCycle, 2)

	cycles, err := a.Cycles(ctx, c.ID)
	require.NoError(t, err)
	require.NotEmpty(t, cycles)
	first := cycles[0]
	assert.Equal(t, types.CycleComplete, first.Status)
	assert.Equal(t, "output", first.Stages[types.StageMemories].AgentOutput)

	completed := rec.ofType(notify.EventCycleCompleted)
	require.NotEmpty(t, completed)
	assert.Equal(t, types.CycleID(c.ID, 1), completed[0].CycleID)

	// Each stage of the first cycle reports in-progress then complete once.
	var firstStages []string
	for _, e := range rec.ofType(notify.EventStageChanged) {
		if e.CycleID == first.ID {
			firstStages = append(firstStages, e.Stage+":"+e.Message)
		}
	}
	want := make([]string, 0, 2*len(types.StageOrder))
	for _, s := range types.StageOrder {
		want = append(want, string(s)+":in-progress", string(s)+":complete")
	}
	assert.Equal(t, want, firstStages)

	assert.NotEmpty(t, rec.ofType(notify.EventResearchProgress))
	states := rec.ofType(notify.EventLoopState)
	require.NotEmpty(t, states)
	assert.Equal(t, string(cycle.SystemRunning), states[0].Message)
}

func TestDeleteRunningCampaign(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	blocking := funcGenerator(func(ctx context.Context, req llm.Request) (string, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return "", cyerrors.Wrap(ctx.Err(), cyerrors.ErrCancelled, "cancelled")
	})
	a, _ := newTestApp(t, blocking, nil)
	ctx := context.Background()

	c, err := a.CreateCampaign(ctx, "Acme", "Budget shoppers", "Increase trial")
	require.NoError(t, err)
	_, err = a.StartCampaign(ctx, c.ID, 0)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("stage never started")
	}
	err = a.DeleteCampaign(ctx, c.ID)
	require.Error(t, err)
	assert.Equal(t, cyerrors.ErrStateConflict, cyerrors.Code(err))

	require.NoError(t, a.Runner.Stop())
	<-a.Runner.Done()
	require.NoError(t, a.DeleteCampaign(ctx, c.ID))
	_, err = a.GetCampaign(ctx, c.ID)
	assert.True(t, IsNotFound(err))
}

func TestEventBridgeDedupes(t *testing.T) {
	rec := &recorder{}
	b := newEventBridge(rec, zap.NewNop())
	ctx := context.Background()

	cy := types.NewCycle("acme", 1, time.Now())
	cy.Stage(types.StageResearch).Begin(time.Now())
	snap := cycle.Snapshot{State: cycle.StateRunning, SystemStatus: cycle.SystemRunning, CampaignID: "acme", Cycle: cy}

	b.observe(ctx, snap)
	b.observe(ctx, snap)
	assert.Len(t, rec.ofType(notify.EventLoopState), 1)
	assert.Len(t, rec.ofType(notify.EventStageChanged), 1)

	snap.State, snap.SystemStatus, snap.Error = cycle.StateStopped, cycle.SystemError, "boom"
	b.observe(ctx, snap)
	b.observe(ctx, snap)
	assert.Len(t, rec.ofType(notify.EventLoopState), 2)
	errs := rec.ofType(notify.EventLoopError)
	require.Len(t, errs, 1)
	assert.Equal(t, "boom", errs[0].Message)
}
