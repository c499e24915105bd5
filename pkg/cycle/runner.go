// Package cycle drives campaigns through repeated cycles of stages.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	cyerrors "github.com/forzax/cycleloop/pkg/errors"
	"github.com/forzax/cycleloop/pkg/stage"
	"github.com/forzax/cycleloop/pkg/store"
	"github.com/forzax/cycleloop/pkg/types"
)

const (
	DefaultStageDelay = 2 * time.Second
	persistTimeout    = 30 * time.Second
)

// StageRunner executes one stage of a cycle in place.
type StageRunner interface {
	Execute(ctx context.Context, campaign types.Campaign, cycle *types.Cycle, stage types.StageName, obs stage.Observer) error
}

// Snapshot is an immutable view of the runner. Cycle must be treated as
// read-only; it is never mutated after publication.
type Snapshot struct {
	State        State        `json:"state"`
	SystemStatus SystemStatus `json:"systemStatus"`
	CampaignID   string       `json:"campaignId,omitempty"`
	Error        string       `json:"error,omitempty"`
	Cycle        *types.Cycle `json:"cycle,omitempty"`
}

// Config configures a Runner.
type Config struct {
	Executor StageRunner
	Store    store.Store
	// StageDelay is the pause between a stage finishing and the next one
	// starting. Zero means DefaultStageDelay; negative means no delay.
	StageDelay time.Duration
	Now        func() time.Time
	Logger     *zap.Logger
	// OnSnapshot is called after every state change and every cycle
	// mutation. It may be called from several goroutines.
	OnSnapshot func(Snapshot)
	// OnProgress receives research progress lines.
	OnProgress func(campaignID, msg string)
}

// Runner owns the cycle loop for one campaign at a time.
type Runner struct {
	exec       StageRunner
	store      store.Store
	delay      time.Duration
	now        func() time.Time
	logger     *zap.Logger
	onSnapshot func(Snapshot)
	onProgress func(campaignID, msg string)

	// campaignMu serializes campaign writes so saves land in mutation order.
	campaignMu sync.Mutex

	mu          sync.Mutex
	state       State
	err         error
	campaign    types.Campaign
	latest      *types.Cycle
	changed     chan struct{}
	cancelStage context.CancelFunc
	stopLoop    context.CancelFunc
	done        chan struct{}
}

// NewRunner creates an idle runner.
func NewRunner(cfg Config) *Runner {
	if cfg.StageDelay == 0 {
		cfg.StageDelay = DefaultStageDelay
	}
	if cfg.StageDelay < 0 {
		cfg.StageDelay = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Runner{
		exec:       cfg.Executor,
		store:      cfg.Store,
		delay:      cfg.StageDelay,
		now:        cfg.Now,
		logger:     cfg.Logger.Named("runner"),
		onSnapshot: cfg.OnSnapshot,
		onProgress: cfg.OnProgress,
		state:      StateIdle,
		changed:    make(chan struct{}),
	}
}

// Start begins the loop for campaign at cycle number n. When n is not
// positive the campaign's current cycle is used. Starting below the current
// cycle, or at a cycle already complete, fails with a state conflict. The
// loop runs until Stop, a fatal stage failure, or cancellation of ctx.
func (r *Runner) Start(ctx context.Context, campaign types.Campaign, n int) error {
	r.mu.Lock()
	if _, ok := Next(r.state, EventStart); !ok {
		err := transitionError(r.state, EventStart)
		r.mu.Unlock()
		return err
	}
	prev := r.done
	r.mu.Unlock()

	// A stopped loop may still be writing its final state.
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if n <= 0 {
		n = campaign.CurrentCycle
	}
	if n <= 0 {
		n = 1
	}
	if err := r.checkStartCycle(ctx, campaign, n); err != nil {
		return err
	}

	r.mu.Lock()
	next, ok := Next(r.state, EventStart)
	if !ok {
		err := transitionError(r.state, EventStart)
		r.mu.Unlock()
		return err
	}
	loopCtx, stop := context.WithCancel(ctx)
	r.state = next
	r.err = nil
	r.campaign = campaign
	r.latest = nil
	r.stopLoop = stop
	r.done = make(chan struct{})
	r.broadcastLocked()
	done := r.done
	r.mu.Unlock()

	r.logger.Info("cycle loop started", zap.String("campaign", campaign.ID), zap.Int("cycle", n))
	r.emit()
	go r.loop(loopCtx, stop, done, n)
	return nil
}

// checkStartCycle rejects starting at a cycle that is already history:
// one below the campaign's current cycle, or one stored as complete.
func (r *Runner) checkStartCycle(ctx context.Context, campaign types.Campaign, n int) error {
	if n < campaign.CurrentCycle {
		return cyerrors.New(cyerrors.ErrStateConflict,
			fmt.Sprintf("campaign %s is at cycle %d, cannot start cycle %d", campaign.ID, campaign.CurrentCycle, n))
	}
	if r.store == nil {
		return nil
	}
	cy, err := r.store.GetCycle(ctx, types.CycleID(campaign.ID, n))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return cyerrors.Wrap(err, cyerrors.ErrPersistenceFailed, fmt.Sprintf("load cycle %d", n))
	case cy.Status == types.CycleComplete:
		return cyerrors.New(cyerrors.ErrStateConflict,
			fmt.Sprintf("cycle %s is complete", cy.ID))
	}
	return nil
}

// Pause parks the loop and cancels the in-flight stage call. The interrupted
// stage is re-run from scratch after Resume.
func (r *Runner) Pause() error {
	if err := r.apply(EventPause); err != nil {
		return err
	}
	r.logger.Info("cycle loop paused")
	r.updateCampaign(func(c *types.Campaign) { c.Status = types.CampaignPaused })
	r.emit()
	return nil
}

// Resume lets a paused loop continue. The next stage call gets a fresh context.
func (r *Runner) Resume() error {
	if err := r.apply(EventResume); err != nil {
		return err
	}
	r.logger.Info("cycle loop resumed")
	r.updateCampaign(func(c *types.Campaign) { c.Status = types.CampaignActive })
	r.emit()
	return nil
}

// Stop halts the loop without completing the current cycle. Use Done to wait
// for the loop goroutine to exit.
func (r *Runner) Stop() error {
	if err := r.apply(EventStop); err != nil {
		return err
	}
	r.logger.Info("cycle loop stopped")
	r.emit()
	return nil
}

// Done is closed when the current loop goroutine has exited. It is nil
// before the first Start.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Err returns the failure that stopped the loop, if any.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Status returns the current snapshot with a private copy of the cycle.
func (r *Runner) Status() Snapshot {
	s := r.snapshot()
	s.Cycle = s.Cycle.Clone()
	return s
}

func (r *Runner) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		State:        r.state,
		SystemStatus: systemStatus(r.state, r.err != nil),
		CampaignID:   r.campaign.ID,
		Cycle:        r.latest,
	}
	if r.err != nil {
		s.Error = r.err.Error()
	}
	return s
}

func (r *Runner) emit() {
	if r.onSnapshot != nil {
		r.onSnapshot(r.snapshot())
	}
}

// apply performs a control transition and its side effects.
func (r *Runner) apply(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, ok := Next(r.state, e)
	if !ok {
		return transitionError(r.state, e)
	}
	r.state = next
	r.err = nil
	switch e {
	case EventPause:
		r.cancelStageLocked()
	case EventStop:
		r.cancelStageLocked()
		if r.stopLoop != nil {
			r.stopLoop()
		}
	}
	r.broadcastLocked()
	return nil
}

func (r *Runner) broadcastLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *Runner) cancelStageLocked() {
	if r.cancelStage != nil {
		r.cancelStage()
		r.cancelStage = nil
	}
}

// publish stores a copy of the live cycle and notifies observers. Only the
// loop goroutine calls it.
func (r *Runner) publish(cy *types.Cycle) {
	c := cy.Clone()
	r.mu.Lock()
	r.latest = c
	r.mu.Unlock()
	r.emit()
}

// waitRunning blocks while paused. It returns false once the loop must exit.
func (r *Runner) waitRunning(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		r.mu.Lock()
		st, ch := r.state, r.changed
		r.mu.Unlock()
		switch st {
		case StateRunning:
			return true
		case StatePaused:
			select {
			case <-ch:
			case <-ctx.Done():
				return false
			}
		default:
			return false
		}
	}
}

// beginStage issues a fresh cancellable context for one stage attempt. It
// fails if the runner left the running state since waitRunning returned.
func (r *Runner) beginStage(ctx context.Context) (context.Context, context.CancelFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return nil, nil, false
	}
	stageCtx, cancel := context.WithCancel(ctx)
	r.cancelStage = cancel
	return stageCtx, cancel, true
}

func (r *Runner) endStage() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelStageLocked()
}

func (r *Runner) fail(err error) {
	r.mu.Lock()
	if next, ok := Next(r.state, EventFail); ok {
		r.state = next
		r.err = err
		r.broadcastLocked()
	}
	r.mu.Unlock()
	r.logger.Error("cycle loop failed", zap.Error(err))
	r.emit()
}

// finish moves a loop that ended on its own context to stopped.
func (r *Runner) finish() {
	r.mu.Lock()
	changed := false
	if next, ok := Next(r.state, EventStop); ok {
		r.state = next
		r.broadcastLocked()
		changed = true
	}
	r.mu.Unlock()
	if changed {
		r.emit()
	}
}

func (r *Runner) currentCampaign() types.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.campaign
}

// updateCampaign applies mutate and persists the result. Failures are
// logged; campaign bookkeeping never stops the loop.
func (r *Runner) updateCampaign(mutate func(c *types.Campaign)) {
	r.campaignMu.Lock()
	defer r.campaignMu.Unlock()
	r.mu.Lock()
	mutate(&r.campaign)
	r.campaign.UpdatedAt = r.now()
	c := r.campaign
	r.mu.Unlock()
	if c.ID == "" || r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.SaveCampaign(ctx, c); err != nil {
		r.logger.Warn("failed to save campaign", zap.String("campaign", c.ID), zap.Error(err))
	}
}

func (r *Runner) persist(ctx context.Context, cy *types.Cycle, create bool) error {
	if r.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	var err error
	if create {
		err = r.store.SaveCycle(ctx, cy)
	} else {
		err = r.store.UpdateCycle(ctx, cy)
	}
	if err != nil {
		return cyerrors.Wrap(err, cyerrors.ErrPersistenceFailed, fmt.Sprintf("persist cycle %s", cy.ID))
	}
	return nil
}

// sleep waits for d or until ctx is done.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) loop(ctx context.Context, stop context.CancelFunc, done chan struct{}, n int) {
	defer close(done)
	defer stop()
	defer r.finish()

	campaign := r.currentCampaign()
	cy := types.NewCycle(campaign.ID, n, r.now())
	r.publish(cy)
	if err := r.persist(ctx, cy, true); err != nil {
		r.fail(err)
		return
	}

	obs := stage.Observer{Emit: func() { r.publish(cy) }}
	if r.onProgress != nil {
		obs.Progress = func(msg string) { r.onProgress(campaign.ID, msg) }
	}

	for {
		if !r.waitRunning(ctx) {
			return
		}
		stageCtx, cancel, ok := r.beginStage(ctx)
		if !ok {
			continue
		}
		name := cy.CurrentStage
		err := r.exec.Execute(stageCtx, campaign, cy, name, obs)
		cancel()
		r.endStage()

		if perr := r.persist(ctx, cy, false); perr != nil {
			r.fail(perr)
			return
		}
		if err != nil {
			if cyerrors.IsCancellation(err) {
				r.logger.Info("stage interrupted", zap.String("stage", string(name)), zap.Int("cycle", cy.CycleNumber))
				continue
			}
			r.fail(err)
			return
		}

		if !r.sleep(ctx, r.delay) {
			return
		}

		if finished := cy.Advance(r.now()); !finished {
			r.publish(cy)
			continue
		}
		r.publish(cy)
		if err := r.persist(ctx, cy, false); err != nil {
			r.fail(err)
			return
		}
		r.logger.Info("cycle complete", zap.String("campaign", campaign.ID), zap.Int("cycle", cy.CycleNumber))

		n = cy.CycleNumber + 1
		r.updateCampaign(func(c *types.Campaign) { c.CurrentCycle = n })
		cy = types.NewCycle(campaign.ID, n, r.now())
		r.publish(cy)
		if err := r.persist(ctx, cy, true); err != nil {
			r.fail(err)
			return
		}
	}
}
