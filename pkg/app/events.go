package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forzax/cycleloop/pkg/cycle"
	"github.com/forzax/cycleloop/pkg/notify"
	"github.com/forzax/cycleloop/pkg/types"
)

const publishTimeout = 10 * time.Second

// eventBridge turns runner snapshots into notify events. Snapshots arrive on
// every streamed chunk, so only state and stage-status changes are published.
type eventBridge struct {
	pub    notify.Publisher
	logger *zap.Logger

	mu        sync.Mutex
	state     cycle.State
	errMsg    string
	cycleID   string
	stages    map[types.StageName]types.StageStatus
	completed string
}

func newEventBridge(pub notify.Publisher, logger *zap.Logger) *eventBridge {
	return &eventBridge{
		pub:    pub,
		logger: logger.Named("bridge"),
		stages: make(map[types.StageName]types.StageStatus),
	}
}

func (b *eventBridge) observe(ctx context.Context, s cycle.Snapshot) {
	for _, e := range b.diff(s) {
		b.publish(ctx, e)
	}
}

func (b *eventBridge) diff(s cycle.Snapshot) []notify.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var events []notify.Event
	if s.State != b.state {
		b.state = s.State
		e := notify.NewEvent(notify.EventLoopState, s.CampaignID, string(s.SystemStatus))
		e.Data = map[string]string{"state": string(s.State)}
		events = append(events, e)
	}
	if s.Error != b.errMsg {
		b.errMsg = s.Error
		if s.Error != "" {
			events = append(events, notify.NewEvent(notify.EventLoopError, s.CampaignID, s.Error))
		}
	}

	cy := s.Cycle
	if cy == nil {
		return events
	}
	if cy.ID != b.cycleID {
		b.cycleID = cy.ID
		clear(b.stages)
	}
	for _, name := range types.StageOrder {
		d := cy.Stage(name)
		if d == nil || d.Status == types.StagePending || b.stages[name] == d.Status {
			continue
		}
		b.stages[name] = d.Status
		e := notify.NewEvent(notify.EventStageChanged, s.CampaignID, string(d.Status))
		e.CycleID = cy.ID
		e.Stage = string(name)
		events = append(events, e)
	}
	if final := cy.Stage(types.StageMemories); final != nil && final.Status == types.StageComplete && b.completed != cy.ID {
		b.completed = cy.ID
		e := notify.NewEvent(notify.EventCycleCompleted, s.CampaignID, "cycle complete")
		e.CycleID = cy.ID
		e.Data = map[string]int{"cycleNumber": cy.CycleNumber}
		events = append(events, e)
	}
	return events
}

func (b *eventBridge) progress(ctx context.Context, campaignID, msg string) {
	b.publish(ctx, notify.NewEvent(notify.EventResearchProgress, campaignID, msg))
}

func (b *eventBridge) publish(ctx context.Context, e notify.Event) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.pub.Publish(ctx, e); err != nil {
		b.logger.Warn("publish event failed", zap.String("type", e.Type), zap.Error(err))
	}
}
