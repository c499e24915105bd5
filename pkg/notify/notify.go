// Package notify delivers advisory progress events. Delivery failures never
// affect the cycle loop.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventStageChanged     = "cycle.stage"
	EventCycleCompleted   = "cycle.completed"
	EventLoopState        = "loop.state"
	EventLoopError        = "loop.error"
	EventResearchProgress = "research.progress"
)

// Event is one notification about the cycle loop.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	CampaignID string    `json:"campaignId"`
	CycleID    string    `json:"cycleId,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Message    string    `json:"message,omitempty"`
	Data       any       `json:"data,omitempty"`
	Time       time.Time `json:"time"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType, campaignID, message string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		CampaignID: campaignID,
		Message:    message,
		Time:       time.Now().UTC(),
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to a zap logger.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("type", e.Type),
		zap.String("campaign", e.CampaignID),
	}
	if e.CycleID != "" {
		fields = append(fields, zap.String("cycle", e.CycleID))
	}
	if e.Stage != "" {
		fields = append(fields, zap.String("stage", e.Stage))
	}
	p.logger.Info(e.Message, fields...)
	return nil
}

// PubSubPublisher publishes events as JSON messages on a topic and waits for
// the server acknowledgement.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

func NewPubSubPublisher(topic *pubsub.Topic) *PubSubPublisher {
	return &PubSubPublisher{topic: topic}
}

func (p *PubSubPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":       e.Type,
			"campaignId": e.CampaignID,
		},
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	p.topic.Stop()
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Decode parses an event published by PubSubPublisher.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}
