package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"

	"github.com/forzax/cycleloop/pkg/types"
)

const (
	campaignsCollection = "campaigns"
	cyclesCollection    = "cycles"
)

// FirestoreStore keeps campaigns and cycles in two Firestore collections,
// keyed by their ids.
type FirestoreStore struct {
	client *firestore.Client
	logger *zap.Logger
}

// NewFirestoreStore wraps an existing client. Closing the store does not
// close the client; the owner of the client does that.
func NewFirestoreStore(client *firestore.Client, logger *zap.Logger) *FirestoreStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirestoreStore{client: client, logger: logger.Named("store")}
}

// cycleDoc is the stored shape of a cycle. Firestore maps need plain string keys.
type cycleDoc struct {
	ID           string                      `firestore:"id"`
	CampaignID   string                      `firestore:"campaignId"`
	CycleNumber  int                         `firestore:"cycleNumber"`
	StartedAt    time.Time                   `firestore:"startedAt"`
	CompletedAt  *time.Time                  `firestore:"completedAt"`
	Stages       map[string]*types.StageData `firestore:"stages"`
	CurrentStage string                      `firestore:"currentStage"`
	Status       string                      `firestore:"status"`
}

func toCycleDoc(c *types.Cycle) cycleDoc {
	stages := make(map[string]*types.StageData, len(c.Stages))
	for name, d := range c.Stages {
		stages[string(name)] = d
	}
	return cycleDoc{
		ID:           c.ID,
		CampaignID:   c.CampaignID,
		CycleNumber:  c.CycleNumber,
		StartedAt:    c.StartedAt,
		CompletedAt:  c.CompletedAt,
		Stages:       stages,
		CurrentStage: string(c.CurrentStage),
		Status:       string(c.Status),
	}
}

func (d cycleDoc) cycle() *types.Cycle {
	stages := make(map[types.StageName]*types.StageData, len(d.Stages))
	for name, s := range d.Stages {
		if s.Artifacts == nil {
			s.Artifacts = []any{}
		}
		stages[types.StageName(name)] = s
	}
	return &types.Cycle{
		ID:           d.ID,
		CampaignID:   d.CampaignID,
		CycleNumber:  d.CycleNumber,
		StartedAt:    d.StartedAt,
		CompletedAt:  d.CompletedAt,
		Stages:       stages,
		CurrentStage: types.StageName(d.CurrentStage),
		Status:       types.CycleStatus(d.Status),
	}
}

func (s *FirestoreStore) SaveCampaign(ctx context.Context, c types.Campaign) error {
	if c.ID == "" {
		return fmt.Errorf("campaign id is required")
	}
	if _, err := s.client.Collection(campaignsCollection).Doc(c.ID).Set(ctx, c); err != nil {
		return fmt.Errorf("failed to store campaign %s: %w", c.ID, err)
	}
	return nil
}

func (s *FirestoreStore) GetCampaign(ctx context.Context, id string) (types.Campaign, error) {
	snap, err := s.client.Collection(campaignsCollection).Doc(id).Get(ctx)
	if snap != nil && !snap.Exists() {
		return types.Campaign{}, ErrNotFound
	}
	if err != nil {
		return types.Campaign{}, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}
	var c types.Campaign
	if err := snap.DataTo(&c); err != nil {
		return types.Campaign{}, fmt.Errorf("failed to decode campaign %s: %w", id, err)
	}
	return c, nil
}

func (s *FirestoreStore) ListCampaigns(ctx context.Context) ([]types.Campaign, error) {
	snaps, err := s.client.Collection(campaignsCollection).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	list := make([]types.Campaign, 0, len(snaps))
	for _, snap := range snaps {
		var c types.Campaign
		if err := snap.DataTo(&c); err != nil {
			return nil, fmt.Errorf("failed to decode campaign %s: %w", snap.Ref.ID, err)
		}
		list = append(list, c)
	}
	sortCampaigns(list)
	return list, nil
}

func (s *FirestoreStore) DeleteCampaign(ctx context.Context, id string) error {
	if _, err := s.GetCampaign(ctx, id); err != nil {
		return err
	}
	snaps, err := s.client.Collection(cyclesCollection).Where("campaignId", "==", id).Documents(ctx).GetAll()
	if err != nil {
		return fmt.Errorf("failed to list cycles of %s: %w", id, err)
	}
	for _, snap := range snaps {
		if _, err := snap.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete cycle %s: %w", snap.Ref.ID, err)
		}
	}
	if _, err := s.client.Collection(campaignsCollection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete campaign %s: %w", id, err)
	}
	s.logger.Info("campaign deleted", zap.String("campaign", id), zap.Int("cycles", len(snaps)))
	return nil
}

func (s *FirestoreStore) SaveCycle(ctx context.Context, c *types.Cycle) error {
	return s.UpdateCycle(ctx, c)
}

func (s *FirestoreStore) UpdateCycle(ctx context.Context, c *types.Cycle) error {
	if err := validateCycle(c); err != nil {
		return err
	}
	if _, err := s.client.Collection(cyclesCollection).Doc(c.ID).Set(ctx, toCycleDoc(c)); err != nil {
		return fmt.Errorf("failed to store cycle %s: %w", c.ID, err)
	}
	return nil
}

func (s *FirestoreStore) GetCycle(ctx context.Context, id string) (*types.Cycle, error) {
	snap, err := s.client.Collection(cyclesCollection).Doc(id).Get(ctx)
	if snap != nil && !snap.Exists() {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cycle %s: %w", id, err)
	}
	var d cycleDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to decode cycle %s: %w", id, err)
	}
	return d.cycle(), nil
}

// GetCyclesByCampaign sorts client-side so no composite index is required.
func (s *FirestoreStore) GetCyclesByCampaign(ctx context.Context, campaignID string) ([]*types.Cycle, error) {
	snaps, err := s.client.Collection(cyclesCollection).Where("campaignId", "==", campaignID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	list := make([]*types.Cycle, 0, len(snaps))
	for _, snap := range snaps {
		var d cycleDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to decode cycle %s: %w", snap.Ref.ID, err)
		}
		list = append(list, d.cycle())
	}
	sortCycles(list)
	return list, nil
}

func (s *FirestoreStore) Close() error { return nil }
