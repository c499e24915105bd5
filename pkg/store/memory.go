package store

import (
	"context"
	"errors"
	"sync"

	"github.com/forzax/cycleloop/pkg/types"
)

// MemoryStore keeps everything in process. Values are copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	campaigns map[string]types.Campaign
	cycles    map[string]*types.Cycle
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: make(map[string]types.Campaign),
		cycles:    make(map[string]*types.Cycle),
	}
}

func (s *MemoryStore) SaveCampaign(ctx context.Context, c types.Campaign) error {
	if c.ID == "" {
		return errors.New("campaign id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
	return nil
}

func (s *MemoryStore) GetCampaign(ctx context.Context, id string) (types.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return types.Campaign{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) ListCampaigns(ctx context.Context) ([]types.Campaign, error) {
	s.mu.RLock()
	list := make([]types.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		list = append(list, c)
	}
	s.mu.RUnlock()
	sortCampaigns(list)
	return list, nil
}

func (s *MemoryStore) DeleteCampaign(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[id]; !ok {
		return ErrNotFound
	}
	delete(s.campaigns, id)
	for cid, cy := range s.cycles {
		if cy.CampaignID == id {
			delete(s.cycles, cid)
		}
	}
	return nil
}

func (s *MemoryStore) SaveCycle(ctx context.Context, c *types.Cycle) error {
	return s.UpdateCycle(ctx, c)
}

func (s *MemoryStore) UpdateCycle(ctx context.Context, c *types.Cycle) error {
	if err := validateCycle(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) GetCycle(ctx context.Context, id string) (*types.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cycles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) GetCyclesByCampaign(ctx context.Context, campaignID string) ([]*types.Cycle, error) {
	s.mu.RLock()
	var list []*types.Cycle
	for _, c := range s.cycles {
		if c.CampaignID == campaignID {
			list = append(list, c.Clone())
		}
	}
	s.mu.RUnlock()
	sortCycles(list)
	return list, nil
}

func (s *MemoryStore) Close() error { return nil }
