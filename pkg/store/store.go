// Package store persists campaigns and cycles.
package store

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/forzax/cycleloop/pkg/types"
)

// ErrNotFound is returned when a campaign or cycle does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence contract used by the engine. Cycle writes are
// upserts keyed by cycle id.
type Store interface {
	SaveCampaign(ctx context.Context, c types.Campaign) error
	GetCampaign(ctx context.Context, id string) (types.Campaign, error)
	ListCampaigns(ctx context.Context) ([]types.Campaign, error)
	DeleteCampaign(ctx context.Context, id string) error

	SaveCycle(ctx context.Context, c *types.Cycle) error
	UpdateCycle(ctx context.Context, c *types.Cycle) error
	GetCycle(ctx context.Context, id string) (*types.Cycle, error)
	GetCyclesByCampaign(ctx context.Context, campaignID string) ([]*types.Cycle, error)

	Close() error
}

func sortCampaigns(list []types.Campaign) {
	slices.SortFunc(list, func(a, b types.Campaign) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func sortCycles(list []*types.Cycle) {
	slices.SortFunc(list, func(a, b *types.Cycle) int {
		return a.CycleNumber - b.CycleNumber
	})
}

func validateCycle(c *types.Cycle) error {
	if c == nil {
		return errors.New("cycle is nil")
	}
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("cycle id is required")
	}
	if strings.TrimSpace(c.CampaignID) == "" {
		return errors.New("cycle campaign id is required")
	}
	return nil
}
