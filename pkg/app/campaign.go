package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/forzax/cycleloop/pkg/cycle"
	cyerrors "github.com/forzax/cycleloop/pkg/errors"
	"github.com/forzax/cycleloop/pkg/store"
	"github.com/forzax/cycleloop/pkg/types"
)

// CreateCampaign validates the inputs, assigns an id and stores the campaign
// at cycle 1.
func (a *App) CreateCampaign(ctx context.Context, brand, audience, goal string) (types.Campaign, error) {
	c, err := types.NewCampaign(brand, audience, goal, time.Now().UTC())
	if err != nil {
		return types.Campaign{}, cyerrors.Wrap(err, cyerrors.ErrMissingRequired, "invalid campaign")
	}
	if err := a.Store.SaveCampaign(ctx, c); err != nil {
		return types.Campaign{}, fmt.Errorf("store campaign: %w", err)
	}
	a.Logger.Info("campaign created", zap.String("campaign", c.ID), zap.String("brand", c.Brand))
	return c, nil
}

// GetCampaign returns the stored campaign or an error wrapping
// store.ErrNotFound.
func (a *App) GetCampaign(ctx context.Context, id string) (types.Campaign, error) {
	c, err := a.Store.GetCampaign(ctx, id)
	if err != nil {
		return types.Campaign{}, fmt.Errorf("campaign %s: %w", id, err)
	}
	return c, nil
}

func (a *App) ListCampaigns(ctx context.Context) ([]types.Campaign, error) {
	return a.Store.ListCampaigns(ctx)
}

// DeleteCampaign removes a campaign and its cycles. The campaign the loop is
// currently running cannot be deleted.
func (a *App) DeleteCampaign(ctx context.Context, id string) error {
	if s := a.Runner.Status(); s.CampaignID == id && (s.State == cycle.StateRunning || s.State == cycle.StatePaused) {
		return cyerrors.New(cyerrors.ErrStateConflict, "campaign "+id+" is running")
	}
	if err := a.Store.DeleteCampaign(ctx, id); err != nil {
		return fmt.Errorf("delete campaign %s: %w", id, err)
	}
	return nil
}

// StartCampaign starts the loop for a stored campaign at cycle n, or at the
// campaign's current cycle when n is not positive. The loop outlives ctx and
// runs until stopped or the app is closed.
func (a *App) StartCampaign(ctx context.Context, id string, n int) (types.Campaign, error) {
	c, err := a.GetCampaign(ctx, id)
	if err != nil {
		return types.Campaign{}, err
	}
	if c.Status == types.CampaignArchived {
		return types.Campaign{}, cyerrors.New(cyerrors.ErrStateConflict, "campaign "+id+" is archived")
	}
	if err := a.Runner.Start(a.ctx, c, n); err != nil {
		return types.Campaign{}, err
	}
	return c, nil
}

// Cycles returns the campaign's cycles ordered by number.
func (a *App) Cycles(ctx context.Context, campaignID string) ([]*types.Cycle, error) {
	if _, err := a.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	return a.Store.GetCyclesByCampaign(ctx, campaignID)
}

// IsNotFound reports whether err came from a missing campaign or cycle.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
