package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus is the lifecycle status of a campaign.
type CampaignStatus string

const (
	CampaignActive   CampaignStatus = "active"
	CampaignPaused   CampaignStatus = "paused"
	CampaignArchived CampaignStatus = "archived"
)

// Campaign describes the brand, audience and goal a cycle loop works against.
type Campaign struct {
	ID             string         `json:"id" firestore:"id"`
	Brand          string         `json:"brand" firestore:"brand"`
	TargetAudience string         `json:"targetAudience" firestore:"targetAudience"`
	MarketingGoal  string         `json:"marketingGoal" firestore:"marketingGoal"`
	CurrentCycle   int            `json:"currentCycle" firestore:"currentCycle"`
	CreatedAt      time.Time      `json:"createdAt" firestore:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt" firestore:"updatedAt"`
	Status         CampaignStatus `json:"status" firestore:"status"`
}

// NewCampaign validates the inputs and returns an active campaign at cycle 1.
func NewCampaign(brand, audience, goal string, now time.Time) (Campaign, error) {
	brand = strings.TrimSpace(brand)
	audience = strings.TrimSpace(audience)
	goal = strings.TrimSpace(goal)
	if brand == "" {
		return Campaign{}, fmt.Errorf("brand is required")
	}
	if audience == "" {
		return Campaign{}, fmt.Errorf("target audience is required")
	}
	if goal == "" {
		return Campaign{}, fmt.Errorf("marketing goal is required")
	}
	return Campaign{
		ID:             "campaign-" + uuid.New().String(),
		Brand:          brand,
		TargetAudience: audience,
		MarketingGoal:  goal,
		CurrentCycle:   1,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         CampaignActive,
	}, nil
}
