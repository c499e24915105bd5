// Package types defines campaigns, cycles and the per-stage records they carry.
package types

import (
	"fmt"
	"time"
)

// StageName identifies one of the fixed phases of a cycle.
type StageName string

const (
	StageResearch StageName = "research"
	StageTaste    StageName = "taste"
	StageMake     StageName = "make"
	StageTest     StageName = "test"
	StageMemories StageName = "memories"
)

// StageOrder is the fixed execution order of stages within a cycle.
var StageOrder = []StageName{StageResearch, StageTaste, StageMake, StageTest, StageMemories}

// Valid reports whether s is one of the five fixed stage names.
func (s StageName) Valid() bool {
	return s.Index() >= 0
}

// Index returns the position of s in StageOrder, or -1.
func (s StageName) Index() int {
	for i, name := range StageOrder {
		if name == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows s. The boolean is false when s is the
// last stage (or unknown).
func (s StageName) Next() (StageName, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(StageOrder) {
		return "", false
	}
	return StageOrder[i+1], true
}

// StageStatus is the lifecycle status of a single stage.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in-progress"
	StageComplete   StageStatus = "complete"
)

// CycleStatus is the overall status of a cycle.
type CycleStatus string

const (
	CycleInProgress CycleStatus = "in-progress"
	CycleComplete   CycleStatus = "complete"
)

// StageData holds the execution record of one stage.
type StageData struct {
	Status       StageStatus `json:"status" firestore:"status"`
	AgentOutput  string      `json:"agentOutput" firestore:"agentOutput"`
	Artifacts    []any       `json:"artifacts" firestore:"artifacts"`
	StartedAt    *time.Time  `json:"startedAt" firestore:"startedAt"`
	CompletedAt  *time.Time  `json:"completedAt" firestore:"completedAt"`
	ReadyForNext bool        `json:"readyForNext" firestore:"readyForNext"`
}

// NewStageData returns a pending stage with no output.
func NewStageData() *StageData {
	return &StageData{
		Status:    StagePending,
		Artifacts: []any{},
	}
}

// Begin resets the stage for a fresh execution attempt.
func (d *StageData) Begin(now time.Time) {
	d.Status = StageInProgress
	d.AgentOutput = ""
	d.Artifacts = []any{}
	d.StartedAt = &now
	d.CompletedAt = nil
	d.ReadyForNext = false
}

// Complete records a successful execution with the given output.
func (d *StageData) Complete(output string, now time.Time) {
	d.AgentOutput = output
	d.Status = StageComplete
	d.CompletedAt = &now
	d.ReadyForNext = true
}

// Cycle is one full pass through the five stages for a campaign.
type Cycle struct {
	ID           string                   `json:"id" firestore:"id"`
	CampaignID   string                   `json:"campaignId" firestore:"campaignId"`
	CycleNumber  int                      `json:"cycleNumber" firestore:"cycleNumber"`
	StartedAt    time.Time                `json:"startedAt" firestore:"startedAt"`
	CompletedAt  *time.Time               `json:"completedAt" firestore:"completedAt"`
	Stages       map[StageName]*StageData `json:"stages" firestore:"stages"`
	CurrentStage StageName                `json:"currentStage" firestore:"currentStage"`
	Status       CycleStatus              `json:"status" firestore:"status"`
}

// CycleID derives the cycle identity from its campaign and number.
func CycleID(campaignID string, cycleNumber int) string {
	return fmt.Sprintf("%s-cycle-%d", campaignID, cycleNumber)
}

// NewCycle creates a cycle positioned at the research stage with every stage pending.
func NewCycle(campaignID string, cycleNumber int, now time.Time) *Cycle {
	stages := make(map[StageName]*StageData, len(StageOrder))
	for _, name := range StageOrder {
		stages[name] = NewStageData()
	}
	return &Cycle{
		ID:           CycleID(campaignID, cycleNumber),
		CampaignID:   campaignID,
		CycleNumber:  cycleNumber,
		StartedAt:    now,
		Stages:       stages,
		CurrentStage: StageResearch,
		Status:       CycleInProgress,
	}
}

// Stage returns the record for name, or nil when the stage is unknown.
func (c *Cycle) Stage(name StageName) *StageData {
	if c == nil || c.Stages == nil {
		return nil
	}
	return c.Stages[name]
}

// CompletedOutput returns the output of name only when that stage has
// completed. Prompts are built exclusively from completed stages.
func (c *Cycle) CompletedOutput(name StageName) string {
	d := c.Stage(name)
	if d == nil || d.Status != StageComplete {
		return ""
	}
	return d.AgentOutput
}

// Advance moves CurrentStage forward. It returns true when the current stage
// was the last one, in which case the cycle is marked complete instead.
func (c *Cycle) Advance(now time.Time) bool {
	next, ok := c.CurrentStage.Next()
	if !ok {
		c.Status = CycleComplete
		c.CompletedAt = &now
		return true
	}
	c.CurrentStage = next
	return false
}

// Validate checks the structural invariants of a cycle.
func (c *Cycle) Validate() error {
	if len(c.Stages) != len(StageOrder) {
		return fmt.Errorf("cycle %s has %d stages, want %d", c.ID, len(c.Stages), len(StageOrder))
	}
	for _, name := range StageOrder {
		d, ok := c.Stages[name]
		if !ok || d == nil {
			return fmt.Errorf("cycle %s missing stage %s", c.ID, name)
		}
		if d.CompletedAt != nil && d.Status != StageComplete {
			return fmt.Errorf("cycle %s stage %s has completedAt while %s", c.ID, name, d.Status)
		}
		if d.Status != StagePending && d.StartedAt == nil {
			return fmt.Errorf("cycle %s stage %s is %s without startedAt", c.ID, name, d.Status)
		}
	}
	if !c.CurrentStage.Valid() {
		return fmt.Errorf("cycle %s has unknown current stage %q", c.ID, c.CurrentStage)
	}
	final := c.Stages[StageMemories].Status == StageComplete
	if (c.Status == CycleComplete) != final {
		return fmt.Errorf("cycle %s status %s disagrees with final stage", c.ID, c.Status)
	}
	if (c.Status == CycleComplete) != (c.CompletedAt != nil) {
		return fmt.Errorf("cycle %s status %s disagrees with completedAt", c.ID, c.Status)
	}
	return nil
}

// Clone returns a deep copy safe to hand to observers on other goroutines.
func (c *Cycle) Clone() *Cycle {
	if c == nil {
		return nil
	}
	out := *c
	out.CompletedAt = cloneTime(c.CompletedAt)
	out.Stages = make(map[StageName]*StageData, len(c.Stages))
	for name, d := range c.Stages {
		if d == nil {
			out.Stages[name] = nil
			continue
		}
		cp := *d
		cp.Artifacts = append([]any{}, d.Artifacts...)
		cp.StartedAt = cloneTime(d.StartedAt)
		cp.CompletedAt = cloneTime(d.CompletedAt)
		out.Stages[name] = &cp
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ResearchTask is one research question chosen by the planner.
type ResearchTask struct {
	Task        string `json:"task"`
	Description string `json:"description"`
}

// SearcherAgentReport is what one searcher sub-agent returns for its task.
type SearcherAgentReport struct {
	Task     ResearchTask `json:"task"`
	Queries  []string     `json:"queries"`
	Findings string       `json:"findings"`
	Summary  string       `json:"summary"`
	Degraded bool         `json:"degraded,omitempty"`
}
