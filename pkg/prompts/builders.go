// Package prompts assembles stage and research prompts and parses model output.
package prompts

import (
	"fmt"
	"strings"

	"github.com/forzax/cycleloop/pkg/types"
)

// StagePrompt builds the user prompt for stage from the campaign and the
// completed stages of cycle. Output from stages that are not complete is
// never read.
func StagePrompt(stage types.StageName, campaign types.Campaign, cycle *types.Cycle) string {
	out := cycle.CompletedOutput
	switch stage {
	case types.StageResearch:
		return fmt.Sprintf("Brand: %s\nTarget Audience: %s\nMarketing Goal: %s",
			campaign.Brand, campaign.TargetAudience, campaign.MarketingGoal)
	case types.StageTaste:
		research := out(types.StageResearch)
		return fmt.Sprintf("RESEARCH FINDINGS:\n%s%s\n\nBased on the research and competitor analysis above, "+
			"define a creative direction that beats the named competitors.",
			research, CompetitorBlock(ExtractCompetitors(research)))
	case types.StageMake:
		return fmt.Sprintf("Research: %s\n\nCreative Direction: %s\n\nGenerate ad creative concepts.",
			out(types.StageResearch), out(types.StageTaste))
	case types.StageTest:
		return fmt.Sprintf("Evaluate this creative:\n\n%s", out(types.StageMake))
	case types.StageMemories:
		return fmt.Sprintf("Summarize this cycle's learnings:\nResearch: %s\nTaste: %s\nMake: %s\nTest: %s",
			out(types.StageResearch), out(types.StageTaste), out(types.StageMake), out(types.StageTest))
	default:
		return ""
	}
}

// CompetitorBlock renders the competitor context for the taste prompt. It is
// empty when no competitors were found.
func CompetitorBlock(names []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nKEY COMPETITORS TO ANALYZE:")
	for i, name := range names {
		fmt.Fprintf(&b, "\n%d. %s", i+1, name)
	}
	return b.String()
}

func campaignLines(c types.Campaign) string {
	return fmt.Sprintf("Campaign:\n- Brand: %s\n- Target Audience: %s\n- Goal: %s",
		c.Brand, c.TargetAudience, c.MarketingGoal)
}

// PlanPrompt asks for the research tasks worth investigating for a campaign.
func PlanPrompt(c types.Campaign) string {
	return `You are a research planning expert. Given this campaign, decide what specific research tasks are needed.

` + campaignLines(c) + `

Return a JSON array of 5-7 research tasks. Each task should be specific and searchable. Example format:
[
  { "task": "competitor_positioning", "description": "Research how main competitors position themselves" },
  { "task": "audience_needs", "description": "Research target audience's primary needs and pain points" }
]

Return ONLY the JSON array, no other text.`
}

// QueriesPrompt asks for search queries covering one research task.
func QueriesPrompt(t types.ResearchTask) string {
	return fmt.Sprintf(`You are a search strategy expert. Given this research task, generate 5-7 specific, searchable queries.

Task: %s
Description: %s

Return ONLY a JSON array of search query strings. Example:
["query 1", "query 2", "query 3", "query 4", "query 5"]`, t.Task, t.Description)
}

// SummaryPrompt asks for a condensed summary of one task's findings.
func SummaryPrompt(t types.ResearchTask, findings string) string {
	return fmt.Sprintf(`You are a research analyst. Summarize these findings.

Task: %s - %s

Search Results:
%s

Structure the summary as key findings, strategic implications and specific data points. Be specific and avoid generic statements.`,
		t.Task, t.Description, findings)
}

// SynthesisPrompt asks for the strategic brief built from every agent report.
func SynthesisPrompt(c types.Campaign, reports []types.SearcherAgentReport) string {
	parts := make([]string, 0, len(reports))
	for _, r := range reports {
		parts = append(parts, fmt.Sprintf("RESEARCH TASK: %s\nSUMMARY: %s", r.Task.Task, r.Summary))
	}
	return `You are a strategic competitive intelligence analyst. Synthesize these research findings into a strategic intelligence brief.

` + campaignLines(c) + `

Research Findings:
` + strings.Join(parts, "\n---\n") + `

Generate a STRATEGIC INTELLIGENCE BRIEF that includes:

§ COMPETITOR POSITIONING ANALYSIS
  For each major competitor: core positioning claim, brand permission, blind spots, vulnerabilities.

§ AUDIENCE NEED HIERARCHY
  Primary need, secondary needs, non-negotiables, core resentment.

§ MARKET DYNAMICS
  What's shifting, messaging losing power, messaging emerging, market gaps.

§ YOUR STRATEGIC OPPORTUNITY
  Unique positioning, why only you can claim it, competitive moat, attack angles.

Name competitors as "Competitor: <name>". Be strategic and specific.`
}
