package prompts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/forzax/cycleloop/pkg/types"
)

var defaultInstructions = map[types.StageName]string{
	types.StageResearch: `You are a competitive intelligence analyst. Find what actually works in this market.

§ Market Research
  → Competitor creative analysis: for each of the top 3 competitors write
      "Competitor N: <exact name>" followed by dominant hook, visual approach,
      color palette, pacing and why it works.
  → Market patterns: hooks, visual style, emotional angle and messaging that win.
  → Audience reality: core pain, hidden desire, decision factor.
  → Opportunity: one blind spot per competitor and how we exploit it.

Be specific. Names, colors, exact techniques.`,

	types.StageTaste: `You are a creative strategist defining the winning visual direction.

§ Creative Direction
  → What competitors get right and what we borrow from them.
  → What competitors get wrong: three blind spots, what we show instead, why it wins.
  → Our visual style: 3-4 colors with their psychology, one aesthetic, pacing and
      how each differs from the named competitors.
  → Our tone of voice with three sample lines.
  → Production specs: aspect ratios, shot types, graphics, music.

Every choice should be a competitive weapon.`,

	types.StageMake: `You are an asset generation guide. Generate creative concepts with detailed specs.

§ Generating ad creative concepts
  → Concept 1..3: name, core idea, visual, exact copy, technical specs.
  → Production notes: designer specs, asset dimensions, platform requirements.

Be specific enough for immediate execution.`,

	types.StageTest: `You are an effectiveness analyst. Evaluate creative quality systematically.

§ Evaluating creative effectiveness
  → Alignment with research (score /10)
  → Visual impact (score /10)
  → Message clarity (score /10)
  → Competitive advantage (score /10)
  → Overall verdict: final score, strengths, weaknesses, next iteration.

Be honest and specific.`,

	types.StageMemories: `You are a learning archivist. Extract patterns from the cycle.

§ Archiving cycle learnings
  → What worked well, with evidence.
  → What didn't work and why.
  → Insights about audience, market and brand.
  → Improvements for the next cycle's research, creative and testing.
  → Principles to carry into future cycles.`,
}

// Registry maps each stage to its fixed system instruction.
type Registry struct {
	instructions map[types.StageName]string
}

// DefaultRegistry returns the built-in instructions.
func DefaultRegistry() *Registry {
	r := &Registry{instructions: make(map[types.StageName]string, len(defaultInstructions))}
	for k, v := range defaultInstructions {
		r.instructions[k] = v
	}
	return r
}

// LoadRegistry reads a YAML mapping of stage name to instruction and layers
// it over the defaults. An empty path returns the defaults.
func LoadRegistry(path string) (*Registry, error) {
	r := DefaultRegistry()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	if err := r.Override(data); err != nil {
		return nil, fmt.Errorf("prompts file %s: %w", path, err)
	}
	return r, nil
}

// Override applies YAML overrides. Unknown stage names are rejected so a typo
// cannot silently leave a stage on its default.
func (r *Registry) Override(data []byte) error {
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	for name, text := range raw {
		stage := types.StageName(name)
		if !stage.Valid() {
			return fmt.Errorf("unknown stage %q", name)
		}
		if text == "" {
			continue
		}
		r.instructions[stage] = text
	}
	return nil
}

// Instruction returns the system instruction for stage, or "" for unknown names.
func (r *Registry) Instruction(stage types.StageName) string {
	if r == nil {
		return defaultInstructions[stage]
	}
	return r.instructions[stage]
}
