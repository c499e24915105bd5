package prompts

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/forzax/cycleloop/pkg/types"
)

// MaxQueries caps the queries kept for one task.
const MaxQueries = 7

// firstList decodes the first well-formed JSON array in text into dst. Every
// '[' is tried in turn so leading prose or bracketed notes do not defeat it.
func firstList[T any](text string) ([]T, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		var out []T
		dec := json.NewDecoder(bytes.NewReader([]byte(text[i:])))
		if err := dec.Decode(&out); err == nil {
			return out, true
		}
	}
	return nil, false
}

// ParseResearchTasks extracts planned tasks from a model response. Entries
// without a task identifier are dropped. Unparseable input yields nil.
func ParseResearchTasks(text string) []types.ResearchTask {
	raw, ok := firstList[types.ResearchTask](text)
	if !ok {
		return nil
	}
	tasks := make([]types.ResearchTask, 0, len(raw))
	for _, t := range raw {
		t.Task = strings.TrimSpace(t.Task)
		t.Description = strings.TrimSpace(t.Description)
		if t.Task == "" {
			continue
		}
		tasks = append(tasks, t)
	}
	if len(tasks) == 0 {
		return nil
	}
	return tasks
}

// ParseQueries extracts search queries from a model response, dropping blanks
// and keeping at most MaxQueries.
func ParseQueries(text string) []string {
	raw, ok := firstList[string](text)
	if !ok {
		return nil
	}
	queries := make([]string, 0, len(raw))
	for _, q := range raw {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		queries = append(queries, q)
		if len(queries) == MaxQueries {
			break
		}
	}
	if len(queries) == 0 {
		return nil
	}
	return queries
}
