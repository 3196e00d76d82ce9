package intelligence

import (
	"math"
	"strings"

	"github.com/memtide/memtide-go/pkg/core"
)

// ImportanceEvaluator scores conversation turns with keyword and
// structure heuristics, no model call involved. Scores feed the
// importance eviction policy: higher-scoring turns survive longer in
// the window.
//
// The evaluator considers:
//   - Author role (system and tool turns outrank chatter)
//   - Content length bands
//   - Importance keywords ("remember", "urgent", preferences, ...)
//   - Question and exclamation markers
//   - Metadata priority hints and tags
//
// Example usage:
//
//	evaluator := intelligence.NewImportanceEvaluator()
//	window, _ := core.NewSlidingWindow(budget, tokenizer,
//	    core.WithEvictionPolicy(core.ImportanceEviction{ImportanceFn: evaluator.Func()}),
//	)
type ImportanceEvaluator struct {
	// keywords each add 0.1 when present in the lowercased content.
	keywords []string

	// roleWeights is the base score per author role.
	roleWeights map[core.Role]float64
}

// NewImportanceEvaluator creates an evaluator with the default keyword
// list and role weights (system 0.3, tool 0.2, user 0.15,
// assistant 0.1).
func NewImportanceEvaluator() *ImportanceEvaluator {
	return &ImportanceEvaluator{
		keywords: []string{
			"important", "critical", "urgent", "remember", "note",
			"preference", "like", "dislike", "hate", "love",
			"always", "never", "deadline",
		},
		roleWeights: map[core.Role]float64{
			core.RoleSystem:    0.3,
			core.RoleTool:      0.2,
			core.RoleUser:      0.15,
			core.RoleAssistant: 0.1,
		},
	}
}

// Evaluate returns the turn's importance between 0.0 and 1.0.
func (e *ImportanceEvaluator) Evaluate(turn core.ConversationTurn) float64 {
	score := e.roleWeights[turn.Role]
	contentLower := strings.ToLower(turn.Content)

	// Length factor
	if len(turn.Content) > 100 {
		score += 0.1
	} else if len(turn.Content) > 50 {
		score += 0.05
	}

	// Keyword importance
	for _, keyword := range e.keywords {
		if strings.Contains(contentLower, keyword) {
			score += 0.1
		}
	}

	// Question factor
	if strings.Contains(turn.Content, "?") {
		score += 0.05
	}

	// Exclamation factor
	if strings.Contains(turn.Content, "!") {
		score += 0.05
	}

	// Metadata factors
	if turn.Metadata != nil {
		if priority, ok := turn.Metadata["priority"].(string); ok {
			switch priority {
			case "high":
				score += 0.2
			case "medium":
				score += 0.1
			}
		}

		switch tags := turn.Metadata["tags"].(type) {
		case []string:
			if len(tags) > 0 {
				score += 0.05
			}
		case []interface{}:
			if len(tags) > 0 {
				score += 0.05
			}
		}
	}

	return math.Min(score, 1.0)
}

// Func adapts the evaluator to the plain scoring function the
// importance eviction policy expects.
func (e *ImportanceEvaluator) Func() func(core.ConversationTurn) float64 {
	return e.Evaluate
}
