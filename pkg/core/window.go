package core

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	// SummaryPriority is the default packing priority of the rolling
	// summary context item.
	SummaryPriority = 6

	// TurnPriority is the default packing priority of live conversation
	// turns.
	TurnPriority = 7

	// summaryScore is the fixed recency score given to the rolling
	// summary: older than any live turn, newer than nothing in
	// particular.
	summaryScore = 0.5
)

// SlidingWindowMemory holds the live conversation inside a fixed token
// budget. Appending a turn that would overflow the budget triggers the
// eviction policy; evicted batches optionally feed a rolling summary
// (compaction) and long-term memory (promotion).
//
// The window never terminates: it is a cursor over an unbounded
// conversation. All methods are safe for concurrent use.
type SlidingWindowMemory struct {
	mu sync.Mutex

	maxTokens int
	tokenizer Tokenizer
	policy    EvictionPolicy
	scorer    RecencyScorer

	onEvict         func(evicted []ConversationTurn)
	compaction      CompactionStrategy
	promoter        *EvictionPromoter
	callbacks       *CallbackRegistry
	summaryPriority int

	node *snowflake.Node

	turns         []ConversationTurn
	totalTokens   int
	summary       string
	summaryTokens int
}

// NewSlidingWindow creates a sliding window with the given token budget
// and tokenizer.
//
// Example:
//
//	window, err := core.NewSlidingWindow(4096, core.HeuristicTokenizer{},
//	    core.WithEvictionPolicy(core.FIFOEviction{}),
//	    core.WithCompaction(summarizer),
//	)
func NewSlidingWindow(maxTokens int, tokenizer Tokenizer, opts ...WindowOption) (*SlidingWindowMemory, error) {
	if maxTokens <= 0 {
		return nil, NewMemoryError("new_sliding_window",
			fmt.Errorf("%w: max tokens must be positive, got %d", ErrInvalidConfig, maxTokens))
	}
	if tokenizer == nil {
		return nil, NewMemoryError("new_sliding_window",
			fmt.Errorf("%w: tokenizer is required", ErrInvalidConfig))
	}

	cfg := applyWindowOptions(opts)

	scorer := cfg.scorer
	if scorer == nil {
		var err error
		scorer, err = NewLinearRecencyScorer(DefaultMinRecencyScore)
		if err != nil {
			return nil, err
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewMemoryError("new_sliding_window", err)
	}

	return &SlidingWindowMemory{
		maxTokens:       maxTokens,
		tokenizer:       tokenizer,
		policy:          cfg.policy,
		scorer:          scorer,
		onEvict:         cfg.onEvict,
		compaction:      cfg.compaction,
		promoter:        cfg.promoter,
		callbacks:       cfg.callbacks,
		summaryPriority: cfg.summaryPriority,
		node:            node,
	}, nil
}

// AddTurn appends a turn to the window, evicting older turns first when
// the budget requires it. A single turn larger than the whole budget is
// truncated by the tokenizer and marked with metadata["truncated"].
//
// Eviction side effects (hooks, compaction, promotion) are isolated:
// their failures are logged and never interrupt the append.
func (w *SlidingWindowMemory) AddTurn(ctx context.Context, role Role, content string, metadata map[string]interface{}) ConversationTurn {
	w.mu.Lock()
	defer w.mu.Unlock()

	tokens := w.tokenizer.CountTokens(content)
	if tokens > w.maxTokens {
		content = w.tokenizer.TruncateToTokens(content, w.maxTokens)
		tokens = w.tokenizer.CountTokens(content)
		merged := make(map[string]interface{}, len(metadata)+1)
		for k, v := range metadata {
			merged[k] = v
		}
		merged["truncated"] = true
		metadata = merged
	}

	if w.totalTokens+tokens > w.maxTokens {
		w.evictLocked(ctx, w.totalTokens+tokens-w.maxTokens)
	}

	turn := ConversationTurn{
		ID:         w.node.Generate().String(),
		Role:       role,
		Content:    content,
		TokenCount: tokens,
		Metadata:   metadata,
		Timestamp:  time.Now(),
	}
	w.turns = append(w.turns, turn)
	w.totalTokens += tokens
	return turn
}

// evictLocked asks the policy for an eviction batch, removes it, and
// runs the eviction side effects. Caller holds w.mu.
func (w *SlidingWindowMemory) evictLocked(ctx context.Context, tokensToFree int) {
	if len(w.turns) == 0 {
		return
	}

	selected := w.policy.SelectForEviction(w.turns, tokensToFree)

	// Out-of-range and duplicate indices are ignored rather than
	// failing the append.
	evict := make(map[int]bool, len(selected))
	for _, idx := range selected {
		if idx < 0 || idx >= len(w.turns) {
			continue
		}
		evict[idx] = true
	}
	if len(evict) == 0 {
		return
	}

	indices := make([]int, 0, len(evict))
	for idx := range evict {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	evicted := make([]ConversationTurn, 0, len(indices))
	kept := make([]ConversationTurn, 0, len(w.turns)-len(indices))
	for i, turn := range w.turns {
		if evict[i] {
			evicted = append(evicted, turn)
			w.totalTokens -= turn.TokenCount
		} else {
			kept = append(kept, turn)
		}
	}
	w.turns = kept

	if w.onEvict != nil {
		safeFire("on_evict", func() { w.onEvict(evicted) })
	}
	w.callbacks.FireEviction(evicted, w.totalTokens)

	if w.compaction != nil {
		previous := w.summary
		summary, err := w.compaction.Compact(ctx, evicted, previous)
		if err != nil {
			log.Printf("memory compaction failed: %v", err)
		} else {
			w.summary = summary
			w.summaryTokens = w.tokenizer.CountTokens(summary)
			w.callbacks.FireCompaction(evicted, summary, previous)
		}
	}

	if w.promoter != nil {
		if err := w.promoter.Promote(ctx, evicted); err != nil {
			log.Printf("memory promotion failed: %v", err)
		}
	}
}

// Turns returns a copy of the live turns, oldest first.
func (w *SlidingWindowMemory) Turns() []ConversationTurn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ConversationTurn(nil), w.turns...)
}

// TotalTokens returns the token cost of the live turns. The rolling
// summary is costed separately, see SummaryTokens.
func (w *SlidingWindowMemory) TotalTokens() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalTokens
}

// MaxTokens returns the window's token budget.
func (w *SlidingWindowMemory) MaxTokens() int {
	return w.maxTokens
}

// Summary returns the current rolling summary, empty until the first
// compaction.
func (w *SlidingWindowMemory) Summary() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.summary
}

// SummaryTokens returns the token cost of the rolling summary.
func (w *SlidingWindowMemory) SummaryTokens() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.summaryTokens
}

// Clear drops all live turns and the rolling summary.
func (w *SlidingWindowMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = nil
	w.totalTokens = 0
	w.summary = ""
	w.summaryTokens = 0
}

// ContextItems projects the window into packer-ready context items:
// the rolling summary first (when present), then one item per live
// turn scored by the recency scorer. priority applies to the turn
// items; values below 1 fall back to TurnPriority.
func (w *SlidingWindowMemory) ContextItems(priority int) []ContextItem {
	w.mu.Lock()
	defer w.mu.Unlock()

	if priority < 1 {
		priority = TurnPriority
	}

	items := make([]ContextItem, 0, len(w.turns)+1)
	if w.summary != "" {
		items = append(items, NewContextItem(
			w.summary,
			SourceConversation,
			summaryScore,
			w.summaryPriority,
			w.summaryTokens,
			map[string]interface{}{"role": "system", "summary": true},
			time.Now(),
		))
	}

	total := len(w.turns)
	for i, turn := range w.turns {
		metadata := map[string]interface{}{"role": string(turn.Role)}
		for k, v := range turn.Metadata {
			metadata[k] = v
		}
		items = append(items, NewContextItem(
			turn.Content,
			SourceConversation,
			w.scorer.Score(i, total),
			priority,
			turn.TokenCount,
			metadata,
			turn.Timestamp,
		))
	}
	return items
}
