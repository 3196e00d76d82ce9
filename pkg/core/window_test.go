package core_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memtide "github.com/memtide/memtide-go/pkg/core"
	"github.com/memtide/memtide-go/pkg/storage/jsonstore"
)

func TestNewSlidingWindowValidation(t *testing.T) {
	_, err := memtide.NewSlidingWindow(0, memtide.WordTokenizer{})
	assert.True(t, errors.Is(err, memtide.ErrInvalidConfig))

	_, err = memtide.NewSlidingWindow(-10, memtide.WordTokenizer{})
	assert.True(t, errors.Is(err, memtide.ErrInvalidConfig))

	_, err = memtide.NewSlidingWindow(100, nil)
	assert.True(t, errors.Is(err, memtide.ErrInvalidConfig))
}

func TestAddTurnWithinBudget(t *testing.T) {
	ctx := context.Background()
	window, err := memtide.NewSlidingWindow(100, memtide.WordTokenizer{})
	require.NoError(t, err)

	turn := window.AddTurn(ctx, memtide.RoleUser, "hello there", nil)

	assert.NotEmpty(t, turn.ID)
	assert.Equal(t, memtide.RoleUser, turn.Role)
	assert.Equal(t, "hello there", turn.Content)
	assert.Equal(t, 2, turn.TokenCount)
	assert.False(t, turn.Timestamp.IsZero())

	assert.Len(t, window.Turns(), 1)
	assert.Equal(t, 2, window.TotalTokens())
	assert.Equal(t, 100, window.MaxTokens())
}

func TestAddTurnAssignsUniqueOrderedIDs(t *testing.T) {
	ctx := context.Background()
	window, err := memtide.NewSlidingWindow(100, memtide.WordTokenizer{})
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		turn := window.AddTurn(ctx, memtide.RoleUser, fmt.Sprintf("turn %d", i), nil)
		assert.NotEmpty(t, turn.ID)
		assert.False(t, seen[turn.ID], "turn ids must be unique")
		seen[turn.ID] = true
	}
}

func TestFIFOEvictionOnOverflow(t *testing.T) {
	ctx := context.Background()

	var evicted []memtide.ConversationTurn
	var remainingAtEviction int
	registry := memtide.NewCallbackRegistry(&memtide.MemoryCallbacks{
		OnEviction: func(batch []memtide.ConversationTurn, remaining int) {
			evicted = batch
			remainingAtEviction = remaining
		},
	})

	// Six-token budget: any append that would overflow it pushes out
	// the oldest turns first.
	window, err := memtide.NewSlidingWindow(6, memtide.WordTokenizer{},
		memtide.WithCallbacks(registry))
	require.NoError(t, err)

	window.AddTurn(ctx, memtide.RoleUser, "where are the tides", nil)       // 4 tokens
	window.AddTurn(ctx, memtide.RoleAssistant, "check the chart", nil)      // 3 tokens -> evicts first
	assert.Equal(t, []string{"check the chart"}, turnContents(window.Turns()))

	window.Clear()
	window.AddTurn(ctx, memtide.RoleUser, "one two three", nil)
	window.AddTurn(ctx, memtide.RoleAssistant, "four five six", nil)
	require.Equal(t, 6, window.TotalTokens())

	window.AddTurn(ctx, memtide.RoleUser, "seven eight nine", nil)

	assert.Equal(t, []string{"four five six", "seven eight nine"}, turnContents(window.Turns()))
	assert.Equal(t, 6, window.TotalTokens())

	require.Len(t, evicted, 1)
	assert.Equal(t, "one two three", evicted[0].Content)
	assert.Equal(t, 3, remainingAtEviction, "remaining tokens are measured before the new turn lands")
}

func TestOnEvictHookReceivesBatch(t *testing.T) {
	ctx := context.Background()

	var hookBatch []memtide.ConversationTurn
	window, err := memtide.NewSlidingWindow(4, memtide.WordTokenizer{},
		memtide.WithOnEvict(func(batch []memtide.ConversationTurn) {
			hookBatch = batch
		}))
	require.NoError(t, err)

	window.AddTurn(ctx, memtide.RoleUser, "a b c", nil)
	window.AddTurn(ctx, memtide.RoleAssistant, "d e", nil)

	require.Len(t, hookBatch, 1)
	assert.Equal(t, "a b c", hookBatch[0].Content)
}

func TestOversizedTurnIsTruncated(t *testing.T) {
	ctx := context.Background()
	window, err := memtide.NewSlidingWindow(5, memtide.WordTokenizer{})
	require.NoError(t, err)

	turn := window.AddTurn(ctx, memtide.RoleUser,
		"one two three four five six seven eight",
		map[string]interface{}{"origin": "import"})

	assert.Equal(t, "one two three four five", turn.Content)
	assert.Equal(t, 5, turn.TokenCount)
	assert.Equal(t, true, turn.Metadata["truncated"])
	assert.Equal(t, "import", turn.Metadata["origin"], "caller metadata survives the truncation mark")
	assert.Equal(t, 5, window.TotalTokens())
}

func TestInvalidEvictionIndicesAreIgnored(t *testing.T) {
	ctx := context.Background()
	window, err := memtide.NewSlidingWindow(4, memtide.WordTokenizer{},
		memtide.WithEvictionPolicy(memtide.EvictionPolicyFunc(
			func(turns []memtide.ConversationTurn, tokensToFree int) []int {
				return []int{-1, 99, 0, 0}
			})))
	require.NoError(t, err)

	window.AddTurn(ctx, memtide.RoleUser, "a b c", nil)
	window.AddTurn(ctx, memtide.RoleAssistant, "d e", nil)

	// Only the single valid index was evicted, once.
	assert.Equal(t, []string{"d e"}, turnContents(window.Turns()))
	assert.Equal(t, 2, window.TotalTokens())
}

func TestCompactionMaintainsRollingSummary(t *testing.T) {
	ctx := context.Background()

	var compactions []string
	registry := memtide.NewCallbackRegistry(&memtide.MemoryCallbacks{
		OnCompaction: func(evicted []memtide.ConversationTurn, summary, previous string) {
			compactions = append(compactions, previous+" => "+summary)
		},
	})

	summarize := memtide.CompactionFunc(func(ctx context.Context, evicted []memtide.ConversationTurn, previous string) (string, error) {
		parts := make([]string, 0, len(evicted)+1)
		if previous != "" {
			parts = append(parts, previous)
		}
		for _, turn := range evicted {
			parts = append(parts, turn.Content)
		}
		return strings.Join(parts, " | "), nil
	})

	window, err := memtide.NewSlidingWindow(4, memtide.WordTokenizer{},
		memtide.WithCompaction(summarize),
		memtide.WithCallbacks(registry))
	require.NoError(t, err)

	window.AddTurn(ctx, memtide.RoleUser, "first turn here", nil) // 3 tokens
	assert.Empty(t, window.Summary(), "no compaction before the first eviction")

	window.AddTurn(ctx, memtide.RoleAssistant, "second turn", nil) // evicts the first

	assert.Equal(t, "first turn here", window.Summary())
	assert.Equal(t, 3, window.SummaryTokens())

	window.AddTurn(ctx, memtide.RoleUser, "third turn arrives", nil) // evicts the second

	// The summary is rewritten, not accumulated alongside the old one.
	assert.Equal(t, "first turn here | second turn", window.Summary())
	assert.Equal(t, memtide.WordTokenizer{}.CountTokens(window.Summary()), window.SummaryTokens())

	require.Len(t, compactions, 2)
	assert.Equal(t, " => first turn here", compactions[0])
	assert.Equal(t, "first turn here => first turn here | second turn", compactions[1])
}

func TestCompactionFailureNeverBlocksAppend(t *testing.T) {
	ctx := context.Background()

	failing := memtide.CompactionFunc(func(context.Context, []memtide.ConversationTurn, string) (string, error) {
		return "", errors.New("summarizer unavailable")
	})

	window, err := memtide.NewSlidingWindow(4, memtide.WordTokenizer{},
		memtide.WithCompaction(failing))
	require.NoError(t, err)

	window.AddTurn(ctx, memtide.RoleUser, "a b c", nil)
	turn := window.AddTurn(ctx, memtide.RoleAssistant, "d e", nil)

	assert.Equal(t, "d e", turn.Content)
	assert.Equal(t, []string{"d e"}, turnContents(window.Turns()))
	assert.Empty(t, window.Summary(), "a failed compaction leaves the summary untouched")
}

func TestPromotionFailureNeverBlocksAppend(t *testing.T) {
	ctx := context.Background()

	store := jsonstore.NewMemoryStore()
	promoter, err := memtide.NewEvictionPromoter(
		staticExtractor{err: errors.New("extractor unavailable")}, store)
	require.NoError(t, err)

	window, err := memtide.NewSlidingWindow(4, memtide.WordTokenizer{},
		memtide.WithPromotion(promoter))
	require.NoError(t, err)

	window.AddTurn(ctx, memtide.RoleUser, "a b c", nil)
	window.AddTurn(ctx, memtide.RoleAssistant, "d e", nil)

	assert.Equal(t, []string{"d e"}, turnContents(window.Turns()))

	stored, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestContextItemsProjection(t *testing.T) {
	ctx := context.Background()
	window, err := memtide.NewSlidingWindow(100, memtide.WordTokenizer{})
	require.NoError(t, err)

	window.AddTurn(ctx, memtide.RoleUser, "oldest turn", map[string]interface{}{"topic": "tides"})
	window.AddTurn(ctx, memtide.RoleAssistant, "middle turn", nil)
	window.AddTurn(ctx, memtide.RoleUser, "newest turn", nil)

	items := window.ContextItems(0)
	require.Len(t, items, 3)

	for _, item := range items {
		assert.Equal(t, memtide.SourceConversation, item.Source)
		assert.Equal(t, memtide.TurnPriority, item.Priority)
		assert.Equal(t, 2, item.TokenCount)
	}

	assert.Equal(t, "oldest turn", items[0].Content)
	assert.Equal(t, "user", items[0].Metadata["role"])
	assert.Equal(t, "tides", items[0].Metadata["topic"])
	assert.Equal(t, "assistant", items[1].Metadata["role"])

	// Default linear recency: floor 0.5 at the oldest, 1.0 at the newest.
	assert.InDelta(t, 0.5, items[0].Score, 1e-9)
	assert.InDelta(t, 0.75, items[1].Score, 1e-9)
	assert.InDelta(t, 1.0, items[2].Score, 1e-9)
}

func TestContextItemsIncludeSummaryFirst(t *testing.T) {
	ctx := context.Background()

	summarize := memtide.CompactionFunc(func(ctx context.Context, evicted []memtide.ConversationTurn, previous string) (string, error) {
		return "conversation so far", nil
	})

	window, err := memtide.NewSlidingWindow(4, memtide.WordTokenizer{},
		memtide.WithCompaction(summarize))
	require.NoError(t, err)

	window.AddTurn(ctx, memtide.RoleUser, "a b c", nil)
	window.AddTurn(ctx, memtide.RoleAssistant, "d e", nil)

	items := window.ContextItems(9)
	require.Len(t, items, 2)

	summary := items[0]
	assert.Equal(t, "conversation so far", summary.Content)
	assert.Equal(t, memtide.SummaryPriority, summary.Priority)
	assert.Equal(t, 0.5, summary.Score)
	assert.Equal(t, 3, summary.TokenCount)
	assert.Equal(t, "system", summary.Metadata["role"])
	assert.Equal(t, true, summary.Metadata["summary"])

	assert.Equal(t, "d e", items[1].Content)
	assert.Equal(t, 9, items[1].Priority, "explicit priorities apply to turn items only")
}

func TestWithSummaryPriority(t *testing.T) {
	ctx := context.Background()

	summarize := memtide.CompactionFunc(func(context.Context, []memtide.ConversationTurn, string) (string, error) {
		return "summary", nil
	})

	window, err := memtide.NewSlidingWindow(4, memtide.WordTokenizer{},
		memtide.WithCompaction(summarize),
		memtide.WithSummaryPriority(3))
	require.NoError(t, err)

	window.AddTurn(ctx, memtide.RoleUser, "a b c", nil)
	window.AddTurn(ctx, memtide.RoleAssistant, "d e", nil)

	items := window.ContextItems(0)
	require.NotEmpty(t, items)
	assert.Equal(t, 3, items[0].Priority)
}

func TestWindowClear(t *testing.T) {
	ctx := context.Background()

	summarize := memtide.CompactionFunc(func(context.Context, []memtide.ConversationTurn, string) (string, error) {
		return "summary", nil
	})
	window, err := memtide.NewSlidingWindow(4, memtide.WordTokenizer{},
		memtide.WithCompaction(summarize))
	require.NoError(t, err)

	window.AddTurn(ctx, memtide.RoleUser, "a b c", nil)
	window.AddTurn(ctx, memtide.RoleAssistant, "d e", nil)
	require.NotEmpty(t, window.Summary())

	window.Clear()

	assert.Empty(t, window.Turns())
	assert.Equal(t, 0, window.TotalTokens())
	assert.Empty(t, window.Summary())
	assert.Equal(t, 0, window.SummaryTokens())
}

func TestTurnsReturnsCopy(t *testing.T) {
	ctx := context.Background()
	window, err := memtide.NewSlidingWindow(100, memtide.WordTokenizer{})
	require.NoError(t, err)

	window.AddTurn(ctx, memtide.RoleUser, "original", nil)

	turns := window.Turns()
	turns[0].Content = "mutated"

	assert.Equal(t, "original", window.Turns()[0].Content)
}

func turnContents(turns []memtide.ConversationTurn) []string {
	contents := make([]string, len(turns))
	for i, turn := range turns {
		contents[i] = turn.Content
	}
	return contents
}
