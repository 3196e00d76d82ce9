package intelligence

import (
	"context"
	"fmt"
	"time"

	"github.com/memtide/memtide-go/pkg/core"
)

// FactRecord is one fact produced by an extraction function, before it
// becomes a memory entry. Only Content is required; everything else is
// defaulted by the extractor.
type FactRecord struct {
	// Content is the fact text. Required.
	Content string

	// MemoryType classifies the fact. Empty falls back to the
	// extractor's default type.
	MemoryType core.MemoryType

	// Tags are optional labels for the resulting entry.
	Tags []string

	// SourceTurns optionally overrides the provenance recorded on the
	// entry. Empty falls back to the ids of the extracted turns.
	SourceTurns []string

	// Metadata is optional structured information.
	Metadata map[string]interface{}

	// Relevance optionally sets the entry's relevance score. Nil keeps
	// the default of 0.5.
	Relevance *float64

	// UserID optionally scopes the entry to a user.
	UserID string

	// SessionID optionally scopes the entry to a session.
	SessionID string
}

// ExtractFunc turns evicted conversation turns into fact records. This
// is where an application plugs in its language model call; the library
// never performs one itself.
type ExtractFunc func(ctx context.Context, turns []core.ConversationTurn) ([]FactRecord, error)

// CallbackExtractor adapts an ExtractFunc into a core.Extractor,
// normalizing the returned records into memory entries.
type CallbackExtractor struct {
	fn          ExtractFunc
	defaultType core.MemoryType
}

// NewCallbackExtractor creates an extractor around fn. An empty
// defaultType falls back to semantic.
//
// Example:
//
//	extractor, err := intelligence.NewCallbackExtractor(
//	    func(ctx context.Context, turns []core.ConversationTurn) ([]intelligence.FactRecord, error) {
//	        // Ask an LLM which facts in turns are worth keeping.
//	        return records, nil
//	    },
//	    core.MemoryTypeSemantic,
//	)
func NewCallbackExtractor(fn ExtractFunc, defaultType core.MemoryType) (*CallbackExtractor, error) {
	if fn == nil {
		return nil, core.NewMemoryError("new_callback_extractor",
			fmt.Errorf("%w: extract function is required", core.ErrInvalidConfig))
	}
	if defaultType == "" {
		defaultType = core.MemoryTypeSemantic
	}
	return &CallbackExtractor{fn: fn, defaultType: defaultType}, nil
}

// Extract runs the extraction function and converts each record into a
// memory entry. A record without content fails the whole batch: silent
// partial extraction would hide a broken extraction prompt.
func (e *CallbackExtractor) Extract(ctx context.Context, turns []core.ConversationTurn) ([]*core.MemoryEntry, error) {
	records, err := e.fn(ctx, turns)
	if err != nil {
		return nil, core.NewMemoryError("extract", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	defaultSources := turnSourceIDs(turns)
	entries := make([]*core.MemoryEntry, 0, len(records))
	for i, record := range records {
		if record.Content == "" {
			return nil, core.NewMemoryError("extract",
				fmt.Errorf("%w: record %d", core.ErrMissingContent, i))
		}

		memoryType := record.MemoryType
		if memoryType == "" {
			memoryType = e.defaultType
		}
		sources := record.SourceTurns
		if len(sources) == 0 {
			sources = defaultSources
		}
		relevance := 0.5
		if record.Relevance != nil {
			relevance = *record.Relevance
		}

		opts := []core.EntryOption{
			core.WithMemoryType(memoryType),
			core.WithSourceTurns(sources...),
			core.WithRelevanceScore(relevance),
		}
		if len(record.Tags) > 0 {
			opts = append(opts, core.WithTags(record.Tags...))
		}
		if record.Metadata != nil {
			opts = append(opts, core.WithMetadata(record.Metadata))
		}
		if record.UserID != "" {
			opts = append(opts, core.WithUserID(record.UserID))
		}
		if record.SessionID != "" {
			opts = append(opts, core.WithSessionID(record.SessionID))
		}
		entries = append(entries, core.NewMemoryEntry(record.Content, opts...))
	}
	return entries, nil
}

// turnSourceIDs returns the provenance ids for a batch of turns: the
// turn id when the window assigned one, the timestamp otherwise.
func turnSourceIDs(turns []core.ConversationTurn) []string {
	ids := make([]string, 0, len(turns))
	for _, turn := range turns {
		if turn.ID != "" {
			ids = append(ids, turn.ID)
			continue
		}
		ids = append(ids, turn.Timestamp.Format(time.RFC3339Nano))
	}
	return ids
}
