package core

import (
	"context"
	"log"
)

const (
	// DefaultConversationTokens is the window budget the manager uses
	// when none is configured.
	DefaultConversationTokens = 4096

	// MemoryPriority is the packing priority of persistent memory
	// entries projected into context items.
	MemoryPriority = 8
)

// MemoryManager is the facade over both memory tiers: a sliding
// conversation window for the live dialogue and an optional persistent
// store for durable facts. Applications that do not need to compose
// the tiers themselves talk to the manager only.
type MemoryManager struct {
	window    *SlidingWindowMemory
	store     MemoryEntryStore
	tokenizer Tokenizer
}

// NewMemoryManager creates a manager. Without options it holds a
// 4096-token window and no persistent store.
//
// Example:
//
//	manager, err := core.NewMemoryManager(
//	    core.WithConversationTokens(2048),
//	    core.WithPersistentStore(jsonstore.NewMemoryStore()),
//	)
func NewMemoryManager(opts ...ManagerOption) (*MemoryManager, error) {
	cfg := applyManagerOptions(opts)

	tokenizer := cfg.tokenizer
	if tokenizer == nil {
		tokenizer = HeuristicTokenizer{}
	}

	window := cfg.window
	if window == nil {
		var err error
		window, err = NewSlidingWindow(cfg.conversationTokens, tokenizer, cfg.windowOpts...)
		if err != nil {
			return nil, err
		}
	}

	return &MemoryManager{
		window:    window,
		store:     cfg.store,
		tokenizer: tokenizer,
	}, nil
}

// AddUserMessage appends a user turn to the conversation window.
func (m *MemoryManager) AddUserMessage(ctx context.Context, content string) ConversationTurn {
	return m.window.AddTurn(ctx, RoleUser, content, nil)
}

// AddAssistantMessage appends an assistant turn to the conversation
// window.
func (m *MemoryManager) AddAssistantMessage(ctx context.Context, content string) ConversationTurn {
	return m.window.AddTurn(ctx, RoleAssistant, content, nil)
}

// AddSystemMessage appends a system turn to the conversation window.
func (m *MemoryManager) AddSystemMessage(ctx context.Context, content string) ConversationTurn {
	return m.window.AddTurn(ctx, RoleSystem, content, nil)
}

// AddToolMessage appends a tool output turn to the conversation window.
func (m *MemoryManager) AddToolMessage(ctx context.Context, content string) ConversationTurn {
	return m.window.AddTurn(ctx, RoleTool, content, nil)
}

// AddFact stores a durable fact in the persistent store, bypassing the
// conversation window. Returns ErrNoPersistentStore when the manager
// has no store.
func (m *MemoryManager) AddFact(ctx context.Context, content string, opts ...EntryOption) (*MemoryEntry, error) {
	if m.store == nil {
		return nil, NewMemoryError("add_fact", ErrNoPersistentStore)
	}
	entry := NewMemoryEntry(content, opts...)
	if err := m.store.Add(ctx, entry); err != nil {
		return nil, NewMemoryError("add_fact", err)
	}
	return entry, nil
}

// RelevantFacts searches the persistent store for entries matching
// query. Without a store, or when the search fails, it returns nothing.
func (m *MemoryManager) RelevantFacts(ctx context.Context, query string, topK int) []*MemoryEntry {
	if m.store == nil {
		return nil
	}
	entries, err := m.store.Search(ctx, query, topK)
	if err != nil {
		log.Printf("memory search failed: %v", err)
		return nil
	}
	return entries
}

// AllFacts returns every non-expired entry in the persistent store.
func (m *MemoryManager) AllFacts(ctx context.Context) []*MemoryEntry {
	if m.store == nil {
		return nil
	}
	entries, err := m.store.ListAll(ctx)
	if err != nil {
		log.Printf("memory list failed: %v", err)
		return nil
	}
	return entries
}

// DeleteFact removes a persistent entry by id, reporting whether it
// existed.
func (m *MemoryManager) DeleteFact(ctx context.Context, id string) bool {
	if m.store == nil {
		return false
	}
	deleted, err := m.store.Delete(ctx, id)
	if err != nil {
		log.Printf("memory delete failed: %v", err)
		return false
	}
	return deleted
}

// ContextItems projects both tiers into packer-ready items: persistent
// entries first (scored by relevance), then the window's summary and
// live turns (scored by recency).
func (m *MemoryManager) ContextItems(ctx context.Context) []ContextItem {
	var items []ContextItem
	if m.store != nil {
		entries, err := m.store.ListAll(ctx)
		if err != nil {
			log.Printf("memory list failed: %v", err)
		}
		for _, entry := range entries {
			items = append(items, NewContextItem(
				entry.Content,
				SourceMemory,
				entry.RelevanceScore,
				MemoryPriority,
				m.tokenizer.CountTokens(entry.Content),
				map[string]interface{}{
					"memory_entry_id": entry.ID,
					"memory_type":     string(entry.MemoryType),
					"tags":            append([]string(nil), entry.Tags...),
				},
				entry.CreatedAt,
			))
		}
	}
	return append(items, m.window.ContextItems(TurnPriority)...)
}

// Conversation exposes the underlying sliding window.
func (m *MemoryManager) Conversation() *SlidingWindowMemory {
	return m.window
}

// PersistentStore exposes the underlying store, nil when none is
// configured.
func (m *MemoryManager) PersistentStore() MemoryEntryStore {
	return m.store
}

// Clear drops the conversation window and, when a store is configured,
// every persistent entry.
func (m *MemoryManager) Clear(ctx context.Context) error {
	m.window.Clear()
	if m.store == nil {
		return nil
	}
	if err := m.store.Clear(ctx); err != nil {
		return NewMemoryError("clear", err)
	}
	return nil
}
