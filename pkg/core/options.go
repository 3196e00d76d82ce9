package core

import "time"

// EntryOption configures a memory entry under construction.
//
// Options are applied using the functional options pattern, allowing
// flexible configuration without requiring all parameters.
type EntryOption func(*MemoryEntry)

// WithID sets an explicit entry id instead of a generated UUID.
func WithID(id string) EntryOption {
	return func(e *MemoryEntry) {
		e.ID = id
	}
}

// WithContentHash overrides the derived content hash.
func WithContentHash(hash string) EntryOption {
	return func(e *MemoryEntry) {
		e.ContentHash = hash
	}
}

// WithMemoryType sets the entry's memory type.
//
// Example:
//
//	entry := core.NewMemoryEntry("met Alice at the standup",
//	    core.WithMemoryType(core.MemoryTypeEpisodic))
func WithMemoryType(memoryType MemoryType) EntryOption {
	return func(e *MemoryEntry) {
		e.MemoryType = memoryType
	}
}

// WithTags sets the entry's tags.
func WithTags(tags ...string) EntryOption {
	return func(e *MemoryEntry) {
		e.Tags = tags
	}
}

// WithLinks sets ids of related entries.
func WithLinks(links ...string) EntryOption {
	return func(e *MemoryEntry) {
		e.Links = links
	}
}

// WithSourceTurns records the turn ids or timestamps the entry was
// extracted from.
func WithSourceTurns(sourceTurns ...string) EntryOption {
	return func(e *MemoryEntry) {
		e.SourceTurns = sourceTurns
	}
}

// WithMetadata sets the entry's metadata map.
//
// Example:
//
//	entry := core.NewMemoryEntry("content",
//	    core.WithMetadata(map[string]interface{}{"source": "import"}))
func WithMetadata(metadata map[string]interface{}) EntryOption {
	return func(e *MemoryEntry) {
		e.Metadata = metadata
	}
}

// WithRelevanceScore sets the entry's relevance score. Values outside
// [0, 1] are clamped at construction.
func WithRelevanceScore(score float64) EntryOption {
	return func(e *MemoryEntry) {
		e.RelevanceScore = score
	}
}

// WithExpiresAt sets a hard expiry instant for the entry.
func WithExpiresAt(expiresAt time.Time) EntryOption {
	return func(e *MemoryEntry) {
		t := expiresAt
		e.ExpiresAt = &t
	}
}

// WithUserID scopes the entry to a user.
func WithUserID(userID string) EntryOption {
	return func(e *MemoryEntry) {
		e.UserID = userID
	}
}

// WithSessionID scopes the entry to a session.
func WithSessionID(sessionID string) EntryOption {
	return func(e *MemoryEntry) {
		e.SessionID = sessionID
	}
}

// WindowOption configures a sliding window at construction.
type WindowOption func(*windowConfig)

// windowConfig collects window construction options before validation.
type windowConfig struct {
	policy          EvictionPolicy
	scorer          RecencyScorer
	onEvict         func(evicted []ConversationTurn)
	compaction      CompactionStrategy
	promoter        *EvictionPromoter
	callbacks       *CallbackRegistry
	summaryPriority int
}

// WithEvictionPolicy selects the policy that chooses which turns leave
// the window. The default is FIFOEviction.
//
// Example:
//
//	window, _ := core.NewSlidingWindow(4096, tokenizer,
//	    core.WithEvictionPolicy(core.PairedEviction{}))
func WithEvictionPolicy(policy EvictionPolicy) WindowOption {
	return func(cfg *windowConfig) {
		cfg.policy = policy
	}
}

// WithRecencyScorer selects the scorer used when projecting turns into
// context items. The default is a linear scorer with min score 0.5.
func WithRecencyScorer(scorer RecencyScorer) WindowOption {
	return func(cfg *windowConfig) {
		cfg.scorer = scorer
	}
}

// WithOnEvict registers a plain function invoked with each evicted
// batch. Errors inside the function are isolated from the append path.
func WithOnEvict(onEvict func(evicted []ConversationTurn)) WindowOption {
	return func(cfg *windowConfig) {
		cfg.onEvict = onEvict
	}
}

// WithCompaction enables the rolling summary: each eviction batch is
// compacted together with the previous summary into its replacement.
func WithCompaction(strategy CompactionStrategy) WindowOption {
	return func(cfg *windowConfig) {
		cfg.compaction = strategy
	}
}

// WithPromotion wires an eviction promoter so evicted turns flow into
// long-term memory. Promotion runs independently of compaction and its
// failures never reach the append path.
func WithPromotion(promoter *EvictionPromoter) WindowOption {
	return func(cfg *windowConfig) {
		cfg.promoter = promoter
	}
}

// WithCallbacks attaches an observer registry to the window.
func WithCallbacks(registry *CallbackRegistry) WindowOption {
	return func(cfg *windowConfig) {
		cfg.callbacks = registry
	}
}

// WithSummaryPriority overrides the packing priority of the rolling
// summary context item. The default is SummaryPriority.
func WithSummaryPriority(priority int) WindowOption {
	return func(cfg *windowConfig) {
		cfg.summaryPriority = priority
	}
}

// applyWindowOptions applies window options over the defaults.
func applyWindowOptions(opts []WindowOption) *windowConfig {
	cfg := &windowConfig{
		policy:          FIFOEviction{},
		summaryPriority: SummaryPriority,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// PromoterOption configures an eviction promoter at construction.
type PromoterOption func(*promoterConfig)

// promoterConfig collects promoter construction options.
type promoterConfig struct {
	consolidator Consolidator
	callbacks    *CallbackRegistry
}

// WithConsolidator routes extracted entries through a consolidator
// before storage. Without one, every extracted entry is stored as new.
func WithConsolidator(consolidator Consolidator) PromoterOption {
	return func(cfg *promoterConfig) {
		cfg.consolidator = consolidator
	}
}

// WithPromoterCallbacks attaches an observer registry so extraction and
// consolidation decisions are observable.
func WithPromoterCallbacks(registry *CallbackRegistry) PromoterOption {
	return func(cfg *promoterConfig) {
		cfg.callbacks = registry
	}
}

// applyPromoterOptions applies promoter options over the defaults.
func applyPromoterOptions(opts []PromoterOption) *promoterConfig {
	cfg := &promoterConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// ManagerOption configures a memory manager at construction.
type ManagerOption func(*managerConfig)

// managerConfig collects manager construction options before validation.
type managerConfig struct {
	conversationTokens int
	tokenizer          Tokenizer
	window             *SlidingWindowMemory
	store              MemoryEntryStore
	windowOpts         []WindowOption
}

// WithConversationTokens sets the token budget of the manager's
// conversation window. The default is DefaultConversationTokens.
func WithConversationTokens(tokens int) ManagerOption {
	return func(cfg *managerConfig) {
		cfg.conversationTokens = tokens
	}
}

// WithTokenizer sets the tokenizer used for the conversation window and
// for costing persistent entries. The default is HeuristicTokenizer.
func WithTokenizer(tokenizer Tokenizer) ManagerOption {
	return func(cfg *managerConfig) {
		cfg.tokenizer = tokenizer
	}
}

// WithWindow supplies a fully constructed window, overriding
// WithConversationTokens and WithWindowOptions.
func WithWindow(window *SlidingWindowMemory) ManagerOption {
	return func(cfg *managerConfig) {
		cfg.window = window
	}
}

// WithPersistentStore attaches the long-term store backing the
// manager's fact operations.
//
// Example:
//
//	manager, _ := core.NewMemoryManager(
//	    core.WithPersistentStore(jsonstore.NewMemoryStore()),
//	)
func WithPersistentStore(store MemoryEntryStore) ManagerOption {
	return func(cfg *managerConfig) {
		cfg.store = store
	}
}

// WithWindowOptions forwards options to the window the manager
// constructs. Ignored when WithWindow is used.
func WithWindowOptions(opts ...WindowOption) ManagerOption {
	return func(cfg *managerConfig) {
		cfg.windowOpts = append(cfg.windowOpts, opts...)
	}
}

// applyManagerOptions applies manager options over the defaults.
func applyManagerOptions(opts []ManagerOption) *managerConfig {
	cfg := &managerConfig{
		conversationTokens: DefaultConversationTokens,
		tokenizer:          HeuristicTokenizer{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
