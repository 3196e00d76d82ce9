package core

import "log"

// MemoryCallbacks observes memory operations. Every hook is optional:
// leave a field nil to ignore that event. A failing hook can never
// crash a memory operation; panics are recovered, logged, and dispatch
// continues with the next observer.
type MemoryCallbacks struct {
	// OnEviction fires when turns are evicted from the sliding window.
	// remainingTokens is the window's token count after the eviction.
	OnEviction func(evicted []ConversationTurn, remainingTokens int)

	// OnCompaction fires when evicted turns are compacted into the
	// rolling summary. previousSummary is empty on the first
	// compaction.
	OnCompaction func(evicted []ConversationTurn, summary, previousSummary string)

	// OnExtraction fires when memory entries are extracted from
	// evicted turns.
	OnExtraction func(turns []ConversationTurn, entries []*MemoryEntry)

	// OnConsolidation fires once per consolidation decision. Entry is
	// nil for ActionNone.
	OnConsolidation func(action ConsolidationAction, entry *MemoryEntry)

	// OnDecayPrune fires when entries are pruned, or would be pruned on
	// a dry run, because their retention fell below threshold.
	OnDecayPrune func(pruned []*MemoryEntry, threshold float64)

	// OnExpiryPrune fires when expired entries are removed, or would be
	// removed on a dry run.
	OnExpiryPrune func(pruned []*MemoryEntry)
}

// CallbackRegistry fans events out to registered observers in
// registration order. A nil registry is valid and fires nothing, so
// components can hold one unconditionally.
type CallbackRegistry struct {
	observers []*MemoryCallbacks
}

// NewCallbackRegistry creates a registry with the given observers.
func NewCallbackRegistry(observers ...*MemoryCallbacks) *CallbackRegistry {
	r := &CallbackRegistry{}
	for _, cb := range observers {
		r.Register(cb)
	}
	return r
}

// Register appends an observer. Nil observers are ignored.
func (r *CallbackRegistry) Register(cb *MemoryCallbacks) {
	if cb == nil {
		return
	}
	r.observers = append(r.observers, cb)
}

// safeFire runs one observer hook, recovering and logging any panic so
// a buggy observer never interrupts dispatch or the triggering caller.
// All Fire methods route through here to keep the isolation uniform.
func safeFire(hook string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("memory callback %s failed: %v", hook, p)
		}
	}()
	fn()
}

// FireEviction notifies observers that turns were evicted.
func (r *CallbackRegistry) FireEviction(evicted []ConversationTurn, remainingTokens int) {
	if r == nil {
		return
	}
	for _, cb := range r.observers {
		if cb.OnEviction == nil {
			continue
		}
		hook := cb.OnEviction
		safeFire("on_eviction", func() { hook(evicted, remainingTokens) })
	}
}

// FireCompaction notifies observers that a summary was rewritten.
func (r *CallbackRegistry) FireCompaction(evicted []ConversationTurn, summary, previousSummary string) {
	if r == nil {
		return
	}
	for _, cb := range r.observers {
		if cb.OnCompaction == nil {
			continue
		}
		hook := cb.OnCompaction
		safeFire("on_compaction", func() { hook(evicted, summary, previousSummary) })
	}
}

// FireExtraction notifies observers that entries were extracted.
func (r *CallbackRegistry) FireExtraction(turns []ConversationTurn, entries []*MemoryEntry) {
	if r == nil {
		return
	}
	for _, cb := range r.observers {
		if cb.OnExtraction == nil {
			continue
		}
		hook := cb.OnExtraction
		safeFire("on_extraction", func() { hook(turns, entries) })
	}
}

// FireConsolidation notifies observers of one consolidation decision.
func (r *CallbackRegistry) FireConsolidation(action ConsolidationAction, entry *MemoryEntry) {
	if r == nil {
		return
	}
	for _, cb := range r.observers {
		if cb.OnConsolidation == nil {
			continue
		}
		hook := cb.OnConsolidation
		safeFire("on_consolidation", func() { hook(action, entry) })
	}
}

// FireDecayPrune notifies observers of decay-pruned entries.
func (r *CallbackRegistry) FireDecayPrune(pruned []*MemoryEntry, threshold float64) {
	if r == nil {
		return
	}
	for _, cb := range r.observers {
		if cb.OnDecayPrune == nil {
			continue
		}
		hook := cb.OnDecayPrune
		safeFire("on_decay_prune", func() { hook(pruned, threshold) })
	}
}

// FireExpiryPrune notifies observers of expiry-pruned entries.
func (r *CallbackRegistry) FireExpiryPrune(pruned []*MemoryEntry) {
	if r == nil {
		return
	}
	for _, cb := range r.observers {
		if cb.OnExpiryPrune == nil {
			continue
		}
		hook := cb.OnExpiryPrune
		safeFire("on_expiry_prune", func() { hook(pruned) })
	}
}
