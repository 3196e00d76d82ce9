package core

import (
	"context"
	"fmt"
	"log"
)

// EvictionPromoter moves evicted conversation turns into long-term
// memory: extraction produces candidate entries, an optional
// consolidator reconciles them against the store, and surviving
// add/update decisions are persisted.
type EvictionPromoter struct {
	extractor    Extractor
	store        MemoryEntryStore
	consolidator Consolidator
	callbacks    *CallbackRegistry
}

// NewEvictionPromoter creates a promoter. Both the extractor and the
// store are required.
//
// Example:
//
//	promoter, err := core.NewEvictionPromoter(extractor, store,
//	    core.WithConsolidator(consolidator),
//	)
//	window, _ := core.NewSlidingWindow(4096, tokenizer,
//	    core.WithPromotion(promoter),
//	)
func NewEvictionPromoter(extractor Extractor, store MemoryEntryStore, opts ...PromoterOption) (*EvictionPromoter, error) {
	if extractor == nil {
		return nil, NewMemoryError("new_eviction_promoter",
			fmt.Errorf("%w: extractor is required", ErrInvalidConfig))
	}
	if store == nil {
		return nil, NewMemoryError("new_eviction_promoter",
			fmt.Errorf("%w: store is required", ErrInvalidConfig))
	}

	cfg := applyPromoterOptions(opts)
	return &EvictionPromoter{
		extractor:    extractor,
		store:        store,
		consolidator: cfg.consolidator,
		callbacks:    cfg.callbacks,
	}, nil
}

// Promote extracts entries from the evicted turns, consolidates them
// when a consolidator is configured, and stores every add and update
// decision. Delete and none decisions are skipped: the promoter only
// grows or refreshes the store.
func (p *EvictionPromoter) Promote(ctx context.Context, evicted []ConversationTurn) error {
	if len(evicted) == 0 {
		return nil
	}

	entries, err := p.extractor.Extract(ctx, evicted)
	if err != nil {
		return NewMemoryError("promote", err)
	}
	if len(entries) == 0 {
		return nil
	}
	p.callbacks.FireExtraction(evicted, entries)

	if p.consolidator == nil {
		for _, entry := range entries {
			if err := p.store.Add(ctx, entry); err != nil {
				return NewMemoryError("promote", err)
			}
		}
		return nil
	}

	existing, err := p.store.ListAll(ctx)
	if err != nil {
		return NewMemoryError("promote", err)
	}
	results, err := p.consolidator.Consolidate(ctx, entries, existing)
	if err != nil {
		return NewMemoryError("promote", err)
	}

	for _, result := range results {
		p.callbacks.FireConsolidation(result.Action, result.Entry)
		switch result.Action {
		case ActionAdd, ActionUpdate:
			if err := p.store.Add(ctx, result.Entry); err != nil {
				return NewMemoryError("promote", err)
			}
		}
	}
	return nil
}

// OnEvict adapts the promoter to the window's plain on-evict hook.
// Promotion errors are logged, never propagated to the append path.
func (p *EvictionPromoter) OnEvict() func(evicted []ConversationTurn) {
	return func(evicted []ConversationTurn) {
		if err := p.Promote(context.Background(), evicted); err != nil {
			log.Printf("memory promotion failed: %v", err)
		}
	}
}
