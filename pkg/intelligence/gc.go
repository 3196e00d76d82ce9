package intelligence

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/memtide/memtide-go/pkg/core"
)

// DefaultRetentionThreshold is the retention score below which entries
// are pruned when no explicit threshold is given.
const DefaultRetentionThreshold = 0.1

// GCOption configures a garbage collector at construction.
type GCOption func(*gcConfig)

// gcConfig collects garbage collector construction options.
type gcConfig struct {
	decay     MemoryDecay
	callbacks *core.CallbackRegistry
}

// WithDecay enables the decay phase: entries whose retention falls
// below the collect threshold are pruned. Without a decay scorer only
// expired entries are collected.
func WithDecay(decay MemoryDecay) GCOption {
	return func(cfg *gcConfig) {
		cfg.decay = decay
	}
}

// WithGCCallbacks attaches an observer registry so prune batches are
// observable.
func WithGCCallbacks(registry *core.CallbackRegistry) GCOption {
	return func(cfg *gcConfig) {
		cfg.callbacks = registry
	}
}

// MemoryGarbageCollector prunes the store in two phases: hard expiry
// (ExpiresAt in the past) and, when a decay scorer is configured, decay
// (retention below threshold). Both phases work on one upfront
// snapshot, so an entry is counted in at most one phase per sweep.
//
// A mutex serializes sweeps: one collector instance never interleaves
// with itself, whether driven manually or by Start.
type MemoryGarbageCollector struct {
	store     core.GarbageCollectableStore
	decay     MemoryDecay
	callbacks *core.CallbackRegistry

	mu sync.Mutex
}

// NewGarbageCollector creates a collector over store.
//
// Example:
//
//	gc, err := intelligence.NewGarbageCollector(store,
//	    intelligence.WithDecay(decay),
//	)
//	stats, err := gc.Collect(ctx, intelligence.DefaultRetentionThreshold, false)
func NewGarbageCollector(store core.GarbageCollectableStore, opts ...GCOption) (*MemoryGarbageCollector, error) {
	if store == nil {
		return nil, core.NewMemoryError("new_garbage_collector",
			fmt.Errorf("%w: store is required", core.ErrInvalidConfig))
	}
	cfg := &gcConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &MemoryGarbageCollector{
		store:     store,
		decay:     cfg.decay,
		callbacks: cfg.callbacks,
	}, nil
}

// Collect runs one full sweep. With dryRun the candidates are
// identified and reported through the callbacks but nothing is
// deleted; TotalRemaining then reports the pre-collection total.
func (gc *MemoryGarbageCollector) Collect(ctx context.Context, threshold float64, dryRun bool) (core.GCStats, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	stats := core.GCStats{DryRun: dryRun}

	snapshot, err := gc.store.ListAllUnfiltered(ctx)
	if err != nil {
		return stats, core.NewMemoryError("collect", err)
	}

	expired := expiredCandidates(snapshot)
	if err := gc.prune(ctx, expired, dryRun); err != nil {
		return stats, err
	}
	if len(expired) > 0 {
		gc.callbacks.FireExpiryPrune(expired)
	}
	stats.ExpiredPruned = len(expired)

	if gc.decay != nil {
		decayed := gc.decayedCandidates(snapshot, threshold)
		if err := gc.prune(ctx, decayed, dryRun); err != nil {
			return stats, err
		}
		if len(decayed) > 0 {
			gc.callbacks.FireDecayPrune(decayed, threshold)
		}
		stats.DecayPruned = len(decayed)
	}

	remaining, err := gc.store.ListAllUnfiltered(ctx)
	if err != nil {
		return stats, core.NewMemoryError("collect", err)
	}
	stats.TotalRemaining = len(remaining)
	return stats, nil
}

// CollectExpired runs only the expiry phase and returns the pruned
// entries.
func (gc *MemoryGarbageCollector) CollectExpired(ctx context.Context, dryRun bool) ([]*core.MemoryEntry, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	snapshot, err := gc.store.ListAllUnfiltered(ctx)
	if err != nil {
		return nil, core.NewMemoryError("collect_expired", err)
	}
	expired := expiredCandidates(snapshot)
	if err := gc.prune(ctx, expired, dryRun); err != nil {
		return nil, err
	}
	if len(expired) > 0 {
		gc.callbacks.FireExpiryPrune(expired)
	}
	return expired, nil
}

// CollectDecayed runs only the decay phase and returns the pruned
// entries. It is an error to call it on a collector without a decay
// scorer.
func (gc *MemoryGarbageCollector) CollectDecayed(ctx context.Context, threshold float64, dryRun bool) ([]*core.MemoryEntry, error) {
	if gc.decay == nil {
		return nil, core.NewMemoryError("collect_decayed",
			fmt.Errorf("%w: no decay scorer configured", core.ErrInvalidConfig))
	}

	gc.mu.Lock()
	defer gc.mu.Unlock()

	snapshot, err := gc.store.ListAllUnfiltered(ctx)
	if err != nil {
		return nil, core.NewMemoryError("collect_decayed", err)
	}
	decayed := gc.decayedCandidates(snapshot, threshold)
	if err := gc.prune(ctx, decayed, dryRun); err != nil {
		return nil, err
	}
	if len(decayed) > 0 {
		gc.callbacks.FireDecayPrune(decayed, threshold)
	}
	return decayed, nil
}

// Start runs periodic sweeps at the given interval until ctx is done,
// using DefaultRetentionThreshold for the decay phase. Each sweep's
// stats are offered on the returned channel; stats nobody receives are
// dropped rather than stalling the sweeper. The channel closes when the
// sweeper stops.
func (gc *MemoryGarbageCollector) Start(ctx context.Context, interval time.Duration) <-chan core.GCStats {
	out := make(chan core.GCStats, 1)
	if interval <= 0 {
		log.Printf("memory gc not started: interval %v must be positive", interval)
		close(out)
		return out
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := gc.Collect(ctx, DefaultRetentionThreshold, false)
				if err != nil {
					log.Printf("memory gc sweep failed: %v", err)
					continue
				}
				select {
				case out <- stats:
				default:
				}
			}
		}
	}()
	return out
}

// prune deletes the candidates unless the sweep is a dry run.
func (gc *MemoryGarbageCollector) prune(ctx context.Context, candidates []*core.MemoryEntry, dryRun bool) error {
	if dryRun {
		return nil
	}
	for _, entry := range candidates {
		if _, err := gc.store.Delete(ctx, entry.ID); err != nil {
			return core.NewMemoryError("prune", err)
		}
	}
	return nil
}

// expiredCandidates filters the snapshot down to expired entries.
func expiredCandidates(snapshot []*core.MemoryEntry) []*core.MemoryEntry {
	var expired []*core.MemoryEntry
	for _, entry := range snapshot {
		if entry.IsExpired() {
			expired = append(expired, entry)
		}
	}
	return expired
}

// decayedCandidates filters the snapshot down to non-expired entries
// whose retention fell below threshold.
func (gc *MemoryGarbageCollector) decayedCandidates(snapshot []*core.MemoryEntry, threshold float64) []*core.MemoryEntry {
	var decayed []*core.MemoryEntry
	for _, entry := range snapshot {
		if entry.IsExpired() {
			continue
		}
		if gc.decay.Retention(entry) < threshold {
			decayed = append(decayed, entry)
		}
	}
	return decayed
}
