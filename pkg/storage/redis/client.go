// Package redis persists memory entries in Redis.
//
// Each entry is stored as a JSON string under <prefix>:entry:<id>, with
// a set at <prefix>:ids indexing the stored ids. Entries never carry a
// Redis TTL: expiry belongs to the garbage collector, which must still
// be able to list expired entries.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/memtide/memtide-go/pkg/core"
)

// DefaultPrefix namespaces keys when the configuration names no prefix.
const DefaultPrefix = "memtide"

// Client implements the entry store interfaces on top of Redis.
type Client struct {
	rdb    *redis.Client
	prefix string
}

var (
	_ core.MemoryEntryStore        = (*Client)(nil)
	_ core.GarbageCollectableStore = (*Client)(nil)
	_ core.FilterableStore         = (*Client)(nil)
)

// Config contains Redis connection configuration.
type Config struct {
	// URL is a Redis connection URL, e.g. redis://localhost:6379/0.
	URL string

	// Prefix namespaces every key. Defaults to DefaultPrefix.
	Prefix string
}

// NewClient connects to Redis and verifies the connection.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, core.NewMemoryError("new_redis_store",
			fmt.Errorf("%w: connection url is required", core.ErrInvalidConfig))
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, core.NewMemoryError("new_redis_store", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, core.NewMemoryError("new_redis_store", err)
	}
	return &Client{rdb: rdb, prefix: cfg.Prefix}, nil
}

// entryKey returns the key holding one entry's JSON document.
func (c *Client) entryKey(id string) string {
	return c.prefix + ":entry:" + id
}

// idsKey returns the key of the set indexing stored entry ids.
func (c *Client) idsKey() string {
	return c.prefix + ":ids"
}

// Add persists an entry, replacing any stored entry with the same id.
func (c *Client) Add(ctx context.Context, entry *core.MemoryEntry) error {
	if entry == nil || entry.ID == "" {
		return core.NewMemoryError("add",
			fmt.Errorf("%w: entry with an id is required", core.ErrInvalidInput))
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return core.NewMemoryError("add", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.entryKey(entry.ID), raw, 0)
		pipe.SAdd(ctx, c.idsKey(), entry.ID)
		return nil
	})
	if err != nil {
		return core.NewMemoryError("add", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}
	return nil
}

// Get returns the entry with the given id, or ErrNotFound. Expired
// entries are still returned; expiry is enforced by search and listing.
func (c *Client) Get(ctx context.Context, id string) (*core.MemoryEntry, error) {
	raw, err := c.rdb.Get(ctx, c.entryKey(id)).Result()
	if err == redis.Nil {
		return nil, core.NewMemoryError("get",
			fmt.Errorf("%w: %q", core.ErrNotFound, id))
	}
	if err != nil {
		return nil, core.NewMemoryError("get", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}

	var entry core.MemoryEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, core.NewMemoryError("get", fmt.Errorf("parse entry: %w", err))
	}
	return &entry, nil
}

// Search returns non-expired entries whose content contains query,
// case-insensitively, ranked by relevance score descending.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]*core.MemoryEntry, error) {
	if topK <= 0 {
		topK = core.DefaultSearchLimit
	}

	all, err := c.loadAll(ctx, "search")
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var matches []*core.MemoryEntry
	for _, entry := range all {
		if entry.IsExpired() {
			continue
		}
		if strings.Contains(strings.ToLower(entry.Content), needle) {
			matches = append(matches, entry)
		}
	}
	sortByRelevance(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// ListAll returns every non-expired entry, oldest first.
func (c *Client) ListAll(ctx context.Context) ([]*core.MemoryEntry, error) {
	all, err := c.loadAll(ctx, "list_all")
	if err != nil {
		return nil, err
	}

	var live []*core.MemoryEntry
	for _, entry := range all {
		if !entry.IsExpired() {
			live = append(live, entry)
		}
	}
	return live, nil
}

// ListAllUnfiltered returns every entry including expired ones, for the
// garbage collector.
func (c *Client) ListAllUnfiltered(ctx context.Context) ([]*core.MemoryEntry, error) {
	return c.loadAll(ctx, "list_all_unfiltered")
}

// SearchFiltered returns non-expired entries matching every non-zero
// filter field, ranked by relevance score descending.
func (c *Client) SearchFiltered(ctx context.Context, filters core.SearchFilters) ([]*core.MemoryEntry, error) {
	all, err := c.loadAll(ctx, "search_filtered")
	if err != nil {
		return nil, err
	}

	var matched []*core.MemoryEntry
	for _, entry := range all {
		if entry.IsExpired() {
			continue
		}
		if filters.Matches(entry) {
			matched = append(matched, entry)
		}
	}
	sortByRelevance(matched)
	return matched, nil
}

// Delete removes an entry by id, reporting whether it existed.
func (c *Client) Delete(ctx context.Context, id string) (bool, error) {
	removed, err := c.rdb.Del(ctx, c.entryKey(id)).Result()
	if err != nil {
		return false, core.NewMemoryError("delete", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}
	if err := c.rdb.SRem(ctx, c.idsKey(), id).Err(); err != nil {
		return false, core.NewMemoryError("delete", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}
	return removed > 0, nil
}

// DeleteByUser removes every entry scoped to userID and returns the
// number removed.
func (c *Client) DeleteByUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, core.NewMemoryError("delete_by_user",
			fmt.Errorf("%w: user id is required", core.ErrInvalidInput))
	}

	all, err := c.loadAll(ctx, "delete_by_user")
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, entry := range all {
		if entry.UserID != userID {
			continue
		}
		removed, err := c.Delete(ctx, entry.ID)
		if err != nil {
			return deleted, err
		}
		if removed {
			deleted++
		}
	}
	return deleted, nil
}

// Clear removes every entry under the prefix.
func (c *Client) Clear(ctx context.Context) error {
	ids, err := c.rdb.SMembers(ctx, c.idsKey()).Result()
	if err != nil {
		return core.NewMemoryError("clear", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, c.entryKey(id))
	}
	keys = append(keys, c.idsKey())

	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return core.NewMemoryError("clear", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// loadAll fetches and decodes every indexed entry, oldest first. Ids
// whose document has vanished are skipped.
func (c *Client) loadAll(ctx context.Context, op string) ([]*core.MemoryEntry, error) {
	ids, err := c.rdb.SMembers(ctx, c.idsKey()).Result()
	if err != nil {
		return nil, core.NewMemoryError(op, fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.entryKey(id)
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, core.NewMemoryError(op, fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}

	var entries []*core.MemoryEntry
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var entry core.MemoryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, core.NewMemoryError(op, fmt.Errorf("parse entry: %w", err))
		}
		entries = append(entries, &entry)
	}

	// SMEMBERS order is arbitrary; impose a stable one.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// sortByRelevance orders entries by relevance score descending, keeping
// the prior order among equal scores.
func sortByRelevance(entries []*core.MemoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].RelevanceScore > entries[j].RelevanceScore
	})
}
