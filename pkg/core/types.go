// Package core provides the conversation window orchestrator, memory value
// types, store interfaces, and the memory manager facade.
package core

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser marks a turn authored by the end user.
	RoleUser Role = "user"

	// RoleAssistant marks a turn authored by the assistant.
	RoleAssistant Role = "assistant"

	// RoleSystem marks an instruction or status turn.
	RoleSystem Role = "system"

	// RoleTool marks output produced by a tool invocation.
	RoleTool Role = "tool"
)

// MemoryType classifies memory entries by cognitive type.
type MemoryType string

const (
	// MemoryTypeSemantic is general factual knowledge ("user prefers dark mode").
	MemoryTypeSemantic MemoryType = "semantic"

	// MemoryTypeEpisodic is a specific event or experience.
	MemoryTypeEpisodic MemoryType = "episodic"

	// MemoryTypeProcedural is how-to knowledge.
	MemoryTypeProcedural MemoryType = "procedural"

	// MemoryTypeConversation is raw conversational content.
	MemoryTypeConversation MemoryType = "conversation"
)

// SourceType identifies where a context item originated.
type SourceType string

const (
	// SourceRetrieval marks items produced by document retrieval.
	SourceRetrieval SourceType = "retrieval"

	// SourceMemory marks items projected from persistent memory entries.
	SourceMemory SourceType = "memory"

	// SourceSystem marks system-level items.
	SourceSystem SourceType = "system"

	// SourceUser marks items authored directly by the user.
	SourceUser SourceType = "user"

	// SourceTool marks items produced by tool output.
	SourceTool SourceType = "tool"

	// SourceConversation marks items projected from the live conversation window.
	SourceConversation SourceType = "conversation"
)

// ConversationTurn is a single turn in a conversation.
//
// Turns are immutable values. A turn is owned by the sliding window that
// appended it until the moment it is evicted; the eviction batch then
// transfers ownership to whatever consumes it (compaction, promotion,
// callbacks).
type ConversationTurn struct {
	// ID is a time-ordered unique identifier assigned by the window when
	// the turn is appended. Empty for turns never owned by a window.
	ID string `json:"id"`

	// Role identifies the author of the turn.
	Role Role `json:"role"`

	// Content is the text content of the turn.
	Content string `json:"content"`

	// TokenCount is the token cost of Content as measured by the
	// window's tokenizer. Never negative.
	TokenCount int `json:"token_count"`

	// Metadata contains additional structured information about the turn.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Timestamp is when the turn entered the conversation.
	Timestamp time.Time `json:"timestamp"`
}

// MemoryEntry is the durable unit of long-term memory.
//
// Entries are immutable: every update produces a replacement value rather
// than mutating in place. Lifecycle: created by extraction or a direct
// call, consolidated against the existing store, optionally touched on
// retrieval, decays over time, and is finally pruned by the garbage
// collector or deleted explicitly.
type MemoryEntry struct {
	// ID is the unique identifier of the entry (a UUID unless supplied).
	ID string `json:"id"`

	// Content is the text content of the memory.
	Content string `json:"content"`

	// ContentHash is a deterministic hash of Content, auto-derived at
	// construction unless explicitly overridden. Identical content with
	// no override always yields an identical hash.
	ContentHash string `json:"content_hash"`

	// MemoryType classifies the entry. Defaults to MemoryTypeSemantic.
	MemoryType MemoryType `json:"memory_type"`

	// Tags are free-form labels with ordered-set semantics.
	Tags []string `json:"tags,omitempty"`

	// Links holds ids of related entries. Links are weak references,
	// not ownership: a linked entry may be pruned independently.
	Links []string `json:"links,omitempty"`

	// SourceTurns records the ids or timestamps of the conversation
	// turns this entry was extracted from.
	SourceTurns []string `json:"source_turns,omitempty"`

	// Metadata contains additional structured information.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// RelevanceScore is the entry's standing relevance in [0, 1].
	// Defaults to 0.5.
	RelevanceScore float64 `json:"relevance_score"`

	// AccessCount is the number of times the entry has been touched.
	AccessCount int `json:"access_count"`

	// CreatedAt is when the entry was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the entry was last replaced by an update.
	UpdatedAt time.Time `json:"updated_at"`

	// LastAccessed is when the entry was last touched. Decay scoring
	// measures elapsed time from this instant.
	LastAccessed time.Time `json:"last_accessed"`

	// ExpiresAt is an optional hard expiry. Nil means the entry never
	// expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// UserID optionally scopes the entry to a user.
	UserID string `json:"user_id,omitempty"`

	// SessionID optionally scopes the entry to a session.
	SessionID string `json:"session_id,omitempty"`
}

// computeContentHash returns the MD5 hex digest of content, used for
// exact-duplicate detection during consolidation.
func computeContentHash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NewMemoryEntry creates a memory entry with generated defaults: a UUID
// id, a derived content hash, semantic memory type, relevance 0.5, and
// all timestamps set to now.
//
// Example:
//
//	entry := core.NewMemoryEntry("User prefers dark mode",
//	    core.WithTags("preference", "ui"),
//	    core.WithMemoryType(core.MemoryTypeSemantic),
//	)
func NewMemoryEntry(content string, opts ...EntryOption) *MemoryEntry {
	now := time.Now()
	entry := &MemoryEntry{
		ID:             uuid.New().String(),
		Content:        content,
		MemoryType:     MemoryTypeSemantic,
		Metadata:       make(map[string]interface{}),
		RelevanceScore: 0.5,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessed:   now,
	}
	for _, opt := range opts {
		opt(entry)
	}
	if entry.ContentHash == "" {
		entry.ContentHash = computeContentHash(entry.Content)
	}
	entry.RelevanceScore = clamp01(entry.RelevanceScore)
	return entry
}

// Touch returns a copy of the entry with AccessCount incremented and
// LastAccessed refreshed. The receiver is not modified.
func (e *MemoryEntry) Touch() *MemoryEntry {
	touched := e.Clone()
	touched.AccessCount = e.AccessCount + 1
	touched.LastAccessed = time.Now()
	return touched
}

// IsExpired reports whether the entry's expiry instant has passed.
// Entries without an ExpiresAt never expire; the boundary instant itself
// is not expired.
func (e *MemoryEntry) IsExpired() bool {
	if e.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*e.ExpiresAt)
}

// Clone returns a copy of the entry with its own tag, link, source-turn,
// and metadata storage, so the copy can be modified without aliasing the
// original.
func (e *MemoryEntry) Clone() *MemoryEntry {
	clone := *e
	clone.Tags = append([]string(nil), e.Tags...)
	clone.Links = append([]string(nil), e.Links...)
	clone.SourceTurns = append([]string(nil), e.SourceTurns...)
	if e.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	if e.ExpiresAt != nil {
		expires := *e.ExpiresAt
		clone.ExpiresAt = &expires
	}
	return &clone
}

// GCStats reports the outcome of one garbage collection run. It is pure
// point-in-time data, recomputed per call and never persisted.
type GCStats struct {
	// ExpiredPruned is the number of entries pruned because they were
	// expired.
	ExpiredPruned int `json:"expired_pruned"`

	// DecayPruned is the number of entries pruned because their
	// retention score fell below the threshold.
	DecayPruned int `json:"decay_pruned"`

	// TotalRemaining is the number of entries in the store after the
	// run, re-queried from the store. On a dry run nothing is deleted,
	// so this reports the pre-collection total.
	TotalRemaining int `json:"total_remaining"`

	// DryRun records whether the run identified candidates without
	// deleting them.
	DryRun bool `json:"dry_run"`
}

// TotalPruned returns the combined count of pruned entries across both
// phases.
func (s GCStats) TotalPruned() int {
	return s.ExpiredPruned + s.DecayPruned
}

// ContextItem is a single unit of context ready for an external
// token-budget packer. Items carry a source marker, a score in [0, 1]
// (recency for conversation items, relevance for memory items), and a
// packing priority.
type ContextItem struct {
	// ID is the unique identifier of the item.
	ID string `json:"id"`

	// Content is the text content of the item.
	Content string `json:"content"`

	// Source identifies where the item originated.
	Source SourceType `json:"source"`

	// Score is the recency or relevance signal in [0, 1].
	Score float64 `json:"score"`

	// Priority is the packing priority. Live conversation items use 7,
	// rolling summaries 6, persistent memory entries 8.
	Priority int `json:"priority"`

	// TokenCount is the token cost of Content.
	TokenCount int `json:"token_count"`

	// Metadata contains additional structured information.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the underlying content was produced.
	CreatedAt time.Time `json:"created_at"`
}

// NewContextItem builds a context item with a generated id.
func NewContextItem(content string, source SourceType, score float64, priority, tokenCount int, metadata map[string]interface{}, createdAt time.Time) ContextItem {
	return ContextItem{
		ID:         uuid.New().String(),
		Content:    content,
		Source:     source,
		Score:      score,
		Priority:   priority,
		TokenCount: tokenCount,
		Metadata:   metadata,
		CreatedAt:  createdAt,
	}
}

// ConsolidationAction is the decision a consolidator prescribes for one
// new entry.
type ConsolidationAction string

const (
	// ActionAdd appends the entry to the store as new.
	ActionAdd ConsolidationAction = "add"

	// ActionUpdate replaces an existing entry with a merged result.
	ActionUpdate ConsolidationAction = "update"

	// ActionDelete removes an existing entry. The similarity
	// consolidator never emits it; the action exists for custom
	// consolidators.
	ActionDelete ConsolidationAction = "delete"

	// ActionNone skips the entry, typically an exact duplicate.
	ActionNone ConsolidationAction = "none"
)

// ConsolidationResult pairs a consolidation decision with the entry it
// applies to. Entry is nil for ActionNone.
type ConsolidationResult struct {
	Action ConsolidationAction
	Entry  *MemoryEntry
}

// clamp01 bounds v to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
