// Package postgres persists memory entries in PostgreSQL.
//
// List-valued fields (tags, links, source turns) and metadata are
// stored as JSONB, timestamps as TIMESTAMPTZ, and substring search runs
// inside the database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/memtide/memtide-go/pkg/core"
)

// DefaultTable is the table used when the configuration names none.
const DefaultTable = "entries"

// entryColumns is the column list shared by every SELECT.
const entryColumns = `id, content, content_hash, memory_type, tags, links,
	source_turns, metadata, relevance_score, access_count,
	created_at, updated_at, last_accessed, expires_at, user_id, session_id`

// Client implements the entry store interfaces on top of PostgreSQL.
type Client struct {
	db    *sql.DB
	table string
}

var (
	_ core.MemoryEntryStore        = (*Client)(nil)
	_ core.GarbageCollectableStore = (*Client)(nil)
	_ core.FilterableStore         = (*Client)(nil)
)

// Config contains PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	Table    string
	SSLMode  string
}

// NewClient connects to PostgreSQL and ensures the entries table exists.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, core.NewMemoryError("new_postgres_store",
			fmt.Errorf("%w: host is required", core.ErrInvalidConfig))
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, core.NewMemoryError("new_postgres_store", err)
	}
	if err := db.Ping(); err != nil {
		return nil, core.NewMemoryError("new_postgres_store", err)
	}

	client := &Client{db: db, table: cfg.Table}
	if err := client.initSchema(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

// initSchema creates the entries table and its scope index.
func (c *Client) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			tags JSONB,
			links JSONB,
			source_turns JSONB,
			metadata JSONB,
			relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			last_accessed TIMESTAMPTZ,
			expires_at TIMESTAMPTZ,
			user_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT ''
		)
	`, c.table)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return core.NewMemoryError("new_postgres_store", fmt.Errorf("init schema: %w", err))
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_user_session ON %s(user_id, session_id)
	`, c.table, c.table)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return core.NewMemoryError("new_postgres_store", fmt.Errorf("init schema: %w", err))
	}
	return nil
}

// Add persists an entry, replacing any stored entry with the same id.
func (c *Client) Add(ctx context.Context, entry *core.MemoryEntry) error {
	if entry == nil || entry.ID == "" {
		return core.NewMemoryError("add",
			fmt.Errorf("%w: entry with an id is required", core.ErrInvalidInput))
	}

	tags, links, sourceTurns, metadata, err := encodeJSONColumns(entry)
	if err != nil {
		return core.NewMemoryError("add", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, content, content_hash, memory_type, tags, links, source_turns, metadata,
		 relevance_score, access_count, created_at, updated_at, last_accessed, expires_at,
		 user_id, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			memory_type = EXCLUDED.memory_type,
			tags = EXCLUDED.tags,
			links = EXCLUDED.links,
			source_turns = EXCLUDED.source_turns,
			metadata = EXCLUDED.metadata,
			relevance_score = EXCLUDED.relevance_score,
			access_count = EXCLUDED.access_count,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			last_accessed = EXCLUDED.last_accessed,
			expires_at = EXCLUDED.expires_at,
			user_id = EXCLUDED.user_id,
			session_id = EXCLUDED.session_id
	`, c.table)

	_, err = c.db.ExecContext(ctx, query,
		entry.ID,
		entry.Content,
		entry.ContentHash,
		string(entry.MemoryType),
		tags,
		links,
		sourceTurns,
		metadata,
		entry.RelevanceScore,
		entry.AccessCount,
		entry.CreatedAt.UTC(),
		entry.UpdatedAt.UTC(),
		nullableTime(entry.LastAccessed),
		nullableTimePtr(entry.ExpiresAt),
		entry.UserID,
		entry.SessionID,
	)
	if err != nil {
		return core.NewMemoryError("add", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}
	return nil
}

// Get returns the entry with the given id, or ErrNotFound. Expired
// entries are still returned; expiry is enforced by search and listing.
func (c *Client) Get(ctx context.Context, id string) (*core.MemoryEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", entryColumns, c.table)
	row := c.db.QueryRowContext(ctx, query, id)

	entry, err := scanEntryRow(row)
	if err == sql.ErrNoRows {
		return nil, core.NewMemoryError("get",
			fmt.Errorf("%w: %q", core.ErrNotFound, id))
	}
	if err != nil {
		return nil, core.NewMemoryError("get", err)
	}
	return entry, nil
}

// Search returns non-expired entries whose content contains query,
// case-insensitively, ranked by relevance score descending.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]*core.MemoryEntry, error) {
	if topK <= 0 {
		topK = core.DefaultSearchLimit
	}

	stmt := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE (expires_at IS NULL OR expires_at > $1)
		  AND strpos(lower(content), lower($2)) > 0
		ORDER BY relevance_score DESC, created_at ASC, id ASC
		LIMIT $3
	`, entryColumns, c.table)

	return c.queryEntries(ctx, "search", stmt, time.Now().UTC(), query, topK)
}

// ListAll returns every non-expired entry, oldest first.
func (c *Client) ListAll(ctx context.Context) ([]*core.MemoryEntry, error) {
	stmt := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE expires_at IS NULL OR expires_at > $1
		ORDER BY created_at ASC, id ASC
	`, entryColumns, c.table)

	return c.queryEntries(ctx, "list_all", stmt, time.Now().UTC())
}

// ListAllUnfiltered returns every entry including expired ones, for the
// garbage collector.
func (c *Client) ListAllUnfiltered(ctx context.Context) ([]*core.MemoryEntry, error) {
	stmt := fmt.Sprintf(`
		SELECT %s FROM %s
		ORDER BY created_at ASC, id ASC
	`, entryColumns, c.table)

	return c.queryEntries(ctx, "list_all_unfiltered", stmt)
}

// SearchFiltered returns non-expired entries matching every non-zero
// filter field, ranked by relevance score descending. Tag filters are
// applied after the scan since tags live in a JSONB column.
func (c *Client) SearchFiltered(ctx context.Context, filters core.SearchFilters) ([]*core.MemoryEntry, error) {
	whereClause, args := buildFilterClause(filters, 1)

	stmt := fmt.Sprintf(`
		SELECT %s FROM %s
		%s
		ORDER BY relevance_score DESC, created_at ASC, id ASC
	`, entryColumns, c.table, whereClause)

	entries, err := c.queryEntries(ctx, "search_filtered", stmt, args...)
	if err != nil {
		return nil, err
	}
	if len(filters.Tags) == 0 {
		return entries, nil
	}

	var matched []*core.MemoryEntry
	for _, entry := range entries {
		if filters.Matches(entry) {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

// Delete removes an entry by id, reporting whether it existed.
func (c *Client) Delete(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", c.table)

	result, err := c.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, core.NewMemoryError("delete", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, core.NewMemoryError("delete", err)
	}
	return affected > 0, nil
}

// DeleteByUser removes every entry scoped to userID and returns the
// number removed.
func (c *Client) DeleteByUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, core.NewMemoryError("delete_by_user",
			fmt.Errorf("%w: user id is required", core.ErrInvalidInput))
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE user_id = $1", c.table)
	result, err := c.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, core.NewMemoryError("delete_by_user", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, core.NewMemoryError("delete_by_user", err)
	}
	return int(affected), nil
}

// Clear removes every entry from the table.
func (c *Client) Clear(ctx context.Context) error {
	query := fmt.Sprintf("DELETE FROM %s", c.table)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return core.NewMemoryError("clear", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}
	return nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// queryEntries runs a SELECT over the entry columns and scans the rows.
func (c *Client) queryEntries(ctx context.Context, op, stmt string, args ...interface{}) ([]*core.MemoryEntry, error) {
	rows, err := c.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, core.NewMemoryError(op, fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}
	defer func() { _ = rows.Close() }()

	var entries []*core.MemoryEntry
	for rows.Next() {
		entry, err := scanEntryRows(rows)
		if err != nil {
			return nil, core.NewMemoryError(op, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewMemoryError(op, err)
	}
	return entries, nil
}

// scanEntryRow scans a single entry from a QueryRow result.
func scanEntryRow(row *sql.Row) (*core.MemoryEntry, error) {
	var entry core.MemoryEntry
	var memoryType string
	var tags, links, sourceTurns, metadata []byte
	var lastAccessed, expiresAt sql.NullTime

	err := row.Scan(
		&entry.ID,
		&entry.Content,
		&entry.ContentHash,
		&memoryType,
		&tags,
		&links,
		&sourceTurns,
		&metadata,
		&entry.RelevanceScore,
		&entry.AccessCount,
		&entry.CreatedAt,
		&entry.UpdatedAt,
		&lastAccessed,
		&expiresAt,
		&entry.UserID,
		&entry.SessionID,
	)
	if err != nil {
		return nil, err
	}
	return finishEntry(&entry, memoryType, tags, links, sourceTurns, metadata, lastAccessed, expiresAt)
}

// scanEntryRows scans one entry from an open rows cursor.
func scanEntryRows(rows *sql.Rows) (*core.MemoryEntry, error) {
	var entry core.MemoryEntry
	var memoryType string
	var tags, links, sourceTurns, metadata []byte
	var lastAccessed, expiresAt sql.NullTime

	err := rows.Scan(
		&entry.ID,
		&entry.Content,
		&entry.ContentHash,
		&memoryType,
		&tags,
		&links,
		&sourceTurns,
		&metadata,
		&entry.RelevanceScore,
		&entry.AccessCount,
		&entry.CreatedAt,
		&entry.UpdatedAt,
		&lastAccessed,
		&expiresAt,
		&entry.UserID,
		&entry.SessionID,
	)
	if err != nil {
		return nil, err
	}
	return finishEntry(&entry, memoryType, tags, links, sourceTurns, metadata, lastAccessed, expiresAt)
}

// finishEntry decodes the JSONB columns and nullable timestamps.
func finishEntry(entry *core.MemoryEntry, memoryType string, tags, links, sourceTurns, metadata []byte, lastAccessed, expiresAt sql.NullTime) (*core.MemoryEntry, error) {
	entry.MemoryType = core.MemoryType(memoryType)
	if err := decodeJSONColumn(tags, &entry.Tags); err != nil {
		return nil, fmt.Errorf("parse tags: %w", err)
	}
	if err := decodeJSONColumn(links, &entry.Links); err != nil {
		return nil, fmt.Errorf("parse links: %w", err)
	}
	if err := decodeJSONColumn(sourceTurns, &entry.SourceTurns); err != nil {
		return nil, fmt.Errorf("parse source turns: %w", err)
	}
	if err := decodeJSONColumn(metadata, &entry.Metadata); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if lastAccessed.Valid {
		entry.LastAccessed = lastAccessed.Time
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		entry.ExpiresAt = &t
	}
	return entry, nil
}

// encodeJSONColumns marshals the entry's list-valued fields for storage.
func encodeJSONColumns(entry *core.MemoryEntry) (tags, links, sourceTurns, metadata string, err error) {
	marshal := func(v interface{}, what string) (string, error) {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode %s: %w", what, err)
		}
		return string(raw), nil
	}
	if tags, err = marshal(entry.Tags, "tags"); err != nil {
		return
	}
	if links, err = marshal(entry.Links, "links"); err != nil {
		return
	}
	if sourceTurns, err = marshal(entry.SourceTurns, "source turns"); err != nil {
		return
	}
	metadata, err = marshal(entry.Metadata, "metadata")
	return
}

// decodeJSONColumn unmarshals a nullable JSONB column into target.
func decodeJSONColumn(raw []byte, target interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// nullableTimePtr maps a nil time pointer to NULL.
func nullableTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
