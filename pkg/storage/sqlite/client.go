// Package sqlite persists memory entries in a SQLite database.
//
// SQLite is a lightweight, file-based database suitable for local
// development and small-scale deployments. List-valued fields (tags,
// links, source turns) and metadata are stored as JSON strings in TEXT
// columns, and substring search runs inside the database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/memtide/memtide-go/pkg/core"
)

// DefaultTable is the table used when the configuration names none.
const DefaultTable = "entries"

// entryColumns is the column list shared by every SELECT.
const entryColumns = `id, content, content_hash, memory_type, tags, links,
	source_turns, metadata, relevance_score, access_count,
	created_at, updated_at, last_accessed, expires_at, user_id, session_id`

// Client implements the entry store interfaces on top of SQLite.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// table is the name of the table storing entries.
	table string
}

var (
	_ core.MemoryEntryStore        = (*Client)(nil)
	_ core.GarbageCollectableStore = (*Client)(nil)
	_ core.FilterableStore         = (*Client)(nil)
)

// Config contains configuration for creating a SQLite store.
type Config struct {
	// Path is the path to the SQLite database file.
	Path string

	// Table is the name of the table to use. Defaults to DefaultTable.
	Table string
}

// NewClient opens (creating if necessary) the SQLite database at
// cfg.Path and ensures the entries table exists.
//
// Example:
//
//	store, err := sqlite.NewClient(sqlite.Config{Path: "memories.db"})
func NewClient(cfg Config) (*Client, error) {
	if cfg.Path == "" {
		return nil, core.NewMemoryError("new_sqlite_store",
			fmt.Errorf("%w: database path is required", core.ErrInvalidConfig))
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}

	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, core.NewMemoryError("new_sqlite_store",
				fmt.Errorf("create directory: %w", err))
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, core.NewMemoryError("new_sqlite_store", err)
	}
	if err := db.Ping(); err != nil {
		return nil, core.NewMemoryError("new_sqlite_store", err)
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
			tags TEXT,
			links TEXT,
			source_turns TEXT,
			metadata TEXT,
			relevance_score REAL NOT NULL DEFAULT 0.5,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			last_accessed DATETIME,
			expires_at DATETIME,
			user_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT ''
		)
	`, c.table)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return core.NewMemoryError("new_sqlite_store", fmt.Errorf("init schema: %w", err))
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_user_session ON %s(user_id, session_id)
	`, c.table, c.table)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return core.NewMemoryError("new_sqlite_store", fmt.Errorf("init schema: %w", err))
	}
	return nil
}

// Add persists an entry, replacing any stored entry with the same id.
func (c *Client) Add(ctx context.Context, entry *core.MemoryEntry) error {
	if entry == nil || entry.ID == "" {
		return core.NewMemoryError("add",
			fmt.Errorf("%w: entry with an id is required", core.ErrInvalidInput))
	}

	cols, err := encodeListColumns(entry)
	if err != nil {
		return core.NewMemoryError("add", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, content, content_hash, memory_type, tags, links, source_turns, metadata,
		 relevance_score, access_count, created_at, updated_at, last_accessed, expires_at,
		 user_id, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			content_hash = excluded.content_hash,
			memory_type = excluded.memory_type,
			tags = excluded.tags,
			links = excluded.links,
			source_turns = excluded.source_turns,
			metadata = excluded.metadata,
			relevance_score = excluded.relevance_score,
			access_count = excluded.access_count,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_accessed = excluded.last_accessed,
			expires_at = excluded.expires_at,
			user_id = excluded.user_id,
			session_id = excluded.session_id
	`, c.table)

	_, err = c.db.ExecContext(ctx, query,
		entry.ID,
		entry.Content,
		entry.ContentHash,
		string(entry.MemoryType),
		cols.tags,
		cols.links,
		cols.sourceTurns,
		cols.metadata,
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
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", entryColumns, c.table)
	row := c.db.QueryRowContext(ctx, query, id)

	entry, err := scanEntry(row)
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
		WHERE (expires_at IS NULL OR expires_at > ?)
		  AND instr(lower(content), lower(?)) > 0
		ORDER BY relevance_score DESC, created_at ASC, id ASC
		LIMIT ?
	`, entryColumns, c.table)

	return c.queryEntries(ctx, "search", stmt, time.Now().UTC(), query, topK)
}

// ListAll returns every non-expired entry, oldest first.
func (c *Client) ListAll(ctx context.Context) ([]*core.MemoryEntry, error) {
	stmt := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE expires_at IS NULL OR expires_at > ?
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
// applied after the scan since tags live in a JSON column.
func (c *Client) SearchFiltered(ctx context.Context, filters core.SearchFilters) ([]*core.MemoryEntry, error) {
	whereClause, args := buildFilterClause(filters)

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
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.table)

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

	query := fmt.Sprintf("DELETE FROM %s WHERE user_id = ?", c.table)
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
		entry, err := scanEntry(rows)
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

// scanEntry scans an entry from a database row or rows.
func scanEntry(scanner interface{}) (*core.MemoryEntry, error) {
	var entry core.MemoryEntry
	var memoryType string
	var tags, links, sourceTurns, metadata sql.NullString
	var lastAccessed, expiresAt sql.NullTime

	dest := []interface{}{
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
	}

	var err error
	switch s := scanner.(type) {
	case *sql.Row:
		err = s.Scan(dest...)
	case *sql.Rows:
		err = s.Scan(dest...)
	default:
		return nil, fmt.Errorf("unsupported scanner type")
	}
	if err != nil {
		return nil, err
	}

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
	return &entry, nil
}

// listColumns holds the JSON-encoded list-valued columns of an entry.
type listColumns struct {
	tags        string
	links       string
	sourceTurns string
	metadata    string
}

// encodeListColumns marshals the entry's list-valued fields for storage.
func encodeListColumns(entry *core.MemoryEntry) (listColumns, error) {
	var cols listColumns
	var err error
	if cols.tags, err = encodeJSON(entry.Tags); err != nil {
		return cols, fmt.Errorf("encode tags: %w", err)
	}
	if cols.links, err = encodeJSON(entry.Links); err != nil {
		return cols, fmt.Errorf("encode links: %w", err)
	}
	if cols.sourceTurns, err = encodeJSON(entry.SourceTurns); err != nil {
		return cols, fmt.Errorf("encode source turns: %w", err)
	}
	if cols.metadata, err = encodeJSON(entry.Metadata); err != nil {
		return cols, fmt.Errorf("encode metadata: %w", err)
	}
	return cols, nil
}

func encodeJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decodeJSONColumn unmarshals a nullable JSON column into target.
func decodeJSONColumn(col sql.NullString, target interface{}) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), target)
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
