// Package mysql persists memory entries in MySQL or any MySQL-protocol
// compatible database.
//
// List-valued fields (tags, links, source turns) and metadata are
// stored as JSON columns, and substring search runs inside the
// database.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/memtide/memtide-go/pkg/core"
)

// DefaultTable is the table used when the configuration names none.
const DefaultTable = "entries"

// entryColumns is the column list shared by every SELECT.
const entryColumns = `id, content, content_hash, memory_type, tags, links,
	source_turns, metadata, relevance_score, access_count,
	created_at, updated_at, last_accessed, expires_at, user_id, session_id`

// Client implements the entry store interfaces on top of MySQL.
type Client struct {
	db    *sql.DB
	table string
}

var (
	_ core.MemoryEntryStore        = (*Client)(nil)
	_ core.GarbageCollectableStore = (*Client)(nil)
	_ core.FilterableStore         = (*Client)(nil)
)

// Config contains MySQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	Table    string
}

// NewClient connects to MySQL and ensures the entries table exists.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, core.NewMemoryError("new_mysql_store",
			fmt.Errorf("%w: host is required", core.ErrInvalidConfig))
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, core.NewMemoryError("new_mysql_store", err)
	}
	if err := db.Ping(); err != nil {
		return nil, core.NewMemoryError("new_mysql_store", err)
	}

	client := &Client{db: db, table: cfg.Table}
	if err := client.initSchema(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

// initSchema creates the entries table with its scope index.
func (c *Client) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			content LONGTEXT NOT NULL,
			content_hash VARCHAR(64) NOT NULL,
			memory_type VARCHAR(32) NOT NULL,
			tags JSON,
			links JSON,
			source_turns JSON,
			metadata JSON,
			relevance_score DOUBLE NOT NULL DEFAULT 0.5,
			access_count INT NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			last_accessed DATETIME(6) NULL,
			expires_at DATETIME(6) NULL,
			user_id VARCHAR(128) NOT NULL DEFAULT '',
			session_id VARCHAR(128) NOT NULL DEFAULT '',
			INDEX idx_user_session (user_id, session_id)
		)
	`, c.table)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return core.NewMemoryError("new_mysql_store", fmt.Errorf("init schema: %w", err))
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			content = VALUES(content),
			content_hash = VALUES(content_hash),
			memory_type = VALUES(memory_type),
			tags = VALUES(tags),
			links = VALUES(links),
			source_turns = VALUES(source_turns),
			metadata = VALUES(metadata),
			relevance_score = VALUES(relevance_score),
			access_count = VALUES(access_count),
			created_at = VALUES(created_at),
			updated_at = VALUES(updated_at),
			last_accessed = VALUES(last_accessed),
			expires_at = VALUES(expires_at),
			user_id = VALUES(user_id),
			session_id = VALUES(session_id)
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
		  AND INSTR(LOWER(content), LOWER(?)) > 0
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
