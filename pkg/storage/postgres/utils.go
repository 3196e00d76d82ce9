package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/memtide/memtide-go/pkg/core"
)

// buildFilterClause builds a WHERE clause from search filters, numbering
// placeholders from startIndex. Expired entries are always excluded.
// Tag filters are not expressible against the JSONB column and are
// applied by the caller after scanning.
func buildFilterClause(filters core.SearchFilters, startIndex int) (string, []interface{}) {
	argIndex := startIndex
	conditions := []string{fmt.Sprintf("(expires_at IS NULL OR expires_at > $%d)", argIndex)}
	args := []interface{}{time.Now().UTC()}
	argIndex++

	if filters.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, filters.UserID)
		argIndex++
	}
	if filters.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", argIndex))
		args = append(args, filters.SessionID)
		argIndex++
	}
	if filters.MemoryType != "" {
		conditions = append(conditions, fmt.Sprintf("memory_type = $%d", argIndex))
		args = append(args, string(filters.MemoryType))
		argIndex++
	}
	if filters.CreatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argIndex))
		args = append(args, filters.CreatedAfter.UTC())
		argIndex++
	}
	if filters.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, filters.CreatedBefore.UTC())
		argIndex++
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}
