package mysql

import (
	"strings"
	"time"

	"github.com/memtide/memtide-go/pkg/core"
)

// buildFilterClause builds a WHERE clause from search filters. Expired
// entries are always excluded. Tag filters are not expressible against
// the JSON column and are applied by the caller after scanning.
func buildFilterClause(filters core.SearchFilters) (string, []interface{}) {
	conditions := []string{"(expires_at IS NULL OR expires_at > ?)"}
	args := []interface{}{time.Now().UTC()}

	if filters.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filters.UserID)
	}
	if filters.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, filters.SessionID)
	}
	if filters.MemoryType != "" {
		conditions = append(conditions, "memory_type = ?")
		args = append(args, string(filters.MemoryType))
	}
	if filters.CreatedAfter != nil {
		conditions = append(conditions, "created_at > ?")
		args = append(args, filters.CreatedAfter.UTC())
	}
	if filters.CreatedBefore != nil {
		conditions = append(conditions, "created_at < ?")
		args = append(args, filters.CreatedBefore.UTC())
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}
