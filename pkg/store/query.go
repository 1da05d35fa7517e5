package store

import (
	"context"
	"fmt"
	"strings"
)

// NoLimit disables the row cap of an ItemFilter. It is distinct from a
// zero limit, which selects no rows at all.
const NoLimit = -1

// Item status values as stored by the source API.
const (
	StatusUnread   = 0
	StatusArchived = 1
	StatusDeleted  = 2
)

// ItemFilter selects stored items for export. Conditions combine with
// logical AND, results always come back ordered by item_id ascending.
type ItemFilter struct {
	Status   *int // exact status match when set
	Favorite bool // favorited items only
	Limit    int  // NoLimit for all rows
	Offset   int
}

func (f ItemFilter) whereClause() (string, []any) {
	var conds []string
	var args []any
	if f.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, *f.Status)
	}
	if f.Favorite {
		conds = append(conds, "favorite = 1")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// QueryItems returns item rows matching the filter.
func (s *Store) QueryItems(ctx context.Context, f ItemFilter) ([]map[string]any, error) {
	where, args := f.whereClause()
	query := "SELECT * FROM items" + where + " ORDER BY item_id LIMIT ? OFFSET ?"
	limit := f.Limit
	if limit < 0 {
		limit = -1 // SQLite reads a negative limit as unlimited
	}
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	return scanMaps(rows)
}

// CountFiltered returns the number of items matching the filter
// conditions, ignoring limit and offset.
func (s *Store) CountFiltered(ctx context.Context, f ItemFilter) (int, error) {
	where, args := f.whereClause()
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM items"+where, args...); err != nil {
		return 0, fmt.Errorf("count filtered items: %w", err)
	}
	return count, nil
}

// SearchItems runs a full-text query against the title/excerpt index.
// EnsureFTS must have created the index first.
func (s *Store) SearchItems(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT i.* FROM items i
		JOIN items_fts ON items_fts.rowid = i.item_id
		WHERE items_fts MATCH ?
		ORDER BY items_fts.rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	defer rows.Close()
	return scanMaps(rows)
}
