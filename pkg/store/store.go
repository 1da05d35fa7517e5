package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// Store wraps a SQLite connection treated as exclusively owned by a single
// thread of execution. Tables are created lazily from the records that
// arrive, there is no fixed schema to bootstrap.
type Store struct {
	db *sqlx.DB
}

// DSN builds a connection string for a database file path.
func DSN(path string) string {
	return "file:" + path + "?cache=shared&mode=rwc&_txlock=immediate"
}

// Open connects to the database and applies the usual SQLite tuning.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000", // 5 second timeout for locks
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying sqlx.DB connection for direct access if needed.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// HasTable reports whether the named table exists.
func (s *Store) HasTable(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return count > 0, nil
}

// CountItems returns the number of stored items, zero when the items table
// does not exist yet.
func (s *Store) CountItems(ctx context.Context) (int, error) {
	ok, err := s.HasTable(ctx, "items")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM items"); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

// TableColumns returns the column names of a table in declaration order.
func (s *Store) TableColumns(ctx context.Context, table string) ([]string, error) {
	var cols []string
	err := s.db.SelectContext(ctx, &cols,
		`SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("table info for %s: %w", table, err)
	}
	return cols, nil
}

// TableRows returns all rows of a table in storage order.
func (s *Store) TableRows(ctx context.Context, table string) ([]map[string]any, error) {
	quoted, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM "+quoted)
	if err != nil {
		return nil, fmt.Errorf("query table %s: %w", table, err)
	}
	defer rows.Close()
	return scanMaps(rows)
}

// inTx executes a function within a database transaction.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w (rollback also failed: %s)", err, rbErr.Error())
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// scanMaps drains result rows into generic maps, with []byte values
// converted to strings for callers that compare or serialize them.
func scanMaps(rows *sqlx.Rows) ([]map[string]any, error) {
	var result []map[string]any
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// quoteIdent quotes a table or column name coming from outside the code,
// either from CLI arguments or from record keys of the source API.
func quoteIdent(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "\"`[];") {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}

// errCritical matches errors wrapped in criticalError, signaling repeater
// to stop retrying.
var errCritical = errors.New("critical error")

// criticalError marks an error that must not be retried.
type criticalError struct {
	err error
}

func (e *criticalError) Error() string        { return e.err.Error() }
func (e *criticalError) Unwrap() error        { return e.err }
func (e *criticalError) Is(target error) bool { return target == errCritical }

// isLockError checks if an error is a SQLite lock/busy error
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked")
}
