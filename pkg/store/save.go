package store

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"
)

// RecordSource is a pull iterator of raw item records, typically a
// pocket.Fetcher. Each record is written fully before the next one is
// requested, so a consumer stopping early never leaves a half-written row.
type RecordSource interface {
	Scan(ctx context.Context) bool
	Record() map[string]any
	Err() error
}

// Author is a contributor row extracted from a record.
type Author struct {
	ID   int64  `db:"author_id"`
	Name string `db:"name"`
	URL  string `db:"url"`
}

// itemAuthor is one row of the item-author join table.
type itemAuthor struct {
	AuthorID int64 `db:"author_id"`
	ItemID   int64 `db:"item_id"`
}

// SaveItems drains the source and persists every record with
// insert-or-replace semantics. Replaying the same input any number of
// times leaves the store in the same final state. A failing record aborts
// the run, the count of records written so far is returned either way.
func (s *Store) SaveItems(ctx context.Context, src RecordSource) (int, error) {
	count := 0
	for src.Scan(ctx) {
		rec := src.Record()
		if err := s.saveRecord(ctx, rec); err != nil {
			return count, fmt.Errorf("save item %v: %w", rec["item_id"], err)
		}
		count++
		if count%100 == 0 {
			log.Printf("[DEBUG] saved %d items", count)
		}
	}
	if err := src.Err(); err != nil {
		return count, err
	}
	return count, nil
}

// saveRecord normalizes one record and writes its authors, the item row
// and the join rows in a single transaction. BUSY errors are retried,
// anything else aborts.
func (s *Store) saveRecord(ctx context.Context, rec map[string]any) error {
	if err := Transform(rec); err != nil {
		return fmt.Errorf("normalize: %w", err)
	}

	itemID, err := toInt64(rec["item_id"])
	if err != nil {
		return fmt.Errorf("record has no usable item_id: %w", err)
	}

	authors, joins := extractAuthors(rec, itemID)

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	return retrier.Do(ctx, func() error {
		err := s.inTx(ctx, func(tx *sqlx.Tx) error {
			if len(authors) > 0 {
				if err := upsertAuthors(ctx, tx, authors); err != nil {
					return err
				}
			}
			if err := upsertItem(ctx, tx, rec); err != nil {
				return err
			}
			if len(joins) > 0 {
				return upsertItemAuthors(ctx, tx, joins)
			}
			return nil
		})
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: err}
		}
		return nil
	}, errCritical)
}

// extractAuthors pops the nested authors map off the record and converts
// it to author and join rows. A non-numeric author identifier doubles as
// the display name and gets a deterministic surrogate id, so the same
// string maps to the same row on every run.
func extractAuthors(rec map[string]any, itemID int64) ([]Author, []itemAuthor) {
	raw, ok := rec["authors"]
	if !ok {
		return nil, nil
	}
	delete(rec, "authors")

	byPosition, ok := raw.(map[string]any)
	if !ok || len(byPosition) == 0 {
		return nil, nil
	}

	// map iteration order is random, sort positions for stable writes
	positions := make([]string, 0, len(byPosition))
	for pos := range byPosition {
		positions = append(positions, pos)
	}
	sort.Strings(positions)

	var authors []Author
	var joins []itemAuthor
	for _, pos := range positions {
		details, ok := byPosition[pos].(map[string]any)
		if !ok {
			continue
		}

		author := Author{
			Name: asString(details["name"]),
			URL:  asString(details["url"]),
		}
		rawID := asString(details["author_id"])
		if id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64); err == nil {
			author.ID = id
		} else {
			author.ID = SurrogateAuthorID(rawID)
			author.Name = rawID
		}

		join := itemAuthor{AuthorID: author.ID, ItemID: itemID}
		if id, err := toInt64(details["item_id"]); err == nil {
			join.ItemID = id
		}

		authors = append(authors, author)
		joins = append(joins, join)
	}
	return authors, joins
}

func upsertAuthors(ctx context.Context, tx *sqlx.Tx, authors []Author) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS authors (
			author_id INTEGER PRIMARY KEY,
			name TEXT,
			url TEXT
		)`)
	if err != nil {
		return fmt.Errorf("create authors table: %w", err)
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO authors (author_id, name, url) VALUES (:author_id, :name, :url)
		ON CONFLICT (author_id) DO UPDATE SET name = excluded.name, url = excluded.url`,
		authors)
	if err != nil {
		return fmt.Errorf("upsert authors: %w", err)
	}
	return nil
}

func upsertItemAuthors(ctx context.Context, tx *sqlx.Tx, joins []itemAuthor) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS items_authors (
			author_id INTEGER REFERENCES authors(author_id),
			item_id INTEGER REFERENCES items(item_id),
			PRIMARY KEY (author_id, item_id)
		)`)
	if err != nil {
		return fmt.Errorf("create items_authors table: %w", err)
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO items_authors (author_id, item_id) VALUES (:author_id, :item_id)
		ON CONFLICT (author_id, item_id) DO NOTHING`,
		joins)
	if err != nil {
		return fmt.Errorf("upsert items_authors: %w", err)
	}
	return nil
}

// upsertItem writes the item row, widening the schema first when the
// record carries fields the table has not seen yet. On conflict the whole
// row is replaced: columns absent from the record reset to NULL. A plain
// INSERT OR REPLACE would do the same but its delete-then-insert breaks
// foreign keys from the join table.
func upsertItem(ctx context.Context, tx *sqlx.Tx, rec map[string]any) error {
	cols, err := itemColumns(rec)
	if err != nil {
		return err
	}

	tableCols, err := ensureItemColumns(ctx, tx, cols, rec)
	if err != nil {
		return err
	}

	quoted := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		q, err := quoteIdent(col)
		if err != nil {
			return err
		}
		quoted[i] = q
		if args[i], err = sqlValue(rec[col]); err != nil {
			return fmt.Errorf("column %s: %w", col, err)
		}
	}

	inRecord := make(map[string]bool, len(cols))
	for _, col := range cols {
		inRecord[col] = true
	}
	var updates []string
	for _, col := range tableCols {
		if col == "item_id" {
			continue
		}
		q, err := quoteIdent(col)
		if err != nil {
			return err
		}
		if inRecord[col] {
			updates = append(updates, q+" = excluded."+q)
		} else {
			updates = append(updates, q+" = NULL")
		}
	}

	query := fmt.Sprintf("INSERT INTO items (%s) VALUES (%s) ON CONFLICT (item_id) DO UPDATE SET %s",
		strings.Join(quoted, ", "),
		strings.TrimRight(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(updates, ", "))
	if len(updates) == 0 {
		query = fmt.Sprintf("INSERT INTO items (%s) VALUES (?) ON CONFLICT (item_id) DO NOTHING",
			quoted[0])
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

// itemColumns lists record keys with item_id first and the rest sorted,
// keeping generated DDL and inserts deterministic.
func itemColumns(rec map[string]any) ([]string, error) {
	if _, ok := rec["item_id"]; !ok {
		return nil, fmt.Errorf("record has no item_id")
	}
	cols := []string{"item_id"}
	rest := make([]string, 0, len(rec))
	for k := range rec {
		if k != "item_id" {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(cols, rest...), nil
}

// ensureItemColumns creates the items table on first use and alters it to
// add columns for previously unseen record fields. It returns the full
// column list of the table after widening.
func ensureItemColumns(ctx context.Context, tx *sqlx.Tx, cols []string, rec map[string]any) ([]string, error) {
	var existing []string
	err := tx.SelectContext(ctx, &existing, `SELECT name FROM pragma_table_info('items') ORDER BY cid`)
	if err != nil {
		return nil, fmt.Errorf("items table info: %w", err)
	}

	if len(existing) == 0 {
		defs := make([]string, 0, len(cols))
		for _, col := range cols {
			q, err := quoteIdent(col)
			if err != nil {
				return nil, err
			}
			if col == "item_id" {
				defs = append(defs, q+" INTEGER PRIMARY KEY")
				continue
			}
			defs = append(defs, q+" "+columnType(rec[col]))
		}
		ddl := "CREATE TABLE items (" + strings.Join(defs, ", ") + ")"
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("create items table: %w", err)
		}
		return cols, nil
	}

	known := make(map[string]bool, len(existing))
	for _, col := range existing {
		known[col] = true
	}
	for _, col := range cols {
		if known[col] {
			continue
		}
		q, err := quoteIdent(col)
		if err != nil {
			return nil, err
		}
		log.Printf("[DEBUG] adding column %s to items", col)
		ddl := fmt.Sprintf("ALTER TABLE items ADD COLUMN %s %s", q, columnType(rec[col]))
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("add column %s: %w", col, err)
		}
		existing = append(existing, col)
	}
	return existing, nil
}

// EnsureFTS creates the full-text index over item titles and excerpts,
// with triggers keeping it in sync with later direct writes. It is a
// no-op when the index already exists or the items table does not.
func (s *Store) EnsureFTS(ctx context.Context) error {
	hasFTS, err := s.HasTable(ctx, "items_fts")
	if err != nil {
		return err
	}
	if hasFTS {
		return nil
	}
	hasItems, err := s.HasTable(ctx, "items")
	if err != nil {
		return err
	}
	if !hasItems {
		return nil
	}

	cols, err := s.TableColumns(ctx, "items")
	if err != nil {
		return err
	}
	indexed := map[string]bool{}
	for _, c := range cols {
		indexed[c] = true
	}
	if !indexed["resolved_title"] || !indexed["excerpt"] {
		log.Printf("[WARN] items table has no resolved_title/excerpt columns, skipping full-text index")
		return nil
	}

	statements := []string{
		`CREATE VIRTUAL TABLE items_fts USING fts5(
			resolved_title,
			excerpt,
			content='items',
			content_rowid='item_id'
		)`,
		`INSERT INTO items_fts (rowid, resolved_title, excerpt)
			SELECT item_id, resolved_title, excerpt FROM items`,
		`CREATE TRIGGER items_ai AFTER INSERT ON items BEGIN
			INSERT INTO items_fts (rowid, resolved_title, excerpt)
				VALUES (new.item_id, new.resolved_title, new.excerpt);
		END`,
		`CREATE TRIGGER items_ad AFTER DELETE ON items BEGIN
			INSERT INTO items_fts (items_fts, rowid, resolved_title, excerpt)
				VALUES ('delete', old.item_id, old.resolved_title, old.excerpt);
		END`,
		`CREATE TRIGGER items_au AFTER UPDATE ON items BEGIN
			INSERT INTO items_fts (items_fts, rowid, resolved_title, excerpt)
				VALUES ('delete', old.item_id, old.resolved_title, old.excerpt);
			INSERT INTO items_fts (rowid, resolved_title, excerpt)
				VALUES (new.item_id, new.resolved_title, new.excerpt);
		END`,
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create full-text index: %w", err)
			}
		}
		log.Printf("[INFO] created full-text index on items")
		return nil
	})
}
