// Package export drives stored items to the destination bookmark service
// or to flat files. The API pump isolates per-item failures: one bad row
// never blocks the rest of the batch.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/microcosm-cc/bluemonday"

	"github.com/digithree/pocket-to-sqlite/pkg/karakeep"
	"github.com/digithree/pocket-to-sqlite/pkg/store"
)

// Outcome statuses, one Outcome is produced per filtered row.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusError   = "error"
	StatusPlanned = "planned" // dry run, would be exported
)

// ReasonNoURL marks items the destination cannot represent.
const ReasonNoURL = "no_url"

const (
	maxAttempts      = 6 // first try plus five retries
	defaultRetryBase = 3 * time.Second
	placeholderTitle = "Untitled"
)

// Outcome is the per-item result of an export attempt. It is streamed to
// the caller and never persisted.
type Outcome struct {
	ItemID     int64
	Status     string
	Reason     string // set for skipped items
	Message    string // set for failed items, carries the destination's code/message
	Title      string
	URL        string
	BookmarkID string // destination id on success
}

// Summary aggregates outcomes of one run.
type Summary struct {
	Exported int
	Planned  int
	Skipped  int
	Errors   int
}

// ItemSource provides stored items matching a filter.
type ItemSource interface {
	QueryItems(ctx context.Context, f store.ItemFilter) ([]map[string]any, error)
}

// Destination is the remote bookmark service.
type Destination interface {
	CreateBookmark(ctx context.Context, b karakeep.Bookmark) (*karakeep.CreatedBookmark, error)
	ListTags(ctx context.Context) ([]karakeep.Tag, error)
	AttachTags(ctx context.Context, bookmarkID string, tags []karakeep.TagRef) error
}

// Opts configures a pump.
type Opts struct {
	Filter    store.ItemFilter
	DryRun    bool          // resolve and report without any remote call
	RetryBase time.Duration // linear backoff base, defaulted when zero
}

// Pump reads filtered items from the store and writes them to the
// destination one at a time, with its own retry policy per item.
type Pump struct {
	source    ItemSource
	dest      Destination
	filter    store.ItemFilter
	dryRun    bool
	retryBase time.Duration
	sanitizer *bluemonday.Policy

	tags map[string]karakeep.Tag // lazy directory of destination tags by name
}

// New creates an export pump.
func New(source ItemSource, dest Destination, opts Opts) *Pump {
	retryBase := opts.RetryBase
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}
	return &Pump{
		source:    source,
		dest:      dest,
		filter:    opts.Filter,
		dryRun:    opts.DryRun,
		retryBase: retryBase,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Run exports every matching item, calling report for each outcome when
// set. It returns counts and the first fatal (non-per-item) error.
func (p *Pump) Run(ctx context.Context, report func(Outcome)) (*Summary, error) {
	rows, err := p.source.QueryItems(ctx, p.filter)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}

	sum := &Summary{}
	for _, row := range rows {
		out := p.exportRow(ctx, row)
		switch out.Status {
		case StatusSuccess:
			sum.Exported++
		case StatusPlanned:
			sum.Planned++
		case StatusSkipped:
			sum.Skipped++
		case StatusError:
			sum.Errors++
		}
		if report != nil {
			report(out)
		}
	}
	return sum, nil
}

// exportRow resolves one stored row and performs the remote write. All
// failures surface in the outcome, never as an error.
func (p *Pump) exportRow(ctx context.Context, row map[string]any) Outcome {
	out := Outcome{ItemID: itemID(row)}

	out.Title = firstString(row["resolved_title"], row["given_title"])
	if out.Title == "" {
		out.Title = placeholderTitle
	}
	out.URL = firstString(row["resolved_url"], row["given_url"])
	if out.URL == "" {
		out.Status = StatusSkipped
		out.Reason = ReasonNoURL
		return out
	}

	if p.dryRun {
		out.Status = StatusPlanned
		return out
	}

	bookmark := karakeep.Bookmark{
		Title:   out.Title,
		Summary: p.summary(row),
		Type:    "link",
		URL:     out.URL,
	}

	created, err := p.createWithRetry(ctx, bookmark)
	if err != nil {
		out.Status = StatusError
		out.Message = err.Error()
		return out
	}
	out.Status = StatusSuccess
	out.BookmarkID = created.ID

	// tag attachment is best effort, a failure never downgrades success
	if names := ParseTags(row["tags"]); len(names) > 0 {
		if err := p.attachTags(ctx, created.ID, names); err != nil {
			log.Printf("[WARN] attach tags to bookmark %s (item %d): %v", created.ID, out.ItemID, err)
		}
	}
	return out
}

// createWithRetry retries rate-limited and unavailable responses with
// linearly increasing delays. Other client errors fail on the first try.
func (p *Pump) createWithRetry(ctx context.Context, b karakeep.Bookmark) (*karakeep.CreatedBookmark, error) {
	retrier := repeater.NewBackoff(maxAttempts, p.retryBase,
		repeater.WithBackoffType(repeater.BackoffLinear))

	var created *karakeep.CreatedBookmark
	err := retrier.Do(ctx, func() error {
		c, err := p.dest.CreateBookmark(ctx, b)
		if err != nil {
			if karakeep.IsRetryable(err) {
				log.Printf("[WARN] create bookmark %q: %v, retrying", b.URL, err)
				return err
			}
			return &criticalError{err: err}
		}
		created = c
		return nil
	}, errCritical)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// attachTags resolves tag names against the destination directory and
// attaches them to the bookmark.
func (p *Pump) attachTags(ctx context.Context, bookmarkID string, names []string) error {
	refs, err := p.resolveTags(ctx, names)
	if err != nil {
		return err
	}
	return p.dest.AttachTags(ctx, bookmarkID, refs)
}

// resolveTags maps tag names to destination tag ids. The directory is
// fetched once per pump; names missing from it get fresh ids and are
// remembered so later items in the same run reuse them.
func (p *Pump) resolveTags(ctx context.Context, names []string) ([]karakeep.TagRef, error) {
	if p.tags == nil {
		existing, err := p.dest.ListTags(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tags: %w", err)
		}
		p.tags = make(map[string]karakeep.Tag, len(existing))
		for _, tag := range existing {
			p.tags[tag.Name] = tag
		}
	}

	refs := make([]karakeep.TagRef, 0, len(names))
	for _, name := range names {
		tag, ok := p.tags[name]
		if !ok {
			tag = karakeep.Tag{ID: newTagID(), Name: name}
			p.tags[name] = tag
		}
		refs = append(refs, karakeep.TagRef{TagID: tag.ID, TagName: tag.Name})
	}
	return refs, nil
}

// summary strips markup from the stored excerpt, the destination expects
// plain text.
func (p *Pump) summary(row map[string]any) string {
	excerpt := asString(row["excerpt"])
	if excerpt == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(p.sanitizer.Sanitize(excerpt)))
}

func itemID(row map[string]any) int64 {
	switch v := row["item_id"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func firstString(values ...any) string {
	for _, v := range values {
		if s := asString(v); s != "" {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
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
