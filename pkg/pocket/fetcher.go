package pocket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-pkgz/repeater/v2"
)

const (
	defaultPageSize  = 50
	minPageSize      = 10
	maxPageRetries   = 5
	defaultRetryBase = 3 * time.Second
)

// Fetcher iterates over saved items page by page, advancing an offset
// cursor. Overloaded (503) responses are retried with linear backoff, a
// payload-too-large signal halves the page size down to a floor of 10 and
// refetches the same offset. The sequence ends on the first empty page.
//
// Usage follows the scanner pattern:
//
//	for f.Scan(ctx) {
//		rec := f.Record()
//	}
//	if err := f.Err(); err != nil { ... }
type Fetcher struct {
	client *Client

	offset    int
	pageSize  int
	sleep     time.Duration
	retryBase time.Duration

	buf     []Record
	cur     Record
	err     error
	done    bool
	fetched bool
}

// NewFetcher creates an item fetcher starting at the given offset.
// Non-positive pageSize and retryBase fall back to defaults, zero sleep
// disables the inter-page delay.
func NewFetcher(client *Client, startOffset, pageSize int, sleep, retryBase time.Duration) *Fetcher {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}
	if startOffset < 0 {
		startOffset = 0
	}
	return &Fetcher{
		client:    client,
		offset:    startOffset,
		pageSize:  pageSize,
		sleep:     sleep,
		retryBase: retryBase,
	}
}

// Scan advances to the next record, fetching further pages as needed.
// It returns false when the sequence ends or a fatal error occurred,
// which Err distinguishes.
func (f *Fetcher) Scan(ctx context.Context) bool {
	if f.err != nil || f.done {
		return false
	}
	if len(f.buf) == 0 && !f.fill(ctx) {
		return false
	}
	f.cur = f.buf[0]
	f.buf = f.buf[1:]
	return true
}

// Record returns the record produced by the last successful Scan.
func (f *Fetcher) Record() map[string]any { return f.cur }

// Err returns the fatal error that stopped iteration, if any.
func (f *Fetcher) Err() error { return f.err }

// PageSize returns the current page size, reduced from the initial value
// when the API reported oversized payloads.
func (f *Fetcher) PageSize() int { return f.pageSize }

// fill fetches the page at the current offset and buffers its records.
// An empty page terminates the sequence.
func (f *Fetcher) fill(ctx context.Context) bool {
	if f.fetched && f.sleep > 0 {
		select {
		case <-time.After(f.sleep):
		case <-ctx.Done():
			f.err = ctx.Err()
			return false
		}
	}

	page, err := f.fetchPage(ctx)
	if err != nil {
		f.err = err
		return false
	}
	f.fetched = true

	log.Printf("[DEBUG] fetched %d items at offset %d, since %d", len(page.Records), f.offset, page.Since)
	if len(page.Records) == 0 {
		f.done = true
		return false
	}

	f.buf = page.Records
	f.offset += f.pageSize
	return true
}

// fetchPage gets one page at the current offset, shrinking the page size
// on size-limit errors. The shrink loop does not count against the busy
// retry budget.
func (f *Fetcher) fetchPage(ctx context.Context) (*Page, error) {
	for {
		page, err := f.getWithRetry(ctx)
		if err == nil {
			return page, nil
		}

		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.payloadTooLarge() {
			if f.pageSize <= minPageSize {
				return nil, fmt.Errorf("page at offset %d too large even at minimum page size %d: %w",
					f.offset, minPageSize, err)
			}
			reduced := f.pageSize / 2
			if reduced < minPageSize {
				reduced = minPageSize
			}
			log.Printf("[WARN] payload too large, reducing page size from %d to %d", f.pageSize, reduced)
			f.pageSize = reduced
			continue
		}

		return nil, err
	}
}

// getWithRetry retries the same page on server-busy responses, up to
// maxPageRetries times with linearly increasing delays. Anything else
// stops retrying immediately.
func (f *Fetcher) getWithRetry(ctx context.Context) (*Page, error) {
	retrier := repeater.NewBackoff(maxPageRetries+1, f.retryBase,
		repeater.WithBackoffType(repeater.BackoffLinear))

	var page *Page
	err := retrier.Do(ctx, func() error {
		p, err := f.client.GetPage(ctx, f.pageSize, f.offset)
		if err != nil {
			if errors.Is(err, ErrServerBusy) {
				log.Printf("[WARN] got a 503 at offset %d, retrying", f.offset)
				return err
			}
			return &criticalError{err: err}
		}
		page = p
		return nil
	}, errCritical)
	if err != nil {
		return nil, fmt.Errorf("fetch page at offset %d: %w", f.offset, err)
	}
	return page, nil
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
