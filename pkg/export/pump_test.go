package export

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digithree/pocket-to-sqlite/pkg/karakeep"
	"github.com/digithree/pocket-to-sqlite/pkg/store"
)

type sliceItems struct {
	rows []map[string]any
	err  error
	got  store.ItemFilter
}

func (s *sliceItems) QueryItems(_ context.Context, f store.ItemFilter) ([]map[string]any, error) {
	s.got = f
	return s.rows, s.err
}

// fakeDest records every call and replays scripted responses for creates
type fakeDest struct {
	created    []karakeep.Bookmark
	createErrs []error // consumed one per CreateBookmark call, nil entry means success
	listCalls  int
	tags       []karakeep.Tag
	listErr    error
	attached   map[string][]karakeep.TagRef
	attachErr  error
	nextID     int
}

func (f *fakeDest) CreateBookmark(_ context.Context, b karakeep.Bookmark) (*karakeep.CreatedBookmark, error) {
	f.created = append(f.created, b)
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.nextID++
	return &karakeep.CreatedBookmark{ID: fmt.Sprintf("bk-%d", f.nextID)}, nil
}

func (f *fakeDest) ListTags(_ context.Context) ([]karakeep.Tag, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tags, nil
}

func (f *fakeDest) AttachTags(_ context.Context, bookmarkID string, tags []karakeep.TagRef) error {
	if f.attached == nil {
		f.attached = map[string][]karakeep.TagRef{}
	}
	f.attached[bookmarkID] = tags
	return f.attachErr
}

func runPump(t *testing.T, rows []map[string]any, dest *fakeDest, opts Opts) (*Summary, []Outcome) {
	t.Helper()
	if opts.RetryBase == 0 {
		opts.RetryBase = time.Millisecond
	}
	pump := New(&sliceItems{rows: rows}, dest, opts)
	var outcomes []Outcome
	sum, err := pump.Run(context.Background(), func(o Outcome) { outcomes = append(outcomes, o) })
	require.NoError(t, err)
	return sum, outcomes
}

func TestPump_ExportsItems(t *testing.T) {
	rows := []map[string]any{
		{"item_id": int64(1), "resolved_title": "Resolved", "given_title": "Given",
			"resolved_url": "https://r.example.com", "given_url": "https://g.example.com",
			"excerpt": "<p>Some &amp; text</p>"},
		{"item_id": int64(2), "given_title": "Only Given", "given_url": "https://g2.example.com"},
	}
	dest := &fakeDest{}
	sum, outcomes := runPump(t, rows, dest, Opts{})

	assert.Equal(t, 2, sum.Exported)
	assert.Zero(t, sum.Skipped)
	assert.Zero(t, sum.Errors)

	require.Len(t, dest.created, 2)
	assert.Equal(t, "Resolved", dest.created[0].Title, "resolved title wins")
	assert.Equal(t, "https://r.example.com", dest.created[0].URL, "resolved url wins")
	assert.Equal(t, "Some & text", dest.created[0].Summary, "markup stripped, entities decoded")
	assert.Equal(t, "link", dest.created[0].Type)
	assert.Equal(t, "Only Given", dest.created[1].Title)
	assert.Equal(t, "https://g2.example.com", dest.created[1].URL)

	require.Len(t, outcomes, 2)
	assert.Equal(t, StatusSuccess, outcomes[0].Status)
	assert.NotEmpty(t, outcomes[0].BookmarkID)
	assert.Equal(t, int64(1), outcomes[0].ItemID)
}

func TestPump_TitlePlaceholder(t *testing.T) {
	rows := []map[string]any{{"item_id": int64(5), "resolved_url": "https://x.example.com"}}
	dest := &fakeDest{}
	_, outcomes := runPump(t, rows, dest, Opts{})

	require.Len(t, dest.created, 1)
	assert.Equal(t, "Untitled", dest.created[0].Title)
	assert.Equal(t, "Untitled", outcomes[0].Title)
}

func TestPump_SkipsWithoutURL(t *testing.T) {
	rows := []map[string]any{
		{"item_id": int64(1), "resolved_title": "No links here"},
		{"item_id": int64(2), "resolved_url": "https://ok.example.com"},
	}
	dest := &fakeDest{}
	sum, outcomes := runPump(t, rows, dest, Opts{})

	assert.Equal(t, 1, sum.Exported)
	assert.Equal(t, 1, sum.Skipped)
	require.Len(t, dest.created, 1, "skipped item makes no remote call")
	assert.Equal(t, StatusSkipped, outcomes[0].Status)
	assert.Equal(t, ReasonNoURL, outcomes[0].Reason)
}

func TestPump_DryRun(t *testing.T) {
	rows := []map[string]any{
		{"item_id": int64(1), "resolved_url": "https://a.example.com", "resolved_title": "A",
			"tags": `{"golang":{"tag":"golang"}}`},
		{"item_id": int64(2), "resolved_title": "no url"},
	}
	dest := &fakeDest{}
	sum, outcomes := runPump(t, rows, dest, Opts{DryRun: true})

	assert.Equal(t, 1, sum.Planned)
	assert.Equal(t, 1, sum.Skipped)
	assert.Zero(t, sum.Exported)
	assert.Empty(t, dest.created, "dry run makes no remote calls")
	assert.Zero(t, dest.listCalls)
	assert.Equal(t, StatusPlanned, outcomes[0].Status)
	assert.Equal(t, "https://a.example.com", outcomes[0].URL)
	assert.Equal(t, StatusSkipped, outcomes[1].Status)
}

func TestPump_ValidationErrorSingleAttempt(t *testing.T) {
	apiErr := &karakeep.APIError{StatusCode: 400, Code: "VALIDATION_ERROR", Message: "invalid url"}
	rows := []map[string]any{
		{"item_id": int64(1), "resolved_url": "javascript:alert(1)"},
		{"item_id": int64(2), "resolved_url": "https://fine.example.com"},
	}
	dest := &fakeDest{createErrs: []error{apiErr, nil}}
	sum, outcomes := runPump(t, rows, dest, Opts{})

	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 1, sum.Exported)
	require.Len(t, dest.created, 2, "400 is not retried")
	assert.Equal(t, StatusError, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Message, "VALIDATION_ERROR")
	assert.Equal(t, StatusSuccess, outcomes[1].Status, "later items unaffected by the failure")
}

func TestPump_RetriesRateLimit(t *testing.T) {
	busy := &karakeep.APIError{StatusCode: 429, Code: "RATE_LIMITED", Message: "slow down"}
	rows := []map[string]any{{"item_id": int64(1), "resolved_url": "https://x.example.com"}}
	dest := &fakeDest{createErrs: []error{busy, busy, nil}}
	sum, _ := runPump(t, rows, dest, Opts{})

	assert.Equal(t, 1, sum.Exported)
	assert.Len(t, dest.created, 3, "two retries then success")
}

func TestPump_RetriesExhausted(t *testing.T) {
	busy := &karakeep.APIError{StatusCode: 503, Code: "UNAVAILABLE", Message: "down"}
	rows := []map[string]any{{"item_id": int64(1), "resolved_url": "https://x.example.com"}}
	dest := &fakeDest{createErrs: []error{busy, busy, busy, busy, busy, busy, busy}}
	sum, outcomes := runPump(t, rows, dest, Opts{})

	assert.Equal(t, 1, sum.Errors)
	assert.Len(t, dest.created, maxAttempts)
	assert.Equal(t, StatusError, outcomes[0].Status)
}

func TestPump_AttachesTags(t *testing.T) {
	rows := []map[string]any{
		{"item_id": int64(1), "resolved_url": "https://a.example.com",
			"tags": `{"golang":{"item_id":"1","tag":"golang"},"reading":{"item_id":"1","tag":"reading"}}`},
		{"item_id": int64(2), "resolved_url": "https://b.example.com", "tags": "reading"},
	}
	dest := &fakeDest{tags: []karakeep.Tag{{ID: "tag-go", Name: "golang"}}}
	sum, _ := runPump(t, rows, dest, Opts{})

	assert.Equal(t, 2, sum.Exported)
	assert.Equal(t, 1, dest.listCalls, "tag directory fetched once per run")
	require.Len(t, dest.attached, 2)

	first := dest.attached["bk-1"]
	require.Len(t, first, 2)
	assert.Equal(t, "tag-go", first[0].TagID, "existing tag keeps its id")
	assert.Equal(t, "golang", first[0].TagName)
	assert.NotEmpty(t, first[1].TagID, "unknown tag gets a generated id")
	assert.Equal(t, "reading", first[1].TagName)

	second := dest.attached["bk-2"]
	require.Len(t, second, 1)
	assert.Equal(t, first[1].TagID, second[0].TagID, "generated id reused within the run")
}

func TestPump_AttachFailureKeepsSuccess(t *testing.T) {
	rows := []map[string]any{
		{"item_id": int64(1), "resolved_url": "https://a.example.com", "tags": "golang"},
	}
	dest := &fakeDest{attachErr: errors.New("boom")}
	sum, outcomes := runPump(t, rows, dest, Opts{})

	assert.Equal(t, 1, sum.Exported)
	assert.Zero(t, sum.Errors)
	assert.Equal(t, StatusSuccess, outcomes[0].Status)
}

func TestPump_NoTags(t *testing.T) {
	rows := []map[string]any{{"item_id": int64(1), "resolved_url": "https://a.example.com"}}
	dest := &fakeDest{}
	_, _ = runPump(t, rows, dest, Opts{})
	assert.Zero(t, dest.listCalls, "no directory fetch when nothing to attach")
	assert.Empty(t, dest.attached)
}

func TestPump_QueryError(t *testing.T) {
	pump := New(&sliceItems{err: errors.New("disk gone")}, &fakeDest{}, Opts{})
	_, err := pump.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query items")
}

func TestPump_PassesFilter(t *testing.T) {
	status := store.StatusArchived
	src := &sliceItems{}
	pump := New(src, &fakeDest{}, Opts{Filter: store.ItemFilter{Status: &status, Favorite: true, Limit: 10, Offset: 5}})
	_, err := pump.Run(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, src.got.Status)
	assert.Equal(t, store.StatusArchived, *src.got.Status)
	assert.True(t, src.got.Favorite)
	assert.Equal(t, 10, src.got.Limit)
	assert.Equal(t, 5, src.got.Offset)
}
