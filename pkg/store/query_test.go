package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusRecord(itemID string, status, favorite int) map[string]any {
	r := sampleRecord()
	delete(r, "authors")
	r["item_id"] = itemID
	r["resolved_id"] = itemID
	r["status"] = status
	r["favorite"] = favorite
	return r
}

func setupFilterStore(t *testing.T) *Store {
	st := setupStore(t)
	saveAll(t, st,
		statusRecord("1", StatusUnread, 0),
		statusRecord("2", StatusArchived, 0),
		statusRecord("3", StatusUnread, 1),
		statusRecord("4", StatusArchived, 1),
	)
	return st
}

func itemIDs(rows []map[string]any) []int64 {
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r["item_id"].(int64)
	}
	return ids
}

func TestStore_QueryItemsFilters(t *testing.T) {
	ctx := context.Background()
	st := setupFilterStore(t)
	archived := StatusArchived

	t.Run("no filter returns all ordered by item_id", func(t *testing.T) {
		rows, err := st.QueryItems(ctx, ItemFilter{Limit: NoLimit})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3, 4}, itemIDs(rows))
	})

	t.Run("status filter", func(t *testing.T) {
		rows, err := st.QueryItems(ctx, ItemFilter{Status: &archived, Limit: NoLimit})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 4}, itemIDs(rows))
	})

	t.Run("status and favorite combine with AND", func(t *testing.T) {
		rows, err := st.QueryItems(ctx, ItemFilter{Status: &archived, Favorite: true, Limit: NoLimit})
		require.NoError(t, err)
		assert.Equal(t, []int64{4}, itemIDs(rows))
	})

	t.Run("favorite only", func(t *testing.T) {
		rows, err := st.QueryItems(ctx, ItemFilter{Favorite: true, Limit: NoLimit})
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 4}, itemIDs(rows))
	})

	t.Run("limit and offset", func(t *testing.T) {
		rows, err := st.QueryItems(ctx, ItemFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3}, itemIDs(rows))
	})

	t.Run("zero limit is distinct from no limit", func(t *testing.T) {
		rows, err := st.QueryItems(ctx, ItemFilter{Limit: 0})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestStore_CountFiltered(t *testing.T) {
	ctx := context.Background()
	st := setupFilterStore(t)
	archived := StatusArchived

	count, err := st.CountFiltered(ctx, ItemFilter{Limit: NoLimit})
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	// limit and offset do not affect the count
	count, err = st.CountFiltered(ctx, ItemFilter{Status: &archived, Limit: 1, Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStore_TableColumnsAndRows(t *testing.T) {
	ctx := context.Background()
	st := setupFilterStore(t)

	cols, err := st.TableColumns(ctx, "items")
	require.NoError(t, err)
	require.NotEmpty(t, cols)
	assert.Equal(t, "item_id", cols[0])

	rows, err := st.TableRows(ctx, "items")
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	_, err = st.TableRows(ctx, `items"; drop table items; --`)
	require.Error(t, err)
}

func TestStore_HasTable(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	ok, err := st.HasTable(ctx, "items")
	require.NoError(t, err)
	assert.False(t, ok)

	saveAll(t, st, sampleRecord())
	ok, err = st.HasTable(ctx, "items")
	require.NoError(t, err)
	assert.True(t, ok)
}
