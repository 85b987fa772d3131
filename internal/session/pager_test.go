package session

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydeck/querydeck/internal/domain"
)

func fullPage(queryID uuid.UUID, offset, size int) *domain.RowPage {
	rows := make([]map[string]any, size)
	for i := range rows {
		rows[i] = map[string]any{"n": offset + i}
	}
	return &domain.RowPage{
		QueryID:   queryID,
		Limit:     size,
		Offset:    offset,
		Columns:   []string{"n"},
		Rows:      rows,
		TotalRows: 1000,
	}
}

func shortPage(queryID uuid.UUID, offset, size, n int) *domain.RowPage {
	page := fullPage(queryID, offset, size)
	page.Rows = page.Rows[:n]
	page.TotalRows = int64(offset + n)
	return page
}

func TestPager_ResetFetchesFirstPage(t *testing.T) {
	api := newFakeAPI()
	queryID := uuid.New()
	api.pages[0] = fullPage(queryID, 0, 10)

	dispatch, enqueue := syncLoop()
	p := NewPager(api, dispatch, enqueue, 10)

	p.Reset(queryID)

	assert.Equal(t, []int{0}, api.rowCalls)
	assert.Len(t, p.Rows(), 10)
	assert.Equal(t, []string{"n"}, p.Columns())
	assert.False(t, p.Exhausted())
}

func TestPager_ThresholdBurstFetchesOnce(t *testing.T) {
	api := newFakeAPI()
	queryID := uuid.New()
	api.pages[0] = fullPage(queryID, 0, 10)
	api.pages[10] = fullPage(queryID, 10, 10)

	// dispatch defers the fetch so the in-flight window stays open
	// across the burst.
	var pending []func()
	dispatch := func(fn func()) { pending = append(pending, fn) }
	enqueue := func(fn func()) { fn() }

	p := NewPager(api, dispatch, enqueue, 10)
	p.Reset(queryID)

	require.Len(t, pending, 1)
	pending[0]() // page 0 lands
	pending = pending[:0]

	// A burst of crossings while idle triggers exactly one fetch.
	p.ThresholdCrossed()
	p.ThresholdCrossed()
	p.ThresholdCrossed()
	require.Len(t, pending, 1)

	pending[0]()
	assert.Equal(t, []int{0, 10}, api.rowCalls)
	assert.Len(t, p.Rows(), 20)
}

func TestPager_NeverReRequestsLoadedPage(t *testing.T) {
	api := newFakeAPI()
	queryID := uuid.New()
	for offset := 0; offset <= 30; offset += 10 {
		api.pages[offset] = fullPage(queryID, offset, 10)
	}

	dispatch, enqueue := syncLoop()
	p := NewPager(api, dispatch, enqueue, 10)

	p.Reset(queryID)
	p.ThresholdCrossed()
	p.ThresholdCrossed()
	p.ThresholdCrossed()

	// Strictly increasing offsets, no duplicates.
	assert.Equal(t, []int{0, 10, 20, 30}, api.rowCalls)
}

func TestPager_ShortPageExhausts(t *testing.T) {
	api := newFakeAPI()
	queryID := uuid.New()
	api.pages[0] = fullPage(queryID, 0, 10)
	api.pages[10] = shortPage(queryID, 10, 10, 3)

	dispatch, enqueue := syncLoop()
	p := NewPager(api, dispatch, enqueue, 10)

	p.Reset(queryID)
	p.ThresholdCrossed()

	assert.True(t, p.Exhausted())
	assert.Len(t, p.Rows(), 13)

	// Further crossings are no-ops.
	p.ThresholdCrossed()
	p.ThresholdCrossed()
	assert.Equal(t, []int{0, 10}, api.rowCalls)
}

func TestPager_EmptyFirstPageExhaustsImmediately(t *testing.T) {
	api := newFakeAPI()
	queryID := uuid.New()
	api.pages[0] = shortPage(queryID, 0, 10, 0)

	dispatch, enqueue := syncLoop()
	p := NewPager(api, dispatch, enqueue, 10)

	p.Reset(queryID)

	assert.True(t, p.Exhausted())
	assert.Empty(t, p.Rows())
}

func TestPager_ResetDropsWindowAndStaleResults(t *testing.T) {
	api := newFakeAPI()
	first := uuid.New()
	second := uuid.New()
	api.pages[0] = fullPage(first, 0, 10)

	var pending []func()
	dispatch := func(fn func()) { pending = append(pending, fn) }
	enqueue := func(fn func()) { fn() }

	p := NewPager(api, dispatch, enqueue, 10)
	p.Reset(first)
	require.Len(t, pending, 1)
	stale := pending[0]
	pending = pending[:0]

	// Query changes before the first fetch lands.
	api.pages[0] = fullPage(second, 0, 10)
	p.Reset(second)
	require.Len(t, pending, 1)

	pending[0]() // page 0 of the new query
	stale()      // late result for the old query

	// The stale result did not append a second batch of rows.
	assert.Len(t, p.Rows(), 10)
	assert.Equal(t, 1, p.LoadedPages())
}

func TestPager_ResetToNilClearsWithoutFetching(t *testing.T) {
	api := newFakeAPI()
	queryID := uuid.New()
	api.pages[0] = fullPage(queryID, 0, 10)

	dispatch, enqueue := syncLoop()
	p := NewPager(api, dispatch, enqueue, 10)

	p.Reset(queryID)
	require.Len(t, p.Rows(), 10)

	p.Reset(uuid.Nil)
	assert.Empty(t, p.Rows())
	assert.Equal(t, []int{0}, api.rowCalls)

	p.ThresholdCrossed()
	assert.Equal(t, []int{0}, api.rowCalls)
}

func TestPager_FetchFailureIsRetryable(t *testing.T) {
	api := newFakeAPI()
	queryID := uuid.New()
	api.pages[0] = fullPage(queryID, 0, 10)
	api.pages[10] = fullPage(queryID, 10, 10)

	dispatch, enqueue := syncLoop()
	p := NewPager(api, dispatch, enqueue, 10)

	var gotErr error
	p.OnError(func(err error) { gotErr = err })

	p.Reset(queryID)

	api.rowErr = errors.New("connection reset")
	p.ThresholdCrossed()
	require.ErrorIs(t, gotErr, domain.ErrFetchFailure)
	assert.Len(t, p.Rows(), 10)
	assert.False(t, p.Exhausted())

	// The failed page is re-requested on the next crossing.
	api.rowErr = nil
	p.ThresholdCrossed()
	assert.Equal(t, []int{0, 10, 10}, api.rowCalls)
	assert.Len(t, p.Rows(), 20)
}
