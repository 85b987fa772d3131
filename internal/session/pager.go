package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/domain"
)

// DefaultPageSize matches the rows endpoint's default limit
const DefaultPageSize = 50

// Pager incrementally loads result rows for the active query. Pages are
// requested strictly in increasing order, never twice, and never more
// than one at a time. Like the aggregator it lives on a single event
// loop: fetches run through dispatch and re-enter via enqueue.
type Pager struct {
	api      QueryAPI
	dispatch func(fn func())
	enqueue  func(fn func())

	queryID   uuid.UUID
	pageSize  int
	loaded    map[int]bool
	nextPage  int // lowest page index not yet loaded
	inFlight  int // page index, -1 when idle
	exhausted bool

	cancel context.CancelFunc

	columns []string
	rows    []map[string]any

	onUpdate func()
	onError  func(err error)
}

// NewPager creates an idle pager. Reset must be called with a query id
// before it fetches anything.
func NewPager(api QueryAPI, dispatch, enqueue func(fn func()), pageSize int) *Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{
		api:      api,
		dispatch: dispatch,
		enqueue:  enqueue,
		pageSize: pageSize,
		loaded:   make(map[int]bool),
		inFlight: -1,
	}
}

// OnUpdate registers a callback invoked after rows change
func (p *Pager) OnUpdate(fn func()) { p.onUpdate = fn }

// OnError registers a callback for retryable fetch failures
func (p *Pager) OnError(fn func(err error)) { p.onError = fn }

// Reset points the pager at a new query and drops the whole window: no
// stale pages are ever carried across query ids. Any in-flight fetch
// for the previous query is cancelled and its late result discarded.
func (p *Pager) Reset(queryID uuid.UUID) {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.queryID = queryID
	p.loaded = make(map[int]bool)
	p.nextPage = 0
	p.inFlight = -1
	p.exhausted = false
	p.columns = nil
	p.rows = nil

	if queryID != uuid.Nil {
		p.fetch(0)
	}
}

// ThresholdCrossed is the scroll trigger: the consumer crossed the
// configured distance from the bottom of loaded content. Crossings
// while a fetch is in flight, after exhaustion, or with no query are
// no-ops, so event bursts can never double-fetch.
func (p *Pager) ThresholdCrossed() {
	if p.queryID == uuid.Nil || p.exhausted || p.inFlight >= 0 {
		return
	}
	if p.loaded[p.nextPage] {
		return
	}
	p.fetch(p.nextPage)
}

func (p *Pager) fetch(page int) {
	p.inFlight = page

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	queryID := p.queryID
	offset := page * p.pageSize

	p.dispatch(func() {
		result, err := p.api.GetRows(ctx, queryID, p.pageSize, offset)
		p.enqueue(func() {
			p.complete(queryID, page, result, err)
		})
	})
}

// complete applies a finished fetch. Results for a query the pager has
// since moved away from are dropped on the floor.
func (p *Pager) complete(queryID uuid.UUID, page int, result *domain.RowPage, err error) {
	if queryID != p.queryID {
		return
	}

	p.inFlight = -1
	p.cancel = nil

	if err != nil {
		// Retryable: the window stays as it was and the next
		// threshold crossing re-requests this page.
		log.Warn().Err(err).
			Str("query_id", queryID.String()).
			Int("page", page).
			Msg("Row page fetch failed")
		if p.onError != nil {
			p.onError(domain.ErrFetchFailure)
		}
		return
	}

	p.loaded[page] = true
	if page == p.nextPage {
		p.nextPage++
	}

	if p.columns == nil {
		p.columns = result.Columns
	}
	p.rows = append(p.rows, result.Rows...)

	// A short page means the result set ends here; later threshold
	// crossings are no-ops.
	if len(result.Rows) < p.pageSize {
		p.exhausted = true
	}

	if p.onUpdate != nil {
		p.onUpdate()
	}
}

// Rows returns all rows loaded so far
func (p *Pager) Rows() []map[string]any { return p.rows }

// Columns returns the column names of the loaded result
func (p *Pager) Columns() []string { return p.columns }

// Exhausted reports whether the final page has been seen
func (p *Pager) Exhausted() bool { return p.exhausted }

// LoadedPages returns how many pages are loaded
func (p *Pager) LoadedPages() int { return len(p.loaded) }

// InFlight reports whether a fetch is outstanding
func (p *Pager) InFlight() bool { return p.inFlight >= 0 }
