package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/domain"
)

// QueryAPI is the backend collaborator the aggregator and pager load
// data through
type QueryAPI interface {
	GetRequest(ctx context.Context, requestID uuid.UUID) (*domain.Request, error)
	GetQuery(ctx context.Context, queryID uuid.UUID) (*domain.QueryResult, error)
	GetRows(ctx context.Context, queryID uuid.UUID, limit, offset int) (*domain.RowPage, error)
}

// FragmentStore persists the active request id in the navigable URL
// fragment so reloading or sharing a link restores the selection
type FragmentStore interface {
	SetFragment(value string)
	Fragment() string
}

// LinkedPointer is the derived rendering of a linked-query section: a
// one-line pointer to another session instead of inline chat content
type LinkedPointer struct {
	Label     string
	SessionID uuid.UUID
}

// Snapshot is an immutable view of aggregator state handed to
// subscribers. Sections are value copies; mutating a snapshot never
// touches live state.
type Snapshot struct {
	SessionID       uuid.UUID
	Sections        []domain.ChatSection
	ActiveRequestID uuid.UUID
	MergedSQL       string
}

// Aggregator owns the ordered sections of the viewed session, merges
// live updates into them by request id and exposes derived views. All
// state mutation happens on the owner's event loop: methods must be
// called from a single goroutine, and slow work (query resolution) is
// handed to dispatch and re-enters through a new method call.
type Aggregator struct {
	sessionID uuid.UUID
	machine   *Machine
	api       QueryAPI
	fragment  FragmentStore

	active  uuid.UUID
	queries map[uuid.UUID]*domain.QueryResult // by query_id, replaced wholesale on session change

	// dispatch runs a function off the event loop; enqueue posts a
	// function back onto it.
	dispatch func(fn func())
	enqueue  func(fn func())

	resolving map[uuid.UUID]bool // request ids with a resolve in flight

	watchdog time.Duration

	subscribers []func(Snapshot)
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithWatchdog sets how long a non-terminal section may go without
// events before it is locally marked failed. Zero disables the
// watchdog.
func WithWatchdog(d time.Duration) Option {
	return func(a *Aggregator) { a.watchdog = d }
}

// NewAggregator creates an aggregator for one viewed session. dispatch
// runs blocking work asynchronously; enqueue posts completions back to
// the event loop. Tests may pass synchronous implementations of both.
func NewAggregator(sessionID uuid.UUID, api QueryAPI, fragment FragmentStore, dispatch, enqueue func(fn func()), opts ...Option) *Aggregator {
	a := &Aggregator{
		sessionID: sessionID,
		machine:   NewMachine(),
		api:       api,
		fragment:  fragment,
		queries:   make(map[uuid.UUID]*domain.QueryResult),
		resolving: make(map[uuid.UUID]bool),
		dispatch:  dispatch,
		enqueue:   enqueue,
		watchdog:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Subscribe registers a snapshot consumer. The consumer is called after
// every state change with a fresh immutable snapshot.
func (a *Aggregator) Subscribe(fn func(Snapshot)) {
	a.subscribers = append(a.subscribers, fn)
}

// Bootstrap seeds sections from persisted requests and recovers the
// selection: a request id already in the URL fragment wins, otherwise
// the most recent section carrying a non-empty query is selected, so a
// reload lands where the user left off.
func (a *Aggregator) Bootstrap(requests []domain.Request) {
	a.machine.Seed(requests)

	if frag := a.fragment.Fragment(); frag != "" {
		if id, err := uuid.Parse(frag); err == nil {
			if _, ok := a.machine.Section(id); ok {
				a.setActive(id)
				a.notify()
				return
			}
		}
	}

	for i := len(requests) - 1; i >= 0; i-- {
		if requests[i].QueryID != nil {
			a.setActive(requests[i].RequestID)
			a.resolveQuery(requests[i].RequestID)
			break
		}
	}
	a.notify()
}

// AppendOrUpdate ingests one stage event, attaches it to the right
// section and re-derives state. Reaching a terminal Done kicks off
// asynchronous query resolution for the section.
func (a *Aggregator) AppendOrUpdate(ev domain.StageEvent) {
	sec := a.machine.Apply(ev, time.Now())

	if ev.Stage == domain.StageDone && sec.Query == nil {
		a.resolveQuery(ev.RequestID)
	}

	a.notify()
}

// resolveQuery loads the request row and its query metadata off the
// event loop, then re-enters through applyQueryResult. At most one
// resolve per request id is in flight.
func (a *Aggregator) resolveQuery(requestID uuid.UUID) {
	if a.resolving[requestID] {
		return
	}
	a.resolving[requestID] = true

	a.dispatch(func() {
		ctx := context.Background()

		req, err := a.api.GetRequest(ctx, requestID)
		if err != nil || req.QueryID == nil {
			if err != nil {
				log.Warn().Err(err).Str("request_id", requestID.String()).Msg("Failed to resolve request")
			}
			a.enqueue(func() { delete(a.resolving, requestID) })
			return
		}

		query, err := a.api.GetQuery(ctx, *req.QueryID)
		if err != nil {
			log.Warn().Err(err).Str("query_id", req.QueryID.String()).Msg("Failed to resolve query")
			a.enqueue(func() { delete(a.resolving, requestID) })
			return
		}

		a.enqueue(func() {
			delete(a.resolving, requestID)
			a.applyQueryResult(requestID, query)
		})
	})
}

// applyQueryResult attaches resolved query metadata to its section and
// caches it by query id
func (a *Aggregator) applyQueryResult(requestID uuid.UUID, query *domain.QueryResult) {
	a.queries[query.QueryID] = query

	if sec, ok := a.machine.Section(requestID); ok {
		sec.Query = query
	}

	// Ancestors may still be missing; fetch them so merged SQL
	// converges as results arrive.
	for _, parent := range query.Parents {
		if _, ok := a.queries[parent]; !ok {
			a.fetchAncestor(parent)
		}
	}

	a.notify()
}

func (a *Aggregator) fetchAncestor(queryID uuid.UUID) {
	a.dispatch(func() {
		query, err := a.api.GetQuery(context.Background(), queryID)
		if err != nil {
			log.Warn().Err(err).Str("query_id", queryID.String()).Msg("Failed to fetch ancestor query")
			return
		}
		a.enqueue(func() {
			a.queries[query.QueryID] = query
			a.notify()
		})
	})
}

// SelectSection makes a section the active one and persists its request
// id in the URL fragment. Sections without a request id are inert:
// selecting them is a no-op.
func (a *Aggregator) SelectSection(sectionID uuid.UUID) {
	sec, ok := a.machine.Section(sectionID)
	if !ok || sec.RequestID == uuid.Nil {
		return
	}
	a.setActive(sec.RequestID)
	a.notify()
}

func (a *Aggregator) setActive(requestID uuid.UUID) {
	a.active = requestID
	a.fragment.SetFragment(requestID.String())
}

// ActiveRequestID returns the currently selected request id
func (a *Aggregator) ActiveRequestID() uuid.UUID {
	return a.active
}

// ResolveLinkedSession derives the pointer rendering for a linked-query
// section. The linked section's own query is never fetched.
func (a *Aggregator) ResolveLinkedSession(sectionID uuid.UUID) (LinkedPointer, bool) {
	sec, ok := a.machine.Section(sectionID)
	if !ok || sec.LinkedSession == nil {
		return LinkedPointer{}, false
	}
	return LinkedPointer{
		Label:     "Created linked query",
		SessionID: *sec.LinkedSession,
	}, true
}

// MergedSQL concatenates the active section's ancestor chain SQL
// root-to-leaf with its own SQL appended last. Ancestors not yet cached
// are skipped; the value converges as fetches complete.
func (a *Aggregator) MergedSQL() string {
	sec, ok := a.machine.Section(a.active)
	if !ok || sec.Query == nil {
		return ""
	}

	parts := make([]string, 0, len(sec.Query.Parents)+1)
	for _, parent := range sec.Query.Parents {
		if q, ok := a.queries[parent]; ok {
			parts = append(parts, strings.TrimSuffix(strings.TrimSpace(q.SQL), ";"))
		}
	}
	parts = append(parts, strings.TrimSuffix(strings.TrimSpace(sec.Query.SQL), ";"))

	return strings.Join(parts, ";\n")
}

// CheckWatchdog marks sections that stopped receiving events as failed.
// The backend does not guarantee a terminal stage if it crashes
// mid-stream; without this, such sections would spin forever.
func (a *Aggregator) CheckWatchdog(now time.Time) {
	if a.watchdog <= 0 {
		return
	}
	changed := false
	for _, sec := range a.machine.Sections() {
		if sec.Status.Terminal() || sec.Status == domain.StageNew {
			continue
		}
		if !sec.LastEventAt.IsZero() && now.Sub(sec.LastEventAt) > a.watchdog {
			log.Warn().
				Str("request_id", sec.RequestID.String()).
				Str("stage", string(sec.Status)).
				Msg("Request stalled, marking failed")
			sec.Status = domain.StageError
			changed = true
		}
	}
	if changed {
		a.notify()
	}
}

// Machine exposes the underlying state machine for derived display
// queries (visible stage index, display mode)
func (a *Aggregator) Machine() *Machine {
	return a.machine
}

// notify hands every subscriber a fresh immutable snapshot
func (a *Aggregator) notify() {
	if len(a.subscribers) == 0 {
		return
	}
	snap := a.Snapshot()
	for _, fn := range a.subscribers {
		fn(snap)
	}
}

// Snapshot builds an immutable copy of current state
func (a *Aggregator) Snapshot() Snapshot {
	live := a.machine.Sections()
	sections := make([]domain.ChatSection, len(live))
	for i, sec := range live {
		cp := *sec
		cp.Messages = append([]domain.ChatMessage(nil), sec.Messages...)
		if sec.Query != nil {
			q := *sec.Query
			q.Columns = append([]domain.ColumnInfo(nil), sec.Query.Columns...)
			q.Parents = append([]uuid.UUID(nil), sec.Query.Parents...)
			cp.Query = &q
		}
		sections[i] = cp
	}

	return Snapshot{
		SessionID:       a.sessionID,
		Sections:        sections,
		ActiveRequestID: a.active,
		MergedSQL:       a.MergedSQL(),
	}
}
