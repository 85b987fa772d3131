package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/querydeck/querydeck/internal/domain"
)

// Machine is the request lifecycle state machine for one viewed session.
// It ingests stage events and maintains the ordered, append-only list of
// sections. It is pure state: no I/O, no locking; the owner applies
// events one at a time.
type Machine struct {
	sections []*domain.ChatSection
	index    map[uuid.UUID]int // requestID -> position in sections
	visible  map[uuid.UUID]int // requestID -> visible-stage high-water mark
}

// NewMachine creates an empty state machine
func NewMachine() *Machine {
	return &Machine{
		index:   make(map[uuid.UUID]int),
		visible: make(map[uuid.UUID]int),
	}
}

// Sections returns the ordered sections. Callers must not retain the
// pointers across events; Snapshot on the aggregator provides stable
// copies.
func (m *Machine) Sections() []*domain.ChatSection {
	return m.sections
}

// Section returns the section for a request id, if one exists
func (m *Machine) Section(requestID uuid.UUID) (*domain.ChatSection, bool) {
	i, ok := m.index[requestID]
	if !ok {
		return nil, false
	}
	return m.sections[i], true
}

// Seed rebuilds sections from persisted requests, oldest first. Used on
// initial session load before attaching to the live stream.
func (m *Machine) Seed(requests []domain.Request) {
	for i := range requests {
		req := &requests[i]
		sec := &domain.ChatSection{
			ID:            req.RequestID,
			RequestID:     req.RequestID,
			Status:        req.Status,
			LinkedSession: req.LinkedSession,
			LastEventAt:   req.UpdatedAt,
		}
		if req.Prompt != "" {
			sec.Messages = append(sec.Messages, domain.ChatMessage{
				UID:  uuid.New(),
				Role: domain.RoleUser,
				Text: req.Prompt,
			})
		}
		if req.Response != "" {
			sec.Messages = append(sec.Messages, domain.ChatMessage{
				UID:  uuid.New(),
				Role: domain.RoleAssistant,
				Text: req.Response,
			})
		}
		m.index[req.RequestID] = len(m.sections)
		m.sections = append(m.sections, sec)
		if idx := req.Status.VisibleIndex(); idx >= 0 {
			m.visible[req.RequestID] = idx
		}
	}
}

// Apply ingests one stage event and returns the affected section.
// Events for unseen request ids synthesize a section directly in the
// event's stage: delivery is at-least-once but not gap-free across a
// reconnect, so a DataFetch-or-later first sighting is normal, not an
// error. Terminal sections stay in the log but ignore further mutation.
func (m *Machine) Apply(ev domain.StageEvent, now time.Time) *domain.ChatSection {
	sec, ok := m.Section(ev.RequestID)
	if ok && sec.Status.Terminal() {
		// Only sections that were already terminal before this event
		// ignore it; a first sighting in a terminal stage still keeps
		// its text delta below.
		return sec
	}
	if !ok {
		sec = &domain.ChatSection{
			ID:        ev.RequestID,
			RequestID: ev.RequestID,
			Status:    ev.Stage,
		}
		m.index[ev.RequestID] = len(m.sections)
		m.sections = append(m.sections, sec)
	}

	if ev.TextDelta != "" {
		m.appendDelta(sec, ev.TextDelta)
	}

	sec.Status = ev.Stage
	sec.LastEventAt = now

	// The visible stage indicator never regresses; Retry refines SQL
	// without moving it.
	if idx := ev.Stage.VisibleIndex(); idx >= 0 {
		if cur, ok := m.visible[ev.RequestID]; !ok || idx > cur {
			m.visible[ev.RequestID] = idx
		}
	}

	return sec
}

// appendDelta extends the last assistant message in place, creating one
// if the section has none yet. Mutating the tail message keeps message
// ordering stable with minimal churn for renderers.
func (m *Machine) appendDelta(sec *domain.ChatSection, delta string) {
	for i := len(sec.Messages) - 1; i >= 0; i-- {
		if sec.Messages[i].Role == domain.RoleAssistant {
			sec.Messages[i].Text += delta
			return
		}
	}
	sec.Messages = append(sec.Messages, domain.ChatMessage{
		UID:  uuid.New(),
		Role: domain.RoleAssistant,
		Text: delta,
	})
}

// VisibleStageIndex returns the high-water visible stage for a request
func (m *Machine) VisibleStageIndex(requestID uuid.UUID) int {
	if idx, ok := m.visible[requestID]; ok {
		return idx
	}
	return -1
}

// DisplayMode describes how a section should render
type DisplayMode int

const (
	// DisplayStaged shows the staged progress view
	DisplayStaged DisplayMode = iota
	// DisplayWorking shows a generic working indicator
	DisplayWorking
	// DisplayLinked renders a one-line pointer to another session
	DisplayLinked
)

// controlCommands have no SQL or data-fetch phase; a staged progress
// view would mislead.
var controlCommands = map[string]struct{}{
	"/new":  {},
	"/help": {},
}

// DisplayModeFor derives the render mode for a section. Derived, never
// stored: it follows entirely from current section state.
func DisplayModeFor(sec *domain.ChatSection) DisplayMode {
	if sec.LinkedSession != nil {
		return DisplayLinked
	}
	if sec.Status == domain.StageNew {
		if _, ok := controlCommands[sec.Prompt()]; ok {
			return DisplayWorking
		}
	}
	return DisplayStaged
}
