// Package store provides an in-memory engine.TxStore implementation
// for tests and development. Atomicity is simulated with a snapshot
// taken at the start of WithTx and restored on error.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/bloodbank/engine"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	st    *state
	rules []engine.CompatibilityRule
}

type state struct {
	units   map[engine.UnitID]engine.BloodUnit
	demands map[engine.DemandID]engine.DemandRequest
	links   map[engine.LinkID]engine.ReservationLink
	periods map[engine.PeriodID]engine.CollectionPeriod
}

func NewMemory() *Memory {
	// Seeded with the built-in table, mirroring the SQL store.
	return &Memory{st: newState(), rules: engine.DefaultRules()}
}

func newState() *state {
	return &state{
		units:   make(map[engine.UnitID]engine.BloodUnit),
		demands: make(map[engine.DemandID]engine.DemandRequest),
		links:   make(map[engine.LinkID]engine.ReservationLink),
		periods: make(map[engine.PeriodID]engine.CollectionPeriod),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.units {
		c.units[k] = v
	}
	for k, v := range s.demands {
		c.demands[k] = v
	}
	for k, v := range s.links {
		c.links[k] = v
	}
	for k, v := range s.periods {
		c.periods[k] = v
	}
	return c
}

// WithTx executes fn against the live state under the write lock. On
// error the pre-transaction snapshot is restored, so partial writes
// never survive.
func (m *Memory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// =============================================================================
// UNITS
// =============================================================================

func (m *Memory) InsertUnit(_ context.Context, unit engine.BloodUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertUnit(unit)
}

func (m *Memory) Unit(_ context.Context, id engine.UnitID) (engine.BloodUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.unit(id)
}

func (m *Memory) ListUnits(_ context.Context, status *engine.UnitStatus) ([]engine.BloodUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listUnits(status), nil
}

func (m *Memory) Candidates(_ context.Context, q engine.CandidateQuery) ([]engine.BloodUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.candidates(q), nil
}

func (m *Memory) TransitionUnit(_ context.Context, id engine.UnitID, from, to engine.UnitStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.transitionUnit(id, from, to)
}

func (m *Memory) ConsumeUnit(_ context.Context, id engine.UnitID, remaining engine.Volume, to engine.UnitStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.consumeUnit(id, remaining, to)
}

func (m *Memory) ExpireUnits(_ context.Context, asOf time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.expireUnits(asOf), nil
}

// =============================================================================
// DEMANDS
// =============================================================================

func (m *Memory) InsertDemand(_ context.Context, d engine.DemandRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertDemand(d)
}

func (m *Memory) Demand(_ context.Context, id engine.DemandID) (engine.DemandRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.demand(id)
}

func (m *Memory) ListDemands(_ context.Context, status *engine.DemandStatus) ([]engine.DemandRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listDemands(status), nil
}

func (m *Memory) UpdateDemand(_ context.Context, d engine.DemandRequest, from engine.DemandStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateDemand(d, from)
}

// =============================================================================
// LINKS
// =============================================================================

func (m *Memory) InsertLink(_ context.Context, link engine.ReservationLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertLink(link)
}

func (m *Memory) LinksByDemand(_ context.Context, id engine.DemandID) ([]engine.ReservationLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.linksByDemand(id), nil
}

func (m *Memory) AssignedLinkByUnit(_ context.Context, id engine.UnitID) (engine.ReservationLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.assignedLinkByUnit(id)
}

func (m *Memory) TransitionLink(_ context.Context, id engine.LinkID, from, to engine.LinkStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.transitionLink(id, from, to)
}

// =============================================================================
// PERIODS
// =============================================================================

func (m *Memory) InsertPeriod(_ context.Context, p engine.CollectionPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertPeriod(p)
}

func (m *Memory) ActivePeriod(_ context.Context) (engine.CollectionPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.activePeriod()
}

func (m *Memory) CompletePeriods(_ context.Context, asOf time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.completePeriods(asOf), nil
}

// =============================================================================
// COMPATIBILITY RULES
// =============================================================================

func (m *Memory) Rules(_ context.Context) ([]engine.CompatibilityRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.CompatibilityRule(nil), m.rules...), nil
}

func (m *Memory) ReplaceRules(_ context.Context, rules []engine.CompatibilityRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append([]engine.CompatibilityRule(nil), rules...)
	return nil
}

// =============================================================================
// TX VIEW - Runs inside WithTx; the parent already holds the lock
// =============================================================================

type txView struct {
	st *state
}

func (tv *txView) InsertUnit(_ context.Context, unit engine.BloodUnit) error {
	return tv.st.insertUnit(unit)
}

func (tv *txView) Unit(_ context.Context, id engine.UnitID) (engine.BloodUnit, error) {
	return tv.st.unit(id)
}

func (tv *txView) ListUnits(_ context.Context, status *engine.UnitStatus) ([]engine.BloodUnit, error) {
	return tv.st.listUnits(status), nil
}

func (tv *txView) Candidates(_ context.Context, q engine.CandidateQuery) ([]engine.BloodUnit, error) {
	return tv.st.candidates(q), nil
}

func (tv *txView) TransitionUnit(_ context.Context, id engine.UnitID, from, to engine.UnitStatus) error {
	return tv.st.transitionUnit(id, from, to)
}

func (tv *txView) ConsumeUnit(_ context.Context, id engine.UnitID, remaining engine.Volume, to engine.UnitStatus) error {
	return tv.st.consumeUnit(id, remaining, to)
}

func (tv *txView) ExpireUnits(_ context.Context, asOf time.Time) (int, error) {
	return tv.st.expireUnits(asOf), nil
}

func (tv *txView) InsertDemand(_ context.Context, d engine.DemandRequest) error {
	return tv.st.insertDemand(d)
}

func (tv *txView) Demand(_ context.Context, id engine.DemandID) (engine.DemandRequest, error) {
	return tv.st.demand(id)
}

func (tv *txView) ListDemands(_ context.Context, status *engine.DemandStatus) ([]engine.DemandRequest, error) {
	return tv.st.listDemands(status), nil
}

func (tv *txView) UpdateDemand(_ context.Context, d engine.DemandRequest, from engine.DemandStatus) error {
	return tv.st.updateDemand(d, from)
}

func (tv *txView) InsertLink(_ context.Context, link engine.ReservationLink) error {
	return tv.st.insertLink(link)
}

func (tv *txView) LinksByDemand(_ context.Context, id engine.DemandID) ([]engine.ReservationLink, error) {
	return tv.st.linksByDemand(id), nil
}

func (tv *txView) AssignedLinkByUnit(_ context.Context, id engine.UnitID) (engine.ReservationLink, error) {
	return tv.st.assignedLinkByUnit(id)
}

func (tv *txView) TransitionLink(_ context.Context, id engine.LinkID, from, to engine.LinkStatus) error {
	return tv.st.transitionLink(id, from, to)
}

func (tv *txView) InsertPeriod(_ context.Context, p engine.CollectionPeriod) error {
	return tv.st.insertPeriod(p)
}

func (tv *txView) ActivePeriod(_ context.Context) (engine.CollectionPeriod, error) {
	return tv.st.activePeriod()
}

func (tv *txView) CompletePeriods(_ context.Context, asOf time.Time) (int, error) {
	return tv.st.completePeriods(asOf), nil
}

// =============================================================================
// STATE OPERATIONS
// =============================================================================

func (s *state) insertUnit(unit engine.BloodUnit) error {
	s.units[unit.ID] = unit
	return nil
}

func (s *state) unit(id engine.UnitID) (engine.BloodUnit, error) {
	unit, ok := s.units[id]
	if !ok {
		return engine.BloodUnit{}, &engine.NotFoundError{Kind: "unit", ID: string(id)}
	}
	return unit, nil
}

func (s *state) listUnits(status *engine.UnitStatus) []engine.BloodUnit {
	var units []engine.BloodUnit
	for _, u := range s.units {
		if status != nil && u.Status != *status {
			continue
		}
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units
}

func (s *state) candidates(q engine.CandidateQuery) []engine.BloodUnit {
	var units []engine.BloodUnit
	for _, u := range s.units {
		if u.BloodType != q.BloodType || u.Component != q.Component {
			continue
		}
		if u.Status != engine.UnitAvailable && !(q.IncludeReserved && u.Status == engine.UnitReserved) {
			continue
		}
		if !u.Remaining.IsPositive() {
			continue
		}
		if q.MinRemaining.IsPositive() && u.Remaining.LessThan(q.MinRemaining) {
			continue
		}
		if u.ExpiredAt(q.AsOf) {
			continue
		}
		units = append(units, u)
	}
	// FEFO with unit-id tiebreak for stable plans.
	sort.Slice(units, func(i, j int) bool {
		if !units[i].ExpiresAt.Equal(units[j].ExpiresAt) {
			return units[i].ExpiresAt.Before(units[j].ExpiresAt)
		}
		return units[i].ID < units[j].ID
	})
	return units
}

func (s *state) transitionUnit(id engine.UnitID, from, to engine.UnitStatus) error {
	unit, ok := s.units[id]
	if !ok {
		return &engine.NotFoundError{Kind: "unit", ID: string(id)}
	}
	if unit.Status != from {
		return &engine.ConflictError{Kind: "unit", ID: string(id), Expected: string(from), Actual: string(unit.Status)}
	}
	unit.Status = to
	s.units[id] = unit
	return nil
}

func (s *state) consumeUnit(id engine.UnitID, remaining engine.Volume, to engine.UnitStatus) error {
	unit, ok := s.units[id]
	if !ok {
		return &engine.NotFoundError{Kind: "unit", ID: string(id)}
	}
	if unit.Status != engine.UnitReserved {
		return &engine.ConflictError{Kind: "unit", ID: string(id), Expected: string(engine.UnitReserved), Actual: string(unit.Status)}
	}
	unit.Remaining = remaining
	unit.Status = to
	s.units[id] = unit
	return nil
}

func (s *state) expireUnits(asOf time.Time) int {
	n := 0
	for id, u := range s.units {
		if u.Status.Expirable() && u.ExpiredAt(asOf) {
			u.Status = engine.UnitExpired
			s.units[id] = u
			n++
		}
	}
	return n
}

func (s *state) insertDemand(d engine.DemandRequest) error {
	s.demands[d.ID] = d
	return nil
}

func (s *state) demand(id engine.DemandID) (engine.DemandRequest, error) {
	d, ok := s.demands[id]
	if !ok {
		return engine.DemandRequest{}, &engine.NotFoundError{Kind: "demand", ID: string(id)}
	}
	return d, nil
}

func (s *state) listDemands(status *engine.DemandStatus) []engine.DemandRequest {
	var demands []engine.DemandRequest
	for _, d := range s.demands {
		if status != nil && d.Status != *status {
			continue
		}
		demands = append(demands, d)
	}
	sort.Slice(demands, func(i, j int) bool { return demands[i].ID < demands[j].ID })
	return demands
}

func (s *state) updateDemand(d engine.DemandRequest, from engine.DemandStatus) error {
	current, ok := s.demands[d.ID]
	if !ok {
		return &engine.NotFoundError{Kind: "demand", ID: string(d.ID)}
	}
	if current.Status != from {
		return &engine.ConflictError{Kind: "demand", ID: string(d.ID), Expected: string(from), Actual: string(current.Status)}
	}
	s.demands[d.ID] = d
	return nil
}

func (s *state) insertLink(link engine.ReservationLink) error {
	if link.Status == engine.LinkAssigned {
		for _, l := range s.links {
			if l.UnitID == link.UnitID && l.Status == engine.LinkAssigned {
				return &engine.ConflictError{Kind: "unit", ID: string(link.UnitID), Expected: "unheld", Actual: "held by " + string(l.DemandID)}
			}
		}
	}
	s.links[link.ID] = link
	return nil
}

func (s *state) linksByDemand(id engine.DemandID) []engine.ReservationLink {
	var links []engine.ReservationLink
	for _, l := range s.links {
		if l.DemandID == id {
			links = append(links, l)
		}
	}
	sort.Slice(links, func(i, j int) bool { return links[i].ID < links[j].ID })
	return links
}

func (s *state) assignedLinkByUnit(id engine.UnitID) (engine.ReservationLink, error) {
	for _, l := range s.links {
		if l.UnitID == id && l.Status == engine.LinkAssigned {
			return l, nil
		}
	}
	return engine.ReservationLink{}, &engine.NotFoundError{Kind: "link", ID: "assigned for unit " + string(id)}
}

func (s *state) transitionLink(id engine.LinkID, from, to engine.LinkStatus) error {
	link, ok := s.links[id]
	if !ok {
		return &engine.NotFoundError{Kind: "link", ID: string(id)}
	}
	if link.Status != from {
		return &engine.ConflictError{Kind: "link", ID: string(id), Expected: string(from), Actual: string(link.Status)}
	}
	link.Status = to
	s.links[id] = link
	return nil
}

func (s *state) insertPeriod(p engine.CollectionPeriod) error {
	s.periods[p.ID] = p
	return nil
}

func (s *state) activePeriod() (engine.CollectionPeriod, error) {
	var active []engine.CollectionPeriod
	for _, p := range s.periods {
		if p.Status == engine.PeriodActive {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return engine.CollectionPeriod{}, &engine.NotFoundError{Kind: "period", ID: "active"}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Start.Before(active[j].Start) })
	return active[len(active)-1], nil
}

func (s *state) completePeriods(asOf time.Time) int {
	n := 0
	for id, p := range s.periods {
		if p.Status == engine.PeriodActive && p.EndedAt(asOf) {
			p.Status = engine.PeriodCompleted
			s.periods[id] = p
			n++
		}
	}
	return n
}
