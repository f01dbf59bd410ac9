/*
store.go - Persistence contracts for units, demands, links and periods

PURPOSE:
  Defines the interface between the allocation logic and the database.
  Two properties matter more than anything else here:

  1. GUARDED TRANSITIONS: every status write names the status it
     expects to find. An implementation must apply the write iff the
     current status matches, and return a ConflictError otherwise.
     This is the optimistic check that resolves planner/commit races.

  2. ATOMIC UNITS OF WORK: TxStore.WithTx runs a function against a
     transactional view. Either every write inside commits, or none do.
     Commit/complete/release batches always run inside WithTx.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite (guarded UPDATEs, WAL)
  - engine/store/memory.go: In-memory with snapshot rollback, for tests

SEE ALSO:
  - reservation.go: The only writer of unit/link state
  - lifecycle.go: The only other writer (demand state)
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// CANDIDATE QUERY - FEFO listing for the planner and availability views
// =============================================================================

// CandidateQuery selects units for allocation. Results are ordered by
// ascending ExpiresAt (first-expire-first-out) with ascending unit id
// as the tiebreak, so plans are stable across store implementations.
type CandidateQuery struct {
	BloodType BloodType
	Component Component

	// MinRemaining, when positive, filters out units below the floor.
	// Candidates always have Remaining > 0 regardless.
	MinRemaining Volume

	// AsOf excludes units whose expiry day has passed.
	AsOf time.Time

	// IncludeReserved widens the query to Reserved units for the
	// preemption screening pass. Default is Available only.
	IncludeReserved bool
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// --- Blood units ---

	InsertUnit(ctx context.Context, unit BloodUnit) error
	Unit(ctx context.Context, id UnitID) (BloodUnit, error)
	ListUnits(ctx context.Context, status *UnitStatus) ([]BloodUnit, error)
	Candidates(ctx context.Context, q CandidateQuery) ([]BloodUnit, error)

	// TransitionUnit moves a unit from -> to iff its current status is
	// `from`. Returns ConflictError on a stale expectation.
	TransitionUnit(ctx context.Context, id UnitID, from, to UnitStatus) error

	// ConsumeUnit sets the remaining volume and final status of a
	// Reserved unit in one guarded write.
	ConsumeUnit(ctx context.Context, id UnitID, remaining Volume, to UnitStatus) error

	// ExpireUnits transitions every expirable unit whose expiry day
	// precedes asOf to Expired. Returns the number of units swept.
	ExpireUnits(ctx context.Context, asOf time.Time) (int, error)

	// --- Demands ---

	InsertDemand(ctx context.Context, d DemandRequest) error
	Demand(ctx context.Context, id DemandID) (DemandRequest, error)
	ListDemands(ctx context.Context, status *DemandStatus) ([]DemandRequest, error)

	// UpdateDemand persists the given demand iff its stored status is
	// `from`. Returns ConflictError on a stale expectation.
	UpdateDemand(ctx context.Context, d DemandRequest, from DemandStatus) error

	// --- Reservation links ---

	InsertLink(ctx context.Context, link ReservationLink) error
	LinksByDemand(ctx context.Context, id DemandID) ([]ReservationLink, error)

	// AssignedLinkByUnit returns the single Assigned link holding the
	// unit, or a NotFoundError when the unit is not held.
	AssignedLinkByUnit(ctx context.Context, id UnitID) (ReservationLink, error)

	// TransitionLink moves a link from -> to under the same guard
	// discipline as TransitionUnit.
	TransitionLink(ctx context.Context, id LinkID, from, to LinkStatus) error

	// --- Collection periods ---

	InsertPeriod(ctx context.Context, p CollectionPeriod) error
	ActivePeriod(ctx context.Context) (CollectionPeriod, error)

	// CompletePeriods flips Active periods whose end day has passed to
	// Completed. Returns the number of periods closed.
	CompletePeriods(ctx context.Context, asOf time.Time) (int, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with atomic units of work.
type TxStore interface {
	Store

	// WithTx executes fn against a transactional view of the store.
	// If fn returns an error, every write inside is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
