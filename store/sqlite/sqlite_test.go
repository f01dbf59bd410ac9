package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bloodbank/engine"
	"github.com/warp/bloodbank/geo"
	"github.com/warp/bloodbank/store/sqlite"
)

var base = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// mkUnit builds an available unit with a deterministic ID so ordering
// assertions are stable.
func mkUnit(t *testing.T, id string, bt engine.BloodType, comp engine.Component, ml int, addedAt time.Time) engine.BloodUnit {
	t.Helper()
	u, err := engine.NewBloodUnit(bt, comp, engine.VolumeFromInt(ml), addedAt)
	require.NoError(t, err)
	u.ID = engine.UnitID(id)
	return u
}

// =============================================================================
// UNITS
// =============================================================================

func TestUnitRoundTrip(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	u := mkUnit(t, "u-1", engine.TypeAPos, engine.ComponentRedCells, 450, base)
	require.NoError(t, st.InsertUnit(ctx, u))

	got, err := st.Unit(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.BloodType, got.BloodType)
	assert.Equal(t, u.Component, got.Component)
	assert.Equal(t, u.Status, got.Status)
	assert.True(t, got.Volume.Equal(u.Volume))
	assert.True(t, got.Remaining.Equal(u.Remaining))
	assert.True(t, got.ExpiresAt.Equal(u.ExpiresAt))
	assert.True(t, got.AddedAt.Equal(u.AddedAt))

	_, err = st.Unit(ctx, "no-such-unit")
	assert.True(t, engine.IsNotFound(err))
}

func TestTransitionUnit_GuardedUpdate(t *testing.T) {
	// GIVEN: An available unit
	// WHEN: Two writers race the same available->reserved transition
	// THEN: The first wins, the second gets a conflict naming both states

	st := newStore(t)
	ctx := context.Background()

	u := mkUnit(t, "u-1", engine.TypeAPos, engine.ComponentRedCells, 450, base)
	require.NoError(t, st.InsertUnit(ctx, u))

	require.NoError(t, st.TransitionUnit(ctx, u.ID, engine.UnitAvailable, engine.UnitReserved))

	err := st.TransitionUnit(ctx, u.ID, engine.UnitAvailable, engine.UnitReserved)
	require.True(t, engine.IsConflict(err))
	var conflict *engine.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, string(engine.UnitReserved), conflict.Actual)

	err = st.TransitionUnit(ctx, "no-such-unit", engine.UnitAvailable, engine.UnitReserved)
	assert.True(t, engine.IsNotFound(err))
}

func TestCandidates_FEFOWithFilters(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	// Expiry order is c (oldest intake), then a/b tied, broken by ID.
	require.NoError(t, st.InsertUnit(ctx, mkUnit(t, "u-b", engine.TypeAPos, engine.ComponentRedCells, 300, base)))
	require.NoError(t, st.InsertUnit(ctx, mkUnit(t, "u-a", engine.TypeAPos, engine.ComponentRedCells, 100, base)))
	require.NoError(t, st.InsertUnit(ctx, mkUnit(t, "u-c", engine.TypeAPos, engine.ComponentRedCells, 200, base.AddDate(0, 0, -5))))
	require.NoError(t, st.InsertUnit(ctx, mkUnit(t, "u-expired", engine.TypeAPos, engine.ComponentRedCells, 500, base.AddDate(0, 0, -60))))
	require.NoError(t, st.InsertUnit(ctx, mkUnit(t, "u-other", engine.TypeBPos, engine.ComponentRedCells, 500, base)))

	reserved := mkUnit(t, "u-held", engine.TypeAPos, engine.ComponentRedCells, 400, base.AddDate(0, 0, -10))
	reserved.Status = engine.UnitReserved
	require.NoError(t, st.InsertUnit(ctx, reserved))

	q := engine.CandidateQuery{
		BloodType: engine.TypeAPos,
		Component: engine.ComponentRedCells,
		AsOf:      base,
	}

	units, err := st.Candidates(ctx, q)
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Equal(t, engine.UnitID("u-c"), units[0].ID)
	assert.Equal(t, engine.UnitID("u-a"), units[1].ID)
	assert.Equal(t, engine.UnitID("u-b"), units[2].ID)

	q.IncludeReserved = true
	units, err = st.Candidates(ctx, q)
	require.NoError(t, err)
	require.Len(t, units, 4)
	assert.Equal(t, engine.UnitID("u-held"), units[0].ID, "earliest expiry first, reserved included")

	q.IncludeReserved = false
	q.MinRemaining = engine.VolumeFromInt(200)
	units, err = st.Candidates(ctx, q)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, engine.UnitID("u-c"), units[0].ID)
	assert.Equal(t, engine.UnitID("u-b"), units[1].ID)
}

func TestExpireUnits_DayBoundary(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	u := mkUnit(t, "u-1", engine.TypeOPos, engine.ComponentPlatelets, 300, base)
	require.NoError(t, st.InsertUnit(ctx, u))

	// Platelets live 5 days; still usable on the expiry day itself.
	n, err := st.ExpireUnits(ctx, base.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = st.ExpireUnits(ctx, base.AddDate(0, 0, 6))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.Unit(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.UnitExpired, got.Status)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(s engine.Store) error {
		if err := s.InsertUnit(ctx, mkUnit(t, "u-1", engine.TypeAPos, engine.ComponentRedCells, 450, base)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = st.Unit(ctx, "u-1")
	assert.True(t, engine.IsNotFound(err), "the insert must not survive the rollback")
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(s engine.Store) error {
		return s.InsertUnit(ctx, mkUnit(t, "u-1", engine.TypeAPos, engine.ComponentRedCells, 450, base))
	})
	require.NoError(t, err)

	_, err = st.Unit(ctx, "u-1")
	assert.NoError(t, err)
}

// =============================================================================
// RESERVATION LINKS
// =============================================================================

func TestInsertLink_UnitHeldByAtMostOneAssignedLink(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	link := engine.ReservationLink{
		ID: "l-1", DemandID: "d-1", UnitID: "u-1",
		AssignedVolume: engine.VolumeFromInt(200),
		Status:         engine.LinkAssigned,
		AssignedAt:     base,
	}
	require.NoError(t, st.InsertLink(ctx, link))

	dup := link
	dup.ID = "l-2"
	dup.DemandID = "d-2"
	err := st.InsertLink(ctx, dup)
	assert.True(t, engine.IsConflict(err))

	// Once the first hold is returned, the unit can be held again.
	require.NoError(t, st.TransitionLink(ctx, "l-1", engine.LinkAssigned, engine.LinkReturned))
	require.NoError(t, st.InsertLink(ctx, dup))

	got, err := st.AssignedLinkByUnit(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, engine.LinkID("l-2"), got.ID)
}

func TestInsertLink_OtherErrorsAreNotConflicts(t *testing.T) {
	// A duplicate primary key violates a different constraint than the
	// one-assigned-link-per-unit index and must not read as a lost race.

	st := newStore(t)
	ctx := context.Background()

	link := engine.ReservationLink{
		ID: "l-1", DemandID: "d-1", UnitID: "u-1",
		AssignedVolume: engine.VolumeFromInt(200),
		Status:         engine.LinkReturned,
		AssignedAt:     base,
	}
	require.NoError(t, st.InsertLink(ctx, link))

	link.UnitID = "u-2"
	err := st.InsertLink(ctx, link)
	require.Error(t, err)
	assert.False(t, engine.IsConflict(err))
}

// =============================================================================
// DEMANDS
// =============================================================================

func TestDemandRoundTrip_UrgentWithPatientAndOrigin(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	d, err := engine.NewUrgentDemand(engine.UrgentInput{
		BloodType: engine.TypeONeg,
		Component: engine.ComponentRedCells,
		Volume:    engine.VolumeFromInt(400),
		Patient:   engine.PatientDetails{Name: "John Doe", Contact: "+1-555-0101"},
		Origin:    &geo.Point{Lat: 52.52, Lon: 13.405},
		Reason:    "trauma",
	}, base)
	require.NoError(t, err)
	require.NoError(t, st.InsertDemand(ctx, d))

	got, err := st.Demand(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.UrgencyUrgent, got.Urgency)
	assert.Equal(t, engine.TypeONeg, got.BloodType)
	assert.Equal(t, "trauma", got.Reason)
	require.NotNil(t, got.Patient)
	assert.Equal(t, "John Doe", got.Patient.Name)
	require.NotNil(t, got.Origin)
	assert.InDelta(t, 52.52, got.Origin.Lat, 1e-9)
	assert.True(t, got.RequiredVolume.Equal(engine.VolumeFromInt(400)))
	assert.Nil(t, got.ApprovedAt)
}

func TestUpdateDemand_Guard(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	d, err := engine.NewRoutineDemand(engine.TypeAPos, engine.ComponentRedCells, engine.VolumeFromInt(400), "surgery", base)
	require.NoError(t, err)
	require.NoError(t, st.InsertDemand(ctx, d))

	d.Status = engine.DemandRejected
	require.NoError(t, st.UpdateDemand(ctx, d, engine.DemandPending))

	d.Status = engine.DemandCancelled
	err = st.UpdateDemand(ctx, d, engine.DemandPending)
	assert.True(t, engine.IsConflict(err))

	d.ID = "no-such-demand"
	err = st.UpdateDemand(ctx, d, engine.DemandPending)
	assert.True(t, engine.IsNotFound(err))
}

// =============================================================================
// COLLECTION PERIODS
// =============================================================================

func TestPeriods_ActiveAndCompletion(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	_, err := st.ActivePeriod(ctx)
	assert.True(t, engine.IsNotFound(err))

	p, err := engine.NewCollectionPeriod("summer drive", base, base.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.NoError(t, st.InsertPeriod(ctx, p))

	active, err := st.ActivePeriod(ctx)
	require.NoError(t, err)
	assert.Equal(t, p.ID, active.ID)

	n, err := st.CompletePeriods(ctx, base.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "still active on its end day")

	n, err = st.CompletePeriods(ctx, base.AddDate(0, 0, 4))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = st.ActivePeriod(ctx)
	assert.True(t, engine.IsNotFound(err))
}

// =============================================================================
// COMPATIBILITY RULES
// =============================================================================

func TestRules_SeededOnOpen(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	rules, err := st.Rules(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, rules)

	oracle := engine.NewOracle(rules)
	assert.True(t, oracle.IsCompatible(engine.TypeONeg, engine.TypeAPos, engine.ComponentRedCells))
	assert.False(t, oracle.IsCompatible(engine.TypeAPos, engine.TypeONeg, engine.ComponentRedCells))
}

func TestReplaceRules(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	custom := []engine.CompatibilityRule{
		{Donor: engine.TypeBNeg, Recipient: engine.TypeBPos, Component: engine.ComponentPlasma, Compatible: true},
	}
	require.NoError(t, st.ReplaceRules(ctx, custom))

	rules, err := st.Rules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, engine.TypeBNeg, rules[0].Donor)
}

// =============================================================================
// DONOR REGISTRY
// =============================================================================

func TestDonorsByTypes(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	lastDonation := base.AddDate(0, 0, -120)
	require.NoError(t, st.InsertDonor(ctx, engine.Donor{
		ID: "d-1", Name: "Alex", BloodType: engine.TypeONeg,
		LastDonation: &lastDonation,
		Location:     &geo.Point{Lat: 52.52, Lon: 13.405},
	}))
	require.NoError(t, st.InsertDonor(ctx, engine.Donor{
		ID: "d-2", Name: "Sam", BloodType: engine.TypeOPos,
	}))
	require.NoError(t, st.InsertDonor(ctx, engine.Donor{
		ID: "d-3", Name: "Kim", BloodType: engine.TypeABPos,
	}))

	donors, err := st.DonorsByTypes(ctx, []engine.BloodType{engine.TypeONeg, engine.TypeOPos})
	require.NoError(t, err)
	require.Len(t, donors, 2)

	assert.Equal(t, engine.DonorID("d-1"), donors[0].ID)
	require.NotNil(t, donors[0].LastDonation)
	assert.True(t, donors[0].LastDonation.Equal(lastDonation))
	require.NotNil(t, donors[0].Location)
	assert.InDelta(t, 13.405, donors[0].Location.Lon, 1e-9)

	assert.Equal(t, engine.DonorID("d-2"), donors[1].ID)
	assert.Nil(t, donors[1].LastDonation)
	assert.Nil(t, donors[1].Location)

	none, err := st.DonorsByTypes(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// END TO END - Reservation manager over the SQL store
// =============================================================================

func TestManagerCommitAndCompleteOverSQLite(t *testing.T) {
	// GIVEN: A manager wired to the SQL store
	// WHEN: Committing a selection and completing the demand
	// THEN: Guarded transitions and volume deductions behave exactly as
	//       with the in-memory store

	st := newStore(t)
	ctx := context.Background()

	mgr := &engine.Manager{Store: st, Oracle: engine.DefaultOracle()}

	u := mkUnit(t, "u-1", engine.TypeAPos, engine.ComponentRedCells, 450, base)
	require.NoError(t, st.InsertUnit(ctx, u))

	d, err := engine.NewRoutineDemand(engine.TypeAPos, engine.ComponentRedCells, engine.VolumeFromInt(400), "surgery", base)
	require.NoError(t, err)
	require.NoError(t, st.InsertDemand(ctx, d))

	approved, links, err := mgr.Commit(ctx, d.ID, []engine.Selection{
		{UnitID: u.ID, Volume: engine.VolumeFromInt(400)},
	}, false, base)
	require.NoError(t, err)
	assert.Equal(t, engine.DemandApproved, approved.Status)
	require.Len(t, links, 1)
	assert.Equal(t, engine.LinkAssigned, links[0].Status)

	held, err := st.Unit(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.UnitReserved, held.Status)
	assert.True(t, held.Remaining.Equal(held.Volume), "volume is deducted on completion, not reservation")

	completed, err := mgr.Complete(ctx, d.ID, base.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, engine.DemandCompleted, completed.Status)

	used, err := st.Unit(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.UnitPartialUsed, used.Status)
	assert.True(t, used.Remaining.Equal(engine.VolumeFromInt(50)))

	final, err := st.LinksByDemand(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, final, 1)
	assert.Equal(t, engine.LinkUsed, final[0].Status)
}
