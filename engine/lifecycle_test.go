package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bloodbank/engine"
)

// =============================================================================
// FULL FLOW
// =============================================================================

func TestController_RoutineFlow_PlanApproveComplete(t *testing.T) {
	// GIVEN: Stock covering a routine demand
	// WHEN: Driving plan -> approve -> complete through the controller
	// THEN: Every entity lands in its terminal happy-path state

	c, mem, _ := newEngine(t)
	ctx := context.Background()

	addUnit(t, mem, engine.TypeAPos, engine.ComponentRedCells, 300, day0)
	addUnit(t, mem, engine.TypeAPos, engine.ComponentRedCells, 300, day0)

	demand := routineDemand(t, c, engine.TypeAPos, engine.ComponentRedCells, 450)

	plan, err := c.PlanAllocation(ctx, demand.ID)
	require.NoError(t, err)
	require.True(t, plan.Enough)

	approved, err := c.Approve(ctx, demand.ID, selectionsFromPlan(plan))
	require.NoError(t, err)
	assert.Equal(t, engine.DemandApproved, approved.Status)

	completed, err := c.Complete(ctx, demand.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.DemandCompleted, completed.Status)

	used := engine.UnitUsed
	units, err := mem.ListUnits(ctx, &used)
	require.NoError(t, err)
	assert.Len(t, units, 1)
}

func TestController_PlanRequiresPendingDemand(t *testing.T) {
	c, mem, _ := newEngine(t)
	ctx := context.Background()

	addUnit(t, mem, engine.TypeAPos, engine.ComponentRedCells, 450, day0)
	demand := routineDemand(t, c, engine.TypeAPos, engine.ComponentRedCells, 400)

	plan, err := c.PlanAllocation(ctx, demand.ID)
	require.NoError(t, err)
	_, err = c.Approve(ctx, demand.ID, selectionsFromPlan(plan))
	require.NoError(t, err)

	_, err = c.PlanAllocation(ctx, demand.ID)
	assert.True(t, engine.IsState(err), "approved demands are not re-planned")
}

// =============================================================================
// URGENT INTAKE AND TYPE RESOLUTION
// =============================================================================

func TestController_UrgentUnknownType_ResolvedBeforePlanning(t *testing.T) {
	// GIVEN: An urgent demand admitted before the patient was typed
	// WHEN: Planning before and after the type is resolved
	// THEN: Planning is rejected until resolution, then proceeds

	c, mem, _ := newEngine(t)
	ctx := context.Background()

	addUnit(t, mem, engine.TypeONeg, engine.ComponentRedCells, 450, day0)

	demand, err := c.CreateUrgent(ctx, engine.UrgentInput{
		BloodType: engine.TypeUnknown,
		Component: engine.ComponentRedCells,
		Volume:    engine.VolumeFromInt(400),
		Patient:   engine.PatientDetails{Name: "John Doe", Contact: "+1-555-0101"},
	})
	require.NoError(t, err)

	_, err = c.PlanAllocation(ctx, demand.ID)
	assert.True(t, engine.IsValidation(err))

	resolved, err := c.ResolveBloodType(ctx, demand.ID, engine.TypeONeg)
	require.NoError(t, err)
	assert.Equal(t, engine.TypeONeg, resolved.BloodType)

	plan, err := c.PlanAllocation(ctx, demand.ID)
	require.NoError(t, err)
	assert.True(t, plan.Enough)
}

func TestController_ResolveBloodType_Guards(t *testing.T) {
	c, _, _ := newEngine(t)
	ctx := context.Background()

	typed := urgentDemand(t, c, engine.TypeAPos, engine.ComponentRedCells, 400)
	_, err := c.ResolveBloodType(ctx, typed.ID, engine.TypeONeg)
	assert.True(t, engine.IsState(err), "an already-typed demand cannot be re-typed")

	untyped, err := c.CreateUrgent(ctx, engine.UrgentInput{
		BloodType: engine.TypeUnknown,
		Component: engine.ComponentRedCells,
		Volume:    engine.VolumeFromInt(400),
		Patient:   engine.PatientDetails{Name: "John Doe"},
	})
	require.NoError(t, err)

	_, err = c.ResolveBloodType(ctx, untyped.ID, engine.BloodType("Z+"))
	assert.True(t, engine.IsValidation(err))
}

func TestController_AssignUrgent_RejectsRoutineDemand(t *testing.T) {
	c, mem, _ := newEngine(t)
	ctx := context.Background()

	u := addUnit(t, mem, engine.TypeAPos, engine.ComponentRedCells, 450, day0)
	demand := routineDemand(t, c, engine.TypeAPos, engine.ComponentRedCells, 400)

	_, err := c.AssignUrgent(ctx, demand.ID, []engine.Selection{
		{UnitID: u.ID, Volume: engine.VolumeFromInt(400)},
	}, true)
	assert.True(t, engine.IsValidation(err))
}

// =============================================================================
// MOBILIZATION NOTIFICATION
// =============================================================================

type recordingNotifier struct {
	demands []engine.DemandID
	counts  []int
}

func (n *recordingNotifier) MobilizationRequested(_ context.Context, demand engine.DemandRequest, donors []engine.DonorMatch) {
	n.demands = append(n.demands, demand.ID)
	n.counts = append(n.counts, len(donors))
}

func TestController_MobilizationPlanFiresNotifier(t *testing.T) {
	c, _, _ := newEngine(t)
	ctx := context.Background()

	notifier := &recordingNotifier{}
	c.Notifier = notifier
	c.Planner.Registry = &staticRegistry{donors: []engine.Donor{
		{ID: "d-1", Name: "Donor", BloodType: engine.TypeONeg},
	}}

	demand := urgentDemand(t, c, engine.TypeONeg, engine.ComponentRedCells, 400)

	plan, err := c.PlanAllocation(ctx, demand.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.TierMobilization, plan.Tier)

	require.Len(t, notifier.demands, 1)
	assert.Equal(t, demand.ID, notifier.demands[0])
	assert.Equal(t, 1, notifier.counts[0])
}

// =============================================================================
// INVENTORY OPERATIONS
// =============================================================================

func TestController_DiscardUnit(t *testing.T) {
	c, mem, _ := newEngine(t)
	ctx := context.Background()

	u := addUnit(t, mem, engine.TypeBPos, engine.ComponentPlasma, 200, day0)

	discarded, err := c.DiscardUnit(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.UnitDiscarded, discarded.Status)

	_, err = c.DiscardUnit(ctx, u.ID)
	assert.True(t, engine.IsConflict(err), "only available units can be discarded")
}

func TestController_RecordDonation_NeedsActivePeriod(t *testing.T) {
	// GIVEN: No collection period is open
	// WHEN: Recording a donation
	// THEN: Rejected; after a period opens, the donation lands on the
	//       shelf; after the period's end day passes, rejected again

	c, _, clock := newEngine(t)
	ctx := context.Background()

	_, err := c.RecordDonation(ctx, engine.TypeOPos, engine.ComponentWholeBlood, engine.VolumeFromInt(450))
	assert.True(t, engine.IsNotFound(err))

	_, err = c.OpenPeriod(ctx, "spring drive", clock.Now(), clock.Now().AddDate(0, 0, 7))
	require.NoError(t, err)

	unit, err := c.RecordDonation(ctx, engine.TypeOPos, engine.ComponentWholeBlood, engine.VolumeFromInt(450))
	require.NoError(t, err)
	assert.Equal(t, engine.UnitAvailable, unit.Status)

	clock.AdvanceDays(10)
	_, err = c.RecordDonation(ctx, engine.TypeOPos, engine.ComponentWholeBlood, engine.VolumeFromInt(450))
	assert.Error(t, err, "the sweep completes the period before the donation is checked")
}

func TestController_ListAvailability_GroupsCompatibleStock(t *testing.T) {
	// GIVEN: A+ and O+ stock plus an incompatible B+ unit and an expiring one
	// WHEN: Summarizing availability for an A+ red-cell recipient
	// THEN: Groups cover the compatible set only, with FEFO next-expiry

	c, mem, _ := newEngine(t)
	ctx := context.Background()

	aPlusOld := addUnit(t, mem, engine.TypeAPos, engine.ComponentRedCells, 300, day0.AddDate(0, 0, -10))
	addUnit(t, mem, engine.TypeAPos, engine.ComponentRedCells, 300, day0)
	addUnit(t, mem, engine.TypeOPos, engine.ComponentRedCells, 250, day0)
	addUnit(t, mem, engine.TypeBPos, engine.ComponentRedCells, 999, day0)
	addUnit(t, mem, engine.TypeAPos, engine.ComponentRedCells, 300, day0.AddDate(0, 0, -60))

	summary, err := c.ListAvailability(ctx, engine.TypeAPos, engine.ComponentRedCells, engine.ZeroVolume())
	require.NoError(t, err)

	assert.True(t, summary.TotalRemaining.Equal(engine.VolumeFromInt(850)), "expired and incompatible stock excluded")
	require.Len(t, summary.Groups, 2)

	assert.Equal(t, engine.TypeAPos, summary.Groups[0].BloodType)
	assert.Equal(t, 2, summary.Groups[0].UnitCount)
	require.NotNil(t, summary.Groups[0].NextExpiry)
	assert.True(t, summary.Groups[0].NextExpiry.Equal(aPlusOld.ExpiresAt))

	assert.Equal(t, engine.TypeOPos, summary.Groups[1].BloodType)
	assert.Equal(t, 1, summary.Groups[1].UnitCount)
}

func TestController_ListAvailability_MinRemainingFloor(t *testing.T) {
	c, mem, _ := newEngine(t)
	ctx := context.Background()

	addUnit(t, mem, engine.TypeONeg, engine.ComponentRedCells, 100, day0)
	addUnit(t, mem, engine.TypeONeg, engine.ComponentRedCells, 400, day0)

	summary, err := c.ListAvailability(ctx, engine.TypeONeg, engine.ComponentRedCells, engine.VolumeFromInt(200))
	require.NoError(t, err)

	require.Len(t, summary.Groups, 1)
	assert.Equal(t, 1, summary.Groups[0].UnitCount)
	assert.True(t, summary.TotalRemaining.Equal(engine.VolumeFromInt(400)))
}

// =============================================================================
// REJECT / CANCEL
// =============================================================================

func TestController_RejectPendingDemand(t *testing.T) {
	c, _, _ := newEngine(t)
	ctx := context.Background()

	demand := routineDemand(t, c, engine.TypeAPos, engine.ComponentRedCells, 400)

	rejected, err := c.Reject(ctx, demand.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.DemandRejected, rejected.Status)

	_, err = c.Reject(ctx, demand.ID)
	assert.True(t, engine.IsState(err))
}

func TestController_CancelApprovedDemandFreesStock(t *testing.T) {
	c, mem, _ := newEngine(t)
	ctx := context.Background()

	addUnit(t, mem, engine.TypeAPos, engine.ComponentRedCells, 450, day0)
	demand := routineDemand(t, c, engine.TypeAPos, engine.ComponentRedCells, 400)

	plan, err := c.PlanAllocation(ctx, demand.ID)
	require.NoError(t, err)
	_, err = c.Approve(ctx, demand.ID, selectionsFromPlan(plan))
	require.NoError(t, err)

	_, err = c.Cancel(ctx, demand.ID)
	require.NoError(t, err)

	available := engine.UnitAvailable
	units, err := mem.ListUnits(ctx, &available)
	require.NoError(t, err)
	assert.Len(t, units, 1, "cancelling returns the stock")
}
