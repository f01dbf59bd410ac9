package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/bloodbank/engine"
	memstore "github.com/warp/bloodbank/engine/store"
)

// =============================================================================
// TEST SETUP - Shared fixtures for the engine test files
// =============================================================================

// day0 is the common intake day; tests advance a fake clock from here.
var day0 = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AdvanceDays(n int) { c.now = c.now.AddDate(0, 0, n) }

// newEngine wires a full controller over the in-memory store with an
// injected clock starting at day0.
func newEngine(t *testing.T) (*engine.Controller, *memstore.Memory, *fakeClock) {
	t.Helper()
	mem := memstore.NewMemory()
	clock := &fakeClock{now: day0}
	oracle := engine.DefaultOracle()
	c := &engine.Controller{
		Store:        mem,
		Planner:      &engine.Planner{Store: mem, Oracle: oracle},
		Reservations: &engine.Manager{Store: mem, Oracle: oracle},
		Sweeper:      &engine.Sweeper{Store: mem},
		Now:          clock.Now,
	}
	return c, mem, clock
}

// addUnit inserts an available unit with its intake date controlled, so
// tests can stage distinct expiry dates.
func addUnit(t *testing.T, mem *memstore.Memory, bt engine.BloodType, comp engine.Component, ml int, addedAt time.Time) engine.BloodUnit {
	t.Helper()
	u, err := engine.NewBloodUnit(bt, comp, engine.VolumeFromInt(ml), addedAt)
	require.NoError(t, err)
	require.NoError(t, mem.InsertUnit(context.Background(), u))
	return u
}

// reserveUnit flips an available unit to reserved, simulating a holding
// demand without the full approval dance.
func reserveUnit(t *testing.T, mem *memstore.Memory, id engine.UnitID) {
	t.Helper()
	require.NoError(t, mem.TransitionUnit(context.Background(), id, engine.UnitAvailable, engine.UnitReserved))
}

func routineDemand(t *testing.T, c *engine.Controller, bt engine.BloodType, comp engine.Component, ml int) engine.DemandRequest {
	t.Helper()
	d, err := c.CreateRoutine(context.Background(), bt, comp, engine.VolumeFromInt(ml), "scheduled transfusion")
	require.NoError(t, err)
	return d
}

func urgentDemand(t *testing.T, c *engine.Controller, bt engine.BloodType, comp engine.Component, ml int) engine.DemandRequest {
	t.Helper()
	d, err := c.CreateUrgent(context.Background(), engine.UrgentInput{
		BloodType: bt,
		Component: comp,
		Volume:    engine.VolumeFromInt(ml),
		Patient:   engine.PatientDetails{Name: "Jane Roe", Contact: "+1-555-0100"},
	})
	require.NoError(t, err)
	return d
}

// selectionsFromPlan turns every non-preemptable planned unit into a
// commit selection, the way an operator accepting a plan would.
func selectionsFromPlan(plan *engine.Plan) []engine.Selection {
	var selections []engine.Selection
	for _, g := range plan.Groups {
		for _, pu := range g.Units {
			if pu.Preemptable {
				continue
			}
			selections = append(selections, engine.Selection{UnitID: pu.Unit.ID, Volume: pu.Take})
		}
	}
	return selections
}
