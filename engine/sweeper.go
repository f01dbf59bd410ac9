/*
sweeper.go - Lazy expiry of units and collection periods

PURPOSE:
  There is no background job. The sweep runs opportunistically at the
  start of any listing or allocation call: units whose expiry day has
  passed become Expired, collection periods past their end date become
  Completed. Both sweeps are idempotent - running them twice with the
  same clock is a no-op the second time.

  A Reserved unit that expires keeps its Assigned link; the conflict
  surfaces through guarded transitions when the owning demand is
  completed or released.
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// COLLECTION PERIOD - Donation drive window
// =============================================================================

type PeriodStatus string

const (
	PeriodActive    PeriodStatus = "active"
	PeriodCompleted PeriodStatus = "completed"
)

type CollectionPeriod struct {
	ID     PeriodID
	Name   string
	Start  time.Time
	End    time.Time
	Status PeriodStatus
}

// NewCollectionPeriod validates and builds an Active period.
func NewCollectionPeriod(name string, start, end time.Time) (CollectionPeriod, error) {
	if name == "" {
		return CollectionPeriod{}, &InvalidInputError{Field: "name", Value: ""}
	}
	if Day(end).Before(Day(start)) {
		return CollectionPeriod{}, &InvalidInputError{Field: "period_end", Value: end.Format("2006-01-02")}
	}
	return CollectionPeriod{
		ID:     NewPeriodID(),
		Name:   name,
		Start:  Day(start),
		End:    Day(end),
		Status: PeriodActive,
	}, nil
}

// EndedAt reports whether the period's window has closed.
func (p CollectionPeriod) EndedAt(asOf time.Time) bool {
	return p.End.Before(Day(asOf))
}

// =============================================================================
// SWEEPER
// =============================================================================

type SweepResult struct {
	ExpiredUnits     int
	CompletedPeriods int
}

type Sweeper struct {
	Store Store
}

// Run reclassifies stale units and periods as of the given time.
func (sw *Sweeper) Run(ctx context.Context, asOf time.Time) (SweepResult, error) {
	var res SweepResult

	expired, err := sw.Store.ExpireUnits(ctx, asOf)
	if err != nil {
		return res, err
	}
	res.ExpiredUnits = expired

	completed, err := sw.Store.CompletePeriods(ctx, asOf)
	if err != nil {
		return res, err
	}
	res.CompletedPeriods = completed
	return res, nil
}
