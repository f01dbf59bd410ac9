/*
lifecycle.go - Demand lifecycle controller

PURPOSE:
  Owns the request-side flow for routine and urgent demands and is the
  front door of the engine:

    create -> plan -> approve/assign -> complete | cancel

  Each transition delegates the unit/link writes to the reservation
  Manager; the controller itself owns creation, rejection, the expiry
  sweep before every read path, availability summaries, and the
  fire-and-forget mobilization notification.

CONCURRENCY:
  The controller is safe for concurrent callers: all shared state lives
  in the store, and every mutation goes through guarded transitions
  inside one atomic unit of work. A caller that loses a commit race
  gets ErrConflict and re-plans.
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// NOTIFIER - External collaborator, fire-and-forget
// =============================================================================

// Notifier is told when a plan falls through to donor mobilization.
// Implementations must not block the request path; delivery is not part
// of the engine's correctness.
type Notifier interface {
	MobilizationRequested(ctx context.Context, demand DemandRequest, donors []DonorMatch)
}

// =============================================================================
// AVAILABILITY SUMMARY
// =============================================================================

type AvailabilityGroup struct {
	BloodType      BloodType
	UnitCount      int
	TotalRemaining Volume
	NextExpiry     *time.Time
}

type AvailabilitySummary struct {
	Recipient      BloodType
	Component      Component
	Groups         []AvailabilityGroup
	TotalRemaining Volume
}

// =============================================================================
// CONTROLLER
// =============================================================================

type Controller struct {
	Store        TxStore
	Planner      *Planner
	Reservations *Manager
	Sweeper      *Sweeper

	// Notifier may be nil.
	Notifier Notifier

	// Now is the clock; nil means time.Now. Injected for tests.
	Now func() time.Time
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// sweep runs the lazy expiry pass that precedes every listing or
// allocation call.
func (c *Controller) sweep(ctx context.Context) error {
	_, err := c.Sweeper.Run(ctx, c.now())
	return err
}

// --- Inventory-side operations -----------------------------------------------

// CreateUnit adds a manually entered unit to the shelf.
func (c *Controller) CreateUnit(ctx context.Context, bt BloodType, component Component, volume Volume) (BloodUnit, error) {
	unit, err := NewBloodUnit(bt, component, volume, c.now())
	if err != nil {
		return BloodUnit{}, err
	}
	if err := c.Store.InsertUnit(ctx, unit); err != nil {
		return BloodUnit{}, err
	}
	return unit, nil
}

// RecordDonation books a collected unit against the active collection
// period. Without an active period the donation is rejected.
func (c *Controller) RecordDonation(ctx context.Context, bt BloodType, component Component, volume Volume) (BloodUnit, error) {
	if err := c.sweep(ctx); err != nil {
		return BloodUnit{}, err
	}
	period, err := c.Store.ActivePeriod(ctx)
	if err != nil {
		return BloodUnit{}, err
	}
	if period.EndedAt(c.now()) {
		return BloodUnit{}, &StateError{Kind: "period", ID: string(period.ID), Status: string(period.Status), Attempt: "donate into ended"}
	}
	return c.CreateUnit(ctx, bt, component, volume)
}

// DiscardUnit removes an Available unit from circulation.
func (c *Controller) DiscardUnit(ctx context.Context, id UnitID) (BloodUnit, error) {
	if err := c.Store.TransitionUnit(ctx, id, UnitAvailable, UnitDiscarded); err != nil {
		return BloodUnit{}, err
	}
	return c.Store.Unit(ctx, id)
}

// OpenPeriod starts a new collection period.
func (c *Controller) OpenPeriod(ctx context.Context, name string, start, end time.Time) (CollectionPeriod, error) {
	period, err := NewCollectionPeriod(name, start, end)
	if err != nil {
		return CollectionPeriod{}, err
	}
	if err := c.Store.InsertPeriod(ctx, period); err != nil {
		return CollectionPeriod{}, err
	}
	return period, nil
}

// ListAvailability summarizes usable stock for a recipient, grouped by
// donor type over the compatible set.
func (c *Controller) ListAvailability(ctx context.Context, recipient BloodType, component Component, minRemaining Volume) (AvailabilitySummary, error) {
	if !recipient.Known() {
		return AvailabilitySummary{}, &InvalidInputError{Field: "blood_type", Value: string(recipient)}
	}
	if _, err := ShelfLifeDays(component); err != nil {
		return AvailabilitySummary{}, err
	}
	if err := c.sweep(ctx); err != nil {
		return AvailabilitySummary{}, err
	}

	summary := AvailabilitySummary{
		Recipient:      recipient,
		Component:      component,
		TotalRemaining: ZeroVolume(),
	}
	for _, bt := range c.Planner.Oracle.DonorTypesFor(recipient, component) {
		units, err := c.Store.Candidates(ctx, CandidateQuery{
			BloodType:    bt,
			Component:    component,
			MinRemaining: minRemaining,
			AsOf:         c.now(),
		})
		if err != nil {
			return AvailabilitySummary{}, err
		}
		if len(units) == 0 {
			continue
		}
		group := AvailabilityGroup{BloodType: bt, TotalRemaining: ZeroVolume()}
		for _, u := range units {
			group.UnitCount++
			group.TotalRemaining = group.TotalRemaining.Add(u.Remaining)
		}
		next := units[0].ExpiresAt // FEFO order: first candidate expires first
		group.NextExpiry = &next
		summary.Groups = append(summary.Groups, group)
		summary.TotalRemaining = summary.TotalRemaining.Add(group.TotalRemaining)
	}
	return summary, nil
}

// --- Demand-side operations --------------------------------------------------

// CreateRoutine registers a Pending routine demand.
func (c *Controller) CreateRoutine(ctx context.Context, bt BloodType, component Component, volume Volume, reason string) (DemandRequest, error) {
	demand, err := NewRoutineDemand(bt, component, volume, reason, c.now())
	if err != nil {
		return DemandRequest{}, err
	}
	if err := c.Store.InsertDemand(ctx, demand); err != nil {
		return DemandRequest{}, err
	}
	return demand, nil
}

// CreateUrgent registers a Pending urgent demand, possibly with an
// unknown blood type to be resolved before planning.
func (c *Controller) CreateUrgent(ctx context.Context, in UrgentInput) (DemandRequest, error) {
	demand, err := NewUrgentDemand(in, c.now())
	if err != nil {
		return DemandRequest{}, err
	}
	if err := c.Store.InsertDemand(ctx, demand); err != nil {
		return DemandRequest{}, err
	}
	return demand, nil
}

// ResolveBloodType fixes the recipient type of a Pending urgent demand
// that was created before the patient was typed.
func (c *Controller) ResolveBloodType(ctx context.Context, id DemandID, bt BloodType) (DemandRequest, error) {
	if _, err := ParseBloodType(string(bt)); err != nil {
		return DemandRequest{}, err
	}

	var demand DemandRequest
	err := c.Store.WithTx(ctx, func(s Store) error {
		var err error
		demand, err = s.Demand(ctx, id)
		if err != nil {
			return err
		}
		if demand.Status != DemandPending {
			return &StateError{Kind: "demand", ID: string(id), Status: string(demand.Status), Attempt: "resolve blood type of"}
		}
		if demand.BloodType.Known() {
			return &StateError{Kind: "demand", ID: string(id), Status: string(demand.Status), Attempt: "re-type"}
		}
		demand.BloodType = bt
		return s.UpdateDemand(ctx, demand, DemandPending)
	})
	if err != nil {
		return DemandRequest{}, err
	}
	return demand, nil
}

// PlanAllocation sweeps, then computes a read-only plan for a Pending
// demand. A plan that falls through to mobilization triggers the
// notifier (fire-and-forget).
func (c *Controller) PlanAllocation(ctx context.Context, id DemandID) (*Plan, error) {
	if err := c.sweep(ctx); err != nil {
		return nil, err
	}
	demand, err := c.Store.Demand(ctx, id)
	if err != nil {
		return nil, err
	}
	if demand.Status != DemandPending {
		return nil, &StateError{Kind: "demand", ID: string(id), Status: string(demand.Status), Attempt: "plan"}
	}

	plan, err := c.Planner.Plan(ctx, demand, c.now())
	if err != nil {
		return nil, err
	}
	if plan.Tier == TierMobilization && c.Notifier != nil {
		c.Notifier.MobilizationRequested(ctx, demand, plan.Donors)
	}
	return plan, nil
}

// Approve commits the chosen units for a demand and moves it to
// Approved. Never preempts; use AssignUrgent for that.
func (c *Controller) Approve(ctx context.Context, id DemandID, selections []Selection) (DemandRequest, error) {
	if err := c.sweep(ctx); err != nil {
		return DemandRequest{}, err
	}
	demand, _, err := c.Reservations.Commit(ctx, id, selections, false, c.now())
	return demand, err
}

// AssignUrgent commits units for an urgent demand, optionally taking
// Reserved units away from routine demands.
func (c *Controller) AssignUrgent(ctx context.Context, id DemandID, selections []Selection, allowPreemption bool) (DemandRequest, error) {
	if err := c.sweep(ctx); err != nil {
		return DemandRequest{}, err
	}
	demand, err := c.Store.Demand(ctx, id)
	if err != nil {
		return DemandRequest{}, err
	}
	if demand.Urgency != UrgencyUrgent {
		return DemandRequest{}, &InvalidInputError{Field: "urgency", Value: string(demand.Urgency)}
	}
	demand, _, err = c.Reservations.Commit(ctx, id, selections, allowPreemption, c.now())
	return demand, err
}

// Complete consumes the demand's reserved volumes and closes it.
func (c *Controller) Complete(ctx context.Context, id DemandID) (DemandRequest, error) {
	if err := c.sweep(ctx); err != nil {
		return DemandRequest{}, err
	}
	return c.Reservations.Complete(ctx, id, c.now())
}

// Cancel releases any reserved units and closes the demand.
func (c *Controller) Cancel(ctx context.Context, id DemandID) (DemandRequest, error) {
	return c.Reservations.Release(ctx, id, c.now())
}

// Reject closes a Pending demand that was never approved.
func (c *Controller) Reject(ctx context.Context, id DemandID) (DemandRequest, error) {
	var demand DemandRequest
	err := c.Store.WithTx(ctx, func(s Store) error {
		var err error
		demand, err = s.Demand(ctx, id)
		if err != nil {
			return err
		}
		if demand.Status != DemandPending {
			return &StateError{Kind: "demand", ID: string(id), Status: string(demand.Status), Attempt: "reject"}
		}
		demand.Status = DemandRejected
		return s.UpdateDemand(ctx, demand, DemandPending)
	})
	if err != nil {
		return DemandRequest{}, err
	}
	return demand, nil
}
