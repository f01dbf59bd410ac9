/*
reservation.go - Reservation links and the transactional commit path

PURPOSE:
  The Manager is the only writer that turns a chosen unit set into
  committed reservations, and later consumes or releases them. Every
  method runs its validate-and-mutate sequence inside one WithTx unit
  of work: a failed check leaves nothing applied.

COMMIT RE-VALIDATION:
  Plans go stale between planning and commit. Commit therefore
  re-checks everything independently of whatever the planner returned:
  volumes, expiry, compatibility, and - through guarded transitions -
  the current status of every unit. A commit that loses a race gets a
  ConflictError and must re-plan.

PREEMPTION:
  An urgent commit with allowPreemption may take a unit Reserved by a
  routine demand. The displaced link becomes Returned; the displaced
  demand keeps its Approved status and is NOT re-planned; the
  PreemptionObserver hook exists so an operator layer can react to the
  displacement explicitly.

WHOLE-UNIT LOCKING:
  Reserving locks the entire unit regardless of the assigned volume.
  Remaining volume is only deducted on completion, never on reserve.
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RESERVATION LINK - Join entity binding one demand to one unit
// =============================================================================

type LinkStatus string

const (
	LinkAssigned  LinkStatus = "assigned"
	LinkUsed      LinkStatus = "used"
	LinkCancelled LinkStatus = "cancelled"
	LinkReturned  LinkStatus = "returned"
)

type ReservationLink struct {
	ID       LinkID
	DemandID DemandID
	UnitID   UnitID

	// AssignedVolume is what this demand will take from the unit on
	// completion. Invariant: for any unit, the sum of Used link volumes
	// plus the unit's remaining volume equals its initial volume.
	AssignedVolume Volume

	Status     LinkStatus
	AssignedAt time.Time
}

// =============================================================================
// SELECTION - One (unit, volume) choice from a plan
// =============================================================================

type Selection struct {
	UnitID UnitID
	Volume Volume
}

// PreemptionObserver is notified after a commit displaced another
// demand's reservation. Purely informational; the engine itself never
// re-plans the displaced demand.
type PreemptionObserver interface {
	UnitPreempted(ctx context.Context, displaced DemandRequest, unit BloodUnit, by DemandID)
}

// Preemption records one displacement that happened during a commit.
type Preemption struct {
	Displaced DemandRequest
	Unit      BloodUnit
}

// oversupplyFactor caps how far a selection may exceed the required
// volume before it is rejected as a malformed (stale) plan.
var oversupplyFactor = decimal.NewFromInt(2)

// =============================================================================
// MANAGER
// =============================================================================

type Manager struct {
	Store  TxStore
	Oracle *Oracle

	// Observer may be nil.
	Observer PreemptionObserver
}

// Commit validates the selection against the demand and, in one atomic
// unit of work, reserves every unit, records the reservation links and
// moves the demand to Approved.
//
// Returns the updated demand and its new links. On any failed check the
// store is untouched and a typed error identifies the category:
// ErrValidation (malformed selection), ErrNotFound, ErrConflict (lost
// race - re-plan and retry), ErrState (demand not Pending).
func (m *Manager) Commit(ctx context.Context, demandID DemandID, selections []Selection, allowPreemption bool, asOf time.Time) (DemandRequest, []ReservationLink, error) {
	if err := validateSelections(selections); err != nil {
		return DemandRequest{}, nil, err
	}

	var (
		demand      DemandRequest
		links       []ReservationLink
		preemptions []Preemption
	)

	err := m.Store.WithTx(ctx, func(s Store) error {
		var err error
		demand, err = s.Demand(ctx, demandID)
		if err != nil {
			return err
		}
		if demand.Status != DemandPending {
			return &StateError{Kind: "demand", ID: string(demandID), Status: string(demand.Status), Attempt: "approve"}
		}
		if !demand.BloodType.Known() {
			return &InvalidInputError{Field: "blood_type", Value: string(demand.BloodType)}
		}

		total := ZeroVolume()
		for _, sel := range selections {
			total = total.Add(sel.Volume)
		}
		if total.LessThan(demand.RequiredVolume) {
			return &InvalidInputError{Field: "selection_total", Value: total.String()}
		}
		if total.GreaterThan(demand.RequiredVolume.Mul(oversupplyFactor)) {
			return &InvalidInputError{Field: "selection_total", Value: total.String()}
		}

		links = links[:0]
		preemptions = preemptions[:0]
		for _, sel := range selections {
			unit, err := s.Unit(ctx, sel.UnitID)
			if err != nil {
				return err
			}
			if unit.ExpiredAt(asOf) {
				return &ConflictError{Kind: "unit", ID: string(unit.ID), Expected: string(unit.Status), Actual: string(UnitExpired)}
			}
			if sel.Volume.GreaterThan(unit.Remaining) {
				return &InvalidInputError{Field: "assigned_volume", Value: sel.Volume.String()}
			}
			if !m.Oracle.IsCompatible(unit.BloodType, demand.BloodType, demand.Component) {
				return &InvalidInputError{Field: "unit_blood_type", Value: string(unit.BloodType)}
			}

			switch unit.Status {
			case UnitAvailable:
				if err := s.TransitionUnit(ctx, unit.ID, UnitAvailable, UnitReserved); err != nil {
					return err
				}

			case UnitReserved:
				if !allowPreemption || demand.Urgency != UrgencyUrgent {
					return &ConflictError{Kind: "unit", ID: string(unit.ID), Expected: string(UnitAvailable), Actual: string(unit.Status)}
				}
				displaced, err := m.preempt(ctx, s, unit, demandID)
				if err != nil {
					return err
				}
				preemptions = append(preemptions, Preemption{Displaced: displaced, Unit: unit})

			default:
				return &ConflictError{Kind: "unit", ID: string(unit.ID), Expected: string(UnitAvailable), Actual: string(unit.Status)}
			}

			link := ReservationLink{
				ID:             NewLinkID(),
				DemandID:       demandID,
				UnitID:         unit.ID,
				AssignedVolume: sel.Volume,
				Status:         LinkAssigned,
				AssignedAt:     asOf.UTC(),
			}
			if err := s.InsertLink(ctx, link); err != nil {
				return err
			}
			links = append(links, link)
		}

		approvedAt := asOf.UTC()
		demand.Status = DemandApproved
		demand.ApprovedAt = &approvedAt
		return s.UpdateDemand(ctx, demand, DemandPending)
	})
	if err != nil {
		return DemandRequest{}, nil, err
	}

	if m.Observer != nil {
		for _, p := range preemptions {
			m.Observer.UnitPreempted(ctx, p.Displaced, p.Unit, demandID)
		}
	}
	return demand, links, nil
}

// preempt displaces the Assigned link currently holding a Reserved
// unit. The unit stays Reserved throughout, so the at-most-one-Assigned
// invariant holds within the transaction. Urgent demands cannot be
// displaced, only routine ones.
func (m *Manager) preempt(ctx context.Context, s Store, unit BloodUnit, by DemandID) (DemandRequest, error) {
	link, err := s.AssignedLinkByUnit(ctx, unit.ID)
	if err != nil {
		return DemandRequest{}, err
	}
	displaced, err := s.Demand(ctx, link.DemandID)
	if err != nil {
		return DemandRequest{}, err
	}
	if displaced.Urgency == UrgencyUrgent {
		return DemandRequest{}, &ConflictError{Kind: "unit", ID: string(unit.ID), Expected: "routine reservation", Actual: "urgent reservation"}
	}
	if err := s.TransitionLink(ctx, link.ID, LinkAssigned, LinkReturned); err != nil {
		return DemandRequest{}, err
	}
	return displaced, nil
}

// Complete consumes every Assigned link of an Approved demand and moves
// it to Completed. All-or-nothing: if any link's volume no longer fits
// its unit's remaining volume, no unit in the batch is mutated.
func (m *Manager) Complete(ctx context.Context, demandID DemandID, asOf time.Time) (DemandRequest, error) {
	var demand DemandRequest

	err := m.Store.WithTx(ctx, func(s Store) error {
		var err error
		demand, err = s.Demand(ctx, demandID)
		if err != nil {
			return err
		}
		if demand.Status != DemandApproved {
			return &StateError{Kind: "demand", ID: string(demandID), Status: string(demand.Status), Attempt: "complete"}
		}

		links, err := s.LinksByDemand(ctx, demandID)
		if err != nil {
			return err
		}

		consumed := false
		for _, link := range links {
			if link.Status != LinkAssigned {
				continue
			}
			unit, err := s.Unit(ctx, link.UnitID)
			if err != nil {
				return err
			}
			if link.AssignedVolume.GreaterThan(unit.Remaining) {
				return &StateError{Kind: "unit", ID: string(unit.ID), Status: string(unit.Status), Attempt: "consume beyond remaining volume of"}
			}

			remaining := unit.Remaining.Sub(link.AssignedVolume)
			final := UnitPartialUsed
			if remaining.IsZero() {
				final = UnitUsed
			}
			if err := s.ConsumeUnit(ctx, unit.ID, remaining, final); err != nil {
				return err
			}
			if err := s.TransitionLink(ctx, link.ID, LinkAssigned, LinkUsed); err != nil {
				return err
			}
			consumed = true
		}
		if !consumed {
			return &StateError{Kind: "demand", ID: string(demandID), Status: string(demand.Status), Attempt: "complete link-less"}
		}

		completedAt := asOf.UTC()
		demand.Status = DemandCompleted
		demand.CompletedAt = &completedAt
		return s.UpdateDemand(ctx, demand, DemandApproved)
	})
	if err != nil {
		return DemandRequest{}, err
	}
	return demand, nil
}

// Release cancels a demand before or after approval. Every Assigned
// link becomes Cancelled and its unit returns to Available with the
// remaining volume untouched - volume is never deducted while merely
// Reserved.
func (m *Manager) Release(ctx context.Context, demandID DemandID, asOf time.Time) (DemandRequest, error) {
	var demand DemandRequest

	err := m.Store.WithTx(ctx, func(s Store) error {
		var err error
		demand, err = s.Demand(ctx, demandID)
		if err != nil {
			return err
		}
		if demand.Status != DemandPending && demand.Status != DemandApproved {
			return &StateError{Kind: "demand", ID: string(demandID), Status: string(demand.Status), Attempt: "cancel"}
		}

		links, err := s.LinksByDemand(ctx, demandID)
		if err != nil {
			return err
		}
		for _, link := range links {
			if link.Status != LinkAssigned {
				continue
			}
			unit, err := s.Unit(ctx, link.UnitID)
			if err != nil {
				return err
			}
			// A unit swept Expired while Reserved stays Expired; only a
			// still-Reserved unit goes back on the shelf.
			if unit.Status == UnitReserved {
				if err := s.TransitionUnit(ctx, link.UnitID, UnitReserved, UnitAvailable); err != nil {
					return err
				}
			}
			if err := s.TransitionLink(ctx, link.ID, LinkAssigned, LinkCancelled); err != nil {
				return err
			}
		}

		cancelledAt := asOf.UTC()
		from := demand.Status
		demand.Status = DemandCancelled
		demand.CancelledAt = &cancelledAt
		return s.UpdateDemand(ctx, demand, from)
	})
	if err != nil {
		return DemandRequest{}, err
	}
	return demand, nil
}

// validateSelections rejects malformed selections before any state is
// inspected.
func validateSelections(selections []Selection) error {
	if len(selections) == 0 {
		return &InvalidInputError{Field: "selections", Value: "empty"}
	}
	seen := make(map[UnitID]bool, len(selections))
	for _, sel := range selections {
		if sel.UnitID == "" {
			return &InvalidInputError{Field: "unit_id", Value: ""}
		}
		if seen[sel.UnitID] {
			return &InvalidInputError{Field: "unit_id", Value: string(sel.UnitID) + " selected twice"}
		}
		seen[sel.UnitID] = true
		if !sel.Volume.IsPositive() {
			return &InvalidInputError{Field: "volume", Value: sel.Volume.String()}
		}
	}
	return nil
}
