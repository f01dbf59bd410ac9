/*
unit.go - Blood unit entity and status machine

PURPOSE:
  A BloodUnit is one collected bag of a specific component. Its status
  machine is the heart of the inventory:

      Available ──reserve──▶ Reserved ──consume──▶ Used / PartialUsed
          │  ▲                   │
          │  └─────release───────┘
          ├──discard──▶ Discarded
          └──(expiry sweep, also from Reserved/PartialUsed)──▶ Expired

INVARIANTS:
  - RemainingVolume <= Volume at all times
  - RemainingVolume == 0 implies a terminal status
  - Status == Available implies RemainingVolume > 0 and no Assigned link
  - ExpiresAt is fixed at intake: AddedAt + component shelf life

WHOLE-UNIT LOCKING:
  While Reserved, the whole unit is locked even if the reservation takes
  less than the remaining volume. A volume-aware sub-reservation ledger
  would lift this; it is deliberately not implemented.
*/
package engine

import (
	"time"
)

// =============================================================================
// UNIT STATUS
// =============================================================================

type UnitStatus string

const (
	UnitAvailable   UnitStatus = "available"
	UnitReserved    UnitStatus = "reserved"
	UnitPartialUsed UnitStatus = "partial_used"
	UnitUsed        UnitStatus = "used"
	UnitDiscarded   UnitStatus = "discarded"
	UnitExpired     UnitStatus = "expired"
)

// Terminal reports whether a unit can never re-enter allocation.
func (s UnitStatus) Terminal() bool {
	return s == UnitUsed || s == UnitDiscarded || s == UnitExpired
}

// Expirable reports whether the expiry sweep may transition this status.
func (s UnitStatus) Expirable() bool {
	return s == UnitAvailable || s == UnitPartialUsed || s == UnitReserved
}

// unitTransitions is the closed set of legal status changes. All writers
// go through guarded store transitions, never ad hoc comparisons.
var unitTransitions = map[UnitStatus][]UnitStatus{
	UnitAvailable:   {UnitReserved, UnitDiscarded, UnitExpired},
	UnitReserved:    {UnitAvailable, UnitUsed, UnitPartialUsed, UnitExpired},
	UnitPartialUsed: {UnitExpired},
}

// CanTransition reports whether from -> to is a legal unit transition.
func CanTransition(from, to UnitStatus) bool {
	for _, next := range unitTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseUnitStatus validates an externally supplied status string
// against the closed status set.
func ParseUnitStatus(s string) (UnitStatus, error) {
	switch st := UnitStatus(s); st {
	case UnitAvailable, UnitReserved, UnitPartialUsed, UnitUsed, UnitDiscarded, UnitExpired:
		return st, nil
	}
	return "", &InvalidInputError{Field: "status", Value: s}
}

// =============================================================================
// BLOOD UNIT
// =============================================================================

type BloodUnit struct {
	ID        UnitID
	BloodType BloodType
	Component Component

	// Volume is the collected amount, immutable after intake.
	Volume Volume
	// Remaining is what has not yet been consumed. Merely reserving a
	// unit never deducts from it.
	Remaining Volume

	Status    UnitStatus
	AddedAt   time.Time
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewBloodUnit validates intake parameters and builds an Available unit
// with its expiry fixed from the component shelf life.
func NewBloodUnit(bt BloodType, component Component, volume Volume, addedAt time.Time) (BloodUnit, error) {
	if !bt.Known() {
		return BloodUnit{}, &InvalidInputError{Field: "blood_type", Value: string(bt)}
	}
	days, err := ShelfLifeDays(component)
	if err != nil {
		return BloodUnit{}, err
	}
	if !volume.IsPositive() {
		return BloodUnit{}, &InvalidInputError{Field: "volume", Value: volume.String()}
	}

	added := Day(addedAt)
	return BloodUnit{
		ID:        NewUnitID(),
		BloodType: bt,
		Component: component,
		Volume:    volume,
		Remaining: volume,
		Status:    UnitAvailable,
		AddedAt:   added,
		ExpiresAt: added.AddDate(0, 0, days),
		CreatedAt: addedAt.UTC(),
	}, nil
}

// ExpiredAt reports whether the unit's shelf life has passed: the unit
// is usable through the whole of its expiry day.
func (u BloodUnit) ExpiredAt(asOf time.Time) bool {
	return u.ExpiresAt.Before(Day(asOf))
}
