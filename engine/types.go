/*
Package engine provides the blood-unit allocation and reservation core.

PURPOSE:
  This package contains the domain types and algorithms for matching
  transfusion demands against a perishable, typed inventory of blood
  units: compatibility lookup, multi-tier allocation planning,
  transactional reservation, and demand lifecycle control.

KEY CONCEPTS IN THIS FILE (types.go):
  - BloodType: One of the eight ABO/Rh groups (plus an unknown marker
    for urgent intake before typing)
  - Component: What was separated from the donation (red cells, plasma,
    platelets, whole blood), each with a fixed shelf life
  - Volume: A millilitre quantity backed by decimal.Decimal
  - Unit/Demand/Link IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Closed enums: Unit and demand statuses are tagged constants with
     centrally enforced transitions, never free-form strings
  2. Precision: Volumes use decimal.Decimal to avoid floating-point errors
  3. Perishability: Expiry is fixed at intake (add date + shelf life)
     and enforced lazily on every read path

SEE ALSO:
  - unit.go: BloodUnit and its status machine
  - compat.go: Donor/recipient compatibility rules
  - planner.go: Four-tier allocation planning
*/
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BLOOD TYPE - ABO group and Rh factor
// =============================================================================

type BloodType string

const (
	TypeONeg  BloodType = "O-"
	TypeOPos  BloodType = "O+"
	TypeANeg  BloodType = "A-"
	TypeAPos  BloodType = "A+"
	TypeBNeg  BloodType = "B-"
	TypeBPos  BloodType = "B+"
	TypeABNeg BloodType = "AB-"
	TypeABPos BloodType = "AB+"

	// TypeUnknown marks an urgent demand created before the patient has
	// been typed. It must be resolved before planning.
	TypeUnknown BloodType = "unknown"
)

// BloodTypes lists all concrete types in canonical order.
// Planner output and availability summaries follow this order.
var BloodTypes = []BloodType{
	TypeONeg, TypeOPos, TypeANeg, TypeAPos,
	TypeBNeg, TypeBPos, TypeABNeg, TypeABPos,
}

func ParseBloodType(s string) (BloodType, error) {
	bt := BloodType(s)
	for _, known := range BloodTypes {
		if bt == known {
			return bt, nil
		}
	}
	return "", &InvalidInputError{Field: "blood_type", Value: s}
}

// ABOGroup returns the ABO part without the Rh factor ("AB+" -> "AB").
func (bt BloodType) ABOGroup() string {
	s := string(bt)
	if len(s) == 0 {
		return ""
	}
	return s[:len(s)-1]
}

func (bt BloodType) Known() bool { return bt != TypeUnknown && bt != "" }

// =============================================================================
// COMPONENT - Separated blood product with fixed shelf life
// =============================================================================

type Component string

const (
	ComponentWholeBlood Component = "whole_blood"
	ComponentRedCells   Component = "red_cells"
	ComponentPlasma     Component = "plasma"
	ComponentPlatelets  Component = "platelets"
)

var Components = []Component{
	ComponentWholeBlood, ComponentRedCells, ComponentPlasma, ComponentPlatelets,
}

// shelfLifeDays is fixed per component; expiry is computed once at intake.
var shelfLifeDays = map[Component]int{
	ComponentWholeBlood: 35,
	ComponentRedCells:   42,
	ComponentPlasma:     365,
	ComponentPlatelets:  5,
}

func ParseComponent(s string) (Component, error) {
	c := Component(s)
	if _, ok := shelfLifeDays[c]; !ok {
		return "", &InvalidInputError{Field: "component", Value: s}
	}
	return c, nil
}

// ShelfLifeDays returns the shelf life for a component, or an error for
// an unknown component.
func ShelfLifeDays(c Component) (int, error) {
	days, ok := shelfLifeDays[c]
	if !ok {
		return 0, &InvalidInputError{Field: "component", Value: string(c)}
	}
	return days, nil
}

// =============================================================================
// VOLUME - Millilitre quantity
// =============================================================================

type Volume struct {
	Ml decimal.Decimal
}

func NewVolume(ml float64) Volume { return Volume{Ml: decimal.NewFromFloat(ml)} }
func VolumeFromInt(ml int) Volume { return Volume{Ml: decimal.NewFromInt(int64(ml))} }
func ZeroVolume() Volume          { return Volume{Ml: decimal.Zero} }

func VolumeFromDecimal(d decimal.Decimal) Volume { return Volume{Ml: d} }

// ParseVolume parses a stored decimal string ("450" or "447.5").
func ParseVolume(s string) (Volume, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Volume{}, fmt.Errorf("parse volume %q: %w", s, err)
	}
	return Volume{Ml: d}, nil
}

func (v Volume) Add(o Volume) Volume          { return Volume{Ml: v.Ml.Add(o.Ml)} }
func (v Volume) Sub(o Volume) Volume          { return Volume{Ml: v.Ml.Sub(o.Ml)} }
func (v Volume) Mul(s decimal.Decimal) Volume { return Volume{Ml: v.Ml.Mul(s)} }

func (v Volume) Min(o Volume) Volume {
	if v.LessThan(o) {
		return v
	}
	return o
}
func (v Volume) IsZero() bool                 { return v.Ml.IsZero() }
func (v Volume) IsPositive() bool             { return v.Ml.IsPositive() }
func (v Volume) IsNegative() bool             { return v.Ml.IsNegative() }
func (v Volume) Equal(o Volume) bool          { return v.Ml.Equal(o.Ml) }
func (v Volume) LessThan(o Volume) bool       { return v.Ml.LessThan(o.Ml) }
func (v Volume) GreaterThan(o Volume) bool    { return v.Ml.GreaterThan(o.Ml) }
func (v Volume) AtLeast(o Volume) bool        { return !v.Ml.LessThan(o.Ml) }
func (v Volume) String() string               { return v.Ml.String() + "ml" }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UnitID string
type DemandID string
type LinkID string
type DonorID string
type PeriodID string

func NewUnitID() UnitID     { return UnitID(uuid.NewString()) }
func NewDemandID() DemandID { return DemandID(uuid.NewString()) }
func NewLinkID() LinkID     { return LinkID(uuid.NewString()) }
func NewPeriodID() PeriodID { return PeriodID(uuid.NewString()) }

// =============================================================================
// TIME UTILITIES
// =============================================================================

// Day truncates a timestamp to its UTC calendar day. Expiry comparisons
// are made at day granularity: a unit expiring on day D is usable
// through the whole of D.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
