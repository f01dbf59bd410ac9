/*
planner.go - Four-tier read-only allocation planning

PURPOSE:
  Given a demand, produce a ranked plan of candidate units without
  mutating anything. Tiers, in order:

  1. EXACT        Units of the recipient's own type, greedy FEFO.
  2. COMPATIBLE   Rule-sanctioned alternate donor types, grouped by
                  type, each group accumulated FEFO against the
                  remaining need.
  3. PREEMPTION   (urgent, only when tiers 1-2 surface ZERO units)
                  Reserved units flagged preemptable. Never
                  auto-selected; staff must explicitly choose them.
  4. MOBILIZATION (urgent, only when tiers 1-3 surface ZERO units)
                  Eligible human donors instead of stored units.

  Insufficiency is a result, not an error: Enough=false plans carry
  whatever partial matches were found so callers can decide to wait,
  widen, or mobilize.

ORDERING:
  Within a tier, units are strictly non-decreasing in expiry date;
  equal expiries fall back to ascending unit id (stable across stores).

PURITY:
  The planner only reads. The expiry sweep required before any listing
  runs in the lifecycle controller, not here.
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// PLAN
// =============================================================================

type PlanTier string

const (
	TierExact        PlanTier = "exact"
	TierCompatible   PlanTier = "compatible"
	TierPreemption   PlanTier = "preemption"
	TierMobilization PlanTier = "mobilization"
)

// PlannedUnit pairs a candidate unit with the volume the plan would
// take from it. Preemptable units are proposals only.
type PlannedUnit struct {
	Unit        BloodUnit
	Take        Volume
	Preemptable bool
}

// TypeGroup collects the planned units of one donor type.
type TypeGroup struct {
	BloodType BloodType
	Units     []PlannedUnit
	Subtotal  Volume
}

type Plan struct {
	DemandID DemandID
	Tier     PlanTier

	Required Volume
	Total    Volume
	Enough   bool

	// Groups hold stored-unit proposals (tiers 1-3). The exact-type
	// group, when present, always comes first.
	Groups []TypeGroup

	// Donors holds tier-4 mobilization candidates.
	Donors []DonorMatch
}

// =============================================================================
// PLANNER
// =============================================================================

type Planner struct {
	Store  Store
	Oracle *Oracle

	// Registry may be nil; the mobilization tier is then skipped.
	Registry DonorRegistry
}

// Plan computes an allocation plan for the demand as of the given time.
// The demand's blood type must be resolved.
func (p *Planner) Plan(ctx context.Context, demand DemandRequest, asOf time.Time) (*Plan, error) {
	if !demand.BloodType.Known() {
		return nil, &InvalidInputError{Field: "blood_type", Value: string(demand.BloodType)}
	}
	if !demand.RequiredVolume.IsPositive() {
		return nil, &InvalidInputError{Field: "required_volume", Value: demand.RequiredVolume.String()}
	}

	plan := &Plan{
		DemandID: demand.ID,
		Required: demand.RequiredVolume,
		Total:    ZeroVolume(),
	}

	// Tier 1: exact type.
	exact, err := p.accumulate(ctx, demand.Component, demand.BloodType, demand.RequiredVolume, asOf, false)
	if err != nil {
		return nil, err
	}
	if len(exact.Units) > 0 {
		plan.Groups = append(plan.Groups, exact)
		plan.Total = plan.Total.Add(exact.Subtotal)
	}
	if plan.Total.AtLeast(demand.RequiredVolume) {
		plan.Tier = TierExact
		plan.Enough = true
		return plan, nil
	}

	// Tier 2: compatible alternates, each accumulated against the
	// volume still missing after the groups before it.
	for _, alt := range p.Oracle.DonorTypesFor(demand.BloodType, demand.Component) {
		if alt == demand.BloodType {
			continue
		}
		need := demand.RequiredVolume.Sub(plan.Total)
		if !need.IsPositive() {
			break
		}
		group, err := p.accumulate(ctx, demand.Component, alt, need, asOf, false)
		if err != nil {
			return nil, err
		}
		if len(group.Units) > 0 {
			plan.Groups = append(plan.Groups, group)
			plan.Total = plan.Total.Add(group.Subtotal)
		}
	}
	if plan.Total.AtLeast(demand.RequiredVolume) {
		plan.Tier = TierCompatible
		plan.Enough = true
		return plan, nil
	}

	plan.Tier = TierCompatible
	if len(plan.Groups) > 0 || demand.Urgency != UrgencyUrgent {
		// Partial (or empty routine) plan: caller decides what to do.
		return plan, nil
	}

	// Tier 3: preemption screening. Only reached when tiers 1-2 found
	// nothing at all for an urgent demand.
	for _, bt := range p.Oracle.DonorTypesFor(demand.BloodType, demand.Component) {
		need := demand.RequiredVolume.Sub(plan.Total)
		if !need.IsPositive() {
			break
		}
		group, err := p.accumulate(ctx, demand.Component, bt, need, asOf, true)
		if err != nil {
			return nil, err
		}
		if len(group.Units) > 0 {
			plan.Groups = append(plan.Groups, group)
			plan.Total = plan.Total.Add(group.Subtotal)
		}
	}
	if len(plan.Groups) > 0 {
		plan.Tier = TierPreemption
		plan.Enough = plan.Total.AtLeast(demand.RequiredVolume)
		return plan, nil
	}

	// Tier 4: donor mobilization.
	plan.Tier = TierMobilization
	if p.Registry == nil {
		return plan, nil
	}
	donors, err := p.Registry.DonorsByTypes(ctx, p.Oracle.DonorTypesFor(demand.BloodType, demand.Component))
	if err != nil {
		return nil, err
	}
	plan.Donors = mobilize(donors, demand.Origin, asOf)
	return plan, nil
}

// accumulate runs one FEFO candidate query for a donor type and greedily
// takes volume until `need` is covered or candidates run out.
func (p *Planner) accumulate(ctx context.Context, component Component, bt BloodType, need Volume, asOf time.Time, includeReserved bool) (TypeGroup, error) {
	group := TypeGroup{BloodType: bt, Subtotal: ZeroVolume()}

	candidates, err := p.Store.Candidates(ctx, CandidateQuery{
		BloodType:       bt,
		Component:       component,
		AsOf:            asOf,
		IncludeReserved: includeReserved,
	})
	if err != nil {
		return group, err
	}

	for _, unit := range candidates {
		if !need.IsPositive() {
			break
		}
		take := unit.Remaining.Min(need)
		group.Units = append(group.Units, PlannedUnit{
			Unit:        unit,
			Take:        take,
			Preemptable: unit.Status == UnitReserved,
		})
		group.Subtotal = group.Subtotal.Add(take)
		need = need.Sub(take)
	}
	return group, nil
}
