/*
donor.go - Donor registry collaborator and mobilization eligibility

PURPOSE:
  When no stored unit can serve an urgent demand, the last tier of the
  planner surfaces human donors instead. The registry itself is an
  external, read-only collaborator; this file defines its contract and
  the eligibility rules applied on top of it:

  - last donation at least 84 days ago (or never donated)
  - no completed transfusion received within the last 365 days
  - within 20 km of the requesting site when the demand carries a
    geo reference, ranked by ascending distance

SEE ALSO:
  - registry/memory.go: In-memory registry snapshot
  - store/sqlite/sqlite.go: SQLite-backed registry
*/
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/warp/bloodbank/geo"
)

// =============================================================================
// ELIGIBILITY CONSTANTS
// =============================================================================

const (
	// DonationRecoveryDays is the minimum gap between donations.
	DonationRecoveryDays = 84

	// TransfusionLookbackDays excludes donors who recently received
	// blood themselves.
	TransfusionLookbackDays = 365

	// MobilizationRadiusKm caps the catchment for geo-filtered urgent
	// mobilization.
	MobilizationRadiusKm = 20.0
)

// =============================================================================
// DONOR REGISTRY - External, read-only collaborator
// =============================================================================

// Donor is the registry's view of a candidate: typing, recency data and
// an optional registered location.
type Donor struct {
	ID        DonorID
	Name      string
	BloodType BloodType

	// LastDonation is nil for first-time donors.
	LastDonation *time.Time

	// LastTransfusion is the most recent completed transfusion the
	// donor received, nil if none on record.
	LastTransfusion *time.Time

	Location *geo.Point
}

// DonorRegistry exposes donors by blood type. Implementations are
// read-only data sources; this engine never writes donor records.
type DonorRegistry interface {
	DonorsByTypes(ctx context.Context, types []BloodType) ([]Donor, error)
}

// =============================================================================
// MOBILIZATION
// =============================================================================

// DonorMatch is one mobilization candidate. DistanceKm is set only when
// the demand carried a geo reference.
type DonorMatch struct {
	Donor      Donor
	DistanceKm *float64
}

// Eligible applies the recency rules as of the given time.
func (d Donor) Eligible(asOf time.Time) bool {
	if d.LastDonation != nil {
		recovered := d.LastDonation.AddDate(0, 0, DonationRecoveryDays)
		if Day(asOf).Before(Day(recovered)) {
			return false
		}
	}
	if d.LastTransfusion != nil {
		cutoff := Day(asOf).AddDate(0, 0, -TransfusionLookbackDays)
		if !d.LastTransfusion.Before(cutoff) {
			return false
		}
	}
	return true
}

// mobilize filters and ranks donors for a demand. With an origin, only
// donors with a registered location inside the radius qualify and the
// result is sorted by ascending distance; without one, registry order
// is preserved.
func mobilize(donors []Donor, origin *geo.Point, asOf time.Time) []DonorMatch {
	var matches []DonorMatch
	for _, d := range donors {
		if !d.Eligible(asOf) {
			continue
		}
		if origin == nil {
			matches = append(matches, DonorMatch{Donor: d})
			continue
		}
		if d.Location == nil {
			continue
		}
		dist := geo.DistanceKm(*origin, *d.Location)
		if dist > MobilizationRadiusKm {
			continue
		}
		matches = append(matches, DonorMatch{Donor: d, DistanceKm: &dist})
	}

	if origin != nil {
		sort.SliceStable(matches, func(i, j int) bool {
			return *matches[i].DistanceKm < *matches[j].DistanceKm
		})
	}
	return matches
}
