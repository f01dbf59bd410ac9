/*
Package registry provides an in-memory donor registry snapshot.

PURPOSE:
  The engine treats the donor registry as an external, read-only data
  source. This implementation holds a fixed snapshot loaded at
  construction - suitable for tests, demos and deployments where the
  registry is synced from an upstream system on restart. The
  SQLite-backed registry in store/sqlite serves persistent setups.

SEE ALSO:
  - engine/donor.go: DonorRegistry contract and eligibility rules
*/
package registry

import (
	"context"

	"github.com/warp/bloodbank/engine"
)

// Memory is an immutable DonorRegistry over a snapshot of donors.
type Memory struct {
	byType map[engine.BloodType][]engine.Donor
}

// NewMemory indexes the snapshot by blood type. The input slice is
// copied; later mutation of it does not affect the registry.
func NewMemory(donors []engine.Donor) *Memory {
	byType := make(map[engine.BloodType][]engine.Donor)
	for _, d := range donors {
		byType[d.BloodType] = append(byType[d.BloodType], d)
	}
	return &Memory{byType: byType}
}

// DonorsByTypes implements engine.DonorRegistry. Donors are returned in
// the order of the requested types, then snapshot order within a type.
func (m *Memory) DonorsByTypes(ctx context.Context, types []engine.BloodType) ([]engine.Donor, error) {
	var out []engine.Donor
	for _, bt := range types {
		out = append(out, m.byType[bt]...)
	}
	return out, nil
}
