/*
compat.go - Donor/recipient compatibility oracle

PURPOSE:
  Answers two questions:
  1. Which donor types may supply a given recipient for a component?
     (planning - widens the candidate search)
  2. Is this specific donor type acceptable for this recipient?
     (commit time - plans may be stale, so chosen units are re-checked)

RULE TABLE:
  Compatibility is data, not code: the oracle is built from
  CompatibilityRule rows. Rules are directional - (O-, A+) compatible
  does not imply (A+, O-). A recipient's own type is always included
  regardless of the rule rows.

DEFAULT RULES:
  Red cells, whole blood and platelets follow the classic ABO/Rh
  matrix (O- universal donor). Plasma is inverted on the ABO axis
  (AB universal plasma donor, Rh disregarded).

SEE ALSO:
  - factory/rules.go: Loading custom rule tables from JSON
  - planner.go: Compatible-tier candidate expansion
*/
package engine

// =============================================================================
// COMPATIBILITY RULE - One directional (donor, recipient, component) row
// =============================================================================

type CompatibilityRule struct {
	Donor      BloodType
	Recipient  BloodType
	Component  Component
	Compatible bool
}

// =============================================================================
// ORACLE - Indexed lookup over rule rows
// =============================================================================

type compatKey struct {
	Recipient BloodType
	Component Component
}

type Oracle struct {
	allowed map[compatKey]map[BloodType]bool
}

// NewOracle indexes the given rules. Rows with Compatible=false are
// ignored; absence means incompatible.
func NewOracle(rules []CompatibilityRule) *Oracle {
	o := &Oracle{allowed: make(map[compatKey]map[BloodType]bool)}
	for _, r := range rules {
		if !r.Compatible {
			continue
		}
		k := compatKey{Recipient: r.Recipient, Component: r.Component}
		if o.allowed[k] == nil {
			o.allowed[k] = make(map[BloodType]bool)
		}
		o.allowed[k][r.Donor] = true
	}
	return o
}

// DonorTypesFor returns the donor types that may supply the recipient,
// recipient's own type first, the rest in canonical order.
func (o *Oracle) DonorTypesFor(recipient BloodType, component Component) []BloodType {
	set := o.allowed[compatKey{Recipient: recipient, Component: component}]
	types := []BloodType{recipient}
	for _, bt := range BloodTypes {
		if bt == recipient {
			continue
		}
		if set[bt] {
			types = append(types, bt)
		}
	}
	return types
}

// IsCompatible reports whether a unit of donor type may be transfused
// to the recipient. Own-type is always acceptable.
func (o *Oracle) IsCompatible(donor, recipient BloodType, component Component) bool {
	if donor == recipient {
		return true
	}
	return o.allowed[compatKey{Recipient: recipient, Component: component}][donor]
}

// =============================================================================
// DEFAULT RULE TABLE
// =============================================================================

// redCellDonors maps recipient -> acceptable donors for cellular
// components (whole blood, red cells, platelets).
var redCellDonors = map[BloodType][]BloodType{
	TypeONeg:  {TypeONeg},
	TypeOPos:  {TypeONeg, TypeOPos},
	TypeANeg:  {TypeONeg, TypeANeg},
	TypeAPos:  {TypeONeg, TypeOPos, TypeANeg, TypeAPos},
	TypeBNeg:  {TypeONeg, TypeBNeg},
	TypeBPos:  {TypeONeg, TypeOPos, TypeBNeg, TypeBPos},
	TypeABNeg: {TypeONeg, TypeANeg, TypeBNeg, TypeABNeg},
	TypeABPos: {TypeONeg, TypeOPos, TypeANeg, TypeAPos, TypeBNeg, TypeBPos, TypeABNeg, TypeABPos},
}

// plasmaDonorGroups maps recipient ABO group -> acceptable donor ABO
// groups. Plasma compatibility is the inverse of red cells and ignores
// the Rh factor.
var plasmaDonorGroups = map[string][]string{
	"O":  {"O", "A", "B", "AB"},
	"A":  {"A", "AB"},
	"B":  {"B", "AB"},
	"AB": {"AB"},
}

// DefaultRules returns the built-in rule table covering every
// (recipient, component) pair.
func DefaultRules() []CompatibilityRule {
	var rules []CompatibilityRule

	cellular := []Component{ComponentWholeBlood, ComponentRedCells, ComponentPlatelets}
	for recipient, donors := range redCellDonors {
		for _, donor := range donors {
			for _, c := range cellular {
				rules = append(rules, CompatibilityRule{
					Donor: donor, Recipient: recipient, Component: c, Compatible: true,
				})
			}
		}
	}

	for _, recipient := range BloodTypes {
		groups := plasmaDonorGroups[recipient.ABOGroup()]
		for _, donor := range BloodTypes {
			for _, g := range groups {
				if donor.ABOGroup() == g {
					rules = append(rules, CompatibilityRule{
						Donor: donor, Recipient: recipient, Component: ComponentPlasma, Compatible: true,
					})
					break
				}
			}
		}
	}

	return rules
}

// DefaultOracle builds an oracle over the built-in rule table.
func DefaultOracle() *Oracle { return NewOracle(DefaultRules()) }
