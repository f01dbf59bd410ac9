/*
Package factory provides JSON to Go compatibility-rule conversion.

PURPOSE:
  Converts JSON rule tables into engine.CompatibilityRule slices and a
  ready-to-use Oracle. This enables transfusion policy configuration
  without code changes - a medical director can maintain the rule table
  in JSON, and the factory creates the proper Go structs.

WHY JSON?
  - Non-developers can review and sign off on the table
  - Version control for rule definitions
  - Database storage of rule configs
  - The built-in table stays the default; JSON overrides it wholesale

JSON SCHEMA:
  {
    "name": "hospital-standard",
    "rules": [
      {"donor": "O-", "recipient": "AB+", "component": "red_cells", "compatible": true},
      {"donor": "A+",  "recipient": "O-",  "component": "red_cells", "compatible": false}
    ]
  }

KEY FEATURES:
  - Validates blood types and components against the engine's sets
  - Rejects duplicate (donor, recipient, component) rows
  - Round-trips: ToJSON reproduces a table from rules

USAGE:
  f := factory.NewRuleFactory()
  rules, err := f.ParseRules(jsonString)
  oracle := engine.NewOracle(rules)

SEE ALSO:
  - engine/compat.go: Oracle and the built-in rule table
  - store/sqlite: persisted rule table, seeded from the built-ins
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/warp/bloodbank/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleSetJSON is the JSON representation of a full rule table.
type RuleSetJSON struct {
	Name  string     `json:"name,omitempty"`
	Rules []RuleJSON `json:"rules"`
}

// RuleJSON is one directional donor/recipient/component row.
type RuleJSON struct {
	Donor      string `json:"donor"`
	Recipient  string `json:"recipient"`
	Component  string `json:"component"`
	Compatible bool   `json:"compatible"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON rule tables to engine rules.
type RuleFactory struct{}

// NewRuleFactory creates a new rule factory.
func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRules parses a JSON string into validated compatibility rules.
func (f *RuleFactory) ParseRules(jsonStr string) ([]engine.CompatibilityRule, error) {
	var rs RuleSetJSON
	if err := json.Unmarshal([]byte(jsonStr), &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rule JSON: %w", err)
	}
	return f.FromJSON(rs)
}

// ParseOracle parses a JSON string straight into an Oracle.
func (f *RuleFactory) ParseOracle(jsonStr string) (*engine.Oracle, error) {
	rules, err := f.ParseRules(jsonStr)
	if err != nil {
		return nil, err
	}
	return engine.NewOracle(rules), nil
}

// FromJSON converts RuleSetJSON to validated engine rules.
func (f *RuleFactory) FromJSON(rs RuleSetJSON) ([]engine.CompatibilityRule, error) {
	if len(rs.Rules) == 0 {
		return nil, fmt.Errorf("rule set %q has no rules", rs.Name)
	}

	type key struct {
		donor, recipient engine.BloodType
		component        engine.Component
	}
	seen := make(map[key]bool, len(rs.Rules))

	rules := make([]engine.CompatibilityRule, 0, len(rs.Rules))
	for i, rj := range rs.Rules {
		donor, err := engine.ParseBloodType(rj.Donor)
		if err != nil {
			return nil, fmt.Errorf("rule %d: donor: %w", i, err)
		}
		recipient, err := engine.ParseBloodType(rj.Recipient)
		if err != nil {
			return nil, fmt.Errorf("rule %d: recipient: %w", i, err)
		}
		component, err := engine.ParseComponent(rj.Component)
		if err != nil {
			return nil, fmt.Errorf("rule %d: component: %w", i, err)
		}

		k := key{donor, recipient, component}
		if seen[k] {
			return nil, fmt.Errorf("rule %d: duplicate row %s -> %s for %s", i, donor, recipient, component)
		}
		seen[k] = true

		rules = append(rules, engine.CompatibilityRule{
			Donor:      donor,
			Recipient:  recipient,
			Component:  component,
			Compatible: rj.Compatible,
		})
	}
	return rules, nil
}

// ToJSON converts rules back to their JSON representation.
func (f *RuleFactory) ToJSON(name string, rules []engine.CompatibilityRule) RuleSetJSON {
	rs := RuleSetJSON{Name: name, Rules: make([]RuleJSON, 0, len(rules))}
	for _, r := range rules {
		rs.Rules = append(rs.Rules, RuleJSON{
			Donor:      string(r.Donor),
			Recipient:  string(r.Recipient),
			Component:  string(r.Component),
			Compatible: r.Compatible,
		})
	}
	return rs
}

// DefaultRuleSetJSON renders the built-in table as a JSON string, as a
// starting point for a customized table.
func DefaultRuleSetJSON() (string, error) {
	f := NewRuleFactory()
	rs := f.ToJSON("built-in", engine.DefaultRules())
	b, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
