package factory

import (
	"strings"
	"testing"

	"github.com/warp/bloodbank/engine"
)

func TestParseRules(t *testing.T) {
	f := NewRuleFactory()

	rules, err := f.ParseRules(`{
		"name": "minimal",
		"rules": [
			{"donor": "O-", "recipient": "A+", "component": "red_cells", "compatible": true},
			{"donor": "A+", "recipient": "O-", "component": "red_cells", "compatible": false}
		]
	}`)
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].Donor != engine.TypeONeg || rules[0].Recipient != engine.TypeAPos || !rules[0].Compatible {
		t.Errorf("rule 0 = %+v", rules[0])
	}
	if rules[1].Compatible {
		t.Error("rule 1 should carry compatible=false")
	}
}

func TestParseRules_Invalid(t *testing.T) {
	f := NewRuleFactory()

	cases := []struct {
		name    string
		json    string
		wantErr string
	}{
		{"malformed json", `{not json`, "parse rule JSON"},
		{"empty set", `{"name": "empty", "rules": []}`, "has no rules"},
		{"unknown donor type", `{"rules": [{"donor": "Z+", "recipient": "A+", "component": "red_cells", "compatible": true}]}`, "rule 0: donor"},
		{"unknown recipient type", `{"rules": [{"donor": "O-", "recipient": "", "component": "red_cells", "compatible": true}]}`, "rule 0: recipient"},
		{"unknown component", `{"rules": [{"donor": "O-", "recipient": "A+", "component": "marrow", "compatible": true}]}`, "rule 0: component"},
		{"duplicate row", `{"rules": [
			{"donor": "O-", "recipient": "A+", "component": "red_cells", "compatible": true},
			{"donor": "O-", "recipient": "A+", "component": "red_cells", "compatible": false}
		]}`, "rule 1: duplicate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ParseRules(tc.json)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseRules_UnknownRecipientNotAllowed(t *testing.T) {
	// "unknown" is a demand intake placeholder, never a rule row.
	f := NewRuleFactory()
	_, err := f.ParseRules(`{"rules": [{"donor": "O-", "recipient": "unknown", "component": "red_cells", "compatible": true}]}`)
	if err == nil {
		t.Fatal("rule rows must name concrete blood types")
	}
}

func TestParseOracle(t *testing.T) {
	f := NewRuleFactory()

	oracle, err := f.ParseOracle(`{"rules": [
		{"donor": "B-", "recipient": "B+", "component": "plasma", "compatible": true}
	]}`)
	if err != nil {
		t.Fatalf("ParseOracle: %v", err)
	}
	if !oracle.IsCompatible(engine.TypeBNeg, engine.TypeBPos, engine.ComponentPlasma) {
		t.Error("parsed rule should be honored")
	}
	if oracle.IsCompatible(engine.TypeONeg, engine.TypeBPos, engine.ComponentPlasma) {
		t.Error("absent rows mean incompatible")
	}
}

func TestRoundTrip(t *testing.T) {
	f := NewRuleFactory()
	original := engine.DefaultRules()

	rs := f.ToJSON("round-trip", original)
	back, err := f.FromJSON(rs)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if len(back) != len(original) {
		t.Fatalf("got %d rules back, want %d", len(back), len(original))
	}
	for i := range back {
		if back[i] != original[i] {
			t.Fatalf("rule %d changed in the round trip: %+v vs %+v", i, back[i], original[i])
		}
	}
}

func TestDefaultRuleSetJSON(t *testing.T) {
	s, err := DefaultRuleSetJSON()
	if err != nil {
		t.Fatalf("DefaultRuleSetJSON: %v", err)
	}

	rules, err := NewRuleFactory().ParseRules(s)
	if err != nil {
		t.Fatalf("rendered default table must parse back: %v", err)
	}

	oracle := engine.NewOracle(rules)
	builtin := engine.DefaultOracle()
	for _, recipient := range engine.BloodTypes {
		for _, donor := range engine.BloodTypes {
			got := oracle.IsCompatible(donor, recipient, engine.ComponentRedCells)
			want := builtin.IsCompatible(donor, recipient, engine.ComponentRedCells)
			if got != want {
				t.Errorf("%s -> %s: json table says %v, built-in says %v", donor, recipient, got, want)
			}
		}
	}
}
