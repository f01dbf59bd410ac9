package registry

import (
	"context"
	"testing"

	"github.com/warp/bloodbank/engine"
)

func TestDonorsByTypes_RequestedTypeOrder(t *testing.T) {
	m := NewMemory([]engine.Donor{
		{ID: "d-1", BloodType: engine.TypeOPos},
		{ID: "d-2", BloodType: engine.TypeONeg},
		{ID: "d-3", BloodType: engine.TypeOPos},
		{ID: "d-4", BloodType: engine.TypeAPos},
	})

	donors, err := m.DonorsByTypes(context.Background(), []engine.BloodType{engine.TypeONeg, engine.TypeOPos})
	if err != nil {
		t.Fatalf("DonorsByTypes: %v", err)
	}

	want := []engine.DonorID{"d-2", "d-1", "d-3"}
	if len(donors) != len(want) {
		t.Fatalf("got %d donors, want %d", len(donors), len(want))
	}
	for i, id := range want {
		if donors[i].ID != id {
			t.Errorf("donor %d = %s, want %s", i, donors[i].ID, id)
		}
	}
}

func TestDonorsByTypes_NoMatches(t *testing.T) {
	m := NewMemory(nil)
	donors, err := m.DonorsByTypes(context.Background(), []engine.BloodType{engine.TypeABNeg})
	if err != nil {
		t.Fatalf("DonorsByTypes: %v", err)
	}
	if len(donors) != 0 {
		t.Errorf("empty registry returned %d donors", len(donors))
	}
}
