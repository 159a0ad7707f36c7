package cost

import "testing"

func TestOverallCost_PluggedInNominalIsCheap(t *testing.T) {
	n := NodeCostFactors{
		PluggedIn:     true,
		MemoryPercent: 20,
		CPULoad:       0.1,
		IsMetered:     false,
		ThermalState:  ThermalNominal,
	}
	got := n.OverallCost()
	if got > 0.2 {
		t.Fatalf("expected a cheap overall_cost for a well-resourced plugged-in node, got %v", got)
	}
}

func TestOverallCost_LowBatteryUnpluggedIsExpensive(t *testing.T) {
	n := NodeCostFactors{
		PluggedIn:      false,
		BatteryPercent: 10,
		MemoryPercent:  90,
		CPULoad:        0.9,
		IsMetered:      true,
		ThermalState:   ThermalHot,
	}
	got := n.OverallCost()
	if got < 0.6 {
		t.Fatalf("expected an expensive overall_cost for a strained unplugged node, got %v", got)
	}
}

func TestOverallCost_IsBoundedZeroToOne(t *testing.T) {
	n := NodeCostFactors{PluggedIn: true, ThermalState: ThermalNominal}
	if got := n.OverallCost(); got < 0 || got > 1 {
		t.Fatalf("expected overall_cost in [0,1], got %v", got)
	}
}

func TestFieldsRoundTrip(t *testing.T) {
	n := NodeCostFactors{
		NodeID:         "peer-a",
		Timestamp:      1234,
		BatteryPercent: 55,
		PluggedIn:      true,
		ThermalState:   ThermalWarm,
	}
	fields, err := FieldsFromSnapshot(n)
	if err != nil {
		t.Fatalf("FieldsFromSnapshot: %v", err)
	}
	got, err := SnapshotFromFields(fields)
	if err != nil {
		t.Fatalf("SnapshotFromFields: %v", err)
	}
	if got != n {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, n)
	}
}

func TestToGossip_CarriesOverallCost(t *testing.T) {
	n := NodeCostFactors{PluggedIn: true, ThermalState: ThermalNominal, BatteryPercent: 100}
	g := n.ToGossip()
	if g.OverallCost != n.OverallCost() {
		t.Fatalf("expected ToGossip to carry the computed overall_cost, got %v want %v", g.OverallCost, n.OverallCost())
	}
}
