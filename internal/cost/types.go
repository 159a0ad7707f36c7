// Package cost collects local device signals — battery, memory, cpu,
// network, thermal — into a NodeCostFactors snapshot on a 10s tick,
// folds them into the weighted overall_cost the router scores peers by,
// and rewrites the snapshot into the _cost collection so other peers can
// see it too.
package cost

import (
	"encoding/json"
	"fmt"

	"github.com/atmosphere-mesh/corenode/internal/gossip"
)

// Collection is the reserved store collection per-peer cost snapshots
// live in.
const Collection = "_cost"

// Thermal states. The reserved-collections table in spec.md abbreviates
// NodeCostFactors's field list; a thermal reading is required by the
// overall_cost formula (t_s) even though it isn't spelled out among the
// listed fields, so ThermalState is carried as a supplement.
const (
	ThermalNominal = "nominal"
	ThermalWarm    = "warm"
	ThermalHot     = "hot"
)

// Default weights for the overall_cost formula (spec.md §4.5).
const (
	weightBattery = 0.30
	weightMemory  = 0.15
	weightCPU     = 0.20
	weightNetwork = 0.15
	weightThermal = 0.20
)

// NodeCostFactors is the document written into _cost[node_id], refreshed
// every 10s.
type NodeCostFactors struct {
	NodeID            string  `json:"node_id"`
	Timestamp         int64   `json:"timestamp"`
	OnBattery         bool    `json:"on_battery"`
	BatteryPercent    float64 `json:"battery_percent"`
	PluggedIn         bool    `json:"plugged_in"`
	CPULoad           float64 `json:"cpu_load"`
	GPULoad           float64 `json:"gpu_load,omitempty"`
	MemoryPercent     float64 `json:"memory_percent"`
	MemoryAvailableGB float64 `json:"memory_available_gb"`
	BandwidthMbps     float64 `json:"bandwidth_mbps,omitempty"`
	IsMetered         bool    `json:"is_metered"`
	LatencyMs         float64 `json:"latency_ms,omitempty"`
	ThermalState      string  `json:"thermal_state"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// thermalScore maps the discrete thermal state to t_s.
func thermalScore(state string) float64 {
	switch state {
	case ThermalWarm:
		return 0.6
	case ThermalHot:
		return 0.2
	default:
		return 1.0
	}
}

// OverallCost computes the weighted overall_cost for this snapshot: 1
// minus the weighted sum of sub-scores, so higher means more expensive.
// Any component that would be NaN (e.g. division by zero elsewhere) is
// treated as 0, per spec.md's "any NaN is treated as 0" note.
func (n NodeCostFactors) OverallCost() float64 {
	batteryScore := 1.0
	if !n.PluggedIn {
		batteryScore = clamp01(n.BatteryPercent / 100)
		if batteryScore < 0 {
			batteryScore = 0
		}
	}
	memoryScore := clamp01(1 - n.MemoryPercent/100)
	cpuScore := clamp01(1 - n.CPULoad)
	networkScore := 1.0
	if n.IsMetered {
		networkScore = 0.4
	}
	tScore := thermalScore(n.ThermalState)

	weighted := weightBattery*batteryScore + weightMemory*memoryScore +
		weightCPU*cpuScore + weightNetwork*networkScore + weightThermal*tScore
	cost := 1 - weighted
	if isNaN(cost) {
		return 0
	}
	return clamp01(cost)
}

func isNaN(f float64) bool { return f != f }

// ToGossip converts a snapshot into the CostFactors shape embedded in
// capability announcements.
func (n NodeCostFactors) ToGossip() gossip.CostFactors {
	return gossip.CostFactors{
		OnBattery:         n.OnBattery,
		BatteryPercent:    n.BatteryPercent,
		PluggedIn:         n.PluggedIn,
		CPULoad:           n.CPULoad,
		GPULoad:           n.GPULoad,
		MemoryPercent:     n.MemoryPercent,
		MemoryAvailableGB: n.MemoryAvailableGB,
		BandwidthMbps:     n.BandwidthMbps,
		IsMetered:         n.IsMetered,
		LatencyMs:         n.LatencyMs,
		OverallCost:       n.OverallCost(),
	}
}

// FieldsFromSnapshot renders a snapshot as the map[string]any a
// store.Document's Fields expects, the same JSON-round-trip approach
// internal/gossip uses for announcements.
func FieldsFromSnapshot(n NodeCostFactors) (map[string]any, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("cost: encode snapshot: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("cost: decode snapshot fields: %w", err)
	}
	return fields, nil
}

// SnapshotFromFields is the inverse of FieldsFromSnapshot, used to read
// another peer's cost document out of the store.
func SnapshotFromFields(fields map[string]any) (NodeCostFactors, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return NodeCostFactors{}, fmt.Errorf("cost: encode fields: %w", err)
	}
	var n NodeCostFactors
	if err := json.Unmarshal(raw, &n); err != nil {
		return NodeCostFactors{}, fmt.Errorf("cost: decode snapshot: %w", err)
	}
	return n, nil
}
