// Package gossip maintains the gradient table: an in-memory index from
// capability_id to the best known route to it, derived from the
// CRDT-replicated _capabilities collection. It also owns local capability
// registration, which periodically re-announces into that collection
// while a capability stays registered.
//
// Ingestion of remote announcements is driven by whichever caller holds
// the peer context for an incoming document — normally the supervisor,
// right after it applies a Patch or Sync batch for _capabilities via
// store.MergeRemote. The table itself never reads the store directly; it
// only ever sees Announcement values handed to it by Ingest.
package gossip

import "time"

// Collection is the reserved store collection capability advertisements
// live in.
const Collection = "_capabilities"

const (
	// MaxHops bounds how far a capability announcement may propagate
	// before it is no longer trusted; it is also the hop-score divisor
	// the router uses.
	MaxHops = 10

	// CapTTL is how long a freshly written local announcement stays
	// valid before a peer's gradient table must drop it absent a
	// refresh.
	CapTTL = 5 * time.Minute

	// AnnounceInterval is how often a registered local capability is
	// re-written to keep its expires_at in the future.
	AnnounceInterval = 30 * time.Second

	// SweepInterval is how often the gradient table drops entries whose
	// expires_at has passed. The ticker itself lives in the supervisor;
	// Table.Sweep is the pure function it calls.
	SweepInterval = 30 * time.Second
)

// ModelInfo describes the model backing a capability, when applicable.
type ModelInfo struct {
	Name         string  `json:"name,omitempty"`
	Family       string  `json:"family,omitempty"`
	Tier         string  `json:"tier,omitempty"`
	ParamsB      float64 `json:"params_b,omitempty"`
	Quantization string  `json:"quantization,omitempty"`
}

// Features are the optional capability flags the router's hard filter
// checks against a query's required_features. A zero Features value
// means "no flags set", which the router and dispatch treat as false
// across the board rather than as missing data (see the open question
// decision in DESIGN.md).
type Features struct {
	HasRAG       bool `json:"has_rag,omitempty"`
	HasTools     bool `json:"has_tools,omitempty"`
	HasVision    bool `json:"has_vision,omitempty"`
	HasStreaming bool `json:"has_streaming,omitempty"`
}

// CostFactors is the per-node cost snapshot embedded in a capability
// announcement (and, independently, rewritten every 10s into the _cost
// collection by the cost collector). Carrying a copy inside the
// announcement lets the router score cost even before a fresh _cost
// document for that peer has arrived.
type CostFactors struct {
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
	OverallCost       float64 `json:"overall_cost"`
}

// Announcement is a document in _capabilities, decoded from its Fields
// map. Hops and TTL are the values as written by the originating node;
// Table.Ingest is responsible for the "+1 through me" adjustment, not
// this type.
type Announcement struct {
	NodeID             string      `json:"node_id"`
	CapabilityID       string      `json:"capability_id"`
	Label              string      `json:"label,omitempty"`
	Description        string      `json:"description,omitempty"`
	Keywords           []string    `json:"keywords,omitempty"`
	GoodFor            []string    `json:"good_for,omitempty"`
	Specializations    []string    `json:"specializations,omitempty"`
	Model              ModelInfo   `json:"model,omitempty"`
	Features           Features    `json:"features,omitempty"`
	Hops               int         `json:"hops"`
	TTL                int         `json:"ttl"`
	Timestamp          int64       `json:"timestamp"`
	ExpiresAt          int64       `json:"expires_at"`
	CostFactors        CostFactors `json:"cost_factors"`
	ProjectPath        string      `json:"project_path,omitempty"`
	Available          bool        `json:"available"`
	EstimatedLatencyMs float64     `json:"estimated_latency_ms,omitempty"`
	Transport          string      `json:"transport,omitempty"`

	// ViaNode is the peer that handed this announcement to whichever
	// node most recently rewrote it — empty at the origin, set by
	// Advance on every hop after. It is what makes the document itself
	// (not just a node's in-memory table entry) carry a correct hop
	// count and relayer as it propagates multiple hops past the
	// originating node.
	ViaNode string `json:"via_node,omitempty"`
}

// Advance returns a copy of a as it should be stored and relayed by a
// node other than its origin: one hop further from the source, with
// viaNode recording who it was just received from. It is the single
// place "updates hops, via_node" (spec.md §4.2 invariant 3) happens, so
// every further hop sees the distance accumulated by the hops before
// it rather than the original, unmodified hop count the origin wrote.
func (a Announcement) Advance(viaNode string) Announcement {
	next := a
	next.Hops = a.Hops + 1
	next.TTL = a.TTL - 1
	next.ViaNode = viaNode
	return next
}

// CapabilityEntry is a row of the gradient table: an Announcement as
// adjusted by ingestion, plus the peer it was learned from.
type CapabilityEntry struct {
	Announcement
	ViaPeer string `json:"via_peer,omitempty"`
	Local   bool   `json:"-"`
}

// CapabilitySpec is the input to Registrar.Register: the caller-supplied
// description of a capability this node offers. Hops, TTL, Timestamp,
// ExpiresAt and CostFactors are computed by the registrar, not supplied
// by the caller.
type CapabilitySpec struct {
	CapabilityID       string
	Label              string
	Description        string
	Keywords           []string
	GoodFor            []string
	Specializations    []string
	Model              ModelInfo
	Features           Features
	ProjectPath        string
	Available          bool
	EstimatedLatencyMs float64
}
