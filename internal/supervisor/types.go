// Package supervisor owns a node's start/stop lifecycle and the
// background loops that keep the store and gradient table in sync with
// the mesh: anti-entropy, TTL/tombstone sweeping, cost broadcast, and
// inbound frame dispatch across every registered transport. It is the
// one component that holds peer, transport, and store references
// together, so the rest of the tree can refer to peers by id rather
// than owning pointers into each other (spec.md §4.8's "central
// supervisor owning all three by handle").
package supervisor

import "time"

// AntiEntropyInterval is how often the supervisor re-sends its Hello to
// every connected peer, prompting a Sync of anything missed since the
// last round.
const AntiEntropyInterval = 5 * time.Second

// SweepInterval is how often the supervisor sweeps expired gradient
// table entries and collected tombstones.
const SweepInterval = 30 * time.Second

// DefaultFrameTTL bounds how many times a frame may be rebroadcast
// before it is dropped, independent of the application-level hop count
// carried inside a capability announcement.
const DefaultFrameTTL = 16

// State is the supervisor's lifecycle state, per spec.md §4.8.
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
)

// Health is the external health view spec.md §4.8 requires.
type Health struct {
	PeerID          string          `json:"peer_id"`
	MeshPort        int             `json:"mesh_port"`
	PeerCount       int             `json:"peer_count"`
	CapabilityCount int             `json:"capability_count"`
	Transports      map[string]bool `json:"transports"`
	UptimeSecs      int64           `json:"uptime_secs"`
}
