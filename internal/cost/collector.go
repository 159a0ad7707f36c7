package cost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atmosphere-mesh/corenode/internal/gossip"
	"github.com/atmosphere-mesh/corenode/internal/store"
)

// Interval is the cost collector's tick period (spec.md §4.5).
const Interval = 10 * time.Second

// Collector samples a Sampler every Interval, keeps the latest snapshot
// for cheap local reads (gossip.Registrar's CostSource), and rewrites it
// into _cost[node_id] so other peers can see it too.
type Collector struct {
	store   *store.Store
	sampler Sampler
	nodeID  string
	logger  *slog.Logger

	mu       sync.RWMutex
	latest   NodeCostFactors
	hasValue bool

	wg sync.WaitGroup
}

// NewCollector builds a collector that samples from sampler and writes
// into st.
func NewCollector(st *store.Store, sampler Sampler, nodeID string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		store:   st,
		sampler: sampler,
		nodeID:  nodeID,
		logger:  logger.With("component", "cost"),
	}
}

// Run samples once immediately, then again every Interval, until ctx is
// cancelled. Call it from its own goroutine; it blocks until cancellation.
func (c *Collector) Run(ctx context.Context) {
	c.wg.Add(1)
	defer c.wg.Done()

	c.tick()
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// Wait blocks until a Run call started by this collector has returned.
func (c *Collector) Wait() {
	c.wg.Wait()
}

func (c *Collector) tick() {
	snap, err := c.sampler.Sample()
	if err != nil {
		c.logger.Warn("cost sample failed", "error", err)
		return
	}
	snap.NodeID = c.nodeID
	snap.Timestamp = time.Now().Unix()

	c.mu.Lock()
	c.latest = snap
	c.hasValue = true
	c.mu.Unlock()

	fields, err := FieldsFromSnapshot(snap)
	if err != nil {
		c.logger.Warn("failed to encode cost snapshot", "error", err)
		return
	}
	if _, err := c.store.Insert(Collection, c.nodeID, fields); err != nil {
		c.logger.Warn("failed to write cost snapshot", "error", err)
	}
}

// Latest returns the most recent snapshot and whether one has been taken
// yet.
func (c *Collector) Latest() (NodeCostFactors, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.hasValue
}

// Source returns a gossip.CostSource backed by this collector's latest
// snapshot, for wiring into gossip.Registrar.SetCostSource.
func (c *Collector) Source() gossip.CostSource {
	return func() gossip.CostFactors {
		snap, ok := c.Latest()
		if !ok {
			return gossip.CostFactors{}
		}
		return snap.ToGossip()
	}
}

// ForPeer looks up another peer's latest cost document from the store,
// used by the router to recompute s_cost against a fresh _cost entry
// rather than the possibly-stale copy embedded in a capability
// announcement.
func ForPeer(st *store.Store, peerID string) (NodeCostFactors, bool, error) {
	doc, found, err := st.Get(Collection, peerID)
	if err != nil {
		return NodeCostFactors{}, false, fmt.Errorf("cost: read %s: %w", peerID, err)
	}
	if !found {
		return NodeCostFactors{}, false, nil
	}
	snap, err := SnapshotFromFields(doc.Fields)
	if err != nil {
		return NodeCostFactors{}, false, err
	}
	return snap, true, nil
}
