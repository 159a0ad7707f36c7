package gossip

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atmosphere-mesh/corenode/internal/store"
)

// CostSource is polled once per announcement write to embed a current
// cost snapshot. The cost collector (internal/cost) satisfies this once
// pkg/atmosphere's CreateNode wires it in; a Registrar with no CostSource set
// embeds a zero CostFactors, which the router treats as overall_cost=0
// (cheapest possible) rather than unknown.
type CostSource func() CostFactors

// Registrar owns local capability registration: writing the initial
// announcement into _capabilities, keeping it alive with a re-announce
// ticker every AnnounceInterval, and tombstoning it on Unregister.
type Registrar struct {
	store  *store.Store
	table  *Table
	selfID string
	meshID string
	logger *slog.Logger
	cost   CostSource

	mu    sync.Mutex
	specs map[string]CapabilitySpec
	stop  map[string]context.CancelFunc
	wg    sync.WaitGroup
}

// NewRegistrar builds a registrar writing into st and keeping table in
// sync with its own announcements.
func NewRegistrar(st *store.Store, table *Table, selfID, meshID string, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		store:  st,
		table:  table,
		selfID: selfID,
		meshID: meshID,
		logger: logger.With("component", "gossip"),
		specs:  make(map[string]CapabilitySpec),
		stop:   make(map[string]context.CancelFunc),
	}
}

// SetCostSource installs the function polled for a cost snapshot on every
// announce. Call before Register; it is not safe to change concurrently
// with an in-flight announce.
func (r *Registrar) SetCostSource(fn CostSource) {
	r.cost = fn
}

// Register writes spec's initial announcement and starts re-announcing it
// every AnnounceInterval until ctx is cancelled or
// Unregister is called. Re-registering an already-registered capability
// id replaces its spec and resets the re-announce ticker.
func (r *Registrar) Register(ctx context.Context, spec CapabilitySpec) error {
	if spec.CapabilityID == "" {
		return fmt.Errorf("gossip: capability id must not be empty")
	}

	r.mu.Lock()
	if cancel, ok := r.stop[spec.CapabilityID]; ok {
		cancel()
	}
	r.specs[spec.CapabilityID] = spec
	cctx, cancel := context.WithCancel(ctx)
	r.stop[spec.CapabilityID] = cancel
	r.mu.Unlock()

	if err := r.announce(spec); err != nil {
		return err
	}

	r.wg.Add(1)
	go r.reannounceLoop(cctx, spec.CapabilityID)
	return nil
}

// Unregister stops re-announcing capabilityID, tombstones its document in
// _capabilities, and removes it from the gradient table.
func (r *Registrar) Unregister(capabilityID string) error {
	r.mu.Lock()
	if cancel, ok := r.stop[capabilityID]; ok {
		cancel()
		delete(r.stop, capabilityID)
	}
	delete(r.specs, capabilityID)
	r.mu.Unlock()

	if _, err := r.store.Delete(Collection, capabilityID); err != nil {
		return fmt.Errorf("gossip: tombstone %s: %w", capabilityID, err)
	}
	r.table.Remove(capabilityID)
	return nil
}

// Wait blocks until every re-announce loop started by Register has
// returned, used by the supervisor during a clean shutdown.
func (r *Registrar) Wait() {
	r.wg.Wait()
}

func (r *Registrar) reannounceLoop(ctx context.Context, capabilityID string) {
	defer r.wg.Done()
	ticker := time.NewTicker(AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			spec, ok := r.specs[capabilityID]
			r.mu.Unlock()
			if !ok {
				return
			}
			if err := r.announce(spec); err != nil {
				r.logger.Warn("failed to re-announce capability", "capability_id", capabilityID, "error", err)
			}
		}
	}
}

func (r *Registrar) announce(spec CapabilitySpec) error {
	now := time.Now()
	var cost CostFactors
	if r.cost != nil {
		cost = r.cost()
	}

	a := Announcement{
		NodeID:             r.selfID,
		CapabilityID:       spec.CapabilityID,
		Label:              spec.Label,
		Description:        spec.Description,
		Keywords:           spec.Keywords,
		GoodFor:            spec.GoodFor,
		Specializations:    spec.Specializations,
		Model:              spec.Model,
		Features:           spec.Features,
		Hops:               0,
		TTL:                MaxHops,
		Timestamp:          now.UnixNano(),
		ExpiresAt:          now.Add(CapTTL).Unix(),
		CostFactors:        cost,
		ProjectPath:        spec.ProjectPath,
		Available:          spec.Available,
		EstimatedLatencyMs: spec.EstimatedLatencyMs,
		Transport:          "local",
	}

	fields, err := FieldsFromAnnouncement(a)
	if err != nil {
		return err
	}
	if _, err := r.store.Insert(Collection, spec.CapabilityID, fields); err != nil {
		return fmt.Errorf("gossip: write announcement %s: %w", spec.CapabilityID, err)
	}
	r.table.InsertLocal(a)
	return nil
}
