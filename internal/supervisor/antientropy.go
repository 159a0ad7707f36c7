package supervisor

import (
	"time"

	"github.com/atmosphere-mesh/corenode/internal/store"
)

// antiEntropyLoop re-announces this node's Hello to every connected peer
// every AntiEntropyInterval, prompting each peer to Sync back anything
// this node is missing (spec.md §4.8).
func (sv *Supervisor) antiEntropyLoop() {
	defer sv.wg.Done()
	ticker := time.NewTicker(AntiEntropyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sv.ctx.Done():
			return
		case <-ticker.C:
			sv.syncNow()
		}
	}
}

// syncNow sends this node's Hello to every connected peer over whichever
// transport it was last seen on. It returns once the Hello has been
// submitted to every transport, not once every peer has acknowledged,
// matching spec.md §5's sync_now() semantics.
func (sv *Supervisor) syncNow() {
	hello, err := sv.store.BuildHello()
	if err != nil {
		sv.logger.Warn("anti-entropy: build hello", "error", err)
		return
	}
	if sv.metrics != nil {
		sv.metrics.ObserveAntiEntropyRound()
	}
	env := store.Envelope{Type: store.MsgHello, Hello: &hello}

	for _, peer := range sv.store.ConnectedPeers() {
		sv.mu.RLock()
		t, ok := sv.transports[peer.Transport]
		up := sv.transportUp[peer.Transport]
		sv.mu.RUnlock()
		if !ok || !up {
			continue
		}
		sv.sendEnvelope(t, peer.PeerID, env)
	}
}

// SyncNow triggers an out-of-band anti-entropy round immediately,
// without waiting for the next tick. It is the implementation of the
// host-facing sync_now() API (spec.md §6).
func (sv *Supervisor) SyncNow() {
	sv.syncNow()
}

// sweepLoop periodically drops expired gradient table entries and
// garbage-collects tombstones that have aged past the store's
// retention window.
func (sv *Supervisor) sweepLoop() {
	defer sv.wg.Done()
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sv.ctx.Done():
			return
		case <-ticker.C:
			sv.sweep()
		}
	}
}

func (sv *Supervisor) sweep() {
	now := time.Now()
	if sv.table != nil {
		if removed := sv.table.Sweep(now); len(removed) > 0 {
			sv.logger.Debug("swept expired capability entries", "count", len(removed))
		}
		if sv.metrics != nil {
			sv.metrics.ObserveCapabilitiesKnown("known", len(sv.table.Snapshot()))
		}
	}
	if n, err := sv.store.SweepTombstones(now); err != nil {
		sv.logger.Warn("sweep tombstones", "error", err)
	} else if n > 0 {
		sv.logger.Debug("swept tombstones", "count", n)
		if sv.metrics != nil {
			sv.metrics.ObserveTombstonesCollected(n)
		}
	}
}
