package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atmosphere-mesh/corenode/internal/atmoerr"
	"github.com/atmosphere-mesh/corenode/internal/cost"
	"github.com/atmosphere-mesh/corenode/internal/gossip"
	"github.com/atmosphere-mesh/corenode/internal/store"
	"github.com/atmosphere-mesh/corenode/internal/telemetry"
	"github.com/atmosphere-mesh/corenode/internal/transport"
	"github.com/atmosphere-mesh/corenode/internal/watchdog"
)

// Supervisor owns a node's lifecycle: it starts and stops every
// registered transport, runs the anti-entropy, sweep, and cost-broadcast
// loops, and dispatches inbound frames into the store and gradient
// table. It never owns the store or table directly (those are
// constructed by pkg/atmosphere and handed in), only the background
// machinery that keeps them converging with the rest of the mesh.
type Supervisor struct {
	store  *store.Store
	table  *gossip.Table
	cost   *cost.Collector
	selfID string
	meshID uuid.UUID
	port   int
	logger *slog.Logger

	nonces *transport.NonceCache

	// peerTouchHook, when set, is called every time a frame arrives from
	// a peer on a given transport. pkg/atmosphere wires this to
	// reputation.PeerHistory.RecordConnection; nil by default so tests
	// and standalone supervisor use don't need a history object.
	peerTouchHook func(peerID, transportName string, latencyMs float64)

	// metrics, when set, receives observations for every background
	// loop and inbound/outbound path below. nil by default so tests and
	// standalone supervisor use don't need a registry.
	metrics *telemetry.Metrics

	mu          sync.RWMutex
	state       State
	transports  map[string]transport.Transport
	transportUp map[string]bool
	startedAt   time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Supervisor. Transports are registered separately via
// AddTransport before Start is called.
func New(st *store.Store, table *gossip.Table, collector *cost.Collector, selfID string, meshID uuid.UUID, port int, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		store:       st,
		table:       table,
		cost:        collector,
		selfID:      selfID,
		meshID:      meshID,
		port:        port,
		logger:      logger.With("component", "supervisor"),
		nonces:      transport.NewNonceCache(),
		state:       StateStopped,
		transports:  make(map[string]transport.Transport),
		transportUp: make(map[string]bool),
	}
}

// SetPeerTouchHook installs a callback invoked on every inbound frame
// with the sending peer and the transport it arrived on. Must be called
// before Start.
func (sv *Supervisor) SetPeerTouchHook(hook func(peerID, transportName string, latencyMs float64)) {
	sv.peerTouchHook = hook
}

// SetMetrics installs a Prometheus metrics sink. Must be called before
// Start.
func (sv *Supervisor) SetMetrics(m *telemetry.Metrics) {
	sv.metrics = m
}

// AddTransport registers a carrier the supervisor will start, stop, and
// read inbound frames from. Must be called before Start.
func (sv *Supervisor) AddTransport(t transport.Transport) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.transports[t.Name()] = t
	sv.transportUp[t.Name()] = false
}

// State reports the supervisor's current lifecycle state.
func (sv *Supervisor) State() State {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return sv.state
}

// Start transitions STOPPED -> STARTING -> RUNNING: it starts every
// registered transport (retrying failed ones with backoff rather than
// failing the whole node, per spec.md §4.8's failure semantics), wires
// the store's patch sink to flood local writes, and launches the
// anti-entropy, sweep, and cost-collector loops.
func (sv *Supervisor) Start(ctx context.Context) error {
	sv.mu.Lock()
	if sv.state == StateRunning || sv.state == StateStarting {
		sv.mu.Unlock()
		return atmoerr.ErrAlreadyRunning
	}
	sv.state = StateStarting
	sv.mu.Unlock()

	sv.ctx, sv.cancel = context.WithCancel(ctx)
	sv.store.SetPatchSink(sv.onLocalWrite)

	sv.mu.RLock()
	transports := make([]transport.Transport, 0, len(sv.transports))
	for _, t := range sv.transports {
		transports = append(transports, t)
	}
	sv.mu.RUnlock()

	for _, t := range transports {
		sv.startTransport(t)
	}

	sv.wg.Add(2)
	go sv.antiEntropyLoop()
	go sv.sweepLoop()

	if sv.cost != nil {
		sv.wg.Add(1)
		go func() {
			defer sv.wg.Done()
			sv.cost.Run(sv.ctx)
		}()
	}

	if err := watchdog.Ready(); err != nil {
		sv.logger.Warn("sd_notify ready failed", "error", err)
	}

	sv.mu.Lock()
	sv.state = StateRunning
	sv.startedAt = time.Now()
	sv.mu.Unlock()
	sv.logger.Info("supervisor started", "self", sv.selfID, "mesh", sv.meshID)
	return nil
}

// startTransport starts t; on failure it marks the transport down and
// hands off to the reconnect loop instead of failing Start, matching
// spec.md §4.8's "a transport crash transitions it to DOWN and reopens
// with backoff; the node remains RUNNING".
func (sv *Supervisor) startTransport(t transport.Transport) {
	if err := t.Start(sv.ctx); err != nil {
		sv.logger.Warn("transport failed to start, will retry", "transport", t.Name(), "error", err)
		sv.setTransportUp(t.Name(), false)
		sv.wg.Add(1)
		go sv.reconnectLoop(t)
		return
	}
	sv.setTransportUp(t.Name(), true)
	sv.wg.Add(1)
	go sv.receiveLoop(t)
}

func (sv *Supervisor) setTransportUp(name string, up bool) {
	sv.mu.Lock()
	sv.transportUp[name] = up
	sv.mu.Unlock()
	if sv.metrics != nil {
		sv.metrics.ObserveTransport(name, up)
	}
}

// Stop transitions RUNNING -> STOPPING -> STOPPED: it cancels every
// background loop, waits for them to drain, and stops each transport.
// It does not touch the store: every store write is already committed
// when it returns, and the store's owner closes it. STOPPING is
// terminal within the call, per spec.md §4.8.
func (sv *Supervisor) Stop() error {
	sv.mu.Lock()
	if sv.state != StateRunning {
		sv.mu.Unlock()
		return atmoerr.ErrNotRunning
	}
	sv.state = StateStopping
	sv.mu.Unlock()

	if err := watchdog.Stopping(); err != nil {
		sv.logger.Warn("sd_notify stopping failed", "error", err)
	}

	sv.cancel()
	sv.wg.Wait()

	sv.mu.RLock()
	transports := make([]transport.Transport, 0, len(sv.transports))
	for _, t := range sv.transports {
		transports = append(transports, t)
	}
	sv.mu.RUnlock()

	for _, t := range transports {
		if err := t.Stop(); err != nil {
			sv.logger.Warn("transport failed to stop cleanly", "transport", t.Name(), "error", err)
		}
	}

	sv.mu.Lock()
	sv.state = StateStopped
	sv.mu.Unlock()
	sv.logger.Info("supervisor stopped", "self", sv.selfID)
	return nil
}

// Health reports the external health view of spec.md §4.8.
func (sv *Supervisor) Health() Health {
	sv.mu.RLock()
	defer sv.mu.RUnlock()

	transports := make(map[string]bool, len(sv.transportUp))
	for name, up := range sv.transportUp {
		transports[name] = up
	}

	var uptime int64
	if sv.state == StateRunning {
		uptime = int64(time.Since(sv.startedAt).Seconds())
	}

	capCount := 0
	if sv.table != nil {
		capCount = len(sv.table.Snapshot())
	}

	return Health{
		PeerID:          sv.selfID,
		MeshPort:        sv.port,
		PeerCount:       len(sv.store.ConnectedPeers()),
		CapabilityCount: capCount,
		Transports:      transports,
		UptimeSecs:      uptime,
	}
}

// onLocalWrite is the store's PatchSink: every local insert, update, or
// delete is flooded to every connected transport immediately, rather
// than waiting for the next anti-entropy round.
func (sv *Supervisor) onLocalWrite(collection string, doc store.Document) {
	env := store.Envelope{Type: store.MsgPatch, Patch: &store.Patch{Collection: collection, Document: doc}}
	sv.broadcastEnvelope(env)
}

func (sv *Supervisor) broadcastEnvelope(env store.Envelope) {
	frame, err := sv.encodeFrame(env)
	if err != nil {
		sv.logger.Warn("encode envelope for broadcast", "error", err)
		return
	}
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	for name, t := range sv.transports {
		if !sv.transportUp[name] {
			continue
		}
		if err := t.Broadcast(frame); err != nil {
			sv.logger.Debug("broadcast failed", "transport", name, "error", err)
		}
	}
}

func (sv *Supervisor) encodeFrame(env store.Envelope) (transport.Frame, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return transport.Frame{}, fmt.Errorf("supervisor: encode envelope: %w", err)
	}
	return transport.NewFrame(sv.meshID, DefaultFrameTTL, body), nil
}
