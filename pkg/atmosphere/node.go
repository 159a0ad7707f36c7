// Package atmosphere is the host-facing API described in spec.md §6: it
// wires identity, mesh credentials, the CRDT store, the gradient table,
// the cost collector, the semantic router, request dispatch, and the
// transport supervisor into a single Node that an external collaborator
// (an Android ViewModel, an AIDL binder, a CLI daemon) drives through a
// narrow surface. Node itself performs no inference, UI, or permission
// handling — it only ever routes and replicates.
package atmosphere

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/atmosphere-mesh/corenode/internal/atmoerr"
	"github.com/atmosphere-mesh/corenode/internal/config"
	"github.com/atmosphere-mesh/corenode/internal/cost"
	"github.com/atmosphere-mesh/corenode/internal/dispatch"
	"github.com/atmosphere-mesh/corenode/internal/gossip"
	"github.com/atmosphere-mesh/corenode/internal/identity"
	"github.com/atmosphere-mesh/corenode/internal/meshcred"
	"github.com/atmosphere-mesh/corenode/internal/reputation"
	"github.com/atmosphere-mesh/corenode/internal/router"
	"github.com/atmosphere-mesh/corenode/internal/store"
	"github.com/atmosphere-mesh/corenode/internal/supervisor"
	"github.com/atmosphere-mesh/corenode/internal/telemetry"
	"github.com/atmosphere-mesh/corenode/internal/transport/ble"
	"github.com/atmosphere-mesh/corenode/internal/transport/lan"
	"github.com/atmosphere-mesh/corenode/internal/transport/relay"
)

// Node is one running peer of the overlay: the CRDT store it replicates,
// the gradient table and router built on top of it, and the supervisor
// that keeps it talking to the rest of the mesh. Exactly one Node exists
// per process (spec.md §6, "process-wide state").
type Node struct {
	cfg    *config.NodeConfig
	logger *slog.Logger

	privKey crypto.PrivKey
	peerID  peer.ID
	selfID  string // ShortIDHex(peerID); used as node_id everywhere in documents
	creds   *meshcred.Credentials

	host host.Host

	store     *store.Store
	table     *gossip.Table
	registrar *gossip.Registrar
	collector *cost.Collector
	history   *reputation.PeerHistory
	sv        *supervisor.Supervisor

	chatDispatcher *dispatch.Dispatcher
	chatResponder  *dispatch.Responder
	toolDispatcher *dispatch.Dispatcher
	toolResponder  *dispatch.Responder
	chatHandler    dispatch.Handler
	toolHandler    dispatch.Handler

	mu      sync.Mutex
	started bool
}

// CreateNode loads or creates this device's identity and mesh
// credentials, opens the local store, and builds every component the
// supervisor will start — but does not start anything yet (spec.md §6's
// "construct supervisor -> start" is two separate steps so a caller can
// register capabilities, set observers, etc. before the node goes live).
func CreateNode(cfg *config.NodeConfig, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.ValidateNodeConfig(cfg); err != nil {
		return nil, err
	}

	privKey, err := identity.LoadOrCreateIdentity(cfg.Identity.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", atmoerr.ErrMissingIdentity, err)
	}
	peerID, err := peer.IDFromPrivateKey(privKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", atmoerr.ErrMissingIdentity, err)
	}
	selfID := identity.ShortIDHex(peerID)

	creds, err := loadOrCreateMesh(cfg.Mesh.CredentialsFile)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "store", "atmosphere.db"), selfID, logger)
	if err != nil {
		return nil, err
	}

	table := gossip.NewTable(selfID, creds.MeshID.String(), logger)
	registrar := gossip.NewRegistrar(st, table, selfID, creds.MeshID.String(), logger)
	collector := cost.NewCollector(st, cost.NewDefaultSampler(selfID), selfID, logger)
	registrar.SetCostSource(collector.Source())
	history := reputation.NewPeerHistory(filepath.Join(cfg.DataDir, "reputation.json"))

	n := &Node{
		cfg:       cfg,
		logger:    logger,
		privKey:   privKey,
		peerID:    peerID,
		selfID:    selfID,
		creds:     creds,
		store:     st,
		table:     table,
		registrar: registrar,
		collector: collector,
		history:   history,
	}

	h, err := lan.NewHost(lan.HostConfig{
		PrivKey:            privKey,
		ListenPort:         cfg.Network.ListenPort,
		EnableRelay:        cfg.Network.EnableRelay(),
		RelayAddrs:         relayAddrList(cfg.Network.RelayURL),
		EnableNATPortMap:   cfg.Network.EnableRelay(),
		EnableHolePunching: cfg.Network.EnableRelay(),
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("atmosphere: build libp2p host: %w", err)
	}
	n.host = h

	n.sv = supervisor.New(st, table, collector, selfID, creds.MeshID, boundPort(h), logger)
	n.sv.SetPeerTouchHook(history.RecordConnection)

	if cfg.Network.EnableLAN {
		n.sv.AddTransport(lan.New(h, creds.MeshID, creds.Secret, boundPort(h), "", logger))
	}
	if cfg.Network.EnableRelay() {
		relayTransport, err := relay.New(h, creds.MeshID, creds.Secret, cfg.Network.RelayURL, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("atmosphere: build relay transport: %w", err)
		}
		n.sv.AddTransport(relayTransport)
	}
	n.sv.AddTransport(ble.New(logger))

	route := func(query string, constraints router.Constraints) (router.Decision, bool) {
		return n.Route(query, constraints)
	}
	n.chatDispatcher = dispatch.New(st, route, selfID, logger)
	n.toolDispatcher = dispatch.NewToolDispatcher(st, route, selfID, logger)
	n.chatResponder = dispatch.NewResponder(st, selfID, n.localMatch, logger)
	n.toolResponder = dispatch.NewToolResponder(st, selfID, n.localMatch, logger)

	return n, nil
}

// loadOrCreateMesh loads persisted mesh credentials from path, or
// creates a brand new single-peer mesh if none exist yet — "create
// mesh" happens implicitly the first time a node starts with no prior
// membership, matching how a first device bootstraps before anyone has
// generated it an invite.
func loadOrCreateMesh(path string) (*meshcred.Credentials, error) {
	creds, err := meshcred.Load(path)
	switch {
	case err == nil:
		return creds, nil
	case !errors.Is(err, os.ErrNotExist):
		// The file exists but couldn't be read back (bad permissions,
		// corrupt JSON, truncated secret): surface the failure instead
		// of silently overwriting a mesh this device already belongs to.
		return nil, err
	}
	creds, err = meshcred.New()
	if err != nil {
		return nil, fmt.Errorf("atmosphere: create mesh credentials: %w", err)
	}
	if err := creds.Save(path); err != nil {
		return nil, fmt.Errorf("atmosphere: persist mesh credentials: %w", err)
	}
	return creds, nil
}

func relayAddrList(url string) []string {
	if url == "" {
		return nil
	}
	return []string{url}
}

// boundPort reads back the TCP port the host actually bound, so mDNS
// re-advertises the real port rather than the possibly-zero configured
// one (spec.md §4.1, "listener uses OS-assigned port; the chosen port is
// re-advertised via mDNS").
func boundPort(h host.Host) int {
	for _, addr := range h.Addrs() {
		if portStr, err := addr.ValueForProtocol(ma.P_TCP); err == nil {
			var port int
			if _, err := fmt.Sscanf(portStr, "%d", &port); err == nil && port > 0 {
				return port
			}
		}
	}
	return 0
}

// PeerID returns this node's full libp2p identity.
func (n *Node) PeerID() peer.ID { return n.peerID }

// ShortID returns the 16-byte presentation id derived from PeerID, used
// as node_id in every document this node writes.
func (n *Node) ShortID() string { return n.selfID }

// Start transitions the node through spec.md §4.8's STOPPED -> STARTING
// -> RUNNING sequence: it starts the supervisor (which starts every
// transport and background loop), then re-registers every capability
// declared in configuration, then starts the request/tool responders.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return atmoerr.ErrAlreadyRunning
	}

	if err := n.sv.Start(ctx); err != nil {
		return err
	}

	for _, spec := range n.cfg.Capabilities {
		if err := n.registrar.Register(ctx, toGossipSpec(spec)); err != nil {
			n.logger.Warn("failed to register configured capability", "capability_id", spec.ID, "error", err)
		}
	}

	chatHandler := n.chatHandler
	if chatHandler == nil {
		chatHandler = n.unhandledRequest
	}
	toolHandler := n.toolHandler
	if toolHandler == nil {
		toolHandler = n.unhandledRequest
	}
	n.chatResponder.Start(ctx, chatHandler)
	n.toolResponder.Start(ctx, toolHandler)

	n.started = true
	return nil
}

// unhandledRequest is the default Handler used for requests this process
// has no registered application-level handler for; callers that actually
// serve capabilities replace it via SetRequestHandler / SetToolHandler
// before Start.
func (n *Node) unhandledRequest(ctx context.Context, req dispatch.RequestDoc) (string, error) {
	return "", fmt.Errorf("atmosphere: no handler registered for capability %q", req.CapabilityID)
}

// SetRequestHandler installs the function that answers routed chat/
// inference requests addressed to this node. Must be called before
// Start; the responder only subscribes once, at Start.
func (n *Node) SetRequestHandler(handler dispatch.Handler) {
	n.chatHandler = handler
}

// SetToolHandler installs the function that answers routed tool-call
// requests addressed to this node. Must be called before Start; the
// responder only subscribes once, at Start.
func (n *Node) SetToolHandler(handler dispatch.Handler) {
	n.toolHandler = handler
}

// SetMetrics installs a Prometheus metrics sink on the supervisor. Must
// be called before Start.
func (n *Node) SetMetrics(m *telemetry.Metrics) {
	n.sv.SetMetrics(m)
}

// localMatch decides whether this node is the best local match for a
// request that named no explicit target_peer, by checking whether the
// capability or project path resolves to a capability this node has
// registered itself (spec.md §4.7).
func (n *Node) localMatch(projectPath, capabilityID string) bool {
	if capabilityID != "" {
		if e, ok := n.table.Get(capabilityID); ok && e.Local {
			return true
		}
	}
	if projectPath != "" {
		for _, e := range n.table.Snapshot() {
			if e.Local && e.ProjectPath == projectPath {
				return true
			}
		}
	}
	return false
}

// Stop transitions RUNNING -> STOPPING -> STOPPED: it stops both
// responders, then the supervisor (which drains its loops and stops
// every transport), then saves peer history. The store stays open
// until Close.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return atmoerr.ErrNotRunning
	}
	n.chatResponder.Stop()
	n.toolResponder.Stop()
	if err := n.sv.Stop(); err != nil {
		return err
	}
	if err := n.history.Save(); err != nil {
		n.logger.Warn("failed to persist peer history", "error", err)
	}
	n.started = false
	return nil
}

// Close releases resources Stop does not: the underlying store file and
// libp2p host. Call after Stop, typically via defer right after
// CreateNode.
func (n *Node) Close() error {
	if n.host != nil {
		_ = n.host.Close()
	}
	return n.store.Close()
}

// Health reports the spec.md §4.8 external health view.
func (n *Node) Health() supervisor.Health {
	return n.sv.Health()
}

// --- CRDT store surface (spec.md §4.2, §6) ---

// Insert writes fields under id in collection and returns the stored
// document.
func (n *Node) Insert(collection, id string, fields map[string]any) (store.Document, error) {
	return n.store.Insert(collection, id, fields)
}

// Get returns the current document (including tombstones) for id.
func (n *Node) Get(collection, id string) (store.Document, bool, error) {
	return n.store.Get(collection, id)
}

// Query returns every non-tombstoned document in collection.
func (n *Node) Query(collection string) ([]store.Document, error) {
	return n.store.Query(collection)
}

// Delete tombstones id in collection.
func (n *Node) Delete(collection, id string) (store.Document, error) {
	return n.store.Delete(collection, id)
}

// Observe registers callback for change events in collection (empty
// string means every collection) and returns an observer id.
func (n *Node) Observe(collection string, callback func(store.Event)) int {
	return n.store.Observe(collection, callback)
}

// RemoveObserver unregisters a previously registered observer.
func (n *Node) RemoveObserver(id int) {
	n.store.RemoveObserver(id)
}

// SyncNow forces an immediate anti-entropy round with every connected
// peer, returning once the request has been submitted to every
// transport (spec.md §5).
func (n *Node) SyncNow() {
	n.sv.SyncNow()
}

// ConnectedPeers returns a snapshot of peers this node currently
// considers active.
func (n *Node) ConnectedPeers() []store.PeerInfo {
	return n.store.ConnectedPeers()
}

// --- Capability registration (spec.md §4.4, §6) ---

// RegisterCapability writes spec's announcement into _capabilities and
// keeps it alive with a re-announce ticker until UnregisterCapability is
// called or ctx is cancelled.
func (n *Node) RegisterCapability(ctx context.Context, spec gossip.CapabilitySpec) error {
	return n.registrar.Register(ctx, spec)
}

// UnregisterCapability tombstones a previously registered capability.
func (n *Node) UnregisterCapability(capabilityID string) error {
	return n.registrar.Unregister(capabilityID)
}

func toGossipSpec(c config.CapabilitySpec) gossip.CapabilitySpec {
	return gossip.CapabilitySpec{
		CapabilityID:    c.ID,
		Label:           c.Label,
		Description:     c.Description,
		Keywords:        c.Keywords,
		GoodFor:         c.GoodFor,
		Specializations: c.Specializations,
		Model: gossip.ModelInfo{
			Name:         c.Model.Name,
			Family:       c.Model.Family,
			Tier:         c.Model.Tier,
			ParamsB:      c.Model.ParamsB,
			Quantization: c.Model.Quantization,
		},
		Features: gossip.Features{
			HasRAG:       c.Features.HasRAG,
			HasTools:     c.Features.HasTools,
			HasVision:    c.Features.HasVision,
			HasStreaming: c.Features.HasStreaming,
		},
		ProjectPath: c.ProjectPath,
		Available:   true,
	}
}

// Capabilities returns a snapshot of every capability currently known to
// this node's gradient table, local and remote.
func (n *Node) Capabilities() []gossip.CapabilityEntry {
	return n.table.Snapshot()
}

// --- Semantic router (spec.md §4.6, §6) ---

// Route scores every entry currently in the gradient table against
// query and constraints, recomputing s_cost against a fresh _cost
// document when one exists.
func (n *Node) Route(query string, constraints router.Constraints) (router.Decision, bool) {
	costLookup := func(peerID string) (float64, bool) {
		snap, ok, err := cost.ForPeer(n.store, peerID)
		if err != nil || !ok {
			return 0, false
		}
		return snap.OverallCost, true
	}
	return router.Route(query, constraints, n.table.Snapshot(), costLookup)
}

// --- Request dispatch (spec.md §4.7, §6) ---

// Dispatch routes query to a capability, writes a request, and waits
// for a correlated response or timeout.
func (n *Node) Dispatch(ctx context.Context, query string, constraints router.Constraints, prompt string, messages []dispatch.Message, timeout time.Duration) (dispatch.Result, error) {
	return n.chatDispatcher.Dispatch(ctx, query, constraints, prompt, messages, timeout)
}

// DispatchTool is Dispatch's symmetric counterpart over the
// _tool_requests/_tool_responses collection pair.
func (n *Node) DispatchTool(ctx context.Context, query string, constraints router.Constraints, prompt string, messages []dispatch.Message, timeout time.Duration) (dispatch.Result, error) {
	return n.toolDispatcher.Dispatch(ctx, query, constraints, prompt, messages, timeout)
}

// --- Mesh membership (spec.md §6) ---

// GenerateInvite mints a portable invite token from this node's current
// mesh credentials. ttl <= 0 produces a token with no expiry of its own.
func (n *Node) GenerateInvite(wideAreaURL string, ttl time.Duration) (*meshcred.Token, error) {
	return meshcred.GenerateInvite(n.creds, n.cfg.AppID, wideAreaURL, ttl), nil
}

// ApplyInvite decodes tokenB64, validates it, and replaces this node's
// mesh membership with the one it describes, persisting it to disk.
// Joining a new mesh while running requires a restart to rebuild the
// transport layer against the new shared secret; ApplyInvite only
// updates the persisted credentials and in-memory Credentials, matching
// "ok | Expired | BadFormat" from spec.md §6 (errors.Is distinguishes
// the two failure cases via atmoerr.ErrInviteExpired / ErrBadInvite).
func (n *Node) ApplyInvite(tokenB64 string) error {
	tok, err := meshcred.TokenFromBase64(tokenB64)
	if err != nil {
		return err
	}
	creds, err := tok.ToCredentials()
	if err != nil {
		return err
	}
	if err := creds.Save(n.cfg.Mesh.CredentialsFile); err != nil {
		return fmt.Errorf("atmosphere: persist joined mesh credentials: %w", err)
	}
	n.mu.Lock()
	n.creds = creds
	n.mu.Unlock()
	return nil
}
