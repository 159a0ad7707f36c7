package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/atmosphere-mesh/corenode/internal/gossip"
	"github.com/atmosphere-mesh/corenode/internal/store"
	"github.com/atmosphere-mesh/corenode/internal/transport"
)

var errTransportBoot = errors.New("transport: simulated boot failure")

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := store.Open(path, "self", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met within timeout")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLifecycle_StartRunStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	st := newTestStore(t)
	table := gossip.NewTable("self", uuid.Nil.String(), nil)
	sv := New(st, table, nil, "self", uuid.Nil, 7000, nil)

	ft := newFakeTransport("lan")
	sv.AddTransport(ft)

	if sv.State() != StateStopped {
		t.Fatalf("expected initial state STOPPED, got %s", sv.State())
	}

	if err := sv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sv.State() != StateRunning {
		t.Fatalf("expected RUNNING after Start, got %s", sv.State())
	}

	if err := sv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sv.State() != StateStopped {
		t.Fatalf("expected STOPPED after Stop, got %s", sv.State())
	}
	if !ft.stopped {
		t.Fatal("expected the transport to have been stopped")
	}
}

func TestStart_AlreadyRunningReturnsError(t *testing.T) {
	st := newTestStore(t)
	table := gossip.NewTable("self", uuid.Nil.String(), nil)
	sv := New(st, table, nil, "self", uuid.Nil, 0, nil)

	if err := sv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sv.Stop()

	if err := sv.Start(context.Background()); err == nil {
		t.Fatal("expected an error starting an already-running supervisor")
	}
}

func TestStop_NotRunningReturnsError(t *testing.T) {
	st := newTestStore(t)
	table := gossip.NewTable("self", uuid.Nil.String(), nil)
	sv := New(st, table, nil, "self", uuid.Nil, 0, nil)

	if err := sv.Stop(); err == nil {
		t.Fatal("expected an error stopping a supervisor that was never started")
	}
}

func TestHealth_ReportsTransportsAndPeerCount(t *testing.T) {
	st := newTestStore(t)
	table := gossip.NewTable("self", uuid.Nil.String(), nil)
	sv := New(st, table, nil, "self", uuid.Nil, 9000, nil)
	sv.AddTransport(newFakeTransport("lan"))

	if err := sv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sv.Stop()

	st.TouchPeer("peer-b", "lan", time.Now())

	h := sv.Health()
	if h.PeerID != "self" || h.MeshPort != 9000 {
		t.Fatalf("unexpected health identity fields: %+v", h)
	}
	if !h.Transports["lan"] {
		t.Fatalf("expected transport 'lan' to report up, got %+v", h.Transports)
	}
	if h.PeerCount != 1 {
		t.Fatalf("expected peer_count 1, got %d", h.PeerCount)
	}
}

func TestOnLocalWrite_BroadcastsPatchToUpTransports(t *testing.T) {
	st := newTestStore(t)
	table := gossip.NewTable("self", uuid.Nil.String(), nil)
	sv := New(st, table, nil, "self", uuid.Nil, 0, nil)
	ft := newFakeTransport("lan")
	sv.AddTransport(ft)

	if err := sv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sv.Stop()

	if _, err := st.Insert("notes", "doc-1", map[string]any{"text": "hello"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	waitFor(t, time.Second, func() bool { return ft.broadcastCount() > 0 })
}

func TestHandleInbound_DropsForeignMesh(t *testing.T) {
	st := newTestStore(t)
	table := gossip.NewTable("self", uuid.Nil.String(), nil)
	sv := New(st, table, nil, "self", uuid.New(), 0, nil)
	ft := newFakeTransport("lan")
	sv.AddTransport(ft)

	if err := sv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sv.Stop()

	foreignFrame := transport.NewFrame(uuid.New(), DefaultFrameTTL, []byte(`{"type":"bye"}`))
	ft.deliver(transport.InboundFrame{PeerID: "peer-x", Frame: foreignFrame})

	time.Sleep(50 * time.Millisecond)
	if peers := st.ConnectedPeers(); len(peers) != 0 {
		t.Fatalf("expected a foreign-mesh frame to be dropped without touching peer state, got %+v", peers)
	}
}

func TestHandlePatch_AppliesCapabilityAndIngestsIntoTable(t *testing.T) {
	st := newTestStore(t)
	meshID := uuid.New()
	table := gossip.NewTable("self", meshID.String(), nil)
	sv := New(st, table, nil, "self", meshID, 0, nil)
	ft := newFakeTransport("lan")
	sv.AddTransport(ft)

	if err := sv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sv.Stop()

	ann := gossip.Announcement{
		NodeID:       "peer-b",
		CapabilityID: "llm.chat",
		Hops:         0,
		TTL:          gossip.MaxHops,
		Timestamp:    time.Now().UnixNano(),
		ExpiresAt:    time.Now().Add(gossip.CapTTL).Unix(),
		Available:    true,
	}
	fields, err := gossip.FieldsFromAnnouncement(ann)
	if err != nil {
		t.Fatalf("FieldsFromAnnouncement: %v", err)
	}
	doc := store.Document{ID: "llm.chat", Ts: store.LogicalTimestamp{Counter: 1, PeerID: "peer-b"}, Fields: fields}

	env := store.Envelope{Type: store.MsgPatch, Patch: &store.Patch{Collection: gossip.Collection, Document: doc}}
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	frame := transport.NewFrame(meshID, DefaultFrameTTL, body)
	ft.deliver(transport.InboundFrame{PeerID: "peer-b", Frame: frame})

	waitFor(t, time.Second, func() bool {
		_, ok := table.Get("llm.chat")
		return ok
	})

	entry, _ := table.Get("llm.chat")
	if entry.Hops != 1 {
		t.Fatalf("expected the ingested entry to be one hop further (through peer-b), got %d", entry.Hops)
	}
	if entry.ViaPeer != "peer-b" {
		t.Fatalf("expected ViaPeer peer-b, got %s", entry.ViaPeer)
	}
}

// TestHandlePatch_AdvancesHopsAcrossThreePeerChain exercises a full
// A -> B -> C relay: B ingests an announcement straight from A (hops=0),
// then relays the frame it actually sent onward to C. C's table must
// show hops=2 and via_peer "b", not the hops=1 it would show if B had
// relayed the origin's untouched announcement instead of its own
// advanced copy.
func TestHandlePatch_AdvancesHopsAcrossThreePeerChain(t *testing.T) {
	meshID := uuid.New()

	stB := newTestStore(t)
	tableB := gossip.NewTable("b", meshID.String(), nil)
	svB := New(stB, tableB, nil, "b", meshID, 0, nil)
	ftFromA := newFakeTransport("from-a")
	ftToC := newFakeTransport("to-c")
	svB.AddTransport(ftFromA)
	svB.AddTransport(ftToC)

	if err := svB.Start(context.Background()); err != nil {
		t.Fatalf("Start B: %v", err)
	}
	defer svB.Stop()

	ann := gossip.Announcement{
		NodeID:       "a",
		CapabilityID: "llm.chat",
		Hops:         0,
		TTL:          gossip.MaxHops,
		Timestamp:    time.Now().UnixNano(),
		ExpiresAt:    time.Now().Add(gossip.CapTTL).Unix(),
		Available:    true,
	}
	fields, err := gossip.FieldsFromAnnouncement(ann)
	if err != nil {
		t.Fatalf("FieldsFromAnnouncement: %v", err)
	}
	doc := store.Document{ID: "llm.chat", Ts: store.LogicalTimestamp{Counter: 1, PeerID: "a"}, Fields: fields}
	env := store.Envelope{Type: store.MsgPatch, Patch: &store.Patch{Collection: gossip.Collection, Document: doc}}
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ftFromA.deliver(transport.InboundFrame{PeerID: "a", Frame: transport.NewFrame(meshID, DefaultFrameTTL, body)})

	waitFor(t, time.Second, func() bool {
		_, ok := tableB.Get("llm.chat")
		return ok
	})
	entryB, _ := tableB.Get("llm.chat")
	if entryB.Hops != 1 || entryB.ViaPeer != "a" {
		t.Fatalf("expected B's table to show hops=1 via a, got hops=%d via=%s", entryB.Hops, entryB.ViaPeer)
	}

	waitFor(t, time.Second, func() bool { return ftToC.broadcastCount() > 0 })
	relayed := ftToC.broadcasts[0]

	stC := newTestStore(t)
	tableC := gossip.NewTable("c", meshID.String(), nil)
	svC := New(stC, tableC, nil, "c", meshID, 0, nil)
	ftFromB := newFakeTransport("from-b")
	svC.AddTransport(ftFromB)

	if err := svC.Start(context.Background()); err != nil {
		t.Fatalf("Start C: %v", err)
	}
	defer svC.Stop()

	ftFromB.deliver(transport.InboundFrame{PeerID: "b", Frame: relayed})

	waitFor(t, time.Second, func() bool {
		_, ok := tableC.Get("llm.chat")
		return ok
	})
	entryC, _ := tableC.Get("llm.chat")
	if entryC.Hops != 2 {
		t.Fatalf("expected C's table to show hops=2 after a three-peer relay chain, got %d", entryC.Hops)
	}
	if entryC.ViaPeer != "b" {
		t.Fatalf("expected C's via_peer to be b, got %s", entryC.ViaPeer)
	}
	if entryC.ViaNode != "b" {
		t.Fatalf("expected the relayed announcement's via_node to be b, got %s", entryC.ViaNode)
	}
}

func TestHandleInbound_InvokesPeerTouchHook(t *testing.T) {
	st := newTestStore(t)
	meshID := uuid.New()
	table := gossip.NewTable("self", meshID.String(), nil)
	sv := New(st, table, nil, "self", meshID, 0, nil)
	ft := newFakeTransport("lan")
	sv.AddTransport(ft)

	var touchedPeer, touchedTransport string
	sv.SetPeerTouchHook(func(peerID, transportName string, latencyMs float64) {
		touchedPeer = peerID
		touchedTransport = transportName
	})

	if err := sv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sv.Stop()

	frame := transport.NewFrame(meshID, DefaultFrameTTL, []byte(`{"type":"bye"}`))
	ft.deliver(transport.InboundFrame{PeerID: "peer-c", Frame: frame})

	waitFor(t, time.Second, func() bool { return touchedPeer != "" })
	if touchedPeer != "peer-c" || touchedTransport != "lan" {
		t.Fatalf("expected hook called with peer-c/lan, got %s/%s", touchedPeer, touchedTransport)
	}
}

func TestReconnect_RestartsDownTransportWithBackoff(t *testing.T) {
	st := newTestStore(t)
	table := gossip.NewTable("self", uuid.Nil.String(), nil)
	sv := New(st, table, nil, "self", uuid.Nil, 0, nil)

	ft := newFakeTransport("lan")
	ft.startErr = errTransportBoot
	sv.AddTransport(ft)

	if err := sv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sv.Stop()

	waitFor(t, 3*time.Second, func() bool { return ft.startCount() >= 2 })

	h := sv.Health()
	if !h.Transports["lan"] {
		t.Fatal("expected the transport to report up once reconnected")
	}
}
