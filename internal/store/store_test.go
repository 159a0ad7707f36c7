package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, peerID string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path, peerID, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertGet(t *testing.T) {
	s := newTestStore(t, "peer-a")

	doc, err := s.Insert("widgets", "w1", map[string]any{"color": "red"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if doc.Ts.Counter != 1 || doc.Ts.PeerID != "peer-a" {
		t.Fatalf("unexpected ts: %+v", doc.Ts)
	}

	got, found, err := s.Get("widgets", "w1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected document to be found")
	}
	if got.Fields["color"] != "red" {
		t.Fatalf("unexpected fields: %+v", got.Fields)
	}
}

func TestInsert_MonotonicTimestamps(t *testing.T) {
	s := newTestStore(t, "peer-a")
	var last uint64
	for i := 0; i < 10; i++ {
		doc, err := s.Insert("widgets", "w1", map[string]any{"n": i})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if doc.Ts.Counter <= last {
			t.Fatalf("timestamp did not advance: %d <= %d", doc.Ts.Counter, last)
		}
		last = doc.Ts.Counter
	}
}

func TestQuery_ExcludesTombstones(t *testing.T) {
	s := newTestStore(t, "peer-a")
	if _, err := s.Insert("widgets", "w1", nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Insert("widgets", "w2", nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Delete("widgets", "w1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	docs, err := s.Query("widgets")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "w2" {
		t.Fatalf("expected only w2, got %+v", docs)
	}
}

func TestDelete_ProducesTombstoneNotRemoval(t *testing.T) {
	s := newTestStore(t, "peer-a")
	if _, err := s.Insert("widgets", "w1", nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Delete("widgets", "w1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	doc, found, err := s.Get("widgets", "w1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("tombstoned document should still be found by Get")
	}
	if !doc.Tomb {
		t.Fatal("expected document to be tombstoned")
	}
}

func TestMergeRemote_LastWriterWins(t *testing.T) {
	s := newTestStore(t, "peer-a")

	older := Document{ID: "w1", Ts: LogicalTimestamp{Counter: 1, PeerID: "peer-b"}, Fields: map[string]any{"v": "old"}}
	newer := Document{ID: "w1", Ts: LogicalTimestamp{Counter: 2, PeerID: "peer-b"}, Fields: map[string]any{"v": "new"}}

	applied, err := s.MergeRemote("widgets", newer)
	if err != nil {
		t.Fatalf("MergeRemote: %v", err)
	}
	if !applied {
		t.Fatal("expected first merge to apply")
	}

	applied, err = s.MergeRemote("widgets", older)
	if err != nil {
		t.Fatalf("MergeRemote: %v", err)
	}
	if applied {
		t.Fatal("expected stale merge to be dropped")
	}

	got, _, err := s.Get("widgets", "w1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Fields["v"] != "new" {
		t.Fatalf("expected newer value to win, got %+v", got.Fields)
	}
}

func TestMergeRemote_TiesBreakOnPeerID(t *testing.T) {
	s := newTestStore(t, "peer-a")

	a := Document{ID: "w1", Ts: LogicalTimestamp{Counter: 5, PeerID: "peer-a"}, Fields: map[string]any{"v": "a"}}
	b := Document{ID: "w1", Ts: LogicalTimestamp{Counter: 5, PeerID: "peer-b"}, Fields: map[string]any{"v": "b"}}

	if _, err := s.MergeRemote("widgets", a); err != nil {
		t.Fatalf("MergeRemote: %v", err)
	}
	applied, err := s.MergeRemote("widgets", b)
	if err != nil {
		t.Fatalf("MergeRemote: %v", err)
	}
	if !applied {
		t.Fatal("expected peer-b to win the tie (lexicographically greater peer id)")
	}
}

func TestInsert_RejectsOversizedDocument(t *testing.T) {
	s := newTestStore(t, "peer-a")
	s.SetMaxDocumentSize(64)

	big := make([]byte, 1024)
	_, err := s.Insert("widgets", "w1", map[string]any{"blob": string(big)})
	if err == nil {
		t.Fatal("expected oversized document to be rejected")
	}
}

func TestObserve_FiresInsertUpdateDelete(t *testing.T) {
	s := newTestStore(t, "peer-a")

	var kinds []EventKind
	id := s.Observe("widgets", func(ev Event) { kinds = append(kinds, ev.Kind) })
	defer s.RemoveObserver(id)

	if _, err := s.Insert("widgets", "w1", nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Insert("widgets", "w1", map[string]any{"n": 2}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Delete("widgets", "w1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	want := []EventKind{EventInsert, EventUpdate, EventDelete}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestRemoveObserver_StopsDelivery(t *testing.T) {
	s := newTestStore(t, "peer-a")
	count := 0
	id := s.Observe("widgets", func(ev Event) { count++ })
	s.RemoveObserver(id)

	if _, err := s.Insert("widgets", "w1", nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no events after removal, got %d", count)
	}
}

func TestPatchSink_FansOutLocalWrites(t *testing.T) {
	s := newTestStore(t, "peer-a")
	var patches []Document
	s.SetPatchSink(func(collection string, doc Document) { patches = append(patches, doc) })

	if _, err := s.Insert("widgets", "w1", nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(patches) != 1 || patches[0].ID != "w1" {
		t.Fatalf("expected patch fan-out, got %+v", patches)
	}
}

func TestConnectedPeers(t *testing.T) {
	s := newTestStore(t, "peer-a")
	s.TouchPeer("peer-b", "lan", time.Now())

	peers := s.ConnectedPeers()
	if len(peers) != 1 || peers[0].PeerID != "peer-b" {
		t.Fatalf("expected peer-b, got %+v", peers)
	}

	s.ForgetPeer("peer-b")
	if len(s.ConnectedPeers()) != 0 {
		t.Fatal("expected no connected peers after ForgetPeer")
	}
}
