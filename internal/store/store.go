package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/atmosphere-mesh/corenode/internal/atmoerr"
)

var (
	metaBucket       = []byte("__meta")
	watermarkBucket  = []byte("__watermarks")
	counterKey       = []byte("counter")
)

// PatchSink receives every successful local write (insert or delete) so
// the caller (normally the supervisor) can fan it out to connected peers
// as a Patch. It is set once at construction and may be nil in tests that
// only exercise local semantics.
type PatchSink func(collection string, doc Document)

// Store is the CRDT-replicated document store for one node. It owns a
// bbolt database file for durability and an in-memory observer registry;
// all collection and document state lives in bbolt so a restart rebuilds
// from disk exactly where it left off.
type Store struct {
	db       *bbolt.DB
	peerID   string
	logger   *slog.Logger
	maxDocSz int

	mu             sync.RWMutex
	observers      map[int]observerEntry
	nextObserverID int
	peers          map[string]PeerInfo
	onPatch        PatchSink
}

type observerEntry struct {
	collection string // empty means all collections
	callback   func(Event)
}

// Open creates or opens the bbolt database at path and prepares it for
// use. peerID is this node's identity, used as the tie-break half of
// every LogicalTimestamp this store produces.
func Open(path, peerID string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", atmoerr.ErrFatalStorage, path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(watermarkBucket); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initializing buckets: %v", atmoerr.ErrFatalStorage, err)
	}
	return &Store{
		db:        db,
		peerID:    peerID,
		logger:    logger.With("component", "store"),
		maxDocSz:  MaxDocumentSize,
		observers: make(map[int]observerEntry),
		peers:     make(map[string]PeerInfo),
	}, nil
}

// SetPatchSink installs the callback invoked after every successful local
// write. Call once during supervisor wiring, before Start.
func (s *Store) SetPatchSink(sink PatchSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPatch = sink
}

// SetMaxDocumentSize overrides the default 1 MiB insert-size limit.
func (s *Store) SetMaxDocumentSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxDocSz = n
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func collectionBucketName(collection string) []byte {
	return []byte("c:" + collection)
}

func (s *Store) nextTs(tx *bbolt.Tx) (LogicalTimestamp, error) {
	meta := tx.Bucket(metaBucket)
	var counter uint64
	if raw := meta.Get(counterKey); raw != nil {
		counter = binary.BigEndian.Uint64(raw)
	}
	counter++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, counter)
	if err := meta.Put(counterKey, buf); err != nil {
		return LogicalTimestamp{}, err
	}
	return LogicalTimestamp{Counter: counter, PeerID: s.peerID}, nil
}

// Insert writes fields under id in collection, assigning a fresh logical
// timestamp, and fires an insert or update observer event. The write is
// authoritative locally regardless of what any peer believes about id —
// it is this node's own state, fanned out to peers as a Patch afterward.
func (s *Store) Insert(collection, id string, fields map[string]any) (Document, error) {
	s.mu.RLock()
	maxSz := s.maxDocSz
	s.mu.RUnlock()

	var result Document
	var kind EventKind
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(collectionBucketName(collection))
		if err != nil {
			return err
		}
		existing, found, err := getDoc(b, id)
		if err != nil {
			return err
		}
		ts, err := s.nextTs(tx)
		if err != nil {
			return err
		}
		doc := Document{ID: id, Ts: ts, Fields: fields}
		if size, err := sizeOf(doc); err != nil {
			return err
		} else if size > maxSz {
			return fmt.Errorf("%w: document %s is %d bytes, limit is %d", atmoerr.ErrDocumentTooLarge, id, size, maxSz)
		}
		if !found || existing.Tomb {
			kind = EventInsert
		} else {
			kind = EventUpdate
		}
		result = doc
		return putDoc(b, doc)
	})
	if err != nil {
		return Document{}, err
	}
	s.notify(Event{Collection: collection, ID: id, Kind: kind, Doc: result.Clone()})
	s.fanOut(collection, result)
	return result, nil
}

// Get returns the current document for id, including tombstones, and
// whether it was found at all.
func (s *Store) Get(collection, id string) (Document, bool, error) {
	var doc Document
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(collectionBucketName(collection))
		if b == nil {
			return nil
		}
		d, ok, err := getDoc(b, id)
		if err != nil {
			return err
		}
		doc, found = d, ok
		return nil
	})
	if err != nil {
		return Document{}, false, err
	}
	return doc, found, nil
}

// Query returns every non-tombstoned document in collection.
func (s *Store) Query(collection string) ([]Document, error) {
	var out []Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(collectionBucketName(collection))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var d Document
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("store: corrupt document %s/%s: %w", collection, k, err)
			}
			if !d.Tomb {
				out = append(out, d)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete tombstones id in collection, assigning a fresh logical
// timestamp and recording the wall-clock time used for tombstone GC.
func (s *Store) Delete(collection, id string) (Document, error) {
	now := time.Now().Unix()
	var result Document
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(collectionBucketName(collection))
		if err != nil {
			return err
		}
		existing, found, err := getDoc(b, id)
		if err != nil {
			return err
		}
		ts, err := s.nextTs(tx)
		if err != nil {
			return err
		}
		doc := Document{ID: id, Ts: ts, Tomb: true, TombAt: &now}
		if found {
			doc.Fields = existing.Fields
		}
		result = doc
		return putDoc(b, doc)
	})
	if err != nil {
		return Document{}, err
	}
	s.notify(Event{Collection: collection, ID: id, Kind: EventDelete, Doc: result.Clone()})
	s.fanOut(collection, result)
	return result, nil
}

func (s *Store) fanOut(collection string, doc Document) {
	s.mu.RLock()
	sink := s.onPatch
	s.mu.RUnlock()
	if sink != nil {
		sink(collection, doc.Clone())
	}
}

// Observe registers callback for events in collection (empty string
// means every collection) and returns an id usable with RemoveObserver.
func (s *Store) Observe(collection string, callback func(Event)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObserverID
	s.nextObserverID++
	s.observers[id] = observerEntry{collection: collection, callback: callback}
	return id
}

// RemoveObserver unregisters an observer previously returned by Observe.
func (s *Store) RemoveObserver(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, id)
}

func (s *Store) notify(ev Event) {
	s.mu.RLock()
	targets := make([]func(Event), 0, len(s.observers))
	for _, obs := range s.observers {
		if obs.collection == "" || obs.collection == ev.Collection {
			targets = append(targets, obs.callback)
		}
	}
	s.mu.RUnlock()
	for _, cb := range targets {
		cb(ev)
	}
}

// ConnectedPeers returns a snapshot of peers currently tracked as active.
func (s *Store) ConnectedPeers() []PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PeerInfo, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// TouchPeer records that peerID is alive, reachable over transport, as
// of now. Called by the supervisor on every received frame.
func (s *Store) TouchPeer(peerID, transport string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[peerID] = PeerInfo{PeerID: peerID, Transport: transport, LastSeen: now.Unix()}
}

// ForgetPeer removes peerID from the connected-peers snapshot, called on
// Bye or on transport disconnect.
func (s *Store) ForgetPeer(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, peerID)
}

func getDoc(b *bbolt.Bucket, id string) (Document, bool, error) {
	raw := b.Get([]byte(id))
	if raw == nil {
		return Document{}, false, nil
	}
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return Document{}, false, fmt.Errorf("store: corrupt document %s: %w", id, err)
	}
	return d, true, nil
}

func putDoc(b *bbolt.Bucket, d Document) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("store: failed to encode document %s: %w", d.ID, err)
	}
	return b.Put([]byte(d.ID), raw)
}
