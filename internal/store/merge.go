package store

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

// MergeRemote applies an incoming document from a peer using
// last-writer-wins ordering: if no local copy exists, or the incoming
// copy's timestamp sorts after the local one, it replaces the local
// copy and returns true (applied). Otherwise it is dropped silently —
// this is normal CRDT convergence, not an error. Tombstones participate
// in the same ordering as live documents.
func (s *Store) MergeRemote(collection string, incoming Document) (applied bool, err error) {
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(collectionBucketName(collection))
		if err != nil {
			return err
		}
		existing, found, err := getDoc(b, incoming.ID)
		if err != nil {
			return err
		}
		if found && !incoming.Ts.After(existing.Ts) {
			applied = false
			return nil
		}
		applied = true
		return putDoc(b, incoming)
	})
	if err != nil {
		return false, err
	}
	if applied {
		kind := EventUpdate
		if incoming.Tomb {
			kind = EventDelete
		}
		s.notify(Event{Collection: collection, ID: incoming.ID, Kind: kind, Doc: incoming.Clone()})
	}
	return applied, nil
}

// BuildHello returns the Hello this node should emit right after a
// transport handshake succeeds: its own high watermark per collection,
// so the peer on the other end knows what it can skip sending back.
func (s *Store) BuildHello() (Hello, error) {
	summary := make(WatermarkSummary)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			coll, ok := collectionNameFromBucket(name)
			if !ok {
				return nil
			}
			var max uint64
			cur := b.Cursor()
			for k, v := cur.First(); k != nil; k, v = cur.Next() {
				var d Document
				if err := json.Unmarshal(v, &d); err != nil {
					return fmt.Errorf("store: corrupt document %s/%s: %w", coll, k, err)
				}
				if d.Ts.Counter > max {
					max = d.Ts.Counter
				}
			}
			if max > 0 {
				summary[coll] = max
			}
			return nil
		})
	})
	if err != nil {
		return Hello{}, err
	}
	return Hello{PeerID: s.peerID, Watermarks: summary}, nil
}

// BuildSyncBatches answers a peer's Hello: for every collection, every
// document whose _ts.counter exceeds the watermark that peer already
// reported (0 if the peer never mentioned the collection), chunked so no
// single Sync's serialized size exceeds MaxFrame.
func (s *Store) BuildSyncBatches(peerWatermarks WatermarkSummary) ([]Sync, error) {
	var batches []Sync
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			coll, ok := collectionNameFromBucket(name)
			if !ok {
				return nil
			}
			since := peerWatermarks[coll]
			var pending []Document
			cur := b.Cursor()
			for k, v := cur.First(); k != nil; k, v = cur.Next() {
				var d Document
				if err := json.Unmarshal(v, &d); err != nil {
					return fmt.Errorf("store: corrupt document %s/%s: %w", coll, k, err)
				}
				if d.Ts.Counter > since {
					pending = append(pending, d)
				}
			}
			if len(pending) == 0 {
				return nil
			}
			chunks := chunkBySize(coll, since, pending)
			batches = append(batches, chunks...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// chunkBySize splits docs into Sync batches no larger than MaxFrame once
// serialized, setting More on every batch but the last for a collection.
func chunkBySize(collection string, since uint64, docs []Document) []Sync {
	var out []Sync
	var current []Document
	for _, d := range docs {
		current = append(current, d)
		batch := Sync{Collection: collection, SinceTs: since, Documents: current}
		if raw, err := json.Marshal(batch); err == nil && len(raw) > MaxFrame && len(current) > 1 {
			// Last doc pushed this batch over budget; flush everything
			// before it and start a fresh batch with just that doc.
			current = current[:len(current)-1]
			out = append(out, Sync{Collection: collection, SinceTs: since, Documents: current, More: true})
			current = []Document{d}
		}
	}
	if len(current) > 0 {
		out = append(out, Sync{Collection: collection, SinceTs: since, Documents: current})
	}
	return out
}

// ApplySync merges every document in a Sync batch via MergeRemote.
func (s *Store) ApplySync(batch Sync) error {
	for _, d := range batch.Documents {
		if _, err := s.MergeRemote(batch.Collection, d); err != nil {
			return err
		}
	}
	return nil
}

func collectionNameFromBucket(name []byte) (string, bool) {
	s := string(name)
	if len(s) < 2 || s[0] != 'c' || s[1] != ':' {
		return "", false
	}
	return s[2:], true
}
