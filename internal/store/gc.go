package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// TombGrace is how long a tombstone is kept before it becomes eligible
// for physical removal, once every known peer has acknowledged it.
const TombGrace = 7 * 24 * time.Hour

// SweepTombstones permanently removes tombstones older than TombGrace in
// every collection, but only once every peer with a recorded watermark
// for that collection has acknowledged a document counter at or past the
// tombstone's own counter. A peer that has never synced a collection is
// treated as not having acknowledged anything in it, so its absence
// blocks GC for that collection until it catches up or is forgotten.
// Locally owned documents are never swept by definition — callers only
// ever delete their own documents, which is exactly what makes them
// eligible once acknowledged.
func (s *Store) SweepTombstones(now time.Time) (removed int, err error) {
	peers, err := s.knownPeerIDs()
	if err != nil {
		return 0, err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			coll, ok := collectionNameFromBucket(name)
			if !ok {
				return nil
			}
			minAck, err := minWatermark(tx, peers, coll)
			if err != nil {
				return err
			}

			var toDelete [][]byte
			cur := b.Cursor()
			for k, v := cur.First(); k != nil; k, v = cur.Next() {
				var d Document
				if err := json.Unmarshal(v, &d); err != nil {
					return fmt.Errorf("store: corrupt document %s/%s: %w", coll, k, err)
				}
				if !d.Tomb || d.TombAt == nil {
					continue
				}
				age := now.Sub(time.Unix(*d.TombAt, 0))
				if age < TombGrace {
					continue
				}
				if d.Ts.Counter > minAck {
					continue // not yet acknowledged by every known peer
				}
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
			for _, k := range toDelete {
				if err := b.Delete(k); err != nil {
					return err
				}
				removed++
			}
			return nil
		})
	})
	return removed, err
}

// minWatermark returns the lowest acknowledged counter for collection
// across peers, or 0 if there are no known peers (nothing can be GC'd
// until at least one peer has synced, so an empty mesh never collects).
func minWatermark(tx *bbolt.Tx, peers []string, collection string) (uint64, error) {
	if len(peers) == 0 {
		return 0, nil
	}
	b := tx.Bucket(watermarkBucket)
	min := ^uint64(0)
	for _, p := range peers {
		raw := b.Get(watermarkKey(p, collection))
		var v uint64
		if raw != nil {
			if len(raw) != 8 {
				return 0, fmt.Errorf("store: corrupt watermark for %s/%s", p, collection)
			}
			v = binary.BigEndian.Uint64(raw)
		}
		if v < min {
			min = v
		}
	}
	return min, nil
}
