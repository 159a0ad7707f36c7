package store

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

// watermarkKey packs peerID and collection into the single flat bucket
// key bbolt buckets want; '\x00' cannot appear in either a peer id or a
// collection name, so it disambiguates unambiguously.
func watermarkKey(peerID, collection string) []byte {
	return []byte(peerID + "\x00" + collection)
}

// SetPeerWatermark records the highest logical timestamp counter known
// to have been acknowledged by peerID for collection — i.e. the peer has
// confirmed it holds every document in that collection up to this
// counter. This backs the tombstone GC's "all known peers acknowledged"
// condition.
func (s *Store) SetPeerWatermark(peerID, collection string, counter uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(watermarkBucket)
		existing, err := s.getWatermark(tx, peerID, collection)
		if err != nil {
			return err
		}
		if counter <= existing {
			return nil // watermarks only advance
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, counter)
		return b.Put(watermarkKey(peerID, collection), buf)
	})
}

// PeerWatermark returns the persisted low watermark for (peerID, collection).
func (s *Store) PeerWatermark(peerID, collection string) (uint64, error) {
	var out uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := s.getWatermark(tx, peerID, collection)
		out = v
		return err
	})
	return out, err
}

func (s *Store) getWatermark(tx *bbolt.Tx, peerID, collection string) (uint64, error) {
	b := tx.Bucket(watermarkBucket)
	raw := b.Get(watermarkKey(peerID, collection))
	if raw == nil {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("store: corrupt watermark for %s/%s", peerID, collection)
	}
	return binary.BigEndian.Uint64(raw), nil
}

// knownPeerIDs returns the distinct peer ids that have ever had a
// watermark recorded for any collection, used by GC to compute the
// minimum acknowledged watermark across "all known peers".
func (s *Store) knownPeerIDs() ([]string, error) {
	seen := make(map[string]bool)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(watermarkBucket)
		return b.ForEach(func(k, _ []byte) error {
			key := string(k)
			for i := 0; i < len(key); i++ {
				if key[i] == 0 {
					seen[key[:i]] = true
					break
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}
