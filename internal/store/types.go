// Package store implements the CRDT-replicated document store: a set of
// named collections of JSON-like documents, merged across peers with
// last-writer-wins semantics on a logical timestamp. It is backed by
// go.etcd.io/bbolt for local durability and exposes the insert/get/query/
// delete/observe surface the rest of the node builds on.
package store

import (
	"encoding/json"
	"fmt"
)

// MaxDocumentSize is the default limit on a single document's serialized
// size. Inserts exceeding it are refused rather than silently truncated,
// since oversized documents would blow the anti-entropy frame budget.
const MaxDocumentSize = 1 << 20 // 1 MiB

// MaxFrame is the ceiling on a single Sync batch's serialized size; larger
// batches are split across multiple frames by the anti-entropy sender.
const MaxFrame = 64 * 1024 // 64 KiB

// LogicalTimestamp totally orders writes across peers. Ties are broken
// lexicographically on PeerID, so two peers can never produce the same
// timestamp for different writes.
type LogicalTimestamp struct {
	Counter uint64 `json:"counter"`
	PeerID  string `json:"peer_id"`
}

// Less reports whether t sorts before other: lower Counter first, then
// lexicographically lower PeerID.
func (t LogicalTimestamp) Less(other LogicalTimestamp) bool {
	if t.Counter != other.Counter {
		return t.Counter < other.Counter
	}
	return t.PeerID < other.PeerID
}

// After reports whether t sorts strictly after other.
func (t LogicalTimestamp) After(other LogicalTimestamp) bool {
	return other.Less(t)
}

// String renders the timestamp as "counter@peer_id", used in log lines.
func (t LogicalTimestamp) String() string {
	return fmt.Sprintf("%d@%s", t.Counter, t.PeerID)
}

// Document is the unit of replication: an opaque field map addressed by
// id within a collection, carrying the logical timestamp of its last
// write and a tombstone flag in place of physical deletion.
type Document struct {
	ID     string           `json:"_id"`
	Ts     LogicalTimestamp `json:"_ts"`
	Tomb   bool             `json:"_tomb,omitempty"`
	TombAt *int64           `json:"_tomb_at,omitempty"` // unix seconds, set when Tomb becomes true
	Fields map[string]any   `json:"fields,omitempty"`
}

// Clone returns a deep-enough copy of d safe to hand to observers and
// callers without aliasing the store's internal Fields map.
func (d Document) Clone() Document {
	out := d
	if d.Fields != nil {
		out.Fields = make(map[string]any, len(d.Fields))
		for k, v := range d.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// sizeOf returns the serialized size of a document, used to enforce
// MaxDocumentSize at insert time.
func sizeOf(d Document) (int, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return 0, fmt.Errorf("store: failed to size document %s: %w", d.ID, err)
	}
	return len(data), nil
}

// EventKind classifies an observer notification.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// Event is delivered to observers registered with Store.Observe.
type Event struct {
	Collection string
	ID         string
	Kind       EventKind
	Doc        Document
}

// PeerInfo is a snapshot of an active peer connection, as returned by
// Store.ConnectedPeers.
type PeerInfo struct {
	PeerID    string
	Transport string
	LastSeen  int64 // unix seconds
}
