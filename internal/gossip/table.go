package gossip

import (
	"log/slog"
	"sync"
	"time"
)

// Table is the gradient table: capability_id -> best known route. It is
// guarded by its own lock, separate from the store's, so updating it
// never takes the store lock (spec.md §5's "separate lock per concern").
type Table struct {
	mu       sync.RWMutex
	meshID   string
	selfID   string
	logger   *slog.Logger
	entries  map[string]CapabilityEntry
	onUpdate func(CapabilityEntry)
}

// NewTable builds an empty gradient table scoped to one mesh. selfID is
// used only for logging context; local/remote distinction is carried on
// each entry's Local flag, set by the registrar and never by Ingest.
func NewTable(selfID, meshID string, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		meshID:  meshID,
		selfID:  selfID,
		logger:  logger.With("component", "gossip"),
		entries: make(map[string]CapabilityEntry),
	}
}

// SetOnUpdate installs a callback invoked, outside the table's lock,
// every time Ingest or InsertLocal actually changes an entry. It is
// nil-safe to leave unset.
func (t *Table) SetOnUpdate(fn func(CapabilityEntry)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUpdate = fn
}

// Ingest applies the ingestion rule from spec.md §4.4 to an announcement
// observed from sender, over meshID. It reports whether the table
// changed as a result.
//
// Step 1 drops stale, exhausted, over-distance, or foreign-mesh
// announcements. Step 3 installs a first sighting with hops/ttl adjusted
// "through me": the sender's own hop count describes its distance from
// the origin, so the entry this node now holds is one hop further and
// one tick closer to TTL exhaustion. Steps 4-5 replace an existing entry
// only for a strictly shorter route or strictly newer news, never both
// directions at once, matching the spec's ordered rule rather than a
// single combined comparison.
func (t *Table) Ingest(sender, meshID string, a Announcement, now time.Time) bool {
	if meshID != t.meshID {
		return false
	}
	if a.ExpiresAt <= now.Unix() {
		return false
	}
	if a.TTL <= 0 {
		return false
	}
	if a.Hops >= MaxHops {
		return false
	}

	candidate := CapabilityEntry{Announcement: a.Advance(sender), ViaPeer: sender}

	t.mu.Lock()
	existing, ok := t.entries[a.CapabilityID]
	replace := !ok
	if ok {
		if candidate.Hops < existing.Hops {
			replace = true
		} else if a.Timestamp > existing.Timestamp {
			replace = true
		}
	}
	if replace {
		t.entries[a.CapabilityID] = candidate
	}
	onUpdate := t.onUpdate
	t.mu.Unlock()

	if replace && onUpdate != nil {
		onUpdate(candidate)
	}
	return replace
}

// InsertLocal installs or refreshes this node's own announcement as a
// Local entry: hops=0, never subject to the "shorter route wins" / "newer
// news wins" contest that remote entries go through, since a local
// capability always wins over any route to it through a peer.
func (t *Table) InsertLocal(a Announcement) {
	entry := CapabilityEntry{Announcement: a, Local: true}
	t.mu.Lock()
	t.entries[a.CapabilityID] = entry
	onUpdate := t.onUpdate
	t.mu.Unlock()
	if onUpdate != nil {
		onUpdate(entry)
	}
}

// Remove drops a capability entirely, used when a local registration is
// unregistered or a tombstone for a remote announcement is observed.
func (t *Table) Remove(capabilityID string) {
	t.mu.Lock()
	delete(t.entries, capabilityID)
	t.mu.Unlock()
}

// Get returns the current entry for a capability, if any.
func (t *Table) Get(capabilityID string) (CapabilityEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[capabilityID]
	return e, ok
}

// Snapshot returns every current entry, safe for a caller (the router) to
// range over without holding the table's lock.
func (t *Table) Snapshot() []CapabilityEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]CapabilityEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// Sweep drops every entry whose expires_at has passed, except entries
// owned locally, and returns the capability ids it removed. The caller
// (the supervisor's TTL-sweep ticker) decides how often to call this.
func (t *Table) Sweep(now time.Time) []string {
	var removed []string
	t.mu.Lock()
	for id, e := range t.entries {
		if e.Local {
			continue
		}
		if e.ExpiresAt <= now.Unix() {
			delete(t.entries, id)
			removed = append(removed, id)
		}
	}
	t.mu.Unlock()
	if len(removed) > 0 {
		t.logger.Debug("swept expired capability entries", "count", len(removed), "ids", removed)
	}
	return removed
}
