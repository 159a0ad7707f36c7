package supervisor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/atmosphere-mesh/corenode/internal/gossip"
	"github.com/atmosphere-mesh/corenode/internal/store"
	"github.com/atmosphere-mesh/corenode/internal/transport"
)

// receiveLoop drains t's inbound channel until it closes or the
// supervisor is stopped. A closed channel means the transport crashed;
// receiveLoop marks it DOWN and hands it to the reconnect loop rather
// than propagating the failure, so the node stays RUNNING.
func (sv *Supervisor) receiveLoop(t transport.Transport) {
	defer sv.wg.Done()
	for {
		select {
		case <-sv.ctx.Done():
			return
		case ibf, ok := <-t.Inbound():
			if !ok {
				sv.handleTransportDown(t)
				return
			}
			sv.handleInbound(t, ibf)
		}
	}
}

// handleTransportDown marks t as down and, unless the supervisor is
// shutting down, starts a reconnect loop for it.
func (sv *Supervisor) handleTransportDown(t transport.Transport) {
	sv.setTransportUp(t.Name(), false)
	select {
	case <-sv.ctx.Done():
		return
	default:
	}
	sv.logger.Warn("transport went down, reconnecting", "transport", t.Name())
	sv.wg.Add(1)
	go sv.reconnectLoop(t)
}

// handleInbound is the single entry point for every frame arriving on
// any transport: dedupe by nonce, drop anything off-mesh or exhausted,
// decode the envelope, and route it to the matching handler. This is
// where store.MergeRemote/ApplySync results feed into the gradient
// table's Ingest, since store.Event carries no sender and the
// supervisor is the one place that knows which peer a document arrived
// from.
func (sv *Supervisor) handleInbound(t transport.Transport, ibf transport.InboundFrame) {
	if ibf.Frame.MeshID != sv.meshID {
		sv.logger.Debug("dropping frame from foreign mesh", "peer", ibf.PeerID)
		return
	}
	if sv.nonces.SeenBefore(ibf.Frame.Nonce) {
		return
	}
	if ibf.Frame.TTL <= 0 {
		return
	}

	var env store.Envelope
	if err := json.Unmarshal(ibf.Frame.Payload, &env); err != nil {
		sv.logger.Warn("decode envelope", "peer", ibf.PeerID, "error", err)
		return
	}

	sv.store.TouchPeer(ibf.PeerID, t.Name(), time.Now())
	if sv.peerTouchHook != nil {
		// No per-frame RTT is measured on this path; 0 tells
		// RecordConnection "connection observed, latency unknown" and
		// it leaves the running average untouched.
		sv.peerTouchHook(ibf.PeerID, t.Name(), 0)
	}

	switch env.Type {
	case store.MsgHello:
		sv.handleHello(t, ibf.PeerID, env.Hello)
	case store.MsgSync:
		sv.handleSync(ibf.PeerID, env.Sync)
	case store.MsgPatch:
		sv.handlePatch(t, ibf, env.Patch)
	case store.MsgBye:
		sv.store.ForgetPeer(ibf.PeerID)
	default:
		sv.logger.Debug("unknown envelope type", "peer", ibf.PeerID, "type", env.Type)
	}
}

// handleHello answers a peer's Hello with whatever Sync batches it is
// missing, per its advertised watermarks.
func (sv *Supervisor) handleHello(t transport.Transport, peerID string, hello *store.Hello) {
	if hello == nil {
		return
	}
	// A peer's own reported watermark for a collection is also its
	// acknowledgement that it holds everything up to that point; record
	// it so tombstone GC's "every known peer has acknowledged" condition
	// can eventually be satisfied (internal/store.SweepTombstones).
	for collection, counter := range hello.Watermarks {
		if err := sv.store.SetPeerWatermark(peerID, collection, counter); err != nil {
			sv.logger.Warn("record peer watermark", "peer", peerID, "collection", collection, "error", err)
		}
	}
	batches, err := sv.store.BuildSyncBatches(hello.Watermarks)
	if err != nil {
		sv.logger.Warn("build sync batches", "peer", peerID, "error", err)
		return
	}
	for _, batch := range batches {
		sv.sendEnvelope(t, peerID, store.Envelope{Type: store.MsgSync, Sync: &batch})
	}
}

// handleSync merges a batch of documents for one collection and, for
// capability announcements, ingests each into the gradient table
// attributed to the peer the batch arrived from. Each capability
// document is rewritten one hop further, via sender, before it is
// persisted — the same rewrite handlePatch applies — so that a further
// Hello/Sync round to a third peer relays an already-advanced document
// rather than the one the second peer originally received.
func (sv *Supervisor) handleSync(peerID string, batch *store.Sync) {
	if batch == nil {
		return
	}
	docs := batch.Documents
	if batch.Collection == gossip.Collection {
		docs = make([]store.Document, len(batch.Documents))
		for i, doc := range batch.Documents {
			docs[i] = doc
			if doc.Tomb {
				continue
			}
			advanced, err := advanceCapabilityDocument(doc, peerID)
			if err != nil {
				sv.logger.Warn("advance capability document", "peer", peerID, "capability_id", doc.ID, "error", err)
				continue
			}
			docs[i] = advanced
		}
	}
	advancedBatch := *batch
	advancedBatch.Documents = docs
	if err := sv.store.ApplySync(advancedBatch); err != nil {
		sv.logger.Warn("apply sync", "peer", peerID, "collection", batch.Collection, "error", err)
		return
	}
	if batch.Collection != gossip.Collection || sv.table == nil {
		return
	}
	now := time.Now()
	for _, doc := range batch.Documents {
		sv.ingestCapability(peerID, doc, now)
	}
}

// handlePatch merges a single live write and, if it applied and still
// has hops to spend, relays it onward on every other transport so a
// patch seen on one carrier reaches peers only reachable via another.
// A _capabilities document is persisted and relayed with its hops/
// via_node advanced one hop through the sender (spec.md §4.2 invariant
// 3), so a three-peer relay chain accumulates hops correctly at the
// third peer instead of every hop past the first seeing the origin's
// untouched hop count.
func (sv *Supervisor) handlePatch(t transport.Transport, ibf transport.InboundFrame, patch *store.Patch) {
	if patch == nil {
		return
	}

	doc := patch.Document
	relayPayload := ibf.Frame.Payload
	if patch.Collection == gossip.Collection && !doc.Tomb {
		advanced, err := advanceCapabilityDocument(doc, ibf.PeerID)
		if err != nil {
			sv.logger.Warn("advance capability document", "peer", ibf.PeerID, "capability_id", doc.ID, "error", err)
		} else {
			doc = advanced
			if payload, err := json.Marshal(store.Envelope{Type: store.MsgPatch, Patch: &store.Patch{Collection: patch.Collection, Document: doc}}); err != nil {
				sv.logger.Warn("re-encode advanced capability patch", "peer", ibf.PeerID, "capability_id", doc.ID, "error", err)
			} else {
				relayPayload = payload
			}
		}
	}

	applied, err := sv.store.MergeRemote(patch.Collection, doc)
	if err != nil {
		sv.logger.Warn("merge remote patch", "peer", ibf.PeerID, "collection", patch.Collection, "error", err)
		if sv.metrics != nil {
			sv.metrics.ObserveDocumentMerge(patch.Collection, "error")
		}
		return
	}
	if !applied {
		if sv.metrics != nil {
			sv.metrics.ObserveDocumentMerge(patch.Collection, "rejected")
		}
		return
	}
	if sv.metrics != nil {
		sv.metrics.ObserveDocumentMerge(patch.Collection, "applied")
	}
	if patch.Collection == gossip.Collection && sv.table != nil {
		sv.ingestCapability(ibf.PeerID, patch.Document, time.Now())
	}
	if ibf.Frame.TTL > 1 {
		sv.relay(t, ibf.Frame, relayPayload)
	}
}

// advanceCapabilityDocument returns a copy of doc with its announcement
// advanced one hop through sender: hops+1, ttl-1, via_node set to
// sender. It is what makes the document this node stores and relays
// onward — not just its own in-memory gradient table entry — carry a
// correct, accumulating hop count as it crosses further peers.
func advanceCapabilityDocument(doc store.Document, sender string) (store.Document, error) {
	a, err := gossip.AnnouncementFromFields(doc.Fields)
	if err != nil {
		return doc, fmt.Errorf("decode announcement: %w", err)
	}
	fields, err := gossip.FieldsFromAnnouncement(a.Advance(sender))
	if err != nil {
		return doc, fmt.Errorf("encode advanced announcement: %w", err)
	}
	advanced := doc
	advanced.Fields = fields
	return advanced, nil
}

// ingestCapability decodes a _capabilities document into an Announcement
// and applies the gradient table's ingestion rule, or removes the entry
// outright when the document is a tombstone. It always receives the
// document as originally received over the wire (not the advanced copy
// handlePatch/handleSync persist), since Table.Ingest performs its own
// "+1 through sender" advance to build this node's local table entry.
func (sv *Supervisor) ingestCapability(sender string, doc store.Document, now time.Time) {
	if doc.Tomb {
		sv.table.Remove(doc.ID)
		return
	}
	a, err := gossip.AnnouncementFromFields(doc.Fields)
	if err != nil {
		sv.logger.Warn("decode announcement", "sender", sender, "capability_id", doc.ID, "error", err)
		return
	}
	sv.table.Ingest(sender, sv.meshID.String(), a, now)
}

// relay rebroadcasts f, ttl-decremented and hop-incremented, on every
// transport except the one it arrived on. payload replaces f's own
// Payload in the rebroadcast frame; callers that have not rewritten the
// envelope pass f.Payload back unchanged.
func (sv *Supervisor) relay(origin transport.Transport, f transport.Frame, payload []byte) {
	next := f.Rebroadcast()
	next.Payload = payload
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	for name, t := range sv.transports {
		if name == origin.Name() || !sv.transportUp[name] {
			continue
		}
		if err := t.Broadcast(next); err != nil {
			sv.logger.Debug("relay broadcast failed", "transport", name, "error", err)
			continue
		}
		if sv.metrics != nil {
			sv.metrics.ObserveFrameRelayed(name)
		}
	}
}

func (sv *Supervisor) sendEnvelope(t transport.Transport, peerID string, env store.Envelope) {
	frame, err := sv.encodeFrame(env)
	if err != nil {
		sv.logger.Warn("encode envelope", "peer", peerID, "error", err)
		return
	}
	if err := t.Send(peerID, frame); err != nil {
		sv.logger.Debug("send frame", "peer", peerID, "transport", t.Name(), "error", err)
	}
}
