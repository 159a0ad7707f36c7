package lan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"golang.org/x/time/rate"

	"github.com/atmosphere-mesh/corenode/internal/atmoerr"
	"github.com/atmosphere-mesh/corenode/internal/meshcred"
	"github.com/atmosphere-mesh/corenode/internal/transport"
)

// ProtocolID is the libp2p stream protocol carrying the mesh's
// Hello/Sync/Patch/Bye frames once a peer has passed the HMAC handshake.
const ProtocolID = protocol.ID("/atmosphere/mesh/1.0.0")

// Inbound frames are rate limited per peer; a misbehaving or runaway
// peer can only starve itself, not the shared inbound channel.
const (
	inboundRateLimit = rate.Limit(200)
	inboundRateBurst = 400
)

// peerstoreTTL governs how long an mDNS-learned address is kept; LAN
// peers are re-discovered every browse cycle so a short TTL is fine.
const peerstoreTTL = peerstore.TempAddrTTL

// Transport implements transport.Transport over a libp2p host advertised
// via mDNS on the local subnet.
type Transport struct {
	host    host.Host
	meshID  uuid.UUID
	secret  [meshcred.SecretSize]byte
	httpURL string
	logger  *slog.Logger

	adv     *advertiser
	inbound chan transport.InboundFrame

	mu       sync.Mutex
	streams  map[peer.ID]network.Stream
	limiters map[peer.ID]*rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a LAN transport over an already-constructed libp2p host.
// port is the TCP port to advertise via mDNS (the port the host is
// actually listening on); httpURL is optional and advertised verbatim.
func New(h host.Host, meshID uuid.UUID, secret [meshcred.SecretSize]byte, port int, httpURL string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		host:     h,
		meshID:   meshID,
		secret:   secret,
		httpURL:  httpURL,
		logger:   logger,
		inbound:  make(chan transport.InboundFrame, 256),
		streams:  make(map[peer.ID]network.Stream),
		limiters: make(map[peer.ID]*rate.Limiter),
	}
	t.adv = newAdvertiser(h, meshID, port, httpURL, logger, t.handlePeerFound)
	return t
}

func (t *Transport) Name() string { return "lan" }

func (t *Transport) Start(ctx context.Context) error {
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.host.SetStreamHandler(ProtocolID, t.handleIncomingStream)
	return t.adv.start(t.ctx)
}

func (t *Transport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.host.RemoveStreamHandler(ProtocolID)
	t.adv.stop()

	t.mu.Lock()
	for id, s := range t.streams {
		s.Close()
		delete(t.streams, id)
	}
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}

func (t *Transport) Inbound() <-chan transport.InboundFrame { return t.inbound }

func (t *Transport) Send(peerID string, f transport.Frame) error {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("lan: bad peer id %q: %w", peerID, err)
	}
	t.mu.Lock()
	s, ok := t.streams[pid]
	t.mu.Unlock()
	if !ok {
		return atmoerr.ErrPeerGone
	}
	if err := transport.WriteFrame(s, f); err != nil {
		t.dropStream(pid)
		return fmt.Errorf("lan: send to %s: %w", peerID, err)
	}
	return nil
}

// Broadcast is best-effort: a write failure to one peer is logged and
// does not prevent delivery to the others.
func (t *Transport) Broadcast(f transport.Frame) error {
	t.mu.Lock()
	targets := make([]peer.ID, 0, len(t.streams))
	for id := range t.streams {
		targets = append(targets, id)
	}
	t.mu.Unlock()

	for _, id := range targets {
		if err := t.Send(id.String(), f); err != nil {
			t.logger.Debug("lan: broadcast send failed", "peer", id, "error", err)
		}
	}
	return nil
}

func (t *Transport) dropStream(id peer.ID) {
	t.mu.Lock()
	if s, ok := t.streams[id]; ok {
		s.Close()
		delete(t.streams, id)
	}
	delete(t.limiters, id)
	t.mu.Unlock()
}

func (t *Transport) registerStream(id peer.ID, s network.Stream) {
	t.mu.Lock()
	if existing, ok := t.streams[id]; ok {
		existing.Close()
	}
	t.streams[id] = s
	t.limiters[id] = rate.NewLimiter(inboundRateLimit, inboundRateBurst)
	t.mu.Unlock()
}

// handlePeerFound is invoked by mDNS discovery for every live record
// matching our mesh_id. It dials, performs the initiator side of the
// handshake, and starts reading frames from the resulting stream.
func (t *Transport) handlePeerFound(pi peer.AddrInfo) {
	t.mu.Lock()
	_, already := t.streams[pi.ID]
	t.mu.Unlock()
	if already {
		return
	}

	t.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstoreTTL)
	if err := t.host.Connect(t.ctx, pi); err != nil {
		t.logger.Debug("lan: connect failed", "peer", pi.ID, "error", err)
		return
	}
	s, err := t.host.NewStream(t.ctx, pi.ID, ProtocolID)
	if err != nil {
		t.logger.Debug("lan: open stream failed", "peer", pi.ID, "error", err)
		return
	}
	if err := transport.RunInitiatorHandshake(s, t.host.ID().String(), t.secret); err != nil {
		t.logger.Warn("lan: handshake rejected", "peer", pi.ID, "error", err)
		s.Close()
		return
	}

	t.registerStream(pi.ID, s)
	t.wg.Add(1)
	go t.readLoop(pi.ID, s)
}

func (t *Transport) handleIncomingStream(s network.Stream) {
	remote := s.Conn().RemotePeer()
	remoteID, err := transport.RunResponderHandshake(s, t.host.ID().String(), t.secret)
	if err != nil {
		t.logger.Warn("lan: handshake rejected", "peer", remote, "error", err)
		s.Close()
		return
	}
	if remoteID != remote.String() {
		t.logger.Warn("lan: handshake peer id mismatch", "transport_peer", remote, "claimed_peer", remoteID)
		s.Close()
		return
	}

	t.registerStream(remote, s)
	t.wg.Add(1)
	go t.readLoop(remote, s)
}

func (t *Transport) readLoop(id peer.ID, s network.Stream) {
	defer t.wg.Done()
	defer t.dropStream(id)

	for {
		f, err := transport.ReadFrame(s)
		if err != nil {
			if t.ctx.Err() == nil {
				t.logger.Debug("lan: read loop ended", "peer", id, "error", err)
			}
			return
		}

		t.mu.Lock()
		limiter := t.limiters[id]
		t.mu.Unlock()
		if limiter != nil && !limiter.Allow() {
			t.logger.Warn("lan: dropping frame, peer exceeded inbound rate limit", "peer", id)
			continue
		}

		select {
		case t.inbound <- transport.InboundFrame{PeerID: id.String(), Frame: f}:
		case <-t.ctx.Done():
			return
		}
	}
}
