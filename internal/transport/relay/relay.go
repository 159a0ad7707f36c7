// Package relay implements the optional wide-area relay carrier: an
// outbound connection to a user-configured relay peer that stays up
// via libp2p's circuit-relay v2 client and multiplexes frames to and
// from other peers of the same mesh reachable through it.
//
// Unlike lan, which discovers many peers and keeps one stream per
// peer, relay maintains a single persistent stream to the configured
// relay peer; the relay is trusted to fan frames out to the rest of
// the mesh on the other side. Connection loss triggers the spec's
// exponential backoff (1s doubling, capped at 60s), wrapped in a
// circuit breaker so a relay that is down hard doesn't spin the
// reconnect loop at full speed.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sony/gobreaker"

	"github.com/atmosphere-mesh/corenode/internal/atmoerr"
	"github.com/atmosphere-mesh/corenode/internal/meshcred"
	"github.com/atmosphere-mesh/corenode/internal/transport"
)

// ProtocolID is shared with the lan carrier: a peer speaks the same
// Hello/Sync/Patch/Bye frame protocol regardless of which transport
// carried it.
const ProtocolID = protocol.ID("/atmosphere/mesh/1.0.0")

const (
	backoffBase = 1 * time.Second
	backoffCap  = 60 * time.Second
)

// Transport is the wide-area relay carrier. It is a no-op until
// Start is called with a non-empty relay address.
type Transport struct {
	host       host.Host
	relayAddr  ma.Multiaddr
	relayPeer  peer.AddrInfo
	meshID     uuid.UUID
	secret     [meshcred.SecretSize]byte
	logger     *slog.Logger
	breaker    *gobreaker.CircuitBreaker[struct{}]
	inbound    chan transport.InboundFrame

	mu      sync.Mutex
	stream  network.Stream
	closing bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a relay transport that will dial relayURL (a libp2p
// multiaddr of the relay peer, e.g. "/dns4/relay.example.com/tcp/4001/p2p/12D3Koo...")
// once Start is called. relayURL == "" yields a transport whose Start
// is a no-op, satisfying callers that always construct all three
// carriers but only enable relay when configured.
func New(h host.Host, meshID uuid.UUID, secret [meshcred.SecretSize]byte, relayURL string, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		host:    h,
		meshID:  meshID,
		secret:  secret,
		logger:  logger,
		inbound: make(chan transport.InboundFrame, 256),
	}

	if relayURL != "" {
		addr, err := ma.NewMultiaddr(relayURL)
		if err != nil {
			return nil, fmt.Errorf("relay: bad relay address %q: %w", relayURL, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			return nil, fmt.Errorf("relay: relay address %q has no peer id: %w", relayURL, err)
		}
		t.relayAddr = addr
		t.relayPeer = *info
	}

	t.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "relay-dial",
		MaxRequests: 1,
		Timeout:     backoffCap,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return t, nil
}

func (t *Transport) Name() string { return "relay" }

// Enabled reports whether a relay address was configured.
func (t *Transport) Enabled() bool { return t.relayAddr != nil }

func (t *Transport) Start(ctx context.Context) error {
	t.ctx, t.cancel = context.WithCancel(ctx)
	if !t.Enabled() {
		return nil
	}
	t.wg.Add(1)
	go t.reconnectLoop()
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	t.closing = true
	if t.stream != nil {
		t.stream.Close()
	}
	t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	return nil
}

func (t *Transport) Inbound() <-chan transport.InboundFrame { return t.inbound }

// Send ignores peerID: the relay link is a single multiplexed stream
// to the relay peer, which is responsible for delivering the frame to
// the rest of the mesh on the other side.
func (t *Transport) Send(_ string, f transport.Frame) error {
	return t.write(f)
}

func (t *Transport) Broadcast(f transport.Frame) error {
	return t.write(f)
}

func (t *Transport) write(f transport.Frame) error {
	t.mu.Lock()
	s := t.stream
	t.mu.Unlock()
	if s == nil {
		return atmoerr.ErrTransportUnavailable
	}
	if err := transport.WriteFrame(s, f); err != nil {
		return fmt.Errorf("relay: write: %w", err)
	}
	return nil
}

// reconnectLoop dials the relay with exponential backoff (1s doubling,
// capped at 60s) until Stop cancels the context. Each dial attempt
// goes through the circuit breaker so a relay that keeps refusing
// connections doesn't get hammered at the backoff floor forever.
func (t *Transport) reconnectLoop() {
	defer t.wg.Done()
	backoff := backoffBase

	for {
		_, err := t.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, t.connectAndServe()
		})
		if t.ctx.Err() != nil {
			return
		}
		if err != nil {
			t.logger.Warn("relay: connection attempt failed", "error", err, "retry_in", backoff)
		}

		select {
		case <-time.After(backoff):
		case <-t.ctx.Done():
			return
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
		if err == nil {
			backoff = backoffBase // reset after a connection that ran and then dropped
		}
	}
}

// connectAndServe dials the relay, performs the handshake, and then
// blocks reading frames until the stream fails or Stop is called.
func (t *Transport) connectAndServe() error {
	t.host.Peerstore().AddAddrs(t.relayPeer.ID, t.relayPeer.Addrs, time.Hour)
	if err := t.host.Connect(t.ctx, t.relayPeer); err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	s, err := t.host.NewStream(t.ctx, t.relayPeer.ID, ProtocolID)
	if err != nil {
		return fmt.Errorf("open relay stream: %w", err)
	}
	if err := transport.RunInitiatorHandshake(s, t.host.ID().String(), t.secret); err != nil {
		s.Close()
		return fmt.Errorf("relay handshake: %w", err)
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		s.Close()
		return nil
	}
	t.stream = s
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.stream == s {
			t.stream = nil
		}
		t.mu.Unlock()
		s.Close()
	}()

	for {
		f, err := transport.ReadFrame(s)
		if err != nil {
			return fmt.Errorf("relay read: %w", err)
		}
		select {
		case t.inbound <- transport.InboundFrame{PeerID: "relay:" + t.relayPeer.ID.String(), Frame: f}:
		case <-t.ctx.Done():
			return nil
		}
	}
}
