// Package lan implements the LAN-TCP + mDNS transport: a libp2p host
// advertised and discovered via zeroconf/v2 DNS-SD, with a length
// prefixed Hello/Sync/Patch/Bye stream protocol authenticated by an
// HMAC mesh-secret handshake.
package lan

import (
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ws "github.com/libp2p/go-libp2p/p2p/transport/websocket"
	ma "github.com/multiformats/go-multiaddr"
)

// HostConfig controls the shared libp2p host construction. A single
// host is built once per node and handed to both the lan and relay
// transports; relay support is layered onto the same host via options
// rather than a second identity, matching how libp2p expects static
// relays and hole punching to be wired in at construction time.
type HostConfig struct {
	PrivKey crypto.PrivKey

	// ListenPort is the TCP port to bind. 0 means OS-assigned; the
	// caller reads back host.Addrs() to learn
	// the port actually bound, for mDNS re-advertisement.
	ListenPort int

	EnableRelay        bool
	RelayAddrs         []string
	EnableNATPortMap   bool
	EnableHolePunching bool
}

// NewHost builds the libp2p host shared by every carrier transport.
func NewHost(cfg HostConfig) (host.Host, error) {
	if cfg.PrivKey == nil {
		return nil, fmt.Errorf("lan: host config requires a private key")
	}

	listenAddr := fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort)
	opts := []libp2p.Option{
		libp2p.Identity(cfg.PrivKey),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.Transport(ws.New),
	}

	if cfg.EnableRelay {
		relays, err := ParseRelayAddrs(cfg.RelayAddrs)
		if err != nil {
			return nil, fmt.Errorf("lan: parse relay addrs: %w", err)
		}
		if len(relays) > 0 {
			opts = append(opts, libp2p.EnableAutoRelayWithStaticRelays(relays))
		}
		if cfg.EnableNATPortMap {
			opts = append(opts, libp2p.NATPortMap())
		}
		if cfg.EnableHolePunching {
			opts = append(opts, libp2p.EnableHolePunching())
		}
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("lan: create libp2p host: %w", err)
	}
	return h, nil
}

// ParseRelayAddrs parses a list of relay multiaddr strings into
// peer.AddrInfo, merging addresses that belong to the same relay peer.
func ParseRelayAddrs(addrs []string) ([]peer.AddrInfo, error) {
	byPeer := make(map[peer.ID]*peer.AddrInfo)
	var order []peer.ID

	for _, raw := range addrs {
		m, err := ma.NewMultiaddr(raw)
		if err != nil {
			return nil, fmt.Errorf("lan: bad relay multiaddr %q: %w", raw, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(m)
		if err != nil {
			return nil, fmt.Errorf("lan: relay multiaddr %q has no peer id: %w", raw, err)
		}
		if existing, ok := byPeer[info.ID]; ok {
			existing.Addrs = append(existing.Addrs, info.Addrs...)
			continue
		}
		byPeer[info.ID] = info
		order = append(order, info.ID)
	}

	out := make([]peer.AddrInfo, 0, len(order))
	for _, id := range order {
		out = append(out, *byPeer[id])
	}
	return out, nil
}
