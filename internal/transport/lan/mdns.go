package lan

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/zeroconf/v2"
	ma "github.com/multiformats/go-multiaddr"
)

// ServiceName is the DNS-SD service type advertised on the local
// subnet. Every mesh member advertises under the same service name;
// membership is gated by the HMAC handshake, not by service naming.
const ServiceName = "_atmosphere._tcp"

const (
	browseInterval = 30 * time.Second
	browseTimeout  = 10 * time.Second
)

// advertiser registers this node's TXT record and re-browses the
// subnet on a fixed interval, handing newly discovered peers to
// onPeerFound.
type advertiser struct {
	host    host.Host
	meshID  uuid.UUID
	port    int
	httpURL string
	logger  *slog.Logger

	onPeerFound func(pi peer.AddrInfo)

	server *zeroconf.Server
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newAdvertiser(h host.Host, meshID uuid.UUID, port int, httpURL string, logger *slog.Logger, onPeerFound func(peer.AddrInfo)) *advertiser {
	return &advertiser{
		host:        h,
		meshID:      meshID,
		port:        port,
		httpURL:     httpURL,
		logger:      logger,
		onPeerFound: onPeerFound,
	}
}

func (a *advertiser) start(ctx context.Context) error {
	txts := []string{
		"peer_id=" + a.host.ID().String(),
		"mesh_id=" + a.meshID.String(),
		"port=" + strconv.Itoa(a.port),
	}
	if a.httpURL != "" {
		txts = append(txts, "http_url="+a.httpURL)
	}

	server, err := zeroconf.RegisterProxy(
		a.host.ID().String(),
		ServiceName,
		"local",
		a.port,
		a.host.ID().String(),
		[]string{"127.0.0.1"},
		txts,
		nil,
	)
	if err != nil {
		return fmt.Errorf("lan: register mdns service: %w", err)
	}
	a.server = server

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go a.browseLoop(runCtx)
	return nil
}

func (a *advertiser) stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.server != nil {
		a.server.Shutdown()
	}
	a.wg.Wait()
}

func (a *advertiser) browseLoop(ctx context.Context) {
	defer a.wg.Done()

	a.runBrowse(ctx)
	ticker := time.NewTicker(browseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runBrowse(ctx)
		}
	}
}

func (a *advertiser) runBrowse(ctx context.Context) {
	browseCtx, cancel := context.WithTimeout(ctx, browseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			a.handleEntry(entry)
		}
	}()

	if err := zeroconf.Browse(browseCtx, ServiceName, "local", entries); err != nil && browseCtx.Err() == nil {
		a.logger.Debug("lan: mdns browse error", "error", err)
	}
	wg.Wait()
}

func (a *advertiser) handleEntry(entry *zeroconf.ServiceEntry) {
	fields := parseTXT(entry.Text)
	if fields["mesh_id"] != a.meshID.String() {
		return
	}
	remotePeer := fields["peer_id"]
	if remotePeer == "" || remotePeer == a.host.ID().String() {
		return
	}
	pid, err := peer.Decode(remotePeer)
	if err != nil {
		a.logger.Debug("lan: mdns entry has bad peer id", "peer_id", remotePeer, "error", err)
		return
	}
	port, err := strconv.Atoi(fields["port"])
	if err != nil {
		a.logger.Debug("lan: mdns entry has bad port", "peer_id", remotePeer, "error", err)
		return
	}

	addrs := entryAddrs(entry, port)
	if len(addrs) == 0 {
		return
	}
	a.onPeerFound(peer.AddrInfo{ID: pid, Addrs: addrs})
}

func entryAddrs(entry *zeroconf.ServiceEntry, port int) []ma.Multiaddr {
	var addrs []ma.Multiaddr
	for _, ip := range entry.AddrIPv4 {
		if m, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", ip.String(), port)); err == nil {
			addrs = append(addrs, m)
		}
	}
	for _, ip := range entry.AddrIPv6 {
		if m, err := ma.NewMultiaddr(fmt.Sprintf("/ip6/%s/tcp/%d", ip.String(), port)); err == nil {
			addrs = append(addrs, m)
		}
	}
	return addrs
}

func parseTXT(txts []string) map[string]string {
	out := make(map[string]string, len(txts))
	for _, kv := range txts {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
