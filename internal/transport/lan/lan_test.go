package lan

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/atmosphere-mesh/corenode/internal/meshcred"
	"github.com/atmosphere-mesh/corenode/internal/transport"
)

// newHandshakingPair builds two libp2p hosts and two LAN transports that
// share a mesh secret, wires a.handlePeerFound to dial b directly
// (skipping real mDNS, which isn't reachable in a sandboxed test
// environment) and waits for the resulting stream to be established.
func newHandshakingPair(t *testing.T, secret [meshcred.SecretSize]byte) (a, b *Transport) {
	t.Helper()
	meshID := uuid.New()

	mk := func() *Transport {
		priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		h, err := NewHost(HostConfig{PrivKey: priv, ListenPort: 0})
		if err != nil {
			t.Fatalf("NewHost: %v", err)
		}
		t.Cleanup(func() { h.Close() })
		tr := New(h, meshID, secret, 0, "", nil)
		if err := tr.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		t.Cleanup(func() { tr.Stop() })
		return tr
	}

	a = mk()
	b = mk()

	bAddr := peer.AddrInfo{ID: b.host.ID(), Addrs: b.host.Addrs()}
	a.handlePeerFound(bAddr)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		a.mu.Lock()
		_, ok := a.streams[b.host.ID()]
		a.mu.Unlock()
		if ok {
			return a, b
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("handshake did not complete in time")
	return nil, nil
}

func TestTransport_HandshakeAndSendReceive(t *testing.T) {
	var secret [meshcred.SecretSize]byte
	secret[0] = 0x42

	a, b := newHandshakingPair(t, secret)

	f := transport.NewFrame(a.meshID, 5, []byte("ping"))
	if err := a.Send(b.host.ID().String(), f); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case in := <-b.Inbound():
		if string(in.Frame.Payload) != "ping" {
			t.Fatalf("unexpected payload: %q", in.Frame.Payload)
		}
		if in.PeerID != a.host.ID().String() {
			t.Fatalf("unexpected sender: %s", in.PeerID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
	}
}

func TestTransport_HandshakeRejectsMismatchedSecret(t *testing.T) {
	var secretA, secretB [meshcred.SecretSize]byte
	secretA[0] = 1
	secretB[0] = 2
	meshID := uuid.New()

	mk := func(secret [meshcred.SecretSize]byte) *Transport {
		priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		h, err := NewHost(HostConfig{PrivKey: priv, ListenPort: 0})
		if err != nil {
			t.Fatalf("NewHost: %v", err)
		}
		t.Cleanup(func() { h.Close() })
		tr := New(h, meshID, secret, 0, "", nil)
		if err := tr.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		t.Cleanup(func() { tr.Stop() })
		return tr
	}

	a := mk(secretA)
	b := mk(secretB)

	bAddr := peer.AddrInfo{ID: b.host.ID(), Addrs: b.host.Addrs()}
	a.handlePeerFound(bAddr)

	time.Sleep(300 * time.Millisecond)

	a.mu.Lock()
	_, ok := a.streams[b.host.ID()]
	a.mu.Unlock()
	if ok {
		t.Fatal("expected handshake to be rejected for mismatched mesh secret")
	}
}

func TestBroadcast_DeliversToConnectedPeer(t *testing.T) {
	var secret [meshcred.SecretSize]byte
	secret[0] = 7

	a, b := newHandshakingPair(t, secret)

	if err := a.Broadcast(transport.NewFrame(a.meshID, 1, []byte("hi"))); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	select {
	case <-b.Inbound():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for broadcast frame")
	}
}
