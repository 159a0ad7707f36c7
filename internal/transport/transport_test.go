package transport

import (
	"io"
	"net"
	"testing"

	"github.com/google/uuid"

	"github.com/atmosphere-mesh/corenode/internal/meshcred"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	f := NewFrame(uuid.New(), 10, []byte("hello"))
	buf, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, n, ok, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !ok {
		t.Fatal("expected a complete frame")
	}
	if n != len(buf) {
		t.Fatalf("expected to consume %d bytes, consumed %d", len(buf), n)
	}
	if got.MeshID != f.MeshID || got.TTL != f.TTL || string(got.Payload) != "hello" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDecode_IncompleteFrameReturnsNotOK(t *testing.T) {
	f := NewFrame(uuid.New(), 10, []byte("hello world"))
	buf, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	_, _, ok, err := Decode(buf[:len(buf)-1])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ok {
		t.Fatal("expected an incomplete frame to report not-ok")
	}
}

func TestRebroadcast_DecrementsTTLIncrementsHops(t *testing.T) {
	f := NewFrame(uuid.New(), 5, nil)
	g := f.Rebroadcast()
	if g.TTL != 4 {
		t.Fatalf("expected ttl 4, got %d", g.TTL)
	}
	if g.Hops != 1 {
		t.Fatalf("expected hops 1, got %d", g.Hops)
	}
	if g.Nonce != f.Nonce {
		t.Fatal("rebroadcast must preserve the original nonce for dedup")
	}
}

func TestWriteReadFrame_RoundTripOverPipe(t *testing.T) {
	r, w := io.Pipe()
	f := NewFrame(uuid.New(), 3, []byte("over the wire"))

	errCh := make(chan error, 1)
	go func() { errCh <- WriteFrame(w, f) }()

	got, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if string(got.Payload) != "over the wire" || got.TTL != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestWriteReadFrame_CompressesLargePayload(t *testing.T) {
	r, w := io.Pipe()
	big := make([]byte, compressionThreshold*2)
	for i := range big {
		big[i] = byte(i % 7)
	}
	f := NewFrame(uuid.New(), 1, big)

	errCh := make(chan error, 1)
	go func() { errCh <- WriteFrame(w, f) }()

	got, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if len(got.Payload) != len(big) {
		t.Fatalf("expected %d byte payload, got %d", len(big), len(got.Payload))
	}
}

func TestHandshake_MutualSuccessOverDuplexConn(t *testing.T) {
	a, b := net.Pipe()
	var secret [meshcred.SecretSize]byte
	secret[0] = 0x9

	errCh := make(chan error, 1)
	go func() { errCh <- RunInitiatorHandshake(a, "peer-a", secret) }()

	remoteID, err := RunResponderHandshake(b, "peer-b", secret)
	if err != nil {
		t.Fatalf("RunResponderHandshake: %v", err)
	}
	if remoteID != "peer-a" {
		t.Fatalf("expected peer-a, got %s", remoteID)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("RunInitiatorHandshake: %v", err)
	}
}

func TestHandshake_RejectsMismatchedSecret(t *testing.T) {
	a, b := net.Pipe()
	var secretA, secretB [meshcred.SecretSize]byte
	secretA[0] = 1
	secretB[0] = 2

	initErrCh := make(chan error, 1)
	go func() { initErrCh <- RunInitiatorHandshake(a, "peer-a", secretA) }()

	respErrCh := make(chan error, 1)
	go func() {
		_, err := RunResponderHandshake(b, "peer-b", secretB)
		respErrCh <- err
	}()

	initErr := <-initErrCh
	if initErr == nil {
		t.Fatal("expected initiator to reject a mismatched secret")
	}
	a.Close() // unblocks the responder, which is waiting on the proof the initiator never sends
	<-respErrCh
}

func TestNonceCache_DropsDuplicates(t *testing.T) {
	c := NewNonceCache()
	var n [16]byte
	n[0] = 7

	if c.SeenBefore(n) {
		t.Fatal("first sighting should not be seen before")
	}
	if !c.SeenBefore(n) {
		t.Fatal("second sighting should be flagged as seen before")
	}
}
