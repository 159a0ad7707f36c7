// Package transport defines the Frame envelope and the Transport
// contract shared by every carrier (LAN mDNS, wide-area relay, BLE).
// Individual carriers live in sibling packages (lan, relay, ble); the
// supervisor holds one of each behind this interface.
package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
)

// compressionThreshold is the serialized-frame size above which Encode
// zstd-compresses the body. Sync batches are chunked at MAX_FRAME (64
// KiB) by the store; frames near that ceiling benefit most from
// compression, small Hello/Patch/Bye frames don't pay the codec cost.
const compressionThreshold = 8 * 1024

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Frame is the envelope every carrier sends and receives. Payload is an
// opaque byte string; the store layer marshals its Hello/Sync/Patch/Bye
// messages into it.
type Frame struct {
	Nonce   [16]byte  `json:"nonce"`
	TTL     int       `json:"ttl"`
	Hops    int       `json:"hops"`
	MeshID  uuid.UUID `json:"mesh_id"`
	Payload []byte    `json:"payload"`
}

// NewFrame builds a frame with a fresh random nonce and hops = 0.
func NewFrame(meshID uuid.UUID, ttl int, payload []byte) Frame {
	var f Frame
	id := uuid.New()
	copy(f.Nonce[:], id[:])
	f.TTL = ttl
	f.MeshID = meshID
	f.Payload = payload
	return f
}

// Rebroadcast returns a copy of f with ttl decremented and hops
// incremented, as required before forwarding a frame on to another peer.
func (f Frame) Rebroadcast() Frame {
	g := f
	g.TTL--
	g.Hops++
	return g
}

const (
	flagRaw  byte = 0
	flagZstd byte = 1
)

// Encode length-prefixes a JSON-encoded frame for stream transports that
// need explicit message boundaries (frames must never be split across
// peers). Bodies above compressionThreshold are zstd-compressed.
func Encode(f Frame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("transport: encode frame: %w", err)
	}

	flag := flagRaw
	if len(body) > compressionThreshold {
		body = zstdEncoder.EncodeAll(body, nil)
		flag = flagZstd
	}

	buf := make([]byte, 5+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(1+len(body)))
	buf[4] = flag
	copy(buf[5:], body)
	return buf, nil
}

// Decode parses a single length-prefixed frame off the front of buf,
// returning the frame, the number of bytes consumed, and whether a
// complete frame was available.
func Decode(buf []byte) (f Frame, n int, ok bool, err error) {
	if len(buf) < 4 {
		return Frame{}, 0, false, nil
	}
	recordLen := int(binary.BigEndian.Uint32(buf[:4]))
	if len(buf) < 4+recordLen {
		return Frame{}, 0, false, nil
	}
	if recordLen < 1 {
		return Frame{}, 0, false, fmt.Errorf("transport: decode frame: empty record")
	}

	flag := buf[4]
	body := buf[5 : 4+recordLen]
	if flag == flagZstd {
		body, err = zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return Frame{}, 0, false, fmt.Errorf("transport: decompress frame: %w", err)
		}
	}
	if err := json.Unmarshal(body, &f); err != nil {
		return Frame{}, 0, false, fmt.Errorf("transport: decode frame: %w", err)
	}
	return f, 4 + recordLen, true, nil
}

// WriteFrame writes a single length-prefixed frame to a stream-oriented
// writer (a carrier's underlying connection).
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads a single length-prefixed frame from a stream-oriented
// reader, blocking until a complete frame has arrived.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	recordLen := binary.BigEndian.Uint32(lenBuf[:])
	if recordLen < 1 {
		return Frame{}, fmt.Errorf("transport: read frame: empty record")
	}
	record := make([]byte, recordLen)
	if _, err := io.ReadFull(r, record); err != nil {
		return Frame{}, err
	}

	flag := record[0]
	body := record[1:]
	var err error
	if flag == flagZstd {
		body, err = zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return Frame{}, fmt.Errorf("transport: decompress frame: %w", err)
		}
	}
	var f Frame
	if err := json.Unmarshal(body, &f); err != nil {
		return Frame{}, fmt.Errorf("transport: decode frame: %w", err)
	}
	return f, nil
}

// InboundFrame tags a received Frame with the peer it arrived from.
type InboundFrame struct {
	PeerID string
	Frame  Frame
}

// Transport is the contract every carrier satisfies: a named,
// start/stop capability that emits inbound frames and exposes
// send/broadcast. Transports may fail and reconnect; they must never
// split a frame across peers.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(peerID string, f Frame) error
	Broadcast(f Frame) error
	Inbound() <-chan InboundFrame
}

// DedupeSize is the minimum seen-nonce LRU capacity the supervisor must
// maintain across all transports (spec: "bounded LRU of seen nonces,
// >= 500 entries").
const DedupeSize = 1024

// NonceCache is a bounded, concurrency-safe set of recently seen frame
// nonces, used to drop duplicates when the same frame arrives from two
// transports or is re-delivered after a reconnect.
type NonceCache struct {
	cache *lru.Cache[[16]byte, struct{}]
}

// NewNonceCache builds a NonceCache with at least DedupeSize capacity.
func NewNonceCache() *NonceCache {
	size := DedupeSize
	c, _ := lru.New[[16]byte, struct{}](size)
	return &NonceCache{cache: c}
}

// SeenBefore reports whether nonce has already been recorded, and
// records it if not. A single call both checks and marks, so callers
// never race between the two.
func (n *NonceCache) SeenBefore(nonce [16]byte) bool {
	if _, ok := n.cache.Get(nonce); ok {
		return true
	}
	n.cache.Add(nonce, struct{}{})
	return false
}
