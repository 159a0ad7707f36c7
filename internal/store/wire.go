package store

// MessageType tags the four payload kinds exchanged between peers once a
// transport handshake has succeeded. A peer emits Hello right after
// handshake, answers an incoming Hello with Sync batches of whatever it
// has for each collection, and streams every local write onward as Patch.
type MessageType string

const (
	MsgHello MessageType = "hello"
	MsgSync  MessageType = "sync"
	MsgPatch MessageType = "patch"
	MsgBye   MessageType = "bye"
)

// WatermarkSummary is the per-collection high-watermark a peer advertises
// in its Hello, letting the receiver decide whether it needs to initiate
// its own Sync back (a cheap approximation of a vector clock: one counter
// per collection rather than per peer).
type WatermarkSummary map[string]uint64

// Hello announces a peer's presence after handshake and carries enough
// state for the receiver to decide what to send back.
type Hello struct {
	PeerID      string           `json:"peer_id"`
	Watermarks  WatermarkSummary `json:"watermarks"`
}

// Sync carries a batch of documents for one collection, all with
// _ts > SinceTs, in response to a Hello (or a forced sync_now round).
// A collection may be split across several Sync messages to respect
// MaxFrame; More indicates another batch for the same collection follows.
type Sync struct {
	Collection string     `json:"collection"`
	SinceTs    uint64     `json:"since_ts"`
	Documents  []Document `json:"documents"`
	More       bool       `json:"more,omitempty"`
}

// Patch streams a single local write to every connected peer as it
// happens, outside of the anti-entropy Hello/Sync cycle.
type Patch struct {
	Collection string   `json:"collection"`
	Document   Document `json:"document"`
}

// Bye signals a graceful disconnect; receivers should mark the sender's
// PeerInfo stale immediately rather than waiting for a timeout.
type Bye struct{}

// Envelope wraps exactly one of the payload kinds above for transport
// framing; Type disambiguates which field is populated.
type Envelope struct {
	Type  MessageType `json:"type"`
	Hello *Hello      `json:"hello,omitempty"`
	Sync  *Sync       `json:"sync,omitempty"`
	Patch *Patch      `json:"patch,omitempty"`
	Bye   *Bye        `json:"bye,omitempty"`
}
