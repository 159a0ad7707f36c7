package identity

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/libp2p/go-libp2p/core/peer"
)

// ShortID derives a stable 16-byte presentation id from a libp2p peer ID,
// matching the data model's "opaque 16-byte id (first 16 of a
// device-stable UUID)". The libp2p peer ID remains the credential that
// actually authenticates the transport handshake; ShortID is a derived
// display/indexing form used in logs, gradient-table entries, and the
// _cost/_capabilities document node_id fields.
func ShortID(p peer.ID) [16]byte {
	sum := sha256.Sum256([]byte(p))
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}

// ShortIDHex renders ShortID as a lowercase hex string.
func ShortIDHex(p peer.ID) string {
	id := ShortID(p)
	return hex.EncodeToString(id[:])
}
