package meshcred

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// handshakeDomain is a fixed context string mixed into every handshake MAC
// so a proof computed here can never be replayed as a proof for some other
// protocol that happens to share the same shared secret.
const handshakeDomain = "atmosphere-handshake-v1"

// NonceSize is the length in bytes of the random challenge exchanged
// during the transport handshake.
const NonceSize = 16

// NewNonce returns a fresh random handshake nonce.
func NewNonce() ([NonceSize]byte, error) {
	var n [NonceSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("meshcred: failed to generate nonce: %w", err)
	}
	return n, nil
}

// ProveHandshake computes HMAC-SHA256(secret, "atmosphere-handshake-v1" ||
// peer_id || nonce), the proof a dialing peer presents to show it knows
// the mesh's shared secret without ever sending the secret itself.
func ProveHandshake(secret [SecretSize]byte, peerID string, nonce [NonceSize]byte) []byte {
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(handshakeDomain))
	mac.Write([]byte(peerID))
	mac.Write(nonce[:])
	return mac.Sum(nil)
}

// VerifyHandshake reports whether proof is a valid HMAC over peerID and
// nonce under secret, using a constant-time comparison to avoid leaking
// timing information about the secret.
func VerifyHandshake(secret [SecretSize]byte, peerID string, nonce [NonceSize]byte, proof []byte) bool {
	expected := ProveHandshake(secret, peerID, nonce)
	return hmac.Equal(expected, proof)
}
