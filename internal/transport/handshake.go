package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/atmosphere-mesh/corenode/internal/meshcred"
)

// maxHandshakeMessage bounds a single handshake message; these carry
// only a peer id, a 16-byte nonce and a 32-byte HMAC proof, so a few
// KiB is generous headroom.
const maxHandshakeMessage = 4 << 10

// HandshakeMsg is exchanged, length-prefixed, at the start of every
// carrier stream before any Frame traffic. The remote end's transport
// identity (e.g. a libp2p peer ID) is already authenticated below this
// layer; this handshake additionally proves the peer knows the mesh's
// shared secret, which the transport layer has no notion of.
type HandshakeMsg struct {
	PeerID string `json:"peer_id"`
	Nonce  []byte `json:"nonce,omitempty"`
	Proof  []byte `json:"proof,omitempty"`
}

func writeHandshakeMsg(w io.Writer, v HandshakeMsg) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(body) > maxHandshakeMessage {
		return fmt.Errorf("transport: handshake message too large (%d bytes)", len(body))
	}
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)
	_, err = w.Write(buf)
	return err
}

func readHandshakeMsg(r io.Reader) (HandshakeMsg, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return HandshakeMsg{}, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > maxHandshakeMessage {
		return HandshakeMsg{}, fmt.Errorf("transport: incoming handshake message too large (%d bytes)", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return HandshakeMsg{}, err
	}
	var msg HandshakeMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return HandshakeMsg{}, err
	}
	return msg, nil
}

// RunInitiatorHandshake proves knowledge of secret to the listener on
// the other end of rw and verifies the listener's own proof in return,
// mutually authenticating both sides into the mesh before any store
// traffic crosses the connection.
func RunInitiatorHandshake(rw io.ReadWriter, selfID string, secret [meshcred.SecretSize]byte) error {
	nonceA, err := meshcred.NewNonce()
	if err != nil {
		return err
	}
	if err := writeHandshakeMsg(rw, HandshakeMsg{PeerID: selfID, Nonce: nonceA[:]}); err != nil {
		return fmt.Errorf("transport: handshake: send challenge: %w", err)
	}

	msg2, err := readHandshakeMsg(rw)
	if err != nil {
		return fmt.Errorf("transport: handshake: read response: %w", err)
	}
	if !meshcred.VerifyHandshake(secret, selfID, nonceA, msg2.Proof) {
		return fmt.Errorf("transport: handshake: peer failed to prove mesh secret")
	}

	var nonceB [meshcred.NonceSize]byte
	if len(msg2.Nonce) != meshcred.NonceSize {
		return fmt.Errorf("transport: handshake: bad nonce length from peer")
	}
	copy(nonceB[:], msg2.Nonce)
	proofB := meshcred.ProveHandshake(secret, msg2.PeerID, nonceB)
	if err := writeHandshakeMsg(rw, HandshakeMsg{Proof: proofB}); err != nil {
		return fmt.Errorf("transport: handshake: send proof: %w", err)
	}
	return nil
}

// RunResponderHandshake is the listener side of the same exchange. It
// returns the peer id the initiator claims, which callers should cross
// check against any identity already authenticated by the carrier
// (e.g. a libp2p connection's remote peer ID).
func RunResponderHandshake(rw io.ReadWriter, selfID string, secret [meshcred.SecretSize]byte) (remotePeerID string, err error) {
	msg1, err := readHandshakeMsg(rw)
	if err != nil {
		return "", fmt.Errorf("transport: handshake: read challenge: %w", err)
	}
	var nonceA [meshcred.NonceSize]byte
	if len(msg1.Nonce) != meshcred.NonceSize {
		return "", fmt.Errorf("transport: handshake: bad nonce length from peer")
	}
	copy(nonceA[:], msg1.Nonce)

	nonceB, err := meshcred.NewNonce()
	if err != nil {
		return "", err
	}
	proofA := meshcred.ProveHandshake(secret, msg1.PeerID, nonceA)
	if err := writeHandshakeMsg(rw, HandshakeMsg{PeerID: selfID, Nonce: nonceB[:], Proof: proofA}); err != nil {
		return "", fmt.Errorf("transport: handshake: send response: %w", err)
	}

	msg3, err := readHandshakeMsg(rw)
	if err != nil {
		return "", fmt.Errorf("transport: handshake: read proof: %w", err)
	}
	if !meshcred.VerifyHandshake(secret, selfID, nonceB, msg3.Proof) {
		return "", fmt.Errorf("transport: handshake: peer failed to prove mesh secret")
	}
	return msg1.PeerID, nil
}
