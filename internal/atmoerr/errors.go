// Package atmoerr defines the sentinel error taxonomy shared by every
// Atmosphere core package. Errors are grouped the way the design doc
// groups them: Config, Auth, Transport, Store, Dispatch, Lifecycle.
// Call sites wrap these with fmt.Errorf("...: %w", ErrX) to attach
// context; callers use errors.Is to classify failures at a boundary.
package atmoerr

import "errors"

// Config errors.
var (
	ErrBadInvite       = errors.New("invite: malformed invite token")
	ErrInviteExpired   = errors.New("invite: token has expired")
	ErrMissingIdentity = errors.New("identity: no identity key available")
)

// Auth errors.
var (
	ErrMeshMismatch  = errors.New("auth: peer belongs to a different mesh")
	ErrAuthRejected  = errors.New("auth: peer failed the mesh handshake")
)

// Transport errors.
var (
	ErrConnectTimeout       = errors.New("transport: connect timed out")
	ErrTransportUnavailable = errors.New("transport: unavailable")
	ErrPeerGone             = errors.New("transport: peer is no longer connected")
)

// Store errors.
var (
	ErrFatalStorage      = errors.New("store: fatal storage error")
	ErrDocumentTooLarge   = errors.New("store: document exceeds maximum size")
	ErrTombstoneOverwrite = errors.New("store: attempted to overwrite a tombstone with an older write")
)

// Dispatch errors.
var (
	ErrNoCapability = errors.New("dispatch: no capability satisfies the request")
	ErrTimeout      = errors.New("dispatch: timed out waiting for a response")
)

// RemoteError wraps an error message returned by a responder peer.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "dispatch: remote error: " + e.Message }

// Lifecycle errors.
var (
	ErrNotRunning      = errors.New("lifecycle: node is not running")
	ErrAlreadyRunning  = errors.New("lifecycle: node is already running")
)
