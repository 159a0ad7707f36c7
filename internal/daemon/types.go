package daemon

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/atmosphere-mesh/corenode/internal/dispatch"
	"github.com/atmosphere-mesh/corenode/internal/gossip"
	"github.com/atmosphere-mesh/corenode/internal/meshcred"
	"github.com/atmosphere-mesh/corenode/internal/router"
	"github.com/atmosphere-mesh/corenode/internal/store"
	"github.com/atmosphere-mesh/corenode/internal/supervisor"
)

// Node is the subset of pkg/atmosphere.Node the daemon API drives. The
// interface decouples this package from the concrete Node type the way
// the teacher decoupled its daemon from a concrete P2P runtime struct.
type Node interface {
	PeerID() peer.ID
	ShortID() string
	Health() supervisor.Health
	ConnectedPeers() []store.PeerInfo
	Capabilities() []gossip.CapabilityEntry
	Route(query string, constraints router.Constraints) (router.Decision, bool)
	Dispatch(ctx context.Context, query string, constraints router.Constraints, prompt string, messages []dispatch.Message, timeout time.Duration) (dispatch.Result, error)
	DispatchTool(ctx context.Context, query string, constraints router.Constraints, prompt string, messages []dispatch.Message, timeout time.Duration) (dispatch.Result, error)
	GenerateInvite(wideAreaURL string, ttl time.Duration) (*meshcred.Token, error)
	ApplyInvite(tokenB64 string) error
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	PeerID          string          `json:"peer_id"`
	Version         string          `json:"version"`
	UptimeSeconds   int64           `json:"uptime_seconds"`
	ConnectedPeers  int             `json:"connected_peers"`
	CapabilityCount int             `json:"capability_count"`
	MeshPort        int             `json:"mesh_port"`
	Transports      map[string]bool `json:"transports"`
}

// PeerInfo is returned by GET /v1/peers.
type PeerInfo struct {
	ID        string `json:"id"`
	Transport string `json:"transport"`
	LastSeen  int64  `json:"last_seen"`
}

// CapabilityInfo is returned by GET /v1/capabilities.
type CapabilityInfo struct {
	CapabilityID string `json:"capability_id"`
	Label        string `json:"label"`
	ViaPeer      string `json:"via_peer"`
	Local        bool   `json:"local"`
	Hops         int    `json:"hops"`
	Available    bool   `json:"available"`
}

// InviteRequest is the body for POST /v1/invite.
type InviteRequest struct {
	WideAreaURL   string `json:"wide_area_url,omitempty"`
	TTLSeconds    int64  `json:"ttl_seconds,omitempty"`
}

// InviteResponse is returned by POST /v1/invite.
type InviteResponse struct {
	Token string `json:"token"`
}

// JoinRequest is the body for POST /v1/join.
type JoinRequest struct {
	Token string `json:"token"`
}

// RouteRequest is the body for POST /v1/route.
type RouteRequest struct {
	Query        string   `json:"query"`
	MaxLatencyMs float64  `json:"max_latency_ms,omitempty"`
	PreferLocal  bool     `json:"prefer_local,omitempty"`
	Features     []string `json:"required_features,omitempty"`
}

// DispatchRequest is the body for POST /v1/dispatch and /v1/dispatch/tool.
type DispatchRequest struct {
	Query          string             `json:"query"`
	MaxLatencyMs   float64            `json:"max_latency_ms,omitempty"`
	PreferLocal    bool               `json:"prefer_local,omitempty"`
	Features       []string           `json:"required_features,omitempty"`
	Prompt         string             `json:"prompt"`
	Messages       []dispatch.Message `json:"messages,omitempty"`
	TimeoutSeconds int64              `json:"timeout_seconds,omitempty"`
}

// DispatchResponse is returned by POST /v1/dispatch and /v1/dispatch/tool.
type DispatchResponse struct {
	Content    string `json:"content"`
	RemoteErr  string `json:"remote_error,omitempty"`
	PeerID     string `json:"peer_id"`
	Capability string `json:"capability_id"`
}

// ErrorResponse is returned on failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DataResponse wraps a successful response.
type DataResponse struct {
	Data any `json:"data"`
}

func (r RouteRequest) constraints() router.Constraints {
	return router.Constraints{
		MaxLatencyMs:     r.MaxLatencyMs,
		PreferLocal:      r.PreferLocal,
		RequiredFeatures: r.Features,
	}
}

func (r DispatchRequest) constraints() router.Constraints {
	return router.Constraints{
		MaxLatencyMs:     r.MaxLatencyMs,
		PreferLocal:      r.PreferLocal,
		RequiredFeatures: r.Features,
	}
}

func (r DispatchRequest) timeout() time.Duration {
	if r.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}
