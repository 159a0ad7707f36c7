package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/atmosphere-mesh/corenode/internal/atmoerr"
	"github.com/atmosphere-mesh/corenode/internal/dispatch"
	"github.com/atmosphere-mesh/corenode/internal/gossip"
	"github.com/atmosphere-mesh/corenode/internal/meshcred"
	"github.com/atmosphere-mesh/corenode/internal/router"
	"github.com/atmosphere-mesh/corenode/internal/store"
	"github.com/atmosphere-mesh/corenode/internal/supervisor"
)

// fakeNode is a minimal, test-only implementation of Node.
type fakeNode struct {
	health       supervisor.Health
	peers        []store.PeerInfo
	capabilities []gossip.CapabilityEntry
	routeResult  router.Decision
	routeOK      bool
	dispatchErr  error
	dispatchRes  dispatch.Result
	inviteErr    error
	joinErr      error
}

func (f *fakeNode) PeerID() peer.ID                        { return "" }
func (f *fakeNode) ShortID() string                        { return "testnode" }
func (f *fakeNode) Health() supervisor.Health               { return f.health }
func (f *fakeNode) ConnectedPeers() []store.PeerInfo        { return f.peers }
func (f *fakeNode) Capabilities() []gossip.CapabilityEntry  { return f.capabilities }
func (f *fakeNode) Route(query string, c router.Constraints) (router.Decision, bool) {
	return f.routeResult, f.routeOK
}
func (f *fakeNode) Dispatch(ctx context.Context, query string, c router.Constraints, prompt string, msgs []dispatch.Message, timeout time.Duration) (dispatch.Result, error) {
	return f.dispatchRes, f.dispatchErr
}
func (f *fakeNode) DispatchTool(ctx context.Context, query string, c router.Constraints, prompt string, msgs []dispatch.Message, timeout time.Duration) (dispatch.Result, error) {
	return f.dispatchRes, f.dispatchErr
}
func (f *fakeNode) GenerateInvite(wideAreaURL string, ttl time.Duration) (*meshcred.Token, error) {
	if f.inviteErr != nil {
		return nil, f.inviteErr
	}
	creds := &meshcred.Credentials{SecretHex: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"}
	return meshcred.GenerateInvite(creds, "atmosphere", wideAreaURL, ttl), nil
}
func (f *fakeNode) ApplyInvite(tokenB64 string) error { return f.joinErr }

func newTestServer(n *fakeNode) *Server {
	return &Server{node: n, version: "test"}
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleStatus(t *testing.T) {
	n := &fakeNode{health: supervisor.Health{
		PeerID: "abc123", PeerCount: 2, CapabilityCount: 3, MeshPort: 4001,
		Transports: map[string]bool{"lan": true},
	}}
	s := newTestServer(n)

	rec := doRequest(s, "GET", "/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data StatusResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.PeerID != "abc123" || resp.Data.ConnectedPeers != 2 {
		t.Errorf("unexpected status response: %+v", resp.Data)
	}
}

func TestHandlePeers(t *testing.T) {
	n := &fakeNode{peers: []store.PeerInfo{{PeerID: "p1", Transport: "lan", LastSeen: time.Unix(100, 0)}}}
	s := newTestServer(n)

	rec := doRequest(s, "GET", "/v1/peers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Data []PeerInfo `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Data) != 1 || resp.Data[0].ID != "p1" {
		t.Errorf("unexpected peers response: %+v", resp.Data)
	}
}

func TestHandleRoute_NoMatch(t *testing.T) {
	n := &fakeNode{routeOK: false}
	s := newTestServer(n)

	rec := doRequest(s, "POST", "/v1/route", RouteRequest{Query: "anything"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleRoute_EmptyQuery(t *testing.T) {
	n := &fakeNode{}
	s := newTestServer(n)

	rec := doRequest(s, "POST", "/v1/route", RouteRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleDispatch_Success(t *testing.T) {
	n := &fakeNode{dispatchRes: dispatch.Result{Content: "hello"}}
	s := newTestServer(n)

	rec := doRequest(s, "POST", "/v1/dispatch", DispatchRequest{Query: "q", Prompt: "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data DispatchResponse `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Data.Content != "hello" {
		t.Errorf("content = %q, want %q", resp.Data.Content, "hello")
	}
}

func TestHandleDispatch_NoCapability(t *testing.T) {
	n := &fakeNode{dispatchErr: atmoerr.ErrNoCapability}
	s := newTestServer(n)

	rec := doRequest(s, "POST", "/v1/dispatch", DispatchRequest{Query: "q", Prompt: "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleInvite(t *testing.T) {
	n := &fakeNode{}
	s := newTestServer(n)

	rec := doRequest(s, "POST", "/v1/invite", InviteRequest{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data InviteResponse `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Data.Token == "" {
		t.Error("expected non-empty invite token")
	}
}

func TestHandleJoin_MissingToken(t *testing.T) {
	n := &fakeNode{}
	s := newTestServer(n)

	rec := doRequest(s, "POST", "/v1/join", JoinRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleJoin_BadToken(t *testing.T) {
	n := &fakeNode{joinErr: atmoerr.ErrBadInvite}
	s := newTestServer(n)

	rec := doRequest(s, "POST", "/v1/join", JoinRequest{Token: "not-a-token"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleShutdown_ClosesChannel(t *testing.T) {
	n := &fakeNode{}
	s := newTestServer(n)
	s.shutdownCh = make(chan struct{})

	rec := doRequest(s, "POST", "/v1/shutdown", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	select {
	case <-s.shutdownCh:
	default:
		t.Error("expected shutdownCh to be closed")
	}
}
