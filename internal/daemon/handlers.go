package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atmosphere-mesh/corenode/internal/atmoerr"
	"github.com/atmosphere-mesh/corenode/internal/dispatch"
	"github.com/atmosphere-mesh/corenode/internal/router"
)

// maxRequestBodySize limits the size of JSON request bodies to prevent
// unbounded memory consumption from oversized or malicious payloads.
const maxRequestBodySize = 1 << 20 // 1 MB

// registerRoutes sets up all HTTP routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/peers", s.handlePeers)
	mux.HandleFunc("GET /v1/capabilities", s.handleCapabilities)

	mux.HandleFunc("POST /v1/route", s.handleRoute)
	mux.HandleFunc("POST /v1/dispatch", s.handleDispatch)
	mux.HandleFunc("POST /v1/dispatch/tool", s.handleDispatchTool)
	mux.HandleFunc("POST /v1/invite", s.handleInvite)
	mux.HandleFunc("POST /v1/join", s.handleJoin)
	mux.HandleFunc("POST /v1/shutdown", s.handleShutdown)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(DataResponse{Data: data})
}

// respondError writes a JSON error response with the given status;
// statusForError is what maps a recognized atmoerr sentinel to its HTTP
// status.
func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, atmoerr.ErrBadInvite), errors.Is(err, atmoerr.ErrInviteExpired):
		return http.StatusBadRequest
	case errors.Is(err, atmoerr.ErrAuthRejected), errors.Is(err, atmoerr.ErrMeshMismatch):
		return http.StatusForbidden
	case errors.Is(err, atmoerr.ErrNoCapability):
		return http.StatusNotFound
	case errors.Is(err, atmoerr.ErrTimeout), errors.Is(err, atmoerr.ErrConnectTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, atmoerr.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, atmoerr.ErrFatalStorage):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(v)
}

func secondsToDuration(seconds int64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// --- Handlers ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	h := s.node.Health()
	respondJSON(w, http.StatusOK, StatusResponse{
		PeerID:          h.PeerID,
		Version:         s.version,
		UptimeSeconds:   h.UptimeSecs,
		ConnectedPeers:  h.PeerCount,
		CapabilityCount: h.CapabilityCount,
		MeshPort:        h.MeshPort,
		Transports:      h.Transports,
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := s.node.ConnectedPeers()
	out := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		out = append(out, PeerInfo{ID: p.PeerID, Transport: p.Transport, LastSeen: p.LastSeen.Unix()})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	entries := s.node.Capabilities()
	out := make([]CapabilityInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, CapabilityInfo{
			CapabilityID: e.CapabilityID,
			Label:        e.Label,
			ViaPeer:      e.ViaPeer,
			Local:        e.Local,
			Hops:         e.Hops,
			Available:    e.Available,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	decision, ok := s.node.Route(req.Query, req.constraints())
	if !ok {
		respondError(w, http.StatusNotFound, atmoerr.ErrNoCapability.Error())
		return
	}
	respondJSON(w, http.StatusOK, decision)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, s.node.Dispatch)
}

func (s *Server) handleDispatchTool(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, s.node.DispatchTool)
}

type dispatchFunc func(ctx context.Context, query string, constraints router.Constraints, prompt string, messages []dispatch.Message, timeout time.Duration) (dispatch.Result, error)

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, fn dispatchFunc) {
	var req DispatchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	result, err := fn(r.Context(), req.Query, req.constraints(), req.Prompt, req.Messages, req.timeout())
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, DispatchResponse{Content: result.Content, RemoteErr: result.RemoteErr})
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	ttl := secondsToDuration(req.TTLSeconds)
	tok, err := s.node.GenerateInvite(req.WideAreaURL, ttl)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	b64, err := tok.ToBase64()
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("encode invite: %v", err))
		return
	}
	if s.audit != nil {
		s.audit.InviteIssued(s.node.ShortID(), req.WideAreaURL != "")
	}
	respondJSON(w, http.StatusOK, InviteResponse{Token: b64})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}
	if err := s.node.ApplyInvite(req.Token); err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	if s.audit != nil {
		s.audit.MeshJoined(s.node.ShortID())
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	close(s.shutdownCh)
}
