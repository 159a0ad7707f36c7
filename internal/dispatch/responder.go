package dispatch

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/atmosphere-mesh/corenode/internal/store"
)

// seenCacheSize bounds the idempotent-processing cache, matching the
// bounded-set pattern transport.NonceCache uses for frame dedupe.
const seenCacheSize = 4096

// Handler produces a response to a routed request. Returning an error
// causes the responder to write it into the response document's Error
// field rather than Content.
type Handler func(ctx context.Context, req RequestDoc) (content string, err error)

// LocalMatcher decides whether this node can serve a request that
// named no explicit target_peer, based on the request's project_path
// and capability_id (spec.md §4.7's local-best-match fallback).
type LocalMatcher func(projectPath, capabilityID string) bool

// Responder implements the responder side of request/response
// correlation: it watches a requests collection, answers the ones
// addressed to this node (or matched locally), and writes results back
// keyed by request_id.
type Responder struct {
	store         *store.Store
	selfID        string
	logger        *slog.Logger
	requestsColl  string
	responsesColl string
	matcher       LocalMatcher
	seen          *lru.Cache[string, struct{}]
	obsID         int
}

// NewResponder builds a Responder for the ordinary _requests/_responses
// pair.
func NewResponder(st *store.Store, selfID string, matcher LocalMatcher, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	seen, _ := lru.New[string, struct{}](seenCacheSize)
	return &Responder{
		store:         st,
		selfID:        selfID,
		logger:        logger.With("component", "dispatch"),
		requestsColl:  RequestsCollection,
		responsesColl: ResponsesCollection,
		matcher:       matcher,
		seen:          seen,
	}
}

// NewToolResponder builds a Responder wired to the symmetric
// _tool_requests/_tool_responses pair instead.
func NewToolResponder(st *store.Store, selfID string, matcher LocalMatcher, logger *slog.Logger) *Responder {
	r := NewResponder(st, selfID, matcher, logger)
	r.requestsColl = ToolRequestsCollection
	r.responsesColl = ToolResponsesCollection
	return r
}

// Start subscribes to the requests collection and answers matching
// requests with handler until ctx is cancelled or Stop is called.
func (r *Responder) Start(ctx context.Context, handler Handler) {
	r.obsID = r.store.Observe(r.requestsColl, func(ev store.Event) {
		if ev.Kind == store.EventDelete {
			return
		}
		req, err := requestFromFields(ev.Doc.Fields)
		if err != nil {
			r.logger.Warn("failed to decode request document", "id", ev.ID, "error", err)
			return
		}
		if req.Status != StatusPending || !r.shouldHandle(req) {
			return
		}
		if _, dup := r.seen.Get(req.RequestID); dup {
			return
		}
		r.seen.Add(req.RequestID, struct{}{})
		go r.process(ctx, handler, req)
	})
}

// Stop unsubscribes the responder from the requests collection.
func (r *Responder) Stop() {
	r.store.RemoveObserver(r.obsID)
}

// shouldHandle matches an explicit target_peer, or falls back to the
// local matcher over project_path/capability_id when the request
// named no target.
func (r *Responder) shouldHandle(req RequestDoc) bool {
	if req.TargetPeer != "" {
		return req.TargetPeer == r.selfID
	}
	if r.matcher == nil {
		return false
	}
	return r.matcher(req.ProjectPath, req.CapabilityID)
}

func (r *Responder) process(ctx context.Context, handler Handler, req RequestDoc) {
	content, err := handler(ctx, req)
	resp := ResponseDoc{RequestID: req.RequestID, Timestamp: time.Now().Unix()}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Content = content
	}

	fields, encErr := fieldsFromResponse(resp)
	if encErr != nil {
		r.logger.Warn("failed to encode response", "request_id", req.RequestID, "error", encErr)
		return
	}
	if _, err := r.store.Insert(r.responsesColl, req.RequestID, fields); err != nil {
		r.logger.Warn("failed to write response", "request_id", req.RequestID, "error", err)
	}
}
