package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atmosphere-mesh/corenode/internal/atmoerr"
	"github.com/atmosphere-mesh/corenode/internal/router"
	"github.com/atmosphere-mesh/corenode/internal/store"
)

// Reserved collection pairs (spec.md §4.3). Responses are keyed by the
// same document id as their request (the request_id), which is what
// makes "matched by request_id" a plain store.Get rather than a scan.
const (
	RequestsCollection      = "_requests"
	ResponsesCollection     = "_responses"
	ToolRequestsCollection  = "_tool_requests"
	ToolResponsesCollection = "_tool_responses"
)

// RouteFunc resolves a query to a routing decision. New takes it from
// the caller: pkg/atmosphere passes one backed by internal/router and a
// gradient table snapshot; tests can substitute their own.
type RouteFunc func(query string, constraints router.Constraints) (router.Decision, bool)

// Dispatcher implements the requester side of spec.md §4.7: route,
// write a request, wait for a matching response.
type Dispatcher struct {
	store         *store.Store
	selfID        string
	logger        *slog.Logger
	route         RouteFunc
	requestsColl  string
	responsesColl string
}

// New builds a Dispatcher for ordinary chat/inference requests
// (_requests/_responses), routing each query with route.
func New(st *store.Store, route RouteFunc, selfID string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:         st,
		selfID:        selfID,
		logger:        logger.With("component", "dispatch"),
		route:         route,
		requestsColl:  RequestsCollection,
		responsesColl: ResponsesCollection,
	}
}

// NewToolDispatcher builds a Dispatcher wired to the symmetric
// _tool_requests/_tool_responses pair instead, for tool-call routing.
func NewToolDispatcher(st *store.Store, route RouteFunc, selfID string, logger *slog.Logger) *Dispatcher {
	d := New(st, route, selfID, logger)
	d.requestsColl = ToolRequestsCollection
	d.responsesColl = ToolResponsesCollection
	return d
}

// Dispatch routes query, writes a request document, and waits up to
// timeout (DefaultTimeout if <= 0) for a matching response. Either
// prompt or messages should be supplied, matching spec.md's "plus
// either prompt or messages" request shape.
func (d *Dispatcher) Dispatch(ctx context.Context, query string, constraints router.Constraints, prompt string, messages []Message, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	decision, ok := d.route(query, constraints)
	if !ok {
		return Result{}, atmoerr.ErrNoCapability
	}

	requestID := uuid.New().String()
	req := RequestDoc{
		RequestID:    requestID,
		Status:       StatusPending,
		TargetPeer:   decision.PeerID,
		CapabilityID: decision.CapabilityID,
		Timestamp:    time.Now().Unix(),
		Prompt:       prompt,
		Messages:     messages,
		Source:       d.selfID,
	}

	fields, err := fieldsFromRequest(req)
	if err != nil {
		return Result{}, err
	}
	if _, err := d.store.Insert(d.requestsColl, requestID, fields); err != nil {
		return Result{}, fmt.Errorf("dispatch: write request %s: %w", requestID, err)
	}

	resultCh := make(chan ResponseDoc, 1)
	obsID := d.store.Observe(d.responsesColl, func(ev store.Event) {
		if ev.Kind == store.EventDelete || ev.ID != requestID {
			return
		}
		resp, err := responseFromFields(ev.Doc.Fields)
		if err != nil {
			d.logger.Warn("failed to decode response document", "request_id", requestID, "error", err)
			return
		}
		select {
		case resultCh <- resp:
		default:
		}
	})
	defer d.store.RemoveObserver(obsID)

	select {
	case resp := <-resultCh:
		d.finish(requestID)
		if resp.Error != "" {
			return Result{RemoteErr: resp.Error}, &atmoerr.RemoteError{Message: resp.Error}
		}
		return Result{Content: resp.Content}, nil

	case <-time.After(timeout):
		d.expire(requestID)
		return Result{}, atmoerr.ErrTimeout

	case <-ctx.Done():
		d.expire(requestID)
		return Result{}, ctx.Err()
	}
}

// finish tombstones both sides of a successfully correlated exchange.
func (d *Dispatcher) finish(requestID string) {
	if _, err := d.store.Delete(d.requestsColl, requestID); err != nil {
		d.logger.Warn("failed to tombstone request", "request_id", requestID, "error", err)
	}
	if _, err := d.store.Delete(d.responsesColl, requestID); err != nil {
		d.logger.Warn("failed to tombstone response", "request_id", requestID, "error", err)
	}
}

// expire tombstones a request that timed out or was cancelled before any
// response arrived.
func (d *Dispatcher) expire(requestID string) {
	if _, err := d.store.Delete(d.requestsColl, requestID); err != nil {
		d.logger.Warn("failed to tombstone expired request", "request_id", requestID, "error", err)
	}
}
