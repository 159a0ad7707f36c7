package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResponder_AnswersRequestTargetedAtSelf(t *testing.T) {
	st := newTestStore(t)
	r := NewResponder(st, "peer-b", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx, func(ctx context.Context, req RequestDoc) (string, error) {
		return "pong:" + req.Prompt, nil
	})
	defer r.Stop()

	req := RequestDoc{RequestID: "req-1", Status: StatusPending, TargetPeer: "peer-b", Prompt: "ping"}
	fields, err := fieldsFromRequest(req)
	if err != nil {
		t.Fatalf("fieldsFromRequest: %v", err)
	}
	if _, err := st.Insert(RequestsCollection, req.RequestID, fields); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a response document")
		default:
		}
		docs, _ := st.Query(ResponsesCollection)
		if len(docs) > 0 {
			resp, err := responseFromFields(docs[0].Fields)
			if err != nil {
				t.Fatalf("responseFromFields: %v", err)
			}
			if resp.Content != "pong:ping" {
				t.Fatalf("expected 'pong:ping', got %q", resp.Content)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResponder_IgnoresRequestTargetedAtOtherPeer(t *testing.T) {
	st := newTestStore(t)
	r := NewResponder(st, "peer-b", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	called := make(chan struct{}, 1)
	r.Start(ctx, func(ctx context.Context, req RequestDoc) (string, error) {
		called <- struct{}{}
		return "should not happen", nil
	})
	defer r.Stop()

	req := RequestDoc{RequestID: "req-2", Status: StatusPending, TargetPeer: "peer-c"}
	fields, _ := fieldsFromRequest(req)
	st.Insert(RequestsCollection, req.RequestID, fields)

	select {
	case <-called:
		t.Fatal("expected the responder to ignore a request addressed to a different peer")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResponder_FallsBackToLocalMatcherWhenNoTargetPeer(t *testing.T) {
	st := newTestStore(t)
	matched := make(chan [2]string, 1)
	matcher := func(projectPath, capabilityID string) bool {
		matched <- [2]string{projectPath, capabilityID}
		return capabilityID == "llm.chat"
	}
	r := NewResponder(st, "peer-b", matcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handled := make(chan struct{}, 1)
	r.Start(ctx, func(ctx context.Context, req RequestDoc) (string, error) {
		handled <- struct{}{}
		return "ok", nil
	})
	defer r.Stop()

	req := RequestDoc{RequestID: "req-3", Status: StatusPending, CapabilityID: "llm.chat", ProjectPath: "/repo"}
	fields, _ := fieldsFromRequest(req)
	st.Insert(RequestsCollection, req.RequestID, fields)

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the local matcher to accept and handle the request")
	}
}

func TestResponder_DuplicateRequestIsCoalesced(t *testing.T) {
	st := newTestStore(t)
	r := NewResponder(st, "peer-b", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls int
	done := make(chan struct{})
	r.Start(ctx, func(ctx context.Context, req RequestDoc) (string, error) {
		calls++
		close(done)
		return "ok", nil
	})
	defer r.Stop()

	req := RequestDoc{RequestID: "req-dup", Status: StatusPending, TargetPeer: "peer-b"}
	fields, _ := fieldsFromRequest(req)
	st.Insert(RequestsCollection, req.RequestID, fields)
	<-done

	// Re-announcing the same request_id (e.g. re-delivered via gossip)
	// must not trigger a second handler invocation.
	st.Insert(RequestsCollection, req.RequestID, fields)
	time.Sleep(50 * time.Millisecond)

	if calls != 1 {
		t.Fatalf("expected exactly one handler call, got %d", calls)
	}
}

func TestResponder_HandlerErrorIsWrittenAsResponseError(t *testing.T) {
	st := newTestStore(t)
	r := NewResponder(st, "peer-b", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx, func(ctx context.Context, req RequestDoc) (string, error) {
		return "", errors.New("capability busy")
	})
	defer r.Stop()

	req := RequestDoc{RequestID: "req-err", Status: StatusPending, TargetPeer: "peer-b"}
	fields, _ := fieldsFromRequest(req)
	st.Insert(RequestsCollection, req.RequestID, fields)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for an error response")
		default:
		}
		docs, _ := st.Query(ResponsesCollection)
		if len(docs) > 0 {
			resp, _ := responseFromFields(docs[0].Fields)
			if resp.Error != "capability busy" {
				t.Fatalf("expected error 'capability busy', got %q", resp.Error)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}
