// Package dispatch implements request/response correlation over the
// store: dispatch(query, constraints, timeout) routes a query to a
// capability, writes a request document, waits for a matching response,
// and returns it, per spec.md §4.7. The same machinery, parameterized by
// which pair of reserved collections it reads and writes, also serves
// the symmetric tool-call request/response pair.
package dispatch

import "time"

// ReqExpiry is a 60-second grace period. Nothing in this package reads
// it: Dispatch tombstones the request and response as soon as it
// correlates them, and tombstones the request once its own timeout
// (DefaultTimeout if none is given) elapses; no request or response is
// tombstoned on a ReqExpiry schedule.
const ReqExpiry = 60 * time.Second

// DefaultTimeout is dispatch's default wait for a response when the
// caller doesn't specify one.
const DefaultTimeout = 30 * time.Second

// Status values for a RequestDoc.
const (
	StatusPending = "pending"
	StatusExpired = "expired"
)

// Message is one turn of a chat-style request, used when the caller
// supplies a conversation instead of a single prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestDoc is the document written into _requests (or _tool_requests).
type RequestDoc struct {
	RequestID    string    `json:"request_id"`
	Status       string    `json:"status"`
	TargetPeer   string    `json:"target_peer,omitempty"`
	CapabilityID string    `json:"capability_id,omitempty"`
	ProjectPath  string    `json:"project_path,omitempty"`
	Timestamp    int64     `json:"timestamp"`
	Prompt       string    `json:"prompt,omitempty"`
	Messages     []Message `json:"messages,omitempty"`
	Source       string    `json:"source"`
}

// ResponseDoc is the document written into _responses (or
// _tool_responses), matched back to its request by RequestID.
type ResponseDoc struct {
	RequestID string `json:"request_id"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Result is what Dispatch returns on success.
type Result struct {
	Content string
	// RemoteErr is set, instead of Content, when the responder reported
	// an error rather than a completion.
	RemoteErr string
}
