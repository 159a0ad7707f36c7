// Package router implements the semantic router: given a free-text
// query and a set of constraints, it scores every entry in the gradient
// table and picks the best capability to serve it, per spec.md §4.6.
package router

// MatchMethod classifies how a candidate's semantic score was derived.
type MatchMethod string

const (
	// MatchExact is an exact match against a capability id or project
	// path: the query is effectively naming the capability directly.
	MatchExact MatchMethod = "EXACT_CAPABILITY"
	// MatchKeyword is a token-overlap match where at least one
	// overlapping token came from the candidate's keywords.
	MatchKeyword MatchMethod = "KEYWORD"
	// MatchSemantic is a token-overlap match where the overlap came only
	// from good_for/specializations, not keywords directly.
	MatchSemantic MatchMethod = "SEMANTIC"
	// MatchFallback is the descriptive floor score used when no tokens
	// overlap at all.
	MatchFallback MatchMethod = "FALLBACK"
)

// LatencyCeilingMs is the denominator in the latency score; spec.md
// §4.6 fixes it at 5000ms.
const LatencyCeilingMs = 5000

// Default estimated latencies used when a candidate doesn't report one,
// keyed by the transport it was learned over.
const (
	DefaultLatencyLAN   = 30
	DefaultLatencyRelay = 200
	DefaultLatencyBLE   = 500
)

// Constraints narrows the candidate set before scoring (the hard
// filter) and nudges the composite score afterward (PreferLocal).
type Constraints struct {
	MaxLatencyMs     float64 // 0 means unconstrained
	PreferLocal      bool
	RequiredFeatures []string // any of "rag", "tools", "vision", "streaming"
}

// ScoreBreakdown is every component score that fed into Composite, kept
// around for RouteDecision.Explanation and for callers that want to show
// their work.
type ScoreBreakdown struct {
	Semantic  float64 `json:"semantic"`
	Latency   float64 `json:"latency"`
	Hop       float64 `json:"hop"`
	Cost      float64 `json:"cost"`
	Composite float64 `json:"composite"`
}

// Alternative is a runner-up candidate, stripped down to what a caller
// needs to retry against it.
type Alternative struct {
	CapabilityID string  `json:"capability_id"`
	PeerID       string  `json:"peer_id"`
	Score        float64 `json:"score"`
}

// Decision is the router's answer: the winning capability, why it won,
// and up to three alternatives in case the caller wants to retry
// elsewhere (e.g. the winner is unreachable by the time dispatch runs).
type Decision struct {
	CapabilityID   string         `json:"capability_id"`
	PeerID         string         `json:"peer_id"`
	ScoreBreakdown ScoreBreakdown `json:"score_breakdown"`
	MatchMethod    MatchMethod    `json:"match_method"`
	Explanation    string         `json:"explanation"`
	Alternatives   []Alternative  `json:"alternatives"`
}

// CostLookup gives the router a chance to recompute s_cost against a
// fresh _cost document instead of the snapshot embedded in the
// candidate's own announcement. It reports ok=false when no fresher
// reading is available, in which case the embedded cost factors are
// used instead.
type CostLookup func(peerID string) (overallCost float64, ok bool)
