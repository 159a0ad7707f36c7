package router

import (
	"strings"

	"github.com/atmosphere-mesh/corenode/internal/gossip"
)

func clamp01(v float64) float64 {
	if v != v { // NaN: spec.md §4.6 treats any NaN defensively as 0.
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,!?;:()[]{}\"'")
		if f != "" {
			out[f] = struct{}{}
		}
	}
	return out
}

func tokenizeAll(phrases []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, p := range phrases {
		for tok := range tokenize(p) {
			out[tok] = struct{}{}
		}
	}
	return out
}

func intersectCount(a, b map[string]struct{}) int {
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	n := 0
	for tok := range small {
		if _, ok := big[tok]; ok {
			n++
		}
	}
	return n
}

func unionCount(a, b map[string]struct{}, inter int) int {
	return len(a) + len(b) - inter
}

// semanticScore implements spec.md §4.6 step 2. An exact match against
// the capability id or project path scores 1.0 outright; otherwise it
// falls back to a smoothed Jaccard overlap between the query's token set
// and the union of the candidate's keywords, good_for, and
// specializations, or 0.1 if nothing overlaps at all.
func semanticScore(query string, e gossip.CapabilityEntry) (float64, MatchMethod) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q != "" && (q == strings.ToLower(e.CapabilityID) || q == strings.ToLower(e.ProjectPath)) {
		return 1.0, MatchExact
	}

	queryTokens := tokenize(query)
	keywordTokens := tokenizeAll(e.Keywords)
	descriptiveTokens := tokenizeAll(append(append([]string{}, e.GoodFor...), e.Specializations...))
	allTokens := make(map[string]struct{}, len(keywordTokens)+len(descriptiveTokens))
	for t := range keywordTokens {
		allTokens[t] = struct{}{}
	}
	for t := range descriptiveTokens {
		allTokens[t] = struct{}{}
	}

	inter := intersectCount(queryTokens, allTokens)
	if inter == 0 {
		return 0.1, MatchFallback
	}

	union := unionCount(queryTokens, allTokens, inter)
	score := clamp01(float64(inter+1) / float64(union))

	if intersectCount(queryTokens, keywordTokens) > 0 {
		return score, MatchKeyword
	}
	return score, MatchSemantic
}

// latencyScore implements step 3. A candidate reporting no estimated
// latency (EstimatedLatencyMs <= 0) falls back to a per-transport
// default; a locally-owned capability (Transport=="local") is treated as
// effectively zero-latency.
func latencyScore(e gossip.CapabilityEntry) float64 {
	est := e.EstimatedLatencyMs
	if est <= 0 {
		switch e.Transport {
		case "lan":
			est = DefaultLatencyLAN
		case "relay":
			est = DefaultLatencyRelay
		case "ble":
			est = DefaultLatencyBLE
		case "local":
			est = 0
		default:
			est = DefaultLatencyRelay
		}
	}
	return clamp01(1 - est/LatencyCeilingMs)
}

// hopScore implements step 4.
func hopScore(hops int) float64 {
	if hops > gossip.MaxHops {
		hops = gossip.MaxHops
	}
	if hops < 0 {
		hops = 0
	}
	return 1 - float64(hops)/float64(gossip.MaxHops)
}

// costScore implements step 5: 1 - overall_cost, preferring a fresh
// lookup over the embedded snapshot when one is available.
func costScore(e gossip.CapabilityEntry, lookup CostLookup) float64 {
	overall := e.CostFactors.OverallCost
	if lookup != nil {
		if fresh, ok := lookup(e.NodeID); ok {
			overall = fresh
		}
	}
	return clamp01(1 - overall)
}

// hardFilter implements step 1: drop candidates that are unavailable,
// missing a required feature, or exceed the caller's latency budget.
func hardFilter(e gossip.CapabilityEntry, c Constraints) bool {
	if !e.Available {
		return false
	}
	if c.MaxLatencyMs > 0 && e.EstimatedLatencyMs > c.MaxLatencyMs {
		return false
	}
	for _, feat := range c.RequiredFeatures {
		if !hasFeature(e.Features, feat) {
			return false
		}
	}
	return true
}

func hasFeature(f gossip.Features, name string) bool {
	switch strings.ToLower(name) {
	case "rag":
		return f.HasRAG
	case "tools":
		return f.HasTools
	case "vision":
		return f.HasVision
	case "streaming":
		return f.HasStreaming
	default:
		return false
	}
}
