package router

import (
	"testing"

	"github.com/atmosphere-mesh/corenode/internal/gossip"
)

func entry(peer, cap string, hops int, overallCost float64, available bool) gossip.CapabilityEntry {
	return gossip.CapabilityEntry{
		Announcement: gossip.Announcement{
			NodeID:       peer,
			CapabilityID: cap,
			Hops:         hops,
			Available:    available,
			CostFactors:  gossip.CostFactors{OverallCost: overallCost},
		},
	}
}

func TestRoute_NoCandidatesReturnsNotOK(t *testing.T) {
	_, ok := Route("hello", Constraints{}, nil, nil)
	if ok {
		t.Fatal("expected no candidates to report not-ok")
	}
}

func TestRoute_HardFilterDropsUnavailable(t *testing.T) {
	e := entry("peer-a", "llm.chat", 0, 0.1, false)
	_, ok := Route("llm.chat", Constraints{}, []gossip.CapabilityEntry{e}, nil)
	if ok {
		t.Fatal("expected an unavailable candidate to be filtered out")
	}
}

func TestRoute_HardFilterDropsMissingRequiredFeature(t *testing.T) {
	e := entry("peer-a", "llm.chat", 0, 0.1, true)
	_, ok := Route("llm.chat", Constraints{RequiredFeatures: []string{"vision"}}, []gossip.CapabilityEntry{e}, nil)
	if ok {
		t.Fatal("expected a candidate missing a required feature to be filtered out")
	}
}

func TestRoute_HardFilterDropsOverLatencyBudget(t *testing.T) {
	e := entry("peer-a", "llm.chat", 0, 0.1, true)
	e.EstimatedLatencyMs = 900
	_, ok := Route("llm.chat", Constraints{MaxLatencyMs: 500}, []gossip.CapabilityEntry{e}, nil)
	if ok {
		t.Fatal("expected a candidate over the latency budget to be filtered out")
	}
}

func TestRoute_ExactCapabilityIDMatchScoresOne(t *testing.T) {
	e := entry("peer-a", "llm.chat", 0, 0.1, true)
	d, ok := Route("llm.chat", Constraints{}, []gossip.CapabilityEntry{e}, nil)
	if !ok {
		t.Fatal("expected a match")
	}
	if d.MatchMethod != MatchExact || d.ScoreBreakdown.Semantic != 1.0 {
		t.Fatalf("expected an exact match, got %+v", d)
	}
}

func TestRoute_KeywordOverlapMatches(t *testing.T) {
	e := entry("peer-a", "llm.chat", 0, 0.1, true)
	e.Keywords = []string{"chat", "assistant"}
	d, ok := Route("need a chat assistant", Constraints{}, []gossip.CapabilityEntry{e}, nil)
	if !ok {
		t.Fatal("expected a match")
	}
	if d.MatchMethod != MatchKeyword {
		t.Fatalf("expected keyword match method, got %s", d.MatchMethod)
	}
	if d.ScoreBreakdown.Semantic <= 0.1 {
		t.Fatalf("expected a semantic score above the fallback floor, got %v", d.ScoreBreakdown.Semantic)
	}
}

func TestRoute_SpecializationOverlapMatchesAsSemantic(t *testing.T) {
	e := entry("peer-a", "llm.chat", 0, 0.1, true)
	e.Specializations = []string{"legal", "contracts"}
	d, ok := Route("need help with contracts", Constraints{}, []gossip.CapabilityEntry{e}, nil)
	if !ok {
		t.Fatal("expected a match")
	}
	if d.MatchMethod != MatchSemantic {
		t.Fatalf("expected semantic match method, got %s", d.MatchMethod)
	}
}

func TestRoute_NoOverlapFallsBack(t *testing.T) {
	e := entry("peer-a", "llm.chat", 0, 0.1, true)
	e.Keywords = []string{"translation"}
	d, ok := Route("completely unrelated query text", Constraints{}, []gossip.CapabilityEntry{e}, nil)
	if !ok {
		t.Fatal("expected a match")
	}
	if d.MatchMethod != MatchFallback || d.ScoreBreakdown.Semantic != 0.1 {
		t.Fatalf("expected a fallback match at 0.1, got %+v", d)
	}
}

func TestRoute_PicksLowerCostPeerOnNeutralQuery(t *testing.T) {
	// Mirrors spec.md's worked example: A is closer but on low battery
	// (expensive), B is one hop further but plugged in (cheap).
	a := entry("peer-a", "llm.chat", 0, 0.8, true)
	b := entry("peer-b", "llm.chat", 1, 0.1, true)
	d, ok := Route("hello", Constraints{}, []gossip.CapabilityEntry{a, b}, nil)
	if !ok {
		t.Fatal("expected a match")
	}
	if d.PeerID != "peer-b" {
		t.Fatalf("expected the cheaper peer B to win, got %s", d.PeerID)
	}
}

func TestRoute_PreferLocalBiasFavorsZeroHopCandidate(t *testing.T) {
	local := entry("peer-a", "llm.chat", 0, 0.5, true)
	remote := entry("peer-b", "llm.chat", 0, 0.45, true)
	remote.Hops = 1

	d, ok := Route("hello", Constraints{PreferLocal: true}, []gossip.CapabilityEntry{local, remote}, nil)
	if !ok {
		t.Fatal("expected a match")
	}
	if d.PeerID != "peer-a" {
		t.Fatalf("expected prefer_local bias to favor the zero-hop candidate, got %s", d.PeerID)
	}
}

func TestRoute_TieBreakIsDeterministic(t *testing.T) {
	a := entry("peer-z", "cap.a", 2, 0.5, true)
	b := entry("peer-a", "cap.b", 2, 0.5, true)
	// Identical scores on every axis: tie-break falls to lexicographic peer_id.
	d, ok := Route("unrelated", Constraints{}, []gossip.CapabilityEntry{a, b}, nil)
	if !ok {
		t.Fatal("expected a match")
	}
	if d.PeerID != "peer-a" {
		t.Fatalf("expected lexicographically lower peer_id peer-a to win tie-break, got %s", d.PeerID)
	}
}

func TestRoute_TopFourIncludesWinnerAndThreeAlternatives(t *testing.T) {
	var entries []gossip.CapabilityEntry
	for i := 0; i < 6; i++ {
		e := entry(string(rune('a'+i))+"-peer", "cap", i, 0.1*float64(i), true)
		entries = append(entries, e)
	}
	d, ok := Route("cap", Constraints{}, entries, nil)
	if !ok {
		t.Fatal("expected a match")
	}
	if len(d.Alternatives) != 3 {
		t.Fatalf("expected exactly 3 alternatives, got %d", len(d.Alternatives))
	}
}

func TestRoute_CostLookupOverridesEmbeddedCostFactors(t *testing.T) {
	e := entry("peer-a", "llm.chat", 0, 0.9, true) // expensive if embedded value is used
	lookup := func(peerID string) (float64, bool) {
		if peerID == "peer-a" {
			return 0.0, true // fresh reading says it's actually cheap now
		}
		return 0, false
	}
	d, ok := Route("llm.chat", Constraints{}, []gossip.CapabilityEntry{e}, lookup)
	if !ok {
		t.Fatal("expected a match")
	}
	if d.ScoreBreakdown.Cost != 1.0 {
		t.Fatalf("expected the fresh cost lookup to win, got cost score %v", d.ScoreBreakdown.Cost)
	}
}
