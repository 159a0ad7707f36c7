package router

import (
	"fmt"
	"sort"

	"github.com/atmosphere-mesh/corenode/internal/gossip"
)

const (
	weightSemantic = 0.50
	weightLatency  = 0.20
	weightHop      = 0.15
	weightCost     = 0.15
	preferLocalBias = 0.10
)

type candidate struct {
	entry       gossip.CapabilityEntry
	breakdown   ScoreBreakdown
	matchMethod MatchMethod
}

// Route scores every entry in entries against query and constraints and
// returns the winning Decision plus up to three alternatives. It reports
// ok=false if no entry survives the hard filter.
func Route(query string, constraints Constraints, entries []gossip.CapabilityEntry, costLookup CostLookup) (Decision, bool) {
	var candidates []candidate
	for _, e := range entries {
		if !hardFilter(e, constraints) {
			continue
		}
		sem, method := semanticScore(query, e)
		lat := latencyScore(e)
		hop := hopScore(e.Hops)
		cst := costScore(e, costLookup)

		composite := weightSemantic*sem + weightLatency*lat + weightHop*hop + weightCost*cst
		if constraints.PreferLocal && e.Hops == 0 {
			composite += preferLocalBias
		}
		composite = clamp01(composite)

		candidates = append(candidates, candidate{
			entry: e,
			breakdown: ScoreBreakdown{
				Semantic:  sem,
				Latency:   lat,
				Hop:       hop,
				Cost:      cst,
				Composite: composite,
			},
			matchMethod: method,
		})
	}

	if len(candidates) == 0 {
		return Decision{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		return less(candidates[i], candidates[j])
	})

	winner := candidates[0]
	decision := Decision{
		CapabilityID:   winner.entry.CapabilityID,
		PeerID:         winner.entry.NodeID,
		ScoreBreakdown: winner.breakdown,
		MatchMethod:    winner.matchMethod,
		Explanation:    explain(winner),
	}

	for i := 1; i < len(candidates) && i <= 3; i++ {
		c := candidates[i]
		decision.Alternatives = append(decision.Alternatives, Alternative{
			CapabilityID: c.entry.CapabilityID,
			PeerID:       c.entry.NodeID,
			Score:        c.breakdown.Composite,
		})
	}
	return decision, true
}

// less implements the sort order: highest composite score first, then
// spec.md §4.6 step 7's deterministic tie-break (higher s_sem, then
// lower hops, then lexicographic (peer_id, capability_id)).
func less(a, b candidate) bool {
	if a.breakdown.Composite != b.breakdown.Composite {
		return a.breakdown.Composite > b.breakdown.Composite
	}
	if a.breakdown.Semantic != b.breakdown.Semantic {
		return a.breakdown.Semantic > b.breakdown.Semantic
	}
	if a.entry.Hops != b.entry.Hops {
		return a.entry.Hops < b.entry.Hops
	}
	if a.entry.NodeID != b.entry.NodeID {
		return a.entry.NodeID < b.entry.NodeID
	}
	return a.entry.CapabilityID < b.entry.CapabilityID
}

func explain(c candidate) string {
	return fmt.Sprintf(
		"picked %s on %s via %s match (semantic=%.2f latency=%.2f hop=%.2f cost=%.2f composite=%.2f)",
		c.entry.CapabilityID, c.entry.NodeID, c.matchMethod,
		c.breakdown.Semantic, c.breakdown.Latency, c.breakdown.Hop, c.breakdown.Cost, c.breakdown.Composite,
	)
}
