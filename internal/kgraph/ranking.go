package kgraph

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Structural scoring constants.
const (
	StructuralBase    = 0.3
	StructuralPerEdge = 0.1
	StructuralCap     = 0.9
	StorageLayerBonus = 0.1
)

// RootCauseRanker merges pattern candidates with candidates derived from
// the shape of the causal graph.
type RootCauseRanker struct{}

// NewRootCauseRanker creates a RootCauseRanker.
func NewRootCauseRanker() *RootCauseRanker {
	return &RootCauseRanker{}
}

// Rank returns every candidate sorted by descending confidence. It is a
// pure function of the graph state.
func (r *RootCauseRanker) Rank(g *Graph) []RootCauseCandidate {
	candidates := g.PatternCandidates()

	explained := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		explained[c.EntityID] = struct{}{}
	}

	for _, e := range g.Entities() {
		if _, ok := explained[e.ID]; ok {
			continue
		}
		degree := len(g.Outgoing(e.ID, RelCauses))
		if degree == 0 {
			continue
		}
		layer := g.EntityLayer(e)
		candidates = append(candidates, RootCauseCandidate{
			EntityID:   e.ID,
			RootCause:  fmt.Sprintf("%s %s causes %d downstream issue(s)", e.Type, e.QualifiedName(), degree),
			FixPlan:    fmt.Sprintf("investigate %s.%s", layer, r.component(g, e)),
			Confidence: StructuralConfidence(degree, layer),
			Origin:     OriginStructural,
		})
	}

	SortCandidates(candidates)
	return candidates
}

// component picks the component of the entity's most severe issue, or the
// lower-cased entity type when it has none.
func (r *RootCauseRanker) component(g *Graph, e *Entity) string {
	if top := g.mostSevereIssue(e); top != nil && top.Component != "" {
		return top.Component
	}
	return strings.ToLower(string(e.Type))
}

// StructuralConfidence scores an entity by its number of outgoing causes
// edges: min(0.3 + 0.1*degree, 0.9), plus 0.1 for storage-layer entities,
// clamped to [0, 1]. Scores are rounded to two decimals so that equal
// inputs compare equal regardless of floating point accumulation.
func StructuralConfidence(causesOutDegree int, layer Layer) float64 {
	score := math.Min(StructuralBase+float64(causesOutDegree)*StructuralPerEdge, StructuralCap)
	if layer == LayerStorage {
		score += StorageLayerBonus
	}
	return clamp01(math.Round(score*100) / 100)
}

// SortCandidates orders candidates by descending confidence. Ties keep
// pattern candidates first, then order by entity and issue id.
func SortCandidates(c []RootCauseCandidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Confidence != c[j].Confidence {
			return c[i].Confidence > c[j].Confidence
		}
		if c[i].Origin != c[j].Origin {
			return c[i].Origin == OriginPattern
		}
		if c[i].EntityID != c[j].EntityID {
			return c[i].EntityID < c[j].EntityID
		}
		return c[i].IssueID < c[j].IssueID
	})
}

// PrimaryRootCause returns the highest ranked candidate, or the unknown
// candidate with zero confidence when there is none.
func PrimaryRootCause(ranked []RootCauseCandidate) RootCauseCandidate {
	if len(ranked) == 0 {
		return RootCauseCandidate{
			RootCause:  UnknownRootCause,
			FixPlan:    "Collect more observations from the kubernetes, linux and storage layers",
			Confidence: 0,
		}
	}
	return ranked[0]
}

// Analysis is the result of ranking root causes.
type Analysis struct {
	RootCauses       []RootCauseCandidate `json:"root_causes"`
	PrimaryRootCause RootCauseCandidate   `json:"primary_root_cause"`
}

// Analyze ranks root causes over the current graph state.
func (g *Graph) Analyze() Analysis {
	ranked := NewRootCauseRanker().Rank(g)
	if ranked == nil {
		ranked = []RootCauseCandidate{}
	}
	return Analysis{
		RootCauses:       ranked,
		PrimaryRootCause: PrimaryRootCause(ranked),
	}
}
