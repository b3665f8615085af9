package kgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDriveFailureGraph is a bad-sector drive surfacing as pod I/O errors.
func newDriveFailureGraph(t *testing.T) *Graph {
	t.Helper()
	g := newTestGraph()
	g.AddEntity(EntityDrive, "drive-1", "sda", "", nil)
	g.AddEntity(EntityPod, "pod-1", "app-0", "default", nil)
	mustIssue(t, g, "drive-1", "storage", "smart", "critical", "Bad sectors detected")
	mustIssue(t, g, "pod-1", "kubernetes", "pod_logs", "high", "I/O errors detected")
	return g
}

func TestInfer_StorageCausesPod(t *testing.T) {
	g := newDriveFailureGraph(t)

	res := g.Infer(DefaultRules())

	rel, ok := g.HasRelationship("drive-1", "pod-1", RelCauses)
	require.True(t, ok)
	assert.Equal(t, StorageCausesConfidence, rel.Confidence, "storage link wins over the reversed symptom link")
	_, reverse := g.HasRelationship("pod-1", "drive-1", RelCauses)
	assert.False(t, reverse)

	assert.Equal(t, 2, res.RulesFired)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "bad_sectors", res.Candidates[0].Rule)
	assert.Equal(t, "pod_io_errors", res.Candidates[1].Rule)
	for _, c := range res.Candidates {
		assert.Equal(t, PatternConfidence, c.Confidence)
		assert.Equal(t, OriginPattern, c.Origin)
	}
}

func TestInfer_RerunIsIdempotent(t *testing.T) {
	g := newDriveFailureGraph(t)

	g.Infer(DefaultRules())
	edges := g.Relationships()
	candidates := g.PatternCandidates()

	res := g.Infer(DefaultRules())
	assert.Empty(t, res.Candidates)
	assert.Equal(t, edges, g.Relationships())
	assert.Equal(t, candidates, g.PatternCandidates())
}

func TestInfer_SkipsMalformedImplications(t *testing.T) {
	g := newDriveFailureGraph(t)
	rules := []Rule{{
		Name:       "broken",
		Layer:      LayerStorage,
		Components: []string{"smart"},
		Indicators: []string{"Bad sectors"},
		Implies:    []string{"nodot", "network.kernel", "kubernetes.", "kubernetes.pod_logs"},
		RootCause:  "x",
	}}

	var res InferenceResult
	require.NotPanics(t, func() { res = g.Infer(rules) })
	assert.Equal(t, 3, res.SkippedImplications)
	assert.Equal(t, 3, g.Stats().SkippedImplications)
	assert.Equal(t, 1, res.RelationshipsLinked, "the valid implication still links")
}

func TestInfer_NoSelfLinks(t *testing.T) {
	g := newTestGraph()
	g.AddEntity(EntityNode, "node-1", "", "", nil)
	mustIssue(t, g, "node-1", "linux", "kernel", "high", "I/O error on dev sda")
	mustIssue(t, g, "node-1", "storage", "smart", "critical", "Bad sectors detected")

	g.Infer(DefaultRules())
	assert.Empty(t, g.Relationships())
	assert.Len(t, g.PatternCandidates(), 2)
}

func TestInfer_LinkDirectionByLayer(t *testing.T) {
	tests := []struct {
		name     string
		firing   [3]string
		implied  [3]string
		rule     Rule
		src, dst string
		relType  string
		conf     float64
	}{
		{
			name:    "linux to kubernetes",
			firing:  [3]string{"linux", "kernel", "I/O error"},
			implied: [3]string{"kubernetes", "pod_logs", "anything"},
			rule:    Rule{Name: "r", Layer: LayerLinux, Components: []string{"kernel"}, Indicators: []string{"I/O error"}, Implies: []string{"kubernetes.pod_logs"}, RootCause: "x"},
			src:     "a",
			dst:     "b",
			relType: RelCauses,
			conf:    LinuxCausesConfidence,
		},
		{
			name:    "kubernetes symptom reversed",
			firing:  [3]string{"kubernetes", "pod_logs", "I/O errors detected"},
			implied: [3]string{"linux", "kernel", "anything"},
			rule:    Rule{Name: "r", Layer: LayerKubernetes, Components: []string{"pod_logs"}, Indicators: []string{"I/O errors"}, Implies: []string{"linux.kernel"}, RootCause: "x"},
			src:     "b",
			dst:     "a",
			relType: RelCauses,
			conf:    SymptomCausesConfidence,
		},
		{
			name:    "same layer is related",
			firing:  [3]string{"linux", "kernel", "I/O error"},
			implied: [3]string{"linux", "filesystem", "anything"},
			rule:    Rule{Name: "r", Layer: LayerLinux, Components: []string{"kernel"}, Indicators: []string{"I/O error"}, Implies: []string{"linux.filesystem"}, RootCause: "x"},
			src:     "a",
			dst:     "b",
			relType: RelRelatedTo,
			conf:    RelatedToConfidence,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGraph()
			g.AddEntity(EntityNode, "a", "", "", nil)
			g.AddEntity(EntityPod, "b", "", "", nil)
			mustIssue(t, g, "a", tt.firing[0], tt.firing[1], "high", tt.firing[2])
			mustIssue(t, g, "b", tt.implied[0], tt.implied[1], "high", tt.implied[2])

			g.Infer([]Rule{tt.rule})

			rels := g.Relationships()
			require.Len(t, rels, 1)
			assert.Equal(t, Relationship{Source: tt.src, Target: tt.dst, Type: tt.relType, Confidence: tt.conf}, rels[0])
		})
	}
}

func TestRuleMatches(t *testing.T) {
	rule := kubernetesRules[0]
	tests := []struct {
		name  string
		issue Issue
		want  bool
	}{
		{name: "match", issue: Issue{Layer: LayerKubernetes, Component: "pod_logs", Message: "app: I/O errors detected on /data"}, want: true},
		{name: "case sensitive", issue: Issue{Layer: LayerKubernetes, Component: "pod_logs", Message: "i/o errors detected"}},
		{name: "wrong component", issue: Issue{Layer: LayerKubernetes, Component: "events", Message: "I/O errors detected"}},
		{name: "wrong layer", issue: Issue{Layer: LayerLinux, Component: "pod_logs", Message: "I/O errors detected"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rule.Matches(&tt.issue))
		})
	}
}

func TestDefaultRules_Valid(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range DefaultRules() {
		require.NoError(t, r.Validate(), r.Name)
		assert.False(t, seen[r.Name], "duplicate rule %s", r.Name)
		seen[r.Name] = true
		for _, entry := range r.Implies {
			_, _, err := parseImplication(entry)
			assert.NoError(t, err, "%s implies %s", r.Name, entry)
		}
	}
}
