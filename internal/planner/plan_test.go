package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/voldiag/internal/kgraph"
)

func addIssue(t *testing.T, g *kgraph.Graph, entityID, layer, component, severity, msg string) {
	t.Helper()
	_, err := g.AddIssue(entityID, kgraph.IssueInput{Layer: layer, Component: component, Severity: severity, Message: msg})
	require.NoError(t, err)
}

func TestPriorityTags(t *testing.T) {
	tests := []struct {
		name   string
		issues func(t *testing.T, g *kgraph.Graph)
		want   []string
	}{
		{
			name:   "no issues",
			issues: func(t *testing.T, g *kgraph.Graph) {},
			want:   []string{TagBasicInvestigation, TagHardwareVerification},
		},
		{
			name: "critical on chain",
			issues: func(t *testing.T, g *kgraph.Graph) {
				addIssue(t, g, "drive-1", "storage", "smart", "critical", "Bad sectors detected")
			},
			want: []string{TagCriticalTarget, TagBasicInvestigation, TagHardwareVerification},
		},
		{
			name: "critical elsewhere and high on chain",
			issues: func(t *testing.T, g *kgraph.Graph) {
				addIssue(t, g, "other-node", "linux", "kernel", "critical", "I/O error")
				addIssue(t, g, "pod-1", "kubernetes", "pod_logs", "high", "I/O errors detected")
			},
			want: []string{TagCriticalSystem, TagHighTarget, TagBasicInvestigation, TagHardwareVerification},
		},
		{
			name: "high elsewhere",
			issues: func(t *testing.T, g *kgraph.Graph) {
				addIssue(t, g, "other-node", "linux", "kernel", "high", "I/O error")
			},
			want: []string{TagHighSystem, TagBasicInvestigation, TagHardwareVerification},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := chainGraph(t)
			g.AddEntity(kgraph.EntityNode, "other-node", "", "", nil)
			tt.issues(t, g)

			assert.Equal(t, tt.want, PriorityTags(g, WalkChain(g, "pod-1", "")))
		})
	}
}

func TestGenerate_PodOnly(t *testing.T) {
	g := kgraph.New()
	g.AddEntity(kgraph.EntityPod, "pod-1", "app-0", "default", nil)

	plan, err := NewGenerator().Generate(g, "app-0", "default", "/data")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"critical_issues",
		"causal_analysis",
		"pod_investigation",
		"hardware_investigation",
		"system_overview",
	}, plan.Categories())
	assert.Equal(t, HopPVC, plan.Chain.BrokenAt)
	assert.Equal(t, OpGetEntityInfo, plan.Steps[2].Operation)
	assert.Equal(t, map[string]any{"entity_type": "Pod", "entity_id": "pod-1"}, plan.Steps[2].Arguments)
	assert.Equal(t, map[string]any{"layer": "storage"}, plan.Steps[3].Arguments)
	require.Len(t, plan.Fallbacks, 3)
}

func TestGenerate_FullChainWithIssues(t *testing.T) {
	g := chainGraph(t)
	addIssue(t, g, "drive-1", "storage", "smart", "critical", "Bad sectors detected")
	addIssue(t, g, "pod-1", "kubernetes", "pod_logs", "high", "I/O errors detected")
	g.Infer(kgraph.DefaultRules())

	plan, err := NewGenerator().Generate(g, "app-0", "default", "/data")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"critical_issues",
		"causal_analysis",
		"high_priority_issues",
		"pod_investigation",
		"drive_investigation",
		"node_investigation",
		"dependency_chain",
		"system_overview",
	}, plan.Categories())
	assert.Equal(t, []string{TagCriticalTarget, TagHighTarget, TagBasicInvestigation, TagHardwareVerification}, plan.PriorityTags)
	assert.Equal(t, 2, plan.Summary.TotalIssues)

	for i, s := range plan.Steps {
		assert.Equal(t, i+1, s.Number, "main steps are numbered contiguously")
		assert.False(t, s.Fallback)
	}
	path := plan.Steps[6]
	assert.Equal(t, OpFindPath, path.Operation)
	assert.Equal(t, "pod-1", path.Arguments["source_entity_id"])
	assert.Equal(t, "drive-1", path.Arguments["target_entity_id"])
}

func TestGenerate_FallbacksAreFixed(t *testing.T) {
	plan, err := NewGenerator().Generate(kgraph.New(), "ghost", "default", "/data")
	require.NoError(t, err)

	require.Len(t, plan.Fallbacks, 3)
	triggers := []string{}
	for i, s := range plan.Fallbacks {
		assert.True(t, s.Fallback)
		assert.Equal(t, i+1, s.Number)
		assert.Equal(t, "F"+string(rune('1'+i)), s.Label())
		triggers = append(triggers, s.Trigger)
	}
	assert.Equal(t, []string{TriggerEntityNotFound, TriggerNoIssuesFound, TriggerInsufficientData}, triggers)
	assert.Equal(t, OpListEntities, plan.Fallbacks[0].Operation)

	assert.Equal(t, []string{
		"critical_issues",
		"causal_analysis",
		"hardware_investigation",
		"system_overview",
	}, plan.Categories(), "no pod means no pod step")
}

func TestGenerate_NoGraph(t *testing.T) {
	_, err := NewGenerator().Generate(nil, "pod", "ns", "/data")
	assert.ErrorIs(t, err, ErrNoGraph)
}
