package kgraph

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestGraph() *Graph {
	return New(WithClock(func() time.Time { return fixedNow }))
}

// newChainGraph builds Pod -> PVC -> PV -> Drive -> Node with one edge
// (PV <- Drive) added in the reverse direction.
func newChainGraph(t *testing.T) *Graph {
	t.Helper()
	g := newTestGraph()
	g.AddEntity(EntityPod, "pod-1", "app-0", "default", nil)
	g.AddEntity(EntityPVC, "pvc-1", "data-app-0", "default", nil)
	g.AddEntity(EntityPV, "pv-1", "pvc-1234", "", nil)
	g.AddEntity(EntityDrive, "drive-1", "sda", "", map[string]any{"uuid": "d-uuid-1", "path": "/dev/sda"})
	g.AddEntity(EntityNode, "node-1", "worker-1", "", nil)

	require.True(t, g.AddRelationship("pod-1", "pvc-1", RelUses, 1))
	require.True(t, g.AddRelationship("pvc-1", "pv-1", RelBoundTo, 1))
	require.True(t, g.AddRelationship("drive-1", "pv-1", RelMapsTo, 1))
	require.True(t, g.AddRelationship("drive-1", "node-1", RelLocatedOn, 1))
	return g
}

func TestAddEntity_MergesExisting(t *testing.T) {
	g := newTestGraph()
	first := g.AddEntity(EntityDrive, "drive-1", "", "", map[string]any{"health": "GOOD"})
	second := g.AddEntity(EntityDrive, "drive-1", "sda", "", map[string]any{"health": "BAD", "path": "/dev/sda"})

	assert.Same(t, first, second)
	assert.Equal(t, "drive-1", first.Name, "name defaults to id on first insert")
	assert.Equal(t, "BAD", first.Attr("health"))
	assert.Equal(t, "/dev/sda", first.Attr("path"))
	assert.Len(t, g.Entities(), 1)
}

func TestAddIssue(t *testing.T) {
	g := newTestGraph()
	g.AddEntity(EntityPod, "pod-1", "app-0", "default", nil)

	id, err := g.AddIssue("pod-1", IssueInput{
		Layer: "kubernetes", Component: "pod_logs", Severity: "high", Message: "I/O errors detected",
	})
	require.NoError(t, err)
	assert.Equal(t, "issue-1", id)

	id2, err := g.AddIssue("pod-1", IssueInput{Layer: "linux", Component: "kernel", Severity: "low", Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, "issue-2", id2)

	issue, ok := g.Issue(id)
	require.True(t, ok)
	assert.Equal(t, LayerKubernetes, issue.Layer)
	assert.Equal(t, SeverityHigh, issue.Severity)
	assert.Equal(t, fixedNow, issue.Timestamp)

	entity, _ := g.Entity("pod-1")
	assert.Equal(t, []string{"issue-1", "issue-2"}, entity.IssueIDs())
}

func TestAddIssue_Rejections(t *testing.T) {
	g := newTestGraph()
	g.AddEntity(EntityPod, "pod-1", "", "", nil)

	tests := []struct {
		name     string
		entityID string
		input    IssueInput
		wantErr  error
	}{
		{name: "unknown entity", entityID: "missing", input: IssueInput{Layer: "linux", Severity: "low"}, wantErr: ErrEntityNotFound},
		{name: "unknown layer", entityID: "pod-1", input: IssueInput{Layer: "network", Severity: "low"}, wantErr: ErrInvalidIssue},
		{name: "unknown severity", entityID: "pod-1", input: IssueInput{Layer: "linux", Severity: "urgent"}, wantErr: ErrInvalidIssue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := g.AddIssue(tt.entityID, tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, id)
		})
	}
	assert.Empty(t, g.GetAllIssues(IssueFilter{}))
}

func TestAddRelationship_MissingEndpointIsNoop(t *testing.T) {
	g := newTestGraph()
	g.AddEntity(EntityPod, "pod-1", "", "", nil)

	assert.NotPanics(t, func() {
		assert.False(t, g.AddRelationship("pod-1", "ghost", RelUses, 1))
		assert.False(t, g.AddRelationship("ghost", "pod-1", RelUses, 1))
	})
	assert.Empty(t, g.Relationships())
	assert.Equal(t, 2, g.Stats().RejectedRelationships)
}

func TestAddRelationship_DeduplicatesKeepingMaxConfidence(t *testing.T) {
	g := newTestGraph()
	g.AddEntity(EntityDrive, "a", "", "", nil)
	g.AddEntity(EntityPod, "b", "", "", nil)

	g.AddRelationship("a", "b", RelCauses, 0.6)
	g.AddRelationship("a", "b", RelCauses, 0.8)
	g.AddRelationship("a", "b", RelCauses, 0.5)
	g.AddRelationship("a", "b", RelRelatedTo, 1.7)

	rels := g.Relationships()
	require.Len(t, rels, 2)
	assert.Equal(t, 0.8, rels[0].Confidence)
	assert.Equal(t, 1.0, rels[1].Confidence, "confidence is clamped")
}

func TestResolveEntity(t *testing.T) {
	g := newChainGraph(t)

	tests := []struct {
		name   string
		typ    EntityType
		ref    string
		wantID string
	}{
		{name: "canonical id", typ: EntityDrive, ref: "drive-1", wantID: "drive-1"},
		{name: "by name", typ: EntityDrive, ref: "sda", wantID: "drive-1"},
		{name: "by uuid attribute", typ: EntityDrive, ref: "d-uuid-1", wantID: "drive-1"},
		{name: "namespace/name", typ: EntityPod, ref: "default/app-0", wantID: "pod-1"},
		{name: "type mismatch", typ: EntityNode, ref: "drive-1"},
		{name: "unknown", typ: EntityPod, ref: "nope"},
		{name: "empty ref", typ: EntityPod, ref: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := g.ResolveEntity(tt.typ, tt.ref)
			if tt.wantID == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.wantID, e.ID)
		})
	}
}

func TestResolveEntity_CacheInvalidatedOnAdd(t *testing.T) {
	g := newTestGraph()
	g.AddEntity(EntityPod, "pod-1", "app", "ns-a", nil)

	e, ok := g.ResolveEntity(EntityPod, "app")
	require.True(t, ok)
	assert.Equal(t, "pod-1", e.ID)

	// A new entity with the canonical id "app" must win over the cached name match.
	g.AddEntity(EntityPod, "app", "other", "ns-b", nil)
	e, ok = g.ResolveEntity(EntityPod, "app")
	require.True(t, ok)
	assert.Equal(t, "app", e.ID)
}

func TestWithResolveCacheSize(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		wantSize int
	}{
		{name: "zero keeps default", size: 0, wantSize: DefaultResolveCacheSize},
		{name: "explicit size", size: 8, wantSize: 8},
		{name: "negative disables", size: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(WithResolveCacheSize(tt.size))
			if tt.wantSize == 0 {
				assert.Nil(t, g.resolveCache)
			} else {
				require.NotNil(t, g.resolveCache)
				for i := 0; i < tt.wantSize+5; i++ {
					g.resolveCache.Add(fmt.Sprintf("Pod|ref-%d", i), "x")
				}
				assert.Equal(t, tt.wantSize, g.resolveCache.Len())
			}

			g.AddEntity(EntityPod, "pod-1", "app", "default", nil)
			e, ok := g.ResolveEntity(EntityPod, "app")
			require.True(t, ok)
			assert.Equal(t, "pod-1", e.ID)
		})
	}
}

func TestGetRelatedEntities(t *testing.T) {
	g := newChainGraph(t)

	related, err := g.GetRelatedEntities(EntityPod, "pod-1", "", 2)
	require.NoError(t, err)
	require.Len(t, related, 2)
	assert.Equal(t, "pvc-1", related[0].Entity.ID)
	assert.Equal(t, DirectionOutgoing, related[0].Direction)
	assert.Equal(t, 1, related[0].Depth)
	assert.Equal(t, "pv-1", related[1].Entity.ID)
	assert.Equal(t, 2, related[1].Depth)
	assert.Equal(t, "pvc-1", related[1].Via)

	// walking from the PV reaches the drive over an incoming edge
	related, err = g.GetRelatedEntities(EntityPV, "pv-1", "", 1)
	require.NoError(t, err)
	ids := []string{}
	for _, r := range related {
		ids = append(ids, r.Entity.ID)
		if r.Entity.ID == "drive-1" {
			assert.Equal(t, DirectionIncoming, r.Direction)
		}
	}
	assert.ElementsMatch(t, []string{"pvc-1", "drive-1"}, ids)
}

func TestGetRelatedEntities_FilterAndCycles(t *testing.T) {
	g := newChainGraph(t)
	// close a cycle drive -> node -> pod -> ... -> drive
	g.AddRelationship("node-1", "pod-1", RelScheduled, 1)

	related, err := g.GetRelatedEntities(EntityPod, "pod-1", "", 10)
	require.NoError(t, err)
	assert.Len(t, related, 4, "every other entity exactly once despite the cycle")

	related, err = g.GetRelatedEntities(EntityPod, "pod-1", RelUses, 10)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "pvc-1", related[0].Entity.ID)

	_, err = g.GetRelatedEntities(EntityPod, "nope", "", 1)
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestGetAllIssues_Filters(t *testing.T) {
	g := newChainGraph(t)
	mustIssue(t, g, "drive-1", "storage", "smart", "critical", "Bad sectors detected")
	mustIssue(t, g, "node-1", "linux", "kernel", "high", "I/O error")
	mustIssue(t, g, "pod-1", "kubernetes", "pod_logs", "critical", "I/O errors detected")

	assert.Len(t, g.GetAllIssues(IssueFilter{}), 3)

	critical := g.GetAllIssues(IssueFilter{Severity: SeverityCritical})
	require.Len(t, critical, 2)
	assert.Equal(t, "issue-1", critical[0].ID)
	assert.Equal(t, "issue-3", critical[1].ID)

	storage := g.GetAllIssues(IssueFilter{Severity: SeverityCritical, Layer: LayerStorage})
	require.Len(t, storage, 1)
	assert.Equal(t, "drive-1", storage[0].EntityID)
}

func TestSummary_Idempotent(t *testing.T) {
	g := newChainGraph(t)
	mustIssue(t, g, "drive-1", "storage", "smart", "critical", "Bad sectors detected")

	first := g.Summary()
	second := g.Summary()
	assert.Equal(t, first, second)
	assert.Equal(t, 5, first.TotalEntities)
	assert.Equal(t, 4, first.TotalRelationships)
	assert.Equal(t, 1, first.EntitiesWithIssues)
	assert.Equal(t, 1, first.IssuesBySeverity[SeverityCritical])
	assert.Equal(t, 1, first.IssuesByLayer[LayerStorage])
	assert.Equal(t, 1, first.EntitiesByType[EntityDrive])
}

func TestEntityLayer(t *testing.T) {
	g := newChainGraph(t)
	drive, _ := g.Entity("drive-1")
	pod, _ := g.Entity("pod-1")

	assert.Equal(t, LayerStorage, g.EntityLayer(drive))
	assert.Equal(t, LayerKubernetes, g.EntityLayer(pod))

	mustIssue(t, g, "pod-1", "linux", "filesystem", "low", "fs warning")
	mustIssue(t, g, "pod-1", "storage", "disk_space", "high", "No space left")
	assert.Equal(t, LayerStorage, g.EntityLayer(pod), "most severe issue decides")
}

func mustIssue(t *testing.T, g *Graph, entityID, layer, component, severity, message string) string {
	t.Helper()
	id, err := g.AddIssue(entityID, IssueInput{
		Layer:     layer,
		Component: component,
		Severity:  severity,
		Message:   message,
	})
	require.NoError(t, err)
	return id
}
