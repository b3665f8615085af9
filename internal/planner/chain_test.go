package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/voldiag/internal/kgraph"
)

// chainGraph builds the full Pod→PVC→PV→Drive→Node chain. The PV→Drive
// edge points from the drive, as ingestion records it.
func chainGraph(t *testing.T) *kgraph.Graph {
	t.Helper()
	g := kgraph.New()
	g.AddEntity(kgraph.EntityPod, "pod-1", "app-0", "default", nil)
	g.AddEntity(kgraph.EntityPVC, "pvc-1", "data-app-0", "default", nil)
	g.AddEntity(kgraph.EntityPV, "pv-1", "pvc-1234", "", nil)
	g.AddEntity(kgraph.EntityDrive, "drive-1", "sda", "", nil)
	g.AddEntity(kgraph.EntityNode, "node-1", "worker-1", "", nil)
	require.True(t, g.AddRelationship("pod-1", "pvc-1", kgraph.RelUses, 1))
	require.True(t, g.AddRelationship("pvc-1", "pv-1", kgraph.RelBoundTo, 1))
	require.True(t, g.AddRelationship("drive-1", "pv-1", kgraph.RelMapsTo, 1))
	require.True(t, g.AddRelationship("drive-1", "node-1", kgraph.RelLocatedOn, 1))
	return g
}

func TestWalkChain_Complete(t *testing.T) {
	g := chainGraph(t)

	c := WalkChain(g, "app-0", "default")
	require.True(t, c.Complete)
	assert.Empty(t, c.BrokenAt)
	assert.Equal(t, "pod-1", c.Pod.ID)
	assert.Equal(t, "pvc-1", c.PVC.ID)
	assert.Equal(t, "pv-1", c.PV.ID)
	assert.Equal(t, "drive-1", c.Drive.ID)
	assert.Equal(t, "node-1", c.Node.ID)
	assert.Len(t, c.Entities(), 5)
	assert.True(t, c.Contains("drive-1"))
}

func TestWalkChain_RecordsBreakPoint(t *testing.T) {
	tests := []struct {
		name     string
		build    func(g *kgraph.Graph)
		podRef   string
		brokenAt string
		wantHops int
	}{
		{
			name:     "unknown pod",
			build:    func(g *kgraph.Graph) {},
			podRef:   "ghost",
			brokenAt: HopPod,
		},
		{
			name:     "pod only",
			build:    func(g *kgraph.Graph) { g.AddEntity(kgraph.EntityPod, "pod-1", "app-0", "default", nil) },
			podRef:   "app-0",
			brokenAt: HopPVC,
			wantHops: 1,
		},
		{
			name: "pv without drive",
			build: func(g *kgraph.Graph) {
				g.AddEntity(kgraph.EntityPod, "pod-1", "app-0", "default", nil)
				g.AddEntity(kgraph.EntityPVC, "pvc-1", "", "default", nil)
				g.AddEntity(kgraph.EntityPV, "pv-1", "", "", nil)
				g.AddRelationship("pod-1", "pvc-1", kgraph.RelUses, 1)
				g.AddRelationship("pvc-1", "pv-1", kgraph.RelBoundTo, 1)
			},
			podRef:   "pod-1",
			brokenAt: HopDrive,
			wantHops: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := kgraph.New()
			tt.build(g)

			c := WalkChain(g, tt.podRef, "default")
			assert.False(t, c.Complete)
			assert.Equal(t, tt.brokenAt, c.BrokenAt)
			assert.Len(t, c.Entities(), tt.wantHops)
		})
	}
}

func TestWalkChain_PodNamespace(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		podRef    string
		wantPod   string
	}{
		{name: "other namespace only", namespace: "default", podRef: "app-0"},
		{name: "id from other namespace", namespace: "default", podRef: "pod-1"},
		{name: "requested namespace", namespace: "kube-system", podRef: "app-0", wantPod: "pod-1"},
		{name: "no namespace given", namespace: "", podRef: "app-0", wantPod: "pod-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := kgraph.New()
			g.AddEntity(kgraph.EntityPod, "pod-1", "app-0", "kube-system", nil)

			c := WalkChain(g, tt.podRef, tt.namespace)
			if tt.wantPod == "" {
				assert.Nil(t, c.Pod)
				assert.Equal(t, HopPod, c.BrokenAt)
				return
			}
			require.NotNil(t, c.Pod)
			assert.Equal(t, tt.wantPod, c.Pod.ID)
		})
	}
}

func TestWalkChain_PrefersRequestedNamespace(t *testing.T) {
	g := kgraph.New()
	g.AddEntity(kgraph.EntityPod, "pod-1", "app-0", "kube-system", nil)
	g.AddEntity(kgraph.EntityPod, "pod-2", "app-0", "default", nil)

	c := WalkChain(g, "app-0", "default")
	require.NotNil(t, c.Pod)
	assert.Equal(t, "pod-2", c.Pod.ID)
}

func TestWalkChain_ThroughVolume(t *testing.T) {
	g := kgraph.New()
	g.AddEntity(kgraph.EntityPod, "pod-1", "app-0", "default", nil)
	g.AddEntity(kgraph.EntityPVC, "pvc-1", "", "default", nil)
	g.AddEntity(kgraph.EntityPV, "pv-1", "", "", nil)
	g.AddEntity(kgraph.EntityVolume, "vol-1", "", "", nil)
	g.AddEntity(kgraph.EntityDrive, "drive-1", "", "", nil)
	g.AddEntity(kgraph.EntityNode, "node-1", "", "", nil)
	g.AddRelationship("pod-1", "pvc-1", kgraph.RelUses, 1)
	g.AddRelationship("pvc-1", "pv-1", kgraph.RelBoundTo, 1)
	g.AddRelationship("pv-1", "vol-1", kgraph.RelMapsTo, 1)
	g.AddRelationship("vol-1", "drive-1", kgraph.RelLocatedOn, 1)
	g.AddRelationship("drive-1", "node-1", kgraph.RelLocatedOn, 1)

	c := WalkChain(g, "pod-1", "")
	require.True(t, c.Complete)
	assert.Equal(t, "drive-1", c.Drive.ID)
}
