package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/voldiag/internal/kgraph"
)

func newTestSession(t *testing.T) (*Session, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := NewSession(Options{Registerer: reg})

	err := s.Ingest(context.Background(), func(g *kgraph.Graph) error {
		g.AddEntity(kgraph.EntityPod, "pod-1", "app-0", "default", nil)
		g.AddEntity(kgraph.EntityPVC, "pvc-1", "data-app-0", "default", nil)
		g.AddEntity(kgraph.EntityPV, "pv-1", "pvc-1234", "", nil)
		g.AddEntity(kgraph.EntityDrive, "drive-1", "sda", "", map[string]any{"uuid": "d-uuid-1"})
		g.AddEntity(kgraph.EntityNode, "node-1", "worker-1", "", nil)
		g.AddEntity(kgraph.EntityNode, "node-2", "worker-2", "", nil)
		g.AddRelationship("pod-1", "pvc-1", kgraph.RelUses, 1)
		g.AddRelationship("pvc-1", "pv-1", kgraph.RelBoundTo, 1)
		g.AddRelationship("drive-1", "pv-1", kgraph.RelMapsTo, 1)
		g.AddRelationship("drive-1", "node-1", kgraph.RelLocatedOn, 1)

		if _, err := g.AddIssue("drive-1", kgraph.IssueInput{Layer: "storage", Component: "smart", Severity: "critical", Message: "Bad sectors detected"}); err != nil {
			return err
		}
		_, err := g.AddIssue("pod-1", kgraph.IssueInput{Layer: "kubernetes", Component: "pod_logs", Severity: "high", Message: "I/O errors detected"})
		return err
	})
	require.NoError(t, err)
	s.Infer(context.Background())
	return s, reg
}

func TestSession_Infer(t *testing.T) {
	s, _ := newTestSession(t)
	assert.True(t, s.Inferred())

	m := s.Metrics()
	assert.Equal(t, 6.0, testutil.ToFloat64(m.Entities))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Issues))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Relationships), "four structural edges plus one causal edge")
	assert.Equal(t, 1, testutil.CollectAndCount(m.InferenceDuration))
}

func TestSession_IngestError(t *testing.T) {
	s := NewSession(Options{})
	boom := errors.New("boom")

	err := s.Ingest(context.Background(), func(g *kgraph.Graph) error {
		g.AddEntity(kgraph.EntityNode, "node-1", "", "", nil)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().Entities), "gauges reflect what was ingested")
}

func TestSession_GetEntityInfo(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	info, err := s.GetEntityInfo(ctx, kgraph.EntityDrive, "d-uuid-1")
	require.NoError(t, err)
	assert.Equal(t, "drive-1", info.Entity.ID)
	assert.Equal(t, kgraph.LayerStorage, info.Layer)
	require.Len(t, info.Issues, 1)
	assert.Equal(t, "Bad sectors detected", info.Issues[0].Message)
	assert.Len(t, info.Relationships, 3, "pv, node and the pod it causes")
}

func TestSession_EntityNotFoundPayload(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	_, err := s.GetEntityInfo(ctx, kgraph.EntityDrive, "nope")
	var payload *ErrorPayload
	require.ErrorAs(t, err, &payload)
	assert.Equal(t, "Entity not found: Drive with ID/name 'nope'", payload.Message)

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error": "Entity not found: Drive with ID/name 'nope'"}`, string(data))

	_, err = s.GetRelatedEntities(ctx, kgraph.EntityPod, "ghost", "", 1)
	require.ErrorAs(t, err, &payload)
	assert.Equal(t, "Entity not found: Pod with ID/name 'ghost'", payload.Message)

	_, err = s.FindPath(ctx, kgraph.EntityPod, "pod-1", kgraph.EntityNode, "ghost")
	require.ErrorAs(t, err, &payload)
	assert.Equal(t, "Entity not found: Node with ID/name 'ghost'", payload.Message)

	errs := s.Metrics().QueryErrorsTotal
	assert.Equal(t, 1.0, testutil.ToFloat64(errs.WithLabelValues("GetEntityInfo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(errs.WithLabelValues("FindPath")))
}

func TestSession_GetRelatedEntitiesDepthCap(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSession(Options{Registerer: reg, MaxRelatedDepth: 1})
	require.NoError(t, s.Ingest(context.Background(), func(g *kgraph.Graph) error {
		g.AddEntity(kgraph.EntityPod, "a", "", "", nil)
		g.AddEntity(kgraph.EntityPVC, "b", "", "", nil)
		g.AddEntity(kgraph.EntityPV, "c", "", "", nil)
		g.AddRelationship("a", "b", kgraph.RelUses, 1)
		g.AddRelationship("b", "c", kgraph.RelBoundTo, 1)
		return nil
	}))

	related, err := s.GetRelatedEntities(context.Background(), kgraph.EntityPod, "a", "", 5)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "b", related[0].Entity.ID)
}

func TestSession_GetAllIssues(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		severity  string
		layer     string
		wantCount int
		wantErr   string
	}{
		{name: "all", wantCount: 2},
		{name: "critical", severity: "critical", wantCount: 1},
		{name: "kubernetes layer", layer: "kubernetes", wantCount: 1},
		{name: "no match", severity: "low", wantCount: 0},
		{name: "bad severity", severity: "urgent", wantErr: "Invalid severity 'urgent'"},
		{name: "bad layer", layer: "network", wantErr: "Invalid layer 'network'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues, err := s.GetAllIssues(ctx, tt.severity, tt.layer)
			if tt.wantErr != "" {
				var payload *ErrorPayload
				require.ErrorAs(t, err, &payload)
				assert.Equal(t, tt.wantErr, payload.Message)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, issues)
			assert.Len(t, issues, tt.wantCount)
		})
	}
}

func TestSession_FindPath(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	res, err := s.FindPath(ctx, kgraph.EntityPod, "default/app-0", kgraph.EntityNode, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Length, "the causal edge makes the drive a direct neighbour of the pod")
	assert.Equal(t, "node-1", res.Path[len(res.Path)-1].Entity.ID)

	_, err = s.FindPath(ctx, kgraph.EntityPod, "pod-1", kgraph.EntityNode, "node-2")
	var payload *ErrorPayload
	require.ErrorAs(t, err, &payload)
	assert.Contains(t, payload.Message, "No path found")
}

func TestSession_AnalyzeAndSummary(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	analysis := s.Analyze(ctx)
	require.NotEmpty(t, analysis.RootCauses)
	assert.Equal(t, "bad_sectors", analysis.PrimaryRootCause.Rule)

	first := s.GetSummary(ctx)
	second := s.GetSummary(ctx)
	assert.Equal(t, first, second)
	assert.Equal(t, 2.0, testutil.ToFloat64(s.Metrics().QueriesTotal.WithLabelValues("GetSummary")))

	assert.Len(t, s.ListEntities(ctx, kgraph.EntityNode), 2)
	assert.NotNil(t, s.ListEntities(ctx, kgraph.EntityLVG))
	assert.Contains(t, s.PrintGraph(ctx, false, true), "Bad sectors detected")

	data, err := s.Export(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"primary_root_cause"`)
}

func TestSession_GeneratePlan(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	text := s.GeneratePlan(ctx, "app-0", "default", "/data")
	assert.Contains(t, text, "Investigation Plan:")
	assert.Contains(t, text, "kg_find_path(")
	assert.Zero(t, testutil.ToFloat64(s.Metrics().PlanFallbacksTotal))
}

func TestSession_ConcurrentReads(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()
	want := s.GetSummary(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, s.GetSummary(ctx))
			_, err := s.GetEntityInfo(ctx, kgraph.EntityDrive, "sda")
			assert.NoError(t, err)
			_, err = s.FindPath(ctx, kgraph.EntityPod, "pod-1", kgraph.EntityDrive, "drive-1")
			assert.NoError(t, err)
			assert.NotEmpty(t, s.Analyze(ctx).RootCauses)
			assert.Contains(t, s.GeneratePlan(ctx, "app-0", "default", "/data"), "Investigation Plan:")
		}()
	}
	wg.Wait()

	assert.Equal(t, 32.0, testutil.ToFloat64(s.Metrics().QueriesTotal.WithLabelValues("FindPath")))
}

func TestSession_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewSession(Options{Registerer: reg})
	b := NewSession(Options{Registerer: reg})
	assert.NotEqual(t, a.ID(), b.ID())
}
