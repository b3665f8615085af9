package diagnosis

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/moolen/voldiag/internal/kgraph"
)

// Metrics holds Prometheus metrics for one diagnostic session.
type Metrics struct {
	Entities              prometheus.Gauge       // Entities in the graph
	Issues                prometheus.Gauge       // Issues in the graph
	Relationships         prometheus.Gauge       // Edges in the graph
	RejectedRelationships prometheus.Gauge       // Edges dropped for a missing endpoint
	SkippedImplications   prometheus.Gauge       // Malformed rule implications skipped
	QueriesTotal          *prometheus.CounterVec // Query façade calls by operation
	QueryErrorsTotal      *prometheus.CounterVec // Query façade calls that returned an error payload
	PlanFallbacksTotal    prometheus.Counter     // Plans replaced by the basic plan
	InferenceDuration     prometheus.Histogram   // Duration of inference passes
}

// NewMetrics creates and registers the session metrics. The session id is
// attached as a constant label so several sessions can share a registry.
func NewMetrics(reg prometheus.Registerer, sessionID string) *Metrics {
	labels := prometheus.Labels{"session": sessionID}

	m := &Metrics{
		Entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "voldiag_graph_entities",
			Help:        "Number of entities in the knowledge graph",
			ConstLabels: labels,
		}),
		Issues: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "voldiag_graph_issues",
			Help:        "Number of issues in the knowledge graph",
			ConstLabels: labels,
		}),
		Relationships: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "voldiag_graph_relationships",
			Help:        "Number of relationships in the knowledge graph",
			ConstLabels: labels,
		}),
		RejectedRelationships: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "voldiag_graph_rejected_relationships",
			Help:        "Relationships rejected because an endpoint was missing",
			ConstLabels: labels,
		}),
		SkippedImplications: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "voldiag_inference_skipped_implications",
			Help:        "Malformed rule implications skipped during inference",
			ConstLabels: labels,
		}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "voldiag_queries_total",
			Help:        "Total number of query façade calls",
			ConstLabels: labels,
		}, []string{"operation"}),
		QueryErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "voldiag_query_errors_total",
			Help:        "Total number of query façade calls that returned an error payload",
			ConstLabels: labels,
		}, []string{"operation"}),
		PlanFallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "voldiag_plan_fallbacks_total",
			Help:        "Investigation plans replaced by the basic plan",
			ConstLabels: labels,
		}),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "voldiag_inference_duration_seconds",
			Help:        "Duration of inference passes",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}

	reg.MustRegister(
		m.Entities,
		m.Issues,
		m.Relationships,
		m.RejectedRelationships,
		m.SkippedImplications,
		m.QueriesTotal,
		m.QueryErrorsTotal,
		m.PlanFallbacksTotal,
		m.InferenceDuration,
	)
	return m
}

// observeGraph refreshes the graph size gauges.
func (m *Metrics) observeGraph(s kgraph.Summary, st kgraph.Stats) {
	m.Entities.Set(float64(s.TotalEntities))
	m.Issues.Set(float64(s.TotalIssues))
	m.Relationships.Set(float64(s.TotalRelationships))
	m.RejectedRelationships.Set(float64(st.RejectedRelationships))
	m.SkippedImplications.Set(float64(st.SkippedImplications))
}
