// Package diagnosis is the query surface the investigation agent talks to.
// A Session owns one knowledge graph: collectors write to it through Ingest
// and Infer, which take an exclusive lock, and every query takes a shared
// lock so any number of agent calls can run at once after inference.
package diagnosis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/voldiag/internal/kgraph"
	"github.com/moolen/voldiag/internal/logging"
	"github.com/moolen/voldiag/internal/planner"
)

// DefaultMaxRelatedDepth caps GetRelatedEntities traversals.
const DefaultMaxRelatedDepth = 3

// Options configures a Session. Zero values select the defaults.
type Options struct {
	// Registerer receives the session metrics. Nil uses a private registry.
	Registerer prometheus.Registerer
	// Tracer is used for query spans. Nil uses the global tracer provider.
	Tracer trace.Tracer

	ResolveCacheSize int
	MaxRelatedDepth  int
	// Rules replaces the built-in pattern rules when non-nil.
	Rules []kgraph.Rule
}

// Session is one diagnostic session.
type Session struct {
	id string

	mu       sync.RWMutex
	graph    *kgraph.Graph
	inferred bool

	rules    []kgraph.Rule
	maxDepth int

	planner *planner.Generator
	metrics *Metrics
	tracer  trace.Tracer
	logger  *logging.Logger
}

// NewSession creates a session with an empty graph.
func NewSession(opts Options) *Session {
	id := uuid.New().String()

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("voldiag/diagnosis")
	}
	rules := opts.Rules
	if rules == nil {
		rules = kgraph.DefaultRules()
	}
	maxDepth := opts.MaxRelatedDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxRelatedDepth
	}

	logger := logging.GetLogger("diagnosis").WithField("session", id)
	s := &Session{
		id:       id,
		graph:    kgraph.New(kgraph.WithResolveCacheSize(opts.ResolveCacheSize)),
		rules:    rules,
		maxDepth: maxDepth,
		metrics:  NewMetrics(reg, id),
		tracer:   tracer,
		logger:   logger,
	}
	s.planner = planner.NewGenerator(planner.WithFallbackHook(func(reason error) {
		s.metrics.PlanFallbacksTotal.Inc()
	}))

	logger.Debug("session created with %d pattern rules", len(rules))
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Metrics returns the session metrics.
func (s *Session) Metrics() *Metrics {
	return s.metrics
}

// Ingest runs fn with exclusive access to the graph. Adding issues after
// Infer is allowed; Infer must then be called again for them to be
// matched.
func (s *Session) Ingest(ctx context.Context, fn func(g *kgraph.Graph) error) error {
	ctx, span := s.tracer.Start(ctx, "diagnosis.Ingest")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := fn(s.graph)
	s.metrics.observeGraph(s.graph.Summary(), s.graph.Stats())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.WithContext(ctx).Error("ingest failed: %v", err)
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}

// Infer runs the pattern rules over the graph. It holds the write lock for
// the whole pass, so no query observes a half-inferred graph.
func (s *Session) Infer(ctx context.Context) kgraph.InferenceResult {
	ctx, span := s.tracer.Start(ctx, "diagnosis.Infer")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res := s.graph.Infer(s.rules)
	s.metrics.InferenceDuration.Observe(time.Since(start).Seconds())
	s.metrics.observeGraph(s.graph.Summary(), s.graph.Stats())
	s.inferred = true

	span.SetAttributes(
		attribute.Int("voldiag.rules_fired", res.RulesFired),
		attribute.Int("voldiag.relationships_linked", res.RelationshipsLinked),
		attribute.Int("voldiag.skipped_implications", res.SkippedImplications),
	)
	s.logger.WithContext(ctx).Debug("inference linked %d relationships from %d rule matches",
		res.RelationshipsLinked, res.RulesFired)
	return res
}

// Inferred reports whether Infer has run at least once.
func (s *Session) Inferred() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inferred
}

// read runs fn under the shared lock inside a span named after the
// operation, counting the call in the query metrics.
func (s *Session) read(ctx context.Context, op string, fn func(g *kgraph.Graph) error) error {
	ctx, span := s.tracer.Start(ctx, "diagnosis."+op)
	defer span.End()
	if sc := span.SpanContext(); sc.IsValid() {
		ctx = logging.ContextWithTrace(ctx, sc.TraceID().String(), sc.SpanID().String())
	}
	s.metrics.QueriesTotal.WithLabelValues(op).Inc()

	s.mu.RLock()
	err := fn(s.graph)
	s.mu.RUnlock()

	if err != nil {
		s.metrics.QueryErrorsTotal.WithLabelValues(op).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.WithContext(ctx).Debug("%s: %v", op, err)
	}
	return err
}
