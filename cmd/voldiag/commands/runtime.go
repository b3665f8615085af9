package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/moolen/voldiag/internal/config"
	"github.com/moolen/voldiag/internal/diagnosis"
	"github.com/moolen/voldiag/internal/ingest"
	"github.com/moolen/voldiag/internal/kgraph"
	"github.com/moolen/voldiag/internal/logging"
	"github.com/moolen/voldiag/internal/tracing"
)

var errNoInput = errors.New("no input: pass --observations and/or --manifests")

// inputOptions names the collector output a command loads.
type inputOptions struct {
	observations []string
	manifests    []string
	rulesFile    string
}

// runtime is the wiring shared by every subcommand: configuration,
// logging, tracing, metrics and a session with the inputs ingested and
// inferred.
type runtime struct {
	cfg      *config.Config
	registry *prometheus.Registry
	tracing  *tracing.Provider
	session  *diagnosis.Session
	ingested ingest.Result
	inferred kgraph.InferenceResult
	logger   *logging.Logger
}

func newRuntime(ctx context.Context, in inputOptions) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := setupLog(logLevelFlags, cfg.LogLevel, cfg.PackageLogLevels); err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	logger := logging.GetLogger("cli")

	if len(in.observations) == 0 && len(in.manifests) == 0 {
		return nil, errNoInput
	}

	rules, err := loadRules(in.rulesFile, cfg.Rules.ExtraRulesFile)
	if err != nil {
		return nil, err
	}

	// Inputs are read before the session is created so a bad file fails
	// fast without touching the graph.
	var observations []*ingest.Observations
	for _, path := range in.observations {
		obs, err := ingest.LoadObservations(path)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	var manifests []*ingest.Manifests
	for _, path := range in.manifests {
		m, err := ingest.LoadManifests(path)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}

	tp, err := tracing.NewProvider(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		TLSCAPath:   cfg.Tracing.TLSCAPath,
		TLSInsecure: cfg.Tracing.TLSInsecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to setup tracing: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	session := diagnosis.NewSession(diagnosis.Options{
		Registerer:       reg,
		Tracer:           tp.Tracer("voldiag/diagnosis"),
		ResolveCacheSize: cfg.Graph.ResolveCacheSize,
		MaxRelatedDepth:  cfg.Graph.MaxRelatedDepth,
		Rules:            rules,
	})

	rt := &runtime{
		cfg:      cfg,
		registry: reg,
		tracing:  tp,
		session:  session,
		logger:   logger,
	}

	err = session.Ingest(ctx, func(g *kgraph.Graph) error {
		for _, obs := range observations {
			rt.ingested.Add(obs.Apply(g))
		}
		for _, m := range manifests {
			rt.ingested.Add(m.Apply(g))
		}
		return nil
	})
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	rt.inferred = session.Infer(ctx)

	logger.InfoWithFields("session ready",
		logging.Field("session", session.ID()),
		logging.Field("entities", rt.ingested.Entities),
		logging.Field("issues", rt.ingested.Issues),
		logging.Field("relationships", rt.ingested.Relationships),
		logging.Field("skipped", rt.ingested.Skipped),
		logging.Field("rules_fired", rt.inferred.RulesFired),
	)
	return rt, nil
}

// loadRules returns the built-in rules extended by the first non-empty
// rules file.
func loadRules(paths ...string) ([]kgraph.Rule, error) {
	rules := kgraph.DefaultRules()
	for _, path := range paths {
		if path == "" {
			continue
		}
		extra, err := kgraph.LoadRulesFile(path)
		if err != nil {
			return nil, err
		}
		return kgraph.MergeRules(rules, extra), nil
	}
	return rules, nil
}

// Close flushes traces.
func (rt *runtime) Close(ctx context.Context) {
	if err := rt.tracing.Shutdown(ctx); err != nil {
		rt.logger.Warn("failed to flush traces: %v", err)
	}
}
