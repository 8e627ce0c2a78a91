// Package core wires the claim store, vector sidecar, confidence engine,
// gatekeeper, janitor suite, and reindex lifecycle into the single entry
// point a transport surface calls: Engine, one struct holding every
// sub-service behind a constructor, with an explicit Status/health
// surface.
package core

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/jdray42/boswell/internal/backpressure"
	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/internal/confidence"
	"github.com/jdray42/boswell/internal/embedding"
	"github.com/jdray42/boswell/internal/gatekeeper"
	"github.com/jdray42/boswell/internal/janitor"
	"github.com/jdray42/boswell/internal/logging"
	"github.com/jdray42/boswell/internal/query"
	"github.com/jdray42/boswell/internal/reasoner"
	"github.com/jdray42/boswell/internal/reindex"
	"github.com/jdray42/boswell/internal/store"
	"github.com/jdray42/boswell/internal/vector"
	"github.com/jdray42/boswell/pkg/config"
)

var log = logging.GetLogger("core")

// Engine is the orchestration root: every public operation of the claim
// engine is a method on Engine. It owns the claim store, vector index, and
// every subsystem built on top of them.
type Engine struct {
	cfg *config.Config

	store      *store.Store
	index      vector.Index
	embed      embedding.Embed
	confidence *confidence.Engine
	gatekeeper *gatekeeper.Gatekeeper
	janitor    *janitor.Suite
	reindex    *reindex.Gate
	query      *query.Engine

	writeQueue *backpressure.Queue

	// extractor, reflector, and synthesizer are the reasoner bindings used
	// by Extract, Reflect, and Synthesize respectively; distinct from the
	// gatekeeper's per-boundary bindings, since those are bound
	// independently.
	extractor   reasoner.Reasoner
	reflector   reasoner.Reasoner
	synthesizer reasoner.Reasoner

	synthCron *cron.Cron

	// rebuildNeeded is set when a store operation detects the vector
	// sidecar disagreeing with the relational store; cleared by a
	// successful Reindex.
	rebuildNeeded atomic.Bool
}

// Reasoners is the named reasoner registry an Engine is built from:
// providers register by name and subsystems refer to a named binding. A
// name absent from the map falls back to reasoner.NewNoop(), so an Engine
// is always constructible without a reachable LLM backend.
type Reasoners map[string]reasoner.Reasoner

func (r Reasoners) get(name string) reasoner.Reasoner {
	if r == nil {
		return reasoner.NewNoop()
	}
	if bound, ok := r[name]; ok && bound != nil {
		return bound
	}
	return reasoner.NewNoop()
}

// New builds an Engine from cfg, opening the relational store and vector
// sidecar at their configured paths and wiring every subsystem around
// them. reasoners binds names (as referenced by cfg.Gatekeeper's
// per-boundary fields, plus the reserved names "extractor", "reflector",
// and "synthesizer") to concrete reasoner.Reasoner implementations.
func New(cfg *config.Config, reasoners Reasoners) (*Engine, error) {
	var idx vector.Index
	if cfg.Vector.Backend == "qdrant" && cfg.Vector.QdrantEnabled {
		idx = vector.NewQdrant(cfg.Vector.QdrantURL, "boswell-claims", cfg.Embedding.Dimension)
	} else {
		var err error
		idx, err = vector.OpenFlat(cfg.Vector.IndexPath, cfg.Embedding.Dimension)
		if err != nil {
			return nil, claimerr.UnavailableErr("core.New", fmt.Errorf("opening vector index: %w", err))
		}
	}

	embed := embedding.NewOllama(cfg.Embedding)

	st, err := store.Open(cfg.Database.Path, idx, embed, cfg.Embedding, cfg.Namespace)
	if err != nil {
		return nil, err
	}

	confEngine := confidence.New(confidenceSource{st}, cfg.Confidence, cfg.Tier, 4096)

	boundaries := map[gatekeeper.Boundary]reasoner.Reasoner{
		gatekeeper.BoundaryEphemeralToTask:    reasoners.get(cfg.Gatekeeper.EphemeralToTaskReasoner),
		gatekeeper.BoundaryTaskToProject:      reasoners.get(cfg.Gatekeeper.TaskToProjectReasoner),
		gatekeeper.BoundaryProjectToPermanent: reasoners.get(cfg.Gatekeeper.ProjectToPermanentReasoner),
	}
	gk := gatekeeper.New(boundaries, cfg.Gatekeeper)

	contradictionReasoner := reasoners.get("contradiction")
	suite := janitor.New(st, confEngine, contradictionReasoner, cfg.Janitor, cfg.Tier, cfg.Backpressure, "janitor")

	qe := query.New(st, confEngine, reasoners.get("deliberate"))

	return &Engine{
		cfg:         cfg,
		store:       st,
		index:       idx,
		embed:       embed,
		confidence:  confEngine,
		gatekeeper:  gk,
		janitor:     suite,
		reindex:     reindex.NewGate(),
		query:       qe,
		writeQueue:  backpressure.NewQueue("api-write", cfg.Backpressure),
		extractor:   reasoners.get("extractor"),
		reflector:   reasoners.get("reflector"),
		synthesizer: reasoners.get("synthesizer"),
	}, nil
}

// Start launches the janitor suite's scheduled background workers and, when
// a schedule is configured, the synthesizer's own sweep.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.janitor.Start(ctx); err != nil {
		return err
	}
	if e.cfg.Janitor.SynthesizerSchedule != "" {
		e.synthCron = cron.New()
		if _, err := e.synthCron.AddFunc(e.cfg.Janitor.SynthesizerSchedule, func() {
			e.synthesizePass(ctx)
		}); err != nil {
			return err
		}
		e.synthCron.Start()
	}
	return nil
}

// Stop coordinates shutdown of the janitor suite and the synthesizer, then
// releases the store and vector index.
func (e *Engine) Stop(ctx context.Context) error {
	if e.synthCron != nil {
		<-e.synthCron.Stop().Done()
	}
	if err := e.janitor.Stop(ctx); err != nil {
		log.Warn("janitor suite stop returned an error", "error", err)
	}
	if err := e.store.Close(); err != nil {
		return err
	}
	return e.index.Close()
}

// Reindex runs the offline vector-index rebuild procedure. It is an
// explicit administrative operation, never invoked as a side effect of
// any other Engine method. A successful rebuild clears the forced-rebuild
// flag.
func (e *Engine) Reindex(ctx context.Context) error {
	r := reindex.New(e.reindex, e.store, e.index)
	if err := r.Run(ctx); err != nil {
		return err
	}
	e.rebuildNeeded.Store(false)
	return nil
}

// surface maps a Corrupt store fault to Unavailable before it reaches an
// API caller, flagging the vector index for a forced rebuild and logging an
// alert. Every other kind passes through unchanged.
func (e *Engine) surface(err error) error {
	if err == nil || !claimerr.Is(err, claimerr.Corrupt) {
		return err
	}
	e.rebuildNeeded.Store(true)
	log.Error("vector index corruption detected; flagged for forced rebuild", "error", err)
	return claimerr.UnavailableErr("core", err)
}

// Status is a point-in-time health report: store row counts, vector index
// population, serving mode, per-janitor state, and provider reachability.
type Status struct {
	Store          *store.Stats
	VectorCount    int
	VectorDim      int
	Serving        string
	Janitors       map[string]janitor.State
	EmbedAvailable bool
	Extractor      bool
	Reflector      bool
	Synthesizer    bool
	RebuildNeeded  bool
}

// Status gathers the engine's health surface. Provider probes use ctx's
// deadline; an unreachable provider reports false rather than erroring.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	stats, err := e.store.Stats()
	if err != nil {
		return Status{}, err
	}
	return Status{
		Store:          stats,
		VectorCount:    e.index.Count(),
		VectorDim:      e.index.Dimension(),
		Serving:        e.reindex.State().String(),
		Janitors:       e.janitor.States(),
		EmbedAvailable: e.embed.IsAvailable(ctx),
		Extractor:      e.extractor.IsAvailable(ctx),
		Reflector:      e.reflector.IsAvailable(ctx),
		Synthesizer:    e.synthesizer.IsAvailable(ctx),
		RebuildNeeded:  e.rebuildNeeded.Load(),
	}, nil
}

// guardWrite checks backpressure admission and the reindex lifecycle gate
// before any mutating operation proceeds.
func (e *Engine) guardWrite() (release func(), err error) {
	if err := e.reindex.GuardWrite(); err != nil {
		return nil, err
	}
	if err := e.writeQueue.Admit(); err != nil {
		return nil, err
	}
	return func() { e.writeQueue.Release() }, nil
}
