package core

import (
	"context"
	"testing"

	"github.com/jdray42/boswell/internal/backpressure"
	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/confidence"
	"github.com/jdray42/boswell/internal/gatekeeper"
	"github.com/jdray42/boswell/internal/query"
	"github.com/jdray42/boswell/internal/reasoner"
	"github.com/jdray42/boswell/internal/reindex"
	"github.com/jdray42/boswell/internal/store"
	"github.com/jdray42/boswell/internal/testutil"
	"github.com/jdray42/boswell/internal/vector"
	"github.com/jdray42/boswell/pkg/config"
)

const testDim = 8

// newTestEngine builds an Engine from an on-disk store and vector index in
// a temp dir, wiring boundaries (gatekeeper) and the named "extractor" and
// "reflector" bindings from reasoners. Omitted names fall back to
// reasoner.NewNoop(), matching Reasoners.get's behavior in New.
func newTestEngine(t *testing.T, reasoners Reasoners) *Engine {
	t.Helper()

	idx, err := vector.OpenFlat(testutil.TempVectorPath(t), testDim)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { idx.Close() })

	embed := testutil.NewFakeEmbed(testDim)

	cfg := config.DefaultConfig()
	cfg.Embedding.Dimension = testDim
	cfg.Embedding.DuplicateThreshold = 0.95
	cfg.Namespace.MaxDepth = 5

	st, err := store.Open(testutil.TempDBPath(t), idx, embed, cfg.Embedding, cfg.Namespace)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { st.Close() })

	confEngine := confidence.New(confidenceSource{st}, cfg.Confidence, cfg.Tier, 64)

	boundaries := map[gatekeeper.Boundary]reasoner.Reasoner{
		gatekeeper.BoundaryEphemeralToTask:    reasoners.get(cfg.Gatekeeper.EphemeralToTaskReasoner),
		gatekeeper.BoundaryTaskToProject:      reasoners.get(cfg.Gatekeeper.TaskToProjectReasoner),
		gatekeeper.BoundaryProjectToPermanent: reasoners.get(cfg.Gatekeeper.ProjectToPermanentReasoner),
	}
	gk := gatekeeper.New(boundaries, cfg.Gatekeeper)

	qe := query.New(st, confEngine, reasoners.get("deliberate"))

	cfg.Backpressure.Enabled = false

	return &Engine{
		cfg:         cfg,
		store:       st,
		index:       idx,
		embed:       embed,
		confidence:  confEngine,
		gatekeeper:  gk,
		reindex:     reindex.NewGate(),
		query:       qe,
		writeQueue:  backpressure.NewQueue("test-write", cfg.Backpressure),
		extractor:   reasoners.get("extractor"),
		reflector:   reasoners.get("reflector"),
		synthesizer: reasoners.get("synthesizer"),
	}
}

func testAssertReq(subject, predicate, object, namespace string) AssertRequest {
	return AssertRequest{
		Triple:        claim.Triple{Subject: subject, Predicate: predicate, Object: object},
		RawExpression: subject + " " + predicate + " " + object,
		ProvenanceInput: claim.Provenance{
			SourceType:             claim.SourceUserInput,
			ConfidenceContribution: 0.7,
		},
		Namespace: namespace,
	}
}

// fakeReasoner is a hand-scripted reasoner.Reasoner for controlling
// Extract/Reflect/gatekeeper behavior in tests without a reachable LLM
// backend.
type fakeReasoner struct {
	available bool

	extractProposals []reasoner.ClaimProposal
	extractErr       error

	promotionResult reasoner.PromotionResult
	promotionErr    error

	synthProposals []reasoner.SynthProposal
	synthErr       error
}

func (f *fakeReasoner) ExtractClaims(ctx context.Context, text, format string, qc reasoner.QueryContext) ([]reasoner.ClaimProposal, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return f.extractProposals, nil
}

func (f *fakeReasoner) EvaluatePromotion(ctx context.Context, c claim.Claim, advocacy string, qc reasoner.QueryContext, boundary string) (reasoner.PromotionResult, error) {
	if f.promotionErr != nil {
		return reasoner.PromotionResult{}, f.promotionErr
	}
	return f.promotionResult, nil
}

func (f *fakeReasoner) Synthesize(ctx context.Context, clusterIDs []string, namespace string) ([]reasoner.SynthProposal, error) {
	if f.synthErr != nil {
		return nil, f.synthErr
	}
	return f.synthProposals, nil
}

func (f *fakeReasoner) DetectContradictions(ctx context.Context, pairs []reasoner.ContradictionPair) ([]reasoner.ContradictionResult, error) {
	return nil, nil
}

func (f *fakeReasoner) EvaluateConfidence(ctx context.Context, claims []claim.Claim, qc reasoner.QueryContext) ([]reasoner.IntervalWithReasoning, error) {
	return nil, nil
}

func (f *fakeReasoner) ClassifyDomain(ctx context.Context, c claim.Claim, profiles []string) (reasoner.Classification, error) {
	return reasoner.Classification{}, nil
}

func (f *fakeReasoner) IsAvailable(ctx context.Context) bool { return f.available }
