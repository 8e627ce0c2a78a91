package gatekeeper

import (
	"context"
	"testing"
	"time"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/reasoner"
	"github.com/jdray42/boswell/pkg/config"
)

// fakeReasoner lets tests script a single EvaluatePromotion response.
type fakeReasoner struct {
	available bool
	result    reasoner.PromotionResult
	err       error
}

func (f *fakeReasoner) ExtractClaims(ctx context.Context, text, format string, qc reasoner.QueryContext) ([]reasoner.ClaimProposal, error) {
	return nil, nil
}
func (f *fakeReasoner) EvaluatePromotion(ctx context.Context, c claim.Claim, advocacy string, qc reasoner.QueryContext, boundary string) (reasoner.PromotionResult, error) {
	return f.result, f.err
}
func (f *fakeReasoner) Synthesize(ctx context.Context, clusterIDs []string, namespace string) ([]reasoner.SynthProposal, error) {
	return nil, nil
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

func testCfg() config.GatekeeperConfig {
	return config.GatekeeperConfig{Timeout: time.Second}
}

func TestEvaluateDefersWithNoReasonerBound(t *testing.T) {
	g := New(map[Boundary]reasoner.Reasoner{}, testCfg())
	d := g.Evaluate(context.Background(), claim.Claim{ID: "c1"}, Advocacy{}, BoundaryEphemeralToTask, nil)
	if d.Decision != reasoner.DecisionDefer {
		t.Errorf("expected defer with no reasoner bound, got %s", d.Decision)
	}
	if d.Reasoning == "" {
		t.Error("expected non-empty reasoning even on defer")
	}
}

func TestEvaluateDefersWhenReasonerUnavailable(t *testing.T) {
	r := &fakeReasoner{available: false}
	g := New(map[Boundary]reasoner.Reasoner{BoundaryEphemeralToTask: r}, testCfg())
	d := g.Evaluate(context.Background(), claim.Claim{ID: "c1"}, Advocacy{}, BoundaryEphemeralToTask, nil)
	if d.Decision != reasoner.DecisionDefer {
		t.Errorf("expected defer when reasoner unavailable, got %s", d.Decision)
	}
}

func TestEvaluateAcceptSetsTargetTier(t *testing.T) {
	r := &fakeReasoner{available: true, result: reasoner.PromotionResult{
		Decision: reasoner.DecisionAccept, Reasoning: "strong advocacy and corroboration",
	}}
	g := New(map[Boundary]reasoner.Reasoner{BoundaryEphemeralToTask: r}, testCfg())
	d := g.Evaluate(context.Background(), claim.Claim{ID: "c1", Tier: claim.TierEphemeral}, Advocacy{PerceivedImportance: 0.8, AdvocacyConfidence: 0.9}, BoundaryEphemeralToTask, nil)
	if d.Decision != reasoner.DecisionAccept {
		t.Errorf("expected accept, got %s", d.Decision)
	}
	if d.TargetTier != claim.TierTask {
		t.Errorf("expected target tier task, got %s", d.TargetTier)
	}
}

func TestEvaluateRejectGoesToEphemeral(t *testing.T) {
	r := &fakeReasoner{available: true, result: reasoner.PromotionResult{
		Decision: reasoner.DecisionRejectToEphemeral, Reasoning: "insufficient corroboration",
	}}
	g := New(map[Boundary]reasoner.Reasoner{BoundaryTaskToProject: r}, testCfg())
	d := g.Evaluate(context.Background(), claim.Claim{ID: "c1", Tier: claim.TierTask}, Advocacy{}, BoundaryTaskToProject, nil)
	if d.Decision != reasoner.DecisionRejectToEphemeral {
		t.Errorf("expected reject_to_ephemeral, got %s", d.Decision)
	}
	if d.TargetTier != claim.TierEphemeral {
		t.Errorf("expected target tier ephemeral on rejection, got %s", d.TargetTier)
	}
}

func TestEvaluateDowngradeClampsToBelowTarget(t *testing.T) {
	r := &fakeReasoner{available: true, result: reasoner.PromotionResult{
		Decision: reasoner.DecisionDowngrade, TargetTier: claim.TierPermanent, Reasoning: "partial case",
	}}
	// Target boundary is task_to_project (target=project); a reasoner that
	// names a tier at or above that target is not a legal downgrade, so the
	// gatekeeper falls back to the boundary's source tier.
	g := New(map[Boundary]reasoner.Reasoner{BoundaryTaskToProject: r}, testCfg())
	d := g.Evaluate(context.Background(), claim.Claim{ID: "c1", Tier: claim.TierTask}, Advocacy{}, BoundaryTaskToProject, nil)
	if d.Decision != reasoner.DecisionDowngrade {
		t.Errorf("expected downgrade, got %s", d.Decision)
	}
	if d.TargetTier != claim.TierTask {
		t.Errorf("expected downgrade to clamp to source tier task, got %s", d.TargetTier)
	}
}

func TestEvaluateUsesReasonerReturnedError(t *testing.T) {
	r := &fakeReasoner{available: true, err: context.DeadlineExceeded}
	g := New(map[Boundary]reasoner.Reasoner{BoundaryEphemeralToTask: r}, testCfg())
	d := g.Evaluate(context.Background(), claim.Claim{ID: "c1"}, Advocacy{}, BoundaryEphemeralToTask, nil)
	if d.Decision != reasoner.DecisionDefer {
		t.Errorf("expected defer on reasoner error, got %s", d.Decision)
	}
}

func TestReasoningProvenanceRecordsContext(t *testing.T) {
	d := Decision{Decision: reasoner.DecisionAccept, Reasoning: "clear signal"}
	p := ReasoningProvenance("claim-1", d)
	if p.SourceType != claim.SourceGatekeeperReason {
		t.Errorf("expected gatekeeper_reasoning source type, got %s", p.SourceType)
	}
	if p.Context != "clear signal" {
		t.Errorf("expected reasoning text preserved, got %q", p.Context)
	}
	if p.ClaimID != "claim-1" {
		t.Errorf("expected claim id set, got %q", p.ClaimID)
	}
}
