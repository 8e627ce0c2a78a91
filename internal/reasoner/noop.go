package reasoner

import (
	"context"
	"fmt"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
)

// Noop is the zero-config default Reasoner: every gatekeeper boundary call
// defers (defer is only legal when the reasoner is temporarily
// unavailable, which a bare install always is), and every other capability
// reports Unsupported rather than fabricating an answer.
type Noop struct{}

// NewNoop constructs the always-defer reasoner.
func NewNoop() *Noop { return &Noop{} }

func (n *Noop) IsAvailable(ctx context.Context) bool { return false }

func (n *Noop) ExtractClaims(ctx context.Context, text string, format string, queryCtx QueryContext) ([]ClaimProposal, error) {
	return nil, claimerr.UnsupportedErr("reasoner.ExtractClaims", fmt.Errorf("no reasoner bound"))
}

func (n *Noop) EvaluatePromotion(ctx context.Context, c claim.Claim, advocacy string, queryCtx QueryContext, boundary string) (PromotionResult, error) {
	return PromotionResult{Decision: DecisionDefer, Reasoning: "no reasoner bound for boundary " + boundary}, nil
}

func (n *Noop) Synthesize(ctx context.Context, clusterIDs []string, namespace string) ([]SynthProposal, error) {
	return nil, claimerr.UnsupportedErr("reasoner.Synthesize", fmt.Errorf("no reasoner bound"))
}

func (n *Noop) DetectContradictions(ctx context.Context, pairs []ContradictionPair) ([]ContradictionResult, error) {
	return nil, claimerr.UnsupportedErr("reasoner.DetectContradictions", fmt.Errorf("no reasoner bound"))
}

func (n *Noop) EvaluateConfidence(ctx context.Context, claims []claim.Claim, queryCtx QueryContext) ([]IntervalWithReasoning, error) {
	return nil, claimerr.UnsupportedErr("reasoner.EvaluateConfidence", fmt.Errorf("no reasoner bound"))
}

func (n *Noop) ClassifyDomain(ctx context.Context, c claim.Claim, profiles []string) (Classification, error) {
	return Classification{}, claimerr.UnsupportedErr("reasoner.ClassifyDomain", fmt.Errorf("no reasoner bound"))
}
