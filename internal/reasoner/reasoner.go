// Package reasoner defines the Reasoner provider port: the six LLM-backed
// capabilities the claim engine delegates to (extraction, promotion
// evaluation, synthesis, contradiction detection, deliberate confidence
// evaluation, domain classification), plus a zero-config default that always
// defers. Nothing in this package touches storage.
package reasoner

import (
	"context"
	"time"

	"github.com/jdray42/boswell/internal/claim"
)

// ClaimProposal is one claim extraction's output: enough to assert without
// re-deriving the triple.
type ClaimProposal struct {
	Triple        claim.Triple
	RawExpression string
	Confidence    claim.Interval
	SourceContext string
}

// PromotionDecision is the gatekeeper's verdict for one tier boundary.
type PromotionDecision string

const (
	DecisionAccept            PromotionDecision = "accept"
	DecisionDowngrade         PromotionDecision = "downgrade"
	DecisionRejectToEphemeral PromotionDecision = "reject_to_ephemeral"
	DecisionDefer             PromotionDecision = "defer"
)

// PromotionResult is the outcome of evaluating one claim against one tier
// boundary.
type PromotionResult struct {
	Decision   PromotionDecision
	TargetTier claim.Tier // set only when Decision == DecisionDowngrade
	Reasoning  string
}

// SynthProposal is a candidate synthesized claim derived from a cluster of
// related claims, plus the parent ids it was derived from.
type SynthProposal struct {
	Triple        claim.Triple
	RawExpression string
	Confidence    claim.Interval // must be wider than the parents' intervals
	ParentIDs     []string
}

// ContradictionPair is one candidate pair the deterministic scan surfaced,
// awaiting a semantic verdict.
type ContradictionPair struct {
	ClaimAID string
	ClaimBID string
}

// ContradictionResult is the reasoner's verdict for one candidate pair.
type ContradictionResult struct {
	Pair          ContradictionPair
	Contradicts   bool
	WeakerClaimID string // which of Pair to transition to challenged, if Contradicts
	Reasoning     string
}

// IntervalWithReasoning is one deliberate-mode confidence evaluation result.
type IntervalWithReasoning struct {
	ClaimID   string
	Interval  claim.Interval
	Reasoning string
}

// Classification is a domain label assigned to a claim, used by gatekeeper
// policies that vary by subject-matter domain.
type Classification struct {
	Domain     string
	Confidence float64
}

// QueryContext carries the caller's query alongside already-fetched claims,
// for deliberate-mode evaluation and reflect's narrative generation.
type QueryContext struct {
	Query string
	Now   time.Time
}

// Reasoner is the provider port every LLM backend satisfies. Each method
// returns a claimerr of kind Unavailable, Invalid ("Rejected"/"Malformed"
// shapes surface as Invalid), Timeout, or Unsupported.
type Reasoner interface {
	// ExtractClaims proposes claims from free text.
	ExtractClaims(ctx context.Context, text string, format string, queryCtx QueryContext) ([]ClaimProposal, error)

	// EvaluatePromotion decides whether c may cross the named tier
	// boundary, given the caller-supplied advocacy text.
	EvaluatePromotion(ctx context.Context, c claim.Claim, advocacy string, queryCtx QueryContext, boundary string) (PromotionResult, error)

	// Synthesize proposes new claims derived from a cluster of related
	// claim ids in namespace.
	Synthesize(ctx context.Context, clusterIDs []string, namespace string) ([]SynthProposal, error)

	// DetectContradictions evaluates candidate pairs semantically.
	DetectContradictions(ctx context.Context, pairs []ContradictionPair) ([]ContradictionResult, error)

	// EvaluateConfidence produces query-contextual confidence for
	// deliberate-mode reads; never overwrites the cached fast-path value.
	EvaluateConfidence(ctx context.Context, claims []claim.Claim, queryCtx QueryContext) ([]IntervalWithReasoning, error)

	// ClassifyDomain assigns a domain label to c from the given candidate
	// profiles.
	ClassifyDomain(ctx context.Context, c claim.Claim, profiles []string) (Classification, error)

	// IsAvailable reports whether the provider is currently reachable.
	IsAvailable(ctx context.Context) bool
}
