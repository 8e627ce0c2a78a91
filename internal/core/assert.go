package core

import (
	"context"
	"fmt"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/internal/gatekeeper"
	"github.com/jdray42/boswell/internal/reasoner"
	"github.com/jdray42/boswell/internal/store"
)

// boundaryFor names the gatekeeper boundary a claim currently sitting at
// tier must cross next, and boundaryTarget names the tier a successful
// crossing lands at. Kept here rather than in internal/gatekeeper because
// Boundary's own sourceTier/targetTier methods are unexported — gatekeeper
// only needs to know what a boundary means to itself, not how callers
// sequence several of them.
var boundaryFor = map[claim.Tier]gatekeeper.Boundary{
	claim.TierEphemeral: gatekeeper.BoundaryEphemeralToTask,
	claim.TierTask:      gatekeeper.BoundaryTaskToProject,
	claim.TierProject:   gatekeeper.BoundaryProjectToPermanent,
}

var boundaryTarget = map[gatekeeper.Boundary]claim.Tier{
	gatekeeper.BoundaryEphemeralToTask:    claim.TierTask,
	gatekeeper.BoundaryTaskToProject:      claim.TierProject,
	gatekeeper.BoundaryProjectToPermanent: claim.TierPermanent,
}

// AssertRequest is assert's request shape.
type AssertRequest struct {
	Triple          claim.Triple
	RawExpression   string
	ProvenanceInput claim.Provenance
	Namespace       string
	Tier            claim.Tier // target tier; empty means ephemeral, no gatekeeper crossing
	Advocacy        *gatekeeper.Advocacy
	ActorID         string
}

// AssertResponse is assert's response shape.
type AssertResponse struct {
	ClaimID    string
	Outcome    store.AssertOutcome
	ActualTier claim.Tier
	Reasoning  string
}

// Assert writes one claim, corroborating an existing structural duplicate
// if found, then walks it through the gatekeeper toward the requested tier
// if one above ephemeral was asked for.
func (e *Engine) Assert(ctx context.Context, req AssertRequest) (AssertResponse, error) {
	release, err := e.guardWrite()
	if err != nil {
		return AssertResponse{}, err
	}
	defer release()

	target := req.Tier
	if target == "" {
		target = claim.TierEphemeral
	}
	if !target.Valid() {
		return AssertResponse{}, claimerr.InvalidErr("core.Assert", fmt.Errorf("invalid target tier %q", target))
	}
	if target == claim.TierPermanent {
		return AssertResponse{}, claimerr.InvalidErr("core.Assert", fmt.Errorf("permanent tier is unreachable via direct write; use Promote"))
	}

	result, err := e.store.Assert(ctx, store.AssertInput{
		Triple:        req.Triple,
		RawExpression: req.RawExpression,
		Provenance:    req.ProvenanceInput,
		Namespace:     req.Namespace,
		Tier:          claim.TierEphemeral,
		ActorID:       req.ActorID,
	})
	if err != nil {
		return AssertResponse{}, e.surface(err)
	}

	resp := AssertResponse{ClaimID: result.ClaimID, Outcome: result.Outcome, ActualTier: claim.TierEphemeral}

	if target != claim.TierEphemeral {
		advocacy := gatekeeper.Advocacy{}
		if req.Advocacy != nil {
			advocacy = *req.Advocacy
		}
		actualTier, reasoning, _, err := e.crossBoundaries(ctx, result.ClaimID, req.Namespace, claim.TierEphemeral, target, advocacy)
		if err != nil {
			return AssertResponse{}, err
		}
		resp.ActualTier = actualTier
		resp.Reasoning = reasoning
	}
	return resp, nil
}

// crossBoundaries walks claimID sequentially through every gatekeeper
// boundary from 'from' up to 'target', stopping early the first time a
// boundary downgrades, rejects, or defers. A rejection is a landing
// place, never a failure.
func (e *Engine) crossBoundaries(ctx context.Context, claimID, namespace string, from, target claim.Tier, advocacy gatekeeper.Advocacy) (claim.Tier, string, reasoner.PromotionDecision, error) {
	current := from
	var lastReasoning string
	lastDecision := reasoner.DecisionDefer

	for current.Rank() < target.Rank() {
		boundary, ok := boundaryFor[current]
		if !ok {
			break
		}
		landing := boundaryTarget[boundary]

		existing, err := e.store.QueryStructural(store.StructuralFilter{
			NamespaceScope: namespace,
			Tiers:          []claim.Tier{landing},
			Limit:          20,
		})
		if err != nil {
			return current, lastReasoning, lastDecision, err
		}
		existingClaims := make([]claim.Claim, 0, len(existing))
		for _, c := range existing {
			existingClaims = append(existingClaims, *c)
		}

		c, err := e.store.GetClaimForConfidence(claimID)
		if err != nil {
			return current, lastReasoning, lastDecision, err
		}
		if c == nil {
			return current, lastReasoning, lastDecision, claimerr.NotFoundErr("core.crossBoundaries", fmt.Errorf("claim %s not found", claimID))
		}

		decision := e.gatekeeper.Evaluate(ctx, *c, advocacy, boundary, existingClaims)
		lastReasoning = decision.Reasoning
		lastDecision = decision.Decision

		if err := e.store.AddProvenance(claimID, gatekeeper.ReasoningProvenance(claimID, decision)); err != nil {
			return current, lastReasoning, lastDecision, err
		}
		e.confidence.Invalidate(claimID)

		switch decision.Decision {
		case reasoner.DecisionAccept:
			if err := e.store.UpdateTier(claimID, decision.TargetTier, "gatekeeper"); err != nil {
				return current, lastReasoning, lastDecision, err
			}
			current = decision.TargetTier
		case reasoner.DecisionDowngrade:
			if err := e.store.UpdateTier(claimID, decision.TargetTier, "gatekeeper"); err != nil {
				return current, lastReasoning, lastDecision, err
			}
			return decision.TargetTier, lastReasoning, lastDecision, nil
		case reasoner.DecisionRejectToEphemeral:
			if err := e.store.UpdateTier(claimID, claim.TierEphemeral, "gatekeeper"); err != nil {
				return current, lastReasoning, lastDecision, err
			}
			return claim.TierEphemeral, lastReasoning, lastDecision, nil
		default: // defer
			return current, lastReasoning, lastDecision, nil
		}
	}
	return current, lastReasoning, lastDecision, nil
}

// AssertBatchOutcome is one input's result within an AssertBatch call.
type AssertBatchOutcome struct {
	ClaimID    string
	Outcome    store.AssertOutcome
	ActualTier claim.Tier
	Reasoning  string
	Err        error
}

// AssertBatch processes each request independently: an error on one input
// never aborts the remainder.
func (e *Engine) AssertBatch(ctx context.Context, reqs []AssertRequest) []AssertBatchOutcome {
	results := make([]AssertBatchOutcome, len(reqs))
	for i, req := range reqs {
		resp, err := e.Assert(ctx, req)
		if err != nil {
			results[i] = AssertBatchOutcome{Err: err}
			continue
		}
		results[i] = AssertBatchOutcome{
			ClaimID:    resp.ClaimID,
			Outcome:    resp.Outcome,
			ActualTier: resp.ActualTier,
			Reasoning:  resp.Reasoning,
		}
	}
	return results
}

// ConflictPolicy governs how Learn treats a bulk input that semantically
// conflicts with an existing claim at load time.
type ConflictPolicy string

const (
	ConflictFlag   ConflictPolicy = "flag"
	ConflictQuiet  ConflictPolicy = "quiet"
	ConflictReject ConflictPolicy = "reject"
)

// LearnInput is one triple within a bulk Learn call.
type LearnInput struct {
	Triple        claim.Triple
	RawExpression string
}

// LearnRequest is learn's request shape: a bulk load path
// that skips the extractor but still runs duplicate detection.
type LearnRequest struct {
	Inputs         []LearnInput
	TrustLevel     float64
	ConflictPolicy ConflictPolicy
	Namespace      string
	Tier           claim.Tier
	ActorID        string
}

// LearnResult is one input's outcome within a Learn call.
type LearnResult struct {
	ClaimID         string
	Outcome         store.AssertOutcome
	ActualTier      claim.Tier
	ConflictFlagged bool
	Err             error
}

// Learn bulk-loads inputs, still subject to duplicate detection and the
// gatekeeper: every input lands at ephemeral and a requested tier above it
// is reached by crossing the same boundaries Assert crosses. Permanent is
// unreachable here, as for any direct write. Before asserting each input,
// it checks for an existing active claim sharing (subject, predicate) with
// a different object — a load-time semantic conflict — and applies
// ConflictPolicy: reject refuses the write, flag proceeds but marks the
// result, quiet proceeds silently. The deterministic contradiction janitor
// still discovers these pairs independently on its own schedule regardless
// of policy.
func (e *Engine) Learn(ctx context.Context, req LearnRequest) ([]LearnResult, error) {
	release, err := e.guardWrite()
	if err != nil {
		return nil, err
	}
	defer release()

	tier := req.Tier
	if tier == "" {
		tier = claim.TierEphemeral
	}
	if !tier.Valid() {
		return nil, claimerr.InvalidErr("core.Learn", fmt.Errorf("invalid target tier %q", tier))
	}
	if tier == claim.TierPermanent {
		return nil, claimerr.InvalidErr("core.Learn", fmt.Errorf("permanent tier is unreachable via direct write; use Promote"))
	}

	results := make([]LearnResult, len(req.Inputs))
	for i, in := range req.Inputs {
		conflicts, err := e.store.QueryStructural(store.StructuralFilter{
			Subject:        in.Triple.Subject,
			Predicate:      in.Triple.Predicate,
			NamespaceScope: req.Namespace,
			Statuses:       []claim.Status{claim.StatusActive},
		})
		if err != nil {
			results[i] = LearnResult{Err: err}
			continue
		}
		conflicted := false
		for _, c := range conflicts {
			if c.Triple.Object != in.Triple.Object {
				conflicted = true
				break
			}
		}
		if conflicted && req.ConflictPolicy == ConflictReject {
			results[i] = LearnResult{Err: claimerr.ConflictErr("core.Learn", fmt.Errorf(
				"%s %s conflicts with an existing claim for a different object", in.Triple.Subject, in.Triple.Predicate))}
			continue
		}

		assertResult, err := e.store.Assert(ctx, store.AssertInput{
			Triple:        in.Triple,
			RawExpression: in.RawExpression,
			Provenance: claim.Provenance{
				SourceType:             claim.SourceDirectLoad,
				ConfidenceContribution: req.TrustLevel,
			},
			Namespace: req.Namespace,
			Tier:      claim.TierEphemeral,
			ActorID:   req.ActorID,
		})
		if err != nil {
			results[i] = LearnResult{Err: e.surface(err)}
			continue
		}

		actualTier := claim.TierEphemeral
		if tier != claim.TierEphemeral {
			landed, _, _, err := e.crossBoundaries(ctx, assertResult.ClaimID, req.Namespace, claim.TierEphemeral, tier, gatekeeper.Advocacy{Text: "bulk load"})
			if err != nil {
				results[i] = LearnResult{ClaimID: assertResult.ClaimID, Outcome: assertResult.Outcome, ActualTier: actualTier, Err: err}
				continue
			}
			actualTier = landed
		}

		results[i] = LearnResult{
			ClaimID:         assertResult.ClaimID,
			Outcome:         assertResult.Outcome,
			ActualTier:      actualTier,
			ConflictFlagged: conflicted && req.ConflictPolicy == ConflictFlag,
		}
	}
	return results, nil
}
