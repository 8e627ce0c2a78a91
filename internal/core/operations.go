package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/internal/gatekeeper"
	"github.com/jdray42/boswell/internal/query"
	"github.com/jdray42/boswell/internal/reasoner"
	"github.com/jdray42/boswell/internal/store"
)

// Get fetches a single claim by id, or nil if it does not exist (or has
// been hard-deleted). Structural reads are never gated by the reindex
// lifecycle.
func (e *Engine) Get(ctx context.Context, id string) (*claim.Claim, error) {
	return e.store.Get(ctx, id)
}

// Query runs one query operation, gating semantic reads behind the
// reindex lifecycle (structural and temporal reads are never gated).
func (e *Engine) Query(ctx context.Context, opts query.Options) (query.Result, error) {
	if opts.Semantic != nil {
		if err := e.reindex.GuardSemanticRead(); err != nil {
			return query.Result{}, err
		}
	}
	return e.query.Query(ctx, opts)
}

// ListNamespaces returns the distinct namespaces holding at least one
// non-forgotten claim, optionally scoped to a prefix and its descendants.
func (e *Engine) ListNamespaces(prefix string) ([]string, error) {
	return e.store.ListNamespaces(prefix)
}

// ChallengeRequest is challenge's request shape.
type ChallengeRequest struct {
	TargetID     string
	ChallengerID string // optional: an existing claim id backing the challenge
	Evidence     string
	ActorID      string
}

// ChallengeResponse is challenge's response shape.
type ChallengeResponse struct {
	RelationshipID string
	TargetStatus   claim.Status
}

// Challenge moves target to challenged, recording evidence as provenance
// context and, when a challenger claim is named, a contradicts edge from
// it. Not idempotent: challenging an already-challenged claim is
// Conflict.
func (e *Engine) Challenge(ctx context.Context, req ChallengeRequest) (ChallengeResponse, error) {
	release, err := e.guardWrite()
	if err != nil {
		return ChallengeResponse{}, err
	}
	defer release()

	target, err := e.store.Get(ctx, req.TargetID)
	if err != nil {
		return ChallengeResponse{}, err
	}
	if target == nil {
		return ChallengeResponse{}, claimerr.NotFoundErr("core.Challenge", fmt.Errorf("claim %s not found", req.TargetID))
	}
	if !claim.CanTransition(target.Status, claim.StatusChallenged) {
		return ChallengeResponse{}, claimerr.ConflictErr("core.Challenge", fmt.Errorf(
			"claim %s cannot move from %s to challenged", req.TargetID, target.Status))
	}

	var relationshipID string
	if req.ChallengerID != "" {
		challenger, err := e.store.Get(ctx, req.ChallengerID)
		if err != nil {
			return ChallengeResponse{}, err
		}
		if challenger == nil {
			return ChallengeResponse{}, claimerr.NotFoundErr("core.Challenge", fmt.Errorf("challenger claim %s not found", req.ChallengerID))
		}
		rel := claim.Relationship{
			ID:            claim.NewAuxID(),
			SourceClaimID: req.ChallengerID,
			TargetClaimID: req.TargetID,
			RelationType:  claim.RelationContradicts,
			Strength:      1.0,
		}
		if err := e.store.AddRelationship(rel); err != nil {
			return ChallengeResponse{}, err
		}
		relationshipID = rel.ID
		e.confidence.Invalidate(req.TargetID)
		e.confidence.Invalidate(req.ChallengerID)
	}

	if err := e.store.AddProvenance(req.TargetID, claim.Provenance{
		SourceType: claim.SourceInference,
		SourceID:   req.ChallengerID,
		Timestamp:  time.Now().UTC(),
		Context:    req.Evidence,
	}); err != nil {
		return ChallengeResponse{}, err
	}

	if err := e.store.UpdateStatus(req.TargetID, target.Status, claim.StatusChallenged, req.ActorID); err != nil {
		return ChallengeResponse{}, err
	}
	e.confidence.Invalidate(req.TargetID)

	return ChallengeResponse{RelationshipID: relationshipID, TargetStatus: claim.StatusChallenged}, nil
}

// PromoteCandidate is one claim to evaluate for promotion.
type PromoteCandidate struct {
	ID         string
	TargetTier claim.Tier
	Advocacy   gatekeeper.Advocacy
}

// PromoteResult is one candidate's outcome within a Promote call.
type PromoteResult struct {
	ID           string
	Status       string // "accepted" | "downgraded" | "rejected" | "deferred"
	PreviousTier claim.Tier
	CurrentTier  claim.Tier
	Reasoning    string
	Err          error
}

// Promote is the only path that can land a claim at permanent tier;
// permanent is unreachable via direct write. Each
// candidate is evaluated independently; a failure on one never aborts the
// remainder.
func (e *Engine) Promote(ctx context.Context, candidates []PromoteCandidate) []PromoteResult {
	results := make([]PromoteResult, len(candidates))
	for i, cand := range candidates {
		release, err := e.guardWrite()
		if err != nil {
			results[i] = PromoteResult{ID: cand.ID, Err: err}
			continue
		}

		c, err := e.store.GetClaimForConfidence(cand.ID)
		if err != nil {
			release()
			results[i] = PromoteResult{ID: cand.ID, Err: err}
			continue
		}
		if c == nil {
			release()
			results[i] = PromoteResult{ID: cand.ID, Err: claimerr.NotFoundErr("core.Promote", fmt.Errorf("claim %s not found", cand.ID))}
			continue
		}
		if !cand.TargetTier.Valid() || !c.Tier.Below(cand.TargetTier) {
			release()
			results[i] = PromoteResult{ID: cand.ID, Err: claimerr.InvalidErr("core.Promote", fmt.Errorf(
				"target tier %q is not above claim %s's current tier %q", cand.TargetTier, cand.ID, c.Tier))}
			continue
		}

		previousTier := c.Tier
		currentTier, reasoning, decisionKind, err := e.crossBoundaries(ctx, cand.ID, c.Namespace, c.Tier, cand.TargetTier, cand.Advocacy)
		release()
		if err != nil {
			results[i] = PromoteResult{ID: cand.ID, Err: err}
			continue
		}

		var status string
		switch decisionKind {
		case reasoner.DecisionAccept:
			status = "accepted"
		case reasoner.DecisionDowngrade:
			status = "downgraded"
		case reasoner.DecisionRejectToEphemeral:
			status = "rejected"
		default:
			status = "deferred"
		}

		results[i] = PromoteResult{
			ID:           cand.ID,
			Status:       status,
			PreviousTier: previousTier,
			CurrentTier:  currentTier,
			Reasoning:    reasoning,
		}
	}
	return results
}

// ForgetOutcome is one id's outcome within a Forget call.
type ForgetOutcome struct {
	ID     string
	Status string // "forgotten" | "already_forgotten" | "not_found"
	Err    error
}

// Forget is idempotent: forgetting an already-forgotten claim
// reports already_forgotten rather than erroring. It only sets status;
// the row survives, queryable under an explicit status filter, until the
// GC janitor's retention window elapses. Like AssertBatch, a failure on one
// id never aborts the remainder.
func (e *Engine) Forget(ctx context.Context, ids []string, actorID string) ([]ForgetOutcome, error) {
	release, err := e.guardWrite()
	if err != nil {
		return nil, err
	}
	defer release()

	results := make([]ForgetOutcome, len(ids))
	for i, id := range ids {
		c, err := e.store.Get(ctx, id)
		if err != nil {
			results[i] = ForgetOutcome{ID: id, Err: err}
			continue
		}
		if c == nil {
			results[i] = ForgetOutcome{ID: id, Status: "not_found"}
			continue
		}
		if c.Status == claim.StatusForgotten {
			results[i] = ForgetOutcome{ID: id, Status: "already_forgotten"}
			continue
		}
		if err := e.store.UpdateStatus(id, c.Status, claim.StatusForgotten, actorID); err != nil {
			results[i] = ForgetOutcome{ID: id, Err: err}
			continue
		}
		e.confidence.Invalidate(id)
		results[i] = ForgetOutcome{ID: id, Status: "forgotten"}
	}
	return results, nil
}

// ExtractRequest is extract's request shape: it delegates
// claim proposal to the bound extractor reasoner, then asserts each
// proposal through the normal duplicate-detection path.
type ExtractRequest struct {
	Text      string
	Namespace string
	Tier      claim.Tier
	SourceID  string
}

// ExtractResponse is extract's response shape.
type ExtractResponse struct {
	Results           []AssertResponse
	CreatedCount      int
	CorroboratedCount int
}

// Extract delegates text to the extractor reasoner and asserts each
// proposed claim. Returns Unsupported if no extractor reasoner is bound or
// reachable.
func (e *Engine) Extract(ctx context.Context, req ExtractRequest) (ExtractResponse, error) {
	if e.extractor == nil || !e.extractor.IsAvailable(ctx) {
		return ExtractResponse{}, claimerr.UnsupportedErr("core.Extract", fmt.Errorf("no extractor reasoner bound"))
	}
	proposals, err := e.extractor.ExtractClaims(ctx, req.Text, "triple", reasoner.QueryContext{Now: time.Now().UTC()})
	if err != nil {
		return ExtractResponse{}, err
	}

	resp := ExtractResponse{Results: make([]AssertResponse, 0, len(proposals))}
	for _, p := range proposals {
		assertResp, err := e.Assert(ctx, AssertRequest{
			Triple:        p.Triple,
			RawExpression: p.RawExpression,
			ProvenanceInput: claim.Provenance{
				SourceType:             claim.SourceExtraction,
				SourceID:               req.SourceID,
				ConfidenceContribution: p.Confidence.Hi,
				Context:                p.SourceContext,
			},
			Namespace: req.Namespace,
			Tier:      req.Tier,
		})
		if err != nil {
			continue
		}
		resp.Results = append(resp.Results, assertResp)
		switch assertResp.Outcome {
		case store.OutcomeCreated:
			resp.CreatedCount++
		case store.OutcomeCorroborated:
			resp.CorroboratedCount++
		}
	}
	return resp, nil
}

// ReflectRequest is reflect's request shape.
type ReflectRequest struct {
	Topic     string
	Namespace string
	Depth     int
}

// ReflectResponse is reflect's response shape.
type ReflectResponse struct {
	Narrative      string
	Supporting     []claim.Claim
	WeakSpots      []claim.Claim
	Contradictions []claim.Relationship
}

// Reflect fetches claim context structurally (by namespace) and
// semantically (by an embedding of the topic, when the embedding
// provider is reachable), then delegates narrative synthesis to the
// reflector reasoner. Returns Unsupported if no reflector is bound or
// reachable.
func (e *Engine) Reflect(ctx context.Context, req ReflectRequest) (ReflectResponse, error) {
	if e.reflector == nil || !e.reflector.IsAvailable(ctx) {
		return ReflectResponse{}, claimerr.UnsupportedErr("core.Reflect", fmt.Errorf("no reflector reasoner bound"))
	}

	opts := query.Options{
		NamespacePattern: req.Namespace,
		Limit:            200,
	}
	if req.Depth > 0 {
		opts.NamespacePattern = fmt.Sprintf("%s/*/%d", req.Namespace, req.Depth)
	} else if req.Namespace != "" {
		opts.NamespacePattern = req.Namespace + "/*"
	}
	if e.embed.IsAvailable(ctx) {
		vec, err := e.embed.Vector(ctx, req.Topic)
		if err == nil {
			opts.Semantic = &query.SemanticParams{Embedding: vec, Limit: 50, Threshold: 0.5}
		}
	}

	result, err := e.Query(ctx, opts)
	if err != nil {
		return ReflectResponse{}, err
	}

	claims := make([]claim.Claim, 0, len(result.Claims))
	var weak []claim.Claim
	var contradictions []claim.Relationship
	for _, cr := range result.Claims {
		claims = append(claims, *cr.Claim)
		if cr.EffHi < 0.5 {
			weak = append(weak, *cr.Claim)
		}
		rels, err := e.store.RelationshipsForClaim(cr.Claim.ID)
		if err != nil {
			return ReflectResponse{}, err
		}
		for _, r := range rels {
			if r.RelationType == claim.RelationContradicts {
				contradictions = append(contradictions, r)
			}
		}
	}

	proposals, err := e.reflector.Synthesize(ctx, claimIDs(claims), req.Namespace)
	if err != nil {
		return ReflectResponse{}, err
	}
	var narrative string
	for _, p := range proposals {
		if narrative != "" {
			narrative += " "
		}
		narrative += p.RawExpression
	}

	return ReflectResponse{
		Narrative:      narrative,
		Supporting:     claims,
		WeakSpots:      weak,
		Contradictions: contradictions,
	}, nil
}

func claimIDs(claims []claim.Claim) []string {
	ids := make([]string, len(claims))
	for i, c := range claims {
		ids[i] = c.ID
	}
	return ids
}
