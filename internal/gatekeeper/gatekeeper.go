// Package gatekeeper evaluates whether a claim may cross a tier boundary.
// It never fails a write outright: every decision either accepts, downgrades
// to a lower tier, rejects back to ephemeral, or defers when its reasoner is
// unavailable. The claim itself always lands somewhere.
package gatekeeper

import (
	"context"
	"fmt"
	"time"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/logging"
	"github.com/jdray42/boswell/internal/reasoner"
	"github.com/jdray42/boswell/pkg/config"
)

var log = logging.GetLogger("gatekeeper")

// Boundary identifies one of the three tier crossings a claim may attempt.
type Boundary string

const (
	BoundaryEphemeralToTask    Boundary = "ephemeral_to_task"
	BoundaryTaskToProject      Boundary = "task_to_project"
	BoundaryProjectToPermanent Boundary = "project_to_permanent"
)

// targetTier returns the tier a successful crossing of b lands a claim at.
func (b Boundary) targetTier() claim.Tier {
	switch b {
	case BoundaryEphemeralToTask:
		return claim.TierTask
	case BoundaryTaskToProject:
		return claim.TierProject
	case BoundaryProjectToPermanent:
		return claim.TierPermanent
	default:
		return claim.TierEphemeral
	}
}

// sourceTier returns the tier a claim attempting b is currently at.
func (b Boundary) sourceTier() claim.Tier {
	switch b {
	case BoundaryEphemeralToTask:
		return claim.TierEphemeral
	case BoundaryTaskToProject:
		return claim.TierTask
	case BoundaryProjectToPermanent:
		return claim.TierProject
	default:
		return claim.TierEphemeral
	}
}

// Advocacy is the caller-supplied case for promotion: a perceived
// importance and the advocate's own confidence in that assessment, both in
// [0,1], plus free text.
type Advocacy struct {
	PerceivedImportance float64
	AdvocacyConfidence  float64
	Text                string
}

// Decision is the gatekeeper's verdict, with the reasoning text ready to be
// persisted as provenance by the caller.
type Decision struct {
	Decision   reasoner.PromotionDecision
	TargetTier claim.Tier
	Reasoning  string
}

// Gatekeeper holds one reasoner binding and timeout per tier boundary.
type Gatekeeper struct {
	reasoners map[Boundary]reasoner.Reasoner
	timeout   time.Duration
}

// New builds a Gatekeeper from a per-boundary reasoner binding. A boundary
// with no entry in reasoners always defers.
func New(reasoners map[Boundary]reasoner.Reasoner, cfg config.GatekeeperConfig) *Gatekeeper {
	return &Gatekeeper{reasoners: reasoners, timeout: cfg.Timeout}
}

// Evaluate judges whether c may cross boundary, given its advocacy and the
// existing claims already at the target tier in the same namespace (a
// bounded set the caller selects, used as context for the reasoner).
func (g *Gatekeeper) Evaluate(ctx context.Context, c claim.Claim, advocacy Advocacy, boundary Boundary, existingAtTarget []claim.Claim) Decision {
	r, ok := g.reasoners[boundary]
	if !ok || r == nil || !r.IsAvailable(ctx) {
		log.Info("gatekeeper deferring: no reasoner available for boundary", "boundary", boundary, "claim_id", c.ID)
		return Decision{
			Decision:  reasoner.DecisionDefer,
			Reasoning: fmt.Sprintf("no reasoner bound (or reachable) for boundary %s; claim provisionally held at %s", boundary, boundary.sourceTier()),
		}
	}

	evalCtx := ctx
	var cancel context.CancelFunc
	if g.timeout > 0 {
		evalCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	advocacyText := fmt.Sprintf(
		"perceived_importance=%.2f advocacy_confidence=%.2f context_claims=%d\n%s",
		advocacy.PerceivedImportance, advocacy.AdvocacyConfidence, len(existingAtTarget), advocacy.Text,
	)

	result, err := r.EvaluatePromotion(evalCtx, c, advocacyText, reasoner.QueryContext{Now: time.Now().UTC()}, string(boundary))
	if err != nil {
		log.Warn("gatekeeper reasoner call failed, deferring", "boundary", boundary, "claim_id", c.ID, "error", err)
		return Decision{
			Decision:  reasoner.DecisionDefer,
			Reasoning: fmt.Sprintf("reasoner call failed for boundary %s: %v", boundary, err),
		}
	}

	decision := Decision{Decision: result.Decision, Reasoning: result.Reasoning}
	switch result.Decision {
	case reasoner.DecisionAccept:
		decision.TargetTier = boundary.targetTier()
	case reasoner.DecisionDowngrade:
		if result.TargetTier.Valid() && result.TargetTier.Below(boundary.targetTier()) {
			decision.TargetTier = result.TargetTier
		} else {
			decision.TargetTier = boundary.sourceTier()
		}
	case reasoner.DecisionRejectToEphemeral:
		decision.TargetTier = claim.TierEphemeral
	default: // defer
		decision.Decision = reasoner.DecisionDefer
		decision.TargetTier = boundary.sourceTier()
	}
	return decision
}

// ReasoningProvenance builds the provenance entry recording d's reasoning.
// Reasoning is persisted whether the decision is accept or reject.
func ReasoningProvenance(claimID string, d Decision) claim.Provenance {
	return claim.Provenance{
		ClaimID:    claimID,
		SourceType: claim.SourceGatekeeperReason,
		Timestamp:  time.Now().UTC(),
		Context:    d.Reasoning,
	}
}
