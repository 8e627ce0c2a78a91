package janitor

import (
	"context"
	"time"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/internal/reasoner"
)

// runContradiction detects contradicting claim pairs. The deterministic
// part (store.CandidatePairs) always runs:
// structurally-aligned pairs sharing subject+predicate with a different
// object. The LLM-assisted part is optional — if no reasoner is bound (or
// it is unavailable), candidates are surfaced but no relationship is
// created, since only the bound reasoner can judge semantic contradiction.
func (s *Suite) runContradiction(ctx context.Context) Summary {
	s.setState("contradiction", StateScanning)
	defer s.setState("contradiction", StateIdle)

	start := time.Now()
	summary := Summary{Name: "contradiction"}

	var pairs [][2]string
	err := s.retry(ctx, func() error {
		var err error
		pairs, err = s.store.CandidatePairs(s.cfg.ContradictionMaxPerPass)
		return err
	})
	if err != nil {
		s.recordError(&summary, err)
		summary.Elapsed = time.Since(start)
		return summary
	}
	summary.Scanned = len(pairs)

	if s.reasoner == nil || !s.reasoner.IsAvailable(ctx) {
		summary.Elapsed = time.Since(start)
		return summary
	}

	s.setState("contradiction", StateApplying)
	candidates := make([]reasoner.ContradictionPair, 0, len(pairs))
	for _, p := range pairs {
		candidates = append(candidates, reasoner.ContradictionPair{ClaimAID: p[0], ClaimBID: p[1]})
	}

	var results []reasoner.ContradictionResult
	err = s.retry(ctx, func() error {
		var err error
		results, err = s.reasoner.DetectContradictions(ctx, candidates)
		return err
	})
	if err != nil {
		s.recordError(&summary, err)
		summary.Elapsed = time.Since(start)
		return summary
	}

	now := time.Now().UTC()
	for _, r := range results {
		select {
		case <-ctx.Done():
			summary.Elapsed = time.Since(start)
			return summary
		default:
		}
		if !r.Contradicts {
			continue
		}

		weaker := r.WeakerClaimID
		if weaker == "" {
			weaker = s.weakerOf(ctx, r.Pair.ClaimAID, r.Pair.ClaimBID)
		}
		if weaker == "" {
			continue
		}
		stronger := r.Pair.ClaimAID
		if weaker == stronger {
			stronger = r.Pair.ClaimBID
		}

		err := s.retry(ctx, func() error {
			return s.store.AddRelationship(claim.Relationship{
				SourceClaimID: stronger,
				TargetClaimID: weaker,
				RelationType:  claim.RelationContradicts,
				Strength:      1.0,
				CreatedAt:     now,
			})
		})
		if err != nil && !claimerr.Is(err, claimerr.Conflict) {
			s.recordError(&summary, err)
			continue
		}
		s.confidence.Invalidate(stronger)
		s.confidence.Invalidate(weaker)

		weakClaim, err := s.store.GetClaimForConfidence(weaker)
		if err != nil || weakClaim == nil {
			continue
		}
		if weakClaim.Status != claim.StatusActive {
			continue
		}
		if err := s.retry(ctx, func() error {
			return s.store.UpdateStatus(weaker, claim.StatusActive, claim.StatusChallenged, s.owner)
		}); err != nil {
			s.recordError(&summary, err)
			continue
		}
		summary.Modified++
	}

	summary.Elapsed = time.Since(start)
	return summary
}

// weakerOf breaks a tie when the reasoner reports a contradiction but
// doesn't identify the weaker claim: the one with the lower effective lo
// loses.
func (s *Suite) weakerOf(ctx context.Context, aID, bID string) string {
	a, err := s.store.GetClaimForConfidence(aID)
	if err != nil || a == nil {
		return ""
	}
	b, err := s.store.GetClaimForConfidence(bID)
	if err != nil || b == nil {
		return ""
	}
	resultA, err := s.confidence.Compute(ctx, a)
	if err != nil {
		return ""
	}
	resultB, err := s.confidence.Compute(ctx, b)
	if err != nil {
		return ""
	}
	if resultA.EffLo <= resultB.EffLo {
		return aID
	}
	return bID
}
