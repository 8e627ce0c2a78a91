package janitor

import (
	"context"
	"time"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/confidence"
)

// runTierMigration applies the demotion rules: permanent ->
// project on low confidence plus access inactivity, project -> task on
// project inactivity, task -> ephemeral on inactivity with no inbound
// references (this core's data model has no session/task-completion event,
// so inactivity is the operative signal; see DESIGN.md), and ephemeral ->
// forgotten on TTL expiry.
func (s *Suite) runTierMigration(ctx context.Context) Summary {
	s.setState("tier_migration", StateScanning)
	defer s.setState("tier_migration", StateIdle)

	start := time.Now()
	summary := Summary{Name: "tier_migration"}
	now := time.Now().UTC()

	s.demotePermanent(ctx, now, &summary)
	s.demoteProject(ctx, now, &summary)
	s.demoteTask(ctx, now, &summary)
	s.forgetExpiredEphemeral(ctx, now, &summary)

	summary.Elapsed = time.Since(start)
	return summary
}

func (s *Suite) demotePermanent(ctx context.Context, now time.Time, summary *Summary) {
	var claims []*claim.Claim
	err := s.retry(ctx, func() error {
		var err error
		claims, err = s.store.ClaimsAtTier(claim.TierPermanent)
		return err
	})
	if err != nil {
		s.recordError(summary, err)
		return
	}
	summary.Scanned += len(claims)

	s.setState("tier_migration", StateApplying)
	for _, c := range claims {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if now.Sub(c.LastAccessed) < s.tiers.PermanentDemotionAccessWindow {
			continue
		}
		c := c
		var result confidence.Result
		err := s.retry(ctx, func() error {
			var err error
			result, err = s.confidence.Compute(ctx, c)
			return err
		})
		if err != nil {
			s.recordError(summary, err)
			continue
		}
		if result.EffLo >= s.tiers.DemotionThreshold {
			continue
		}
		s.demoteTo(ctx, c.ID, claim.TierProject, summary)
	}
}

func (s *Suite) demoteProject(ctx context.Context, now time.Time, summary *Summary) {
	var claims []*claim.Claim
	err := s.retry(ctx, func() error {
		var err error
		claims, err = s.store.ClaimsAtTier(claim.TierProject)
		return err
	})
	if err != nil {
		s.recordError(summary, err)
		return
	}
	summary.Scanned += len(claims)

	for _, c := range claims {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if now.Sub(c.LastAccessed) < s.tiers.ProjectDemotionInactivityWindow {
			continue
		}
		s.demoteTo(ctx, c.ID, claim.TierTask, summary)
	}
}

func (s *Suite) demoteTask(ctx context.Context, now time.Time, summary *Summary) {
	var claims []*claim.Claim
	err := s.retry(ctx, func() error {
		var err error
		claims, err = s.store.ClaimsAtTier(claim.TierTask)
		return err
	})
	if err != nil {
		s.recordError(summary, err)
		return
	}
	summary.Scanned += len(claims)

	for _, c := range claims {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if now.Sub(c.LastAccessed) < s.tiers.TaskDemotionInactivityWindow {
			continue
		}
		c := c
		var rels []claim.Relationship
		err := s.retry(ctx, func() error {
			var err error
			rels, err = s.store.RelationshipsForClaim(c.ID)
			return err
		})
		if err != nil {
			s.recordError(summary, err)
			continue
		}
		inbound := false
		for _, r := range rels {
			if r.TargetClaimID == c.ID {
				inbound = true
				break
			}
		}
		if inbound {
			continue
		}
		s.demoteTo(ctx, c.ID, claim.TierEphemeral, summary)
	}
}

func (s *Suite) forgetExpiredEphemeral(ctx context.Context, now time.Time, summary *Summary) {
	var claims []*claim.Claim
	err := s.retry(ctx, func() error {
		var err error
		claims, err = s.store.ClaimsAtTier(claim.TierEphemeral)
		return err
	})
	if err != nil {
		s.recordError(summary, err)
		return
	}
	summary.Scanned += len(claims)

	for _, c := range claims {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if c.TTL == nil || now.Sub(c.CreatedAt) < *c.TTL {
			continue
		}
		c := c
		var ran bool
		err := s.retry(ctx, func() error {
			var err error
			ran, err = s.claimExclusive(c.ID, now, func() error {
				return s.store.UpdateStatus(c.ID, c.Status, claim.StatusForgotten, s.owner)
			})
			return err
		})
		if err != nil {
			s.recordError(summary, err)
			continue
		}
		if ran {
			summary.Modified++
			s.confidence.Invalidate(c.ID)
		}
	}
}

// demoteTo lowers claim id to target tier under the advisory processing
// flag. Tier lowering is the janitor's exclusive privilege.
func (s *Suite) demoteTo(ctx context.Context, id string, target claim.Tier, summary *Summary) {
	var ran bool
	err := s.retry(ctx, func() error {
		var err error
		ran, err = s.claimExclusive(id, time.Now().UTC(), func() error {
			return s.store.UpdateTier(id, target, s.owner)
		})
		return err
	})
	if err != nil {
		s.recordError(summary, err)
		return
	}
	if ran {
		summary.Modified++
		summary.Demoted++
	}
}
