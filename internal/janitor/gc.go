package janitor

import (
	"context"
	"time"

	"github.com/jdray42/boswell/internal/claim"
)

// runGC hard-deletes claims that have
// sat in status=forgotten past the configured retention window, removing
// their vector entry, provenance rows, relationships, and cache row (all
// handled by store.Store.HardDelete's cascade), then invalidates the
// confidence cache of every claim that had a relationship to the deleted
// one, since those neighbors' effective intervals no longer include it.
func (s *Suite) runGC(ctx context.Context) Summary {
	s.setState("gc", StateScanning)
	defer s.setState("gc", StateIdle)

	start := time.Now()
	summary := Summary{Name: "gc"}
	now := time.Now().UTC()
	cutoff := now.Add(-s.tiers.GCRetentionPeriod)

	var due []*claim.Claim
	err := s.retry(ctx, func() error {
		var err error
		due, err = s.store.ForgottenBefore(cutoff)
		return err
	})
	if err != nil {
		s.recordError(&summary, err)
		summary.Elapsed = time.Since(start)
		return summary
	}
	summary.Scanned = len(due)

	s.setState("gc", StateApplying)
	ids := make([]string, 0, len(due))
	neighborsByClaim := make(map[string][]string, len(due))
	for _, c := range due {
		select {
		case <-ctx.Done():
			summary.Elapsed = time.Since(start)
			return summary
		default:
		}
		c := c
		var rels []claim.Relationship
		err := s.retry(ctx, func() error {
			var err error
			rels, err = s.store.RelationshipsForClaim(c.ID)
			return err
		})
		if err != nil {
			s.recordError(&summary, err)
			continue
		}
		var neighbors []string
		for _, r := range rels {
			if r.SourceClaimID == c.ID {
				neighbors = append(neighbors, r.TargetClaimID)
			} else {
				neighbors = append(neighbors, r.SourceClaimID)
			}
		}
		neighborsByClaim[c.ID] = neighbors
		ids = append(ids, c.ID)
	}

	if len(ids) == 0 {
		summary.Elapsed = time.Since(start)
		return summary
	}

	results := s.store.HardDelete(ctx, ids)
	for _, r := range results {
		if r.Err != nil {
			s.recordError(&summary, r.Err)
			continue
		}
		summary.Deleted++
		for _, neighborID := range neighborsByClaim[r.ClaimID] {
			s.confidence.Invalidate(neighborID)
		}
		s.confidence.Invalidate(r.ClaimID)
	}

	summary.Elapsed = time.Since(start)
	return summary
}
