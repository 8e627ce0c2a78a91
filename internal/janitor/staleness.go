package janitor

import (
	"context"
	"time"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/confidence"
)

// runStaleness is a purely deterministic scan of claims whose
// staleness_at has passed, recomputing stale_lo/hi (provenance
// aggregation plus decay, no relationship adjustment) and persisting them as the
// confidence cache's current values. The relationship-adjustment step
// (step 3) is left to the confidence-recompute janitor and lazy reads,
// which additionally need neighbor context this scan doesn't gather.
func (s *Suite) runStaleness(ctx context.Context) Summary {
	s.setState("staleness", StateScanning)
	defer s.setState("staleness", StateIdle)

	start := time.Now()
	summary := Summary{Name: "staleness"}
	now := time.Now().UTC()

	var due []*claim.Claim
	err := s.retry(ctx, func() error {
		var err error
		due, err = s.store.ClaimsDueForStaleness(now)
		return err
	})
	if err != nil {
		s.recordError(&summary, err)
		summary.Elapsed = time.Since(start)
		return summary
	}
	summary.Scanned = len(due)

	s.setState("staleness", StateApplying)
	for _, c := range due {
		select {
		case <-ctx.Done():
			summary.Elapsed = time.Since(start)
			return summary
		default:
		}

		c := c
		var ran bool
		err := s.retry(ctx, func() error {
			var err error
			ran, err = s.claimExclusive(c.ID, now, func() error {
				provenance, err := s.store.ProvenanceFor(c.ID)
				if err != nil {
					return err
				}
				aggLo, aggHi := confidence.Aggregate(provenance, s.confidence.DiversityMaxTypes())
				f := confidence.StaleFactor(c.StalenessAt, now, s.confidence.HalfLife(c.Tier))
				return s.store.WriteConfidenceCache(c.ID, aggLo*f, aggHi*f, now)
			})
			return err
		})
		if err != nil {
			s.recordError(&summary, err)
			continue
		}
		if ran {
			summary.Modified++
			s.confidence.Invalidate(c.ID)
		}
	}

	summary.Elapsed = time.Since(start)
	return summary
}
