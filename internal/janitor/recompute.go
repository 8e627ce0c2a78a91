package janitor

import (
	"context"
	"time"
)

// runConfidenceRecompute picks up claims whose cache row is missing (this
// store models invalidation as row deletion, see
// store.ClaimsWithInvalidatedCache),
// recomputes the full formula (steps 1-3) through the shared confidence
// engine, and persists the result. Bounded to one batch per pass so this
// janitor never starves the others.
func (s *Suite) runConfidenceRecompute(ctx context.Context) Summary {
	s.setState("confidence_recompute", StateScanning)
	defer s.setState("confidence_recompute", StateIdle)

	start := time.Now()
	summary := Summary{Name: "confidence_recompute"}

	var ids []string
	err := s.retry(ctx, func() error {
		var err error
		ids, err = s.store.ClaimsWithInvalidatedCache(s.cfg.ConfidenceRecomputeBatchSize)
		return err
	})
	if err != nil {
		s.recordError(&summary, err)
		summary.Elapsed = time.Since(start)
		return summary
	}
	summary.Scanned = len(ids)

	s.setState("confidence_recompute", StateApplying)
	now := time.Now().UTC()
	for _, id := range ids {
		select {
		case <-ctx.Done():
			summary.Elapsed = time.Since(start)
			return summary
		default:
		}

		id := id
		var ran bool
		err := s.retry(ctx, func() error {
			var err error
			ran, err = s.claimExclusive(id, now, func() error {
				c, err := s.store.GetClaimForConfidence(id)
				if err != nil {
					return err
				}
				if c == nil {
					return nil
				}
				s.confidence.Invalidate(id)
				result, err := s.confidence.Compute(ctx, c)
				if err != nil {
					return err
				}
				return s.store.WriteConfidenceCache(id, result.EffLo, result.EffHi, now)
			})
			return err
		})
		if err != nil {
			s.recordError(&summary, err)
			continue
		}
		if ran {
			summary.Modified++
		}
	}

	summary.Elapsed = time.Since(start)
	return summary
}
