// Package confidence computes a claim's effective confidence interval from
// its provenance, staleness, and depth-1 relationships, and caches the
// result. Nothing here touches SQL directly; it depends only on the small
// read surface store.Store exposes.
package confidence

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/logging"
	"github.com/jdray42/boswell/pkg/config"
)

var log = logging.GetLogger("confidence")

// Source is the read surface the engine needs from the claim store. A
// narrow interface rather than *store.Store so the engine can be tested
// against a fake and so internal/store never needs to import this package.
type Source interface {
	GetClaimForConfidence(id string) (*claim.Claim, error)
	ProvenanceFor(claimID string) ([]claim.Provenance, error)
	NeighborsOf(claimID string) ([]Neighbor, error)
}

// Neighbor mirrors store.Neighbor without importing internal/store.
type Neighbor struct {
	NeighborID   string
	RelationType claim.RelationType
	Strength     float64
}

// Engine computes and caches effective confidence intervals.
type Engine struct {
	source Source
	cfg    config.ConfidenceConfig
	tiers  config.TierConfig
	cache  *Cache
	group  singleflight.Group
}

// New constructs an Engine backed by source, with a bounded cache of the
// given capacity.
func New(source Source, cfg config.ConfidenceConfig, tiers config.TierConfig, cacheCapacity int) *Engine {
	return &Engine{source: source, cfg: cfg, tiers: tiers, cache: NewCache(cacheCapacity)}
}

// HalfLife returns the staleness half-life configured for tier, exported so
// the staleness janitor can apply the identical decay schedule without
// duplicating the tier-config switch.
func (e *Engine) HalfLife(tier claim.Tier) time.Duration {
	return e.halfLife(tier)
}

// DiversityMaxTypes returns the configured diversity_max_types parameter,
// exported for the staleness janitor's aggregation step.
func (e *Engine) DiversityMaxTypes() int {
	return e.cfg.DiversityMaxTypes
}

// Aggregate exposes the provenance aggregation step for the
// staleness janitor, which recomputes stale_lo/hi directly rather than
// through Compute's cache/neighbor machinery.
func Aggregate(provenance []claim.Provenance, maxTypes int) (aggLo, aggHi float64) {
	return aggregate(provenance, maxTypes)
}

// StaleFactor exposes step 2's decay factor for the same reason.
func StaleFactor(stalenessAt, now time.Time, halfLife time.Duration) float64 {
	return staleFactor(stalenessAt, now, halfLife)
}

// halfLife returns the staleness half-life configured for tier.
func (e *Engine) halfLife(tier claim.Tier) time.Duration {
	switch tier {
	case claim.TierEphemeral:
		return e.tiers.StalenessHalfLifeEphemeral
	case claim.TierTask:
		return e.tiers.StalenessHalfLifeTask
	case claim.TierProject:
		return e.tiers.StalenessHalfLifeProject
	case claim.TierPermanent:
		return e.tiers.StalenessHalfLifePermanent
	default:
		return e.tiers.StalenessHalfLifeEphemeral
	}
}

// diversity implements diversity(k) = 0.5 + 0.5*min(k/3, 1), with 3
// replaced by the configured diversity_max_types.
func diversity(distinctTypes, maxTypes int) float64 {
	if maxTypes <= 0 {
		maxTypes = 3
	}
	ratio := float64(distinctTypes) / float64(maxTypes)
	if ratio > 1 {
		ratio = 1
	}
	return 0.5 + 0.5*ratio
}

// aggregate implements step 1: independent-support aggregation of hi, and
// diversity-weighted max for lo.
func aggregate(provenance []claim.Provenance, maxTypes int) (aggLo, aggHi float64) {
	if len(provenance) == 0 {
		return 0, 0
	}
	product := 1.0
	maxContribution := 0.0
	types := make(map[claim.SourceType]bool)
	for _, p := range provenance {
		product *= 1 - p.ConfidenceContribution
		if p.ConfidenceContribution > maxContribution {
			maxContribution = p.ConfidenceContribution
		}
		types[p.SourceType] = true
	}
	aggHi = 1 - product
	aggLo = maxContribution * diversity(len(types), maxTypes)
	return aggLo, aggHi
}

// staleFactor implements step 2's decay factor f = 0.5^((now-staleness_at)/H).
func staleFactor(stalenessAt, now time.Time, halfLife time.Duration) float64 {
	if !now.After(stalenessAt) || halfLife <= 0 {
		return 1.0
	}
	elapsed := now.Sub(stalenessAt)
	exponent := float64(elapsed) / float64(halfLife)
	return math.Pow(0.5, exponent)
}

// Result is the computed effective interval plus the intermediate stale_
// values neighbors need for their own relationship-adjustment step.
type Result struct {
	StaleLo float64
	StaleHi float64
	EffLo   float64
	EffHi   float64
}

// Compute evaluates steps 1-3 for one claim. Neighbor stale values are
// recomputed from their own provenance/staleness (steps 1-2 only, never
// their effective values), which bounds recursion to depth 1 regardless of
// how deep the relationship graph actually goes.
func (e *Engine) Compute(ctx context.Context, c *claim.Claim) (Result, error) {
	if cached, ok := e.cache.Get(c.ID); ok {
		return cached, nil
	}
	// Concurrent callers recomputing the same claim collapse into one
	// in-flight computation rather than each re-walking its provenance and
	// neighbors.
	v, err, _ := e.group.Do(c.ID, func() (interface{}, error) {
		result, err := e.compute(ctx, c)
		if err != nil {
			return Result{}, err
		}
		e.cache.Set(c.ID, result)
		return result, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (e *Engine) compute(ctx context.Context, c *claim.Claim) (Result, error) {
	provenance, err := e.source.ProvenanceFor(c.ID)
	if err != nil {
		return Result{}, err
	}
	aggLo, aggHi := aggregate(provenance, e.cfg.DiversityMaxTypes)

	now := time.Now().UTC()
	f := staleFactor(c.StalenessAt, now, e.halfLife(c.Tier))
	staleLo := aggLo * f
	staleHi := aggHi * f

	neighbors, err := e.source.NeighborsOf(c.ID)
	if err != nil {
		return Result{}, err
	}

	var supportSum, contradictSum float64
	for _, n := range neighbors {
		neighborStale, err := e.neighborStale(ctx, n.NeighborID)
		if err != nil {
			log.Warn("skipping unreadable neighbor in confidence computation", "claim_id", c.ID, "neighbor_id", n.NeighborID, "error", err)
			continue
		}
		switch n.RelationType {
		case claim.RelationSupports:
			supportSum += neighborStale.StaleHi * n.Strength
		case claim.RelationContradicts:
			contradictSum += neighborStale.StaleHi * n.Strength
		}
	}

	boost := e.cfg.Boost
	if boost == 0 {
		boost = 0.1
	}
	penalty := e.cfg.Penalty
	if penalty == 0 {
		penalty = 0.2
	}

	supportBoost := 1 + supportSum*boost
	contradictionPenalty := 1 - contradictSum*penalty
	if contradictionPenalty < 0 {
		contradictionPenalty = 0
	}

	effLo := clamp01(staleLo * contradictionPenalty)
	effHi := clampRange(staleHi*supportBoost*contradictionPenalty, effLo, 1)

	return Result{StaleLo: staleLo, StaleHi: staleHi, EffLo: effLo, EffHi: effHi}, nil
}

// neighborStale computes only steps 1-2 for a neighbor: the stale_ values
// used in relationship adjustment must never be the neighbor's own
// (possibly relationship-adjusted) effective values, or cycles would be
// possible.
func (e *Engine) neighborStale(ctx context.Context, neighborID string) (Result, error) {
	neighbor, err := e.source.GetClaimForConfidence(neighborID)
	if err != nil {
		return Result{}, err
	}
	if neighbor == nil {
		return Result{}, nil
	}
	provenance, err := e.source.ProvenanceFor(neighbor.ID)
	if err != nil {
		return Result{}, err
	}
	aggLo, aggHi := aggregate(provenance, e.cfg.DiversityMaxTypes)
	f := staleFactor(neighbor.StalenessAt, time.Now().UTC(), e.halfLife(neighbor.Tier))
	return Result{StaleLo: aggLo * f, StaleHi: aggHi * f}, nil
}

// Invalidate drops claimID's cached entry, called whenever its provenance,
// relationships, status, or a neighbor's cache changes.
func (e *Engine) Invalidate(claimID string) {
	e.cache.Remove(claimID)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
