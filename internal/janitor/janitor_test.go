package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/internal/confidence"
	"github.com/jdray42/boswell/internal/reasoner"
	"github.com/jdray42/boswell/internal/store"
	"github.com/jdray42/boswell/internal/testutil"
	"github.com/jdray42/boswell/internal/vector"
	"github.com/jdray42/boswell/pkg/config"
)

const testDim = 8

// fakeReasoner scripts a single DetectContradictions response, mirroring
// gatekeeper_test.go's fakeReasoner.
type fakeReasoner struct {
	available bool
	results   []reasoner.ContradictionResult
	err       error
}

func (f *fakeReasoner) ExtractClaims(ctx context.Context, text, format string, qc reasoner.QueryContext) ([]reasoner.ClaimProposal, error) {
	return nil, nil
}
func (f *fakeReasoner) EvaluatePromotion(ctx context.Context, c claim.Claim, advocacy string, qc reasoner.QueryContext, boundary string) (reasoner.PromotionResult, error) {
	return reasoner.PromotionResult{}, nil
}
func (f *fakeReasoner) Synthesize(ctx context.Context, clusterIDs []string, namespace string) ([]reasoner.SynthProposal, error) {
	return nil, nil
}
func (f *fakeReasoner) DetectContradictions(ctx context.Context, pairs []reasoner.ContradictionPair) ([]reasoner.ContradictionResult, error) {
	return f.results, f.err
}
func (f *fakeReasoner) EvaluateConfidence(ctx context.Context, claims []claim.Claim, qc reasoner.QueryContext) ([]reasoner.IntervalWithReasoning, error) {
	return nil, nil
}
func (f *fakeReasoner) ClassifyDomain(ctx context.Context, c claim.Claim, profiles []string) (reasoner.Classification, error) {
	return reasoner.Classification{}, nil
}
func (f *fakeReasoner) IsAvailable(ctx context.Context) bool { return f.available }

// confidenceSource adapts *store.Store to confidence.Source: the two
// packages each define their own Neighbor type (so neither needs to import
// the other's), so satisfying the interface takes this small conversion
// rather than a direct method match.
type confidenceSource struct{ st *store.Store }

func (c confidenceSource) GetClaimForConfidence(id string) (*claim.Claim, error) {
	return c.st.GetClaimForConfidence(id)
}

func (c confidenceSource) ProvenanceFor(claimID string) ([]claim.Provenance, error) {
	return c.st.ProvenanceFor(claimID)
}

func (c confidenceSource) NeighborsOf(claimID string) ([]confidence.Neighbor, error) {
	raw, err := c.st.NeighborsOf(claimID)
	if err != nil {
		return nil, err
	}
	out := make([]confidence.Neighbor, len(raw))
	for i, n := range raw {
		out[i] = confidence.Neighbor{NeighborID: n.NeighborID, RelationType: n.RelationType, Strength: n.Strength}
	}
	return out, nil
}

func testTierConfig() config.TierConfig {
	return config.TierConfig{
		StalenessHalfLifeEphemeral:      6 * time.Hour,
		StalenessHalfLifeTask:           3 * 24 * time.Hour,
		StalenessHalfLifeProject:        30 * 24 * time.Hour,
		StalenessHalfLifePermanent:      365 * 24 * time.Hour,
		DemotionThreshold:               0.3,
		GCRetentionPeriod:               30 * 24 * time.Hour,
		PermanentDemotionAccessWindow:   90 * 24 * time.Hour,
		ProjectDemotionInactivityWindow: 30 * 24 * time.Hour,
		TaskDemotionInactivityWindow:    7 * 24 * time.Hour,
	}
}

func testJanitorConfig() config.JanitorConfig {
	return config.JanitorConfig{
		StalenessSchedule:            "@every 1h",
		TierMigrationSchedule:        "@every 1h",
		GCSchedule:                   "@every 1h",
		ConfidenceRecomputeSchedule:  "@every 1h",
		ContradictionSchedule:        "@every 1h",
		ContradictionMaxPerPass:      50,
		ConfidenceRecomputeBatchSize: 50,
		ProcessingFlagAbandonedAfter: 10 * time.Minute,
	}
}

func newTestSuite(t *testing.T, r reasoner.Reasoner) (*Suite, *store.Store) {
	t.Helper()
	idx, err := vector.OpenFlat(testutil.TempVectorPath(t), testDim)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { idx.Close() })

	embed := testutil.NewFakeEmbed(testDim)
	st, err := store.Open(testutil.TempDBPath(t), idx, embed, config.EmbeddingConfig{
		Dimension:          testDim,
		DuplicateThreshold: 0.95,
	}, config.NamespaceConfig{MaxDepth: 5})
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { st.Close() })

	tiers := testTierConfig()
	eng := confidence.New(confidenceSource{st}, config.ConfidenceConfig{
		CacheTTL:          time.Minute,
		Boost:             0.1,
		Penalty:           0.1,
		DiversityMaxTypes: 3,
	}, tiers, 64)

	if r == nil {
		r = reasoner.NewNoop()
	}
	backoff := config.BackpressureConfig{JanitorBackoffCeiling: time.Millisecond}
	return New(st, eng, r, testJanitorConfig(), tiers, backoff, "janitor-test"), st
}

func assertInput(subject, predicate, object, namespace string) store.AssertInput {
	return store.AssertInput{
		Triple:         claim.Triple{Subject: subject, Predicate: predicate, Object: object},
		RawExpression:  subject + " " + predicate + " " + object,
		BaseConfidence: claim.Interval{Lo: 0.6, Hi: 0.8},
		Provenance: claim.Provenance{
			SourceType:             claim.SourceUserInput,
			ConfidenceContribution: 0.7,
		},
		Namespace: namespace,
	}
}

func TestRunStalenessRecomputesDueClaims(t *testing.T) {
	s, st := newTestSuite(t, nil)
	ctx := context.Background()

	_, err := st.Assert(ctx, assertInput("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	// staleness_at is stamped at creation time, so by the time this pass
	// runs it has already passed the "< now" threshold without needing to
	// be backdated through a side channel.
	summary := s.runStaleness(ctx)
	if summary.Scanned == 0 {
		t.Error("expected staleness pass to scan the newly created claim")
	}
	if len(summary.Errors) != 0 {
		t.Errorf("unexpected errors: %v", summary.Errors)
	}
}

func TestRunTierMigrationDemotesInactivePermanent(t *testing.T) {
	s, st := newTestSuite(t, nil)
	ctx := context.Background()

	result, err := st.Assert(ctx, assertInput("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)
	err = st.UpdateTier(result.ClaimID, claim.TierPermanent, "test")
	testutil.AssertNoError(t, err)

	// A zero access window means any claim, however recently touched,
	// already exceeds it, standing in for a backdated last_accessed. A
	// threshold of 1.0 puts the claim's eff_lo (0.7 x diversity 2/3) below
	// the demotion line, standing in for a decayed confidence.
	s.tiers.PermanentDemotionAccessWindow = 0
	s.tiers.DemotionThreshold = 1.0

	summary := s.runTierMigration(ctx)
	if len(summary.Errors) != 0 {
		t.Errorf("unexpected errors: %v", summary.Errors)
	}

	c, err := st.GetClaimForConfidence(result.ClaimID)
	testutil.AssertNoError(t, err)
	if c.Tier != claim.TierProject {
		t.Errorf("expected demotion to project tier, got %s", c.Tier)
	}
}

func TestRunGCDeletesClaimsPastRetention(t *testing.T) {
	s, st := newTestSuite(t, nil)
	ctx := context.Background()

	result, err := st.Assert(ctx, assertInput("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	c, err := st.GetClaimForConfidence(result.ClaimID)
	testutil.AssertNoError(t, err)
	err = st.UpdateStatus(result.ClaimID, c.Status, claim.StatusForgotten, "test")
	testutil.AssertNoError(t, err)

	// A zero retention period means the forgotten transition, which
	// happened a moment ago, already predates the cutoff.
	s.tiers.GCRetentionPeriod = 0

	summary := s.runGC(ctx)
	if len(summary.Errors) != 0 {
		t.Errorf("unexpected errors: %v", summary.Errors)
	}
	if summary.Deleted != 1 {
		t.Errorf("expected 1 deletion, got %d", summary.Deleted)
	}

	got, err := st.GetClaimForConfidence(result.ClaimID)
	testutil.AssertNoError(t, err)
	if got != nil {
		t.Error("expected claim to be hard-deleted")
	}
}

func TestRunConfidenceRecomputeFillsInvalidatedCache(t *testing.T) {
	s, st := newTestSuite(t, nil)
	ctx := context.Background()

	_, err := st.Assert(ctx, assertInput("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	// Assert never writes an initial confidence_cache row, so the fresh
	// claim already shows up as invalidated without backdating anything.

	summary := s.runConfidenceRecompute(ctx)
	if len(summary.Errors) != 0 {
		t.Errorf("unexpected errors: %v", summary.Errors)
	}
	if summary.Modified != 1 {
		t.Errorf("expected 1 recompute, got %d", summary.Modified)
	}
}

func TestRunContradictionSkipsWithoutReasoner(t *testing.T) {
	s, st := newTestSuite(t, nil)
	ctx := context.Background()

	_, err := st.Assert(ctx, assertInput("Acme", "valuation", "10M", "work/acme"))
	testutil.AssertNoError(t, err)
	_, err = st.Assert(ctx, assertInput("Acme", "valuation", "20M", "work/acme"))
	testutil.AssertNoError(t, err)

	summary := s.runContradiction(ctx)
	if len(summary.Errors) != 0 {
		t.Errorf("unexpected errors: %v", summary.Errors)
	}
	if summary.Modified != 0 {
		t.Errorf("expected no modifications without a reasoner, got %d", summary.Modified)
	}
}

func TestRunContradictionChallengesWeakerClaim(t *testing.T) {
	r := &fakeReasoner{available: true}
	s, st := newTestSuite(t, r)
	ctx := context.Background()

	first, err := st.Assert(ctx, assertInput("Acme", "valuation", "10M", "work/acme"))
	testutil.AssertNoError(t, err)
	second, err := st.Assert(ctx, assertInput("Acme", "valuation", "20M", "work/acme"))
	testutil.AssertNoError(t, err)

	r.results = []reasoner.ContradictionResult{
		{
			Pair:          reasoner.ContradictionPair{ClaimAID: first.ClaimID, ClaimBID: second.ClaimID},
			Contradicts:   true,
			WeakerClaimID: second.ClaimID,
			Reasoning:     "test fixture",
		},
	}

	summary := s.runContradiction(ctx)
	if len(summary.Errors) != 0 {
		t.Errorf("unexpected errors: %v", summary.Errors)
	}
	if summary.Modified != 1 {
		t.Errorf("expected 1 modification, got %d", summary.Modified)
	}

	c, err := st.GetClaimForConfidence(second.ClaimID)
	testutil.AssertNoError(t, err)
	if c.Status != claim.StatusChallenged {
		t.Errorf("expected weaker claim to be challenged, got %s", c.Status)
	}
}

func TestClaimExclusiveDeniesConcurrentOwner(t *testing.T) {
	s, st := newTestSuite(t, nil)
	ctx := context.Background()

	result, err := st.Assert(ctx, assertInput("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	now := time.Now().UTC()
	ok, err := st.TryClaimProcessing(result.ClaimID, "other-owner", now, s.cfg.ProcessingFlagAbandonedAfter)
	testutil.AssertNoError(t, err)
	if !ok {
		t.Fatal("expected to claim processing flag")
	}

	ran, err := s.claimExclusive(result.ClaimID, now, func() error { return nil })
	testutil.AssertNoError(t, err)
	if ran {
		t.Error("expected claimExclusive to be denied while another owner holds the flag")
	}
}

func TestRetryRetriesTransientFaultsOnly(t *testing.T) {
	s, _ := newTestSuite(t, nil)
	ctx := context.Background()

	attempts := 0
	err := s.retry(ctx, func() error {
		attempts++
		if attempts < 3 {
			return claimerr.BusyErr("test", nil)
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Errorf("expected Busy to be retried to success in 3 attempts, got attempts=%d err=%v", attempts, err)
	}

	attempts = 0
	err = s.retry(ctx, func() error {
		attempts++
		return claimerr.InvalidErr("test", nil)
	})
	if !claimerr.Is(err, claimerr.Invalid) || attempts != 1 {
		t.Errorf("expected Invalid to fail immediately, got attempts=%d err=%v", attempts, err)
	}

	attempts = 0
	err = s.retry(ctx, func() error {
		attempts++
		return claimerr.UnavailableErr("test", nil)
	})
	if !claimerr.Is(err, claimerr.Unavailable) || attempts != maxRetryAttempts {
		t.Errorf("expected Unavailable to exhaust %d attempts, got attempts=%d err=%v", maxRetryAttempts, attempts, err)
	}

	attempts = 0
	err = s.retry(ctx, func() error {
		attempts++
		return claimerr.CorruptErr("test", nil)
	})
	if !claimerr.Is(err, claimerr.Corrupt) || attempts != 1 {
		t.Errorf("expected Corrupt to escalate without retrying, got attempts=%d err=%v", attempts, err)
	}
}
