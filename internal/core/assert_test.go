package core

import (
	"context"
	"testing"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/internal/gatekeeper"
	"github.com/jdray42/boswell/internal/reasoner"
	"github.com/jdray42/boswell/internal/store"
	"github.com/jdray42/boswell/internal/testutil"
)

func TestAssertCreatesEphemeralClaim(t *testing.T) {
	e := newTestEngine(t, nil)
	resp, err := e.Assert(context.Background(), testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)
	if resp.Outcome != store.OutcomeCreated {
		t.Errorf("expected created, got %s", resp.Outcome)
	}
	if resp.ActualTier != claim.TierEphemeral {
		t.Errorf("expected ephemeral tier, got %s", resp.ActualTier)
	}
}

func TestAssertCorroboratesDuplicate(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	first, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	second, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)
	if second.Outcome != store.OutcomeCorroborated {
		t.Errorf("expected corroborated, got %s", second.Outcome)
	}
	if second.ClaimID != first.ClaimID {
		t.Errorf("expected same claim id, got %s vs %s", second.ClaimID, first.ClaimID)
	}
}

func TestAssertRejectsDirectPermanentWrite(t *testing.T) {
	e := newTestEngine(t, nil)
	req := testAssertReq("Acme", "produces", "widgets", "work/acme")
	req.Tier = claim.TierPermanent
	_, err := e.Assert(context.Background(), req)
	if !claimerr.Is(err, claimerr.Invalid) {
		t.Fatalf("expected Invalid error, got %v", err)
	}
}

func TestAssertAcceptedCrossingReachesTargetTier(t *testing.T) {
	accept := &fakeReasoner{
		available:       true,
		promotionResult: reasoner.PromotionResult{Decision: reasoner.DecisionAccept, Reasoning: "looks solid"},
	}
	e := newTestEngine(t, Reasoners{
		"default": accept,
	})

	req := testAssertReq("Acme", "produces", "widgets", "work/acme")
	req.Tier = claim.TierTask
	req.Advocacy = &gatekeeper.Advocacy{PerceivedImportance: 0.8, AdvocacyConfidence: 0.8, Text: "important"}

	resp, err := e.Assert(context.Background(), req)
	testutil.AssertNoError(t, err)
	if resp.ActualTier != claim.TierTask {
		t.Errorf("expected task tier, got %s", resp.ActualTier)
	}
	if resp.Reasoning == "" {
		t.Error("expected non-empty reasoning from accepted crossing")
	}
}

func TestAssertDeferredCrossingStaysAtSourceTier(t *testing.T) {
	// No "default" binding registered: every boundary defers.
	e := newTestEngine(t, nil)

	req := testAssertReq("Acme", "produces", "widgets", "work/acme")
	req.Tier = claim.TierProject

	resp, err := e.Assert(context.Background(), req)
	testutil.AssertNoError(t, err)
	if resp.ActualTier != claim.TierEphemeral {
		t.Errorf("expected claim to stay at ephemeral on defer, got %s", resp.ActualTier)
	}
}

func TestAssertBatchProcessesEachIndependently(t *testing.T) {
	e := newTestEngine(t, nil)
	results := e.AssertBatch(context.Background(), []AssertRequest{
		testAssertReq("Acme", "produces", "widgets", "work/acme"),
		testAssertReq("Acme", "produces", "widgets", "work/acme"),
		testAssertReq("Globex", "produces", "gadgets", "work/globex"),
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Outcome != store.OutcomeCreated {
		t.Errorf("expected first created, got %s", results[0].Outcome)
	}
	if results[1].Outcome != store.OutcomeCorroborated || results[1].ClaimID != results[0].ClaimID {
		t.Errorf("expected second to corroborate the first, got %+v", results[1])
	}
	if results[2].Outcome != store.OutcomeCreated {
		t.Errorf("expected third created, got %s", results[2].Outcome)
	}
}

func TestLearnRejectPolicyRefusesConflictingInput(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Learn(ctx, LearnRequest{
		Inputs: []LearnInput{
			{Triple: claim.Triple{Subject: "Acme", Predicate: "produces", Object: "widgets"}, RawExpression: "Acme produces widgets"},
		},
		Namespace:      "work/acme",
		ConflictPolicy: ConflictReject,
	})
	testutil.AssertNoError(t, err)

	results, err := e.Learn(ctx, LearnRequest{
		Inputs: []LearnInput{
			{Triple: claim.Triple{Subject: "Acme", Predicate: "produces", Object: "gadgets"}, RawExpression: "Acme produces gadgets"},
		},
		Namespace:      "work/acme",
		ConflictPolicy: ConflictReject,
	})
	testutil.AssertNoError(t, err)
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("expected conflicting input to be rejected, got %+v", results)
	}
	if !claimerr.Is(results[0].Err, claimerr.Conflict) {
		t.Errorf("expected Conflict error, got %v", results[0].Err)
	}
}

func TestLearnFlagPolicyProceedsAndFlags(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Learn(ctx, LearnRequest{
		Inputs: []LearnInput{
			{Triple: claim.Triple{Subject: "Acme", Predicate: "produces", Object: "widgets"}, RawExpression: "Acme produces widgets"},
		},
		Namespace: "work/acme",
	})
	testutil.AssertNoError(t, err)

	results, err := e.Learn(ctx, LearnRequest{
		Inputs: []LearnInput{
			{Triple: claim.Triple{Subject: "Acme", Predicate: "produces", Object: "gadgets"}, RawExpression: "Acme produces gadgets"},
		},
		Namespace:      "work/acme",
		ConflictPolicy: ConflictFlag,
	})
	testutil.AssertNoError(t, err)
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected flagged-but-successful write, got %+v", results)
	}
	if !results[0].ConflictFlagged {
		t.Error("expected ConflictFlagged to be true")
	}
}

func TestLearnRejectsPermanentTier(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Learn(context.Background(), LearnRequest{
		Inputs: []LearnInput{
			{Triple: claim.Triple{Subject: "Acme", Predicate: "produces", Object: "widgets"}, RawExpression: "Acme produces widgets"},
		},
		Namespace: "work/acme",
		Tier:      claim.TierPermanent,
	})
	if !claimerr.Is(err, claimerr.Invalid) {
		t.Fatalf("expected Invalid for a permanent-tier bulk load, got %v", err)
	}
}

func TestLearnElevatedTierCrossesGatekeeper(t *testing.T) {
	accept := &fakeReasoner{
		available:       true,
		promotionResult: reasoner.PromotionResult{Decision: reasoner.DecisionAccept, Reasoning: "bulk load vetted"},
	}
	e := newTestEngine(t, Reasoners{"default": accept})

	results, err := e.Learn(context.Background(), LearnRequest{
		Inputs: []LearnInput{
			{Triple: claim.Triple{Subject: "Acme", Predicate: "produces", Object: "widgets"}, RawExpression: "Acme produces widgets"},
		},
		Namespace: "work/acme",
		Tier:      claim.TierTask,
	})
	testutil.AssertNoError(t, err)
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected one successful load, got %+v", results)
	}
	if results[0].ActualTier != claim.TierTask {
		t.Errorf("expected accepted crossing to land at task, got %s", results[0].ActualTier)
	}

	got, err := e.Get(context.Background(), results[0].ClaimID)
	testutil.AssertNoError(t, err)
	if got.Tier != claim.TierTask {
		t.Errorf("expected stored tier task, got %s", got.Tier)
	}
}

func TestLearnDeferredCrossingLandsEphemeral(t *testing.T) {
	// No reasoner bound: every boundary defers, so a task-tier bulk load
	// lands at ephemeral rather than silently taking the requested tier.
	e := newTestEngine(t, nil)

	results, err := e.Learn(context.Background(), LearnRequest{
		Inputs: []LearnInput{
			{Triple: claim.Triple{Subject: "Acme", Predicate: "produces", Object: "widgets"}, RawExpression: "Acme produces widgets"},
		},
		Namespace: "work/acme",
		Tier:      claim.TierTask,
	})
	testutil.AssertNoError(t, err)
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected one successful load, got %+v", results)
	}
	if results[0].ActualTier != claim.TierEphemeral {
		t.Errorf("expected deferred crossing to land at ephemeral, got %s", results[0].ActualTier)
	}

	got, err := e.Get(context.Background(), results[0].ClaimID)
	testutil.AssertNoError(t, err)
	if got.Tier != claim.TierEphemeral {
		t.Errorf("expected stored tier ephemeral, got %s", got.Tier)
	}
}
