package core

import (
	"context"
	"testing"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/internal/gatekeeper"
	"github.com/jdray42/boswell/internal/query"
	"github.com/jdray42/boswell/internal/reasoner"
	"github.com/jdray42/boswell/internal/testutil"
)

func TestGetReturnsClaimByID(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	resp, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	got, err := e.Get(ctx, resp.ClaimID)
	testutil.AssertNoError(t, err)
	if got == nil || got.ID != resp.ClaimID {
		t.Fatalf("expected claim %s, got %+v", resp.ClaimID, got)
	}
}

func TestGetReturnsNilForUnknownID(t *testing.T) {
	e := newTestEngine(t, nil)
	got, err := e.Get(context.Background(), "does-not-exist")
	testutil.AssertNoError(t, err)
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestQueryStructuralFindsAssertedClaim(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	_, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	result, err := e.Query(ctx, query.Options{
		Structural: &query.StructuralParams{Subject: "Acme"},
		Limit:      10,
	})
	testutil.AssertNoError(t, err)
	if len(result.Claims) != 1 {
		t.Fatalf("expected 1 match, got %d", len(result.Claims))
	}
}

func TestChallengeMovesClaimToChallenged(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	resp, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	chResp, err := e.Challenge(ctx, ChallengeRequest{
		TargetID: resp.ClaimID,
		Evidence: "a counterexample surfaced",
		ActorID:  "tester",
	})
	testutil.AssertNoError(t, err)
	if chResp.TargetStatus != claim.StatusChallenged {
		t.Errorf("expected challenged status, got %s", chResp.TargetStatus)
	}

	got, err := e.Get(ctx, resp.ClaimID)
	testutil.AssertNoError(t, err)
	if got.Status != claim.StatusChallenged {
		t.Errorf("expected stored status challenged, got %s", got.Status)
	}
}

func TestChallengeWithChallengerRecordsContradiction(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	target, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)
	challenger, err := e.Assert(ctx, testAssertReq("Acme", "produces", "nothing", "work/acme"))
	testutil.AssertNoError(t, err)

	chResp, err := e.Challenge(ctx, ChallengeRequest{
		TargetID:     target.ClaimID,
		ChallengerID: challenger.ClaimID,
		Evidence:     "directly contradicts",
		ActorID:      "tester",
	})
	testutil.AssertNoError(t, err)
	if chResp.RelationshipID == "" {
		t.Error("expected a relationship id to be recorded")
	}
}

func TestChallengeIsNotIdempotent(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	resp, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	_, err = e.Challenge(ctx, ChallengeRequest{TargetID: resp.ClaimID, Evidence: "first", ActorID: "tester"})
	testutil.AssertNoError(t, err)

	_, err = e.Challenge(ctx, ChallengeRequest{TargetID: resp.ClaimID, Evidence: "second", ActorID: "tester"})
	if !claimerr.Is(err, claimerr.Conflict) {
		t.Fatalf("expected Conflict on re-challenge, got %v", err)
	}
}

func TestChallengeUnknownTargetIsNotFound(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Challenge(context.Background(), ChallengeRequest{TargetID: "missing", Evidence: "x", ActorID: "tester"})
	if !claimerr.Is(err, claimerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestPromoteAcceptedReachesTargetTier(t *testing.T) {
	accept := &fakeReasoner{
		available:       true,
		promotionResult: reasoner.PromotionResult{Decision: reasoner.DecisionAccept, Reasoning: "solid"},
	}
	e := newTestEngine(t, Reasoners{"default": accept})
	ctx := context.Background()
	resp, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	results := e.Promote(ctx, []PromoteCandidate{
		{ID: resp.ClaimID, TargetTier: claim.TierTask, Advocacy: gatekeeper.Advocacy{PerceivedImportance: 0.9}},
	})
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected successful promotion, got %+v", results)
	}
	if results[0].Status != "accepted" {
		t.Errorf("expected accepted, got %s", results[0].Status)
	}
	if results[0].CurrentTier != claim.TierTask {
		t.Errorf("expected task tier, got %s", results[0].CurrentTier)
	}
}

func TestPromoteDeferredLeavesClaimAtSourceTier(t *testing.T) {
	e := newTestEngine(t, nil) // no reasoner bound: every boundary defers
	ctx := context.Background()
	resp, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	results := e.Promote(ctx, []PromoteCandidate{
		{ID: resp.ClaimID, TargetTier: claim.TierTask},
	})
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected a recorded outcome with no error, got %+v", results)
	}
	if results[0].Status != "deferred" {
		t.Errorf("expected deferred, got %s", results[0].Status)
	}
	if results[0].CurrentTier != claim.TierEphemeral {
		t.Errorf("expected claim to remain at ephemeral, got %s", results[0].CurrentTier)
	}
}

func TestPromoteRejectsInvalidTargetTier(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	resp, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	// Target tier at or below the claim's current tier is invalid.
	results := e.Promote(ctx, []PromoteCandidate{
		{ID: resp.ClaimID, TargetTier: claim.TierEphemeral},
	})
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("expected an error for a non-ascending target tier, got %+v", results)
	}
	if !claimerr.Is(results[0].Err, claimerr.Invalid) {
		t.Errorf("expected Invalid, got %v", results[0].Err)
	}
}

func TestPromoteUnknownCandidateIsIndependentFailure(t *testing.T) {
	accept := &fakeReasoner{
		available:       true,
		promotionResult: reasoner.PromotionResult{Decision: reasoner.DecisionAccept},
	}
	e := newTestEngine(t, Reasoners{"default": accept})
	ctx := context.Background()
	resp, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	results := e.Promote(ctx, []PromoteCandidate{
		{ID: "missing", TargetTier: claim.TierTask},
		{ID: resp.ClaimID, TargetTier: claim.TierTask},
	})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err == nil {
		t.Error("expected first candidate to fail")
	}
	if results[1].Err != nil || results[1].Status != "accepted" {
		t.Errorf("expected second candidate to succeed independently, got %+v", results[1])
	}
}

func TestForgetIsIdempotent(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	resp, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	outcomes, err := e.Forget(ctx, []string{resp.ClaimID}, "tester")
	testutil.AssertNoError(t, err)
	if len(outcomes) != 1 || outcomes[0].Status != "forgotten" {
		t.Fatalf("expected forgotten, got %+v", outcomes)
	}

	outcomes, err = e.Forget(ctx, []string{resp.ClaimID}, "tester")
	testutil.AssertNoError(t, err)
	if len(outcomes) != 1 || outcomes[0].Status != "already_forgotten" {
		t.Fatalf("expected already_forgotten on repeat, got %+v", outcomes)
	}
}

func TestForgetUnknownIDReportsNotFound(t *testing.T) {
	e := newTestEngine(t, nil)
	outcomes, err := e.Forget(context.Background(), []string{"missing"}, "tester")
	testutil.AssertNoError(t, err)
	if len(outcomes) != 1 || outcomes[0].Status != "not_found" {
		t.Fatalf("expected not_found, got %+v", outcomes)
	}
}

func TestExtractWithoutBoundReasonerIsUnsupported(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Extract(context.Background(), ExtractRequest{Text: "Acme produces widgets", Namespace: "work/acme"})
	if !claimerr.Is(err, claimerr.Unsupported) {
		t.Fatalf("expected Unsupported, got %v", err)
	}
}

func TestExtractAssertsEachProposal(t *testing.T) {
	extractor := &fakeReasoner{
		available: true,
		extractProposals: []reasoner.ClaimProposal{
			{
				Triple:        claim.Triple{Subject: "Acme", Predicate: "produces", Object: "widgets"},
				RawExpression: "Acme produces widgets",
				Confidence:    claim.Interval{Lo: 0.5, Hi: 0.8},
			},
			{
				Triple:        claim.Triple{Subject: "Acme", Predicate: "hires", Object: "engineers"},
				RawExpression: "Acme hires engineers",
				Confidence:    claim.Interval{Lo: 0.4, Hi: 0.7},
			},
		},
	}
	e := newTestEngine(t, Reasoners{"extractor": extractor})

	resp, err := e.Extract(context.Background(), ExtractRequest{
		Text:      "Acme produces widgets and hires engineers.",
		Namespace: "work/acme",
		SourceID:  "doc-1",
	})
	testutil.AssertNoError(t, err)
	if resp.CreatedCount != 2 {
		t.Errorf("expected 2 created claims, got %d (results=%+v)", resp.CreatedCount, resp.Results)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
}

func TestReflectWithoutBoundReasonerIsUnsupported(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Reflect(context.Background(), ReflectRequest{Topic: "Acme", Namespace: "work/acme"})
	if !claimerr.Is(err, claimerr.Unsupported) {
		t.Fatalf("expected Unsupported, got %v", err)
	}
}

func TestReflectSynthesizesNarrativeFromNamespaceClaims(t *testing.T) {
	reflector := &fakeReasoner{
		available: true,
		synthProposals: []reasoner.SynthProposal{
			{RawExpression: "Acme is a steady producer of widgets."},
		},
	}
	e := newTestEngine(t, Reasoners{"reflector": reflector})
	ctx := context.Background()
	_, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	resp, err := e.Reflect(ctx, ReflectRequest{Topic: "Acme", Namespace: "work/acme"})
	testutil.AssertNoError(t, err)
	if resp.Narrative == "" {
		t.Error("expected a non-empty narrative")
	}
}
