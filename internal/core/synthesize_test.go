package core

import (
	"context"
	"testing"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/internal/reasoner"
	"github.com/jdray42/boswell/internal/testutil"
)

func TestSynthesizeWithoutBoundReasonerIsUnsupported(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Synthesize(context.Background(), "work/acme")
	if !claimerr.Is(err, claimerr.Unsupported) {
		t.Fatalf("expected Unsupported, got %v", err)
	}
}

func TestSynthesizeCreatesDerivedClaimWithEdges(t *testing.T) {
	synth := &fakeReasoner{available: true}
	e := newTestEngine(t, Reasoners{"synthesizer": synth})
	ctx := context.Background()

	a, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)
	b, err := e.Assert(ctx, testAssertReq("Acme", "sells", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	// Both parents carry base [0.7, 0.7] from testAssertReq's contribution;
	// the proposal stays within lo <= 0.7, hi <= 0.7.
	synth.synthProposals = []reasoner.SynthProposal{
		{
			Triple:        claim.Triple{Subject: "Acme", Predicate: "is", Object: "a widget vendor"},
			RawExpression: "Acme makes and sells widgets",
			Confidence:    claim.Interval{Lo: 0.4, Hi: 0.7},
			ParentIDs:     []string{a.ClaimID, b.ClaimID},
		},
	}

	results, err := e.Synthesize(ctx, "work/acme")
	testutil.AssertNoError(t, err)
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected one successful synthesis, got %+v", results)
	}

	rels, err := e.store.RelationshipsForClaim(results[0].ClaimID)
	testutil.AssertNoError(t, err)
	derived := 0
	for _, r := range rels {
		if r.RelationType == claim.RelationDerivedFrom && r.SourceClaimID == results[0].ClaimID {
			derived++
		}
	}
	if derived != 2 {
		t.Errorf("expected derived_from edges to both parents, got %d", derived)
	}
}

func TestSynthesizeRejectsOverconfidentProposal(t *testing.T) {
	synth := &fakeReasoner{available: true}
	e := newTestEngine(t, Reasoners{"synthesizer": synth})
	ctx := context.Background()

	a, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)
	b, err := e.Assert(ctx, testAssertReq("Acme", "sells", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	// Hi above every parent's hi: more certain than its sources, rejected.
	synth.synthProposals = []reasoner.SynthProposal{
		{
			Triple:        claim.Triple{Subject: "Acme", Predicate: "is", Object: "a widget vendor"},
			RawExpression: "Acme makes and sells widgets",
			Confidence:    claim.Interval{Lo: 0.4, Hi: 0.95},
			ParentIDs:     []string{a.ClaimID, b.ClaimID},
		},
	}

	results, err := e.Synthesize(ctx, "work/acme")
	testutil.AssertNoError(t, err)
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("expected a rejected proposal, got %+v", results)
	}
	if !claimerr.Is(results[0].Err, claimerr.Invalid) {
		t.Errorf("expected Invalid, got %v", results[0].Err)
	}
}

func TestSynthesizeSkipsSingletonNamespaces(t *testing.T) {
	synth := &fakeReasoner{available: true}
	e := newTestEngine(t, Reasoners{"synthesizer": synth})
	ctx := context.Background()

	_, err := e.Assert(ctx, testAssertReq("Acme", "produces", "widgets", "work/acme"))
	testutil.AssertNoError(t, err)

	results, err := e.Synthesize(ctx, "work/acme")
	testutil.AssertNoError(t, err)
	if results != nil {
		t.Errorf("expected no synthesis over a single-claim namespace, got %+v", results)
	}
}
