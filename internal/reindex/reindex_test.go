package reindex

import (
	"context"
	"testing"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/internal/store"
	"github.com/jdray42/boswell/internal/testutil"
	"github.com/jdray42/boswell/internal/vector"
	"github.com/jdray42/boswell/pkg/config"
)

const testDim = 8

func newTestStore(t *testing.T) (*store.Store, vector.Index) {
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
	return st, idx
}

func TestGateGuardsWriteAndSemanticReadWhileRebuilding(t *testing.T) {
	g := NewGate()
	if err := g.GuardWrite(); err != nil {
		t.Fatalf("expected serving state to permit writes, got %v", err)
	}

	testutil.AssertNoError(t, g.begin())
	if err := g.GuardWrite(); !claimerr.Is(err, claimerr.Unavailable) {
		t.Errorf("expected Unavailable while rebuilding, got %v", err)
	}
	if err := g.GuardSemanticRead(); !claimerr.Is(err, claimerr.Unavailable) {
		t.Errorf("expected Unavailable for semantic reads while rebuilding, got %v", err)
	}

	g.end()
	if err := g.GuardWrite(); err != nil {
		t.Errorf("expected serving state restored, got %v", err)
	}
}

func TestBeginRejectsConcurrentRebuild(t *testing.T) {
	g := NewGate()
	testutil.AssertNoError(t, g.begin())
	if err := g.begin(); !claimerr.Is(err, claimerr.Conflict) {
		t.Errorf("expected Conflict on concurrent begin, got %v", err)
	}
}

func TestRunRebuildsIndexFromStoredEmbeddings(t *testing.T) {
	st, idx := newTestStore(t)
	ctx := context.Background()

	_, err := st.Assert(ctx, store.AssertInput{
		Triple:        claim.Triple{Subject: "Acme", Predicate: "produces", Object: "widgets"},
		RawExpression: "Acme produces widgets",
		Provenance: claim.Provenance{
			SourceType:             claim.SourceUserInput,
			ConfidenceContribution: 0.7,
		},
		Namespace: "work/acme",
	})
	testutil.AssertNoError(t, err)

	countBefore := idx.Count()
	if countBefore == 0 {
		t.Fatal("expected the asserted claim to already be indexed")
	}

	gate := NewGate()
	r := New(gate, st, idx)
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if gate.State() != StateServing {
		t.Errorf("expected gate to return to serving after Run, got %s", gate.State())
	}
	if idx.Count() != countBefore {
		t.Errorf("expected rebuild to preserve entry count, got %d want %d", idx.Count(), countBefore)
	}
}
