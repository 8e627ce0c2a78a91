package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/internal/store"
)

// SynthesizeResult is one proposal's outcome within a Synthesize call.
type SynthesizeResult struct {
	ClaimID   string
	ParentIDs []string
	Err       error
}

// Synthesize fetches the active claims in namespace, asks the synthesizer
// reasoner for derived claims, validates each proposal's interval against
// its parents (a derived claim may never be more certain than what it was
// derived from), and asserts the valid ones with derived_from edges back to
// their parents. Returns Unsupported if no synthesizer reasoner is bound or
// reachable.
func (e *Engine) Synthesize(ctx context.Context, namespace string) ([]SynthesizeResult, error) {
	if e.synthesizer == nil || !e.synthesizer.IsAvailable(ctx) {
		return nil, claimerr.UnsupportedErr("core.Synthesize", fmt.Errorf("no synthesizer reasoner bound"))
	}

	release, err := e.guardWrite()
	if err != nil {
		return nil, err
	}
	defer release()

	cluster, err := e.store.QueryStructural(store.StructuralFilter{
		NamespaceScope: namespace,
		Statuses:       []claim.Status{claim.StatusActive},
		Limit:          100,
	})
	if err != nil {
		return nil, err
	}
	if len(cluster) < 2 {
		return nil, nil
	}

	ids := make([]string, len(cluster))
	for i, c := range cluster {
		ids[i] = c.ID
	}

	proposals, err := e.synthesizer.Synthesize(ctx, ids, namespace)
	if err != nil {
		return nil, err
	}

	results := make([]SynthesizeResult, 0, len(proposals))
	for _, p := range proposals {
		parents := make([]claim.Interval, 0, len(p.ParentIDs))
		missing := false
		for _, parentID := range p.ParentIDs {
			parent, err := e.store.GetClaimForConfidence(parentID)
			if err != nil || parent == nil {
				missing = true
				break
			}
			parents = append(parents, parent.BaseConfidence)
		}
		if missing {
			results = append(results, SynthesizeResult{ParentIDs: p.ParentIDs,
				Err: claimerr.NotFoundErr("core.Synthesize", fmt.Errorf("proposal references an unknown parent"))})
			continue
		}
		if err := claim.ValidateSynthesizedInterval(p.Confidence, parents); err != nil {
			results = append(results, SynthesizeResult{ParentIDs: p.ParentIDs,
				Err: claimerr.InvalidErr("core.Synthesize", err)})
			continue
		}

		assertResult, err := e.store.Assert(ctx, store.AssertInput{
			Triple:         p.Triple,
			RawExpression:  p.RawExpression,
			BaseConfidence: p.Confidence,
			Provenance: claim.Provenance{
				SourceType:             claim.SourceInference,
				SourceID:               "synthesizer",
				ConfidenceContribution: p.Confidence.Hi,
			},
			Namespace: namespace,
			ActorID:   "synthesizer",
		})
		if err != nil {
			results = append(results, SynthesizeResult{ParentIDs: p.ParentIDs, Err: e.surface(err)})
			continue
		}

		for _, parentID := range p.ParentIDs {
			rel := claim.Relationship{
				ID:            claim.NewAuxID(),
				SourceClaimID: assertResult.ClaimID,
				TargetClaimID: parentID,
				RelationType:  claim.RelationDerivedFrom,
				Strength:      1.0,
				CreatedAt:     time.Now().UTC(),
			}
			if err := e.store.AddRelationship(rel); err != nil && !claimerr.Is(err, claimerr.Conflict) {
				results = append(results, SynthesizeResult{ClaimID: assertResult.ClaimID, ParentIDs: p.ParentIDs, Err: err})
				continue
			}
			e.confidence.Invalidate(parentID)
		}
		e.confidence.Invalidate(assertResult.ClaimID)

		results = append(results, SynthesizeResult{ClaimID: assertResult.ClaimID, ParentIDs: p.ParentIDs})
	}
	return results, nil
}

// synthesizePass runs one scheduled synthesizer sweep: every namespace with
// at least one active claim gets its own Synthesize call, errors logged and
// skipped rather than aborting the sweep.
func (e *Engine) synthesizePass(ctx context.Context) {
	namespaces, err := e.store.ListNamespaces("")
	if err != nil {
		log.Warn("synthesizer pass could not list namespaces", "error", err)
		return
	}
	for _, ns := range namespaces {
		if ctx.Err() != nil {
			return
		}
		results, err := e.Synthesize(ctx, ns)
		if err != nil {
			if !claimerr.Is(err, claimerr.Unsupported) {
				log.Warn("synthesizer pass failed for namespace", "namespace", ns, "error", err)
			}
			continue
		}
		created := 0
		for _, r := range results {
			if r.Err == nil && r.ClaimID != "" {
				created++
			}
		}
		if created > 0 {
			log.Info("synthesizer created derived claims", "namespace", ns, "count", created)
		}
	}
}
