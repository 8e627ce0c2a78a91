package core

import (
	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/confidence"
	"github.com/jdray42/boswell/internal/store"
)

// confidenceSource adapts *store.Store to confidence.Source. The two
// packages each define their own Neighbor type — store.Neighbor carries a
// RelationshipID the confidence engine never needs, and the Outgoing flag
// this adapter uses to keep only incoming edges — so internal/store and
// internal/confidence stay decoupled and this is the one place the
// conversion happens.
type confidenceSource struct{ st *store.Store }

func (c confidenceSource) GetClaimForConfidence(id string) (*claim.Claim, error) {
	return c.st.GetClaimForConfidence(id)
}

func (c confidenceSource) ProvenanceFor(claimID string) ([]claim.Provenance, error) {
	return c.st.ProvenanceFor(claimID)
}

// NeighborsOf returns only claimID's incoming edges (claimID is the
// relationship's target). A directed supports/contradicts edge is meant to
// affect its target only, so outgoing edges are
// filtered out here rather than left for the engine to misapply both ways.
func (c confidenceSource) NeighborsOf(claimID string) ([]confidence.Neighbor, error) {
	raw, err := c.st.NeighborsOf(claimID)
	if err != nil {
		return nil, err
	}
	out := make([]confidence.Neighbor, 0, len(raw))
	for _, n := range raw {
		if n.Outgoing {
			continue
		}
		out = append(out, confidence.Neighbor{NeighborID: n.NeighborID, RelationType: n.RelationType, Strength: n.Strength})
	}
	return out, nil
}
