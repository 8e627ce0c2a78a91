package store

import (
	"database/sql"
	"fmt"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
)

func insertRelationshipTx(tx *sql.Tx, r *claim.Relationship) error {
	if !r.RelationType.Valid() {
		return claimerr.InvalidErr("store.AddRelationship", fmt.Errorf("invalid relation type %q", r.RelationType))
	}
	_, err := tx.Exec(`
		INSERT INTO relationships (id, source_claim_id, target_claim_id, relation_type, strength, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.SourceClaimID, r.TargetClaimID, string(r.RelationType), r.Strength, r.CreatedAt)
	if err != nil {
		return claimerr.ConflictErr("store.AddRelationship", err)
	}
	return nil
}

// RemoveRelationship deletes one relationship edge by id.
func (s *Store) RemoveRelationship(id string) error {
	result, err := s.db.Exec("DELETE FROM relationships WHERE id = ?", id)
	if err != nil {
		return claimerr.UnavailableErr("store.RemoveRelationship", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return claimerr.NotFoundErr("store.RemoveRelationship", fmt.Errorf("relationship %s not found", id))
	}
	return nil
}

// Neighbor is one relationship edge paired with the neighboring claim's id,
// as seen from one endpoint.
type Neighbor struct {
	RelationshipID string
	NeighborID     string
	RelationType   claim.RelationType
	Strength       float64
	Outgoing       bool // true if this claim is the source
}

// NeighborsOf returns every depth-1 relationship touching claimID, in
// either direction. The confidence engine's relationship adjustment step
// only ever looks one hop out.
func (s *Store) NeighborsOf(claimID string) ([]Neighbor, error) {
	rows, err := s.db.Query(`
		SELECT id, source_claim_id, target_claim_id, relation_type, strength
		FROM relationships
		WHERE source_claim_id = ? OR target_claim_id = ?
	`, claimID, claimID)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.NeighborsOf", err)
	}
	defer rows.Close()

	var neighbors []Neighbor
	for rows.Next() {
		var id, sourceID, targetID, relType string
		var strength float64
		if err := rows.Scan(&id, &sourceID, &targetID, &relType, &strength); err != nil {
			return nil, claimerr.UnavailableErr("store.NeighborsOf", err)
		}
		n := Neighbor{RelationshipID: id, RelationType: claim.RelationType(relType), Strength: strength}
		if sourceID == claimID {
			n.NeighborID = targetID
			n.Outgoing = true
		} else {
			n.NeighborID = sourceID
			n.Outgoing = false
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, rows.Err()
}

// RelationshipsForClaim returns every relationship row touching claimID,
// used by the cascade-delete and contradiction-detection janitor.
func (s *Store) RelationshipsForClaim(claimID string) ([]claim.Relationship, error) {
	rows, err := s.db.Query(`
		SELECT id, source_claim_id, target_claim_id, relation_type, strength, created_at
		FROM relationships WHERE source_claim_id = ? OR target_claim_id = ?
	`, claimID, claimID)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.RelationshipsForClaim", err)
	}
	defer rows.Close()

	var result []claim.Relationship
	for rows.Next() {
		var r claim.Relationship
		var relType string
		if err := rows.Scan(&r.ID, &r.SourceClaimID, &r.TargetClaimID, &relType, &r.Strength, &r.CreatedAt); err != nil {
			return nil, claimerr.UnavailableErr("store.RelationshipsForClaim", err)
		}
		r.RelationType = claim.RelationType(relType)
		result = append(result, r)
	}
	return result, rows.Err()
}

// CandidatePairs returns claim id pairs sharing the same subject and
// predicate but a different object, scoped to status='active', for the
// contradiction-detection janitor's deterministic scan.
func (s *Store) CandidatePairs(limit int) ([][2]string, error) {
	rows, err := s.db.Query(`
		SELECT a.id, b.id
		FROM claims a
		JOIN claims b ON a.subject = b.subject AND a.predicate = b.predicate
			AND a.object != b.object AND a.id < b.id
		WHERE a.status = 'active' AND b.status = 'active'
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.CandidatePairs", err)
	}
	defer rows.Close()

	var pairs [][2]string
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, claimerr.UnavailableErr("store.CandidatePairs", err)
		}
		pairs = append(pairs, [2]string{a, b})
	}
	return pairs, rows.Err()
}
