package store

import (
	"database/sql"
	"fmt"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
)

func insertProvenanceTx(tx *sql.Tx, p *claim.Provenance) error {
	if !p.SourceType.Valid() {
		return claimerr.InvalidErr("store.AddProvenance", fmt.Errorf("invalid source type %q", p.SourceType))
	}
	_, err := tx.Exec(`
		INSERT INTO provenance (id, claim_id, source_type, source_id, timestamp, confidence_contribution, context)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.ClaimID, string(p.SourceType), nullString(p.SourceID), p.Timestamp, p.ConfidenceContribution, nullString(p.Context))
	if err != nil {
		return claimerr.UnavailableErr("store.AddProvenance", err)
	}
	return nil
}

// ProvenanceFor returns every provenance entry recorded for claimID, used by
// the confidence engine's aggregation step.
func (s *Store) ProvenanceFor(claimID string) ([]claim.Provenance, error) {
	rows, err := s.db.Query(`
		SELECT id, claim_id, source_type, source_id, timestamp, confidence_contribution, context
		FROM provenance WHERE claim_id = ? ORDER BY timestamp ASC
	`, claimID)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.ProvenanceFor", err)
	}
	defer rows.Close()

	var entries []claim.Provenance
	for rows.Next() {
		var p claim.Provenance
		var sourceType string
		var sourceID, context sql.NullString
		if err := rows.Scan(&p.ID, &p.ClaimID, &sourceType, &sourceID, &p.Timestamp, &p.ConfidenceContribution, &context); err != nil {
			return nil, claimerr.UnavailableErr("store.ProvenanceFor", err)
		}
		p.SourceType = claim.SourceType(sourceType)
		p.SourceID = sourceID.String
		p.Context = context.String
		entries = append(entries, p)
	}
	return entries, rows.Err()
}
