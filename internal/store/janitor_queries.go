package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
)

// ClaimsDueForStaleness returns non-forgotten claims whose staleness_at has
// already passed, for the staleness janitor.
func (s *Store) ClaimsDueForStaleness(now time.Time) ([]*claim.Claim, error) {
	query := fmt.Sprintf("SELECT %s FROM claims WHERE staleness_at < ? AND status != 'forgotten' ORDER BY staleness_at ASC", claimColumns)
	rows, err := s.db.Query(query, now)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.ClaimsDueForStaleness", err)
	}
	defer rows.Close()
	claims, err := scanClaims(rows)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.ClaimsDueForStaleness", err)
	}
	return claims, nil
}

// ClaimsAtTier returns non-forgotten claims at exactly the given tier, for the
// tier-migration janitor's per-tier demotion scans.
func (s *Store) ClaimsAtTier(tier claim.Tier) ([]*claim.Claim, error) {
	query := fmt.Sprintf("SELECT %s FROM claims WHERE tier = ? AND status != 'forgotten'", claimColumns)
	rows, err := s.db.Query(query, string(tier))
	if err != nil {
		return nil, claimerr.UnavailableErr("store.ClaimsAtTier", err)
	}
	defer rows.Close()
	claims, err := scanClaims(rows)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.ClaimsAtTier", err)
	}
	return claims, nil
}

// ForgottenBefore returns claims in status=forgotten whose last_modified
// (the moment they transitioned to forgotten) predates cutoff, for the GC
// janitor's retention-window scan.
func (s *Store) ForgottenBefore(cutoff time.Time) ([]*claim.Claim, error) {
	query := fmt.Sprintf("SELECT %s FROM claims WHERE status = 'forgotten' AND last_modified < ?", claimColumns)
	rows, err := s.db.Query(query, cutoff)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.ForgottenBefore", err)
	}
	defer rows.Close()
	claims, err := scanClaims(rows)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.ForgottenBefore", err)
	}
	return claims, nil
}

// ClaimsWithInvalidatedCache returns the ids of non-forgotten claims that
// have no confidence_cache row, bounded to batchSize, for the
// confidence-recompute janitor. Since cache invalidation in this store is
// modeled by row deletion (see Store.AddProvenance/AddRelationship), "needs
// recompute" here means: no cache row.
func (s *Store) ClaimsWithInvalidatedCache(batchSize int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT c.id FROM claims c
		LEFT JOIN confidence_cache cc ON cc.claim_id = c.id
		WHERE c.status != 'forgotten' AND cc.claim_id IS NULL
		LIMIT ?
	`, batchSize)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.ClaimsWithInvalidatedCache", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, claimerr.UnavailableErr("store.ClaimsWithInvalidatedCache", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// WriteConfidenceCache persists a freshly computed effective interval,
// satisfying the next ClaimsWithInvalidatedCache scan's join condition.
func (s *Store) WriteConfidenceCache(claimID string, effLo, effHi float64, computedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO confidence_cache (claim_id, eff_lo, eff_hi, computed_at, version)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(claim_id) DO UPDATE SET
			eff_lo = excluded.eff_lo, eff_hi = excluded.eff_hi,
			computed_at = excluded.computed_at, version = confidence_cache.version + 1
	`, claimID, effLo, effHi, computedAt)
	if err != nil {
		return claimerr.UnavailableErr("store.WriteConfidenceCache", err)
	}
	return nil
}

// TryClaimProcessing atomically marks a claim as owned by owner for janitor
// processing, unless it is already owned by a different, non-abandoned
// owner. Returns true if the claim was successfully claimed.
func (s *Store) TryClaimProcessing(id, owner string, now time.Time, abandonedAfter time.Duration) (bool, error) {
	tx, unlock, err := s.db.Begin()
	if err != nil {
		return false, claimerr.UnavailableErr("store.TryClaimProcessing", err)
	}
	defer unlock()

	var currentOwner sql.NullString
	var flagAt sql.NullTime
	err = tx.QueryRow("SELECT processing_owner, processing_flag_at FROM claims WHERE id = ?", id).Scan(&currentOwner, &flagAt)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return false, claimerr.NotFoundErr("store.TryClaimProcessing", fmt.Errorf("claim %s not found", id))
	}
	if err != nil {
		tx.Rollback()
		return false, claimerr.UnavailableErr("store.TryClaimProcessing", err)
	}

	if currentOwner.Valid && currentOwner.String != "" && currentOwner.String != owner {
		if flagAt.Valid && now.Sub(flagAt.Time) < abandonedAfter {
			tx.Rollback()
			return false, nil
		}
	}

	if _, err := tx.Exec("UPDATE claims SET processing_owner = ?, processing_flag_at = ? WHERE id = ?", owner, now, id); err != nil {
		tx.Rollback()
		return false, claimerr.UnavailableErr("store.TryClaimProcessing", err)
	}
	if err := tx.Commit(); err != nil {
		return false, claimerr.UnavailableErr("store.TryClaimProcessing", err)
	}
	return true, nil
}

// ReleaseProcessing clears the advisory processing flag, for use when a
// janitor finishes (or abandons) work on a claim.
func (s *Store) ReleaseProcessing(id string) error {
	_, err := s.db.Exec("UPDATE claims SET processing_owner = NULL, processing_flag_at = NULL WHERE id = ?", id)
	if err != nil {
		return claimerr.UnavailableErr("store.ReleaseProcessing", err)
	}
	return nil
}
