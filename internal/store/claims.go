package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
)

// insertClaimTx writes a new claim row. Callers hold the write lock via tx.
func insertClaimTx(tx *sql.Tx, c *claim.Claim) error {
	var ttlSeconds sql.NullInt64
	if c.TTL != nil {
		ttlSeconds = sql.NullInt64{Int64: int64(*c.TTL / time.Second), Valid: true}
	}

	_, err := tx.Exec(`
		INSERT INTO claims (
			id, subject, predicate, object, raw_expression, embedding, base_lo, base_hi,
			namespace, tier, status, created_at, last_accessed, access_count,
			last_modified, staleness_at, ttl_seconds, valid_from, valid_until,
			processing_owner, processing_flag_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.Triple.Subject, c.Triple.Predicate, c.Triple.Object, c.RawExpression,
		encodeEmbedding(c.Embedding), c.BaseConfidence.Lo, c.BaseConfidence.Hi,
		c.Namespace, string(c.Tier), string(c.Status),
		c.CreatedAt, c.LastAccessed, c.AccessCount, c.LastModified, c.StalenessAt,
		ttlSeconds, nullTime(c.ValidFrom), nullTime(c.ValidUntil),
		nullString(c.ProcessingOwner), nullTimeZero(c.ProcessingFlagAt),
	)
	if err != nil {
		return claimerr.ConflictErr("store.insertClaim", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeZero(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

const claimColumns = `
	id, subject, predicate, object, raw_expression, embedding, base_lo, base_hi,
	namespace, tier, status, created_at, last_accessed, access_count,
	last_modified, staleness_at, ttl_seconds, valid_from, valid_until,
	processing_owner, processing_flag_at
`

// encodeEmbedding packs a vector as little-endian float32 bytes, the same
// fixed-width layout the sidecar file uses, so the sidecar is rebuildable
// from the claims table alone.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

func scanClaim(row interface {
	Scan(dest ...interface{}) error
}) (*claim.Claim, error) {
	var c claim.Claim
	var tier, status string
	var embedding []byte
	var ttlSeconds sql.NullInt64
	var validFrom, validUntil, processingFlagAt sql.NullTime
	var processingOwner sql.NullString

	err := row.Scan(
		&c.ID, &c.Triple.Subject, &c.Triple.Predicate, &c.Triple.Object, &c.RawExpression,
		&embedding, &c.BaseConfidence.Lo, &c.BaseConfidence.Hi, &c.Namespace, &tier, &status,
		&c.CreatedAt, &c.LastAccessed, &c.AccessCount, &c.LastModified, &c.StalenessAt,
		&ttlSeconds, &validFrom, &validUntil, &processingOwner, &processingFlagAt,
	)
	if err != nil {
		return nil, err
	}

	c.Embedding = decodeEmbedding(embedding)
	c.Tier = claim.Tier(tier)
	c.Status = claim.Status(status)
	if ttlSeconds.Valid {
		ttl := time.Duration(ttlSeconds.Int64) * time.Second
		c.TTL = &ttl
	}
	if validFrom.Valid {
		c.ValidFrom = &validFrom.Time
	}
	if validUntil.Valid {
		c.ValidUntil = &validUntil.Time
	}
	c.ProcessingOwner = processingOwner.String
	if processingFlagAt.Valid {
		c.ProcessingFlagAt = processingFlagAt.Time
	}
	return &c, nil
}

func scanClaims(rows *sql.Rows) ([]*claim.Claim, error) {
	var claims []*claim.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// GetClaimForConfidence fetches one claim by id without bumping access
// stats, for the confidence engine's provenance/staleness recomputation
// path. Exported so internal/core can adapt Store to confidence.Source
// without internal/confidence importing internal/store.
func (s *Store) GetClaimForConfidence(id string) (*claim.Claim, error) {
	return s.getClaim(id)
}

// getClaim fetches one claim by id, or nil if absent.
func (s *Store) getClaim(id string) (*claim.Claim, error) {
	row := s.db.QueryRow(fmt.Sprintf("SELECT %s FROM claims WHERE id = ?", claimColumns), id)
	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, claimerr.UnavailableErr("store.getClaim", err)
	}
	return c, nil
}

// StructuralFilter narrows a structural query.
type StructuralFilter struct {
	Subject        string
	Predicate      string
	Object         string
	NamespaceScope string
	NamespaceDepth int // 0 = exact, <0 = recursive, >0 = bounded depth
	Tiers          []claim.Tier
	Statuses       []claim.Status
	MinLo          float64
	HasMinLo       bool
	MinHi          float64
	HasMinHi       bool
	Limit          int
}

// QueryStructural returns claims matching the given filter. Namespace
// filtering is applied in Go (not SQL) because the three matching modes
// depend on segment-counting, not a LIKE pattern.
func (s *Store) QueryStructural(filter StructuralFilter) ([]*claim.Claim, error) {
	var whereClauses []string
	var args []interface{}

	if filter.Subject != "" {
		whereClauses = append(whereClauses, "subject = ?")
		args = append(args, filter.Subject)
	}
	if filter.Predicate != "" {
		whereClauses = append(whereClauses, "predicate = ?")
		args = append(args, filter.Predicate)
	}
	if filter.Object != "" {
		whereClauses = append(whereClauses, "object = ?")
		args = append(args, filter.Object)
	}
	if len(filter.Tiers) > 0 {
		placeholders := make([]string, len(filter.Tiers))
		for i, t := range filter.Tiers {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		whereClauses = append(whereClauses, "tier IN ("+strings.Join(placeholders, ",")+")")
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		whereClauses = append(whereClauses, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	if filter.HasMinLo {
		whereClauses = append(whereClauses, "base_lo >= ?")
		args = append(args, filter.MinLo)
	}
	if filter.HasMinHi {
		whereClauses = append(whereClauses, "base_hi >= ?")
		args = append(args, filter.MinHi)
	}

	query := fmt.Sprintf("SELECT %s FROM claims", claimColumns)
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.QueryStructural", err)
	}
	defer rows.Close()

	claims, err := scanClaims(rows)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.QueryStructural", err)
	}

	if filter.NamespaceScope != "" {
		filtered := claims[:0]
		for _, c := range claims {
			if claim.NamespaceMatches(c.Namespace, filter.NamespaceScope, filter.NamespaceDepth) {
				filtered = append(filtered, c)
			}
		}
		claims = filtered
	}

	if filter.Limit > 0 && len(claims) > filter.Limit {
		claims = claims[:filter.Limit]
	}
	return claims, nil
}

// QueryTemporal returns active-at-time claims: valid_from <= at (or unset)
// and valid_until > at (or unset), scoped to namespace.
func (s *Store) QueryTemporal(namespaceScope string, namespaceDepth int, at time.Time) ([]*claim.Claim, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM claims
		WHERE (valid_from IS NULL OR valid_from <= ?)
		  AND (valid_until IS NULL OR valid_until > ?)
		  AND status != 'forgotten'
		ORDER BY id DESC
	`, claimColumns)

	rows, err := s.db.Query(query, at, at)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.QueryTemporal", err)
	}
	defer rows.Close()

	claims, err := scanClaims(rows)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.QueryTemporal", err)
	}

	if namespaceScope != "" {
		filtered := claims[:0]
		for _, c := range claims {
			if claim.NamespaceMatches(c.Namespace, namespaceScope, namespaceDepth) {
				filtered = append(filtered, c)
			}
		}
		claims = filtered
	}
	return claims, nil
}

// updateStatusTx transitions a claim's status, validating legality first.
func updateStatusTx(tx *sql.Tx, id string, from, to claim.Status, now time.Time) error {
	if !claim.CanTransition(from, to) {
		return claimerr.InvalidErr("store.UpdateStatus", fmt.Errorf("illegal transition %s -> %s", from, to))
	}
	result, err := tx.Exec(
		"UPDATE claims SET status = ?, last_modified = ? WHERE id = ? AND status = ?",
		string(to), now, id, string(from),
	)
	if err != nil {
		return claimerr.UnavailableErr("store.UpdateStatus", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return claimerr.ConflictErr("store.UpdateStatus", fmt.Errorf("claim %s not in expected status %s", id, from))
	}
	return nil
}

// touchAccessTx bumps access_count and last_accessed on read.
func touchAccessTx(tx *sql.Tx, id string, now time.Time) error {
	_, err := tx.Exec(
		"UPDATE claims SET access_count = access_count + 1, last_accessed = ? WHERE id = ?",
		now, id,
	)
	return err
}

// ListNamespaces returns every distinct namespace with at least one
// non-forgotten claim. A non-empty prefix keeps only the prefix itself and
// its descendants.
func (s *Store) ListNamespaces(prefix string) ([]string, error) {
	query := "SELECT DISTINCT namespace FROM claims WHERE status != 'forgotten'"
	var args []interface{}
	if prefix != "" {
		query += " AND (namespace = ? OR namespace LIKE ?)"
		args = append(args, prefix, prefix+"/%")
	}
	query += " ORDER BY namespace"
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.ListNamespaces", err)
	}
	defer rows.Close()

	var namespaces []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, claimerr.UnavailableErr("store.ListNamespaces", err)
		}
		namespaces = append(namespaces, ns)
	}
	return namespaces, rows.Err()
}

// hardDeleteTx permanently removes a forgotten claim's row (GC janitor
// path). Cascades to provenance, relationships, and confidence_cache via FK.
func hardDeleteTx(tx *sql.Tx, id string) error {
	result, err := tx.Exec("DELETE FROM claims WHERE id = ? AND status = 'forgotten'", id)
	if err != nil {
		return claimerr.UnavailableErr("store.HardDelete", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return claimerr.ConflictErr("store.HardDelete", fmt.Errorf("claim %s is not forgotten", id))
	}
	return nil
}
