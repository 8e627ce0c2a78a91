package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/internal/embedding"
	"github.com/jdray42/boswell/internal/vector"
	"github.com/jdray42/boswell/pkg/config"
)

// Store is the claim store: sole authority over claim rows, relationships,
// provenance, and the event log, wired to a bound vector.Index for
// similarity search and an embedding.Embed port for computing new vectors.
type Store struct {
	db        *db
	index     vector.Index
	embed     embedding.Embed
	cfg       config.EmbeddingConfig
	namespace config.NamespaceConfig
}

// Open opens (creating and migrating if absent) the relational store at
// dbPath and the vector sidecar via idx, and wires embed for write-path
// embedding.
func Open(dbPath string, idx vector.Index, embed embedding.Embed, cfg config.EmbeddingConfig, ns config.NamespaceConfig) (*Store, error) {
	conn, err := openDB(dbPath)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.Open", err)
	}
	if err := conn.initSchema(); err != nil {
		conn.Close()
		return nil, claimerr.UnavailableErr("store.Open", err)
	}
	return &Store{db: conn, index: idx, embed: embed, cfg: cfg, namespace: ns}, nil
}

// Close releases the relational connection. The caller owns the vector
// index's lifecycle separately (it may be shared or swapped independently).
func (s *Store) Close() error {
	return s.db.Close()
}

// Vacuum runs SQLite's VACUUM to reclaim space after GC passes.
func (s *Store) Vacuum() error { return s.db.Vacuum() }

// Checkpoint forces a WAL checkpoint.
func (s *Store) Checkpoint() error { return s.db.Checkpoint() }

// AssertInput is the write-path payload for one new claim.
type AssertInput struct {
	Triple         claim.Triple
	RawExpression  string
	BaseConfidence claim.Interval // used only when a new claim is created
	Provenance     claim.Provenance
	Namespace      string
	Tier           claim.Tier // defaults to ephemeral if empty
	ActorID        string
}

// AssertOutcome enumerates assert's result shape.
type AssertOutcome string

const (
	OutcomeCreated      AssertOutcome = "created"
	OutcomeCorroborated AssertOutcome = "corroborated"
)

// AssertResult is assert's return value.
type AssertResult struct {
	ClaimID string
	Outcome AssertOutcome
}

// Assert validates, deduplicates, and either inserts a new claim or
// corroborates an existing one.
func (s *Store) Assert(ctx context.Context, input AssertInput) (AssertResult, error) {
	triple := input.Triple.Normalized()
	if triple.Empty() {
		return AssertResult{}, claimerr.InvalidErr("store.Assert", fmt.Errorf("triple must have non-empty subject, predicate, and object"))
	}
	if claim.NamespaceDepth(input.Namespace) > s.namespace.MaxDepth {
		return AssertResult{}, claimerr.InvalidErr("store.Assert", fmt.Errorf(
			"namespace %q exceeds max depth %d", input.Namespace, s.namespace.MaxDepth))
	}

	tier := input.Tier
	if tier == "" {
		tier = claim.TierEphemeral
	}
	if !tier.Valid() {
		return AssertResult{}, claimerr.InvalidErr("store.Assert", fmt.Errorf("invalid tier %q", tier))
	}

	now := time.Now().UTC()

	embed, err := s.embed.Vector(ctx, input.RawExpression)
	if err != nil {
		return AssertResult{}, err
	}

	existingID, err := s.findDuplicate(ctx, embed, triple, input.Namespace)
	if err != nil {
		return AssertResult{}, err
	}

	if existingID != "" {
		if err := s.corroborate(existingID, input.Provenance, now); err != nil {
			return AssertResult{}, err
		}
		return AssertResult{ClaimID: existingID, Outcome: OutcomeCorroborated}, nil
	}

	baseConfidence := input.BaseConfidence
	if baseConfidence == (claim.Interval{}) {
		baseConfidence = claim.Interval{Lo: input.Provenance.ConfidenceContribution, Hi: input.Provenance.ConfidenceContribution}
	}
	if !baseConfidence.Valid() {
		return AssertResult{}, claimerr.InvalidErr("store.Assert", fmt.Errorf("base confidence interval %+v is invalid", baseConfidence))
	}

	c := &claim.Claim{
		ID:             claim.NewID(now),
		Triple:         triple,
		RawExpression:  input.RawExpression,
		Embedding:      embed,
		BaseConfidence: baseConfidence,
		Namespace:      input.Namespace,
		Tier:           tier,
		CreatedAt:      now,
		LastAccessed:   now,
		LastModified:   now,
		StalenessAt:    now,
		Status:         claim.StatusActive,
	}

	prov := input.Provenance
	if prov.ID == "" {
		prov.ID = claim.NewAuxID()
	}
	prov.ClaimID = c.ID
	if prov.Timestamp.IsZero() {
		prov.Timestamp = now
	}

	tx, unlock, err := s.db.Begin()
	if err != nil {
		return AssertResult{}, claimerr.UnavailableErr("store.Assert", err)
	}
	defer unlock()

	if err := insertClaimTx(tx, c); err != nil {
		tx.Rollback()
		return AssertResult{}, err
	}
	if err := insertProvenanceTx(tx, &prov); err != nil {
		tx.Rollback()
		return AssertResult{}, err
	}
	if err := insertEventTx(tx, Event{
		ID: claim.NewAuxID(), ClaimID: c.ID, EventType: "assert", ActorID: input.ActorID, Timestamp: now,
		Payload: map[string]interface{}{"outcome": string(OutcomeCreated)},
	}); err != nil {
		tx.Rollback()
		return AssertResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AssertResult{}, claimerr.UnavailableErr("store.Assert", err)
	}

	// Relational write lands first; the vector entry follows. A brief
	// window where the two are out of sync is tolerated.
	if err := s.index.Insert(ctx, c.ID, embed); err != nil {
		return AssertResult{}, claimerr.CorruptErr("store.Assert", fmt.Errorf("claim %s committed but vector insert failed: %w", c.ID, err))
	}

	return AssertResult{ClaimID: c.ID, Outcome: OutcomeCreated}, nil
}

// AssertBatch processes inputs independently; a later duplicate within the
// same batch corroborates the earlier one because each input sees the state
// committed by the ones before it.
func (s *Store) AssertBatch(ctx context.Context, inputs []AssertInput) []Outcome {
	results := make([]Outcome, len(inputs))
	for i, input := range inputs {
		result, err := s.Assert(ctx, input)
		if err != nil {
			results[i] = Outcome{Err: err}
			continue
		}
		results[i] = Outcome{ClaimID: result.ClaimID, Status: result.Outcome}
	}
	return results
}

// Outcome is one batch element's per-input result.
type Outcome struct {
	ClaimID string
	Status  AssertOutcome
	Err     error
}

// findDuplicate searches neighbors scoped to namespace+subject+predicate,
// structurally matches, and tie-breaks by similarity x recency with id
// ascending as a final deterministic tie-break.
func (s *Store) findDuplicate(ctx context.Context, embed []float32, triple claim.Triple, namespace string) (string, error) {
	matches, err := s.index.Search(ctx, embed, 20, s.cfg.DuplicateThreshold)
	if err != nil {
		if claimerr.Is(err, claimerr.Unavailable) {
			// Fall back to structural equality scoped to namespace+subject+predicate
			// (Open Question resolution: degrade rather than fail the write).
			return s.findDuplicateStructural(triple, namespace)
		}
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}

	type candidate struct {
		id    string
		score float64
	}
	var best candidate
	now := time.Now().UTC()

	for _, m := range matches {
		c, err := s.getClaim(m.ClaimID)
		if err != nil || c == nil {
			continue
		}
		if c.Namespace != namespace {
			continue
		}
		if c.Triple.Subject != triple.Subject || c.Triple.Predicate != triple.Predicate {
			continue
		}
		if !c.Triple.Equal(triple) {
			continue
		}
		recency := recencyFactor(c.LastModified, now)
		score := m.Similarity * recency
		if best.id == "" || score > best.score || (score == best.score && c.ID < best.id) {
			best = candidate{id: c.ID, score: score}
		}
	}
	return best.id, nil
}

func (s *Store) findDuplicateStructural(triple claim.Triple, namespace string) (string, error) {
	claims, err := s.QueryStructural(StructuralFilter{
		Subject:   triple.Subject,
		Predicate: triple.Predicate,
	})
	if err != nil {
		return "", err
	}
	for _, c := range claims {
		if c.Namespace == namespace && c.Triple.Equal(triple) {
			return c.ID, nil
		}
	}
	return "", nil
}

// recencyFactor decays linearly to 0.5 over 30 days, a simple recency
// weighting for the similarity x recency tie-break.
func recencyFactor(lastModified, now time.Time) float64 {
	age := now.Sub(lastModified)
	const window = 30 * 24 * time.Hour
	if age <= 0 {
		return 1.0
	}
	if age >= window {
		return 0.5
	}
	return 1.0 - 0.5*float64(age)/float64(window)
}

// corroborate appends a provenance entry to an existing claim and
// invalidates its confidence cache.
func (s *Store) corroborate(claimID string, prov claim.Provenance, now time.Time) error {
	if prov.ID == "" {
		prov.ID = claim.NewAuxID()
	}
	prov.ClaimID = claimID
	if prov.Timestamp.IsZero() {
		prov.Timestamp = now
	}
	if prov.SourceType == "" {
		prov.SourceType = claim.SourceCorroboration
	}

	tx, unlock, err := s.db.Begin()
	if err != nil {
		return claimerr.UnavailableErr("store.corroborate", err)
	}
	defer unlock()

	if err := insertProvenanceTx(tx, &prov); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("DELETE FROM confidence_cache WHERE claim_id = ?", claimID); err != nil {
		tx.Rollback()
		return claimerr.UnavailableErr("store.corroborate", err)
	}
	if err := insertEventTx(tx, Event{
		ID: claim.NewAuxID(), ClaimID: claimID, EventType: "corroborate", Timestamp: now,
	}); err != nil {
		tx.Rollback()
		return claimerr.UnavailableErr("store.corroborate", err)
	}
	if err := tx.Commit(); err != nil {
		return claimerr.UnavailableErr("store.corroborate", err)
	}
	return nil
}

// Get fetches one claim by id and bumps its access stats.
func (s *Store) Get(ctx context.Context, id string) (*claim.Claim, error) {
	c, err := s.getClaim(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	tx, unlock, err := s.db.Begin()
	if err == nil {
		touchErr := touchAccessTx(tx, id, now)
		if commitErr := tx.Commit(); touchErr == nil && commitErr == nil {
			c.AccessCount++
			c.LastAccessed = now
		}
		unlock()
	}
	return c, nil
}

// SemanticMatch pairs a hydrated claim with its similarity score.
type SemanticMatch struct {
	Claim      *claim.Claim
	Similarity float64
}

// QuerySemantic hydrates ids returned from the vector index, filters to
// active/challenged unless statuses is non-empty, ranks by similarity.
func (s *Store) QuerySemantic(ctx context.Context, queryEmbedding []float32, limit int, threshold float64, statuses []claim.Status) ([]SemanticMatch, error) {
	matches, err := s.index.Search(ctx, queryEmbedding, limit, threshold)
	if err != nil {
		return nil, err
	}

	allowed := map[claim.Status]bool{claim.StatusActive: true, claim.StatusChallenged: true}
	if len(statuses) > 0 {
		allowed = make(map[claim.Status]bool, len(statuses))
		for _, st := range statuses {
			allowed[st] = true
		}
	}

	results := make([]SemanticMatch, 0, len(matches))
	for _, m := range matches {
		c, err := s.getClaim(m.ClaimID)
		if err != nil {
			return nil, err
		}
		if c == nil || !allowed[c.Status] {
			continue
		}
		results = append(results, SemanticMatch{Claim: c, Similarity: m.Similarity})
	}
	return results, nil
}

// AddRelationship inserts a relationship edge; fails Conflict on a
// duplicate (source, target, type) triple.
func (s *Store) AddRelationship(r claim.Relationship) error {
	if r.ID == "" {
		r.ID = claim.NewAuxID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	tx, unlock, err := s.db.Begin()
	if err != nil {
		return claimerr.UnavailableErr("store.AddRelationship", err)
	}
	defer unlock()

	if err := insertRelationshipTx(tx, &r); err != nil {
		tx.Rollback()
		return err
	}
	// A new relationship invalidates the confidence cache on both endpoints.
	if _, err := tx.Exec("DELETE FROM confidence_cache WHERE claim_id IN (?, ?)", r.SourceClaimID, r.TargetClaimID); err != nil {
		tx.Rollback()
		return claimerr.UnavailableErr("store.AddRelationship", err)
	}
	return tx.Commit()
}

// UpdateStatus transitions a claim's status, validating legality.
func (s *Store) UpdateStatus(id string, from, to claim.Status, actorID string) error {
	now := time.Now().UTC()
	tx, unlock, err := s.db.Begin()
	if err != nil {
		return claimerr.UnavailableErr("store.UpdateStatus", err)
	}
	defer unlock()

	if err := updateStatusTx(tx, id, from, to, now); err != nil {
		tx.Rollback()
		return err
	}
	if err := insertEventTx(tx, Event{
		ID: claim.NewAuxID(), ClaimID: id, EventType: "status_change", ActorID: actorID, Timestamp: now,
		Payload: map[string]interface{}{"from": string(from), "to": string(to)},
	}); err != nil {
		tx.Rollback()
		return claimerr.UnavailableErr("store.UpdateStatus", err)
	}
	return tx.Commit()
}

// UpdateTier changes a claim's tier directly. Reserved for the gatekeeper
// and janitor; never exposed as a plain write.
func (s *Store) UpdateTier(id string, tier claim.Tier, actorID string) error {
	if !tier.Valid() {
		return claimerr.InvalidErr("store.UpdateTier", fmt.Errorf("invalid tier %q", tier))
	}
	now := time.Now().UTC()
	tx, unlock, err := s.db.Begin()
	if err != nil {
		return claimerr.UnavailableErr("store.UpdateTier", err)
	}
	defer unlock()

	result, err := tx.Exec("UPDATE claims SET tier = ?, last_modified = ? WHERE id = ?", string(tier), now, id)
	if err != nil {
		tx.Rollback()
		return claimerr.UnavailableErr("store.UpdateTier", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		tx.Rollback()
		return claimerr.NotFoundErr("store.UpdateTier", fmt.Errorf("claim %s not found", id))
	}
	if err := insertEventTx(tx, Event{
		ID: claim.NewAuxID(), ClaimID: id, EventType: "tier_change", ActorID: actorID, Timestamp: now,
		Payload: map[string]interface{}{"tier": string(tier)},
	}); err != nil {
		tx.Rollback()
		return claimerr.UnavailableErr("store.UpdateTier", err)
	}
	return tx.Commit()
}

// AddProvenance appends a provenance entry and invalidates the claim's
// confidence cache and its outbound-related neighbors'.
func (s *Store) AddProvenance(claimID string, entry claim.Provenance) error {
	if entry.ID == "" {
		entry.ID = claim.NewAuxID()
	}
	entry.ClaimID = claimID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	tx, unlock, err := s.db.Begin()
	if err != nil {
		return claimerr.UnavailableErr("store.AddProvenance", err)
	}
	defer unlock()

	if err := insertProvenanceTx(tx, &entry); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("DELETE FROM confidence_cache WHERE claim_id = ?", claimID); err != nil {
		tx.Rollback()
		return claimerr.UnavailableErr("store.AddProvenance", err)
	}
	// claimID's stale values feed into the effective confidence of every
	// claim it is the source of a relationship into; their cache rows must
	// be dropped too or they keep serving a confidence computed against
	// claimID's old provenance.
	if _, err := tx.Exec(`
		DELETE FROM confidence_cache
		WHERE claim_id IN (SELECT target_claim_id FROM relationships WHERE source_claim_id = ?)
	`, claimID); err != nil {
		tx.Rollback()
		return claimerr.UnavailableErr("store.AddProvenance", err)
	}
	return tx.Commit()
}

// HardDelete permanently removes a forgotten claim's row and its vector
// entry. Used only by the GC janitor.
func (s *Store) HardDelete(ctx context.Context, ids []string) []Outcome {
	results := make([]Outcome, len(ids))
	for i, id := range ids {
		tx, unlock, err := s.db.Begin()
		if err != nil {
			results[i] = Outcome{ClaimID: id, Err: claimerr.UnavailableErr("store.HardDelete", err)}
			continue
		}
		err = hardDeleteTx(tx, id)
		if err != nil {
			tx.Rollback()
			unlock()
			results[i] = Outcome{ClaimID: id, Err: err}
			continue
		}
		if err := tx.Commit(); err != nil {
			unlock()
			results[i] = Outcome{ClaimID: id, Err: claimerr.UnavailableErr("store.HardDelete", err)}
			continue
		}
		unlock()
		if err := s.index.Delete(ctx, id); err != nil {
			results[i] = Outcome{ClaimID: id, Err: err}
			continue
		}
		results[i] = Outcome{ClaimID: id}
	}
	return results
}

// Index returns the bound vector index, for the reindex lifecycle and
// janitor suite.
func (s *Store) Index() vector.Index { return s.index }
