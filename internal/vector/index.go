// Package vector implements the claim engine's vector sidecar: storage of
// (claim_id, embedding) pairs, k-NN similarity search, and rebuild from an
// iterator over the relational store. Two backends satisfy the same Index
// interface: an embedded, memory-mapped flat file (the default) and an
// optional remote Qdrant collection.
package vector

import (
	"context"
	"strconv"

	"github.com/jdray42/boswell/internal/claimerr"
)

// Match is one similarity search result: a claim id and its cosine
// similarity to the query vector. Semantic queries never serve metadata,
// only ids and scores.
type Match struct {
	ClaimID    string
	Similarity float64
}

// Index is the contract both vector backends satisfy.
type Index interface {
	// Insert stores or replaces the vector for id. A dimension mismatch is
	// claimerr.Invalid.
	Insert(ctx context.Context, id string, embedding []float32) error

	// Delete removes id's vector, if present. Deleting an absent id is not
	// an error (idempotent, matching the forget operation's semantics).
	Delete(ctx context.Context, id string) error

	// Search returns up to limit matches with similarity >= threshold,
	// ordered by similarity descending, ties broken by identifier
	// descending (prefer newer).
	Search(ctx context.Context, query []float32, limit int, threshold float64) ([]Match, error)

	// Rebuild clears the index and repopulates it from src, a sequence of
	// (id, embedding) pairs. Implements the "derived projection" recovery
	// path: lost or corrupted sidecars are rebuilt from the claims table.
	Rebuild(ctx context.Context, src func(yield func(id string, embedding []float32) bool) error) error

	// Dimension returns the instance-fixed embedding width.
	Dimension() int

	// Count returns the number of vectors currently indexed.
	Count() int

	// Close releases any backing resources (file handles, mmaps, HTTP
	// clients).
	Close() error
}

// dimensionError is the shared Invalid-kind error both backends raise on a
// dimension mismatch.
func dimensionError(operation string, want, got int) error {
	return claimerr.InvalidErr(operation, dimensionMismatch{want: want, got: got})
}

type dimensionMismatch struct{ want, got int }

func (d dimensionMismatch) Error() string {
	return "vector dimension mismatch: expected " + strconv.Itoa(d.want) + ", got " + strconv.Itoa(d.got)
}
