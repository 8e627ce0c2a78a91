// Package reindex implements the offline vector-index rebuild procedure:
// a stop-the-world administrative operation, never a side effect of
// normal API traffic. While the instance is rebuilding, writes and
// semantic reads fail with Unavailable; structural and temporal reads
// stay available.
package reindex

import (
	"context"
	"sync/atomic"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/internal/logging"
	"github.com/jdray42/boswell/internal/store"
	"github.com/jdray42/boswell/internal/vector"
)

var log = logging.GetLogger("reindex")

// State is the instance's serving mode.
type State int32

const (
	StateServing State = iota
	StateRebuilding
)

func (s State) String() string {
	if s == StateRebuilding {
		return "rebuilding"
	}
	return "serving"
}

// Gate holds the instance-wide serving state. Writes and semantic reads
// consult it and fail Unavailable while rebuilding; structural and
// temporal reads never consult it.
type Gate struct {
	state atomic.Int32
}

// NewGate constructs a Gate in the serving state.
func NewGate() *Gate {
	return &Gate{}
}

// State returns the current serving mode.
func (g *Gate) State() State {
	return State(g.state.Load())
}

// GuardWrite returns Unavailable if the instance is mid-rebuild.
func (g *Gate) GuardWrite() error {
	if g.State() == StateRebuilding {
		return claimerr.UnavailableErr("reindex.GuardWrite", nil)
	}
	return nil
}

// GuardSemanticRead returns Unavailable if the instance is mid-rebuild.
// Structural and temporal reads do not call this guard; they stay
// available throughout the rebuild.
func (g *Gate) GuardSemanticRead() error {
	if g.State() == StateRebuilding {
		return claimerr.UnavailableErr("reindex.GuardSemanticRead", nil)
	}
	return nil
}

// begin transitions serving -> rebuilding, failing Conflict if a rebuild
// is already in flight.
func (g *Gate) begin() error {
	if !g.state.CompareAndSwap(int32(StateServing), int32(StateRebuilding)) {
		return claimerr.ConflictErr("reindex.begin", nil)
	}
	return nil
}

func (g *Gate) end() {
	g.state.Store(int32(StateServing))
}

// Rebuilder drives the vector sidecar's rebuild protocol end to end: flips
// the gate to rebuilding, clears and repopulates the index by iterating
// every non-forgotten claim's stored embedding (no re-embedding; changing
// the embedding model is a separate offline procedure), then flips back.
type Rebuilder struct {
	gate  *Gate
	store *store.Store
	index vector.Index
}

// New constructs a Rebuilder over gate, store, and index.
func New(gate *Gate, st *store.Store, idx vector.Index) *Rebuilder {
	return &Rebuilder{gate: gate, store: st, index: idx}
}

// Run executes one full rebuild pass. It is the only writer of the gate's
// state transitions; callers (the admin CLI) invoke it directly rather
// than scheduling it.
func (r *Rebuilder) Run(ctx context.Context) error {
	if err := r.gate.begin(); err != nil {
		return err
	}
	defer r.gate.end()

	log.Info("reindex started")

	claims, err := r.store.QueryStructural(store.StructuralFilter{
		Statuses: []claim.Status{claim.StatusActive, claim.StatusChallenged, claim.StatusDeprecated},
	})
	if err != nil {
		log.Error("reindex source scan failed", "error", err)
		return claimerr.CorruptErr("reindex.Run", err)
	}

	byID := make(map[string][]float32, len(claims))
	order := make([]string, 0, len(claims))
	for _, c := range claims {
		if len(c.Embedding) == 0 {
			continue
		}
		byID[c.ID] = c.Embedding
		order = append(order, c.ID)
	}

	err = r.index.Rebuild(ctx, func(yield func(id string, embedding []float32) bool) error {
		for _, id := range order {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !yield(id, byID[id]) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		log.Error("reindex rebuild failed", "error", err)
		return claimerr.UnavailableErr("reindex.Run", err)
	}

	log.Info("reindex completed", "claims", len(order))
	return nil
}
