// Package claim defines the value types, identifiers, and invariants shared
// by every other component of the claim engine: Claim itself, its
// confidence interval, provenance entries, relationships, tiers, and
// statuses. Nothing in this package touches storage; it is pure data plus
// validation.
package claim

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Tier is a claim's lifecycle class. Tiers only rise via the gatekeeper and
// only fall via the janitor or an explicit demotion; a plain write never
// changes one.
type Tier string

const (
	TierEphemeral Tier = "ephemeral"
	TierTask      Tier = "task"
	TierProject   Tier = "project"
	TierPermanent Tier = "permanent"
)

var tierOrder = map[Tier]int{
	TierEphemeral: 0,
	TierTask:      1,
	TierProject:   2,
	TierPermanent: 3,
}

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool {
	_, ok := tierOrder[t]
	return ok
}

// Rank returns the tier's position in the lifecycle order, ephemeral lowest.
func (t Tier) Rank() int { return tierOrder[t] }

// Below reports whether t is strictly below other in the lifecycle order.
func (t Tier) Below(other Tier) bool { return t.Rank() < other.Rank() }

// Next returns the tier one step above t, and false if t is already
// permanent.
func (t Tier) Next() (Tier, bool) {
	switch t {
	case TierEphemeral:
		return TierTask, true
	case TierTask:
		return TierProject, true
	case TierProject:
		return TierPermanent, true
	default:
		return "", false
	}
}

// Status is a claim's lifecycle status.
type Status string

const (
	StatusActive     Status = "active"
	StatusChallenged Status = "challenged"
	StatusDeprecated Status = "deprecated"
	StatusForgotten  Status = "forgotten"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusChallenged, StatusDeprecated, StatusForgotten:
		return true
	default:
		return false
	}
}

// legalStatusTransitions enumerates the status machine.
var legalStatusTransitions = map[Status]map[Status]bool{
	StatusActive:     {StatusChallenged: true, StatusDeprecated: true, StatusForgotten: true},
	StatusChallenged: {StatusActive: true, StatusDeprecated: true, StatusForgotten: true},
	StatusDeprecated: {StatusForgotten: true},
	StatusForgotten:  {},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal status
// transition. Any other transition is a fatal Invalid error for the caller.
func CanTransition(from, to Status) bool {
	next, ok := legalStatusTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// SourceType enumerates the provenance entry's origin kinds.
type SourceType string

const (
	SourceExtraction       SourceType = "extraction"
	SourceAgentAssertion   SourceType = "agent_assertion"
	SourceUserInput        SourceType = "user_input"
	SourceInference        SourceType = "inference"
	SourceCorroboration    SourceType = "corroboration"
	SourceDirectLoad       SourceType = "direct_load"
	SourceGatekeeperReason SourceType = "gatekeeper_reasoning"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceExtraction, SourceAgentAssertion, SourceUserInput, SourceInference,
		SourceCorroboration, SourceDirectLoad, SourceGatekeeperReason:
		return true
	default:
		return false
	}
}

// RelationType enumerates the six directed pairwise relationship kinds.
type RelationType string

const (
	RelationSupports    RelationType = "supports"
	RelationContradicts RelationType = "contradicts"
	RelationRefines     RelationType = "refines"
	RelationSupersedes  RelationType = "supersedes"
	RelationDerivedFrom RelationType = "derived_from"
	RelationRelatedTo   RelationType = "related_to"
)

// RelationTypes lists every valid relationship type, for API enumeration.
var RelationTypes = []RelationType{
	RelationSupports, RelationContradicts, RelationRefines,
	RelationSupersedes, RelationDerivedFrom, RelationRelatedTo,
}

func (r RelationType) Valid() bool {
	switch r {
	case RelationSupports, RelationContradicts, RelationRefines,
		RelationSupersedes, RelationDerivedFrom, RelationRelatedTo:
		return true
	default:
		return false
	}
}

// Interval is a confidence interval [Lo, Hi] with 0 <= Lo <= Hi <= 1.
type Interval struct {
	Lo float64
	Hi float64
}

// Valid reports whether 0 <= Lo <= Hi <= 1.
func (i Interval) Valid() bool {
	return i.Lo >= 0 && i.Hi <= 1 && i.Lo <= i.Hi
}

// Clamp returns a copy of i with both bounds clamped to [0,1] and Lo capped
// at Hi, restoring Lo <= Hi after arithmetic that may have violated it.
func (i Interval) Clamp() Interval {
	lo, hi := i.Lo, i.Hi
	if lo < 0 {
		lo = 0
	}
	if hi > 1 {
		hi = 1
	}
	if lo > hi {
		lo = hi
	}
	return Interval{Lo: lo, Hi: hi}
}

// ValidateSynthesizedInterval enforces the derived-claim confidence rule:
// a claim synthesized from parents must be at least as uncertain as they
// are, so its base interval may not exceed lo = min(parents.lo) or
// hi = max(parents.hi). Uncertainty propagates outward, never shrinks.
func ValidateSynthesizedInterval(derived Interval, parents []Interval) error {
	if len(parents) == 0 {
		return fmt.Errorf("synthesized claim needs at least one parent")
	}
	minLo, maxHi := parents[0].Lo, parents[0].Hi
	for _, p := range parents[1:] {
		if p.Lo < minLo {
			minLo = p.Lo
		}
		if p.Hi > maxHi {
			maxHi = p.Hi
		}
	}
	if derived.Lo > minLo {
		return fmt.Errorf("synthesized lo %.3f exceeds min parent lo %.3f", derived.Lo, minLo)
	}
	if derived.Hi > maxHi {
		return fmt.Errorf("synthesized hi %.3f exceeds max parent hi %.3f", derived.Hi, maxHi)
	}
	return nil
}

// Triple is the semantic subject-predicate-object assertion a claim makes.
type Triple struct {
	Subject   string
	Predicate string
	Object    string
}

// Normalized returns a copy with each field trimmed, used for structural
// equality comparisons during duplicate detection (case-sensitive,
// trimmed).
func (t Triple) Normalized() Triple {
	return Triple{
		Subject:   strings.TrimSpace(t.Subject),
		Predicate: strings.TrimSpace(t.Predicate),
		Object:    strings.TrimSpace(t.Object),
	}
}

func (t Triple) Empty() bool {
	n := t.Normalized()
	return n.Subject == "" || n.Predicate == "" || n.Object == ""
}

func (t Triple) Equal(other Triple) bool {
	a, b := t.Normalized(), other.Normalized()
	return a == b
}

// Provenance is one source-of-support entry for a claim.
type Provenance struct {
	ID                     string
	ClaimID                string
	SourceType             SourceType
	SourceID               string
	Timestamp              time.Time
	ConfidenceContribution float64
	Context                string
}

// Relationship is a directed, pairwise edge between two claims.
type Relationship struct {
	ID            string
	SourceClaimID string
	TargetClaimID string
	RelationType  RelationType
	Strength      float64
	CreatedAt     time.Time
}

// Claim is the fundamental unit of knowledge: a semantic triple with
// confidence, provenance, and lifecycle.
type Claim struct {
	ID             string
	Triple         Triple
	RawExpression  string
	Embedding      []float32
	BaseConfidence Interval
	Namespace      string
	Tier           Tier
	CreatedAt      time.Time
	LastAccessed   time.Time
	AccessCount    int64
	LastModified   time.Time
	StalenessAt    time.Time
	TTL            *time.Duration
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	Status         Status

	// ProcessingFlagAt is the advisory janitor mutual-exclusion marker;
	// zero value means unclaimed.
	ProcessingFlagAt time.Time
	ProcessingOwner  string
}

// NamespaceDepth returns the namespace's slash count, the measure the
// configurable depth bound is evaluated against.
func NamespaceDepth(ns string) int {
	ns = strings.Trim(ns, "/")
	if ns == "" {
		return 0
	}
	return strings.Count(ns, "/")
}

// NamespaceMatches implements the three matching modes:
// exact (maxDepth == 0 and candidate == scope), recursive (maxDepth < 0),
// and depth-limited (maxDepth > 0, "s/*/k").
func NamespaceMatches(candidate, scope string, maxDepth int) bool {
	if candidate == scope {
		return true
	}
	if maxDepth == 0 {
		return false
	}
	prefix := scope + "/"
	if !strings.HasPrefix(candidate, prefix) {
		return false
	}
	if maxDepth < 0 {
		return true
	}
	extra := NamespaceDepth(candidate) - NamespaceDepth(scope)
	return extra <= maxDepth
}

// idEntropy is a per-process monotonic entropy source shared by all
// generators in this package: within the same
// millisecond on the same writer, the random portion strictly increases.
var (
	idEntropyMu sync.Mutex
	idEntropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a new 128-bit chronologically sortable claim identifier.
// The high bits are the creation millisecond; within a millisecond on this
// process, successive calls are guaranteed strictly increasing by the
// monotonic entropy source.
func NewID(now time.Time) string {
	idEntropyMu.Lock()
	defer idEntropyMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(now), idEntropy)
	return id.String()
}

// IDTime extracts the creation millisecond encoded in a claim id.
func IDTime(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse claim id: %w", err)
	}
	return ulid.Time(parsed.Time()), nil
}

// NewAuxID generates a random UUID identifier for provenance, relationship,
// and event-log rows, which need uniqueness but not chronological
// sortability.
func NewAuxID() string {
	return uuid.NewString()
}

// RandomFloat returns a cryptographically unbiased float in [0,1), used by
// callers that need jitter without a global math/rand singleton.
func RandomFloat() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / float64(int64(1)<<53)
}
