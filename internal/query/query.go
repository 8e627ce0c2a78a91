// Package query implements the core's query operation: a single entry
// point dispatching across the claim store's structural, semantic, and
// temporal read paths, combined with the common filters every mode shares
// (namespace pattern, tier, status, confidence floor) and an optional
// deliberate-mode reasoner pass. A single query may combine structural,
// semantic, and temporal constraints in one call; the matched sets are
// unioned by id and then narrowed by the shared filters.
package query

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jdray42/boswell/internal/claim"
	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/internal/confidence"
	"github.com/jdray42/boswell/internal/reasoner"
	"github.com/jdray42/boswell/internal/store"
)

// StructuralParams binds the structural query's triple fields.
type StructuralParams struct {
	Subject   string
	Predicate string
	Object    string
}

// SemanticParams binds the semantic query's vector and ranking controls.
type SemanticParams struct {
	Embedding []float32
	Limit     int
	Threshold float64
}

// TemporalParams bounds a query by claim validity and creation time. Until
// selects the as-of instant for the interval check the store performs
// (valid_from/valid_until); Since additionally filters to claims created
// at or after that time, since the store's own QueryTemporal answers
// "what was true at this instant" rather than an identifier range scan.
type TemporalParams struct {
	Since *time.Time
	Until *time.Time
}

// Options is the query operation's full parameter set; every field is
// optional except that at least one of Structural, Semantic, Temporal, or
// NamespacePattern must be set, or the query is rejected as Invalid.
type Options struct {
	Structural       *StructuralParams
	Semantic         *SemanticParams
	Temporal         *TemporalParams
	NamespacePattern string
	Tiers            []claim.Tier
	Statuses         []claim.Status
	MinLo            *float64
	MinHi            *float64
	Limit            int

	// Deliberate requests the reasoner-assisted, query-contextual
	// confidence pass. QueryText
	// supplies the natural-language query the reasoner reasons about; the
	// cached fast-path interval is never overwritten by its result.
	Deliberate bool
	QueryText  string
}

// ClaimResult pairs a claim with its effective confidence and, when the
// query ran in semantic or deliberate mode, the similarity score and
// reasoner narrative respectively.
type ClaimResult struct {
	Claim      *claim.Claim
	EffLo      float64
	EffHi      float64
	Similarity *float64
	Reasoning  string
}

// Coverage reports how much of the matching set survived ranking and the
// limit, so callers can tell a truncated result from a complete one.
type Coverage struct {
	Matched  int
	Returned int
}

// Result is the query operation's return shape.
type Result struct {
	Claims    []ClaimResult
	Narrative string
	Coverage  Coverage
}

// Engine answers query operations against a claim store and its
// confidence engine, with an optional reasoner for deliberate mode.
type Engine struct {
	store      *store.Store
	confidence *confidence.Engine
	reasoner   reasoner.Reasoner
}

// New constructs a query Engine. r may be reasoner.NewNoop(); deliberate
// mode then degenerates to the fast-path result with no narrative.
func New(st *store.Store, confidenceEngine *confidence.Engine, r reasoner.Reasoner) *Engine {
	return &Engine{store: st, confidence: confidenceEngine, reasoner: r}
}

var depthPattern = regexp.MustCompile(`^(.*)/\*/(\d+)$`)

// parseNamespacePattern recognizes three namespace modes:
// an exact scope, "scope/*" for unbounded recursive, and "scope/*/k" for
// depth-bounded recursive. Depth is returned as claim.NamespaceMatches
// expects it: 0 exact, <0 unbounded, >0 bounded.
func parseNamespacePattern(pattern string) (scope string, depth int, err error) {
	if pattern == "" {
		return "", 0, nil
	}
	if m := depthPattern.FindStringSubmatch(pattern); m != nil {
		k, convErr := strconv.Atoi(m[2])
		if convErr != nil || k < 0 {
			return "", 0, claimerr.InvalidErr("query.parseNamespacePattern", fmt.Errorf("invalid depth in pattern %q", pattern))
		}
		return m[1], k, nil
	}
	if strings.HasSuffix(pattern, "/*") {
		return strings.TrimSuffix(pattern, "/*"), -1, nil
	}
	return pattern, 0, nil
}

// Query dispatches across every requested mode, unions the results by
// claim id, narrows to the common filters, and optionally runs the
// deliberate-mode reasoner pass.
func (e *Engine) Query(ctx context.Context, opts Options) (Result, error) {
	scope, depth, err := parseNamespacePattern(opts.NamespacePattern)
	if err != nil {
		return Result{}, err
	}

	matched := make(map[string]*claim.Claim)
	similarity := make(map[string]float64)

	ranAnyMode := false

	if opts.Structural != nil {
		ranAnyMode = true
		statuses := opts.Statuses
		if len(statuses) == 0 {
			statuses = []claim.Status{claim.StatusActive, claim.StatusChallenged}
		}
		filter := store.StructuralFilter{
			Subject:        opts.Structural.Subject,
			Predicate:      opts.Structural.Predicate,
			Object:         opts.Structural.Object,
			NamespaceScope: scope,
			NamespaceDepth: depth,
			Tiers:          opts.Tiers,
			Statuses:       statuses,
			Limit:          opts.Limit,
		}
		if opts.MinLo != nil {
			filter.HasMinLo = true
			filter.MinLo = *opts.MinLo
		}
		if opts.MinHi != nil {
			filter.HasMinHi = true
			filter.MinHi = *opts.MinHi
		}
		claims, err := e.store.QueryStructural(filter)
		if err != nil {
			return Result{}, err
		}
		for _, c := range claims {
			matched[c.ID] = c
		}
	}

	if opts.Semantic != nil {
		ranAnyMode = true
		limit := opts.Semantic.Limit
		if limit <= 0 {
			limit = 50
		}
		matches, err := e.store.QuerySemantic(ctx, opts.Semantic.Embedding, limit, opts.Semantic.Threshold, opts.Statuses)
		if err != nil {
			return Result{}, err
		}
		for _, m := range matches {
			if scope != "" && !claim.NamespaceMatches(m.Claim.Namespace, scope, depth) {
				continue
			}
			if !tierAllowed(m.Claim.Tier, opts.Tiers) {
				continue
			}
			matched[m.Claim.ID] = m.Claim
			similarity[m.Claim.ID] = m.Similarity
		}
	}

	if opts.Temporal != nil {
		ranAnyMode = true
		at := time.Now().UTC()
		if opts.Temporal.Until != nil {
			at = *opts.Temporal.Until
		}
		claims, err := e.store.QueryTemporal(scope, depth, at)
		if err != nil {
			return Result{}, err
		}
		for _, c := range claims {
			if opts.Temporal.Since != nil && c.CreatedAt.Before(*opts.Temporal.Since) {
				continue
			}
			if !tierAllowed(c.Tier, opts.Tiers) {
				continue
			}
			if !statusAllowed(c.Status, opts.Statuses) {
				continue
			}
			matched[c.ID] = c
		}
	}

	if !ranAnyMode {
		if scope == "" {
			return Result{}, claimerr.InvalidErr("query.Query", fmt.Errorf("at least one of structural, semantic, temporal, or namespace_pattern is required"))
		}
		statuses := opts.Statuses
		if len(statuses) == 0 {
			statuses = []claim.Status{claim.StatusActive, claim.StatusChallenged}
		}
		filter := store.StructuralFilter{
			NamespaceScope: scope,
			NamespaceDepth: depth,
			Tiers:          opts.Tiers,
			Statuses:       statuses,
			Limit:          opts.Limit,
		}
		if opts.MinLo != nil {
			filter.HasMinLo = true
			filter.MinLo = *opts.MinLo
		}
		if opts.MinHi != nil {
			filter.HasMinHi = true
			filter.MinHi = *opts.MinHi
		}
		claims, err := e.store.QueryStructural(filter)
		if err != nil {
			return Result{}, err
		}
		for _, c := range claims {
			matched[c.ID] = c
		}
	}

	results := make([]ClaimResult, 0, len(matched))
	for id, c := range matched {
		effResult, err := e.confidence.Compute(ctx, c)
		if err != nil {
			return Result{}, err
		}
		if opts.MinLo != nil && effResult.EffLo < *opts.MinLo {
			continue
		}
		if opts.MinHi != nil && effResult.EffHi < *opts.MinHi {
			continue
		}
		cr := ClaimResult{Claim: c, EffLo: effResult.EffLo, EffHi: effResult.EffHi}
		if sim, ok := similarity[id]; ok {
			s := sim
			cr.Similarity = &s
		}
		results = append(results, cr)
	}

	sortResults(results)

	totalMatched := len(results)
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	result := Result{
		Claims:   results,
		Coverage: Coverage{Matched: totalMatched, Returned: len(results)},
	}

	if opts.Deliberate {
		narrative, err := e.applyDeliberate(ctx, opts.QueryText, result.Claims)
		if err != nil && !claimerr.Is(err, claimerr.Unsupported) {
			return Result{}, err
		}
		result.Narrative = narrative
	}

	return result, nil
}

// applyDeliberate runs the reasoner's query-contextual confidence pass and
// attaches reasoning to each result, without touching the confidence
// cache. Returns Unsupported (swallowed by the caller) when no reasoner is
// bound or it is currently unavailable.
func (e *Engine) applyDeliberate(ctx context.Context, queryText string, results []ClaimResult) (string, error) {
	if e.reasoner == nil || !e.reasoner.IsAvailable(ctx) {
		return "", claimerr.UnsupportedErr("query.applyDeliberate", fmt.Errorf("no reasoner bound"))
	}
	claims := make([]claim.Claim, 0, len(results))
	for _, r := range results {
		claims = append(claims, *r.Claim)
	}
	evaluated, err := e.reasoner.EvaluateConfidence(ctx, claims, reasoner.QueryContext{Query: queryText, Now: time.Now().UTC()})
	if err != nil {
		return "", err
	}
	byID := make(map[string]reasoner.IntervalWithReasoning, len(evaluated))
	for _, iv := range evaluated {
		byID[iv.ClaimID] = iv
	}
	var narrative strings.Builder
	for i := range results {
		iv, ok := byID[results[i].Claim.ID]
		if !ok {
			continue
		}
		results[i].EffLo = iv.Interval.Lo
		results[i].EffHi = iv.Interval.Hi
		results[i].Reasoning = iv.Reasoning
		if iv.Reasoning != "" {
			if narrative.Len() > 0 {
				narrative.WriteString(" ")
			}
			narrative.WriteString(iv.Reasoning)
		}
	}
	return narrative.String(), nil
}

func tierAllowed(t claim.Tier, allowed []claim.Tier) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}

func statusAllowed(st claim.Status, allowed []claim.Status) bool {
	if len(allowed) == 0 {
		return st == claim.StatusActive || st == claim.StatusChallenged
	}
	for _, a := range allowed {
		if a == st {
			return true
		}
	}
	return false
}

// sortResults breaks ties deterministically: semantic results (similarity
// present) by similarity descending then id descending; pure structural
// or temporal results by id ascending.
func sortResults(results []ClaimResult) {
	hasSimilarity := false
	for _, r := range results {
		if r.Similarity != nil {
			hasSimilarity = true
			break
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if hasSimilarity {
			si, sj := similarityOf(results[i]), similarityOf(results[j])
			if si != sj {
				return si > sj
			}
			return results[i].Claim.ID > results[j].Claim.ID
		}
		return results[i].Claim.ID < results[j].Claim.ID
	})
}

func similarityOf(r ClaimResult) float64 {
	if r.Similarity == nil {
		return 0
	}
	return *r.Similarity
}
