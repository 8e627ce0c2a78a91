// Package janitor implements the five background workers that reshape the
// claim graph over time: staleness decay, tier demotion, garbage
// collection, confidence recomputation, and contradiction detection. Every
// worker operates transactionally through the claim store — none of them
// touch SQL or the vector sidecar directly — and claims mutual exclusion on
// individual rows via the advisory processing flag on each claim row.
package janitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jdray42/boswell/internal/backpressure"
	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/internal/confidence"
	"github.com/jdray42/boswell/internal/logging"
	"github.com/jdray42/boswell/internal/reasoner"
	"github.com/jdray42/boswell/internal/store"
	"github.com/jdray42/boswell/pkg/config"
)

var log = logging.GetLogger("janitor")

// State is one worker's current lifecycle phase.
type State string

const (
	StateIdle     State = "idle"
	StateScanning State = "scanning"
	StateApplying State = "applying"
	StateStopping State = "stopping"
)

// Summary is the structured per-pass report every janitor produces.
type Summary struct {
	Name     string
	Scanned  int
	Modified int
	Demoted  int
	Deleted  int
	Elapsed  time.Duration
	Errors   []error
}

// Suite owns all five janitors, their cron schedules, and their shared
// shutdown coordination. Each worker runs as its own goroutine with a
// mutex-guarded state, scheduled independently with robfig/cron/v3.
type Suite struct {
	store      *store.Store
	confidence *confidence.Engine
	reasoner   reasoner.Reasoner
	cfg        config.JanitorConfig
	tiers      config.TierConfig

	owner          string
	backoffCeiling time.Duration

	mu     sync.Mutex
	states map[string]State

	cronSched *cron.Cron
	group     *errgroup.Group
	groupCtx  context.Context
}

// New builds a Suite wired to store, the shared confidence engine, and an
// optional reasoner for the contradiction-detection janitor's LLM-assisted
// step (a reasoner.Noop is fine — that step is then simply skipped).
// backoff.JanitorBackoffCeiling caps the exponential backoff the passes
// apply when retrying transient store faults.
func New(st *store.Store, confidenceEngine *confidence.Engine, r reasoner.Reasoner, cfg config.JanitorConfig, tiers config.TierConfig, backoff config.BackpressureConfig, owner string) *Suite {
	if owner == "" {
		owner = "janitor"
	}
	ceiling := backoff.JanitorBackoffCeiling
	if ceiling <= 0 {
		ceiling = 5 * time.Minute
	}
	return &Suite{
		store:          st,
		confidence:     confidenceEngine,
		reasoner:       r,
		cfg:            cfg,
		tiers:          tiers,
		owner:          owner,
		backoffCeiling: ceiling,
		states: map[string]State{
			"staleness":            StateIdle,
			"tier_migration":       StateIdle,
			"gc":                   StateIdle,
			"confidence_recompute": StateIdle,
			"contradiction":        StateIdle,
		},
	}
}

// State returns the current lifecycle phase of the named worker.
func (s *Suite) State(name string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[name]
}

// States returns a snapshot of every worker's current lifecycle phase.
func (s *Suite) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.states))
	for name, st := range s.states {
		out[name] = st
	}
	return out
}

func (s *Suite) setState(name string, st State) {
	s.mu.Lock()
	s.states[name] = st
	s.mu.Unlock()
}

// Start registers every janitor's cron schedule and begins running. ctx
// governs the whole suite's lifetime; cancelling it (or calling Stop) moves
// every worker to StateStopping at its next safe point.
func (s *Suite) Start(ctx context.Context) error {
	s.cronSched = cron.New()
	group, groupCtx := errgroup.WithContext(ctx)
	s.group = group
	s.groupCtx = groupCtx

	schedule := func(name, expr string, run func(context.Context) Summary) error {
		_, err := s.cronSched.AddFunc(expr, func() {
			select {
			case <-groupCtx.Done():
				return
			default:
			}
			summary := run(groupCtx)
			log.LogJanitorRun(summary.Name, summary.Scanned, summary.Modified, len(summary.Errors), float64(summary.Elapsed.Milliseconds()))
		})
		return err
	}

	if err := schedule("staleness", s.cfg.StalenessSchedule, s.runStaleness); err != nil {
		return err
	}
	if err := schedule("tier_migration", s.cfg.TierMigrationSchedule, s.runTierMigration); err != nil {
		return err
	}
	if err := schedule("gc", s.cfg.GCSchedule, s.runGC); err != nil {
		return err
	}
	if err := schedule("confidence_recompute", s.cfg.ConfidenceRecomputeSchedule, s.runConfidenceRecompute); err != nil {
		return err
	}
	if err := schedule("contradiction", s.cfg.ContradictionSchedule, s.runContradiction); err != nil {
		return err
	}

	s.cronSched.Start()
	log.Info("janitor suite started", "owner", s.owner)
	return nil
}

// Stop signals every worker to finish its current pass and not start
// another, then waits (bounded by ctx) for the cron scheduler to drain.
func (s *Suite) Stop(ctx context.Context) error {
	for name := range s.states {
		s.setState(name, StateStopping)
	}
	if s.cronSched == nil {
		return nil
	}
	stopCtx := s.cronSched.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.group != nil {
		return s.group.Wait()
	}
	return nil
}

// RunOnce exposes each pass for direct invocation (tests, admin CLI,
// explicit on-demand runs) bypassing the cron scheduler entirely.
func (s *Suite) RunOnce(ctx context.Context, name string) Summary {
	switch name {
	case "staleness":
		return s.runStaleness(ctx)
	case "tier_migration":
		return s.runTierMigration(ctx)
	case "gc":
		return s.runGC(ctx)
	case "confidence_recompute":
		return s.runConfidenceRecompute(ctx)
	case "contradiction":
		return s.runContradiction(ctx)
	default:
		return Summary{Name: name}
	}
}

// claimExclusive runs fn while holding the advisory processing flag on id,
// releasing it whether fn succeeds or fails. Returns false (fn not run) if
// another, non-abandoned owner already holds the flag.
func (s *Suite) claimExclusive(id string, now time.Time, fn func() error) (ran bool, err error) {
	ok, err := s.store.TryClaimProcessing(id, s.owner, now, s.cfg.ProcessingFlagAbandonedAfter)
	if err != nil || !ok {
		return false, err
	}
	defer s.store.ReleaseProcessing(id)
	return true, fn()
}

// maxRetryAttempts bounds how many times a pass retries one transient fault
// before recording it as final.
const maxRetryAttempts = 3

// retry runs fn, retrying Busy/Unavailable/Timeout faults with exponential
// backoff capped at the janitor ceiling. Every other kind — Invalid,
// NotFound, Unsupported, Corrupt — returns immediately for the pass to log
// and continue (or escalate).
func (s *Suite) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || attempt >= maxRetryAttempts {
			return err
		}
		var e *claimerr.Error
		if !errors.As(err, &e) || !e.Kind.Retryable() {
			return err
		}
		select {
		case <-time.After(backpressure.Backoff(attempt, s.backoffCeiling)):
		case <-ctx.Done():
			return err
		}
	}
}

// recordError appends err to the summary, escalating corruption with an
// error-level log: a Corrupt fault means the vector sidecar and relational
// store disagree and a forced rebuild is needed, which no janitor can do on
// its own.
func (s *Suite) recordError(summary *Summary, err error) {
	if claimerr.Is(err, claimerr.Corrupt) {
		log.Error("corruption detected during janitor pass; vector index needs a forced rebuild",
			"janitor", summary.Name, "error", err)
	}
	summary.Errors = append(summary.Errors, err)
}
