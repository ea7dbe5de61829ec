// Package dedup orchestrates duplicate detection over a population of
// business records: batch scans, real-time checks during intake, and
// operator resolutions (merge/dismiss) that keep decided pairs from
// reappearing.
//
// The engine owns no entity storage. Candidates come from a read interface
// supplied by the caller and results go to the audit sink; both are
// injected.
package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/garde/audit"
	"github.com/hazyhaar/garde/simscore"
)

// CandidateSource supplies the record population. entityType filters to one
// of "client", "lead", "intake"; empty means all types.
type CandidateSource interface {
	FetchCandidates(ctx context.Context, entityType string) ([]simscore.CandidateRecord, error)
}

// Sink is the audit persistence consumed by the engine, implemented by
// *audit.Store.
type Sink interface {
	RecordScan(ctx context.Context, run *audit.ScanRun, matches []simscore.Match) error
	ScanHistory(ctx context.Context, entityType string, limit int) ([]audit.ScanRun, error)
	MatchByID(ctx context.Context, id string) (simscore.Match, error)
	RecordResolution(ctx context.Context, d *audit.ResolutionDecision) error
	ResolutionByHash(ctx context.Context, hash string) (*audit.ResolutionDecision, error)
	ResolvedHashes(ctx context.Context) (map[string]audit.ResolutionAction, error)
}

// Config configures an Engine.
type Config struct {
	// CheckThreshold is the minimum score reported by real-time checks
	// (default 0.7).
	CheckThreshold float64 `yaml:"check_threshold" json:"check_threshold"`

	// ScanTimeout bounds a batch scan when the caller supplies none
	// (default 30s). On expiry the scan returns partial results flagged
	// Truncated rather than hanging the caller.
	ScanTimeout time.Duration `yaml:"scan_timeout" json:"scan_timeout"`

	// Parallelism bounds concurrent pairwise scoring workers (default 4).
	Parallelism int `yaml:"parallelism" json:"parallelism"`

	// Logger for scan progress and swallowed persistence failures.
	Logger *slog.Logger `yaml:"-" json:"-"`
}

func (c *Config) defaults() {
	if c.CheckThreshold <= 0 {
		c.CheckThreshold = 0.7
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = 30 * time.Second
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine runs duplicate detection against an injected candidate population.
type Engine struct {
	src    CandidateSource
	sink   Sink
	scorer *simscore.Scorer
	keyFn  KeyFunc
	cfg    Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithScorer replaces the default scorer.
func WithScorer(s *simscore.Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithBlocking sets the pre-filter strategy for batch scans.
func WithBlocking(fn KeyFunc) Option {
	return func(e *Engine) { e.keyFn = fn }
}

// New creates an Engine.
func New(src CandidateSource, sink Sink, cfg Config, opts ...Option) *Engine {
	cfg.defaults()
	e := &Engine{
		src:    src,
		sink:   sink,
		scorer: simscore.New(simscore.Config{}),
		keyFn:  NoBlocking,
		cfg:    cfg,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ScanOptions parameterize one batch scan.
type ScanOptions struct {
	EntityType string        // empty = all types
	Threshold  float64       // minimum score to retain, must be in [0,1]
	Limit      int           // maximum matches returned (default 50)
	Timeout    time.Duration // 0 = engine default
}

// ScanResult is a completed (possibly truncated) scan.
type ScanResult struct {
	Run     audit.ScanRun    `json:"run"`
	Matches []simscore.Match `json:"matches"`
}

// Scan loads the candidate population, scores all unordered pairs within
// each blocking bucket, and returns matches at or above the threshold,
// sorted descending and truncated to the limit. Pairs with a recorded
// resolution are filtered out. The run and retained matches are persisted;
// a sink failure there is logged and swallowed, never failing the scan.
//
// Scans are O(n²) in bucket size and can be long-running: the whole pass
// runs under a timeout, and on expiry the partial result comes back with
// Run.Truncated set.
func (e *Engine) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, opts.Threshold)
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.ScanTimeout
	}

	candidates, err := e.src.FetchCandidates(ctx, opts.EntityType)
	if err != nil {
		return nil, fmt.Errorf("dedup: fetch candidates: %w", err)
	}
	resolved, err := e.sink.ResolvedHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("dedup: load resolutions: %w", err)
	}

	started := time.Now()
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	matches, truncated := e.pairwise(scanCtx, candidates, opts.Threshold, resolved)

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}

	run := audit.ScanRun{
		EntityType: opts.EntityType,
		Threshold:  opts.Threshold,
		Limit:      opts.Limit,
		StartedAt:  started,
		DurationMs: time.Since(started).Milliseconds(),
		MatchCount: len(matches),
		Truncated:  truncated,
	}
	if err := e.sink.RecordScan(ctx, &run, matches); err != nil {
		e.cfg.Logger.Warn("dedup: scan not persisted", "error", err)
	}

	return &ScanResult{Run: run, Matches: matches}, nil
}

// pairwise scores all unordered pairs bucket by bucket. Buckets run on a
// bounded worker group; results are collected under a mutex. Returns the
// retained matches and whether the pass was cut short by the context.
func (e *Engine) pairwise(ctx context.Context, candidates []simscore.CandidateRecord, threshold float64, resolved map[string]audit.ResolutionAction) ([]simscore.Match, bool) {
	buckets := map[string][]simscore.CandidateRecord{}
	for _, c := range candidates {
		key := e.keyFn(c)
		buckets[key] = append(buckets[key], c)
	}

	var (
		mu        sync.Mutex
		matches   []simscore.Match
		truncated bool
	)

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Parallelism)

	for _, bucket := range buckets {
		if len(bucket) < 2 {
			continue
		}
		g.Go(func() error {
			var local []simscore.Match
			for i := 0; i < len(bucket); i++ {
				if ctx.Err() != nil {
					mu.Lock()
					truncated = true
					matches = append(matches, local...)
					mu.Unlock()
					return nil
				}
				for j := i + 1; j < len(bucket); j++ {
					m := e.scorer.Score(bucket[i], bucket[j])
					if m.Score < threshold {
						continue
					}
					if _, done := resolved[m.ContentHash]; done {
						continue
					}
					local = append(local, m)
				}
			}
			mu.Lock()
			matches = append(matches, local...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return matches, truncated
}

// Check scores a single incoming record against the existing population in
// real time. Nothing is persisted; matches at or above the high-confidence
// threshold come back with Inline set so the caller can surface them
// immediately (e.g. "possible duplicate" on an intake form).
func (e *Engine) Check(ctx context.Context, rec simscore.CandidateRecord) ([]simscore.Match, error) {
	candidates, err := e.src.FetchCandidates(ctx, rec.EntityType)
	if err != nil {
		return nil, fmt.Errorf("dedup: fetch candidates: %w", err)
	}
	resolved, err := e.sink.ResolvedHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("dedup: load resolutions: %w", err)
	}

	high := e.scorer.Thresholds().High
	matches := []simscore.Match{}
	for _, c := range candidates {
		if c.ID != "" && c.ID == rec.ID {
			continue
		}
		m := e.scorer.Score(rec, c)
		if m.Score < e.cfg.CheckThreshold {
			continue
		}
		if _, done := resolved[m.ContentHash]; done {
			continue
		}
		if m.Score >= high {
			m.Inline = true
		}
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

// Merge marks survivorID as canonical for the matched pair. The engine's
// only guarantees are recording the decision and keeping the pair out of
// future scans; reassigning foreign keys is the entity owner's job.
func (e *Engine) Merge(ctx context.Context, matchID, survivorID string) error {
	m, err := e.loadMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if survivorID != m.RecordIDA && survivorID != m.RecordIDB {
		return fmt.Errorf("%w: %q not in match %s", ErrInvalidSurvivor, survivorID, matchID)
	}

	existing, err := e.sink.ResolutionByHash(ctx, m.ContentHash)
	if err != nil {
		return fmt.Errorf("dedup: load resolution: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, matchID)
	}

	err = e.sink.RecordResolution(ctx, &audit.ResolutionDecision{
		MatchID:     matchID,
		ContentHash: m.ContentHash,
		Action:      audit.ActionMerge,
		SurvivorID:  survivorID,
	})
	if errors.Is(err, audit.ErrResolutionExists) {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, matchID)
	}
	return err
}

// Dismiss records a dismiss decision for the match. Idempotent: dismissing
// an already-dismissed match is a no-op. The dismissal keys on the match's
// content hash, so re-scanning the same unchanged records will not
// resurrect it, while a data change on either record makes the pair
// eligible again.
func (e *Engine) Dismiss(ctx context.Context, matchID string) error {
	m, err := e.loadMatch(ctx, matchID)
	if err != nil {
		return err
	}

	existing, err := e.sink.ResolutionByHash(ctx, m.ContentHash)
	if err != nil {
		return fmt.Errorf("dedup: load resolution: %w", err)
	}
	if existing != nil {
		if existing.Action == audit.ActionDismiss {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, matchID)
	}

	err = e.sink.RecordResolution(ctx, &audit.ResolutionDecision{
		MatchID:     matchID,
		ContentHash: m.ContentHash,
		Action:      audit.ActionDismiss,
	})
	if errors.Is(err, audit.ErrResolutionExists) {
		// Lost a race; a dismiss landing twice is still a no-op.
		if again, lerr := e.sink.ResolutionByHash(ctx, m.ContentHash); lerr == nil &&
			again != nil && again.Action == audit.ActionDismiss {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, matchID)
	}
	return err
}

// History returns persisted scan runs, newest first.
func (e *Engine) History(ctx context.Context, entityType string, limit int) ([]audit.ScanRun, error) {
	return e.sink.ScanHistory(ctx, entityType, limit)
}

func (e *Engine) loadMatch(ctx context.Context, matchID string) (simscore.Match, error) {
	m, err := e.sink.MatchByID(ctx, matchID)
	if errors.Is(err, sql.ErrNoRows) {
		return simscore.Match{}, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}
	if err != nil {
		return simscore.Match{}, fmt.Errorf("dedup: load match: %w", err)
	}
	return m, nil
}
