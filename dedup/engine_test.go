package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/garde/audit"
	"github.com/hazyhaar/garde/dbopen"
	"github.com/hazyhaar/garde/simscore"
	_ "modernc.org/sqlite"
)

// memSource is an in-memory CandidateSource for tests.
type memSource struct {
	records []simscore.CandidateRecord
}

func (s *memSource) FetchCandidates(_ context.Context, entityType string) ([]simscore.CandidateRecord, error) {
	if entityType == "" {
		return s.records, nil
	}
	var out []simscore.CandidateRecord
	for _, r := range s.records {
		if r.EntityType == entityType {
			out = append(out, r)
		}
	}
	return out, nil
}

func setupEngine(t *testing.T, records []simscore.CandidateRecord, opts ...Option) (*Engine, *memSource, *audit.Store) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(audit.Schema))
	sink := audit.New(db, 100)
	t.Cleanup(func() { sink.Close() })
	src := &memSource{records: records}
	return New(src, sink, Config{}, opts...), src, sink
}

func johnAndJon() []simscore.CandidateRecord {
	return []simscore.CandidateRecord{
		{ID: "r1", EntityType: "lead", Name: "John Smith", Email: "john@co.com"},
		{ID: "r2", EntityType: "lead", Name: "Jon Smith", Email: "john@co.com"},
	}
}

func TestScan_InvalidThreshold(t *testing.T) {
	e, _, _ := setupEngine(t, nil)
	for _, th := range []float64{-0.1, 1.1, 2} {
		if _, err := e.Scan(context.Background(), ScanOptions{Threshold: th}); !errors.Is(err, ErrInvalidThreshold) {
			t.Errorf("threshold %v: expected ErrInvalidThreshold, got %v", th, err)
		}
	}
}

func TestScan_EndToEnd_HighConfidencePair(t *testing.T) {
	// WHAT: Scanning John Smith / Jon Smith sharing an email at threshold
	// 0.7 returns exactly one high-confidence match on email and name, and
	// the run lands in history.
	// WHY: This is the canonical near-duplicate the whole subsystem exists
	// to catch.
	e, _, _ := setupEngine(t, johnAndJon())
	ctx := context.Background()

	res, err := e.Scan(ctx, ScanOptions{Threshold: 0.7})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(res.Matches))
	}
	m := res.Matches[0]
	if m.Confidence != simscore.ConfidenceHigh {
		t.Errorf("confidence = %q, want high (score %v)", m.Confidence, m.Score)
	}
	got := map[string]bool{}
	for _, f := range m.MatchedFields {
		got[f] = true
	}
	if !got["email"] || !got["name"] {
		t.Errorf("matched fields = %v, want email and name", m.MatchedFields)
	}
	if res.Run.MatchCount != 1 || res.Run.Truncated {
		t.Errorf("run = %+v", res.Run)
	}

	hist, err := e.History(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 {
		t.Errorf("history = %d runs, want 1", len(hist))
	}
}

func TestScan_ThresholdFiltersAndLimitTruncates(t *testing.T) {
	records := []simscore.CandidateRecord{
		{ID: "a", Name: "Alpha Corp", Email: "x@alpha.com"},
		{ID: "b", Name: "Alpha Corp", Email: "x@alpha.com"},
		{ID: "c", Name: "Alpha Corpo", Email: "x@alpha.com"},
		{ID: "d", Name: "Completely Different", Email: "y@other.org"},
	}
	e, _, _ := setupEngine(t, records)

	res, err := e.Scan(context.Background(), ScanOptions{Threshold: 0.7, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 2 {
		t.Fatalf("matches = %d, want limit 2", len(res.Matches))
	}
	// Sorted descending by score.
	if res.Matches[0].Score < res.Matches[1].Score {
		t.Errorf("matches not sorted: %v then %v", res.Matches[0].Score, res.Matches[1].Score)
	}
}

func TestScan_TimeoutReturnsPartialTruncated(t *testing.T) {
	// WHAT: An expired scan budget yields Truncated=true and no error.
	// WHY: A long O(n²) pass must degrade to a partial result, not hang the
	// caller.
	e, _, _ := setupEngine(t, johnAndJon())

	res, err := e.Scan(context.Background(), ScanOptions{Threshold: 0.7, Timeout: time.Nanosecond})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !res.Run.Truncated {
		t.Error("expected Truncated run")
	}
}

func TestScan_DomainBlockingStillFindsPair(t *testing.T) {
	// WHAT: With domain blocking enabled, records sharing a domain are
	// still compared and matched.
	e, _, _ := setupEngine(t, johnAndJon(), WithBlocking(DomainKey))

	res, err := e.Scan(context.Background(), ScanOptions{Threshold: 0.7})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 {
		t.Errorf("matches = %d, want 1", len(res.Matches))
	}
}

func TestCheck_InlineFlagAndNoPersistence(t *testing.T) {
	// WHAT: A real-time check returns matches with Inline set at high
	// confidence and writes no scan run.
	// WHY: Check runs on the request path during intake; persisting every
	// probe would flood the audit log.
	e, _, _ := setupEngine(t, johnAndJon())
	ctx := context.Background()

	incoming := simscore.CandidateRecord{ID: "new", EntityType: "lead", Name: "John Smith", Email: "john@co.com"}
	matches, err := e.Check(ctx, incoming)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if !matches[0].Inline {
		t.Error("top match should be flagged inline")
	}

	hist, _ := e.History(ctx, "", 10)
	if len(hist) != 0 {
		t.Errorf("check persisted a scan run: %d", len(hist))
	}
}

func TestCheck_SkipsSelf(t *testing.T) {
	e, _, _ := setupEngine(t, johnAndJon())
	matches, err := e.Check(context.Background(), johnAndJon()[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range matches {
		if m.RecordIDA == m.RecordIDB {
			t.Errorf("self-match returned: %+v", m)
		}
	}
}

func scanOneMatch(t *testing.T, e *Engine) simscore.Match {
	t.Helper()
	res, err := e.Scan(context.Background(), ScanOptions{Threshold: 0.7})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(res.Matches))
	}
	return res.Matches[0]
}

func TestDismiss_IdempotentAndNoResurrection(t *testing.T) {
	// WHAT: Dismissing twice is a no-op, and re-scanning identical records
	// does not resurrect the dismissed match.
	// WHY: Operator decisions are terminal for a given data state; a scan
	// that keeps resurfacing dismissed pairs trains operators to ignore it.
	e, src, _ := setupEngine(t, johnAndJon())
	ctx := context.Background()

	m := scanOneMatch(t, e)

	if err := e.Dismiss(ctx, m.ID); err != nil {
		t.Fatalf("first dismiss: %v", err)
	}
	if err := e.Dismiss(ctx, m.ID); err != nil {
		t.Fatalf("second dismiss should be a no-op: %v", err)
	}

	res, err := e.Scan(ctx, ScanOptions{Threshold: 0.7})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 0 {
		t.Errorf("dismissed match resurrected: %+v", res.Matches)
	}

	// A data change on either record re-keys the pair and makes it
	// eligible again.
	src.records[1].Name = "Jonathan Smith"
	res, err = e.Scan(ctx, ScanOptions{Threshold: 0.7})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 {
		t.Errorf("changed pair should reappear, got %d matches", len(res.Matches))
	}
}

func TestMerge_RecordsDecisionAndRejectsSecond(t *testing.T) {
	e, _, _ := setupEngine(t, johnAndJon())
	ctx := context.Background()

	m := scanOneMatch(t, e)

	if err := e.Merge(ctx, m.ID, m.RecordIDA); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := e.Merge(ctx, m.ID, m.RecordIDB); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved, got %v", err)
	}
	// A dismiss after a merge is also rejected — the pair is terminal.
	if err := e.Dismiss(ctx, m.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved on dismiss after merge, got %v", err)
	}

	// Merged pair stays out of future scans.
	res, err := e.Scan(ctx, ScanOptions{Threshold: 0.7})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 0 {
		t.Errorf("merged pair reappeared: %+v", res.Matches)
	}
}

func TestMerge_UnknownMatch(t *testing.T) {
	e, _, _ := setupEngine(t, nil)
	if err := e.Merge(context.Background(), "match_missing", "r1"); !errors.Is(err, ErrMatchNotFound) {
		t.Errorf("expected ErrMatchNotFound, got %v", err)
	}
}

func TestMerge_SurvivorMustBeInPair(t *testing.T) {
	e, _, _ := setupEngine(t, johnAndJon())
	m := scanOneMatch(t, e)
	if err := e.Merge(context.Background(), m.ID, "stranger"); !errors.Is(err, ErrInvalidSurvivor) {
		t.Errorf("expected ErrInvalidSurvivor, got %v", err)
	}
}
