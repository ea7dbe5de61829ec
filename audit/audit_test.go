package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/garde/dbopen"
	"github.com/hazyhaar/garde/simscore"
	_ "modernc.org/sqlite"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	s := New(db, 100)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordScan_RoundTrip(t *testing.T) {
	// WHAT: A scan run and its matches persist and come back via
	// ScanHistory and MatchByID.
	s := setupStore(t)
	ctx := context.Background()

	run := &ScanRun{
		EntityType: "client",
		Threshold:  0.7,
		Limit:      50,
		StartedAt:  time.Now(),
		DurationMs: 12,
		MatchCount: 1,
	}
	matches := []simscore.Match{{
		RecordIDA:     "a",
		RecordIDB:     "b",
		Score:         0.91,
		MatchedFields: []string{"email", "name"},
		Confidence:    simscore.ConfidenceHigh,
		ContentHash:   "hash1",
	}}
	if err := s.RecordScan(ctx, run, matches); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}
	if run.ID == "" || matches[0].ID == "" {
		t.Fatal("IDs were not filled in")
	}

	hist, err := s.ScanHistory(ctx, "client", 10)
	if err != nil {
		t.Fatalf("ScanHistory: %v", err)
	}
	if len(hist) != 1 || hist[0].ID != run.ID || hist[0].MatchCount != 1 {
		t.Errorf("history = %+v", hist)
	}

	m, err := s.MatchByID(ctx, matches[0].ID)
	if err != nil {
		t.Fatalf("MatchByID: %v", err)
	}
	if m.ContentHash != "hash1" || m.Confidence != simscore.ConfidenceHigh {
		t.Errorf("match = %+v", m)
	}
	if len(m.MatchedFields) != 2 {
		t.Errorf("matched fields = %v", m.MatchedFields)
	}
}

func TestScanHistory_EntityTypeFilter(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, et := range []string{"client", "lead", "client"} {
		run := &ScanRun{EntityType: et, Threshold: 0.7, Limit: 10, StartedAt: time.Now()}
		if err := s.RecordScan(ctx, run, nil); err != nil {
			t.Fatal(err)
		}
	}
	hist, err := s.ScanHistory(ctx, "client", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Errorf("filtered history = %d runs, want 2", len(hist))
	}
}

func TestMatchByID_Unknown(t *testing.T) {
	s := setupStore(t)
	if _, err := s.MatchByID(context.Background(), "match_nope"); err == nil {
		t.Fatal("expected error for unknown match")
	}
}

func TestRecordResolution_UniquePerHash(t *testing.T) {
	// WHAT: A second decision for the same content hash fails with
	// ErrResolutionExists.
	// WHY: Resolutions are terminal; the UNIQUE constraint is the race-safe
	// backstop behind the engine's AlreadyResolved check.
	s := setupStore(t)
	ctx := context.Background()

	d1 := &ResolutionDecision{MatchID: "m1", ContentHash: "h1", Action: ActionMerge, SurvivorID: "a"}
	if err := s.RecordResolution(ctx, d1); err != nil {
		t.Fatalf("first resolution: %v", err)
	}

	d2 := &ResolutionDecision{MatchID: "m1", ContentHash: "h1", Action: ActionDismiss}
	if err := s.RecordResolution(ctx, d2); !errors.Is(err, ErrResolutionExists) {
		t.Fatalf("expected ErrResolutionExists, got %v", err)
	}

	got, err := s.ResolutionByHash(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Action != ActionMerge {
		t.Errorf("resolution = %+v, want merge", got)
	}
}

func TestResolutionByHash_Unresolved(t *testing.T) {
	s := setupStore(t)
	got, err := s.ResolutionByHash(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil for unresolved hash, got %+v", got)
	}
}

func TestBlocks_ActiveSemantics(t *testing.T) {
	// WHAT: ActiveBlocks returns permanent and future-expiring blocks but
	// not expired ones; Unblock removes a block.
	// WHY: An expired temporary block must stop denying requests without
	// any explicit cleanup step.
	s := setupStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	blocks := []*BlockedIdentity{
		{IP: "10.0.0.1", Reason: "abuse"},                      // permanent
		{IP: "10.0.0.2", Reason: "temp", ExpiresAt: &future},   // active
		{IP: "10.0.0.3", Reason: "expired", ExpiresAt: &past},  // expired
	}
	for _, b := range blocks {
		if err := s.Block(ctx, b); err != nil {
			t.Fatalf("Block(%s): %v", b.IP, err)
		}
	}

	active, err := s.ActiveBlocks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ips := map[string]bool{}
	for _, b := range active {
		ips[b.IP] = true
	}
	if !ips["10.0.0.1"] || !ips["10.0.0.2"] || ips["10.0.0.3"] {
		t.Errorf("active blocks = %v", ips)
	}

	if err := s.Unblock(ctx, "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	active, _ = s.ActiveBlocks(ctx)
	for _, b := range active {
		if b.IP == "10.0.0.1" {
			t.Error("unblocked IP still active")
		}
	}
}

func TestLogThreat_AsyncPersists(t *testing.T) {
	// WHAT: Queued threat events are written once the store drains on Close.
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	s := New(db, 10)

	s.LogThreat(&ThreatEvent{Pattern: "script_tag", Category: "xss", TruncatedInput: "<script>"})
	s.LogRateLimit(&RateLimitEvent{Key: "1.2.3.4", Route: "/api/x", Allowed: false, Count: 6})
	s.Close()

	events, err := s.ThreatEvents(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Pattern != "script_tag" {
		t.Errorf("threat events = %+v", events)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM rate_limit_events`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("rate limit events = %d, want 1", count)
	}
}

func TestCleanup_SweepsOnlyEventTables(t *testing.T) {
	// WHAT: Cleanup deletes threat and rate-limit events past retention but
	// leaves scan history and resolutions alone.
	s := setupStore(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -10)
	s.LogThreat(&ThreatEvent{Pattern: "script_tag", Category: "xss", Timestamp: old})
	s.LogRateLimit(&RateLimitEvent{Key: "1.2.3.4", Timestamp: old})
	s.LogThreat(&ThreatEvent{Pattern: "sql_comment", Category: "sqli"})

	run := &ScanRun{EntityType: "client", StartedAt: old}
	if err := s.RecordScan(ctx, run, nil); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}

	s.Close() // drain queued events before sweeping

	n, err := s.Cleanup(ctx, 7)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	events, err := s.ThreatEvents(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Pattern != "sql_comment" {
		t.Errorf("remaining threat events = %+v", events)
	}

	hist, err := s.ScanHistory(ctx, "client", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 {
		t.Errorf("scan history swept: %+v", hist)
	}
}

func TestClose_Idempotent(t *testing.T) {
	// WHAT: Close may be called more than once. Callers close the sink
	// explicitly to force a drain while a defer closes it again on teardown;
	// the second call must wait and return nil, not panic.
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	s := New(db, 10)

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestWithIDGenerator_PrefixesApplied(t *testing.T) {
	// WHAT: A custom base generator still gets the record-type prefixes
	// layered on top.
	n := 0
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	s := New(db, 10, WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("%04d", n)
	}))
	t.Cleanup(func() { s.Close() })

	e := &ThreatEvent{Pattern: "script_tag", Category: "xss", Severity: "critical"}
	s.LogThreat(e)
	if !strings.HasPrefix(e.ID, "thr_") {
		t.Errorf("threat ID = %q, want thr_ prefix", e.ID)
	}

	run := &ScanRun{EntityType: "client", StartedAt: time.Now()}
	matches := []simscore.Match{{RecordIDA: "a", RecordIDB: "b", ContentHash: "h"}}
	if err := s.RecordScan(context.Background(), run, matches); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}
	if !strings.HasPrefix(run.ID, "scan_") {
		t.Errorf("run ID = %q, want scan_ prefix", run.ID)
	}
	if !strings.HasPrefix(matches[0].ID, "match_") {
		t.Errorf("match ID = %q, want match_ prefix", matches[0].ID)
	}
}

func TestBlockedIdentity_Active(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if !(BlockedIdentity{IP: "x"}).Active(now) {
		t.Error("permanent block should be active")
	}
	if !(BlockedIdentity{IP: "x", ExpiresAt: &future}).Active(now) {
		t.Error("future expiry should be active")
	}
	if (BlockedIdentity{IP: "x", ExpiresAt: &past}).Active(now) {
		t.Error("past expiry should be inactive")
	}
}
