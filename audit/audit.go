// Package audit is garde's durable sink for scan runs, resolution decisions,
// threat events, rate-limit events, and persistent IP blocks.
//
// Writes split into two classes. Data-quality decisions (scan runs,
// resolutions, blocks) are written synchronously because later reads depend
// on them. Event logging (threats, rate-limit decisions) is fire-and-forget
// through a buffered channel: a slow or unavailable sink must never delay an
// allow/deny decision or fail a user-facing request.
package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/garde/dbopen"
	"github.com/hazyhaar/garde/idgen"
)

// Store persists audit records to SQLite.
type Store struct {
	db        *sql.DB
	newID     idgen.Generator
	threatID  idgen.Generator
	rlID      idgen.Generator
	scanID    idgen.Generator
	matchID   idgen.Generator
	resID     idgen.Generator
	ch        chan any
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets a custom base ID generator. Record-type prefixes
// ("scan_", "match_", "thr_", ...) are applied on top of it.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// New creates a Store and starts its async flush goroutine.
// Recommended bufferSize: 1000. Call Close to drain and stop.
func New(db *sql.DB, bufferSize int, opts ...Option) *Store {
	s := &Store{
		db:    db,
		newID: idgen.Default,
		ch:    make(chan any, bufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.threatID = idgen.Prefixed("thr_", s.newID)
	s.rlID = idgen.Prefixed("rl_", s.newID)
	s.scanID = idgen.Prefixed("scan_", s.newID)
	s.matchID = idgen.Prefixed("match_", s.newID)
	s.resID = idgen.Prefixed("res_", s.newID)
	go s.flushLoop()
	return s
}

// LogThreat queues a threat event for async persistence. Falls back to a
// synchronous insert when the buffer is full; insert failures are logged and
// swallowed, never propagated.
func (s *Store) LogThreat(e *ThreatEvent) {
	if e.ID == "" {
		e.ID = s.threatID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.enqueue(e)
}

// LogRateLimit queues a rate-limit decision event for async persistence.
// Same fire-and-forget contract as LogThreat.
func (s *Store) LogRateLimit(e *RateLimitEvent) {
	if e.ID == "" {
		e.ID = s.rlID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.enqueue(e)
}

func (s *Store) enqueue(e any) {
	select {
	case s.ch <- e:
	default:
		slog.Warn("audit: buffer full, sync fallback")
		if err := s.insertEvent(context.Background(), e); err != nil {
			slog.Error("audit: sync fallback failed", "error", err)
		}
	}
}

// Cleanup deletes threat and rate-limit events older than retentionDays.
// Scan history and resolutions are kept: resolutions are load-bearing for
// dedup semantics, not just audit.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	var total int64
	for _, table := range []string{"threat_events", "rate_limit_events"} {
		res, err := dbopen.Exec(ctx, s.db, "DELETE FROM "+table+" WHERE created_at < ?", threshold)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Close drains the event buffer and stops the flush goroutine. Safe to call
// more than once; later calls wait for the first drain and return nil.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *Store) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	batch := make([]any, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			slog.Error("audit: begin tx", "error", err)
			return
		}
		for _, e := range batch {
			if err := insertEventTx(ctx, tx, e); err != nil {
				slog.Error("audit: insert event", "error", err)
			}
		}
		if err := tx.Commit(); err != nil {
			slog.Error("audit: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-s.stop:
			for {
				select {
				case e := <-s.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-s.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Store) insertEvent(ctx context.Context, e any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := insertEventTx(ctx, tx, e); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertEventTx(ctx context.Context, tx *sql.Tx, e any) error {
	switch ev := e.(type) {
	case *ThreatEvent:
		_, err := tx.ExecContext(ctx, `INSERT INTO threat_events
			(id, pattern, category, severity, field_name, truncated_input, ip, user_agent, created_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			ev.ID, ev.Pattern, ev.Category, ev.Severity, ev.FieldName,
			ev.TruncatedInput, ev.IP, ev.UserAgent, ev.Timestamp.UnixMilli())
		return err
	case *RateLimitEvent:
		allowed := 0
		if ev.Allowed {
			allowed = 1
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO rate_limit_events
			(id, key, route, allowed, count, created_at)
			VALUES (?,?,?,?,?,?)`,
			ev.ID, ev.Key, ev.Route, allowed, ev.Count, ev.Timestamp.UnixMilli())
		return err
	default:
		slog.Error("audit: unknown event type", "type", e)
		return nil
	}
}

// ThreatEvents returns the most recent threat events, newest first.
func (s *Store) ThreatEvents(ctx context.Context, limit int) ([]ThreatEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, pattern, category, severity,
		field_name, truncated_input, ip, user_agent, created_at
		FROM threat_events ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []ThreatEvent{}
	for rows.Next() {
		var e ThreatEvent
		var ts int64
		if err := rows.Scan(&e.ID, &e.Pattern, &e.Category, &e.Severity,
			&e.FieldName, &e.TruncatedInput, &e.IP, &e.UserAgent, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts)
		events = append(events, e)
	}
	return events, rows.Err()
}
