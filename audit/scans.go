package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/garde/dbopen"
	"github.com/hazyhaar/garde/simscore"
)

// RecordScan persists a completed scan run and its retained matches in one
// transaction. Missing IDs are filled in; match IDs are written back so the
// caller can return them to the operator.
func (s *Store) RecordScan(ctx context.Context, run *ScanRun, matches []simscore.Match) error {
	if run.ID == "" {
		run.ID = s.scanID()
	}
	now := time.Now().UnixMilli()

	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		truncated := 0
		if run.Truncated {
			truncated = 1
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO scan_runs
			(id, entity_type, threshold, match_limit, started_at, duration_ms, match_count, truncated)
			VALUES (?,?,?,?,?,?,?,?)`,
			run.ID, run.EntityType, run.Threshold, run.Limit,
			run.StartedAt.UnixMilli(), run.DurationMs, run.MatchCount, truncated); err != nil {
			return fmt.Errorf("insert scan run: %w", err)
		}

		for i := range matches {
			m := &matches[i]
			if m.ID == "" {
				m.ID = s.matchID()
			}
			fields, err := json.Marshal(m.MatchedFields)
			if err != nil {
				return fmt.Errorf("marshal matched fields: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO scan_matches
				(id, scan_id, record_id_a, record_id_b, score, matched_fields, confidence, content_hash, created_at)
				VALUES (?,?,?,?,?,?,?,?,?)`,
				m.ID, run.ID, m.RecordIDA, m.RecordIDB, m.Score,
				string(fields), string(m.Confidence), m.ContentHash, now); err != nil {
				return fmt.Errorf("insert match: %w", err)
			}
		}
		return nil
	})
}

// ScanHistory returns persisted scan runs, newest first, optionally filtered
// by entity type.
func (s *Store) ScanHistory(ctx context.Context, entityType string, limit int) ([]ScanRun, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, entity_type, threshold, match_limit, started_at, duration_ms, match_count, truncated
		FROM scan_runs`
	var args []any
	if entityType != "" {
		q += " WHERE entity_type = ?"
		args = append(args, entityType)
	}
	q += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query scan history: %w", err)
	}
	defer rows.Close()

	runs := []ScanRun{}
	for rows.Next() {
		var r ScanRun
		var started int64
		var truncated int
		if err := rows.Scan(&r.ID, &r.EntityType, &r.Threshold, &r.Limit,
			&started, &r.DurationMs, &r.MatchCount, &truncated); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		r.Truncated = truncated != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// MatchByID loads a persisted match. Returns sql.ErrNoRows (wrapped) when the
// ID is unknown; callers map that onto their own not-found error.
func (s *Store) MatchByID(ctx context.Context, id string) (simscore.Match, error) {
	var m simscore.Match
	var fields, confidence string
	err := s.db.QueryRowContext(ctx, `SELECT id, record_id_a, record_id_b, score,
		matched_fields, confidence, content_hash
		FROM scan_matches WHERE id = ?`, id).
		Scan(&m.ID, &m.RecordIDA, &m.RecordIDB, &m.Score, &fields, &confidence, &m.ContentHash)
	if err != nil {
		return simscore.Match{}, fmt.Errorf("load match %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(fields), &m.MatchedFields); err != nil {
		return simscore.Match{}, fmt.Errorf("decode matched fields: %w", err)
	}
	m.Confidence = simscore.Confidence(confidence)
	return m, nil
}
