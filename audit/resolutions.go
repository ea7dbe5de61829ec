package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrResolutionExists is returned when a decision is already recorded for
// the same content hash. The UNIQUE constraint on resolutions.content_hash
// makes this race-safe: two concurrent merges of the same pair cannot both
// succeed.
var ErrResolutionExists = errors.New("audit: resolution already recorded for this pair")

// RecordResolution persists an operator decision. Fills ID and timestamp
// when unset.
func (s *Store) RecordResolution(ctx context.Context, d *ResolutionDecision) error {
	if d.ID == "" {
		d.ID = s.resID()
	}
	if d.ResolvedAt.IsZero() {
		d.ResolvedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO resolutions
		(id, match_id, content_hash, action, survivor_id, resolved_by, resolved_at)
		VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.MatchID, d.ContentHash, string(d.Action),
		d.SurvivorID, d.ResolvedBy, d.ResolvedAt.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrResolutionExists
		}
		return fmt.Errorf("insert resolution: %w", err)
	}
	return nil
}

// ResolutionByHash returns the decision recorded for a content hash, or
// (nil, nil) when the pair is unresolved.
func (s *Store) ResolutionByHash(ctx context.Context, hash string) (*ResolutionDecision, error) {
	var d ResolutionDecision
	var action string
	var resolvedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT id, match_id, content_hash, action,
		survivor_id, resolved_by, resolved_at
		FROM resolutions WHERE content_hash = ?`, hash).
		Scan(&d.ID, &d.MatchID, &d.ContentHash, &action, &d.SurvivorID, &d.ResolvedBy, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load resolution: %w", err)
	}
	d.Action = ResolutionAction(action)
	d.ResolvedAt = time.UnixMilli(resolvedAt)
	return &d, nil
}

// ResolvedHashes returns the content hashes of every recorded decision.
// The dedup engine uses this set to filter resolved pairs out of scan
// results without a per-pair query inside the O(n²) loop.
func (s *Store) ResolvedHashes(ctx context.Context) (map[string]ResolutionAction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT content_hash, action FROM resolutions`)
	if err != nil {
		return nil, fmt.Errorf("query resolved hashes: %w", err)
	}
	defer rows.Close()

	out := map[string]ResolutionAction{}
	for rows.Next() {
		var hash, action string
		if err := rows.Scan(&hash, &action); err != nil {
			return nil, err
		}
		out[hash] = ResolutionAction(action)
	}
	return out, rows.Err()
}
