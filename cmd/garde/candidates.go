package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/garde/simscore"
)

// sqlCandidateSource reads the record population from the application
// database. The table is owned by the application; the service only reads
// it, but creates it when absent so a fresh deployment works end to end.
//
// Expected schema:
//
//	CREATE TABLE IF NOT EXISTS candidates (
//	    id TEXT PRIMARY KEY,
//	    entity_type TEXT NOT NULL DEFAULT 'client',
//	    name TEXT NOT NULL DEFAULT '',
//	    email TEXT NOT NULL DEFAULT '',
//	    phone TEXT NOT NULL DEFAULT '',
//	    company TEXT NOT NULL DEFAULT '',
//	    domain TEXT NOT NULL DEFAULT ''
//	);
type sqlCandidateSource struct {
	db *sql.DB
}

const candidatesSchema = `
CREATE TABLE IF NOT EXISTS candidates (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL DEFAULT 'client',
    name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    company TEXT NOT NULL DEFAULT '',
    domain TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_candidates_entity_type ON candidates(entity_type);
`

func newCandidateSource(db *sql.DB) (*sqlCandidateSource, error) {
	if _, err := db.Exec(candidatesSchema); err != nil {
		return nil, fmt.Errorf("candidates schema: %w", err)
	}
	return &sqlCandidateSource{db: db}, nil
}

func (s *sqlCandidateSource) FetchCandidates(ctx context.Context, entityType string) ([]simscore.CandidateRecord, error) {
	query := `SELECT id, entity_type, name, email, phone, company, domain FROM candidates`
	args := []any{}
	if entityType != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, entityType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	defer rows.Close()

	var out []simscore.CandidateRecord
	for rows.Next() {
		var r simscore.CandidateRecord
		if err := rows.Scan(&r.ID, &r.EntityType, &r.Name, &r.Email, &r.Phone, &r.Company, &r.Domain); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
