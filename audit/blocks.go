package audit

import (
	"context"
	"fmt"
	"time"
)

// Block records (or replaces) a persistent administrative block for an IP.
// A nil ExpiresAt blocks until explicit removal.
func (s *Store) Block(ctx context.Context, b *BlockedIdentity) error {
	if b.BlockedAt.IsZero() {
		b.BlockedAt = time.Now()
	}
	var expires any
	if b.ExpiresAt != nil {
		expires = b.ExpiresAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO blocked_ips
		(ip, reason, blocked_by, blocked_at, expires_at)
		VALUES (?,?,?,?,?)`,
		b.IP, b.Reason, b.BlockedBy, b.BlockedAt.UnixMilli(), expires)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

// Unblock removes a persistent block. Removing an unknown IP is a no-op.
func (s *Store) Unblock(ctx context.Context, ip string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blocked_ips WHERE ip = ?`, ip); err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// ActiveBlocks returns every block still in force: permanent blocks plus
// those whose expiry is in the future. Expired rows are left in place as
// audit history.
func (s *Store) ActiveBlocks(ctx context.Context) ([]BlockedIdentity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ip, reason, blocked_by, blocked_at, expires_at
		FROM blocked_ips WHERE expires_at IS NULL OR expires_at > ?`, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	blocks := []BlockedIdentity{}
	for rows.Next() {
		var b BlockedIdentity
		var blockedAt int64
		var expires *int64
		if err := rows.Scan(&b.IP, &b.Reason, &b.BlockedBy, &blockedAt, &expires); err != nil {
			return nil, err
		}
		b.BlockedAt = time.UnixMilli(blockedAt)
		if expires != nil {
			t := time.UnixMilli(*expires)
			b.ExpiresAt = &t
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}
