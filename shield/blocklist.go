package shield

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/garde/audit"
)

// BlockStore is the persistence behind the blocklist, implemented by
// *audit.Store.
type BlockStore interface {
	Block(ctx context.Context, b *audit.BlockedIdentity) error
	Unblock(ctx context.Context, ip string) error
	ActiveBlocks(ctx context.Context) ([]audit.BlockedIdentity, error)
}

// Blocklist is an in-memory cache over the persistent blocked_ips table.
// Lookups are served from the cache; writes go through to the store and
// update the cache in the same call, so a block takes effect immediately
// on this instance and within one refresh interval on others.
type Blocklist struct {
	store  BlockStore
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]audit.BlockedIdentity
}

// NewBlocklist loads the active blocks and returns the cache. A load
// failure is logged and yields an empty cache rather than an error:
// persistent blocks fail open, rolling windows still protect the service.
func NewBlocklist(ctx context.Context, store BlockStore, logger *slog.Logger) *Blocklist {
	if logger == nil {
		logger = slog.Default()
	}
	bl := &Blocklist{
		store:   store,
		logger:  logger,
		entries: map[string]audit.BlockedIdentity{},
	}
	if err := bl.refresh(ctx); err != nil {
		logger.Warn("blocklist: initial load failed, starting empty", "error", err)
	}
	return bl
}

// StartRefresher reloads the cache from the store every interval until
// done is closed. Keep the interval at or under 5s so blocks placed by
// other instances take effect quickly.
func (bl *Blocklist) StartRefresher(done <-chan struct{}, interval time.Duration) {
	tick := time.NewTicker(interval)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				if err := bl.refresh(ctx); err != nil {
					bl.logger.Warn("blocklist: refresh failed", "error", err)
				}
				cancel()
			}
		}
	}()
}

func (bl *Blocklist) refresh(ctx context.Context) error {
	blocks, err := bl.store.ActiveBlocks(ctx)
	if err != nil {
		return fmt.Errorf("shield: load blocks: %w", err)
	}
	entries := make(map[string]audit.BlockedIdentity, len(blocks))
	for _, b := range blocks {
		entries[b.IP] = b
	}
	bl.mu.Lock()
	bl.entries = entries
	bl.mu.Unlock()
	return nil
}

// Lookup reports whether ip is blocked at time now.
func (bl *Blocklist) Lookup(ip string, now time.Time) (audit.BlockedIdentity, bool) {
	bl.mu.RLock()
	b, ok := bl.entries[ip]
	bl.mu.RUnlock()
	if !ok || !b.Active(now) {
		return audit.BlockedIdentity{}, false
	}
	return b, true
}

// Len returns the number of cached entries, expired ones included until
// the next refresh drops them.
func (bl *Blocklist) Len() int {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	return len(bl.entries)
}

// Block persists an administrative block and applies it to the cache. A
// nil expiresAt blocks until explicitly removed.
func (bl *Blocklist) Block(ctx context.Context, ip, reason, by string, expiresAt *time.Time) error {
	b := audit.BlockedIdentity{
		IP:        ip,
		Reason:    reason,
		BlockedBy: by,
		BlockedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
	if err := bl.store.Block(ctx, &b); err != nil {
		return err
	}
	bl.mu.Lock()
	bl.entries[ip] = b
	bl.mu.Unlock()
	return nil
}

// Unblock removes the block from the store and the cache.
func (bl *Blocklist) Unblock(ctx context.Context, ip string) error {
	if err := bl.store.Unblock(ctx, ip); err != nil {
		return err
	}
	bl.mu.Lock()
	delete(bl.entries, ip)
	bl.mu.Unlock()
	return nil
}
