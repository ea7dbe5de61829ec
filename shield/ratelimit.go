package shield

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/garde/audit"
)

// Preset is a named rate-limit tier: a rolling window, the number of
// requests admitted per window, and how long an offender stays blocked
// after exceeding it.
type Preset struct {
	Name          string        `yaml:"name" json:"name"`
	Window        time.Duration `yaml:"window" json:"window"`
	MaxRequests   int           `yaml:"max_requests" json:"max_requests"`
	BlockDuration time.Duration `yaml:"block_duration" json:"block_duration"`
}

// Built-in presets, overridable from config.
func PresetPublicForm() Preset {
	return Preset{Name: "publicForm", Window: time.Minute, MaxRequests: 5, BlockDuration: 5 * time.Minute}
}
func PresetStandard() Preset {
	return Preset{Name: "standard", Window: time.Minute, MaxRequests: 60, BlockDuration: time.Minute}
}
func PresetAuthenticated() Preset {
	return Preset{Name: "authenticated", Window: time.Minute, MaxRequests: 120, BlockDuration: 30 * time.Second}
}
func PresetSensitive() Preset {
	return Preset{Name: "sensitive", Window: time.Hour, MaxRequests: 10, BlockDuration: time.Hour}
}

// PresetByName resolves a built-in preset. Returns PresetStandard for an
// unknown name.
func PresetByName(name string) Preset {
	switch name {
	case "publicForm":
		return PresetPublicForm()
	case "authenticated":
		return PresetAuthenticated()
	case "sensitive":
		return PresetSensitive()
	default:
		return PresetStandard()
	}
}

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Count      int
}

// Store tracks per-key request counts. Implementations must make
// IncrementAndCheck atomic per key: two concurrent calls never both admit
// the request that crosses the limit.
type Store interface {
	// IncrementAndCheck counts one request and decides it.
	IncrementAndCheck(key string, p Preset, now time.Time) Decision

	// Block denies the key until the given time, independent of counts.
	Block(key string, until time.Time)

	// Len returns the number of live keys.
	Len() int
}

type window struct {
	mu           sync.Mutex
	count        int
	resetAt      time.Time
	blockedUntil time.Time
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	windows sync.Map // key → *window
	n       atomic.Int64
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) get(key string) *window {
	if v, ok := s.windows.Load(key); ok {
		return v.(*window)
	}
	v, loaded := s.windows.LoadOrStore(key, &window{})
	if !loaded {
		s.n.Add(1)
	}
	return v.(*window)
}

func (s *MemoryStore) IncrementAndCheck(key string, p Preset, now time.Time) Decision {
	w := s.get(key)
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.blockedUntil.IsZero() {
		if now.Before(w.blockedUntil) {
			return w.decide(p, now)
		}
		// Block lapsed: the key reopens with a fresh window, even when the
		// old window has time left. Without this a retrying client keeps
		// hitting the stale over-limit count and re-arms the block.
		w.blockedUntil = time.Time{}
		w.count = 0
		w.resetAt = time.Time{}
	}
	if w.resetAt.IsZero() || now.After(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(p.Window)
	}
	w.count++
	if w.count > p.MaxRequests {
		w.blockedUntil = now.Add(p.BlockDuration)
	}
	return w.decide(p, now)
}

func (s *MemoryStore) Block(key string, until time.Time) {
	w := s.get(key)
	w.mu.Lock()
	w.blockedUntil = until
	w.mu.Unlock()
}

func (s *MemoryStore) Len() int { return int(s.n.Load()) }

// GC removes windows past both their reset and block horizons. The
// limiter's StartGC runs this on a ticker.
func (s *MemoryStore) GC(now time.Time) {
	s.windows.Range(func(key, value any) bool {
		w := value.(*window)
		w.mu.Lock()
		dead := now.After(w.resetAt) && now.After(w.blockedUntil)
		w.mu.Unlock()
		if dead {
			s.windows.Delete(key)
			s.n.Add(-1)
		}
		return true
	})
}

// decide computes the Decision from current state. Caller holds w.mu.
func (w *window) decide(p Preset, now time.Time) Decision {
	d := Decision{
		Limit:   p.MaxRequests,
		ResetAt: w.resetAt,
		Count:   w.count,
	}
	if now.Before(w.blockedUntil) {
		d.RetryAfter = w.blockedUntil.Sub(now)
		d.ResetAt = w.blockedUntil
		return d
	}
	if w.resetAt.IsZero() || now.After(w.resetAt) {
		d.Allowed = true
		d.Remaining = p.MaxRequests
		d.ResetAt = now
		return d
	}
	d.Allowed = w.count <= p.MaxRequests
	if rem := p.MaxRequests - w.count; rem > 0 {
		d.Remaining = rem
	}
	if !d.Allowed {
		d.RetryAfter = w.resetAt.Sub(now)
	}
	return d
}

// Stats are the limiter's aggregate counters since start.
type Stats struct {
	Allowed    int64 `json:"allowed"`
	Denied     int64 `json:"denied"`
	ActiveKeys int   `json:"active_keys"`
	BlockedIPs int   `json:"blocked_ips"`
}

// RateLimitSink receives rate-limit decisions for async audit logging.
// Implemented by *audit.Store.
type RateLimitSink interface {
	LogRateLimit(e *audit.RateLimitEvent)
}

// Limiter enforces rate-limit presets per client IP. The persistent
// blocklist is consulted before any window counting, and every denial is
// reported fire-and-forget to the audit sink. blocklist and sink may be
// nil.
type Limiter struct {
	store     Store
	blocklist *Blocklist
	sink      RateLimitSink
	logger    *slog.Logger

	allowed atomic.Int64
	denied  atomic.Int64
}

// NewLimiter creates a Limiter. A nil store gets a fresh MemoryStore.
func NewLimiter(store Store, blocklist *Blocklist, sink RateLimitSink, logger *slog.Logger) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, blocklist: blocklist, sink: sink, logger: logger}
}

// StartGC evicts expired windows every interval until done is closed.
// No-op for stores other than MemoryStore.
func (l *Limiter) StartGC(done <-chan struct{}, interval time.Duration) {
	ms, ok := l.store.(*MemoryStore)
	if !ok {
		return
	}
	tick := time.NewTicker(interval)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-tick.C:
				ms.GC(now)
			}
		}
	}()
}

// Allow counts one request for key under the preset and returns the
// decision. A persistent block denies before any counting happens.
func (l *Limiter) Allow(key string, p Preset) Decision {
	now := time.Now()
	if l.blocklist != nil {
		if b, blocked := l.blocklist.Lookup(key, now); blocked {
			d := Decision{Limit: p.MaxRequests, ResetAt: now.Add(time.Hour)}
			if b.ExpiresAt != nil {
				d.ResetAt = *b.ExpiresAt
				d.RetryAfter = b.ExpiresAt.Sub(now)
			}
			l.denied.Add(1)
			l.report(key, p, d)
			return d
		}
	}

	d := l.store.IncrementAndCheck(key, p, now)
	if d.Allowed {
		l.allowed.Add(1)
	} else {
		l.denied.Add(1)
		l.report(key, p, d)
	}
	return d
}

func (l *Limiter) report(key string, p Preset, d Decision) {
	if l.sink == nil {
		return
	}
	l.sink.LogRateLimit(&audit.RateLimitEvent{
		Key:     key,
		Route:   p.Name,
		Allowed: d.Allowed,
		Count:   d.Count,
	})
}

// Stats returns the aggregate counters.
func (l *Limiter) Stats() Stats {
	st := Stats{
		Allowed:    l.allowed.Load(),
		Denied:     l.denied.Load(),
		ActiveKeys: l.store.Len(),
	}
	if l.blocklist != nil {
		st.BlockedIPs = l.blocklist.Len()
	}
	return st
}

// Middleware enforces the preset per client IP. Every response carries
// X-RateLimit-Limit / -Remaining / -Reset; a denial also gets Retry-After
// and a 429 JSON body.
func (l *Limiter) Middleware(p Preset) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ExtractIP(r)
			d := l.Allow(ip, p)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := int(d.RetryAfter.Round(time.Second) / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			l.logger.Warn("ratelimit: request denied",
				"ip", ip, "preset", p.Name, "path", r.URL.Path, "retry_after_s", retryAfter)

			h.Set("Retry-After", strconv.Itoa(retryAfter))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error":      "rate_limited",
				"message":    "too many requests, try again later",
				"retryAfter": retryAfter,
			})
		})
	}
}
