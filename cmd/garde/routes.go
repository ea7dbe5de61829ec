package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/garde/audit"
	"github.com/hazyhaar/garde/dedup"
	"github.com/hazyhaar/garde/shield"
	"github.com/hazyhaar/garde/simscore"
	"github.com/hazyhaar/garde/validate"
)

// app bundles the wired components behind the HTTP surface.
type app struct {
	engine    *dedup.Engine
	sink      *audit.Store
	limiter   *shield.Limiter
	blocklist *shield.Blocklist
	cfg       fileConfig
}

func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(shield.HeadToGet)
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.MaxBody(1 << 20))
	r.Use(shield.TraceID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	// Duplicate detection.
	r.Group(func(r chi.Router) {
		r.Use(a.limiter.Middleware(a.cfg.preset("scan")))

		r.Post("/api/duplicates/scan", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				EntityType     string  `json:"entityType"`
				Threshold      float64 `json:"threshold"`
				Limit          int     `json:"limit"`
				TimeoutSeconds int     `json:"timeoutSeconds"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			if req.Threshold == 0 {
				req.Threshold = 0.7
			}
			res, err := a.engine.Scan(r.Context(), dedup.ScanOptions{
				EntityType: req.EntityType,
				Threshold:  req.Threshold,
				Limit:      req.Limit,
				Timeout:    time.Duration(req.TimeoutSeconds) * time.Second,
			})
			if err != nil {
				writeDedupError(w, err)
				return
			}
			writeJSON(w, 200, map[string]any{
				"duplicates":     res.Matches,
				"count":          len(res.Matches),
				"scanDurationMs": res.Run.DurationMs,
				"truncated":      res.Run.Truncated,
				"runId":          res.Run.ID,
			})
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(a.limiter.Middleware(a.cfg.preset("resolve")))

		r.Post("/api/duplicates/check", func(w http.ResponseWriter, r *http.Request) {
			var rec simscore.CandidateRecord
			if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
				writeError(w, 400, err)
				return
			}
			matches, err := a.engine.Check(r.Context(), rec)
			if err != nil {
				writeDedupError(w, err)
				return
			}
			writeJSON(w, 200, map[string]any{
				"hasDuplicates": len(matches) > 0,
				"duplicates":    matches,
				"count":         len(matches),
			})
		})

		r.Post("/api/duplicates/merge", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				MatchID    string `json:"matchId"`
				SurvivorID string `json:"survivorId"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			if err := a.engine.Merge(r.Context(), req.MatchID, req.SurvivorID); err != nil {
				writeDedupError(w, err)
				return
			}
			writeJSON(w, 200, map[string]any{"success": true, "survivorId": req.SurvivorID})
		})

		r.Post("/api/duplicates/dismiss", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				MatchID string `json:"matchId"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			if err := a.engine.Dismiss(r.Context(), req.MatchID); err != nil {
				writeDedupError(w, err)
				return
			}
			writeJSON(w, 200, map[string]any{"success": true})
		})

		r.Get("/api/duplicates/history", func(w http.ResponseWriter, r *http.Request) {
			runs, err := a.engine.History(r.Context(), r.URL.Query().Get("entityType"), queryInt(r, "limit", 50))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			if runs == nil {
				runs = []audit.ScanRun{}
			}
			writeJSON(w, 200, runs)
		})
	})

	// Validation and sanitization. Failures are data, not HTTP errors: an
	// invalid email is a 200 with valid=false.
	r.Group(func(r chi.Router) {
		r.Use(a.limiter.Middleware(a.cfg.preset("validation")))

		r.Post("/api/validate/email", a.validateValue(validate.ValidateEmail))
		r.Post("/api/validate/phone", a.validateValue(validate.ValidatePhone))
		r.Post("/api/validate/url", a.validateValue(validate.ValidateURL))

		r.Post("/api/validate/file", func(w http.ResponseWriter, r *http.Request) {
			var meta validate.FileMeta
			if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
				writeError(w, 400, err)
				return
			}
			if _, err := validate.ValidateFile(meta, a.cfg.FilePolicy); err != nil {
				writeJSON(w, 200, map[string]any{"valid": false, "error": err.Error()})
				return
			}
			writeJSON(w, 200, map[string]any{"valid": true})
		})

		r.Post("/api/validate/object", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Data   map[string]string `json:"data"`
				Schema validate.Schema   `json:"schema"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			writeJSON(w, 200, validate.ValidateObject(req.Data, req.Schema))
		})

		r.Post("/api/sanitize", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Text string `json:"text"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			writeJSON(w, 200, map[string]string{"sanitized": validate.Sanitize(req.Text)})
		})

		r.Post("/api/security/check", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Text      string `json:"text"`
				FieldName string `json:"fieldName"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			findings := validate.DetectThreats(req.Text)
			for _, f := range findings {
				a.sink.LogThreat(&audit.ThreatEvent{
					Pattern:        f.Pattern,
					Category:       f.Category,
					Severity:       f.Severity,
					FieldName:      req.FieldName,
					TruncatedInput: f.Snippet,
					IP:             shield.ExtractIP(r),
					UserAgent:      r.UserAgent(),
				})
			}
			if findings == nil {
				findings = []validate.Finding{}
			}
			writeJSON(w, 200, map[string]any{"clean": len(findings) == 0, "threats": findings})
		})
	})

	// Admin surface: persistent blocks and operational reads.
	r.Group(func(r chi.Router) {
		r.Use(a.limiter.Middleware(a.cfg.preset("admin")))

		r.Post("/api/rate-limits/block", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				IP        string     `json:"ip"`
				Reason    string     `json:"reason"`
				BlockedBy string     `json:"blockedBy"`
				ExpiresAt *time.Time `json:"expiresAt"` // absent = permanent
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			if req.IP == "" {
				writeJSON(w, 400, map[string]string{"error": "ip is required"})
				return
			}
			if err := a.blocklist.Block(r.Context(), req.IP, req.Reason, req.BlockedBy, req.ExpiresAt); err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 201, map[string]any{"success": true, "ip": req.IP})
		})

		r.Post("/api/rate-limits/unblock", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				IP string `json:"ip"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			if err := a.blocklist.Unblock(r.Context(), req.IP); err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]any{"success": true, "ip": req.IP})
		})

		r.Get("/api/rate-limits/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, a.limiter.Stats())
		})

		r.Get("/api/security/events", func(w http.ResponseWriter, r *http.Request) {
			events, err := a.sink.ThreatEvents(r.Context(), queryInt(r, "limit", 100))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			if events == nil {
				events = []audit.ThreatEvent{}
			}
			writeJSON(w, 200, events)
		})
	})

	return r
}

// validateValue adapts a single-value validator into a handler.
func (a *app) validateValue(fn func(string) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		normalized, err := fn(req.Value)
		if err != nil {
			writeJSON(w, 200, map[string]any{"valid": false, "error": err.Error()})
			return
		}
		writeJSON(w, 200, map[string]any{"valid": true, "value": normalized})
	}
}

func writeDedupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dedup.ErrInvalidThreshold),
		errors.Is(err, dedup.ErrInvalidSurvivor):
		writeError(w, 400, err)
	case errors.Is(err, dedup.ErrMatchNotFound):
		writeError(w, 404, err)
	case errors.Is(err, dedup.ErrAlreadyResolved):
		writeError(w, 409, err)
	default:
		writeError(w, 500, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
