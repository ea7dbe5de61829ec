// Package simscore computes weighted fuzzy similarity between business
// records for duplicate detection. Scoring is deterministic and rule-based:
// string fields use normalized Levenshtein distance, high-precision fields
// (email, domain, phone) are binary, and the composite score is a weighted
// average renormalized over the fields populated on both records.
package simscore

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Confidence is a discrete classification derived from a continuous
// similarity score via the configured thresholds.
type Confidence string

const (
	ConfidenceExact  Confidence = "exact"
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// CandidateRecord is a flattened, immutable snapshot of a business entity
// (client, lead, or intake submission). The caller owns the record; the
// scorer only borrows it for the duration of a comparison.
type CandidateRecord struct {
	ID         string `json:"id"`
	EntityType string `json:"entity_type"` // "client", "lead", "intake"
	Email      string `json:"email"`
	Name       string `json:"name"`
	Company    string `json:"company"`
	Phone      string `json:"phone"`
	Domain     string `json:"domain"`
}

// Match is the result of comparing two CandidateRecords.
type Match struct {
	ID            string     `json:"id,omitempty"`
	RecordIDA     string     `json:"record_id_a"`
	RecordIDB     string     `json:"record_id_b"`
	Score         float64    `json:"score"`
	MatchedFields []string   `json:"matched_fields"`
	Confidence    Confidence `json:"confidence"`

	// ContentHash keys this match on the compared field values rather than
	// the ID pair, so a dismissal stays effective only while the underlying
	// records are unchanged.
	ContentHash string `json:"content_hash"`

	// Inline is set on real-time checks when the score crosses the high
	// band, signalling the caller to surface the match immediately.
	Inline bool `json:"inline,omitempty"`
}

// Scorer computes similarity matches according to its configuration.
// Scorers are stateless and safe for concurrent use.
type Scorer struct {
	cfg Config
}

// New creates a Scorer, filling unset config fields with defaults.
func New(cfg Config) *Scorer {
	cfg.defaults()
	return &Scorer{cfg: cfg}
}

// Thresholds returns the scorer's confidence thresholds.
func (s *Scorer) Thresholds() Thresholds { return s.cfg.Thresholds }

// Score compares two records and returns a Match. The composite score is
// Σ(w·s) / Σ(w) over the fields populated on BOTH records, so a record
// missing a field is never penalized relative to one with full data.
// Symmetric: Score(a, b) and Score(b, a) produce the same score.
func (s *Scorer) Score(a, b CandidateRecord) Match {
	fields := []fieldScore{
		binaryField("email", s.cfg.Weights.Email, normEmail(a.Email), normEmail(b.Email)),
		stringField("company", s.cfg.Weights.Company, a.Company, b.Company),
		stringField("name", s.cfg.Weights.Name, a.Name, b.Name),
		binaryField("phone", s.cfg.Weights.Phone, normPhone(a.Phone), normPhone(b.Phone)),
		binaryField("domain", s.cfg.Weights.Domain, domainOf(a), domainOf(b)),
	}

	var weighted, totalWeight float64
	var matched []string
	for _, f := range fields {
		if !f.ok {
			continue
		}
		weighted += f.weight * f.sim
		totalWeight += f.weight
		if f.sim >= 0.8 {
			matched = append(matched, f.name)
		}
	}

	score := 0.0
	if totalWeight > 0 {
		score = weighted / totalWeight
	}
	if matched == nil {
		matched = []string{}
	}

	return Match{
		RecordIDA:     a.ID,
		RecordIDB:     b.ID,
		Score:         score,
		MatchedFields: matched,
		Confidence:    s.Classify(score),
		ContentHash:   ContentHash(a, b),
	}
}

// Classify maps a composite score onto a confidence band. The mapping is a
// monotonic step function on the configured thresholds.
func (s *Scorer) Classify(score float64) Confidence {
	t := s.cfg.Thresholds
	switch {
	case score >= t.Exact:
		return ConfidenceExact
	case score >= t.High:
		return ConfidenceHigh
	case score >= t.Medium:
		return ConfidenceMedium
	case score >= t.Low:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// ContentHash returns an order-independent SHA-256 over the normalized
// compared field values of both records. Dismissals key on this hash: a
// dismissed pair stays dismissed until one of the underlying records changes.
func ContentHash(a, b CandidateRecord) string {
	fp := []string{fingerprint(a), fingerprint(b)}
	sort.Strings(fp)
	sum := sha256.Sum256([]byte(fp[0] + "\x00" + fp[1]))
	return hex.EncodeToString(sum[:])
}

func fingerprint(r CandidateRecord) string {
	return strings.Join([]string{
		normEmail(r.Email),
		normString(r.Name),
		normString(r.Company),
		normPhone(r.Phone),
		domainOf(r),
	}, "|")
}

// DeriveDomain extracts the lowercased domain part of an email address.
// Returns "" when the address has no usable domain.
func DeriveDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

func domainOf(r CandidateRecord) string {
	if r.Domain != "" {
		return strings.ToLower(strings.TrimSpace(r.Domain))
	}
	return DeriveDomain(r.Email)
}

func normString(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func normEmail(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// normPhone reduces a phone number to its last 10 digits, which strips
// country codes and formatting so "+1 (555) 123-4567" matches "5551234567".
func normPhone(v string) string {
	var digits []byte
	for i := 0; i < len(v); i++ {
		if v[i] >= '0' && v[i] <= '9' {
			digits = append(digits, v[i])
		}
	}
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return string(digits)
}

// fieldScore is the per-field contribution to a composite score. ok is false
// when the field is absent on either side and must be excluded from the
// weight renormalization denominator.
type fieldScore struct {
	name   string
	weight float64
	sim    float64
	ok     bool
}

// stringField scores a free-text field with normalized Levenshtein distance:
// 1 - dist/max(len). Excluded when either side is empty.
func stringField(name string, weight float64, a, b string) (f fieldScore) {
	f.name, f.weight = name, weight
	na, nb := normString(a), normString(b)
	if na == "" || nb == "" {
		return f
	}
	f.ok = true
	ra, rb := []rune(na), []rune(nb)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	f.sim = 1.0 - float64(levenshtein(ra, rb))/float64(maxLen)
	return f
}

// binaryField scores a high-precision field where partial credit is
// misleading: 1 on exact match of the pre-normalized values, 0 otherwise.
// Excluded when either side is empty.
func binaryField(name string, weight float64, a, b string) (f fieldScore) {
	f.name, f.weight = name, weight
	if a == "" || b == "" {
		return f
	}
	f.ok = true
	if a == b {
		f.sim = 1.0
	}
	return f
}

// levenshtein computes the edit distance between two rune slices using the
// classic dynamic program with two rolling rows, O(len(a)·len(b)) time and
// O(min(len(a), len(b))) space. This runs inside the O(n²) pairwise scan,
// so the space bound matters.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// Keep the shorter string in the inner loop.
	if len(a) > len(b) {
		a, b = b, a
	}

	prev := make([]int, len(a)+1)
	curr := make([]int, len(a)+1)
	for i := range prev {
		prev[i] = i
	}

	for j := 1; j <= len(b); j++ {
		curr[0] = j
		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[i] = min(prev[i]+1, curr[i-1]+1, prev[i-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(a)]
}
