package dedup

import (
	"strings"

	"github.com/hazyhaar/garde/simscore"
)

// KeyFunc assigns a record to a blocking bucket. Pairwise scoring only
// happens within a bucket, which turns the O(n²) scan into a sum of much
// smaller quadratics. Swapping the strategy never touches the scoring logic.
type KeyFunc func(simscore.CandidateRecord) string

// NoBlocking puts every record in one bucket: the exhaustive O(n²) scan.
// This is the default — correct for populations in the low thousands, which
// is this system's realistic scale.
func NoBlocking(simscore.CandidateRecord) string { return "" }

// DomainKey buckets records by email domain, falling back to the first three
// letters of the name for records without an email. Records that end up in
// different buckets are assumed non-duplicates, which trades a little recall
// for a large cut in comparisons.
func DomainKey(r simscore.CandidateRecord) string {
	if d := simscore.DeriveDomain(r.Email); d != "" {
		return "d:" + d
	}
	if r.Domain != "" {
		return "d:" + strings.ToLower(strings.TrimSpace(r.Domain))
	}
	name := strings.ToLower(strings.TrimSpace(r.Name))
	runes := []rune(name)
	if len(runes) > 3 {
		runes = runes[:3]
	}
	return "n:" + string(runes)
}
