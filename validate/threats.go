package validate

import (
	"regexp"
	"unicode/utf8"
)

// Pattern is one registered threat signature. The set is compiled once at
// package init and shared immutably; adding a pattern is a data change.
type Pattern struct {
	Name     string
	Category string // "xss" or "sqli"
	Severity string // "low", "medium", "high", "critical"
	re       *regexp.Regexp
}

// Finding is a single pattern hit against an input. The raw regex is never
// included: operators see the pattern name, end users see nothing at all.
type Finding struct {
	Pattern  string `json:"pattern"`
	Category string `json:"category"`
	Severity string `json:"severity"`

	// Snippet is the start of the offending input, truncated so threat logs
	// never store unbounded attacker-controlled payloads.
	Snippet string `json:"snippet"`
}

const snippetLen = 200

// threatPatterns is the immutable compiled pattern set.
var threatPatterns = []Pattern{
	{Name: "script_tag", Category: "xss", Severity: "critical",
		re: regexp.MustCompile(`(?i)<\s*script\b`)},
	{Name: "javascript_uri", Category: "xss", Severity: "high",
		re: regexp.MustCompile(`(?i)javascript\s*:`)},
	{Name: "event_handler", Category: "xss", Severity: "high",
		re: regexp.MustCompile(`(?i)\bon[a-z]+\s*=\s*["']?`)},
	{Name: "embedded_frame", Category: "xss", Severity: "high",
		re: regexp.MustCompile(`(?i)<\s*(iframe|object|embed)\b`)},
	{Name: "css_expression", Category: "xss", Severity: "medium",
		re: regexp.MustCompile(`(?i)expression\s*\(`)},
	{Name: "css_javascript_url", Category: "xss", Severity: "medium",
		re: regexp.MustCompile(`(?i)url\s*\(\s*["']?\s*javascript`)},

	{Name: "sql_comment", Category: "sqli", Severity: "medium",
		re: regexp.MustCompile(`--`)},
	{Name: "sql_block_comment", Category: "sqli", Severity: "medium",
		re: regexp.MustCompile(`/\*[\s\S]*?\*/`)},
	{Name: "sql_union_select", Category: "sqli", Severity: "critical",
		re: regexp.MustCompile(`(?i)\bunion\b\s+(all\s+)?select\b`)},
	{Name: "sql_tautology", Category: "sqli", Severity: "high",
		re: regexp.MustCompile(`(?i)\b(or|and)\s+\d+\s*=\s*\d+\b`)},
	{Name: "sql_stacked_statement", Category: "sqli", Severity: "high",
		re: regexp.MustCompile(`(?i);\s*(drop|delete|insert|update|alter|truncate|exec)\b`)},
}

// DetectThreats runs the registered pattern set against text and returns all
// hits. Detection never blocks or rejects by itself: the route layer decides
// whether to refuse, sanitize-and-continue, or merely log the findings.
func DetectThreats(text string) []Finding {
	if text == "" {
		return nil
	}
	var findings []Finding
	for _, p := range threatPatterns {
		if p.re.MatchString(text) {
			findings = append(findings, Finding{
				Pattern:  p.Name,
				Category: p.Category,
				Severity: p.Severity,
				Snippet:  truncate(text, snippetLen),
			})
		}
	}
	return findings
}

// truncate cuts s to at most n bytes, backing up to a rune boundary so the
// stored snippet is always valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
