package validate

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func categories(findings []Finding) map[string]bool {
	out := map[string]bool{}
	for _, f := range findings {
		out[f.Category] = true
	}
	return out
}

func TestDetectThreats_XSS(t *testing.T) {
	// WHAT: Script tags, javascript: URIs, event handlers, and embedded
	// frames all produce at least one finding with category "xss".
	// WHY: These are the injection vectors the route layer keys its
	// reject/sanitize decision on.
	cases := []string{
		"<script>alert(1)</script>hello",
		"<SCRIPT src=evil.js>",
		"< script >x",
		`<a href="javascript:alert(1)">x</a>`,
		`<img src=x onerror="alert(1)">`,
		"<iframe src=//evil>",
		"<object data=x>",
		"style=width:expression(alert(1))",
		`background: url("javascript:alert(1)")`,
	}
	for _, in := range cases {
		findings := DetectThreats(in)
		if !categories(findings)["xss"] {
			t.Errorf("DetectThreats(%q): expected an xss finding, got %v", in, findings)
		}
	}
}

func TestDetectThreats_SQLI(t *testing.T) {
	cases := []string{
		"admin'--",
		"1; DROP TABLE users",
		"x /* hidden */ y",
		"1 UNION SELECT password FROM users",
		"1 union all select 1,2,3",
		"' OR 1=1",
		"a' AND 2 = 2",
	}
	for _, in := range cases {
		findings := DetectThreats(in)
		if !categories(findings)["sqli"] {
			t.Errorf("DetectThreats(%q): expected a sqli finding, got %v", in, findings)
		}
	}
}

func TestDetectThreats_CleanInput(t *testing.T) {
	// WHAT: Ordinary business text produces no findings.
	// WHY: False positives here would flood the threat log and train
	// operators to ignore it.
	cases := []string{
		"",
		"John Smith, Acme Corp",
		"Please review the Q3 proposal and select the best option.",
		"Reach me at john@co.com or +1 555 123 4567",
	}
	for _, in := range cases {
		if findings := DetectThreats(in); len(findings) != 0 {
			t.Errorf("DetectThreats(%q): unexpected findings %v", in, findings)
		}
	}
}

func TestDetectThreats_SnippetTruncated(t *testing.T) {
	in := "<script>" + strings.Repeat("A", 1000)
	findings := DetectThreats(in)
	if len(findings) == 0 {
		t.Fatal("expected a finding")
	}
	for _, f := range findings {
		if len(f.Snippet) > snippetLen {
			t.Errorf("snippet length %d exceeds %d", len(f.Snippet), snippetLen)
		}
	}
}

func TestDetectThreats_SnippetKeepsValidUTF8(t *testing.T) {
	// WHAT: Truncation never cuts through a multi-byte rune, so snippets
	// stored in threat logs are always valid UTF-8.
	// 9-byte ASCII prefix puts the 200-byte cut in the middle of a 2-byte rune.
	in := "<script>x" + strings.Repeat("é", snippetLen)
	findings := DetectThreats(in)
	if len(findings) == 0 {
		t.Fatal("expected a finding")
	}
	for _, f := range findings {
		if len(f.Snippet) > snippetLen {
			t.Errorf("snippet length %d exceeds %d", len(f.Snippet), snippetLen)
		}
		if !utf8.ValidString(f.Snippet) {
			t.Errorf("snippet is not valid UTF-8: %q", f.Snippet)
		}
	}
}

func TestSanitize_StripsScript(t *testing.T) {
	// WHAT: sanitize removes the script element and its payload entirely.
	got := Sanitize("<script>alert(1)</script>hello")
	if strings.Contains(got, "<script>") || strings.Contains(got, "alert(1)") {
		t.Errorf("Sanitize left script content: %q", got)
	}
	if !strings.Contains(got, "hello") {
		t.Errorf("Sanitize dropped legitimate text: %q", got)
	}
}

func TestSanitize_RemovesControlCharacters(t *testing.T) {
	got := Sanitize("he\x00llo\x07 world\n\tok")
	if strings.ContainsAny(got, "\x00\x07") {
		t.Errorf("control characters survived: %q", got)
	}
	if !strings.Contains(got, "\n") || !strings.Contains(got, "\t") {
		t.Errorf("whitespace controls should be kept: %q", got)
	}
}

func TestSanitize_NormalizesUnicode(t *testing.T) {
	// WHAT: Decomposed sequences (e + combining acute) collapse to their
	// composed NFC form.
	// WHY: Canonical-equivalent variants must compare equal after
	// sanitization or encoding tricks can smuggle duplicates and markup.
	decomposed := "café"
	composed := "café"
	if Sanitize(decomposed) != Sanitize(composed) {
		t.Errorf("NFC normalization missing: %q vs %q", Sanitize(decomposed), Sanitize(composed))
	}
}
