package validate

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

// strictPolicy strips every HTML element and attribute. Compiled once;
// bluemonday policies are safe for concurrent use.
var strictPolicy = bluemonday.StrictPolicy()

// Sanitize makes untrusted free text safe to store and redisplay:
//
//  1. Unicode is normalized to NFC so decomposed or otherwise encoded
//     variants cannot smuggle markup past the later passes.
//  2. NUL bytes and non-printable control characters are removed
//     (tab and newline are kept).
//  3. All HTML elements are stripped and residual markup-significant
//     characters are entity-escaped via bluemonday's strict policy.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}

	text = norm.NFC.String(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == 0 {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			continue
		}
		b.WriteRune(r)
	}

	return strictPolicy.Sanitize(b.String())
}
