// Package validate checks structural correctness of untrusted input fields,
// sanitizes free text, and detects injection/XSS threat patterns.
//
// All functions are pure: validation failures come back as errors or as
// aggregated Result data, threat findings as structured values. Nothing here
// writes logs or touches storage, so every operation is safe to call
// speculatively and from any number of goroutines.
package validate

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

const (
	maxEmailLen      = 254
	maxEmailLocalLen = 64
	minPhoneDigits   = 10
	maxPhoneDigits   = 15
)

// ValidateEmail performs a structural email check: a single @, local part at
// most 64 characters, 254 total, no consecutive dots, and domain labels made
// of letters, digits and hyphens. This is deliberately not full RFC 5322.
// On success it returns the address with the domain part lowercased.
func ValidateEmail(value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	if len(v) > maxEmailLen {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEmail, maxEmailLen)
	}
	if strings.Count(v, "@") != 1 {
		return "", fmt.Errorf("%w: must contain exactly one @", ErrInvalidEmail)
	}
	if strings.Contains(v, "..") {
		return "", fmt.Errorf("%w: consecutive dots", ErrInvalidEmail)
	}

	at := strings.IndexByte(v, '@')
	local, domain := v[:at], v[at+1:]
	if local == "" || len(local) > maxEmailLocalLen {
		return "", fmt.Errorf("%w: local part must be 1-%d characters", ErrInvalidEmail, maxEmailLocalLen)
	}
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return "", fmt.Errorf("%w: local part starts or ends with a dot", ErrInvalidEmail)
	}
	if !validDomain(domain) {
		return "", fmt.Errorf("%w: malformed domain", ErrInvalidEmail)
	}
	return local + "@" + strings.ToLower(domain), nil
}

func validDomain(domain string) bool {
	if domain == "" || len(domain) > 253 {
		return false
	}
	for _, label := range strings.Split(domain, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			ok := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
				(c >= '0' && c <= '9') || c == '-'
			if !ok {
				return false
			}
		}
	}
	return true
}

// ValidatePhone strips non-digit characters and requires 10-15 digits.
// A 10-digit number is formatted as +1-XXX-XXX-XXXX; anything longer is
// returned as +<digits>.
func ValidatePhone(value string) (string, error) {
	var digits strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] >= '0' && value[i] <= '9' {
			digits.WriteByte(value[i])
		}
	}
	d := digits.String()
	if len(d) < minPhoneDigits || len(d) > maxPhoneDigits {
		return "", fmt.Errorf("%w: %d digits, want %d-%d", ErrInvalidPhone, len(d), minPhoneDigits, maxPhoneDigits)
	}
	if len(d) == 10 {
		return fmt.Sprintf("+1-%s-%s-%s", d[0:3], d[3:6], d[6:10]), nil
	}
	return "+" + d, nil
}

// ValidateURL requires an http or https scheme and a parseable host.
// It returns the parsed URL's canonical string form.
func ValidateURL(value string) (string, error) {
	v := strings.TrimSpace(value)
	u, err := url.Parse(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u.String(), nil
}

// FileMeta describes an uploaded file for validation. Only metadata is
// checked; content inspection is out of scope.
type FileMeta struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// FilePolicy is the allow-list policy for file validation. Policy is
// configuration, not hardcoded constants.
type FilePolicy struct {
	AllowedExtensions []string `yaml:"allowed_extensions" json:"allowed_extensions"`
	MaxBytes          int64    `yaml:"max_bytes" json:"max_bytes"`
}

// DefaultFilePolicy returns the policy applied when none is configured:
// common document and image formats, 10 MiB cap.
func DefaultFilePolicy() FilePolicy {
	return FilePolicy{
		AllowedExtensions: []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".txt", ".csv", ".png", ".jpg", ".jpeg", ".gif"},
		MaxBytes:          10 << 20,
	}
}

// ValidateFile checks a file's extension against the policy allow-list and
// its size against the policy bound.
func ValidateFile(meta FileMeta, policy FilePolicy) (FileMeta, error) {
	ext := strings.ToLower(filepath.Ext(meta.Name))
	allowed := false
	for _, a := range policy.AllowedExtensions {
		if ext == strings.ToLower(a) {
			allowed = true
			break
		}
	}
	if !allowed {
		return FileMeta{}, fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}
	if meta.Size > policy.MaxBytes {
		return FileMeta{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, meta.Size, policy.MaxBytes)
	}
	return meta, nil
}

// FieldRule declares the constraints for one field of an object schema.
type FieldRule struct {
	Type      string `json:"type"` // "string", "email", "phone", "url"
	Required  bool   `json:"required"`
	MinLength int    `json:"minLength"`
	MaxLength int    `json:"maxLength"`
}

// Schema maps field names to their rules.
type Schema map[string]FieldRule

// Result aggregates the outcome of an object validation. Errors carries one
// reason per failing field; Sanitized carries the normalized or sanitized
// value of every field that passed.
type Result struct {
	Valid     bool              `json:"valid"`
	Errors    map[string]string `json:"errors"`
	Sanitized map[string]string `json:"sanitized"`
}

// ValidateObject applies the schema's per-field validators and constraints
// to data. All field errors are collected rather than failing fast, so the
// caller sees every problem at once. Fields present in data but absent from
// the schema are sanitized and passed through.
func ValidateObject(data map[string]string, schema Schema) Result {
	res := Result{
		Valid:     true,
		Errors:    map[string]string{},
		Sanitized: map[string]string{},
	}

	for field, rule := range schema {
		value, present := data[field]
		if !present || strings.TrimSpace(value) == "" {
			if rule.Required {
				res.Valid = false
				res.Errors[field] = "required"
			}
			continue
		}
		if rule.MinLength > 0 && len(value) < rule.MinLength {
			res.Valid = false
			res.Errors[field] = fmt.Sprintf("shorter than %d characters", rule.MinLength)
			continue
		}
		if rule.MaxLength > 0 && len(value) > rule.MaxLength {
			res.Valid = false
			res.Errors[field] = fmt.Sprintf("longer than %d characters", rule.MaxLength)
			continue
		}

		normalized, err := normalizeTyped(rule.Type, value)
		if err != nil {
			res.Valid = false
			res.Errors[field] = err.Error()
			continue
		}
		res.Sanitized[field] = normalized
	}

	// Pass through unschema'd fields, sanitized.
	for field, value := range data {
		if _, ok := schema[field]; !ok {
			res.Sanitized[field] = Sanitize(value)
		}
	}
	return res
}

func normalizeTyped(fieldType, value string) (string, error) {
	switch fieldType {
	case "email":
		return ValidateEmail(value)
	case "phone":
		return ValidatePhone(value)
	case "url":
		return ValidateURL(value)
	case "", "string":
		return Sanitize(value), nil
	default:
		return "", fmt.Errorf("unknown field type %q", fieldType)
	}
}
