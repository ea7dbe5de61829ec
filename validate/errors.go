package validate

import "errors"

// ErrInvalidEmail is returned when an email fails the structural check.
var ErrInvalidEmail = errors.New("validate: invalid email address")

// ErrInvalidPhone is returned when a phone number has too few or too many digits.
var ErrInvalidPhone = errors.New("validate: invalid phone number")

// ErrInvalidURL is returned when a URL is missing an http(s) scheme or host.
var ErrInvalidURL = errors.New("validate: invalid URL")

// ErrUnsupportedFileType is returned when a file extension is not on the allow-list.
var ErrUnsupportedFileType = errors.New("validate: unsupported file type")

// ErrFileTooLarge is returned when a file exceeds the configured size bound.
var ErrFileTooLarge = errors.New("validate: file too large")
