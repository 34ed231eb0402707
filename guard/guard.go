// Package guard decides whether a value may be admitted to persistent storage.
//
// Two checks run in linear time: a size ceiling, and a heuristic that spots
// embedded image data (data URIs or long base64 runs) inside an otherwise
// small-looking record.
package guard

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultMaxItemSize is the default per-value ceiling in bytes.
	DefaultMaxItemSize = 500_000

	// MinBase64Run is the length of a contiguous base64 run treated as binary data.
	MinBase64Run = 10_000

	// DataImageMarker is the data URI prefix of inline images.
	DataImageMarker = "data:image/"
)

var (
	// ErrTooLarge is returned when a value exceeds the per-item ceiling.
	ErrTooLarge = errors.New("value exceeds item size limit")

	// ErrEmbeddedImage is returned when a value looks like it carries image data.
	ErrEmbeddedImage = errors.New("value contains embedded image data")
)

// Reason values reported by RejectionError.
const (
	ReasonTooLarge      = "too_large"
	ReasonEmbeddedImage = "embedded_image"
)

// RejectionError describes why a value was refused admission.
type RejectionError struct {
	Reason string
	Size   int
	Limit  int
	err    error
}

func (e *RejectionError) Error() string {
	if e.Reason == ReasonTooLarge {
		return fmt.Sprintf("%s: size %d exceeds limit %d", e.err, e.Size, e.Limit)
	}
	return e.err.Error()
}

func (e *RejectionError) Unwrap() error {
	return e.err
}

// TooLarge returns the rejection for a value of size bytes over maxItemSize.
// It serves callers that know a value's size without holding the value.
func TooLarge(size, maxItemSize int) *RejectionError {
	return &RejectionError{Reason: ReasonTooLarge, Size: size, Limit: maxItemSize, err: ErrTooLarge}
}

// WithinItemLimit reports whether value is no larger than maxItemSize bytes.
func WithinItemLimit(value string, maxItemSize int) bool {
	return len(value) <= maxItemSize
}

// LooksLikeEmbeddedImage reports whether value contains a data URI image or a
// contiguous run of at least MinBase64Run base64 characters.
//
// False negatives are acceptable; false positives need a very long run and are rare.
func LooksLikeEmbeddedImage(value string) bool {
	if strings.Contains(value, DataImageMarker) {
		return true
	}
	return longestBase64Run(value, MinBase64Run) >= MinBase64Run
}

// Check applies both predicates and returns a *RejectionError when value must
// not be stored.
func Check(value string, maxItemSize int) error {
	if !WithinItemLimit(value, maxItemSize) {
		return TooLarge(len(value), maxItemSize)
	}
	if LooksLikeEmbeddedImage(value) {
		return &RejectionError{Reason: ReasonEmbeddedImage, Size: len(value), Limit: maxItemSize, err: ErrEmbeddedImage}
	}
	return nil
}

// longestBase64Run scans value once and returns the longest run of base64
// alphabet bytes, stopping early once stopAt is reached.
func longestBase64Run(value string, stopAt int) int {
	longest, run := 0, 0
	for i := 0; i < len(value); i++ {
		if !isBase64Byte(value[i]) {
			run = 0
			continue
		}
		run++
		if run > longest {
			longest = run
			if longest >= stopAt {
				return longest
			}
		}
	}
	return longest
}

func isBase64Byte(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '+' || c == '/' || c == '=':
		return true
	}
	return false
}
