package backend

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// ErrCapacityExceeded signals that a store cannot accept more data because of
// a size, quota or memory limit. Callers test for it with errors.Is.
var ErrCapacityExceeded = errors.New("store capacity exceeded")

// CapacityError wraps the runtime-specific failure that was classified as
// capacity exhaustion.
type CapacityError struct {
	Op  string
	Err error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrCapacityExceeded, e.Err)
}

// Is makes errors.Is(err, ErrCapacityExceeded) hold for any CapacityError.
func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

func (e *CapacityError) Unwrap() error {
	return e.Err
}

// capacityMarkers are substrings of error messages emitted by stores we do not
// control (embedded runtimes, redis, browser-like storage shims) when they run
// out of room. Matching is case-insensitive.
var capacityMarkers = []string{
	"outofmemory",
	"out of memory",
	"oom command not allowed",
	"quota exceeded",
	"quotaexceeded",
	"no space left on device",
	"disk quota exceeded",
	"database or disk is full",
}

// ClassifyCapacity returns err wrapped in a *CapacityError when it signals
// capacity exhaustion, and err unchanged otherwise. A nil err stays nil.
func ClassifyCapacity(op string, err error) error {
	if err == nil || errors.Is(err, ErrCapacityExceeded) {
		return err
	}
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return &CapacityError{Op: op, Err: err}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range capacityMarkers {
		if strings.Contains(msg, marker) {
			return &CapacityError{Op: op, Err: err}
		}
	}
	return err
}

// IsCapacityExceeded reports whether err signals capacity exhaustion.
func IsCapacityExceeded(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}
