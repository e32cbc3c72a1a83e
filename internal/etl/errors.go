package etl

import (
	"errors"
	"fmt"
)

var (
	// ErrPageFetch marks a page that could not be retrieved or decoded.
	ErrPageFetch = errors.New("page fetch failed")
	// ErrFirstPageFailed is returned by the extractor when page 1 fails and the policy is "fail".
	ErrFirstPageFailed = errors.New("first page failed")
	// ErrMalformedRecord marks a raw record that cannot be normalized.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrInvalidReport marks a report definition that cannot be built.
	ErrInvalidReport = errors.New("invalid report")
	// ErrRunNotFound is returned by run stores for unknown IDs.
	ErrRunNotFound = errors.New("run not found")
)

// PageError describes a failed page request. StatusCode is zero for transport failures.
type PageError struct {
	Page       int
	StatusCode int
	Err        error
}

func (e *PageError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("page %d: status %d: %v", e.Page, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrPageFetch.
func (e *PageError) Is(target error) bool { return target == ErrPageFetch }

// StatusCodeOf extracts the HTTP status from a PageError chain, or 0.
func StatusCodeOf(err error) int {
	var pe *PageError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

// MalformedRecordError describes why a raw record was rejected.
type MalformedRecordError struct {
	Index int
	Field string
	Value string
	Err   error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("record %d: field %s=%q: %v", e.Index, e.Field, e.Value, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrMalformedRecord.
func (e *MalformedRecordError) Is(target error) bool { return target == ErrMalformedRecord }
