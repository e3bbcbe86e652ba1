package entity

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrNoOrigin is returned by capability methods on entities that were
// built without an origin adapter.
var ErrNoOrigin = errors.New("entity has no origin adapter")

// Sentinel targets for errors.Is against AdapterError kinds.
var (
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
	ErrTransport   = errors.New("transport error")
)

// AdapterErrorKind classifies adapter capability failures.
type AdapterErrorKind int

const (
	KindTransport AdapterErrorKind = iota
	KindNotFound
	KindRateLimited
)

func (k AdapterErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "transport"
	}
}

// AdapterError wraps a failure of an adapter capability call. The core
// never retries these; the dispatcher turns them into a single
// user-visible failure message.
type AdapterError struct {
	Op   string
	Kind AdapterErrorKind
	Err  error
}

func (e *AdapterError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("adapter %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("adapter %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func (e *AdapterError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrTransport:
		return e.Kind == KindTransport
	}
	return false
}

// NormalizationError reports a native object Transform cannot handle.
// It is recoverable: message-level media failures degrade to
// Unsupported, only top-level unknown kinds surface this error.
type NormalizationError struct {
	NativeKind string
	Reason     string
}

func NewNormalizationError(native any, reason string) *NormalizationError {
	return &NormalizationError{NativeKind: fmt.Sprintf("%T", native), Reason: reason}
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("cannot normalize %s: %s", e.NativeKind, e.Reason)
}

// ParseVenueID parses a platform's opaque venue identifier as a
// base-16 integer. FormatVenueID inverts it; for any lowercase hex
// input without leading zeros, FormatVenueID(ParseVenueID(s)) == s.
func ParseVenueID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("venue id %q is not base-16: %w", s, err)
	}
	return id, nil
}

func FormatVenueID(id int64) string {
	return strconv.FormatInt(id, 16)
}
