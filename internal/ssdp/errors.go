package ssdp

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRecord matches every reply that could not become a ServiceRecord
	ErrInvalidRecord = errors.New("invalid service record")

	// ErrMissingHeader indicates a required header is absent or empty
	ErrMissingHeader = errors.New("missing header")

	// ErrMalformedHeader indicates a required header is present but unusable
	ErrMalformedHeader = errors.New("malformed header")

	// ErrInvalidExpiry indicates CACHE-CONTROL has no usable max-age directive
	ErrInvalidExpiry = errors.New("invalid max-age")

	// ErrNotUTF8 indicates the datagram is not valid UTF-8 text
	ErrNotUTF8 = errors.New("datagram is not valid UTF-8")

	// ErrEmptyDatagram indicates the datagram holds no data after padding is removed
	ErrEmptyDatagram = errors.New("empty datagram")
)

// DecodeError describes why a reply was rejected
type DecodeError struct {
	Field string // Header name, or empty for datagram-level failures
	Value string // Offending value, if any
	Err   error  // Cause (one of the sentinels above)
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	switch {
	case e.Field == "":
		return fmt.Sprintf("ssdp: %v", e.Err)
	case e.Value == "":
		return fmt.Sprintf("ssdp: %s: %v", e.Field, e.Err)
	default:
		return fmt.Sprintf("ssdp: %s %q: %v", e.Field, e.Value, e.Err)
	}
}

// Unwrap exposes both ErrInvalidRecord and the specific cause
func (e *DecodeError) Unwrap() []error {
	return []error{ErrInvalidRecord, e.Err}
}

// Reason returns a short label for the failure, suitable for metrics
func (e *DecodeError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrMissingHeader):
		return "missing_header"
	case errors.Is(e.Err, ErrInvalidExpiry):
		return "invalid_expiry"
	case errors.Is(e.Err, ErrNotUTF8):
		return "not_utf8"
	case errors.Is(e.Err, ErrEmptyDatagram):
		return "empty"
	default:
		return "malformed_header"
	}
}
