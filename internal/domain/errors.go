package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPayload marks an event with missing fields or an unreadable body.
	ErrInvalidPayload = errors.New("coldanchor: invalid payload")
	// ErrInvalidType marks an event whose temp or hum is not numeric.
	ErrInvalidType = errors.New("coldanchor: invalid type")
	// ErrEmptyBatch is returned when aggregating zero fingerprints.
	ErrEmptyBatch = errors.New("coldanchor: empty batch")
	// ErrArtifactWrite wraps I/O failures while persisting a batch artifact.
	ErrArtifactWrite = errors.New("coldanchor: artifact write failed")
	// ErrAnchorSubmission wraps ledger submission failures.
	ErrAnchorSubmission = errors.New("coldanchor: anchor submission failed")
	// ErrContentStore wraps failures from the content-addressable store.
	ErrContentStore = errors.New("coldanchor: content store failed")
	// ErrMetadataStore wraps failures from the relational index.
	ErrMetadataStore = errors.New("coldanchor: metadata store failed")
	ErrNotFound      = errors.New("coldanchor: not found")
)

// RejectionError records why the validator refused an event.
type RejectionError struct {
	Kind   error
	Field  string
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Field, e.Detail)
}

func (e *RejectionError) Unwrap() error { return e.Kind }

// Reason is a short label suitable for metrics.
func (e *RejectionError) Reason() string {
	switch {
	case errors.Is(e.Kind, ErrInvalidType):
		return "invalid_type"
	default:
		return "invalid_payload"
	}
}
