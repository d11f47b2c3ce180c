package domain

import (
	"errors"
	"fmt"
)

// Extraction error kinds. Each failure condition is a distinct kind so the
// orchestrator can persist it and the failure log stays diagnosable.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrRendererMissing   = errors.New("renderer binary missing")
	ErrRendererTimeout   = errors.New("renderer timeout")
	ErrCorruptFile       = errors.New("corrupt or protected file")
	ErrOCRFailed         = errors.New("ocr failed")
	ErrEmptyText         = errors.New("no extractable text")
)

// Embedding error kinds.
var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrDeviceExhausted   = errors.New("accelerator memory exhausted")
)

// Index and queue error kinds.
var (
	ErrIndexWrite        = errors.New("index write rejected")
	ErrDeliveryExhausted = errors.New("redelivery budget exhausted")
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ErrorKind reduces an error to the stable kind string stored with
// quarantined documents and failure log entries.
func ErrorKind(err error) string {
	switch {
	case IsKind(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case IsKind(err, ErrRendererMissing):
		return "renderer_missing"
	case IsKind(err, ErrRendererTimeout):
		return "renderer_timeout"
	case IsKind(err, ErrCorruptFile):
		return "corrupt_file"
	case IsKind(err, ErrOCRFailed):
		return "ocr_failed"
	case IsKind(err, ErrEmptyText):
		return "empty_text"
	case IsKind(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case IsKind(err, ErrDeviceExhausted):
		return "device_exhausted"
	case IsKind(err, ErrIndexWrite):
		return "index_write"
	case IsKind(err, ErrDeliveryExhausted):
		return "delivery_exhausted"
	case IsKind(err, ErrTemporary):
		return "temporary"
	default:
		return "internal"
	}
}

// IsPermanent reports whether retrying the same document can not succeed.
// Permanent failures count toward quarantine; transient ones are redelivered.
func IsPermanent(err error) bool {
	return IsKind(err, ErrUnsupportedFormat) ||
		IsKind(err, ErrCorruptFile) ||
		IsKind(err, ErrEmptyText) ||
		IsKind(err, ErrDimensionMismatch) ||
		IsKind(err, ErrOCRFailed)
}
