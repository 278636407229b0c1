package decoder

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat rejects anything that is not JPEG or PNG.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrDecode is returned for corrupt or undecodable bytes.
	ErrDecode = errors.New("could not decode image")
	// ErrInvalidEncoding is returned for malformed base64 payloads.
	ErrInvalidEncoding = errors.New("invalid base64 encoding")
	// ErrEmptyInput is returned when no image bytes were supplied.
	ErrEmptyInput = errors.New("no image data provided")
)

// FormatError describes a rejected input. It matches ErrUnsupportedFormat.
type FormatError struct {
	Filename    string
	ContentType string
	Detected    string // format sniffed from the bytes, if any
}

func (e *FormatError) Error() string {
	switch {
	case e.Detected != "":
		return fmt.Sprintf("unsupported image format %q: only JPEG/PNG images allowed", e.Detected)
	case e.Filename != "":
		return fmt.Sprintf("unsupported image format for %q: only JPEG/PNG images allowed", e.Filename)
	default:
		return fmt.Sprintf("unsupported content type %q: only JPEG/PNG images allowed", e.ContentType)
	}
}

func (e *FormatError) Unwrap() error { return ErrUnsupportedFormat }

// Error wraps a failure of one decode step.
type Error struct {
	Operation string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("image decode error in %s: %v", e.Operation, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
