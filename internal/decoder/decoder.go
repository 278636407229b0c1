// Package decoder turns uploaded bytes, base64 strings and data-URIs into
// an opaque RGB pixel buffer. Only JPEG and PNG are accepted.
package decoder

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif" // registered so GIF is recognized and rejected as unsupported
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"  // recognized and rejected as unsupported
	_ "golang.org/x/image/webp" // recognized and rejected as unsupported
)

// Kind tags where the bytes came from.
type Kind string

const (
	KindMultipart Kind = "multipart-file"
	KindBase64    Kind = "base64-json"
	KindDataURI   Kind = "data-uri"
	KindFile      Kind = "file"
)

// Source describes an input payload.
type Source struct {
	Kind        Kind
	Filename    string
	ContentType string
}

// Meta captures lightweight information about a decoded image.
type Meta struct {
	Format    string
	SizeBytes int
	Width     int
	Height    int
	Flattened bool // true when alpha or palette data was composited onto white
}

// Config controls optional staging of payloads through temp files.
type Config struct {
	// StageDir, when non-empty, makes the decoder write each payload to a
	// uniquely named file in this directory and decode from disk. The file
	// is removed before Decode returns.
	StageDir string
}

// Decoder decodes image payloads. It holds no per-request state and is
// safe for concurrent use.
type Decoder struct {
	stageDir string
}

// New creates a decoder.
func New(cfg Config) *Decoder {
	return &Decoder{stageDir: cfg.StageDir}
}

var (
	supportedExtensions   = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}
	supportedContentTypes = map[string]bool{"image/jpeg": true, "image/jpg": true, "image/png": true}
	supportedFormats      = map[string]bool{"jpeg": true, "png": true}
)

// IsSupportedImage reports whether the path has a JPEG or PNG extension.
func IsSupportedImage(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// CheckFormat validates the declared filename extension and content type.
// Either may be empty; a generic application/octet-stream type defers to
// the extension.
func CheckFormat(filename, contentType string) error {
	if ext := filepath.Ext(filename); ext != "" && !supportedExtensions[strings.ToLower(ext)] {
		return &FormatError{Filename: filename, ContentType: contentType}
	}
	if contentType == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if mediaType == "application/octet-stream" {
		return nil
	}
	if !supportedContentTypes[mediaType] {
		return &FormatError{Filename: filename, ContentType: contentType}
	}
	return nil
}

// StripDataURI returns the payload of a data-URI: everything after the
// first comma. Strings that do not start with "data:" are returned as is.
func StripDataURI(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	_, payload, found := strings.Cut(s, ",")
	if !found {
		return ""
	}
	return payload
}

// DecodeBase64 decodes a base64 string, optionally wrapped in a data-URI.
func (d *Decoder) DecodeBase64(s string) (*image.NRGBA, Meta, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, Meta{}, ErrEmptyInput
	}

	src := Source{Kind: KindBase64}
	if strings.HasPrefix(s, "data:") {
		src.Kind = KindDataURI
		s = StripDataURI(s)
	}

	data, err := decodeBase64(s)
	if err != nil {
		return nil, Meta{}, &Error{Operation: "base64", Err: fmt.Errorf("%w: %w", ErrInvalidEncoding, err)}
	}
	return d.Decode(data, src)
}

func decodeBase64(s string) ([]byte, error) {
	// Clients occasionally line-wrap long payloads.
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, ErrEmptyInput
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}

// Decode validates the declared format and decodes data into an opaque
// RGB buffer with origin (0,0).
func (d *Decoder) Decode(data []byte, src Source) (*image.NRGBA, Meta, error) {
	if err := CheckFormat(src.Filename, src.ContentType); err != nil {
		return nil, Meta{}, err
	}
	if len(data) == 0 {
		return nil, Meta{}, ErrEmptyInput
	}

	if d.stageDir != "" {
		return d.decodeStaged(data, src)
	}
	return decodeReader(bytes.NewReader(data), len(data), src)
}

// LoadFile decodes an image file from disk.
func (d *Decoder) LoadFile(path string) (*image.NRGBA, Meta, error) {
	if !IsSupportedImage(path) {
		return nil, Meta{}, &FormatError{Filename: path}
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: reading user-provided image path is expected
	if err != nil {
		return nil, Meta{}, &Error{Operation: "load", Err: err}
	}
	return d.Decode(data, Source{Kind: KindFile, Filename: path})
}

// decodeStaged writes data to a per-request temp file and decodes from it.
// The file is removed on every exit path, including panics.
func (d *Decoder) decodeStaged(data []byte, src Source) (*image.NRGBA, Meta, error) {
	ext := strings.ToLower(filepath.Ext(src.Filename))
	path := filepath.Join(d.stageDir, "upload-"+uuid.NewString()+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600) //nolint:gosec // G304: name is generated
	if err != nil {
		return nil, Meta{}, &Error{Operation: "stage", Err: err}
	}
	defer func() {
		_ = f.Close()
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("failed to remove staged upload", "path", path, "error", rmErr)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return nil, Meta{}, &Error{Operation: "stage", Err: err}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, Meta{}, &Error{Operation: "stage", Err: err}
	}
	return decodeReader(f, len(data), src)
}

func decodeReader(r io.ReadSeeker, size int, src Source) (*image.NRGBA, Meta, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return nil, Meta{}, &Error{Operation: "sniff", Err: fmt.Errorf("%w: %w", ErrDecode, err)}
	}
	if !supportedFormats[format] {
		return nil, Meta{}, &FormatError{Filename: src.Filename, ContentType: src.ContentType, Detected: format}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, Meta{}, &Error{Operation: "sniff", Err: fmt.Errorf("%w: empty %dx%d image", ErrDecode, cfg.Width, cfg.Height)}
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, Meta{}, &Error{Operation: "decode", Err: err}
	}
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, Meta{}, &Error{Operation: "decode", Err: fmt.Errorf("%w: %w", ErrDecode, err)}
	}

	rgb, flattened := Flatten(img)
	b := rgb.Bounds()
	return rgb, Meta{
		Format:    format,
		SizeBytes: size,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Flattened: flattened,
	}, nil
}
