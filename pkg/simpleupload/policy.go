package simpleupload

import (
	"errors"
	"mime"
	"strings"
)

// Policy is the upload configuration injected into the Service once at
// construction time.
type Policy struct {
	// KeyPrefix is prepended to every storage key, e.g. "labcaller".
	KeyPrefix string

	// AllowedContentTypes lists the media types accepted on pre-create.
	AllowedContentTypes []string

	// AllowedExtensions lists the filename extensions (without the dot)
	// accepted on pre-create.
	AllowedExtensions []string

	// DeleteBlobOnTerminate removes stored content when the proxy reports a
	// terminated upload.
	DeleteBlobOnTerminate bool
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		KeyPrefix:             "uploads",
		AllowedContentTypes:   []string{"application/octet-stream"},
		AllowedExtensions:     []string{"pod5"},
		DeleteBlobOnTerminate: true,
	}
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if strings.Trim(p.KeyPrefix, "/ ") == "" {
		return errors.New("key prefix is required")
	}
	if len(p.AllowedContentTypes) == 0 {
		return errors.New("at least one allowed content type is required")
	}
	if len(p.AllowedExtensions) == 0 {
		return errors.New("at least one allowed extension is required")
	}
	return nil
}

// CheckUpload validates a pre-create request against the allow-lists.
func (p Policy) CheckUpload(filename, contentType string) error {
	mediaType := strings.TrimSpace(contentType)
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	if !containsFold(p.AllowedContentTypes, mediaType) {
		return &ValidationError{Field: "content type", Value: contentType, Err: ErrContentTypeNotAllowed}
	}

	if !containsFold(p.AllowedExtensions, extension(filename)) {
		return &ValidationError{Field: "filename", Value: filename, Err: ErrExtensionNotAllowed}
	}
	return nil
}

// extension returns the part of filename after the last dot, or "" when there
// is none.
func extension(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return ""
	}
	return filename[i+1:]
}

func containsFold(values []string, v string) bool {
	if v == "" {
		return false
	}
	for _, candidate := range values {
		if strings.EqualFold(strings.TrimPrefix(strings.TrimSpace(candidate), "."), v) {
			return true
		}
	}
	return false
}
