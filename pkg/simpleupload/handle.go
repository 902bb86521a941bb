package simpleupload

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// handleSeparator splits the object id from the id the proxy appends to it
// (the S3 multipart upload id for tusd's s3store).
const handleSeparator = "+"

// ParseUploadHandle extracts the FileObject id from an upload handle of the
// form "<prefix>/<object_id>+<proxy_id>". The prefix and the proxy id are both
// optional.
func ParseUploadHandle(handle string) (uuid.UUID, error) {
	rest := strings.TrimSpace(handle)
	if i := strings.LastIndex(rest, "/"); i >= 0 {
		rest = rest[i+1:]
	}
	idPart, _, _ := strings.Cut(rest, handleSeparator)
	if idPart == "" {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrMalformedHandle, handle)
	}

	id, err := uuid.Parse(idPart)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrMalformedHandle, handle)
	}
	return id, nil
}
