package simpleupload

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrFileObjectNotFound indicates a file object was not found
	ErrFileObjectNotFound = errors.New("file object not found")

	// ErrSubmissionNotFound indicates a submission was not found
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrMalformedHandle indicates an upload handle could not be resolved to an object id
	ErrMalformedHandle = errors.New("malformed upload handle")

	// ErrUnknownEvent indicates a hook type this service does not handle
	ErrUnknownEvent = errors.New("unknown event type")

	// ErrDuplicateUpload indicates a completed upload already holds the (submission, filename) slot
	ErrDuplicateUpload = errors.New("a completed upload with this filename already exists for the submission")

	// ErrContentTypeNotAllowed indicates the declared content type is not on the allow-list
	ErrContentTypeNotAllowed = errors.New("content type not allowed")

	// ErrExtensionNotAllowed indicates the filename extension is not on the allow-list
	ErrExtensionNotAllowed = errors.New("file extension not allowed")

	// ErrMissingSubmissionID indicates a pre-create event without a submission id
	ErrMissingSubmissionID = errors.New("submission id is required")

	// ErrUploadAlreadyCompleted indicates a conditional write hit a completed upload
	ErrUploadAlreadyCompleted = errors.New("upload already completed")

	// ErrBlobNotFound indicates the blob store holds no object under the key
	ErrBlobNotFound = errors.New("blob not found")

	// ErrDuplicateRecord indicates a unique constraint rejected an insert
	ErrDuplicateRecord = errors.New("record already exists")

	// ErrStillReferenced indicates a row cannot be deleted while other rows point at it
	ErrStillReferenced = errors.New("record is still referenced")
)

// ObjectError represents a ledger failure on a file object
type ObjectError struct {
	ObjectID uuid.UUID
	Op       string
	Err      error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("file object operation %s failed for object %s: %v", e.Op, e.ObjectID, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// SubmissionError represents a ledger failure on a submission
type SubmissionError struct {
	SubmissionID uuid.UUID
	Op           string
	Err          error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission operation %s failed for submission %s: %v", e.Op, e.SubmissionID, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// StorageError represents a blob store failure
type StorageError struct {
	Key string
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ValidationError represents an event rejected before any ledger access
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies failures for transport mapping.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindConflict    ErrorKind = "conflict"
	KindNotFound    ErrorKind = "not_found"
	KindStorage     ErrorKind = "storage_failure"
	KindLedger      ErrorKind = "ledger_failure"
	KindUnsupported ErrorKind = "unsupported_event"
)

// KindOf classifies err. Anything that is not recognised as a client-side
// problem or a blob store failure is a ledger failure, including context
// cancellation surfaced by the repository.
func KindOf(err error) ErrorKind {
	var validationErr *ValidationError
	var storageErr *StorageError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownEvent):
		return KindUnsupported
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.Is(err, ErrDuplicateUpload):
		return KindConflict
	case errors.Is(err, ErrFileObjectNotFound),
		errors.Is(err, ErrSubmissionNotFound),
		errors.Is(err, ErrMalformedHandle):
		return KindNotFound
	case errors.As(err, &storageErr):
		return KindStorage
	default:
		return KindLedger
	}
}

// HTTPStatus returns the HTTP status code matching an error kind.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case "":
		return http.StatusOK
	case KindValidation, KindUnsupported:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether the failure was caused by the event itself
// rather than by a collaborator.
func IsClientError(kind ErrorKind) bool {
	switch kind {
	case KindValidation, KindConflict, KindNotFound, KindUnsupported:
		return true
	}
	return false
}
