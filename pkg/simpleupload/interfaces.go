package simpleupload

import (
	"context"

	"github.com/google/uuid"
)

// Service handles upload lifecycle events and cascade deletion.
type Service interface {
	// HandleEvent dispatches one hook event to its handler.
	HandleEvent(ctx context.Context, event Event) (*Outcome, error)

	GetFileObject(ctx context.Context, id uuid.UUID) (*FileObject, error)
	GetSubmissionDetails(ctx context.Context, id uuid.UUID) (*SubmissionDetails, error)

	// DeleteFileObject removes the object's associations, its blob and its row.
	DeleteFileObject(ctx context.Context, id uuid.UUID) error

	// DeleteSubmission deletes every associated file object, the submission's
	// output blobs and finally the submission row. It stops at the first failure.
	DeleteSubmission(ctx context.Context, id uuid.UUID) error
}

// Repository is the ledger of file objects, associations and submissions.
//
// Mutations return ErrFileObjectNotFound or ErrSubmissionNotFound when the
// target row does not exist at write time.
type Repository interface {
	// File object operations
	GetFileObject(ctx context.Context, id uuid.UUID) (*FileObject, error)

	// FindFileObjects returns the submission's file objects named filename.
	// On a view obtained from WithinTx the returned rows stay locked against
	// concurrent updates and deletes until the transaction ends.
	FindFileObjects(ctx context.Context, submissionID uuid.UUID, filename string) ([]*FileObject, error)
	CreateFileObject(ctx context.Context, obj *FileObject) error
	UpdateFileObject(ctx context.Context, id uuid.UUID, update FileObjectUpdate) error
	DeleteFileObject(ctx context.Context, id uuid.UUID) error

	// DeleteIncompleteFileObject deletes the row only while it is Initiated
	// and returns ErrUploadAlreadyCompleted otherwise.
	DeleteIncompleteFileObject(ctx context.Context, id uuid.UUID) error

	// Association operations
	CreateAssociation(ctx context.Context, objectID, submissionID uuid.UUID) error
	DeleteAssociations(ctx context.Context, objectID uuid.UUID) error

	// Submission operations
	CreateSubmission(ctx context.Context, submission *Submission) error
	GetSubmission(ctx context.Context, id uuid.UUID) (*Submission, error)
	ListSubmissionFileObjects(ctx context.Context, submissionID uuid.UUID) ([]*FileObject, error)
	DeleteSubmission(ctx context.Context, id uuid.UUID) error

	// WithinTx runs fn against a transactional view of the repository. The
	// transaction commits when fn returns nil and rolls back otherwise. Calling
	// WithinTx on a transactional view runs fn in the same transaction.
	WithinTx(ctx context.Context, fn func(tx Repository) error) error

	// LockUploadSlot blocks until the caller holds the (submission, filename)
	// slot. The lock is released when the surrounding transaction ends, so it
	// must be called on a view obtained from WithinTx.
	LockUploadSlot(ctx context.Context, submissionID uuid.UUID, filename string) error
}

// BlobStore is the object storage holding uploaded bytes.
type BlobStore interface {
	// PutPlaceholder returns the key the upload proxy should write to. It
	// performs no I/O; bytes travel from the client to the store directly.
	PutPlaceholder(ctx context.Context, key string) (string, error)

	// Delete removes the object under key. A missing object yields ErrBlobNotFound.
	Delete(ctx context.Context, key string) error

	// List returns the objects whose keys start with prefix.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)
}
