package simpleupload

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

func (s *service) DeleteFileObject(ctx context.Context, id uuid.UUID) error {
	if err := s.deleteFileObject(ctx, id, true); err != nil {
		return err
	}
	s.logger.Info("File object deleted", "object_id", id)
	return nil
}

// deleteFileObject removes associations, then the blob (when withBlob is set),
// then the row, inside one ledger transaction. A blob failure rolls the
// association delete back so the object stays discoverable for a retry.
func (s *service) deleteFileObject(ctx context.Context, id uuid.UUID, withBlob bool) error {
	return s.repository.WithinTx(ctx, func(tx Repository) error {
		if _, err := tx.GetFileObject(ctx, id); err != nil {
			return &ObjectError{ObjectID: id, Op: "get", Err: err}
		}
		if err := tx.DeleteAssociations(ctx, id); err != nil {
			return &ObjectError{ObjectID: id, Op: "delete associations", Err: err}
		}
		if withBlob {
			if err := s.deleteBlob(ctx, s.keys.Upload(id)); err != nil {
				return err
			}
		}
		if err := tx.DeleteFileObject(ctx, id); err != nil {
			return &ObjectError{ObjectID: id, Op: "delete", Err: err}
		}
		return nil
	})
}

func (s *service) DeleteSubmission(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repository.GetSubmission(ctx, id); err != nil {
		return &SubmissionError{SubmissionID: id, Op: "get", Err: err}
	}

	uploads, err := s.repository.ListSubmissionFileObjects(ctx, id)
	if err != nil {
		return &SubmissionError{SubmissionID: id, Op: "list uploads", Err: err}
	}
	for _, upload := range uploads {
		if err := s.deleteFileObject(ctx, upload.ID, true); err != nil {
			return &SubmissionError{SubmissionID: id, Op: "delete uploads", Err: err}
		}
	}

	prefix := s.keys.OutputsPrefix(id)
	outputs, err := s.blobStore.List(ctx, prefix)
	if err != nil {
		return &SubmissionError{SubmissionID: id, Op: "list outputs", Err: &StorageError{Key: prefix, Op: "list", Err: err}}
	}
	for _, output := range outputs {
		if err := s.deleteBlob(ctx, output.Key); err != nil {
			return &SubmissionError{SubmissionID: id, Op: "delete outputs", Err: err}
		}
	}

	if err := s.repository.DeleteSubmission(ctx, id); err != nil {
		return &SubmissionError{SubmissionID: id, Op: "delete", Err: err}
	}

	s.logger.Info("Submission deleted", "submission_id", id, "uploads", len(uploads), "outputs", len(outputs))
	return nil
}

// deleteBlob treats an already missing object as deleted.
func (s *service) deleteBlob(ctx context.Context, key string) error {
	err := s.blobStore.Delete(ctx, key)
	if errors.Is(err, ErrBlobNotFound) {
		s.logger.Debug("Blob already absent", "key", key)
		return nil
	}
	if err != nil {
		return &StorageError{Key: key, Op: "delete", Err: err}
	}
	return nil
}
