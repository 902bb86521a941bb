package simpleupload

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

func (s *service) preCreate(ctx context.Context, event Event) (*Outcome, error) {
	if event.SubmissionID == uuid.Nil {
		return nil, &ValidationError{Field: "submission id", Err: ErrMissingSubmissionID}
	}
	if err := s.policy.CheckUpload(event.Filename, event.ContentType); err != nil {
		return nil, err
	}

	submissionID := event.SubmissionID
	if _, err := s.repository.GetSubmission(ctx, submissionID); err != nil {
		return nil, &SubmissionError{SubmissionID: submissionID, Op: "get", Err: err}
	}

	now := s.now()
	obj := &FileObject{
		ID:                uuid.New(),
		CreatedOn:         now,
		Filename:          event.Filename,
		SizeBytes:         event.DeclaredSize,
		State:             UploadStateInitiated,
		LastPartReceived:  &now,
		ProcessingMessage: MessageUploadInitiated,
	}

	var key string
	err := s.repository.WithinTx(ctx, func(tx Repository) error {
		if err := tx.LockUploadSlot(ctx, submissionID, event.Filename); err != nil {
			return &SubmissionError{SubmissionID: submissionID, Op: "lock upload slot", Err: err}
		}

		candidates, err := tx.FindFileObjects(ctx, submissionID, event.Filename)
		if err != nil {
			return &SubmissionError{SubmissionID: submissionID, Op: "find uploads", Err: err}
		}
		for _, candidate := range candidates {
			if candidate.IsComplete() {
				return fmt.Errorf("%w: %s (object %s)", ErrDuplicateUpload, event.Filename, candidate.ID)
			}
		}
		for _, candidate := range candidates {
			if err := s.reclaim(ctx, tx, candidate); err != nil {
				return err
			}
		}

		if err := tx.CreateFileObject(ctx, obj); err != nil {
			return &ObjectError{ObjectID: obj.ID, Op: "create", Err: err}
		}
		if err := tx.CreateAssociation(ctx, obj.ID, submissionID); err != nil {
			return &ObjectError{ObjectID: obj.ID, Op: "associate", Err: err}
		}

		key, err = s.blobStore.PutPlaceholder(ctx, s.keys.Upload(obj.ID))
		if err != nil {
			return &StorageError{Key: s.keys.Upload(obj.ID), Op: "put placeholder", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Upload initiated",
		"object_id", obj.ID,
		"submission_id", submissionID,
		"filename", obj.Filename,
		"size_bytes", obj.SizeBytes,
		"key", key)

	return &Outcome{
		Accepted:   true,
		ChangeKey:  key,
		HTTPStatus: http.StatusOK,
		Message:    MessageUploadInitiated,
	}, nil
}

// reclaim frees a (submission, filename) slot held by an incomplete upload:
// blob first, then associations, then the row. candidate must be locked by tx.
func (s *service) reclaim(ctx context.Context, tx Repository, candidate *FileObject) error {
	if err := s.deleteBlob(ctx, s.keys.Upload(candidate.ID)); err != nil {
		return err
	}
	if err := tx.DeleteAssociations(ctx, candidate.ID); err != nil {
		return &ObjectError{ObjectID: candidate.ID, Op: "delete associations", Err: err}
	}
	err := tx.DeleteIncompleteFileObject(ctx, candidate.ID)
	if errors.Is(err, ErrUploadAlreadyCompleted) {
		return fmt.Errorf("%w: %s (object %s)", ErrDuplicateUpload, candidate.Filename, candidate.ID)
	}
	if err != nil {
		return &ObjectError{ObjectID: candidate.ID, Op: "delete", Err: err}
	}

	s.logger.Info("Reclaimed incomplete upload", "object_id", candidate.ID, "filename", candidate.Filename)
	return nil
}

func (s *service) postCreate(ctx context.Context, event Event) (*Outcome, error) {
	obj, err := s.resolve(ctx, event)
	if err != nil {
		return nil, err
	}

	now := s.now()
	message := MessageUploadStarted
	err = s.repository.UpdateFileObject(ctx, obj.ID, FileObjectUpdate{
		ProcessingMessage: &message,
		LastPartReceived:  &now,
		OnlyIfIncomplete:  true,
	})
	if errors.Is(err, ErrUploadAlreadyCompleted) {
		return alreadyCompleted(), nil
	}
	if err != nil {
		return nil, &ObjectError{ObjectID: obj.ID, Op: "mark started", Err: err}
	}

	return &Outcome{Accepted: true, HTTPStatus: http.StatusOK, Message: "Upload accepted"}, nil
}

func (s *service) postReceive(ctx context.Context, event Event) (*Outcome, error) {
	obj, err := s.resolve(ctx, event)
	if err != nil {
		return nil, err
	}
	if obj.IsComplete() {
		return alreadyCompleted(), nil
	}

	now := s.now()
	message := ProgressMessage(event.Offset, event.DeclaredSize)
	err = s.repository.UpdateFileObject(ctx, obj.ID, FileObjectUpdate{
		ProcessingMessage: &message,
		LastPartReceived:  &now,
		OnlyIfIncomplete:  true,
	})
	if errors.Is(err, ErrUploadAlreadyCompleted) {
		return alreadyCompleted(), nil
	}
	if err != nil {
		return nil, &ObjectError{ObjectID: obj.ID, Op: "record progress", Err: err}
	}

	return &Outcome{Accepted: true, HTTPStatus: http.StatusOK, Message: "Upload progress updated"}, nil
}

// finish handles both pre-finish and post-finish.
func (s *service) finish(ctx context.Context, event Event) (*Outcome, error) {
	obj, err := s.resolve(ctx, event)
	if err != nil {
		return nil, err
	}
	if obj.IsComplete() {
		return alreadyCompleted(), nil
	}

	now := s.now()
	message := MessageUploadCompleted
	err = s.repository.UpdateFileObject(ctx, obj.ID, FileObjectUpdate{
		ProcessingMessage: &message,
		LastPartReceived:  &now,
		MarkCompleted:     true,
		OnlyIfIncomplete:  true,
	})
	if errors.Is(err, ErrUploadAlreadyCompleted) {
		return alreadyCompleted(), nil
	}
	if err != nil {
		return nil, &ObjectError{ObjectID: obj.ID, Op: "mark completed", Err: err}
	}

	s.logger.Info("Upload completed", "object_id", obj.ID, "event", event.Kind)
	return &Outcome{Accepted: true, HTTPStatus: http.StatusOK, Message: MessageUploadCompleted}, nil
}

func (s *service) postTerminate(ctx context.Context, event Event) (*Outcome, error) {
	obj, err := s.resolve(ctx, event)
	if err != nil {
		return nil, err
	}

	if err := s.deleteFileObject(ctx, obj.ID, s.policy.DeleteBlobOnTerminate); err != nil {
		return nil, err
	}

	s.logger.Info("Upload terminated", "object_id", obj.ID, "blob_deleted", s.policy.DeleteBlobOnTerminate)
	return &Outcome{Accepted: true, HTTPStatus: http.StatusOK, Message: "Upload terminated"}, nil
}

// resolve maps the event's upload handle onto its ledger row.
func (s *service) resolve(ctx context.Context, event Event) (*FileObject, error) {
	id, err := event.ObjectID()
	if err != nil {
		return nil, err
	}

	obj, err := s.repository.GetFileObject(ctx, id)
	if err != nil {
		return nil, &ObjectError{ObjectID: id, Op: "get", Err: err}
	}
	return obj, nil
}

func alreadyCompleted() *Outcome {
	return &Outcome{Accepted: true, HTTPStatus: http.StatusOK, Message: MessageUploadCompleted}
}

// ProgressMessage formats the processing message for a received chunk. A
// declared size of zero or less counts as fully received.
func ProgressMessage(offset, declaredSize int64) string {
	percentage := 100.0
	if declaredSize > 0 {
		percentage = float64(offset) / float64(declaredSize) * 100
	}
	return fmt.Sprintf(messageProgressFormat, percentage)
}
