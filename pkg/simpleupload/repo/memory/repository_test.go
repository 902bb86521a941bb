package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/repo/memory"
)

func newSubmission(t *testing.T, repo *memory.Repository, name string) *simpleupload.Submission {
	t.Helper()
	submission := &simpleupload.Submission{
		ID:          uuid.New(),
		Name:        name,
		CreatedOn:   time.Now().UTC(),
		LastUpdated: time.Now().UTC(),
	}
	require.NoError(t, repo.CreateSubmission(context.Background(), submission))
	return submission
}

func newFileObject(filename string) *simpleupload.FileObject {
	now := time.Now().UTC()
	return &simpleupload.FileObject{
		ID:                uuid.New(),
		CreatedOn:         now,
		Filename:          filename,
		SizeBytes:         1000,
		State:             simpleupload.UploadStateInitiated,
		LastPartReceived:  &now,
		ProcessingMessage: simpleupload.MessageUploadInitiated,
	}
}

func TestMemoryRepository_FileObjectOperations(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	submission := newSubmission(t, repo, "run-1")

	obj := newFileObject("run1.pod5")
	require.NoError(t, repo.CreateFileObject(ctx, obj))
	require.NoError(t, repo.CreateAssociation(ctx, obj.ID, submission.ID))

	t.Run("GetFileObject returns a copy", func(t *testing.T) {
		got, err := repo.GetFileObject(ctx, obj.ID)
		require.NoError(t, err)
		assert.Equal(t, obj.Filename, got.Filename)

		got.Filename = "changed.pod5"
		again, err := repo.GetFileObject(ctx, obj.ID)
		require.NoError(t, err)
		assert.Equal(t, "run1.pod5", again.Filename)
	})

	t.Run("CreateFileObject rejects duplicate ids", func(t *testing.T) {
		err := repo.CreateFileObject(ctx, obj)
		assert.ErrorIs(t, err, simpleupload.ErrDuplicateRecord)
	})

	t.Run("FindFileObjects filters by submission and filename", func(t *testing.T) {
		other := newFileObject("run2.pod5")
		require.NoError(t, repo.CreateFileObject(ctx, other))
		require.NoError(t, repo.CreateAssociation(ctx, other.ID, submission.ID))

		found, err := repo.FindFileObjects(ctx, submission.ID, "run1.pod5")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, obj.ID, found[0].ID)

		found, err = repo.FindFileObjects(ctx, uuid.New(), "run1.pod5")
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("UpdateFileObject applies partial fields", func(t *testing.T) {
		message := "Upload started"
		require.NoError(t, repo.UpdateFileObject(ctx, obj.ID, simpleupload.FileObjectUpdate{ProcessingMessage: &message}))

		got, err := repo.GetFileObject(ctx, obj.ID)
		require.NoError(t, err)
		assert.Equal(t, "Upload started", got.ProcessingMessage)
		assert.Equal(t, simpleupload.UploadStateInitiated, got.State)
	})

	t.Run("UpdateFileObject respects OnlyIfIncomplete", func(t *testing.T) {
		require.NoError(t, repo.UpdateFileObject(ctx, obj.ID, simpleupload.FileObjectUpdate{MarkCompleted: true}))

		message := "Upload progress: 10.00%"
		err := repo.UpdateFileObject(ctx, obj.ID, simpleupload.FileObjectUpdate{
			ProcessingMessage: &message,
			OnlyIfIncomplete:  true,
		})
		assert.ErrorIs(t, err, simpleupload.ErrUploadAlreadyCompleted)

		got, err := repo.GetFileObject(ctx, obj.ID)
		require.NoError(t, err)
		assert.True(t, got.IsComplete())
		assert.Equal(t, "Upload started", got.ProcessingMessage)
	})

	t.Run("UpdateFileObject on missing row", func(t *testing.T) {
		err := repo.UpdateFileObject(ctx, uuid.New(), simpleupload.FileObjectUpdate{MarkCompleted: true})
		assert.ErrorIs(t, err, simpleupload.ErrFileObjectNotFound)
	})

	t.Run("DeleteFileObject requires associations to be removed first", func(t *testing.T) {
		err := repo.DeleteFileObject(ctx, obj.ID)
		assert.ErrorIs(t, err, simpleupload.ErrStillReferenced)

		require.NoError(t, repo.DeleteAssociations(ctx, obj.ID))
		assert.False(t, repo.HasAssociation(obj.ID, submission.ID))
		require.NoError(t, repo.DeleteFileObject(ctx, obj.ID))

		_, err = repo.GetFileObject(ctx, obj.ID)
		assert.ErrorIs(t, err, simpleupload.ErrFileObjectNotFound)

		err = repo.DeleteFileObject(ctx, obj.ID)
		assert.ErrorIs(t, err, simpleupload.ErrFileObjectNotFound)
	})
}

func TestMemoryRepository_AssociationOperations(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	submission := newSubmission(t, repo, "run-1")
	obj := newFileObject("run1.pod5")
	require.NoError(t, repo.CreateFileObject(ctx, obj))

	t.Run("unknown submission", func(t *testing.T) {
		err := repo.CreateAssociation(ctx, obj.ID, uuid.New())
		assert.ErrorIs(t, err, simpleupload.ErrSubmissionNotFound)
	})

	t.Run("unknown file object", func(t *testing.T) {
		err := repo.CreateAssociation(ctx, uuid.New(), submission.ID)
		assert.ErrorIs(t, err, simpleupload.ErrFileObjectNotFound)
	})

	t.Run("pair is unique", func(t *testing.T) {
		require.NoError(t, repo.CreateAssociation(ctx, obj.ID, submission.ID))
		err := repo.CreateAssociation(ctx, obj.ID, submission.ID)
		assert.ErrorIs(t, err, simpleupload.ErrDuplicateRecord)
	})
}

func TestMemoryRepository_SubmissionOperations(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	submission := newSubmission(t, repo, "run-1")

	t.Run("name is unique", func(t *testing.T) {
		err := repo.CreateSubmission(ctx, &simpleupload.Submission{ID: uuid.New(), Name: "run-1"})
		assert.ErrorIs(t, err, simpleupload.ErrDuplicateRecord)
	})

	t.Run("delete is refused while file objects are associated", func(t *testing.T) {
		obj := newFileObject("run1.pod5")
		require.NoError(t, repo.CreateFileObject(ctx, obj))
		require.NoError(t, repo.CreateAssociation(ctx, obj.ID, submission.ID))

		err := repo.DeleteSubmission(ctx, submission.ID)
		assert.ErrorIs(t, err, simpleupload.ErrStillReferenced)

		uploads, err := repo.ListSubmissionFileObjects(ctx, submission.ID)
		require.NoError(t, err)
		assert.Len(t, uploads, 1)

		require.NoError(t, repo.DeleteAssociations(ctx, obj.ID))
		require.NoError(t, repo.DeleteSubmission(ctx, submission.ID))

		_, err = repo.GetSubmission(ctx, submission.ID)
		assert.ErrorIs(t, err, simpleupload.ErrSubmissionNotFound)
	})
}

func TestMemoryRepository_WithinTx(t *testing.T) {
	ctx := context.Background()

	t.Run("rollback restores every mutation", func(t *testing.T) {
		repo := memory.New()
		submission := newSubmission(t, repo, "run-1")
		existing := newFileObject("run1.pod5")
		require.NoError(t, repo.CreateFileObject(ctx, existing))
		require.NoError(t, repo.CreateAssociation(ctx, existing.ID, submission.ID))

		failure := errors.New("boom")
		created := newFileObject("run1.pod5")
		err := repo.WithinTx(ctx, func(tx simpleupload.Repository) error {
			require.NoError(t, tx.DeleteAssociations(ctx, existing.ID))
			require.NoError(t, tx.DeleteFileObject(ctx, existing.ID))
			require.NoError(t, tx.CreateFileObject(ctx, created))
			require.NoError(t, tx.CreateAssociation(ctx, created.ID, submission.ID))
			return failure
		})
		assert.ErrorIs(t, err, failure)

		_, err = repo.GetFileObject(ctx, existing.ID)
		assert.NoError(t, err)
		assert.True(t, repo.HasAssociation(existing.ID, submission.ID))

		_, err = repo.GetFileObject(ctx, created.ID)
		assert.ErrorIs(t, err, simpleupload.ErrFileObjectNotFound)
		assert.False(t, repo.HasAssociation(created.ID, submission.ID))
	})

	t.Run("commit keeps mutations", func(t *testing.T) {
		repo := memory.New()
		submission := newSubmission(t, repo, "run-1")
		created := newFileObject("run1.pod5")

		err := repo.WithinTx(ctx, func(tx simpleupload.Repository) error {
			if err := tx.CreateFileObject(ctx, created); err != nil {
				return err
			}
			return tx.CreateAssociation(ctx, created.ID, submission.ID)
		})
		require.NoError(t, err)
		assert.True(t, repo.HasAssociation(created.ID, submission.ID))
	})

	t.Run("cancelled context fails before running", func(t *testing.T) {
		repo := memory.New()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		called := false
		err := repo.WithinTx(cancelled, func(tx simpleupload.Repository) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})
}

func TestMemoryRepository_LockUploadSlot(t *testing.T) {
	ctx := context.Background()
	submissionID := uuid.New()

	t.Run("requires a transaction", func(t *testing.T) {
		repo := memory.New()
		err := repo.LockUploadSlot(ctx, submissionID, "run1.pod5")
		assert.Error(t, err)
	})

	t.Run("serialises holders of the same slot", func(t *testing.T) {
		repo := memory.New()
		var inside, maxInside int32
		var wg sync.WaitGroup

		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.WithinTx(ctx, func(tx simpleupload.Repository) error {
					if err := tx.LockUploadSlot(ctx, submissionID, "run1.pod5"); err != nil {
						return err
					}
					n := atomic.AddInt32(&inside, 1)
					for {
						m := atomic.LoadInt32(&maxInside)
						if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&inside, -1)
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
	})

	t.Run("different slots do not block each other", func(t *testing.T) {
		repo := memory.New()
		err := repo.WithinTx(ctx, func(tx simpleupload.Repository) error {
			require.NoError(t, tx.LockUploadSlot(ctx, submissionID, "a.pod5"))
			return repo.WithinTx(ctx, func(other simpleupload.Repository) error {
				return other.LockUploadSlot(ctx, submissionID, "b.pod5")
			})
		})
		assert.NoError(t, err)
	})

	t.Run("waiting honours cancellation", func(t *testing.T) {
		repo := memory.New()
		err := repo.WithinTx(ctx, func(tx simpleupload.Repository) error {
			require.NoError(t, tx.LockUploadSlot(ctx, submissionID, "run1.pod5"))

			waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()
			return repo.WithinTx(waitCtx, func(other simpleupload.Repository) error {
				return other.LockUploadSlot(waitCtx, submissionID, "run1.pod5")
			})
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestMemoryRepository_RowLocks(t *testing.T) {
	ctx := context.Background()

	t.Run("rows found in a transaction block outside writes until it ends", func(t *testing.T) {
		repo := memory.New()
		submission := newSubmission(t, repo, "run-1")
		obj := newFileObject("run1.pod5")
		require.NoError(t, repo.CreateFileObject(ctx, obj))
		require.NoError(t, repo.CreateAssociation(ctx, obj.ID, submission.ID))

		message := simpleupload.MessageUploadCompleted
		complete := simpleupload.FileObjectUpdate{ProcessingMessage: &message, MarkCompleted: true, OnlyIfIncomplete: true}

		err := repo.WithinTx(ctx, func(tx simpleupload.Repository) error {
			found, err := tx.FindFileObjects(ctx, submission.ID, "run1.pod5")
			require.NoError(t, err)
			require.Len(t, found, 1)

			waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			assert.ErrorIs(t, repo.UpdateFileObject(waitCtx, obj.ID, complete), context.DeadlineExceeded)
			assert.ErrorIs(t, repo.DeleteFileObject(waitCtx, obj.ID), context.DeadlineExceeded)

			// The holder itself is not blocked.
			require.NoError(t, tx.DeleteAssociations(ctx, obj.ID))
			return tx.DeleteIncompleteFileObject(ctx, obj.ID)
		})
		require.NoError(t, err)

		assert.ErrorIs(t, repo.UpdateFileObject(ctx, obj.ID, complete), simpleupload.ErrFileObjectNotFound)
	})

	t.Run("a waiting write proceeds after rollback", func(t *testing.T) {
		repo := memory.New()
		submission := newSubmission(t, repo, "run-1")
		obj := newFileObject("run1.pod5")
		require.NoError(t, repo.CreateFileObject(ctx, obj))
		require.NoError(t, repo.CreateAssociation(ctx, obj.ID, submission.ID))

		locked := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- repo.WithinTx(ctx, func(tx simpleupload.Repository) error {
				if _, err := tx.FindFileObjects(ctx, submission.ID, "run1.pod5"); err != nil {
					return err
				}
				close(locked)
				<-release
				return errors.New("abort")
			})
		}()
		<-locked

		updated := make(chan error, 1)
		go func() {
			updated <- repo.UpdateFileObject(ctx, obj.ID, simpleupload.FileObjectUpdate{MarkCompleted: true})
		}()

		select {
		case err := <-updated:
			t.Fatalf("update finished while the row was locked: %v", err)
		case <-time.After(30 * time.Millisecond):
		}

		close(release)
		assert.Error(t, <-done)
		require.NoError(t, <-updated)

		got, err := repo.GetFileObject(ctx, obj.ID)
		require.NoError(t, err)
		assert.True(t, got.IsComplete())
	})
}

func TestMemoryRepository_DeleteIncompleteFileObject(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	incomplete := newFileObject("run1.pod5")
	require.NoError(t, repo.CreateFileObject(ctx, incomplete))
	require.NoError(t, repo.DeleteIncompleteFileObject(ctx, incomplete.ID))
	assert.ErrorIs(t, repo.DeleteIncompleteFileObject(ctx, incomplete.ID), simpleupload.ErrFileObjectNotFound)

	completed := newFileObject("run2.pod5")
	require.NoError(t, repo.CreateFileObject(ctx, completed))
	require.NoError(t, repo.UpdateFileObject(ctx, completed.ID, simpleupload.FileObjectUpdate{MarkCompleted: true}))
	assert.ErrorIs(t, repo.DeleteIncompleteFileObject(ctx, completed.ID), simpleupload.ErrUploadAlreadyCompleted)

	_, err := repo.GetFileObject(ctx, completed.ID)
	assert.NoError(t, err)
}
