package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

var errLockOutsideTx = errors.New("upload slot lock requires a transaction")

type association struct {
	objectID     uuid.UUID
	submissionID uuid.UUID
}

// state is shared by a Repository and every transactional view of it.
type state struct {
	mu           sync.RWMutex
	fileObjects  map[uuid.UUID]*simpleupload.FileObject
	submissions  map[uuid.UUID]*simpleupload.Submission
	associations map[association]struct{}
}

// Repository implements simpleupload.Repository using in-memory storage.
//
// Transactions keep an undo log that is replayed on rollback. Writes are
// visible to other callers before commit; upload slot locks serialise the
// pre-create sequence for a given (submission, filename). File object rows
// found, updated or deleted inside a transaction stay locked until it ends,
// and updates and deletes elsewhere wait for them.
type Repository struct {
	state *state
	slots *keyedLocks
	rows  *keyedLocks
	tx    *transaction
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		state: &state{
			fileObjects:  make(map[uuid.UUID]*simpleupload.FileObject),
			submissions:  make(map[uuid.UUID]*simpleupload.Submission),
			associations: make(map[association]struct{}),
		},
		slots: newKeyedLocks(),
		rows:  newKeyedLocks(),
	}
}

// File object operations

func (r *Repository) GetFileObject(ctx context.Context, id uuid.UUID) (*simpleupload.FileObject, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	obj, exists := r.state.fileObjects[id]
	if !exists {
		return nil, simpleupload.ErrFileObjectNotFound
	}
	return copyFileObject(obj), nil
}

func (r *Repository) FindFileObjects(ctx context.Context, submissionID uuid.UUID, filename string) ([]*simpleupload.FileObject, error) {
	match := func(obj *simpleupload.FileObject) bool {
		return obj.Filename == filename
	}
	if r.tx == nil {
		r.state.mu.RLock()
		defer r.state.mu.RUnlock()
		return r.collect(submissionID, match), nil
	}

	// Lock every match, then read again so the returned rows reflect any
	// write that finished while we waited.
	for {
		r.state.mu.RLock()
		found := r.collect(submissionID, match)
		r.state.mu.RUnlock()

		waited := false
		for _, obj := range found {
			if r.tx.holdsRow(obj.ID) {
				continue
			}
			if _, err := r.lockRow(ctx, obj.ID); err != nil {
				return nil, err
			}
			waited = true
		}
		if !waited {
			return found, nil
		}
	}
}

func (r *Repository) CreateFileObject(ctx context.Context, obj *simpleupload.FileObject) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	if _, exists := r.state.fileObjects[obj.ID]; exists {
		return fmt.Errorf("%w: file object %s", simpleupload.ErrDuplicateRecord, obj.ID)
	}

	r.state.fileObjects[obj.ID] = copyFileObject(obj)
	r.recordUndo(func(s *state) { delete(s.fileObjects, obj.ID) })
	return nil
}

func (r *Repository) UpdateFileObject(ctx context.Context, id uuid.UUID, update simpleupload.FileObjectUpdate) error {
	release, err := r.lockRow(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	obj, exists := r.state.fileObjects[id]
	if !exists {
		return simpleupload.ErrFileObjectNotFound
	}
	if update.OnlyIfIncomplete && obj.IsComplete() {
		return simpleupload.ErrUploadAlreadyCompleted
	}

	previous := copyFileObject(obj)
	update.Apply(obj)
	r.recordUndo(func(s *state) { s.fileObjects[id] = previous })
	return nil
}

func (r *Repository) DeleteFileObject(ctx context.Context, id uuid.UUID) error {
	return r.deleteFileObject(ctx, id, false)
}

func (r *Repository) DeleteIncompleteFileObject(ctx context.Context, id uuid.UUID) error {
	return r.deleteFileObject(ctx, id, true)
}

func (r *Repository) deleteFileObject(ctx context.Context, id uuid.UUID, onlyIfIncomplete bool) error {
	release, err := r.lockRow(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	obj, exists := r.state.fileObjects[id]
	if !exists {
		return simpleupload.ErrFileObjectNotFound
	}
	if onlyIfIncomplete && obj.IsComplete() {
		return simpleupload.ErrUploadAlreadyCompleted
	}
	for assoc := range r.state.associations {
		if assoc.objectID == id {
			return fmt.Errorf("%w: file object %s is associated to submission %s",
				simpleupload.ErrStillReferenced, id, assoc.submissionID)
		}
	}

	delete(r.state.fileObjects, id)
	r.recordUndo(func(s *state) { s.fileObjects[id] = obj })
	return nil
}

// Association operations

func (r *Repository) CreateAssociation(ctx context.Context, objectID, submissionID uuid.UUID) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	if _, exists := r.state.fileObjects[objectID]; !exists {
		return simpleupload.ErrFileObjectNotFound
	}
	if _, exists := r.state.submissions[submissionID]; !exists {
		return simpleupload.ErrSubmissionNotFound
	}

	key := association{objectID: objectID, submissionID: submissionID}
	if _, exists := r.state.associations[key]; exists {
		return fmt.Errorf("%w: association %s/%s", simpleupload.ErrDuplicateRecord, objectID, submissionID)
	}

	r.state.associations[key] = struct{}{}
	r.recordUndo(func(s *state) { delete(s.associations, key) })
	return nil
}

func (r *Repository) DeleteAssociations(ctx context.Context, objectID uuid.UUID) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	for key := range r.state.associations {
		if key.objectID != objectID {
			continue
		}
		delete(r.state.associations, key)
		removed := key
		r.recordUndo(func(s *state) { s.associations[removed] = struct{}{} })
	}
	return nil
}

// HasAssociation reports whether the object is linked to the submission.
func (r *Repository) HasAssociation(objectID, submissionID uuid.UUID) bool {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	_, exists := r.state.associations[association{objectID: objectID, submissionID: submissionID}]
	return exists
}

// Submission operations

func (r *Repository) CreateSubmission(ctx context.Context, submission *simpleupload.Submission) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	if _, exists := r.state.submissions[submission.ID]; exists {
		return fmt.Errorf("%w: submission %s", simpleupload.ErrDuplicateRecord, submission.ID)
	}
	for _, existing := range r.state.submissions {
		if existing.Name == submission.Name {
			return fmt.Errorf("%w: submission name %q", simpleupload.ErrDuplicateRecord, submission.Name)
		}
	}

	submissionCopy := *submission
	r.state.submissions[submission.ID] = &submissionCopy
	r.recordUndo(func(s *state) { delete(s.submissions, submission.ID) })
	return nil
}

func (r *Repository) GetSubmission(ctx context.Context, id uuid.UUID) (*simpleupload.Submission, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	submission, exists := r.state.submissions[id]
	if !exists {
		return nil, simpleupload.ErrSubmissionNotFound
	}
	submissionCopy := *submission
	return &submissionCopy, nil
}

func (r *Repository) ListSubmissionFileObjects(ctx context.Context, submissionID uuid.UUID) ([]*simpleupload.FileObject, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	return r.collect(submissionID, func(*simpleupload.FileObject) bool { return true }), nil
}

func (r *Repository) DeleteSubmission(ctx context.Context, id uuid.UUID) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	submission, exists := r.state.submissions[id]
	if !exists {
		return simpleupload.ErrSubmissionNotFound
	}
	for assoc := range r.state.associations {
		if assoc.submissionID == id {
			return fmt.Errorf("%w: submission %s still has file object %s",
				simpleupload.ErrStillReferenced, id, assoc.objectID)
		}
	}

	delete(r.state.submissions, id)
	r.recordUndo(func(s *state) { s.submissions[id] = submission })
	return nil
}

// collect returns copies of the submission's file objects accepted by keep,
// oldest first. The caller holds the read lock.
func (r *Repository) collect(submissionID uuid.UUID, keep func(*simpleupload.FileObject) bool) []*simpleupload.FileObject {
	var result []*simpleupload.FileObject
	for assoc := range r.state.associations {
		if assoc.submissionID != submissionID {
			continue
		}
		obj, exists := r.state.fileObjects[assoc.objectID]
		if !exists || !keep(obj) {
			continue
		}
		result = append(result, copyFileObject(obj))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedOn.Before(result[j].CreatedOn)
	})
	return result
}

func copyFileObject(obj *simpleupload.FileObject) *simpleupload.FileObject {
	objCopy := *obj
	if obj.LastPartReceived != nil {
		t := *obj.LastPartReceived
		objCopy.LastPartReceived = &t
	}
	return &objCopy
}
