package simpleupload_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/repo/memory"
	memorystorage "github.com/tendant/simple-upload/pkg/simpleupload/storage/memory"
)

var fixedNow = time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC)

type harness struct {
	svc        simpleupload.Service
	repo       *memory.Repository
	blobs      *memorystorage.Backend
	submission *simpleupload.Submission
}

func newHarness(t *testing.T, opts ...simpleupload.Option) *harness {
	t.Helper()
	h := &harness{
		repo:  memory.New(),
		blobs: memorystorage.New(),
	}
	h.submission = h.createSubmission(t, "run-42")

	options := append([]simpleupload.Option{
		simpleupload.WithRepository(h.repo),
		simpleupload.WithBlobStore(h.blobs),
		simpleupload.WithClock(func() time.Time { return fixedNow }),
	}, opts...)

	svc, err := simpleupload.New(options...)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) createSubmission(t *testing.T, name string) *simpleupload.Submission {
	t.Helper()
	submission := &simpleupload.Submission{
		ID:          uuid.New(),
		Name:        name,
		CreatedOn:   fixedNow,
		LastUpdated: fixedNow,
	}
	require.NoError(t, h.repo.CreateSubmission(context.Background(), submission))
	return submission
}

func preCreateEvent(submissionID uuid.UUID, filename string, size int64) simpleupload.Event {
	return simpleupload.Event{
		Kind:         simpleupload.EventPreCreate,
		Filename:     filename,
		ContentType:  "application/octet-stream",
		DeclaredSize: size,
		SubmissionID: submissionID,
	}
}

// preCreate runs a pre-create event and returns the handle the proxy would
// report on later events.
func (h *harness) preCreate(t *testing.T, filename string, size int64) string {
	t.Helper()
	outcome, err := h.svc.HandleEvent(context.Background(), preCreateEvent(h.submission.ID, filename, size))
	require.NoError(t, err)
	require.True(t, outcome.Accepted)
	return outcome.ChangeKey + "+2d5f0c1a.multipart"
}

func (h *harness) send(kind simpleupload.EventKind, handle string, offset, size int64) (*simpleupload.Outcome, error) {
	return h.svc.HandleEvent(context.Background(), simpleupload.Event{
		Kind:         kind,
		UploadHandle: handle,
		Offset:       offset,
		DeclaredSize: size,
	})
}

func (h *harness) objectFor(t *testing.T, handle string) *simpleupload.FileObject {
	t.Helper()
	id, err := simpleupload.ParseUploadHandle(handle)
	require.NoError(t, err)
	obj, err := h.repo.GetFileObject(context.Background(), id)
	require.NoError(t, err)
	return obj
}

// callLog collects operation names across a repository and a blob store.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// recordingRepository wraps a repository, recording mutations and optionally
// failing association inserts.
type recordingRepository struct {
	simpleupload.Repository
	log                *callLog
	failAssociate      error
	createdFileObjects *[]uuid.UUID
}

func newRecordingRepository(inner simpleupload.Repository, log *callLog) *recordingRepository {
	return &recordingRepository{Repository: inner, log: log, createdFileObjects: new([]uuid.UUID)}
}

func (r *recordingRepository) WithinTx(ctx context.Context, fn func(tx simpleupload.Repository) error) error {
	return r.Repository.WithinTx(ctx, func(tx simpleupload.Repository) error {
		view := *r
		view.Repository = tx
		return fn(&view)
	})
}

func (r *recordingRepository) CreateFileObject(ctx context.Context, obj *simpleupload.FileObject) error {
	r.log.add("create object %s", obj.ID)
	*r.createdFileObjects = append(*r.createdFileObjects, obj.ID)
	return r.Repository.CreateFileObject(ctx, obj)
}

func (r *recordingRepository) CreateAssociation(ctx context.Context, objectID, submissionID uuid.UUID) error {
	r.log.add("create association %s", objectID)
	if r.failAssociate != nil {
		return r.failAssociate
	}
	return r.Repository.CreateAssociation(ctx, objectID, submissionID)
}

func (r *recordingRepository) DeleteAssociations(ctx context.Context, objectID uuid.UUID) error {
	r.log.add("delete associations %s", objectID)
	return r.Repository.DeleteAssociations(ctx, objectID)
}

func (r *recordingRepository) DeleteFileObject(ctx context.Context, id uuid.UUID) error {
	r.log.add("delete object %s", id)
	return r.Repository.DeleteFileObject(ctx, id)
}

func (r *recordingRepository) DeleteIncompleteFileObject(ctx context.Context, id uuid.UUID) error {
	r.log.add("delete object %s", id)
	return r.Repository.DeleteIncompleteFileObject(ctx, id)
}

// staleRepository reports every row found inside a transaction as Initiated,
// standing in for a ledger whose reads do not lock.
type staleRepository struct {
	simpleupload.Repository
}

func (r *staleRepository) WithinTx(ctx context.Context, fn func(tx simpleupload.Repository) error) error {
	return r.Repository.WithinTx(ctx, func(tx simpleupload.Repository) error {
		return fn(&staleRepository{Repository: tx})
	})
}

func (r *staleRepository) FindFileObjects(ctx context.Context, submissionID uuid.UUID, filename string) ([]*simpleupload.FileObject, error) {
	found, err := r.Repository.FindFileObjects(ctx, submissionID, filename)
	for _, obj := range found {
		obj.State = simpleupload.UploadStateInitiated
	}
	return found, err
}

// finishingBlobStore sends a finish for an upload from another goroutine
// while that upload's blob is being deleted.
type finishingBlobStore struct {
	simpleupload.BlobStore
	key      string
	finish   func() error
	finished chan error
}

func (b *finishingBlobStore) Delete(ctx context.Context, key string) error {
	if key == b.key && b.finish != nil {
		finish := b.finish
		b.finish = nil
		go func() { b.finished <- finish() }()
		time.Sleep(50 * time.Millisecond)
	}
	return b.BlobStore.Delete(ctx, key)
}

// recordingBlobStore wraps a blob store, recording calls and optionally
// failing deletes of specific keys.
type recordingBlobStore struct {
	simpleupload.BlobStore
	log      *callLog
	failKeys map[string]error
}

func (b *recordingBlobStore) PutPlaceholder(ctx context.Context, key string) (string, error) {
	b.log.add("put placeholder %s", key)
	return b.BlobStore.PutPlaceholder(ctx, key)
}

func (b *recordingBlobStore) Delete(ctx context.Context, key string) error {
	b.log.add("delete blob %s", key)
	if err, ok := b.failKeys[key]; ok {
		return err
	}
	return b.BlobStore.Delete(ctx, key)
}

type mockBlobStore struct {
	mock.Mock
}

func (m *mockBlobStore) PutPlaceholder(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *mockBlobStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *mockBlobStore) List(ctx context.Context, prefix string) ([]simpleupload.ObjectMeta, error) {
	args := m.Called(ctx, prefix)
	metas, _ := args.Get(0).([]simpleupload.ObjectMeta)
	return metas, args.Error(1)
}
