package simpleupload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-upload/pkg/simpleupload/objectkey"
)

type eventHandler func(ctx context.Context, event Event) (*Outcome, error)

// service implements the Service interface
type service struct {
	repository Repository
	blobStore  BlobStore
	policy     Policy
	keys       objectkey.Layout
	logger     *slog.Logger
	now        func() time.Time
	handlers   map[EventKind]eventHandler
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the ledger repository
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the blob store holding upload content
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithPolicy sets the allow-lists, key prefix and terminate behaviour
func WithPolicy(policy Policy) Option {
	return func(s *service) {
		s.policy = policy
	}
}

// WithLogger sets the logger. slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for ledger timestamps
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new upload service with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		policy: DefaultPolicy(),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, errors.New("repository is required")
	}
	if s.blobStore == nil {
		return nil, errors.New("blob store is required")
	}
	if err := s.policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid upload policy: %w", err)
	}

	s.keys = objectkey.New(s.policy.KeyPrefix)
	s.handlers = map[EventKind]eventHandler{
		EventPreCreate:     s.preCreate,
		EventPostCreate:    s.postCreate,
		EventPostReceive:   s.postReceive,
		EventPreFinish:     s.finish,
		EventPostFinish:    s.finish,
		EventPostTerminate: s.postTerminate,
	}

	return s, nil
}

func (s *service) HandleEvent(ctx context.Context, event Event) (*Outcome, error) {
	handler, ok := s.handlers[event.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event.Kind)
	}

	outcome, err := handler(ctx, event)
	if err != nil {
		s.logFailure(event, err)
		return nil, err
	}
	return outcome, nil
}

func (s *service) logFailure(event Event, err error) {
	kind := KindOf(err)
	attrs := []any{
		"event", event.Kind,
		"upload_handle", event.UploadHandle,
		"kind", kind,
		"error", err,
	}
	if IsClientError(kind) {
		s.logger.Warn("Upload event rejected", attrs...)
		return
	}
	s.logger.Error("Upload event failed", attrs...)
}

func (s *service) GetFileObject(ctx context.Context, id uuid.UUID) (*FileObject, error) {
	obj, err := s.repository.GetFileObject(ctx, id)
	if err != nil {
		return nil, &ObjectError{ObjectID: id, Op: "get", Err: err}
	}
	return obj, nil
}

func (s *service) GetSubmissionDetails(ctx context.Context, id uuid.UUID) (*SubmissionDetails, error) {
	submission, err := s.repository.GetSubmission(ctx, id)
	if err != nil {
		return nil, &SubmissionError{SubmissionID: id, Op: "get", Err: err}
	}

	uploads, err := s.repository.ListSubmissionFileObjects(ctx, id)
	if err != nil {
		return nil, &SubmissionError{SubmissionID: id, Op: "list uploads", Err: err}
	}

	prefix := s.keys.OutputsPrefix(id)
	outputs, err := s.blobStore.List(ctx, prefix)
	if err != nil {
		return nil, &StorageError{Key: prefix, Op: "list", Err: err}
	}

	return &SubmissionDetails{
		Submission: submission,
		Uploads:    uploads,
		Outputs:    outputs,
	}, nil
}
