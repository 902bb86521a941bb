package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

var errLockOutsideTx = errors.New("upload slot lock requires a transaction")

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Beginner starts transactions. *pgxpool.Pool, *pgx.Conn and pgx.Tx all satisfy it.
type Beginner interface {
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements simpleupload.Repository using PostgreSQL
type Repository struct {
	db   DBTX
	inTx bool
}

// New creates a new PostgreSQL repository. WithinTx needs db to implement Beginner.
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s (%s)", simpleupload.ErrDuplicateRecord, operation, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			if strings.HasPrefix(operation, "delete") {
				return fmt.Errorf("%w: %s (%s)", simpleupload.ErrStillReferenced, operation, pgErr.ConstraintName)
			}
			if strings.Contains(pgErr.ConstraintName, "submission") {
				return simpleupload.ErrSubmissionNotFound
			}
			return simpleupload.ErrFileObjectNotFound
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Transactions

func (r *Repository) WithinTx(ctx context.Context, fn func(tx simpleupload.Repository) error) (err error) {
	if r.inTx {
		return fn(r)
	}

	beginner, ok := r.db.(Beginner)
	if !ok {
		return errors.New("database handle does not support transactions")
	}

	tx, err := beginner.Begin(ctx)
	if err != nil {
		return r.handlePostgresError("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = r.handlePostgresError("commit transaction", commitErr)
		}
	}()

	return fn(&Repository{db: tx, inTx: true})
}

// LockUploadSlot takes a transaction-scoped advisory lock on the
// (submission, filename) pair.
func (r *Repository) LockUploadSlot(ctx context.Context, submissionID uuid.UUID, filename string) error {
	if !r.inTx {
		return errLockOutsideTx
	}

	query := `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
	if _, err := r.db.Exec(ctx, query, submissionID.String()+"/"+filename); err != nil {
		return r.handlePostgresError("lock upload slot", err)
	}
	return nil
}

// File object operations

const fileObjectColumns = `fo.id, fo.created_on, fo.filename, fo.size_bytes,
		fo.all_parts_received, fo.last_part_received, fo.processing_message`

func scanFileObject(row pgx.Row) (*simpleupload.FileObject, error) {
	var obj simpleupload.FileObject
	var allPartsReceived bool
	var lastPartReceived *time.Time

	err := row.Scan(&obj.ID, &obj.CreatedOn, &obj.Filename, &obj.SizeBytes,
		&allPartsReceived, &lastPartReceived, &obj.ProcessingMessage)
	if err != nil {
		return nil, err
	}

	obj.State = simpleupload.StateFromFlag(allPartsReceived)
	obj.LastPartReceived = lastPartReceived
	return &obj, nil
}

func (r *Repository) GetFileObject(ctx context.Context, id uuid.UUID) (*simpleupload.FileObject, error) {
	query := `SELECT ` + fileObjectColumns + ` FROM file_objects fo WHERE fo.id = $1`

	obj, err := scanFileObject(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleupload.ErrFileObjectNotFound
		}
		return nil, r.handlePostgresError("get file object", err)
	}
	return obj, nil
}

func (r *Repository) FindFileObjects(ctx context.Context, submissionID uuid.UUID, filename string) ([]*simpleupload.FileObject, error) {
	query := `
		SELECT ` + fileObjectColumns + `
		FROM file_objects fo
		JOIN file_object_associations a ON a.input_object_id = fo.id
		WHERE a.submission_id = $1 AND fo.filename = $2
		ORDER BY fo.created_on`
	if r.inTx {
		query += ` FOR UPDATE OF fo`
	}

	return r.queryFileObjects(ctx, "find file objects", query, submissionID, filename)
}

func (r *Repository) queryFileObjects(ctx context.Context, operation, query string, args ...interface{}) ([]*simpleupload.FileObject, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError(operation, err)
	}
	defer rows.Close()

	var objects []*simpleupload.FileObject
	for rows.Next() {
		obj, err := scanFileObject(rows)
		if err != nil {
			return nil, r.handlePostgresError(operation, err)
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError(operation, err)
	}

	return objects, nil
}

func (r *Repository) CreateFileObject(ctx context.Context, obj *simpleupload.FileObject) error {
	query := `
		INSERT INTO file_objects (
			id, created_on, filename, size_bytes,
			all_parts_received, last_part_received, processing_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		obj.ID, obj.CreatedOn, obj.Filename, obj.SizeBytes,
		obj.State.AllPartsReceived(), obj.LastPartReceived, obj.ProcessingMessage)
	if err != nil {
		return r.handlePostgresError("create file object", err)
	}
	return nil
}

// UpdateFileObject never clears all_parts_received; MarkCompleted only ORs it in.
func (r *Repository) UpdateFileObject(ctx context.Context, id uuid.UUID, update simpleupload.FileObjectUpdate) error {
	query := `
		UPDATE file_objects SET
			processing_message = COALESCE($2::text, processing_message),
			last_part_received = COALESCE($3::timestamptz, last_part_received),
			all_parts_received = all_parts_received OR $4
		WHERE id = $1 AND (NOT $5 OR NOT all_parts_received)`

	tag, err := r.db.Exec(ctx, query, id,
		update.ProcessingMessage, update.LastPartReceived, update.MarkCompleted, update.OnlyIfIncomplete)
	if err != nil {
		return r.handlePostgresError("update file object", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing matched: tell a vanished row apart from a completed one.
	var allPartsReceived bool
	err = r.db.QueryRow(ctx, `SELECT all_parts_received FROM file_objects WHERE id = $1`, id).Scan(&allPartsReceived)
	if errors.Is(err, pgx.ErrNoRows) {
		return simpleupload.ErrFileObjectNotFound
	}
	if err != nil {
		return r.handlePostgresError("update file object", err)
	}
	return simpleupload.ErrUploadAlreadyCompleted
}

func (r *Repository) DeleteFileObject(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM file_objects WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete file object", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleupload.ErrFileObjectNotFound
	}
	return nil
}

func (r *Repository) DeleteIncompleteFileObject(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM file_objects WHERE id = $1 AND NOT all_parts_received`, id)
	if err != nil {
		return r.handlePostgresError("delete incomplete file object", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var allPartsReceived bool
	err = r.db.QueryRow(ctx, `SELECT all_parts_received FROM file_objects WHERE id = $1`, id).Scan(&allPartsReceived)
	if errors.Is(err, pgx.ErrNoRows) {
		return simpleupload.ErrFileObjectNotFound
	}
	if err != nil {
		return r.handlePostgresError("delete incomplete file object", err)
	}
	return simpleupload.ErrUploadAlreadyCompleted
}

// Association operations

func (r *Repository) CreateAssociation(ctx context.Context, objectID, submissionID uuid.UUID) error {
	query := `INSERT INTO file_object_associations (input_object_id, submission_id) VALUES ($1, $2)`
	if _, err := r.db.Exec(ctx, query, objectID, submissionID); err != nil {
		return r.handlePostgresError("create association", err)
	}
	return nil
}

func (r *Repository) DeleteAssociations(ctx context.Context, objectID uuid.UUID) error {
	query := `DELETE FROM file_object_associations WHERE input_object_id = $1`
	if _, err := r.db.Exec(ctx, query, objectID); err != nil {
		return r.handlePostgresError("delete associations", err)
	}
	return nil
}

// Submission operations

func (r *Repository) CreateSubmission(ctx context.Context, submission *simpleupload.Submission) error {
	query := `
		INSERT INTO submissions (
			id, name, processing_has_started, processing_success,
			comment, created_on, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		submission.ID, submission.Name, submission.ProcessingHasStarted, submission.ProcessingSuccess,
		submission.Comment, submission.CreatedOn, submission.LastUpdated)
	if err != nil {
		return r.handlePostgresError("create submission", err)
	}
	return nil
}

func (r *Repository) GetSubmission(ctx context.Context, id uuid.UUID) (*simpleupload.Submission, error) {
	query := `
		SELECT id, name, processing_has_started, processing_success,
		       comment, created_on, last_updated
		FROM submissions WHERE id = $1`

	var submission simpleupload.Submission
	err := r.db.QueryRow(ctx, query, id).Scan(
		&submission.ID, &submission.Name, &submission.ProcessingHasStarted, &submission.ProcessingSuccess,
		&submission.Comment, &submission.CreatedOn, &submission.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleupload.ErrSubmissionNotFound
		}
		return nil, r.handlePostgresError("get submission", err)
	}
	return &submission, nil
}

func (r *Repository) ListSubmissionFileObjects(ctx context.Context, submissionID uuid.UUID) ([]*simpleupload.FileObject, error) {
	query := `
		SELECT ` + fileObjectColumns + `
		FROM file_objects fo
		JOIN file_object_associations a ON a.input_object_id = fo.id
		WHERE a.submission_id = $1
		ORDER BY fo.created_on`

	return r.queryFileObjects(ctx, "list submission file objects", query, submissionID)
}

func (r *Repository) DeleteSubmission(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM submissions WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete submission", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleupload.ErrSubmissionNotFound
	}
	return nil
}
