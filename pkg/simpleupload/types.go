package simpleupload

import (
	"time"

	"github.com/google/uuid"
)

// UploadState is the lifecycle state of a FileObject.
type UploadState string

const (
	UploadStateInitiated UploadState = "initiated"
	UploadStateCompleted UploadState = "completed"
)

// StateFromFlag projects the persisted all_parts_received flag onto an UploadState.
func StateFromFlag(allPartsReceived bool) UploadState {
	if allPartsReceived {
		return UploadStateCompleted
	}
	return UploadStateInitiated
}

// AllPartsReceived projects the state back onto the persisted flag.
func (s UploadState) AllPartsReceived() bool {
	return s == UploadStateCompleted
}

// Processing messages written to FileObject.ProcessingMessage.
const (
	MessageUploadInitiated = "Upload initiated"
	MessageUploadStarted   = "Upload started"
	MessageUploadCompleted = "Upload completed"
	messageProgressFormat  = "Upload progress: %.2f%%"
)

// FileObject is the ledger record for one uploaded file.
type FileObject struct {
	ID                uuid.UUID   `json:"id"`
	CreatedOn         time.Time   `json:"created_on"`
	Filename          string      `json:"filename"`
	SizeBytes         int64       `json:"size_bytes"`
	State             UploadState `json:"state"`
	LastPartReceived  *time.Time  `json:"last_part_received,omitempty"`
	ProcessingMessage string      `json:"processing_message"`
}

// IsComplete reports whether every part of the upload has been received.
func (o *FileObject) IsComplete() bool {
	return o.State == UploadStateCompleted
}

// Association links a FileObject to the Submission it was uploaded for.
type Association struct {
	InputObjectID uuid.UUID `json:"input_object_id"`
	SubmissionID  uuid.UUID `json:"submission_id"`
}

// Submission groups uploaded files for one processing run. It is owned by the
// surrounding application; this package only reads and deletes it.
type Submission struct {
	ID                   uuid.UUID `json:"id"`
	Name                 string    `json:"name"`
	ProcessingHasStarted bool      `json:"processing_has_started"`
	ProcessingSuccess    bool      `json:"processing_success"`
	Comment              string    `json:"comment"`
	CreatedOn            time.Time `json:"created_on"`
	LastUpdated          time.Time `json:"last_updated"`
}

// FileObjectUpdate carries the fields a hook handler may change on an existing
// FileObject. Nil fields are left untouched. An update can never clear
// completion or change the filename or declared size.
type FileObjectUpdate struct {
	ProcessingMessage *string
	LastPartReceived  *time.Time
	MarkCompleted     bool

	// OnlyIfIncomplete makes the write conditional on the row still being
	// Initiated. Repositories return ErrUploadAlreadyCompleted otherwise.
	OnlyIfIncomplete bool
}

// Apply writes the update onto obj.
func (u FileObjectUpdate) Apply(obj *FileObject) {
	if u.ProcessingMessage != nil {
		obj.ProcessingMessage = *u.ProcessingMessage
	}
	if u.LastPartReceived != nil {
		t := *u.LastPartReceived
		obj.LastPartReceived = &t
	}
	if u.MarkCompleted {
		obj.State = UploadStateCompleted
	}
}

// ObjectMeta describes a stored blob.
type ObjectMeta struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Outcome is the result of a successfully handled Event.
type Outcome struct {
	Accepted   bool
	ChangeKey  string // storage key the proxy should write to; pre-create only
	HTTPStatus int
	Message    string
}

// SubmissionDetails bundles a submission with its uploads and output keys.
type SubmissionDetails struct {
	Submission *Submission
	Uploads    []*FileObject
	Outputs    []ObjectMeta
}
