package simpleupload

import (
	"github.com/google/uuid"
)

// EventKind is the tusd hook type of an Event.
type EventKind string

const (
	EventPreCreate     EventKind = "pre-create"
	EventPostCreate    EventKind = "post-create"
	EventPostReceive   EventKind = "post-receive"
	EventPreFinish     EventKind = "pre-finish"
	EventPostFinish    EventKind = "post-finish"
	EventPostTerminate EventKind = "post-terminate"
	EventUnknown       EventKind = "unknown"
)

// ParseEventKind maps a hook type string onto an EventKind. Unrecognised
// values map to EventUnknown.
func ParseEventKind(s string) EventKind {
	switch k := EventKind(s); k {
	case EventPreCreate, EventPostCreate, EventPostReceive,
		EventPreFinish, EventPostFinish, EventPostTerminate:
		return k
	default:
		return EventUnknown
	}
}

// Event is one lifecycle notification from the upload proxy.
type Event struct {
	Kind         EventKind
	Filename     string
	ContentType  string
	DeclaredSize int64
	Offset       int64
	UploadHandle string

	// SubmissionID is only carried by pre-create events.
	SubmissionID uuid.UUID
}

// ObjectID resolves the FileObject id encoded in the upload handle.
func (e Event) ObjectID() (uuid.UUID, error) {
	return ParseUploadHandle(e.UploadHandle)
}
