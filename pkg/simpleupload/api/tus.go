package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// SubmissionIDHeader carries the submission a pre-create request uploads into.
const SubmissionIDHeader = "Submission-Id"

// HookRequest is the body tusd posts to an HTTP hook endpoint
type HookRequest struct {
	Type  string    `json:"Type"`
	Event HookEvent `json:"Event"`
}

// HookEvent is the upload and originating request of a hook
type HookEvent struct {
	Upload      FileInfo    `json:"Upload"`
	HTTPRequest HTTPRequest `json:"HTTPRequest"`
}

// FileInfo describes the upload as tusd sees it
type FileInfo struct {
	ID             string            `json:"ID"`
	Size           int64             `json:"Size"`
	SizeIsDeferred bool              `json:"SizeIsDeferred"`
	Offset         int64             `json:"Offset"`
	MetaData       map[string]string `json:"MetaData"`
	IsPartial      bool              `json:"IsPartial"`
	IsFinal        bool              `json:"IsFinal"`
	PartialUploads []string          `json:"PartialUploads"`
	Storage        map[string]string `json:"Storage"`
}

// HTTPRequest is the client request that triggered the hook
type HTTPRequest struct {
	Method     string              `json:"Method"`
	URI        string              `json:"URI"`
	RemoteAddr string              `json:"RemoteAddr"`
	Header     map[string][]string `json:"Header"`
}

// HookResponse is returned to tusd
type HookResponse struct {
	Status         string           `json:"status"`
	ChangeFileInfo *FileInfoChanges `json:"ChangeFileInfo"`
	RejectUpload   bool             `json:"RejectUpload"`
	HTTPResponse   *HTTPResponse    `json:"HTTPResponse"`
}

// FileInfoChanges overrides the upload id tusd assigns, which becomes the storage key
type FileInfoChanges struct {
	ID string `json:"ID"`
}

// HTTPResponse is what tusd relays to the uploading client
type HTTPResponse struct {
	StatusCode int    `json:"StatusCode"`
	Body       string `json:"Body"`
}

const (
	statusSuccess = "success"
	statusError   = "error"
)

// header returns the first value of name, matched case-insensitively.
func (r HTTPRequest) header(name string) string {
	for key, values := range r.Header {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

// ToEvent converts the hook into a service Event. The submission id header
// is only read for pre-create hooks.
func (h HookRequest) ToEvent() (simpleupload.Event, error) {
	upload := h.Event.Upload
	event := simpleupload.Event{
		Kind:         simpleupload.ParseEventKind(h.Type),
		Filename:     upload.MetaData["filename"],
		ContentType:  upload.MetaData["filetype"],
		DeclaredSize: upload.Size,
		Offset:       upload.Offset,
		UploadHandle: upload.ID,
	}

	if event.Kind != simpleupload.EventPreCreate {
		return event, nil
	}

	raw := h.Event.HTTPRequest.header(SubmissionIDHeader)
	if raw == "" {
		return event, nil
	}
	submissionID, err := uuid.Parse(raw)
	if err != nil {
		return event, &simpleupload.ValidationError{Field: "submission id", Value: raw, Err: err}
	}
	event.SubmissionID = submissionID
	return event, nil
}

// hookResponse maps a handler result onto the tusd response and the status
// code of the hook call itself.
func hookResponse(kind simpleupload.EventKind, outcome *simpleupload.Outcome, err error) (int, HookResponse) {
	if err == nil {
		resp := HookResponse{Status: statusSuccess}
		if kind == simpleupload.EventPreCreate && outcome != nil && outcome.ChangeKey != "" {
			resp.ChangeFileInfo = &FileInfoChanges{ID: outcome.ChangeKey}
		}
		return http.StatusOK, resp
	}

	errKind := simpleupload.KindOf(err)
	status := simpleupload.HTTPStatus(errKind)
	resp := HookResponse{
		Status:       statusError,
		HTTPResponse: &HTTPResponse{StatusCode: status, Body: err.Error()},
	}

	// tusd only honours RejectUpload on a 2xx hook response.
	if kind == simpleupload.EventPreCreate && simpleupload.IsClientError(errKind) {
		resp.RejectUpload = true
		return http.StatusOK, resp
	}
	return status, resp
}
