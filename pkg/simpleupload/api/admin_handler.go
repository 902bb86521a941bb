package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// AdminHandler exposes read and delete operations on uploads and submissions
type AdminHandler struct {
	service simpleupload.Service
	logger  *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service simpleupload.Service, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{service: service, logger: logger}
}

// UploadRoutes returns the routes for uploads
func (h *AdminHandler) UploadRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}", h.GetUpload)
	r.Delete("/{id}", h.DeleteUpload)
	return r
}

// SubmissionRoutes returns the routes for submissions
func (h *AdminHandler) SubmissionRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}", h.GetSubmission)
	r.Delete("/{id}", h.DeleteSubmission)
	return r
}

// UploadResponse is the response body for a file object
type UploadResponse struct {
	ID                string     `json:"id"`
	Filename          string     `json:"filename"`
	SizeBytes         int64      `json:"size_bytes"`
	State             string     `json:"state"`
	AllPartsReceived  bool       `json:"all_parts_received"`
	ProcessingMessage string     `json:"processing_message"`
	CreatedOn         time.Time  `json:"created_on"`
	LastPartReceived  *time.Time `json:"last_part_received,omitempty"`
}

// OutputResponse is one stored output of a submission
type OutputResponse struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubmissionResponse is the response body for a submission with its uploads and outputs
type SubmissionResponse struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	ProcessingHasStarted bool             `json:"processing_has_started"`
	ProcessingSuccess    bool             `json:"processing_success"`
	Comment              string           `json:"comment"`
	CreatedOn            time.Time        `json:"created_on"`
	LastUpdated          time.Time        `json:"last_updated"`
	Uploads              []UploadResponse `json:"uploads"`
	Outputs              []OutputResponse `json:"outputs"`
}

func toUploadResponse(obj *simpleupload.FileObject) UploadResponse {
	return UploadResponse{
		ID:                obj.ID.String(),
		Filename:          obj.Filename,
		SizeBytes:         obj.SizeBytes,
		State:             string(obj.State),
		AllPartsReceived:  obj.State.AllPartsReceived(),
		ProcessingMessage: obj.ProcessingMessage,
		CreatedOn:         obj.CreatedOn,
		LastPartReceived:  obj.LastPartReceived,
	}
}

// GetUpload retrieves a file object by ID
func (h *AdminHandler) GetUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "upload")
	if !ok {
		return
	}

	obj, err := h.service.GetFileObject(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "Failed to get upload", err)
		return
	}

	render.JSON(w, r, toUploadResponse(obj))
}

// DeleteUpload deletes a file object, its associations and its blob
func (h *AdminHandler) DeleteUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "upload")
	if !ok {
		return
	}

	if err := h.service.DeleteFileObject(r.Context(), id); err != nil {
		h.respondError(w, r, "Failed to delete upload", err)
		return
	}

	h.logger.Info("Upload deleted", "object_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// GetSubmission retrieves a submission with its uploads and outputs
func (h *AdminHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "submission")
	if !ok {
		return
	}

	details, err := h.service.GetSubmissionDetails(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "Failed to get submission", err)
		return
	}

	submission := details.Submission
	resp := SubmissionResponse{
		ID:                   submission.ID.String(),
		Name:                 submission.Name,
		ProcessingHasStarted: submission.ProcessingHasStarted,
		ProcessingSuccess:    submission.ProcessingSuccess,
		Comment:              submission.Comment,
		CreatedOn:            submission.CreatedOn,
		LastUpdated:          submission.LastUpdated,
		Uploads:              make([]UploadResponse, 0, len(details.Uploads)),
		Outputs:              make([]OutputResponse, 0, len(details.Outputs)),
	}
	for _, obj := range details.Uploads {
		resp.Uploads = append(resp.Uploads, toUploadResponse(obj))
	}
	for _, output := range details.Outputs {
		resp.Outputs = append(resp.Outputs, OutputResponse{Key: output.Key, Size: output.Size, UpdatedAt: output.UpdatedAt})
	}

	render.JSON(w, r, resp)
}

// DeleteSubmission deletes a submission with its uploads and outputs
func (h *AdminHandler) DeleteSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "submission")
	if !ok {
		return
	}

	if err := h.service.DeleteSubmission(r.Context(), id); err != nil {
		h.respondError(w, r, "Failed to delete submission", err)
		return
	}

	h.logger.Info("Submission deleted", "submission_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) parseID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Warn("Invalid "+what+" ID", "id", idStr, "error", err)
		http.Error(w, "Invalid "+what+" ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *AdminHandler) respondError(w http.ResponseWriter, r *http.Request, message string, err error) {
	kind := simpleupload.KindOf(err)
	status := simpleupload.HTTPStatus(kind)
	if simpleupload.IsClientError(kind) {
		h.logger.Warn(message, "path", r.URL.Path, "kind", kind, "error", err)
	} else {
		h.logger.Error(message, "path", r.URL.Path, "kind", kind, "error", err)
	}
	http.Error(w, err.Error(), status)
}
