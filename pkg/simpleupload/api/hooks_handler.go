package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// maxHookBodyBytes bounds a hook request body. Hook payloads carry metadata only.
const maxHookBodyBytes = 1 << 20

// HooksHandler receives tusd HTTP hooks
type HooksHandler struct {
	service simpleupload.Service
	logger  *slog.Logger
}

// NewHooksHandler creates a new hooks handler
func NewHooksHandler(service simpleupload.Service, logger *slog.Logger) *HooksHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HooksHandler{service: service, logger: logger}
}

// Routes returns the routes for hooks
func (h *HooksHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestSizeLimitMiddleware(maxHookBodyBytes))
	r.Post("/", h.HandleHook)
	return r
}

// HandleHook decodes one hook, runs it through the service and answers tusd
func (h *HooksHandler) HandleHook(w http.ResponseWriter, r *http.Request) {
	var req HookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid hook body", "error", err)
		respondHookError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid hook body: %v", err))
		return
	}

	var outcome *simpleupload.Outcome
	event, err := req.ToEvent()
	if err != nil {
		h.logger.Warn("Hook rejected", "type", req.Type, "error", err)
	} else {
		outcome, err = h.service.HandleEvent(r.Context(), event)
	}

	status, resp := hookResponse(event.Kind, outcome, err)
	h.logger.Debug("Hook handled", "type", req.Type, "upload_id", req.Event.Upload.ID, "status", status)
	render.Status(r, status)
	render.JSON(w, r, resp)
}

func respondHookError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, HookResponse{
		Status:       statusError,
		HTTPResponse: &HTTPResponse{StatusCode: status, Body: message},
	})
}
