package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// Mount registers the hook endpoint at /hooks and the admin endpoints at
// /uploads and /submissions. adminMiddlewares wrap the admin endpoints only.
func Mount(r chi.Router, service simpleupload.Service, logger *slog.Logger, adminMiddlewares ...Middleware) {
	MountHooks(r, service, logger)
	MountAdmin(r, service, logger, adminMiddlewares...)
}

// MountHooks registers the tusd hook endpoint at /hooks
func MountHooks(r chi.Router, service simpleupload.Service, logger *slog.Logger) {
	r.Mount("/hooks", NewHooksHandler(service, logger).Routes())
}

// MountAdmin registers /uploads and /submissions behind the given middlewares
func MountAdmin(r chi.Router, service simpleupload.Service, logger *slog.Logger, middlewares ...Middleware) {
	admin := NewAdminHandler(service, logger)
	r.Group(func(r chi.Router) {
		for _, mw := range middlewares {
			r.Use(mw)
		}
		r.Mount("/uploads", admin.UploadRoutes())
		r.Mount("/submissions", admin.SubmissionRoutes())
	})
}
