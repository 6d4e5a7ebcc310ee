package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP router with all routes and middleware.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		// Health is public for load balancer probes.
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Use(ActorMiddleware)

			r.Route("/trainees/{traineeID}", func(r chi.Router) {
				r.Put("/roster", h.UpsertTrainee)
				r.Get("/progress", h.TraineeProgress)
				r.Get("/gates", h.Gates)

				r.Route("/sections/{sectionID}", func(r chi.Router) {
					r.Get("/", h.SectionView)
					r.Put("/tasks/{taskID}/done", h.SetDone)
					r.Post("/tasks/{taskID}/runs", h.RecordRun)
					r.Put("/tasks/{taskID}/approval", h.SetApproval)
				})
			})

			r.Route("/stores/{storeID}", func(r chi.Router) {
				r.Put("/", h.UpsertStore)
				r.Get("/progress", h.StoreProgress)
			})

			r.Get("/changes", h.Changes)
		})
	})

	return r
}
