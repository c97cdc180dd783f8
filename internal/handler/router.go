package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mealwave/ordernotify/internal/middleware"
)

// SetupRouter configures the HTTP routes and middleware of the local API.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(h.auth.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.GzipMiddleware)

			r.Get("/notifications", h.GetNotifications)
			r.Post("/notifications/viewed", h.MarkViewed)

			r.Post("/orders/refresh", h.Refresh)
			r.Post("/feedback", h.SubmitFeedback)
		})

		// SSE writes through the flusher directly, so no gzip here.
		r.Get("/events", h.StreamEvents)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
