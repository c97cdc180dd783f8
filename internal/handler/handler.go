// Package handler exposes the agent's merged notification state over a local
// HTTP API, the boundary consumed by the presentation layer.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mealwave/ordernotify/internal/engine"
	"github.com/mealwave/ordernotify/internal/middleware"
	"github.com/mealwave/ordernotify/internal/model"
	"github.com/mealwave/ordernotify/internal/ordersapi"
	"github.com/mealwave/ordernotify/internal/service"
)

const keepaliveInterval = 15 * time.Second

// Service defines the agent operations used by the HTTP handlers.
type Service interface {
	Snapshot() engine.Snapshot
	MarkAllViewed(ctx context.Context) engine.Snapshot
	Wake()
	SubmitFeedback(ctx context.Context, fs model.FeedbackSubmission) error
	Subscribe() (<-chan service.Event, func())
}

// Handler implements the HTTP handlers of the local API.
type Handler struct {
	service Service
	logger  *zap.Logger
	auth    *middleware.BearerAuth
}

// NewHandler creates a new HTTP handler instance.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.BearerAuth) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
		auth:    auth,
	}
}

// GetNotifications returns the current snapshot: active orders, history and
// counts.
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	h.writeSnapshot(w, h.service.Snapshot())
}

// MarkViewed runs the drawer-open acknowledgment pass and returns the
// refreshed snapshot.
func (h *Handler) MarkViewed(w http.ResponseWriter, r *http.Request) {
	h.writeSnapshot(w, h.service.MarkAllViewed(r.Context()))
}

// Refresh triggers one immediate reconciliation cycle.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.service.Wake()
	w.WriteHeader(http.StatusAccepted)
}

// SubmitFeedback forwards a feedback submission to the backend.
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var fs model.FeedbackSubmission
	if err := json.NewDecoder(r.Body).Decode(&fs); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SubmitFeedback(r.Context(), fs); err != nil {
		if ordersapi.IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("submit feedback error", zap.Error(err), zap.String("order", fs.OrderID))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// StreamEvents streams status-change and feedback-prompt events as
// server-sent events.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, cancel := h.service.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("encode event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) writeSnapshot(w http.ResponseWriter, snap engine.Snapshot) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
