package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/panelbridge/internal/delivery"
)

// DeliveryHealthHandler reports the delivery engine's liveness: whether the
// process is up and how many sessions the registry is currently tracking.
type DeliveryHealthHandler struct {
	registry *delivery.Registry
}

// NewDeliveryHealthHandler creates a health handler backed by registry.
func NewDeliveryHealthHandler(registry *delivery.Registry) *DeliveryHealthHandler {
	return &DeliveryHealthHandler{registry: registry}
}

// Health returns the health status of the delivery engine.
func (h *DeliveryHealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"sessions": h.registry.Len(),
	})
}

// RegisterHealth registers the health check route.
func (h *DeliveryHealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
