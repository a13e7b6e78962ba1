package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/nova/internal/model/catalog"
	"github.com/zhouzirui/nova/pkg/utils"
)

// Handler lists the assistant services.
type Handler struct {
	services catalog.Store
}

// New creates the catalog handler.
func New(services catalog.Store) *Handler {
	return &Handler{services: services}
}

// RegisterRoutes mounts the catalog routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/services", h.handleListServices)
}

func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	utils.RespondSuccess(w, http.StatusOK, h.services.List())
}
