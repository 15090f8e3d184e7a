package locations

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/halayachts/admin/httpx"
	"github.com/halayachts/admin/rbac"
	"github.com/halayachts/admin/store"
)

// MessageFetchFailed is returned when the locations query fails.
const MessageFetchFailed = "Failed to fetch locations"

// Handler exposes the locations collection read-only.
type Handler struct {
	store   store.LocationStore
	logger  *zap.Logger
	timeout time.Duration
}

// NewHandler creates a locations handler.
func NewHandler(locations store.LocationStore, logger *zap.Logger, timeout time.Duration) *Handler {
	return &Handler{store: locations, logger: logger, timeout: timeout}
}

// Routes configures the HTTP routes for locations.
func (h *Handler) Routes(enforcer *rbac.Enforcer) chi.Router {
	r := chi.NewRouter()
	r.With(enforcer.Authorize(rbac.PermissionViewLocations)).Get("/", h.list)
	return r
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	locations, err := h.store.List(ctx)
	if err != nil {
		h.logger.Error("list locations", zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, MessageFetchFailed)
		return
	}
	if locations == nil {
		locations = []store.Location{}
	}

	httpx.WriteJSON(w, http.StatusOK, locations)
}
