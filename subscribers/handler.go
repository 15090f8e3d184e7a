package subscribers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/halayachts/admin/httpx"
	"github.com/halayachts/admin/rbac"
	"github.com/halayachts/admin/store"
)

// Messages returned to the client.
const (
	MessageFetchFailed  = "Failed to fetch subscribers"
	MessageDeleteFailed = "Failed to delete subscriber"
	MessageNotFound     = "Subscriber not found"
	MessageEmailMissing = "Email is required"
)

// Handler exposes the newsletter subscriber collection.
type Handler struct {
	store   store.SubscriberStore
	logger  *zap.Logger
	timeout time.Duration
}

// NewHandler creates a subscribers handler. Every store call is bounded by
// timeout.
func NewHandler(subscribers store.SubscriberStore, logger *zap.Logger, timeout time.Duration) *Handler {
	return &Handler{store: subscribers, logger: logger, timeout: timeout}
}

// Routes configures the HTTP routes for subscribers.
func (h *Handler) Routes(enforcer *rbac.Enforcer) chi.Router {
	r := chi.NewRouter()
	r.With(enforcer.Authorize(rbac.PermissionViewSubscribers)).Get("/", h.list)
	r.With(enforcer.Authorize(rbac.PermissionManageSubscribers)).Delete("/", h.delete)
	return r
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	subs, err := h.store.List(ctx)
	if err != nil {
		h.logger.Error("list subscribers", zap.Error(err))
		httpx.Failure(w, http.StatusServiceUnavailable, MessageFetchFailed)
		return
	}
	if subs == nil {
		subs = []store.Subscriber{}
	}
	for i := range subs {
		subs[i].Status = store.StatusOrDefault(subs[i].Status)
	}

	httpx.Success(w, subs)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		httpx.Failure(w, http.StatusBadRequest, MessageEmailMissing)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	deleted, err := h.store.DeleteByEmail(ctx, email)
	if err != nil {
		h.logger.Error("delete subscriber", zap.String("email", store.NormalizeEmail(email)), zap.Error(err))
		httpx.Failure(w, http.StatusServiceUnavailable, MessageDeleteFailed)
		return
	}
	if deleted == 0 {
		httpx.Failure(w, http.StatusNotFound, MessageNotFound)
		return
	}

	h.logger.Info("subscriber deleted", zap.String("email", store.NormalizeEmail(email)), zap.Int64("deleted", deleted))
	httpx.WriteJSON(w, http.StatusOK, httpx.Envelope{Success: true, Deleted: &deleted})
}
