package feedback

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/nova/internal/middleware"
	"github.com/zhouzirui/nova/internal/model/api"
	model "github.com/zhouzirui/nova/internal/model/feedback"
	"github.com/zhouzirui/nova/internal/storage/feedback"
	"github.com/zhouzirui/nova/pkg/utils"
)

// Counter is told about every stored submission.
type Counter interface {
	FeedbackReceived(liked bool)
}

// Handler stores like/dislike verdicts on answers.
type Handler struct {
	repo    feedback.Repository
	counter Counter
	log     zerolog.Logger
	now     func() time.Time
}

// New creates the feedback handler. counter may be nil.
func New(repo feedback.Repository, counter Counter, log zerolog.Logger) *Handler {
	return &Handler{
		repo:    repo,
		counter: counter,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes mounts the feedback routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/feedback", h.handleSubmit)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req model.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	record := model.Record{
		Request:   req,
		ID:        uuid.NewString(),
		User:      middleware.UserFrom(r.Context()),
		CreatedAt: h.now(),
	}
	if err := h.repo.Save(r.Context(), record); err != nil {
		h.log.Error().Err(err).Str("message", req.MessageID).Msg("save feedback failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to save feedback")
		return
	}
	if h.counter != nil {
		h.counter.FeedbackReceived(req.Liked)
	}

	h.log.Info().
		Str("message", req.MessageID).
		Bool("liked", req.Liked).
		Bool("has_reason", req.Reason != "").
		Msg("feedback stored")
	utils.RespondJSON(w, http.StatusOK, model.Response{Status: api.StatusSuccess, Message: "Thanks for your feedback!"})
}
