package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/nova/internal/middleware"
	"github.com/zhouzirui/nova/internal/model/api"
	"github.com/zhouzirui/nova/internal/model/task"
	taskservice "github.com/zhouzirui/nova/internal/service/task"
	"github.com/zhouzirui/nova/pkg/utils"
)

// TaskStarter accepts queries for background answering.
type TaskStarter interface {
	Start(ctx context.Context, user, service string, req task.StartRequest) (task.Task, error)
}

// Handler starts answering tasks on the service routes.
type Handler struct {
	tasks TaskStarter
	log   zerolog.Logger
}

// New creates the task-start handler.
func New(tasks TaskStarter, log zerolog.Logger) *Handler {
	return &Handler{tasks: tasks, log: log}
}

// RegisterRoutes mounts POST /{service}. Static routes registered on the same
// router take precedence over the parameter.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/{service}", h.handleStartTask)
}

// startResponse exposes the ids at the top level and inside data.
type startResponse struct {
	Status  string             `json:"status"`
	Message *string            `json:"message"`
	Data    task.StartResponse `json:"data"`
	task.StartResponse
}

func (h *Handler) handleStartTask(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")

	var req task.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user := middleware.UserFrom(r.Context())
	t, err := h.tasks.Start(r.Context(), user, service, req)
	if err != nil {
		switch {
		case errors.Is(err, taskservice.ErrEmptyQuery):
			utils.RespondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, taskservice.ErrUnknownService):
			utils.RespondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, taskservice.ErrTooManyInFlight):
			utils.RespondError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, taskservice.ErrRunnerClosed):
			utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.log.Error().Err(err).Str("service", service).Msg("start task failed")
			utils.RespondError(w, http.StatusInternalServerError, "failed to start task")
		}
		return
	}

	h.log.Info().
		Str("task", t.ID).
		Str("service", t.Service).
		Str("user", user).
		Msg("task started")

	ids := task.StartResponse{MessageID: t.ID, TaskID: t.ID}
	utils.RespondJSON(w, http.StatusAccepted, startResponse{
		Status:        api.StatusSuccess,
		Data:          ids,
		StartResponse: ids,
	})
}
