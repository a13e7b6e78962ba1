package stream

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/nova/internal/middleware"
	"github.com/zhouzirui/nova/internal/model/task"
	taskservice "github.com/zhouzirui/nova/internal/service/task"
	"github.com/zhouzirui/nova/pkg/utils"
)

const (
	keepAliveInterval = 15 * time.Second
	pongWait          = 60 * time.Second
	writeWait         = 10 * time.Second
)

// Tasks exposes the frames of running and recently finished tasks.
type Tasks interface {
	Get(id string) (task.Task, bool)
	Subscribe(ctx context.Context, id string) (<-chan task.Frame, error)
}

// Handler pushes task progress frames over SSE and WebSocket.
type Handler struct {
	tasks     Tasks
	log       zerolog.Logger
	upgrader  websocket.Upgrader
	keepAlive time.Duration
}

// New creates the progress handler.
func New(tasks Tasks, log zerolog.Logger) *Handler {
	return &Handler{
		tasks: tasks,
		log:   log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		keepAlive: keepAliveInterval,
	}
}

// RegisterRoutes mounts the progress routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/task-progress/{id}", h.handleSSE)
	r.Get("/task-progress/{id}/ws", h.handleWebSocket)
}

// subscribe resolves the task of the request and checks it belongs to the
// caller. Unknown and foreign tasks look the same to the client.
func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) (string, <-chan task.Frame, bool) {
	id := chi.URLParam(r, "id")
	t, ok := h.tasks.Get(id)
	if !ok || (t.Owner != "" && t.Owner != middleware.UserFrom(r.Context())) {
		utils.RespondError(w, http.StatusNotFound, "task not found")
		return "", nil, false
	}

	frames, err := h.tasks.Subscribe(r.Context(), id)
	if err != nil {
		if errors.Is(err, taskservice.ErrTaskNotFound) {
			utils.RespondError(w, http.StatusNotFound, "task not found")
		} else {
			utils.RespondError(w, http.StatusInternalServerError, "subscribe failed")
		}
		return "", nil, false
	}
	return id, frames, true
}

func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	id, frames, ok := h.subscribe(w, r)
	if !ok {
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := h.log.With().Str("task", id).Str("transport", "sse").Logger()
	log.Debug().Msg("progress stream opened")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug().Msg("client went away")
			return
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "keep-alive"); err != nil {
				return
			}
		case frame, ok := <-frames:
			if !ok {
				log.Debug().Msg("progress stream finished")
				return
			}
			if err := utils.SendSSEChunk(w, flusher, frame); err != nil {
				log.Debug().Err(err).Msg("write frame failed")
				return
			}
		}
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id, frames, ok := h.subscribe(w, r.WithContext(ctx))
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("task", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.With().Str("task", id).Str("transport", "ws").Logger()
	log.Debug().Msg("progress stream opened")

	// The reader only drains control frames; a read error means the peer left.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("client went away")
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case frame, ok := <-frames:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				log.Debug().Msg("progress stream finished")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				log.Debug().Err(err).Msg("write frame failed")
				return
			}
		}
	}
}
