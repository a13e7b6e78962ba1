package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	model "github.com/zhouzirui/nova/internal/model/auth"
	authsvc "github.com/zhouzirui/nova/internal/service/auth"
	"github.com/zhouzirui/nova/pkg/utils"
)

// Authenticator exchanges credentials for a profile.
type Authenticator interface {
	Login(creds model.Credentials) (model.Profile, error)
}

// Handler serves the login endpoint.
type Handler struct {
	auth Authenticator
	log  zerolog.Logger
}

// New creates the auth handler.
func New(auth Authenticator, log zerolog.Logger) *Handler {
	return &Handler{auth: auth, log: log}
}

// RegisterRoutes mounts the auth routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Username == "" || creds.Password == "" {
		utils.RespondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	profile, err := h.auth.Login(creds)
	if err != nil {
		if errors.Is(err, authsvc.ErrInvalidCredentials) {
			h.log.Info().Str("username", creds.Username).Msg("login rejected")
			utils.RespondError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		h.log.Error().Err(err).Msg("login failed")
		utils.RespondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	h.log.Info().Str("username", creds.Username).Msg("user logged in")
	utils.RespondSuccess(w, http.StatusOK, profile)
}
