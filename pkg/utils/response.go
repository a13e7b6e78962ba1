package utils

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/nova/internal/model/api"
)

// RespondJSON writes payload as JSON with the given status code.
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

// RespondSuccess wraps data in a success envelope.
func RespondSuccess(w http.ResponseWriter, status int, data interface{}) {
	env := api.Envelope{Status: api.StatusSuccess}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			log.Error().Err(err).Msg("failed to encode response data")
			RespondError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
		env.Data = raw
	}
	RespondJSON(w, status, env)
}

// RespondError writes an error envelope.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, api.Envelope{Status: api.StatusError, Message: message})
}
