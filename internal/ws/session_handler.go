package ws

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-collab/internal/repository"
)

// SessionHandler returns session-info for the session: the live room view
// when the node serves it, the stored record otherwise
func SessionHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		info, err := hub.Info(r.Context(), id)
		if errors.Is(err, repository.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Str("sessionID", id).Msg("can't load session")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(info); err != nil {
			log.Error().Err(err).Str("service", "ws").Str("sessionID", id).Msg("can't encode session")
		}
	}
}
