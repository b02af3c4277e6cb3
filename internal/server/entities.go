package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/joshp123/deyehome/internal/entity"
)

// EntitiesHandler serves rendered entity states:
//
//	GET  /api/entities[?platform=humidifier]
//	GET  /api/entities/{entity_id}
//	POST /api/entities/{entity_id}/{service}  (JSON body is the service data)
func EntitiesHandler(registry *entity.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/entities"), "/")
		if rest == "" {
			if r.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			writeJSON(w, http.StatusOK, registry.States(entity.Platform(r.URL.Query().Get("platform"))))
			return
		}

		entityID, service, _ := strings.Cut(rest, "/")
		switch {
		case r.Method == http.MethodGet && service == "":
			state, err := registry.State(entityID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, state)
		case r.Method == http.MethodPost && service != "":
			data := map[string]any{}
			if r.ContentLength != 0 {
				if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
					return
				}
			}
			if err := registry.Call(r.Context(), entityID, service, data); err != nil {
				writeError(w, err)
				return
			}
			state, err := registry.State(entityID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, state)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var cmdErr *entity.CommandError
	switch {
	case errors.Is(err, entity.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidData), errors.Is(err, entity.ErrUnsupported):
		code = http.StatusBadRequest
	case errors.As(err, &cmdErr):
		code = http.StatusBadGateway
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
