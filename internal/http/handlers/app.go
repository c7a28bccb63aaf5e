package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"visualbatch/internal/archive"
	"visualbatch/internal/domain"
	"visualbatch/internal/generation"
	"visualbatch/internal/infra"
	"visualbatch/internal/middleware"
	"visualbatch/internal/realtime"
	"visualbatch/internal/storage"
)

type App struct {
	Service *generation.Service
	Archive *archive.Builder
	Streams *realtime.Streams
	Rooms   *realtime.Rooms
	Store   storage.BlobStore
	Logger  infra.Logger
}

func NewApp(svc *generation.Service, builder *archive.Builder, streams *realtime.Streams, rooms *realtime.Rooms, store storage.BlobStore, logger infra.Logger) *App {
	return &App{
		Service: svc,
		Archive: builder,
		Streams: streams,
		Rooms:   rooms,
		Store:   store,
		Logger:  infra.Component(logger, "http"),
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorBody{Error: errorDetail{Code: errCode, Message: message}})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// fail maps domain errors onto HTTP responses. Infrastructure details are
// logged, never returned, even when they wrap another sentinel.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInfrastructure):
		a.internal(w, r, err)
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "validation", domain.ErrorMessage(err))
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, domain.ErrPermission):
		a.error(w, http.StatusForbidden, "forbidden", "not your generation")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
	case errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusConflict, "conflict", domain.ErrorMessage(err))
	default:
		a.internal(w, r, err)
	}
}

func (a *App) internal(w http.ResponseWriter, r *http.Request, err error) {
	a.Logger.Error().Err(err).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Str("path", r.URL.Path).
		Msg("request failed")
	a.error(w, http.StatusInternalServerError, "internal", "internal error")
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}
