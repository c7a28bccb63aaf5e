package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StreamGeneration pushes the generation's events as server-sent events.
func (a *App) StreamGeneration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Service.Authorize(r.Context(), a.currentUserID(r), id); err != nil {
		a.fail(w, r, err)
		return
	}
	a.Streams.ServeStream(w, r, id)
}

// Rooms upgrades to a WebSocket; clients then join generation rooms they own.
func (a *App) RoomsSocket(w http.ResponseWriter, r *http.Request) {
	a.Rooms.ServeWS(w, r, func(req *http.Request, generationID string) error {
		return a.Service.Authorize(req.Context(), a.currentUserID(req), generationID)
	})
}
