package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"visualbatch/internal/generation"
)

type submitRequest struct {
	Prompts     []string `json:"prompts"`
	VisualTypes []string `json:"visual_types"`
	ModelHint   string   `json:"model_hint"`
}

func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var in generation.CreateInput
	if !a.decode(w, r, &in) {
		return
	}
	in.OwnerID = a.currentUserID(r)
	gen, err := a.Service.Create(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, gen)
}

func (a *App) SubmitGeneration(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.submit(w, r, generation.SubmitInput{
		GenerationID: chi.URLParam(r, "id"),
		Prompts:      req.Prompts,
		VisualTypes:  req.VisualTypes,
		ModelHint:    req.ModelHint,
	})
}

// Submit accepts the generation id in the body.
func (a *App) Submit(w http.ResponseWriter, r *http.Request) {
	var in generation.SubmitInput
	if !a.decode(w, r, &in) {
		return
	}
	a.submit(w, r, in)
}

func (a *App) submit(w http.ResponseWriter, r *http.Request, in generation.SubmitInput) {
	in.OwnerID = a.currentUserID(r)
	gen, err := a.Service.Submit(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, gen)
}

func (a *App) RetryVisual(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "index must be an integer")
		return
	}
	gen, err := a.Service.RetryVisual(r.Context(), a.currentUserID(r), chi.URLParam(r, "id"), index)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, gen)
}

func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	gen, err := a.Service.Get(r.Context(), a.currentUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, gen)
}

func (a *App) GenerationProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := a.Service.Progress(r.Context(), a.currentUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, progress)
}

func (a *App) ResetGeneration(w http.ResponseWriter, r *http.Request) {
	gen, err := a.Service.Reset(r.Context(), a.currentUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, gen)
}
