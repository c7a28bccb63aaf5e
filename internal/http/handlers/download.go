package handlers

import (
	"mime"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"visualbatch/internal/domain"
)

// DownloadGeneration serves the zip of completed visuals. Archives are
// rebuilt only when the set of completed visuals changes.
func (a *App) DownloadGeneration(w http.ResponseWriter, r *http.Request) {
	gen, err := a.Service.Get(r.Context(), a.currentUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if gen.Status == domain.StatusProcessing {
		a.fail(w, r, domain.Conflict("generation %s is still processing", gen.ID))
		return
	}

	built, err := a.Archive.Build(r.Context(), gen)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	f, err := os.Open(built.Path)
	if err != nil {
		a.fail(w, r, domain.Infrastructure("open archive", err))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		a.fail(w, r, domain.Infrastructure("stat archive", err))
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": built.Filename}))
	w.Header().Set("ETag", `"`+built.Fingerprint[:32]+`"`)
	http.ServeContent(w, r, built.Filename, info.ModTime(), f)
}
