package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"visualbatch/internal/http/handlers"
	"visualbatch/internal/infra"
	"visualbatch/internal/middleware"
)

type RouterOptions struct {
	JWTSecret       string
	CORSOrigins     []string
	RateLimitPerMin int
	// StaticDir is served under /static when blobs live on the local disk.
	StaticDir string
	Logger    infra.Logger
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
	)

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	limit := middleware.RateLimit(opts.RateLimitPerMin, time.Minute)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)
		r.Get("/openapi.json", app.OpenAPIJSON)
		r.Get("/docs", app.OpenAPIDocs)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthJWT(opts.JWTSecret))

			r.Get("/ws", app.RoomsSocket)
			r.With(limit).Post("/submit", app.Submit)

			r.Route("/generations", func(r chi.Router) {
				r.With(limit).Post("/", app.CreateGeneration)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", app.GetGeneration)
					r.Get("/progress", app.GenerationProgress)
					r.Get("/stream", app.StreamGeneration)
					r.Get("/download", app.DownloadGeneration)
					r.With(limit).Post("/submit", app.SubmitGeneration)
					r.With(limit).Post("/reset", app.ResetGeneration)
					r.With(limit).Post("/visuals/{index}/retry", app.RetryVisual)
				})
			})
		})
	})

	return r
}
