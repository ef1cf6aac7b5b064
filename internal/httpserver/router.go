package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"voicecache-gateway/internal/handlers"
	"voicecache-gateway/internal/metrics"
	"voicecache-gateway/internal/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Audio    *handlers.AudioHandler
	Stats    *handlers.StatsHandler
	Precache *handlers.PrecacheHandler
}

type Options struct {
	RequestTimeout time.Duration // default: 120s
	MaxBodyBytes   int64         // default: 1MB
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, h Handlers, opts Options) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 120 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

	// audio
	r.Post("/synthesize", h.Audio.Synthesize)
	r.Post("/check", h.Audio.Check)
	r.Get("/audio", h.Audio.Audio)

	// cache maintenance
	r.Get("/book-status", h.Stats.BookStatus)
	r.Get("/stats", h.Stats.Stats)
	r.Post("/stats", h.Stats.Evict)
	r.Post("/migrate", h.Stats.Migrate)

	// pre-cache jobs
	r.Route("/precache", func(r chi.Router) {
		r.Post("/", h.Precache.Start)
		r.Get("/", h.Precache.Status)
		r.Post("/{action}", h.Precache.Control)
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
