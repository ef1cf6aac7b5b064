package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"voicecache-gateway/internal/cache"
	"voicecache-gateway/pkg/logging/logging"
)

// Migrator runs the explicit legacy-layout sweep.
type Migrator interface {
	MigrateLegacy(ctx context.Context) (cache.MigrationReport, error)
}

// StatsHandler reports on and maintains the cache.
type StatsHandler struct {
	Store    cache.Store
	Agg      *cache.Aggregator
	Migrator Migrator
}

func NewStatsHandler(store cache.Store, migrator Migrator) *StatsHandler {
	return &StatsHandler{
		Store:    store,
		Agg:      cache.NewAggregator(store),
		Migrator: migrator,
	}
}

// BookStatus handles GET /book-status?bookKey=&voice=.
func (h *StatsHandler) BookStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookKey := strings.TrimSpace(r.URL.Query().Get("bookKey"))
	if bookKey == "" {
		writeError(w, logging.L(ctx), badRequest("bookKey is required"))
		return
	}

	st, err := h.Agg.BookStatus(ctx, cache.BookIdentity(bookKey), r.URL.Query().Get("voice"))
	if err != nil {
		writeError(w, logging.L(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Stats handles GET /stats.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := h.Agg.Detail(ctx)
	if err != nil {
		writeError(w, logging.L(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type evictRequest struct {
	BookKey string `json:"bookKey"`
	Voice   string `json:"voice"`
}

type evictResponse struct {
	Success bool `json:"success"`
	cache.EvictResult
}

// Evict handles POST /stats. An empty body clears the whole cache.
func (h *StatsHandler) Evict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	var req evictRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, logger, err)
		return
	}

	f := cache.Filter{Voice: strings.TrimSpace(req.Voice)}
	if b := strings.TrimSpace(req.BookKey); b != "" {
		f.Book = cache.BookIdentity(b)
	}

	res, err := h.Store.Evict(ctx, f)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	logger.Info("cache_evicted",
		zap.String("book", f.Book),
		zap.String("voice", f.Voice),
		zap.Int("files", res.Files),
		zap.Int64("bytes_freed", res.BytesFreed),
	)
	writeJSON(w, http.StatusOK, evictResponse{Success: true, EvictResult: res})
}

// Migrate handles POST /migrate.
func (h *StatsHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Migrator == nil {
		writeError(w, logging.L(ctx), errNoMigrator)
		return
	}
	rep, err := h.Migrator.MigrateLegacy(ctx)
	if err != nil {
		writeError(w, logging.L(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
