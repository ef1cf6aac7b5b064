package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"voicecache-gateway/internal/cache"
	"voicecache-gateway/internal/extract"
	"voicecache-gateway/internal/progress"
	"voicecache-gateway/pkg/logging/logging"
)

// PrecacheHandler exposes pre-cache job control.
type PrecacheHandler struct {
	Jobs     *JobRegistry
	Progress progress.Store
}

func NewPrecacheHandler(jobs *JobRegistry, mirror progress.Store) *PrecacheHandler {
	return &PrecacheHandler{Jobs: jobs, Progress: mirror}
}

type precacheRequest struct {
	BookKey string   `json:"bookKey"`
	Voice   string   `json:"voice"`
	Texts   []string `json:"texts"`
	Text    string   `json:"text"`
}

// Start handles POST /precache. Texts are used as chunks verbatim; Text is
// split into sentences.
func (h *PrecacheHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	var req precacheRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, logger, err)
		return
	}
	if strings.TrimSpace(req.BookKey) == "" || strings.TrimSpace(req.Voice) == "" {
		writeError(w, logger, badRequest("bookKey and voice are required"))
		return
	}

	var ex extract.Extractor
	switch {
	case len(req.Texts) > 0:
		ex = extract.Static(req.Texts)
	case strings.TrimSpace(req.Text) != "":
		ex = extract.Text{Body: req.Text}
	default:
		writeError(w, logger, badRequest("texts or text is required"))
		return
	}

	p, err := h.Jobs.Start(req.BookKey, req.Voice, ex)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	logger.Info("precache_job_started", zap.String("book", p.Book), zap.String("voice", p.Voice))
	writeJSON(w, http.StatusAccepted, p)
}

// Status handles GET /precache?bookKey=. The live job wins over the mirror.
func (h *PrecacheHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookKey := strings.TrimSpace(r.URL.Query().Get("bookKey"))
	if bookKey == "" {
		writeError(w, logging.L(ctx), badRequest("bookKey is required"))
		return
	}

	if p, ok := h.Jobs.Progress(bookKey); ok {
		writeJSON(w, http.StatusOK, p)
		return
	}

	p, ok, err := h.Progress.Get(ctx, cache.BookIdentity(bookKey))
	if err != nil {
		writeError(w, logging.L(ctx), err)
		return
	}
	if !ok {
		writeError(w, logging.L(ctx), errNoJob)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type controlRequest struct {
	BookKey string `json:"bookKey"`
}

// Control handles POST /precache/{action} for pause, resume and cancel.
func (h *PrecacheHandler) Control(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	var req controlRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, logger, err)
		return
	}
	if strings.TrimSpace(req.BookKey) == "" {
		writeError(w, logger, badRequest("bookKey is required"))
		return
	}

	action := chi.URLParam(r, "action")
	var err error
	switch action {
	case "pause":
		err = h.Jobs.Pause(req.BookKey)
	case "resume":
		err = h.Jobs.Resume(req.BookKey)
	case "cancel":
		err = h.Jobs.Cancel(req.BookKey)
	default:
		err = badRequest("unknown action %q", action)
	}
	if err != nil {
		writeError(w, logger, err)
		return
	}

	logger.Info("precache_job_control", zap.String("action", action), zap.String("book", cache.BookIdentity(req.BookKey)))
	p, _ := h.Jobs.Progress(req.BookKey)
	writeJSON(w, http.StatusOK, p)
}
