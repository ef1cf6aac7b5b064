package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"voicecache-gateway/internal/cache"
	"voicecache-gateway/internal/synth"
	"voicecache-gateway/pkg/logging/logging"
)

const audioContentType = "audio/mpeg"

// AudioHandler serves synthesis through the cache.
type AudioHandler struct {
	Store cache.Store
	Synth synth.Client
}

func NewAudioHandler(store cache.Store, client synth.Client) *AudioHandler {
	return &AudioHandler{Store: store, Synth: client}
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	Voice   string `json:"voice"`
	BookKey string `json:"bookKey"`
}

// Synthesize handles POST /synthesize. A hit is served from the cache and
// touched; a miss is synthesized, stored and returned.
func (h *AudioHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req synthesizeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, logging.L(ctx), err)
		return
	}
	if strings.TrimSpace(req.Text) == "" || strings.TrimSpace(req.Voice) == "" {
		writeError(w, logging.L(ctx), badRequest("text and voice are required"))
		return
	}

	book := cache.BookIdentity(req.BookKey)
	key := cache.DeriveKey(req.Text, req.Voice)
	ctx = logging.WithFields(ctx,
		zap.String("book", book),
		zap.String("voice", req.Voice),
		zap.String("key", key.Truncated()),
	)
	logger := logging.L(ctx)

	ok, err := h.Store.Exists(ctx, book, req.Voice, key)
	if err != nil {
		logger.Warn("cache_check_error", zap.Error(err))
	}
	if ok {
		audio, err := h.Store.Read(ctx, book, req.Voice, key)
		if err == nil {
			_ = h.Store.Touch(ctx, book, req.Voice, key)
			logger.Info("cache_decision",
				zap.Bool("cache_hit", true),
				zap.Duration("total_latency_ms", time.Since(start)),
			)
			writeAudio(w, audio, "HIT", key)
			return
		}
		// The entry vanished between the check and the read; synthesize instead.
		logger.Warn("cache_read_error", zap.Error(err))
	}

	synthStart := time.Now()
	audio, err := h.Synth.Synthesize(ctx, &synth.Request{Text: req.Text, Voice: req.Voice})
	if err != nil {
		writeError(w, logger, err)
		return
	}
	synthLatency := time.Since(synthStart)

	if err := h.Store.Write(ctx, book, req.Voice, key, audio, cache.Metadata{
		Text:  req.Text,
		Voice: req.Voice,
	}); err != nil {
		logger.Warn("cache_write_error", zap.Error(err))
	}

	logger.Info("cache_decision",
		zap.Bool("cache_hit", false),
		zap.Duration("synth_latency_ms", synthLatency),
		zap.Duration("total_latency_ms", time.Since(start)),
	)
	writeAudio(w, audio, "MISS", key)
}

type checkRequest struct {
	Texts   []string `json:"texts"`
	Voice   string   `json:"voice"`
	BookKey string   `json:"bookKey"`
}

type checkResult struct {
	Text         string `json:"text"`
	Cached       bool   `json:"cached"`
	TruncatedKey string `json:"truncatedKey"`
}

type checkResponse struct {
	BookID      string        `json:"bookId"`
	Voice       string        `json:"voice"`
	Results     []checkResult `json:"results"`
	CachedCount int           `json:"cachedCount"`
	Total       int           `json:"total"`
	HitRate     float64       `json:"hitRate"`
}

// Check handles POST /check. HitRate is a percentage rounded to 2 decimals.
func (h *AudioHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	var req checkRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, logger, err)
		return
	}
	if strings.TrimSpace(req.Voice) == "" {
		writeError(w, logger, badRequest("voice is required"))
		return
	}

	book := cache.BookIdentity(req.BookKey)
	resp := checkResponse{
		BookID:  book,
		Voice:   req.Voice,
		Results: make([]checkResult, 0, len(req.Texts)),
		Total:   len(req.Texts),
	}
	for _, text := range req.Texts {
		key := cache.DeriveKey(text, req.Voice)
		ok, err := h.Store.Exists(ctx, book, req.Voice, key)
		if err != nil {
			logger.Warn("cache_check_error", zap.String("key", key.Truncated()), zap.Error(err))
		}
		if ok {
			resp.CachedCount++
		}
		resp.Results = append(resp.Results, checkResult{
			Text:         text,
			Cached:       ok,
			TruncatedKey: key.Truncated(),
		})
	}
	resp.HitRate = hitRate(resp.CachedCount, resp.Total)

	writeJSON(w, http.StatusOK, resp)
}

// Audio handles GET /audio?bookKey=&voice=&text=. It never synthesizes.
func (h *AudioHandler) Audio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	text, voice := q.Get("text"), q.Get("voice")
	if strings.TrimSpace(text) == "" || strings.TrimSpace(voice) == "" {
		writeError(w, logging.L(ctx), badRequest("text and voice are required"))
		return
	}

	book := cache.BookIdentity(q.Get("bookKey"))
	key := cache.DeriveKey(text, voice)

	if _, err := h.Store.Exists(ctx, book, voice, key); err != nil {
		logging.L(ctx).Warn("cache_check_error", zap.Error(err))
	}
	audio, err := h.Store.Read(ctx, book, voice, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			err = fmt.Errorf("read cached audio: %w", err)
		}
		writeError(w, logging.L(ctx), err)
		return
	}
	_ = h.Store.Touch(ctx, book, voice, key)
	writeAudio(w, audio, "HIT", key)
}

func writeAudio(w http.ResponseWriter, audio []byte, cacheStatus string, key cache.Key) {
	w.Header().Set("Content-Type", audioContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.Header().Set("X-Cache", cacheStatus)
	w.Header().Set("X-Cache-Key", key.Truncated())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func hitRate(cached, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(cached)*100*100/float64(total)) / 100
}
