package precache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voicecache-gateway/internal/cache"
	"voicecache-gateway/internal/extract"
	"voicecache-gateway/internal/metrics"
	"voicecache-gateway/internal/synth"
)

const defaultBatchWidth = 5

type Config struct {
	// BatchWidth is the number of synthesis calls in flight per batch (default: 5).
	BatchWidth int
}

func (c Config) withDefaults() Config {
	if c.BatchWidth <= 0 {
		c.BatchWidth = defaultBatchWidth
	}
	return c
}

// Orchestrator runs one pre-cache job: extract, check the cache, then
// synthesize the missing chunks in fixed-size batches. Pause and cancel are
// observed between batches; calls already in flight always finish.
//
// An Orchestrator is single-use. Exclusivity across books belongs to the
// caller.
type Orchestrator struct {
	store  cache.Store
	synth  synth.Client
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	started  bool
	paused   bool
	resumeCh chan struct{}
	last     Progress

	cancelled  atomic.Bool
	cancelCh   chan struct{}
	cancelOnce sync.Once

	now func() time.Time
}

// New returns an idle orchestrator.
func New(store cache.Store, client synth.Client, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    store,
		synth:    client,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("precache"),
		cancelCh: make(chan struct{}),
		last:     Progress{State: StateIdle},
		now:      time.Now,
	}
}

// Pause asks the job to stop before its next batch.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.paused || o.last.State.Terminal() {
		return
	}
	o.paused = true
	o.resumeCh = make(chan struct{})
}

// Resume releases a paused job.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.paused {
		return
	}
	o.paused = false
	close(o.resumeCh)
}

// Cancel stops the job at the next batch boundary. Safe to call repeatedly.
func (o *Orchestrator) Cancel() {
	o.cancelOnce.Do(func() {
		o.cancelled.Store(true)
		close(o.cancelCh)
	})
}

// IsActive reports whether the job was started, has not been cancelled and
// has not finished.
func (o *Orchestrator) IsActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started && !o.cancelled.Load() && !o.last.State.Terminal()
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last.State
}

// Progress returns the latest snapshot.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// job carries the per-run state Start threads through its phases.
type job struct {
	book, voice string
	onProgress  ProgressFunc

	total   int
	cached  int
	current int
	failed  int
}

type chunk struct {
	text string
	key  cache.Key
}

// Start runs the job to completion and blocks until it ends. bookKey may be
// a composite session key; it is reduced to its BookIdentity. The returned
// Progress is the final snapshot. A cancelled job returns a nil error.
func (o *Orchestrator) Start(
	ctx context.Context,
	bookKey, voice string,
	ex extract.Extractor,
	onProgress ProgressFunc,
) (Progress, error) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return o.Progress(), ErrAlreadyStarted
	}
	o.started = true
	o.mu.Unlock()

	j := &job{
		book:       cache.BookIdentity(bookKey),
		voice:      voice,
		onProgress: onProgress,
	}
	start := time.Now()
	log := o.logger.With(zap.String("book", j.book), zap.String("voice", voice))

	p, err := o.run(ctx, j, ex, log)

	metrics.PrecacheJobsTotal.WithLabelValues(string(p.State)).Inc()
	fields := []zap.Field{
		zap.String("state", string(p.State)),
		zap.Int("current", p.Current),
		zap.Int("total", p.Total),
		zap.Int("cached", p.Cached),
		zap.Int("failed", p.Failed),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		log.Warn("precache_job_done", append(fields, zap.Error(err))...)
	} else {
		log.Info("precache_job_done", fields...)
	}
	return p, err
}

func (o *Orchestrator) run(ctx context.Context, j *job, ex extract.Extractor, log *zap.Logger) (Progress, error) {
	o.emit(j, StateExtracting, "extracting text")

	texts, err := ex.ExtractChunks(ctx, j.book)
	if err != nil {
		return o.fail(j, fmt.Errorf("precache: extract: %w", err)), err
	}
	chunks := uniqueChunks(texts, j.voice)
	if len(chunks) == 0 {
		return o.fail(j, ErrEmptyBook), ErrEmptyBook
	}
	j.total = len(chunks)

	if o.cancelled.Load() {
		return o.emit(j, StateCancelled, "cancelled"), nil
	}

	o.emit(j, StateChecking, fmt.Sprintf("checking %d chunks", j.total))
	pending := o.uncached(ctx, j, chunks, log)
	j.current = j.cached
	metrics.PrecacheChunksTotal.WithLabelValues("cached").Add(float64(j.cached))

	if len(pending) == 0 {
		return o.emit(j, StateCompleted, fmt.Sprintf("all %d chunks already cached", j.total)), nil
	}

	o.emit(j, StateSynthesizing, fmt.Sprintf("%d of %d cached, synthesizing %d", j.cached, j.total, len(pending)))

	width := o.cfg.BatchWidth
	for i := 0; i < len(pending); i += width {
		if !o.awaitBatch(ctx, j) {
			return o.emit(j, StateCancelled, fmt.Sprintf("cancelled at %d of %d", j.current, j.total)), nil
		}

		batch := pending[i:min(i+width, len(pending))]
		ok, failed := o.runBatch(ctx, j, batch, log)
		j.current += ok
		j.failed += failed

		log.Debug("precache_batch_done",
			zap.Int("batch", i/width+1),
			zap.Int("ok", ok),
			zap.Int("failed", failed),
			zap.Int("current", j.current),
		)
		o.emit(j, StateSynthesizing, fmt.Sprintf("cached %d of %d", j.current, j.total))
	}

	msg := fmt.Sprintf("cached %d of %d", j.current, j.total)
	if j.failed > 0 {
		msg = fmt.Sprintf("%s, %d failed", msg, j.failed)
	}
	return o.emit(j, StateCompleted, msg), nil
}

// uncached checks every chunk and returns the missing ones in extraction order.
// A failed check counts the chunk as missing.
func (o *Orchestrator) uncached(ctx context.Context, j *job, chunks []chunk, log *zap.Logger) []chunk {
	pending := make([]chunk, 0, len(chunks))
	for _, c := range chunks {
		ok, err := o.store.Exists(ctx, j.book, j.voice, c.key)
		if err != nil {
			log.Warn("precache_check_failed", zap.String("key", c.key.Truncated()), zap.Error(err))
		}
		if ok {
			j.cached++
			continue
		}
		pending = append(pending, c)
	}
	return pending
}

// awaitBatch runs at every batch boundary. Cancellation is checked first,
// then a pause blocks until resume or cancel. It reports whether the next
// batch may start.
func (o *Orchestrator) awaitBatch(ctx context.Context, j *job) bool {
	if o.stopped(ctx) {
		return false
	}

	o.mu.Lock()
	paused, resumeCh := o.paused, o.resumeCh
	o.mu.Unlock()
	if !paused {
		return true
	}

	o.emit(j, StatePaused, fmt.Sprintf("paused at %d of %d", j.current, j.total))
	select {
	case <-resumeCh:
	case <-o.cancelCh:
		return false
	case <-ctx.Done():
		return false
	}
	if o.stopped(ctx) {
		return false
	}
	o.emit(j, StateSynthesizing, fmt.Sprintf("resumed at %d of %d", j.current, j.total))
	return true
}

func (o *Orchestrator) stopped(ctx context.Context) bool {
	return o.cancelled.Load() || ctx.Err() != nil
}

// runBatch synthesizes and stores one batch, never more than BatchWidth at once.
// Per-chunk failures are logged and counted, not returned.
func (o *Orchestrator) runBatch(ctx context.Context, j *job, batch []chunk, log *zap.Logger) (ok, failed int) {
	var okN, failedN atomic.Int64

	var g errgroup.Group
	g.SetLimit(o.cfg.BatchWidth)
	for _, c := range batch {
		g.Go(func() error {
			if err := o.cacheChunk(ctx, j, c); err != nil {
				failedN.Add(1)
				metrics.PrecacheChunksTotal.WithLabelValues("failed").Inc()
				log.Warn("precache_chunk_failed",
					zap.String("key", c.key.Truncated()),
					zap.Int("text_len", len(c.text)),
					zap.Error(err),
				)
				return nil
			}
			okN.Add(1)
			metrics.PrecacheChunksTotal.WithLabelValues("synthesized").Inc()
			return nil
		})
	}
	_ = g.Wait()
	return int(okN.Load()), int(failedN.Load())
}

func (o *Orchestrator) cacheChunk(ctx context.Context, j *job, c chunk) error {
	audio, err := o.synth.Synthesize(ctx, &synth.Request{Text: c.text, Voice: j.voice})
	if err != nil {
		return err
	}
	return o.store.Write(ctx, j.book, j.voice, c.key, audio, cache.Metadata{
		Text:   c.text,
		Voice:  j.voice,
		BookID: j.book,
	})
}

func (o *Orchestrator) fail(j *job, err error) Progress {
	return o.emitErr(j, StateFailed, "failed", err)
}

func (o *Orchestrator) emit(j *job, state State, msg string) Progress {
	return o.emitErr(j, state, msg, nil)
}

func (o *Orchestrator) emitErr(j *job, state State, msg string, err error) Progress {
	p := Progress{
		Book:      j.book,
		Voice:     j.voice,
		State:     state,
		Current:   j.current,
		Total:     j.total,
		Cached:    j.cached,
		Failed:    j.failed,
		Percent:   percent(j.current, j.total),
		Message:   msg,
		UpdatedAt: o.now(),
	}
	if err != nil {
		p.Error = err.Error()
	}

	o.mu.Lock()
	o.last = p
	o.mu.Unlock()

	if j.onProgress != nil {
		j.onProgress(p)
	}
	return p
}

// uniqueChunks derives a key per chunk and keeps the first chunk for each key,
// so texts differing only in whitespace are synthesized once.
func uniqueChunks(texts []string, voice string) []chunk {
	out := make([]chunk, 0, len(texts))
	seen := make(map[cache.Key]struct{}, len(texts))
	for _, t := range texts {
		if cache.NormalizeText(t) == "" {
			continue
		}
		k := cache.DeriveKey(t, voice)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, chunk{text: t, key: k})
	}
	return out
}
