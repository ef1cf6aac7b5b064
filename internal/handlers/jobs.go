package handlers

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"voicecache-gateway/internal/cache"
	"voicecache-gateway/internal/extract"
	"voicecache-gateway/internal/precache"
	"voicecache-gateway/internal/progress"
	"voicecache-gateway/internal/synth"
)

// JobRegistry owns the running pre-cache jobs, at most one per book, and
// mirrors their progress into a progress.Store.
type JobRegistry struct {
	store    cache.Store
	synth    synth.Client
	cfg      precache.Config
	progress progress.Store
	logger   *zap.Logger

	// base outlives requests; Shutdown cancels it.
	base     context.Context
	stopBase context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*precache.Orchestrator
	wg   sync.WaitGroup
}

func NewJobRegistry(
	store cache.Store,
	client synth.Client,
	cfg precache.Config,
	mirror progress.Store,
	logger *zap.Logger,
) *JobRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &JobRegistry{
		store:    store,
		synth:    client,
		cfg:      cfg,
		progress: mirror,
		logger:   logger,
		base:     base,
		stopBase: stop,
		jobs:     make(map[string]*precache.Orchestrator),
	}
}

// Start launches a background job for bookKey's BookIdentity. It fails with
// precache.ErrAlreadyRunning while an earlier job for the book is still
// running, including one that was cancelled but has not finished its batch.
func (r *JobRegistry) Start(bookKey, voice string, ex extract.Extractor) (precache.Progress, error) {
	book := cache.BookIdentity(bookKey)

	r.mu.Lock()
	if _, ok := r.jobs[book]; ok {
		r.mu.Unlock()
		return precache.Progress{}, precache.ErrAlreadyRunning
	}
	job := precache.New(r.store, r.synth, r.cfg, r.logger)
	r.jobs[book] = job
	r.wg.Add(1)
	r.mu.Unlock()

	initial := precache.Progress{Book: book, Voice: voice, State: precache.StateIdle, Message: "queued"}
	r.mirror(initial)

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.jobs, book)
			r.mu.Unlock()
		}()
		_, _ = job.Start(r.base, book, voice, ex, r.mirror)
	}()

	return initial, nil
}

// Pause, Resume and Cancel return errNoJob when the book has no running job.
func (r *JobRegistry) Pause(bookKey string) error {
	return r.with(bookKey, (*precache.Orchestrator).Pause)
}

func (r *JobRegistry) Resume(bookKey string) error {
	return r.with(bookKey, (*precache.Orchestrator).Resume)
}

func (r *JobRegistry) Cancel(bookKey string) error {
	return r.with(bookKey, (*precache.Orchestrator).Cancel)
}

// Active reports whether a job for bookKey is running and not cancelled.
func (r *JobRegistry) Active(bookKey string) bool {
	r.mu.Lock()
	job, ok := r.jobs[cache.BookIdentity(bookKey)]
	r.mu.Unlock()
	return ok && job.IsActive()
}

// Progress returns the live snapshot of a running job.
func (r *JobRegistry) Progress(bookKey string) (precache.Progress, bool) {
	r.mu.Lock()
	job, ok := r.jobs[cache.BookIdentity(bookKey)]
	r.mu.Unlock()
	if !ok {
		return precache.Progress{}, false
	}
	return job.Progress(), true
}

// Shutdown cancels every job and waits for them to stop or ctx to expire.
func (r *JobRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, job := range r.jobs {
		job.Cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.stopBase()
		return nil
	case <-ctx.Done():
		r.stopBase()
		return ctx.Err()
	}
}

func (r *JobRegistry) with(bookKey string, fn func(*precache.Orchestrator)) error {
	r.mu.Lock()
	job, ok := r.jobs[cache.BookIdentity(bookKey)]
	r.mu.Unlock()
	if !ok {
		return errNoJob
	}
	fn(job)
	return nil
}

func (r *JobRegistry) mirror(p precache.Progress) {
	if r.progress == nil {
		return
	}
	if err := r.progress.Put(r.base, p); err != nil {
		r.logger.Warn("precache_progress_mirror_failed",
			zap.String("book", p.Book),
			zap.String("state", string(p.State)),
			zap.Error(err),
		)
	}
}
