// Package precache drives bulk synthesis of a whole book into the audio cache.
package precache

import (
	"errors"
	"math"
	"time"
)

// State is the lifecycle position of a pre-cache job.
type State string

const (
	StateIdle         State = "idle"
	StateExtracting   State = "extracting"
	StateChecking     State = "checking"
	StateSynthesizing State = "synthesizing"
	StatePaused       State = "paused"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

var (
	// ErrEmptyBook is returned when extraction yields no chunks.
	ErrEmptyBook = errors.New("precache: book has no text to cache")

	// ErrAlreadyStarted is returned by a second Start on the same orchestrator.
	ErrAlreadyStarted = errors.New("precache: job already started")

	// ErrAlreadyRunning is returned when a book already has an active job.
	ErrAlreadyRunning = errors.New("precache: a job is already running for this book")
)

// Progress is a snapshot of a job. Current and Total count unique chunks;
// Current includes chunks that were already cached.
type Progress struct {
	Book      string    `json:"bookId"`
	Voice     string    `json:"voice"`
	State     State     `json:"state"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Cached    int       `json:"cached"`
	Failed    int       `json:"failed"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProgressFunc receives every progress snapshot. It runs on the job's
// goroutine, so it must not block for long.
type ProgressFunc func(Progress)

// percent is round(current*100/total), 0 when total is 0.
func percent(current, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(current) * 100 / float64(total)))
}
