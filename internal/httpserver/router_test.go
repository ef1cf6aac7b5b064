package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"

	"voicecache-gateway/internal/cache"
	"voicecache-gateway/internal/handlers"
	"voicecache-gateway/internal/precache"
	"voicecache-gateway/internal/progress"
	"voicecache-gateway/internal/synth"
)

type fakeSynth struct {
	calls atomic.Int32
	err   error
	gate  chan struct{}
}

func (f *fakeSynth) Synthesize(ctx context.Context, req *synth.Request) ([]byte, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte("mp3:" + req.Voice + ":" + req.Text), nil
}

type stack struct {
	srv   *httptest.Server
	synth *fakeSynth
	disk  *cache.DiskStore
}

func newStack(t *testing.T, fs *fakeSynth) *stack {
	t.Helper()
	logger := zaptest.NewLogger(t)

	disk, err := cache.NewDiskStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	store := cache.NewLoggingStore(disk)

	mirror := progress.NewMemoryStore(time.Minute, 0)
	t.Cleanup(func() { _ = mirror.Close() })

	jobs := handlers.NewJobRegistry(store, fs, precache.Config{BatchWidth: 2}, mirror, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = jobs.Shutdown(ctx)
	})

	r := chi.NewRouter()
	SetupRouter(r, logger, Handlers{
		Audio:    handlers.NewAudioHandler(store, fs),
		Stats:    handlers.NewStatsHandler(store, disk),
		Precache: handlers.NewPrecacheHandler(jobs, mirror),
	}, Options{})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &stack{srv: srv, synth: fs, disk: disk}
}

func (s *stack) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(s.srv.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *stack) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(s.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d (body %s)",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func TestSynthesizeMissThenHit(t *testing.T) {
	t.Parallel()
	s := newStack(t, &fakeSynth{})

	req := map[string]string{"text": "Hello  world", "voice": "alloy", "bookKey": "book1-sessionA"}

	resp := s.post(t, "/synthesize", req)
	expectStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("X-Cache"); got != "MISS" {
		t.Fatalf("X-Cache = %q, want MISS", got)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("Content-Type = %q", ct)
	}
	first, _ := io.ReadAll(resp.Body)

	// Another session of the same book with different spacing still hits.
	req["bookKey"] = "book1-sessionB"
	req["text"] = " Hello world "
	resp = s.post(t, "/synthesize", req)
	expectStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("X-Cache"); got != "HIT" {
		t.Fatalf("X-Cache = %q, want HIT", got)
	}
	second, _ := io.ReadAll(resp.Body)

	if !bytes.Equal(first, second) {
		t.Fatalf("cached audio differs: %q vs %q", first, second)
	}
	if n := s.synth.calls.Load(); n != 1 {
		t.Fatalf("synth calls = %d, want 1", n)
	}
}

func TestSynthesizeValidation(t *testing.T) {
	t.Parallel()
	s := newStack(t, &fakeSynth{})

	resp := s.post(t, "/synthesize", map[string]string{"text": "hi"})
	expectStatus(t, resp, http.StatusBadRequest)
	if e := decode[errorResponse](t, resp); e.Error != "invalid_request" || e.Details == "" {
		t.Fatalf("unexpected error body %+v", e)
	}

	raw, err := http.Post(s.srv.URL+"/synthesize", "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Body.Close()
	expectStatus(t, raw, http.StatusBadRequest)
}

func TestSynthesizeBackendErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"unreachable", fmt.Errorf("%w: dial tcp: connection refused", synth.ErrUnreachable), http.StatusServiceUnavailable},
		{"unauthorized", &synth.BackendError{StatusCode: 401, Detail: "missing key"}, http.StatusUnauthorized},
		{"backend", &synth.BackendError{StatusCode: 502, Detail: "bad gateway"}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStack(t, &fakeSynth{err: tc.err})
			resp := s.post(t, "/synthesize", map[string]string{"text": "hi", "voice": "v"})
			expectStatus(t, resp, tc.want)
			if e := decode[errorResponse](t, resp); e.Details == "" {
				t.Fatalf("missing details: %+v", e)
			}
		})
	}
}

func TestCheckReportsHitRate(t *testing.T) {
	t.Parallel()
	s := newStack(t, &fakeSynth{})

	expectStatus(t, s.post(t, "/synthesize", map[string]string{"text": "one", "voice": "v", "bookKey": "b-1"}), http.StatusOK)

	resp := s.post(t, "/check", map[string]any{
		"texts":   []string{"one", "two", "three"},
		"voice":   "v",
		"bookKey": "b-2",
	})
	expectStatus(t, resp, http.StatusOK)

	got := decode[struct {
		Results []struct {
			Text         string `json:"text"`
			Cached       bool   `json:"cached"`
			TruncatedKey string `json:"truncatedKey"`
		} `json:"results"`
		CachedCount int     `json:"cachedCount"`
		Total       int     `json:"total"`
		HitRate     float64 `json:"hitRate"`
	}](t, resp)

	if got.CachedCount != 1 || got.Total != 3 || got.HitRate != 33.33 {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if !got.Results[0].Cached || got.Results[1].Cached {
		t.Fatalf("unexpected results: %+v", got.Results)
	}
	if len(got.Results[0].TruncatedKey) != 12 {
		t.Fatalf("truncatedKey = %q", got.Results[0].TruncatedKey)
	}
}

func TestBookStatusStatsAndEvict(t *testing.T) {
	t.Parallel()
	s := newStack(t, &fakeSynth{})

	for _, p := range []map[string]string{
		{"text": "a", "voice": "v1", "bookKey": "book1-x"},
		{"text": "b", "voice": "v2", "bookKey": "book1-x"},
		{"text": "c", "voice": "v1", "bookKey": "book2-x"},
	} {
		expectStatus(t, s.post(t, "/synthesize", p), http.StatusOK)
	}

	expectStatus(t, s.get(t, "/book-status"), http.StatusBadRequest)

	resp := s.get(t, "/book-status?bookKey=book1-y")
	expectStatus(t, resp, http.StatusOK)
	st := decode[cache.BookStatus](t, resp)
	if st.Count != 2 || len(st.Voices) != 2 || st.LastUpdated == nil {
		t.Fatalf("unexpected book status %+v", st)
	}

	resp = s.get(t, "/stats")
	expectStatus(t, resp, http.StatusOK)
	d := decode[cache.Detail](t, resp)
	if d.Summary.Entries != 3 || len(d.PerBook) != 2 || len(d.PerVoice) != 2 {
		t.Fatalf("unexpected detail %+v", d)
	}

	resp = s.post(t, "/stats", map[string]string{"bookKey": "book1-z"})
	expectStatus(t, resp, http.StatusOK)
	ev := decode[struct {
		Success      bool `json:"success"`
		DeletedCount int  `json:"deletedCount"`
	}](t, resp)
	if !ev.Success || ev.DeletedCount != 4 {
		t.Fatalf("unexpected evict result %+v", ev)
	}

	expectStatus(t, s.get(t, "/audio?bookKey=book1-x&voice=v1&text=a"), http.StatusNotFound)
	hit := s.get(t, "/audio?bookKey=book2-x&voice=v1&text=c")
	expectStatus(t, hit, http.StatusOK)
	if body, _ := io.ReadAll(hit.Body); string(body) != "mp3:v1:c" {
		t.Fatalf("audio = %q", body)
	}
}

func waitForState(t *testing.T, s *stack, bookKey string, want precache.State) precache.Progress {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(s.srv.URL + "/precache?bookKey=" + bookKey)
		if err != nil {
			t.Fatalf("GET /precache: %v", err)
		}
		var p precache.Progress
		_ = json.NewDecoder(resp.Body).Decode(&p)
		resp.Body.Close()
		if p.State == want {
			return p
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("book %s never reached state %s", bookKey, want)
	return precache.Progress{}
}

func TestPrecacheJobLifecycle(t *testing.T) {
	t.Parallel()
	s := newStack(t, &fakeSynth{})

	resp := s.post(t, "/precache", map[string]any{
		"bookKey": "novel-1",
		"voice":   "v",
		"texts":   []string{"Hello world", "Hello   world", "Goodbye", "Again"},
	})
	expectStatus(t, resp, http.StatusAccepted)

	p := waitForState(t, s, "novel-2", precache.StateCompleted)
	if p.Current != 3 || p.Total != 3 || p.Percent != 100 {
		t.Fatalf("unexpected progress %+v", p)
	}

	resp = s.get(t, "/book-status?bookKey=novel&voice=v")
	expectStatus(t, resp, http.StatusOK)
	if st := decode[cache.BookStatus](t, resp); st.Count != 3 {
		t.Fatalf("cachedCount = %d, want 3", st.Count)
	}
}

func TestPrecacheConflictAndCancel(t *testing.T) {
	t.Parallel()
	fs := &fakeSynth{gate: make(chan struct{})}
	s := newStack(t, fs)

	body := map[string]any{"bookKey": "tome-1", "voice": "v", "text": "One. Two. Three. Four. Five."}
	expectStatus(t, s.post(t, "/precache", body), http.StatusAccepted)

	// Wait for the first batch to be in flight.
	deadline := time.Now().Add(5 * time.Second)
	for fs.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("first batch never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp := s.post(t, "/precache", body)
	expectStatus(t, resp, http.StatusConflict)
	if e := decode[errorResponse](t, resp); e.Error != "job_running" {
		t.Fatalf("unexpected error %+v", e)
	}

	expectStatus(t, s.post(t, "/precache/cancel", map[string]string{"bookKey": "tome-2"}), http.StatusOK)
	close(fs.gate)

	p := waitForState(t, s, "tome", precache.StateCancelled)
	if p.Current != 2 || p.Total != 5 {
		t.Fatalf("unexpected progress %+v", p)
	}
	if n := fs.calls.Load(); n != 2 {
		t.Fatalf("synth calls = %d, want 2", n)
	}
}

func TestPrecacheValidationAndUnknownJob(t *testing.T) {
	t.Parallel()
	s := newStack(t, &fakeSynth{})

	expectStatus(t, s.post(t, "/precache", map[string]any{"bookKey": "b", "voice": "v"}), http.StatusBadRequest)
	expectStatus(t, s.post(t, "/precache/pause", map[string]string{"bookKey": "nobody"}), http.StatusNotFound)
	expectStatus(t, s.post(t, "/precache/explode", map[string]string{"bookKey": "nobody"}), http.StatusBadRequest)
	expectStatus(t, s.get(t, "/precache?bookKey=nobody"), http.StatusNotFound)
}

func TestMigrateEndpoint(t *testing.T) {
	t.Parallel()
	s := newStack(t, &fakeSynth{})

	key := cache.DeriveKey("legacy text", "v")
	root := s.disk.Root()
	if err := os.WriteFile(filepath.Join(root, key.String()+".mp3"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	meta, _ := json.Marshal(cache.Metadata{Text: "legacy text", Voice: "v", BookID: "oldbook", UseCount: 3})
	if err := os.WriteFile(filepath.Join(root, key.String()+".json"), meta, 0o644); err != nil {
		t.Fatal(err)
	}

	resp := s.post(t, "/migrate", nil)
	expectStatus(t, resp, http.StatusOK)
	if rep := decode[cache.MigrationReport](t, resp); rep.Migrated != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}

	hit := s.get(t, "/audio?bookKey=oldbook-1&voice=v&text=legacy%20text")
	expectStatus(t, hit, http.StatusOK)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s := newStack(t, &fakeSynth{})
	expectStatus(t, s.get(t, "/healthz"), http.StatusOK)
	expectStatus(t, s.get(t, "/metrics"), http.StatusOK)
}
