package synth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, cfg Config) Client {
	t.Helper()
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = time.Millisecond
	}
	c, err := NewClient(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{}, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected validation error, got nil")
	}
	if _, err := NewClient(Config{BaseURL: "http://x", RateLimit: -1}, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected validation error for negative rate limit")
	}
}

func TestSynthesizeSuccess(t *testing.T) {
	t.Parallel()

	var gotReq backendRequest
	var gotAuth, gotAccept string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-audio"))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL + "/", APIKey: "test-key"})

	audio, err := c.Synthesize(context.Background(), &Request{Text: "Hello world", Voice: "alloy"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "ID3-audio" {
		t.Fatalf("audio = %q", audio)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotAccept != "audio/mpeg" {
		t.Fatalf("Accept = %q", gotAccept)
	}
	if gotReq.Text != "Hello world" || gotReq.Voice != "alloy" {
		t.Fatalf("unexpected request body: %+v", gotReq)
	}
}

func TestSynthesizeNoAPIKeyOmitsAuthorization(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Authorization"); h != "" {
			t.Errorf("unexpected Authorization header %q", h)
		}
		_, _ = w.Write([]byte("audio"))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL})
	if _, err := c.Synthesize(context.Background(), &Request{Text: "hi", Voice: "v"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
}

func TestSynthesizeInvalidRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL})

	cases := []*Request{
		nil,
		{Text: "  ", Voice: "v"},
		{Text: "hello", Voice: ""},
	}
	for _, req := range cases {
		if _, err := c.Synthesize(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("Synthesize(%+v) err = %v, want ErrInvalidRequest", req, err)
		}
	}
	if n := calls.Load(); n != 0 {
		t.Fatalf("backend called %d times for invalid requests", n)
	}
}

func TestSynthesizeUnauthorized(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL, APIKey: "bad"})

	_, err := c.Synthesize(context.Background(), &Request{Text: "hi", Voice: "v"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	var be *BackendError
	if !errors.As(err, &be) || be.Detail != "invalid api key" {
		t.Fatalf("expected BackendError with detail, got %#v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("401 should not be retried, calls = %d", n)
	}
}

func TestSynthesizeRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("audio"))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL, MaxRetries: 2})

	audio, err := c.Synthesize(context.Background(), &Request{Text: "hi", Voice: "v"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "audio" {
		t.Fatalf("audio = %q", audio)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestSynthesizeBackendErrorAfterRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"model overloaded"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL, MaxRetries: 1})

	_, err := c.Synthesize(context.Background(), &Request{Text: "hi", Voice: "v"})
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("err = %v, want ErrBackend", err)
	}
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BackendError, got %T", err)
	}
	if be.StatusCode != http.StatusInternalServerError || be.Detail != "model overloaded" {
		t.Fatalf("unexpected backend error: %+v", be)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("calls = %d, want 2", n)
	}
}

func TestSynthesizeEmptyAudioIsBackendError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL})
	if _, err := c.Synthesize(context.Background(), &Request{Text: "hi", Voice: "v"}); !errors.Is(err, ErrBackend) {
		t.Fatalf("err = %v, want ErrBackend", err)
	}
}

func TestSynthesizeUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(t, Config{BaseURL: url, MaxRetries: -1})

	_, err := c.Synthesize(context.Background(), &Request{Text: "hi", Voice: "v"})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestSynthesizeCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("audio"))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Synthesize(ctx, &Request{Text: "hi", Voice: "v"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	cases := map[string]time.Duration{
		"":        0,
		"3":       3 * time.Second,
		"0":       0,
		"-5":      0,
		"garbage": 0,
		"100000":  5 * time.Minute,
	}
	for in, want := range cases {
		resp := &http.Response{Header: http.Header{}}
		if in != "" {
			resp.Header.Set("Retry-After", in)
		}
		if got := parseRetryAfter(resp); got != want {
			t.Fatalf("parseRetryAfter(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComputeBackoffBounds(t *testing.T) {
	t.Parallel()

	for attempt := 0; attempt < 20; attempt++ {
		d := computeBackoff(100*time.Millisecond, attempt)
		if d < 0 || d > 30*time.Second {
			t.Fatalf("computeBackoff(%d) = %v out of range", attempt, d)
		}
	}
}
