package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"voicecache-gateway/internal/cache"
	"voicecache-gateway/internal/precache"
	"voicecache-gateway/internal/synth"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{badRequest("x"), http.StatusBadRequest},
		{fmt.Errorf("%w: text is required", synth.ErrInvalidRequest), http.StatusBadRequest},
		{&synth.BackendError{StatusCode: 403}, http.StatusUnauthorized},
		{fmt.Errorf("wrap: %w", cache.ErrNotFound), http.StatusNotFound},
		{errNoJob, http.StatusNotFound},
		{precache.ErrAlreadyRunning, http.StatusConflict},
		{fmt.Errorf("%w: refused", synth.ErrUnreachable), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&synth.BackendError{StatusCode: 500}, http.StatusInternalServerError},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got, _ := classify(tc.err); got != tc.want {
			t.Fatalf("classify(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestHitRate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cached, total int
		want          float64
	}{
		{0, 0, 0},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{3, 3, 100},
	}
	for _, tc := range cases {
		if got := hitRate(tc.cached, tc.total); got != tc.want {
			t.Fatalf("hitRate(%d, %d) = %v, want %v", tc.cached, tc.total, got, tc.want)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	var v struct{ A int }

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := decodeJSON(r, &v, true); err != nil {
		t.Fatalf("empty body with allowEmpty: %v", err)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := decodeJSON(r, &v, false); !errors.Is(err, errBadRequest) {
		t.Fatalf("empty body: err = %v, want errBadRequest", err)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"A": 7}`))
	if err := decodeJSON(r, &v, false); err != nil || v.A != 7 {
		t.Fatalf("decode = %v, %+v", err, v)
	}
}
