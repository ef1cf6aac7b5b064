package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"voicecache-gateway/internal/metrics"
)

const (
	maxTextSize  = 16 * 1024        // 16KB of text per chunk
	maxAudioSize = 32 * 1024 * 1024 // 32MB of audio per chunk
)

// Synthesize posts {text, voice} to the backend and returns the audio bytes.
func (c *client) Synthesize(parentCtx context.Context, req *Request) ([]byte, error) {
	start := time.Now()

	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	bodyBytes, err := json.Marshal(backendRequest{
		Text:  req.Text,
		Voice: req.Voice,
	})
	if err != nil {
		return nil, fmt.Errorf("synth: marshal request: %w", err)
	}

	url := c.cfg.BaseURL + c.cfg.Path

	doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("synth: build HTTP request: %w", err)
		}
		if c.cfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "audio/mpeg")
		return c.httpClient.Do(httpReq)
	}

	audio, err := c.exchange(ctx, bodyBytes, doOnce)
	elapsed := time.Since(start)
	metrics.SynthLatencySeconds.Observe(elapsed.Seconds())
	metrics.SynthRequestsTotal.WithLabelValues(outcome(err)).Inc()

	if err != nil {
		c.logger.Warn("synth request failed",
			zap.String("voice", req.Voice),
			zap.Int("text_len", len(req.Text)),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	c.logger.Debug("synth request completed",
		zap.String("voice", req.Voice),
		zap.Int("text_len", len(req.Text)),
		zap.Int("audio_bytes", len(audio)),
		zap.Duration("duration", elapsed),
	)
	return audio, nil
}

func (c *client) exchange(
	ctx context.Context,
	body []byte,
	doOnce func(ctx context.Context, body []byte) (*http.Response, error),
) ([]byte, error) {
	resp, err := c.doWithRetry(ctx, body, doOnce)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		detail := truncate(string(bytes.TrimSpace(raw)), 200)
		var perr backendErrorResponse
		if err := json.Unmarshal(raw, &perr); err == nil {
			if d := perr.detail(); d != "" {
				detail = d
			}
		}
		return nil, &BackendError{StatusCode: resp.StatusCode, Detail: detail}
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioSize+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, unreachable(fmt.Errorf("read audio: %w", err))
	}
	if len(audio) > maxAudioSize {
		return nil, &BackendError{StatusCode: resp.StatusCode, Detail: "audio payload too large"}
	}
	if len(audio) == 0 {
		return nil, &BackendError{StatusCode: resp.StatusCode, Detail: "empty audio payload"}
	}
	return audio, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "backend_error"
	}
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
