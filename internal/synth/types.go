package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request asks the backend to speak Text with Voice.
type Request struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func (r *Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return errors.New("text is required")
	}
	if strings.TrimSpace(r.Voice) == "" {
		return errors.New("voice is required")
	}
	if len(r.Text) > maxTextSize {
		return fmt.Errorf("text too large (%d bytes, max %d)", len(r.Text), maxTextSize)
	}
	return nil
}

// Client turns text into audio. It holds no cache state.
type Client interface {
	Synthesize(ctx context.Context, req *Request) ([]byte, error)
}
