// Package extract supplies the text chunks a book is pre-cached from.
package extract

import (
	"context"
	"strings"
)

// Extractor returns a book's chunks: distinct, non-empty, trimmed strings in
// a stable order. Implementations that move a reading position must restore it.
type Extractor interface {
	ExtractChunks(ctx context.Context, book string) ([]string, error)
}

// Func adapts a plain function to Extractor.
type Func func(ctx context.Context, book string) ([]string, error)

func (f Func) ExtractChunks(ctx context.Context, book string) ([]string, error) {
	return f(ctx, book)
}

// Static serves a fixed list of chunks regardless of the book.
type Static []string

func (s Static) ExtractChunks(ctx context.Context, _ string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Clean(s), nil
}

// Clean trims every chunk, drops empty ones and keeps the first occurrence
// of each duplicate.
func Clean(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
