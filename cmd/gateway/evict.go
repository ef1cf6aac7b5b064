package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"voicecache-gateway/internal/cache"
)

var evictFlags struct {
	bookKey string
	voice   string
}

var evictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Delete cached audio for a book, a voice, both, or everything",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEvict(cmd.Context(), cmd.OutOrStdout())
	},
}

func initEvictCmd() {
	evictCmd.Flags().StringVar(&evictFlags.bookKey, "book-key", "", "only entries of this book")
	evictCmd.Flags().StringVar(&evictFlags.voice, "voice", "", "only entries of this voice")
	rootCmd.AddCommand(evictCmd)
}

func runEvict(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	_, store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	f := cache.Filter{Voice: strings.TrimSpace(evictFlags.voice)}
	if b := strings.TrimSpace(evictFlags.bookKey); b != "" {
		f.Book = cache.BookIdentity(b)
	}
	res, err := store.Evict(ctx, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %s files, freed %s\n", humanize.Comma(int64(res.Files)), humanize.Bytes(uint64(res.BytesFreed)))
	return nil
}
