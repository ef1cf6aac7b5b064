package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"voicecache-gateway/internal/extract"
	"voicecache-gateway/internal/precache"
)

var precacheFlags struct {
	bookKey   string
	voice     string
	file      string
	minLength int
}

var precacheCmd = &cobra.Command{
	Use:   "precache",
	Short: "Synthesize and cache every sentence of a text file for one voice",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPrecache(cmd.Context(), cmd.OutOrStdout())
	},
}

func initPrecacheCmd() {
	f := precacheCmd.Flags()
	f.StringVar(&precacheFlags.bookKey, "book-key", "", "book key (session suffix after '-' is ignored)")
	f.StringVar(&precacheFlags.voice, "voice", "", "voice to synthesize with")
	f.StringVar(&precacheFlags.file, "file", "-", "plain-text file to read, '-' for stdin")
	f.IntVar(&precacheFlags.minLength, "min-length", 1, "skip sentences shorter than this many characters")
	_ = precacheCmd.MarkFlagRequired("book-key")
	_ = precacheCmd.MarkFlagRequired("voice")

	rootCmd.AddCommand(precacheCmd)
}

func runPrecache(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	body, err := readInput(precacheFlags.file)
	if err != nil {
		return err
	}

	_, store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	synthClient, err := newSynth(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSynth(synthClient)

	o := precache.New(store, synthClient, precache.Config{BatchWidth: cfg.PrecacheBatchWidth}, logger)

	// The first interrupt cancels at the next batch boundary.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		if _, ok := <-sig; ok {
			fmt.Fprintln(out, "cancelling after the current batch...")
			o.Cancel()
		}
	}()

	ex := extract.Text{Body: body, MinLength: precacheFlags.minLength}
	p, err := o.Start(ctx, precacheFlags.bookKey, precacheFlags.voice, ex, func(p precache.Progress) {
		fmt.Fprintf(out, "[%3d%%] %-12s %d/%d cached=%d failed=%d %s\n",
			p.Percent, p.State, p.Current, p.Total, p.Cached, p.Failed, p.Message)
	})
	if err != nil {
		return err
	}
	if p.State == precache.StateCancelled {
		return errors.New("precache cancelled")
	}
	return nil
}

func readInput(path string) (string, error) {
	if path == "" || path == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}
