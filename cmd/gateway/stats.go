package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"voicecache-gateway/internal/cache"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache usage per book and voice",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(cmd.Context(), cmd.OutOrStdout())
	},
}

func initStatsCmd() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	disk, err := cache.NewDiskStore(cfg.CacheDir, logger)
	if err != nil {
		return err
	}
	d, err := cache.NewAggregator(disk).Detail(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s entries, %s files, %s\n\n",
		humanize.Comma(int64(d.Summary.Entries)),
		humanize.Comma(int64(d.Summary.Files)),
		humanize.Bytes(uint64(d.Summary.TotalBytes)),
	)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BOOK\tENTRIES\tSIZE\tVOICES\tLAST USED")
	for _, b := range d.PerBook {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\n",
			b.Book, b.Entries, humanize.Bytes(uint64(b.Bytes)), len(b.Voices), lastUsed(b.LastUsed))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "VOICE\tENTRIES\tSIZE\tBOOKS")
	for _, v := range d.PerVoice {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\n", v.Voice, v.Entries, humanize.Bytes(uint64(v.Bytes)), v.Books)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "TOP USED\tUSES\tVOICE\tTEXT")
	for _, u := range d.TopUsed {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", u.Book, u.UseCount, u.Voice, preview(u.Text))
	}
	return tw.Flush()
}

func lastUsed(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func preview(s string) string {
	const n = 48
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
