package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"voicecache-gateway/internal/cache"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move legacy flat-layout entries into their book and voice directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd.Context(), cmd.OutOrStdout())
	},
}

func initMigrateCmd() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(ctx context.Context, out io.Writer) error {
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
	rep, err := disk.MigrateLegacy(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "migrated %d, skipped %d, failed %d\n", rep.Migrated, rep.Skipped, rep.Failed)
	return nil
}
