package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/maauso/audiosplicer/internal/durationcache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the duration cache",
	}

	cmd.AddCommand(newCacheStatsCommand(ctx))
	cmd.AddCommand(newCachePruneCommand(ctx))
	cmd.AddCommand(newCacheMigrateCommand(ctx))
	cmd.AddCommand(newCacheClearCommand(ctx))

	return cmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show duration cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cache := durationcache.Open(cfg.DurationCachePath, cfg.DurationCacheTTL,
				durationcache.WithLogger(ctx.logger))

			entries := cache.Entries()
			var (
				total          float64
				oldest, newest time.Time
			)
			for _, e := range entries {
				total += e.Duration
				if oldest.IsZero() || e.CachedAt.Before(oldest) {
					oldest = e.CachedAt
				}
				if e.CachedAt.After(newest) {
					newest = e.CachedAt
				}
			}

			size := "missing"
			if info, err := os.Stat(cache.Path()); err == nil {
				size = humanize.Bytes(uint64(info.Size())) // #nosec G115 - file sizes are non-negative
			}

			rows := [][]string{
				{"Path", cache.Path()},
				{"File size", size},
				{"Entries", humanize.Comma(int64(len(entries)))},
				{"Total audio", fmt.Sprintf("%.1f h", total/3600)},
				{"TTL", cache.TTL().String()},
			}
			if len(entries) > 0 {
				rows = append(rows,
					[]string{"Oldest entry", humanize.Time(oldest)},
					[]string{"Newest entry", humanize.Time(newest)},
				)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Duration cache", ""},
				rows,
				nil,
				[]columnAlignment{alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newCachePruneCommand(ctx *commandContext) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove expired and unreadable entries from the duration cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.DurationCacheTTL
			}
			report, err := durationcache.Migrate(cfg.DurationCachePath, ttl, ctx.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired and %d invalid entries, %d kept\n",
				report.Expired, report.Invalid, report.Kept)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Maximum entry age (default from DURATION_CACHE_TTL)")
	return cmd
}

func newCacheMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Rewrite the duration cache keyed by file name",
		Long: `Migrate rewrites a duration cache whose keys are full paths so that
every entry is keyed by its normalised file name. Entries sharing a file name
are merged, keeping the most recent one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report, err := durationcache.Migrate(cfg.DurationCachePath, cfg.DurationCacheTTL, ctx.logger)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Migration", "Entries"},
				[][]string{
					{"Original", humanize.Comma(int64(report.Original))},
					{"Duplicates merged", humanize.Comma(int64(report.Duplicates))},
					{"Expired", humanize.Comma(int64(report.Expired))},
					{"Invalid", humanize.Comma(int64(report.Invalid))},
				},
				[]string{"Kept", humanize.Comma(int64(report.Kept))},
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry from the duration cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cache := durationcache.Open(cfg.DurationCachePath, cfg.DurationCacheTTL,
				durationcache.WithLogger(ctx.logger))
			removed := cache.Len()
			cache.Clear()
			if err := cache.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", removed)
			return nil
		},
	}
}
