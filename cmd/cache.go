package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	cacheDBPath    string
	cachePurgeDays int
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the lookup cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cacheDBPath)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "cache stats")
		}

		fmt.Fprintf(os.Stdout, "Postal code entries: %d\n", stats.CEPEntries)
		fmt.Fprintf(os.Stdout, "Geocode entries:     %d\n", stats.GeocodeEntries)
		fmt.Fprintf(os.Stdout, "Completed runs:      %d\n", stats.CompletedRuns)
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cache entries older than the retention window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cacheDBPath)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		days := cachePurgeDays
		if days <= 0 {
			days = cfg.Cache.MaxAge
		}

		removed, err := st.Purge(ctx, time.Duration(days)*24*time.Hour)
		if err != nil {
			return eris.Wrap(err, "cache purge")
		}

		fmt.Fprintf(os.Stdout, "Removed %d entries older than %d days.\n", removed, days)
		return nil
	},
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheDBPath, "cache-db", "", "cache database path (default from config)")
	cachePurgeCmd.Flags().IntVar(&cachePurgeDays, "days", 0, "retention window in days (default from config)")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
