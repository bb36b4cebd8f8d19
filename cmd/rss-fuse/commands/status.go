package commands

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/9diov/rss-fuse/internal/config"
	"github.com/9diov/rss-fuse/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache and feed status without mounting",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath(cmd))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		r, err := newOneShotRepository(cfg)
		if err != nil {
			return err
		}

		stats := r.Stats()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "feeds cached:    %d\n", stats.Storage.FeedCount)
		fmt.Fprintf(out, "articles cached: %d\n", stats.Storage.ArticleCount)
		fmt.Fprintf(out, "feed cache:      %.1f%% hit rate (%d hits, %d misses)\n", stats.FeedCache.HitRate()*100, stats.FeedCache.Hits, stats.FeedCache.Misses)
		fmt.Fprintf(out, "article cache:   %.1f%% hit rate (%d hits, %d misses)\n", stats.ArticleCache.HitRate()*100, stats.ArticleCache.Hits, stats.ArticleCache.Misses)
		fmt.Fprintf(out, "avg op latency:  %s\n", stats.AvgLatencyEMA)

		names := make([]string, 0, len(cfg.Feeds))
		for name := range cfg.Feeds {
			names = append(names, name)
		}
		sort.Strings(names)

		tty := stdoutIsTTY()
		for _, name := range names {
			f, ok := r.GetFeed(name)
			if !ok {
				fmt.Fprintf(out, "  %-20s %s\n", name, colorizeState(model.StateLoading, tty))
				continue
			}
			age := "unknown"
			if f.LastUpdated != nil {
				age = humanize.Time(*f.LastUpdated)
			}
			fmt.Fprintf(out, "  %-20s %-10s %d articles, updated %s\n", name, colorizeState(f.Status.State, tty), len(f.Articles), age)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
