package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/9diov/rss-fuse/internal/cache/persist"
	"github.com/9diov/rss-fuse/internal/config"
	"github.com/9diov/rss-fuse/internal/feed"
	"github.com/9diov/rss-fuse/internal/repo"
	"github.com/9diov/rss-fuse/internal/rfserr"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [feed]",
	Short: "Refresh one feed, or all configured feeds, without mounting",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	r, err := newOneShotRepository(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Settings.TimeoutDuration()*time.Duration(cfg.Settings.RetryAttempts+1))
	defer cancel()

	if len(args) == 1 {
		name := args[0]
		url, ok := cfg.Feeds[name]
		if !ok {
			return rfserr.New(rfserr.NotFound, fmt.Sprintf("feed %q is not configured", name))
		}
		if _, err := r.RefreshFeed(ctx, name, url); err != nil {
			return fmt.Errorf("refresh %q: %w", name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "refreshed %q\n", name)
		return nil
	}

	r.RefreshAll(ctx, cfg.Feeds, cfg.Settings.ConcurrentFetches)
	fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d feed(s)\n", len(cfg.Feeds))
	return nil
}

// newOneShotRepository builds a Repository against the same persistent
// cache directory the orchestrator uses, so a refresh run from the CLI is
// picked up by the cache-first load of the next mount. An already-running
// mount loads the cache only at startup and does not see it.
func newOneShotRepository(cfg *config.Config) (*repo.Repository, error) {
	cacheDir, err := persist.DefaultCacheDir()
	if err != nil {
		return nil, rfserr.Wrap(rfserr.Io, "resolve cache directory", err)
	}

	fetcher := feed.NewHTTPFetcher(cfg.Settings.TimeoutDuration(), cfg.Settings.ConcurrentFetches)
	parser := feed.NewGofeedParser()

	r := repo.New(
		repo.NewMemStorage(),
		fetcher,
		parser,
		cfg.Settings.CacheDurationDuration(),
		cfg.Settings.CacheDurationDuration(),
		cfg.Settings.MaxArticles,
		repo.WithPersistence(cacheDir),
	)
	return r, nil
}
