// Package orchestrator implements the Orchestrator (spec §4.H, component
// H): the startup sequence that seeds placeholders, kicks off cache-first
// loading, spawns background and periodic refresh, registers the
// filesystem with the kernel, and handles shutdown.
//
// Grounded on internal/cmd/mount.go's runMount (teacher): load config,
// construct the filesystem, enable persistence, mount, wait for a signal,
// tear down — generalized here into named, independently-testable steps
// rather than one linear function, and on internal/sync/worker.go's
// Start/run ticker-loop shape for the periodic refresher.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/sync/errgroup"

	"github.com/9diov/rss-fuse/internal/cache/persist"
	"github.com/9diov/rss-fuse/internal/config"
	"github.com/9diov/rss-fuse/internal/feed"
	"github.com/9diov/rss-fuse/internal/fusefs"
	"github.com/9diov/rss-fuse/internal/mount"
	"github.com/9diov/rss-fuse/internal/model"
	"github.com/9diov/rss-fuse/internal/repo"
	"github.com/9diov/rss-fuse/internal/tree"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// periodicWarmup is the spec §4.H step 8 "30s of warm-up" before the
// periodic refresher's first tick.
const periodicWarmup = 30 * time.Second

// backgroundRefreshDelay is the spec §4.H step 7 "brief delay" after the
// cache-load task starts, giving it a head start on populating the tree
// from persisted content before background-refresh starts overwriting
// placeholders with network results.
const backgroundRefreshDelay = 500 * time.Millisecond

// persistSaveInterval is how often the persistent cache is flushed to disk
// in the background, independent of any one feed's refresh cadence.
const persistSaveInterval = 5 * time.Minute

// Orchestrator owns the Tree, Repository, and FS for one mounted
// filesystem instance and drives it through spec §4.H's ten startup steps.
type Orchestrator struct {
	cfg        *config.Config
	mountpoint string
	debug      bool

	tree *tree.Tree
	repo *repo.Repository
	fsys *fusefs.FS

	feedDirInos map[string]uint64

	warmup time.Duration // overridable by tests; defaults to periodicWarmup

	logger *log.Logger
}

// New constructs an Orchestrator (spec §4.H steps 1-2): cfg is assumed
// already loaded, and a Repository is built with both cache layers backed
// by the OS cache directory.
func New(cfg *config.Config, mountpoint string, debug bool, logger *log.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = log.Default()
	}

	cacheDir, err := persist.DefaultCacheDir()
	if err != nil {
		return nil, err
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
		repo.WithLogger(logger),
	)

	t := tree.New()
	t.SetConfigText(renderConfigText(cfg, logger))
	fsys := fusefs.New(t, r)

	return &Orchestrator{
		cfg:         cfg,
		mountpoint:  mountpoint,
		debug:       debug,
		tree:        t,
		repo:        r,
		fsys:        fsys,
		feedDirInos: make(map[string]uint64),
		warmup:      periodicWarmup,
		logger:      logger,
	}, nil
}

// renderConfigText re-encodes cfg to TOML so the .rss-fuse/config.toml node
// (spec §1, §4.F) can serve a read-only view of the active configuration
// text. A render failure is logged and swallowed rather than failing
// startup over it; the node simply serves an empty string in that case.
func renderConfigText(cfg *config.Config, logger *log.Logger) string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		logger.Printf("orchestrator: render config.toml text: %v", err)
		return ""
	}
	return buf.String()
}

// PrepareMountPoint implements spec §4.H step 3-4: refuse an already
// mounted point, attempt cleanup of a stale one and retry validation
// either way, then validate.
func (o *Orchestrator) PrepareMountPoint(ctx context.Context) error {
	stale, err := mount.IsStale(o.mountpoint)
	if err != nil {
		return err
	}
	if stale {
		if err := mount.CleanupStale(ctx, o.mountpoint); err != nil {
			return err
		}
	}
	return mount.Validate(o.mountpoint)
}

// SeedPlaceholders implements spec §4.H step 5: for each configured feed,
// insert a FeedDir placeholder with a single ArticleFile explaining that
// loading is in progress.
func (o *Orchestrator) SeedPlaceholders() error {
	for name := range o.cfg.Feeds {
		dirIno, err := o.tree.Create(tree.RootIno, name, tree.KindFeedDir, tree.Directory)
		if err != nil {
			return fmt.Errorf("seed placeholder for feed %q: %w", name, err)
		}
		if _, err := o.tree.CreateArticleFile(dirIno, name, loadingPlaceholder(name)); err != nil {
			return fmt.Errorf("seed placeholder article for feed %q: %w", name, err)
		}
		o.feedDirInos[name] = dirIno
	}
	return nil
}

// loadingPlaceholder's Title is chosen so that tree.CreateArticleFile's
// MarkdownFilename(title) derivation produces exactly
// model.LoadingPlaceholderFilename(name) ("⏳ Loading {feed}....md"): the
// tree only ever derives a file's name from an Article's Title, so the
// spec's fixed placeholder filenames have to be encoded there.
func loadingPlaceholder(name string) model.Article {
	return model.Article{
		ID:      name + ":loading",
		Title:   fmt.Sprintf("⏳ Loading %s...", name),
		Content: fmt.Sprintf("Feed %q is loading. This file will be replaced once the feed's content is available.", name),
	}
}

// errorPlaceholder's Title similarly derives model.ErrorPlaceholderFilename's
// "❌ Error loading {feed}.md" through the same MarkdownFilename path.
func errorPlaceholder(name string, cause error) model.Article {
	now := model.Now().UTC().Format(time.RFC3339)
	return model.Article{
		ID:    name + ":error",
		Title: fmt.Sprintf("❌ Error loading %s", name),
		Content: fmt.Sprintf(
			"Feed %q could not be refreshed.\n\nTimestamp: %s\nCause: %v\n\nCheck the feed URL in config.toml and that the host is reachable, then run `rss-fuse refresh %s` to retry.",
			name, now, cause, name,
		),
	}
}

// CacheLoad implements spec §4.H step 6: for each feed, attempt a
// cache-first load; on a hit, replace the placeholder subtree with the
// cached content.
func (o *Orchestrator) CacheLoad(ctx context.Context) {
	for name := range o.cfg.Feeds {
		f, ok := o.repo.LoadFeedCacheFirst(name)
		if !ok {
			continue
		}
		dirIno, ok := o.feedDirInos[name]
		if !ok {
			continue
		}
		if err := o.tree.ReplaceFeedArticles(dirIno, name, f.Articles); err != nil {
			o.logger.Printf("orchestrator: cache-load replace subtree for %q: %v", name, err)
		}
	}
}

// BackgroundRefresh implements spec §4.H step 7: refresh every feed over
// the network, bounded by settings.concurrent_fetches, replacing each
// feed's subtree on success or surfacing an error placeholder when no
// cached content exists to fall back on.
func (o *Orchestrator) BackgroundRefresh(ctx context.Context) {
	o.refreshAll(ctx)
}

// PeriodicRefresh implements spec §4.H step 8: after a warm-up period,
// refresh all feeds every settings.refresh_interval, continuing until ctx
// is cancelled. The returned channel closes once the goroutine exits.
func (o *Orchestrator) PeriodicRefresh(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	interval := o.cfg.Settings.RefreshIntervalDuration()

	go func() {
		defer close(done)

		timer := time.NewTimer(o.warmup)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			o.refreshAll(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return done
}

// refreshAll fans out refreshAndSync across every configured feed, bounded
// by settings.concurrent_fetches, continuing past individual failures —
// the same errgroup+semaphore shape as Repository.RefreshAll, but with a
// per-feed tree update woven into each task.
func (o *Orchestrator) refreshAll(ctx context.Context) {
	concurrentFetches := o.cfg.Settings.ConcurrentFetches
	if concurrentFetches <= 0 {
		concurrentFetches = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, concurrentFetches)

	for name, url := range o.cfg.Feeds {
		name, url := name, url
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			defer func() { <-sem }()

			o.refreshAndSync(gctx, name, url)
			return nil
		})
	}
	_ = g.Wait()
}

// refreshAndSync fetches and parses one feed, then reconciles the tree:
// success replaces the feed's subtree with fresh articles; a failure with
// no cached content to fall back on replaces the placeholder with an error
// article and marks the feed Error (spec §4.H step 7).
func (o *Orchestrator) refreshAndSync(ctx context.Context, name, url string) {
	dirIno, ok := o.feedDirInos[name]
	if !ok {
		return
	}

	f, err := o.repo.RefreshFeed(ctx, name, url)
	if err != nil {
		o.logger.Printf("orchestrator: refresh feed %q: %v", name, err)
		if _, ok := o.repo.GetFeed(name); ok {
			return
		}
		if replaceErr := o.tree.ReplaceFeedArticles(dirIno, name, []model.Article{errorPlaceholder(name, err)}); replaceErr != nil {
			o.logger.Printf("orchestrator: replace subtree with error placeholder for %q: %v", name, replaceErr)
		}
		if saveErr := o.repo.SaveFeed(model.Feed{Name: name, URL: url, Status: model.ErrorState(err.Error())}); saveErr != nil {
			o.logger.Printf("orchestrator: save error status for %q: %v", name, saveErr)
		}
		return
	}

	if err := o.tree.ReplaceFeedArticles(dirIno, name, f.Articles); err != nil {
		o.logger.Printf("orchestrator: replace subtree for %q: %v", name, err)
	}
}

// Mount implements spec §4.H step 9: registers the filesystem with the
// kernel at the configured mountpoint.
func (o *Orchestrator) Mount() (*fuse.Server, error) {
	return fusefs.Mount(o.mountpoint, o.fsys, o.cfg.Fuse, o.debug)
}

// Shutdown implements spec §4.H step 10's post-signal actions: save the
// persistent cache, then escalate-unmount with force=false. If the kernel
// mount was already torn down (the common path, via the fuse.Server's own
// Unmount), this is a no-op rather than a surfaced NotFound error.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if err := o.repo.SaveToDisk(); err != nil {
		o.logger.Printf("orchestrator: save persistent cache on shutdown: %v", err)
	}

	mounted, err := mount.IsMounted(o.mountpoint)
	if err != nil {
		return err
	}
	if !mounted {
		return nil
	}
	return mount.Unmount(ctx, o.mountpoint, false)
}

// Repository exposes the underlying Repository. The status, refresh and
// demo subcommands do not use it; they build their own one-shot Repository.
func (o *Orchestrator) Repository() *repo.Repository { return o.repo }

// Tree exposes the underlying Tree; tests use it to inspect the filesystem
// layout without mounting.
func (o *Orchestrator) Tree() *tree.Tree { return o.tree }

// StartPersistSave starts the periodic persistent-cache flush (spec §4.E),
// independent of any one feed's own refresh cadence.
func (o *Orchestrator) StartPersistSave(ctx context.Context) <-chan struct{} {
	return o.repo.StartPeriodicSave(ctx, persistSaveInterval)
}

// Run drives the full spec §4.H startup sequence (steps 3-9) and blocks
// until ctx is cancelled, at which point it performs step 10's shutdown.
// It is the single entry point `cmd/rss-fuse`'s mount command calls.
func Run(ctx context.Context, cfg *config.Config, mountpoint string, debug bool, logger *log.Logger) error {
	o, err := New(cfg, mountpoint, debug, logger)
	if err != nil {
		return err
	}

	if err := o.PrepareMountPoint(ctx); err != nil {
		return err
	}
	if err := o.SeedPlaceholders(); err != nil {
		return err
	}

	go o.CacheLoad(ctx)

	go func() {
		select {
		case <-time.After(backgroundRefreshDelay):
		case <-ctx.Done():
			return
		}
		o.BackgroundRefresh(ctx)
	}()

	periodicDone := o.PeriodicRefresh(ctx)
	persistDone := o.StartPersistSave(ctx)

	server, err := o.Mount()
	if err != nil {
		return fmt.Errorf("mount %s: %w", mountpoint, err)
	}

	<-ctx.Done()
	server.Unmount()
	server.Wait()

	<-periodicDone
	<-persistDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return o.Shutdown(shutdownCtx)
}
