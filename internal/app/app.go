package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"smig-go/internal/blob"
	"smig-go/internal/config"
	"smig-go/internal/database"
	"smig-go/internal/queue"
	"smig-go/internal/smig"
	"smig-go/internal/source"
)

// SmigApp is the application layer between the CLI and the core Service.
// It constructs all dependencies from config, exposes high-level operations,
// and manages resource lifecycles on Close.
type SmigApp struct {
	cfg     *config.Config
	store   smig.Store
	queue   smig.Queue
	blobs   smig.BlobStore
	sources *source.Factory
	service *smig.Service
	logFile *os.File
}

// NewSmigApp creates a fully wired SmigApp from the given config.
// operation identifies the CLI command being run (e.g. "crawl", "migrate");
// together with a timestamp it tags every log line of the run.
// The caller must call Close when done.
func NewSmigApp(ctx context.Context, cfg *config.Config, operation string) (*SmigApp, error) {
	opID := fmt.Sprintf("%s-%s", operation, time.Now().UTC().Format("20060102T150405Z"))
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	sources, err := source.NewFactory(cfg.Source, log)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating source factory: %w", err)
	}

	blobs, err := blob.NewBlobStoreFromConfig(ctx, cfg.Blob)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating blob store: %w", err)
	}

	q, err := queue.NewQueueFromConfig(cfg.Queue)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating queue: %w", err)
	}

	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		closeQuietly(q)
		logFile.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}

	svc := smig.NewService(sources, store, blobs, q, log, smig.RealClock{}, smig.UUIDGenerator{},
		cfg.TempDir, builderConfig(cfg.Analysis))

	return &SmigApp{
		cfg:     cfg,
		store:   store,
		queue:   q,
		blobs:   blobs,
		sources: sources,
		service: svc,
		logFile: logFile,
	}, nil
}

// builderConfig maps the analysis config onto the snapshot builder's
// tuning knobs. Zero values fall back to the builder's defaults.
func builderConfig(cfg config.AnalysisConfig) smig.BuilderConfig {
	return smig.BuilderConfig{
		BatchSize:          cfg.BatchSize,
		PollInterval:       time.Duration(cfg.PollSeconds) * time.Second,
		MaxConcurrentCalls: cfg.MaxConcurrentCalls,
		FreshnessWindow:    time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
	}
}

// Sites returns the configured sites as core Site values.
func (a *SmigApp) Sites() []smig.Site {
	sites := make([]smig.Site, 0, len(a.cfg.Sites))
	for _, s := range a.cfg.Sites {
		sites = append(sites, smig.Site{URL: s.URL, FilterJSON: s.Filter})
	}
	return sites
}

// SiteByURL returns the configured site matching url, or an error listing
// nothing matched.
func (a *SmigApp) SiteByURL(url string) (smig.Site, error) {
	for _, s := range a.Sites() {
		if s.URL == url {
			return s, nil
		}
	}
	return smig.Site{}, fmt.Errorf("site %s is not configured", url)
}

// CrawlSite walks one site and returns what the filter admits.
func (a *SmigApp) CrawlSite(ctx context.Context, site smig.Site) (*smig.CrawlResult, error) {
	return a.service.CrawlSite(ctx, site)
}

// MigrateSites crawls the given sites and enqueues stale files for
// migration. Returns the total enqueued.
func (a *SmigApp) MigrateSites(ctx context.Context, sites []smig.Site) (int, error) {
	return a.service.MigrateAll(ctx, sites)
}

// BuildSnapshot builds and enriches the analyzed snapshot of one site.
func (a *SmigApp) BuildSnapshot(ctx context.Context, site smig.Site) (*smig.SiteSnapshot, error) {
	return a.service.BuildSnapshot(ctx, site)
}

// RunWorker consumes the migration queue for one site until ctx is cancelled.
func (a *SmigApp) RunWorker(ctx context.Context, site smig.Site) error {
	opts := smig.DefaultSubscribeOptions()
	if a.cfg.Queue.LockTimeoutSeconds > 0 {
		opts.LockRenewal = time.Duration(a.cfg.Queue.LockTimeoutSeconds) * time.Second
	}
	return a.service.RunWorker(ctx, site, opts)
}

// Status reports queue depth, store totals and client counters.
func (a *SmigApp) Status(ctx context.Context) (smig.Status, source.Stats, error) {
	st, err := a.service.Status(ctx)
	if err != nil {
		return smig.Status{}, source.Stats{}, err
	}
	return st, a.sources.Client().Stats(), nil
}

// Close releases the store, queue and log file.
func (a *SmigApp) Close() error {
	var firstErr error

	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if err := closeQuietly(a.queue); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing queue: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// closeQuietly closes v when it is closable. Memory-backed implementations
// have nothing to close.
func closeQuietly(v any) error {
	if c, ok := v.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
