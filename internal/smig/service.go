package smig

import (
	"context"
	"fmt"
)

// Site is one configured site to process.
type Site struct {
	URL string

	// FilterJSON is the per-site filter configuration in its JSON form.
	// Empty or malformed filters fall back to include-everything.
	FilterJSON string
}

// SourceFactory builds a content-source adapter scoped to one site.
type SourceFactory interface {
	ForSite(siteURL string) (ContentSource, error)
}

// Service is the orchestration layer that coordinates crawling, migration
// and snapshot building across all configured sites.
type Service struct {
	sources  SourceFactory
	store    Store
	blobs    BlobStore
	queue    Queue
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	tempRoot string
	builder  BuilderConfig
}

// NewService creates a Service with the provided dependencies.
func NewService(sources SourceFactory, store Store, blobs BlobStore, queue Queue, logger Logger, clock Clock, idgen IDGenerator, tempRoot string, builder BuilderConfig) *Service {
	return &Service{
		sources:  sources,
		store:    store,
		blobs:    blobs,
		queue:    queue,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		tempRoot: tempRoot,
		builder:  builder,
	}
}

// filterFor parses a site's filter, falling back to include-everything on
// malformed input rather than failing the site.
func (s *Service) filterFor(site Site) SiteFilter {
	filter, err := ParseSiteFilter(site.FilterJSON)
	if err != nil {
		s.logger.Warn("site filter unparseable, including everything", "site", site.URL, "error", err)
	}
	return filter
}

// CrawlSite walks one site and returns everything the filter admits,
// without migrating anything.
func (s *Service) CrawlSite(ctx context.Context, site Site) (*CrawlResult, error) {
	source, err := s.sources.ForSite(site.URL)
	if err != nil {
		return nil, fmt.Errorf("creating source for %s: %w", site.URL, err)
	}

	crawler := NewCrawler(site.URL, source, s.filterFor(site), s.logger)
	result := &CrawlResult{}
	if err := crawler.Crawl(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// MigrateSite crawls one site and enqueues every stale file for migration.
// Returns how many messages were enqueued.
func (s *Service) MigrateSite(ctx context.Context, site Site) (int, error) {
	source, err := s.sources.ForSite(site.URL)
	if err != nil {
		return 0, fmt.Errorf("creating source for %s: %w", site.URL, err)
	}

	crawler := NewCrawler(site.URL, source, s.filterFor(site), s.logger)
	result := &CrawlResult{}
	if err := crawler.Crawl(ctx, result); err != nil {
		return 0, err
	}

	producer := NewProducer(NewSyncDecider(s.blobs, s.store), s.queue, s.logger)
	sent, err := producer.EnqueueAll(ctx, result.FilesFound)
	if err != nil {
		return sent, err
	}

	s.logger.Info("site migration enqueued", "site", site.URL, "discovered", len(result.FilesFound), "enqueued", sent)
	return sent, nil
}

// MigrateAll processes every configured site. A site whose source context
// cannot be obtained is logged and skipped; per-file faults never abort a
// site, and no site failure aborts the run.
func (s *Service) MigrateAll(ctx context.Context, sites []Site) (int, error) {
	total := 0
	for _, site := range sites {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		sent, err := s.MigrateSite(ctx, site)
		total += sent
		if err != nil {
			s.logger.Error("site migration failed, moving to next site", "site", site.URL, "error", err)
		}
	}
	return total, nil
}

// BuildSnapshot builds the analyzed snapshot of one site, blocking until
// enrichment finishes.
func (s *Service) BuildSnapshot(ctx context.Context, site Site) (*SiteSnapshot, error) {
	source, err := s.sources.ForSite(site.URL)
	if err != nil {
		return nil, fmt.Errorf("creating source for %s: %w", site.URL, err)
	}

	builder := NewSnapshotBuilder(site.URL, source, s.store, s.filterFor(site), s.logger, s.clock, s.builder)
	return builder.Build(ctx)
}

// RunWorker starts the migration consumer for one site's source and blocks
// until ctx is cancelled.
func (s *Service) RunWorker(ctx context.Context, site Site, opts SubscribeOptions) error {
	source, err := s.sources.ForSite(site.URL)
	if err != nil {
		return fmt.Errorf("creating source for %s: %w", site.URL, err)
	}

	uploader := NewUploader(source, s.blobs, s.logger, s.tempRoot, s.idgen)
	consumer := NewConsumer(uploader, s.store, s.queue, s.logger, s.clock)
	if err := consumer.Run(ctx, opts); err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Status summarizes queue depth and store totals.
type Status struct {
	QueueDepth int
	Store      StoreCounts
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	depth, err := s.queue.Len(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("reading queue depth: %w", err)
	}
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("reading store counts: %w", err)
	}
	return Status{QueueDepth: depth, Store: counts}, nil
}
