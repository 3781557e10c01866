package smig

import (
	"context"
	"sync"
	"time"
)

// BuilderConfig tunes the snapshot builder. Zero values take the defaults.
type BuilderConfig struct {
	// BatchSize is the flush and enrichment batch size.
	BatchSize int

	// PollInterval is how often pending files are collected for enrichment.
	PollInterval time.Duration

	// MaxConcurrentCalls caps concurrent enrichment calls across both the
	// analytics and version fetches. Independent of the HTTP client's own
	// limiter so a misconfiguration in one cannot run away in the other.
	MaxConcurrentCalls int

	// FreshnessWindow is how recent a persisted analysis must be for a file
	// to skip re-enrichment.
	FreshnessWindow time.Duration
}

func (c BuilderConfig) withDefaults() BuilderConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxConcurrentCalls <= 0 {
		c.MaxConcurrentCalls = 10
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = 7 * 24 * time.Hour
	}
	return c
}

// SnapshotBuilder drives a crawl over one site, assembles the SiteSnapshot,
// and schedules bounded-concurrency background enrichment (access analytics
// and version history) for every document-library file.
type SnapshotBuilder struct {
	siteURL string
	source  ContentSource
	store   Store
	filter  SiteFilter
	logger  Logger
	clock   Clock
	cfg     BuilderConfig

	// calls is the shared semaphore bounding concurrent enrichment calls.
	calls chan struct{}

	// compile serializes result compilation against new batch launches.
	compile chan struct{}
}

func NewSnapshotBuilder(siteURL string, source ContentSource, store Store, filter SiteFilter, logger Logger, clock Clock, cfg BuilderConfig) *SnapshotBuilder {
	cfg = cfg.withDefaults()
	return &SnapshotBuilder{
		siteURL: siteURL,
		source:  source,
		store:   store,
		filter:  filter,
		logger:  logger,
		clock:   clock,
		cfg:     cfg,
		calls:   make(chan struct{}, cfg.MaxConcurrentCalls),
		compile: make(chan struct{}, 1),
	}
}

// Build crawls the site and blocks until every file has left the pending,
// in-progress and transient-error states, then marks the snapshot finished.
func (b *SnapshotBuilder) Build(ctx context.Context) (*SiteSnapshot, error) {
	snap := NewSiteSnapshot(b.siteURL, b.clock.Now())

	crawlDone := make(chan struct{})
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		b.enrichLoop(ctx, snap, crawlDone)
	}()

	crawler := NewCrawler(b.siteURL, b.source, b.filter, b.logger)
	visitor := &discoveryVisitor{ctx: ctx, b: b, snap: snap}
	err := crawler.Crawl(ctx, visitor)
	visitor.flush()
	close(crawlDone)

	<-loopDone
	if err != nil {
		return snap, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return snap, ctxErr
	}

	snap.Finish(b.clock.Now())
	b.logger.Info("snapshot finished",
		"site", b.siteURL,
		"files", len(snap.AllFiles()),
		"completed", len(snap.CompletedFiles()),
		"errored", len(snap.ErroredFiles()))
	return snap, nil
}

// discoveryVisitor feeds crawled files into the snapshot and buffers their
// records for batched persistence.
type discoveryVisitor struct {
	ctx  context.Context
	b    *SnapshotBuilder
	snap *SiteSnapshot
	buf  []FileRecord
}

func (v *discoveryVisitor) Folder(string) {}

func (v *discoveryVisitor) File(fd *FileDescriptor) {
	kind := ListKindGeneric
	state := StateUnknown

	if fd.IsDriveItem() {
		kind = ListKindDocumentLibrary
		state = StateAnalysisPending
		if v.b.isFresh(v.ctx, fd) {
			state = StateComplete
		}
	}

	af := v.snap.AddFile(fd, kind, state)
	v.buf = append(v.buf, recordOf(af))
	if len(v.buf) >= v.b.cfg.BatchSize {
		v.flush()
	}
}

// flush persists buffered records via the staging bulk writer. Store faults
// are logged, not fatal: the store retries transient errors internally and a
// lost batch is rediscovered on the next run.
func (v *discoveryVisitor) flush() {
	if len(v.buf) == 0 {
		return
	}
	if err := v.b.store.BulkMergeFiles(v.ctx, v.buf); err != nil {
		v.b.logger.Error("persisting discovered files failed", "count", len(v.buf), "error", err)
	}
	v.buf = v.buf[:0]
}

// isFresh reports whether a persisted record for fd carries an analysis
// recent enough to skip re-enrichment.
func (b *SnapshotBuilder) isFresh(ctx context.Context, fd *FileDescriptor) bool {
	rec, err := b.store.GetFileRecord(ctx, fd.FullURL())
	if err != nil {
		b.logger.Warn("reading file record failed", "url", fd.FullURL(), "error", err)
		return false
	}
	if rec == nil || rec.AnalyzedAt.IsZero() {
		return false
	}
	return b.clock.Now().Sub(rec.AnalyzedAt) < b.cfg.FreshnessWindow
}

// enrichLoop polls for pending and retry-eligible files, batches them, and
// launches the enrichment calls. It returns once the crawl is done and no
// file remains pending, in progress, or awaiting retry.
func (b *SnapshotBuilder) enrichLoop(ctx context.Context, snap *SiteSnapshot, crawlDone <-chan struct{}) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	crawling := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-crawlDone:
			crawling = false
			crawlDone = nil // closed channels always select; disarm
		case <-ticker.C:
		}

		todo := snap.FilesInState(StateAnalysisPending, StateTransientError)
		if len(todo) == 0 {
			if !crawling && snap.AnalysisFinished() {
				return
			}
			continue
		}

		// Await every batch launched this cycle before polling again.
		var launches sync.WaitGroup
		for start := 0; start < len(todo); start += b.cfg.BatchSize {
			end := min(start+b.cfg.BatchSize, len(todo))
			batch := todo[start:end]

			for _, f := range batch {
				if err := snap.Transition(f, StateAnalysisInProgress); err != nil {
					b.logger.Warn("skipping file with unexpected state", "url", f.FullURL(), "error", err)
				}
			}

			launches.Add(1)
			go func(batch []*AnalyzedFile) {
				defer launches.Done()
				b.enrichBatch(ctx, snap, batch)
			}(batch)
		}
		launches.Wait()
	}
}

// enrichBatch runs the two enrichment calls for one batch in parallel,
// then compiles the results back into the model under the single-slot
// semaphore so compilation never races another batch's mutation.
func (b *SnapshotBuilder) enrichBatch(ctx context.Context, snap *SiteSnapshot, batch []*AnalyzedFile) {
	analytics := make(map[string]int64, len(batch))
	analyticsErrs := make(map[string]error)
	versions := make(map[string][2]int64, len(batch))
	versionErrs := make(map[string]error)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for _, f := range batch {
			url := f.FullURL()
			count, err := b.fetchAnalytics(ctx, f)
			if err != nil {
				analyticsErrs[url] = err
				continue
			}
			analytics[url] = count
		}
	}()

	go func() {
		defer wg.Done()
		for _, f := range batch {
			url := f.FullURL()
			count, size, err := b.fetchVersions(ctx, url)
			if err != nil {
				versionErrs[url] = err
				continue
			}
			versions[url] = [2]int64{count, size}
		}
	}()

	wg.Wait()

	select {
	case b.compile <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-b.compile }()

	var enriched []FileRecord
	for _, f := range batch {
		url := f.FullURL()
		next, stats := classify(analytics, analyticsErrs, versions, versionErrs, url)
		if next == StateComplete {
			snap.SetStats(f, stats)
		}
		if err := snap.Transition(f, next); err != nil {
			b.logger.Warn("dropping enrichment result", "url", url, "error", err)
			continue
		}
		if next == StateFatalError {
			b.logger.Error("analysis failed", "url", url,
				"analyticsError", analyticsErrs[url], "versionsError", versionErrs[url])
		}
		if next == StateComplete {
			rec := recordOf(f)
			rec.AnalyzedAt = b.clock.Now()
			enriched = append(enriched, rec)
		}
	}

	if len(enriched) > 0 {
		if err := b.store.BulkMergeFiles(ctx, enriched); err != nil {
			b.logger.Error("persisting enriched files failed", "count", len(enriched), "error", err)
		}
	}
}

// classify folds the two calls' outcomes into the file's next state. A
// rate-limit-class failure on either call requeues the file; any other
// failure is fatal for the run.
func classify(analytics map[string]int64, analyticsErrs map[string]error, versions map[string][2]int64, versionErrs map[string]error, url string) (AnalysisState, FileStats) {
	aErr := analyticsErrs[url]
	vErr := versionErrs[url]

	if aErr == nil && vErr == nil {
		v := versions[url]
		return StateComplete, FileStats{
			AccessCount:  analytics[url],
			VersionCount: v[0],
			VersionsSize: v[1],
		}
	}
	for _, err := range []error{aErr, vErr} {
		if err != nil && !IsRateLimited(err) {
			return StateFatalError, FileStats{}
		}
	}
	return StateTransientError, FileStats{}
}

func (b *SnapshotBuilder) fetchAnalytics(ctx context.Context, f *AnalyzedFile) (int64, error) {
	select {
	case b.calls <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-b.calls }()
	return b.source.GetItemAnalytics(ctx, f.DriveID, f.ItemID)
}

func (b *SnapshotBuilder) fetchVersions(ctx context.Context, fullURL string) (int64, int64, error) {
	select {
	case b.calls <- struct{}{}:
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
	defer func() { <-b.calls }()
	return b.source.GetFileVersions(ctx, fullURL)
}

// recordOf converts a tracked file into its persisted form.
func recordOf(af *AnalyzedFile) FileRecord {
	rec := FileRecord{
		URL:          af.FullURL(),
		SiteURL:      af.SiteURL,
		WebURL:       af.WebURL,
		FilePath:     af.FilePath,
		Author:       af.Author,
		LastModified: af.LastModified,
		Size:         af.Size,
		VersionCount: af.VersionCount,
		VersionsSize: af.VersionsSize,
	}
	if af.List != nil {
		rec.ListTitle = af.List.Title
	}
	if af.AccessCount != nil {
		rec.AccessCount = *af.AccessCount
	}
	return rec
}
