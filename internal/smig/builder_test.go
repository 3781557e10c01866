package smig_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"smig-go/internal/smig"
	"smig-go/internal/testutil"
)

// builderConfig keeps tests fast: tiny batches, rapid polling.
func builderConfig() smig.BuilderConfig {
	return smig.BuilderConfig{
		BatchSize:          2,
		PollInterval:       10 * time.Millisecond,
		MaxConcurrentCalls: 4,
	}
}

func newBuilderSource() (*testutil.FakeContentSource, []string) {
	src := testutil.NewFakeContentSource()
	src.AddWeb(testSite, "Engineering")
	list := docLibList()
	src.AddList(testSite, list)
	src.SetItems(list.RootURL, 0, []smig.Item{
		{ID: 1, FilePath: "/sites/eng/Shared Documents/reports", IsFolder: true, Modified: testModified},
		driveItem(2, "/sites/eng/Shared Documents/reports/q1.docx"),
		driveItem(3, "/sites/eng/Shared Documents/budget.xlsx"),
	})

	tasks := smig.ListInfo{Title: "Tasks", RootURL: "sites/eng/Lists/Tasks", Kind: smig.ListKindGeneric}
	src.AddList(testSite, tasks)
	src.SetItems(tasks.RootURL, 0, []smig.Item{
		{
			ID:       1,
			FilePath: "/sites/eng/Lists/Tasks/1_.000",
			Author:   "chen",
			Modified: testModified,
			Attachments: []smig.Attachment{
				{FilePath: "/sites/eng/Lists/Tasks/Attachments/1/spec.pdf", Size: 40},
			},
		},
	})

	urls := []string{
		"https://sp.example.com/sites/eng/Shared Documents/reports/q1.docx",
		"https://sp.example.com/sites/eng/Shared Documents/budget.xlsx",
	}
	return src, urls
}

func TestSnapshotBuilder_Build(t *testing.T) {
	src, urls := newBuilderSource()
	src.Analytics["d1/i2"] = 12
	src.Analytics["d1/i3"] = 7
	src.Versions[urls[0]] = smig.FileStats{VersionCount: 3, VersionsSize: 900}
	src.Versions[urls[1]] = smig.FileStats{VersionCount: 1, VersionsSize: 50}

	store := testutil.NewTestStore(t)
	clock := testutil.FixedClock()
	builder := smig.NewSnapshotBuilder(testSite, src, store, smig.DefaultSiteFilter(), smig.NewNopLogger(), clock, builderConfig())

	snap, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := len(snap.AllFiles()); got != 3 {
		t.Errorf("AllFiles = %d, want 3 (two drive files, one attachment)", got)
	}
	if got := len(snap.DocumentLibraries()); got != 1 {
		t.Errorf("DocumentLibraries = %d, want 1", got)
	}
	completed := snap.CompletedFiles()
	if len(completed) != 2 {
		t.Fatalf("CompletedFiles = %d, want 2", len(completed))
	}
	if len(snap.ErroredFiles()) != 0 {
		t.Errorf("ErroredFiles = %d, want 0", len(snap.ErroredFiles()))
	}
	if snap.FinishedAt.IsZero() {
		t.Error("FinishedAt not stamped")
	}

	for _, f := range completed {
		if f.AccessCount == nil {
			t.Errorf("%s: AccessCount not set", f.FilePath)
			continue
		}
		switch f.FullURL() {
		case urls[0]:
			if *f.AccessCount != 12 || f.VersionCount != 3 || f.VersionsSize != 900 {
				t.Errorf("%s: stats = %d/%d/%d, want 12/3/900", f.FilePath, *f.AccessCount, f.VersionCount, f.VersionsSize)
			}
		case urls[1]:
			if *f.AccessCount != 7 || f.VersionCount != 1 || f.VersionsSize != 50 {
				t.Errorf("%s: stats = %d/%d/%d, want 7/1/50", f.FilePath, *f.AccessCount, f.VersionCount, f.VersionsSize)
			}
		default:
			t.Errorf("unexpected completed file %s", f.FullURL())
		}
	}

	// Generic-list attachments are tracked but never analyzed.
	unknown := snap.FilesInState(smig.StateUnknown)
	if len(unknown) != 1 || unknown[0].FilePath != "/sites/eng/Lists/Tasks/Attachments/1/spec.pdf" {
		t.Errorf("unknown-state files = %+v, want only the attachment", unknown)
	}

	// Enrichment results are persisted.
	rec, err := store.GetFileRecord(context.Background(), urls[0])
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("file record missing after build")
	}
	if rec.AccessCount != 12 || rec.VersionCount != 3 || rec.VersionsSize != 900 {
		t.Errorf("persisted stats = %d/%d/%d, want 12/3/900", rec.AccessCount, rec.VersionCount, rec.VersionsSize)
	}
	if rec.AnalyzedAt.IsZero() {
		t.Error("AnalyzedAt not persisted")
	}
	if rec.ListTitle != "Documents" {
		t.Errorf("ListTitle = %q, want Documents", rec.ListTitle)
	}
}

func TestSnapshotBuilder_SkipsFreshRecords(t *testing.T) {
	src, urls := newBuilderSource()
	src.Analytics["d1/i3"] = 7
	src.Versions[urls[1]] = smig.FileStats{VersionCount: 1, VersionsSize: 50}

	store := testutil.NewTestStore(t)
	clock := testutil.FixedClock()

	// The first drive file was analyzed an hour ago, well inside the window.
	seed := smig.FileRecord{
		URL:          urls[0],
		SiteURL:      testSite,
		WebURL:       testSite,
		FilePath:     "/sites/eng/Shared Documents/reports/q1.docx",
		ListTitle:    "Documents",
		LastModified: testModified,
		Size:         10,
		AccessCount:  99,
		VersionCount: 5,
		VersionsSize: 2000,
		AnalyzedAt:   clock.Now().Add(-time.Hour),
	}
	if err := store.BulkMergeFiles(context.Background(), []smig.FileRecord{seed}); err != nil {
		t.Fatal(err)
	}

	builder := smig.NewSnapshotBuilder(testSite, src, store, smig.DefaultSiteFilter(), smig.NewNopLogger(), clock, builderConfig())
	snap, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := len(snap.CompletedFiles()); got != 2 {
		t.Errorf("CompletedFiles = %d, want 2 (fresh skip plus enriched)", got)
	}

	// Only the stale file was enriched.
	if got := src.AnalyticsCallCount(); got != 1 {
		t.Errorf("analytics calls = %d, want 1", got)
	}
	if got := src.VersionCallCount(); got != 1 {
		t.Errorf("version calls = %d, want 1", got)
	}

	// The discovery flush must not clobber the seeded stats.
	rec, err := store.GetFileRecord(context.Background(), urls[0])
	if err != nil {
		t.Fatal(err)
	}
	if rec.AccessCount != 99 || rec.VersionCount != 5 || rec.VersionsSize != 2000 {
		t.Errorf("seeded stats = %d/%d/%d, want 99/5/2000", rec.AccessCount, rec.VersionCount, rec.VersionsSize)
	}
	if rec.AnalyzedAt.IsZero() {
		t.Error("seeded AnalyzedAt lost during discovery flush")
	}
}

func TestSnapshotBuilder_FatalErrorMarksFile(t *testing.T) {
	src, urls := newBuilderSource()
	src.Analytics["d1/i2"] = 12
	src.Analytics["d1/i3"] = 7
	src.Versions[urls[1]] = smig.FileStats{VersionCount: 1, VersionsSize: 50}
	src.SetVersionsError(urls[0], fmt.Errorf("version history corrupt"))

	store := testutil.NewTestStore(t)
	builder := smig.NewSnapshotBuilder(testSite, src, store, smig.DefaultSiteFilter(), smig.NewNopLogger(), testutil.FixedClock(), builderConfig())

	snap, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v (per-file analysis failures are not fatal for the run)", err)
	}

	errored := snap.ErroredFiles()
	if len(errored) != 1 {
		t.Fatalf("ErroredFiles = %d, want 1", len(errored))
	}
	if errored[0].FullURL() != urls[0] {
		t.Errorf("errored file = %s, want %s", errored[0].FullURL(), urls[0])
	}
	if got := len(snap.CompletedFiles()); got != 1 {
		t.Errorf("CompletedFiles = %d, want 1", got)
	}

	// Failed analysis never stamps AnalyzedAt.
	rec, recErr := store.GetFileRecord(context.Background(), urls[0])
	if recErr != nil {
		t.Fatal(recErr)
	}
	if rec == nil {
		t.Fatal("discovered file record missing")
	}
	if !rec.AnalyzedAt.IsZero() {
		t.Error("AnalyzedAt stamped on a failed analysis")
	}
}

func TestSnapshotBuilder_RetriesAfterRateLimit(t *testing.T) {
	src, urls := newBuilderSource()
	src.Analytics["d1/i2"] = 12
	src.Analytics["d1/i3"] = 7
	src.Versions[urls[0]] = smig.FileStats{VersionCount: 3, VersionsSize: 900}
	src.Versions[urls[1]] = smig.FileStats{VersionCount: 1, VersionsSize: 50}
	src.SetAnalyticsError("d1", "i2", &smig.RateLimitError{StatusCode: 429})

	store := testutil.NewTestStore(t)
	builder := smig.NewSnapshotBuilder(testSite, src, store, smig.DefaultSiteFilter(), smig.NewNopLogger(), testutil.FixedClock(), builderConfig())

	done := make(chan struct{})
	var snap *smig.SiteSnapshot
	var buildErr error
	go func() {
		defer close(done)
		snap, buildErr = builder.Build(context.Background())
	}()

	// Let the throttled attempt happen, then lift the limit.
	eventually(t, 5*time.Second, "first throttled analytics call", func() bool {
		return src.AnalyticsCallCount() >= 2
	})
	src.SetAnalyticsError("d1", "i2", nil)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Build() did not finish after the rate limit lifted")
	}
	if buildErr != nil {
		t.Fatalf("Build() error = %v", buildErr)
	}

	if got := len(snap.CompletedFiles()); got != 2 {
		t.Errorf("CompletedFiles = %d, want 2 (throttled file retried)", got)
	}
	if len(snap.ErroredFiles()) != 0 {
		t.Errorf("ErroredFiles = %d, want 0", len(snap.ErroredFiles()))
	}
	if got := src.AnalyticsCallCount(); got < 3 {
		t.Errorf("analytics calls = %d, want at least 3 (initial pair plus a retry)", got)
	}
}
