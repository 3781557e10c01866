package smig_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"smig-go/internal/smig"
	"smig-go/internal/testutil"
)

const testSite = "https://sp.example.com/sites/eng"

var testModified = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func docLibList() smig.ListInfo {
	return smig.ListInfo{
		Title:   "Documents",
		RootURL: "sites/eng/Shared Documents",
		Kind:    smig.ListKindDocumentLibrary,
	}
}

func driveItem(id int64, path string) smig.Item {
	return smig.Item{
		ID:          id,
		FilePath:    path,
		Author:      "rivera",
		Modified:    testModified,
		Size:        10,
		DriveID:     "d1",
		DriveItemID: fmt.Sprintf("i%d", id),
	}
}

func TestCrawler_PaginatesAllPages(t *testing.T) {
	src := testutil.NewFakeContentSource()
	src.AddWeb(testSite, "Engineering")
	list := docLibList()
	src.AddList(testSite, list)

	var items []smig.Item
	for i := 1; i <= 6; i++ {
		items = append(items, driveItem(int64(i), fmt.Sprintf("/sites/eng/Shared Documents/doc-%d.txt", i)))
	}
	src.SetItems(list.RootURL, 2, items)

	crawler := smig.NewCrawler(testSite, src, smig.DefaultSiteFilter(), smig.NewNopLogger())
	result := &smig.CrawlResult{}
	if err := crawler.Crawl(context.Background(), result); err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	if len(result.FilesFound) != 6 {
		t.Fatalf("FilesFound = %d, want 6 (every page visited)", len(result.FilesFound))
	}
	seen := make(map[string]bool)
	for _, fd := range result.FilesFound {
		url := fd.FullURL()
		if seen[url] {
			t.Errorf("duplicate file %s", url)
		}
		seen[url] = true
	}
}

func TestCrawler_MapsDriveItems(t *testing.T) {
	src := testutil.NewFakeContentSource()
	src.AddWeb(testSite, "Engineering")
	list := docLibList()
	src.AddList(testSite, list)
	src.SetItems(list.RootURL, 0, []smig.Item{
		driveItem(1, "/sites/eng/Shared Documents/reports/q1.docx"),
	})

	crawler := smig.NewCrawler(testSite, src, smig.DefaultSiteFilter(), smig.NewNopLogger())
	result := &smig.CrawlResult{}
	if err := crawler.Crawl(context.Background(), result); err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	if len(result.FilesFound) != 1 {
		t.Fatalf("FilesFound = %d, want 1", len(result.FilesFound))
	}
	fd := result.FilesFound[0]
	if !fd.IsDriveItem() {
		t.Error("document-library file should carry drive identifiers")
	}
	if fd.Subfolder != "reports" {
		t.Errorf("Subfolder = %q, want %q", fd.Subfolder, "reports")
	}
	if fd.List == nil || fd.List.Title != "Documents" {
		t.Errorf("List = %+v, want Documents", fd.List)
	}
	if !fd.LastModified.Equal(testModified) {
		t.Errorf("LastModified = %v, want %v", fd.LastModified, testModified)
	}
}

func TestCrawler_GenericListYieldsAttachments(t *testing.T) {
	src := testutil.NewFakeContentSource()
	src.AddWeb(testSite, "Engineering")
	list := smig.ListInfo{Title: "Tasks", RootURL: "sites/eng/Lists/Tasks", Kind: smig.ListKindGeneric}
	src.AddList(testSite, list)
	src.SetItems(list.RootURL, 0, []smig.Item{
		{
			ID:       1,
			FilePath: "/sites/eng/Lists/Tasks/1_.000",
			Author:   "chen",
			Modified: testModified,
			Attachments: []smig.Attachment{
				{FilePath: "/sites/eng/Lists/Tasks/Attachments/1/spec.pdf", Size: 100},
				{FilePath: "/sites/eng/Lists/Tasks/Attachments/1/notes.txt", Size: 20},
			},
		},
		{ID: 2, FilePath: "/sites/eng/Lists/Tasks/2_.000", Author: "chen", Modified: testModified},
	})

	crawler := smig.NewCrawler(testSite, src, smig.DefaultSiteFilter(), smig.NewNopLogger())
	result := &smig.CrawlResult{}
	if err := crawler.Crawl(context.Background(), result); err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	if len(result.FilesFound) != 2 {
		t.Fatalf("FilesFound = %d, want 2 (one per attachment, none for bare items)", len(result.FilesFound))
	}
	for _, fd := range result.FilesFound {
		if fd.IsDriveItem() {
			t.Errorf("attachment %s should not carry drive identifiers", fd.FilePath)
		}
		if fd.Size == 0 {
			t.Errorf("attachment %s lost its size", fd.FilePath)
		}
	}
}

func TestCrawler_SkipsHiddenAndFilteredLists(t *testing.T) {
	src := testutil.NewFakeContentSource()
	src.AddWeb(testSite, "Engineering")

	hidden := smig.ListInfo{Title: "Master Page Gallery", RootURL: "sites/eng/_catalogs/masterpage", Kind: smig.ListKindDocumentLibrary, Hidden: true}
	excluded := smig.ListInfo{Title: "Archive", RootURL: "sites/eng/Archive", Kind: smig.ListKindDocumentLibrary}
	included := docLibList()
	src.AddList(testSite, hidden)
	src.AddList(testSite, excluded)
	src.AddList(testSite, included)
	src.SetItems(hidden.RootURL, 0, []smig.Item{driveItem(1, "/sites/eng/_catalogs/masterpage/m.master")})
	src.SetItems(excluded.RootURL, 0, []smig.Item{driveItem(2, "/sites/eng/Archive/old.docx")})
	src.SetItems(included.RootURL, 0, []smig.Item{driveItem(3, "/sites/eng/Shared Documents/new.docx")})

	filter, err := smig.ParseSiteFilter(`{"lists":[{"title":"Documents"}]}`)
	if err != nil {
		t.Fatal(err)
	}

	crawler := smig.NewCrawler(testSite, src, filter, smig.NewNopLogger())
	result := &smig.CrawlResult{}
	if err := crawler.Crawl(context.Background(), result); err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	if len(result.FilesFound) != 1 {
		t.Fatalf("FilesFound = %d, want 1", len(result.FilesFound))
	}
	if result.FilesFound[0].FilePath != "/sites/eng/Shared Documents/new.docx" {
		t.Errorf("wrong file crawled: %s", result.FilesFound[0].FilePath)
	}
}

func TestCrawler_FolderFilter(t *testing.T) {
	src := testutil.NewFakeContentSource()
	src.AddWeb(testSite, "Engineering")
	list := docLibList()
	src.AddList(testSite, list)
	src.SetItems(list.RootURL, 0, []smig.Item{
		{ID: 1, FilePath: "/sites/eng/Shared Documents/reports", IsFolder: true, Modified: testModified},
		{ID: 2, FilePath: "/sites/eng/Shared Documents/archive", IsFolder: true, Modified: testModified},
		driveItem(3, "/sites/eng/Shared Documents/reports/q1.docx"),
		driveItem(4, "/sites/eng/Shared Documents/archive/old.docx"),
		driveItem(5, "/sites/eng/Shared Documents/root.docx"),
	})

	filter, err := smig.ParseSiteFilter(`{"lists":[{"title":"Documents","folders":["reports"]}]}`)
	if err != nil {
		t.Fatal(err)
	}

	crawler := smig.NewCrawler(testSite, src, filter, smig.NewNopLogger())
	result := &smig.CrawlResult{}
	if err := crawler.Crawl(context.Background(), result); err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	if len(result.FoldersFound) != 1 || result.FoldersFound[0] != "/sites/eng/Shared Documents/reports" {
		t.Errorf("FoldersFound = %v, want only the reports folder", result.FoldersFound)
	}
	if len(result.FilesFound) != 1 {
		t.Fatalf("FilesFound = %d, want 1 (root file excluded by non-empty whitelist)", len(result.FilesFound))
	}
	if result.FilesFound[0].FilePath != "/sites/eng/Shared Documents/reports/q1.docx" {
		t.Errorf("wrong file: %s", result.FilesFound[0].FilePath)
	}
}

func TestCrawler_DriveUnavailableAbandonsPage(t *testing.T) {
	src := testutil.NewFakeContentSource()
	src.AddWeb(testSite, "Engineering")

	broken := docLibList()
	healthy := smig.ListInfo{Title: "Reports", RootURL: "sites/eng/Reports", Kind: smig.ListKindDocumentLibrary}
	src.AddList(testSite, broken)
	src.AddList(testSite, healthy)

	var items []smig.Item
	for i := 1; i <= 4; i++ {
		items = append(items, driveItem(int64(i), fmt.Sprintf("/sites/eng/Shared Documents/doc-%d.txt", i)))
	}
	src.SetItems(broken.RootURL, 2, items)
	// Second page of the broken list cannot resolve its drive
	src.PageErrs[broken.RootURL+"@page-2"] = fmt.Errorf("resolving drive: %w", smig.ErrDriveUnavailable)

	src.SetItems(healthy.RootURL, 0, []smig.Item{driveItem(9, "/sites/eng/Reports/summary.docx")})

	crawler := smig.NewCrawler(testSite, src, smig.DefaultSiteFilter(), smig.NewNopLogger())
	result := &smig.CrawlResult{}
	if err := crawler.Crawl(context.Background(), result); err != nil {
		t.Fatalf("Crawl() error = %v (page faults must not fail the crawl)", err)
	}

	// First page of the broken list and the whole healthy list survive.
	if len(result.FilesFound) != 3 {
		t.Fatalf("FilesFound = %d, want 3", len(result.FilesFound))
	}
	var sawHealthy bool
	for _, fd := range result.FilesFound {
		if fd.FilePath == "/sites/eng/Reports/summary.docx" {
			sawHealthy = true
		}
	}
	if !sawHealthy {
		t.Error("healthy list was not crawled after the faulted one")
	}
}

func TestCrawler_WebEnumerationFailureIsFatal(t *testing.T) {
	src := testutil.NewFakeContentSource()
	src.WebsErr = fmt.Errorf("boom")

	crawler := smig.NewCrawler(testSite, src, smig.DefaultSiteFilter(), smig.NewNopLogger())
	if err := crawler.Crawl(context.Background(), &smig.CrawlResult{}); err == nil {
		t.Error("Crawl() should fail when webs cannot be enumerated")
	}
}

func TestCrawler_ListEnumerationFailureSkipsWeb(t *testing.T) {
	src := testutil.NewFakeContentSource()
	src.AddWeb(testSite, "Engineering")
	subweb := testSite + "/sub"
	src.AddWeb(subweb, "Subweb")

	src.ListsErr[testSite] = fmt.Errorf("boom")
	list := smig.ListInfo{Title: "Documents", RootURL: "sites/eng/sub/Docs", Kind: smig.ListKindDocumentLibrary}
	src.AddList(subweb, list)
	src.SetItems(list.RootURL, 0, []smig.Item{driveItem(1, "/sites/eng/sub/Docs/a.txt")})

	crawler := smig.NewCrawler(testSite, src, smig.DefaultSiteFilter(), smig.NewNopLogger())
	result := &smig.CrawlResult{}
	if err := crawler.Crawl(context.Background(), result); err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if len(result.FilesFound) != 1 {
		t.Errorf("FilesFound = %d, want 1 (second web still crawled)", len(result.FilesFound))
	}
}

func TestCrawler_DropsInvalidDescriptors(t *testing.T) {
	src := testutil.NewFakeContentSource()
	src.AddWeb(testSite, "Engineering")
	list := docLibList()
	src.AddList(testSite, list)
	src.SetItems(list.RootURL, 0, []smig.Item{
		driveItem(1, "/sites/eng/Shared Documents/good.docx"),
		{ID: 2, FilePath: "/sites/eng/Shared Documents/no-modified.docx", DriveID: "d1", DriveItemID: "i2"},
	})

	crawler := smig.NewCrawler(testSite, src, smig.DefaultSiteFilter(), smig.NewNopLogger())
	result := &smig.CrawlResult{}
	if err := crawler.Crawl(context.Background(), result); err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if len(result.FilesFound) != 1 {
		t.Fatalf("FilesFound = %d, want 1 (zero-modified item dropped)", len(result.FilesFound))
	}
}

func TestCrawler_SubwebFiles(t *testing.T) {
	src := testutil.NewFakeContentSource()
	subweb := testSite + "/team"
	src.AddWeb(testSite, "Engineering")
	src.AddWeb(subweb, "Team")

	list := smig.ListInfo{Title: "Team Docs", RootURL: "sites/eng/team/Docs", Kind: smig.ListKindDocumentLibrary}
	src.AddList(subweb, list)
	src.SetItems(list.RootURL, 0, []smig.Item{driveItem(1, "/sites/eng/team/Docs/plan.docx")})

	crawler := smig.NewCrawler(testSite, src, smig.DefaultSiteFilter(), smig.NewNopLogger())
	result := &smig.CrawlResult{}
	if err := crawler.Crawl(context.Background(), result); err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if len(result.FilesFound) != 1 {
		t.Fatalf("FilesFound = %d, want 1", len(result.FilesFound))
	}
	fd := result.FilesFound[0]
	if fd.WebURL != subweb {
		t.Errorf("WebURL = %q, want %q", fd.WebURL, subweb)
	}
	if !fd.IsValid() {
		t.Error("subweb descriptor should be valid")
	}
}
