package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"smig-go/internal/smig"
)

// FakeContentSource is an in-memory implementation of the ContentSource
// interface. Webs, lists and item pages are registered up front; error maps
// inject faults at specific calls. Safe for concurrent use.
type FakeContentSource struct {
	mu sync.Mutex

	Webs    []smig.Web
	WebsErr error

	Lists    map[string][]smig.ListInfo // keyed by web URL
	ListsErr map[string]error           // keyed by web URL

	pages    map[string][]smig.ItemPage // keyed by list root URL
	tokenIdx map[string]int             // "<rootURL>@<token>" to page index
	PageErrs map[string]error           // "<rootURL>@<token>" ("" token = first page)

	Analytics    map[string]int64 // keyed by "<driveID>/<itemID>"
	AnalyticsErr map[string]error

	Versions    map[string]smig.FileStats // keyed by full URL
	VersionsErr map[string]error

	Content     map[string][]byte // keyed by full URL
	DownloadErr map[string]error

	analyticsCalls int
	versionCalls   int
	downloadCalls  int
	pageCalls      int
}

func NewFakeContentSource() *FakeContentSource {
	return &FakeContentSource{
		Lists:        make(map[string][]smig.ListInfo),
		ListsErr:     make(map[string]error),
		pages:        make(map[string][]smig.ItemPage),
		tokenIdx:     make(map[string]int),
		PageErrs:     make(map[string]error),
		Analytics:    make(map[string]int64),
		AnalyticsErr: make(map[string]error),
		Versions:     make(map[string]smig.FileStats),
		VersionsErr:  make(map[string]error),
		Content:      make(map[string][]byte),
		DownloadErr:  make(map[string]error),
	}
}

// AddWeb registers a web.
func (f *FakeContentSource) AddWeb(url, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Webs = append(f.Webs, smig.Web{URL: url, Title: title})
}

// AddList registers a list under a web.
func (f *FakeContentSource) AddList(webURL string, list smig.ListInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Lists[webURL] = append(f.Lists[webURL], list)
}

// SetItems chunks items into pages of pageSize for the given list root URL
// and wires the continuation tokens.
func (f *FakeContentSource) SetItems(rootURL string, pageSize int, items []smig.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if pageSize <= 0 {
		pageSize = len(items)
		if pageSize == 0 {
			pageSize = 1
		}
	}

	var pages []smig.ItemPage
	for start := 0; start < len(items); start += pageSize {
		end := start + pageSize
		if end > len(items) {
			end = len(items)
		}
		pages = append(pages, smig.ItemPage{Items: items[start:end]})
	}
	if len(pages) == 0 {
		pages = []smig.ItemPage{{}}
	}

	for i := range pages[:len(pages)-1] {
		token := fmt.Sprintf("page-%d", i+2)
		pages[i].NextToken = token
		f.tokenIdx[rootURL+"@"+token] = i + 1
	}
	f.pages[rootURL] = pages
}

func (f *FakeContentSource) GetWebs(_ context.Context) ([]smig.Web, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WebsErr != nil {
		return nil, f.WebsErr
	}
	return append([]smig.Web(nil), f.Webs...), nil
}

func (f *FakeContentSource) GetLists(_ context.Context, web smig.Web) ([]smig.ListInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ListsErr[web.URL]; err != nil {
		return nil, err
	}
	return append([]smig.ListInfo(nil), f.Lists[web.URL]...), nil
}

func (f *FakeContentSource) GetListItems(_ context.Context, _ smig.Web, list smig.ListInfo, pageToken string) (smig.ItemPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pageCalls++
	if err := f.PageErrs[list.RootURL+"@"+pageToken]; err != nil {
		return smig.ItemPage{}, err
	}

	pages, ok := f.pages[list.RootURL]
	if !ok {
		return smig.ItemPage{}, nil
	}
	idx := 0
	if pageToken != "" {
		idx, ok = f.tokenIdx[list.RootURL+"@"+pageToken]
		if !ok {
			return smig.ItemPage{}, fmt.Errorf("unknown page token %q for %s", pageToken, list.RootURL)
		}
	}
	return pages[idx], nil
}

func (f *FakeContentSource) GetItemAnalytics(_ context.Context, driveID, itemID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.analyticsCalls++
	key := driveID + "/" + itemID
	if err := f.AnalyticsErr[key]; err != nil {
		return 0, err
	}
	return f.Analytics[key], nil
}

func (f *FakeContentSource) GetFileVersions(_ context.Context, fullURL string) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.versionCalls++
	if err := f.VersionsErr[fullURL]; err != nil {
		return 0, 0, err
	}
	stats := f.Versions[fullURL]
	return stats.VersionCount, stats.VersionsSize, nil
}

func (f *FakeContentSource) Download(_ context.Context, fullURL string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.downloadCalls++
	if err := f.DownloadErr[fullURL]; err != nil {
		return nil, err
	}
	content, ok := f.Content[fullURL]
	if !ok {
		return nil, fmt.Errorf("no content registered for %s", fullURL)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// SetAnalyticsError injects (or clears, with nil) an analytics fault for a
// drive item. Safe to call while a crawl or enrichment is running.
func (f *FakeContentSource) SetAnalyticsError(driveID, itemID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := driveID + "/" + itemID
	if err == nil {
		delete(f.AnalyticsErr, key)
		return
	}
	f.AnalyticsErr[key] = err
}

// SetVersionsError injects (or clears, with nil) a version-history fault.
func (f *FakeContentSource) SetVersionsError(fullURL string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.VersionsErr, fullURL)
		return
	}
	f.VersionsErr[fullURL] = err
}

// SetDownloadError injects (or clears, with nil) a download fault.
func (f *FakeContentSource) SetDownloadError(fullURL string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.DownloadErr, fullURL)
		return
	}
	f.DownloadErr[fullURL] = err
}

// AnalyticsCallCount reports how many analytics calls were made.
func (f *FakeContentSource) AnalyticsCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.analyticsCalls
}

// VersionCallCount reports how many version calls were made.
func (f *FakeContentSource) VersionCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versionCalls
}

// DownloadCallCount reports how many downloads were attempted.
func (f *FakeContentSource) DownloadCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloadCalls
}

// Compile-time check.
var _ smig.ContentSource = (*FakeContentSource)(nil)
