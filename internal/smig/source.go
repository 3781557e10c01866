package smig

import (
	"context"
	"errors"
	"io"
	"time"
)

// Web is one web (root or child) within the crawled site collection.
type Web struct {
	URL   string
	Title string
}

// ListKind distinguishes the two item-loading strategies.
type ListKind int

const (
	ListKindGeneric ListKind = iota
	ListKindDocumentLibrary
)

// ListInfo describes a list within a web.
type ListInfo struct {
	Title   string
	RootURL string // root-relative URL of the list
	Kind    ListKind
	Hidden  bool // hidden/system lists are skipped by the crawler
}

// Ref returns the ListRef identifying this list on file descriptors.
func (l ListInfo) Ref() *ListRef {
	return &ListRef{Title: l.Title, RootURL: l.RootURL}
}

// Attachment is a file attached to a generic list item.
type Attachment struct {
	FilePath string // server-relative path
	Size     int64
}

// Item is one list item as returned by the content source. The source keeps
// raw fields; mapping to FileDescriptor is the crawler's job.
type Item struct {
	ID       int64
	FilePath string // server-relative path; for folders, the folder path
	IsFolder bool
	Author   string
	Modified time.Time
	Size     int64

	// Document-library items only.
	DriveID     string
	DriveItemID string

	// Generic-list items only.
	Attachments []Attachment
}

// ItemPage is one page of list items. NextToken is opaque to the crawler;
// an empty token means the page was the last one.
type ItemPage struct {
	Items     []Item
	NextToken string
}

// ErrDriveUnavailable classifies the transient fault where a
// document-library item's drive identifier cannot be resolved yet. The
// crawler abandons the affected page and continues with the next list.
var ErrDriveUnavailable = errors.New("drive identifier not available")

// FileStats is the result of one enrichment call for a file.
type FileStats struct {
	AccessCount  int64 // analytics: access action count
	VersionCount int64
	VersionsSize int64 // cumulative size of the version history
}

// ContentSource is the adapter over the remote content system. All calls are
// remote and must honor ctx. Implementations are expected to route every
// request through a throttle-aware client.
type ContentSource interface {
	// GetWebs returns the root web and all child webs of the site.
	GetWebs(ctx context.Context) ([]Web, error)

	// GetLists returns the lists of a web, including hidden ones.
	GetLists(ctx context.Context, web Web) ([]ListInfo, error)

	// GetListItems returns one page of items for a list, in ascending item
	// ID order where the source supports ordering. pageToken is the opaque
	// continuation token from the previous page, or "" for the first page.
	GetListItems(ctx context.Context, web Web, list ListInfo, pageToken string) (ItemPage, error)

	// GetItemAnalytics returns the access action count for a drive item.
	GetItemAnalytics(ctx context.Context, driveID, itemID string) (int64, error)

	// GetFileVersions returns the version count and cumulative version size
	// for a file identified by its full URL.
	GetFileVersions(ctx context.Context, fullURL string) (count int64, totalSize int64, err error)

	// Download streams the bytes of a file identified by its full URL.
	Download(ctx context.Context, fullURL string) (io.ReadCloser, error)
}

// TokenProvider supplies a bearer token for outbound requests. Token refresh
// is the provider's concern, not the caller's.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}
