package smig

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CrawlVisitor receives every matching file and folder the crawler finds.
// Callbacks may be invoked from the crawl goroutine only.
type CrawlVisitor interface {
	File(fd *FileDescriptor)
	Folder(path string)
}

// CrawlResult is a CrawlVisitor that collects everything it is given.
type CrawlResult struct {
	FilesFound   []*FileDescriptor
	FoldersFound []string
}

func (r *CrawlResult) File(fd *FileDescriptor) { r.FilesFound = append(r.FilesFound, fd) }
func (r *CrawlResult) Folder(path string)      { r.FoldersFound = append(r.FoldersFound, path) }

// Crawler walks a site collection web by web, list by list, page by page,
// and yields matching files and folders to a visitor. Traversal within one
// list follows ascending item ID order; no ordering is guaranteed across
// lists or webs.
type Crawler struct {
	siteURL string
	source  ContentSource
	filter  SiteFilter
	logger  Logger
}

// NewCrawler creates a crawler for one site.
func NewCrawler(siteURL string, source ContentSource, filter SiteFilter, logger Logger) *Crawler {
	return &Crawler{
		siteURL: siteURL,
		source:  source,
		filter:  filter,
		logger:  logger,
	}
}

// Crawl walks the whole site and returns once every included list has been
// visited. Per-list and per-page faults are logged and skipped; only the
// inability to enumerate webs at all fails the crawl.
func (c *Crawler) Crawl(ctx context.Context, visitor CrawlVisitor) error {
	webs, err := c.source.GetWebs(ctx)
	if err != nil {
		return fmt.Errorf("enumerating webs for %s: %w", c.siteURL, err)
	}

	for _, web := range webs {
		if err := ctx.Err(); err != nil {
			return err
		}

		lists, err := c.source.GetLists(ctx, web)
		if err != nil {
			c.logger.Error("listing web failed, skipping", "web", web.URL, "error", err)
			continue
		}

		for _, list := range lists {
			if err := ctx.Err(); err != nil {
				return err
			}
			if list.Hidden {
				continue
			}
			if !c.filter.IncludeList(list.Title) {
				c.logger.Debug("list excluded by filter", "list", list.Title)
				continue
			}
			c.crawlList(ctx, web, list, visitor)
		}
	}

	return ctx.Err()
}

// crawlList pages through one list. A page that fails to load is abandoned
// with a warning and the crawl moves on to the next list.
func (c *Crawler) crawlList(ctx context.Context, web Web, list ListInfo, visitor CrawlVisitor) {
	token := ""
	for {
		page, err := c.source.GetListItems(ctx, web, list, token)
		if err != nil {
			if errors.Is(err, ErrDriveUnavailable) {
				c.logger.Warn("drive unavailable, abandoning page", "list", list.Title, "web", web.URL)
			} else {
				c.logger.Error("loading list page failed, abandoning list", "list", list.Title, "error", err)
			}
			return
		}

		for i := range page.Items {
			c.visitItem(web, list, &page.Items[i], visitor)
		}

		token = page.NextToken
		if token == "" {
			return
		}
	}
}

func (c *Crawler) visitItem(web Web, list ListInfo, item *Item, visitor CrawlVisitor) {
	if item.IsFolder {
		subfolder := folderSubpath(list.RootURL, item.FilePath)
		if !c.filter.IncludeFolder(list.Title, subfolder) {
			return
		}
		visitor.Folder(item.FilePath)
		return
	}

	switch list.Kind {
	case ListKindDocumentLibrary:
		fd := &FileDescriptor{
			SiteURL:      c.siteURL,
			WebURL:       web.URL,
			FilePath:     item.FilePath,
			Author:       item.Author,
			Subfolder:    fileSubfolder(list.RootURL, item.FilePath),
			LastModified: item.Modified,
			Size:         item.Size,
			List:         list.Ref(),
			DriveID:      item.DriveID,
			ItemID:       item.DriveItemID,
		}
		c.emit(list, fd, visitor)

	case ListKindGeneric:
		for _, att := range item.Attachments {
			fd := &FileDescriptor{
				SiteURL:      c.siteURL,
				WebURL:       web.URL,
				FilePath:     att.FilePath,
				Author:       item.Author,
				Subfolder:    fileSubfolder(list.RootURL, att.FilePath),
				LastModified: item.Modified,
				Size:         att.Size,
				List:         list.Ref(),
			}
			c.emit(list, fd, visitor)
		}
	}
}

// emit applies the folder filter and validity invariants before handing a
// descriptor to the visitor. Invalid descriptors are dropped, never migrated.
func (c *Crawler) emit(list ListInfo, fd *FileDescriptor, visitor CrawlVisitor) {
	if !c.filter.IncludeFolder(list.Title, fd.Subfolder) {
		return
	}
	if !fd.IsValid() {
		c.logger.Warn("dropping invalid file descriptor", "path", fd.FilePath)
		return
	}
	visitor.File(fd)
}

// fileSubfolder returns the folder path of a file relative to its list root,
// or "" for files in the list root.
func fileSubfolder(listRootURL, filePath string) string {
	rest := listRelative(listRootURL, filePath)
	if i := strings.LastIndex(rest, "/"); i >= 0 {
		return rest[:i]
	}
	return ""
}

// folderSubpath returns a folder's path relative to its list root.
func folderSubpath(listRootURL, folderPath string) string {
	return listRelative(listRootURL, folderPath)
}

// listRelative strips everything up to and including the list root segment
// from a server-relative path.
func listRelative(listRootURL, path string) string {
	root := "/" + strings.Trim(listRootURL, "/") + "/"
	if i := strings.Index(path, root); i >= 0 {
		return path[i+len(root):]
	}
	return strings.TrimPrefix(path, "/")
}
