package smig

import (
	"net/url"
	"strings"
	"time"
)

// ListRef identifies the list that owns a discovered file.
// Two refs are equal when both title and root-relative URL match.
type ListRef struct {
	Title   string `json:"title"`
	RootURL string `json:"rootUrl"`
}

func (r ListRef) Equal(other ListRef) bool {
	return r.Title == other.Title && r.RootURL == other.RootURL
}

// FileDescriptor describes a single file discovered in the content source.
// It is an immutable value object once constructed.
//
// List is set for every file yielded by the crawler. DriveID/ItemID are set
// only for document-library items; generic-list attachments leave them empty.
type FileDescriptor struct {
	SiteURL      string    `json:"siteUrl"`
	WebURL       string    `json:"webUrl"`
	FilePath     string    `json:"filePath"` // server-relative path
	Author       string    `json:"author,omitempty"`
	Subfolder    string    `json:"subfolder,omitempty"`
	LastModified time.Time `json:"lastModified"`
	Size         int64     `json:"size"`

	List *ListRef `json:"list,omitempty"`

	DriveID string `json:"driveId,omitempty"`
	ItemID  string `json:"itemId,omitempty"`
}

// IsDriveItem reports whether the file is a document-library item reachable
// through a drive, as opposed to a generic list attachment.
func (d *FileDescriptor) IsDriveItem() bool {
	return d.DriveID != "" && d.ItemID != ""
}

// FullURL derives the fully qualified URL of the file: the web URL and the
// server-relative file path, with the overlap between the two removed.
// Returns an empty string if the web URL cannot be parsed.
func (d *FileDescriptor) FullURL() string {
	web := strings.TrimSuffix(d.WebURL, "/")
	u, err := url.Parse(web)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}

	path := d.FilePath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	// Server-relative paths repeat the web URL's path segment. Drop the
	// overlap so the path is appended exactly once.
	webPath := strings.TrimSuffix(u.Path, "/")
	if webPath != "" && (path == webPath || strings.HasPrefix(path, webPath+"/")) {
		return u.Scheme + "://" + u.Host + path
	}

	return web + path
}

// IsValid reports whether the descriptor satisfies every structural
// invariant. Invalid descriptors are dropped by callers and never migrated.
func (d *FileDescriptor) IsValid() bool {
	if d.SiteURL == "" || d.WebURL == "" || d.FilePath == "" {
		return false
	}
	if d.LastModified.IsZero() {
		return false
	}

	// The web must be a descendant of the site.
	site := strings.TrimSuffix(d.SiteURL, "/")
	web := strings.TrimSuffix(d.WebURL, "/")
	if web != site && !strings.HasPrefix(web, site+"/") {
		return false
	}

	// The full URL must be derivable and anchored under the web URL.
	full := d.FullURL()
	if full == "" || !strings.HasPrefix(full, web) {
		return false
	}

	if !validSubfolder(d.Subfolder) {
		return false
	}

	return true
}

// validSubfolder rejects subfolder values with leading, trailing or doubled
// separators. Empty means the list root.
func validSubfolder(subfolder string) bool {
	if subfolder == "" {
		return true
	}
	if strings.HasPrefix(subfolder, "/") || strings.HasSuffix(subfolder, "/") {
		return false
	}
	return !strings.Contains(subfolder, "//")
}
