package smig

import "encoding/json"

// SiteFilter restricts which lists and folders a crawl includes.
//
// An empty Lists slice includes every list. A non-empty slice includes only
// the named lists. Per-list folder whitelists work the same way, with one
// asymmetry: when a folder whitelist is non-empty the list's root folder is
// excluded unless named explicitly.
type SiteFilter struct {
	Lists []ListFilter `json:"lists,omitempty"`
}

// ListFilter names a list to include and, optionally, the folders within it.
type ListFilter struct {
	Title   string   `json:"title"`
	Folders []string `json:"folders,omitempty"`
}

// DefaultSiteFilter includes every list and every folder.
func DefaultSiteFilter() SiteFilter {
	return SiteFilter{}
}

// ParseSiteFilter decodes a per-site filter from its JSON form. Malformed
// input falls back to the include-everything default rather than failing the
// site; the caller is expected to log the fallback.
func ParseSiteFilter(raw string) (SiteFilter, error) {
	if raw == "" {
		return DefaultSiteFilter(), nil
	}
	var f SiteFilter
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return DefaultSiteFilter(), err
	}
	return f, nil
}

// IncludeList reports whether a list with the given title should be crawled.
func (f SiteFilter) IncludeList(title string) bool {
	if len(f.Lists) == 0 {
		return true
	}
	for _, l := range f.Lists {
		if l.Title == title {
			return true
		}
	}
	return false
}

// IncludeFolder reports whether a folder within the given list should be
// crawled. folder is the subfolder path relative to the list root; the empty
// string means the root folder itself.
func (f SiteFilter) IncludeFolder(listTitle, folder string) bool {
	if len(f.Lists) == 0 {
		return true
	}
	for _, l := range f.Lists {
		if l.Title != listTitle {
			continue
		}
		if len(l.Folders) == 0 {
			return true
		}
		for _, allowed := range l.Folders {
			if folder == allowed {
				return true
			}
		}
		return false
	}
	return false
}
