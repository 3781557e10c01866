package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"smig-go/internal/smig"
)

// docLibTemplate is the list base-template identifier for document
// libraries.
const docLibTemplate = 101

// defaultPageSize is how many items one page request asks for.
const defaultPageSize = 200

// SiteSource implements smig.ContentSource against the content system's
// REST API, routing every call through the ThrottledClient.
type SiteSource struct {
	siteURL string
	client  *ThrottledClient
	logger  smig.Logger

	// Drive identifiers are resolved lazily from the first successfully
	// read item of each document library and cached per list.
	mu     sync.Mutex
	drives map[string]string // list root URL → drive ID
}

// NewSiteSource creates an adapter scoped to one site collection.
func NewSiteSource(siteURL string, client *ThrottledClient, logger smig.Logger) *SiteSource {
	return &SiteSource{
		siteURL: strings.TrimSuffix(siteURL, "/"),
		client:  client,
		logger:  logger,
		drives:  make(map[string]string),
	}
}

type webPayload struct {
	URL   string `json:"Url"`
	Title string `json:"Title"`
}

type websPayload struct {
	Value []webPayload `json:"value"`
}

// GetWebs returns the root web followed by its child webs.
func (s *SiteSource) GetWebs(ctx context.Context) ([]smig.Web, error) {
	var root webPayload
	if err := s.client.GetJSON(ctx, s.siteURL+"/_api/web", &root); err != nil {
		return nil, fmt.Errorf("fetching root web: %w", err)
	}

	var children websPayload
	if err := s.client.GetJSON(ctx, s.siteURL+"/_api/web/webs", &children); err != nil {
		return nil, fmt.Errorf("fetching child webs: %w", err)
	}

	webs := []smig.Web{{URL: root.URL, Title: root.Title}}
	for _, w := range children.Value {
		webs = append(webs, smig.Web{URL: w.URL, Title: w.Title})
	}
	return webs, nil
}

type listPayload struct {
	Title        string `json:"Title"`
	Hidden       bool   `json:"Hidden"`
	BaseTemplate int    `json:"BaseTemplate"`
	RootFolder   struct {
		ServerRelativeURL string `json:"ServerRelativeUrl"`
	} `json:"RootFolder"`
}

type listsPayload struct {
	Value []listPayload `json:"value"`
}

func (s *SiteSource) GetLists(ctx context.Context, web smig.Web) ([]smig.ListInfo, error) {
	var payload listsPayload
	u := strings.TrimSuffix(web.URL, "/") + "/_api/web/lists?$expand=RootFolder"
	if err := s.client.GetJSON(ctx, u, &payload); err != nil {
		return nil, fmt.Errorf("fetching lists for %s: %w", web.URL, err)
	}

	lists := make([]smig.ListInfo, 0, len(payload.Value))
	for _, l := range payload.Value {
		kind := smig.ListKindGeneric
		if l.BaseTemplate == docLibTemplate {
			kind = smig.ListKindDocumentLibrary
		}
		lists = append(lists, smig.ListInfo{
			Title:   l.Title,
			RootURL: l.RootFolder.ServerRelativeURL,
			Kind:    kind,
			Hidden:  l.Hidden,
		})
	}
	return lists, nil
}

type itemPayload struct {
	ID          int64  `json:"Id"`
	ContentType string `json:"ContentType"`
	Author      string `json:"AuthorName"`
	Modified    string `json:"Modified"`
	File        struct {
		ServerRelativeURL string `json:"ServerRelativeUrl"`
		Length            int64  `json:"Length"`
	} `json:"File"`
	Folder struct {
		ServerRelativeURL string `json:"ServerRelativeUrl"`
	} `json:"Folder"`
	DriveItemID string `json:"DriveItemId"`
	DriveID     string `json:"DriveId"`
	Attachments []struct {
		ServerRelativeURL string `json:"ServerRelativeUrl"`
		Length            int64  `json:"Length"`
	} `json:"AttachmentFiles"`
}

type itemsPayload struct {
	Value    []itemPayload `json:"value"`
	NextLink string        `json:"odata.nextLink"`
}

// GetListItems fetches one page of items in ascending ID order. For document
// libraries the list's drive ID is captured from the first readable item; a
// page whose items carry no drive ID yields ErrDriveUnavailable so the
// caller can abandon the page.
func (s *SiteSource) GetListItems(ctx context.Context, web smig.Web, list smig.ListInfo, pageToken string) (smig.ItemPage, error) {
	u := pageToken
	if u == "" {
		u = fmt.Sprintf("%s/_api/web/lists/getbytitle('%s')/items?$orderby=Id&$top=%d&$expand=File,Folder,AttachmentFiles",
			strings.TrimSuffix(web.URL, "/"), url.PathEscape(list.Title), defaultPageSize)
	}

	var payload itemsPayload
	if err := s.client.GetJSON(ctx, u, &payload); err != nil {
		return smig.ItemPage{}, fmt.Errorf("fetching items for %s: %w", list.Title, err)
	}

	page := smig.ItemPage{NextToken: payload.NextLink}
	for _, raw := range payload.Value {
		item, err := s.mapItem(list, raw)
		if err != nil {
			return smig.ItemPage{}, err
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func (s *SiteSource) mapItem(list smig.ListInfo, raw itemPayload) (smig.Item, error) {
	item := smig.Item{
		ID:     raw.ID,
		Author: raw.Author,
	}
	if t, err := time.Parse(time.RFC3339, raw.Modified); err == nil {
		item.Modified = t
	}

	if strings.HasPrefix(raw.ContentType, "Folder") {
		item.IsFolder = true
		item.FilePath = raw.Folder.ServerRelativeURL
		return item, nil
	}

	item.FilePath = raw.File.ServerRelativeURL
	item.Size = raw.File.Length

	switch list.Kind {
	case smig.ListKindDocumentLibrary:
		driveID, err := s.driveFor(list, raw)
		if err != nil {
			return smig.Item{}, err
		}
		item.DriveID = driveID
		item.DriveItemID = raw.DriveItemID

	case smig.ListKindGeneric:
		for _, att := range raw.Attachments {
			item.Attachments = append(item.Attachments, smig.Attachment{
				FilePath: att.ServerRelativeURL,
				Size:     att.Length,
			})
		}
	}
	return item, nil
}

// driveFor returns the cached drive ID for a document library, capturing it
// from the first item that carries one. When no item has exposed a drive ID
// yet the page cannot be mapped and ErrDriveUnavailable is returned.
func (s *SiteSource) driveFor(list smig.ListInfo, raw itemPayload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.drives[list.RootURL]; ok {
		return id, nil
	}
	if raw.DriveID == "" {
		return "", fmt.Errorf("list %s item %d: %w", list.Title, raw.ID, smig.ErrDriveUnavailable)
	}
	s.drives[list.RootURL] = raw.DriveID
	return raw.DriveID, nil
}

type analyticsPayload struct {
	Access struct {
		ActionCount int64 `json:"actionCount"`
	} `json:"access"`
}

func (s *SiteSource) GetItemAnalytics(ctx context.Context, driveID, itemID string) (int64, error) {
	var payload analyticsPayload
	u := fmt.Sprintf("%s/_api/v2.0/drives/%s/items/%s/analytics/allTime", s.siteURL, driveID, itemID)
	if err := s.client.GetJSON(ctx, u, &payload); err != nil {
		return 0, fmt.Errorf("fetching analytics for item %s: %w", itemID, err)
	}
	return payload.Access.ActionCount, nil
}

type versionsPayload struct {
	Value []struct {
		Size int64 `json:"Size"`
	} `json:"value"`
}

func (s *SiteSource) GetFileVersions(ctx context.Context, fullURL string) (int64, int64, error) {
	serverRelative, err := serverRelativePath(fullURL)
	if err != nil {
		return 0, 0, err
	}

	var payload versionsPayload
	u := fmt.Sprintf("%s/_api/web/GetFileByServerRelativeUrl('%s')/versions", s.siteURL, url.PathEscape(serverRelative))
	if err := s.client.GetJSON(ctx, u, &payload); err != nil {
		return 0, 0, fmt.Errorf("fetching versions for %s: %w", fullURL, err)
	}

	var total int64
	for _, v := range payload.Value {
		total += v.Size
	}
	return int64(len(payload.Value)), total, nil
}

func (s *SiteSource) Download(ctx context.Context, fullURL string) (io.ReadCloser, error) {
	serverRelative, err := serverRelativePath(fullURL)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/_api/web/GetFileByServerRelativeUrl('%s')/$value", s.siteURL, url.PathEscape(serverRelative))
	body, err := s.client.GetStream(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", fullURL, err)
	}
	return body, nil
}

func serverRelativePath(fullURL string) (string, error) {
	u, err := url.Parse(fullURL)
	if err != nil || u.Path == "" {
		return "", fmt.Errorf("deriving server-relative path from %q", fullURL)
	}
	return u.Path, nil
}
