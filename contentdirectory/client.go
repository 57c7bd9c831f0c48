package contentdirectory

import (
	"context"
	"encoding/xml"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/client"
	"github.com/rosschurchill/upnpav/didl"
	"github.com/rosschurchill/upnpav/gena"
	"github.com/rosschurchill/upnpav/log"
	"github.com/rosschurchill/upnpav/soap"
)

const (
	browseMetadata       = "BrowseMetadata"
	browseDirectChildren = "BrowseDirectChildren"
)

// Client drives one MediaServer's ContentDirectory service. Search and sort
// capabilities are queried when the device is bound.
type Client struct {
	*client.Base[Action, Variable]

	mu         sync.RWMutex
	searchCaps []didl.Property
	sortCaps   []didl.Property

	aborted atomic.Bool
}

// New returns an unbound ContentDirectory client.
func New(soapClient *soap.Client, events *gena.Server) *Client {
	c := &Client{}
	c.Base = client.NewBase(client.Traits[Action, Variable]{
		Kind:          upnpav.ServiceContentDirectory,
		ActionNames:   actionNames,
		VariableNames: variableNames,
		MapError:      mapError,
	}, soapClient, events)
	return c
}

// SetDevice binds the client and caches the server's search and sort
// capabilities. A failed capability query leaves the cap empty, it does not
// fail the bind.
func (c *Client) SetDevice(ctx context.Context, dev upnpav.Device) error {
	if err := c.Base.SetDevice(ctx, dev); err != nil {
		return err
	}

	searchCaps, err := c.QuerySearchCapabilities(ctx)
	if err != nil {
		log.Warn(ctx, "Failed to query search capabilities", "device", dev.FriendlyName, err)
		searchCaps = nil
	}
	sortCaps, err := c.QuerySortCapabilities(ctx)
	if err != nil {
		log.Warn(ctx, "Failed to query sort capabilities", "device", dev.FriendlyName, err)
		sortCaps = nil
	}

	c.mu.Lock()
	c.searchCaps = searchCaps
	c.sortCaps = sortCaps
	c.mu.Unlock()
	return nil
}

// SearchCaps returns the cached search capabilities.
func (c *Client) SearchCaps() []didl.Property {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]didl.Property{}, c.searchCaps...)
}

// SortCaps returns the cached sort capabilities.
func (c *Client) SortCaps() []didl.Property {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]didl.Property{}, c.sortCaps...)
}

// Abort requests cooperative cancellation: pending paged work stops at the
// next chunk boundary.
func (c *Client) Abort() {
	c.aborted.Store(true)
}

// ResetAbort clears the cancellation flag; called when a new paged operation
// starts.
func (c *Client) ResetAbort() {
	c.aborted.Store(false)
}

// Aborted reports whether Abort was invoked.
func (c *Client) Aborted() bool {
	return c.aborted.Load()
}

type capabilityResponse struct {
	SearchCaps string `xml:"SearchCaps"`
	SortCaps   string `xml:"SortCaps"`
}

// QuerySearchCapabilities fetches and parses SearchCaps. An empty list means
// the server supports no search properties; "*" is the explicit wildcard.
func (c *Client) QuerySearchCapabilities(ctx context.Context) ([]didl.Property, error) {
	body, err := c.ExecuteAction(ctx, GetSearchCapabilities)
	if err != nil {
		return nil, err
	}
	var resp capabilityResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, &upnpav.ParseError{Element: "GetSearchCapabilitiesResponse", Detail: err.Error()}
	}
	return parseCapabilities(resp.SearchCaps), nil
}

// QuerySortCapabilities fetches and parses SortCaps.
func (c *Client) QuerySortCapabilities(ctx context.Context) ([]didl.Property, error) {
	body, err := c.ExecuteAction(ctx, GetSortCapabilities)
	if err != nil {
		return nil, err
	}
	var resp capabilityResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, &upnpav.ParseError{Element: "GetSortCapabilitiesResponse", Detail: err.Error()}
	}
	return parseCapabilities(resp.SortCaps), nil
}

func parseCapabilities(caps string) []didl.Property {
	var properties []didl.Property
	for _, token := range strings.Split(caps, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		property, ok := didl.PropertyFromString(token)
		if !ok {
			log.Debug("Skipping unknown capability property", "property", token)
			continue
		}
		properties = append(properties, property)
	}
	return properties
}

type systemUpdateIDResponse struct {
	XMLName xml.Name `xml:"GetSystemUpdateIDResponse"`
	ID      uint32   `xml:"Id"`
}

// GetSystemUpdateID reads the server's current update generation.
func (c *Client) GetSystemUpdateID(ctx context.Context) (uint32, error) {
	body, err := c.ExecuteAction(ctx, GetSystemUpdateID)
	if err != nil {
		return 0, err
	}
	var resp systemUpdateIDResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return 0, &upnpav.ParseError{Element: "GetSystemUpdateIDResponse", Detail: err.Error()}
	}
	return resp.ID, nil
}

type browseResponse struct {
	Result         string `xml:"Result"`
	NumberReturned uint32 `xml:"NumberReturned"`
	TotalMatches   uint32 `xml:"TotalMatches"`
	UpdateID       uint32 `xml:"UpdateID"`
}

// BrowseMetadata fetches the metadata of a single object.
func (c *Client) BrowseMetadata(ctx context.Context, objectID, filter string) (*didl.Item, error) {
	body, err := c.ExecuteAction(ctx, Browse,
		soap.Argument{Name: "ObjectID", Value: objectID},
		soap.Argument{Name: "BrowseFlag", Value: browseMetadata},
		soap.Argument{Name: "Filter", Value: filter},
		soap.Argument{Name: "StartingIndex", Value: "0"},
		soap.Argument{Name: "RequestedCount", Value: "0"},
		soap.Argument{Name: "SortCriteria", Value: ""},
	)
	if err != nil {
		return nil, err
	}
	var resp browseResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, &upnpav.ParseError{Element: "BrowseResponse", Detail: err.Error()}
	}
	return didl.ParseMetadata([]byte(resp.Result))
}

// BrowseDirectChildren issues one Browse call for a page of children. The
// result is filtered to the requested kind client-side; paging across chunks
// is the media-server facade's job.
func (c *Client) BrowseDirectChildren(ctx context.Context, kind BrowseType, objectID, filter string, startIndex, limit uint32, sort string) (ActionResult, error) {
	if c.Aborted() {
		return ActionResult{}, upnpav.ErrCancelled
	}
	body, err := c.ExecuteAction(ctx, Browse,
		soap.Argument{Name: "ObjectID", Value: objectID},
		soap.Argument{Name: "BrowseFlag", Value: browseDirectChildren},
		soap.Argument{Name: "Filter", Value: filter},
		soap.Argument{Name: "StartingIndex", Value: strconv.FormatUint(uint64(startIndex), 10)},
		soap.Argument{Name: "RequestedCount", Value: strconv.FormatUint(uint64(limit), 10)},
		soap.Argument{Name: "SortCriteria", Value: sort},
	)
	if err != nil {
		return ActionResult{}, err
	}
	return c.parseActionResult(body, kind)
}

// Search issues one Search call for a page of results.
func (c *Client) Search(ctx context.Context, containerID, criteria, filter string, startIndex, limit uint32, sort string) (ActionResult, error) {
	if c.Aborted() {
		return ActionResult{}, upnpav.ErrCancelled
	}
	body, err := c.ExecuteAction(ctx, Search,
		soap.Argument{Name: "ContainerID", Value: containerID},
		soap.Argument{Name: "SearchCriteria", Value: criteria},
		soap.Argument{Name: "Filter", Value: filter},
		soap.Argument{Name: "StartingIndex", Value: strconv.FormatUint(uint64(startIndex), 10)},
		soap.Argument{Name: "RequestedCount", Value: strconv.FormatUint(uint64(limit), 10)},
		soap.Argument{Name: "SortCriteria", Value: sort},
	)
	if err != nil {
		return ActionResult{}, err
	}
	return c.parseActionResult(body, All)
}

// parseActionResult unwraps the double-encoded Result document: the SOAP
// response carries NumberReturned/TotalMatches/UpdateID plus a DIDL-Lite
// document as text, parsed in a second pass. Containers come first, items
// after, in document order. NumberReturned is the server's raw page size:
// paging advances offsets by it, so the kind filter only thins Items and
// never skips objects.
func (c *Client) parseActionResult(body []byte, kind BrowseType) (ActionResult, error) {
	var resp browseResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return ActionResult{}, &upnpav.ParseError{Element: "BrowseResponse", Detail: err.Error()}
	}

	items, err := didl.ParseDocument([]byte(resp.Result))
	if err != nil {
		return ActionResult{}, err
	}

	filtered := items[:0]
	for _, item := range items {
		switch kind {
		case ContainersOnly:
			if !item.IsContainer() {
				continue
			}
		case ItemsOnly:
			if item.IsContainer() {
				continue
			}
		}
		filtered = append(filtered, item)
	}

	result := ActionResult{
		NumberReturned: resp.NumberReturned,
		TotalMatches:   resp.TotalMatches,
		UpdateID:       resp.UpdateID,
		Items:          filtered,
	}
	return result, nil
}
