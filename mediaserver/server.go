// Package mediaserver is the MediaServer facade: a ContentDirectory client
// plus the paging engine that hides server-dictated browse chunking.
package mediaserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/avtransport"
	"github.com/rosschurchill/upnpav/conf"
	"github.com/rosschurchill/upnpav/connectionmanager"
	"github.com/rosschurchill/upnpav/contentdirectory"
	"github.com/rosschurchill/upnpav/didl"
	"github.com/rosschurchill/upnpav/gena"
	"github.com/rosschurchill/upnpav/soap"
)

const defaultRequestSize = 32

// RootID is the well-known object id of the directory root.
const RootID = "0"

// Sort is a browse/search sort request. The zero value is the server's
// default order.
type Sort struct {
	Property   didl.Property
	Descending bool
}

func (s Sort) criteria() string {
	if s.Property == "" {
		return ""
	}
	direction := "+"
	if s.Descending {
		direction = "-"
	}
	return direction + string(s.Property)
}

// ItemsCallback receives paged results. A nil error with a nil batch is the
// end-of-stream sentinel and always the last call; a page with nothing to
// deliver arrives before it as a non-nil empty batch. An error
// short-circuits the stream with no sentinel after it.
type ItemsCallback func(items []*didl.Item, err error)

// Server is the facade over one MediaServer device.
type Server struct {
	cd  *contentdirectory.Client
	cm  *connectionmanager.Client
	avt *avtransport.Client

	mu         sync.RWMutex
	device     upnpav.Device
	connection connectionmanager.ConnectionInfo
}

// New returns an unbound MediaServer facade.
func New(soapClient *soap.Client, events *gena.Server) *Server {
	return &Server{
		cd:  contentdirectory.New(soapClient, events),
		cm:  connectionmanager.New(soapClient, events),
		avt: avtransport.New(soapClient, events),
	}
}

// SetDevice binds the facade to a MediaServer device. ContentDirectory is
// required; ConnectionManager and AVTransport are bound when advertised.
func (s *Server) SetDevice(ctx context.Context, dev upnpav.Device) error {
	if err := s.cd.SetDevice(ctx, dev); err != nil {
		return err
	}
	if dev.Implements(upnpav.ServiceConnectionManager) {
		if err := s.cm.SetDevice(ctx, dev); err != nil {
			return err
		}
	}
	if dev.Implements(upnpav.ServiceAVTransport) {
		if err := s.avt.SetDevice(ctx, dev); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.device = dev
	s.connection = connectionmanager.ConnectionInfo{ConnectionID: connectionmanager.UnknownConnectionID}
	s.mu.Unlock()
	return nil
}

// Device returns the bound device.
func (s *Server) Device() upnpav.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

// ConnectionManagerID returns this server's "UDN/serviceId" pair, used as
// the peer connection manager string by the renderer side.
func (s *Server) ConnectionManagerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device.UDN + "/" + s.cm.ServiceID()
}

// PrepareConnection asks the server to set up an outgoing connection to the
// given peer. Without PrepareForConnection support the default instance is
// used.
func (s *Server) PrepareConnection(ctx context.Context, protocolInfo didl.ProtocolInfo, peerManager string) (connectionmanager.ConnectionInfo, error) {
	device := s.Device()
	if !device.Implements(upnpav.ServiceConnectionManager) ||
		!s.cm.SupportsAction(connectionmanager.PrepareForConnection) {
		info := connectionmanager.ConnectionInfo{ConnectionID: connectionmanager.DefaultConnectionID}
		s.mu.Lock()
		s.connection = info
		s.mu.Unlock()
		return info, nil
	}
	info, err := s.cm.Prepare(ctx, protocolInfo, peerManager,
		connectionmanager.UnknownConnectionID, connectionmanager.Output)
	if err != nil {
		return connectionmanager.ConnectionInfo{}, err
	}
	s.mu.Lock()
	s.connection = info
	s.mu.Unlock()
	return info, nil
}

// ReleaseConnection completes a prepared connection and marks it unknown.
func (s *Server) ReleaseConnection(ctx context.Context) error {
	s.mu.RLock()
	id := s.connection.ConnectionID
	s.mu.RUnlock()

	var err error
	if id > connectionmanager.DefaultConnectionID && s.cm.SupportsAction(connectionmanager.ConnectionComplete) {
		err = s.cm.Complete(ctx, id)
	}
	s.mu.Lock()
	s.connection = connectionmanager.ConnectionInfo{ConnectionID: connectionmanager.UnknownConnectionID}
	s.mu.Unlock()
	return err
}

// Connection returns the current connection info.
func (s *Server) Connection() connectionmanager.ConnectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connection
}

// ContentDirectory exposes the underlying directory client.
func (s *Server) ContentDirectory() *contentdirectory.Client { return s.cd }

// ConnectionManager exposes the underlying connection-manager client.
func (s *Server) ConnectionManager() *connectionmanager.Client { return s.cm }

// HasTransport reports whether the server advertises AVTransport.
func (s *Server) HasTransport() bool {
	device := s.Device()
	return device.Implements(upnpav.ServiceAVTransport)
}

// SetTransportItem points the server's own transport at a resource, for
// servers that push rather than serve. The prepared connection's transport
// instance is used when one exists.
func (s *Server) SetTransportItem(ctx context.Context, res didl.Resource) error {
	if !s.HasTransport() {
		return fmt.Errorf("%w: %s", upnpav.ErrNoSuchService, upnpav.ServiceAVTransport)
	}
	s.mu.RLock()
	instanceID := 0
	if s.connection.ConnectionID > 0 {
		instanceID = s.connection.AVTransportID
	}
	s.mu.RUnlock()
	return s.avt.SetTransportURI(ctx, instanceID, res.URL, "")
}

// Abort cooperatively cancels pending paged operations at the next chunk
// boundary. No terminal sentinel is delivered.
func (s *Server) Abort() {
	s.cd.Abort()
}

// GetAllInContainer streams every child of the container through onItems in
// chunks of the configured request size, until the server is exhausted or
// limit items have been delivered (limit 0 means no limit).
func (s *Server) GetAllInContainer(ctx context.Context, objectID string, onItems ItemsCallback, offset, limit uint32, sort Sort) {
	s.pagedBrowse(ctx, contentdirectory.All, objectID, onItems, offset, limit, sort)
}

// GetContainersInContainer is GetAllInContainer restricted to containers.
func (s *Server) GetContainersInContainer(ctx context.Context, objectID string, onItems ItemsCallback, offset, limit uint32, sort Sort) {
	s.pagedBrowse(ctx, contentdirectory.ContainersOnly, objectID, onItems, offset, limit, sort)
}

// GetItemsInContainer is GetAllInContainer restricted to leaf items.
func (s *Server) GetItemsInContainer(ctx context.Context, objectID string, onItems ItemsCallback, offset, limit uint32, sort Sort) {
	s.pagedBrowse(ctx, contentdirectory.ItemsOnly, objectID, onItems, offset, limit, sort)
}

// GetMetadata fetches a single object's metadata.
func (s *Server) GetMetadata(ctx context.Context, objectID string) (*didl.Item, error) {
	return s.cd.BrowseMetadata(ctx, objectID, string(didl.PropertyAll))
}

func (s *Server) pagedBrowse(ctx context.Context, kind contentdirectory.BrowseType, objectID string, onItems ItemsCallback, offset, limit uint32, sort Sort) {
	if sort.Property != "" && !s.SupportsSortProperty(sort.Property) {
		onItems(nil, fmt.Errorf("%w: %s", upnpav.ErrUnsupportedSort, sort.Property))
		return
	}

	s.cd.ResetAbort()
	s.pageLoop(ctx, onItems, offset, limit, func(ctx context.Context, pageOffset, pageSize uint32) (contentdirectory.ActionResult, error) {
		return s.cd.BrowseDirectChildren(ctx, kind, objectID, string(didl.PropertyAll), pageOffset, pageSize, sort.criteria())
	})
}

// Search streams search results for the criteria map (property → value,
// combined with "and"). Each property is validated against SearchCaps.
func (s *Server) Search(ctx context.Context, containerID string, criteria map[didl.Property]string, onItems ItemsCallback, offset, limit uint32, sort Sort) {
	for property := range criteria {
		if !s.SupportsSearchProperty(property) {
			onItems(nil, fmt.Errorf("%w: %s", upnpav.ErrUnsupportedSearch, property))
			return
		}
	}
	s.SearchRaw(ctx, containerID, buildSearchCriteria(criteria), onItems, offset, limit, sort)
}

// SearchRaw streams search results for a raw criteria expression, passed to
// the server verbatim.
func (s *Server) SearchRaw(ctx context.Context, containerID, criteria string, onItems ItemsCallback, offset, limit uint32, sort Sort) {
	if sort.Property != "" && !s.SupportsSortProperty(sort.Property) {
		onItems(nil, fmt.Errorf("%w: %s", upnpav.ErrUnsupportedSort, sort.Property))
		return
	}

	s.cd.ResetAbort()
	s.pageLoop(ctx, onItems, offset, limit, func(ctx context.Context, pageOffset, pageSize uint32) (contentdirectory.ActionResult, error) {
		return s.cd.Search(ctx, containerID, criteria, string(didl.PropertyAll), pageOffset, pageSize, sort.criteria())
	})
}

type pageFetch func(ctx context.Context, offset, size uint32) (contentdirectory.ActionResult, error)

// pageLoop is the chunking engine. Pages are delivered in response order;
// the terminal empty batch signals completion; errors short-circuit without
// a sentinel, as does cancellation.
func (s *Server) pageLoop(ctx context.Context, onItems ItemsCallback, offset, limit uint32, fetch pageFetch) {
	requestSize := conf.Server.Browse.RequestSize
	if requestSize == 0 {
		requestSize = defaultRequestSize
	}

	var received uint32
	request := requestSize
	if limit > 0 && limit < request {
		request = limit
	}

	for {
		res, err := fetch(ctx, offset, request)
		if err != nil {
			if errors.Is(err, upnpav.ErrCancelled) {
				return
			}
			onItems(nil, err)
			return
		}
		if s.cd.Aborted() {
			return
		}

		// Deliver before the next fetch so consumers stream.
		onItems(res.Items, nil)
		received += res.NumberReturned

		var done bool
		if limit > 0 {
			done = res.NumberReturned == 0 || received >= limit
		} else {
			done = res.NumberReturned < request
		}
		if res.TotalMatches > 0 && received >= res.TotalMatches {
			done = true
		}
		if done {
			onItems(nil, nil)
			return
		}

		offset += res.NumberReturned
		request = requestSize
		if limit > 0 && limit-received < request {
			request = limit - received
		}
	}
}

// SupportsSortProperty reports whether the server can sort by the property.
// The wildcard capability matches every property.
func (s *Server) SupportsSortProperty(property didl.Property) bool {
	return capsContain(s.cd.SortCaps(), property)
}

// SupportsSearchProperty reports whether the server can search the property.
func (s *Server) SupportsSearchProperty(property didl.Property) bool {
	return capsContain(s.cd.SearchCaps(), property)
}

func capsContain(caps []didl.Property, property didl.Property) bool {
	for _, c := range caps {
		if c == didl.PropertyAll || c == property {
			return true
		}
	}
	return false
}

func buildSearchCriteria(criteria map[didl.Property]string) string {
	var clauses []string
	for property, value := range criteria {
		clauses = append(clauses, fmt.Sprintf(`%s contains "%s"`, property, value))
	}
	return strings.Join(clauses, " and ")
}
