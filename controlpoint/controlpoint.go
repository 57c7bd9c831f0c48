// Package controlpoint drives one renderer on behalf of the application,
// sourcing items from MediaServers and materialising multi-item playback as
// hosted M3U playlists.
package controlpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/connectionmanager"
	"github.com/rosschurchill/upnpav/didl"
	"github.com/rosschurchill/upnpav/gena"
	"github.com/rosschurchill/upnpav/log"
	"github.com/rosschurchill/upnpav/mediarenderer"
	"github.com/rosschurchill/upnpav/mediaserver"
	"github.com/rosschurchill/upnpav/model/id"
	"github.com/rosschurchill/upnpav/soap"
)

var (
	// ErrPlaybackNotSupported is returned when no resource of an item is
	// compatible with the active renderer.
	ErrPlaybackNotSupported = errors.New("item not supported by renderer")

	// ErrEmptyPlaylist is returned when a playlist operation gets no items.
	ErrEmptyPlaylist = errors.New("no items to play")

	// ErrNoRenderer is returned when no renderer device has been activated.
	ErrNoRenderer = errors.New("no active renderer")

	// ErrNoWebserver is returned when playlist playback needs a webserver
	// and none is configured.
	ErrNoWebserver = errors.New("no webserver configured")
)

// playlistProtocolInfo is the fixed protocol info of generated playlists.
var playlistProtocolInfo = didl.ProtocolInfo{
	Protocol:       "http-get",
	Network:        "*",
	ContentFormat:  "audio/m3u",
	AdditionalInfo: "*",
}

// ControlPoint is the application-facing facade: it owns the active renderer
// and orchestrates connections and playlist materialisation.
type ControlPoint struct {
	soap     *soap.Client
	events   *gena.Server
	renderer *mediarenderer.Renderer
	web      *Webserver
	now      func() time.Time
}

// New returns a control point using the given collaborators.
func New(soapClient *soap.Client, events *gena.Server) *ControlPoint {
	return &ControlPoint{
		soap:   soapClient,
		events: events,
		now:    time.Now,
	}
}

// SetWebserver configures the playlist host.
func (cp *ControlPoint) SetWebserver(w *Webserver) {
	cp.web = w
}

// SetRendererDevice activates a renderer device, binding a fresh facade and
// subscribing to its event streams.
func (cp *ControlPoint) SetRendererDevice(ctx context.Context, dev upnpav.Device) error {
	renderer := mediarenderer.New(cp.soap, cp.events)
	if err := renderer.SetDevice(ctx, dev); err != nil {
		return err
	}
	if err := renderer.SubscribeToEvents(ctx); err != nil {
		log.Warn(ctx, "Renderer eventing unavailable", "device", dev.FriendlyName, err)
	}

	if cp.renderer != nil {
		if err := cp.renderer.UnsubscribeFromEvents(ctx); err != nil {
			log.Debug(ctx, "Failed to unsubscribe previous renderer", err)
		}
	}
	cp.renderer = renderer
	log.Info(ctx, "Renderer activated", "device", dev.FriendlyName)
	return nil
}

// Renderer returns the active renderer facade.
func (cp *ControlPoint) Renderer() *mediarenderer.Renderer {
	return cp.renderer
}

// PlayItem plays one item from the server on the active renderer.
func (cp *ControlPoint) PlayItem(ctx context.Context, server *mediaserver.Server, item *didl.Item) error {
	if cp.renderer == nil {
		return ErrNoRenderer
	}
	res, ok := cp.renderer.SupportsPlayback(item)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlaybackNotSupported, item.Title)
	}

	// Best effort: some renderers refuse SetAVTransportURI mid-playback.
	if cp.renderer.State() != mediarenderer.Stopped {
		if err := cp.renderer.Stop(ctx); err != nil {
			log.Debug(ctx, "Ignoring stop failure before play", err)
		}
	}

	if err := cp.prepareConnection(ctx, server, res.ProtocolInfo); err != nil {
		return err
	}

	if server != nil && server.HasTransport() {
		if err := server.SetTransportItem(ctx, res); err != nil {
			return err
		}
	}
	if err := cp.renderer.SetTransportItem(ctx, item, res); err != nil {
		return err
	}
	return cp.renderer.Play(ctx)
}

// PlayItemsAsPlaylist materialises the items as one M3U playlist hosted on
// the webserver and plays it as a single synthetic item. An empty item list
// is an error. A single item plays directly.
func (cp *ControlPoint) PlayItemsAsPlaylist(ctx context.Context, server *mediaserver.Server, items []*didl.Item) error {
	playlistItem, err := cp.materialisePlaylist(ctx, server, items)
	if err != nil {
		return err
	}
	if playlistItem == nil {
		// Exactly one item: no playlist needed.
		return cp.PlayItem(ctx, server, items[0])
	}
	return cp.PlayItem(ctx, server, playlistItem)
}

// QueueItemsAsPlaylist is PlayItemsAsPlaylist's gapless sibling: the
// playlist becomes the renderer's next transport item instead of playing
// immediately.
func (cp *ControlPoint) QueueItemsAsPlaylist(ctx context.Context, server *mediaserver.Server, items []*didl.Item) error {
	if cp.renderer == nil {
		return ErrNoRenderer
	}
	playlistItem, err := cp.materialisePlaylist(ctx, server, items)
	if err != nil {
		return err
	}
	target := playlistItem
	if target == nil {
		target = items[0]
	}
	res, ok := cp.renderer.SupportsPlayback(target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlaybackNotSupported, target.Title)
	}
	return cp.renderer.SetNextTransportItem(ctx, target, res)
}

// materialisePlaylist builds and hosts the M3U for the items, returning the
// synthetic playlist item. Returns (nil, nil) when exactly one item was
// given and no playlist is needed.
func (cp *ControlPoint) materialisePlaylist(ctx context.Context, server *mediaserver.Server, items []*didl.Item) (*didl.Item, error) {
	if cp.renderer == nil {
		return nil, ErrNoRenderer
	}
	if len(items) == 0 {
		return nil, ErrEmptyPlaylist
	}
	if len(items) == 1 {
		return nil, nil
	}
	if cp.web == nil {
		return nil, ErrNoWebserver
	}

	body, err := cp.generateM3U(items)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("playlist-%d-%s.m3u", cp.now().UnixNano(), id.NewRandom()[:6])
	url := cp.web.AddFile(name, "audio/m3u", []byte(body))
	log.Debug(ctx, "Hosted playlist", "name", name, "items", len(items))

	// The synthetic item carries exactly one resource and no metadata
	// beyond the MIME; renderers refuse unrecognised fields.
	playlistItem := didl.NewItem()
	playlistItem.ID = name
	playlistItem.ParentID = "-1"
	playlistItem.Title = name
	playlistItem.Class = didl.ClassAudioItem
	playlistItem.Restricted = true
	playlistItem.Resources = []didl.Resource{{
		URL:          url,
		ProtocolInfo: playlistProtocolInfo,
	}}
	return playlistItem, nil
}

// generateM3U renders an extended M3U body from each item's first
// renderer-compatible resource. Items with no compatible resource are
// collected into one aggregate error when nothing is playable.
func (cp *ControlPoint) generateM3U(items []*didl.Item) (string, error) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")

	var errs *multierror.Error
	written := 0
	for _, item := range items {
		res, ok := cp.renderer.SupportsPlayback(item)
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("%w: %s", ErrPlaybackNotSupported, item.Title))
			continue
		}
		seconds := int(res.Duration.Seconds())
		if seconds == 0 {
			seconds = -1
		}
		fmt.Fprintf(&b, "#EXTINF:%d,%s\n%s\n", seconds, item.Title, res.URL)
		written++
	}
	if written == 0 {
		return "", errs.ErrorOrNil()
	}
	return b.String(), nil
}

// prepareConnection sets both endpoints up per their capabilities: when both
// connection managers implement PrepareForConnection the server side is
// prepared first (Output), then the renderer (Input) with the server's
// connection id; otherwise the renderer falls back to the default instance.
func (cp *ControlPoint) prepareConnection(ctx context.Context, server *mediaserver.Server, protocolInfo didl.ProtocolInfo) error {
	rendererCM := cp.renderer.ConnectionManager()

	bothPrepare := false
	if server != nil {
		device := server.Device()
		bothPrepare = device.Implements(upnpav.ServiceConnectionManager) &&
			server.ConnectionManager().SupportsAction(connectionmanager.PrepareForConnection) &&
			rendererCM.SupportsAction(connectionmanager.PrepareForConnection)
	}

	if !bothPrepare {
		cp.renderer.UseDefaultConnection()
		return nil
	}

	serverInfo, err := server.PrepareConnection(ctx, protocolInfo, cp.renderer.ConnectionManagerID())
	if err != nil {
		return err
	}
	return cp.renderer.PrepareConnection(ctx, protocolInfo, server.ConnectionManagerID(), serverInfo.ConnectionID)
}

// Stop stops the active renderer.
func (cp *ControlPoint) Stop(ctx context.Context) error {
	if cp.renderer == nil {
		return ErrNoRenderer
	}
	return cp.renderer.Stop(ctx)
}

// Pause pauses the active renderer.
func (cp *ControlPoint) Pause(ctx context.Context) error {
	if cp.renderer == nil {
		return ErrNoRenderer
	}
	return cp.renderer.Pause(ctx)
}

// Resume restarts playback on the active renderer.
func (cp *ControlPoint) Resume(ctx context.Context) error {
	if cp.renderer == nil {
		return ErrNoRenderer
	}
	return cp.renderer.Play(ctx)
}

// VolumeUp raises the renderer volume by one step.
func (cp *ControlPoint) VolumeUp(ctx context.Context) error {
	if cp.renderer == nil {
		return ErrNoRenderer
	}
	return cp.renderer.VolumeUp(ctx)
}

// VolumeDown lowers the renderer volume by one step.
func (cp *ControlPoint) VolumeDown(ctx context.Context) error {
	if cp.renderer == nil {
		return ErrNoRenderer
	}
	return cp.renderer.VolumeDown(ctx)
}
