// Package mediarenderer is the MediaRenderer facade: RenderingControl,
// ConnectionManager and (when advertised) AVTransport composed behind one
// playback-control surface, with the playback state derived from the
// transport's LastChange stream.
package mediarenderer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/avtransport"
	"github.com/rosschurchill/upnpav/connectionmanager"
	"github.com/rosschurchill/upnpav/didl"
	"github.com/rosschurchill/upnpav/gena"
	"github.com/rosschurchill/upnpav/log"
	"github.com/rosschurchill/upnpav/renderingcontrol"
	"github.com/rosschurchill/upnpav/soap"
)

// PlaybackState is the renderer's coarse transport state.
type PlaybackState int

const (
	Stopped PlaybackState = iota
	Playing
	Transitioning
	Paused
	Recording
)

func (s PlaybackState) String() string {
	switch s {
	case Playing:
		return "playing"
	case Transitioning:
		return "transitioning"
	case Paused:
		return "paused"
	case Recording:
		return "recording"
	}
	return "stopped"
}

func stateFromTransport(state avtransport.State) PlaybackState {
	switch state {
	case avtransport.StatePlaying:
		return Playing
	case avtransport.StateTransitioning:
		return Transitioning
	case avtransport.StatePausedPlayback, avtransport.StatePausedRecording:
		return Paused
	case avtransport.StateRecording:
		return Recording
	default:
		return Stopped
	}
}

// Renderer is the facade over one MediaRenderer device.
type Renderer struct {
	rc  *renderingcontrol.Client
	cm  *connectionmanager.Client
	avt *avtransport.Client

	mu               sync.RWMutex
	device           upnpav.Device
	sinks            []didl.ProtocolInfo
	state            PlaybackState
	trackURI         string
	trackMetadata    string
	trackDuration    time.Duration
	availableActions []avtransport.Action
	connection       connectionmanager.ConnectionInfo

	onStateChanged   []func(PlaybackState)
	onTrackChanged   []func(uri string)
	onActionsChanged []func([]avtransport.Action)
}

// New returns an unbound renderer facade.
func New(soapClient *soap.Client, events *gena.Server) *Renderer {
	r := &Renderer{
		rc:  renderingcontrol.New(soapClient, events),
		cm:  connectionmanager.New(soapClient, events),
		avt: avtransport.New(soapClient, events),
	}
	r.connection.ConnectionID = connectionmanager.UnknownConnectionID
	r.avt.OnEvent(r.handleTransportEvent)
	return r
}

// SetDevice binds the facade. RenderingControl and ConnectionManager are
// required on a MediaRenderer; AVTransport is bound when advertised. The
// sink protocol-info list is cached for playback-capability checks.
func (r *Renderer) SetDevice(ctx context.Context, dev upnpav.Device) error {
	if err := r.rc.SetDevice(ctx, dev); err != nil {
		return err
	}
	if err := r.cm.SetDevice(ctx, dev); err != nil {
		return err
	}
	if dev.Implements(upnpav.ServiceAVTransport) {
		if err := r.avt.SetDevice(ctx, dev); err != nil {
			return err
		}
	}

	_, sinks, err := r.cm.GetProtocolInfo(ctx)
	if err != nil {
		log.Warn(ctx, "Failed to read sink protocol info", "device", dev.FriendlyName, err)
		sinks = nil
	}

	r.mu.Lock()
	r.device = dev
	r.sinks = sinks
	r.connection = connectionmanager.ConnectionInfo{ConnectionID: connectionmanager.UnknownConnectionID}
	r.mu.Unlock()
	return nil
}

// Device returns the bound device.
func (r *Renderer) Device() upnpav.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.device
}

// RenderingControl exposes the underlying rendering-control client.
func (r *Renderer) RenderingControl() *renderingcontrol.Client { return r.rc }

// ConnectionManager exposes the underlying connection-manager client.
func (r *Renderer) ConnectionManager() *connectionmanager.Client { return r.cm }

// Transport exposes the underlying AVTransport client.
func (r *Renderer) Transport() *avtransport.Client { return r.avt }

// HasTransport reports whether the renderer advertises AVTransport.
func (r *Renderer) HasTransport() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.device.Implements(upnpav.ServiceAVTransport)
}

// ConnectionManagerID returns this renderer's "UDN/serviceId" pair, used as
// the peer connection manager string by the other endpoint.
func (r *Renderer) ConnectionManagerID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.device.UDN + "/" + r.cm.ServiceID()
}

// SubscribeToEvents subscribes to the transport's LastChange stream (and
// RenderingControl's, for volume tracking).
func (r *Renderer) SubscribeToEvents(ctx context.Context) error {
	if r.HasTransport() {
		if err := r.avt.Subscribe(ctx); err != nil {
			return err
		}
	}
	return r.rc.Subscribe(ctx)
}

// UnsubscribeFromEvents tears both subscriptions down.
func (r *Renderer) UnsubscribeFromEvents(ctx context.Context) error {
	var firstErr error
	if r.HasTransport() {
		firstErr = r.avt.Unsubscribe(ctx)
	}
	if err := r.rc.Unsubscribe(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// OnStateChanged registers a handler for playback-state transitions.
func (r *Renderer) OnStateChanged(fn func(PlaybackState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStateChanged = append(r.onStateChanged, fn)
}

// OnTrackChanged registers a handler for current-track URI changes.
func (r *Renderer) OnTrackChanged(fn func(uri string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTrackChanged = append(r.onTrackChanged, fn)
}

// OnAvailableActionsChanged registers a handler for transport-action-set
// changes.
func (r *Renderer) OnAvailableActionsChanged(fn func([]avtransport.Action)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onActionsChanged = append(r.onActionsChanged, fn)
}

// handleTransportEvent folds one LastChange event into the cached playback
// view. Transitions are driven solely by TransportState; the track fields
// update their own caches and fire their own signals.
func (r *Renderer) handleTransportEvent(variables map[avtransport.Variable]string) {
	var stateHandlers []func(PlaybackState)
	var trackHandlers []func(string)
	var actionHandlers []func([]avtransport.Action)
	var newState PlaybackState
	var newURI string
	var newActions []avtransport.Action

	r.mu.Lock()
	if value, ok := variables[avtransport.TransportState]; ok {
		state := stateFromTransport(avtransport.State(value))
		if state != r.state {
			r.state = state
			newState = state
			stateHandlers = append(stateHandlers, r.onStateChanged...)
		}
	}
	if value, ok := variables[avtransport.CurrentTrackURI]; ok {
		if value != r.trackURI {
			r.trackURI = value
			newURI = value
			trackHandlers = append(trackHandlers, r.onTrackChanged...)
		}
	}
	if value, ok := variables[avtransport.CurrentTrackMetaData]; ok {
		r.trackMetadata = value
	}
	if value, ok := variables[avtransport.CurrentTrackDuration]; ok {
		if d, err := didl.ParseDuration(value); err == nil {
			r.trackDuration = d
		}
	}
	if value, ok := variables[avtransport.CurrentTransportActions]; ok {
		r.availableActions = avtransport.ParseTransportActions(value)
		newActions = r.availableActions
		actionHandlers = append(actionHandlers, r.onActionsChanged...)
	}
	r.mu.Unlock()

	for _, fn := range stateHandlers {
		fn(newState)
	}
	for _, fn := range trackHandlers {
		fn(newURI)
	}
	for _, fn := range actionHandlers {
		fn(newActions)
	}
}

// State returns the last derived playback state.
func (r *Renderer) State() PlaybackState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// CurrentTrackURI returns the last evented track URI.
func (r *Renderer) CurrentTrackURI() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trackURI
}

// CurrentTrackMetadata returns the last evented track metadata document.
func (r *Renderer) CurrentTrackMetadata() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trackMetadata
}

// CurrentTrackDuration returns the last evented track duration.
func (r *Renderer) CurrentTrackDuration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trackDuration
}

// AvailableActions returns the last evented transport-action set.
func (r *Renderer) AvailableActions() []avtransport.Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]avtransport.Action{}, r.availableActions...)
}

// SupportsPlayback reports whether some resource of the item is compatible
// with some sink of this renderer, returning the first compatible resource.
func (r *Renderer) SupportsPlayback(item *didl.Item) (didl.Resource, bool) {
	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()

	for _, res := range item.Resources {
		for _, sink := range sinks {
			if res.ProtocolInfo.IsCompatibleWith(sink) {
				return res, true
			}
		}
	}
	return didl.Resource{}, false
}

// PrepareConnection sets the renderer up to receive from the given peer. If
// the renderer supports PrepareForConnection the returned instance ids route
// subsequent transport and rendering calls; otherwise the default instance
// is used.
func (r *Renderer) PrepareConnection(ctx context.Context, protocolInfo didl.ProtocolInfo, peerManager string, peerConnectionID int) error {
	if !r.cm.SupportsAction(connectionmanager.PrepareForConnection) {
		r.UseDefaultConnection()
		return nil
	}
	info, err := r.cm.Prepare(ctx, protocolInfo, peerManager, peerConnectionID, connectionmanager.Input)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.connection = info
	r.mu.Unlock()
	return nil
}

// ReleaseConnection completes a prepared connection and marks it unknown.
func (r *Renderer) ReleaseConnection(ctx context.Context) error {
	r.mu.RLock()
	id := r.connection.ConnectionID
	r.mu.RUnlock()

	var err error
	if id > connectionmanager.DefaultConnectionID && r.cm.SupportsAction(connectionmanager.ConnectionComplete) {
		err = r.cm.Complete(ctx, id)
	}
	r.ResetConnection()
	return err
}

// ResetConnection marks the connection id unknown.
func (r *Renderer) ResetConnection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connection = connectionmanager.ConnectionInfo{ConnectionID: connectionmanager.UnknownConnectionID}
}

// UseDefaultConnection routes calls via the default instance.
func (r *Renderer) UseDefaultConnection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connection = connectionmanager.ConnectionInfo{ConnectionID: connectionmanager.DefaultConnectionID}
}

// Connection returns the current connection info.
func (r *Renderer) Connection() connectionmanager.ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connection
}

func (r *Renderer) transportInstance() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.connection.ConnectionID > 0 {
		return r.connection.AVTransportID
	}
	return 0
}

func (r *Renderer) renderingInstance() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.connection.ConnectionID > 0 {
		return r.connection.RenderingControlID
	}
	return 0
}

func (r *Renderer) requireTransport() error {
	if !r.HasTransport() {
		return fmt.Errorf("%w: %s", upnpav.ErrNoSuchService, upnpav.ServiceAVTransport)
	}
	return nil
}

// SetTransportItem points the transport at the resource with generated
// DIDL metadata.
func (r *Renderer) SetTransportItem(ctx context.Context, item *didl.Item, res didl.Resource) error {
	if err := r.requireTransport(); err != nil {
		return err
	}
	metadata := ""
	if item != nil {
		if doc, err := didl.ToDocument(item); err == nil {
			metadata = doc
		}
	}
	return r.avt.SetTransportURI(ctx, r.transportInstance(), res.URL, metadata)
}

// SetNextTransportItem queues the resource as the next transport URI.
func (r *Renderer) SetNextTransportItem(ctx context.Context, item *didl.Item, res didl.Resource) error {
	if err := r.requireTransport(); err != nil {
		return err
	}
	metadata := ""
	if item != nil {
		if doc, err := didl.ToDocument(item); err == nil {
			metadata = doc
		}
	}
	return r.avt.SetNextTransportURI(ctx, r.transportInstance(), res.URL, metadata)
}

// Play starts playback at normal speed.
func (r *Renderer) Play(ctx context.Context) error {
	if err := r.requireTransport(); err != nil {
		return err
	}
	return r.avt.Play(ctx, r.transportInstance(), "1")
}

// Pause pauses playback.
func (r *Renderer) Pause(ctx context.Context) error {
	if err := r.requireTransport(); err != nil {
		return err
	}
	return r.avt.Pause(ctx, r.transportInstance())
}

// Stop stops playback.
func (r *Renderer) Stop(ctx context.Context) error {
	if err := r.requireTransport(); err != nil {
		return err
	}
	return r.avt.Stop(ctx, r.transportInstance())
}

// Next skips to the next track.
func (r *Renderer) Next(ctx context.Context) error {
	if err := r.requireTransport(); err != nil {
		return err
	}
	return r.avt.Next(ctx, r.transportInstance())
}

// Previous goes back a track.
func (r *Renderer) Previous(ctx context.Context) error {
	if err := r.requireTransport(); err != nil {
		return err
	}
	return r.avt.Previous(ctx, r.transportInstance())
}

// Seek passes the raw target through in the given mode.
func (r *Renderer) Seek(ctx context.Context, mode avtransport.SeekMode, target string) error {
	if err := r.requireTransport(); err != nil {
		return err
	}
	return r.avt.Seek(ctx, r.transportInstance(), mode, target)
}

// GetVolume reads the volume via RenderingControl.
func (r *Renderer) GetVolume(ctx context.Context) (int, error) {
	return r.rc.GetVolume(ctx, r.renderingInstance())
}

// SetVolume writes the volume, clamped to the device's range.
func (r *Renderer) SetVolume(ctx context.Context, volume int) error {
	return r.rc.SetVolume(ctx, r.renderingInstance(), volume)
}

// VolumeUp raises the volume by one step.
func (r *Renderer) VolumeUp(ctx context.Context) error {
	return r.adjustVolume(ctx, 1)
}

// VolumeDown lowers the volume by one step.
func (r *Renderer) VolumeDown(ctx context.Context) error {
	return r.adjustVolume(ctx, -1)
}

func (r *Renderer) adjustVolume(ctx context.Context, direction int) error {
	volume, err := r.rc.GetVolume(ctx, r.renderingInstance())
	if err != nil {
		return err
	}
	step := r.rc.VolumeRange().Step
	if step == 0 {
		step = 1
	}
	return r.rc.SetVolume(ctx, r.renderingInstance(), volume+direction*step)
}
