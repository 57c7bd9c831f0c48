// Package renderingcontrol is the typed client for the RenderingControl:1
// service. Volume writes are clamped to the range advertised in the SCPD.
package renderingcontrol

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/client"
	"github.com/rosschurchill/upnpav/gena"
	"github.com/rosschurchill/upnpav/soap"
)

// Action is the closed set of RenderingControl:1 actions.
type Action int

const (
	ListPresets Action = iota
	SelectPreset
	GetVolume
	SetVolume
	GetMute
	SetMute
)

var actionNames = map[Action]string{
	ListPresets:  "ListPresets",
	SelectPreset: "SelectPreset",
	GetVolume:    "GetVolume",
	SetVolume:    "SetVolume",
	GetMute:      "GetMute",
	SetMute:      "SetMute",
}

// ActionFromString maps a wire name back to its Action.
func ActionFromString(name string) (Action, bool) {
	for action, n := range actionNames {
		if n == name {
			return action, true
		}
	}
	return 0, false
}

// Variable is the closed set of evented RenderingControl state variables.
type Variable int

const (
	PresetNameList Variable = iota
	Mute
	Volume
)

var variableNames = map[Variable]string{
	PresetNameList: "PresetNameList",
	Mute:           "Mute",
	Volume:         "Volume",
}

// MasterChannel is the default audio channel.
const MasterChannel = "Master"

// ErrInvalidInstanceID maps RenderingControl error 702.
var ErrInvalidInstanceID = errors.New("invalid RenderingControl instance id")

func mapError(upnpErr *upnpav.UPnPError) error {
	if upnpErr.Code == 702 {
		return fmt.Errorf("%w: %w", ErrInvalidInstanceID, upnpErr)
	}
	return upnpErr
}

const (
	defaultMinVolume = 0
	defaultMaxVolume = 100
)

// Client drives one device's RenderingControl service. It caches the Volume
// range from the SCPD and the last evented volume.
type Client struct {
	*client.Base[Action, Variable]

	mu          sync.RWMutex
	volumeRange client.ValueRange
	lastVolume  int
	hasVolume   bool
}

// New returns an unbound RenderingControl client.
func New(soapClient *soap.Client, events *gena.Server) *Client {
	c := &Client{
		volumeRange: client.ValueRange{Min: defaultMinVolume, Max: defaultMaxVolume, Step: 1},
	}
	c.Base = client.NewBase(client.Traits[Action, Variable]{
		Kind:          upnpav.ServiceRenderingControl,
		ActionNames:   actionNames,
		VariableNames: variableNames,
		MapError:      mapError,
	}, soapClient, events)
	c.Base.SetEventInterceptor(c.interceptEvent)
	return c
}

// SetDevice binds the client and reads the Volume value range so writes can
// be clamped.
func (c *Client) SetDevice(ctx context.Context, dev upnpav.Device) error {
	if err := c.Base.SetDevice(ctx, dev); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volumeRange = client.ValueRange{Min: defaultMinVolume, Max: defaultMaxVolume, Step: 1}
	if sv, ok := c.StateVariable("Volume"); ok && sv.Range != nil {
		c.volumeRange = *sv.Range
	}
	return nil
}

// VolumeRange returns the device's advertised volume bounds.
func (c *Client) VolumeRange() client.ValueRange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.volumeRange
}

// interceptEvent caches the Volume variable before the event fans out.
func (c *Client) interceptEvent(variables map[Variable]string) {
	if value, ok := variables[Volume]; ok {
		if volume, err := strconv.Atoi(value); err == nil {
			c.mu.Lock()
			c.lastVolume = volume
			c.hasVolume = true
			c.mu.Unlock()
		}
	}
}

// CachedVolume returns the last evented volume, if any event carried one.
func (c *Client) CachedVolume() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastVolume, c.hasVolume
}

type getVolumeResponse struct {
	XMLName       xml.Name `xml:"GetVolumeResponse"`
	CurrentVolume int      `xml:"CurrentVolume"`
}

// GetVolume reads the current volume on the Master channel.
func (c *Client) GetVolume(ctx context.Context, instanceID int) (int, error) {
	body, err := c.ExecuteAction(ctx, GetVolume,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)},
		soap.Argument{Name: "Channel", Value: MasterChannel},
	)
	if err != nil {
		return 0, err
	}
	var resp getVolumeResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return 0, &upnpav.ParseError{Element: "GetVolumeResponse", Detail: err.Error()}
	}
	return resp.CurrentVolume, nil
}

// SetVolume writes the volume, clamped to the SCPD range.
func (c *Client) SetVolume(ctx context.Context, instanceID int, volume int) error {
	c.mu.RLock()
	clamped := c.volumeRange.Clamp(volume)
	c.mu.RUnlock()

	_, err := c.ExecuteAction(ctx, SetVolume,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)},
		soap.Argument{Name: "Channel", Value: MasterChannel},
		soap.Argument{Name: "DesiredVolume", Value: strconv.Itoa(clamped)},
	)
	return err
}

type getMuteResponse struct {
	XMLName     xml.Name `xml:"GetMuteResponse"`
	CurrentMute int      `xml:"CurrentMute"`
}

// GetMute reads the mute state on the Master channel.
func (c *Client) GetMute(ctx context.Context, instanceID int) (bool, error) {
	body, err := c.ExecuteAction(ctx, GetMute,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)},
		soap.Argument{Name: "Channel", Value: MasterChannel},
	)
	if err != nil {
		return false, err
	}
	var resp getMuteResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return false, &upnpav.ParseError{Element: "GetMuteResponse", Detail: err.Error()}
	}
	return resp.CurrentMute == 1, nil
}

// SetMute writes the mute state.
func (c *Client) SetMute(ctx context.Context, instanceID int, mute bool) error {
	muteValue := "0"
	if mute {
		muteValue = "1"
	}
	_, err := c.ExecuteAction(ctx, SetMute,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)},
		soap.Argument{Name: "Channel", Value: MasterChannel},
		soap.Argument{Name: "DesiredMute", Value: muteValue},
	)
	return err
}
