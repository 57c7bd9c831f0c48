package avtransport

import (
	"context"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/client"
	"github.com/rosschurchill/upnpav/gena"
	"github.com/rosschurchill/upnpav/soap"
)

// Client drives one device's AVTransport service.
type Client struct {
	*client.Base[Action, Variable]
}

// New returns an unbound AVTransport client.
func New(soapClient *soap.Client, events *gena.Server) *Client {
	return &Client{Base: client.NewBase(traits(), soapClient, events)}
}

// TransportInfo is the GetTransportInfo response.
type TransportInfo struct {
	State  State
	Status string
	Speed  string
}

// PositionInfo is the GetPositionInfo response.
type PositionInfo struct {
	Track         uint32
	TrackDuration string
	TrackMetaData string
	TrackURI      string
	RelTime       string
	AbsTime       string
	RelCount      int
	AbsCount      int
}

// MediaInfo is the GetMediaInfo response.
type MediaInfo struct {
	NrTracks           uint32
	MediaDuration      string
	CurrentURI         string
	CurrentURIMetaData string
	NextURI            string
	NextURIMetaData    string
	PlayMedium         string
	RecordMedium       string
	WriteStatus        string
}

// SetTransportURI points the transport at a URI with its DIDL metadata.
func (c *Client) SetTransportURI(ctx context.Context, instanceID int, uri, metadata string) error {
	_, err := c.ExecuteAction(ctx, SetAVTransportURI,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)},
		soap.Argument{Name: "CurrentURI", Value: uri},
		soap.Argument{Name: "CurrentURIMetaData", Value: metadata},
	)
	return err
}

// SetNextTransportURI queues the next URI for gapless transition.
func (c *Client) SetNextTransportURI(ctx context.Context, instanceID int, uri, metadata string) error {
	_, err := c.ExecuteAction(ctx, SetNextAVTransportURI,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)},
		soap.Argument{Name: "NextURI", Value: uri},
		soap.Argument{Name: "NextURIMetaData", Value: metadata},
	)
	return err
}

// Play starts playback at the given speed ("1" for normal).
func (c *Client) Play(ctx context.Context, instanceID int, speed string) error {
	if speed == "" {
		speed = "1"
	}
	_, err := c.ExecuteAction(ctx, Play,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)},
		soap.Argument{Name: "Speed", Value: speed},
	)
	return err
}

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context, instanceID int) error {
	_, err := c.ExecuteAction(ctx, Pause,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)})
	return err
}

// Stop stops playback.
func (c *Client) Stop(ctx context.Context, instanceID int) error {
	_, err := c.ExecuteAction(ctx, Stop,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)})
	return err
}

// Next skips to the next track.
func (c *Client) Next(ctx context.Context, instanceID int) error {
	_, err := c.ExecuteAction(ctx, Next,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)})
	return err
}

// Previous goes to the previous track.
func (c *Client) Previous(ctx context.Context, instanceID int) error {
	_, err := c.ExecuteAction(ctx, Previous,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)})
	return err
}

// Seek seeks to target in the given mode. The target is passed through
// verbatim; the device validates it.
func (c *Client) Seek(ctx context.Context, instanceID int, mode SeekMode, target string) error {
	_, err := c.ExecuteAction(ctx, Seek,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)},
		soap.Argument{Name: "Unit", Value: string(mode)},
		soap.Argument{Name: "Target", Value: target},
	)
	return err
}

type transportInfoResponse struct {
	XMLName               xml.Name `xml:"GetTransportInfoResponse"`
	CurrentTransportState string   `xml:"CurrentTransportState"`
	CurrentTransportStatus string  `xml:"CurrentTransportStatus"`
	CurrentSpeed          string   `xml:"CurrentSpeed"`
}

// GetTransportInfo reads the current transport state.
func (c *Client) GetTransportInfo(ctx context.Context, instanceID int) (TransportInfo, error) {
	body, err := c.ExecuteAction(ctx, GetTransportInfo,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)})
	if err != nil {
		return TransportInfo{}, err
	}
	var resp transportInfoResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return TransportInfo{}, &upnpav.ParseError{Element: "GetTransportInfoResponse", Detail: err.Error()}
	}
	return TransportInfo{
		State:  State(resp.CurrentTransportState),
		Status: resp.CurrentTransportStatus,
		Speed:  resp.CurrentSpeed,
	}, nil
}

type positionInfoResponse struct {
	XMLName       xml.Name `xml:"GetPositionInfoResponse"`
	Track         uint32   `xml:"Track"`
	TrackDuration string   `xml:"TrackDuration"`
	TrackMetaData string   `xml:"TrackMetaData"`
	TrackURI      string   `xml:"TrackURI"`
	RelTime       string   `xml:"RelTime"`
	AbsTime       string   `xml:"AbsTime"`
	RelCount      int      `xml:"RelCount"`
	AbsCount      int      `xml:"AbsCount"`
}

// GetPositionInfo reads the playback position of the current track.
func (c *Client) GetPositionInfo(ctx context.Context, instanceID int) (PositionInfo, error) {
	body, err := c.ExecuteAction(ctx, GetPositionInfo,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)})
	if err != nil {
		return PositionInfo{}, err
	}
	var resp positionInfoResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return PositionInfo{}, &upnpav.ParseError{Element: "GetPositionInfoResponse", Detail: err.Error()}
	}
	return PositionInfo{
		Track:         resp.Track,
		TrackDuration: resp.TrackDuration,
		TrackMetaData: resp.TrackMetaData,
		TrackURI:      resp.TrackURI,
		RelTime:       resp.RelTime,
		AbsTime:       resp.AbsTime,
		RelCount:      resp.RelCount,
		AbsCount:      resp.AbsCount,
	}, nil
}

type mediaInfoResponse struct {
	XMLName            xml.Name `xml:"GetMediaInfoResponse"`
	NrTracks           uint32   `xml:"NrTracks"`
	MediaDuration      string   `xml:"MediaDuration"`
	CurrentURI         string   `xml:"CurrentURI"`
	CurrentURIMetaData string   `xml:"CurrentURIMetaData"`
	NextURI            string   `xml:"NextURI"`
	NextURIMetaData    string   `xml:"NextURIMetaData"`
	PlayMedium         string   `xml:"PlayMedium"`
	RecordMedium       string   `xml:"RecordMedium"`
	WriteStatus        string   `xml:"WriteStatus"`
}

// GetMediaInfo reads what the transport is currently bound to.
func (c *Client) GetMediaInfo(ctx context.Context, instanceID int) (MediaInfo, error) {
	body, err := c.ExecuteAction(ctx, GetMediaInfo,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)})
	if err != nil {
		return MediaInfo{}, err
	}
	var resp mediaInfoResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return MediaInfo{}, &upnpav.ParseError{Element: "GetMediaInfoResponse", Detail: err.Error()}
	}
	return MediaInfo{
		NrTracks:           resp.NrTracks,
		MediaDuration:      resp.MediaDuration,
		CurrentURI:         resp.CurrentURI,
		CurrentURIMetaData: resp.CurrentURIMetaData,
		NextURI:            resp.NextURI,
		NextURIMetaData:    resp.NextURIMetaData,
		PlayMedium:         resp.PlayMedium,
		RecordMedium:       resp.RecordMedium,
		WriteStatus:        resp.WriteStatus,
	}, nil
}

type transportActionsResponse struct {
	XMLName xml.Name `xml:"GetCurrentTransportActionsResponse"`
	Actions string   `xml:"Actions"`
}

// GetCurrentTransportActions reads the actions the transport allows in its
// current state.
func (c *Client) GetCurrentTransportActions(ctx context.Context, instanceID int) ([]Action, error) {
	body, err := c.ExecuteAction(ctx, GetCurrentTransportActions,
		soap.Argument{Name: "InstanceID", Value: strconv.Itoa(instanceID)})
	if err != nil {
		return nil, err
	}
	var resp transportActionsResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, &upnpav.ParseError{Element: "GetCurrentTransportActionsResponse", Detail: err.Error()}
	}
	return ParseTransportActions(resp.Actions), nil
}

// ParseTransportActions splits a comma-separated action list, mapping each
// token to its Action and ignoring unknowns.
func ParseTransportActions(list string) []Action {
	var actions []Action
	for _, token := range strings.Split(list, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		// Some renderers abbreviate Previous in the action list.
		if token == "Prev" {
			token = "Previous"
		}
		if action, ok := ActionFromString(token); ok {
			actions = append(actions, action)
		}
	}
	return actions
}
