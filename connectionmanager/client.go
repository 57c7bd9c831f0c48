// Package connectionmanager is the typed client for the ConnectionManager:1
// service: protocol-info exchange and connection preparation.
package connectionmanager

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/client"
	"github.com/rosschurchill/upnpav/didl"
	"github.com/rosschurchill/upnpav/gena"
	"github.com/rosschurchill/upnpav/log"
	"github.com/rosschurchill/upnpav/soap"
)

// Action is the closed set of ConnectionManager:1 actions.
type Action int

const (
	GetProtocolInfo Action = iota
	PrepareForConnection
	ConnectionComplete
	GetCurrentConnectionIDs
	GetCurrentConnectionInfo
)

var actionNames = map[Action]string{
	GetProtocolInfo:          "GetProtocolInfo",
	PrepareForConnection:     "PrepareForConnection",
	ConnectionComplete:       "ConnectionComplete",
	GetCurrentConnectionIDs:  "GetCurrentConnectionIDs",
	GetCurrentConnectionInfo: "GetCurrentConnectionInfo",
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

// Variable is the closed set of evented ConnectionManager state variables.
type Variable int

const (
	SourceProtocolInfo Variable = iota
	SinkProtocolInfo
	CurrentConnectionIDs
)

var variableNames = map[Variable]string{
	SourceProtocolInfo:   "SourceProtocolInfo",
	SinkProtocolInfo:     "SinkProtocolInfo",
	CurrentConnectionIDs: "CurrentConnectionIDs",
}

// Direction of a prepared connection, relative to the device.
type Direction string

const (
	Input  Direction = "Input"
	Output Direction = "Output"
)

// Connection-id sentinels.
const (
	// UnknownConnectionID means no connection has been prepared.
	UnknownConnectionID = -1
	// DefaultConnectionID is used when PrepareForConnection is unsupported.
	DefaultConnectionID = 0
)

// ConnectionInfo is the outcome of PrepareForConnection or
// GetCurrentConnectionInfo.
type ConnectionInfo struct {
	ConnectionID          int
	AVTransportID         int
	RenderingControlID    int
	ProtocolInfo          didl.ProtocolInfo
	PeerConnectionManager string
	PeerConnectionID      int
	Direction             Direction
	Status                string
}

// ConnectionManager error codes, mapped from SOAP faults.
var (
	ErrIncompatibleProtocolInfo = errors.New("incompatible protocol info")
	ErrIncompatibleDirections   = errors.New("incompatible directions")
	ErrInsufficientResources    = errors.New("insufficient network resources")
	ErrLocalRestrictions        = errors.New("local restrictions")
	ErrAccessDenied             = errors.New("access denied")
	ErrInvalidConnectionRef     = errors.New("invalid connection reference")
	ErrNotInNetwork             = errors.New("not in network")
)

var errorMap = map[int]error{
	701: ErrIncompatibleProtocolInfo,
	702: ErrIncompatibleDirections,
	703: ErrInsufficientResources,
	704: ErrLocalRestrictions,
	705: ErrAccessDenied,
	706: ErrInvalidConnectionRef,
	707: ErrNotInNetwork,
}

func mapError(upnpErr *upnpav.UPnPError) error {
	if mapped, ok := errorMap[upnpErr.Code]; ok {
		return fmt.Errorf("%w: %w", mapped, upnpErr)
	}
	return upnpErr
}

// Client drives one device's ConnectionManager service.
type Client struct {
	*client.Base[Action, Variable]
}

// New returns an unbound ConnectionManager client.
func New(soapClient *soap.Client, events *gena.Server) *Client {
	return &Client{Base: client.NewBase(client.Traits[Action, Variable]{
		Kind:          upnpav.ServiceConnectionManager,
		ActionNames:   actionNames,
		VariableNames: variableNames,
		MapError:      mapError,
	}, soapClient, events)}
}

type protocolInfoResponse struct {
	XMLName xml.Name `xml:"GetProtocolInfoResponse"`
	Source  string   `xml:"Source"`
	Sink    string   `xml:"Sink"`
}

// GetProtocolInfo reads the device's source and sink protocol-info lists.
// Malformed entries are logged and skipped.
func (c *Client) GetProtocolInfo(ctx context.Context) (source, sink []didl.ProtocolInfo, err error) {
	body, err := c.ExecuteAction(ctx, GetProtocolInfo)
	if err != nil {
		return nil, nil, err
	}
	var resp protocolInfoResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, nil, &upnpav.ParseError{Element: "GetProtocolInfoResponse", Detail: err.Error()}
	}
	return parseProtocolInfoList(resp.Source), parseProtocolInfoList(resp.Sink), nil
}

func parseProtocolInfoList(list string) []didl.ProtocolInfo {
	var infos []didl.ProtocolInfo
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		info, err := didl.ParseProtocolInfo(entry)
		if err != nil {
			log.Warn("Skipping malformed protocol info", "entry", entry, err)
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

type prepareForConnectionResponse struct {
	XMLName      xml.Name `xml:"PrepareForConnectionResponse"`
	ConnectionID int      `xml:"ConnectionID"`
	AVTransportID int     `xml:"AVTransportID"`
	RcsID        int      `xml:"RcsID"`
}

// Prepare asks the device to set up a connection. peerManager is
// "UDN/serviceId" of the other endpoint; peerConnectionID is its connection
// id, or UnknownConnectionID when the peer has none.
func (c *Client) Prepare(ctx context.Context, protocolInfo didl.ProtocolInfo, peerManager string, peerConnectionID int, direction Direction) (ConnectionInfo, error) {
	body, err := c.ExecuteAction(ctx, PrepareForConnection,
		soap.Argument{Name: "RemoteProtocolInfo", Value: protocolInfo.String()},
		soap.Argument{Name: "PeerConnectionManager", Value: peerManager},
		soap.Argument{Name: "PeerConnectionID", Value: strconv.Itoa(peerConnectionID)},
		soap.Argument{Name: "Direction", Value: string(direction)},
	)
	if err != nil {
		return ConnectionInfo{}, err
	}
	var resp prepareForConnectionResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return ConnectionInfo{}, &upnpav.ParseError{Element: "PrepareForConnectionResponse", Detail: err.Error()}
	}
	return ConnectionInfo{
		ConnectionID:          resp.ConnectionID,
		AVTransportID:         resp.AVTransportID,
		RenderingControlID:    resp.RcsID,
		ProtocolInfo:          protocolInfo,
		PeerConnectionManager: peerManager,
		PeerConnectionID:      peerConnectionID,
		Direction:             direction,
	}, nil
}

// Complete tears a prepared connection down.
func (c *Client) Complete(ctx context.Context, connectionID int) error {
	_, err := c.ExecuteAction(ctx, ConnectionComplete,
		soap.Argument{Name: "ConnectionID", Value: strconv.Itoa(connectionID)})
	return err
}

type currentConnectionIDsResponse struct {
	XMLName       xml.Name `xml:"GetCurrentConnectionIDsResponse"`
	ConnectionIDs string   `xml:"ConnectionIDs"`
}

// GetConnectionIDs lists the device's active connection ids.
func (c *Client) GetConnectionIDs(ctx context.Context) ([]int, error) {
	body, err := c.ExecuteAction(ctx, GetCurrentConnectionIDs)
	if err != nil {
		return nil, err
	}
	var resp currentConnectionIDsResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, &upnpav.ParseError{Element: "GetCurrentConnectionIDsResponse", Detail: err.Error()}
	}
	var ids []int
	for _, token := range strings.Split(resp.ConnectionIDs, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if id, err := strconv.Atoi(token); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type currentConnectionInfoResponse struct {
	XMLName               xml.Name `xml:"GetCurrentConnectionInfoResponse"`
	AVTransportID         int      `xml:"AVTransportID"`
	RcsID                 int      `xml:"RcsID"`
	ProtocolInfo          string   `xml:"ProtocolInfo"`
	PeerConnectionManager string   `xml:"PeerConnectionManager"`
	PeerConnectionID      int      `xml:"PeerConnectionID"`
	Direction             string   `xml:"Direction"`
	Status                string   `xml:"Status"`
}

// GetConnectionInfo reads the state of one connection.
func (c *Client) GetConnectionInfo(ctx context.Context, connectionID int) (ConnectionInfo, error) {
	body, err := c.ExecuteAction(ctx, GetCurrentConnectionInfo,
		soap.Argument{Name: "ConnectionID", Value: strconv.Itoa(connectionID)})
	if err != nil {
		return ConnectionInfo{}, err
	}
	var resp currentConnectionInfoResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return ConnectionInfo{}, &upnpav.ParseError{Element: "GetCurrentConnectionInfoResponse", Detail: err.Error()}
	}
	info := ConnectionInfo{
		ConnectionID:          connectionID,
		AVTransportID:         resp.AVTransportID,
		RenderingControlID:    resp.RcsID,
		PeerConnectionManager: resp.PeerConnectionManager,
		PeerConnectionID:      resp.PeerConnectionID,
		Direction:             Direction(resp.Direction),
		Status:                resp.Status,
	}
	if pi, err := didl.ParseProtocolInfo(resp.ProtocolInfo); err == nil {
		info.ProtocolInfo = pi
	}
	return info, nil
}
