// Package upnpav holds the shared types of the UPnP AV control-point
// library: device and service descriptions and the common error taxonomy.
// Discovery lives in package device, the generic service client in package
// client, and the per-service typed clients in their own packages.
package upnpav

import (
	"fmt"
	"strings"
	"time"
)

// DeviceType is the kind of UPnP device, derived from its deviceType URN.
type DeviceType string

const (
	DeviceMediaServer   DeviceType = "MediaServer"
	DeviceMediaRenderer DeviceType = "MediaRenderer"
	DeviceOther         DeviceType = "Other"
)

// URN returns the device-type URN advertised over SSDP.
func (t DeviceType) URN() string {
	return fmt.Sprintf("urn:schemas-upnp-org:device:%s:1", string(t))
}

// DeviceTypeFromURN maps a deviceType URN to a DeviceType. Version suffixes
// other than :1 are accepted.
func DeviceTypeFromURN(urn string) DeviceType {
	switch {
	case strings.HasPrefix(urn, "urn:schemas-upnp-org:device:MediaServer:"):
		return DeviceMediaServer
	case strings.HasPrefix(urn, "urn:schemas-upnp-org:device:MediaRenderer:"):
		return DeviceMediaRenderer
	default:
		return DeviceOther
	}
}

// ServiceType is the kind of UPnP AV service.
type ServiceType string

const (
	ServiceContentDirectory  ServiceType = "ContentDirectory"
	ServiceConnectionManager ServiceType = "ConnectionManager"
	ServiceAVTransport       ServiceType = "AVTransport"
	ServiceRenderingControl  ServiceType = "RenderingControl"
)

// URN returns the serviceType URN used in SOAP envelopes and descriptors.
func (t ServiceType) URN() string {
	return fmt.Sprintf("urn:schemas-upnp-org:service:%s:1", string(t))
}

// ServiceTypeFromURN maps a serviceType URN to a ServiceType.
func ServiceTypeFromURN(urn string) (ServiceType, bool) {
	for _, t := range []ServiceType{
		ServiceContentDirectory,
		ServiceConnectionManager,
		ServiceAVTransport,
		ServiceRenderingControl,
	} {
		if strings.HasPrefix(urn, fmt.Sprintf("urn:schemas-upnp-org:service:%s:", string(t))) {
			return t, true
		}
	}
	return "", false
}

// Service describes one service on a device. Immutable after the device
// description is parsed; all URLs are absolute.
type Service struct {
	Type        ServiceType
	ID          string
	ControlURL  string
	EventSubURL string
	SCPDURL     string
}

// Device represents one remote UPnP node. The scanner owns each Device;
// consumers get read-only copies.
type Device struct {
	UDN             string
	Type            DeviceType
	FriendlyName    string
	Location        string
	BaseURL         string
	PresentationURL string
	Deadline        time.Time
	Services        map[ServiceType]Service
}

// Service returns the service of the given kind, if the device offers it.
func (d *Device) Service(t ServiceType) (Service, bool) {
	svc, ok := d.Services[t]
	return svc, ok
}

// Implements reports whether the device offers the given service kind.
func (d *Device) Implements(t ServiceType) bool {
	_, ok := d.Services[t]
	return ok
}
