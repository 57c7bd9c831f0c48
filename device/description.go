// Package device maintains the live inventory of UPnP devices on the LAN:
// it parses device descriptions and tracks presence via SSDP adverts.
package device

import (
	"encoding/xml"
	"fmt"
	"net/url"

	"github.com/rosschurchill/upnpav"
)

type descriptionRoot struct {
	XMLName xml.Name          `xml:"root"`
	URLBase string            `xml:"URLBase"`
	Device  descriptionDevice `xml:"device"`
}

type descriptionDevice struct {
	DeviceType      string               `xml:"deviceType"`
	FriendlyName    string               `xml:"friendlyName"`
	UDN             string               `xml:"UDN"`
	PresentationURL string               `xml:"presentationURL"`
	Services        []descriptionService `xml:"serviceList>service"`
	Devices         []descriptionDevice  `xml:"deviceList>device"`
}

type descriptionService struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
	SCPDURL     string `xml:"SCPDURL"`
}

// requiredServices lists the services a device of each kind must offer; a
// device missing one is discarded during adoption.
var requiredServices = map[upnpav.DeviceType][]upnpav.ServiceType{
	upnpav.DeviceMediaServer:   {upnpav.ServiceContentDirectory},
	upnpav.DeviceMediaRenderer: {upnpav.ServiceRenderingControl, upnpav.ServiceConnectionManager},
}

// ParseDescription parses a device description document fetched from
// location. Embedded devices are searched when the root device is not an AV
// device. Service URLs are resolved against URLBase (or the location URL
// when URLBase is absent).
func ParseDescription(data []byte, location string) (*upnpav.Device, error) {
	var root descriptionRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, &upnpav.ParseError{Element: "root", Detail: err.Error()}
	}

	base := root.URLBase
	if base == "" {
		base = location
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, &upnpav.ParseError{Element: "URLBase", Detail: err.Error()}
	}

	desc := findAVDevice(&root.Device)
	if desc.UDN == "" {
		return nil, &upnpav.ParseError{Element: "UDN", Detail: "missing UDN in device description"}
	}

	dev := &upnpav.Device{
		UDN:             desc.UDN,
		Type:            upnpav.DeviceTypeFromURN(desc.DeviceType),
		FriendlyName:    desc.FriendlyName,
		Location:        location,
		BaseURL:         baseURL.String(),
		PresentationURL: desc.PresentationURL,
		Services:        map[upnpav.ServiceType]upnpav.Service{},
	}

	for _, svc := range desc.Services {
		kind, ok := upnpav.ServiceTypeFromURN(svc.ServiceType)
		if !ok {
			continue
		}
		dev.Services[kind] = upnpav.Service{
			Type:        kind,
			ID:          svc.ServiceID,
			ControlURL:  resolveURL(baseURL, svc.ControlURL),
			EventSubURL: resolveURL(baseURL, svc.EventSubURL),
			SCPDURL:     resolveURL(baseURL, svc.SCPDURL),
		}
	}

	for _, required := range requiredServices[dev.Type] {
		if !dev.Implements(required) {
			return nil, fmt.Errorf("%s device %s is missing required service %s",
				dev.Type, dev.UDN, required)
		}
	}
	return dev, nil
}

// findAVDevice returns the first device in the tree whose type is an AV
// device, or the root device when none matches.
func findAVDevice(root *descriptionDevice) *descriptionDevice {
	if upnpav.DeviceTypeFromURN(root.DeviceType) != upnpav.DeviceOther {
		return root
	}
	for i := range root.Devices {
		if found := findAVDevice(&root.Devices[i]); upnpav.DeviceTypeFromURN(found.DeviceType) != upnpav.DeviceOther {
			return found
		}
	}
	return root
}

func resolveURL(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
