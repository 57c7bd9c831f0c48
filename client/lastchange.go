package client

import (
	"encoding/xml"

	"github.com/rosschurchill/upnpav"
)

// The GENA event body is a propertyset wrapping a LastChange property whose
// value is itself an XML document. Decoding is two explicit passes: first
// the propertyset, then the embedded Event document.

type propertySet struct {
	XMLName    xml.Name      `xml:"urn:schemas-upnp-org:event-1-0 propertyset"`
	Properties []eventProperty `xml:"urn:schemas-upnp-org:event-1-0 property"`
}

type eventProperty struct {
	LastChange string `xml:"LastChange"`
}

type lastChangeEvent struct {
	XMLName   xml.Name             `xml:"Event"`
	Instances []lastChangeInstance `xml:"InstanceID"`
}

type lastChangeInstance struct {
	Val       string          `xml:"val,attr"`
	Variables []lastChangeVar `xml:",any"`
}

type lastChangeVar struct {
	XMLName xml.Name
	Val     string `xml:"val,attr"`
}

// DecodeLastChange parses a NOTIFY body into the changed-variable map of the
// first instance: tag name → val attribute. The instance id is returned as
// its raw string.
func DecodeLastChange(body []byte) (string, map[string]string, error) {
	var set propertySet
	if err := xml.Unmarshal(body, &set); err != nil {
		return "", nil, &upnpav.ParseError{Element: "propertyset", Detail: err.Error()}
	}

	var lastChange string
	for _, prop := range set.Properties {
		if prop.LastChange != "" {
			lastChange = prop.LastChange
			break
		}
	}
	if lastChange == "" {
		return "", nil, &upnpav.ParseError{Element: "LastChange", Detail: "no LastChange property in event"}
	}

	// Second pass: the LastChange value is a document of its own.
	var event lastChangeEvent
	if err := xml.Unmarshal([]byte(lastChange), &event); err != nil {
		return "", nil, &upnpav.ParseError{Element: "LastChange", Detail: err.Error()}
	}
	if len(event.Instances) == 0 {
		return "", nil, &upnpav.ParseError{Element: "InstanceID", Detail: "no InstanceID in LastChange event"}
	}

	instance := event.Instances[0]
	variables := make(map[string]string, len(instance.Variables))
	for _, v := range instance.Variables {
		variables[v.XMLName.Local] = v.Val
	}
	return instance.Val, variables, nil
}
