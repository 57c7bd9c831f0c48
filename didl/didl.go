// Package didl converts between ContentDirectory items and DIDL-Lite XML.
package didl

import (
	"encoding/xml"
	"strconv"

	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/log"
)

const (
	nsDIDL = "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"
	nsDC   = "http://purl.org/dc/elements/1.1/"
	nsUPnP = "urn:schemas-upnp-org:metadata-1-0/upnp/"
	nsDLNA = "urn:schemas-dlna-org:metadata-1-0/"
)

// Parse-side structures. encoding/xml matches namespace-qualified names, so
// dc:title and upnp:class resolve regardless of the prefixes the server chose.

type xmlDocument struct {
	XMLName    xml.Name    `xml:"DIDL-Lite"`
	Containers []xmlObject `xml:"container"`
	Items      []xmlObject `xml:"item"`
}

type xmlObject struct {
	ID          string        `xml:"id,attr"`
	ParentID    string        `xml:"parentID,attr"`
	Restricted  string        `xml:"restricted,attr"`
	ChildCount  string        `xml:"childCount,attr"`
	Title       string        `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creator     string        `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Date        string        `xml:"http://purl.org/dc/elements/1.1/ date"`
	Description string        `xml:"http://purl.org/dc/elements/1.1/ description"`
	Class       string        `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ class"`
	Artist      []string      `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ artist"`
	Album       string        `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ album"`
	Genre       string        `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ genre"`
	TrackNumber string        `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ originalTrackNumber"`
	AlbumArt    []xmlAlbumArt `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ albumArtURI"`
	Resources   []xmlRes      `xml:"res"`
}

type xmlAlbumArt struct {
	ProfileID string `xml:"urn:schemas-dlna-org:metadata-1-0/ profileID,attr"`
	URI       string `xml:",chardata"`
}

type xmlRes struct {
	ProtocolInfo    string     `xml:"protocolInfo,attr"`
	Size            string     `xml:"size,attr"`
	Duration        string     `xml:"duration,attr"`
	Bitrate         string     `xml:"bitrate,attr"`
	SampleFrequency string     `xml:"sampleFrequency,attr"`
	NrAudioChannels string     `xml:"nrAudioChannels,attr"`
	BitsPerSample   string     `xml:"bitsPerSample,attr"`
	URL             string     `xml:",chardata"`
	Extra           []xml.Attr `xml:",any,attr"`
}

// ParseDocument parses a DIDL-Lite document into items, containers first.
// Objects without a dc:title are logged and skipped; the rest of the document
// still parses.
func ParseDocument(doc []byte) ([]*Item, error) {
	var parsed xmlDocument
	if err := xml.Unmarshal(doc, &parsed); err != nil {
		return nil, &upnpav.ParseError{Element: "DIDL-Lite", Detail: err.Error()}
	}

	items := make([]*Item, 0, len(parsed.Containers)+len(parsed.Items))
	for _, obj := range parsed.Containers {
		if item, ok := objectToItem(obj, true); ok {
			items = append(items, item)
		}
	}
	for _, obj := range parsed.Items {
		if item, ok := objectToItem(obj, false); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// ParseMetadata parses a DIDL-Lite document expected to contain exactly one
// object (the BrowseMetadata response shape).
func ParseMetadata(doc []byte) (*Item, error) {
	items, err := ParseDocument(doc)
	if err != nil {
		return nil, err
	}
	if len(items) != 1 {
		return nil, &upnpav.ParseError{Element: "DIDL-Lite", Detail: "expected exactly one object"}
	}
	return items[0], nil
}

func objectToItem(obj xmlObject, container bool) (*Item, bool) {
	if obj.Title == "" {
		log.Warn("Skipping DIDL object without title", "id", obj.ID)
		return nil, false
	}

	item := NewItem()
	item.ID = obj.ID
	item.ParentID = obj.ParentID
	item.Title = obj.Title
	item.Class = Class(obj.Class)
	item.Restricted = obj.Restricted == "1" || obj.Restricted == "true"

	if container {
		item.ChildCount = 0
		if obj.ChildCount != "" {
			if n, err := strconv.Atoi(obj.ChildCount); err == nil && n >= 0 {
				item.ChildCount = n
			}
		}
	}

	item.Properties[PropertyTitle] = obj.Title
	if obj.Class != "" {
		item.Properties[PropertyClass] = obj.Class
	}
	setProperty(item, PropertyCreator, obj.Creator)
	setProperty(item, PropertyDate, obj.Date)
	setProperty(item, PropertyDescription, obj.Description)
	setProperty(item, PropertyAlbum, obj.Album)
	setProperty(item, PropertyGenre, obj.Genre)
	setProperty(item, PropertyTrackNumber, obj.TrackNumber)
	if len(obj.Artist) > 0 {
		setProperty(item, PropertyArtist, obj.Artist[0])
	}
	for _, art := range obj.AlbumArt {
		item.AlbumArt[art.ProfileID] = art.URI
		if _, ok := item.Properties[PropertyAlbumArt]; !ok {
			item.Properties[PropertyAlbumArt] = art.URI
		}
	}

	for _, res := range obj.Resources {
		r, err := resourceFromXML(res)
		if err != nil {
			log.Warn("Skipping malformed resource", "id", obj.ID, err)
			continue
		}
		item.Resources = append(item.Resources, r)
	}
	return item, true
}

func setProperty(item *Item, p Property, value string) {
	if value != "" {
		item.Properties[p] = value
	}
}

func resourceFromXML(res xmlRes) (Resource, error) {
	pi, err := ParseProtocolInfo(res.ProtocolInfo)
	if err != nil {
		return Resource{}, err
	}
	r := Resource{URL: res.URL, ProtocolInfo: pi}
	if res.Size != "" {
		r.Size, _ = strconv.ParseUint(res.Size, 10, 64)
	}
	if res.Duration != "" {
		if d, err := ParseDuration(res.Duration); err == nil {
			r.Duration = d
		}
	}
	r.BitRate = parseUint32(res.Bitrate)
	r.SampleRate = parseUint32(res.SampleFrequency)
	r.NrChannels = parseUint32(res.NrAudioChannels)
	r.BitsPerSample = parseUint32(res.BitsPerSample)
	for _, attr := range res.Extra {
		if r.Metadata == nil {
			r.Metadata = map[string]string{}
		}
		r.Metadata[attr.Name.Local] = attr.Value
	}
	return r, nil
}

func parseUint32(s string) uint32 {
	n, _ := strconv.ParseUint(s, 10, 32)
	return uint32(n)
}

// Generation-side structures. Prefixed literal tags, the same technique the
// rest of the codebase uses for SOAP envelopes.

type genDocument struct {
	XMLName    xml.Name       `xml:"DIDL-Lite"`
	Xmlns      string         `xml:"xmlns,attr"`
	XmlnsDC    string         `xml:"xmlns:dc,attr"`
	XmlnsUPnP  string         `xml:"xmlns:upnp,attr"`
	XmlnsDLNA  string         `xml:"xmlns:dlna,attr"`
	Containers []genObject    `xml:"container,omitempty"`
	Items      []genObject    `xml:"item,omitempty"`
}

type genObject struct {
	ID          string        `xml:"id,attr"`
	ParentID    string        `xml:"parentID,attr"`
	Restricted  string        `xml:"restricted,attr"`
	ChildCount  string        `xml:"childCount,attr,omitempty"`
	Title       string        `xml:"dc:title"`
	Creator     string        `xml:"dc:creator,omitempty"`
	Date        string        `xml:"dc:date,omitempty"`
	Description string        `xml:"dc:description,omitempty"`
	Class       string        `xml:"upnp:class"`
	Artist      string        `xml:"upnp:artist,omitempty"`
	Album       string        `xml:"upnp:album,omitempty"`
	Genre       string        `xml:"upnp:genre,omitempty"`
	TrackNumber string        `xml:"upnp:originalTrackNumber,omitempty"`
	AlbumArt    []genAlbumArt `xml:"upnp:albumArtURI,omitempty"`
	Resources   []genRes      `xml:"res,omitempty"`
}

type genAlbumArt struct {
	ProfileID string `xml:"dlna:profileID,attr,omitempty"`
	URI       string `xml:",chardata"`
}

type genRes struct {
	ProtocolInfo    string `xml:"protocolInfo,attr"`
	Size            string `xml:"size,attr,omitempty"`
	Duration        string `xml:"duration,attr,omitempty"`
	Bitrate         string `xml:"bitrate,attr,omitempty"`
	SampleFrequency string `xml:"sampleFrequency,attr,omitempty"`
	NrAudioChannels string `xml:"nrAudioChannels,attr,omitempty"`
	BitsPerSample   string `xml:"bitsPerSample,attr,omitempty"`
	URL             string `xml:",chardata"`
}

// ToDocument renders the items as one DIDL-Lite document.
func ToDocument(items ...*Item) (string, error) {
	doc := genDocument{
		Xmlns:     nsDIDL,
		XmlnsDC:   nsDC,
		XmlnsUPnP: nsUPnP,
		XmlnsDLNA: nsDLNA,
	}
	for _, item := range items {
		obj := itemToObject(item)
		if item.IsContainer() {
			doc.Containers = append(doc.Containers, obj)
		} else {
			doc.Items = append(doc.Items, obj)
		}
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return xml.Header + string(out), nil
}

func itemToObject(item *Item) genObject {
	obj := genObject{
		ID:          item.ID,
		ParentID:    item.ParentID,
		Restricted:  "1",
		Title:       item.Title,
		Class:       string(item.Class),
		Creator:     item.Property(PropertyCreator),
		Date:        item.Property(PropertyDate),
		Description: item.Property(PropertyDescription),
		Artist:      item.Property(PropertyArtist),
		Album:       item.Property(PropertyAlbum),
		Genre:       item.Property(PropertyGenre),
		TrackNumber: item.Property(PropertyTrackNumber),
	}
	if !item.Restricted {
		obj.Restricted = "0"
	}
	if item.IsContainer() && item.ChildCount >= 0 {
		obj.ChildCount = strconv.Itoa(item.ChildCount)
	}
	for profile, uri := range item.AlbumArt {
		obj.AlbumArt = append(obj.AlbumArt, genAlbumArt{ProfileID: profile, URI: uri})
	}
	for _, res := range item.Resources {
		obj.Resources = append(obj.Resources, resourceToXML(res))
	}
	return obj
}

func resourceToXML(r Resource) genRes {
	res := genRes{
		ProtocolInfo: r.ProtocolInfo.String(),
		URL:          r.URL,
	}
	if r.Size > 0 {
		res.Size = strconv.FormatUint(r.Size, 10)
	}
	if r.Duration > 0 {
		res.Duration = FormatDuration(r.Duration)
	}
	if r.BitRate > 0 {
		res.Bitrate = strconv.FormatUint(uint64(r.BitRate), 10)
	}
	if r.SampleRate > 0 {
		res.SampleFrequency = strconv.FormatUint(uint64(r.SampleRate), 10)
	}
	if r.NrChannels > 0 {
		res.NrAudioChannels = strconv.FormatUint(uint64(r.NrChannels), 10)
	}
	if r.BitsPerSample > 0 {
		res.BitsPerSample = strconv.FormatUint(uint64(r.BitsPerSample), 10)
	}
	return res
}
