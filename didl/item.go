package didl

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Property names a recognised DIDL-Lite metadata property, in its prefixed
// wire form.
type Property string

const (
	PropertyAll         Property = "*"
	PropertyTitle       Property = "dc:title"
	PropertyCreator     Property = "dc:creator"
	PropertyDate        Property = "dc:date"
	PropertyDescription Property = "dc:description"
	PropertyClass       Property = "upnp:class"
	PropertyArtist      Property = "upnp:artist"
	PropertyAlbum       Property = "upnp:album"
	PropertyGenre       Property = "upnp:genre"
	PropertyTrackNumber Property = "upnp:originalTrackNumber"
	PropertyAlbumArt    Property = "upnp:albumArtURI"
)

var knownProperties = map[string]Property{
	"*":                        PropertyAll,
	"dc:title":                 PropertyTitle,
	"dc:creator":               PropertyCreator,
	"dc:date":                  PropertyDate,
	"dc:description":           PropertyDescription,
	"upnp:class":               PropertyClass,
	"upnp:artist":              PropertyArtist,
	"upnp:album":               PropertyAlbum,
	"upnp:genre":               PropertyGenre,
	"upnp:originalTrackNumber": PropertyTrackNumber,
	"upnp:albumArtURI":         PropertyAlbumArt,
}

// PropertyFromString maps a prefixed property name to a Property.
func PropertyFromString(s string) (Property, bool) {
	p, ok := knownProperties[s]
	return p, ok
}

// Class is a UPnP object class token, e.g. object.item.audioItem.musicTrack.
type Class string

const (
	ClassContainer      Class = "object.container"
	ClassStorageFolder  Class = "object.container.storageFolder"
	ClassMusicAlbum     Class = "object.container.album.musicAlbum"
	ClassMusicArtist    Class = "object.container.person.musicArtist"
	ClassMusicGenre     Class = "object.container.genre.musicGenre"
	ClassPlaylist       Class = "object.container.playlistContainer"
	ClassAudioItem      Class = "object.item.audioItem"
	ClassMusicTrack     Class = "object.item.audioItem.musicTrack"
	ClassAudioBroadcast Class = "object.item.audioItem.audioBroadcast"
	ClassVideoItem      Class = "object.item.videoItem"
)

// IsContainer reports whether the class denotes a container.
func (c Class) IsContainer() bool {
	return strings.HasPrefix(string(c), string(ClassContainer))
}

// Resource is a playable binding of an item to a URL.
type Resource struct {
	URL          string
	ProtocolInfo ProtocolInfo
	Size         uint64
	Duration     time.Duration
	BitRate      uint32
	SampleRate   uint32
	NrChannels   uint32
	BitsPerSample uint32
	// Metadata keeps res attributes that have no dedicated field.
	Metadata map[string]string
}

// Item is a ContentDirectory object, container or leaf. Constructed per
// browse/search response and never mutated afterwards.
type Item struct {
	ID       string
	ParentID string
	Title    string
	Class    Class
	Restricted bool
	// ChildCount is meaningful only when Class.IsContainer(). Parsed
	// containers carry a non-negative count (0 when the server did not
	// report one); non-containers hold -1.
	ChildCount int
	Properties map[Property]string
	Resources  []Resource
	// AlbumArt maps DLNA profile id ("" when unannotated) to artwork URL.
	AlbumArt map[string]string
}

// NewItem returns an item with initialised maps and no child count.
func NewItem() *Item {
	return &Item{
		ChildCount: -1,
		Properties: map[Property]string{},
		AlbumArt:   map[string]string{},
	}
}

// IsContainer reports whether the item is a container.
func (i *Item) IsContainer() bool {
	return i.Class.IsContainer()
}

// Property returns the value of the given metadata property, or "".
func (i *Item) Property(p Property) string {
	return i.Properties[p]
}

// FirstResource returns the first resource, if any.
func (i *Item) FirstResource() (Resource, bool) {
	if len(i.Resources) == 0 {
		return Resource{}, false
	}
	return i.Resources[0], true
}

// ParseDuration parses the DIDL duration form H:MM:SS[.F] into a Duration.
// The fractional part may itself be a fraction (".F0/F1" is not supported,
// decimal fractions are).
func ParseDuration(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, nil
}

// FormatDuration renders a Duration as H:MM:SS.
func FormatDuration(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
