package contentdirectory

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/didl"
	"github.com/rosschurchill/upnpav/log"
	"github.com/rosschurchill/upnpav/soap"
)

func TestContentDirectory(t *testing.T) {
	log.SetLevel(log.LevelFatal)
	RegisterFailHandler(Fail)
	RunSpecs(t, "ContentDirectory Suite")
}

const scpdFixture = `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList>
    <action><name>GetSearchCapabilities</name></action>
    <action><name>GetSortCapabilities</name></action>
    <action><name>GetSystemUpdateID</name></action>
    <action><name>Browse</name></action>
    <action><name>Search</name></action>
  </actionList>
  <serviceStateTable>
    <stateVariable sendEvents="yes"><name>SystemUpdateID</name><dataType>ui4</dataType></stateVariable>
  </serviceStateTable>
</scpd>`

const innerDIDL = `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">
<container id="c1" parentID="0" restricted="1" childCount="2"><dc:title>Albums</dc:title><upnp:class>object.container.storageFolder</upnp:class></container>
<item id="i1" parentID="0" restricted="1"><dc:title>Track</dc:title><upnp:class>object.item.audioItem.musicTrack</upnp:class><res protocolInfo="http-get:*:audio/mpeg:*">http://server/i1.mp3</res></item>
</DIDL-Lite>`

func soapBrowseResponse(action string, inner string, returned, total int) string {
	return fmt.Sprintf(`<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>
<u:%sResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">
<Result>%s</Result>
<NumberReturned>%d</NumberReturned>
<TotalMatches>%d</TotalMatches>
<UpdateID>7</UpdateID>
</u:%sResponse></s:Body></s:Envelope>`, action, html.EscapeString(inner), returned, total, action)
}

type fakeDirectory struct {
	srv        *httptest.Server
	searchCaps string
	sortCaps   string
	onBrowse   func(envelope string) (string, int)
}

func newFakeDirectory() *fakeDirectory {
	f := &fakeDirectory{
		searchCaps: "dc:title,upnp:artist",
		sortCaps:   "dc:title",
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/scpd.xml":
			w.Write([]byte(scpdFixture))
		case "/control":
			body, _ := io.ReadAll(r.Body)
			envelope := string(body)
			action := actionFromEnvelope(r.Header.Get("SOAPACTION"))
			switch action {
			case "GetSearchCapabilities":
				fmt.Fprintf(w, `<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><u:GetSearchCapabilitiesResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1"><SearchCaps>%s</SearchCaps></u:GetSearchCapabilitiesResponse></s:Body></s:Envelope>`, f.searchCaps)
			case "GetSortCapabilities":
				fmt.Fprintf(w, `<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><u:GetSortCapabilitiesResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1"><SortCaps>%s</SortCaps></u:GetSortCapabilitiesResponse></s:Body></s:Envelope>`, f.sortCaps)
			case "GetSystemUpdateID":
				fmt.Fprint(w, `<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><u:GetSystemUpdateIDResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1"><Id>42</Id></u:GetSystemUpdateIDResponse></s:Body></s:Envelope>`)
			case "Browse", "Search":
				if f.onBrowse != nil {
					response, status := f.onBrowse(envelope)
					if status != 0 {
						w.WriteHeader(status)
					}
					w.Write([]byte(response))
					return
				}
				w.Write([]byte(soapBrowseResponse(action, innerDIDL, 2, 2)))
			default:
				w.WriteHeader(http.StatusBadRequest)
			}
		}
	}))
	return f
}

func actionFromEnvelope(soapAction string) string {
	soapAction = strings.Trim(soapAction, `"`)
	if idx := strings.Index(soapAction, "#"); idx != -1 {
		return soapAction[idx+1:]
	}
	return soapAction
}

func (f *fakeDirectory) device() upnpav.Device {
	return upnpav.Device{
		UDN:  "uuid:server-1",
		Type: upnpav.DeviceMediaServer,
		Services: map[upnpav.ServiceType]upnpav.Service{
			upnpav.ServiceContentDirectory: {
				Type:       upnpav.ServiceContentDirectory,
				ID:         "urn:upnp-org:serviceId:ContentDirectory",
				ControlURL: f.srv.URL + "/control",
				SCPDURL:    f.srv.URL + "/scpd.xml",
			},
		},
	}
}

var _ = Describe("Client", func() {
	var (
		fake   *fakeDirectory
		client *Client
	)

	BeforeEach(func() {
		fake = newFakeDirectory()
		DeferCleanup(fake.srv.Close)
		client = New(soap.NewClient(), nil)
		Expect(client.SetDevice(context.Background(), fake.device())).To(Succeed())
	})

	It("caches search and sort capabilities on bind", func() {
		Expect(client.SearchCaps()).To(ConsistOf(didl.PropertyTitle, didl.PropertyArtist))
		Expect(client.SortCaps()).To(ConsistOf(didl.PropertyTitle))
	})

	It("treats an empty caps list as none", func() {
		caps, err := client.QuerySortCapabilities(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(caps).To(HaveLen(1))

		fake.sortCaps = ""
		caps, err = client.QuerySortCapabilities(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(caps).To(BeEmpty())
	})

	It("skips unknown capability properties", func() {
		fake.searchCaps = "dc:title,x:wat"
		caps, err := client.QuerySearchCapabilities(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(caps).To(ConsistOf(didl.PropertyTitle))
	})

	It("parses the wildcard capability", func() {
		fake.sortCaps = "*"
		caps, err := client.QuerySortCapabilities(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(caps).To(ConsistOf(didl.PropertyAll))
	})

	It("browses direct children through the double-encoded result", func() {
		result, err := client.BrowseDirectChildren(context.Background(), All, "0", "*", 0, 32, "")
		Expect(err).ToNot(HaveOccurred())
		Expect(result.NumberReturned).To(Equal(uint32(2)))
		Expect(result.TotalMatches).To(Equal(uint32(2)))
		Expect(result.UpdateID).To(Equal(uint32(7)))
		Expect(result.Items).To(HaveLen(2))
		Expect(result.Items[0].IsContainer()).To(BeTrue())
		Expect(result.Items[1].Resources).To(HaveLen(1))
	})

	It("filters containers only but keeps the raw page size", func() {
		result, err := client.BrowseDirectChildren(context.Background(), ContainersOnly, "0", "*", 0, 32, "")
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Items).To(HaveLen(1))
		Expect(result.Items[0].ID).To(Equal("c1"))
		// The wire NumberReturned drives paging offsets and is not reduced
		// by the kind filter.
		Expect(result.NumberReturned).To(Equal(uint32(2)))
	})

	It("filters items only but keeps the raw page size", func() {
		result, err := client.BrowseDirectChildren(context.Background(), ItemsOnly, "0", "*", 0, 32, "")
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Items).To(HaveLen(1))
		Expect(result.Items[0].ID).To(Equal("i1"))
		Expect(result.NumberReturned).To(Equal(uint32(2)))
	})

	It("sends the Browse arguments in declared order", func() {
		var captured string
		fake.onBrowse = func(envelope string) (string, int) {
			captured = envelope
			return soapBrowseResponse("Browse", innerDIDL, 2, 2), 0
		}
		_, err := client.BrowseDirectChildren(context.Background(), All, "17", "*", 64, 32, "+dc:title")
		Expect(err).ToNot(HaveOccurred())
		Expect(captured).To(ContainSubstring("<ObjectID>17</ObjectID><BrowseFlag>BrowseDirectChildren</BrowseFlag><Filter>*</Filter><StartingIndex>64</StartingIndex><RequestedCount>32</RequestedCount><SortCriteria>+dc:title</SortCriteria>"))
	})

	It("fetches single-object metadata", func() {
		fake.onBrowse = func(envelope string) (string, int) {
			Expect(envelope).To(ContainSubstring("<BrowseFlag>BrowseMetadata</BrowseFlag>"))
			single := `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"><item id="i1" parentID="0" restricted="1"><dc:title>Track</dc:title><upnp:class>object.item.audioItem.musicTrack</upnp:class></item></DIDL-Lite>`
			return soapBrowseResponse("Browse", single, 1, 1), 0
		}
		item, err := client.BrowseMetadata(context.Background(), "i1", "*")
		Expect(err).ToNot(HaveOccurred())
		Expect(item.Title).To(Equal("Track"))
	})

	It("maps error 701 to ErrNoSuchObject", func() {
		fake.onBrowse = func(string) (string, int) {
			return `<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><s:Fault>
<detail><UPnPError xmlns="urn:schemas-upnp-org:control-1-0"><errorCode>701</errorCode><errorDescription>gone</errorDescription></UPnPError></detail>
</s:Fault></s:Body></s:Envelope>`, http.StatusInternalServerError
		}
		_, err := client.BrowseDirectChildren(context.Background(), All, "nope", "*", 0, 32, "")
		Expect(errors.Is(err, ErrNoSuchObject)).To(BeTrue())
	})

	It("returns Cancelled after Abort", func() {
		client.Abort()
		_, err := client.BrowseDirectChildren(context.Background(), All, "0", "*", 0, 32, "")
		Expect(errors.Is(err, upnpav.ErrCancelled)).To(BeTrue())

		client.ResetAbort()
		_, err = client.BrowseDirectChildren(context.Background(), All, "0", "*", 0, 32, "")
		Expect(err).ToNot(HaveOccurred())
	})

	It("reads the system update id", func() {
		id, err := client.GetSystemUpdateID(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(id).To(Equal(uint32(42)))
	})
})

var _ = Describe("wire types", func() {
	It("unmarshals a browse response body", func() {
		var resp browseResponse
		err := xml.Unmarshal([]byte(`<u:BrowseResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1"><Result>x</Result><NumberReturned>3</NumberReturned><TotalMatches>9</TotalMatches><UpdateID>1</UpdateID></u:BrowseResponse>`), &resp)
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.NumberReturned).To(Equal(uint32(3)))
		Expect(resp.TotalMatches).To(Equal(uint32(9)))
	})
})
