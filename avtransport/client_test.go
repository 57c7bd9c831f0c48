package avtransport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/log"
	"github.com/rosschurchill/upnpav/soap"
)

func TestAVTransport(t *testing.T) {
	log.SetLevel(log.LevelFatal)
	RegisterFailHandler(Fail)
	RunSpecs(t, "AVTransport Suite")
}

// scpdFixture omits Record and SetNextAVTransportURI on purpose.
const scpdFixture = `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList>
    <action><name>SetAVTransportURI</name></action>
    <action><name>GetMediaInfo</name></action>
    <action><name>GetTransportInfo</name></action>
    <action><name>GetPositionInfo</name></action>
    <action><name>Stop</name></action>
    <action><name>Play</name></action>
    <action><name>Pause</name></action>
    <action><name>Seek</name></action>
    <action><name>Next</name></action>
    <action><name>Previous</name></action>
    <action><name>GetCurrentTransportActions</name></action>
  </actionList>
  <serviceStateTable>
    <stateVariable sendEvents="yes"><name>TransportState</name><dataType>string</dataType></stateVariable>
    <stateVariable sendEvents="no"><name>CurrentTrackURI</name><dataType>string</dataType></stateVariable>
  </serviceStateTable>
</scpd>`

type fakeTransport struct {
	srv      *httptest.Server
	mu       sync.Mutex
	requests []string
	respond  func(body string) string
	status   int
}

func newFakeTransport() *fakeTransport {
	f := &fakeTransport{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/scpd.xml":
			w.Write([]byte(scpdFixture))
		case "/control":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.requests = append(f.requests, string(body))
			respond := f.respond
			status := f.status
			f.mu.Unlock()
			if status != 0 {
				w.WriteHeader(status)
			}
			if respond != nil {
				w.Write([]byte(respond(string(body))))
				return
			}
			w.Write([]byte(`<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><u:Response xmlns:u="urn:schemas-upnp-org:service:AVTransport:1"/></s:Body></s:Envelope>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return f
}

func (f *fakeTransport) lastRequest() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ""
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeTransport) device() upnpav.Device {
	return upnpav.Device{
		UDN:  "uuid:renderer-1",
		Type: upnpav.DeviceMediaRenderer,
		Services: map[upnpav.ServiceType]upnpav.Service{
			upnpav.ServiceAVTransport: {
				Type:       upnpav.ServiceAVTransport,
				ID:         "urn:upnp-org:serviceId:AVTransport",
				ControlURL: f.srv.URL + "/control",
				SCPDURL:    f.srv.URL + "/scpd.xml",
			},
		},
	}
}

var _ = Describe("Client", func() {
	var (
		fake   *fakeTransport
		client *Client
	)

	BeforeEach(func() {
		fake = newFakeTransport()
		DeferCleanup(fake.srv.Close)
		client = New(soap.NewClient(), nil)
		Expect(client.SetDevice(context.Background(), fake.device())).To(Succeed())
	})

	Describe("supported actions", func() {
		It("reflects the SCPD fixture", func() {
			Expect(client.SupportsAction(Play)).To(BeTrue())
			Expect(client.SupportsAction(Record)).To(BeFalse())
			Expect(client.SupportsAction(SetNextAVTransportURI)).To(BeFalse())
		})
	})

	Describe("Play", func() {
		It("sends InstanceID then Speed in order", func() {
			Expect(client.Play(context.Background(), 0, "2")).To(Succeed())
			request := fake.lastRequest()
			Expect(request).To(ContainSubstring(`<u:Play xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">`))
			Expect(request).To(ContainSubstring("<InstanceID>0</InstanceID><Speed>2</Speed>"))
		})
	})

	Describe("unsupported actions", func() {
		It("fails locally without a request", func() {
			err := client.SetNextTransportURI(context.Background(), 0, "http://x", "")
			Expect(errors.Is(err, upnpav.ErrActionNotSupported)).To(BeTrue())
			Expect(fake.lastRequest()).To(BeEmpty())
		})
	})

	Describe("Seek", func() {
		It("passes the raw target through", func() {
			Expect(client.Seek(context.Background(), 0, SeekRelTime, "0:01:30")).To(Succeed())
			request := fake.lastRequest()
			Expect(request).To(ContainSubstring("<Unit>REL_TIME</Unit>"))
			Expect(request).To(ContainSubstring("<Target>0:01:30</Target>"))
		})
	})

	Describe("GetTransportInfo", func() {
		It("parses the transport state", func() {
			fake.respond = func(string) string {
				return `<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>
<u:GetTransportInfoResponse xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">
<CurrentTransportState>PLAYING</CurrentTransportState>
<CurrentTransportStatus>OK</CurrentTransportStatus>
<CurrentSpeed>1</CurrentSpeed>
</u:GetTransportInfoResponse></s:Body></s:Envelope>`
			}
			info, err := client.GetTransportInfo(context.Background(), 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(info.State).To(Equal(StatePlaying))
			Expect(info.Speed).To(Equal("1"))
		})
	})

	Describe("error mapping", func() {
		It("maps code 701 to ErrTransitionNotAvailable", func() {
			fake.status = http.StatusInternalServerError
			fake.respond = func(string) string {
				return `<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><s:Fault>
<detail><UPnPError xmlns="urn:schemas-upnp-org:control-1-0"><errorCode>701</errorCode><errorDescription>denied</errorDescription></UPnPError></detail>
</s:Fault></s:Body></s:Envelope>`
			}
			err := client.Play(context.Background(), 0, "1")
			Expect(errors.Is(err, ErrTransitionNotAvailable)).To(BeTrue())
			var upnpErr *upnpav.UPnPError
			Expect(errors.As(err, &upnpErr)).To(BeTrue())
			Expect(upnpErr.Code).To(Equal(701))
		})
	})
})

var _ = Describe("ParseTransportActions", func() {
	It("maps tokens including the Prev abbreviation and skips unknowns", func() {
		actions := ParseTransportActions("Prev,Next,Stop,X-SonosSpecial")
		Expect(actions).To(Equal([]Action{Previous, Next, Stop}))
	})

	It("handles whitespace and empties", func() {
		Expect(ParseTransportActions(" Play , Pause ,")).To(Equal([]Action{Play, Pause}))
		Expect(ParseTransportActions("")).To(BeNil())
	})
})

var _ = Describe("Action name round trip", func() {
	It("is a bijection over the closed set", func() {
		for action, name := range actionNames {
			back, ok := ActionFromString(name)
			Expect(ok).To(BeTrue())
			Expect(back).To(Equal(action))
		}
	})
})
