package renderingcontrol

import (
	"context"
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

func TestRenderingControl(t *testing.T) {
	log.SetLevel(log.LevelFatal)
	RegisterFailHandler(Fail)
	RunSpecs(t, "RenderingControl Suite")
}

const scpdFixture = `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList>
    <action><name>GetVolume</name></action>
    <action><name>SetVolume</name></action>
    <action><name>GetMute</name></action>
    <action><name>SetMute</name></action>
  </actionList>
  <serviceStateTable>
    <stateVariable sendEvents="yes"><name>Mute</name><dataType>boolean</dataType></stateVariable>
    <stateVariable sendEvents="yes">
      <name>Volume</name>
      <dataType>ui2</dataType>
      <allowedValueRange>
        <minimum>10</minimum>
        <maximum>110</maximum>
        <step>1</step>
      </allowedValueRange>
    </stateVariable>
  </serviceStateTable>
</scpd>`

var _ = Describe("Client", func() {
	var (
		client   *Client
		mu       sync.Mutex
		requests []string
	)

	lastRequest := func() string {
		mu.Lock()
		defer mu.Unlock()
		if len(requests) == 0 {
			return ""
		}
		return requests[len(requests)-1]
	}

	BeforeEach(func() {
		mu.Lock()
		requests = nil
		mu.Unlock()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/scpd.xml":
				w.Write([]byte(scpdFixture))
			case "/control":
				body, _ := io.ReadAll(r.Body)
				mu.Lock()
				requests = append(requests, string(body))
				mu.Unlock()
				w.Write([]byte(`<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>
<u:GetVolumeResponse xmlns:u="urn:schemas-upnp-org:service:RenderingControl:1"><CurrentVolume>37</CurrentVolume></u:GetVolumeResponse>
</s:Body></s:Envelope>`))
			}
		}))
		DeferCleanup(srv.Close)

		dev := upnpav.Device{
			UDN:  "uuid:renderer-1",
			Type: upnpav.DeviceMediaRenderer,
			Services: map[upnpav.ServiceType]upnpav.Service{
				upnpav.ServiceRenderingControl: {
					Type:       upnpav.ServiceRenderingControl,
					ID:         "urn:upnp-org:serviceId:RenderingControl",
					ControlURL: srv.URL + "/control",
					SCPDURL:    srv.URL + "/scpd.xml",
				},
			},
		}

		client = New(soap.NewClient(), nil)
		Expect(client.SetDevice(context.Background(), dev)).To(Succeed())
	})

	It("reads the volume range from the SCPD", func() {
		r := client.VolumeRange()
		Expect(r.Min).To(Equal(10))
		Expect(r.Max).To(Equal(110))
	})

	DescribeTable("volume clamping",
		func(requested int, sent string) {
			Expect(client.SetVolume(context.Background(), 0, requested)).To(Succeed())
			Expect(lastRequest()).To(ContainSubstring("<DesiredVolume>" + sent + "</DesiredVolume>"))
		},
		Entry("inside the range", 69, "69"),
		Entry("above the maximum", 120, "110"),
		Entry("below the minimum", 0, "10"),
	)

	It("addresses the Master channel", func() {
		Expect(client.SetVolume(context.Background(), 0, 50)).To(Succeed())
		Expect(lastRequest()).To(ContainSubstring("<Channel>Master</Channel>"))
	})

	It("reads the current volume", func() {
		volume, err := client.GetVolume(context.Background(), 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(volume).To(Equal(37))
	})

	It("caches the volume from events", func() {
		client.interceptEvent(map[Variable]string{Volume: "55"})
		volume, ok := client.CachedVolume()
		Expect(ok).To(BeTrue())
		Expect(volume).To(Equal(55))
	})
})
