package device

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/log"
)

func TestDevice(t *testing.T) {
	log.SetLevel(log.LevelFatal)
	RegisterFailHandler(Fail)
	RunSpecs(t, "Device Suite")
}

const serverDescription = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
    <friendlyName>Music Box</friendlyName>
    <UDN>uuid:server-1</UDN>
    <presentationURL>/web/</presentationURL>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:ContentDirectory:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:ContentDirectory</serviceId>
        <controlURL>/ctl/ContentDir</controlURL>
        <eventSubURL>/evt/ContentDir</eventSubURL>
        <SCPDURL>/ContentDir.xml</SCPDURL>
      </service>
      <service>
        <serviceType>urn:schemas-upnp-org:service:ConnectionManager:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:ConnectionManager</serviceId>
        <controlURL>/ctl/ConnMgr</controlURL>
        <eventSubURL>/evt/ConnMgr</eventSubURL>
        <SCPDURL>/ConnMgr.xml</SCPDURL>
      </service>
    </serviceList>
  </device>
</root>`

const embeddedRendererDescription = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:Basic:1</deviceType>
    <friendlyName>Hub</friendlyName>
    <UDN>uuid:hub-1</UDN>
    <deviceList>
      <device>
        <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
        <friendlyName>Speaker</friendlyName>
        <UDN>uuid:renderer-1</UDN>
        <serviceList>
          <service>
            <serviceType>urn:schemas-upnp-org:service:RenderingControl:1</serviceType>
            <serviceId>urn:upnp-org:serviceId:RenderingControl</serviceId>
            <controlURL>/ctl/RC</controlURL>
            <eventSubURL>/evt/RC</eventSubURL>
            <SCPDURL>/RC.xml</SCPDURL>
          </service>
          <service>
            <serviceType>urn:schemas-upnp-org:service:ConnectionManager:1</serviceType>
            <serviceId>urn:upnp-org:serviceId:ConnectionManager</serviceId>
            <controlURL>/ctl/CM</controlURL>
            <eventSubURL>/evt/CM</eventSubURL>
            <SCPDURL>/CM.xml</SCPDURL>
          </service>
        </serviceList>
      </device>
    </deviceList>
  </device>
</root>`

var _ = Describe("ParseDescription", func() {
	It("parses a MediaServer with resolved service URLs", func() {
		dev, err := ParseDescription([]byte(serverDescription), "http://192.168.1.40:8200/rootDesc.xml")
		Expect(err).ToNot(HaveOccurred())
		Expect(dev.UDN).To(Equal("uuid:server-1"))
		Expect(dev.Type).To(Equal(upnpav.DeviceMediaServer))
		Expect(dev.FriendlyName).To(Equal("Music Box"))

		cd, ok := dev.Service(upnpav.ServiceContentDirectory)
		Expect(ok).To(BeTrue())
		Expect(cd.ControlURL).To(Equal("http://192.168.1.40:8200/ctl/ContentDir"))
		Expect(cd.EventSubURL).To(Equal("http://192.168.1.40:8200/evt/ContentDir"))
		Expect(cd.SCPDURL).To(Equal("http://192.168.1.40:8200/ContentDir.xml"))
	})

	It("finds an AV device embedded under a non-AV root", func() {
		dev, err := ParseDescription([]byte(embeddedRendererDescription), "http://192.168.1.61:1400/desc.xml")
		Expect(err).ToNot(HaveOccurred())
		Expect(dev.UDN).To(Equal("uuid:renderer-1"))
		Expect(dev.Type).To(Equal(upnpav.DeviceMediaRenderer))
		Expect(dev.Implements(upnpav.ServiceRenderingControl)).To(BeTrue())
	})

	It("rejects a description without a UDN", func() {
		_, err := ParseDescription([]byte(`<root><device><deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType></device></root>`), "http://x/desc.xml")
		Expect(err).To(HaveOccurred())
	})

	It("rejects a MediaServer missing ContentDirectory", func() {
		desc := `<root><device>
			<deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
			<UDN>uuid:broken</UDN>
		</device></root>`
		_, err := ParseDescription([]byte(desc), "http://x/desc.xml")
		Expect(err).To(HaveOccurred())
	})

	It("rejects a MediaRenderer missing RenderingControl", func() {
		desc := `<root><device>
			<deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
			<UDN>uuid:broken</UDN>
			<serviceList><service>
				<serviceType>urn:schemas-upnp-org:service:ConnectionManager:1</serviceType>
				<serviceId>urn:upnp-org:serviceId:ConnectionManager</serviceId>
				<controlURL>/c</controlURL><eventSubURL>/e</eventSubURL><SCPDURL>/s</SCPDURL>
			</service></serviceList>
		</device></root>`
		_, err := ParseDescription([]byte(desc), "http://x/desc.xml")
		Expect(err).To(HaveOccurred())
	})

	It("prefers URLBase over the location origin", func() {
		desc := `<root>
			<URLBase>http://10.0.0.9:9000/</URLBase>
			<device>
				<deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
				<UDN>uuid:based</UDN>
				<serviceList><service>
					<serviceType>urn:schemas-upnp-org:service:ContentDirectory:1</serviceType>
					<serviceId>urn:upnp-org:serviceId:ContentDirectory</serviceId>
					<controlURL>ctl</controlURL><eventSubURL>evt</eventSubURL><SCPDURL>scpd.xml</SCPDURL>
				</service></serviceList>
			</device>
		</root>`
		dev, err := ParseDescription([]byte(desc), "http://192.168.1.40:8200/rootDesc.xml")
		Expect(err).ToNot(HaveOccurred())
		cd, _ := dev.Service(upnpav.ServiceContentDirectory)
		Expect(cd.ControlURL).To(Equal("http://10.0.0.9:9000/ctl"))
	})
})
