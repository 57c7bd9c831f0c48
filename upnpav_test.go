package upnpav

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceTypeFromURN(t *testing.T) {
	assert.Equal(t, DeviceMediaServer, DeviceTypeFromURN("urn:schemas-upnp-org:device:MediaServer:1"))
	assert.Equal(t, DeviceMediaRenderer, DeviceTypeFromURN("urn:schemas-upnp-org:device:MediaRenderer:2"))
	assert.Equal(t, DeviceOther, DeviceTypeFromURN("urn:schemas-upnp-org:device:ZonePlayer:1"))
}

func TestServiceTypeRoundTrip(t *testing.T) {
	for _, st := range []ServiceType{
		ServiceContentDirectory,
		ServiceConnectionManager,
		ServiceAVTransport,
		ServiceRenderingControl,
	} {
		back, ok := ServiceTypeFromURN(st.URN())
		assert.True(t, ok)
		assert.Equal(t, st, back)
	}
}

func TestServiceTypeFromURNUnknown(t *testing.T) {
	_, ok := ServiceTypeFromURN("urn:schemas-upnp-org:service:ZoneGroupTopology:1")
	assert.False(t, ok)
}

func TestDeviceServiceLookup(t *testing.T) {
	dev := &Device{
		Services: map[ServiceType]Service{
			ServiceContentDirectory: {Type: ServiceContentDirectory, ID: "cd"},
		},
	}
	svc, ok := dev.Service(ServiceContentDirectory)
	assert.True(t, ok)
	assert.Equal(t, "cd", svc.ID)
	assert.True(t, dev.Implements(ServiceContentDirectory))
	assert.False(t, dev.Implements(ServiceAVTransport))
}
