package device

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/soap"
	"github.com/rosschurchill/upnpav/ssdp"
)

// The scanner is driven directly through its notification handler here; the
// SSDP listener itself is exercised in the ssdp package.
var _ = Describe("Scanner", func() {
	var (
		scanner      *Scanner
		srv          *httptest.Server
		discovered   atomic.Int32
		disappeared  atomic.Int32
		descServed   atomic.Int32
		makeAlive    func(location string, expires int) ssdp.DeviceNotificationInfo
		serverType   = upnpav.DeviceMediaServer.URN()
	)

	BeforeEach(func() {
		discovered.Store(0)
		disappeared.Store(0)
		descServed.Store(0)

		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			descServed.Add(1)
			w.Write([]byte(serverDescription))
		}))
		DeferCleanup(srv.Close)

		scanner = NewScanner(soap.NewClient(), upnpav.DeviceMediaServer)
		scanner.OnDeviceDiscovered(func(upnpav.Device) { discovered.Add(1) })
		scanner.OnDeviceDisappeared(func(upnpav.Device) { disappeared.Add(1) })

		// Drive the scanner without opening multicast sockets.
		scanner.ctx, scanner.cancel = context.WithCancel(context.Background())
		scanner.running = true
		go scanner.devices.Start()
		DeferCleanup(scanner.devices.Stop)

		makeAlive = func(location string, expires int) ssdp.DeviceNotificationInfo {
			return ssdp.DeviceNotificationInfo{
				Type:       ssdp.Alive,
				UDN:        "uuid:server-1",
				DeviceType: serverType,
				Location:   location,
				Expires:    expires,
			}
		}
	})

	It("adopts a device once per lifecycle", func() {
		scanner.handleNotification(makeAlive(srv.URL+"/desc.xml", 1800))
		Eventually(discovered.Load).Should(Equal(int32(1)))

		dev, err := scanner.GetDevice("uuid:server-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(dev.FriendlyName).To(Equal("Music Box"))
		Expect(dev.Deadline).To(BeTemporally(">", time.Now()))

		// Re-advert with the same location: deadline extended, no event, no
		// second descriptor fetch.
		fetches := descServed.Load()
		scanner.handleNotification(makeAlive(srv.URL+"/desc.xml", 1800))
		Consistently(discovered.Load, "200ms").Should(Equal(int32(1)))
		Expect(descServed.Load()).To(Equal(fetches))
	})

	It("ignores notifications for other device kinds", func() {
		info := makeAlive(srv.URL+"/desc.xml", 1800)
		info.DeviceType = upnpav.DeviceMediaRenderer.URN()
		scanner.handleNotification(info)
		Consistently(discovered.Load, "200ms").Should(Equal(int32(0)))
	})

	It("re-fetches the description on a location change without a new event", func() {
		scanner.handleNotification(makeAlive(srv.URL+"/desc.xml", 1800))
		Eventually(discovered.Load).Should(Equal(int32(1)))
		fetches := descServed.Load()

		scanner.handleNotification(makeAlive(srv.URL+"/other.xml", 1800))
		Eventually(descServed.Load).Should(Equal(fetches + 1))
		Consistently(discovered.Load, "200ms").Should(Equal(int32(1)))

		dev, err := scanner.GetDevice("uuid:server-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(dev.Location).To(Equal(srv.URL + "/other.xml"))
	})

	It("emits disappeared exactly once on byebye", func() {
		scanner.handleNotification(makeAlive(srv.URL+"/desc.xml", 1800))
		Eventually(discovered.Load).Should(Equal(int32(1)))

		byeBye := ssdp.DeviceNotificationInfo{
			Type:       ssdp.ByeBye,
			UDN:        "uuid:server-1",
			DeviceType: serverType,
		}
		scanner.handleNotification(byeBye)
		Eventually(disappeared.Load).Should(Equal(int32(1)))

		_, err := scanner.GetDevice("uuid:server-1")
		Expect(err).To(MatchError(upnpav.ErrNoSuchDevice))

		// A byebye for an absent device is a no-op.
		scanner.handleNotification(byeBye)
		Consistently(disappeared.Load, "200ms").Should(Equal(int32(1)))
	})

	It("never emits disappeared without a preceding discovery", func() {
		scanner.handleNotification(ssdp.DeviceNotificationInfo{
			Type:       ssdp.ByeBye,
			UDN:        "uuid:never-seen",
			DeviceType: serverType,
		})
		Consistently(disappeared.Load, "200ms").Should(Equal(int32(0)))
	})

	It("expires devices whose deadline passes", func() {
		scanner.handleNotification(makeAlive(srv.URL+"/desc.xml", 1))
		Eventually(discovered.Load).Should(Equal(int32(1)))

		Eventually(disappeared.Load, "3s").Should(Equal(int32(1)))
		_, err := scanner.GetDevice("uuid:server-1")
		Expect(err).To(MatchError(upnpav.ErrNoSuchDevice))
	})

	It("drops devices with unfetchable descriptions", func() {
		scanner.handleNotification(makeAlive("http://127.0.0.1:1/desc.xml", 1800))
		Consistently(discovered.Load, "300ms").Should(Equal(int32(0)))
		Expect(scanner.GetDevices()).To(BeEmpty())
	})
})
