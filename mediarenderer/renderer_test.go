package mediarenderer

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rosschurchill/upnpav/avtransport"
	"github.com/rosschurchill/upnpav/connectionmanager"
	"github.com/rosschurchill/upnpav/didl"
	"github.com/rosschurchill/upnpav/log"
)

func TestMediaRenderer(t *testing.T) {
	log.SetLevel(log.LevelFatal)
	RegisterFailHandler(Fail)
	RunSpecs(t, "MediaRenderer Suite")
}

func mustProtocolInfo(s string) didl.ProtocolInfo {
	pi, err := didl.ParseProtocolInfo(s)
	Expect(err).ToNot(HaveOccurred())
	return pi
}

var _ = Describe("playback state machine", func() {
	var renderer *Renderer

	BeforeEach(func() {
		renderer = New(nil, nil)
	})

	It("derives states solely from TransportState", func() {
		renderer.handleTransportEvent(map[avtransport.Variable]string{
			avtransport.TransportState: "PLAYING",
		})
		Expect(renderer.State()).To(Equal(Playing))

		renderer.handleTransportEvent(map[avtransport.Variable]string{
			avtransport.TransportState: "PAUSED_PLAYBACK",
		})
		Expect(renderer.State()).To(Equal(Paused))

		renderer.handleTransportEvent(map[avtransport.Variable]string{
			avtransport.TransportState: "TRANSITIONING",
		})
		Expect(renderer.State()).To(Equal(Transitioning))

		renderer.handleTransportEvent(map[avtransport.Variable]string{
			avtransport.TransportState: "STOPPED",
		})
		Expect(renderer.State()).To(Equal(Stopped))
	})

	It("fires the state signal only on transitions", func() {
		var transitions []PlaybackState
		renderer.OnStateChanged(func(s PlaybackState) { transitions = append(transitions, s) })

		event := map[avtransport.Variable]string{avtransport.TransportState: "PLAYING"}
		renderer.handleTransportEvent(event)
		renderer.handleTransportEvent(event)
		renderer.handleTransportEvent(map[avtransport.Variable]string{avtransport.TransportState: "STOPPED"})

		Expect(transitions).To(Equal([]PlaybackState{Playing, Stopped}))
	})

	It("caches track fields and derives available actions", func() {
		renderer.handleTransportEvent(map[avtransport.Variable]string{
			avtransport.TransportState:          "PLAYING",
			avtransport.CurrentTrackURI:         "http://trackurl.mp3",
			avtransport.CurrentTrackDuration:    "0:03:25",
			avtransport.CurrentTransportActions: "Prev,Next,Stop",
		})

		Expect(renderer.CurrentTrackURI()).To(Equal("http://trackurl.mp3"))
		Expect(renderer.CurrentTrackDuration()).To(Equal(3*time.Minute + 25*time.Second))
		Expect(renderer.AvailableActions()).To(ConsistOf(
			avtransport.Previous, avtransport.Next, avtransport.Stop))
	})
})

var _ = Describe("SupportsPlayback", func() {
	var renderer *Renderer

	BeforeEach(func() {
		renderer = New(nil, nil)
		renderer.sinks = []didl.ProtocolInfo{
			mustProtocolInfo("http-get:*:audio/mpeg:*"),
			mustProtocolInfo("http-get:*:audio/flac:*"),
		}
	})

	It("returns the first compatible resource", func() {
		item := didl.NewItem()
		item.Title = "Track"
		item.Class = didl.ClassMusicTrack
		item.Resources = []didl.Resource{
			{URL: "http://server/a.ogg", ProtocolInfo: mustProtocolInfo("http-get:*:audio/ogg:*")},
			{URL: "http://server/a.flac", ProtocolInfo: mustProtocolInfo("http-get:*:audio/flac:*")},
			{URL: "http://server/a.mp3", ProtocolInfo: mustProtocolInfo("http-get:*:audio/mpeg:*")},
		}

		res, ok := renderer.SupportsPlayback(item)
		Expect(ok).To(BeTrue())
		Expect(res.URL).To(Equal("http://server/a.flac"))
	})

	It("rejects items with no compatible resource", func() {
		item := didl.NewItem()
		item.Title = "Video"
		item.Resources = []didl.Resource{
			{URL: "http://server/v.mkv", ProtocolInfo: mustProtocolInfo("http-get:*:video/x-matroska:*")},
		}
		_, ok := renderer.SupportsPlayback(item)
		Expect(ok).To(BeFalse())
	})

	It("honours sink wildcards", func() {
		renderer.sinks = []didl.ProtocolInfo{mustProtocolInfo("http-get:*:*:*")}
		item := didl.NewItem()
		item.Title = "Anything"
		item.Resources = []didl.Resource{
			{URL: "http://server/a.ogg", ProtocolInfo: mustProtocolInfo("http-get:*:audio/ogg:*")},
		}
		_, ok := renderer.SupportsPlayback(item)
		Expect(ok).To(BeTrue())
	})
})

var _ = Describe("connection state", func() {
	It("starts unknown, can fall back to the default instance and reset", func() {
		renderer := New(nil, nil)
		Expect(renderer.Connection().ConnectionID).To(Equal(connectionmanager.UnknownConnectionID))

		renderer.UseDefaultConnection()
		Expect(renderer.Connection().ConnectionID).To(Equal(connectionmanager.DefaultConnectionID))
		Expect(renderer.transportInstance()).To(Equal(0))

		renderer.ResetConnection()
		Expect(renderer.Connection().ConnectionID).To(Equal(connectionmanager.UnknownConnectionID))
	})

	It("routes instance ids from a prepared connection", func() {
		renderer := New(nil, nil)
		renderer.connection = connectionmanager.ConnectionInfo{
			ConnectionID:       4,
			AVTransportID:      7,
			RenderingControlID: 9,
		}
		Expect(renderer.transportInstance()).To(Equal(7))
		Expect(renderer.renderingInstance()).To(Equal(9))
	})
})
