package device

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/log"
	"github.com/rosschurchill/upnpav/soap"
	"github.com/rosschurchill/upnpav/ssdp"
	"golang.org/x/sync/errgroup"
)

// Scanner maintains the UDN → Device map for the configured device kinds.
// It is the single writer to the map; consumers get copies.
type Scanner struct {
	kinds    []upnpav.DeviceType
	client   *soap.Client
	listener *ssdp.Listener

	devices *ttlcache.Cache[string, *upnpav.Device]

	mu           sync.Mutex
	running      bool
	fetching     map[string]bool
	onDiscovered []func(upnpav.Device)
	onDisappear  []func(upnpav.Device)
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewScanner returns a scanner tracking the given device kinds. With no
// kinds, every AV device is tracked.
func NewScanner(client *soap.Client, kinds ...upnpav.DeviceType) *Scanner {
	if len(kinds) == 0 {
		kinds = []upnpav.DeviceType{upnpav.DeviceMediaServer, upnpav.DeviceMediaRenderer}
	}
	s := &Scanner{
		kinds:    kinds,
		client:   client,
		fetching: map[string]bool{},
	}
	s.listener = ssdp.NewListener(s.handleNotification)
	s.devices = ttlcache.New[string, *upnpav.Device](
		ttlcache.WithDisableTouchOnHit[string, *upnpav.Device](),
	)
	s.devices.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *upnpav.Device]) {
		// The cache lock is held here; hand the signal off so subscribers
		// never run under it.
		dev := *item.Value()
		go s.emitDisappeared(dev)
	})
	return s
}

// OnDeviceDiscovered registers a handler fired exactly once per device
// lifecycle, after the device was adopted.
func (s *Scanner) OnDeviceDiscovered(fn func(upnpav.Device)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDiscovered = append(s.onDiscovered, fn)
}

// OnDeviceDisappeared registers a handler fired exactly once per device
// lifecycle, on byebye or deadline expiry.
func (s *Scanner) OnDeviceDisappeared(fn func(upnpav.Device)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisappear = append(s.onDisappear, fn)
}

// Start begins listening for SSDP notifications and schedules the expiry
// sweep. Existing device records survive a Stop/Start cycle.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	if err := s.listener.Start(s.ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	// ttlcache's cleanup loop is the expiry sweep; evictions fire the
	// disappeared signal.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.devices.Start()
	}()

	log.Info(s.ctx, "Device scanner started", "kinds", s.kinds)
	return nil
}

// Stop ceases listening and cancels the sweep. The device map is retained.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.listener.Stop()
	s.devices.Stop()
	s.cancel()
	s.wg.Wait()
	log.Info("Device scanner stopped")
}

// Refresh emits an active M-SEARCH for every configured kind. Idempotent;
// may be called any time after Start.
func (s *Scanner) Refresh(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, kind := range s.kinds {
		kind := kind
		g.Go(func() error {
			return s.listener.Search(ctx, kind.URN())
		})
	}
	return g.Wait()
}

// GetDevice returns a snapshot of the device with the given UDN.
func (s *Scanner) GetDevice(udn string) (upnpav.Device, error) {
	item := s.devices.Get(udn)
	if item == nil {
		return upnpav.Device{}, upnpav.ErrNoSuchDevice
	}
	return *item.Value(), nil
}

// GetDevices returns a snapshot of all tracked devices keyed by UDN.
func (s *Scanner) GetDevices() map[string]upnpav.Device {
	result := map[string]upnpav.Device{}
	for udn, item := range s.devices.Items() {
		result[udn] = *item.Value()
	}
	return result
}

func (s *Scanner) handleNotification(info ssdp.DeviceNotificationInfo) {
	if !s.matchesKind(info.DeviceType) {
		return
	}

	switch info.Type {
	case ssdp.ByeBye:
		// Delete fires the eviction callback iff the device was present.
		s.devices.Delete(info.UDN)
		return
	case ssdp.Alive, ssdp.SearchResult:
		s.handleAlive(info)
	}
}

func (s *Scanner) handleAlive(info ssdp.DeviceNotificationInfo) {
	ttl := time.Duration(info.Expires) * time.Second

	if item := s.devices.Get(info.UDN); item != nil {
		dev := item.Value()
		if dev.Location == info.Location {
			// Re-advert: extend the deadline, no event.
			updated := *dev
			updated.Deadline = time.Now().Add(ttl)
			s.devices.Set(info.UDN, &updated, ttl)
			return
		}
		// Location changed: re-fetch the description, keep the identity.
		s.fetchAsync(info, ttl, false)
		return
	}

	s.fetchAsync(info, ttl, true)
}

// fetchAsync downloads and parses the device description off the listener
// goroutine, then inserts the device. discovered selects whether the
// DeviceDiscovered signal fires (it does not on a location change).
func (s *Scanner) fetchAsync(info ssdp.DeviceNotificationInfo, ttl time.Duration, discovered bool) {
	s.mu.Lock()
	if !s.running || s.fetching[info.UDN] {
		s.mu.Unlock()
		return
	}
	s.fetching[info.UDN] = true
	ctx := s.ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.fetching, info.UDN)
			s.mu.Unlock()
		}()

		body, err := s.client.Get(ctx, info.Location)
		if err != nil {
			log.Warn(ctx, "Failed to fetch device description", "location", info.Location, err)
			return
		}
		dev, err := ParseDescription(body, info.Location)
		if err != nil {
			log.Warn(ctx, "Discarding device with bad description", "location", info.Location, err)
			return
		}
		if dev.UDN == "" || !s.matchesDevice(dev.Type) {
			return
		}
		dev.Deadline = time.Now().Add(ttl)
		s.devices.Set(dev.UDN, dev, ttl)

		if discovered {
			log.Info(ctx, "Device discovered", "name", dev.FriendlyName, "udn", dev.UDN, "type", dev.Type)
			s.emitDiscovered(*dev)
		} else {
			log.Debug(ctx, "Device location updated", "udn", dev.UDN, "location", info.Location)
		}
	}()
}

func (s *Scanner) matchesKind(deviceTypeURN string) bool {
	kind := upnpav.DeviceTypeFromURN(deviceTypeURN)
	for _, k := range s.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (s *Scanner) matchesDevice(kind upnpav.DeviceType) bool {
	for _, k := range s.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (s *Scanner) emitDiscovered(dev upnpav.Device) {
	s.mu.Lock()
	handlers := append([]func(upnpav.Device){}, s.onDiscovered...)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(dev)
	}
}

func (s *Scanner) emitDisappeared(dev upnpav.Device) {
	s.mu.Lock()
	handlers := append([]func(upnpav.Device){}, s.onDisappear...)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(dev)
	}
}
