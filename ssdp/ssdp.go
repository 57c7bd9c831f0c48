// Package ssdp implements the SSDP 1.0 wire format and the UDP collaborator
// the device scanner listens on: multicast NOTIFY reception and unicast
// M-SEARCH request/response.
package ssdp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rosschurchill/upnpav/conf"
	"github.com/rosschurchill/upnpav/log"
)

const (
	// MulticastAddr is the well-known SSDP multicast group.
	MulticastAddr = "239.255.255.250:1900"

	// All is the search target matching every device and service.
	All = "ssdp:all"

	ntsAlive  = "ssdp:alive"
	ntsByeBye = "ssdp:byebye"

	// DefaultMaxAge is assumed when an advert carries no CACHE-CONTROL.
	DefaultMaxAge = 1800

	readBufferSize = 65535
)

// NotificationType classifies an SSDP message seen by the listener.
type NotificationType int

const (
	Alive NotificationType = iota
	ByeBye
	SearchResult
)

func (t NotificationType) String() string {
	switch t {
	case Alive:
		return "alive"
	case ByeBye:
		return "byebye"
	case SearchResult:
		return "search-result"
	}
	return "unknown"
}

// DeviceNotificationInfo is the parsed form of one SSDP message.
type DeviceNotificationInfo struct {
	Type       NotificationType
	UDN        string
	DeviceType string
	Location   string
	Expires    int
	USN        string
}

// Handler receives parsed notifications. Called from the listener goroutine
// and from each running Search; implementations must not block for long.
type Handler func(DeviceNotificationInfo)

// Listener owns the SSDP sockets: a multicast socket for NOTIFY traffic and
// short-lived unicast sockets for M-SEARCH.
type Listener struct {
	handler Handler

	mu      sync.Mutex
	conn    *net.UDPConn
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewListener returns a listener delivering notifications to handler.
func NewListener(handler Handler) *Listener {
	return &Listener{handler: handler}
}

// Start joins the multicast group and begins delivering NOTIFY messages.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve SSDP address: %w", err)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("failed to listen on multicast: %w", err)
	}
	if err := conn.SetReadBuffer(readBufferSize); err != nil {
		log.Warn(ctx, "Failed to set SSDP read buffer", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	l.conn = conn
	l.cancel = cancel
	l.running = true

	l.wg.Add(1)
	go l.listen(ctx, conn)
	return nil
}

// Stop leaves the multicast group and stops delivery.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.cancel()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	conn.Close()
	l.wg.Wait()
}

func (l *Listener) listen(ctx context.Context, conn *net.UDPConn) {
	defer l.wg.Done()
	buf := make([]byte, 2048)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			continue
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error(ctx, "Error reading SSDP packet", err)
			continue
		}

		msg := string(buf[:n])
		if !strings.HasPrefix(msg, "NOTIFY") {
			continue
		}
		if info, ok := ParseNotification(msg); ok {
			l.handler(info)
		}
	}
}

// Search emits an M-SEARCH for the given target and delivers responses as
// SearchResult notifications until the configured search window elapses.
func (l *Listener) Search(ctx context.Context, searchTarget string) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return fmt.Errorf("failed to create UDP socket: %w", err)
	}
	defer conn.Close()

	multicastAddr, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve multicast address: %w", err)
	}
	request := BuildMSearchRequest(searchTarget)
	if _, err := conn.WriteToUDP([]byte(request), multicastAddr); err != nil {
		return fmt.Errorf("failed to send M-SEARCH: %w", err)
	}
	log.Debug(ctx, "Sent SSDP M-SEARCH", "st", searchTarget)

	timeout := conf.Server.Scanner.SearchTimeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetReadDeadline(deadline)

	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return nil
			}
			return err
		}
		if info, ok := ParseSearchResponse(string(buf[:n])); ok {
			l.handler(info)
		}
	}
}

// BuildMSearchRequest renders an M-SEARCH request for the given target.
func BuildMSearchRequest(searchTarget string) string {
	return fmt.Sprintf(
		"M-SEARCH * HTTP/1.1\r\n"+
			"HOST: %s\r\n"+
			"MAN: \"ssdp:discover\"\r\n"+
			"MX: 2\r\n"+
			"ST: %s\r\n"+
			"USER-AGENT: upnpav/1.0 UPnP/1.0\r\n"+
			"\r\n",
		MulticastAddr, searchTarget)
}

// ParseNotification parses a NOTIFY message. Returns false for messages that
// are not device adverts (missing USN) or carry an unknown NTS.
func ParseNotification(msg string) (DeviceNotificationInfo, bool) {
	info := DeviceNotificationInfo{
		USN:        extractHeader(msg, "USN"),
		DeviceType: extractHeader(msg, "NT"),
		Location:   extractHeader(msg, "LOCATION"),
		Expires:    parseMaxAge(extractHeader(msg, "CACHE-CONTROL")),
	}
	switch extractHeader(msg, "NTS") {
	case ntsAlive:
		info.Type = Alive
	case ntsByeBye:
		info.Type = ByeBye
	default:
		return DeviceNotificationInfo{}, false
	}
	info.UDN = udnFromUSN(info.USN)
	if info.UDN == "" {
		return DeviceNotificationInfo{}, false
	}
	return info, true
}

// ParseSearchResponse parses an M-SEARCH response (HTTP/1.1 200 OK).
func ParseSearchResponse(msg string) (DeviceNotificationInfo, bool) {
	if !strings.HasPrefix(msg, "HTTP/1.1 200") {
		return DeviceNotificationInfo{}, false
	}
	info := DeviceNotificationInfo{
		Type:       SearchResult,
		USN:        extractHeader(msg, "USN"),
		DeviceType: extractHeader(msg, "ST"),
		Location:   extractHeader(msg, "LOCATION"),
		Expires:    parseMaxAge(extractHeader(msg, "CACHE-CONTROL")),
	}
	info.UDN = udnFromUSN(info.USN)
	if info.UDN == "" {
		return DeviceNotificationInfo{}, false
	}
	return info, true
}

// udnFromUSN extracts the uuid:... prefix from a USN like
// "uuid:xyz::urn:schemas-upnp-org:device:MediaServer:1".
func udnFromUSN(usn string) string {
	if usn == "" {
		return ""
	}
	if idx := strings.Index(usn, "::"); idx != -1 {
		return usn[:idx]
	}
	return usn
}

func extractHeader(msg, header string) string {
	headerPrefix := header + ":"
	for _, line := range strings.Split(msg, "\r\n") {
		if strings.HasPrefix(strings.ToUpper(line), strings.ToUpper(headerPrefix)) {
			return strings.TrimSpace(line[len(headerPrefix):])
		}
	}
	return ""
}

func parseMaxAge(cacheControl string) int {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if value, ok := strings.CutPrefix(part, "max-age="); ok {
			if age, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && age > 0 {
				return age
			}
		}
	}
	return DefaultMaxAge
}
