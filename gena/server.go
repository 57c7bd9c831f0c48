// Package gena hosts the HTTP callback endpoint UPnP devices post NOTIFY
// events to, and fans each subscription's events out on its own channel.
package gena

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rosschurchill/upnpav/log"
)

// Event is one GENA NOTIFY delivery.
type Event struct {
	SID  string
	Seq  uint32
	Body []byte
}

// Registration is one callback slot. Events arrive on Events until
// Unregister is called with the token.
type Registration struct {
	Token  string
	Events chan Event
}

const eventBuffer = 16

func init() {
	chi.RegisterMethod("NOTIFY")
}

// Server owns the NOTIFY HTTP listener. One server is shared by every
// subscription of a control point.
type Server struct {
	mu      sync.Mutex
	subs    map[string]*Registration
	httpSrv *http.Server
	addr    string
	port    int
	running bool
}

// NewServer returns a callback server that will bind to addr ("host:port";
// port 0 picks a free port).
func NewServer(addr string) *Server {
	return &Server{
		subs: map[string]*Registration{},
		addr: addr,
	}
}

// Start binds the listener and begins serving NOTIFY requests.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	listener, err := net.Listen("tcp4", s.addr)
	if err != nil {
		return err
	}
	s.port = listener.Addr().(*net.TCPAddr).Port

	router := chi.NewRouter()
	router.Handle("/events/{token}", http.HandlerFunc(s.handleNotify))

	s.httpSrv = &http.Server{Handler: router}
	s.running = true

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "GENA callback server failed", err)
		}
	}()

	log.Debug(ctx, "GENA callback server listening", "port", s.port)
	return nil
}

// Stop shuts the listener down and closes all registered channels.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	srv := s.httpSrv
	for token, reg := range s.subs {
		close(reg.Events)
		delete(s.subs, token)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// Register allocates a callback slot and returns its registration.
func (s *Server) Register() *Registration {
	reg := &Registration{
		Token:  uuid.NewString(),
		Events: make(chan Event, eventBuffer),
	}
	s.mu.Lock()
	s.subs[reg.Token] = reg
	s.mu.Unlock()
	return reg
}

// Unregister releases the slot and closes its channel.
func (s *Server) Unregister(token string) {
	s.mu.Lock()
	reg := s.subs[token]
	delete(s.subs, token)
	s.mu.Unlock()
	if reg != nil {
		close(reg.Events)
	}
}

// CallbackURL returns the URL a device should NOTIFY for the given token.
func (s *Server) CallbackURL(token string) string {
	return "http://" + net.JoinHostPort(LocalIP(), strconv.Itoa(s.port)) + "/events/" + token
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != "NOTIFY" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("NT") != "upnp:event" || r.Header.Get("NTS") != "upnp:propchange" {
		http.Error(w, "Invalid NT/NTS", http.StatusBadRequest)
		return
	}
	sid := r.Header.Get("SID")
	if sid == "" {
		http.Error(w, "Missing SID", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	seq, _ := strconv.ParseUint(r.Header.Get("SEQ"), 10, 32)

	token := chi.URLParam(r, "token")
	s.mu.Lock()
	reg := s.subs[token]
	s.mu.Unlock()

	if reg == nil {
		// Stale callback from an unsubscribed service; acknowledge and drop.
		w.WriteHeader(http.StatusOK)
		return
	}

	select {
	case reg.Events <- Event{SID: sid, Seq: uint32(seq), Body: body}:
	default:
		log.Warn(r.Context(), "Dropping GENA event, consumer too slow", "sid", sid, "seq", seq)
	}
	w.WriteHeader(http.StatusOK)
}

// LocalIP returns the first non-loopback IPv4 address, for building
// LAN-reachable callback and playlist URLs.
func LocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
					return ipnet.IP.String()
				}
			}
		}
	}
	return "127.0.0.1"
}
