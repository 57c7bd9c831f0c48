package controlpoint

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rosschurchill/upnpav/conf"
	"github.com/rosschurchill/upnpav/gena"
	"github.com/rosschurchill/upnpav/log"
)

// Webserver hosts generated playlist files for renderers to fetch. Files
// live in memory under a virtual directory; range requests are honoured.
type Webserver struct {
	mu         sync.RWMutex
	files      map[string]hostedFile
	virtualDir string
	httpSrv    *http.Server
	addr       string
	port       int
	running    bool
}

type hostedFile struct {
	contentType string
	body        []byte
	added       time.Time
}

// NewWebserver returns a webserver that will bind to addr ("host:port";
// port 0 picks a free port) and serve under the configured virtual
// directory.
func NewWebserver(addr string) *Webserver {
	virtualDir := conf.Server.Webserver.VirtualDir
	if virtualDir == "" {
		virtualDir = "playlists"
	}
	return &Webserver{
		files:      map[string]hostedFile{},
		virtualDir: virtualDir,
		addr:       addr,
	}
}

// Start binds the listener.
func (w *Webserver) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	listener, err := net.Listen("tcp4", w.addr)
	if err != nil {
		return err
	}
	w.port = listener.Addr().(*net.TCPAddr).Port

	router := chi.NewRouter()
	router.Get("/"+w.virtualDir+"/{name}", w.handleGet)

	w.httpSrv = &http.Server{Handler: router}
	w.running = true

	go func() {
		if err := w.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "Playlist webserver failed", err)
		}
	}()

	log.Debug(ctx, "Playlist webserver listening", "port", w.port, "dir", w.virtualDir)
	return nil
}

// Stop shuts the listener down; hosted files are dropped.
func (w *Webserver) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	srv := w.httpSrv
	w.files = map[string]hostedFile{}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// AddFile stores a file under the virtual directory and returns its
// LAN-reachable URL.
func (w *Webserver) AddFile(name, contentType string, body []byte) string {
	w.mu.Lock()
	w.files[name] = hostedFile{contentType: contentType, body: body, added: time.Now()}
	w.mu.Unlock()
	return w.URLFor(name)
}

// RemoveFile drops a hosted file.
func (w *Webserver) RemoveFile(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.files, name)
}

// URLFor returns the URL a renderer fetches the named file from.
func (w *Webserver) URLFor(name string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	base := conf.Server.BaseURL
	if base == "" {
		base = "http://" + net.JoinHostPort(gena.LocalIP(), strconv.Itoa(w.port))
	}
	return base + "/" + w.virtualDir + "/" + name
}

func (w *Webserver) handleGet(rw http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	w.mu.RLock()
	file, ok := w.files[name]
	w.mu.RUnlock()

	if !ok {
		http.NotFound(rw, r)
		return
	}
	rw.Header().Set("Content-Type", file.contentType)
	// ServeContent handles byte ranges (start-end inclusive) for us.
	http.ServeContent(rw, r, name, file.added, bytes.NewReader(file.body))
}
