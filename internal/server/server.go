package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"leak-sentinel/internal/config"
	"leak-sentinel/internal/heapstat"
)

// Server owns the listening socket for the process under test. Start
// and Stop are idempotent.
type Server struct {
	cfg       *config.Config
	reg       *heapstat.Registry
	collector *heapstat.Collector

	mu      sync.Mutex
	srv     *http.Server
	ln      net.Listener
	started bool
	stopped bool

	retained retainSet
}

// retainSet pins per-request objects for the lifetime of the process,
// which is the leak this harness exists to reproduce.
type retainSet struct {
	mu   sync.Mutex
	objs []interface{}
}

func (rs *retainSet) add(objs ...interface{}) {
	rs.mu.Lock()
	rs.objs = append(rs.objs, objs...)
	rs.mu.Unlock()
}

func New(cfg *config.Config, reg *heapstat.Registry, collector *heapstat.Collector) *Server {
	s := &Server{cfg: cfg, reg: reg, collector: collector}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/memory", s.handleMemory)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.observe(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the socket and serves in the background. Calling Start
// on a running or stopped server is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return nil
	}

	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ln = ln
	s.started = true

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("serve error: %v", err)
		}
	}()
	return nil
}

// Stop closes the listener and drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	return s.srv.Shutdown(ctx)
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Handler exposes the instrumented mux for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

type requestRecord struct {
	Method string
	Path   string
	At     time.Time
}

type responseRecord struct {
	Status int
	At     time.Time
}

// observe wraps the mux with the per-request object accounting. In
// leaky mode the header clone, request record, response record, a
// scratch buffer, and a closure over the records are all retained for
// the process lifetime; otherwise they are tracked with a finalizer so
// counts fall back once the GC reclaims them.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := r.Header.Clone()
		req := &requestRecord{Method: r.Method, Path: r.URL.Path, At: time.Now()}
		resp := &responseRecord{Status: http.StatusOK, At: time.Now()}
		buf := make([]byte, 1024)
		done := func() { resp.At = time.Now() }

		if s.cfg.LeakyEnabled() {
			s.reg.Track(config.TypeHTTPHeader)
			s.reg.Track(config.TypeHTTPRequest)
			s.reg.Track(config.TypeHTTPResponse)
			s.reg.Track(config.TypeBuffer)
			s.reg.Track(config.TypeClosure)
			s.retained.add(hdr, req, resp, buf, done)
		} else {
			s.reg.TrackFinalized(config.TypeHTTPHeader, &hdr)
			s.reg.TrackFinalized(config.TypeHTTPRequest, req)
			s.reg.TrackFinalized(config.TypeHTTPResponse, resp)
			s.reg.TrackFinalized(config.TypeBuffer, &buf)
			s.reg.TrackFinalized(config.TypeClosure, &done)
		}
		s.reg.SetCount(config.TypeGoroutine, uint64(runtime.NumGoroutine()))

		next.ServeHTTP(w, r)
		done()
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
