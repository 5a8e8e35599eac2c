// Package server dispatches inbound TCP connections to the ingestion,
// listener, and admin/API handlers of the broadcast core.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/icestream/icestream/internal/auth"
	"github.com/icestream/icestream/internal/config"
	"github.com/icestream/icestream/internal/stream"
)

// Server owns the registry, the shared credential list, and the single
// plain HTTP listener spec.md's Non-goals require ("no multi-transport
// server, one plain TCP listener only").
type Server struct {
	cfg      *config.Config
	registry *stream.Registry
	auth     *auth.Authenticator
	log      *slog.Logger

	httpServer *http.Server
}

// New constructs a Server bound to cfg, ready to Start.
func New(cfg *config.Config, registry *stream.Registry, authenticator *auth.Authenticator, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		auth:     authenticator,
		log:      logger,
	}
	s.httpServer = &http.Server{
		Handler:           http.HandlerFunc(s.dispatch),
		ReadHeaderTimeout: cfg.Limits.HeaderTimeout,
	}
	return s
}

// Start begins accepting connections on cfg.Address:cfg.Port. It returns
// once the listener is bound; serving happens on a background goroutine,
// matching the teacher's "start then return, log errors async" idiom.
func (s *Server) Start() error {
	addr := s.cfg.Address + ":" + strconv.Itoa(s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.log.Info("listening", "addr", addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("server stopped", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP server down, closing the listener and
// waiting for non-hijacked requests. Hijacked ingestion and listener
// connections are not tracked by http.Server.Shutdown; Stop neither sets
// their disconnect flags nor closes their queues.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// dispatch routes a request to the ingestion, listener, or admin/api
// handler by method and path, per spec.md §2's data flow.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("panic handling connection", "panic", rec, "path", r.URL.Path)
		}
	}()

	p := r.URL.Path
	switch {
	case strings.HasPrefix(p, "/admin/") || strings.HasPrefix(p, "/api/"):
		s.handleAdmin(w, r)
	case r.Method == http.MethodPut || r.Method == "SOURCE":
		s.handleIngest(w, r)
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		s.handleListener(w, r)
	default:
		w.Header().Set("Allow", "GET, SOURCE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}

	s.log.Info("request", "method", r.Method, "path", r.URL.Path,
		"remote_addr", r.RemoteAddr, "duration", time.Since(start))
}

// canonicalizeMount implements spec.md §4.4 step 2 / §4.5 step 1:
// collapse "." and "..", strip a trailing slash (except for the root
// mount itself).
func canonicalizeMount(p string) string {
	cleaned := path.Clean("/" + p)
	if len(cleaned) > 1 {
		cleaned = strings.TrimSuffix(cleaned, "/")
	}
	return cleaned
}

// isReservedMount reports whether p is under /admin or /api, or has a
// parent other than "/" (spec.md §4.4 step 2: "whose parent is not /").
func isReservedMount(p string) bool {
	if strings.HasPrefix(p, "/admin") || strings.HasPrefix(p, "/api") {
		return true
	}
	if p == "/" {
		return true
	}
	dir, _ := path.Split(p)
	return dir != "/"
}
