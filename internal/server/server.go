// Package server exposes the store over a loopback HTTP+JSON surface with a
// fixed route vocabulary. Every /v1 route requires the bearer credential
// minted at daemon start; everything outside the vocabulary is 404.
package server

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkdir700/pi-team/internal/model"
	"github.com/mkdir700/pi-team/internal/store"
)

// Config holds the HTTP surface configuration.
type Config struct {
	Store           *store.Store
	Token           string
	Version         string
	DefaultLeaseTTL time.Duration
	Log             zerolog.Logger
}

// Server routes the fixed verb/path vocabulary to store operations.
type Server struct {
	store      *store.Store
	token      string
	version    string
	defaultTTL time.Duration
	log        zerolog.Logger
	handler    http.Handler
	srv        *http.Server
}

// New builds the route table. The mux patterns carry no method; each handler
// switches on it so that anything outside the vocabulary, a method mismatch
// included, falls through to a JSON 404 instead of the mux's automatic 405.
func New(cfg Config) *Server {
	s := &Server{
		store:      cfg.Store,
		token:      cfg.Token,
		version:    cfg.Version,
		defaultTTL: cfg.DefaultLeaseTTL,
		log:        cfg.Log,
	}
	if s.version == "" {
		s.version = model.Version
	}
	if s.defaultTTL <= 0 {
		s.defaultTTL = time.Minute
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/teams", s.handleTeams)
	mux.HandleFunc("/v1/teams/{id}", s.handleTeam)
	mux.HandleFunc("/v1/tasks", s.handleTasks)
	mux.HandleFunc("/v1/tasks/{id}", s.handleTask)
	mux.HandleFunc("/v1/tasks/{id}/{action}", s.handleTaskAction)
	mux.HandleFunc("/v1/threads", s.handleThreads)
	mux.HandleFunc("/v1/threads/search", s.handleThreadSearch)
	mux.HandleFunc("/v1/threads/{id}/messages", s.handleThreadMessages)
	mux.HandleFunc("/v1/threads/{id}/tail", s.handleThreadTail)
	mux.HandleFunc("/v1/threads/{id}/link", s.handleThreadLink)
	mux.HandleFunc("/v1/inbox", s.handleInbox)
	mux.HandleFunc("/v1/can-write", s.handleCanWrite)
	mux.HandleFunc("/", s.handleUnknown)

	s.handler = s.withAccessLog(s.withAuth(mux))
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the full middleware chain, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on lis until Shutdown. The daemon hands in a
// listener already bound to a loopback address.
func (s *Server) Serve(lis net.Listener) error {
	err := s.srv.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// withAuth gates every /v1 route behind the bearer credential. /healthz
// stays open so liveness probes need no secret.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
				s.writeError(w, model.Unauthorized("missing or invalid bearer token"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
