package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/avshare/termrelay/internal/config"
	"github.com/avshare/termrelay/internal/events"
	"github.com/avshare/termrelay/internal/identity"
	"github.com/avshare/termrelay/internal/registry"
	"github.com/avshare/termrelay/internal/room"
)

// upgrader is shared by every endpoint. Origin is restricted to same-host
// requests; non-browser producer/viewer clients typically send no Origin
// header at all, which is allowed through.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// timeoutMiddleware skips the request timeout for the long-lived websocket
// endpoints; everything else gets a bounded deadline.
func timeoutMiddleware(timeout time.Duration, streamingPrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range streamingPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			middleware.Timeout(timeout)(next).ServeHTTP(w, r)
		})
	}
}

// Server wires the four logical endpoints onto a chi router.
type Server struct {
	cfg      *config.Config
	router   *chi.Mux
	httpSrv  *http.Server
	bus      *events.Bus
	reg      *registry.Registry
	broker   *room.Broker
	tokens   identity.TokenVerifier
	partAuth identity.ParticipantAuthenticator
}

func New(cfg *config.Config, bus *events.Bus, reg *registry.Registry, broker *room.Broker, tokens identity.TokenVerifier, partAuth identity.ParticipantAuthenticator) *Server {
	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		bus:      bus,
		reg:      reg,
		broker:   broker,
		tokens:   tokens,
		partAuth: partAuth,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(timeoutMiddleware(30*time.Second, "/control/", "/terminal-data/", "/terminal/", "/jam/"))

	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Get("/control/{sessionId}", s.handleControl)
	s.router.Get("/terminal-data/{sessionId}/{terminalName}", s.handleData)
	s.router.Get("/terminal/{sessionId}", s.handleViewer)
	s.router.Get("/jam/{roomId}", s.handleJam)
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.reg.Shutdown()
	if s.bus != nil {
		_ = s.bus.Close()
	}
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}
