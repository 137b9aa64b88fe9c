package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/justestif/song-roulette/internal/catalog"
	"github.com/justestif/song-roulette/internal/realtime"
	"github.com/justestif/song-roulette/internal/room"
)

const (
	// DefaultAddr is the default server address.
	DefaultAddr = "127.0.0.1:8080"

	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

// Deps are the collaborators the handlers drive.
type Deps struct {
	Auth      Authenticator
	NewClient ClientFactory
	Loader    *catalog.Loader
	Catalogs  *catalog.Store
	Status    *catalog.StatusTracker
	Rooms     *room.Registry
	Realtime  *realtime.Controller
	Rand      room.Rand
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr        string
	SessionTTL  time.Duration
	TemplatesFS fs.FS
	StaticFS    fs.FS
	Deps        Deps
}

// Server is the HTTP server for the web application.
type Server struct {
	router    chi.Router
	server    *http.Server
	templates *Templates
	sessions  *SessionStore
	handlers  *Handlers
}

// NewServer creates a new web server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	templates, err := NewTemplates(cfg.TemplatesFS)
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	sessions := NewSessionStore(cfg.SessionTTL)
	handlers := NewHandlers(cfg.Deps, sessions, templates)

	s := &Server{
		router:    chi.NewRouter(),
		templates: templates,
		sessions:  sessions,
		handlers:  handlers,
	}

	s.setupMiddleware()
	s.setupRoutes(cfg.StaticFS)

	// WriteTimeout does not apply to websockets: the upgrade clears deadlines.
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the server's session store.
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes(staticFS fs.FS) {
	h := s.handlers

	s.router.Get("/healthz", h.Healthz)

	// Pages, auth and assets; compression is kept off the websocket route.
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		fileServer := http.FileServer(http.FS(staticFS))
		r.Handle("/static/*", http.StripPrefix("/static/", fileServer))

		r.Get("/", h.Home)
		r.Get("/loading", h.Loading)
		r.Get("/room", h.Room)

		r.Get("/auth/login", h.Login)
		r.Get("/callback", h.Callback)
		r.Post("/auth/logout", h.Logout)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(h.requireSession)

		r.Get("/status", h.Status)
		r.Post("/catalog/reload", h.ReloadCatalog)
		r.Get("/catalog/random", h.RandomTrack)

		r.Post("/rooms", h.CreateRoom)
		r.Post("/rooms/{code}/join", h.JoinRoom)
		r.Post("/rooms/{code}/leave", h.LeaveRoom)
		r.Post("/rooms/{code}/roll", h.Roll)
	})

	s.router.With(h.requireSession).Get("/ws", h.WebSocket)
}

// Run serves until ctx is canceled, then shuts down gracefully.
// Expired sessions are swept in the background while serving.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("module", "web").Str("addr", s.server.Addr).Msgf("Starting server at http://%s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Str("module", "web").Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		log.Info().Str("module", "web").Msg("Server stopped")
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				s.sweepSessions(now)
			}
		}
	})

	return g.Wait()
}

// sweepSessions ends every expired session.
func (s *Server) sweepSessions(now time.Time) int {
	expired := s.sessions.Sweep(now)
	for _, id := range expired {
		s.handlers.endSession(id)
	}
	if len(expired) > 0 {
		log.Info().Str("module", "web").Int("sessions", len(expired)).Msg("expired sessions swept")
	}
	return len(expired)
}
