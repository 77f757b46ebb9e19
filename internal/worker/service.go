// Package worker provides the HTTP service of clidesk: the /api surface over
// sessions, projects and the CLI executor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/clidesk/internal/config"
	"github.com/thebtf/clidesk/internal/executor"
	"github.com/thebtf/clidesk/internal/project"
	"github.com/thebtf/clidesk/internal/worker/session"
	"github.com/thebtf/clidesk/internal/worker/sse"
)

// maxBodyBytes limits JSON request bodies.
const maxBodyBytes = 10 << 20

// Deps are the domain services the HTTP layer dispatches to.
type Deps struct {
	Sessions    *session.Manager
	Projects    *project.Manager
	Executor    *executor.Executor
	Chat        *executor.Chat
	Broadcaster *sse.Broadcaster
}

// Service is the worker HTTP service.
type Service struct {
	version string
	config  *config.Config

	sessionManager *session.Manager
	projectManager *project.Manager
	executor       *executor.Executor
	chat           *executor.Chat
	sseBroadcaster *sse.Broadcaster

	router chi.Router
	server *http.Server

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time
	ready     atomic.Bool
}

// NewService wires the router. The service is not ready until Start.
func NewService(version string, cfg *config.Config, deps Deps) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	broadcaster := deps.Broadcaster
	if broadcaster == nil {
		broadcaster = sse.NewBroadcaster()
	}

	svc := &Service{
		version:        version,
		config:         cfg,
		sessionManager: deps.Sessions,
		projectManager: deps.Projects,
		executor:       deps.Executor,
		chat:           deps.Chat,
		sseBroadcaster: broadcaster,
		router:         chi.NewRouter(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}
	if svc.projectManager != nil && svc.sessionManager != nil {
		svc.projectManager.SetDeleteHook(svc.detachProjectSessions)
	}
	svc.setupRoutes()
	return svc
}

// Handler exposes the router, mostly for tests.
func (s *Service) Handler() http.Handler {
	return s.router
}

func (s *Service) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)
	r.Use(s.cors)

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)

		r.Group(func(r chi.Router) {
			r.Use(s.requireReady)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", s.handleListSessions)
				r.Post("/", s.handleCreateSession)
				r.Post("/import", s.handleImportSession)
				r.Get("/{id}", s.handleGetSession)
				r.Put("/{id}", s.handleUpdateSession)
				r.Delete("/{id}", s.handleDeleteSession)
				r.Post("/{id}/messages", s.handleAddMessage)
				r.Delete("/{id}/messages/{messageId}", s.handleDeleteMessage)
			})

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", s.handleListProjects)
				r.Post("/", s.handleCreateProject)
				r.Get("/recent", s.handleRecentProjects)
				r.Get("/current", s.handleGetCurrentProject)
				r.Post("/current", s.handleSetCurrentProject)
				r.Post("/open", s.handleOpenProject)
				r.Get("/{id}", s.handleGetProject)
				r.Put("/{id}", s.handleUpdateProject)
				r.Delete("/{id}", s.handleDeleteProject)
			})

			r.Route("/cli", func(r chi.Router) {
				r.Post("/execute", s.handleExecute)
				r.Post("/chat/new", s.handleStartChat)
				r.Post("/chat/{id}/message", s.handleChatMessage)
				r.Post("/kill/{sessionId}", s.handleKill)
				r.Get("/processes", s.handleProcesses)
				r.Get("/stream", s.sseBroadcaster.HandleSSE)
			})
		})
	})
}

// Start begins relaying executor events and serving HTTP on the configured
// port. It returns once the listener is bound.
func (s *Service) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.config.WorkerPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve is Start on an existing listener.
func (s *Service) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: CLI calls and the event stream outlive any fixed bound.
	}

	s.startRelay()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	s.ready.Store(true)
	log.Info().Str("addr", ln.Addr().String()).Str("version", s.version).Msg("Worker listening")
	return nil
}

// startRelay forwards executor events to SSE clients until shutdown.
func (s *Service) startRelay() {
	if s.executor == nil {
		return
	}
	events, unsubscribe := s.executor.Subscribe(256)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-s.ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.sseBroadcaster.Publish(ev.SessionID, ev)
			}
		}
	}()
}

// Shutdown stops accepting requests, kills running CLI processes and waits
// for background goroutines.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.sseBroadcaster.CloseAll()

	// In-flight CLI requests return PROCESS_KILLED, so the server can drain.
	if s.executor != nil {
		if n := s.executor.Cleanup(); n > 0 {
			log.Info().Int("processes", n).Msg("Terminated running CLI processes")
		}
	}

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
