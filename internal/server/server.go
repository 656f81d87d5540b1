package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"chat-backend/internal/auth"
	"chat-backend/internal/chat"
	"chat-backend/internal/realtime"
)

// Deps groups the components served over HTTP
type Deps struct {
	Gate  *auth.Gate
	Chats *chat.Service
	Hub   *realtime.Hub
}

// Server defines fields used in HTTP processing
type Server struct {
	logger          *zap.SugaredLogger
	httpServer      *http.Server
	hub             *realtime.Hub
	shutdownTimeout time.Duration
	afterShutdown   []func()
}

// NewServer returns new Server serving the REST API and the realtime endpoint
func NewServer(logger *zap.SugaredLogger, deps Deps, opts ...Option) (*Server, error) {
	if deps.Gate == nil || deps.Chats == nil || deps.Hub == nil {
		return nil, errors.New("server: gate, chats and hub are required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(cfg)
	}

	cfg.httpServer.Handler = newRouter(logger, deps, cfg)

	return &Server{
		logger:          logger,
		httpServer:      cfg.httpServer,
		hub:             deps.Hub,
		shutdownTimeout: cfg.shutdownTimeout,
		afterShutdown:   cfg.afterShutdown,
	}, nil
}

func newRouter(logger *zap.SugaredLogger, deps Deps, cfg *config) http.Handler {
	h := &handler{
		logger: logger,
		gate:   deps.Gate,
		chats:  deps.Chats,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logRequests(logger.Desugar()))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", connectionHeader},
		MaxAge:         300,
	}))

	r.Get("/", health)
	r.Handle("/ws", deps.Hub.Handler(deps.Gate))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.apiTimeout))

		r.With(enforceJSON).Post("/auth/register", h.register)
		r.With(enforceJSON).Post("/auth/login", h.login)

		r.Group(func(r chi.Router) {
			r.Use(authenticate(deps.Gate))

			r.Get("/users", h.searchUsers)

			r.Get("/chats", h.fetchChats)
			r.With(enforceJSON).Post("/chats", h.accessChat)
			r.With(enforceJSON).Post("/chats/group", h.createGroupChat)
			r.With(enforceJSON).Put("/chats/rename", h.renameGroupChat)
			r.With(enforceJSON).Put("/chats/groupadd", h.membership(deps.Chats.AddMember))
			r.With(enforceJSON).Put("/chats/groupremove", h.membership(deps.Chats.RemoveMember))

			r.With(enforceJSON).Post("/messages", h.sendMessage)
			r.Get("/messages/{chatId}", h.allMessages)
		})
	})

	return r
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown on SIGINT and SIGTERM
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errs <- fmt.Errorf("s.httpServer.ListenAndServe: %w", err)
			return
		}
		errs <- nil
	}()

	select {
	case err := <-errs:
		s.runAfterShutdown()
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	// hijacked websocket connections are not tracked by http.Server
	if err := s.hub.Shutdown(shutdownCtx); err != nil {
		s.logger.Errorf("hub.Shutdown: %v", err)
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Errorf("srv.Shutdown: %v", err)
	}
	s.logger.Info("HTTP server is stopped")

	<-errs
	s.runAfterShutdown()

	return nil
}

func (s *Server) runAfterShutdown() {
	for _, f := range s.afterShutdown {
		f()
	}
}
