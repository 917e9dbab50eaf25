package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jjudge-oj/authserver/config"
	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/db"
	"github.com/jjudge-oj/authserver/internal/handlers"
	"github.com/jjudge-oj/authserver/internal/logging"
	"github.com/jjudge-oj/authserver/internal/mq"
	"github.com/jjudge-oj/authserver/internal/services"
	"github.com/jjudge-oj/authserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     logging.Logger
	closers    []io.Closer
}

// New constructs a Server from cfg: it opens the configured credential store
// and message queue and mounts the auth routes behind the identity filter.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	s := &Server{logger: logger}

	repo, err := s.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var events services.EventPublisher
	queue, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = s.closeAll()
		return nil, err
	}
	if queue != nil {
		s.closers = append(s.closers, queue)
		events = mq.NewEventPublisher(queue, cfg.MQ.EventsChannel)
	}

	var tokenOpts []auth.TokenOption
	if cfg.Auth.JWTIssuer != "" {
		tokenOpts = append(tokenOpts, auth.WithIssuer(cfg.Auth.JWTIssuer))
	}
	tokens := auth.NewTokenService([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, tokenOpts...)
	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost, cfg.Auth.MaxConcurrentHashing)

	userService := services.NewUserService(repo)
	authService := services.NewAuthService(userService, hasher, tokens, events, logger)

	s.router = newRouter(authService, userService, logger)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info(ctx, "server configured",
		"port", port,
		"store", cfg.StoreDriver,
		"mq", cfg.MQ.Backend,
		"token_ttl", tokens.TTL().String(),
	)
	return s, nil
}

func newRouter(authService *services.AuthService, userService *services.UserService, logger logging.Logger) *chi.Mux {
	authHandler := handlers.NewAuthHandler(authService, userService, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
		handlers.Authenticate(authService, authService.Lookup(), logger),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/api/v1/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
	})
	router.Route("/api/v1/users", func(r chi.Router) {
		handlers.UserRouter(r, authHandler)
	})
	router.NotFound(handlers.RequireAuth(http.HandlerFunc(notFound)).ServeHTTP)
	router.MethodNotAllowed(handlers.RequireAuth(http.HandlerFunc(methodNotAllowed)).ServeHTTP)

	return router
}

func (s *Server) openStore(ctx context.Context, cfg config.Config) (services.UserRepository, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		s.closers = append(s.closers, conn)
		return store.NewUserRepository(conn), nil
	case config.StoreDriverSQLite:
		conn, err := db.OpenSQLite(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		s.closers = append(s.closers, conn)
		return store.NewSQLiteUserRepository(conn), nil
	case config.StoreDriverMemory:
		return store.NewMemoryUserRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx is
// done and then releases the store and queue connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.closeAll())
}

func (s *Server) closeAll() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, `{"error":"not found"}`+"\n")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	_, _ = io.WriteString(w, `{"error":"method not allowed"}`+"\n")
}
