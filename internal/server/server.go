// Package server is the composition root: it opens the stores, builds the
// services and handlers, mounts the routes and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/chatrelay/internal/auth"
	"github.com/sakif/chatrelay/internal/config"
	"github.com/sakif/chatrelay/internal/handler"
	"github.com/sakif/chatrelay/internal/llm"
	"github.com/sakif/chatrelay/internal/middleware"
	"github.com/sakif/chatrelay/internal/repository"
	"github.com/sakif/chatrelay/internal/repository/postgres"
	redisrepo "github.com/sakif/chatrelay/internal/repository/redis"
	"github.com/sakif/chatrelay/internal/repository/sqlite"
	"github.com/sakif/chatrelay/internal/response"
	"github.com/sakif/chatrelay/internal/service"
	"github.com/sakif/chatrelay/web"
)

// Pinger is a dependency /healthz checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the stores and provider the server runs on.
// New opens real ones from config; tests pass their own to Build.
type Dependencies struct {
	Users    repository.UserRepository
	Sessions repository.SessionRepository
	Provider llm.Provider
	// Health is checked by /healthz. Optional.
	Health []Pinger
	// Passwords hashes new passwords. Nil means the production cost.
	Passwords *auth.PasswordService
	// Registry receives the HTTP metrics. Nil means a fresh registry.
	Registry *prometheus.Registry
	// Closers run, in order, when the server stops.
	Closers []func() error
}

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router   *chi.Mux
	cfg      *config.Config
	logger   *slog.Logger
	deps     Dependencies
	sessions *auth.SessionManager
}

// New opens the configured stores and provider, then wires the server.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	deps, err := openDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s, err := Build(cfg, logger, deps)
	if err != nil {
		closeAll(deps.Closers, logger)
		return nil, err
	}

	if n, err := s.sessions.PurgeExpired(ctx); err != nil {
		logger.Warn("failed to purge expired sessions", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("purged expired sessions", slog.Int64("count", n))
	}

	return s, nil
}

// openDependencies selects the backends:
//
//	users:    PostgreSQL when database.url is a postgres:// URL, else SQLite
//	sessions: Redis when redis.url is set, else the users database
func openDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Dependencies, error) {
	var deps Dependencies

	if cfg.Database.IsPostgres() {
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return deps, fmt.Errorf("opening postgres: %w", err)
		}
		deps.Users, deps.Sessions = db, db
		deps.Health = append(deps.Health, db)
		deps.Closers = append(deps.Closers, db.Close)
		logger.Info("using postgres user store")
	} else {
		if cfg.Database.URL != sqlite.MemoryPath {
			if err := os.MkdirAll(filepath.Dir(cfg.Database.URL), 0o755); err != nil {
				return deps, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqlite.New(cfg.Database.URL)
		if err != nil {
			return deps, fmt.Errorf("opening database: %w", err)
		}
		deps.Users, deps.Sessions = db, db
		deps.Health = append(deps.Health, db)
		deps.Closers = append(deps.Closers, db.Close)
		logger.Info("using sqlite user store", slog.String("path", cfg.Database.URL))
	}

	if cfg.Redis.URL != "" {
		client, err := redisrepo.Dial(ctx, cfg.Redis.URL)
		if err != nil {
			closeAll(deps.Closers, logger)
			return deps, fmt.Errorf("connecting to redis: %w", err)
		}
		deps.Sessions = redisrepo.NewSessionStore(client)
		deps.Health = append(deps.Health, redisPinger{client: client})
		deps.Closers = append(deps.Closers, client.Close)
		logger.Info("using redis session store")
	}

	provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	})
	logger.Info("using openai provider", slog.String("model", provider.Model()))

	deps.Provider = llm.WithRetry(
		provider,
		llm.RetryConfig{Attempts: cfg.LLM.RetryAttempts, BaseDelay: cfg.LLM.RetryBaseDelay},
		logger,
	)

	return deps, nil
}

// Build wires services, handlers and routes on top of deps.
func Build(cfg *config.Config, logger *slog.Logger, deps Dependencies) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.Session.Secret)
	if err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		router:   chi.NewRouter(),
		cfg:      cfg,
		logger:   logger,
		deps:     deps,
		sessions: auth.NewSessionManager(tokens, deps.Sessions, cfg.Session.TTL, logger),
	}

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// setupRoutes mounts middleware and routes.
//
//	GET  /                      landing page
//	GET  /register, POST        sign-up form
//	GET  /login,    POST        login form
//	GET  /logout                end session
//	GET  /chat                  chat page          (session required, else 303 /login)
//	POST /chat_api              relay one message  (session required, else 403)
//	GET  /auth/github/*         GitHub sign-in     (when configured)
//	GET  /healthz, /metrics, /static/*
func (s *Server) setupRoutes() error {
	metrics := middleware.NewMetrics(s.deps.Registry)

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(metrics.Handler)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(
		prometheus.Gatherers{s.deps.Registry, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{},
	))
	s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(web.Static()))))

	pages, err := handler.NewPages(web.Templates(), s.logger)
	if err != nil {
		return fmt.Errorf("creating pages: %w", err)
	}

	passwords := s.deps.Passwords
	if passwords == nil {
		passwords = auth.NewPasswordService()
	}
	authService := service.NewAuthService(s.deps.Users, passwords, s.sessions, s.logger)
	chatService := service.NewChatService(s.deps.Provider, service.ChatConfig{
		Timeout:      s.cfg.LLM.Timeout,
		SystemPrompt: s.cfg.LLM.SystemPrompt,
	}, s.logger)

	var github *auth.GitHubProvider
	if s.cfg.GitHub.Enabled() {
		github = auth.NewGitHubProvider(s.cfg.GitHub.ClientID, s.cfg.GitHub.ClientSecret, s.cfg.GitHub.CallbackURL)
	}

	cookies := auth.CookieOptions{Secure: s.cfg.Server.SecureCookies}
	flashes := handler.NewFlashStore(s.cfg.Session.Secret, s.cfg.Server.SecureCookies)
	authHandler := handler.NewAuthHandler(authService, pages, flashes, github, cookies, s.logger)
	chatHandler := handler.NewChatHandler(chatService, pages, s.logger)

	s.router.Group(func(r chi.Router) {
		r.Use(auth.LoadSession(s.sessions, s.logger))

		r.Get("/", pages.HandleIndex)
		r.Get("/register", authHandler.HandleRegisterForm)
		r.Post("/register", authHandler.HandleRegister)
		r.Get("/login", authHandler.HandleLoginForm)
		r.Post("/login", authHandler.HandleLogin)
		r.Get("/logout", authHandler.HandleLogout)

		r.With(auth.RequireSession("/login")).Get("/chat", chatHandler.HandleChatPage)
		r.With(auth.RequireSessionAPI()).Post("/chat_api", chatHandler.HandleChatAPI)

		if github != nil {
			r.Get("/auth/github/login", authHandler.HandleGitHubLogin)
			r.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
		}
	})

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	code, state := http.StatusOK, "ok"
	for _, p := range s.deps.Health {
		if err := p.Ping(ctx); err != nil {
			s.logger.Error("health check failed", slog.String("error", err.Error()))
			code, state = http.StatusServiceUnavailable, "unavailable"
			break
		}
	}

	response.JSON(w, code, map[string]string{"status": state})
}

// Start runs the HTTP server until SIGINT or SIGTERM, then drains in-flight
// requests and closes the stores.
func (s *Server) Start() error {
	defer closeAll(s.deps.Closers, s.logger)

	srv := &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("model", s.cfg.LLM.Model),
			slog.Bool("github", s.cfg.GitHub.Enabled()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

func closeAll(closers []func() error, logger *slog.Logger) {
	for _, c := range closers {
		if err := c(); err != nil {
			logger.Warn("error closing resource", slog.String("error", err.Error()))
		}
	}
}
