package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/securecookie"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/halayachts/admin/auth"
	"github.com/halayachts/admin/config"
	"github.com/halayachts/admin/httpx"
	"github.com/halayachts/admin/locations"
	"github.com/halayachts/admin/logging"
	"github.com/halayachts/admin/rbac"
	"github.com/halayachts/admin/store"
	"github.com/halayachts/admin/store/mongostore"
	"github.com/halayachts/admin/store/pgstore"
	"github.com/halayachts/admin/subscribers"
	"github.com/halayachts/admin/web"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		port        string
		databaseURL string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin web server and JSON API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if databaseURL != "" {
				cfg.DatabaseURL = databaseURL
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "store connection URL (overrides DATABASE_URL)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Development())
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	loc, err := time.LoadLocation(cfg.DisplayTimezone)
	if err != nil {
		return err
	}

	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = hex.EncodeToString(securecookie.GenerateRandomKey(32))
		logger.Warn("SESSION_SECRET not set, using a random secret; sessions end on restart")
	}

	sessionManager, err := auth.NewSessionManager(sessionSecret, cfg.SecureCookie)
	if err != nil {
		return fmt.Errorf("configure sessions: %w", err)
	}

	accounts := []auth.Account{{Email: cfg.Admin.Email, PasswordHash: cfg.Admin.PasswordHash, Role: rbac.RoleAdmin}}
	if cfg.Viewer.Configured() {
		accounts = append(accounts, auth.Account{Email: cfg.Viewer.Email, PasswordHash: cfg.Viewer.PasswordHash, Role: rbac.RoleViewer})
	}
	verifier, err := auth.NewVerifier(accounts...)
	if err != nil {
		return fmt.Errorf("configure accounts: %w", err)
	}

	limiter := auth.NewLimiter(auth.DefaultLimiterConfig)
	stopSweep := make(chan struct{})
	defer close(stopSweep)
	go limiter.Run(time.Minute, stopSweep)

	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	backend, err := openBackend(openCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := backend.Close(closeCtx); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()

	enforcer := rbac.NewEnforcer(auth.Roles)
	authHandler := auth.NewHandler(sessionManager, verifier, limiter, logger)
	csrfKey := sha256.Sum256([]byte("csrf:" + sessionSecret))
	pages, err := web.NewHandler(web.Options{
		Sessions:     sessionManager,
		Auth:         authHandler,
		Subscribers:  backend.Subscribers(),
		Location:     loc,
		StoreTimeout: cfg.StoreTimeout,
		Logger:       logger,
		Enforcer:     enforcer,
		Protect:      web.CSRF(csrfKey[:], cfg.SecureCookie),
	})
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		httpx.TrustedRealIP(cfg.TrustedProxies),
		logging.Middleware(logger),
		middleware.Recoverer,
		middleware.Timeout(cfg.RequestTimeout),
	)
	router.Use(sessionManager.Middleware)

	router.Get("/api/health", healthHandler(backend, cfg.StoreTimeout))

	router.Mount("/api/admin", authHandler.Routes(enforcer))
	router.Mount("/api/subscribers", subscribers.NewHandler(backend.Subscribers(), logger, cfg.StoreTimeout).Routes(enforcer))
	router.Mount("/api/locations", locations.NewHandler(backend.Locations(), logger, cfg.StoreTimeout).Routes(enforcer))
	router.Mount(web.LoginPath, pages.Routes())

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", server.Addr), zap.String("env", cfg.Env))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelShutdown()
	return server.Shutdown(shutdownCtx)
}

func openBackend(ctx context.Context, cfg config.Config) (store.Backend, error) {
	driver, err := cfg.Driver()
	if err != nil {
		return nil, err
	}

	switch driver {
	case config.DriverMongo:
		backend, err := mongostore.Open(ctx, cfg.DatabaseURL, cfg.DatabaseName)
		if err != nil {
			return nil, fmt.Errorf("connect to mongodb: %w", err)
		}
		return backend, nil
	case config.DriverPostgres:
		backend, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

func healthHandler(backend store.Backend, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := backend.Ping(ctx); err != nil {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
