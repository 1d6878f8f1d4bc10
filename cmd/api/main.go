package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nddb-lms/lms-admin/backend/internal/config"
	"github.com/nddb-lms/lms-admin/backend/internal/handler"
	"github.com/nddb-lms/lms-admin/backend/internal/middleware"
	"github.com/nddb-lms/lms-admin/backend/internal/service/auth"
	"github.com/nddb-lms/lms-admin/backend/internal/service/discussion"
	"github.com/nddb-lms/lms-admin/backend/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, closeStore := openSessionStore(ctx, cfg.Session)
	defer closeStore()

	sessions := session.NewManager(store)
	// restore in the background; the guard answers "loading" until it is done
	go sessions.Restore(ctx)

	authClient := auth.NewClient(cfg.API.BaseURL, cfg.API.RequestTimeout)

	chatClient := discussion.NewClient(cfg.API.ChatBaseURL, cfg.API.RequestTimeout, sessions)
	chatClient.OnUnauthorized = func(ctx context.Context) {
		sessions.Invalidate(ctx, "discussion api rejected credential")
	}

	pollers := discussion.NewRegistry(ctx, chatClient, discussion.Options{
		Interval:       cfg.Discussion.PollInterval,
		RequestTimeout: cfg.API.RequestTimeout,
		ReconcileDelay: cfg.Discussion.ReconcileDelay,
		Notifier:       discussion.LogChime{Enabled: cfg.Discussion.NotificationsChime},
	})

	limiter := middleware.NewLimiterStore(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, time.Minute)

	router := handler.NewRouter(handler.Deps{
		Sessions:       sessions,
		Auth:           authClient,
		Pollers:        pollers,
		Limiter:        limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	startServer(ctx, cfg.Server, router)

	pollers.Shutdown()
	limiter.Stop()
	log.Println("LMS admin backend stopped")
}

// openSessionStore falls back to memory when the configured backend is unusable.
func openSessionStore(ctx context.Context, cfg config.SessionConfig) (session.Storage, func()) {
	noop := func() {}

	switch cfg.Backend {
	case config.StoreRedis:
		store, err := session.NewRedisStore(ctx, session.RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
			TTL:       cfg.TTL,
		})
		if err != nil {
			log.Printf("warning: redis session store unavailable: %v", err)
			log.Println("continuing with in-memory session store")
			return session.NewMemoryStore(), noop
		}
		log.Printf("session store: redis at %s", cfg.RedisAddr)
		return store, func() {
			if err := store.Close(); err != nil {
				log.Printf("warning: failed to close redis: %v", err)
			}
		}
	case config.StoreFile:
		log.Printf("session store: file %s", cfg.File)
		return session.NewFileStore(cfg.File), noop
	default:
		log.Println("session store: memory")
		return session.NewMemoryStore(), noop
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("LMS admin backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
