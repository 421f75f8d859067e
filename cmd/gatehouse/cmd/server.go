package cmd

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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/mknight/gatehouse/auth"
	"github.com/mknight/gatehouse/internal/config"
	"github.com/mknight/gatehouse/storage/bolt"
	"github.com/mknight/gatehouse/storage/memory"
	"github.com/mknight/gatehouse/storage/sqlite"
)

const (
	sessionSweepInterval = 10 * time.Minute
	bucketSweepInterval  = 5 * time.Minute
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the auth service",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		stores, closeStores, err := openStores(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeStores()

		a := auth.New(cfg, stores,
			auth.WithLogger(logger),
			auth.WithAlertFunc(func(ev auth.AlertEvent) {
				logger.Warn("security alert",
					slog.String("type", string(ev.Type)),
					slog.String("message", ev.Message),
					slog.Int("count", ev.Count),
					slog.Int("threshold", ev.Threshold))
			}),
		)

		r := chi.NewRouter()
		r.Use(middleware.RealIP)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(auth.SecurityHeaders)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		stop := make(chan struct{})
		go a.Limiter().SweepLoop(bucketSweepInterval, stop)
		go sessionSweepLoop(logger, stores, stop)
		defer close(stop)

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		logger.Info("server started",
			slog.String("addr", cfg.Addr),
			slog.String("backend", cfg.StoreBackend))

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		// SIGHUP reloads configuration in place.
		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)
		go func() {
			for range reload {
				fresh, err := config.Load()
				if err != nil {
					logger.Error("config reload failed", slog.String("error", err.Error()))
					continue
				}
				a.Reload(fresh)
			}
		}()

		select {
		case sig := <-quit:
			logger.Info("shutting down", slog.String("signal", sig.String()))
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func openStores(ctx context.Context, cfg *config.Snapshot) (auth.Stores, func(), error) {
	switch cfg.StoreBackend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.DataPath), 0o700); err != nil {
			return auth.Stores{}, nil, fmt.Errorf("creating data directory: %w", err)
		}
		db, err := sqlite.Open(ctx, cfg.DataPath)
		if err != nil {
			return auth.Stores{}, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return auth.Stores{
			AdminSessions:     db.AdminSessions(),
			GuestbookSessions: db.GuestbookSessions(),
			Threads:           db.Threads(),
			RecoveryCodes:     db.RecoveryCodes(),
		}, func() { db.Close() }, nil
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.DataPath), 0o700); err != nil {
			return auth.Stores{}, nil, fmt.Errorf("creating data directory: %w", err)
		}
		db, err := bolt.Open(cfg.DataPath)
		if err != nil {
			return auth.Stores{}, nil, fmt.Errorf("opening bolt store: %w", err)
		}
		return auth.Stores{
			AdminSessions:     db.AdminSessions(),
			GuestbookSessions: db.GuestbookSessions(),
			Threads:           db.Threads(),
			RecoveryCodes:     db.RecoveryCodes(),
		}, func() { db.Close() }, nil
	case "memory":
		db := memory.New()
		return auth.Stores{
			AdminSessions:     db.AdminSessions(),
			GuestbookSessions: db.GuestbookSessions(),
			Threads:           db.Threads(),
			RecoveryCodes:     db.RecoveryCodes(),
		}, func() {}, nil
	default:
		return auth.Stores{}, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// sessionSweepLoop clears expired sessions in the background. Reads
// already sweep lazily; this keeps abandoned sessions from lingering in
// storage indefinitely.
func sessionSweepLoop(logger *slog.Logger, stores auth.Stores, stop <-chan struct{}) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			for name, store := range map[string]interface {
				DeleteExpired(context.Context) (int, error)
			}{
				"admin":     stores.AdminSessions,
				"guestbook": stores.GuestbookSessions,
			} {
				n, err := store.DeleteExpired(ctx)
				if err != nil {
					logger.Error("session sweep failed",
						slog.String("store", name), slog.String("error", err.Error()))
					continue
				}
				if n > 0 {
					logger.Info("session sweep",
						slog.String("store", name), slog.Int("removed", n))
				}
			}
			cancel()
		}
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
