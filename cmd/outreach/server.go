package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kalambet/outreach/internal/api"
	"github.com/kalambet/outreach/internal/completion"
	"github.com/kalambet/outreach/internal/config"
	"github.com/kalambet/outreach/internal/dispatch"
	"github.com/kalambet/outreach/internal/gateway"
	"github.com/kalambet/outreach/internal/interaction"
	"github.com/kalambet/outreach/internal/jobs"
	"github.com/kalambet/outreach/internal/processor"
)

const (
	shutdownTimeout = 5 * time.Second
	drainTimeout    = 10 * time.Second
)

func runServer() error {
	fmt.Fprintf(os.Stderr, "outreach version %s\n", version)

	// .env is optional; the hosted environment injects variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	logger := slog.Default()

	log, err := openInteractionLog(cfg, logger)
	if err != nil {
		return err
	}
	if closer, ok := log.(*interaction.SQLiteLog); ok {
		defer closer.Close()
	}

	client := completion.NewClientWithBaseURL(cfg.Groq.APIKey, cfg.Groq.Model, cfg.Groq.BaseURL)

	store := jobs.NewStore()
	registry := jobs.NewRegistry()
	proc := processor.New(client, log, store, logger)

	gw := gateway.New(gateway.Config{
		Token:             cfg.QStash.Token,
		QStashURL:         cfg.QStash.URL,
		CallbackBaseURL:   cfg.Callback.BaseURL,
		CurrentSigningKey: cfg.QStash.CurrentSigningKey,
		NextSigningKey:    cfg.QStash.NextSigningKey,
		VerifyDisabled:    cfg.QStash.VerifyDisabled,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Token:           cfg.QStash.Token,
		CallbackBaseURL: cfg.Callback.BaseURL,
	}, gw, registry, store, proc, logger)

	handler := api.NewHandler(api.Deps{
		Dispatcher:     dispatcher,
		Processor:      proc,
		Verifier:       gw,
		Store:          store,
		Log:            log,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "mode", dispatcher.Mode(), "model", client.Model(), "log_configured", log.Configured())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}

	// Let accepted background jobs finish before the process exits.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	if err := registry.Wait(drainCtx); err != nil {
		logger.Warn("background jobs still running at exit", "active", registry.Active())
	}
	return nil
}

// openInteractionLog picks the persistence backend: Supabase when credentials
// are present, the local SQLite database when a data directory is set, and a
// null log otherwise.
func openInteractionLog(cfg config.Config, logger *slog.Logger) (interaction.Log, error) {
	if cfg.Supabase.URL != "" && cfg.Supabase.Key != "" {
		logger.Info("interaction log: supabase", "table", cfg.Supabase.Table)
		return interaction.NewSupabaseLog(cfg.Supabase.URL, cfg.Supabase.Key, cfg.Supabase.Table), nil
	}
	if cfg.Storage.DataDir != "" {
		l, err := interaction.OpenSQLite(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening local interaction log: %w", err)
		}
		logger.Info("interaction log: sqlite", "data_dir", cfg.Storage.DataDir)
		return l, nil
	}
	logger.Warn("interaction log not configured; history endpoints disabled")
	return interaction.Disabled{}, nil
}
