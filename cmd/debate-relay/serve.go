package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wailbentafat/debate-relay/auth"
	"github.com/wailbentafat/debate-relay/broker"
	"github.com/wailbentafat/debate-relay/config"
	"github.com/wailbentafat/debate-relay/openrouter"
	"github.com/wailbentafat/debate-relay/presence"
	"github.com/wailbentafat/debate-relay/publisher"
	"github.com/wailbentafat/debate-relay/relay"
	"github.com/wailbentafat/debate-relay/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	dialer, err := broker.NewDialer(cfg.Broker.URL, cfg.Publish.MaxRetries, logger)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}

	pubConn, err := dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connect publisher: %w", err)
	}
	pub := publisher.New(pubConn, logger)

	store, closeStore, err := newPresenceStore(cfg.Broker.URL)
	if err != nil {
		pub.Close()
		return fmt.Errorf("presence: %w", err)
	}
	defer closeStore()

	var authSvc *auth.Service
	if cfg.Auth.Enabled() {
		authSvc = auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	} else {
		logger.Warn("auth.jwt_secret not set, debate endpoints are open")
	}

	clients := server.NewClientManager(logger.With("component", "clients"))
	handler := server.NewHandler(server.HandlerDeps{
		Relay:     relay.New(dialer, logger),
		Publisher: pub,
		Presence:  store,
		Models:    openrouter.NewClient(cfg.OpenRouter.BaseURL, cfg.OpenRouter.APIKey, cfg.OpenRouter.Timeout),
		Clients:   clients,
		Logger:    logger,
	})
	router := server.NewRouter(server.RouterDeps{Handler: handler, Auth: authSvc, Logger: logger})
	srv := server.NewServer(cfg.HTTP.Addr, router, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		pub.Close()
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
	defer cancel()
	srv.Shutdown(shutdownCtx, clients, pub)
	return nil
}

// newPresenceStore shares the broker's Redis for presence, or keeps it in
// memory alongside the in-process hub.
func newPresenceStore(url string) (presence.Store, func(), error) {
	if strings.HasPrefix(url, broker.MemoryURL) {
		return presence.NewMemoryStore(), func() {}, nil
	}
	store, err := presence.NewRedisStoreFromURL(url)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
