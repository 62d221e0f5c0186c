// Command quendoo-broker runs the multi-tenant session and tool-dispatch
// broker between AI chat clients and the Quendoo PMS.
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

	"github.com/quendoo/mcp-broker/broker"
	"github.com/quendoo/mcp-broker/config"
	"github.com/quendoo/mcp-broker/credentials"
	"github.com/quendoo/mcp-broker/credentials/filestore"
	"github.com/quendoo/mcp-broker/credentials/memorystore"
	"github.com/quendoo/mcp-broker/credentials/redisstore"
	"github.com/quendoo/mcp-broker/credentials/sqlitestore"
	"github.com/quendoo/mcp-broker/directhttp"
	"github.com/quendoo/mcp-broker/internal/httpx"
	"github.com/quendoo/mcp-broker/internal/logctx"
	"github.com/quendoo/mcp-broker/pms"
	"github.com/quendoo/mcp-broker/streaminghttp"
	"github.com/quendoo/mcp-broker/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	store, adminStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	var resolver *credentials.Resolver
	if store != nil {
		resolver = credentials.NewResolver(store)
	}

	registry := broker.NewRegistry(
		broker.WithTenantCap(cfg.MaxConnectionsPerTenant),
		broker.WithIdleTimeout(cfg.ConnectionTimeout),
		broker.WithCapExemption(streaminghttp.SentinelTenant),
		broker.WithRegistryLogger(log),
	)

	toolRegistry := tools.NewRegistry(tools.WithLogger(log))
	toolRegistry.MustRegister(pms.Tools(newPMSClient(cfg), newAutomationClient(cfg))...)

	b := broker.New(registry, toolRegistry, broker.WithLogger(log))

	directOpts := []directhttp.Option{directhttp.WithLogger(log)}
	if adminStore != nil && cfg.JWTSecret != "" {
		directOpts = append(directOpts, directhttp.WithAdminAPI(adminStore, cfg.JWTSecret))
	}
	direct := directhttp.New(b, resolver, directOpts...)
	stream := streaminghttp.New(b,
		streaminghttp.WithLogger(log),
		streaminghttp.WithKeepAliveInterval(cfg.KeepAliveInterval),
	)

	mux := http.NewServeMux()
	mux.Handle("/sse", stream)
	mux.Handle("/messages/", stream)
	mux.Handle("/", direct)

	cors := &httpx.CORS{
		AllowOrigins: cfg.CORSOriginList(),
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", "X-Quendoo-Api-Key"},
		MaxAge:       600,
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: cors.Middleware(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("broker.listening",
			slog.String("addr", cfg.ListenAddr()),
			slog.String("credential_store", cfg.CredentialStore))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("broker.shutdown.begin")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream.Close(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("broker.shutdown.complete")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(logctx.Handler{Handler: h})
}

// openStore builds the configured credential backend. The file backend is
// read-only, so it returns no AdminStore and the admin surface stays off.
func openStore(cfg config.Settings, log *slog.Logger) (credentials.Store, credentials.AdminStore, error) {
	newCipher := func() (*credentials.Cipher, error) {
		if cfg.EncryptionKey == "" {
			return nil, fmt.Errorf("ENCRYPTION_KEY is required for the %s credential store", cfg.CredentialStore)
		}
		return credentials.NewCipher(cfg.EncryptionKey)
	}

	switch cfg.CredentialStore {
	case "memory":
		s := memorystore.New()
		return s, s, nil
	case "sqlite":
		cipher, err := newCipher()
		if err != nil {
			return nil, nil, err
		}
		s, err := sqlitestore.Open(cfg.SQLitePath, cipher)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "redis":
		cipher, err := newCipher()
		if err != nil {
			return nil, nil, err
		}
		s, err := redisstore.New(redisstore.Config{RedisAddr: cfg.RedisAddr}, cipher)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "file":
		s, err := filestore.Open(cfg.CredentialFile, filestore.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown credential store %q", cfg.CredentialStore)
}

func newPMSClient(cfg config.Settings) *pms.Client {
	var opts []pms.ClientOption
	if cfg.QuendooBaseURL != "" {
		opts = append(opts, pms.WithBaseURL(cfg.QuendooBaseURL))
	}
	return pms.NewClient(opts...)
}

func newAutomationClient(cfg config.Settings) *pms.AutomationClient {
	var opts []pms.AutomationOption
	if cfg.QuendooAutomationBaseURL != "" {
		opts = append(opts, pms.WithAutomationBaseURL(cfg.QuendooAutomationBaseURL))
	}
	return pms.NewAutomationClient(cfg.QuendooAutomationBearer, cfg.EmailAPIKey, opts...)
}
