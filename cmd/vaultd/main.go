// Command vaultd runs the executor service: the conditional payment vault
// behind the authenticated HTTP adapter.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentpay/vault/pkg/config"
	"github.com/agentpay/vault/pkg/events"
	"github.com/agentpay/vault/pkg/executor"
	"github.com/agentpay/vault/pkg/telemetry"
	"github.com/agentpay/vault/pkg/token"
	"github.com/agentpay/vault/pkg/vault"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	cmd := "serve"
	if len(args) > 1 {
		cmd = args[1]
	}

	switch cmd {
	case "serve", "server":
		return runServer(stderr)
	case "health":
		return runHealth(stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Usage: vaultd <serve|health>\n")
		return 2
	}
}

func runServer(stderr io.Writer) int {
	cfg := config.Load()
	if dir := os.Getenv("PROFILE_DIR"); dir != "" {
		profile, err := config.LoadProfile(dir, os.Getenv("PROFILE"))
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "load profile: %v\n", err)
			return 1
		}
		profile.Apply(cfg)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.OwnerIdentity == "" || cfg.CustodyIdentity == "" {
		logger.Error("OWNER_IDENTITY and CUSTODY_IDENTITY are required")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:  "vaultd",
		Environment:  os.Getenv("ENVIRONMENT"),
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     true,
	})
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	// Local mode runs against the in-memory token ledger; the manager gets a
	// dev balance pre-approved for the vault so funding works out of the box.
	tok := token.NewMemoryLedger()
	if units := os.Getenv("DEV_MINT_UNITS"); units != "" && cfg.ManagerIdentity != "" {
		amount, err := token.ParseUnits(units)
		if err != nil {
			logger.Error("invalid DEV_MINT_UNITS", "error", err)
			return 1
		}
		tok.Mint(cfg.ManagerIdentity, amount)
		if err := tok.Approve(cfg.ManagerIdentity, cfg.CustodyIdentity, amount); err != nil {
			logger.Error("dev approval failed", "error", err)
			return 1
		}
		logger.Info("dev funding minted", "manager", cfg.ManagerIdentity, "units", amount)
	}

	recorders := []events.Recorder{events.NewAuditLedger()}
	sqliteStore, err := events.OpenSQLiteStore(cfg.SQLitePath)
	if err != nil {
		logger.Error("open sqlite event store failed", "path", cfg.SQLitePath, "error", err)
		return 1
	}
	defer sqliteStore.Close()
	recorders = append(recorders, sqliteStore)

	if cfg.PostgresURL != "" {
		pg, err := openPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("open postgres event store failed", "error", err)
			return 1
		}
		recorders = append(recorders, pg)
	}

	v := vault.New(cfg.OwnerIdentity, cfg.CustodyIdentity, tok).
		WithManager(cfg.ManagerIdentity).
		WithRecorder(events.Multi(recorders...)).
		WithLogger(logger)

	var limiter executor.LimiterStore = executor.NewMemoryLimiterStore()
	if cfg.RedisAddr != "" {
		limiter = executor.NewRedisLimiterStore(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		logger.Info("using redis rate limiter", "addr", cfg.RedisAddr)
	}

	srv := executor.NewServer(v, tok).WithLogger(logger)
	handler := srv.Handler(
		executor.NewJWTValidator([]byte(cfg.JWTSigningKey)),
		limiter,
		executor.LimitPolicy{RPM: cfg.RateLimitRPM, Burst: cfg.RateLimitBurst},
		executor.NewIdempotencyStore(time.Hour),
	)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      tel.HTTPMiddleware(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("executor listening", "port", cfg.Port, "owner", cfg.OwnerIdentity)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		return 1
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			return 1
		}
	}
	return 0
}

func runHealth(stdout, stderr io.Writer) int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "5001"
	}
	resp, err := http.Get("http://localhost:" + port + "/health")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "unhealthy: status %d\n", resp.StatusCode)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "ok")
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
