package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"e2ee-messaging/internal/auth"
	"e2ee-messaging/internal/config"
	"e2ee-messaging/internal/cryptocore"
	"e2ee-messaging/internal/db"
	"e2ee-messaging/internal/observability/logging"
	"e2ee-messaging/internal/observability/metrics"
	"e2ee-messaging/internal/service"
	"e2ee-messaging/internal/store"
	transport "e2ee-messaging/internal/transport/http"
)

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "messenger",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("messenger")

	logger.Info("starting service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.OpenGorm(db.Config{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseURL, LogSQL: cfg.LogSQL})
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	st := store.New(gdb)
	if err := st.AutoMigrate(ctx); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	sealer, err := newSealer(cfg)
	if err != nil {
		logger.Error("init state sealer", "error", err)
		os.Exit(1)
	}

	validator, err := newValidator(ctx, cfg)
	if err != nil {
		logger.Error("init token validator", "error", err)
		os.Exit(1)
	}

	svc := service.New(st, sealer, service.Options{
		OneTimePreKeyBatch:    cfg.OneTimePreKeyBatch,
		OneTimePreKeyLowWater: cfg.OneTimePreKeyLowWater,
		SignedPreKeyTTL:       cfg.SignedPreKeyTTL,
		SignedPreKeyRotation:  cfg.SignedPreKeyRotation,
		SkippedKeyMaxAge:      cfg.SkippedKeyMaxAge,
		StaleStateRetries:     cfg.StaleStateRetries,
	}, logger)
	go svc.RunMaintenance(ctx, cfg.MaintenanceInterval)

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: transport.NewRouter(svc, transport.Options{
			Auth:        validator,
			CORSOrigins: cfg.CORSOrigins,
			RateLimit:   cfg.RateLimit,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	slog.Info("messenger service listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// newSealer derives the at-rest key. Outside dev a master key and salt are
// mandatory; in dev an ephemeral key is used and stored state does not
// survive a restart.
func newSealer(cfg config.Config) (*cryptocore.Sealer, error) {
	params := cryptocore.Argon2Params{
		Time:      uint32(cfg.Argon2Time),
		MemoryKiB: uint32(cfg.Argon2Memory),
		Threads:   uint8(cfg.Argon2Threads),
	}
	if cfg.MasterKey != "" {
		return cryptocore.NewSealer([]byte(cfg.MasterKey), []byte(cfg.MasterKeySalt), params)
	}
	if cfg.Environment != "dev" {
		return nil, errors.New("MASTER_KEY is required outside dev")
	}
	slog.Warn("MASTER_KEY not set, sealing state with an ephemeral key")
	secret, err := cryptocore.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	salt, err := cryptocore.RandomBytes(16)
	if err != nil {
		return nil, err
	}
	return cryptocore.NewSealer(secret, salt, params)
}

// newValidator picks the first configured token scheme: a shared HS256
// secret, a pinned Ed25519 key, then a JWKS endpoint.
func newValidator(ctx context.Context, cfg config.Config) (auth.Validator, error) {
	switch {
	case cfg.AuthHS256Secret != "":
		slog.Info("using HS256 shared-secret token validation")
		return auth.NewHMACValidator(cfg.AuthHS256Secret, cfg.Issuer), nil
	case cfg.AuthEd25519Public != "":
		slog.Info("using pinned Ed25519 token validation")
		return auth.NewEd25519Validator(cfg.AuthEd25519Public, cfg.Issuer)
	case cfg.JWKSURL != "":
		slog.Info("using JWKS token validation", "jwks_url", cfg.JWKSURL)
		return auth.NewJWKSValidator(ctx, cfg.JWKSURL, cfg.Issuer)
	case cfg.Environment == "dev":
		slog.Warn("no token validation configured, /v1 is unauthenticated")
		return nil, nil
	default:
		return nil, errors.New("one of AUTH_HS256_SECRET, AUTH_ED25519_PUBLIC_KEY or JWKS_URL is required outside dev")
	}
}
