package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tessera.social/internal/audit"
	"tessera.social/internal/auth"
	"tessera.social/internal/config"
	"tessera.social/internal/httpapi"
	"tessera.social/internal/httpx"
	"tessera.social/internal/obs"
)

const service = "tessera-identity"

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults to CONFIG_PATH or ./local.yaml)")
	flag.Parse()

	cfg, err := config.LoadIssuer(*configPath)
	if err != nil {
		l := obs.NewLogger(service, "production", "info", os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	log := obs.NewLogger(service, cfg.Env, cfg.Log.Level, os.Stdout)
	obs.SetLogger(log)
	obs.Init()
	obs.InitBuildInfo(service, version)

	var (
		store auth.Store
		db    *sql.DB
	)
	if cfg.DB.DSN != "" {
		db, err = sql.Open("pgx", cfg.DB.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open db")
		}
		db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
		db.SetMaxIdleConns(cfg.DB.MaxOpenConns)
		db.SetConnMaxLifetime(30 * time.Minute)

		pingCtx, cancel := context.WithTimeout(context.Background(), cfg.DB.ConnTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("ping db")
		}
		store = auth.NewPGStore(db)
	} else {
		log.Warn().Msg("DATABASE_URL not set, identities are kept in memory")
		store = auth.NewMemoryStore()
	}

	svc, err := auth.NewService(store, cfg.Auth.Secret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithHasher(auth.NewHasher(cfg.Auth.BcryptCost)),
		auth.WithLogger(log),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("build auth service")
	}

	if cfg.Bootstrap.AdminEmail != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		admin, err := svc.EnsureAdmin(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("bootstrap admin")
		}
		_ = audit.LogEvent(context.Background(), audit.EventBootstrapAdmin, map[string]any{
			"target_id": admin.ID,
		})
	}

	proxies, err := httpx.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		log.Fatal().Err(err).Msg("trusted proxies")
	}
	api := httpapi.New(svc, nil, httpapi.Options{
		Version:        version,
		SecureCookies:  cfg.SecureCookies(),
		RatePerSecond:  cfg.RateLimit.RPS,
		RateBurst:      cfg.RateLimit.Burst,
		TrustedProxies: proxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("identity service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	if db != nil {
		_ = db.Close()
	}
	log.Info().Msg("stopped")
}
