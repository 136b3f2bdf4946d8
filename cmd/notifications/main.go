package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tessera.social/internal/config"
	"tessera.social/internal/notify"
	"tessera.social/internal/obs"
	"tessera.social/internal/validator"
)

const service = "tessera-notifications"

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults to CONFIG_PATH or ./local.yaml)")
	flag.Parse()

	cfg, err := config.LoadConsumer(*configPath)
	if err != nil {
		l := obs.NewLogger(service, "production", "info", os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	log := obs.NewLogger(service, cfg.Env, cfg.Log.Level, os.Stdout)
	obs.SetLogger(log)
	obs.Init()
	obs.InitBuildInfo(service, version)

	client, err := validator.NewHTTPClient(cfg.Validator.IssuerURL, cfg.Validator.Timeout)
	if err != nil {
		log.Fatal().Err(err).Msg("build issuer client")
	}
	cache := validator.NewCache(cfg.Validator.CacheTTL, cfg.Validator.CacheMaxEntries)
	v, err := validator.New(client, cache, validator.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("build validator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweep(ctx, cache)

	server := notify.NewServer(v, notify.NewHub(notify.DefaultBuffer), notify.WithVersion(version))
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("issuer", cfg.Validator.IssuerURL).
			Dur("cache_ttl", cfg.Validator.CacheTTL).
			Msg("notifications service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	// streams only end when their context does
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("stopped")
}

// sweep drops expired cache entries so memory follows the active token set.
func sweep(ctx context.Context, cache *validator.Cache) {
	ticker := time.NewTicker(cache.TTL())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := cache.Sweep(); n > 0 {
				obs.Logger().Debug().Int("evicted", n).Msg("validator cache swept")
			}
		}
	}
}
