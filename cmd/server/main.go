package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"paleteria/backend/internal/cache"
	"paleteria/backend/internal/config"
	"paleteria/backend/internal/httpapi"
	"paleteria/backend/internal/logger"
	"paleteria/backend/internal/metrics"
	"paleteria/backend/internal/packs"
	"paleteria/backend/internal/promo/source"
	"paleteria/backend/internal/service"
	"paleteria/backend/internal/store"
	"paleteria/backend/internal/store/memory"
	pgstore "paleteria/backend/internal/store/postgres"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "paleteria-pos: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(logger.Options{
		ServiceName: "paleteria-pos",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})

	if len(args) > 0 && args[0] == "migrate" {
		return runMigrate(cfg, args[1:])
	}
	if len(args) > 0 {
		return fmt.Errorf("unknown command %q (use: migrate [up|down|status])", args[0])
	}

	if err := cfg.ValidateSecurity(); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	return serve(cfg, log)
}

// runMigrate executes a goose command against POS_DATABASE_URL.
func runMigrate(cfg config.Config, args []string) error {
	if cfg.DatabaseURL == "" {
		return errors.New("POS_DATABASE_URL is required for migrate")
	}
	command := "up"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pg.Close()

	return pgstore.RunMigrations(ctx, pg.DB(), command, args...)
}

type app struct {
	api     *httpapi.API
	closers []func() error
}

func (a *app) Close(ctx context.Context, log *logger.Logger) {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			log.Warn(ctx, "close error", err)
		}
	}
}

// buildApp wires repository, promo source, metrics and the HTTP API. An
// unreachable database is fatal; an unreachable redis falls back to the
// in-process cache.
func buildApp(ctx context.Context, cfg config.Config, log *logger.Logger) (*app, error) {
	a := &app{}

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and POS_DATABASE_URL is set: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				a.Close(ctx, log)
				return nil, err
			}
		}
		repo = pg
		log.Info(ctx, "repository ready", map[string]any{"kind": "postgres"})
	} else {
		repo = memory.NewSeeded()
		log.Info(ctx, "repository ready", map[string]any{"kind": "memory"})
	}

	ruleCache := cache.RuleSetCache(cache.NoopRuleSetCache{})
	cacheKind := "noop"
	if cfg.PromoCacheTTL > 0 {
		ruleCache = cache.NewMemoryRuleSetCache()
		cacheKind = "memory"
		if cfg.RedisAddr != "" {
			redisCache := cache.NewRedisRuleSetCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err := redisCache.Ping(ctx); err != nil {
				log.Warn(ctx, "redis unavailable, using in-process promo cache", err)
				_ = redisCache.Close()
			} else {
				ruleCache = redisCache
				cacheKind = "redis"
				a.closers = append(a.closers, redisCache.Close)
			}
		}
	}
	log.Info(ctx, "promo cache ready", map[string]any{"kind": cacheKind, "ttl": cfg.PromoCacheTTL.String()})

	rules := source.NewCachedSource(source.NewFileSource(cfg.PromosFile), ruleCache, cfg.PromoCacheTTL, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := service.New(repo, rules,
		service.WithMetrics(metrics.New(registry)),
		service.WithLogger(log),
		service.WithLocation(cfg.Location()),
		service.WithPackRules(packs.NewFileSource(cfg.PacksFile)),
	)
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	a.api = httpapi.New(svc, auth, cfg.AllowedOrigin, httpapi.WithLogger(log), httpapi.WithGatherer(registry))
	return a, nil
}

func serve(cfg config.Config, log *logger.Logger) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := buildApp(startCtx, cfg, log)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(context.Background(), "paleteria POS listening", map[string]any{"addr": cfg.Address(), "promos_file": cfg.PromosFile})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sig:
	case err := <-serveErr:
		runErr = err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "shutdown error", err)
	}
	a.Close(shutdownCtx, log)

	log.Info(shutdownCtx, "server stopped")
	return runErr
}
