package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/mandato/internal/authz"
	"github.com/dropDatabas3/mandato/internal/cache"
	"github.com/dropDatabas3/mandato/internal/config"
	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/domain/types"
	adminctrl "github.com/dropDatabas3/mandato/internal/http/controllers/admin"
	authzctrl "github.com/dropDatabas3/mandato/internal/http/controllers/authz"
	healthctrl "github.com/dropDatabas3/mandato/internal/http/controllers/health"
	webhookctrl "github.com/dropDatabas3/mandato/internal/http/controllers/webhooks"
	"github.com/dropDatabas3/mandato/internal/http/router"
	"github.com/dropDatabas3/mandato/internal/http/server"
	"github.com/dropDatabas3/mandato/internal/metrics"
	"github.com/dropDatabas3/mandato/internal/observability/logger"
	"github.com/dropDatabas3/mandato/internal/rate"
	"github.com/dropDatabas3/mandato/internal/security/secretbox"
	"github.com/dropDatabas3/mandato/internal/store"
	"github.com/dropDatabas3/mandato/internal/store/pg"
	"github.com/dropDatabas3/mandato/internal/truststore"
	"github.com/dropDatabas3/mandato/internal/verify"
	"github.com/dropDatabas3/mandato/internal/webhook"
)

// app agrupa los componentes cableados a partir del config.
type app struct {
	cfg        *config.Config
	store      repository.Store
	shared     cache.Client
	redis      *redis.Client
	keys       *truststore.CachedResolver
	dispatcher *webhook.Dispatcher
	authz      *authz.Service
	ingestor   *webhook.Ingestor
	recorder   metrics.Recorder
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		ServiceName: "mandato",
		Version:     version,
	})
	return cfg, nil
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.Named("bootstrap")

	var box *secretbox.Box
	if cfg.Security.SecretboxMasterKey != "" {
		b, err := secretbox.New(cfg.Security.SecretboxMasterKey)
		if err != nil {
			return nil, fmt.Errorf("secretbox: %w", err)
		}
		box = b
	} else {
		log.Warn("secretbox master key vacía: secrets de suscripciones en claro")
	}

	a := &app{cfg: cfg}

	cacheCfg := cache.Config{
		Driver:   cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	}
	if cfg.Cache.Kind == "redis" {
		rc, err := cache.NewRedisClient(cacheCfg)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = rc
		a.shared = cache.NewRedisFromClient(rc, cacheCfg.Prefix)
	} else {
		a.shared = cache.NewMemory(cacheCfg.Prefix)
	}

	st, err := store.Open(ctx, store.Config{
		Driver:       cfg.Storage.Driver,
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.Postgres.MaxOpenConns,
		MaxIdleConns: cfg.Storage.Postgres.MaxIdleConns,
		Migrate:      cfg.Flags.Migrate,
	}, box)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = st

	a.keys = truststore.NewCachedResolver(st.TrustedKeys(), truststore.Options{
		RefreshInterval: config.Duration(cfg.Truststore.RefreshInterval, truststore.DefaultRefreshInterval),
		ResolveTimeout:  config.Duration(cfg.Truststore.ResolveTimeout, truststore.DefaultResolveTimeout),
		Shared:          a.shared,
	})

	registry := verify.NewRegistry(map[types.Protocol]verify.Verifier{
		types.ProtocolAP2: verify.NewAP2Verifier(a.keys, nil),
		types.ProtocolACP: verify.NewACPVerifier(cfg.Verification.ACP.AllowedPSPs, nil),
	})

	out := cfg.Webhooks.Outbound
	def := webhook.DefaultConfig()
	a.dispatcher = webhook.NewDispatcher(st, webhook.Config{
		Timeout:      config.Duration(out.Timeout, def.Timeout),
		MaxAttempts:  out.MaxAttempts,
		BaseBackoff:  config.Duration(out.BaseBackoff, def.BaseBackoff),
		MaxBackoff:   config.Duration(out.MaxBackoff, def.MaxBackoff),
		PollInterval: config.Duration(out.PollInterval, def.PollInterval),
		BatchSize:    out.BatchSize,
		Workers:      out.Workers,
	}, webhook.Options{Observer: a.recorder})

	a.authz = authz.NewService(st, registry, a.dispatcher, authz.Options{Observer: a.recorder})

	if cfg.Webhooks.Inbound.ACPSecret == "" {
		log.Warn("webhooks.inbound.acp_secret vacío: POST /v1/webhooks/acp rechaza todo")
	}
	a.ingestor = webhook.NewIngestor(st, a.authz, cfg.Webhooks.Inbound.ACPSecret, webhook.Options{Observer: a.recorder})

	log.Info("componentes listos",
		logger.String("storage", cfg.Storage.Driver),
		logger.String("cache", cfg.Cache.Kind),
		zap.Strings("allowed_psps", cfg.Verification.ACP.AllowedPSPs),
	)
	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	// con redis, shared cierra también el cliente compartido con el rate limiter
	if a.shared != nil {
		_ = a.shared.Close()
	}
}

func (a *app) handler() (http.Handler, error) {
	var pool func() *pgxpool.Pool
	if ps, ok := a.store.(*pg.Store); ok {
		pool = ps.Pool
	}
	metricsHandler, err := metrics.Register(metrics.Config{Pool: pool})
	if err != nil {
		return nil, err
	}

	components := map[string]healthctrl.Pinger{"store": a.store, "cache": a.shared}

	deps := router.Deps{
		Authorizations: authzctrl.NewController(a.authz),
		Webhooks:       webhookctrl.NewController(a.dispatcher, a.ingestor),
		Truststore:     adminctrl.NewTruststoreController(a.keys),
		Health:         healthctrl.NewController(version, components),
		Metrics:        metricsHandler,
	}

	in := a.cfg.Webhooks.Inbound.Rate
	if in.Enabled {
		deps.InboundLimiter = rate.New(a.redis, a.cfg.Cache.Redis.Prefix+":rl", in.Limit, config.Duration(in.Window, time.Minute))
		deps.InboundLimit = in.Limit
	}
	return router.New(deps), nil
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta la API HTTP y el dispatcher de webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			h, err := a.handler()
			if err != nil {
				return err
			}

			log := logger.Named("main")
			log.Info("mandato iniciando",
				logger.String("addr", cfg.Server.Addr),
				logger.String("env", cfg.App.Env),
				logger.String("version", version),
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.Run(gctx, server.Config{
					Addr:            cfg.Server.Addr,
					ReadTimeout:     config.Duration(cfg.Server.ReadTimeout, 10*time.Second),
					WriteTimeout:    config.Duration(cfg.Server.WriteTimeout, 30*time.Second),
					ShutdownTimeout: config.Duration(cfg.Server.ShutdownTimeout, 15*time.Second),
				}, h)
			})
			g.Go(func() error {
				return a.dispatcher.Run(gctx)
			})

			err = g.Wait()
			log.Info("mandato detenido", logger.Err(err))
			return err
		},
	}
}
