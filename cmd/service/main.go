package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridianhq/opstream/internal/config"
	"github.com/meridianhq/opstream/internal/consumer"
	"github.com/meridianhq/opstream/internal/guard"
	"github.com/meridianhq/opstream/internal/metrics"
	"github.com/meridianhq/opstream/internal/notifier"
	"github.com/meridianhq/opstream/internal/observability/logger"
	"github.com/meridianhq/opstream/internal/opsapi"
	"github.com/meridianhq/opstream/internal/router"
	"github.com/meridianhq/opstream/internal/shardstore"
	"github.com/meridianhq/opstream/internal/stream"
	streamredis "github.com/meridianhq/opstream/internal/stream/redis"
)

// version se inyecta en build time via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.dev")

	cfgPath := flag.String("config", "config.yaml", "ruta del config YAML")
	flag.Parse()

	var cfg *config.Config
	var err error
	if _, statErr := os.Stat(*cfgPath); statErr == nil {
		cfg, err = config.Load(*cfgPath)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		// logger todavía no inicializado
		panic(err)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "opstream-consumer",
		Version:     version,
	})
	defer logger.Sync()
	log := logger.Named("main")

	if err := metrics.RegisterPipeline(nil); err != nil {
		log.Fatal("metrics registration failed", logger.Err(err))
	}

	slog := streamredis.New(streamredis.Options{
		Addr:     cfg.Stream.Redis.Addr,
		DB:       cfg.Stream.Redis.DB,
		Password: cfg.Stream.Redis.Password,
		Name:     cfg.Stream.Name,
		Shards:   cfg.Stream.Shards,
	})
	defer slog.Close()

	rt := router.New(router.Options{
		BaseURL:  cfg.Router.BaseURL,
		APIKey:   cfg.Router.APIKey,
		Timeout:  cfg.RouterTimeout(),
		CacheTTL: cfg.RouterCacheTTL(),
	})
	pools := router.NewPools(shardstore.PoolConfig{
		MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime(),
	})
	defer pools.Close()

	hub := notifier.New(notifier.Options{
		BaseURL:   cfg.Notifier.BaseURL,
		Timeout:   cfg.NotifierTimeout(),
		QueueSize: cfg.Notifier.QueueSize,
	})

	cons := consumer.New(consumer.Config{
		Log:      slog,
		Resolver: rt,
		Stores: consumer.StoreProviderFunc(func(ctx context.Context, conn *router.ShardConnection) (consumer.Store, error) {
			return pools.StoreFor(ctx, conn)
		}),
		Notifier:      hub,
		Guard:         guard.New(cfg.GuardCooldown()),
		PollInterval:  cfg.PollInterval(),
		BatchSize:     cfg.Stream.BatchSize,
		StartPosition: stream.StartPosition(cfg.Stream.StartPosition),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cons.Start(ctx); err != nil {
		log.Fatal("consumer start failed", logger.Err(err))
	}
	log.Info("consumer started",
		logger.Stream(cfg.Stream.Name),
		logger.Count(cfg.Stream.Shards),
		logger.String("start_position", cfg.Stream.StartPosition))

	srv := opsServer(cfg.Server.Addr, slog, rt, cons, pools)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops server failed", logger.Err(err))
		}
	}()
	log.Info("ops server listening", logger.String("addr", cfg.Server.Addr))

	<-ctx.Done()
	log.Info("shutting down")

	// orden: frenar los loops, drenar notificaciones, cerrar el server
	cons.Stop()
	hub.Close()

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	log.Info("shutdown complete")
}

// opsServer expone los endpoints operativos (healthz, metrics, stats).
func opsServer(addr string, slog *streamredis.Log, rt *router.Client, cons *consumer.Consumer, pools *router.Pools) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")

		problems := map[string]string{}
		if err := slog.Ping(ctx); err != nil {
			problems["stream"] = err.Error()
		}
		if _, err := rt.Health(ctx); err != nil {
			problems["router"] = err.Error()
		}
		if len(problems) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "degraded", "checks": problems})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"shards": cons.Stats(),
			"pools":  pools.Stats(),
		})
	})

	api := opsapi.NewHandler(rt, opsapi.ReaderProviderFunc(func(ctx context.Context, conn *router.ShardConnection) (opsapi.Reader, error) {
		return pools.StoreFor(ctx, conn)
	}))
	api.Routes(r)

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
