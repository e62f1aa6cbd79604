package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/cheese-arena/internal/archive"
	appcfg "github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/engine"
	"github.com/park285/cheese-arena/internal/gateway"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/notify"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/rating"
	"github.com/park285/cheese-arena/internal/syncchan"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	cfg, err := appcfg.Load()
	if err != nil {
		obslog.L().Fatal("config_error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obslog.L().Error("arena_exit", zap.Error(err))
		obslog.Sync()
		log.Fatalf("arena: %v", err)
	}
	obslog.L().Info("arena_stopped")
}

func run(ctx context.Context, cfg *appcfg.AppConfig) error {
	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return err
	}

	var (
		docs  syncchan.Channel
		queue rating.PendingQueue
	)
	switch cfg.Store {
	case appcfg.StoreRedis:
		rdb, err := syncchan.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		docs = syncchan.NewRedisChannel(rdb, cfg.SessionTTL).TrackEnded(rating.PendingKey)
		queue = rating.NewRedisQueue(rdb)
	default:
		obslog.L().Warn("memory_store_enabled", zap.String("note", "sessions do not survive a restart"))
		docs = syncchan.NewMemoryChannel()
		queue = rating.NewMemoryQueue()
	}

	var (
		store     rating.Store = rating.NewMemoryStore(cfg.DefaultRating)
		archivers archive.Multi
	)
	if cfg.DatabaseURL == "" && cfg.Store == appcfg.StoreRedis {
		obslog.L().Warn("memory_rating_store", zap.String("note", "ratings do not survive a restart; set DATABASE_URL"))
	}
	if cfg.DatabaseURL != "" {
		db, err := archive.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		ps := rating.NewPostgresStore(db, cfg.DefaultRating)
		if err := ps.EnsureSchema(ctx); err != nil {
			return err
		}
		pa := archive.NewPostgres(db)
		if err := pa.EnsureSchema(ctx); err != nil {
			return err
		}
		store = ps
		archivers = append(archivers, pa)
	}
	if cfg.WebhookURL != "" {
		archivers = append(archivers, notify.NewWebhook(notify.NewClient(cfg.WebhookURL)))
	}

	settler := rating.NewSettler(docs, store, queue, rating.SettlerOptions{
		RetryInterval:   cfg.SettleRetryInterval,
		ConflictRetries: cfg.ConflictRetries,
	})
	eng := engine.New(docs, store, settler, archivers, engine.Options{
		ConflictRetries: cfg.ConflictRetries,
		DefaultTimeControl: engine.TimeControl{
			Minutes:          cfg.TimeControlMinutes,
			IncrementSeconds: cfg.IncrementSeconds,
		},
	})
	gw := gateway.New(eng, cat, gateway.Options{RateLimit: cfg.RateLimitPerMinute})

	g, gctx := errgroup.WithContext(ctx)
	// streams are hijacked and outlive Shutdown; the base context ends them
	base := func(net.Listener) context.Context { return gctx }
	servers := []*http.Server{{Addr: cfg.HTTPAddr, Handler: gw.Handler(), ReadHeaderTimeout: 10 * time.Second, BaseContext: base}}
	if cfg.StreamAddr != "" && cfg.StreamAddr != cfg.HTTPAddr {
		servers = append(servers, &http.Server{Addr: cfg.StreamAddr, Handler: gw.StreamHandler(), ReadHeaderTimeout: 10 * time.Second, BaseContext: base})
	}

	g.Go(func() error { return settler.Run(gctx) })
	for _, srv := range servers {
		g.Go(func() error {
			obslog.L().Info("http_listen", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				obslog.L().Warn("http_shutdown_error", zap.String("addr", srv.Addr), zap.Error(err))
			}
		}
		return nil
	})

	obslog.L().Info("arena_started",
		zap.String("store", cfg.Store),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Bool("webhook", cfg.WebhookURL != ""),
	)
	err = g.Wait()
	eng.Wait()
	return err
}
