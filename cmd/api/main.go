package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/edgeq/internal/api"
	"github.com/SirClappington/edgeq/internal/config"
	"github.com/SirClappington/edgeq/internal/logging"
	"github.com/SirClappington/edgeq/internal/mirror"
	"github.com/SirClappington/edgeq/internal/storage"
	"github.com/SirClappington/edgeq/internal/taskqueue"
	"github.com/SirClappington/edgeq/internal/upstream"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("edgeq exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	qopts := []taskqueue.Option{
		taskqueue.WithDefaults(cfg.QueueDefaults.TaskQueue()),
		taskqueue.WithLogger(logger.Named("taskqueue")),
		taskqueue.WithTracer(otel.Tracer("github.com/SirClappington/edgeq/taskqueue")),
	}
	var closers []func() error

	var store api.Store
	if cfg.PostgresDSN != "" {
		db, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		closers = append(closers, func() error { db.Close(); return nil })
		st := storage.New(db)
		if err := st.Ping(ctx); err != nil {
			logger.Warn("postgres not reachable at startup", zap.Error(err))
		}
		store = st
	} else {
		logger.Info("POSTGRES_DSN not set, table routes disabled")
	}

	var mir *mirror.Redis
	if cfg.RedisAddr != "" {
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		mir = mirror.New(rdb, cfg.MirrorTTL, logger.Named("mirror"))
		closers = append(closers, mir.Close, rdb.Close)
		qopts = append(qopts, taskqueue.WithObserver(mir))
	}

	q := taskqueue.New(qopts...)

	srvOpts := []api.Option{
		api.WithUserLane(cfg.UserAPIQueue.TaskQueue()),
		api.WithTableLane(cfg.DBQueue.TaskQueue()),
	}
	if store != nil {
		srvOpts = append(srvOpts, api.WithStore(store))
	}
	if mir != nil {
		srvOpts = append(srvOpts, api.WithMirror(mir))
	}
	up := upstream.New(cfg.UpstreamBaseURL, cfg.UpstreamToken, cfg.UpstreamTimeout)
	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.New(q, up, logger.Named("api"), srvOpts...).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	var sched *cron.Cron
	if cfg.IdleEvictAfter > 0 {
		sched = cron.New()
		if _, err := sched.AddFunc(cfg.EvictSchedule, func() { q.EvictIdle(cfg.IdleEvictAfter) }); err != nil {
			return err
		}
		sched.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.APIAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs error
		if sched != nil {
			<-sched.Stop().Done()
		}
		errs = multierr.Append(errs, srv.Shutdown(sctx))
		errs = multierr.Append(errs, q.Close(sctx))
		for _, c := range closers {
			errs = multierr.Append(errs, c())
		}
		return errs
	})
	return g.Wait()
}
