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

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/config"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/handlers"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/logging"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/metrics"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/tracker"
)

func setupRouter(cfg handlers.HandlerConfig, registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(cfg.Logger))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "orders": cfg.Tracker.Count()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	handlers.RegisterOrdersRoutes(r, cfg)

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logging.Init(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := wire(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close()

	// the exporter reads rollups lazily, so it can be built before the tracker exists
	var tr *tracker.Tracker
	exporter := metrics.NewExporter(cfg.MetricsNamespace, func() metrics.Snapshot { return tr.Metrics() })
	registry := prometheus.NewRegistry()
	registry.MustRegister(exporter, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tr, err = tracker.Open(ctx, tracker.Config{
		Persister: deps.persister,
		Publisher: deps.notifier,
		Observer:  exporter,
		Archive:   deps.archive,
		Retention: cfg.RetentionWindow,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	r := setupRouter(handlers.HandlerConfig{
		Tracker:        tr,
		Idempotency:    deps.idempotency,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         log,
	}, registry)

	if !cfg.RunLocal {
		return serveLambda(r, deps, log)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("running local server", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "orders", tr.Count())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.RetentionWindow > 0 && cfg.ArchiveInterval > 0 {
		g.Go(func() error {
			tr.RunArchiver(gctx, cfg.ArchiveInterval)
			return nil
		})
	}
	if deps.cloudwatch != nil && cfg.MetricsInterval > 0 {
		g.Go(func() error {
			deps.cloudwatch(tr.Metrics).Run(gctx, cfg.MetricsInterval, log)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return deps.notifier.Close(shutdownCtx)
	})
	return g.Wait()
}

// serveLambda proxies API Gateway requests into the router. Queued events are
// flushed before each response because the runtime freezes between invocations.
func serveLambda(r *gin.Engine, deps *dependencies, log *slog.Logger) error {
	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		if ferr := deps.notifier.Flush(ctx); ferr != nil {
			log.WarnContext(ctx, "events not delivered before response", "pending", deps.notifier.Pending(), "error", ferr)
		}
		return resp, err
	})
	return nil
}
