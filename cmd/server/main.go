package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"atpark/internal/atproto"
	"atpark/internal/auth"
	"atpark/internal/config"
	"atpark/internal/feed"
	apphttp "atpark/internal/http"
	"atpark/internal/metrics"
	"atpark/internal/publisher"
	"atpark/internal/repository/sqlite"
	"atpark/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	sessions := sqlite.NewSessionRepository(db)
	if err := sessions.Init(ctx); err != nil {
		logger.Fatalf("init session repository: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	publisherMetrics, err := metrics.NewPublisher(reg)
	if err != nil {
		logger.Fatalf("metrics: %v", err)
	}
	feedMetrics, err := metrics.NewFeed(reg)
	if err != nil {
		logger.Fatalf("metrics: %v", err)
	}

	agent := atproto.NewXRPCAgent(atproto.XRPCConfig{
		Service: cfg.ATProto.Service,
		Timeout: cfg.ATProto.Timeout,
		Store:   sessions,
		Logger:  logger,
	})
	if resumed, err := agent.Resume(ctx); err != nil {
		logger.Warnf("resume session: %v", err)
	} else if resumed {
		logger.Info("found stored session")
	}

	client, err := atproto.NewClient(atproto.ClientConfig{
		Agent:            agent,
		Namespace:        cfg.ATProto.Namespace,
		ProfileCacheSize: cfg.Profile.CacheSize,
		Logger:           logger,
	})
	if err != nil {
		logger.Fatalf("setup repository client: %v", err)
	}

	fallback, err := feed.ParseFallback(cfg.Feed.Fallback)
	if err != nil {
		logger.Fatalf("feed fallback: %v", err)
	}
	photoFeed, err := feed.New(feed.Config{
		Source:        client,
		Collection:    client.Collection(),
		PageSize:      cfg.Feed.PageSize,
		SyntheticSize: cfg.Feed.SyntheticSize,
		Fallback:      fallback,
		Logger:        logger,
		Metrics:       feedMetrics,
	})
	if err != nil {
		logger.Fatalf("setup feed: %v", err)
	}

	pub := publisher.New(publisher.Config{
		BrokerURL:            cfg.Broker.URL,
		GrantTimeout:         cfg.Publisher.GrantTimeout,
		UploadFloor:          cfg.Publisher.UploadFloor,
		UploadBytesPerSecond: cfg.Publisher.UploadBytesPerSecond,
		Logger:               logger,
		Metrics:              publisherMetrics,
	})

	authCtl := auth.NewController(client, logger)
	view := authCtl.Start(ctx)
	logger.WithField("status", view.Status).Info("auth resolved")

	photoService := service.NewPhotoService(pub, photoFeed, client, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		authCtl,
		photoFeed,
		photoService,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		logger,
		cfg.Server.MaxUploadBytes,
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("http server: %v", err)
	}
	logger.Info("bye")
}
