package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dtroode/staffsync/internal/api/grpc/directoryapi"
	"github.com/dtroode/staffsync/internal/api/grpc/router"
	grpcServer "github.com/dtroode/staffsync/internal/api/grpc/server"
	adminHTTP "github.com/dtroode/staffsync/internal/api/http"
	"github.com/dtroode/staffsync/internal/config"
	"github.com/dtroode/staffsync/internal/directory"
	"github.com/dtroode/staffsync/internal/imagecodec"
	"github.com/dtroode/staffsync/internal/logger"
	"github.com/dtroode/staffsync/internal/metrics"
	"github.com/dtroode/staffsync/internal/model"
	"github.com/dtroode/staffsync/internal/server"
	"github.com/dtroode/staffsync/internal/service"
	storage "github.com/dtroode/staffsync/internal/storage/minio"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	logger := logger.NewWithFormat(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	logAppVersion()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize store", "driver", cfg.Store.Driver, "error", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	strategy, err := directory.ParseStrategy(cfg.Allocator.Strategy)
	if err != nil {
		logger.Fatal("invalid allocator config", "error", err)
	}

	codec := imagecodec.New(logger, m.ImageDecodeFailed)
	mapper := directory.NewMapper(codec)
	channel := directory.NewChannel(store, mapper, logger,
		directory.WithRetryInterval(cfg.Sync.RetryInterval),
		directory.WithChannelObserver(m),
	)
	allocator := directory.NewAllocator(store, logger,
		directory.WithStrategy(strategy),
		directory.WithMaxRetries(cfg.Allocator.MaxRetries),
		directory.WithAllocatorObserver(m),
	)

	opts := []service.DirectoryOption{}
	if cfg.Storage.Enabled {
		archive, err := storage.New(ctx, storage.Options{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Fatal("failed to initialize photo archive", "error", err)
		}
		opts = append(opts, service.WithPhotoArchive(archive))
	}

	directoryService := service.NewDirectory(store, allocator, channel, mapper, codec, logger, opts...)

	grpcRouter := router.New(directoryService, codec, m, logger)
	grpcSrv := grpcServer.NewGRPCServer(grpcRouter.Register(), fmt.Sprintf(":%s", cfg.GRPC.Port))

	servers := []serverWithLayer{{server: grpcSrv, layer: server.NewSecurityLayer(cfg.GRPC)}}
	if cfg.HTTP.Addr != "" {
		var pinger model.Pinger
		if p, ok := store.(model.Pinger); ok {
			pinger = p
		}
		admin := adminHTTP.NewRouter(registry, pinger, logger)
		servers = append(servers, serverWithLayer{
			server: adminHTTP.NewServer(admin.Register(), cfg.HTTP.Addr),
			layer:  server.NewPlainListener(),
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(func() error {
			logger.Info("Starting server on", "address", s.server.Address())
			if err := s.server.Start(s.layer); err != nil {
				return fmt.Errorf("server %s: %w", s.server.Address(), err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("received interruption signal, shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcRouter.Health().SetServingStatus(directoryapi.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		directoryService.Close()

		var errs []error
		for _, s := range servers {
			if err := s.server.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server %s: %w", s.server.Address(), err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
	}
	logger.Info("shutdown complete")
}

type serverWithLayer struct {
	server model.Server
	layer  model.SecurityLayer
}

func logAppVersion() {
	tmpl := `
Build version: %s
Build date: %s
Build commit: %s
`

	fmt.Printf(tmpl, buildVersion, buildDate, buildCommit)
}
