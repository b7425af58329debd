package router

import (
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpcctx "github.com/dtroode/staffsync/internal/api/grpc/context"
	"github.com/dtroode/staffsync/internal/api/grpc/directoryapi"
	"github.com/dtroode/staffsync/internal/api/grpc/handler"
	"github.com/dtroode/staffsync/internal/api/grpc/middleware"
	"github.com/dtroode/staffsync/internal/logger"
)

// Router builds the gRPC server of the directory.
type Router struct {
	directoryService handler.DirectoryService
	codec            handler.PhotoCodec
	metrics          middleware.RequestObserver
	logger           *logger.Logger
	health           *health.Server
}

// New creates new gRPC Router instance. metrics may be nil.
func New(
	directoryService handler.DirectoryService,
	codec handler.PhotoCodec,
	metrics middleware.RequestObserver,
	logger *logger.Logger,
) *Router {
	return &Router{
		directoryService: directoryService,
		codec:            codec,
		metrics:          metrics,
		logger:           logger,
		health:           health.NewServer(),
	}
}

// Health returns the health service registered by Register, so that the
// caller can flip the serving status on shutdown.
func (r *Router) Health() *health.Server {
	return r.health
}

// Register registers all gRPC services and middleware.
// It sets up the gRPC server with panic recovery and request logging.
//
// Returns the configured gRPC server instance.
func (r *Router) Register() *grpc.Server {
	logging := middleware.NewLogging(r.logger, grpcctx.NewManager(), r.metrics)
	recoveryOpt := recovery.WithRecoveryHandlerContext(middleware.NewRecovery(r.logger).HandlePanic)

	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			logging.HandleGRPC,
			recovery.UnaryServerInterceptor(recoveryOpt),
		),
		grpc.ChainStreamInterceptor(
			logging.HandleStream,
			recovery.StreamServerInterceptor(recoveryOpt),
		),
	)
	r.registerDirectoryRoutes(s)

	healthpb.RegisterHealthServer(s, r.health)
	r.health.SetServingStatus(directoryapi.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return s
}

func (r *Router) registerDirectoryRoutes(server *grpc.Server) {
	directoryHandler := handler.NewDirectory(r.directoryService, r.codec, r.logger)
	directoryapi.RegisterDirectoryServer(server, directoryHandler)
}
