package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	grpcctx "github.com/dtroode/staffsync/internal/api/grpc/context"
	"github.com/dtroode/staffsync/internal/logger"
)

// RequestIDManager reads and attaches request ids.
type RequestIDManager interface {
	SetRequestIDToContext(ctx context.Context, requestID uuid.UUID) context.Context
	GetRequestIDFromContext(ctx context.Context) (uuid.UUID, bool)
}

// RequestObserver records call durations.
type RequestObserver interface {
	ObserveRequest(method, code string, d time.Duration)
}

// Logging logs gRPC calls and results and tags each call with a request id.
type Logging struct {
	logger         *logger.Logger
	contextManager RequestIDManager
	metrics        RequestObserver
}

// NewLogging creates a new Logging middleware. metrics may be nil.
func NewLogging(logger *logger.Logger, contextManager RequestIDManager, metrics RequestObserver) *Logging {
	return &Logging{logger: logger, contextManager: contextManager, metrics: metrics}
}

// HandleGRPC logs method name, duration and status for each unary request.
func (l *Logging) HandleGRPC(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	ctx, requestID := l.requestID(ctx)
	_ = grpc.SetHeader(ctx, metadata.Pairs(grpcctx.RequestIDKey, requestID.String()))

	l.logger.Info("gRPC request started",
		"method", info.FullMethod,
		"request_id", requestID)

	resp, err := handler(ctx, req)

	l.finish(info.FullMethod, requestID, start, err)
	return resp, err
}

// HandleStream does the same as HandleGRPC for streaming calls. The
// duration covers the whole stream.
func (l *Logging) HandleStream(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	ctx, requestID := l.requestID(ss.Context())
	_ = ss.SetHeader(metadata.Pairs(grpcctx.RequestIDKey, requestID.String()))

	wrapped := grpcmiddleware.WrapServerStream(ss)
	wrapped.WrappedContext = ctx

	l.logger.Info("gRPC stream started",
		"method", info.FullMethod,
		"request_id", requestID)

	err := handler(srv, wrapped)

	l.finish(info.FullMethod, requestID, start, err)
	return err
}

func (l *Logging) requestID(ctx context.Context) (context.Context, uuid.UUID) {
	if id, ok := l.contextManager.GetRequestIDFromContext(ctx); ok {
		return ctx, id
	}
	id := uuid.New()
	return l.contextManager.SetRequestIDToContext(ctx, id), id
}

func (l *Logging) finish(method string, requestID uuid.UUID, start time.Time, err error) {
	duration := time.Since(start)

	statusCode := codes.OK
	if err != nil {
		if st, ok := status.FromError(err); ok {
			statusCode = st.Code()
		} else {
			statusCode = codes.Internal
		}
	}

	if l.metrics != nil {
		l.metrics.ObserveRequest(method, statusCode.String(), duration)
	}

	l.logger.Info("gRPC request completed",
		"method", method,
		"request_id", requestID,
		"duration_ms", duration.Milliseconds(),
		"status", statusCode.String())

	if err != nil {
		l.logger.Error("gRPC request failed",
			"method", method,
			"request_id", requestID,
			"error", err.Error(),
			"status", statusCode.String())
	}
}
