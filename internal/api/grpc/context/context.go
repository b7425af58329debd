package context

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"
)

// RequestIDKey is the metadata key carrying the request id in both
// directions.
const RequestIDKey string = "x-request-id"

// Manager reads and writes request ids in gRPC metadata.
type Manager struct{}

// NewManager creates a new gRPC context manager instance.
func NewManager() *Manager {
	return &Manager{}
}

// SetRequestIDToContext stores requestID in the incoming metadata of ctx so
// that handlers further down the chain see it.
func (m *Manager) SetRequestIDToContext(ctx context.Context, requestID uuid.UUID) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		md = metadata.New(map[string]string{RequestIDKey: requestID.String()})
	} else {
		md = md.Copy()
		md.Set(RequestIDKey, requestID.String())
	}

	return metadata.NewIncomingContext(ctx, md)
}

// GetRequestIDFromContext returns the request id sent by the caller.
func (m *Manager) GetRequestIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return m.GetRequestIDFromMetadata(md)
}

// GetRequestIDFromMetadata parses the request id from md, e.g. a response
// header received by a client.
func (m *Manager) GetRequestIDFromMetadata(md metadata.MD) (uuid.UUID, bool) {
	ids := md.Get(RequestIDKey)
	if len(ids) == 0 {
		return uuid.Nil, false
	}

	requestID, err := uuid.Parse(ids[0])
	if err != nil {
		return uuid.Nil, false
	}

	return requestID, true
}

// OutgoingWithRequestID attaches requestID to a client call.
func (m *Manager) OutgoingWithRequestID(ctx context.Context, requestID uuid.UUID) context.Context {
	return metadata.AppendToOutgoingContext(ctx, RequestIDKey, requestID.String())
}
