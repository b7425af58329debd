package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	grpcctx "github.com/dtroode/staffsync/internal/api/grpc/context"
	"github.com/dtroode/staffsync/internal/testutil"
)

type recordedCall struct {
	method string
	code   string
}

type requestRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *requestRecorder) ObserveRequest(method, code string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{method: method, code: code})
}

func TestLogging_HandleGRPC(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		handler  grpc.UnaryHandler
		wantCode codes.Code
	}{
		{
			name: "success path",
			handler: func(ctx context.Context, req interface{}) (interface{}, error) {
				time.Sleep(10 * time.Millisecond)
				return "ok", nil
			},
			wantCode: codes.OK,
		},
		{
			name: "grpc error propagates",
			handler: func(ctx context.Context, req interface{}) (interface{}, error) {
				return nil, status.Error(codes.InvalidArgument, "bad input")
			},
			wantCode: codes.InvalidArgument,
		},
		{
			name: "non-grpc error becomes Internal",
			handler: func(ctx context.Context, req interface{}) (interface{}, error) {
				return nil, errors.New("boom")
			},
			wantCode: codes.Internal,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := &requestRecorder{}
			lg := NewLogging(testutil.MakeNoopLogger(), grpcctx.NewManager(), rec)

			info := &grpc.UnaryServerInfo{FullMethod: "/svc/Method"}
			resp, err := lg.HandleGRPC(context.Background(), struct{}{}, info, tt.handler)

			require.Len(t, rec.calls, 1)
			assert.Equal(t, "/svc/Method", rec.calls[0].method)
			assert.Equal(t, tt.wantCode.String(), rec.calls[0].code)

			if tt.wantCode == codes.OK {
				assert.NoError(t, err)
				assert.Equal(t, "ok", resp)
				return
			}

			st, ok := status.FromError(err)
			gotCode := codes.Internal
			if ok {
				gotCode = st.Code()
			}
			assert.Equal(t, tt.wantCode, gotCode)
		})
	}
}

func TestLogging_HandleGRPC_RequestID(t *testing.T) {
	t.Parallel()

	mgr := grpcctx.NewManager()
	lg := NewLogging(testutil.MakeNoopLogger(), mgr, nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/Method"}

	var seen uuid.UUID
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		id, ok := mgr.GetRequestIDFromContext(ctx)
		require.True(t, ok)
		seen = id
		return nil, nil
	}

	_, err := lg.HandleGRPC(context.Background(), nil, info, handler)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, seen)

	sent := uuid.New()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(grpcctx.RequestIDKey, sent.String()))
	_, err = lg.HandleGRPC(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, sent, seen)
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx    context.Context
	header metadata.MD
}

func (f *fakeServerStream) Context() context.Context       { return f.ctx }
func (f *fakeServerStream) SetHeader(md metadata.MD) error { f.header = md; return nil }

func TestLogging_HandleStream(t *testing.T) {
	t.Parallel()

	mgr := grpcctx.NewManager()
	rec := &requestRecorder{}
	lg := NewLogging(testutil.MakeNoopLogger(), mgr, rec)
	info := &grpc.StreamServerInfo{FullMethod: "/svc/Stream", IsServerStream: true}
	ss := &fakeServerStream{ctx: context.Background()}

	err := lg.HandleStream(nil, ss, info, func(srv interface{}, stream grpc.ServerStream) error {
		_, ok := mgr.GetRequestIDFromContext(stream.Context())
		assert.True(t, ok)
		return status.Error(codes.Unavailable, "shutting down")
	})

	assert.Equal(t, codes.Unavailable, status.Code(err))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, recordedCall{method: "/svc/Stream", code: codes.Unavailable.String()}, rec.calls[0])

	id, ok := mgr.GetRequestIDFromMetadata(ss.header)
	assert.True(t, ok)
	assert.NotEqual(t, uuid.Nil, id)
}

func TestRecovery_HandlePanic(t *testing.T) {
	t.Parallel()

	r := NewRecovery(testutil.MakeNoopLogger())
	err := r.HandlePanic(context.Background(), "kaboom")
	assert.Equal(t, codes.Internal, status.Code(err))
}
