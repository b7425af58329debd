package handler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dtroode/staffsync/internal/model"
)

func TestHandleError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       error
		wantCode codes.Code
	}{
		{name: "invalid name", in: model.ErrInvalidName, wantCode: codes.InvalidArgument},
		{name: "invalid image", in: model.ErrInvalidImage, wantCode: codes.InvalidArgument},
		{name: "wrapped not found", in: fmt.Errorf("employee 3: %w", model.ErrNotFound), wantCode: codes.NotFound},
		{name: "allocation conflict", in: fmt.Errorf("failed to allocate employee id: %w", model.ErrAllocationConflict), wantCode: codes.Aborted},
		{name: "channel closed", in: fmt.Errorf("failed to observe directory: %w", model.ErrChannelClosed), wantCode: codes.Unavailable},
		{name: "store closed", in: model.ErrStoreClosed, wantCode: codes.Unavailable},
		{name: "canceled", in: context.Canceled, wantCode: codes.Canceled},
		{name: "deadline", in: context.DeadlineExceeded, wantCode: codes.DeadlineExceeded},
		{name: "corrupt counter", in: model.ErrCounterCorrupt, wantCode: codes.Internal},
		{name: "other", in: errors.New("boom"), wantCode: codes.Internal},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st, ok := status.FromError(handleError(tt.in))
			assert.True(t, ok)
			assert.Equal(t, tt.wantCode, st.Code())
			assert.NotContains(t, st.Message(), "boom")
		})
	}
}
