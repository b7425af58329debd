package handler

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dtroode/staffsync/internal/model"
)

func handleError(err error) error {
	switch {
	case errors.Is(err, model.ErrInvalidName):
		return status.Error(codes.InvalidArgument, "employee name must have a first and a last name")
	case errors.Is(err, model.ErrInvalidImage):
		return status.Error(codes.InvalidArgument, "employee photo is missing or not a supported image")
	case errors.Is(err, model.ErrNotFound):
		return status.Error(codes.NotFound, "employee not found")
	case errors.Is(err, model.ErrAllocationConflict):
		return status.Error(codes.Aborted, "identifier allocation conflict, retry the request")
	case errors.Is(err, model.ErrChannelClosed), errors.Is(err, model.ErrStoreClosed):
		return status.Error(codes.Unavailable, "directory is shutting down")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request deadline exceeded")
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}
