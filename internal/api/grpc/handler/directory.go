package handler

import (
	"context"
	"image"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dtroode/staffsync/internal/api/grpc/directoryapi"
	"github.com/dtroode/staffsync/internal/logger"
	"github.com/dtroode/staffsync/internal/model"
	"github.com/dtroode/staffsync/internal/service"
)

// DirectoryService is the directory API the handler serves.
type DirectoryService interface {
	Add(ctx context.Context, name string, img image.Image) (model.Employee, error)
	Remove(ctx context.Context, id int64) error
	Clear(ctx context.Context) error
	List(ctx context.Context) (model.Snapshot, error)
	MarkSeen(ctx context.Context, id int64, at time.Time) (model.Employee, error)
	Reconcile(ctx context.Context) (int64, error)
	Observe(ctx context.Context) (*service.Observation, error)
}

// PhotoCodec converts photos between wire bytes and images.
type PhotoCodec interface {
	EncodeBytes(img image.Image) ([]byte, error)
	DecodeBytes(data []byte) (image.Image, error)
}

// Directory serves the staffsync.Directory gRPC service.
type Directory struct {
	service DirectoryService
	codec   PhotoCodec
	logger  *logger.Logger
	now     func() time.Time
}

var _ directoryapi.DirectoryServer = (*Directory)(nil)

// NewDirectory creates a Directory handler.
func NewDirectory(service DirectoryService, codec PhotoCodec, logger *logger.Logger) *Directory {
	return &Directory{
		service: service,
		codec:   codec,
		logger:  logger,
		now:     time.Now,
	}
}

func (h *Directory) Add(ctx context.Context, req *directoryapi.AddRequest) (*directoryapi.AddResponse, error) {
	if err := model.ValidateName(req.Name); err != nil {
		return nil, handleError(err)
	}

	img, err := h.codec.DecodeBytes(req.Photo)
	if err != nil {
		h.logger.Debug("Rejected employee photo", "error", err)
		return nil, handleError(model.ErrInvalidImage)
	}

	employee, err := h.service.Add(ctx, req.Name, img)
	if err != nil {
		h.logger.Error("Failed to add employee", "error", err)
		return nil, handleError(err)
	}

	return &directoryapi.AddResponse{Employee: h.toEmployee(employee)}, nil
}

func (h *Directory) Remove(ctx context.Context, req *directoryapi.RemoveRequest) (*directoryapi.Empty, error) {
	if req.ID < 0 {
		return nil, status.Error(codes.InvalidArgument, "employee id must not be negative")
	}

	if err := h.service.Remove(ctx, req.ID); err != nil {
		h.logger.Error("Failed to remove employee", "id", req.ID, "error", err)
		return nil, handleError(err)
	}

	return &directoryapi.Empty{}, nil
}

func (h *Directory) Clear(ctx context.Context, _ *directoryapi.Empty) (*directoryapi.Empty, error) {
	if err := h.service.Clear(ctx); err != nil {
		h.logger.Error("Failed to clear directory", "error", err)
		return nil, handleError(err)
	}

	return &directoryapi.Empty{}, nil
}

func (h *Directory) List(ctx context.Context, _ *directoryapi.ListRequest) (*directoryapi.ListResponse, error) {
	snapshot, err := h.service.List(ctx)
	if err != nil {
		h.logger.Error("Failed to list employees", "error", err)
		return nil, handleError(err)
	}

	return &directoryapi.ListResponse{Employees: h.toEmployees(snapshot)}, nil
}

func (h *Directory) MarkSeen(ctx context.Context, req *directoryapi.MarkSeenRequest) (*directoryapi.MarkSeenResponse, error) {
	at := h.now()
	if req.At > 0 {
		at = time.UnixMilli(req.At)
	}

	employee, err := h.service.MarkSeen(ctx, req.ID, at)
	if err != nil {
		return nil, handleError(err)
	}

	return &directoryapi.MarkSeenResponse{Employee: h.toEmployee(employee)}, nil
}

func (h *Directory) Reconcile(ctx context.Context, _ *directoryapi.Empty) (*directoryapi.ReconcileResponse, error) {
	next, err := h.service.Reconcile(ctx)
	if err != nil {
		h.logger.Error("Failed to reconcile counter", "error", err)
		return nil, handleError(err)
	}

	return &directoryapi.ReconcileResponse{Next: next}, nil
}

// Observe streams every published snapshot until the client goes away or
// the directory shuts down.
func (h *Directory) Observe(_ *directoryapi.ObserveRequest, stream directoryapi.ObserveServer) error {
	ctx := stream.Context()

	obs, err := h.service.Observe(ctx)
	if err != nil {
		return handleError(err)
	}
	defer obs.Close()

	log := h.logger.With("observation_id", obs.ID)
	log.Info("Observe stream opened")

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			log.Info("Observe stream closed by client")
			return nil
		case snapshot, ok := <-obs.C():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				log.Info("Observe stream ended by server")
				return handleError(model.ErrChannelClosed)
			}

			seq++
			msg := &directoryapi.Snapshot{Seq: seq, Employees: h.toEmployees(snapshot)}
			if err := stream.Send(msg); err != nil {
				log.Warn("Failed to send snapshot", "seq", seq, "error", err)
				return err
			}
		}
	}
}

func (h *Directory) toEmployees(snapshot model.Snapshot) []directoryapi.Employee {
	out := make([]directoryapi.Employee, 0, len(snapshot))
	for _, e := range snapshot {
		out = append(out, h.toEmployee(e))
	}
	return out
}

func (h *Directory) toEmployee(e model.Employee) directoryapi.Employee {
	out := directoryapi.Employee{
		ID:         e.ID,
		Key:        e.Key,
		FirstName:  e.FirstName,
		LastName:   e.LastName,
		LastSeenAt: e.LastSeenAt,
	}
	switch {
	case len(e.PhotoJPEG) > 0:
		out.Photo = e.PhotoJPEG
	case e.Photo != nil:
		data, err := h.codec.EncodeBytes(e.Photo)
		if err != nil {
			h.logger.Warn("Failed to encode employee photo", "key", e.Key, "error", err)
		} else {
			out.Photo = data
		}
	}
	return out
}
