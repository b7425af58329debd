package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dtroode/staffsync/internal/directory"
	"github.com/dtroode/staffsync/internal/imagecodec"
	"github.com/dtroode/staffsync/internal/logger"
	"github.com/dtroode/staffsync/internal/model"
)

// Directory is the entry point to the employee directory: it writes records
// through the remote store and exposes the synchronized view to observers.
type Directory struct {
	store     model.RemoteStore
	allocator *directory.Allocator
	channel   *directory.Channel
	mapper    *directory.Mapper
	codec     *imagecodec.Codec
	archive   model.PhotoArchive
	logger    *logger.Logger
	now       func() time.Time

	obsMu        sync.Mutex
	observations map[uuid.UUID]*Observation
	closed       bool
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithPhotoArchive mirrors every stored portrait into archive.
func WithPhotoArchive(archive model.PhotoArchive) DirectoryOption {
	return func(d *Directory) { d.archive = archive }
}

// WithClock overrides the time source used for LastSeenAt.
func WithClock(now func() time.Time) DirectoryOption {
	return func(d *Directory) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDirectory creates a Directory writing through store. Observers share
// channel; allocator and mapper must be bound to the same store.
func NewDirectory(
	store model.RemoteStore,
	allocator *directory.Allocator,
	channel *directory.Channel,
	mapper *directory.Mapper,
	codec *imagecodec.Codec,
	logger *logger.Logger,
	opts ...DirectoryOption,
) *Directory {
	d := &Directory{
		store:     store,
		allocator: allocator,
		channel:   channel,
		mapper:    mapper,
		codec:     codec,
		logger:    logger,
		now:       time.Now,

		observations: make(map[uuid.UUID]*Observation),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Add stores a new employee under the next free identifier. The name is
// stored trimmed and otherwise as given; full-name rules belong to callers.
// The identifier is not returned to the counter if the record write fails.
func (s *Directory) Add(ctx context.Context, name string, img image.Image) (model.Employee, error) {
	if img == nil {
		return model.Employee{}, model.ErrInvalidImage
	}
	name = strings.TrimSpace(name)

	text, data, err := s.codec.EncodeWithBytes(img)
	if err != nil {
		return model.Employee{}, fmt.Errorf("failed to encode image: %w", err)
	}

	id, err := s.allocator.Next(ctx)
	if err != nil {
		return model.Employee{}, fmt.Errorf("failed to allocate employee id: %w", err)
	}

	seen := s.now().UnixMilli()
	node := model.Node{
		model.FieldID:         id,
		model.FieldName:       name,
		model.FieldImage:      text,
		model.FieldLastSeenAt: seen,
	}
	if err := s.store.Set(ctx, model.EmployeePath(id), node); err != nil {
		return model.Employee{}, fmt.Errorf("failed to write employee %d: %w", id, err)
	}

	s.logger.Info("Employee added", "id", id)

	if s.archive != nil {
		key := model.PhotoKey(id)
		if err := s.archive.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), imagecodec.ContentType); err != nil {
			s.logger.Warn("Failed to archive employee photo", "id", id, "key", key, "error", err)
		}
	}

	first, last := model.SplitName(name)
	return model.Employee{
		ID:         &id,
		Key:        strconv.FormatInt(id, 10),
		FirstName:  first,
		LastName:   last,
		Photo:      img,
		PhotoJPEG:  data,
		LastSeenAt: seen,
	}, nil
}

// Remove deletes the employee and decrements the counter. The two writes
// are independent; the counter is not checked against the remaining records.
func (s *Directory) Remove(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, model.EmployeePath(id)); err != nil {
		return fmt.Errorf("failed to delete employee %d: %w", id, err)
	}

	if err := s.allocator.Release(ctx, id); err != nil {
		return fmt.Errorf("failed to release employee id: %w", err)
	}

	s.logger.Info("Employee removed", "id", id)

	if s.archive != nil {
		key := model.PhotoKey(id)
		if err := s.archive.Delete(ctx, key); err != nil {
			s.logger.Warn("Failed to delete archived employee photo", "id", id, "key", key, "error", err)
		}
	}

	return nil
}

// Clear deletes every employee and resets the counter to zero.
func (s *Directory) Clear(ctx context.Context) error {
	if err := s.store.Delete(ctx, model.EmployeesPath); err != nil {
		return fmt.Errorf("failed to delete employees: %w", err)
	}

	if err := s.allocator.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset counter: %w", err)
	}

	s.logger.Info("Directory cleared")
	return nil
}

// List fetches the current directory once.
func (s *Directory) List(ctx context.Context) (model.Snapshot, error) {
	raw, ok, err := s.store.Get(ctx, model.EmployeesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get employees: %w", err)
	}
	if !ok {
		return model.Snapshot{}, nil
	}

	node, _ := model.AsNode(raw)
	return s.mapper.MapSnapshot(node), nil
}

// MarkSeen rewrites the employee's node with a new LastSeenAt.
func (s *Directory) MarkSeen(ctx context.Context, id int64, at time.Time) (model.Employee, error) {
	path := model.EmployeePath(id)

	raw, ok, err := s.store.Get(ctx, path)
	if err != nil {
		return model.Employee{}, fmt.Errorf("failed to get employee %d: %w", id, err)
	}
	node, isNode := model.AsNode(raw)
	if !ok || !isNode {
		return model.Employee{}, fmt.Errorf("employee %d: %w", id, model.ErrNotFound)
	}

	node = model.CloneNode(node)
	node[model.FieldLastSeenAt] = at.UnixMilli()
	if err := s.store.Set(ctx, path, node); err != nil {
		return model.Employee{}, fmt.Errorf("failed to write employee %d: %w", id, err)
	}

	return s.mapper.Map(strconv.FormatInt(id, 10), node), nil
}

// Reconcile moves the counter to one past the highest stored identifier,
// or zero for an empty directory, and returns the new value.
func (s *Directory) Reconcile(ctx context.Context) (int64, error) {
	snapshot, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	var next int64
	for _, id := range snapshot.IDs() {
		if id+1 > next {
			next = id + 1
		}
	}

	prev, err := s.allocator.Current(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}

	if err := s.allocator.Set(ctx, next); err != nil {
		return 0, fmt.Errorf("failed to set counter: %w", err)
	}

	if prev != next {
		s.logger.Warn("Counter reconciled", "previous", prev, "next", next)
	}
	return next, nil
}

// Close stops the sync channel and ends every live observation. Writes keep
// working; new observations fail with model.ErrChannelClosed.
func (s *Directory) Close() {
	s.obsMu.Lock()
	if s.closed {
		s.obsMu.Unlock()
		return
	}
	s.closed = true
	live := make([]*Observation, 0, len(s.observations))
	for _, obs := range s.observations {
		live = append(live, obs)
	}
	s.obsMu.Unlock()

	s.channel.Close()
	for _, obs := range live {
		obs.Close()
	}
	s.logger.Info("Directory closed", "observers", len(live))
}
