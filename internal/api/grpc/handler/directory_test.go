package handler

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dtroode/staffsync/internal/api/grpc/directoryapi"
	"github.com/dtroode/staffsync/internal/imagecodec"
	"github.com/dtroode/staffsync/internal/model"
	"github.com/dtroode/staffsync/internal/service"
	"github.com/dtroode/staffsync/internal/testutil"
)

type fakeService struct {
	added    image.Image
	seenID   int64
	seenAt   time.Time
	err      error
	snapshot model.Snapshot
}

func (f *fakeService) Add(_ context.Context, name string, img image.Image) (model.Employee, error) {
	f.added = img
	if f.err != nil {
		return model.Employee{}, f.err
	}
	id := int64(5)
	first, last := model.SplitName(name)
	return model.Employee{ID: &id, Key: "5", FirstName: first, LastName: last, Photo: img}, nil
}

func (f *fakeService) Remove(context.Context, int64) error { return f.err }
func (f *fakeService) Clear(context.Context) error         { return f.err }

func (f *fakeService) List(context.Context) (model.Snapshot, error) {
	return f.snapshot, f.err
}

func (f *fakeService) MarkSeen(_ context.Context, id int64, at time.Time) (model.Employee, error) {
	f.seenID, f.seenAt = id, at
	return model.Employee{Key: "1", LastSeenAt: at.UnixMilli()}, f.err
}

func (f *fakeService) Reconcile(context.Context) (int64, error) { return 0, f.err }

func (f *fakeService) Observe(context.Context) (*service.Observation, error) {
	return nil, model.ErrChannelClosed
}

func newTestHandler(svc *fakeService) *Directory {
	log := testutil.MakeNoopLogger()
	return NewDirectory(svc, imagecodec.New(log, nil), log)
}

func TestDirectory_AddDecodesPhoto(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandler(svc)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testutil.Portrait(12, 9)))

	resp, err := h.Add(context.Background(), &directoryapi.AddRequest{Name: "Ada Lovelace", Photo: buf.Bytes()})
	require.NoError(t, err)
	require.NotNil(t, svc.added)
	assert.Equal(t, image.Rect(0, 0, 12, 9), svc.added.Bounds())

	out, _, err := image.Decode(bytes.NewReader(resp.Employee.Photo))
	require.NoError(t, err)
	assert.Equal(t, 12, out.Bounds().Dx())
}

func TestDirectory_AddServiceError(t *testing.T) {
	h := newTestHandler(&fakeService{err: model.ErrAllocationConflict})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testutil.Portrait(4, 4)))

	_, err := h.Add(context.Background(), &directoryapi.AddRequest{Name: "Ada Lovelace", Photo: buf.Bytes()})
	assert.Equal(t, codes.Aborted, status.Code(err))
}

func TestDirectory_ListWithoutPhotos(t *testing.T) {
	id := int64(0)
	h := newTestHandler(&fakeService{snapshot: model.Snapshot{{ID: &id, Key: "0", FirstName: "Ada"}}})

	resp, err := h.List(context.Background(), &directoryapi.ListRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Employees, 1)
	assert.Empty(t, resp.Employees[0].Photo)
	assert.Equal(t, "Ada", resp.Employees[0].FirstName)
}

func TestDirectory_ListServesStoredJPEG(t *testing.T) {
	id := int64(3)
	stored := []byte("stored jpeg bytes")
	h := newTestHandler(&fakeService{snapshot: model.Snapshot{
		{ID: &id, Key: "3", Photo: testutil.Portrait(16, 16), PhotoJPEG: stored},
		{Key: "legacy", Photo: testutil.Portrait(6, 4)},
	}})

	resp, err := h.List(context.Background(), &directoryapi.ListRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Employees, 2)
	assert.Equal(t, stored, resp.Employees[0].Photo)

	out, format, err := image.Decode(bytes.NewReader(resp.Employees[1].Photo))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 6, out.Bounds().Dx())
}

func TestDirectory_ListEmptyIsNotNil(t *testing.T) {
	h := newTestHandler(&fakeService{snapshot: model.Snapshot{}})

	resp, err := h.List(context.Background(), &directoryapi.ListRequest{})
	require.NoError(t, err)
	assert.NotNil(t, resp.Employees)
}

func TestDirectory_MarkSeenDefaultsToNow(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandler(svc)
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	resp, err := h.MarkSeen(context.Background(), &directoryapi.MarkSeenRequest{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), svc.seenID)
	assert.True(t, now.Equal(svc.seenAt))
	assert.Equal(t, now.UnixMilli(), resp.Employee.LastSeenAt)

	at := now.Add(-time.Hour).UnixMilli()
	_, err = h.MarkSeen(context.Background(), &directoryapi.MarkSeenRequest{ID: 1, At: at})
	require.NoError(t, err)
	assert.Equal(t, at, svc.seenAt.UnixMilli())
}

func TestDirectory_RemoveAndClearErrors(t *testing.T) {
	h := newTestHandler(&fakeService{err: errors.New("store down")})

	_, err := h.Remove(context.Background(), &directoryapi.RemoveRequest{ID: 1})
	assert.Equal(t, codes.Internal, status.Code(err))

	_, err = h.Clear(context.Background(), &directoryapi.Empty{})
	assert.Equal(t, codes.Internal, status.Code(err))
}
