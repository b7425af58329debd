package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dtroode/staffsync/internal/model"
	"github.com/dtroode/staffsync/internal/testutil"
)

func TestCollectionKey(t *testing.T) {
	assert.Equal(t, "nodes:EMPLOYEES", collectionKey(model.EmployeesPath))
	assert.Equal(t, "nodes:PEOPLE_NUMBER", collectionKey("PEOPLE_NUMBER"))
}

func TestStore_RejectsUnsupportedPaths(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil, testutil.MakeNoopLogger())

	assert.ErrorIs(t, s.Set(ctx, model.EmployeesPath, "scalar"), model.ErrUnsupportedPath)
	assert.ErrorIs(t, s.Delete(ctx, "a/b/c"), model.ErrUnsupportedPath)

	_, err := s.CompareAndSetInt(ctx, "PEOPLE_NUMBER", nil, 0)
	assert.ErrorIs(t, err, model.ErrUnsupportedPath)

	_, err = s.Subscribe(ctx, model.EmployeePath(0), func(model.Node) {}, nil)
	assert.ErrorIs(t, err, model.ErrUnsupportedPath)
}

func TestStore_RejectsUnsupportedValues(t *testing.T) {
	s := NewStore(nil, testutil.MakeNoopLogger())

	err := s.Set(context.Background(), model.EmployeePath(0), true)
	assert.ErrorContains(t, err, "unsupported value type bool")
}
