// Package mocks contains testify mocks for the interfaces in model.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dtroode/staffsync/internal/model"
)

// RemoteStore is a mock of model.RemoteStore.
type RemoteStore struct {
	mock.Mock
}

var _ model.RemoteStore = (*RemoteStore)(nil)

func (m *RemoteStore) Set(ctx context.Context, path string, value any) error {
	args := m.Called(ctx, path, value)
	return args.Error(0)
}

func (m *RemoteStore) Get(ctx context.Context, path string) (any, bool, error) {
	args := m.Called(ctx, path)
	return args.Get(0), args.Bool(1), args.Error(2)
}

func (m *RemoteStore) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func (m *RemoteStore) CompareAndSetInt(ctx context.Context, path string, expected *int64, next int64) (bool, error) {
	args := m.Called(ctx, path, expected, next)
	return args.Bool(0), args.Error(1)
}

func (m *RemoteStore) Subscribe(ctx context.Context, path string, onSnapshot func(model.Node), onError func(error)) (model.Subscription, error) {
	args := m.Called(ctx, path, onSnapshot, onError)
	if sub, ok := args.Get(0).(model.Subscription); ok {
		return sub, args.Error(1)
	}
	return nil, args.Error(1)
}

// Subscription is a mock of model.Subscription.
type Subscription struct {
	mock.Mock
}

func (m *Subscription) Unsubscribe() {
	m.Called()
}
