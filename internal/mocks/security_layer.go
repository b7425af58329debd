package mocks

import (
	"net"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/dtroode/staffsync/internal/model"
)

// SecurityLayer is a mock of model.SecurityLayer.
type SecurityLayer struct {
	mock.Mock
}

var _ model.SecurityLayer = (*SecurityLayer)(nil)

// NewSecurityLayer creates a SecurityLayer whose expectations are asserted
// when the test ends.
func NewSecurityLayer(t *testing.T) *SecurityLayer {
	m := &SecurityLayer{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *SecurityLayer) Listen(protocol, addr string) (net.Listener, error) {
	args := m.Called(protocol, addr)
	if ln, ok := args.Get(0).(net.Listener); ok {
		return ln, args.Error(1)
	}
	return nil, args.Error(1)
}
