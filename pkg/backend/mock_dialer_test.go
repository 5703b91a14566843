package backend

import (
	"context"
	"net"

	"github.com/stretchr/testify/mock"
)

// mockDialer is a testify mock of transport.StreamDialer.
type mockDialer struct {
	mock.Mock
}

func (m *mockDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	args := m.Called(ctx, network, address)
	conn, _ := args.Get(0).(net.Conn)
	return conn, args.Error(1)
}
