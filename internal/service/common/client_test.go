//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/oshokin/bundle-launcher/internal/api/grpc/control"
	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
	pb "github.com/oshokin/bundle-launcher/internal/pb/v1"
)

// TestDial_ValidatesAddress verifies that Dial rejects empty addresses.
func TestDial_ValidatesAddress(t *testing.T) {
	t.Parallel()

	c, err := Dial(context.Background(), "")
	require.Error(t, err)
	require.Nil(t, c)
}

// TestClient_callContext checks timeout vs cancel-only behavior of callContext.
func TestClient_callContext(t *testing.T) {
	t.Parallel()

	c := &Client{
		callTimeout: 0,
	}

	ctx, cancel := c.callContext(context.Background())
	cancel()

	require.NotNil(t, ctx)

	c.callTimeout = 10 * time.Millisecond

	ctx, cancel = c.callContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 30*time.Millisecond)
}

// TestHalt_NilActor asserts that a nil actor is rejected by the client.
func TestHalt_NilActor(t *testing.T) {
	t.Parallel()

	c := new(Client)

	_, err := c.Halt(context.Background(), nil)
	require.Error(t, err)
	require.ErrorIs(t, err, errActorRequired)
}

// stubSupervisor records halt requests.
type stubSupervisor struct {
	mu     sync.Mutex
	halted bool
}

func (s *stubSupervisor) Snapshot() *bootstrap.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := bootstrap.StateRunning
	if s.halted {
		state = bootstrap.StateStopped
	}

	return &bootstrap.Status{State: state, PID: 12, BundleRoot: "/bundle"}
}

func (s *stubSupervisor) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.halted = true
}

// TestClient_StatusAndHalt talks to a control server over TCP.
func TestClient_StatusAndHalt(t *testing.T) {
	t.Parallel()

	var lc net.ListenConfig

	listener, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	grpcServer := grpc.NewServer()
	pb.RegisterLauncherServiceServer(grpcServer, control.NewServer(new(stubSupervisor)))

	go func() {
		_ = grpcServer.Serve(listener)
	}()

	t.Cleanup(grpcServer.Stop)

	c, err := Dial(context.Background(), listener.Addr().String(), WithCallTimeout(time.Second))
	require.NoError(t, err)

	t.Cleanup(func() { _ = c.Close() })

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, bootstrap.StateRunning, status.State)
	require.Equal(t, "/bundle", status.BundleRoot)

	_, err = c.Halt(context.Background(), &Actor{Hostname: "host", Username: "operator"})
	require.NoError(t, err)

	status, err = c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, bootstrap.StateStopped, status.State)
}
