//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/oshokin/bundle-launcher/internal/config"
	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
	pb "github.com/oshokin/bundle-launcher/internal/pb/v1"
)

// Client wraps the gRPC LauncherService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the launcher.
	conn *grpc.ClientConn
	// api is the LauncherService client interface.
	api pb.LauncherServiceClient

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errActorRequired is returned when an actor is not provided but is required for the operation.
	errActorRequired = errors.New("actor must be provided")
)

// Dial creates a gRPC client for the launcher control API.
// Note: this uses insecure transport credentials; bind the control address
// to a loopback or otherwise trusted interface.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	// Use the non-context NewClient API recommended by grpc-go
	// (DialContext is deprecated as of grpc-go v1.60+).
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial launcher: %w", err)
	}

	client := &Client{
		conn:        conn,
		api:         pb.NewLauncherServiceClient(conn),
		callTimeout: config.DefaultCallTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// Status retrieves the supervisor status.
func (c *Client) Status(ctx context.Context) (*bootstrap.Status, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.Status(callCtx, new(emptypb.Empty))
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	return pb.StatusFromStruct(response), nil
}

// Halt asks the launcher to stop the application on behalf of actor.
func (c *Client) Halt(ctx context.Context, actor *Actor) (*bootstrap.Status, error) {
	if actor == nil {
		return nil, errActorRequired
	}

	request, err := pb.ActorToStruct(actor.Hostname, actor.Username)
	if err != nil {
		return nil, fmt.Errorf("encode actor: %w", err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.Halt(callCtx, request)
	if err != nil {
		return nil, fmt.Errorf("halt: %w", err)
	}

	return pb.StatusFromStruct(response), nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
