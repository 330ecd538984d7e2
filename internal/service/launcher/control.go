package launcher

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"

	api "github.com/oshokin/bundle-launcher/internal/api/grpc/control"
	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
	"github.com/oshokin/bundle-launcher/internal/logger"
	pb "github.com/oshokin/bundle-launcher/internal/pb/v1"
)

// serveControl starts the control API on address and returns a function that
// stops it and blocks until the server has shut down.
func serveControl(ctx context.Context, address string, supervisor api.Supervisor) (func(), error) {
	ctx = logger.WithName(ctx, "control")

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: listen on %s: %w", bootstrap.ErrConfig, address, err)
	}

	grpcServer := grpc.NewServer()
	pb.RegisterLauncherServiceServer(grpcServer, api.NewServer(supervisor))

	logger.InfoKV(ctx, "Control API listening", "listen_address", lis.Addr().String())

	// Done channel is closed after Serve returns to ensure stop blocks
	// until the server fully stops.
	done := make(chan struct{})

	go func() {
		defer close(done)

		if serveErr := grpcServer.Serve(lis); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			logger.ErrorKV(ctx, "Control API failed", "error", serveErr)
		}
	}()

	stop := func() {
		logger.Info(ctx, "Shutting down control API")
		grpcServer.GracefulStop()
		<-done
	}

	return stop, nil
}
