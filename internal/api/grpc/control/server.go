package control

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
	"github.com/oshokin/bundle-launcher/internal/logger"
	pb "github.com/oshokin/bundle-launcher/internal/pb/v1"
)

// Supervisor abstracts the operations the transport layer depends on.
type Supervisor interface {
	Snapshot() *bootstrap.Status
	Halt()
}

// Server implements the LauncherService gRPC API.
type Server struct {
	// supervisor owns the application process.
	supervisor Supervisor
}

// NewServer wires the provided supervisor into a gRPC handler.
func NewServer(supervisor Supervisor) *Server {
	return &Server{
		supervisor: supervisor,
	}
}

// Status returns the current supervisor status.
func (s *Server) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toProtoStatus(s.supervisor.Snapshot())
}

// Halt asks the supervisor to stop the application and returns the status at
// the time of the request.
func (s *Server) Halt(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	hostname, username := pb.ActorFromStruct(req)
	if hostname == "" && username == "" {
		return nil, status.Error(codes.InvalidArgument, "actor is required")
	}

	snapshot := s.supervisor.Snapshot()
	if snapshot.State.Terminal() {
		return nil, status.Error(codes.FailedPrecondition, "application is already stopped")
	}

	logger.InfoKV(ctx, "Halt requested", "hostname", hostname, "username", username)

	s.supervisor.Halt()

	return toProtoStatus(snapshot)
}

// toProtoStatus converts a status into the wire form.
func toProtoStatus(snapshot *bootstrap.Status) (*structpb.Struct, error) {
	message, err := pb.StatusToStruct(snapshot)
	if err != nil {
		return nil, status.Error(codes.Internal, "unable to encode status")
	}

	return message, nil
}
