// Package pb declares the launcher control API: the gRPC service descriptor,
// its client and server bindings, and the conversion between the supervisor
// status and its wire form.
//
// Messages are protobuf well-known types (emptypb.Empty, structpb.Struct), so
// the service is declared by hand rather than generated from a .proto file.
package pb
