// Package control implements the gRPC transport of the launcher control API.
//
// It adapts the supervisor status to protobuf messages and exposes a server
// that calls into a provided supervisor interface.
package control
