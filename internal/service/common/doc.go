// Package common holds helpers shared by the launcher commands.
//
// It provides a lightweight gRPC client for the launcher control API with
// timeouts, and detection of the current system actor (hostname/username)
// attached to halt requests for audit purposes.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
