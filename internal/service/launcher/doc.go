// Package launcher wires the bootstrap pipeline together: it resolves the
// bundle location, downloads and extracts the archive into a fresh cache
// root, overlays the operator configuration, installs dependencies and hands
// the bundle to the supervisor.
//
// Stages run sequentially and exchange results through a Plan value. A PID
// marker keeps two launchers from sharing a cache root, and an optional gRPC
// control server exposes the supervisor status.
package launcher
