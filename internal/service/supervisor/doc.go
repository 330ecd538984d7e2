// Package supervisor runs the bundle entry point as a child process, restarts
// it after crashes according to a Policy and forwards termination signals.
//
// The supervisor keeps exactly one child at a time. The child handle lives in
// a single slot that is replaced on every restart, so signal delivery and
// halt requests always reach the current process. Signals are received from a
// channel registered once by the caller rather than per restart.
package supervisor
