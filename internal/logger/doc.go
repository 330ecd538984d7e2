// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration from flags or the environment,
//   - convenience functions (Infof, WarnKV, ErrorKV, etc.).
//
// Every pipeline stage accepts a context and extracts the logger from it, so
// log lines carry the stage name and the fields attached by the caller.
package logger
