// Package settings reads the bundle's key-value configuration export.
//
// The bundle configuration and the operator override share one format:
// KEY=value lines in dotenv syntax. Environment variables with the same
// names take precedence over file values, and built-in defaults fill in
// whatever neither provides.
package settings
