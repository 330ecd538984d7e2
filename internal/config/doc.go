// Package config defines the launcher settings and provides helpers to load,
// validate and save them in YAML format.
//
// The Config type describes where the bundle comes from, where it is staged,
// how it is provisioned and how its process is supervised. A missing default
// settings file is not an error: the launcher runs on built-in defaults.
package config
