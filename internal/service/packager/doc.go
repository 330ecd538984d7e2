// Package packager builds bundle archives from a local directory.
//
// The archive places every file under a single top-level directory, the
// layout branch archives from code hosts use, so a packed bundle can be
// served to the launcher in place of a repository download. The SHA-256
// checksum of the result is reported for publishing next to the archive.
package packager
