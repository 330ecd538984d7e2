// Package fetcher streams the bundle archive from the artifact host to a local
// file under a fixed timeout, reporting progress per received chunk.
package fetcher
