// Package extractor unpacks a downloaded bundle archive and discovers the
// bundle root directory inside it.
//
// Zip, gzip-compressed tar and zstd-compressed tar archives are accepted; the
// format is detected from the leading magic bytes rather than the file name.
// The archive is removed once extraction finishes, whatever the outcome.
package extractor
