package bootstrap

import "errors"

// Error taxonomy. Stages wrap their failures with one of these sentinels so
// callers can classify an error with errors.Is regardless of its detail.
var (
	// ErrNetwork marks download failures: timeouts, refused connections, bad HTTP status.
	ErrNetwork = errors.New("network error")
	// ErrArchive marks corrupt, unreadable or unsafe archives.
	ErrArchive = errors.New("archive error")
	// ErrFilesystem marks missing or unusable paths on the local filesystem.
	ErrFilesystem = errors.New("filesystem error")
	// ErrProcess marks child or installer process failures.
	ErrProcess = errors.New("process error")
	// ErrConfig marks invalid launcher or bundle configuration.
	ErrConfig = errors.New("configuration error")
)

// IsHardFailure reports whether err aborts the run before supervision begins.
func IsHardFailure(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrArchive) ||
		errors.Is(err, ErrFilesystem)
}
