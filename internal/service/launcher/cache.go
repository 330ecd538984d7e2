package launcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
)

const (
	// archiveFilename is the downloaded archive inside the cache root.
	archiveFilename = "bundle.archive"
	// extractedDirectory receives the unpacked archive inside the cache root.
	extractedDirectory = "extracted"
)

var (
	errEmptyCacheRoot  = errors.New("cache root is empty")
	errUnsafeCacheRoot = errors.New("refusing to wipe cache root")
)

// resetCacheRoot wipes and recreates the cache root and returns its absolute
// path. Empty paths, filesystem roots and the working directory or its
// ancestors are refused.
func resetCacheRoot(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: %w", bootstrap.ErrConfig, errEmptyCacheRoot)
	}

	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: resolve cache root: %w", bootstrap.ErrConfig, err)
	}

	if err = checkCacheRoot(absolute); err != nil {
		return "", fmt.Errorf("%w: %w", bootstrap.ErrConfig, err)
	}

	if err = os.RemoveAll(absolute); err != nil {
		return "", fmt.Errorf("%w: wipe cache root: %w", bootstrap.ErrFilesystem, err)
	}

	if err = os.MkdirAll(absolute, 0o755); err != nil {
		return "", fmt.Errorf("%w: create cache root: %w", bootstrap.ErrFilesystem, err)
	}

	return absolute, nil
}

func checkCacheRoot(absolute string) error {
	if filepath.Dir(absolute) == absolute {
		return fmt.Errorf("%s is a filesystem root: %w", absolute, errUnsafeCacheRoot)
	}

	workingDirectory, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("working directory: %w", err)
	}

	relative, err := filepath.Rel(absolute, workingDirectory)
	if err != nil {
		// Different volumes cannot contain each other.
		return nil //nolint:nilerr // Unrelated paths are safe.
	}

	if relative == "." || !strings.HasPrefix(relative, "..") {
		return fmt.Errorf("%s contains the working directory: %w", absolute, errUnsafeCacheRoot)
	}

	return nil
}
