package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
	"github.com/oshokin/bundle-launcher/internal/logger"
)

var errNoBundleRoot = errors.New("no directory found in extracted archive")

// Options configures the post-extraction report.
type Options struct {
	// EssentialFiles are checked under the bundle root and reported.
	EssentialFiles []string
	// KnownDirectories are checked under the bundle root and reported.
	KnownDirectories []string
}

// Bundle is an extracted bundle.
type Bundle struct {
	// Root is the bundle root directory.
	Root string
	// Entries are the names of the root's immediate children, sorted.
	Entries []string
	// Format is the detected archive format.
	Format Format
	// Files is the number of regular files written.
	Files int
	// Missing lists essential files absent from the root.
	Missing []string
}

// Extractor unpacks archives.
type Extractor struct {
	opts Options
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	return &Extractor{opts: opts}
}

// Extract unpacks archivePath into destDir and discovers the bundle root: the
// first directory among destDir's children in name order. The archive is
// deleted before returning on every path.
//
// A corrupt or unsafe archive yields bootstrap.ErrArchive; a destination that
// cannot be written or holds no directory yields bootstrap.ErrFilesystem.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string) (*Bundle, error) {
	ctx = logger.WithName(ctx, "extractor")

	defer removeArchive(ctx, archivePath)

	format, err := DetectFormat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", bootstrap.ErrArchive, archivePath, err)
	}

	if err = os.MkdirAll(destDir, directoryPermissions); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", bootstrap.ErrFilesystem, destDir, err)
	}

	logger.InfoKV(ctx, "Extracting bundle archive", "archive", archivePath, "format", format, "destination", destDir)

	files, err := unpack(ctx, format, archivePath, destDir)
	if err != nil {
		var writeErr *unpackError
		if errors.As(err, &writeErr) {
			return nil, fmt.Errorf("%w: extract %s: %w", bootstrap.ErrFilesystem, archivePath, err)
		}

		return nil, fmt.Errorf("%w: extract %s: %w", bootstrap.ErrArchive, archivePath, err)
	}

	root, err := discoverRoot(destDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bootstrap.ErrFilesystem, err)
	}

	bundle := &Bundle{
		Root:   root,
		Format: format,
		Files:  files,
	}

	if bundle.Entries, err = listNames(root); err != nil {
		return nil, fmt.Errorf("%w: list bundle root: %w", bootstrap.ErrFilesystem, err)
	}

	logger.InfoKV(ctx, "Found bundle root", "root", root, "files", files, "entries", len(bundle.Entries))

	bundle.Missing = e.report(ctx, root)

	return bundle, nil
}

// discoverRoot returns the first directory inside destDir; os.ReadDir sorts by name.
func discoverRoot(destDir string) (string, error) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", destDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			return filepath.Join(destDir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("%s: %w", destDir, errNoBundleRoot)
}

func listNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return names, nil
}

// report logs which essential files and known directories the bundle carries.
func (e *Extractor) report(ctx context.Context, root string) []string {
	var missing []string

	for _, name := range e.opts.EssentialFiles {
		info, err := os.Stat(filepath.Join(root, name))
		if err != nil || info.IsDir() {
			missing = append(missing, name)
			logger.WarnKV(ctx, "Essential file is missing", "file", name)

			continue
		}

		logger.DebugKV(ctx, "Essential file found", "file", name, "bytes", info.Size())
	}

	for _, name := range e.opts.KnownDirectories {
		info, err := os.Stat(filepath.Join(root, name))
		if err == nil && info.IsDir() {
			logger.DebugKV(ctx, "Directory found", "directory", name)
		}
	}

	return missing
}

func removeArchive(ctx context.Context, archivePath string) {
	err := os.Remove(archivePath)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return
	}

	logger.WarnKV(ctx, "Failed to remove archive", "archive", archivePath, "error", err)
}
