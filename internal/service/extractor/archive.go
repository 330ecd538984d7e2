package extractor

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/oshokin/bundle-launcher/internal/logger"
)

// Format is an archive container format.
type Format string

const (
	// FormatZip is a zip archive.
	FormatZip Format = "zip"
	// FormatTarGzip is a gzip-compressed tar archive.
	FormatTarGzip Format = "tar.gz"
	// FormatTarZstd is a zstd-compressed tar archive.
	FormatTarZstd Format = "tar.zst"
)

const (
	directoryPermissions   = 0o755
	defaultFilePermissions = 0o644
)

var (
	magicZip   = []byte("PK\x03\x04")
	magicGzip  = []byte{0x1f, 0x8b}
	magicZstd  = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicEmpty = []byte("PK\x05\x06")
)

// maxLinkTargetLength bounds a symlink target read from a zip entry body.
const maxLinkTargetLength = 4096

var (
	errUnknownFormat = errors.New("unrecognized archive format")
	errUnsafePath    = errors.New("entry escapes destination")
	errUnsafeLink    = errors.New("link target escapes destination")
	errLinkTooLong   = errors.New("link target too long")
)

// unpackError marks failures while writing to the destination, as opposed to
// failures reading the archive.
type unpackError struct {
	err error
}

func (e *unpackError) Error() string { return e.err.Error() }

func (e *unpackError) Unwrap() error { return e.err }

// DetectFormat reads the leading bytes of the archive at path.
func DetectFormat(path string) (Format, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	defer func() {
		_ = file.Close()
	}()

	header := make([]byte, len(magicZstd))

	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("read header: %w", err)
	}

	header = header[:n]

	switch {
	case bytes.HasPrefix(header, magicZip), bytes.HasPrefix(header, magicEmpty):
		return FormatZip, nil
	case bytes.HasPrefix(header, magicGzip):
		return FormatTarGzip, nil
	case bytes.HasPrefix(header, magicZstd):
		return FormatTarZstd, nil
	default:
		return "", errUnknownFormat
	}
}

// unpack writes every entry of the archive into destDir and returns the
// number of regular files written.
func unpack(ctx context.Context, format Format, archivePath, destDir string) (int, error) {
	switch format {
	case FormatZip:
		return unpackZip(ctx, archivePath, destDir)
	case FormatTarGzip, FormatTarZstd:
		return unpackTar(ctx, format, archivePath, destDir)
	default:
		return 0, errUnknownFormat
	}
}

func unpackZip(ctx context.Context, archivePath, destDir string) (int, error) {
	// Unsafe names are rejected per entry by targetPath.
	reader, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return 0, err
	}

	defer func() {
		_ = reader.Close()
	}()

	files := 0

	for _, entry := range reader.File {
		if err = ctx.Err(); err != nil {
			return files, err
		}

		mode := entry.Mode()

		switch {
		case mode.IsDir():
			err = makeDirectory(destDir, entry.Name)
		case mode.IsRegular():
			err = writeZipEntry(entry, destDir)
			files++
		case mode&fs.ModeSymlink != 0:
			err = writeZipLink(entry, destDir)
		default:
			logger.WarnKV(ctx, "Skipping unsupported archive entry", "entry", entry.Name, "mode", mode.String())

			continue
		}

		if err != nil {
			return files, err
		}
	}

	return files, nil
}

func writeZipEntry(entry *zip.File, destDir string) error {
	source, err := entry.Open()
	if err != nil {
		return err
	}

	defer func() {
		_ = source.Close()
	}()

	return writeFile(destDir, entry.Name, entry.Mode().Perm(), source)
}

// writeZipLink creates a symbolic link; zip stores the link target as the entry body.
func writeZipLink(entry *zip.File, destDir string) error {
	source, err := entry.Open()
	if err != nil {
		return err
	}

	defer func() {
		_ = source.Close()
	}()

	linkTarget, err := io.ReadAll(io.LimitReader(source, maxLinkTargetLength+1))
	if err != nil {
		return err
	}

	if len(linkTarget) > maxLinkTargetLength {
		return fmt.Errorf("%q: %w", entry.Name, errLinkTooLong)
	}

	return makeSymlink(destDir, entry.Name, string(linkTarget))
}

func unpackTar(ctx context.Context, format Format, archivePath, destDir string) (int, error) {
	file, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return 0, err
	}

	defer func() {
		_ = file.Close()
	}()

	var stream io.Reader

	switch format {
	case FormatTarZstd:
		decoder, decoderErr := zstd.NewReader(file)
		if decoderErr != nil {
			return 0, decoderErr
		}

		defer decoder.Close()

		stream = decoder
	default:
		gzipReader, gzipErr := gzip.NewReader(file)
		if gzipErr != nil {
			return 0, gzipErr
		}

		defer func() {
			_ = gzipReader.Close()
		}()

		stream = gzipReader
	}

	reader := tar.NewReader(stream)
	files := 0

	for {
		if err = ctx.Err(); err != nil {
			return files, err
		}

		header, nextErr := reader.Next()

		switch {
		case errors.Is(nextErr, io.EOF):
			return files, nil
		case nextErr != nil:
			return files, nextErr
		}

		switch header.Typeflag {
		case tar.TypeDir:
			err = makeDirectory(destDir, header.Name)
		case tar.TypeReg:
			err = writeFile(destDir, header.Name, fs.FileMode(header.Mode).Perm(), reader) //nolint:gosec // Mode is masked.
			files++
		case tar.TypeSymlink:
			err = makeSymlink(destDir, header.Name, header.Linkname)
		case tar.TypeXGlobalHeader:
			// Code hosts record the commit id here.
			continue
		default:
			logger.WarnKV(ctx, "Skipping unsupported archive entry",
				"entry", header.Name,
				"type", string(header.Typeflag))

			continue
		}

		if err != nil {
			return files, err
		}
	}
}

// targetPath maps an archive entry name to a path inside destDir.
func targetPath(destDir, name string) (string, error) {
	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%q: %w", name, errUnsafePath)
	}

	return filepath.Join(destDir, local), nil
}

func makeDirectory(destDir, name string) error {
	target, err := targetPath(destDir, name)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(target, directoryPermissions); err != nil {
		return &unpackError{err: err}
	}

	return nil
}

// writeFile creates or overwrites one file and applies its mode.
func writeFile(destDir, name string, mode fs.FileMode, contents io.Reader) error {
	target, err := targetPath(destDir, name)
	if err != nil {
		return err
	}

	if mode == 0 {
		mode = defaultFilePermissions
	}

	if err = os.MkdirAll(filepath.Dir(target), directoryPermissions); err != nil {
		return &unpackError{err: err}
	}

	output, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return &unpackError{err: err}
	}

	// Read errors come from the archive; write errors are filesystem failures.
	_, copyErr := io.Copy(destinationWriter{output}, contents)
	closeErr := output.Close()

	switch {
	case copyErr != nil:
		return copyErr
	case closeErr != nil:
		return &unpackError{err: closeErr}
	}

	if err = os.Chmod(target, mode); err != nil {
		return &unpackError{err: err}
	}

	return nil
}

// makeSymlink creates name as a link to linkTarget. The target, resolved
// against the link's own directory, must stay inside destDir, and the link's
// parent must not itself be reached through a link.
func makeSymlink(destDir, name, linkTarget string) error {
	target, err := targetPath(destDir, name)
	if err != nil {
		return err
	}

	local := filepath.FromSlash(linkTarget)
	if linkTarget == "" || filepath.IsAbs(local) ||
		!filepath.IsLocal(filepath.Join(filepath.Dir(filepath.FromSlash(name)), local)) {
		return fmt.Errorf("%q -> %q: %w", name, linkTarget, errUnsafeLink)
	}

	parent := filepath.Dir(target)
	if err = os.MkdirAll(parent, directoryPermissions); err != nil {
		return &unpackError{err: err}
	}

	if err = checkRealParent(destDir, parent); err != nil {
		return fmt.Errorf("%q: %w", name, err)
	}

	// Overwrite whatever a previous entry or run left at the link path.
	if err = os.RemoveAll(target); err != nil {
		return &unpackError{err: err}
	}

	if err = os.Symlink(local, target); err != nil {
		return &unpackError{err: err}
	}

	return nil
}

// checkRealParent rejects a link directory that resolves elsewhere than its
// lexical path, since a link created there could point outside destDir.
func checkRealParent(destDir, parent string) error {
	realDest, err := filepath.EvalSymlinks(destDir)
	if err != nil {
		return &unpackError{err: err}
	}

	realParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return &unpackError{err: err}
	}

	lexical, err := filepath.Rel(destDir, parent)
	if err != nil {
		return errUnsafeLink
	}

	physical, err := filepath.Rel(realDest, realParent)
	if err != nil || physical != lexical {
		return errUnsafeLink
	}

	return nil
}

// destinationWriter marks write failures so they are told apart from archive reads.
type destinationWriter struct {
	w io.Writer
}

func (d destinationWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	if err != nil {
		return n, &unpackError{err: err}
	}

	return n, nil
}
