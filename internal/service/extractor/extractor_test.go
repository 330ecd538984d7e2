package extractor

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"testing/iotest"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
	"github.com/oshokin/bundle-launcher/internal/logger"
)

// entry is one file of a test archive; a trailing slash marks a directory
// and a link target marks a symbolic link.
type entry struct {
	name     string
	contents string
	mode     fs.FileMode
	link     string
}

func bundleEntries(root string) []entry {
	return []entry{
		{name: root + "/", mode: 0o755},
		{name: root + "/index.js", contents: "console.log('hi')", mode: 0o644},
		{name: root + "/settings.env", contents: "PREFIX=.", mode: 0o600},
		{name: root + "/bin/start.sh", contents: "#!/bin/sh\n", mode: 0o755},
	}
}

func writeZip(t *testing.T, path string, entries []entry) {
	t.Helper()

	var buffer bytes.Buffer

	writer := zip.NewWriter(&buffer)

	for _, e := range entries {
		header := &zip.FileHeader{Name: e.name, Method: zip.Deflate}

		mode, contents := e.mode, e.contents

		switch {
		case e.link != "":
			mode, contents = fs.ModeSymlink|0o777, e.link
		case isDirectoryName(e.name):
			mode |= fs.ModeDir
		}

		header.SetMode(mode)

		w, err := writer.CreateHeader(header)
		require.NoError(t, err)

		_, err = io.WriteString(w, contents)
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())
	require.NoError(t, os.WriteFile(path, buffer.Bytes(), 0o600))
}

func writeTar(t *testing.T, w io.Writer, entries []entry) {
	t.Helper()

	writer := tar.NewWriter(w)

	for _, e := range entries {
		header := &tar.Header{Name: e.name, Mode: int64(e.mode), Size: int64(len(e.contents))}

		switch {
		case e.link != "":
			header.Typeflag, header.Linkname, header.Mode = tar.TypeSymlink, e.link, 0o777
		case isDirectoryName(e.name):
			header.Typeflag = tar.TypeDir
		default:
			header.Typeflag = tar.TypeReg
		}

		require.NoError(t, writer.WriteHeader(header))

		_, err := io.WriteString(writer, e.contents)
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())
}

func writeTarGz(t *testing.T, path string, entries []entry) {
	t.Helper()

	var buffer bytes.Buffer

	compressor := gzip.NewWriter(&buffer)
	writeTar(t, compressor, entries)
	require.NoError(t, compressor.Close())
	require.NoError(t, os.WriteFile(path, buffer.Bytes(), 0o600))
}

func writeTarZst(t *testing.T, path string, entries []entry) {
	t.Helper()

	var buffer bytes.Buffer

	encoder, err := zstd.NewWriter(&buffer)
	require.NoError(t, err)

	writeTar(t, encoder, entries)
	require.NoError(t, encoder.Close())
	require.NoError(t, os.WriteFile(path, buffer.Bytes(), 0o600))
}

func isDirectoryName(name string) bool {
	return name != "" && name[len(name)-1] == '/'
}

func newTestExtractor() *Extractor {
	return New(Options{
		EssentialFiles:   []string{"index.js", "settings.env", "package.json"},
		KnownDirectories: []string{"bin", "node_modules"},
	})
}

// TestExtract_DiscoversRoot covers several root names and all formats.
func TestExtract_DiscoversRoot(t *testing.T) {
	t.Parallel()

	writers := map[Format]func(*testing.T, string, []entry){
		FormatZip:     writeZip,
		FormatTarGzip: writeTarGz,
		FormatTarZstd: writeTarZst,
	}

	for _, root := range []string{"bot-main", "app", "Repo-1.2.3"} {
		for format, write := range writers {
			t.Run(root+"/"+string(format), func(t *testing.T) {
				t.Parallel()

				dir := t.TempDir()
				archive := filepath.Join(dir, "bundle.archive")
				dest := filepath.Join(dir, "extracted")

				write(t, archive, bundleEntries(root))

				bundle, err := newTestExtractor().Extract(context.Background(), archive, dest)
				require.NoError(t, err)
				require.Equal(t, filepath.Join(dest, root), bundle.Root)
				require.Equal(t, format, bundle.Format)
				require.Equal(t, 3, bundle.Files)
				require.Equal(t, []string{"bin", "index.js", "settings.env"}, bundle.Entries)
				require.Equal(t, []string{"package.json"}, bundle.Missing)
				require.NoFileExists(t, archive)

				contents, err := os.ReadFile(filepath.Join(bundle.Root, "index.js"))
				require.NoError(t, err)
				require.Equal(t, "console.log('hi')", string(contents))

				if runtime.GOOS != "windows" {
					info, err := os.Stat(filepath.Join(bundle.Root, "bin", "start.sh"))
					require.NoError(t, err)
					require.Equal(t, fs.FileMode(0o755), info.Mode().Perm())
				}
			})
		}
	}
}

// TestExtract_FirstDirectoryInNameOrder verifies a deterministic root choice.
func TestExtract_FirstDirectoryInNameOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.zip")
	dest := filepath.Join(dir, "extracted")

	writeZip(t, archive, []entry{
		{name: "README.md", contents: "top-level file", mode: 0o644},
		{name: "zeta/index.js", contents: "z", mode: 0o644},
		{name: "alpha/index.js", contents: "a", mode: 0o644},
	})

	bundle, err := newTestExtractor().Extract(context.Background(), archive, dest)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dest, "alpha"), bundle.Root)
}

// TestExtract_Idempotent verifies two extractions of the same archive give identical trees.
func TestExtract_Idempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dest := filepath.Join(dir, "extracted")
	entries := bundleEntries("bot-main")

	for range 2 {
		archive := filepath.Join(dir, "bundle.zip")
		writeZip(t, archive, entries)

		_, err := newTestExtractor().Extract(context.Background(), archive, dest)
		require.NoError(t, err)
	}

	other := filepath.Join(dir, "other")
	archive := filepath.Join(dir, "again.zip")
	writeZip(t, archive, entries)

	_, err := newTestExtractor().Extract(context.Background(), archive, other)
	require.NoError(t, err)
	require.Equal(t, snapshotTree(t, other), snapshotTree(t, dest))
}

// snapshotTree maps relative paths to contents; directories map to "/".
func snapshotTree(t *testing.T, root string) map[string]string {
	t.Helper()

	tree := make(map[string]string)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if d.IsDir() {
			tree[rel] = "/"

			return nil
		}

		contents, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		tree[rel] = string(contents)

		return nil
	})
	require.NoError(t, err)

	return tree
}

// TestExtract_CorruptArchive verifies unreadable archives are archive errors and still deleted.
func TestExtract_CorruptArchive(t *testing.T) {
	t.Parallel()

	tests := map[string][]byte{
		"garbage":       []byte("this is not an archive"),
		"truncated zip": []byte("PK\x03\x04\x14\x00\x00\x00"),
		"empty":         {},
	}

	for name, contents := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			archive := filepath.Join(dir, "bundle.zip")
			require.NoError(t, os.WriteFile(archive, contents, 0o600))

			_, err := newTestExtractor().Extract(context.Background(), archive, filepath.Join(dir, "out"))
			require.ErrorIs(t, err, bootstrap.ErrArchive)
			require.NoFileExists(t, archive)
		})
	}
}

// TestExtract_NoDirectory verifies an archive of loose files is a filesystem error.
func TestExtract_NoDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.tar.gz")

	writeTarGz(t, archive, []entry{{name: "index.js", contents: "x", mode: 0o644}})

	_, err := newTestExtractor().Extract(context.Background(), archive, filepath.Join(dir, "out"))
	require.ErrorIs(t, err, bootstrap.ErrFilesystem)
	require.ErrorIs(t, err, errNoBundleRoot)
	require.NoFileExists(t, archive)
}

// TestExtract_RejectsEscapingEntries verifies entries cannot leave the destination.
func TestExtract_RejectsEscapingEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.zip")
	dest := filepath.Join(dir, "out")

	writeZip(t, archive, []entry{
		{name: "app/index.js", contents: "ok", mode: 0o644},
		{name: "../escaped.txt", contents: "bad", mode: 0o644},
	})

	_, err := newTestExtractor().Extract(context.Background(), archive, dest)
	require.ErrorIs(t, err, bootstrap.ErrArchive)
	require.ErrorIs(t, err, errUnsafePath)
	require.NoFileExists(t, filepath.Join(dir, "escaped.txt"))
}

// TestDetectFormat checks magic-byte detection regardless of extension.
func TestDetectFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	zipPath := filepath.Join(dir, "named.tar.gz")
	writeZip(t, zipPath, bundleEntries("x"))

	format, err := DetectFormat(zipPath)
	require.NoError(t, err)
	require.Equal(t, FormatZip, format)

	tarPath := filepath.Join(dir, "named.zip")
	writeTarGz(t, tarPath, bundleEntries("x"))

	format, err = DetectFormat(tarPath)
	require.NoError(t, err)
	require.Equal(t, FormatTarGzip, format)
}

func skipWithoutSymlinks(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("symbolic links need extra privileges on Windows")
	}
}

// TestExtract_Symlinks verifies links are recreated in every format.
func TestExtract_Symlinks(t *testing.T) {
	t.Parallel()
	skipWithoutSymlinks(t)

	writers := map[Format]func(*testing.T, string, []entry){
		FormatZip:     writeZip,
		FormatTarGzip: writeTarGz,
		FormatTarZstd: writeTarZst,
	}

	for format, write := range writers {
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			archive := filepath.Join(dir, "bundle.archive")
			dest := filepath.Join(dir, "extracted")

			write(t, archive, []entry{
				{name: "bot-main/", mode: 0o755},
				{name: "bot-main/src/util.js", contents: "module.exports = 1", mode: 0o644},
				{name: "bot-main/lib", link: "src"},
				{name: "bot-main/config/util.js", link: "../src/util.js"},
			})

			bundle, err := newTestExtractor().Extract(context.Background(), archive, dest)
			require.NoError(t, err)
			require.Equal(t, 1, bundle.Files)
			require.Equal(t, []string{"config", "lib", "src"}, bundle.Entries)

			linkTarget, err := os.Readlink(filepath.Join(bundle.Root, "lib"))
			require.NoError(t, err)
			require.Equal(t, "src", linkTarget)

			contents, err := os.ReadFile(filepath.Join(bundle.Root, "lib", "util.js"))
			require.NoError(t, err)
			require.Equal(t, "module.exports = 1", string(contents))

			contents, err = os.ReadFile(filepath.Join(bundle.Root, "config", "util.js"))
			require.NoError(t, err)
			require.Equal(t, "module.exports = 1", string(contents))

			// A second extraction replaces the links in place.
			write(t, archive, []entry{
				{name: "bot-main/", mode: 0o755},
				{name: "bot-main/src/util.js", contents: "module.exports = 1", mode: 0o644},
				{name: "bot-main/lib", link: "src"},
			})

			_, err = newTestExtractor().Extract(context.Background(), archive, dest)
			require.NoError(t, err)
		})
	}
}

// TestExtract_RejectsEscapingLinks covers absolute, climbing and chained link targets.
func TestExtract_RejectsEscapingLinks(t *testing.T) {
	t.Parallel()
	skipWithoutSymlinks(t)

	cases := map[string][]entry{
		"absolute": {
			{name: "app/", mode: 0o755},
			{name: "app/passwd", link: "/etc/passwd"},
		},
		"climbing": {
			{name: "app/", mode: 0o755},
			{name: "app/outside", link: "../../outside"},
		},
		"through a link": {
			{name: "app/", mode: 0o755},
			{name: "app/nested/", mode: 0o755},
			{name: "app/nested/up", link: "../.."},
			{name: "app/nested/up/escape", link: "../../outside"},
		},
	}

	for name, entries := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			archive := filepath.Join(dir, "bundle.tar.gz")
			dest := filepath.Join(dir, "out")

			writeTarGz(t, archive, entries)

			_, err := newTestExtractor().Extract(context.Background(), archive, dest)
			require.ErrorIs(t, err, bootstrap.ErrArchive)
			require.ErrorIs(t, err, errUnsafeLink)
		})
	}
}

// TestExtract_WarnsOnUnsupportedEntries verifies special files are reported and skipped.
func TestExtract_WarnsOnUnsupportedEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.tar.gz")

	var buffer bytes.Buffer

	compressor := gzip.NewWriter(&buffer)
	writer := tar.NewWriter(compressor)

	require.NoError(t, writer.WriteHeader(&tar.Header{Name: "app/", Typeflag: tar.TypeDir, Mode: 0o755}))
	require.NoError(t, writer.WriteHeader(&tar.Header{Name: "app/pipe", Typeflag: tar.TypeFifo, Mode: 0o644}))
	require.NoError(t, writer.Close())
	require.NoError(t, compressor.Close())
	require.NoError(t, os.WriteFile(archive, buffer.Bytes(), 0o600))

	core, logs := observer.New(zapcore.WarnLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core).Sugar())

	bundle, err := newTestExtractor().Extract(ctx, archive, filepath.Join(dir, "out"))
	require.NoError(t, err)
	require.NoFileExists(t, filepath.Join(bundle.Root, "pipe"))

	skipped := logs.FilterMessage("Skipping unsupported archive entry").All()
	require.Len(t, skipped, 1)
	require.Equal(t, "app/pipe", skipped[0].ContextMap()["entry"])
}

// TestExtract_WriteFailureIsFilesystemError verifies a failing destination is
// not blamed on the archive.
func TestExtract_WriteFailureIsFilesystemError(t *testing.T) {
	t.Parallel()

	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("needs /dev/full")
	}

	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.zip")
	dest := filepath.Join(dir, "out")

	// The destination file already exists as a link to a device that is always full.
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "app"), 0o755))
	require.NoError(t, os.Symlink("/dev/full", filepath.Join(dest, "app", "index.js")))

	writeZip(t, archive, []entry{
		{name: "app/", mode: 0o755},
		{name: "app/index.js", contents: "console.log('hi')", mode: 0o644},
	})

	_, err := newTestExtractor().Extract(context.Background(), archive, dest)
	require.ErrorIs(t, err, bootstrap.ErrFilesystem)
	require.ErrorIs(t, err, syscall.ENOSPC)
}

// TestWriteFile_SeparatesReadAndWriteErrors verifies only destination failures
// are marked as filesystem errors.
func TestWriteFile_SeparatesReadAndWriteErrors(t *testing.T) {
	t.Parallel()

	readFailure := errors.New("corrupt stream")

	err := writeFile(t.TempDir(), "app/index.js", 0o644, iotest.ErrReader(readFailure))
	require.ErrorIs(t, err, readFailure)

	var writeErr *unpackError
	require.False(t, errors.As(err, &writeErr))

	writeFailure := errors.New("disk full")

	_, err = io.Copy(destinationWriter{w: failingWriter{err: writeFailure}}, strings.NewReader("contents"))
	require.ErrorIs(t, err, writeFailure)
	require.True(t, errors.As(err, &writeErr))
}

type failingWriter struct {
	err error
}

func (w failingWriter) Write([]byte) (int, error) {
	return 0, w.err
}
