package packager

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/oshokin/bundle-launcher/internal/logger"
	"github.com/oshokin/bundle-launcher/internal/service/extractor"
)

// Options contains inputs for the packager entry point.
type Options struct {
	// Source is the directory whose contents are packed.
	Source string
	// Output is the archive path; defaults to <prefix>.<format> in the working directory.
	Output string
	// Format selects the container; zip when empty.
	Format extractor.Format
	// Prefix names the top-level directory inside the archive; defaults to the base name of Source.
	Prefix string
	// Exclude lists directory names skipped at any depth.
	Exclude []string
}

// Result describes a written archive.
type Result struct {
	// Path is the archive location.
	Path string
	// Format is the container format.
	Format extractor.Format
	// Files is the number of regular files packed.
	Files int
	// Bytes is the archive size.
	Bytes int64
	// Checksum is the hex SHA-256 of the archive.
	Checksum string
}

// DefaultExclude lists directories never packed by default.
var DefaultExclude = []string{".git", "node_modules"}

var (
	errSourceNotDirectory = errors.New("source is not a directory")
	errUnsupportedFormat  = errors.New("unsupported archive format")
)

// ParseFormat maps a format name to an archive format.
func ParseFormat(name string) (extractor.Format, error) {
	switch format := extractor.Format(strings.ToLower(strings.TrimPrefix(name, "."))); format {
	case "":
		return extractor.FormatZip, nil
	case extractor.FormatZip, extractor.FormatTarGzip, extractor.FormatTarZstd:
		return format, nil
	case "tgz":
		return extractor.FormatTarGzip, nil
	case "tzst":
		return extractor.FormatTarZstd, nil
	default:
		return "", fmt.Errorf("%q: %w", name, errUnsupportedFormat)
	}
}

// Run packs opts.Source into a new archive.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "packager")

	source, err := filepath.Abs(opts.Source)
	if err != nil {
		return nil, fmt.Errorf("resolve source: %w", err)
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", source, errSourceNotDirectory)
	}

	format, err := ParseFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = filepath.Base(source)
	}

	output := opts.Output
	if output == "" {
		output = prefix + "." + string(format)
	}

	exclude := opts.Exclude
	if exclude == nil {
		exclude = DefaultExclude
	}

	p := &packer{
		source:  source,
		prefix:  strings.Trim(filepath.ToSlash(prefix), "/"),
		exclude: exclude,
	}

	if p.output, err = filepath.Abs(output); err != nil {
		return nil, fmt.Errorf("resolve output: %w", err)
	}

	logger.InfoKV(ctx, "Packing bundle", "source", source, "format", format, "output", p.output)

	files, err := p.write(ctx, format)
	if err != nil {
		return nil, err
	}

	size, checksum, err := fileChecksum(p.output)
	if err != nil {
		return nil, err
	}

	return &Result{
		Path:     p.output,
		Format:   format,
		Files:    files,
		Bytes:    size,
		Checksum: checksum,
	}, nil
}

// entryWriter adds one directory or file to an archive.
type entryWriter interface {
	directory(name string, info fs.FileInfo) error
	file(name string, info fs.FileInfo, contents io.Reader) error
	io.Closer
}

type packer struct {
	source  string
	output  string
	prefix  string
	exclude []string
	// temporary is the archive being written, skipped when inside source.
	temporary string
}

// write builds the archive in a temporary file and renames it into place.
func (p *packer) write(ctx context.Context, format extractor.Format) (int, error) {
	if err := os.MkdirAll(filepath.Dir(p.output), 0o755); err != nil {
		return 0, fmt.Errorf("create output directory: %w", err)
	}

	temporary, err := os.CreateTemp(filepath.Dir(p.output), ".pack-*")
	if err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}

	// Removing after a successful rename is a no-op.
	defer func() {
		_ = os.Remove(temporary.Name())
	}()

	p.temporary = temporary.Name()

	files, err := p.fill(ctx, format, temporary)

	if closeErr := temporary.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close archive: %w", closeErr)
	}

	if err != nil {
		return 0, err
	}

	if err = os.Rename(temporary.Name(), p.output); err != nil {
		return 0, fmt.Errorf("rename archive: %w", err)
	}

	return files, nil
}

func (p *packer) fill(ctx context.Context, format extractor.Format, output io.Writer) (int, error) {
	writer, err := newEntryWriter(format, output)
	if err != nil {
		return 0, err
	}

	files, err := p.walk(ctx, writer)

	if closeErr := writer.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("finish archive: %w", closeErr)
	}

	return files, err
}

func (p *packer) walk(ctx context.Context, writer entryWriter) (int, error) {
	if err := writer.directory(p.prefix+"/", p.rootInfo()); err != nil {
		return 0, err
	}

	files := 0

	err := filepath.WalkDir(p.source, func(current string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		relative, err := filepath.Rel(p.source, current)
		if err != nil || relative == "." {
			return err
		}

		name := path.Join(p.prefix, filepath.ToSlash(relative))

		switch {
		case entry.IsDir() && p.excluded(entry.Name()):
			return filepath.SkipDir
		case current == p.output, current == p.temporary:
			return nil
		case entry.IsDir():
			info, infoErr := entry.Info()
			if infoErr != nil {
				return infoErr
			}

			return writer.directory(name+"/", info)
		case !entry.Type().IsRegular():
			// Links and devices have no portable archive form.
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		if err = p.addFile(writer, current, name, info); err != nil {
			return err
		}

		files++

		return nil
	})
	if err != nil {
		return files, fmt.Errorf("pack %s: %w", p.source, err)
	}

	return files, nil
}

func (p *packer) addFile(writer entryWriter, current, name string, info fs.FileInfo) error {
	file, err := os.Open(filepath.Clean(current))
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close()
	}()

	return writer.file(name, info, file)
}

func (p *packer) rootInfo() fs.FileInfo {
	info, err := os.Stat(p.source)
	if err != nil {
		return nil
	}

	return info
}

func (p *packer) excluded(name string) bool {
	return slices.Contains(p.exclude, name)
}

func newEntryWriter(format extractor.Format, output io.Writer) (entryWriter, error) {
	switch format {
	case extractor.FormatZip:
		return &zipWriter{writer: zip.NewWriter(output)}, nil
	case extractor.FormatTarGzip:
		compressor := gzip.NewWriter(output)

		return &tarWriter{writer: tar.NewWriter(compressor), compressor: compressor}, nil
	case extractor.FormatTarZstd:
		compressor, err := zstd.NewWriter(output)
		if err != nil {
			return nil, err
		}

		return &tarWriter{writer: tar.NewWriter(compressor), compressor: compressor}, nil
	default:
		return nil, fmt.Errorf("%q: %w", format, errUnsupportedFormat)
	}
}

type zipWriter struct {
	writer *zip.Writer
}

func (w *zipWriter) directory(name string, info fs.FileInfo) error {
	header := &zip.FileHeader{Name: name}
	if info != nil {
		header.Modified = info.ModTime()
		header.SetMode(info.Mode())
	}

	_, err := w.writer.CreateHeader(header)

	return err
}

func (w *zipWriter) file(name string, info fs.FileInfo, contents io.Reader) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	header.Name = name
	header.Method = zip.Deflate

	target, err := w.writer.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(target, contents)

	return err
}

func (w *zipWriter) Close() error {
	return w.writer.Close()
}

type tarWriter struct {
	writer     *tar.Writer
	compressor io.WriteCloser
}

func (w *tarWriter) directory(name string, info fs.FileInfo) error {
	header := &tar.Header{Name: name, Typeflag: tar.TypeDir, Mode: 0o755}
	if info != nil {
		header.ModTime = info.ModTime()
		header.Mode = int64(info.Mode().Perm())
	}

	return w.writer.WriteHeader(header)
}

func (w *tarWriter) file(name string, info fs.FileInfo, contents io.Reader) error {
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}

	header.Name = name
	// Ownership of the packing host means nothing to the launcher host.
	header.Uid, header.Gid, header.Uname, header.Gname = 0, 0, "", ""

	if err = w.writer.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(w.writer, contents)

	return err
}

func (w *tarWriter) Close() error {
	return errors.Join(w.writer.Close(), w.compressor.Close())
}

// fileChecksum returns the size and hex SHA-256 of the file at path.
func fileChecksum(path string) (int64, string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return 0, "", err
	}

	defer func() {
		_ = file.Close()
	}()

	hash := sha256.New()

	size, err := io.Copy(hash, file)
	if err != nil {
		return 0, "", fmt.Errorf("checksum %s: %w", path, err)
	}

	return size, hex.EncodeToString(hash.Sum(nil)), nil
}
