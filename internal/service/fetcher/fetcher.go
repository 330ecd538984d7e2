package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
	"github.com/oshokin/bundle-launcher/internal/logger"
	"github.com/oshokin/bundle-launcher/internal/version"
)

// DefaultTimeout bounds a whole download.
const DefaultTimeout = 60 * time.Second

// chunkSize is the read buffer size; the progress callback fires once per read.
const chunkSize = 32 * 1024

// archiveFilePermissions restricts the downloaded archive to the current user.
const archiveFilePermissions = 0o600

var errBadHTTPStatus = errors.New("unexpected HTTP status")

// Options configures a Fetcher.
type Options struct {
	// Timeout bounds the request including the body transfer. Default: 60s.
	Timeout time.Duration
	// UserAgent is sent with the request. Default: the launcher user agent.
	UserAgent string
	// Client performs the request. Default: http.DefaultClient.
	Client *http.Client
	// Progress is called for every received chunk; may be nil.
	Progress ProgressFunc
}

// Result describes a completed download.
type Result struct {
	// Path is the written archive.
	Path string
	// Bytes is the number of bytes written.
	Bytes int64
	// ContentLength is the advertised size, or -1 when unknown.
	ContentLength int64
	// Duration is the wall time of the download.
	Duration time.Duration
}

// Fetcher downloads archives over HTTP.
type Fetcher struct {
	opts Options
}

// New creates a Fetcher, filling blank options with defaults.
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.UserAgent == "" {
		opts.UserAgent = version.UserAgent()
	}

	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}

	return &Fetcher{opts: opts}
}

// Fetch streams url into destPath. Any failure (timeout, connection error,
// non-2xx status, write error) is returned wrapped in bootstrap.ErrNetwork
// and leaves no partial file behind.
func (f *Fetcher) Fetch(ctx context.Context, url, destPath string) (*Result, error) {
	ctx = logger.WithName(ctx, "fetcher")

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	startedAt := time.Now()

	logger.InfoKV(ctx, "Downloading bundle archive", "url", url, "timeout", f.opts.Timeout)

	response, err := f.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bootstrap.ErrNetwork, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	written, err := f.save(ctx, response, destPath)
	if err != nil {
		_ = os.Remove(destPath)

		return nil, fmt.Errorf("%w: download %s: %w", bootstrap.ErrNetwork, url, err)
	}

	result := &Result{
		Path:          destPath,
		Bytes:         written,
		ContentLength: response.ContentLength,
		Duration:      time.Since(startedAt),
	}

	logger.InfoKV(ctx, "Downloaded bundle archive",
		"path", destPath,
		"bytes", result.Bytes,
		"duration", result.Duration.Round(time.Millisecond))

	return result, nil
}

// get performs the request and checks the response status.
func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", f.opts.UserAgent)

	response, err := f.opts.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		_ = response.Body.Close()

		return nil, fmt.Errorf("%s, %s: %w", url, response.Status, errBadHTTPStatus)
	}

	return response, nil
}

// save copies the response body into destPath chunk by chunk.
func (f *Fetcher) save(ctx context.Context, response *http.Response, destPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, err
	}

	outputFile, err := os.OpenFile(
		filepath.Clean(destPath),
		os.O_CREATE|os.O_TRUNC|os.O_WRONLY,
		archiveFilePermissions,
	)
	if err != nil {
		return 0, err
	}

	tracker := newTracker(response.ContentLength, f.opts.Progress)

	written, copyErr := io.CopyBuffer(outputFile, io.TeeReader(response.Body, tracker), make([]byte, chunkSize))
	closeErr := outputFile.Close()

	switch {
	case copyErr != nil:
		// The deadline surfaces as a body read error; report it as such.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return written, fmt.Errorf("%w: %w", ctxErr, copyErr)
		}

		return written, copyErr
	case closeErr != nil:
		return written, closeErr
	}

	tracker.finish()

	return written, nil
}
