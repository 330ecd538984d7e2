package fetcher

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
)

// TestFetch_WritesArchiveAndReportsProgress downloads a sized body.
func TestFetch_WritesArchiveAndReportsProgress(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("bundle"), 20_000)

	userAgents := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgents <- r.UserAgent()

		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)

	var reports []Progress

	f := New(Options{
		UserAgent: "launcher-test/1",
		Progress:  func(p Progress) { reports = append(reports, p) },
	})

	dest := filepath.Join(t.TempDir(), "cache", "bundle.zip")

	result, err := f.Fetch(context.Background(), server.URL+"/archive.zip", dest)
	require.NoError(t, err)
	require.Equal(t, dest, result.Path)
	require.Equal(t, int64(len(payload)), result.Bytes)
	require.Equal(t, int64(len(payload)), result.ContentLength)
	require.Equal(t, "launcher-test/1", <-userAgents)

	written, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, written)

	require.NotEmpty(t, reports)

	last := reports[len(reports)-1]
	require.True(t, last.Done)
	require.Equal(t, 100, last.Percent)

	for i := 1; i < len(reports); i++ {
		require.GreaterOrEqual(t, reports[i].Percent, reports[i-1].Percent)
	}
}

// TestFetch_UnknownLength reports the indeterminate marker.
func TestFetch_UnknownLength(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		_, _ = w.Write([]byte("part one "))
		flusher.Flush()
		_, _ = w.Write([]byte("part two"))
	}))
	t.Cleanup(server.Close)

	var reports []Progress

	f := New(Options{Progress: func(p Progress) { reports = append(reports, p) }})

	result, err := f.Fetch(context.Background(), server.URL, filepath.Join(t.TempDir(), "bundle.zip"))
	require.NoError(t, err)
	require.Equal(t, int64(-1), result.ContentLength)
	require.NotEmpty(t, reports)

	for _, report := range reports {
		require.Equal(t, Indeterminate, report.Percent)
	}
}

// TestFetch_BadStatus verifies non-2xx responses are network errors and leave no file.
func TestFetch_BadStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	dest := filepath.Join(t.TempDir(), "bundle.zip")

	_, err := New(Options{}).Fetch(context.Background(), server.URL, dest)
	require.ErrorIs(t, err, bootstrap.ErrNetwork)
	require.ErrorIs(t, err, errBadHTTPStatus)
	require.NoFileExists(t, dest)
}

// TestFetch_Timeout verifies the download is abandoned after the timeout.
func TestFetch_Timeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1024")
		_, _ = w.Write([]byte("slow"))
		w.(http.Flusher).Flush()

		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	dest := filepath.Join(t.TempDir(), "bundle.zip")

	_, err := New(Options{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), server.URL, dest)
	require.ErrorIs(t, err, bootstrap.ErrNetwork)
	require.NoFileExists(t, dest)
}

// TestFetch_ConnectionRefused verifies unreachable hosts are network errors.
func TestFetch_ConnectionRefused(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	address := server.URL
	server.Close()

	_, err := New(Options{}).Fetch(context.Background(), address, filepath.Join(t.TempDir(), "bundle.zip"))
	require.ErrorIs(t, err, bootstrap.ErrNetwork)
}

// TestLineReporter renders known and unknown sizes.
func TestLineReporter(t *testing.T) {
	t.Parallel()

	var output strings.Builder

	reporter := NewLineReporter(&output)
	reporter.Report(Progress{Received: 512, Total: 1024, Percent: 50})
	reporter.Report(Progress{Received: 520, Total: 1024, Percent: 50})
	reporter.Report(Progress{Received: 1024, Total: 1024, Percent: 100, Done: true})

	require.Equal(t, 2, strings.Count(output.String(), "\r"))
	require.Contains(t, output.String(), " 50% (512 B / 1.0 KiB)")
	require.True(t, strings.HasSuffix(output.String(), "\n"))

	output.Reset()

	reporter = NewLineReporter(&output)
	reporter.Report(Progress{Received: 2048, Total: -1, Percent: Indeterminate})
	require.Contains(t, output.String(), "Downloading: 2.0 KiB")
}
